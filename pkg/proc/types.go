package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// TypeCode is the kind of a Type.
type TypeCode uint8

const (
	TypeVoid TypeCode = iota
	TypeInt
	TypeChar
	TypeBool
	TypeEnum
	TypeFloat
	TypePtr
	TypeRef
	TypeRvalueRef
	TypeArray
	TypeStruct
	TypeUnion
	TypeFunc
)

// Type is the part of a program's type system the execution engine needs
// to marshal call arguments and read return values.
type Type struct {
	Code     TypeCode
	Name     string
	Size     int64
	Unsigned bool
	// Target is the pointed to type of pointers and references, the
	// element type of arrays and the return type of functions. A function
	// type with a nil Target has an unknown return type.
	Target     *Type
	Params     []*Type
	Prototyped bool
	// Vector arrays are passed by value.
	Vector bool
	// NoCall marks functions that do not follow the platform calling
	// convention.
	NoCall bool
}

func (t *Type) String() string {
	if t == nil {
		return "<unknown type>"
	}
	if t.Name != "" {
		return t.Name
	}
	switch t.Code {
	case TypePtr:
		return t.Target.String() + " *"
	case TypeRef:
		return t.Target.String() + " &"
	case TypeRvalueRef:
		return t.Target.String() + " &&"
	case TypeArray:
		if t.Target != nil && t.Target.Size > 0 {
			return fmt.Sprintf("%s [%d]", t.Target, t.Size/t.Target.Size)
		}
		return t.Target.String() + " []"
	case TypeFunc:
		return t.Target.String() + " (...)"
	}
	return "<anonymous>"
}

// IsReference returns true for lvalue and rvalue references.
func (t *Type) IsReference() bool {
	return t.Code == TypeRef || t.Code == TypeRvalueRef
}

// IsScalarInt returns true for the types passed in integer registers.
func (t *Type) IsScalarInt() bool {
	switch t.Code {
	case TypeInt, TypeChar, TypeBool, TypeEnum, TypePtr, TypeRef, TypeRvalueRef:
		return true
	}
	return false
}

// IsAggregate returns true for structs and unions.
func (t *Type) IsAggregate() bool {
	return t.Code == TypeStruct || t.Code == TypeUnion
}

var (
	VoidType       = &Type{Code: TypeVoid, Name: "void"}
	BoolType       = &Type{Code: TypeBool, Name: "bool", Size: 1, Unsigned: true}
	CharType       = &Type{Code: TypeChar, Name: "char", Size: 1}
	ShortType      = &Type{Code: TypeInt, Name: "short", Size: 2}
	IntType        = &Type{Code: TypeInt, Name: "int", Size: 4}
	UintType       = &Type{Code: TypeInt, Name: "unsigned int", Size: 4, Unsigned: true}
	LongType       = &Type{Code: TypeInt, Name: "long", Size: 8}
	UlongType      = &Type{Code: TypeInt, Name: "unsigned long", Size: 8, Unsigned: true}
	FloatType      = &Type{Code: TypeFloat, Name: "float", Size: 4}
	DoubleType     = &Type{Code: TypeFloat, Name: "double", Size: 8}
	LongDoubleType = &Type{Code: TypeFloat, Name: "long double", Size: 16}
)

// PointerTo returns the type of pointers to t.
func PointerTo(t *Type) *Type {
	return &Type{Code: TypePtr, Size: 8, Target: t, Unsigned: true}
}

// ReferenceTo returns the lvalue or rvalue reference type of t.
func ReferenceTo(t *Type, code TypeCode) *Type {
	return &Type{Code: code, Size: 8, Target: t, Unsigned: true}
}

// FuncType returns a prototyped function type.
func FuncType(ret *Type, params ...*Type) *Type {
	return &Type{Code: TypeFunc, Size: 1, Target: ret, Params: params, Prototyped: true}
}

// Value is a value of the program, either living in target memory (Addr
// != 0) or computed by the debugger. Contents are little endian.
type Value struct {
	Type     *Type
	Addr     uint64
	Contents []byte
}

// NewIntValue returns a value of integer type t holding n.
func NewIntValue(t *Type, n int64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	return &Value{Type: t, Contents: buf[:t.Size]}
}

// NewFloatValue returns a value of floating point type t holding f.
func NewFloatValue(t *Type, f float64) *Value {
	buf := make([]byte, t.Size)
	switch t.Size {
	case 4:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
	default:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	}
	return &Value{Type: t, Contents: buf}
}

// NewPointerValue returns a pointer of type t pointing to addr.
func NewPointerValue(t *Type, addr uint64) *Value {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, addr)
	return &Value{Type: t, Contents: buf}
}

// FunctionValue returns the value designating fn.
func FunctionValue(fn *Function) *Value {
	t := fn.Type
	if t == nil {
		t = &Type{Code: TypeFunc, Size: 1, Name: fn.Name}
	}
	return &Value{Type: t, Addr: fn.Entry}
}

// ValueAt reads a value of type t at addr.
func ValueAt(mem MemoryReader, t *Type, addr uint64) (*Value, error) {
	buf := make([]byte, t.Size)
	if _, err := mem.ReadMemory(buf, addr); err != nil {
		return nil, err
	}
	return &Value{Type: t, Addr: addr, Contents: buf}, nil
}

func (v *Value) Uint64() uint64 {
	var buf [8]byte
	copy(buf[:], v.Contents)
	return binary.LittleEndian.Uint64(buf[:])
}

func (v *Value) Int64() int64 {
	n := v.Uint64()
	sz := len(v.Contents)
	if sz >= 8 || sz == 0 || v.Type.Unsigned {
		return int64(n)
	}
	shift := uint(64 - 8*sz)
	return int64(n<<shift) >> shift
}

func (v *Value) Float64() float64 {
	switch len(v.Contents) {
	case 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v.Contents)))
	case 8, 16:
		return math.Float64frombits(binary.LittleEndian.Uint64(v.Contents))
	}
	return 0
}

func (v *Value) String() string {
	switch v.Type.Code {
	case TypeVoid:
		return "void"
	case TypeInt, TypeChar, TypeEnum:
		if v.Type.Unsigned {
			return fmt.Sprintf("%d", v.Uint64())
		}
		return fmt.Sprintf("%d", v.Int64())
	case TypeBool:
		return fmt.Sprintf("%v", v.Uint64() != 0)
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float64())
	case TypePtr, TypeRef, TypeRvalueRef:
		return fmt.Sprintf("(%s) %#x", v.Type, v.Uint64())
	case TypeFunc:
		return fmt.Sprintf("{%s} %#x", v.Type, v.Addr)
	}
	return fmt.Sprintf("%x", v.Contents)
}

var errNotInMemory = errors.New("attempt to take address of value not located in memory")

// castValue converts v to type t the way an explicit C cast does.
func castValue(v *Value, t *Type) (*Value, error) {
	if v.Type == t {
		return v, nil
	}
	from := v.Type
	switch t.Code {
	case TypeInt, TypeChar, TypeBool, TypeEnum:
		switch {
		case from.Code == TypeFloat:
			return NewIntValue(t, int64(v.Float64())), nil
		case from.IsScalarInt():
			if t.Code == TypeBool {
				if v.Uint64() != 0 {
					return NewIntValue(t, 1), nil
				}
				return NewIntValue(t, 0), nil
			}
			return NewIntValue(t, v.Int64()), nil
		}
	case TypeFloat:
		switch {
		case from.Code == TypeFloat:
			return NewFloatValue(t, v.Float64()), nil
		case from.IsScalarInt():
			if from.Unsigned {
				return NewFloatValue(t, float64(v.Uint64())), nil
			}
			return NewFloatValue(t, float64(v.Int64())), nil
		}
	case TypePtr:
		switch {
		case from.Code == TypeArray || from.Code == TypeFunc:
			if v.Addr == 0 {
				return nil, errNotInMemory
			}
			return NewPointerValue(t, v.Addr), nil
		case from.IsScalarInt():
			return NewPointerValue(t, v.Uint64()), nil
		}
	case TypeRef, TypeRvalueRef:
		if from.IsReference() {
			return NewPointerValue(t, v.Uint64()), nil
		}
		if v.Addr == 0 {
			return nil, errNotInMemory
		}
		return NewPointerValue(t, v.Addr), nil
	case TypeStruct, TypeUnion, TypeArray, TypeFunc:
		if from.Code == t.Code && from.Size == t.Size {
			return &Value{Type: t, Addr: v.Addr, Contents: v.Contents}, nil
		}
	case TypeVoid:
		return &Value{Type: t}, nil
	}
	return nil, fmt.Errorf("invalid cast from %s to %s", from, t)
}

// PassByRefInfo describes how values of a type must be passed to a
// called function.
type PassByRefInfo struct {
	TriviallyCopyable          bool
	CopyConstructible          bool
	Destructible               bool
	TriviallyCopyConstructible bool
	TriviallyDestructible      bool
}

// Language provides the language specific rules the call engine needs.
type Language interface {
	Name() string
	PassByReference(t *Type) PassByRefInfo
	// CopyConstructor returns the copy constructor of t, nil if it can't
	// be found.
	CopyConstructor(t *Type) *Function
	// Destructor returns the destructor of t, nil if it can't be found.
	Destructor(t *Type) *Function
	CStyleArrays() bool
}

type cLanguage struct{}

// CLanguage is the default language: every type is trivially copyable.
var CLanguage Language = cLanguage{}

func (cLanguage) Name() string { return "c" }

func (cLanguage) PassByReference(*Type) PassByRefInfo {
	return PassByRefInfo{
		TriviallyCopyable:          true,
		CopyConstructible:          true,
		Destructible:               true,
		TriviallyCopyConstructible: true,
		TriviallyDestructible:      true,
	}
}

func (cLanguage) CopyConstructor(*Type) *Function { return nil }

func (cLanguage) Destructor(*Type) *Function { return nil }

func (cLanguage) CStyleArrays() bool { return true }
