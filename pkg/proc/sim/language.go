package sim

import "github.com/go-delve/execctl/pkg/proc"

// classInfo describes the special member functions of a class. Empty
// names stand for trivial ones.
type classInfo struct {
	copyCtor string
	dtor     string
	noCopy   bool
	noDtor   bool
}

// cxxLanguage passes classes with a user provided copy constructor or
// destructor by invisible reference, like the Itanium C++ ABI.
type cxxLanguage struct {
	p *Program
}

func (l cxxLanguage) Name() string { return "c++" }

func (l cxxLanguage) PassByReference(t *proc.Type) proc.PassByRefInfo {
	info := proc.CLanguage.PassByReference(t)
	ci, ok := l.p.classes[t]
	if !ok {
		return info
	}
	info.CopyConstructible = !ci.noCopy
	info.Destructible = !ci.noDtor
	info.TriviallyCopyConstructible = ci.copyCtor == "" && !ci.noCopy
	info.TriviallyDestructible = ci.dtor == "" && !ci.noDtor
	info.TriviallyCopyable = info.TriviallyCopyConstructible && info.TriviallyDestructible
	return info
}

// CopyConstructor returns nil when the class has none or when it was
// not emitted.
func (l cxxLanguage) CopyConstructor(t *proc.Type) *proc.Function {
	if ci, ok := l.p.classes[t]; ok && ci.copyCtor != "" {
		return l.p.byName[ci.copyCtor]
	}
	return nil
}

func (l cxxLanguage) Destructor(t *proc.Type) *proc.Function {
	if ci, ok := l.p.classes[t]; ok && ci.dtor != "" {
		return l.p.byName[ci.dtor]
	}
	return nil
}

func (cxxLanguage) CStyleArrays() bool { return true }
