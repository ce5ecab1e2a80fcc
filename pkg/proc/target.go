package proc

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all memory.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter is an interface for reading or writing to
// the targets memory. This allows us to read from the actual
// target memory or possibly a cache.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// ReturnMethod is how a called function hands back its return value.
type ReturnMethod uint8

const (
	// ReturnNormal: in registers, or nothing for void functions.
	ReturnNormal ReturnMethod = iota
	// ReturnStruct: the caller passes the address of a buffer in the
	// platform's struct return register and the callee fills it.
	ReturnStruct
	// ReturnHiddenParam: the buffer address is passed as an ordinary
	// first argument.
	ReturnHiddenParam
)

// DummyCall describes a call frame the backend must materialize.
type DummyCall struct {
	// Func is the address of the called function.
	Func uint64
	// ReturnAddr is where the called function returns to.
	ReturnAddr uint64
	// Args are already coerced to the types the callee expects.
	Args []*Value
	// SP is the aligned stack pointer below which the frame is built.
	SP           uint64
	ReturnMethod ReturnMethod
	StructAddr   uint64
}

// Backend is the target: the thing that actually creates, resumes and
// inspects the debugged process. All methods are called from a single
// goroutine.
type Backend interface {
	MemoryReadWriter

	// Shortname is the name used in log messages.
	Shortname() string
	Arch() *Arch

	// Resume resumes every stopped thread matching ptid, single stepping
	// them if step is set and delivering sig.
	Resume(ptid PTID, step bool, sig Signal) error
	// Wait blocks until a resumed thread reports an event.
	Wait() (PTID, WaitStatus, error)
	// Stop asks the threads matching ptid to stop. Each of them reports a
	// WaitStopped with SIGSTOP unless it already had another event.
	Stop(ptid PTID) error

	ReadRegisters(ptid PTID) (*Registers, error)
	WriteRegisters(ptid PTID, regs *Registers) error

	// InsertBreakpoint writes a software breakpoint at addr and returns
	// the bytes it replaced.
	InsertBreakpoint(addr uint64) ([]byte, error)
	RemoveBreakpoint(addr uint64, orig []byte) error

	// PushDummyCall builds the call frame described by call on the stack
	// of the thread, sets its registers so that resuming it starts
	// executing call.Func, and returns the final stack pointer.
	PushDummyCall(ptid PTID, call *DummyCall) (uint64, error)

	ThreadList(pid int) ([]PTID, error)
	ThreadAlive(ptid PTID) bool

	// DisplacedStepBuffer returns a scratch area of process pid where an
	// instruction can be copied and stepped out of line.
	DisplacedStepBuffer(pid int) (addr uint64, size int, ok bool)

	CanReverse() bool
	SetReverse(reverse bool) error
}
