package proc

import (
	"fmt"

	"github.com/go-delve/execctl/pkg/logflags"
)

// BreakpointKind determines what happens when a breakpoint is hit.
type BreakpointKind uint8

const (
	// UserBreakpoint is a breakpoint set by the user.
	UserBreakpoint BreakpointKind = iota
	// CallDummyBreakpoint is set where a function called by the debugger
	// returns to.
	CallDummyBreakpoint
	// FinishBreakpoint is set by Finish at the caller's resume address.
	FinishBreakpoint
	// StdTerminateBreakpoint is set on std::terminate during function
	// calls.
	StdTerminateBreakpoint
	// StepResumeBreakpoint is set by range stepping to run until a called
	// function returns.
	StepResumeBreakpoint
	// UntilBreakpoint is set by UntilLocation and Advance.
	UntilBreakpoint
)

func (k BreakpointKind) String() string {
	switch k {
	case UserBreakpoint:
		return "breakpoint"
	case CallDummyBreakpoint:
		return "call dummy"
	case FinishBreakpoint:
		return "finish"
	case StdTerminateBreakpoint:
		return "std::terminate"
	case StepResumeBreakpoint:
		return "step resume"
	case UntilBreakpoint:
		return "until"
	}
	return fmt.Sprintf("BreakpointKind(%d)", int(k))
}

// Breakpoint is a logical breakpoint. Several breakpoints at the same
// address share one inserted breakpoint instruction.
type Breakpoint struct {
	ID       int // Positive for user breakpoints, negative for internal ones
	Kind     BreakpointKind
	Addr     uint64
	Inf      *Inferior
	Thread   *Thread // Only hit by this thread if not nil
	FrameID  FrameID // Only hit in this frame if valid
	HitCount int

	deleted bool
}

func (bp *Breakpoint) String() string {
	if bp.Kind == UserBreakpoint {
		return fmt.Sprintf("Breakpoint %d at %#x", bp.ID, bp.Addr)
	}
	return fmt.Sprintf("%v breakpoint %d at %#x", bp.Kind, bp.ID, bp.Addr)
}

// momentary returns true for breakpoints owned by an execution command.
func (bp *Breakpoint) momentary() bool {
	return bp.Kind != UserBreakpoint
}

type locationKey struct {
	aspace int
	addr   uint64
}

// breakpointLocation is a breakpoint instruction inserted in the target.
type breakpointLocation struct {
	inf          *Inferior
	addr         uint64
	originalData []byte
	refs         int
	lifted       bool // Temporarily removed for an in-line step-over
}

// BreakpointTable holds the breakpoints of a session.
type BreakpointTable struct {
	s    *Session
	bps  []*Breakpoint
	locs map[locationKey]*breakpointLocation

	lastUserID, lastInternalID int
}

func newBreakpointTable(s *Session) *BreakpointTable {
	return &BreakpointTable{s: s, locs: make(map[locationKey]*breakpointLocation)}
}

// All returns every breakpoint, in creation order.
func (bt *BreakpointTable) All() []*Breakpoint {
	r := make([]*Breakpoint, len(bt.bps))
	copy(r, bt.bps)
	return r
}

// User returns the user breakpoints.
func (bt *BreakpointTable) User() []*Breakpoint {
	var r []*Breakpoint
	for _, bp := range bt.bps {
		if bp.Kind == UserBreakpoint {
			r = append(r, bp)
		}
	}
	return r
}

// SetBreakpoint sets a user breakpoint at addr in inf.
func (bt *BreakpointTable) SetBreakpoint(inf *Inferior, addr uint64) (*Breakpoint, error) {
	for _, bp := range bt.bps {
		if bp.Kind == UserBreakpoint && bp.Inf == inf && bp.Addr == addr {
			return bp, BreakpointExistsError{Addr: addr}
		}
	}
	bt.lastUserID++
	bp := &Breakpoint{ID: bt.lastUserID, Kind: UserBreakpoint, Addr: addr, Inf: inf}
	if err := bt.add(bp); err != nil {
		bt.lastUserID--
		return nil, err
	}
	return bp, nil
}

// SetMomentary sets an internal breakpoint owned by an execution command.
func (bt *BreakpointTable) SetMomentary(inf *Inferior, addr uint64, kind BreakpointKind, frameID FrameID, thread *Thread) (*Breakpoint, error) {
	if kind == UserBreakpoint {
		panic("internal error: user breakpoint set as momentary")
	}
	bt.lastInternalID--
	bp := &Breakpoint{ID: bt.lastInternalID, Kind: kind, Addr: addr, Inf: inf, FrameID: frameID, Thread: thread}
	if err := bt.add(bp); err != nil {
		return nil, err
	}
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("set %v frame=%v thread=%v", bp, frameID, thread)
	}
	return bp, nil
}

// ClearBreakpoint deletes the user breakpoint at addr in inf.
func (bt *BreakpointTable) ClearBreakpoint(inf *Inferior, addr uint64) (*Breakpoint, error) {
	for _, bp := range bt.bps {
		if bp.Kind == UserBreakpoint && bp.Inf == inf && bp.Addr == addr {
			return bp, bt.Delete(bp)
		}
	}
	return nil, NoBreakpointError{Addr: addr}
}

// FindID returns the user breakpoint with the given id.
func (bt *BreakpointTable) FindID(id int) *Breakpoint {
	for _, bp := range bt.bps {
		if bp.ID == id {
			return bp
		}
	}
	return nil
}

func (bt *BreakpointTable) add(bp *Breakpoint) error {
	if err := bt.insert(bp.Inf, bp.Addr); err != nil {
		return err
	}
	bt.bps = append(bt.bps, bp)
	return nil
}

// Delete deletes bp. Deleting a deleted breakpoint does nothing.
func (bt *BreakpointTable) Delete(bp *Breakpoint) error {
	if bp == nil || bp.deleted {
		return nil
	}
	bp.deleted = true
	for i := range bt.bps {
		if bt.bps[i] == bp {
			bt.bps = append(bt.bps[:i], bt.bps[i+1:]...)
			break
		}
	}
	return bt.remove(bp.Inf, bp.Addr)
}

func (bt *BreakpointTable) insert(inf *Inferior, addr uint64) error {
	key := locationKey{inf.Aspace.Num, addr}
	if loc := bt.locs[key]; loc != nil {
		loc.refs++
		return nil
	}
	loc := &breakpointLocation{inf: inf, addr: addr, refs: 1}
	if inf.Target != nil && inf.Pid != 0 {
		orig, err := inf.Target.InsertBreakpoint(addr)
		if err != nil {
			return fmt.Errorf("could not insert breakpoint at %#x: %v", addr, err)
		}
		loc.originalData = orig
	}
	bt.locs[key] = loc
	return nil
}

func (bt *BreakpointTable) remove(inf *Inferior, addr uint64) error {
	key := locationKey{inf.Aspace.Num, addr}
	loc := bt.locs[key]
	if loc == nil {
		panic(fmt.Sprintf("internal error: no breakpoint location at %#x", addr))
	}
	loc.refs--
	if loc.refs > 0 {
		return nil
	}
	delete(bt.locs, key)
	if loc.lifted || loc.originalData == nil || inf.Pid == 0 {
		return nil
	}
	return inf.Target.RemoveBreakpoint(addr, loc.originalData)
}

// insertedAt returns true if a breakpoint instruction is inserted at addr.
func (bt *BreakpointTable) insertedAt(inf *Inferior, addr uint64) bool {
	loc := bt.locs[locationKey{inf.Aspace.Num, addr}]
	return loc != nil && loc.originalData != nil && !loc.lifted
}

// At returns the breakpoints at addr in inf.
func (bt *BreakpointTable) At(inf *Inferior, addr uint64) []*Breakpoint {
	var r []*Breakpoint
	for _, bp := range bt.bps {
		if bp.Inf == inf && bp.Addr == addr {
			r = append(r, bp)
		}
	}
	return r
}

// lift removes the breakpoint instruction at addr from the target while a
// thread steps over it in-line.
func (bt *BreakpointTable) lift(inf *Inferior, addr uint64) error {
	loc := bt.locs[locationKey{inf.Aspace.Num, addr}]
	if loc == nil || loc.lifted || loc.originalData == nil {
		return nil
	}
	if err := inf.Target.RemoveBreakpoint(addr, loc.originalData); err != nil {
		return err
	}
	loc.lifted = true
	return nil
}

// relower reinserts a breakpoint removed with lift.
func (bt *BreakpointTable) relower(inf *Inferior, addr uint64) error {
	loc := bt.locs[locationKey{inf.Aspace.Num, addr}]
	if loc == nil || !loc.lifted {
		return nil
	}
	loc.lifted = false
	if inf.Pid == 0 {
		return nil
	}
	orig, err := inf.Target.InsertBreakpoint(addr)
	if err != nil {
		return err
	}
	loc.originalData = orig
	return nil
}

// readMemory reads the memory of inf, hiding inserted breakpoint
// instructions.
func (bt *BreakpointTable) readMemory(inf *Inferior, buf []byte, addr uint64) (int, error) {
	n, err := inf.Target.ReadMemory(buf, addr)
	if err != nil {
		return n, err
	}
	end := addr + uint64(n)
	for _, loc := range bt.locs {
		if loc.inf.Aspace != inf.Aspace || loc.lifted || loc.originalData == nil {
			continue
		}
		for i, b := range loc.originalData {
			a := loc.addr + uint64(i)
			if a >= addr && a < end {
				buf[a-addr] = b
			}
		}
	}
	return n, nil
}

// stopStatus returns the breakpoints t hit by stopping at pc. Breakpoints
// restricted to a thread or a frame only count for that thread or frame.
func (bt *BreakpointTable) stopStatus(t *Thread, pc uint64) []*Breakpoint {
	var r []*Breakpoint
	var frameID FrameID
	frameIDDone := false
	for _, bp := range bt.bps {
		if bp.Inf != t.Inf || bp.Addr != pc {
			continue
		}
		if bp.Thread != nil && bp.Thread != t {
			continue
		}
		if bp.FrameID.Valid() {
			if !frameIDDone {
				frameID, _ = bt.s.stackFrameID(t)
				frameIDDone = true
			}
			if frameID != bp.FrameID {
				continue
			}
		}
		r = append(r, bp)
	}
	return r
}

// deleteThreadBreakpoints deletes the momentary breakpoints restricted to
// t, except the call dummy breakpoint which belongs to the dummy frame.
func (bt *BreakpointTable) deleteThreadBreakpoints(t *Thread) {
	for _, bp := range bt.All() {
		if bp.Thread == t && bp.momentary() && bp.Kind != CallDummyBreakpoint {
			bt.Delete(bp)
		}
	}
}

// forgetInferior forgets the inserted breakpoints of inf, whose process
// is gone, and deletes its momentary breakpoints. User breakpoints are
// inserted again by reinsert when a new process appears.
func (bt *BreakpointTable) forgetInferior(inf *Inferior) {
	kept := bt.bps[:0]
	for _, bp := range bt.bps {
		if bp.Inf == inf && bp.momentary() {
			bp.deleted = true
			continue
		}
		kept = append(kept, bp)
	}
	bt.bps = kept
	for key, loc := range bt.locs {
		if loc.inf.Aspace == inf.Aspace {
			delete(bt.locs, key)
		}
	}
	for _, bp := range bt.bps {
		if bp.Inf != inf {
			continue
		}
		key := locationKey{inf.Aspace.Num, bp.Addr}
		if loc := bt.locs[key]; loc != nil {
			loc.refs++
			continue
		}
		bt.locs[key] = &breakpointLocation{inf: inf, addr: bp.Addr, refs: 1}
	}
}

// reinsert inserts the breakpoints of inf that are not inserted yet,
// after its process appeared.
func (bt *BreakpointTable) reinsert(inf *Inferior) error {
	if inf.Target == nil || inf.Pid == 0 {
		return nil
	}
	for _, loc := range bt.locs {
		if loc.inf.Aspace != inf.Aspace || loc.originalData != nil {
			continue
		}
		orig, err := inf.Target.InsertBreakpoint(loc.addr)
		if err != nil {
			return fmt.Errorf("could not insert breakpoint at %#x: %v", loc.addr, err)
		}
		loc.originalData = orig
	}
	return nil
}
