package proc

import (
	"errors"
	"fmt"
)

// FrameID identifies a frame across stops. StackAddr is the canonical
// frame address, CodeAddr the entry of the function or inlined block the
// frame executes and InlineDepth the number of inlined calls between the
// frame and the real frame containing it.
type FrameID struct {
	StackAddr   uint64
	CodeAddr    uint64
	InlineDepth int
}

// Valid returns true unless id is the zero FrameID.
func (id FrameID) Valid() bool {
	return id != FrameID{}
}

func (id FrameID) String() string {
	if !id.Valid() {
		return "{null}"
	}
	if id.InlineDepth > 0 {
		return fmt.Sprintf("{stack=%#x,code=%#x,inline=%d}", id.StackAddr, id.CodeAddr, id.InlineDepth)
	}
	return fmt.Sprintf("{stack=%#x,code=%#x}", id.StackAddr, id.CodeAddr)
}

// FrameKind is the kind of a stack frame.
type FrameKind uint8

const (
	NormalFrame FrameKind = iota
	// InlineFrame is a virtual frame for an inlined call.
	InlineFrame
	// DummyFrame is the frame the debugger pushes to call a function.
	DummyFrame
)

func (k FrameKind) String() string {
	switch k {
	case NormalFrame:
		return "normal"
	case InlineFrame:
		return "inline"
	case DummyFrame:
		return "dummy"
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// Frame is a frame of a thread's stack.
type Frame struct {
	Level int
	Kind  FrameKind
	// PC is the address execution resumes at in this frame.
	PC   uint64
	CFA  uint64
	Regs *Registers
	Fn   *Function
	// Inline is the inlined call an InlineFrame executes.
	Inline *InlinedBlock
	ID     FrameID
	// Line is the line the frame is executing. For caller frames the
	// line of the call instruction.
	Line    LineInfo
	HasLine bool
}

// stackIterator walks the frames of a thread from the innermost outwards.
type stackIterator struct {
	s      *Session
	t      *Thread
	pspace *ProgramSpace
	mem    MemoryReader
	regs   *Registers
	level  int
	top    bool
	// pending holds the inlined frames and the real frame computed for
	// the current registers, innermost first.
	pending []Frame
	frame   Frame
	atend   bool
	err     error
}

func (s *Session) newStackIterator(t *Thread) (*stackIterator, error) {
	if t.Inf.Target == nil || t.Inf.Pid == 0 {
		return nil, ErrNoProcess
	}
	if t.executing {
		return nil, ErrThreadRunning
	}
	regs, err := t.Inf.Target.ReadRegisters(t.PTID)
	if err != nil {
		return nil, err
	}
	return &stackIterator{s: s, t: t, pspace: t.Inf.Pspace, mem: t.Inf.Target, regs: regs, top: true}, nil
}

// Next points the iterator to the next frame.
func (it *stackIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if len(it.pending) == 0 {
		if it.atend || it.regs == nil {
			return false
		}
		it.err = it.unwind()
		if it.err != nil || len(it.pending) == 0 {
			return false
		}
	}
	it.frame = it.pending[0]
	it.frame.Level = it.level
	it.pending = it.pending[1:]
	it.level++
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *stackIterator) Frame() Frame {
	return it.frame
}

// Err returns the error encountered during stack iteration.
func (it *stackIterator) Err() error {
	return it.err
}

// unwind computes the frames executing with it.regs and moves it.regs
// to the caller.
func (it *stackIterator) unwind() error {
	regs := it.regs
	pc := regs.PC()
	top := it.top
	it.top = false

	if d := it.s.dummyFrameAt(it.t, regs); d != nil {
		it.pending = append(it.pending, Frame{Kind: DummyFrame, PC: pc, CFA: regs.SP(), Regs: regs, ID: d.id})
		it.regs = d.callerState.regs.Copy()
		return nil
	}

	// The line and inlined calls of caller frames are the ones of the call
	// instruction.
	lookupPC := pc
	if !top && pc > 0 {
		lookupPC = pc - 1
	}
	fn := it.pspace.pcToFunc(lookupPC)
	var cfa uint64
	var caller *Registers
	if it.pspace.Unwinder != nil {
		var err error
		cfa, caller, err = it.pspace.Unwinder.Unwind(fn, regs, it.mem)
		if err != nil {
			if top {
				return err
			}
			caller = nil
		}
	}

	var blocks []InlinedBlock
	if it.pspace.Symbols != nil {
		blocks = it.pspace.Symbols.InlinedBlocksAt(lookupPC)
	}
	skip := 0
	if top {
		skip = it.t.inlineSkipped
		if skip > len(blocks) {
			skip = len(blocks)
		}
	}
	li, hasLine := it.pspace.pcToLine(lookupPC)
	for i := len(blocks) - 1; i >= 0; i-- {
		blk := blocks[i]
		if i >= len(blocks)-skip {
			li = LineInfo{PC: blk.Entry, End: blk.End, File: blk.CallFile, Line: blk.CallLine}
			hasLine = blk.CallLine != 0
			continue
		}
		it.pending = append(it.pending, Frame{
			Kind:    InlineFrame,
			PC:      pc,
			CFA:     cfa,
			Regs:    regs,
			Fn:      fn,
			Inline:  &blk,
			ID:      FrameID{StackAddr: cfa, CodeAddr: blk.Entry, InlineDepth: i + 1},
			Line:    li,
			HasLine: hasLine,
		})
		// The line of the frame containing an inlined call is the line of
		// the call.
		li = LineInfo{PC: blk.Entry, End: blk.End, File: blk.CallFile, Line: blk.CallLine}
		hasLine = blk.CallLine != 0
	}
	codeAddr := pc
	if fn != nil {
		codeAddr = fn.Entry
	}
	it.pending = append(it.pending, Frame{
		Kind:    NormalFrame,
		PC:      pc,
		CFA:     cfa,
		Regs:    regs,
		Fn:      fn,
		ID:      FrameID{StackAddr: cfa, CodeAddr: codeAddr},
		Line:    li,
		HasLine: hasLine,
	})
	if caller == nil || fn == nil || fn.Outermost {
		it.atend = true
	}
	it.regs = caller
	return nil
}

// Stacktrace returns up to depth+1 frames of t, innermost first.
func (s *Session) Stacktrace(t *Thread, depth int) ([]Frame, error) {
	if depth < 0 {
		return nil, errors.New("negative maximum stack depth")
	}
	it, err := s.newStackIterator(t)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, depth+1)
	for it.Next() {
		frames = append(frames, it.Frame())
		if len(frames) >= depth+1 {
			break
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// FrameAt returns frame level of t.
func (s *Session) FrameAt(t *Thread, level int) (Frame, error) {
	frames, err := s.Stacktrace(t, level)
	if err != nil {
		return Frame{}, err
	}
	if level >= len(frames) {
		return Frame{}, fmt.Errorf("no frame at level %d", level)
	}
	return frames[level], nil
}

// callerOf returns the frame calling frame level of t, false if frame
// level is outermost.
func (s *Session) callerOf(t *Thread, level int) (Frame, bool, error) {
	frames, err := s.Stacktrace(t, level+1)
	if err != nil {
		return Frame{}, false, err
	}
	if level >= len(frames) {
		return Frame{}, false, fmt.Errorf("no frame at level %d", level)
	}
	if level+1 >= len(frames) {
		return Frame{}, false, nil
	}
	return frames[level+1], true, nil
}

// stackFrameID returns the id of the innermost frame of t that is not an
// inlined call.
func (s *Session) stackFrameID(t *Thread) (FrameID, error) {
	it, err := s.newStackIterator(t)
	if err != nil {
		return FrameID{}, err
	}
	for it.Next() {
		if fr := it.Frame(); fr.Kind != InlineFrame {
			return fr.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return FrameID{}, err
	}
	return FrameID{}, errors.New("empty stack")
}

// stackFrameIDOf returns the id of the first frame starting at frames[i]
// that is not an inlined call.
func stackFrameIDOf(frames []Frame, i int) FrameID {
	for ; i < len(frames); i++ {
		if frames[i].Kind != InlineFrame {
			return frames[i].ID
		}
	}
	return FrameID{}
}

// skipInlineFrames hides the inlined calls starting exactly at the pc of
// t: a thread stopping at the first instruction of an inlined call is
// shown in the caller, as if the call had not started yet.
func (s *Session) skipInlineFrames(t *Thread, pc uint64) {
	t.inlineSkipped = 0
	syms := t.Inf.Pspace.Symbols
	if syms == nil {
		return
	}
	for _, blk := range syms.InlinedBlocksAt(pc) {
		if blk.Entry == pc {
			t.inlineSkipped++
		}
	}
}

// nextSkippedBlock returns the outermost inlined call hidden by
// skipInlineFrames that is still hidden, the one the next step enters.
func (s *Session) nextSkippedBlock(t *Thread, pc uint64) (InlinedBlock, bool) {
	if t.inlineSkipped == 0 || t.Inf.Pspace.Symbols == nil {
		return InlinedBlock{}, false
	}
	blocks := t.Inf.Pspace.Symbols.InlinedBlocksAt(pc)
	i := len(blocks) - t.inlineSkipped
	if i < 0 || i >= len(blocks) {
		return InlinedBlock{}, false
	}
	return blocks[i], true
}
