package proc

import (
	"fmt"

	"github.com/go-delve/execctl/pkg/logflags"
)

// dummyFrame records a function call in progress: the state of the caller
// and the breakpoint the callee returns to. Dummy frames form a stack,
// the innermost call last.
type dummyFrame struct {
	id          FrameID
	thread      *Thread
	callerState *InfcallSuspendState
	bp          *Breakpoint
	dtors       []func()
}

// DummyFrameDtor is called when a dummy frame is popped or discarded.
type DummyFrameDtor func()

func (s *Session) pushDummyFrame(callerState *InfcallSuspendState, id FrameID, t *Thread, bp *Breakpoint) {
	s.dummyFrames = append(s.dummyFrames, &dummyFrame{id: id, thread: t, callerState: callerState, bp: bp})
	if logflags.Infcall() {
		logflags.InfcallLogger().Debugf("pushed dummy frame %v for %v", id, t)
	}
}

func (s *Session) findDummyFrame(id FrameID, t *Thread) (int, *dummyFrame) {
	for i := len(s.dummyFrames) - 1; i >= 0; i-- {
		d := s.dummyFrames[i]
		if d.id == id && d.thread == t {
			return i, d
		}
	}
	return -1, nil
}

// dummyFrameAt returns the dummy frame of t whose callee returned leaving
// registers regs.
func (s *Session) dummyFrameAt(t *Thread, regs *Registers) *dummyFrame {
	for i := len(s.dummyFrames) - 1; i >= 0; i-- {
		d := s.dummyFrames[i]
		if d.thread == t && regs.PC() == d.id.CodeAddr && regs.SP() == d.id.StackAddr {
			return d
		}
	}
	return nil
}

// RegisterDummyFrameDtor registers fn to be called when the dummy frame
// id of t goes away.
func (s *Session) RegisterDummyFrameDtor(id FrameID, t *Thread, fn DummyFrameDtor) error {
	_, d := s.findDummyFrame(id, t)
	if d == nil {
		return fmt.Errorf("no dummy frame %v", id)
	}
	d.dtors = append(d.dtors, fn)
	return nil
}

// popDummyFrame restores the caller state saved in dummy frame id of t
// and removes the frame.
func (s *Session) popDummyFrame(id FrameID, t *Thread) error {
	i, d := s.findDummyFrame(id, t)
	if d == nil {
		panic(fmt.Sprintf("internal error: popping unknown dummy frame %v of %v", id, t))
	}
	err := s.restoreInfcallSuspendState(t, d.callerState)
	s.removeDummyFrame(i)
	if logflags.Infcall() {
		logflags.InfcallLogger().Debugf("popped dummy frame %v of %v", id, t)
	}
	return err
}

// discardDummyFrame removes dummy frame id of t without restoring the
// caller state.
func (s *Session) discardDummyFrame(id FrameID, t *Thread) {
	if i, d := s.findDummyFrame(id, t); d != nil {
		s.removeDummyFrame(i)
	}
}

func (s *Session) removeDummyFrame(i int) {
	d := s.dummyFrames[i]
	s.dummyFrames = append(s.dummyFrames[:i], s.dummyFrames[i+1:]...)
	for j := len(d.dtors) - 1; j >= 0; j-- {
		d.dtors[j]()
	}
	s.Breakpoints.Delete(d.bp)
}

// discardDummyFramesOf removes the dummy frames of the threads of inf,
// whose process is gone.
func (s *Session) discardDummyFramesOf(inf *Inferior) {
	for i := len(s.dummyFrames) - 1; i >= 0; i-- {
		if s.dummyFrames[i].thread.Inf == inf {
			s.removeDummyFrame(i)
		}
	}
}

// DummyFrames returns the ids of the dummy frames of t, innermost first.
func (s *Session) DummyFrames(t *Thread) []FrameID {
	var r []FrameID
	for i := len(s.dummyFrames) - 1; i >= 0; i-- {
		if s.dummyFrames[i].thread == t {
			r = append(r, s.dummyFrames[i].id)
		}
	}
	return r
}

// PopDummyFrame pops the innermost dummy frame of the current thread,
// abandoning the function call it belongs to and restoring the caller's
// registers.
func (s *Session) PopDummyFrame() error {
	t, err := s.ensureStoppedThread()
	if err != nil {
		return err
	}
	frames, err := s.Stacktrace(t, 1<<10)
	if err != nil {
		return err
	}
	for _, fr := range frames {
		if fr.Kind == DummyFrame {
			if err := s.popDummyFrame(fr.ID, t); err != nil {
				return err
			}
			s.current.frameLevel = 0
			s.current.frameID = FrameID{}
			return nil
		}
	}
	return ErrNoDummyFrame
}
