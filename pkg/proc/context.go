package proc

import (
	"github.com/go-delve/execctl/pkg/logflags"
)

// currentContext is what commands operate on by default.
type currentContext struct {
	inf        *Inferior
	thread     *Thread
	frameLevel int
	frameID    FrameID
}

// CurrentInferior returns the current inferior.
func (s *Session) CurrentInferior() *Inferior {
	return s.current.inf
}

// CurrentThread returns the current thread.
func (s *Session) CurrentThread() (*Thread, error) {
	t := s.current.thread
	if t == nil {
		return nil, ErrNoThreadSelected
	}
	if t.State == ThreadExited {
		return nil, ErrThreadExited
	}
	return t, nil
}

// HasCurrentThread returns true if a thread is selected.
func (s *Session) HasCurrentThread() bool {
	return s.current.thread != nil
}

// SwitchToThread makes t the current thread and its inferior the current
// inferior. The selected frame is reset to the innermost frame.
func (s *Session) SwitchToThread(t *Thread) {
	old := s.current.thread
	s.current.inf = t.Inf
	s.current.thread = t
	s.current.frameLevel = 0
	s.current.frameID = FrameID{}
	if old != nil && old != t {
		s.maybeDeleteThread(old)
	}
}

// SwitchToNoThread deselects the current thread, keeping the current
// inferior.
func (s *Session) SwitchToNoThread() {
	old := s.current.thread
	s.current.thread = nil
	s.current.frameLevel = 0
	s.current.frameID = FrameID{}
	if old != nil {
		s.maybeDeleteThread(old)
	}
}

// SwitchToInferiorNoThread makes inf the current inferior with no thread
// selected.
func (s *Session) SwitchToInferiorNoThread(inf *Inferior) {
	s.SwitchToNoThread()
	s.current.inf = inf
}

// SelectThread is SwitchToThread on behalf of the user: observers are
// notified of the new selection.
func (s *Session) SelectThread(t *Thread) {
	s.SwitchToThread(t)
	s.notifySelectionChanged()
}

// SelectInferior selects inf on behalf of the user, with its first live
// thread if it has one.
func (s *Session) SelectInferior(inf *Inferior) {
	if threads := inf.NonExitedThreads(); len(threads) > 0 {
		s.SwitchToThread(threads[0])
	} else {
		s.SwitchToInferiorNoThread(inf)
	}
	s.notifySelectionChanged()
}

func (s *Session) notifySelectionChanged() {
	s.Observers.UserSelectedContextChanged.Notify(SelectionChangedEvent{
		Inferior: s.current.inf,
		Thread:   s.current.thread,
		Frame:    s.current.frameLevel,
	})
}

// SelectFrame selects frame level of the current thread.
func (s *Session) SelectFrame(level int) error {
	t, err := s.ensureStoppedThread()
	if err != nil {
		return err
	}
	frame, err := s.FrameAt(t, level)
	if err != nil {
		return err
	}
	s.current.frameLevel = level
	s.current.frameID = frame.ID
	s.notifySelectionChanged()
	return nil
}

// SelectedFrameLevel returns the level of the selected frame.
func (s *Session) SelectedFrameLevel() int {
	return s.current.frameLevel
}

// SelectedFrame returns the selected frame of the current thread.
func (s *Session) SelectedFrame() (Frame, error) {
	t, err := s.ensureStoppedThread()
	if err != nil {
		return Frame{}, err
	}
	return s.FrameAt(t, s.current.frameLevel)
}

// restoreSelectedFrame selects the frame of the current thread with the
// given id, falling back to level and then to the innermost frame.
func (s *Session) restoreSelectedFrame(id FrameID, level int) {
	t := s.current.thread
	if t == nil {
		return
	}
	if id.Valid() {
		frames, err := s.Stacktrace(t, level+1)
		if err == nil && level < len(frames) && frames[level].ID == id {
			s.current.frameLevel = level
			s.current.frameID = id
			return
		}
		if err == nil {
			for _, fr := range frames {
				if fr.ID == id {
					s.current.frameLevel = fr.Level
					s.current.frameID = id
					return
				}
			}
		}
		if logflags.Infrun() {
			logflags.InfrunLogger().Warnf("unable to restore previously selected frame %v", id)
		}
	}
	s.current.frameLevel = 0
	s.current.frameID = FrameID{}
}

// ensureStoppedThread returns the current thread, which must exist and be
// stopped.
func (s *Session) ensureStoppedThread() (*Thread, error) {
	t, err := s.CurrentThread()
	if err != nil {
		return nil, err
	}
	if t.State == ThreadRunning || t.executing {
		return nil, ErrThreadRunning
	}
	return t, nil
}

// RestoreCurrentThread restores the current inferior, thread and frame
// saved by SaveCurrentThread.
type RestoreCurrentThread struct {
	s          *Session
	inf        *Inferior
	thread     *Thread
	frameID    FrameID
	frameLevel int
	wasStopped bool

	dontRestore bool
	done        bool
}

// SaveCurrentThread saves the current context. The saved thread and
// inferior are kept from being deleted until Restore is called. Use as:
//
//	defer s.SaveCurrentThread().Restore()
func (s *Session) SaveCurrentThread() *RestoreCurrentThread {
	r := &RestoreCurrentThread{
		s:          s,
		inf:        s.current.inf,
		thread:     s.current.thread,
		frameID:    s.current.frameID,
		frameLevel: s.current.frameLevel,
	}
	if r.inf != nil {
		r.inf.IncRef()
	}
	if r.thread != nil {
		r.thread.IncRef()
		r.wasStopped = r.thread.State == ThreadStopped
		if r.wasStopped && !r.frameID.Valid() {
			if fr, err := s.FrameAt(r.thread, r.frameLevel); err == nil {
				r.frameID = fr.ID
			}
		}
	}
	return r
}

// DontRestore makes Restore only release the saved references.
func (r *RestoreCurrentThread) DontRestore() {
	r.dontRestore = true
}

// Restore switches back to the saved context. If the saved thread exited
// in the meantime the saved inferior is selected with no thread. Calling
// Restore more than once has no effect.
func (r *RestoreCurrentThread) Restore() {
	if r.done {
		return
	}
	r.done = true
	s := r.s
	if !r.dontRestore {
		switch {
		case r.thread != nil && r.thread.State != ThreadExited:
			s.SwitchToThread(r.thread)
		case r.inf != nil:
			s.SwitchToInferiorNoThread(r.inf)
		default:
			s.SwitchToNoThread()
		}
		if r.thread != nil && s.current.thread == r.thread && r.wasStopped && r.thread.State == ThreadStopped && r.inf.Pid != 0 {
			s.restoreSelectedFrame(r.frameID, r.frameLevel)
		}
	}
	if r.thread != nil {
		r.thread.DecRef()
	}
	if r.inf != nil {
		r.inf.DecRef()
	}
}
