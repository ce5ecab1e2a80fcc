package proc

// SetRunning sets the user visible state of the threads of b (any backend
// if nil) matching filter. TargetResumed is notified once if any thread
// went from stopped to running.
func (s *Session) SetRunning(b Backend, filter PTID, running bool) {
	started := false
	for _, t := range s.AllNonExitedThreads(b, filter) {
		if s.setThreadRunning(t, running) {
			started = true
		}
	}
	if started {
		s.Observers.TargetResumed.Notify(TargetResumedEvent{Target: b, PTID: filter})
	}
}

// setThreadRunning changes the user visible state of t and returns true if
// it went from stopped to running.
func (s *Session) setThreadRunning(t *Thread, running bool) bool {
	if !running && s.stepOver.Contains(t) {
		s.stepOver.Remove(t)
	}
	started := running && t.State == ThreadStopped
	if running {
		t.State = ThreadRunning
	} else {
		t.State = ThreadStopped
	}
	return started
}

// SetExecuting sets the internal running state of the threads of b
// matching filter.
func (s *Session) SetExecuting(b Backend, filter PTID, executing bool) {
	for _, t := range s.AllNonExitedThreads(b, filter) {
		t.setExecuting(executing)
	}
}

// SetResumed sets the resumed flag of the threads of b matching filter.
func (s *Session) SetResumed(b Backend, filter PTID, resumed bool) {
	for _, t := range s.AllNonExitedThreads(b, filter) {
		t.setResumed(resumed)
	}
}

// FinishThreadState makes the user visible state of the threads of b
// matching filter agree with their internal state. It is called when an
// execution command is over, whether it succeeded or not.
func (s *Session) FinishThreadState(b Backend, filter PTID) {
	started := false
	for _, t := range s.AllNonExitedThreads(b, filter) {
		if s.setThreadRunning(t, t.executing) {
			started = true
		}
	}
	if started {
		s.Observers.TargetResumed.Notify(TargetResumedEvent{Target: b, PTID: filter})
	}
}

// anyThreadExecuting returns true if some thread of b (any backend if
// nil) is executing.
func (s *Session) anyThreadExecuting(b Backend) bool {
	for _, t := range s.AllNonExitedThreads(b, MinusOnePTID) {
		if t.executing {
			return true
		}
	}
	return false
}
