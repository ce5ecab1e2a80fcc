package proc

import (
	"github.com/go-delve/execctl/pkg/logflags"
)

// Continue resumes the current thread, and in all-stop mode every other
// thread of its process, until something stops it.
func (s *Session) Continue() (*StopReport, error) {
	return s.ContinueWithSignal(SignalDefault)
}

// ContinueWithSignal is like Continue but delivers sig to the current
// thread. SignalNone discards the signal the thread stopped with.
func (s *Session) ContinueWithSignal(sig Signal) (*StopReport, error) {
	t, err := s.commandThread()
	if err != nil {
		return nil, err
	}
	s.clearProceedStatus(t)
	if err := s.proceed(t, resumeAtCurrentPC, sig); err != nil {
		return nil, err
	}
	return s.waitForStop(t)
}

// ContinueAll resumes every stopped thread of every live inferior, in
// thread list order, and waits for the first stop.
// In all-stop mode it is Continue.
func (s *Session) ContinueAll() (*StopReport, error) {
	if !s.opts.NonStop {
		return s.Continue()
	}
	resumed := 0
	for _, t := range s.AllNonExitedThreads(nil, MinusOnePTID) {
		if t.State != ThreadStopped || t.executing || t.Inf.Pid == 0 {
			continue
		}
		s.clearProceedStatusThread(t)
		if err := s.proceed(t, resumeAtCurrentPC, SignalDefault); err != nil {
			return nil, err
		}
		resumed++
	}
	if logflags.Infrun() {
		logflags.InfrunLogger().Debugf("continue all: resumed %d threads", resumed)
	}
	if resumed == 0 && !s.anyThreadExecuting(nil) {
		return nil, ErrNoResumed
	}
	return s.waitForStop(nil)
}

// Wait waits for the next stop of a running thread and reports it.
func (s *Session) Wait() (*StopReport, error) {
	if !s.anyThreadExecuting(nil) && !s.anyPendingEvent() {
		return nil, ErrNoResumed
	}
	return s.waitForStop(nil)
}

func (s *Session) anyPendingEvent() bool {
	for _, ts := range s.targets {
		if len(ts.resumedWithPending) > 0 {
			return true
		}
	}
	return false
}

// InterruptAll requests every executing thread to stop and waits until
// they did, returning a report per stop. A thread that stops for another
// reason in the meantime is reported with that reason.
func (s *Session) InterruptAll() ([]*StopReport, error) {
	for _, t := range s.AllNonExitedThreads(nil, MinusOnePTID) {
		if !t.executing || t.stopRequested {
			continue
		}
		if err := t.Inf.Target.Stop(t.PTID); err != nil {
			return nil, err
		}
		t.stopRequested = true
		if logflags.Infrun() {
			logflags.InfrunLogger().Debugf("interrupt %v", t)
		}
	}
	var reports []*StopReport
	for s.anyStopRequested() {
		r, err := s.waitForStop(nil)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (s *Session) anyStopRequested() bool {
	for _, t := range s.AllNonExitedThreads(nil, MinusOnePTID) {
		if t.stopRequested && t.executing {
			return true
		}
	}
	return false
}
