package proc

import (
	"github.com/go-delve/execctl/pkg/logflags"
)

// AddInferior creates a new inferior with an empty program space.
func (s *Session) AddInferior() *Inferior {
	inf := s.AddInferiorSilent()
	s.Observers.InferiorAdded.Notify(inf)
	return inf
}

// AddInferiorSilent is like AddInferior without notifying observers.
func (s *Session) AddInferiorSilent() *Inferior {
	s.nextInferiorNum++
	s.nextSpaceNum++
	inf := &Inferior{
		Num:     s.nextInferiorNum,
		Pspace:  &ProgramSpace{Num: s.nextSpaceNum},
		Aspace:  &AddressSpace{Num: s.nextSpaceNum},
		session: s,
	}
	s.inferiors = append(s.inferiors, inf)
	if s.current.inf == nil {
		s.current.inf = inf
	}
	return inf
}

// Inferiors returns every inferior, in creation order.
func (s *Session) Inferiors() []*Inferior {
	r := make([]*Inferior, len(s.inferiors))
	copy(r, s.inferiors)
	return r
}

// FindInferiorID returns the inferior with number num.
func (s *Session) FindInferiorID(num int) *Inferior {
	for _, inf := range s.inferiors {
		if inf.Num == num {
			return inf
		}
	}
	return nil
}

// FindInferiorPid returns the inferior running process pid.
func (s *Session) FindInferiorPid(pid int) *Inferior {
	if pid == 0 {
		return nil
	}
	for _, inf := range s.inferiors {
		if inf.Pid == pid {
			return inf
		}
	}
	return nil
}

// HaveLiveInferiors returns true if some inferior has a process.
func (s *Session) HaveLiveInferiors() bool {
	return s.NumberOfLiveInferiors() > 0
}

func (s *Session) NumberOfLiveInferiors() int {
	n := 0
	for _, inf := range s.inferiors {
		if inf.Pid != 0 && len(inf.NonExitedThreads()) > 0 {
			n++
		}
	}
	return n
}

// InferiorAppeared records that inf is now running process pid.
func (s *Session) InferiorAppeared(inf *Inferior, pid int) {
	inf.Pid = pid
	inf.HasExitCode = false
	inf.ExitCode = 0
	s.Observers.InferiorAppeared.Notify(inf)
}

// ExitInferior discards every thread of inf and forgets its process. The
// inferior itself remains.
func (s *Session) ExitInferior(inf *Inferior) {
	s.exitInferior(inf, false)
}

// ExitInferiorSilent is like ExitInferior without notifying thread exits.
func (s *Session) ExitInferiorSilent(inf *Inferior) {
	s.exitInferior(inf, true)
}

func (s *Session) exitInferior(inf *Inferior, silent bool) {
	s.Observers.InferiorExit.Notify(inf)
	if s.current.inf == inf && s.current.thread != nil {
		s.current.thread = nil
		s.current.frameLevel = 0
		s.current.frameID = FrameID{}
	}
	for _, t := range inf.Threads() {
		s.deleteThread(t, 0, false, silent)
	}
	s.discardDummyFramesOf(inf)
	s.Breakpoints.forgetInferior(inf)
	inf.displaced.reset()
	inf.Pid = 0
	inf.VforkParent = nil
	inf.VforkChild = nil
	inf.DiscardAllContinuations()
	if s.inlineStepOver != nil && s.inlineStepOver.Inf == inf {
		s.inlineStepOver = nil
	}
}

// DetachInferior forgets the process of inf, like ExitInferior, without
// reporting the threads as exited.
func (s *Session) DetachInferior(inf *Inferior) {
	if logflags.Threads() {
		logflags.ThreadsLogger().Debugf("detaching from %v", inf)
	}
	s.exitInferior(inf, true)
}

// DeleteInferior removes inf, which must have no process, from the
// session.
func (s *Session) DeleteInferior(inf *Inferior) {
	if inf.Pid != 0 {
		panic("internal error: deleting an inferior with a live process")
	}
	for _, t := range inf.Threads() {
		s.deleteThread(t, 0, false, true)
	}
	for i := range s.inferiors {
		if s.inferiors[i] == inf {
			s.inferiors = append(s.inferiors[:i], s.inferiors[i+1:]...)
			break
		}
	}
	s.Observers.InferiorRemoved.Notify(inf)
}

// PruneInferiors deletes removable inferiors without a process that are
// not referenced.
func (s *Session) PruneInferiors() {
	for _, inf := range s.Inferiors() {
		if !inf.Removable || inf.Pid != 0 || !inf.deletable() || inf == s.current.inf {
			continue
		}
		s.DeleteInferior(inf)
	}
}

// AddThread adds a thread with the given ptid to inf and notifies
// observers.
func (s *Session) AddThread(inf *Inferior, ptid PTID) *Thread {
	return s.AddThreadWithInfo(inf, ptid, nil)
}

// AddThreadWithInfo is like AddThread and attaches backend private data
// to the thread.
func (s *Session) AddThreadWithInfo(inf *Inferior, ptid PTID, priv interface{}) *Thread {
	t := s.AddThreadSilent(inf, ptid)
	t.Priv = priv
	if logflags.Threads() {
		logflags.ThreadsLogger().Debugf("new thread %v", t)
	}
	s.Observers.NewThread.Notify(t)
	return t
}

// AddThreadSilent adds a thread without notifying observers. If a thread
// with the same ptid exists it is deleted first: the backend reused the
// ptid of a thread whose exit was not seen.
func (s *Session) AddThreadSilent(inf *Inferior, ptid PTID) *Thread {
	key := threadKey{inf.Num, ptid}
	if old := s.threadMap[key]; old != nil {
		s.deleteThread(old, 0, false, true)
	}
	s.highestThreadNum++
	inf.highestThreadNum++
	t := &Thread{
		PTID:      ptid,
		GlobalNum: s.highestThreadNum,
		PerInfNum: inf.highestThreadNum,
		Inf:       inf,
		State:     ThreadStopped,
	}
	inf.threads = append(inf.threads, t)
	s.threadMap[key] = t
	return t
}

// FindThread returns the live thread with the given ptid.
func (s *Session) FindThread(ptid PTID) *Thread {
	inf := s.FindInferiorPid(ptid.Pid)
	if inf == nil {
		return nil
	}
	return s.threadMap[threadKey{inf.Num, ptid}]
}

// FindThreadInInferior returns the live thread of inf with the given ptid.
func (s *Session) FindThreadInInferior(inf *Inferior, ptid PTID) *Thread {
	return s.threadMap[threadKey{inf.Num, ptid}]
}

// FindThreadGlobalID returns the thread with global number n, exited
// threads included.
func (s *Session) FindThreadGlobalID(n int) *Thread {
	for _, inf := range s.inferiors {
		for _, t := range inf.threads {
			if t.GlobalNum == n {
				return t
			}
		}
	}
	return nil
}

// AllThreads returns every thread of every inferior, exited threads not
// yet deleted included.
func (s *Session) AllThreads() []*Thread {
	var r []*Thread
	for _, inf := range s.inferiors {
		r = append(r, inf.threads...)
	}
	return r
}

// AllNonExitedThreads returns the threads of backend b (any backend if nil)
// matching filter that have not exited.
func (s *Session) AllNonExitedThreads(b Backend, filter PTID) []*Thread {
	var r []*Thread
	for _, inf := range s.inferiors {
		if b != nil && inf.Target != b {
			continue
		}
		for _, t := range inf.threads {
			if t.State != ThreadExited && t.PTID.Matches(filter) {
				r = append(r, t)
			}
		}
	}
	return r
}

// LiveThreadCount returns the number of threads that have not exited.
func (s *Session) LiveThreadCount() int {
	return len(s.AllNonExitedThreads(nil, MinusOnePTID))
}

// SetThreadExited marks t as exited: it is removed from the step-over
// queue and the ptid map, its execution command is cancelled and the
// breakpoints it owns are deleted. The thread stays in its inferior's list
// until DeleteThread.
func (s *Session) SetThreadExited(t *Thread, exitCode int, hasExitCode, silent bool) {
	if s.stepOver.Contains(t) {
		s.stepOver.Remove(t)
	}
	if t.State == ThreadExited {
		return
	}
	if t.Inf.Target != nil {
		s.targetStateFor(t.Inf.Target).removeResumedWithPending(t)
	}
	s.Observers.ThreadExited.Notify(ThreadExitEvent{Thread: t, ExitCode: exitCode, HasExitCode: hasExitCode, Silent: silent})
	t.State = ThreadExited
	t.executing = false
	t.resumed = false
	s.clearThreadResources(t)
	key := threadKey{t.Inf.Num, t.PTID}
	if s.threadMap[key] != t {
		panic("internal error: exited thread missing from the ptid map")
	}
	delete(s.threadMap, key)
	if logflags.Threads() {
		logflags.ThreadsLogger().Debugf("%v exited", t)
	}
}

// clearThreadResources deletes what the thread owns in the engine.
func (s *Session) clearThreadResources(t *Thread) {
	if t.steppingOver != stepOverNone {
		s.abortStepOver(t)
	}
	s.deleteStepResumeBreakpoint(t)
	t.Control.StopBpstat = nil
	s.Breakpoints.deleteThreadBreakpoints(t)
	s.CancelExecution(t)
}

// CancelExecution abandons the execution command of t: its FSM is cleaned
// up and released.
func (s *Session) CancelExecution(t *Thread) {
	if t.fsm != nil {
		t.fsm.CleanUp(s, t)
		t.ReleaseFSM()
	}
}

// DeleteThread marks t as exited and removes it from its inferior, unless
// it is referenced or current: then it is deleted when that stops being
// the case.
func (s *Session) DeleteThread(t *Thread) {
	s.deleteThread(t, 0, false, false)
}

// DeleteThreadSilent is like DeleteThread without notifying observers of
// the exit.
func (s *Session) DeleteThreadSilent(t *Thread) {
	s.deleteThread(t, 0, false, true)
}

func (s *Session) deleteThread(t *Thread, exitCode int, hasExitCode, silent bool) {
	s.SetThreadExited(t, exitCode, hasExitCode, silent)
	s.maybeDeleteThread(t)
}

func (s *Session) threadDeletable(t *Thread) bool {
	return t.refcount == 0 && s.current.thread != t
}

func (s *Session) maybeDeleteThread(t *Thread) {
	if t.State != ThreadExited || !s.threadDeletable(t) {
		return
	}
	inf := t.Inf
	for i := range inf.threads {
		if inf.threads[i] == t {
			inf.threads = append(inf.threads[:i], inf.threads[i+1:]...)
			s.Observers.ThreadDeleted.Notify(t)
			return
		}
	}
}

// DeleteExitedThreads deletes every exited thread that is not referenced
// or current.
func (s *Session) DeleteExitedThreads() {
	for _, t := range s.AllThreads() {
		s.maybeDeleteThread(t)
	}
}

// PruneThreads deletes the threads the backend says are gone.
func (s *Session) PruneThreads() {
	for _, t := range s.AllThreads() {
		if t.State == ThreadExited {
			s.maybeDeleteThread(t)
			continue
		}
		if t.Inf.Target != nil && !t.Inf.Target.ThreadAlive(t.PTID) {
			s.DeleteThread(t)
		}
	}
}

// UpdateThreadList synchronizes the thread list of every live inferior
// with its backend: threads the engine does not know about are added
// (stopped), threads that are gone are deleted.
func (s *Session) UpdateThreadList() error {
	for _, inf := range s.inferiors {
		if inf.Pid == 0 || inf.Target == nil {
			continue
		}
		ptids, err := inf.Target.ThreadList(inf.Pid)
		if err != nil {
			return err
		}
		seen := make(map[PTID]bool, len(ptids))
		for _, ptid := range ptids {
			seen[ptid] = true
			if s.FindThreadInInferior(inf, ptid) == nil {
				s.AddThread(inf, ptid)
			}
		}
		for _, t := range inf.NonExitedThreads() {
			if !seen[t.PTID] {
				s.DeleteThread(t)
			}
		}
	}
	return nil
}
