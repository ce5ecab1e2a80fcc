package proc

import (
	"container/list"
	"fmt"
)

// StepOverQueue is the global queue of threads waiting to step over a
// breakpoint, in arrival order. A thread is in the queue at most once.
type StepOverQueue struct {
	l     *list.List
	elems map[*Thread]*list.Element
}

func newStepOverQueue() *StepOverQueue {
	return &StepOverQueue{l: list.New(), elems: make(map[*Thread]*list.Element)}
}

// Enqueue appends t to the queue.
func (q *StepOverQueue) Enqueue(t *Thread) {
	if _, ok := q.elems[t]; ok {
		panic(fmt.Sprintf("internal error: %v is already in the step-over queue", t))
	}
	if t.State == ThreadExited {
		panic(fmt.Sprintf("internal error: enqueueing exited %v for a step-over", t))
	}
	q.elems[t] = q.l.PushBack(t)
}

// Remove removes t from the queue.
func (q *StepOverQueue) Remove(t *Thread) {
	e, ok := q.elems[t]
	if !ok {
		panic(fmt.Sprintf("internal error: %v is not in the step-over queue", t))
	}
	q.l.Remove(e)
	delete(q.elems, t)
}

// Contains returns true if t is in the queue.
func (q *StepOverQueue) Contains(t *Thread) bool {
	_, ok := q.elems[t]
	return ok
}

func (q *StepOverQueue) Len() int { return q.l.Len() }

// Front returns the first thread of the queue.
func (q *StepOverQueue) Front() *Thread {
	if e := q.l.Front(); e != nil {
		return e.Value.(*Thread)
	}
	return nil
}

// Threads returns the queued threads in order. Removing threads while
// iterating over the result is safe.
func (q *StepOverQueue) Threads() []*Thread {
	r := make([]*Thread, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		r = append(r, e.Value.(*Thread))
	}
	return r
}

// ThreadsOf returns the queued threads of backend b.
func (q *StepOverQueue) ThreadsOf(b Backend) []*Thread {
	var r []*Thread
	for _, t := range q.Threads() {
		if t.Inf.Target == b {
			r = append(r, t)
		}
	}
	return r
}
