// Package dap converts execution engine notifications into Debug Adapter
// Protocol events.
package dap

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"

	"github.com/go-delve/execctl/pkg/logflags"
	"github.com/go-delve/execctl/pkg/proc"
)

// EventStream writes a DAP event for every notification of the sessions
// it is attached to.
type EventStream struct {
	mu   sync.Mutex
	conn io.Writer
	seq  int
	err  error
	log  logflags.Logger

	// PrintThreadEvents controls whether thread start and exit events are
	// sent.
	PrintThreadEvents bool

	session *proc.Session
	detach  []func()
}

// NewEventStream returns a stream writing to conn.
func NewEventStream(conn io.Writer) *EventStream {
	return &EventStream{
		conn:              conn,
		log:               logflags.DAPLogger(),
		PrintThreadEvents: true,
	}
}

// Attach registers the stream as an observer of s. A stream can only be
// attached to one session at a time.
func (es *EventStream) Attach(s *proc.Session) {
	if es.session != nil {
		es.Detach()
	}
	es.session = s
	obs := &s.Observers

	tok := obs.NewThread.Attach(es.onNewThread)
	es.detach = append(es.detach, func() { obs.NewThread.Detach(tok) })
	tok1 := obs.ThreadExited.Attach(es.onThreadExited)
	es.detach = append(es.detach, func() { obs.ThreadExited.Detach(tok1) })
	tok2 := obs.TargetResumed.Attach(es.onTargetResumed)
	es.detach = append(es.detach, func() { obs.TargetResumed.Detach(tok2) })
	tok3 := obs.InferiorExit.Attach(es.onInferiorExit)
	es.detach = append(es.detach, func() { obs.InferiorExit.Detach(tok3) })
	tok4 := obs.NormalStop.Attach(es.onNormalStop)
	es.detach = append(es.detach, func() { obs.NormalStop.Detach(tok4) })
	tok5 := obs.InferiorCallPre.Attach(func(ev proc.InferiorCallEvent) {
		es.log.Debugf("function call at %#x on %v started", ev.Func, ev.PTID)
	})
	es.detach = append(es.detach, func() { obs.InferiorCallPre.Detach(tok5) })
	tok6 := obs.InferiorCallPost.Attach(func(ev proc.InferiorCallEvent) {
		es.log.Debugf("function call at %#x on %v done", ev.Func, ev.PTID)
	})
	es.detach = append(es.detach, func() { obs.InferiorCallPost.Detach(tok6) })
}

// Detach removes every observer registered by Attach.
func (es *EventStream) Detach() {
	for _, fn := range es.detach {
		fn()
	}
	es.detach = nil
	es.session = nil
}

// Err returns the first error encountered writing to the connection.
func (es *EventStream) Err() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.err
}

// Output sends text written by the program.
func (es *EventStream) Output(category, text string) {
	if text == "" {
		return
	}
	e := &dap.OutputEvent{Event: *es.newEvent("output")}
	e.Body = dap.OutputEventBody{Category: category, Output: text}
	es.send(e)
}

func (es *EventStream) newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           event,
	}
}

func (es *EventStream) send(message dap.Message) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.err != nil {
		return
	}
	es.seq++
	if e, ok := message.(interface{ GetEvent() *dap.Event }); ok {
		e.GetEvent().Seq = es.seq
	}
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(message)
		es.log.Debug("[-> to client]", string(jsonmsg))
	}
	if err := dap.WriteProtocolMessage(es.conn, message); err != nil {
		es.log.Errorf("could not send event: %v", err)
		es.err = err
	}
}

func (es *EventStream) onNewThread(t *proc.Thread) {
	if !es.PrintThreadEvents {
		return
	}
	e := &dap.ThreadEvent{Event: *es.newEvent("thread")}
	e.Body = dap.ThreadEventBody{Reason: "started", ThreadId: t.GlobalNum}
	es.send(e)
}

func (es *EventStream) onThreadExited(ev proc.ThreadExitEvent) {
	if ev.Silent || !es.PrintThreadEvents {
		return
	}
	e := &dap.ThreadEvent{Event: *es.newEvent("thread")}
	e.Body = dap.ThreadEventBody{Reason: "exited", ThreadId: ev.Thread.GlobalNum}
	es.send(e)
}

func (es *EventStream) onTargetResumed(ev proc.TargetResumedEvent) {
	e := &dap.ContinuedEvent{Event: *es.newEvent("continued")}
	if ev.PTID != proc.MinusOnePTID && !ev.PTID.IsPid() {
		if t := es.session.FindThread(ev.PTID); t != nil {
			e.Body.ThreadId = t.GlobalNum
		}
	} else {
		e.Body.AllThreadsContinued = true
		if t, err := es.session.CurrentThread(); err == nil {
			e.Body.ThreadId = t.GlobalNum
		}
	}
	es.send(e)
}

func (es *EventStream) onInferiorExit(inf *proc.Inferior) {
	if inf.HasExitCode {
		e := &dap.ExitedEvent{Event: *es.newEvent("exited")}
		e.Body.ExitCode = inf.ExitCode
		es.send(e)
	}
	es.send(&dap.TerminatedEvent{Event: *es.newEvent("terminated")})
}

func (es *EventStream) onNormalStop(r *proc.StopReport) {
	switch r.Reason {
	case proc.ReasonExited, proc.ReasonExitedNormally:
		return
	case proc.ReasonExitedSignalled:
		es.Output("console", r.String()+"\n")
		return
	}
	e := &dap.StoppedEvent{Event: *es.newEvent("stopped")}
	e.Body.Reason = stoppedReason(r)
	e.Body.AllThreadsStopped = es.session != nil && !es.session.Options().NonStop
	if r.Thread != nil {
		e.Body.ThreadId = r.Thread.GlobalNum
	}
	switch r.Reason {
	case proc.ReasonBreakpointHit:
		e.Body.Description = fmt.Sprintf("breakpoint %d", r.Breakpoint.ID)
	case proc.ReasonSignalReceived:
		if r.Signal != proc.SignalNone {
			e.Body.Description = r.Signal.String()
			e.Body.Text = r.Signal.Description()
		}
	case proc.ReasonFunctionFinished:
		if r.ReturnValue != nil && r.Function != nil {
			e.Body.Text = fmt.Sprintf("%s returned %v", r.Function.Name, r.ReturnValue)
		}
	}
	es.send(e)
}

func stoppedReason(r *proc.StopReport) string {
	switch r.Reason {
	case proc.ReasonBreakpointHit:
		return "breakpoint"
	case proc.ReasonEndSteppingRange, proc.ReasonFunctionFinished:
		return "step"
	case proc.ReasonLocationReached:
		return "goto"
	case proc.ReasonSignalReceived:
		if r.Signal == proc.SignalNone {
			return "pause"
		}
		return "exception"
	}
	return "pause"
}
