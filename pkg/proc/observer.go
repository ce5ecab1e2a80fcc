package proc

// Observable is a list of callbacks notified of one kind of event.
type Observable[T any] struct {
	observers []observer[T]
	nextToken int
}

type observer[T any] struct {
	token int
	fn    func(T)
}

// Attach registers fn and returns a token that can be passed to Detach.
func (o *Observable[T]) Attach(fn func(T)) int {
	o.nextToken++
	o.observers = append(o.observers, observer[T]{o.nextToken, fn})
	return o.nextToken
}

// Detach removes the observer registered with token.
func (o *Observable[T]) Detach(token int) {
	for i := range o.observers {
		if o.observers[i].token == token {
			o.observers = append(o.observers[:i], o.observers[i+1:]...)
			return
		}
	}
}

// Notify calls every observer, in attach order.
func (o *Observable[T]) Notify(v T) {
	for _, obs := range o.observers {
		obs.fn(v)
	}
}

// ThreadExitEvent is delivered when a thread exits.
type ThreadExitEvent struct {
	Thread   *Thread
	ExitCode int
	// HasExitCode is false when the thread was discarded without a
	// reported exit, e.g. because the whole process went away.
	HasExitCode bool
	Silent      bool
}

// TargetResumedEvent is delivered once per batch of threads resumed
// together.
type TargetResumedEvent struct {
	Target Backend
	PTID   PTID
}

// InferiorCallEvent brackets a function call made by the debugger.
type InferiorCallEvent struct {
	PTID PTID
	Func uint64
}

// SelectionChangedEvent is delivered when the user visible selection
// changes.
type SelectionChangedEvent struct {
	Inferior *Inferior
	Thread   *Thread
	Frame    int
}

// Observers are the notifications the execution engine delivers to the
// presentation layer.
type Observers struct {
	NewThread     Observable[*Thread]
	ThreadExited  Observable[ThreadExitEvent]
	ThreadDeleted Observable[*Thread]
	TargetResumed Observable[TargetResumedEvent]

	InferiorAdded    Observable[*Inferior]
	InferiorAppeared Observable[*Inferior]
	InferiorExit     Observable[*Inferior]
	InferiorRemoved  Observable[*Inferior]

	InferiorCallPre  Observable[InferiorCallEvent]
	InferiorCallPost Observable[InferiorCallEvent]

	NormalStop                 Observable[*StopReport]
	UserSelectedContextChanged Observable[SelectionChangedEvent]
}
