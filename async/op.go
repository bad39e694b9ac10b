package async

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle state of an Op.
type State int32

const (
	Scheduled State = iota
	Fired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Fired:
		return "fired"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Kind identifies what an Op waits for.
type Kind int

const (
	KindTimeout Kind = iota
	KindInterval
	KindMicrotask
	KindPromise
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindInterval:
		return "interval"
	case KindMicrotask:
		return "microtask"
	case KindPromise:
		return "promise"
	}
	return "unknown"
}

// Completion is delivered to the guest when an Op fires.
type Completion struct {
	Value  any
	Token  uint32
	Failed bool
	// Absent is set when the outcome carried no value, as opposed to a falsy one.
	Absent bool
}

// Op is a pending asynchronous operation. It is the cancellation handle handed
// back to the guest.
type Op struct {
	timer *time.Timer
	loop  *Loop
	id    uint64
	token uint32
	kind  Kind
	state atomic.Int32
}

// ID returns the op's loop-unique id.
func (o *Op) ID() uint64 { return o.id }

// Token returns the guest completion token.
func (o *Op) Token() uint32 { return o.token }

// Kind returns the op kind.
func (o *Op) Kind() Kind { return o.kind }

// State returns the current state.
func (o *Op) State() State { return State(o.state.Load()) }

// fire moves Scheduled to Fired. Only the winner may invoke the callback.
func (o *Op) fire() bool {
	return o.state.CompareAndSwap(int32(Scheduled), int32(Fired))
}

func (o *Op) cancel() bool {
	return o.state.CompareAndSwap(int32(Scheduled), int32(Cancelled))
}

func (o *Op) live() bool {
	return o.State() == Scheduled
}
