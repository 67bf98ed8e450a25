package relay

import "sync/atomic"

// State is the lifecycle position of one relayed exchange
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateDraining
	StateDone
	StateBufferedDone
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateBufferedDone:
		return "buffered-done"
	case StateTimedOut:
		return "timed-out"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateBufferedDone, StateTimedOut, StateFailed:
		return true
	}
	return false
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

// move transitions to next unless the current state is already terminal
func (b *stateBox) move(next State) bool {
	for {
		cur := b.v.Load()
		if State(cur).Terminal() {
			return false
		}
		if b.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
