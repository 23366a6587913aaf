package profilesync

import "sync/atomic"

// State is the process-wide token validity state.
type State int32

const (
	StateUninitialized State = iota
	// StateInvalid is terminal until the process restarts.
	StateInvalid
	StateValid
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInvalid:
		return "invalid"
	case StateValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Gate guards discovery and refresh on the outcome of token validation.
type Gate struct {
	state atomic.Int32
}

func (g *Gate) State() State {
	return State(g.state.Load())
}

func (g *Gate) Valid() bool {
	return g.State() == StateValid
}

// resolve moves the gate out of StateUninitialized. Later calls are ignored.
func (g *Gate) resolve(valid bool) State {
	next := StateInvalid
	if valid {
		next = StateValid
	}
	g.state.CompareAndSwap(int32(StateUninitialized), int32(next))
	return g.State()
}
