package encoder

// State is the lifecycle state of the encoder session.
type State int

// Session states.
const (
	StateUninitialized State = iota // no session yet
	StateReady                      // created and prepared, no frame submitted
	StateEncoding                   // at least one frame submitted
	StateDraining                   // completing in-flight frames
	StateClosed                     // invalidated or failed to create
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateEncoding:
		return "encoding"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// canTransition lists the legal state machine edges.
func (s State) canTransition(to State) bool {
	switch s {
	case StateUninitialized:
		return to == StateReady || to == StateClosed
	case StateReady:
		return to == StateEncoding || to == StateDraining
	case StateEncoding:
		return to == StateDraining
	case StateDraining:
		return to == StateClosed
	}
	return false
}
