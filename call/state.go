package call

// State of a call.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Active reports whether a call in this state holds the microphone.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// transitions lists the legal moves; any state may return to idle.
var transitions = map[State][]State{
	StateIdle:         {StateConnecting},
	StateConnecting:   {StateConnected, StateError},
	StateConnected:    {StateDisconnected, StateError},
	StateDisconnected: {},
	StateError:        {},
}

func canTransition(from, to State) bool {
	if to == StateIdle {
		return from != StateIdle
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
