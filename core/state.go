package orchestration

// TurnState is the turn controller's position in the conversation.
type TurnState int

const (
	StateIdle TurnState = iota
	StateListening
	StateUserSpeaking
	StateAwaitingResponse
	StateMachineSpeaking
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateUserSpeaking:
		return "user-speaking"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateMachineSpeaking:
		return "machine-speaking"
	default:
		return "unknown"
	}
}

// machineHoldsTurn reports whether user activity in this state is a barge-in.
func (s TurnState) machineHoldsTurn() bool {
	return s == StateAwaitingResponse || s == StateMachineSpeaking
}
