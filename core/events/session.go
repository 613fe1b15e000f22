package events

const (
	KindSessionStateChanged Kind = "session.state_changed"
	KindSessionResponse     Kind = "session.response"
)

// SessionStateChanged reports a streaming session client transition.
type SessionStateChanged struct {
	Base
	SessionID string
	State     string
}

func NewSessionStateChanged(sessionID, state string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), SessionID: sessionID, State: state}
}

// SessionResponse reports remote response lifecycle milestones such as
// created and done.
type SessionResponse struct {
	Base
	ResponseID string
	Phase      string
}

func NewSessionResponse(responseID, phase string) SessionResponse {
	return SessionResponse{Base: NewBase(KindSessionResponse), ResponseID: responseID, Phase: phase}
}
