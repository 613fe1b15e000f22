package events

const (
	KindTurnStateChanged Kind = "turn_state.changed"
	KindTurnSubmitted    Kind = "turn_state.submitted"
	KindTurnBargeIn      Kind = "turn_state.barge_in"
	KindTurnCompleted    Kind = "turn_state.completed"
)

// TurnStateChanged reports a turn controller transition. States are the
// controller's state names.
type TurnStateChanged struct {
	Base
	From string
	To   string
}

func NewTurnStateChanged(from, to string) TurnStateChanged {
	return TurnStateChanged{Base: NewBase(KindTurnStateChanged), From: from, To: to}
}

// TurnSubmitted carries the user text sent to the remote service.
type TurnSubmitted struct {
	Base
	Text string
}

func NewTurnSubmitted(text string) TurnSubmitted {
	return TurnSubmitted{Base: NewBase(KindTurnSubmitted), Text: text}
}

// TurnBargeIn marks the user taking the turn over from the machine.
// DroppedSegments counts the queued audio discarded with it.
type TurnBargeIn struct {
	Base
	ResponseID      string
	DroppedSegments int
}

func NewTurnBargeIn(responseID string, droppedSegments int) TurnBargeIn {
	return TurnBargeIn{Base: NewBase(KindTurnBargeIn), ResponseID: responseID, DroppedSegments: droppedSegments}
}

// TurnCompleted marks the machine turn ending without interruption.
type TurnCompleted struct {
	Base
	ResponseID string
}

func NewTurnCompleted(responseID string) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), ResponseID: responseID}
}
