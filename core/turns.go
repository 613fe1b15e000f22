package orchestration

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleMachine Role = "machine"
)

// ConversationTurn is one finished turn of the current session.
type ConversationTurn struct {
	ID         string
	Role       Role
	Text       string
	ResponseID string
	StartedAt  time.Time
	EndedAt    time.Time
	// Interrupted is set on machine turns cut off by barge-in.
	Interrupted bool
	// Segments is the number of audio segments played for a machine turn.
	Segments int
}

// history is only touched from the event loop, snapshots are copied out
// under the orchestrator's mutex.
type history struct {
	turns []ConversationTurn
}

func (h *history) reset() { h.turns = nil }

func (h *history) appendUser(text string, startedAt, endedAt time.Time) {
	h.turns = append(h.turns, ConversationTurn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	})
}

func (h *history) appendMachine(responseID string, segments int, interrupted bool, startedAt, endedAt time.Time) {
	h.turns = append(h.turns, ConversationTurn{
		ID:          uuid.NewString(),
		Role:        RoleMachine,
		ResponseID:  responseID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Interrupted: interrupted,
		Segments:    segments,
	})
}

func (h *history) snapshot() []ConversationTurn {
	turns := make([]ConversationTurn, len(h.turns))
	copy(turns, h.turns)
	return turns
}
