package events

import "time"

const (
	// KindUserSpeechStarted identifies start of user speech activity.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserSpeechEnded identifies end of user speech activity.
	KindUserSpeechEnded Kind = "user_input.speech_ended"
	// KindUserTranscriptInterimUpdated identifies mutable interim full transcript updates.
	KindUserTranscriptInterimUpdated Kind = "user_input.transcript_interim_updated"
	// KindUserTranscriptFinal identifies a finalized transcript piece.
	KindUserTranscriptFinal Kind = "user_input.transcript_final"
	// KindUserSilenceDetected identifies the end-of-turn silence threshold being reached.
	KindUserSilenceDetected Kind = "user_input.silence_detected"
	// KindUserInterruptionNeeded identifies a machine-initiated turn opportunity.
	KindUserInterruptionNeeded Kind = "user_input.interruption_needed"
)

// UserSpeechStarted marks when user speech activity starts.
type UserSpeechStarted struct{ Base }

// NewUserSpeechStarted creates a user speech started event.
func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

// UserSpeechEnded marks when user speech activity ends.
type UserSpeechEnded struct{ Base }

// NewUserSpeechEnded creates a user speech ended event.
func NewUserSpeechEnded() UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded)}
}

// UserTranscriptInterimUpdated carries the mutable interim full transcript snapshot.
type UserTranscriptInterimUpdated struct {
	Base
	Transcript string
}

// NewUserTranscriptInterimUpdated creates an interim transcript snapshot update event.
func NewUserTranscriptInterimUpdated(transcript string) UserTranscriptInterimUpdated {
	return UserTranscriptInterimUpdated{Base: NewBase(KindUserTranscriptInterimUpdated), Transcript: transcript}
}

// UserTranscriptFinal carries a finalized transcript piece and the buffer
// accumulated for the current user turn so far.
type UserTranscriptFinal struct {
	Base
	Transcript string
	Buffer     string
}

// NewUserTranscriptFinal creates a final transcript event.
func NewUserTranscriptFinal(transcript, buffer string) UserTranscriptFinal {
	return UserTranscriptFinal{Base: NewBase(KindUserTranscriptFinal), Transcript: transcript, Buffer: buffer}
}

// UserSilenceDetected marks that the user stayed silent past the threshold.
type UserSilenceDetected struct {
	Base
	Silence time.Duration
}

// NewUserSilenceDetected creates a silence detected event.
func NewUserSilenceDetected(silence time.Duration) UserSilenceDetected {
	return UserSilenceDetected{Base: NewBase(KindUserSilenceDetected), Silence: silence}
}

// UserInterruptionNeeded marks that the silence outlasted the interruption
// threshold and the machine may take the turn.
type UserInterruptionNeeded struct{ Base }

// NewUserInterruptionNeeded creates an interruption needed event.
func NewUserInterruptionNeeded() UserInterruptionNeeded {
	return UserInterruptionNeeded{Base: NewBase(KindUserInterruptionNeeded)}
}
