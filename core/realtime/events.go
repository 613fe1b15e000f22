package realtime

import "github.com/koscakluka/ema-voice/core/playback"

// EventKind classifies inbound messages for the rest of the engine.
type EventKind int

const (
	EventInterimTranscript EventKind = iota
	EventFinalTranscript
	EventAudioSegment
	// EventResponseComplete marks the end of a response's audio.
	EventResponseComplete
	EventError
	EventConnectionClosed
	EventSpeechStarted
	EventSpeechStopped
	EventResponseCreated
	// EventResponseDone marks the end of a response, with or without audio.
	EventResponseDone
)

func (k EventKind) String() string {
	switch k {
	case EventInterimTranscript:
		return "interim-transcript"
	case EventFinalTranscript:
		return "final-transcript"
	case EventAudioSegment:
		return "audio-segment"
	case EventResponseComplete:
		return "response-complete"
	case EventError:
		return "error"
	case EventConnectionClosed:
		return "connection-closed"
	case EventSpeechStarted:
		return "speech-started"
	case EventSpeechStopped:
		return "speech-stopped"
	case EventResponseCreated:
		return "response-created"
	case EventResponseDone:
		return "response-done"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind       EventKind
	SessionID  string
	Text       string
	ResponseID string
	Segment    playback.Segment
	// Err is set for EventError, and for EventConnectionClosed when the
	// connection was lost rather than closed.
	Err error
}
