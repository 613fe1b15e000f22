package events

const (
	// KindAssistantPlaybackStarted identifies playback start for the current response.
	KindAssistantPlaybackStarted Kind = "assistant_playback.started"
	// KindAssistantPlaybackSegmentPlayed identifies a segment that finished playing.
	KindAssistantPlaybackSegmentPlayed Kind = "assistant_playback.segment_played"
	// KindAssistantPlaybackEnded identifies the playback completion milestone.
	KindAssistantPlaybackEnded Kind = "assistant_playback.ended"
)

// AssistantPlaybackStarted marks the start of assistant playback.
type AssistantPlaybackStarted struct {
	Base
	ResponseID string
}

// NewAssistantPlaybackStarted creates an assistant playback started event.
func NewAssistantPlaybackStarted(responseID string) AssistantPlaybackStarted {
	return AssistantPlaybackStarted{Base: NewBase(KindAssistantPlaybackStarted), ResponseID: responseID}
}

// AssistantPlaybackSegmentPlayed marks a segment as fully played.
type AssistantPlaybackSegmentPlayed struct {
	Base
	ResponseID string
	Sequence   int
}

// NewAssistantPlaybackSegmentPlayed creates a segment played event.
func NewAssistantPlaybackSegmentPlayed(responseID string, sequence int) AssistantPlaybackSegmentPlayed {
	return AssistantPlaybackSegmentPlayed{Base: NewBase(KindAssistantPlaybackSegmentPlayed), ResponseID: responseID, Sequence: sequence}
}

// AssistantPlaybackEnded marks the end of assistant playback. Interrupted
// is set when the queue was cleared rather than drained.
type AssistantPlaybackEnded struct {
	Base
	Interrupted bool
}

// NewAssistantPlaybackEnded creates an assistant playback ended event.
func NewAssistantPlaybackEnded(interrupted bool) AssistantPlaybackEnded {
	return AssistantPlaybackEnded{Base: NewBase(KindAssistantPlaybackEnded), Interrupted: interrupted}
}
