package realtime

import "encoding/json"

// Outbound message types.
const (
	typeSessionUpdate          = "session.update"
	typeInputAudioBufferAppend = "input_audio_buffer.append"
	typeConversationItemCreate = "conversation.item.create"
	typeResponseCreate         = "response.create"
	typeResponseCancel         = "response.cancel"
)

// Inbound message types.
const (
	typeError                  = "error"
	typeSessionCreated         = "session.created"
	typeSessionUpdated         = "session.updated"
	typeSpeechStarted          = "input_audio_buffer.speech_started"
	typeSpeechStopped          = "input_audio_buffer.speech_stopped"
	typeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	typeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	typeTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"
	typeResponseCreated        = "response.created"
	typeResponseAudioDelta     = "response.audio.delta"
	typeResponseAudioDone      = "response.audio.done"
	typeResponseDone           = "response.done"
)

type clientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

type sessionUpdateEvent struct {
	clientEvent
	Session wireSessionConfig `json:"session"`
}

// wireSessionConfig always sends turn_detection, null disables server VAD.
type wireSessionConfig struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *wireTranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *wireTurnDetection       `json:"turn_detection"`
	MaxResponseOutputTokens any                      `json:"max_response_output_tokens,omitempty"`
}

type wireTranscriptionConfig struct {
	Model string `json:"model"`
}

type wireTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

type inputAudioBufferAppendEvent struct {
	clientEvent
	Audio string `json:"audio"`
}

type conversationItemCreateEvent struct {
	clientEvent
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string                `json:"type"`
	Role    string                `json:"role,omitempty"`
	Content []conversationContent `json:"content,omitempty"`
}

type conversationContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responseCreateEvent struct {
	clientEvent
	Response *responseConfig `json:"response,omitempty"`
}

type responseConfig struct {
	Modalities []string `json:"modalities,omitempty"`
}

type responseCancelEvent struct {
	clientEvent
	ResponseID string `json:"response_id,omitempty"`
}

type serverEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

type errorEvent struct {
	serverEvent
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sessionCreatedEvent struct {
	serverEvent
	Session struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
}

type transcriptionDeltaEvent struct {
	serverEvent
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type transcriptionCompletedEvent struct {
	serverEvent
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type responseCreatedEvent struct {
	serverEvent
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

type responseAudioDeltaEvent struct {
	serverEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type responseAudioDoneEvent struct {
	serverEvent
	ResponseID string `json:"response_id"`
}

type responseDoneEvent struct {
	serverEvent
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

// parseServerEvent decodes a raw message into its typed form. Unknown types
// decode to *serverEvent.
func parseServerEvent(data []byte) (any, error) {
	var base serverEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	decode := func(event any) (any, error) { return event, json.Unmarshal(data, event) }

	switch base.Type {
	case typeError:
		return decode(&errorEvent{})
	case typeSessionCreated:
		return decode(&sessionCreatedEvent{})
	case typeTranscriptionDelta:
		return decode(&transcriptionDeltaEvent{})
	case typeTranscriptionCompleted:
		return decode(&transcriptionCompletedEvent{})
	case typeResponseCreated:
		return decode(&responseCreatedEvent{})
	case typeResponseAudioDelta:
		return decode(&responseAudioDeltaEvent{})
	case typeResponseAudioDone:
		return decode(&responseAudioDoneEvent{})
	case typeResponseDone:
		return decode(&responseDoneEvent{})
	default:
		return &base, nil
	}
}
