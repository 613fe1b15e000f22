package realtime

import (
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-voice/core/audio"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canConnect reports whether Connect may be called from s.
func (s State) canConnect() bool {
	return s == StateIdle || s == StateClosed || s == StateFailed
}

type TurnDetection struct {
	// Enabled turns on server side voice activity detection.
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Threshold         float64       `yaml:"threshold" json:"threshold"`
	PrefixPadding     time.Duration `yaml:"prefix_padding" json:"prefix_padding"`
	SilenceDuration   time.Duration `yaml:"silence_duration" json:"silence_duration"`
	CreateResponse    bool          `yaml:"create_response" json:"create_response"`
	InterruptResponse bool          `yaml:"interrupt_response" json:"interrupt_response"`
}

type SessionConfig struct {
	Model              string        `yaml:"model" json:"model"`
	Instructions       string        `yaml:"instructions" json:"instructions,omitempty"`
	Voice              string        `yaml:"voice" json:"voice,omitempty"`
	// SampleRate is fixed by the pcm16 wire format at 24 kHz; it is not sent
	// in session.update.
	SampleRate         int           `yaml:"sample_rate" json:"sample_rate"`
	Modalities         []string      `yaml:"modalities" json:"modalities"`
	TranscriptionModel string        `yaml:"transcription_model" json:"transcription_model"`
	MaxResponseTokens  int           `yaml:"max_response_tokens" json:"max_response_tokens,omitempty"`
	TurnDetection      TurnDetection `yaml:"turn_detection" json:"turn_detection"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:              "gpt-4o-realtime-preview",
		Voice:              "alloy",
		SampleRate:         audio.DefaultSampleRate,
		Modalities:         []string{"audio", "text"},
		TranscriptionModel: "whisper-1",
		TurnDetection: TurnDetection{
			Enabled:         true,
			Threshold:       0.5,
			PrefixPadding:   300 * time.Millisecond,
			SilenceDuration: 500 * time.Millisecond,
		},
	}
}

// WireSampleRate is the only rate pcm16 audio is exchanged at.
const WireSampleRate = 24000

func (c SessionConfig) Validate() error {
	if c.SampleRate != WireSampleRate {
		return fmt.Errorf("%w: %d Hz, pcm16 sessions run at %d Hz", ErrUnsupportedSampleRate, c.SampleRate, WireSampleRate)
	}
	return nil
}

func (c SessionConfig) wire() wireSessionConfig {
	config := wireSessionConfig{
		Modalities:        c.Modalities,
		Instructions:      c.Instructions,
		Voice:             c.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if c.TranscriptionModel != "" {
		config.InputAudioTranscription = &wireTranscriptionConfig{Model: c.TranscriptionModel}
	}
	if c.TurnDetection.Enabled {
		config.TurnDetection = &wireTurnDetection{
			Type:              "server_vad",
			Threshold:         c.TurnDetection.Threshold,
			PrefixPaddingMs:   int(c.TurnDetection.PrefixPadding.Milliseconds()),
			SilenceDurationMs: int(c.TurnDetection.SilenceDuration.Milliseconds()),
			CreateResponse:    c.TurnDetection.CreateResponse,
			InterruptResponse: c.TurnDetection.InterruptResponse,
		}
	}
	if c.MaxResponseTokens > 0 {
		config.MaxResponseOutputTokens = c.MaxResponseTokens
	}
	return config
}

// Session is one live connection instance. A new Session is created by
// every successful Connect; nothing carries over from the previous one.
type Session struct {
	ID        string
	ServiceID string
	Model     string
	Config    SessionConfig
	CreatedAt time.Time
}

func newSession(id, serviceID, model string, config SessionConfig, createdAt time.Time) (*Session, error) {
	session := &Session{ID: id, ServiceID: serviceID, Model: model, CreatedAt: createdAt}
	if err := copier.CopyWithOption(&session.Config, &config, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy session config: %w", err)
	}
	return session, nil
}
