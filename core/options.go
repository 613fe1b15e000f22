package orchestration

import (
	"context"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/capture"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/permission"
	"github.com/koscakluka/ema-voice/core/playback"
	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/vad"
)

const (
	defaultMinUtteranceLength = 2
)

type OrchestratorOption func(*Orchestrator)

// SessionClient is the streaming session the controller talks to. Clients
// not built by the orchestrator must forward their events to
// HandleSessionEvent.
type SessionClient interface {
	Connect(ctx context.Context, config realtime.SessionConfig) error
	SendAudioFrame(frame audio.Frame) error
	SendText(text string) error
	RequestResponse() error
	CancelResponse() error
	Close(ctx context.Context) error
	State() realtime.State
	Session() *realtime.Session
}

// WithRealtimeOptions configures the realtime client the orchestrator
// builds when no SessionClient is given.
func WithRealtimeOptions(opts ...realtime.Option) OrchestratorOption {
	return func(o *Orchestrator) { o.realtimeOptions = append(o.realtimeOptions, opts...) }
}

func WithSessionClient(client SessionClient) OrchestratorOption {
	return func(o *Orchestrator) { o.session = client }
}

func WithSessionConfig(config realtime.SessionConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.sessionConfig = config }
}

func WithAudioDevice(device capture.Device) OrchestratorOption {
	return func(o *Orchestrator) { o.device = device }
}

func WithPermissionProvider(provider permission.Provider) OrchestratorOption {
	return func(o *Orchestrator) { o.permissions = provider }
}

func WithAudioPlayer(player playback.Player) OrchestratorOption {
	return func(o *Orchestrator) { o.player = player }
}

func WithTurnSignalSource(source TurnSignalSource) OrchestratorOption {
	return func(o *Orchestrator) { o.signalSource = source }
}

func WithTrackerConfig(config vad.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.trackerConfig = config }
}

// WithClock replaces the clock behind the silence and interruption timers.
func WithClock(clock vad.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithMinUtteranceLength sets how many characters the trimmed transcript
// needs before a turn is submitted.
func WithMinUtteranceLength(length int) OrchestratorOption {
	return func(o *Orchestrator) { o.minUtteranceLength = length }
}

// WithFrameSize sets the capture frame size in samples.
func WithFrameSize(samples int) OrchestratorOption {
	return func(o *Orchestrator) { o.frameSize = samples }
}

// WithProactiveContinuation lets the controller ask for a response on its
// own when the user stays silent past the interruption threshold.
func WithProactiveContinuation(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) { o.proactiveContinuation = enabled }
}

// WithEventHandler receives every engine event on the controller's
// goroutine. It must not block.
func WithEventHandler(handler func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) { o.eventHandler = handler }
}

func WithStateChangedCallback(callback func(from, to TurnState)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onStateChanged = callback }
}

func WithInterimTranscriptionCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onInterimTranscription = callback }
}

func WithTranscriptionCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onTranscription = callback }
}

func WithTurnSubmittedCallback(callback func(text string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onTurnSubmitted = callback }
}

func WithErrorCallback(callback func(err error)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onError = callback }
}

// WithInputAudioCallback is called from the capture goroutine for every
// frame forwarded to the session.
func WithInputAudioCallback(callback func(frame audio.Frame)) OrchestratorOption {
	return func(o *Orchestrator) { o.onInputAudio = callback }
}
