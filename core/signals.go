package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/vad"
)

// SignalSink receives turn-detection signals. Implementations must not
// block; every method may be called from any goroutine.
type SignalSink interface {
	// TranscriptActivity reports interim (final=false) or final transcript text.
	TranscriptActivity(text string, final bool)
	SpeechStarted()
	SpeechEnded()
	// Failure reports that the source can no longer produce signals.
	Failure(err error)
}

// TurnSignalSource drives the turn controller without the controller
// knowing where the signals come from.
type TurnSignalSource interface {
	Name() string
	Start(ctx context.Context, sink SignalSink) error
	Stop() error
}

// FrameConsumer is implemented by sources that listen to captured audio.
type FrameConsumer interface {
	ConsumeFrame(frame audio.Frame)
}

// SessionEventConsumer is implemented by sources that listen to the remote
// session's events.
type SessionEventConsumer interface {
	ConsumeSessionEvent(event realtime.Event)
}

// transcriptRelay forwards session transcripts to a sink. Transcripts that
// arrive after speech already stopped are followed by a fresh speech end so
// the silence timer covers them.
type transcriptRelay struct {
	mu       sync.Mutex
	sink     SignalSink
	speaking bool
}

func (r *transcriptRelay) reset(sink SignalSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	r.speaking = false
}

func (r *transcriptRelay) setSpeaking(speaking bool) (SignalSink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := r.speaking != speaking
	r.speaking = speaking
	return r.sink, changed
}

func (r *transcriptRelay) transcript(text string, final bool) {
	r.mu.Lock()
	sink, speaking := r.sink, r.speaking
	r.mu.Unlock()
	if sink == nil {
		return
	}

	sink.TranscriptActivity(text, final)
	if !speaking {
		sink.SpeechEnded()
	}
}

// RemoteVADSource takes turn signals from the remote service's own voice
// activity detection and transcription.
type RemoteVADSource struct {
	relay transcriptRelay
}

func NewRemoteVADSource() *RemoteVADSource { return &RemoteVADSource{} }

func (s *RemoteVADSource) Name() string { return "remote-vad" }

func (s *RemoteVADSource) Start(_ context.Context, sink SignalSink) error {
	s.relay.reset(sink)
	return nil
}

func (s *RemoteVADSource) Stop() error {
	s.relay.reset(nil)
	return nil
}

func (s *RemoteVADSource) ConsumeSessionEvent(event realtime.Event) {
	switch event.Kind {
	case realtime.EventSpeechStarted:
		if sink, _ := s.relay.setSpeaking(true); sink != nil {
			sink.SpeechStarted()
		}
	case realtime.EventSpeechStopped:
		if sink, changed := s.relay.setSpeaking(false); sink != nil && changed {
			sink.SpeechEnded()
		}
	case realtime.EventInterimTranscript:
		s.relay.transcript(event.Text, false)
	case realtime.EventFinalTranscript:
		s.relay.transcript(event.Text, true)
	}
}

// EnergySource detects speech locally from frame energy and takes the
// transcript text from the remote session.
type EnergySource struct {
	detectorMu sync.Mutex
	detector   *vad.EnergyDetector
	relay      transcriptRelay
}

func NewEnergySource(detector *vad.EnergyDetector) *EnergySource {
	if detector == nil {
		detector = vad.NewEnergyDetector()
	}
	return &EnergySource{detector: detector}
}

func (s *EnergySource) Name() string { return "energy" }

func (s *EnergySource) Start(_ context.Context, sink SignalSink) error {
	s.detectorMu.Lock()
	s.detector.Reset()
	s.detectorMu.Unlock()
	s.relay.reset(sink)
	return nil
}

func (s *EnergySource) Stop() error {
	s.relay.reset(nil)
	return nil
}

func (s *EnergySource) ConsumeFrame(frame audio.Frame) {
	s.detectorMu.Lock()
	edge := s.detector.Observe(frame)
	s.detectorMu.Unlock()

	switch edge {
	case vad.EdgeSpeechStarted:
		if sink, _ := s.relay.setSpeaking(true); sink != nil {
			sink.SpeechStarted()
		}
	case vad.EdgeSpeechEnded:
		if sink, changed := s.relay.setSpeaking(false); sink != nil && changed {
			sink.SpeechEnded()
		}
	}
}

func (s *EnergySource) ConsumeSessionEvent(event realtime.Event) {
	switch event.Kind {
	case realtime.EventInterimTranscript:
		s.relay.transcript(event.Text, false)
	case realtime.EventFinalTranscript:
		s.relay.transcript(event.Text, true)
	}
}

const (
	defaultRecognizerRestartDelay = 250 * time.Millisecond
)

// RecognizerSource takes turn signals from a local streaming recognizer.
// A transient recognizer failure is recovered by reopening the stream after
// a short delay, at most once per second, and is never reported.
type RecognizerSource struct {
	recognizer   speechtotext.Recognizer
	encoding     audio.EncodingInfo
	restartDelay time.Duration
	limiter      *rate.Limiter

	mu      sync.Mutex
	ctx     context.Context
	sink    SignalSink
	running bool
}

type RecognizerSourceOption func(*RecognizerSource)

func WithRecognizerEncoding(encoding audio.EncodingInfo) RecognizerSourceOption {
	return func(s *RecognizerSource) { s.encoding = encoding }
}

func WithRecognizerRestartDelay(delay time.Duration) RecognizerSourceOption {
	return func(s *RecognizerSource) { s.restartDelay = delay }
}

func NewRecognizerSource(recognizer speechtotext.Recognizer, opts ...RecognizerSourceOption) *RecognizerSource {
	s := &RecognizerSource{
		recognizer:   recognizer,
		encoding:     audio.GetDefaultEncodingInfo(),
		restartDelay: defaultRecognizerRestartDelay,
		limiter:      rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RecognizerSource) Name() string { return "local-recognizer" }

func (s *RecognizerSource) Start(ctx context.Context, sink SignalSink) error {
	s.mu.Lock()
	s.ctx = ctx
	s.sink = sink
	s.running = true
	s.mu.Unlock()

	if err := s.transcribe(ctx, sink); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to start recognizer: %w", err)
	}
	return nil
}

func (s *RecognizerSource) Stop() error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.sink = nil
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}
	return s.recognizer.Close()
}

func (s *RecognizerSource) ConsumeFrame(frame audio.Frame) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	if err := s.recognizer.SendAudio(frame.Data); err != nil && !errors.Is(err, speechtotext.ErrNotStarted) {
		logger.Debug("failed to send audio to recognizer", "error", err)
	}
}

func (s *RecognizerSource) transcribe(ctx context.Context, sink SignalSink) error {
	return s.recognizer.Transcribe(ctx,
		speechtotext.WithEncodingInfo(s.encoding),
		speechtotext.WithSpeechStartedCallback(sink.SpeechStarted),
		speechtotext.WithSpeechEndedCallback(sink.SpeechEnded),
		speechtotext.WithInterimTranscriptionCallback(func(transcript string) {
			sink.TranscriptActivity(transcript, false)
		}),
		speechtotext.WithPartialTranscriptionCallback(func(transcript string) {
			sink.TranscriptActivity(transcript, true)
		}),
		speechtotext.WithErrorCallback(s.handleError),
	)
}

func (s *RecognizerSource) handleError(err error) {
	s.mu.Lock()
	ctx, sink, running := s.ctx, s.sink, s.running
	s.mu.Unlock()
	if !running || sink == nil {
		return
	}

	if !speechtotext.IsTransient(err) {
		sink.Failure(err)
		return
	}

	delay := max(s.restartDelay, s.limiter.Reserve().Delay())

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		stillRunning := s.running && s.sink == sink
		s.mu.Unlock()
		if !stillRunning {
			return
		}

		logger.Info("restarting recognizer after transient error", "error", err)
		if restartErr := s.transcribe(ctx, sink); restartErr != nil {
			sink.Failure(fmt.Errorf("failed to restart recognizer: %w", restartErr))
		}
	}()
}
