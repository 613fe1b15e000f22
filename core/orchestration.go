package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/capture"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/permission"
	"github.com/koscakluka/ema-voice/core/playback"
	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/vad"
)

var (
	ErrAlreadyStarted = errors.New("orchestrator already started")
	ErrNotStarted     = errors.New("orchestrator not started")
	ErrClosed         = errors.New("orchestrator closed")
	ErrNoAudioDevice  = errors.New("no audio device configured")
)

const sessionCloseTimeout = 5 * time.Second

// Orchestrator is the turn controller. It owns the capturer, the session
// client and the playback queue and decides who holds the turn.
//
// Every input is handled on one event loop goroutine. Start, Stop and
// InterruptNow must not be called from an event handler.
type Orchestrator struct {
	session               SessionClient
	realtimeOptions       []realtime.Option
	sessionConfig         realtime.SessionConfig
	device                capture.Device
	permissions           permission.Provider
	player                playback.Player
	signalSource          TurnSignalSource
	trackerConfig         vad.Config
	clock                 vad.Clock
	minUtteranceLength    int
	frameSize             int
	proactiveContinuation bool
	eventHandler          func(events.Event)
	callbacks             callbackOptions
	onInputAudio          func(audio.Frame)

	loop     *eventLoop
	emit     eventEmitter
	capturer *capture.Capturer
	queue    *playback.Queue

	closeOnce   sync.Once
	lifecycleMu sync.Mutex
	run         *run
	nextRunID   atomic.Uint64

	mu      sync.RWMutex
	state   TurnState
	err     error
	history history

	// Owned by the event loop.
	runID             uint64
	runCtx            context.Context
	tracker           *vad.Tracker
	transcript        []string
	userTurnStartedAt time.Time
	response          responseState
}

type run struct {
	id       uint64
	cancel   context.CancelFunc
	pumpDone chan struct{}
	// inputReleased is set once capture and the signal source are stopped.
	// Guarded by lifecycleMu.
	inputReleased bool
}

type responseState struct {
	id        string
	complete  bool
	segments  int
	startedAt time.Time
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		sessionConfig:      realtime.DefaultSessionConfig(),
		trackerConfig:      vad.DefaultConfig(),
		clock:              vad.RealClock(),
		minUtteranceLength: defaultMinUtteranceLength,
		loop:               newEventLoop(),
		emit:               noopEventEmitter,
		runCtx:             context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.session == nil {
		o.session = realtime.NewClient(append(o.realtimeOptions,
			realtime.WithEventHandler(o.HandleSessionEvent),
			realtime.WithStateCallback(o.handleSessionStateChanged),
		)...)
	}
	if o.permissions == nil {
		o.permissions = permission.NewStatic(true)
	}
	if o.signalSource == nil {
		o.signalSource = NewRemoteVADSource()
	}
	if o.device != nil {
		o.capturer = capture.New(o.device, o.permissions, capture.WithErrorCallback(o.handleDeviceError))
	}
	if o.player == nil {
		o.player = playback.DiscardPlayer{Encoding: o.encoding()}
	}

	o.queue = playback.New(o.player,
		playback.WithPlayingCallback(func(isPlaying bool) {
			o.loop.post(func() { o.handlePlayingChanged(isPlaying) })
		}),
		playback.WithSegmentFinishedCallback(func(segment playback.Segment) {
			o.loop.post(func() { o.handleSegmentPlayed(segment) })
		}),
		playback.WithDrainedCallback(func() {
			o.loop.post(o.handlePlaybackDrained)
		}),
	)

	emitters := []eventEmitter{newCallbackEventEmitter(o.callbacks)}
	if o.eventHandler != nil {
		emitters = append([]eventEmitter{o.eventHandler}, emitters...)
	}
	o.emit = chainEmitters(emitters...)

	o.loop.start()
	return o
}

func (o *Orchestrator) encoding() audio.EncodingInfo {
	encoding := audio.GetDefaultEncodingInfo()
	if o.sessionConfig.SampleRate > 0 {
		encoding.SampleRate = o.sessionConfig.SampleRate
	}
	return encoding
}

// Start opens a session and begins listening. ctx is the base context of
// the session: cancelling it stops the orchestrator.
//
// Start requires microphone permission and fails with
// permission.ErrPermissionDenied when it is refused.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "start turn controller")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if o.loop.isClosed() {
		return ErrClosed
	}
	if o.capturer == nil {
		return ErrNoAudioDevice
	}

	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.run != nil {
		if o.State() != StateIdle {
			return ErrAlreadyStarted
		}
		// A failed run can still hold an open session.
		if err := o.teardown(ctx, o.run); err != nil {
			logger.Warn("failed to tear down failed run", "error", err)
		}
	}

	if !o.permissions.HasPermission() {
		granted, err := o.permissions.RequestMicrophonePermission(ctx)
		if err != nil {
			return fmt.Errorf("failed to request microphone permission: %w", err)
		}
		if !granted {
			return permission.ErrPermissionDenied
		}
	}

	r := &run{id: o.nextRunID.Add(1), pumpDone: make(chan struct{})}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	tracker, err := vad.NewTracker(o.trackerConfig,
		vad.WithClock(o.clock),
		vad.WithDispatcher(func(f func()) { o.loop.post(f) }),
		vad.WithSpeechStartedCallback(func() { o.emit(events.NewUserSpeechStarted()) }),
		vad.WithSpeechEndedCallback(func() { o.emit(events.NewUserSpeechEnded()) }),
		vad.WithSilenceDetectedCallback(func(silence time.Duration) { o.guarded(r.id, func() { o.handleSilenceDetected(silence) }) }),
		vad.WithInterruptionNeededCallback(func() { o.guarded(r.id, o.handleInterruptionNeeded) }),
	)
	if err != nil {
		cancel()
		return err
	}

	o.loop.flush(func() {
		o.runID = r.id
		o.runCtx = runCtx
		o.tracker = tracker
		o.transcript = nil
		o.response = responseState{}

		o.mu.Lock()
		o.err = nil
		o.history.reset()
		o.mu.Unlock()
	})

	if err := o.session.Connect(runCtx, o.sessionConfig); err != nil {
		cancel()
		return fmt.Errorf("failed to open session: %w", err)
	}

	frameSize := o.frameSize
	if frameSize <= 0 {
		frameSize = o.encoding().SampleRate / 50
	}
	frames, err := o.capturer.StartCapture(runCtx, o.encoding().SampleRate, frameSize)
	if err != nil {
		o.closeSession()
		cancel()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	if err := o.signalSource.Start(runCtx, signalSink{o: o, runID: r.id}); err != nil {
		_ = o.capturer.StopCapture()
		o.closeSession()
		cancel()
		return fmt.Errorf("failed to start %s signal source: %w", o.signalSource.Name(), err)
	}

	o.run = r
	go o.pumpFrames(r, frames)
	go func() {
		<-runCtx.Done()
		o.stopRun(r.id)
	}()

	o.loop.flush(func() { o.transition(StateListening) })

	span.SetAttributes(
		attribute.String("turn.signal_source", o.signalSource.Name()),
		attribute.Int("audio.frame_size", frameSize),
	)
	logger.Info("turn controller started", "signal_source", o.signalSource.Name())
	return nil
}

// Stop tears the session down and returns to idle. Stopping an idle
// orchestrator is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.run == nil {
		return nil
	}
	return o.teardown(ctx, o.run)
}

// InterruptNow cuts the machine off as if the user had barged in and goes
// back to listening.
func (o *Orchestrator) InterruptNow() error {
	var err error
	if !o.loop.flush(func() {
		if o.state == StateIdle {
			err = ErrNotStarted
			return
		}
		if !o.state.machineHoldsTurn() {
			return
		}

		o.bargeIn()
		o.tracker.Reset()
		o.transition(StateListening)
	}) {
		return ErrClosed
	}
	return err
}

// Close stops the orchestrator for good.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if err := o.Stop(context.Background()); err != nil {
			logger.Warn("failed to stop turn controller", "error", err)
		}
		o.queue.Close()
		o.loop.end()
		o.loop.waitUntilEnded()
	})
}

func (o *Orchestrator) State() TurnState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Err is the failure that last forced the orchestrator back to idle.
func (o *Orchestrator) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.err
}

// History returns the finished turns of the current or last session.
func (o *Orchestrator) History() []ConversationTurn {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.history.snapshot()
}

func (o *Orchestrator) Session() *realtime.Session {
	return o.session.Session()
}

func (o *Orchestrator) FramesDropped() uint64 {
	if o.capturer == nil {
		return 0
	}
	return o.capturer.FramesDropped()
}

// HandleSessionEvent feeds a session client event into the controller.
func (o *Orchestrator) HandleSessionEvent(event realtime.Event) {
	o.loop.post(func() { o.handleSessionEvent(event) })
}

func (o *Orchestrator) handleSessionStateChanged(state realtime.State) {
	o.loop.post(func() {
		sessionID := ""
		if session := o.session.Session(); session != nil {
			sessionID = session.ID
		}
		o.emit(events.NewSessionStateChanged(sessionID, state.String()))
	})
}

func (o *Orchestrator) handleDeviceError(err error) {
	o.loop.post(func() { o.failInput(err) })
}

// guarded runs f only while the run it belongs to is current. It must be
// called on the event loop.
func (o *Orchestrator) guarded(runID uint64, f func()) {
	if o.runID != runID || o.state == StateIdle {
		return
	}
	f()
}

func (o *Orchestrator) stopRun(runID uint64) {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.run == nil || o.run.id != runID {
		return
	}
	if err := o.teardown(context.Background(), o.run); err != nil {
		logger.Warn("failed to tear down turn controller", "error", err)
	}
}

// teardown must be called with lifecycleMu held.
func (o *Orchestrator) teardown(ctx context.Context, r *run) error {
	o.run = nil

	o.loop.flush(func() {
		if o.runID != r.id {
			return
		}
		o.tracker.Reset()
		o.queue.Clear()
		o.transcript = nil
		o.response = responseState{}
		o.transition(StateIdle)
	})

	errs := o.stopInput(r)

	closeCtx, cancel := context.WithTimeout(ctx, sessionCloseTimeout)
	defer cancel()
	if err := o.session.Close(closeCtx); err != nil && !errors.Is(err, realtime.ErrInvalidState) {
		errs = errors.Join(errs, fmt.Errorf("failed to close session: %w", err))
	}

	r.cancel()
	logger.Info("turn controller stopped")
	return errs
}

// stopInput stops capture and the signal source of r. It must be called
// with lifecycleMu held.
func (o *Orchestrator) stopInput(r *run) error {
	if r.inputReleased {
		return nil
	}
	r.inputReleased = true

	var errs error
	if err := o.capturer.StopCapture(); err != nil {
		errs = errors.Join(errs, err)
	}
	<-r.pumpDone

	if err := o.signalSource.Stop(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to stop %s signal source: %w", o.signalSource.Name(), err))
	}
	return errs
}

// releaseInput winds a run down after its microphone was lost. The session
// stays open until Stop or the next Start.
func (o *Orchestrator) releaseInput(runID uint64) {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	r := o.run
	if r == nil || r.id != runID || r.inputReleased {
		return
	}
	if err := o.stopInput(r); err != nil {
		logger.Warn("failed to release audio input", "error", err)
	}
	if err := o.session.CancelResponse(); err != nil && !errors.Is(err, realtime.ErrNotOpen) {
		logger.Warn("failed to cancel response", "error", err)
	}
	logger.Info("audio input released, session kept open")
}

func (o *Orchestrator) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
	defer cancel()
	if err := o.session.Close(ctx); err != nil && !errors.Is(err, realtime.ErrInvalidState) {
		logger.Warn("failed to close session", "error", err)
	}
}

func (o *Orchestrator) pumpFrames(r *run, frames <-chan audio.Frame) {
	defer close(r.pumpDone)

	consumer, _ := o.signalSource.(FrameConsumer)
	for frame := range frames {
		if err := o.session.SendAudioFrame(frame); err != nil && !errors.Is(err, realtime.ErrNotOpen) {
			logger.Debug("failed to forward audio frame", "seq", frame.Seq, "error", err)
		}
		if consumer != nil {
			consumer.ConsumeFrame(frame)
		}
		if o.onInputAudio != nil {
			o.onInputAudio(frame)
		}
	}
}

// Everything below runs on the event loop.

func (o *Orchestrator) transition(to TurnState) {
	from := o.state
	if from == to {
		return
	}

	o.mu.Lock()
	o.state = to
	o.mu.Unlock()

	logger.Debug("turn state changed", "from", from.String(), "to", to.String())
	o.emit(events.NewTurnStateChanged(from.String(), to.String()))
}

// fail surfaces an error that left a collaborator unusable and returns to
// idle. The rest of the teardown happens off the loop.
func (o *Orchestrator) fail(err error) {
	if !o.abandon(err) {
		return
	}
	runID := o.runID
	go o.stopRun(runID)
}

// failInput is fail for a lost microphone; the session is left open.
func (o *Orchestrator) failInput(err error) {
	if !o.abandon(err) {
		return
	}
	runID := o.runID
	go o.releaseInput(runID)
}

// abandon reports err as fatal and drops the current turn. It returns false
// when the controller is already idle.
func (o *Orchestrator) abandon(err error) bool {
	if o.state == StateIdle {
		return false
	}

	o.mu.Lock()
	o.err = err
	o.mu.Unlock()

	logger.Error("turn controller failed", "error", err)
	o.emit(events.NewEngineError(err, true))

	o.tracker.Reset()
	o.queue.Clear()
	o.transcript = nil
	o.response = responseState{}
	o.transition(StateIdle)
	return true
}

func (o *Orchestrator) handleSessionEvent(event realtime.Event) {
	if o.state == StateIdle {
		return
	}

	if consumer, ok := o.signalSource.(SessionEventConsumer); ok {
		consumer.ConsumeSessionEvent(event)
	}

	switch event.Kind {
	case realtime.EventResponseCreated:
		if o.response.id == "" {
			o.response.id = event.ResponseID
		}
		o.emit(events.NewSessionResponse(event.ResponseID, "created"))

	case realtime.EventAudioSegment:
		o.handleAudioSegment(event.Segment)

	case realtime.EventResponseComplete:
		o.response.complete = true
		o.maybeFinishMachineTurn()

	case realtime.EventResponseDone:
		o.emit(events.NewSessionResponse(event.ResponseID, "done"))
		o.response.complete = true
		if o.state == StateAwaitingResponse && o.response.segments == 0 {
			o.mu.Lock()
			o.history.appendMachine(event.ResponseID, 0, false, o.response.startedAt, time.Now())
			o.mu.Unlock()
			o.response = responseState{}
			o.transition(StateListening)
			return
		}
		o.maybeFinishMachineTurn()

	case realtime.EventError:
		logger.Warn("session reported an error", "error", event.Err)
		o.emit(events.NewEngineError(event.Err, false))

	case realtime.EventConnectionClosed:
		if event.Err != nil {
			o.fail(event.Err)
		}
	}
}

func (o *Orchestrator) handleAudioSegment(segment playback.Segment) {
	switch o.state {
	case StateListening, StateAwaitingResponse:
		if o.response.startedAt.IsZero() {
			o.response.startedAt = time.Now()
		}
		o.transition(StateMachineSpeaking)
	case StateMachineSpeaking:
	default:
		logger.Debug("dropping audio segment outside of a machine turn",
			"state", o.state.String(),
			"response_id", segment.ResponseID,
			"sequence", segment.Sequence)
		return
	}

	if o.response.id == "" {
		o.response.id = segment.ResponseID
	}
	o.response.segments++
	o.queue.Enqueue(segment)
}

func (o *Orchestrator) handlePlayingChanged(isPlaying bool) {
	if o.state == StateIdle || !isPlaying {
		return
	}
	o.emit(events.NewAssistantPlaybackStarted(o.response.id))
}

func (o *Orchestrator) handleSegmentPlayed(segment playback.Segment) {
	if o.state == StateIdle {
		return
	}
	o.emit(events.NewAssistantPlaybackSegmentPlayed(segment.ResponseID, segment.Sequence))
}

func (o *Orchestrator) handlePlaybackDrained() {
	if o.state != StateMachineSpeaking {
		return
	}
	o.emit(events.NewAssistantPlaybackEnded(false))
	o.maybeFinishMachineTurn()
}

// maybeFinishMachineTurn hands the turn back once the response is complete
// and everything queued for it has played.
func (o *Orchestrator) maybeFinishMachineTurn() {
	if o.state != StateMachineSpeaking || !o.response.complete {
		return
	}
	if o.queue.IsPlaying() || o.queue.Len() > 0 {
		return
	}

	o.mu.Lock()
	o.history.appendMachine(o.response.id, o.response.segments, false, o.response.startedAt, time.Now())
	o.mu.Unlock()

	o.emit(events.NewTurnCompleted(o.response.id))
	o.response = responseState{}
	o.transition(StateListening)
}

func (o *Orchestrator) handleTranscriptActivity(text string, final bool) {
	if o.state == StateIdle {
		return
	}

	o.userActivity()

	text = strings.TrimSpace(text)
	if !final {
		o.emit(events.NewUserTranscriptInterimUpdated(text))
		return
	}
	if text != "" {
		o.transcript = append(o.transcript, text)
	}
	o.emit(events.NewUserTranscriptFinal(text, o.bufferText()))
}

func (o *Orchestrator) handleSpeechStarted() {
	if o.state == StateIdle {
		return
	}
	o.userActivity()
}

func (o *Orchestrator) handleSpeechEnded() {
	if o.state == StateIdle {
		return
	}
	o.tracker.SpeechEnded()
}

// userActivity takes the turn for the user. Activity while the machine
// holds the turn is a barge-in and preempts everything else.
func (o *Orchestrator) userActivity() {
	switch {
	case o.state.machineHoldsTurn():
		o.bargeIn()
		o.userTurnStartedAt = time.Now()
		o.transition(StateUserSpeaking)
	case o.state == StateListening:
		if len(o.transcript) == 0 {
			o.userTurnStartedAt = time.Now()
		}
		o.transition(StateUserSpeaking)
	}
	o.tracker.Activity()
}

func (o *Orchestrator) bargeIn() {
	_, span := tracer.Start(o.runCtx, "barge in")
	defer span.End()

	dropped := o.queue.Len()
	if o.queue.IsPlaying() {
		dropped++
	}
	o.queue.Clear()
	span.AddEvent("playback queue cleared", trace.WithAttributes(attribute.Int("playback.dropped_segments", dropped)))

	if err := o.session.CancelResponse(); err != nil {
		err = fmt.Errorf("failed to cancel response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to cancel response", "error", err)
	}

	if o.state == StateMachineSpeaking {
		o.mu.Lock()
		o.history.appendMachine(o.response.id, o.response.segments, true, o.response.startedAt, time.Now())
		o.mu.Unlock()
		o.emit(events.NewAssistantPlaybackEnded(true))
	}

	span.SetAttributes(
		attribute.String("turn.from", o.state.String()),
		attribute.String("response.id", o.response.id),
	)
	logger.Info("barge in", "from", o.state.String(), "response_id", o.response.id, "dropped_segments", dropped)
	o.emit(events.NewTurnBargeIn(o.response.id, dropped))
	o.response = responseState{}
}

func (o *Orchestrator) handleSilenceDetected(silence time.Duration) {
	o.emit(events.NewUserSilenceDetected(silence))
	if o.state != StateUserSpeaking {
		return
	}

	text := o.bufferText()
	if utf8.RuneCountInString(text) < o.minUtteranceLength {
		logger.Debug("utterance too short to submit", "length", utf8.RuneCountInString(text))
		o.transition(StateListening)
		return
	}
	o.submit(text)
}

func (o *Orchestrator) handleInterruptionNeeded() {
	o.emit(events.NewUserInterruptionNeeded())
	if !o.proactiveContinuation || o.state != StateListening {
		return
	}

	if text := o.bufferText(); text != "" {
		o.submit(text)
		return
	}

	if err := o.session.RequestResponse(); err != nil {
		logger.Warn("failed to request proactive response", "error", err)
		return
	}
	o.tracker.Reset()
	o.response = responseState{}
	o.transition(StateAwaitingResponse)
}

func (o *Orchestrator) submit(text string) {
	_, span := tracer.Start(o.runCtx, "submit turn")
	defer span.End()
	span.SetAttributes(attribute.Int("turn.length", utf8.RuneCountInString(text)))

	if err := o.session.SendText(text); err != nil {
		err = fmt.Errorf("failed to submit turn: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.fail(err)
		return
	}

	o.mu.Lock()
	o.history.appendUser(text, o.userTurnStartedAt, time.Now())
	o.mu.Unlock()

	// The silence episode that ended this turn must not also hand the
	// machine a second, proactive turn.
	o.tracker.Reset()
	o.transcript = nil
	o.response = responseState{}
	o.emit(events.NewTurnSubmitted(text))
	o.transition(StateAwaitingResponse)
}

func (o *Orchestrator) bufferText() string {
	return strings.TrimSpace(strings.Join(o.transcript, " "))
}

// signalSink posts source signals onto the event loop, dropping those from
// a previous run.
type signalSink struct {
	o     *Orchestrator
	runID uint64
}

func (s signalSink) post(f func()) {
	s.o.loop.post(func() { s.o.guarded(s.runID, f) })
}

func (s signalSink) TranscriptActivity(text string, final bool) {
	s.post(func() { s.o.handleTranscriptActivity(text, final) })
}

func (s signalSink) SpeechStarted() { s.post(s.o.handleSpeechStarted) }

func (s signalSink) SpeechEnded() { s.post(s.o.handleSpeechEnded) }

func (s signalSink) Failure(err error) {
	s.post(func() { s.o.fail(err) })
}
