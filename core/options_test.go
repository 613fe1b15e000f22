package orchestration

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/permission"
	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/vad"
)

func TestNewOrchestratorDefaults(t *testing.T) {
	o := NewOrchestrator()
	defer o.Close()

	if o.State() != StateIdle {
		t.Fatalf("expected idle, got %s", o.State())
	}
	if o.minUtteranceLength != defaultMinUtteranceLength {
		t.Fatalf("expected min utterance length %d, got %d", defaultMinUtteranceLength, o.minUtteranceLength)
	}
	if o.trackerConfig != vad.DefaultConfig() {
		t.Fatalf("expected default tracker config, got %+v", o.trackerConfig)
	}
	if _, ok := o.session.(*realtime.Client); !ok {
		t.Fatalf("expected a realtime client session, got %T", o.session)
	}
	if _, ok := o.signalSource.(*RemoteVADSource); !ok {
		t.Fatalf("expected remote vad source, got %T", o.signalSource)
	}
	if _, ok := o.permissions.(*permission.Static); !ok {
		t.Fatalf("expected static permissions, got %T", o.permissions)
	}
	if o.capturer != nil {
		t.Fatalf("expected no capturer without a device")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	session := &fakeSession{}
	source := NewEnergySource(nil)
	config := vad.Config{SilenceThreshold: 1, InterruptionThreshold: 2}

	o := NewOrchestrator(
		WithSessionClient(session),
		WithTurnSignalSource(source),
		WithTrackerConfig(config),
		WithMinUtteranceLength(5),
		WithFrameSize(480),
		WithProactiveContinuation(true),
	)
	defer o.Close()

	if o.session != session {
		t.Fatalf("expected the given session client")
	}
	if o.signalSource != source {
		t.Fatalf("expected the given signal source")
	}
	if o.trackerConfig != config {
		t.Fatalf("expected tracker config %+v, got %+v", config, o.trackerConfig)
	}
	if o.minUtteranceLength != 5 || o.frameSize != 480 || !o.proactiveContinuation {
		t.Fatalf("unexpected options: min %d, frame %d, proactive %v", o.minUtteranceLength, o.frameSize, o.proactiveContinuation)
	}
}

func TestParseTurnStateRoundTrips(t *testing.T) {
	for _, state := range []TurnState{StateIdle, StateListening, StateUserSpeaking, StateAwaitingResponse, StateMachineSpeaking} {
		if got := parseTurnState(state.String()); got != state {
			t.Fatalf("expected %s, got %s", state, got)
		}
	}
	if got := parseTurnState("dancing"); got != StateIdle {
		t.Fatalf("expected unknown names to map to idle, got %s", got)
	}
}

func TestChainEmittersKeepsOrder(t *testing.T) {
	var order []string
	emit := chainEmitters(
		func(events.Event) { order = append(order, "first") },
		func(events.Event) { order = append(order, "second") },
	)

	emit(events.NewUserSpeechStarted())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected emitters in order, got %v", order)
	}
}

func TestCallbackEmitterMapsEvents(t *testing.T) {
	var (
		from, to  TurnState
		interim   string
		final     string
		submitted string
		reported  error
	)
	emit := newCallbackEventEmitter(callbackOptions{
		onStateChanged:         func(f, s TurnState) { from, to = f, s },
		onInterimTranscription: func(text string) { interim = text },
		onTranscription:        func(text string) { final = text },
		onTurnSubmitted:        func(text string) { submitted = text },
		onError:                func(err error) { reported = err },
	})

	failure := errors.New("device unplugged")
	emit(events.NewTurnStateChanged("listening", "user-speaking"))
	emit(events.NewUserTranscriptInterimUpdated("is it"))
	emit(events.NewUserTranscriptFinal("is it fast", "is it fast"))
	emit(events.NewTurnSubmitted("is it fast"))
	emit(events.NewEngineError(failure, true))

	if from != StateListening || to != StateUserSpeaking {
		t.Fatalf("expected listening -> user-speaking, got %s -> %s", from, to)
	}
	if interim != "is it" || final != "is it fast" || submitted != "is it fast" {
		t.Fatalf("unexpected transcripts: %q, %q, %q", interim, final, submitted)
	}
	if !errors.Is(reported, failure) {
		t.Fatalf("expected reported error, got %v", reported)
	}
}

func TestCallbackEmitterWithoutCallbacks(t *testing.T) {
	emit := newCallbackEventEmitter(callbackOptions{})

	emit(events.NewTurnStateChanged("idle", "listening"))
	emit(events.NewEngineError(errors.New("ignored"), false))
}
