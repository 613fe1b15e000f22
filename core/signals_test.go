package orchestration

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/vad"
)

type recordingSink struct {
	mu       sync.Mutex
	signals  []string
	failures []error
}

func (s *recordingSink) add(signal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
}

func (s *recordingSink) TranscriptActivity(text string, final bool) {
	if final {
		s.add("final:" + text)
		return
	}
	s.add("interim:" + text)
}

func (s *recordingSink) SpeechStarted() { s.add("started") }

func (s *recordingSink) SpeechEnded() { s.add("ended") }

func (s *recordingSink) Failure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

func expectSignals(t *testing.T, got []string, expected ...string) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected signals %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("expected signals %v, got %v", expected, got)
		}
	}
}

func TestRemoteVADSourceRelaysSessionSignals(t *testing.T) {
	source := NewRemoteVADSource()
	sink := &recordingSink{}
	if err := source.Start(context.Background(), sink); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventSpeechStarted})
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventInterimTranscript, Text: "hel"})
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventSpeechStopped})
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventSpeechStopped})
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventFinalTranscript, Text: "hello"})
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventResponseDone})

	// The late final transcript reopens the silence episode.
	expectSignals(t, sink.snapshot(), "started", "interim:hel", "ended", "final:hello", "ended")

	if err := source.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventSpeechStarted})
	if got := len(sink.snapshot()); got != 5 {
		t.Fatalf("expected no signals after stop, got %d", got)
	}
}

func toneFrame(amplitude int16, samples int) audio.Frame {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		value := amplitude
		if i%2 == 1 {
			value = -amplitude
		}
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return audio.Frame{SampleRate: audio.DefaultSampleRate, Data: data}
}

func TestEnergySourceDetectsSpeechFromFrames(t *testing.T) {
	detector := vad.NewEnergyDetector()
	detector.SpeechFrames = 2
	detector.SilenceFrames = 3

	source := NewEnergySource(detector)
	sink := &recordingSink{}
	if err := source.Start(context.Background(), sink); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	loud := toneFrame(8000, 160)
	quiet := toneFrame(0, 160)
	for _, frame := range []audio.Frame{quiet, loud, loud, loud, quiet, quiet, quiet, quiet} {
		source.ConsumeFrame(frame)
	}
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventFinalTranscript, Text: "testing"})
	source.ConsumeSessionEvent(realtime.Event{Kind: realtime.EventSpeechStarted})

	expectSignals(t, sink.snapshot(), "started", "ended", "final:testing", "ended")
}

type fakeRecognizer struct {
	mu          sync.Mutex
	options     []speechtotext.TranscriptionOptions
	transcribed chan struct{}
	failNext    error

	sent   atomic.Int32
	closes atomic.Int32
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{transcribed: make(chan struct{}, 8)}
}

func (r *fakeRecognizer) Transcribe(_ context.Context, opts ...speechtotext.TranscriptionOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.options = append(r.options, speechtotext.NewTranscriptionOptions(opts...))
	r.transcribed <- struct{}{}
	return nil
}

func (r *fakeRecognizer) SendAudio([]byte) error {
	r.sent.Add(1)
	return nil
}

func (r *fakeRecognizer) Close() error {
	r.closes.Add(1)
	return nil
}

func (r *fakeRecognizer) latest() speechtotext.TranscriptionOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.options[len(r.options)-1]
}

func (r *fakeRecognizer) waitForStreams(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case <-r.transcribed:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for recognition stream %d", i+1)
		}
	}
}

func TestRecognizerSourceMapsRecognizerCallbacks(t *testing.T) {
	recognizer := newFakeRecognizer()
	source := NewRecognizerSource(recognizer)
	sink := &recordingSink{}
	if err := source.Start(context.Background(), sink); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	recognizer.waitForStreams(t, 1)

	options := recognizer.latest()
	options.SpeechStartedCallback()
	options.InterimTranscriptionCallback("turn on")
	options.PartialTranscriptionCallback("turn on the lights")
	options.SpeechEndedCallback()

	expectSignals(t, sink.snapshot(), "started", "interim:turn on", "final:turn on the lights", "ended")

	source.ConsumeFrame(toneFrame(100, 160))
	if got := recognizer.sent.Load(); got != 1 {
		t.Fatalf("expected one frame sent to the recognizer, got %d", got)
	}

	if err := source.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if got := recognizer.closes.Load(); got != 1 {
		t.Fatalf("expected recognizer to be closed once, got %d", got)
	}
	source.ConsumeFrame(toneFrame(100, 160))
	if got := recognizer.sent.Load(); got != 1 {
		t.Fatalf("expected no frames after stop, got %d", got)
	}
}

func TestRecognizerSourceRestartsAfterTransientError(t *testing.T) {
	recognizer := newFakeRecognizer()
	source := NewRecognizerSource(recognizer, WithRecognizerRestartDelay(time.Millisecond))
	sink := &recordingSink{}
	if err := source.Start(context.Background(), sink); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	recognizer.waitForStreams(t, 1)

	recognizer.latest().ErrorCallback(&speechtotext.RecognitionTransientError{Reason: "audio timeout"})
	recognizer.waitForStreams(t, 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.failures) != 0 {
		t.Fatalf("expected transient error not to be reported, got %v", sink.failures)
	}
}

func TestRecognizerSourceReportsFatalErrors(t *testing.T) {
	recognizer := newFakeRecognizer()
	source := NewRecognizerSource(recognizer)
	sink := &recordingSink{}
	if err := source.Start(context.Background(), sink); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	recognizer.waitForStreams(t, 1)

	fatal := errors.New("invalid credentials")
	recognizer.latest().ErrorCallback(fatal)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.failures) != 1 || !errors.Is(sink.failures[0], fatal) {
		t.Fatalf("expected the fatal error to be reported, got %v", sink.failures)
	}
}

func TestRecognizerSourceReportsFailedRestart(t *testing.T) {
	recognizer := newFakeRecognizer()
	source := NewRecognizerSource(recognizer, WithRecognizerRestartDelay(time.Millisecond))
	sink := &recordingSink{}
	if err := source.Start(context.Background(), sink); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	recognizer.waitForStreams(t, 1)

	refused := errors.New("quota exhausted")
	recognizer.mu.Lock()
	recognizer.failNext = refused
	recognizer.mu.Unlock()
	recognizer.latest().ErrorCallback(&speechtotext.RecognitionTransientError{Reason: "stream duration"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		failures := append([]error(nil), sink.failures...)
		sink.mu.Unlock()
		if len(failures) == 1 {
			if !errors.Is(failures[0], refused) {
				t.Fatalf("expected the restart error, got %v", failures[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for the failed restart to be reported")
}

func TestOrchestratorWithRecognizerSource(t *testing.T) {
	recognizer := newFakeRecognizer()
	h := newHarness(t, WithTurnSignalSource(NewRecognizerSource(recognizer)))
	h.start(t)
	recognizer.waitForStreams(t, 1)

	options := recognizer.latest()
	options.SpeechStartedCallback()
	options.PartialTranscriptionCallback("set a timer")
	options.SpeechEndedCallback()
	h.settle()
	h.advance(800 * time.Millisecond)

	if got := h.session.submitted(); len(got) != 1 || got[0] != "set a timer" {
		t.Fatalf("expected the recognized text to be submitted, got %v", got)
	}

	// Remote transcripts are ignored by a local recognizer source.
	h.send(realtime.Event{Kind: realtime.EventFinalTranscript, Text: "echo"})
	if got := h.o.State(); got != StateAwaitingResponse {
		t.Fatalf("expected awaiting-response, got %s", got)
	}
}
