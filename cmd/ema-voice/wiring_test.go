package main

import (
	"context"
	"errors"
	"testing"

	"github.com/koscakluka/ema-voice/internal/config"
)

func TestAPIBaseURL(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
	}{
		{"wss://api.openai.com/v1/realtime", "https://api.openai.com"},
		{"ws://localhost:8080/v1/realtime", "http://localhost:8080"},
		{"wss://proxy.internal/", "https://proxy.internal"},
	}

	for _, tc := range testCases {
		if got := apiBaseURL(tc.url); got != tc.expected {
			t.Fatalf("expected %s for %s, got %s", tc.expected, tc.url, got)
		}
	}
}

func TestSessionConfigLeavesSubmissionToTheController(t *testing.T) {
	cfg := config.Default()
	cfg.Realtime.Session.TurnDetection.CreateResponse = true
	cfg.Realtime.Session.TurnDetection.InterruptResponse = true

	session := sessionConfig(cfg)
	if session.TurnDetection.CreateResponse || session.TurnDetection.InterruptResponse {
		t.Fatalf("expected server responses to be left to the controller, got %+v", session.TurnDetection)
	}
	if !session.TurnDetection.Enabled {
		t.Fatalf("expected server voice activity detection for remote-vad")
	}

	cfg.Turn.SignalSource = config.SignalSourceLocalRecognizer
	if sessionConfig(cfg).TurnDetection.Enabled {
		t.Fatalf("expected server voice activity detection off for a local recognizer")
	}
	if !cfg.Realtime.Session.TurnDetection.CreateResponse {
		t.Fatalf("expected loaded config to stay untouched")
	}
}

func TestNewSignalSource(t *testing.T) {
	for _, source := range []string{config.SignalSourceRemoteVAD, config.SignalSourceEnergy} {
		cfg := config.Default()
		cfg.Turn.SignalSource = source

		got, cleanup, err := newSignalSource(context.Background(), cfg)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", source, err)
		}
		if got.Name() != source {
			t.Fatalf("expected %s source, got %s", source, got.Name())
		}
		if err := cleanup(); err != nil {
			t.Fatalf("unexpected cleanup error: %v", err)
		}
	}

	cfg := config.Default()
	cfg.Turn.SignalSource = config.SignalSourceLocalRecognizer
	cfg.Recognizer.Provider = config.RecognizerProviderDeepgram
	cfg.Recognizer.DeepgramAPIKey = "dg-test"
	got, _, err := newSignalSource(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected deepgram error: %v", err)
	}
	if got.Name() != config.SignalSourceLocalRecognizer {
		t.Fatalf("expected local recognizer, got %s", got.Name())
	}

	cfg.Recognizer.Provider = "whisper"
	if _, _, err := newSignalSource(context.Background(), cfg); !errors.Is(err, config.ErrUnknownRecognizer) {
		t.Fatalf("expected ErrUnknownRecognizer, got %v", err)
	}
}
