package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/capture"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/playback"
	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-voice/core/speechtotext/google"
	"github.com/koscakluka/ema-voice/internal/config"
)

// devices holds the host audio hardware. Playback always goes through
// miniaudio, capture through the configured backend.
type devices struct {
	capture capture.Device
	player  playback.Player
	closers []func() error
}

func openDevices(cfg *config.Config) (*devices, error) {
	client, err := miniaudio.NewClient(cfg.Realtime.Session.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	d := &devices{
		capture: client.Capture,
		player:  client.Playback,
		closers: []func() error{func() error { client.Close(); return nil }},
	}

	if cfg.Audio.Backend == config.AudioBackendPortaudio {
		bufferSize := cfg.Audio.FrameSize
		if bufferSize == 0 {
			bufferSize = cfg.Realtime.Session.SampleRate / 50
		}
		device, err := portaudio.NewCaptureDevice(bufferSize)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("failed to open portaudio capture: %w", err)
		}
		d.capture = device
		d.closers = append(d.closers, device.Close)
	}
	return d, nil
}

func (d *devices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func realtimeOptions(cfg *config.Config) []realtime.Option {
	var tokens realtime.TokenSource = realtime.StaticToken(cfg.Realtime.APIKey)
	if cfg.Realtime.EphemeralTokens {
		tokens = realtime.NewEphemeralTokenSource(
			cfg.Realtime.APIKey,
			apiBaseURL(cfg.Realtime.URL),
			cfg.Realtime.Session.Model,
			cfg.Realtime.Session.Voice,
		)
	}
	return []realtime.Option{
		realtime.WithURL(cfg.Realtime.URL),
		realtime.WithTokenSource(tokens),
		realtime.WithSetupTimeout(cfg.Realtime.SetupTimeout),
	}
}

// apiBaseURL derives the REST origin that mints client secrets from the
// realtime websocket URL.
func apiBaseURL(wsURL string) string {
	base := strings.Replace(wsURL, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	if i := strings.Index(base, "/v1/"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/")
}

// sessionConfig adjusts the server turn detection to the signal source. The
// orchestrator always submits turns itself, and a local recognizer replaces
// the server voice activity detection entirely.
func sessionConfig(cfg *config.Config) realtime.SessionConfig {
	session := cfg.Realtime.Session
	session.TurnDetection.CreateResponse = false
	session.TurnDetection.InterruptResponse = false
	if cfg.Turn.SignalSource == config.SignalSourceLocalRecognizer {
		session.TurnDetection.Enabled = false
	}
	return session
}

// newSignalSource returns the configured source and a cleanup for anything
// it holds beyond a session.
func newSignalSource(ctx context.Context, cfg *config.Config) (orchestration.TurnSignalSource, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Turn.SignalSource {
	case config.SignalSourceRemoteVAD:
		return orchestration.NewRemoteVADSource(), noop, nil
	case config.SignalSourceEnergy:
		return orchestration.NewEnergySource(nil), noop, nil
	case config.SignalSourceLocalRecognizer:
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownSignalSource, cfg.Turn.SignalSource)
	}

	var recognizer speechtotext.Recognizer
	cleanup := noop
	switch cfg.Recognizer.Provider {
	case config.RecognizerProviderDeepgram:
		opts := []deepgram.Option{
			deepgram.WithAPIKey(cfg.Recognizer.DeepgramAPIKey),
			deepgram.WithLanguage(cfg.Recognizer.Language),
		}
		if cfg.Recognizer.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Recognizer.Model))
		}
		client, err := deepgram.NewTranscriptionClient(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create deepgram recognizer: %w", err)
		}
		recognizer = client

	case config.RecognizerProviderGoogle:
		opts := []google.Option{google.WithLanguageCode(cfg.Recognizer.Language)}
		if cfg.Recognizer.Model != "" {
			opts = append(opts, google.WithModel(cfg.Recognizer.Model))
		}
		client, err := google.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google recognizer: %w", err)
		}
		recognizer = client
		cleanup = client.Shutdown

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownRecognizer, cfg.Recognizer.Provider)
	}

	source := orchestration.NewRecognizerSource(recognizer, orchestration.WithRecognizerEncoding(audio.EncodingInfo{
		SampleRate: cfg.Realtime.Session.SampleRate,
		Format:     audio.EncodingLinear16,
	}))
	return source, cleanup, nil
}
