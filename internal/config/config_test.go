package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/realtime"
)

var envVars = []string{
	"OPENAI_API_KEY", "EMA_REALTIME_URL", "EMA_EPHEMERAL_TOKENS", "EMA_REALTIME_MODEL",
	"EMA_VOICE", "EMA_INSTRUCTIONS", "EMA_AUDIO_BACKEND", "EMA_SIGNAL_SOURCE",
	"EMA_MIN_UTTERANCE_LENGTH", "EMA_PROACTIVE_CONTINUATION", "EMA_RECOGNIZER",
	"EMA_RECOGNIZER_LANGUAGE", "DEEPGRAM_API_KEY", "EMA_METRICS_ADDR", "EMA_LOG_LEVEL",
}

// clearEnv isolates a test from the environment and from any .env file in
// the package directory.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if cfg.Turn.SignalSource != SignalSourceRemoteVAD {
		t.Fatalf("expected remote-vad source, got %s", cfg.Turn.SignalSource)
	}
	if got := cfg.Turn.Tracker(); got.SilenceThreshold != 800*time.Millisecond || got.InterruptionThreshold != 4*time.Second {
		t.Fatalf("expected 800ms/4s remote thresholds, got %+v", got)
	}
	if cfg.Turn.LocalTracker.SilenceThreshold <= cfg.Turn.RemoteTracker.SilenceThreshold {
		t.Fatalf("expected local silence threshold above remote, got %v", cfg.Turn.LocalTracker.SilenceThreshold)
	}
	if cfg.Turn.MinUtteranceLength != 2 {
		t.Fatalf("expected min utterance length 2, got %d", cfg.Turn.MinUtteranceLength)
	}
	if cfg.Realtime.Session.SampleRate != 24000 {
		t.Fatalf("expected 24kHz sessions, got %d", cfg.Realtime.Session.SampleRate)
	}
	if cfg.Metrics.Address != ":9464" {
		t.Fatalf("expected default metrics address, got %q", cfg.Metrics.Address)
	}
	if level, _ := cfg.LogLevel(); level != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", level)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
realtime:
  ephemeral_tokens: true
  session:
    model: gpt-realtime
    voice: verse
    sample_rate: 24000
turn:
  signal_source: local-recognizer
  local_tracker:
    silence_threshold: 1500ms
    interruption_threshold: 6s
  min_utterance_length: 4
recognizer:
  provider: google
  language: de-DE
observability:
  log_level: debug
`)
	t.Setenv("EMA_VOICE", "alloy")
	t.Setenv("EMA_MIN_UTTERANCE_LENGTH", "3")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if !cfg.Realtime.EphemeralTokens {
		t.Fatalf("expected ephemeral tokens from file")
	}
	if cfg.Realtime.Session.Model != "gpt-realtime" {
		t.Fatalf("expected model from file, got %s", cfg.Realtime.Session.Model)
	}
	if cfg.Realtime.Session.Voice != "alloy" {
		t.Fatalf("expected env to override voice, got %s", cfg.Realtime.Session.Voice)
	}
	if cfg.Turn.MinUtteranceLength != 3 {
		t.Fatalf("expected env to override min utterance length, got %d", cfg.Turn.MinUtteranceLength)
	}
	if got := cfg.Turn.Tracker(); got.SilenceThreshold != 1500*time.Millisecond || got.InterruptionThreshold != 6*time.Second {
		t.Fatalf("expected local thresholds from file, got %+v", got)
	}
	if cfg.Recognizer.Provider != RecognizerProviderGoogle || cfg.Recognizer.Language != "de-DE" {
		t.Fatalf("unexpected recognizer config %+v", cfg.Recognizer)
	}
	if cfg.Realtime.APIKey != "sk-test" {
		t.Fatalf("expected API key from env, got %q", cfg.Realtime.APIKey)
	}
	if level, _ := cfg.LogLevel(); level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", level)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "turn:\n  silence: 1s\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	if err := os.WriteFile(".env", []byte("OPENAI_API_KEY=sk-from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Realtime.APIKey != "sk-from-dotenv" {
		t.Fatalf("expected API key from .env, got %q", cfg.Realtime.APIKey)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown source", mutate: func(c *Config) { c.Turn.SignalSource = "psychic" }, err: ErrUnknownSignalSource},
		{name: "unknown recognizer", mutate: func(c *Config) {
			c.Turn.SignalSource = SignalSourceLocalRecognizer
			c.Recognizer.Provider = "whisper"
		}, err: ErrUnknownRecognizer},
		{name: "recognizer ignored for remote vad", mutate: func(c *Config) { c.Recognizer.Provider = "whisper" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Audio.Backend = "alsa" }, err: ErrUnknownAudioBackend},
		{name: "non pcm16 sample rate", mutate: func(c *Config) { c.Realtime.Session.SampleRate = 16000 }, err: realtime.ErrUnsupportedSampleRate},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.err == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Turn.RemoteTracker.SilenceThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero silence threshold to be rejected")
	}

	cfg = Default()
	cfg.Observability.LogLevel = "chatty"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown log level to be rejected")
	}
}

func TestCheckCredentials(t *testing.T) {
	cfg := Default()
	if err := cfg.CheckCredentials(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}

	cfg.Realtime.APIKey = "sk-test"
	if err := cfg.CheckCredentials(); err != nil {
		t.Fatalf("expected credentials to be complete, got %v", err)
	}

	cfg.Turn.SignalSource = SignalSourceLocalRecognizer
	if err := cfg.CheckCredentials(); !errors.Is(err, ErrMissingAPIKey) || !strings.Contains(err.Error(), "DEEPGRAM_API_KEY") {
		t.Fatalf("expected missing deepgram key, got %v", err)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	testCases := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("EMA_TEST_BOOL", tc.value)
			if got := envOrDefaultBool("EMA_TEST_BOOL", tc.def); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestSchemaDescribesConfigFile(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("unexpected schema error: %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("expected valid JSON, got %v", err)
	}
	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected top level properties, got %v", schema)
	}
	for _, key := range []string{"realtime", "audio", "turn", "recognizer", "metrics", "observability"} {
		if _, ok := properties[key]; !ok {
			t.Fatalf("expected %q in schema properties", key)
		}
	}
	if strings.Contains(string(data), "APIKey") || strings.Contains(string(data), "api_key") {
		t.Fatalf("expected API keys to be left out of the schema")
	}
}
