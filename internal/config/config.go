// Package config loads the host configuration: defaults, then an optional
// YAML file, then a .env file, then environment variables.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/koscakluka/ema-voice/core/realtime"
	"github.com/koscakluka/ema-voice/core/vad"
)

const (
	SignalSourceRemoteVAD        = "remote-vad"
	SignalSourceLocalRecognizer  = "local-recognizer"
	SignalSourceEnergy           = "energy"
	RecognizerProviderDeepgram   = "deepgram"
	RecognizerProviderGoogle     = "google"
	AudioBackendMiniaudio        = "miniaudio"
	AudioBackendPortaudio        = "portaudio"
	defaultMetricsAddress        = ":9464"
	defaultMinUtteranceLength    = 2
	defaultRealtimeSetupTimeout  = 10 * time.Second
	defaultRecognizerLanguage    = "en-US"
	defaultLocalSilenceThreshold = 1200 * time.Millisecond
	defaultLocalInterruption     = 5 * time.Second
)

var (
	ErrUnknownSignalSource = errors.New("unknown turn signal source")
	ErrUnknownRecognizer   = errors.New("unknown recognizer provider")
	ErrUnknownAudioBackend = errors.New("unknown audio backend")
	ErrMissingAPIKey       = errors.New("missing API key")
)

type Config struct {
	Realtime      RealtimeConfig      `yaml:"realtime" json:"realtime"`
	Audio         AudioConfig         `yaml:"audio" json:"audio"`
	Turn          TurnConfig          `yaml:"turn" json:"turn"`
	Recognizer    RecognizerConfig    `yaml:"recognizer" json:"recognizer"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type RealtimeConfig struct {
	URL string `yaml:"url" json:"url,omitempty"`
	// APIKey is only read from the environment.
	APIKey string `yaml:"-" json:"-"`
	// EphemeralTokens mints a short-lived client secret for every connection
	// instead of sending the API key over the websocket.
	EphemeralTokens bool                   `yaml:"ephemeral_tokens" json:"ephemeral_tokens"`
	SetupTimeout    time.Duration          `yaml:"setup_timeout" json:"setup_timeout"`
	Session         realtime.SessionConfig `yaml:"session" json:"session"`
}

type AudioConfig struct {
	Backend string `yaml:"backend" json:"backend" jsonschema:"enum=miniaudio,enum=portaudio"`
	// FrameSize is in samples. Zero means 20ms at the session sample rate.
	FrameSize int `yaml:"frame_size" json:"frame_size,omitempty"`
}

// TurnConfig holds two tracker threshold pairs. Remote transcripts arrive
// later than local ones, so the remote pair is tighter.
type TurnConfig struct {
	SignalSource          string     `yaml:"signal_source" json:"signal_source" jsonschema:"enum=remote-vad,enum=local-recognizer,enum=energy"`
	RemoteTracker         vad.Config `yaml:"remote_tracker" json:"remote_tracker"`
	LocalTracker          vad.Config `yaml:"local_tracker" json:"local_tracker"`
	MinUtteranceLength    int        `yaml:"min_utterance_length" json:"min_utterance_length"`
	ProactiveContinuation bool       `yaml:"proactive_continuation" json:"proactive_continuation"`
}

// Tracker returns the threshold pair for the configured signal source.
func (c TurnConfig) Tracker() vad.Config {
	if c.SignalSource == SignalSourceRemoteVAD {
		return c.RemoteTracker
	}
	return c.LocalTracker
}

type RecognizerConfig struct {
	Provider string `yaml:"provider" json:"provider" jsonschema:"enum=deepgram,enum=google"`
	Language string `yaml:"language" json:"language"`
	Model    string `yaml:"model" json:"model,omitempty"`
	// DeepgramAPIKey is only read from the environment.
	DeepgramAPIKey string `yaml:"-" json:"-"`
}

type MetricsConfig struct {
	// Address serves /metrics. Empty disables the endpoint.
	Address string `yaml:"address" json:"address"`
}

type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

func Default() *Config {
	remote := vad.DefaultConfig()
	local := vad.DefaultConfig()
	local.SilenceThreshold = defaultLocalSilenceThreshold
	local.InterruptionThreshold = defaultLocalInterruption

	return &Config{
		Realtime: RealtimeConfig{
			URL:          realtime.DefaultURL,
			SetupTimeout: defaultRealtimeSetupTimeout,
			Session:      realtime.DefaultSessionConfig(),
		},
		Audio: AudioConfig{Backend: AudioBackendMiniaudio},
		Turn: TurnConfig{
			SignalSource:       SignalSourceRemoteVAD,
			RemoteTracker:      remote,
			LocalTracker:       local,
			MinUtteranceLength: defaultMinUtteranceLength,
		},
		Recognizer: RecognizerConfig{
			Provider: RecognizerProviderDeepgram,
			Language: defaultRecognizerLanguage,
		},
		Metrics:       MetricsConfig{Address: defaultMetricsAddress},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		if err := cfg.decode(file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Realtime.APIKey = envOrDefault("OPENAI_API_KEY", c.Realtime.APIKey)
	c.Realtime.URL = envOrDefault("EMA_REALTIME_URL", c.Realtime.URL)
	c.Realtime.EphemeralTokens = envOrDefaultBool("EMA_EPHEMERAL_TOKENS", c.Realtime.EphemeralTokens)
	c.Realtime.Session.Model = envOrDefault("EMA_REALTIME_MODEL", c.Realtime.Session.Model)
	c.Realtime.Session.Voice = envOrDefault("EMA_VOICE", c.Realtime.Session.Voice)
	c.Realtime.Session.Instructions = envOrDefault("EMA_INSTRUCTIONS", c.Realtime.Session.Instructions)

	c.Audio.Backend = envOrDefault("EMA_AUDIO_BACKEND", c.Audio.Backend)

	c.Turn.SignalSource = envOrDefault("EMA_SIGNAL_SOURCE", c.Turn.SignalSource)
	c.Turn.MinUtteranceLength = envOrDefaultInt("EMA_MIN_UTTERANCE_LENGTH", c.Turn.MinUtteranceLength)
	c.Turn.ProactiveContinuation = envOrDefaultBool("EMA_PROACTIVE_CONTINUATION", c.Turn.ProactiveContinuation)

	c.Recognizer.Provider = envOrDefault("EMA_RECOGNIZER", c.Recognizer.Provider)
	c.Recognizer.Language = envOrDefault("EMA_RECOGNIZER_LANGUAGE", c.Recognizer.Language)
	c.Recognizer.DeepgramAPIKey = envOrDefault("DEEPGRAM_API_KEY", c.Recognizer.DeepgramAPIKey)

	c.Metrics.Address = envOrDefault("EMA_METRICS_ADDR", c.Metrics.Address)
	c.Observability.LogLevel = envOrDefault("EMA_LOG_LEVEL", c.Observability.LogLevel)
}

func (c *Config) Validate() error {
	switch c.Turn.SignalSource {
	case SignalSourceRemoteVAD, SignalSourceLocalRecognizer, SignalSourceEnergy:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignalSource, c.Turn.SignalSource)
	}
	if c.Turn.SignalSource == SignalSourceLocalRecognizer {
		switch c.Recognizer.Provider {
		case RecognizerProviderDeepgram, RecognizerProviderGoogle:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownRecognizer, c.Recognizer.Provider)
		}
	}
	switch c.Audio.Backend {
	case AudioBackendMiniaudio, AudioBackendPortaudio:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAudioBackend, c.Audio.Backend)
	}

	if err := c.Turn.RemoteTracker.Validate(); err != nil {
		return fmt.Errorf("invalid remote tracker config: %w", err)
	}
	if err := c.Turn.LocalTracker.Validate(); err != nil {
		return fmt.Errorf("invalid local tracker config: %w", err)
	}
	if c.Turn.MinUtteranceLength < 0 {
		return fmt.Errorf("min utterance length must not be negative, got %d", c.Turn.MinUtteranceLength)
	}
	if c.Audio.FrameSize < 0 {
		return fmt.Errorf("frame size must not be negative, got %d", c.Audio.FrameSize)
	}
	if err := c.Realtime.Session.Validate(); err != nil {
		return fmt.Errorf("invalid realtime session config: %w", err)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// CheckCredentials reports missing API keys for the configured services.
func (c *Config) CheckCredentials() error {
	if c.Realtime.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingAPIKey)
	}
	if c.Turn.SignalSource == SignalSourceLocalRecognizer &&
		c.Recognizer.Provider == RecognizerProviderDeepgram &&
		c.Recognizer.DeepgramAPIKey == "" {
		return fmt.Errorf("%w: DEEPGRAM_API_KEY is not set", ErrMissingAPIKey)
	}
	return nil
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Observability.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.Observability.LogLevel, err)
	}
	return level, nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(&Config{})

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		return nil, fmt.Errorf("failed to encode config schema: %w", err)
	}
	return buf.Bytes(), nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
