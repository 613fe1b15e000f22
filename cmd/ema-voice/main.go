// Command ema-voice holds a spoken conversation with a realtime model from
// the terminal.
//
// Usage:
//
//	ema-voice -config ema-voice.yaml
//	ema-voice -print-config-schema > ema-voice.schema.json
//
// OPENAI_API_KEY is required. DEEPGRAM_API_KEY is required when the local
// recognizer source runs on Deepgram.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/permission"
	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/koscakluka/ema-voice/internal/metrics"
)

const (
	uiEventBuffer   = 256
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ema-voice:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	printSchema := flag.Bool("print-config-schema", false, "print the JSON schema of the config file and exit")
	logPath := flag.String("log-file", "ema-voice.log", "file receiving logs while the terminal view is up")
	headless := flag.Bool("headless", false, "run without the terminal view until interrupted")
	flag.Parse()

	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(schema)
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.CheckCredentials(); err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg, *logPath, *headless)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Permission is settled before the terminal view takes over stdin.
	permissions := permission.NewPrompt(os.Stdin, os.Stderr)
	if granted, err := permissions.RequestMicrophonePermission(ctx); err != nil {
		return fmt.Errorf("failed to ask for microphone permission: %w", err)
	} else if !granted {
		return permission.ErrPermissionDenied
	}

	hw, err := openDevices(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.Close(); err != nil {
			slog.Warn("failed to close audio devices", "error", err)
		}
	}()

	source, closeSource, err := newSignalSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			slog.Warn("failed to close signal source", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	uiEvents := make(chan events.Event, uiEventBuffer)
	o := orchestration.NewOrchestrator(
		orchestration.WithRealtimeOptions(realtimeOptions(cfg)...),
		orchestration.WithSessionConfig(sessionConfig(cfg)),
		orchestration.WithAudioDevice(hw.capture),
		orchestration.WithAudioPlayer(hw.player),
		orchestration.WithPermissionProvider(permissions),
		orchestration.WithTurnSignalSource(source),
		orchestration.WithTrackerConfig(cfg.Turn.Tracker()),
		orchestration.WithMinUtteranceLength(cfg.Turn.MinUtteranceLength),
		orchestration.WithFrameSize(cfg.Audio.FrameSize),
		orchestration.WithProactiveContinuation(cfg.Turn.ProactiveContinuation),
		orchestration.WithEventHandler(func(event events.Event) {
			m.Observe(event)
			if *headless {
				logEvent(event)
				return
			}
			select {
			case uiEvents <- event:
			default:
				slog.Debug("terminal view lagging, dropping event", "kind", event.Kind())
			}
		}),
	)
	defer o.Close()
	m.RegisterFramesDropped(o.FramesDropped)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Address != "" {
		serveMetrics(gctx, g, cfg.Metrics.Address, registry)
	}

	if *headless {
		g.Go(func() error {
			if err := o.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return o.Stop(stopCtx)
		})
	} else {
		g.Go(func() error {
			program := tea.NewProgram(newModel(gctx, o, uiEvents, true), tea.WithAltScreen(), tea.WithContext(gctx))
			_, err := program.Run()
			stop()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := o.Err(); err != nil {
		slog.Warn("conversation ended with an error", "error", err)
	}
	return nil
}

// setupLogging routes the default logger to a file while the terminal view
// owns the screen.
func setupLogging(cfg *config.Config, path string, headless bool) (func(), error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	if headless {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, options)))
		return func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(file, options)))
	return func() { _ = file.Close() }, nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, address string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), "metrics"))
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		slog.Info("serving metrics", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func logEvent(event events.Event) {
	switch e := event.(type) {
	case events.TurnStateChanged:
		slog.Info("turn", "from", e.From, "to", e.To)
	case events.TurnSubmitted:
		slog.Info("submitted", "text", e.Text)
	case events.TurnBargeIn:
		slog.Info("barge-in", "response_id", e.ResponseID, "dropped_segments", e.DroppedSegments)
	case events.EngineError:
		slog.Error("engine error", "error", e.Err, "fatal", e.Fatal)
	default:
		slog.Debug("event", "namespace", e.Kind().Namespace(), "kind", e.Kind())
	}
}
