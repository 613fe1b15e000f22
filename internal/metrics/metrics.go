// Package metrics exposes engine events as Prometheus metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/koscakluka/ema-voice/core/events"
)

const namespace = "ema_voice"

type Metrics struct {
	// Turn metrics
	TurnTransitions *prometheus.CounterVec
	TurnsSubmitted  prometheus.Counter
	TurnsCompleted  prometheus.Counter
	BargeIns        prometheus.Counter
	DroppedSegments prometheus.Counter
	ResponseLatency prometheus.Histogram

	// User input metrics
	SilenceEpisodes   prometheus.Counter
	InterruptionHints prometheus.Counter
	FinalTranscripts  prometheus.Counter

	// Playback metrics
	SegmentsPlayed prometheus.Counter

	// Session metrics
	SessionStates *prometheus.CounterVec
	EngineErrors  *prometheus.CounterVec

	registerer prometheus.Registerer

	mu          sync.Mutex
	submittedAt time.Time
}

// New registers the engine metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn controller state transitions",
		}, []string{"from", "to"}),
		TurnsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_submitted_total",
			Help:      "User turns submitted to the remote service",
		}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Machine turns played to the end",
		}),
		BargeIns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Machine turns interrupted by the user",
		}),
		DroppedSegments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_in_dropped_segments_total",
			Help:      "Response audio segments discarded by barge-in",
		}),
		ResponseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from turn submission to the first played response audio",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
		}),
		SilenceEpisodes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silence_episodes_total",
			Help:      "Silence episodes that reached the silence threshold",
		}),
		InterruptionHints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruption_hints_total",
			Help:      "Silence episodes that reached the interruption threshold",
		}),
		FinalTranscripts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Final user transcript segments",
		}),
		SegmentsPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_played_total",
			Help:      "Response audio segments played",
		}),
		SessionStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_changes_total",
			Help:      "Streaming session state changes",
		}, []string{"state"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Errors surfaced by the engine",
		}, []string{"fatal"}),
		registerer: reg,
	}
}

// RegisterFramesDropped exports a capture drop counter owned elsewhere.
func (m *Metrics) RegisterFramesDropped(framesDropped func() uint64) {
	promauto.With(m.registerer).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_frames_dropped_total",
		Help:      "Captured frames dropped because the consumer lagged",
	}, func() float64 { return float64(framesDropped()) })
}

// Observe updates the metrics from one engine event.
func (m *Metrics) Observe(event events.Event) {
	switch e := event.(type) {
	case events.TurnStateChanged:
		m.TurnTransitions.WithLabelValues(e.From, e.To).Inc()
	case events.TurnSubmitted:
		m.TurnsSubmitted.Inc()
		m.mu.Lock()
		m.submittedAt = e.Timestamp()
		m.mu.Unlock()
	case events.TurnCompleted:
		m.TurnsCompleted.Inc()
	case events.TurnBargeIn:
		m.BargeIns.Inc()
		m.DroppedSegments.Add(float64(e.DroppedSegments))
	case events.AssistantPlaybackStarted:
		m.mu.Lock()
		submittedAt := m.submittedAt
		m.submittedAt = time.Time{}
		m.mu.Unlock()
		if !submittedAt.IsZero() {
			m.ResponseLatency.Observe(e.Timestamp().Sub(submittedAt).Seconds())
		}
	case events.AssistantPlaybackSegmentPlayed:
		m.SegmentsPlayed.Inc()
	case events.UserSilenceDetected:
		m.SilenceEpisodes.Inc()
	case events.UserInterruptionNeeded:
		m.InterruptionHints.Inc()
	case events.UserTranscriptFinal:
		m.FinalTranscripts.Inc()
	case events.SessionStateChanged:
		m.SessionStates.WithLabelValues(e.State).Inc()
	case events.EngineError:
		m.EngineErrors.WithLabelValues(strconv.FormatBool(e.Fatal)).Inc()
	}
}
