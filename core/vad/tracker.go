// Package vad decides when a speaker has gone quiet long enough to end a
// turn, and when a longer silence is an opportunity to take the floor.
//
// All timers are tagged with the generation they were armed in. Any
// activity bumps the generation, so a timer that fires after being
// superseded is ignored even if Stop lost the race.
package vad

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrInvalidSilenceThreshold      = errors.New("silence threshold must be positive")
	ErrInvalidInterruptionThreshold = errors.New("interruption threshold must exceed silence threshold")
)

type State int

const (
	StateSilent State = iota
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

type Config struct {
	// SilenceThreshold is how long silence must last before the utterance
	// is considered finished.
	SilenceThreshold time.Duration `yaml:"silence_threshold" json:"silence_threshold"`
	// InterruptionThreshold is measured from silence onset.
	InterruptionThreshold time.Duration `yaml:"interruption_threshold" json:"interruption_threshold"`
	// SampleInterval ends speech when no activity arrives for this long.
	// Zero relies solely on explicit SpeechEnded calls.
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`
}

func DefaultConfig() Config {
	return Config{
		SilenceThreshold:      800 * time.Millisecond,
		InterruptionThreshold: 4 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.SilenceThreshold <= 0 {
		return ErrInvalidSilenceThreshold
	}
	if c.InterruptionThreshold <= c.SilenceThreshold {
		return fmt.Errorf("%w: %s <= %s", ErrInvalidInterruptionThreshold, c.InterruptionThreshold, c.SilenceThreshold)
	}
	if c.SampleInterval < 0 {
		return fmt.Errorf("sample interval must not be negative")
	}
	return nil
}

type callbacks struct {
	onSpeechStarted      func()
	onSpeechEnded        func()
	onSilenceDetected    func(time.Duration)
	onInterruptionNeeded func()
}

type Tracker struct {
	config    Config
	clock     Clock
	callbacks callbacks
	// dispatch runs timer fires. Callers that serialise all input on one
	// goroutine pass a function that posts onto it.
	dispatch func(func())

	mu                sync.Mutex
	state             State
	generation        uint64
	silenceOnset      time.Time
	silenceTimer      Timer
	interruptionTimer Timer
	inactivityTimer   Timer
}

type Option func(*Tracker)

func WithClock(clock Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

func WithDispatcher(dispatch func(func())) Option {
	return func(t *Tracker) { t.dispatch = dispatch }
}

func WithSpeechStartedCallback(callback func()) Option {
	return func(t *Tracker) { t.callbacks.onSpeechStarted = callback }
}

func WithSpeechEndedCallback(callback func()) Option {
	return func(t *Tracker) { t.callbacks.onSpeechEnded = callback }
}

func WithSilenceDetectedCallback(callback func(time.Duration)) Option {
	return func(t *Tracker) { t.callbacks.onSilenceDetected = callback }
}

func WithInterruptionNeededCallback(callback func()) Option {
	return func(t *Tracker) { t.callbacks.onInterruptionNeeded = callback }
}

func NewTracker(config Config, opts ...Option) (*Tracker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}

	t := &Tracker{
		config:   config,
		clock:    RealClock(),
		dispatch: func(f func()) { f() },
		callbacks: callbacks{
			onSpeechStarted:      func() {},
			onSpeechEnded:        func() {},
			onSilenceDetected:    func(time.Duration) {},
			onInterruptionNeeded: func() {},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Config() Config { return t.config }

// Activity records interim or final transcript activity. It cancels every
// pending timer and marks the speaker as speaking.
func (t *Tracker) Activity() {
	t.mu.Lock()
	t.generation++
	t.stopTimersLocked()

	started := t.state != StateSpeaking
	t.state = StateSpeaking
	t.silenceOnset = time.Time{}

	if t.config.SampleInterval > 0 {
		generation := t.generation
		t.inactivityTimer = t.clock.AfterFunc(t.config.SampleInterval, func() {
			t.dispatch(func() { t.inactivityElapsed(generation) })
		})
	}
	t.mu.Unlock()

	if started {
		t.callbacks.onSpeechStarted()
	}
}

// SpeechEnded marks the start of a silence episode. Only a transition from
// speaking arms the silence timer; repeated calls are ignored.
func (t *Tracker) SpeechEnded() {
	t.mu.Lock()
	if !t.endSpeechLocked() {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.callbacks.onSpeechEnded()
}

// Reset cancels all timers and returns to silent without starting a new
// silence episode.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.stopTimersLocked()
	t.state = StateSilent
	t.silenceOnset = time.Time{}
}

func (t *Tracker) endSpeechLocked() bool {
	if t.state != StateSpeaking {
		return false
	}

	t.generation++
	t.stopTimersLocked()
	t.state = StateSilent
	t.silenceOnset = t.clock.Now()

	generation := t.generation
	t.silenceTimer = t.clock.AfterFunc(t.config.SilenceThreshold, func() {
		t.dispatch(func() { t.silenceElapsed(generation) })
	})
	return true
}

func (t *Tracker) inactivityElapsed(generation uint64) {
	t.mu.Lock()
	if generation != t.generation || !t.endSpeechLocked() {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.callbacks.onSpeechEnded()
}

func (t *Tracker) silenceElapsed(generation uint64) {
	t.mu.Lock()
	if generation != t.generation || t.state != StateSilent {
		t.mu.Unlock()
		return
	}

	silence := t.clock.Now().Sub(t.silenceOnset)
	remaining := max(t.config.InterruptionThreshold-silence, 0)
	t.interruptionTimer = t.clock.AfterFunc(remaining, func() {
		t.dispatch(func() { t.interruptionElapsed(generation) })
	})
	t.mu.Unlock()

	t.callbacks.onSilenceDetected(silence)
}

func (t *Tracker) interruptionElapsed(generation uint64) {
	t.mu.Lock()
	if generation != t.generation || t.state != StateSilent {
		t.mu.Unlock()
		return
	}
	t.interruptionTimer = nil
	t.mu.Unlock()

	t.callbacks.onInterruptionNeeded()
}

func (t *Tracker) stopTimersLocked() {
	for _, timer := range []*Timer{&t.silenceTimer, &t.interruptionTimer, &t.inactivityTimer} {
		if *timer != nil {
			(*timer).Stop()
			*timer = nil
		}
	}
}
