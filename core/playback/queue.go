// Package playback plays inbound response audio strictly in order.
//
// A Queue runs at most one playback loop at a time. Clear starts a new
// episode: the running loop's in-flight segment is cancelled and the loop
// exits without starting anything else. The next Enqueue starts a fresh
// loop once the old one is gone.
//
// Within a response a segment only starts once its predecessor has. A
// segment that does not arrive within the gap timeout is skipped.
package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultGapTimeout = 500 * time.Millisecond

// Segment is one ordered chunk of a response's audio. Payload is base64
// encoded linear16 PCM as received from the wire.
type Segment struct {
	ResponseID string
	Sequence   int
	Payload    string
}

type Player interface {
	// Play blocks until pcm has been played or ctx is cancelled.
	Play(ctx context.Context, pcm []byte) error
}

// DecodeError reports a segment that could not be turned into audio. The
// segment is skipped.
type DecodeError struct {
	Segment Segment
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode segment %s#%d: %v", e.Segment.ResponseID, e.Segment.Sequence, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type callbacks struct {
	onPlayingChanged  func(bool)
	onSegmentStarted  func(Segment)
	onSegmentFinished func(Segment)
	onDrained         func()
	onDecodeError     func(error)
}

type Queue struct {
	player      Player
	decode      func(payload string) ([]byte, error)
	callbacks   callbacks
	baseContext context.Context
	gapTimeout  time.Duration
	wake        chan struct{}

	mu       sync.Mutex
	pending  []Segment
	episode  uint64
	playing  bool
	cancel   context.CancelFunc
	loopDone chan struct{}

	lastResponseID string
	lastSequence   int
}

type Option func(*Queue)

func WithContext(ctx context.Context) Option {
	return func(q *Queue) { q.baseContext = ctx }
}

// WithGapTimeout bounds how long a segment waits for a missing
// predecessor before the predecessor is given up on.
func WithGapTimeout(timeout time.Duration) Option {
	return func(q *Queue) { q.gapTimeout = timeout }
}

func WithDecoder(decode func(payload string) ([]byte, error)) Option {
	return func(q *Queue) { q.decode = decode }
}

// WithPlayingCallback is called whenever IsPlaying changes.
func WithPlayingCallback(callback func(isPlaying bool)) Option {
	return func(q *Queue) { q.callbacks.onPlayingChanged = callback }
}

func WithSegmentStartedCallback(callback func(Segment)) Option {
	return func(q *Queue) { q.callbacks.onSegmentStarted = callback }
}

func WithSegmentFinishedCallback(callback func(Segment)) Option {
	return func(q *Queue) { q.callbacks.onSegmentFinished = callback }
}

// WithDrainedCallback is called when a playback loop runs out of segments.
// It is not called for loops stopped by Clear.
func WithDrainedCallback(callback func()) Option {
	return func(q *Queue) { q.callbacks.onDrained = callback }
}

func WithDecodeErrorCallback(callback func(error)) Option {
	return func(q *Queue) { q.callbacks.onDecodeError = callback }
}

func New(player Player, opts ...Option) *Queue {
	q := &Queue{
		player:      player,
		decode:      base64.StdEncoding.DecodeString,
		baseContext: context.Background(),
		gapTimeout:  defaultGapTimeout,
		wake:        make(chan struct{}, 1),
		callbacks: callbacks{
			onPlayingChanged:  func(bool) {},
			onSegmentStarted:  func(Segment) {},
			onSegmentFinished: func(Segment) {},
			onDrained:         func() {},
			onDecodeError:     func(error) {},
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a segment and starts playback if nothing is playing.
// Segments of one response are kept in sequence order; a segment at or
// below one that already started is dropped.
func (q *Queue) Enqueue(segment Segment) {
	q.mu.Lock()
	if segment.ResponseID == q.lastResponseID && segment.Sequence <= q.lastSequence {
		q.mu.Unlock()
		logger.Warn("dropping late playback segment",
			"response_id", segment.ResponseID,
			"sequence", segment.Sequence,
			"last_started", q.lastSequence)
		return
	}

	i := len(q.pending)
	for i > 0 && q.pending[i-1].ResponseID == segment.ResponseID && q.pending[i-1].Sequence > segment.Sequence {
		i--
	}
	q.pending = append(q.pending, Segment{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = segment

	if q.playing {
		q.mu.Unlock()
		select {
		case q.wake <- struct{}{}:
		default:
		}
		return
	}

	q.playing = true
	episode := q.episode
	ctx, cancel := context.WithCancel(q.baseContext)
	q.cancel = cancel
	previous := q.loopDone
	done := make(chan struct{})
	q.loopDone = done
	q.mu.Unlock()

	q.callbacks.onPlayingChanged(true)
	go q.run(ctx, cancel, episode, previous, done)
}

// Clear drops every pending segment and stops the in-flight one. It is
// safe to call at any time and any number of times.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.episode++
	cleared := len(q.pending)
	q.pending = nil
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	wasPlaying := q.playing
	q.playing = false
	q.lastResponseID = ""
	q.lastSequence = 0
	q.mu.Unlock()

	if wasPlaying {
		logger.Debug("playback cleared", "dropped_segments", cleared)
		q.callbacks.onPlayingChanged(false)
	}
}

// Close clears the queue and waits for the playback loop to exit.
func (q *Queue) Close() {
	q.Clear()

	q.mu.Lock()
	done := q.loopDone
	q.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len is the number of segments waiting to be played.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// isNextLocked reports whether segment directly follows the last started
// one. The first segment of a new response has sequence 1.
func (q *Queue) isNextLocked(segment Segment) bool {
	if segment.ResponseID != q.lastResponseID {
		return segment.Sequence <= 1
	}
	return segment.Sequence == q.lastSequence+1
}

func (q *Queue) run(ctx context.Context, cancel context.CancelFunc, episode uint64, previous <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer cancel()

	// The previous episode's player call must have returned before this one
	// touches the player.
	if previous != nil {
		<-previous
	}

	var (
		gap        *time.Timer
		gapExpired bool
	)
	stopGap := func() {
		if gap != nil {
			gap.Stop()
			gap = nil
		}
		gapExpired = false
	}
	defer stopGap()

	for {
		q.mu.Lock()
		if episode != q.episode {
			q.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			// The base context ended without a Clear.
			q.pending = nil
			q.playing = false
			q.mu.Unlock()
			q.callbacks.onPlayingChanged(false)
			return
		}
		if len(q.pending) == 0 {
			q.playing = false
			q.mu.Unlock()
			q.callbacks.onPlayingChanged(false)
			q.callbacks.onDrained()
			return
		}

		segment := q.pending[0]
		if !q.isNextLocked(segment) && !gapExpired {
			q.mu.Unlock()
			if gap == nil {
				gap = time.NewTimer(q.gapTimeout)
			}
			select {
			case <-q.wake:
			case <-gap.C:
				gapExpired = true
			case <-ctx.Done():
			}
			continue
		}
		if gapExpired {
			logger.Warn("skipping missing playback segments",
				"response_id", segment.ResponseID,
				"sequence", segment.Sequence,
				"last_started", q.lastSequence)
		}
		stopGap()

		q.pending = q.pending[1:]
		q.lastResponseID = segment.ResponseID
		q.lastSequence = segment.Sequence
		q.mu.Unlock()

		pcm, err := q.decode(segment.Payload)
		if err != nil {
			decodeErr := &DecodeError{Segment: segment, Err: err}
			logger.Warn("skipping undecodable playback segment", "error", decodeErr)
			q.callbacks.onDecodeError(decodeErr)
			continue
		}

		if ctx.Err() != nil {
			continue
		}
		q.callbacks.onSegmentStarted(segment)
		err = q.player.Play(ctx, pcm)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// Cut off; not reported as played.
			continue
		}
		if err != nil {
			logger.Error("failed to play segment",
				"response_id", segment.ResponseID,
				"sequence", segment.Sequence,
				"error", err)
		}
		q.callbacks.onSegmentFinished(segment)
	}
}
