package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// gatedPlayer blocks every Play call until release is called or the
// context is cancelled.
type gatedPlayer struct {
	mu        sync.Mutex
	played    []string
	started   chan string
	release   chan struct{}
	cancelled atomic.Int32
	active    atomic.Int32
	overlap   atomic.Bool
}

func newGatedPlayer() *gatedPlayer {
	return &gatedPlayer{started: make(chan string, 16), release: make(chan struct{}, 16)}
}

func (p *gatedPlayer) Play(ctx context.Context, pcm []byte) error {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)

	p.started <- string(pcm)
	select {
	case <-ctx.Done():
		p.cancelled.Add(1)
		return ctx.Err()
	case <-p.release:
		p.mu.Lock()
		p.played = append(p.played, string(pcm))
		p.mu.Unlock()
		return nil
	}
}

func (p *gatedPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func segment(response string, sequence int, text string) Segment {
	return Segment{ResponseID: response, Sequence: sequence, Payload: base64.StdEncoding.EncodeToString([]byte(text))}
}

func waitStarted(t *testing.T, player *gatedPlayer) string {
	t.Helper()
	select {
	case pcm := <-player.started:
		return pcm
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback to start")
		return ""
	}
}

func waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}

func TestQueuePlaysInSequenceOrder(t *testing.T) {
	player := newGatedPlayer()
	drained := make(chan struct{}, 1)
	queue := New(player, WithDrainedCallback(func() { drained <- struct{}{} }))

	queue.Enqueue(segment("r1", 1, "one"))
	if got := waitStarted(t, player); got != "one" {
		t.Fatalf("expected first segment to start, got %q", got)
	}

	queue.Enqueue(segment("r1", 3, "three"))
	queue.Enqueue(segment("r1", 2, "two"))
	if got := queue.Len(); got != 2 {
		t.Fatalf("expected 2 pending segments, got %d", got)
	}

	for range 3 {
		player.release <- struct{}{}
	}

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for queue to drain")
	}

	played := player.Played()
	expected := []string{"one", "two", "three"}
	if len(played) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, played)
	}
	for i := range expected {
		if played[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, played)
		}
	}
	if player.overlap.Load() {
		t.Fatalf("expected segments to never overlap")
	}
	if queue.IsPlaying() {
		t.Fatalf("expected queue to be idle after draining")
	}
}

// recordingPlayer plays instantly and remembers what it played.
type recordingPlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *recordingPlayer) Play(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, string(pcm))
	return nil
}

func (p *recordingPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func expectPlayed(t *testing.T, played []string, expected ...string) {
	t.Helper()
	if len(played) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, played)
	}
	for i := range expected {
		if played[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, played)
		}
	}
}

func TestQueueWaitsForAnEarlierSegment(t *testing.T) {
	player := &recordingPlayer{}
	drained := make(chan struct{}, 1)
	queue := New(player,
		WithGapTimeout(time.Second),
		WithDrainedCallback(func() { drained <- struct{}{} }))
	defer queue.Close()

	queue.Enqueue(segment("r1", 2, "two"))
	time.Sleep(20 * time.Millisecond)
	if got := player.Played(); len(got) != 0 {
		t.Fatalf("expected segment 2 to wait for segment 1, got %v", got)
	}
	if !queue.IsPlaying() {
		t.Fatalf("expected queue to stay busy while a segment waits")
	}

	queue.Enqueue(segment("r1", 1, "one"))
	queue.Enqueue(segment("r1", 3, "three"))

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for queue to drain")
	}
	expectPlayed(t, player.Played(), "one", "two", "three")
}

func TestQueueSkipsASegmentThatNeverArrives(t *testing.T) {
	player := &recordingPlayer{}
	drained := make(chan struct{}, 1)
	queue := New(player,
		WithGapTimeout(30*time.Millisecond),
		WithDrainedCallback(func() { drained <- struct{}{} }))
	defer queue.Close()

	queue.Enqueue(segment("r1", 1, "one"))
	queue.Enqueue(segment("r1", 3, "three"))

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for queue to drain")
	}
	expectPlayed(t, player.Played(), "one", "three")
}

func TestQueueDropsSegmentsAlreadyStarted(t *testing.T) {
	player := newGatedPlayer()
	queue := New(player)
	defer queue.Close()

	queue.Enqueue(segment("r1", 1, "one"))
	waitStarted(t, player)
	queue.Enqueue(segment("r1", 1, "again"))

	if got := queue.Len(); got != 0 {
		t.Fatalf("expected duplicate segment to be dropped, got %d pending", got)
	}
}

func TestClearedSegmentIsNotReportedAsPlayed(t *testing.T) {
	player := newGatedPlayer()
	var started, finished atomic.Int32
	queue := New(player,
		WithSegmentStartedCallback(func(Segment) { started.Add(1) }),
		WithSegmentFinishedCallback(func(Segment) { finished.Add(1) }))
	defer queue.Close()

	queue.Enqueue(segment("r1", 1, "one"))
	waitStarted(t, player)
	queue.Clear()
	waitFor(t, func() bool { return player.cancelled.Load() == 1 }, "in-flight playback to be cancelled")
	queue.Close()

	if started.Load() != 1 {
		t.Fatalf("expected one started segment, got %d", started.Load())
	}
	if finished.Load() != 0 {
		t.Fatalf("expected cut off segment to not be reported as played, got %d", finished.Load())
	}
}

func TestClearStopsPlaybackAndPendingSegments(t *testing.T) {
	player := newGatedPlayer()
	playingChanges := make(chan bool, 8)
	queue := New(player, WithPlayingCallback(func(playing bool) { playingChanges <- playing }))

	queue.Enqueue(segment("r1", 1, "one"))
	queue.Enqueue(segment("r1", 2, "two"))
	queue.Enqueue(segment("r1", 3, "three"))
	waitStarted(t, player)

	queue.Clear()
	if got := queue.Len(); got != 0 {
		t.Fatalf("expected empty queue after clear, got %d", got)
	}
	if queue.IsPlaying() {
		t.Fatalf("expected not playing after clear")
	}
	waitFor(t, func() bool { return player.cancelled.Load() == 1 }, "in-flight playback to be cancelled")

	select {
	case pcm := <-player.started:
		t.Fatalf("expected no segment to start after clear, got %q", pcm)
	case <-time.After(50 * time.Millisecond):
	}

	queue.Clear()

	queue.Enqueue(segment("r2", 1, "fresh"))
	if got := waitStarted(t, player); got != "fresh" {
		t.Fatalf("expected new episode to play fresh segment, got %q", got)
	}
	player.release <- struct{}{}
	waitFor(t, func() bool { return !queue.IsPlaying() }, "fresh episode to drain")

	expected := []bool{true, false, true, false}
	for i, want := range expected {
		select {
		case got := <-playingChanges:
			if got != want {
				t.Fatalf("expected playing change %d to be %t, got %t", i, want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for playing change %d", i)
		}
	}
}

func TestDecodeErrorSkipsSegment(t *testing.T) {
	player := newGatedPlayer()
	decodeErrors := make(chan error, 1)
	queue := New(player, WithDecodeErrorCallback(func(err error) { decodeErrors <- err }))
	defer queue.Close()

	queue.Enqueue(Segment{ResponseID: "r1", Sequence: 1, Payload: "!!not base64!!"})
	queue.Enqueue(segment("r1", 2, "two"))

	if got := waitStarted(t, player); got != "two" {
		t.Fatalf("expected playback to continue with next segment, got %q", got)
	}

	select {
	case err := <-decodeErrors:
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) || decodeErr.Segment.Sequence != 1 {
			t.Fatalf("expected decode error for segment 1, got %v", err)
		}
	default:
		t.Fatalf("expected decode error callback")
	}
}

func TestDiscardPlayerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DiscardPlayer{}.Play(ctx, make([]byte, 48000))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
