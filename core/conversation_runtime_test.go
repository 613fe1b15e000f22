package orchestration

import (
	"sync"
	"testing"
)

func TestEventLoopRunsInPostingOrder(t *testing.T) {
	loop := newEventLoop()
	loop.start()
	defer func() {
		loop.end()
		loop.waitUntilEnded()
	}()

	var mu sync.Mutex
	var order []int
	for i := range 50 {
		loop.post(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		})
	}
	loop.flush(func() {})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("expected 50 handled posts, got %d", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("expected post %d at position %d, got %d", i, i, got)
		}
	}
}

func TestEventLoopPostFromLoopDoesNotBlock(t *testing.T) {
	loop := newEventLoop()
	loop.start()
	defer func() {
		loop.end()
		loop.waitUntilEnded()
	}()

	nested := make(chan struct{})
	loop.post(func() {
		loop.post(func() { close(nested) })
	})

	<-nested
}

func TestEventLoopSurvivesPanickingHandler(t *testing.T) {
	loop := newEventLoop()
	loop.start()
	defer func() {
		loop.end()
		loop.waitUntilEnded()
	}()

	loop.post(func() { panic("boom") })

	ran := false
	if !loop.flush(func() { ran = true }) || !ran {
		t.Fatalf("expected loop to keep running after a panic")
	}
}

func TestEventLoopRejectsPostsAfterEnd(t *testing.T) {
	loop := newEventLoop()
	loop.start()
	loop.end()
	loop.waitUntilEnded()

	if loop.post(func() {}) {
		t.Fatalf("expected post to be rejected after end")
	}
	if loop.flush(func() {}) {
		t.Fatalf("expected flush to be rejected after end")
	}
}
