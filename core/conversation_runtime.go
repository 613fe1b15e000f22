package orchestration

import (
	"sync"
	"sync/atomic"
)

// eventLoop runs posted functions one at a time, in posting order, on a
// single goroutine. Every input to the turn controller goes through it.
type eventLoop struct {
	mu      sync.Mutex
	pending []func()
	// updateSignal wakes the loop; one slot is enough since the loop drains
	// everything pending on each wake-up.
	updateSignal chan struct{}

	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
	started   atomic.Bool
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		updateSignal: make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (loop *eventLoop) start() {
	loop.startOnce.Do(func() {
		if loop.isClosed() {
			return
		}

		loop.started.Store(true)
		go func() {
			defer close(loop.done)

			for {
				select {
				case <-loop.closeCh:
					return
				case <-loop.updateSignal:
				}

				for {
					loop.mu.Lock()
					if len(loop.pending) == 0 {
						loop.mu.Unlock()
						break
					}
					next := loop.pending[0]
					loop.pending[0] = nil
					loop.pending = loop.pending[1:]
					loop.mu.Unlock()

					if loop.isClosed() {
						return
					}
					loop.run(next)
				}
			}
		}()
	})
}

func (loop *eventLoop) run(f func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("turn controller handler panicked", "panic", recovered)
		}
	}()
	f()
}

// post never blocks, so it is safe to call from the loop itself and from
// device and timer callbacks.
func (loop *eventLoop) post(f func()) bool {
	if loop.isClosed() {
		return false
	}

	loop.mu.Lock()
	loop.pending = append(loop.pending, f)
	loop.mu.Unlock()

	select {
	case loop.updateSignal <- struct{}{}:
	default:
	}
	return true
}

// flush posts f and waits until it ran. It must not be called from the loop.
func (loop *eventLoop) flush(f func()) bool {
	ran := make(chan struct{})
	if !loop.post(func() {
		defer close(ran)
		f()
	}) {
		return false
	}

	select {
	case <-ran:
		return true
	case <-loop.closeCh:
		return false
	}
}

func (loop *eventLoop) end() {
	loop.endOnce.Do(func() { close(loop.closeCh) })
}

func (loop *eventLoop) waitUntilEnded() {
	if loop.started.Load() {
		<-loop.done
	}
}

func (loop *eventLoop) isClosed() bool {
	select {
	case <-loop.closeCh:
		return true
	default:
		return false
	}
}

func (loop *eventLoop) queuedCount() int {
	loop.mu.Lock()
	defer loop.mu.Unlock()
	return len(loop.pending)
}
