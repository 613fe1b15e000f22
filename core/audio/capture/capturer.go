// Package capture turns raw device callbacks into fixed-size audio frames.
//
// A Capturer never blocks the device: frames are handed off through a
// single-slot channel and are dropped when the consumer is not keeping up.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/permission"
)

var (
	ErrAlreadyCapturing  = errors.New("capture already running")
	ErrInvalidFrameSize  = errors.New("frame size must be positive")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
)

// DeviceError reports that the underlying input device failed. Capture is
// stopped when it is raised.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("audio device error: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// Device is a raw mono linear16 input. onData may be called from a
// real-time thread and must not be retained past the call.
type Device interface {
	Start(sampleRate int, onData func(pcm []byte), onError func(error)) error
	Stop() error
}

type Capturer struct {
	device      Device
	permissions permission.Provider
	onError     func(error)
	now         func() time.Time

	mu         sync.Mutex
	running    bool
	frames     chan audio.Frame
	stopWatch  chan struct{}
	pending    []byte
	frameBytes int
	sampleRate int
	seq        uint64

	framesDropped  atomic.Uint64
	framesCaptured atomic.Uint64
}

type Option func(*Capturer)

// WithErrorCallback registers a callback for device failures. It is called
// at most once per capture, after the frame channel has been closed.
func WithErrorCallback(callback func(error)) Option {
	return func(c *Capturer) { c.onError = callback }
}

func WithClock(now func() time.Time) Option {
	return func(c *Capturer) { c.now = now }
}

func New(device Device, permissions permission.Provider, opts ...Option) *Capturer {
	c := &Capturer{
		device:      device,
		permissions: permissions,
		onError:     func(error) {},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartCapture starts the device and returns a channel of frames holding
// exactly frameSize samples each. The channel is closed when capture stops.
func (c *Capturer) StartCapture(ctx context.Context, sampleRate, frameSize int) (<-chan audio.Frame, error) {
	if c.permissions == nil || !c.permissions.HasPermission() {
		return nil, permission.ErrPermissionDenied
	}
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if frameSize <= 0 {
		return nil, ErrInvalidFrameSize
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyCapturing
	}
	c.running = true
	c.frames = make(chan audio.Frame, 1)
	c.stopWatch = make(chan struct{})
	c.pending = c.pending[:0]
	c.sampleRate = sampleRate
	c.frameBytes = frameSize * audio.EncodingLinear16.ByteSize()
	c.seq = 0
	frames := c.frames
	stopWatch := c.stopWatch
	c.mu.Unlock()

	if err := c.device.Start(sampleRate, c.handleData, c.handleDeviceError); err != nil {
		c.mu.Lock()
		c.shutdownLocked()
		c.mu.Unlock()
		return nil, &DeviceError{Err: err}
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = c.StopCapture()
		case <-stopWatch:
		}
	}()

	logger.Debug("capture started", "sample_rate", sampleRate, "frame_size", frameSize)
	return frames, nil
}

// StopCapture stops the device and closes the frame channel. Stopping an
// idle capturer is a no-op.
func (c *Capturer) StopCapture() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.shutdownLocked()
	c.mu.Unlock()

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	logger.Debug("capture stopped",
		"frames_captured", c.framesCaptured.Load(),
		"frames_dropped", c.framesDropped.Load())
	return nil
}

func (c *Capturer) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// FramesDropped counts frames discarded because the consumer lagged.
func (c *Capturer) FramesDropped() uint64 { return c.framesDropped.Load() }

func (c *Capturer) FramesCaptured() uint64 { return c.framesCaptured.Load() }

func (c *Capturer) shutdownLocked() {
	c.running = false
	close(c.frames)
	close(c.stopWatch)
	c.pending = c.pending[:0]
}

func (c *Capturer) handleData(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	c.pending = append(c.pending, pcm...)
	for len(c.pending) >= c.frameBytes {
		data := make([]byte, c.frameBytes)
		copy(data, c.pending[:c.frameBytes])
		c.pending = c.pending[:copy(c.pending, c.pending[c.frameBytes:])]

		c.seq++
		frame := audio.Frame{
			Seq:        c.seq,
			SampleRate: c.sampleRate,
			Data:       data,
			CapturedAt: c.now(),
		}

		c.framesCaptured.Add(1)
		select {
		case c.frames <- frame:
		default:
			c.framesDropped.Add(1)
		}
	}
}

func (c *Capturer) handleDeviceError(err error) {
	// Devices report errors from their own callback threads, stopping them
	// inline can deadlock.
	go func() {
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return
		}
		c.shutdownLocked()
		c.mu.Unlock()

		_ = c.device.Stop()
		deviceErr := &DeviceError{Err: err}
		logger.Error("capture device failed", "error", err)
		c.onError(deviceErr)
	}()
}
