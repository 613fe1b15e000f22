package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

var errDeviceStopped = errors.New("capture device stopped unexpectedly")

// CaptureDevice is a mono linear16 microphone input. The device is
// (re)initialised on every Start so the sample rate can change between
// captures.
type CaptureDevice struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device

	stopping bool
	mu       sync.Mutex
}

func (c *CaptureDevice) Start(sampleRate int, onData func(pcm []byte), onError func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return fmt.Errorf("capture device already started")
	}

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(sampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = uint32(sampleRate / 50) // 20ms
	config.Periods = 3

	device, err := malgo.InitDevice(c.audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			onData(pInput[:n])
		},
		Stop: func() {
			c.mu.Lock()
			expected := c.stopping
			c.mu.Unlock()
			if !expected {
				onError(errDeviceStopped)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.device = device
	c.stopping = false
	return nil
}

func (c *CaptureDevice) Stop() error {
	c.mu.Lock()
	device := c.device
	if device == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.device = nil
	c.mu.Unlock()

	// Stop fires the device Stop callback, which takes the lock.
	err := device.Stop()
	device.Uninit()
	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}
