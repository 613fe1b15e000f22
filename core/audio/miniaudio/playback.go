package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Player plays linear16 segments through the default output device. Play
// blocks until the device has consumed the segment.
type Player struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	sampleRate   int

	leftoverAudio []byte
	marks         []playbackMark

	mu      sync.Mutex
	audioMu sync.Mutex
}

type playbackMark struct {
	position int
	reached  chan struct{}
}

func (p *Player) init(sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(sampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(sampleRate / 50)
	config.Periods = 4

	device, err := malgo.InitDevice(
		p.audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: p.processAudio(bytesPerFrame)},
	)
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	p.device = device
	p.sampleRate = sampleRate
	return nil
}

// Play queues pcm on the device and waits until it has been played. When
// ctx is cancelled the device buffer is flushed and ctx.Err is returned.
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	started := p.device != nil
	p.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not initialized")
	}

	reached := make(chan struct{})
	p.audioMu.Lock()
	p.leftoverAudio = append(p.leftoverAudio, pcm...)
	p.marks = append(p.marks, playbackMark{position: len(p.leftoverAudio), reached: reached})
	p.audioMu.Unlock()

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		p.flush()
		return ctx.Err()
	}
}

func (p *Player) flush() {
	p.audioMu.Lock()
	defer p.audioMu.Unlock()
	p.leftoverAudio = nil
	for _, mark := range p.marks {
		close(mark.reached)
	}
	p.marks = nil
}

func (p *Player) uninit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return nil
	}

	p.device.Uninit()
	p.device = nil
	p.flush()
	return nil
}

func (p *Player) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		p.audioMu.Lock()
		defer p.audioMu.Unlock()

		played := copy(pOutput[:need], p.leftoverAudio)
		p.leftoverAudio = p.leftoverAudio[played:]
		clear(pOutput[played:need])

		passed := 0
		for i := range p.marks {
			p.marks[i].position -= played
			if p.marks[i].position <= 0 {
				close(p.marks[i].reached)
				passed++
			}
		}
		p.marks = p.marks[passed:]
	}
}
