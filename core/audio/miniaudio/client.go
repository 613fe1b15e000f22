package miniaudio

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Client owns one miniaudio context shared by a capture device and a
// playback device.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	Capture      *CaptureDevice
	Playback     *Player
}

func NewClient(playbackSampleRate int) (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		Capture:      &CaptureDevice{audioContext: audioCtx},
		Playback:     &Player{audioContext: audioCtx},
	}

	if err := client.Playback.init(playbackSampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return &client, nil
}

func (c *Client) Close() {
	_ = c.Capture.Stop()
	_ = c.Playback.uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.Playback.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
