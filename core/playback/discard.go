package playback

import (
	"context"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

// DiscardPlayer drops audio but takes as long as real playback would, for
// running without an output device.
type DiscardPlayer struct {
	Encoding audio.EncodingInfo
}

func (p DiscardPlayer) Play(ctx context.Context, pcm []byte) error {
	encoding := p.Encoding
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}

	timer := time.NewTimer(encoding.Duration(len(pcm)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
