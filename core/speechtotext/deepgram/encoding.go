package deepgram

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/koscakluka/ema-voice/core/audio"
)

const companderSampleRate = 8000

var supportedSampleRates = map[int]bool{8000: true, 16000: true, 24000: true, 32000: true, 48000: true}

// streamFormat describes the raw audio sent over the listen socket.
type streamFormat struct {
	encoding   string
	sampleRate int
}

func newStreamFormat(encoding audio.EncodingInfo) (streamFormat, error) {
	if !supportedSampleRates[encoding.SampleRate] {
		return streamFormat{}, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
	case audio.EncodingALaw, audio.EncodingMulaw:
		if encoding.SampleRate != companderSampleRate {
			return streamFormat{}, fmt.Errorf("%s audio must be sampled at %d Hz, got %d",
				encoding.Format.Name(), companderSampleRate, encoding.SampleRate)
		}
	default:
		return streamFormat{}, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	return streamFormat{encoding: encoding.Format.Name(), sampleRate: encoding.SampleRate}, nil
}

func (f streamFormat) apply(query url.Values) {
	query.Set("encoding", f.encoding)
	query.Set("sample_rate", strconv.Itoa(f.sampleRate))
	query.Set("channels", "1")
}
