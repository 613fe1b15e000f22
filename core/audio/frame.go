package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a fixed-size chunk of captured mono linear16 audio. Frames are
// treated as immutable once handed off by the capturer.
type Frame struct {
	Seq        uint64
	SampleRate int
	Data       []byte
	CapturedAt time.Time
}

// Samples is the number of 16-bit samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// RMS returns the normalised root-mean-square energy of the frame in [0, 1].
func (f Frame) RMS() float64 { return RMS(f.Data) }

// RMS computes normalised energy of little-endian signed 16-bit PCM.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := range n {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(n))
}

// Silence returns n bytes of silence for the given encoding.
func Silence(encoding EncodingInfo, n int) []byte {
	chunk := make([]byte, n)
	if value := encoding.SilenceValue(); value != 0 {
		for i := range chunk {
			chunk[i] = value
		}
	}
	return chunk
}
