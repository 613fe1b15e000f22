package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcm(samples ...int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	if got := RMS(pcm(0, 0, 0, 0)); got != 0 {
		t.Fatalf("expected zero energy, got %f", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected zero energy for empty input, got %f", got)
	}
}

func TestRMSOfFullScaleSquareWave(t *testing.T) {
	got := RMS(pcm(math.MaxInt16, -math.MaxInt16, math.MaxInt16, -math.MaxInt16))
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected energy 1, got %f", got)
	}
}

func TestFrameDuration(t *testing.T) {
	frame := Frame{SampleRate: DefaultSampleRate, Data: make([]byte, DefaultFrameSize*2)}
	if got := frame.Duration(); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms frame, got %s", got)
	}
	if got := frame.Samples(); got != DefaultFrameSize {
		t.Fatalf("expected %d samples, got %d", DefaultFrameSize, got)
	}
}

func TestEncodingInfoDurationAndFrameBytes(t *testing.T) {
	info := GetDefaultEncodingInfo()
	if got := info.Duration(48000); got != time.Second {
		t.Fatalf("expected one second, got %s", got)
	}
	if got := info.FrameBytes(480); got != 960 {
		t.Fatalf("expected 960 bytes, got %d", got)
	}

	mulaw := EncodingInfo{SampleRate: 8000, Format: EncodingMulaw}
	if got := Silence(mulaw, 3); got[0] != 0xFF || got[2] != 0xFF {
		t.Fatalf("expected mulaw silence bytes, got %v", got)
	}
}
