package vad

import (
	"encoding/binary"
	"testing"

	"github.com/koscakluka/ema-voice/core/audio"
)

func constantFrame(level int16) audio.Frame {
	data := make([]byte, 480*2)
	for i := 0; i < 480; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(level))
	}
	return audio.Frame{SampleRate: audio.DefaultSampleRate, Data: data}
}

func TestEnergyDetectorHysteresis(t *testing.T) {
	detector := NewEnergyDetector()
	loud := constantFrame(3000)
	quiet := constantFrame(0)

	for i := range detector.SpeechFrames - 1 {
		if edge := detector.Observe(loud); edge != EdgeNone {
			t.Fatalf("expected no edge on loud frame %d, got %d", i, edge)
		}
	}
	if edge := detector.Observe(loud); edge != EdgeSpeechStarted {
		t.Fatalf("expected speech start, got %d", edge)
	}

	for i := range detector.SilenceFrames - 1 {
		if edge := detector.Observe(quiet); edge != EdgeNone {
			t.Fatalf("expected no edge on quiet frame %d, got %d", i, edge)
		}
	}
	if edge := detector.Observe(quiet); edge != EdgeSpeechEnded {
		t.Fatalf("expected speech end, got %d", edge)
	}
	if detector.InSpeech() {
		t.Fatalf("expected detector to be out of speech")
	}
}

func TestEnergyDetectorIgnoresBlips(t *testing.T) {
	detector := NewEnergyDetector()
	loud := constantFrame(3000)
	quiet := constantFrame(0)

	detector.Observe(loud)
	detector.Observe(quiet)
	detector.Observe(loud)
	if detector.InSpeech() {
		t.Fatalf("expected isolated loud frames to be ignored")
	}
}
