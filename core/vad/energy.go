package vad

import "github.com/koscakluka/ema-voice/core/audio"

// EnergyDetector turns frame energy into speech start/end edges using
// hysteresis, for setups with neither remote VAD nor a recognizer.
type EnergyDetector struct {
	SpeechThreshold  float64
	SilenceThreshold float64
	SpeechFrames     int
	SilenceFrames    int

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewEnergyDetector returns a detector tuned for 20ms frames.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechFrames:     3,
		SilenceFrames:    30,
	}
}

type Edge int

const (
	EdgeNone Edge = iota
	EdgeSpeechStarted
	EdgeSpeechEnded
)

// Observe consumes one frame and reports whether speech started or ended on
// it.
func (d *EnergyDetector) Observe(frame audio.Frame) Edge {
	level := frame.RMS()

	if d.inSpeech {
		if level >= d.SilenceThreshold {
			d.silenceCount = 0
			return EdgeNone
		}
		d.silenceCount++
		if d.silenceCount < d.SilenceFrames {
			return EdgeNone
		}
		d.inSpeech = false
		d.silenceCount = 0
		return EdgeSpeechEnded
	}

	if level < d.SpeechThreshold {
		d.speechCount = 0
		return EdgeNone
	}
	d.speechCount++
	if d.speechCount < d.SpeechFrames {
		return EdgeNone
	}
	d.inSpeech = true
	d.speechCount = 0
	return EdgeSpeechStarted
}

func (d *EnergyDetector) InSpeech() bool { return d.inSpeech }

func (d *EnergyDetector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}
