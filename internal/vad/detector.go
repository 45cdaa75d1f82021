// Package vad segments a live frame stream into discrete utterances so
// recognizers only run on speech-bearing audio.
package vad

import (
	"github.com/lipschultz/hwinarion/internal/audio"
)

// Detector classifies a single frame as speech or non-speech. The energy
// detector below is the baseline; the WebRTC detector is a drop-in
// replacement. Detection must be non-blocking.
type Detector interface {
	IsSpeech(f audio.Frame) (bool, error)
}

// EnergyDetector flags frames whose short-term RMS energy exceeds a fixed
// threshold, expressed in 16-bit PCM units (0..32767). Simple, deterministic,
// and cheap; it does not adapt to ambient noise.
type EnergyDetector struct {
	Threshold float64
}

// NewEnergyDetector returns a detector with the given RMS threshold. A
// non-positive threshold falls back to 500, a workable default for close-talk
// microphones.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = 500
	}
	return &EnergyDetector{Threshold: threshold}
}

// IsSpeech implements Detector.
func (d *EnergyDetector) IsSpeech(f audio.Frame) (bool, error) {
	return f.RMS() > d.Threshold, nil
}
