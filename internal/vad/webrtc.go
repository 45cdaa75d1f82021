package vad

import (
	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// WebRTCDetector classifies frames with the WebRTC voice activity detector.
// It only accepts mono audio at 8, 16, 32 or 48 kHz and evaluates fixed 10ms
// windows; a frame counts as speech if any window is active.
type WebRTCDetector struct {
	vad        *webrtcvad.VAD
	sampleRate int
}

// NewWebRTCDetector creates a detector for the given sample rate. Mode sets
// aggressiveness 0 (least) to 3 (most); out-of-range values are clamped.
func NewWebRTCDetector(sampleRate, mode int) (*WebRTCDetector, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "webrtc vad: sample rate %d not supported", sampleRate)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "webrtc vad: create")
	}
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}
	if err := v.SetMode(mode); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeConfigInvalid, "webrtc vad: set mode %d", mode)
	}
	return &WebRTCDetector{vad: v, sampleRate: sampleRate}, nil
}

// IsSpeech implements Detector.
func (d *WebRTCDetector) IsSpeech(f audio.Frame) (bool, error) {
	if f.Channels != 1 || f.Rate != d.sampleRate {
		return false, apperr.Newf(apperr.CodeFormatMismatch, "webrtc vad: got %s, want %dHz mono", f.Format(), d.sampleRate)
	}

	window := d.sampleRate / 100 // 10ms
	for off := 0; off+window <= len(f.Samples); off += window {
		active, err := d.vad.Process(d.sampleRate, pcmBytes(f.Samples[off:off+window]))
		if err != nil {
			return false, apperr.Wrap(err, apperr.CodeRecognitionError, "webrtc vad: process window")
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
