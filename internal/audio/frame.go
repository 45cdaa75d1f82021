// Package audio provides audio value types, microphone and file capture, and
// the bounded frame queue between capture and segmentation.
package audio

import (
	"fmt"
	"math"
	"time"
)

// Format describes a PCM encoding a recognizer requires or a source produces.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// Valid reports whether all fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitDepth > 0
}

// Frame is an immutable chunk of interleaved signed 16-bit PCM samples.
// Ownership transfers with the value: the producing stage must not mutate
// Samples after handing the frame off.
type Frame struct {
	Samples   []int16
	Rate      int
	Channels  int
	Timestamp time.Time
}

// NewFrame validates the frame invariant: sample count must be a whole number
// of interleaved channel groups.
func NewFrame(samples []int16, rate, channels int, ts time.Time) (Frame, error) {
	if rate <= 0 || channels <= 0 {
		return Frame{}, fmt.Errorf("audio: invalid frame format %dHz/%dch", rate, channels)
	}
	if len(samples)%channels != 0 {
		return Frame{}, fmt.Errorf("audio: %d samples not divisible by %d channels", len(samples), channels)
	}
	return Frame{Samples: samples, Rate: rate, Channels: channels, Timestamp: ts}, nil
}

// Format returns the frame's PCM format. Frames always carry 16-bit samples.
func (f Frame) Format() Format {
	return Format{SampleRate: f.Rate, Channels: f.Channels, BitDepth: 16}
}

// SampleCount returns the number of per-channel sample groups.
func (f Frame) SampleCount() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	if f.Rate == 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.Rate)
}

// RMS returns the root-mean-square amplitude over all channels, in 16-bit PCM
// units (0..32767). Used by the energy-based voice activity detector.
func (f Frame) RMS() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(f.Samples)))
}
