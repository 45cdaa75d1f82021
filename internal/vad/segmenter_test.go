package vad

import (
	"errors"
	"testing"
	"time"

	"github.com/lipschultz/hwinarion/internal/audio"
)

const (
	testRate     = 16000
	testFrameDur = 20 * time.Millisecond
	testFrameLen = 320 // 20ms at 16kHz mono
)

// trace builds a frame sequence from per-frame amplitudes. A constant
// amplitude frame has RMS equal to that amplitude, so levels double as RMS
// values against the energy detector.
func trace(t *testing.T, base time.Time, levels []int16) []audio.Frame {
	t.Helper()
	frames := make([]audio.Frame, len(levels))
	for i, lvl := range levels {
		samples := make([]int16, testFrameLen)
		for j := range samples {
			samples[j] = lvl
		}
		f, err := audio.NewFrame(samples, testRate, 1, base.Add(time.Duration(i)*testFrameDur))
		if err != nil {
			t.Fatal(err)
		}
		frames[i] = f
	}
	return frames
}

func repeat(lvl int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = lvl
	}
	return out
}

type capture struct {
	started []*audio.Utterance
	ended   []*audio.Utterance
	frames  int
}

func (c *capture) hooks() Hooks {
	return Hooks{
		OnUtteranceStart: func(u *audio.Utterance) { c.started = append(c.started, u) },
		OnFrame:          func(u *audio.Utterance, f audio.Frame) { c.frames++ },
		OnUtteranceEnd:   func(u *audio.Utterance) { c.ended = append(c.ended, u) },
	}
}

func TestSegmenterSingleUtterance(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	levels := append(append(repeat(0, 10), repeat(10000, 20)...), repeat(0, 15)...)

	var got capture
	seg := NewSegmenter(NewEnergyDetector(500), Config{
		MinSpeech:       5 * testFrameDur,
		TrailingSilence: 10 * testFrameDur,
	}, got.hooks())

	for _, f := range trace(t, base, levels) {
		if err := seg.Process(f); err != nil {
			t.Fatal(err)
		}
	}

	if len(got.started) != 1 || len(got.ended) != 1 {
		t.Fatalf("got %d starts, %d ends, want exactly one utterance", len(got.started), len(got.ended))
	}
	u := got.ended[0]
	if !u.Closed() {
		t.Error("utterance not closed at OnUtteranceEnd")
	}

	// Speech runs frames 10-29. The onset back-dates the start to frame 10
	// and the trailing silence threshold lands at the end of frame 39, so
	// the utterance holds frames 10 through 39.
	if want := base.Add(10 * testFrameDur); !u.Start().Equal(want) {
		t.Errorf("start = %v, want %v (back-dated to first speech frame)", u.Start(), want)
	}
	if want := base.Add(40 * testFrameDur); !u.End().Equal(want) {
		t.Errorf("end = %v, want %v", u.End(), want)
	}
	if u.FrameCount() != 30 {
		t.Errorf("frame count = %d, want 30", u.FrameCount())
	}
	if got.frames != 30 {
		t.Errorf("OnFrame fired %d times, want 30", got.frames)
	}
}

func TestSegmenterRejectsNoiseSpike(t *testing.T) {
	base := time.Now()
	// Three speech frames, below the five-frame minimum, then quiet.
	levels := append(append(repeat(0, 5), repeat(10000, 3)...), repeat(0, 20)...)

	var got capture
	seg := NewSegmenter(NewEnergyDetector(500), Config{
		MinSpeech:       5 * testFrameDur,
		TrailingSilence: 10 * testFrameDur,
	}, got.hooks())

	for _, f := range trace(t, base, levels) {
		if err := seg.Process(f); err != nil {
			t.Fatal(err)
		}
	}
	if len(got.started) != 0 {
		t.Errorf("noise spike opened %d utterances, want 0", len(got.started))
	}
}

func TestSegmenterOnsetResetBySilenceGap(t *testing.T) {
	base := time.Now()
	// Speech never runs five consecutive frames: 3 on, 1 off, repeated.
	var levels []int16
	for i := 0; i < 8; i++ {
		levels = append(levels, repeat(10000, 3)...)
		levels = append(levels, 0)
	}

	var got capture
	seg := NewSegmenter(NewEnergyDetector(500), Config{
		MinSpeech:       5 * testFrameDur,
		TrailingSilence: 10 * testFrameDur,
	}, got.hooks())

	for _, f := range trace(t, base, levels) {
		if err := seg.Process(f); err != nil {
			t.Fatal(err)
		}
	}
	if len(got.started) != 0 {
		t.Errorf("interrupted onsets opened %d utterances, want 0", len(got.started))
	}
}

func TestSegmenterMaxUtteranceForceClose(t *testing.T) {
	base := time.Now()
	levels := repeat(10000, 50) // never goes quiet

	var got capture
	seg := NewSegmenter(NewEnergyDetector(500), Config{
		MinSpeech:       5 * testFrameDur,
		TrailingSilence: 10 * testFrameDur,
		MaxUtterance:    20 * testFrameDur,
	}, got.hooks())

	for _, f := range trace(t, base, levels) {
		if err := seg.Process(f); err != nil {
			t.Fatal(err)
		}
	}

	if len(got.ended) < 1 {
		t.Fatal("continuous speech never force-closed")
	}
	first := got.ended[0]
	if first.FrameCount() != 20 {
		t.Errorf("force-closed utterance holds %d frames, want 20", first.FrameCount())
	}
	// Segmentation resumes after the forced close.
	if len(got.started) < 2 {
		t.Errorf("got %d utterances, want a second one after the forced close", len(got.started))
	}
}

func TestSegmenterFlushClosesOpenUtterance(t *testing.T) {
	base := time.Now()
	levels := append(repeat(0, 5), repeat(10000, 10)...)

	var got capture
	seg := NewSegmenter(NewEnergyDetector(500), Config{
		MinSpeech:       5 * testFrameDur,
		TrailingSilence: 10 * testFrameDur,
	}, got.hooks())

	for _, f := range trace(t, base, levels) {
		if err := seg.Process(f); err != nil {
			t.Fatal(err)
		}
	}
	if !seg.Speaking() {
		t.Fatal("expected an open utterance before flush")
	}

	seg.Flush()

	if seg.Speaking() {
		t.Error("still speaking after flush")
	}
	if len(got.ended) != 1 {
		t.Fatalf("flush produced %d ends, want 1", len(got.ended))
	}
	if !got.ended[0].Closed() {
		t.Error("flushed utterance not closed")
	}
}

type faultyDetector struct{ err error }

func (d *faultyDetector) IsSpeech(audio.Frame) (bool, error) { return false, d.err }

func TestSegmenterDetectorErrorPropagates(t *testing.T) {
	base := time.Now()
	boom := errors.New("boom")
	seg := NewSegmenter(&faultyDetector{err: boom}, Config{}, Hooks{})

	f := trace(t, base, []int16{10000})[0]
	if err := seg.Process(f); !errors.Is(err, boom) {
		t.Errorf("Process error = %v, want %v", err, boom)
	}
	if seg.Speaking() {
		t.Error("faulty detector opened an utterance")
	}
}
