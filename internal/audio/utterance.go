package audio

import (
	"sync"
	"time"
)

// Utterance is one contiguous span of detected speech. The segmenter owns it
// while open and appends frames as speech continues; Close hands ownership to
// the recognition session and makes the utterance immutable.
type Utterance struct {
	mu     sync.Mutex
	frames []Frame
	start  time.Time
	end    time.Time
	closed bool
}

// NewUtterance starts an utterance at the given capture instant.
func NewUtterance(start time.Time) *Utterance {
	return &Utterance{start: start}
}

// Append adds a frame while the utterance is open. Appending to a closed
// utterance is a no-op returning false.
func (u *Utterance) Append(f Frame) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return false
	}
	u.frames = append(u.frames, f)
	return true
}

// Close seals the utterance at the given instant. Calling Close again is a
// no-op. The end time is clamped so Start() < End() always holds.
func (u *Utterance) Close(end time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return
	}
	if !end.After(u.start) {
		d := u.durationLocked()
		if d <= 0 {
			d = time.Millisecond
		}
		end = u.start.Add(d)
	}
	u.end = end
	u.closed = true
}

// Closed reports whether the utterance has been sealed.
func (u *Utterance) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// Start returns the speech onset instant.
func (u *Utterance) Start() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.start
}

// End returns the close instant; zero while the utterance is open.
func (u *Utterance) End() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.end
}

// Frames returns the captured frames in strict capture order.
func (u *Utterance) Frames() []Frame {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Frame, len(u.frames))
	copy(out, u.frames)
	return out
}

// FrameCount returns the number of frames without copying.
func (u *Utterance) FrameCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.frames)
}

// Duration returns the summed audio length of all frames.
func (u *Utterance) Duration() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.durationLocked()
}

func (u *Utterance) durationLocked() time.Duration {
	var d time.Duration
	for _, f := range u.frames {
		d += f.Duration()
	}
	return d
}

// PCM concatenates all frame samples into one buffer for batch recognizers.
func (u *Utterance) PCM() []int16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, f := range u.frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.frames {
		out = append(out, f.Samples...)
	}
	return out
}
