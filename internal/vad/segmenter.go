package vad

import (
	"time"

	"github.com/lipschultz/hwinarion/internal/audio"
)

// Config holds the segmentation tunables. All three durations are compared
// against accumulated frame durations, so they round to frame granularity.
type Config struct {
	// MinSpeech is how much consecutive speech must accumulate before an
	// utterance opens. Shorter bursts are discarded as noise spikes.
	MinSpeech time.Duration

	// TrailingSilence is how much continuous non-speech closes an open
	// utterance. The trailing silence up to the threshold stays part of
	// the utterance.
	TrailingSilence time.Duration

	// MaxUtterance force-closes an utterance that never goes quiet, so a
	// noisy room cannot produce an unbounded recording. Zero disables the
	// cap.
	MaxUtterance time.Duration
}

// DefaultConfig matches a hands-free desktop microphone.
func DefaultConfig() Config {
	return Config{
		MinSpeech:       150 * time.Millisecond,
		TrailingSilence: 700 * time.Millisecond,
		MaxUtterance:    30 * time.Second,
	}
}

// Hooks receive segmentation callbacks. All hooks run synchronously on the
// goroutine calling Process, in frame order. Nil hooks are skipped.
type Hooks struct {
	// OnUtteranceStart fires once when an utterance opens, before any
	// OnFrame call for it. The utterance already contains the onset frames
	// that satisfied MinSpeech.
	OnUtteranceStart func(u *audio.Utterance)

	// OnFrame fires for every frame appended to the open utterance,
	// including the back-dated onset frames and trailing silence.
	OnFrame func(u *audio.Utterance, f audio.Frame)

	// OnUtteranceEnd fires once when the utterance closes. The utterance
	// is closed and will accept no more frames.
	OnUtteranceEnd func(u *audio.Utterance)
}

type segState int

const (
	stateSilence segState = iota
	stateSpeaking
)

// Segmenter turns a continuous frame stream into bounded utterances. It is
// not safe for concurrent use; exactly one goroutine feeds it.
type Segmenter struct {
	det   Detector
	cfg   Config
	hooks Hooks

	state segState

	// Onset buffer: speech frames seen while still confirming MinSpeech.
	// A single silence frame discards it.
	onset    []audio.Frame
	onsetDur time.Duration

	cur      *audio.Utterance
	utterDur time.Duration
	quietDur time.Duration
	lastEnd  time.Time
}

// NewSegmenter builds a segmenter around det. Zero-value durations in cfg
// other than MaxUtterance fall back to DefaultConfig.
func NewSegmenter(det Detector, cfg Config, hooks Hooks) *Segmenter {
	def := DefaultConfig()
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = def.MinSpeech
	}
	if cfg.TrailingSilence <= 0 {
		cfg.TrailingSilence = def.TrailingSilence
	}
	return &Segmenter{det: det, cfg: cfg, hooks: hooks}
}

// Speaking reports whether an utterance is currently open.
func (s *Segmenter) Speaking() bool { return s.state == stateSpeaking }

// Process feeds the next frame through the state machine. Detector errors
// propagate; the frame that failed is treated as silence so a flaky detector
// cannot hold an utterance open forever.
func (s *Segmenter) Process(f audio.Frame) error {
	speech, err := s.det.IsSpeech(f)
	s.lastEnd = f.Timestamp.Add(f.Duration())

	switch s.state {
	case stateSilence:
		if !speech {
			s.onset = nil
			s.onsetDur = 0
			return err
		}
		s.onset = append(s.onset, f)
		s.onsetDur += f.Duration()
		if s.onsetDur >= s.cfg.MinSpeech {
			s.open()
		}

	case stateSpeaking:
		s.cur.Append(f)
		s.utterDur += f.Duration()
		if s.hooks.OnFrame != nil {
			s.hooks.OnFrame(s.cur, f)
		}
		if speech {
			s.quietDur = 0
		} else {
			s.quietDur += f.Duration()
		}
		if s.quietDur >= s.cfg.TrailingSilence {
			s.close(s.lastEnd)
		} else if s.cfg.MaxUtterance > 0 && s.utterDur >= s.cfg.MaxUtterance {
			s.close(s.lastEnd)
		}
	}
	return err
}

// Flush closes any open utterance, as when the source reaches end of stream.
// Pending onset frames that never satisfied MinSpeech are discarded.
func (s *Segmenter) Flush() {
	s.onset = nil
	s.onsetDur = 0
	if s.state == stateSpeaking {
		s.close(s.lastEnd)
	}
}

// open promotes the onset buffer into a new utterance back-dated to the
// first onset frame.
func (s *Segmenter) open() {
	s.cur = audio.NewUtterance(s.onset[0].Timestamp)
	s.utterDur = 0
	s.quietDur = 0
	s.state = stateSpeaking

	if s.hooks.OnUtteranceStart != nil {
		s.hooks.OnUtteranceStart(s.cur)
	}
	for _, f := range s.onset {
		s.cur.Append(f)
		s.utterDur += f.Duration()
		if s.hooks.OnFrame != nil {
			s.hooks.OnFrame(s.cur, f)
		}
	}
	s.onset = nil
	s.onsetDur = 0
}

func (s *Segmenter) close(end time.Time) {
	s.cur.Close(end)
	if s.hooks.OnUtteranceEnd != nil {
		s.hooks.OnUtteranceEnd(s.cur)
	}
	s.cur = nil
	s.utterDur = 0
	s.quietDur = 0
	s.state = stateSilence
}
