// Package session runs one utterance through one recognizer. A session is a
// small state machine: it opens when speech starts, consumes frames while
// speech lasts, and finalizes into exactly one terminal state.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/stt"
)

// State is the session lifecycle position.
type State int

const (
	Idle State = iota
	Listening
	Finalizing
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	return [...]string{"idle", "listening", "finalizing", "completed", "failed", "cancelled"}[s]
}

// Terminal reports whether the session can never leave this state.
func (s State) Terminal() bool { return s >= Completed }

// DefaultFinalizeTimeout bounds the wait for a final result after the
// utterance ends.
const DefaultFinalizeTimeout = 10 * time.Second

// partialBuffer bounds undelivered interim results. A slow consumer loses
// interim results, never the final one.
const partialBuffer = 64

// Config tunes a session.
type Config struct {
	FinalizeTimeout time.Duration
	Logger          *slog.Logger
}

// Session owns its recognizer for the duration of one utterance. Streaming
// recognizers get frames as they arrive; batch recognizers get the buffered
// utterance at End. Not safe for concurrent use except Cancel and Partials.
type Session struct {
	rec  stt.Recognizer
	caps stt.Capabilities
	cfg  Config
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	stream   stt.Stream       // streaming mode
	buffered *audio.Utterance // batch mode
	lastEnd  time.Time
	err      error

	partials chan stt.Result
	fwdDone  chan struct{}
}

// New builds an idle session around rec. The recognizer must not serve any
// other session until this one reaches a terminal state.
func New(rec stt.Recognizer, cfg Config) *Session {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		rec:      rec,
		caps:     rec.Capabilities(),
		cfg:      cfg,
		log:      log,
		state:    Idle,
		partials: make(chan stt.Result, partialBuffer),
		fwdDone:  make(chan struct{}),
	}
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error for Failed sessions, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Partials emits interim hypotheses in engine order. The channel closes once
// no more partials can arrive; it closes without values for batch engines.
func (s *Session) Partials() <-chan stt.Result { return s.partials }

// Begin moves Idle to Listening. For streaming engines this opens the
// per-utterance stream and starts forwarding its partials.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return apperr.Newf(apperr.CodeRecognitionError, "begin in state %s", s.state)
	}
	if err := ctx.Err(); err != nil {
		s.toCancelledLocked()
		return apperr.Wrap(err, apperr.CodeCancelled, "session begin")
	}

	if sr, ok := s.rec.(stt.StreamingRecognizer); ok && s.caps.Streaming {
		stream, err := sr.Start(ctx)
		if err != nil {
			s.state = Failed
			s.err = err
			close(s.partials)
			close(s.fwdDone)
			return err
		}
		s.stream = stream
		go s.forward(stream.Partials())
	} else {
		close(s.fwdDone)
	}

	s.state = Listening
	return nil
}

// Feed submits the next speech frame. Frames must already match the engine's
// required format.
func (s *Session) Feed(f audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Listening {
		return apperr.Newf(apperr.CodeRecognitionError, "feed in state %s", s.state)
	}
	s.lastEnd = f.Timestamp.Add(f.Duration())

	if s.stream != nil {
		return s.stream.Feed(f)
	}

	if err := stt.CheckFormat(f, s.caps.RequiredFormat); err != nil {
		return err
	}
	if s.buffered == nil {
		s.buffered = audio.NewUtterance(f.Timestamp)
	}
	s.buffered.Append(f)
	return nil
}

// End moves Listening through Finalizing to a terminal state and returns the
// final result. The finalize timeout bounds the wait; on expiry the session
// fails with TIMEOUT.
func (s *Session) End(ctx context.Context) (stt.Result, error) {
	s.mu.Lock()
	if s.state != Listening {
		st := s.state
		s.mu.Unlock()
		return stt.Result{}, apperr.Newf(apperr.CodeRecognitionError, "end in state %s", st)
	}
	s.state = Finalizing
	stream := s.stream
	buffered := s.buffered
	lastEnd := s.lastEnd
	s.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FinalizeTimeout)
	defer cancel()

	var res stt.Result
	var err error
	switch {
	case stream != nil:
		res, err = stream.Finish(fctx)
		<-s.fwdDone
	case buffered != nil:
		buffered.Close(lastEnd)
		batch, ok := s.rec.(stt.BatchRecognizer)
		if !ok {
			err = apperr.Newf(apperr.CodeEngineUnavailable, "engine %s has no batch mode", s.rec.ID())
			break
		}
		res, err = batch.Recognize(fctx, buffered)
	default:
		err = apperr.New(apperr.CodeRecognitionError, "utterance carried no audio")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Cancelled {
		// Cancel raced with finalization; cancellation wins.
		return stt.Result{}, apperr.New(apperr.CodeCancelled, "session cancelled")
	}
	if stream == nil {
		close(s.partials)
	}
	if err != nil {
		s.state = Failed
		s.err = err
		s.log.Warn("recognition failed", "engine", s.rec.ID(), "error", err)
		return stt.Result{}, err
	}
	s.state = Completed
	return res, nil
}

// Cancel abandons the utterance from any non-terminal state. No final result
// and no further partials are delivered. Idempotent.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = Cancelled
	stream := s.stream
	s.mu.Unlock()

	if stream != nil {
		stream.Abort()
		<-s.fwdDone
	} else {
		// Batch or never-begun session: the partial channel is still open.
		s.mu.Lock()
		select {
		case <-s.fwdDone:
			close(s.partials)
		default:
			close(s.fwdDone)
			close(s.partials)
		}
		s.mu.Unlock()
	}
	s.log.Debug("session cancelled", "from", prev.String())
}

// toCancelledLocked marks a never-started session cancelled.
func (s *Session) toCancelledLocked() {
	s.state = Cancelled
	close(s.partials)
	close(s.fwdDone)
}

// forward copies stream partials to the session channel in order, dropping
// when the consumer lags. It stops forwarding once the session is cancelled.
func (s *Session) forward(in <-chan stt.Result) {
	defer close(s.fwdDone)
	defer close(s.partials)
	for r := range in {
		s.mu.Lock()
		cancelled := s.state == Cancelled
		s.mu.Unlock()
		if cancelled {
			continue
		}
		select {
		case s.partials <- r:
		default:
		}
	}
}
