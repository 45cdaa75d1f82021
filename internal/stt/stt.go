// Package stt defines the speech-to-text engine contracts. Engines declare
// their capabilities and the session layer picks the matching drive mode:
// streaming engines consume frames as they arrive, batch engines consume a
// complete utterance after it closes.
package stt

import (
	"context"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// Result is a recognition outcome. Partial results carry Final=false and may
// be revised by later partials; exactly one Final=true result ends each
// utterance. Confidence is 0 when the engine does not report one.
type Result struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
	EngineID   string  `json:"engine_id"`
}

// Capabilities describes what an engine can do and what it needs.
type Capabilities struct {
	// Streaming engines accept incremental frames; others take whole
	// utterances.
	Streaming bool

	// PartialResults means the stream emits interim hypotheses before the
	// final result. Only meaningful when Streaming is true.
	PartialResults bool

	// RequiredFormat is the exact frame format the engine accepts. Audio
	// is converted to this format before it reaches the engine.
	RequiredFormat audio.Format
}

// Recognizer is the capability surface every engine exposes. A recognizer
// additionally implements StreamingRecognizer or BatchRecognizer (or both);
// a recognizer serves at most one utterance at a time.
type Recognizer interface {
	// ID identifies the engine, e.g. "vosk".
	ID() string

	Capabilities() Capabilities

	// Close releases models, subprocesses and native handles. The
	// recognizer is unusable afterwards.
	Close() error
}

// StreamingRecognizer opens a per-utterance stream.
type StreamingRecognizer interface {
	Recognizer

	// Start opens a stream for one utterance. It fails if a previous
	// stream is still open.
	Start(ctx context.Context) (Stream, error)
}

// Stream is a single utterance in flight on a streaming engine.
type Stream interface {
	// Feed submits the next frame. Frames must match the engine's
	// required format; a mismatch fails with FORMAT_MISMATCH and the
	// stream stays usable.
	Feed(f audio.Frame) error

	// Partials emits interim hypotheses in the order the engine produced
	// them. The channel closes when the stream finishes or aborts.
	Partials() <-chan Result

	// Finish signals end of audio and blocks for the final result. The
	// context bounds the wait; on expiry the stream is aborted and the
	// error carries TIMEOUT.
	Finish(ctx context.Context) (Result, error)

	// Abort discards the utterance without producing a final result.
	// Safe to call at any point, including after Finish.
	Abort()
}

// BatchRecognizer transcribes complete utterances.
type BatchRecognizer interface {
	Recognizer

	// Recognize transcribes a closed utterance. The context bounds the
	// engine run; cancellation aborts it with no result.
	Recognize(ctx context.Context, u *audio.Utterance) (Result, error)
}

// CheckFormat verifies a frame against an engine's required format and
// returns a FORMAT_MISMATCH error naming both when it doesn't.
func CheckFormat(f audio.Frame, want audio.Format) error {
	if got := f.Format(); got != want {
		return apperr.Newf(apperr.CodeFormatMismatch, "frame format %s, engine requires %s", got, want)
	}
	return nil
}
