// Package dispatch routes final transcripts to registered actions. It is the
// consumer boundary of the pipeline: recognition ends here and command
// execution begins.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// Outcome is an action's verdict on a transcript.
type Outcome int

const (
	// NotProcessed means the text was not for this action; the dispatcher
	// keeps looking.
	NotProcessed Outcome = iota

	// Processed means the action consumed the text.
	Processed

	// FutureText means the action consumed the text and claims every
	// following transcript until it returns something other than
	// FutureText. Used for multi-step commands ("start dictation ...
	// stop dictation").
	FutureText
)

func (o Outcome) String() string {
	return [...]string{"not_processed", "processed", "future_text"}[o]
}

// Action reacts to recognized text. Act must be safe to call from the single
// pipeline worker goroutine; long work belongs on the action's own goroutine.
type Action interface {
	Name() string
	Act(ctx context.Context, text string) (Outcome, error)
}

// Dispatcher holds actions in registration order. The first action to
// process a transcript wins; an action holding a FutureText claim preempts
// the scan entirely.
type Dispatcher struct {
	mu        sync.Mutex
	actions   []Action
	exclusive Action
	log       *slog.Logger
}

// New builds an empty dispatcher.
func New(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log}
}

// Register appends an action. Registration order is priority order.
func (d *Dispatcher) Register(a Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, a)
}

// Dispatch offers text to the actions and reports which one, if any,
// consumed it. An action error stops the scan; the text is considered
// handled by the failing action.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (string, bool, error) {
	d.mu.Lock()
	exclusive := d.exclusive
	actions := d.actions
	d.mu.Unlock()

	if exclusive != nil {
		outcome, err := exclusive.Act(ctx, text)
		if err != nil {
			d.release(exclusive)
			return exclusive.Name(), true, apperr.Wrapf(err, apperr.CodeRecognitionError, "action %s", exclusive.Name())
		}
		if outcome != FutureText {
			d.release(exclusive)
		}
		if outcome == NotProcessed {
			// The claim holder passed; fall through to the others. It has
			// already seen this text, so the scan skips it.
			return d.scan(ctx, actions, text, exclusive)
		}
		return exclusive.Name(), true, nil
	}

	return d.scan(ctx, actions, text, nil)
}

func (d *Dispatcher) scan(ctx context.Context, actions []Action, text string, skip Action) (string, bool, error) {
	for _, a := range actions {
		if a == skip {
			continue
		}
		outcome, err := a.Act(ctx, text)
		if err != nil {
			return a.Name(), true, apperr.Wrapf(err, apperr.CodeRecognitionError, "action %s", a.Name())
		}
		switch outcome {
		case Processed:
			return a.Name(), true, nil
		case FutureText:
			d.claim(a)
			return a.Name(), true, nil
		}
	}
	d.log.Debug("transcript unhandled", "text", text)
	return "", false, nil
}

func (d *Dispatcher) claim(a Action) {
	d.mu.Lock()
	d.exclusive = a
	d.mu.Unlock()
	d.log.Debug("action claimed future text", "action", a.Name())
}

func (d *Dispatcher) release(a Action) {
	d.mu.Lock()
	if d.exclusive == a {
		d.exclusive = nil
	}
	d.mu.Unlock()
}
