package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedAction processes text containing its trigger word.
type scriptedAction struct {
	name    string
	trigger string
	outcome Outcome
	err     error
	calls   []string
}

func (a *scriptedAction) Name() string { return a.name }

func (a *scriptedAction) Act(ctx context.Context, text string) (Outcome, error) {
	a.calls = append(a.calls, text)
	if a.err != nil {
		return NotProcessed, a.err
	}
	if strings.Contains(text, a.trigger) {
		return a.outcome, nil
	}
	return NotProcessed, nil
}

func TestDispatchFirstMatchWins(t *testing.T) {
	browser := &scriptedAction{name: "browser", trigger: "browser", outcome: Processed}
	volume := &scriptedAction{name: "volume", trigger: "volume", outcome: Processed}
	greedy := &scriptedAction{name: "greedy", trigger: "", outcome: Processed}

	d := New(nil)
	d.Register(browser)
	d.Register(volume)
	d.Register(greedy)

	name, handled, err := d.Dispatch(context.Background(), "volume up")
	if err != nil {
		t.Fatal(err)
	}
	if !handled || name != "volume" {
		t.Errorf("dispatched to %q (handled=%v), want volume", name, handled)
	}
	if len(greedy.calls) != 0 {
		t.Error("scan continued past the first match")
	}
}

func TestDispatchUnhandled(t *testing.T) {
	d := New(nil)
	d.Register(&scriptedAction{name: "browser", trigger: "browser", outcome: Processed})

	name, handled, err := d.Dispatch(context.Background(), "make me a sandwich")
	if err != nil {
		t.Fatal(err)
	}
	if handled || name != "" {
		t.Errorf("dispatch = (%q, %v), want unhandled", name, handled)
	}
}

func TestDispatchFutureTextClaim(t *testing.T) {
	dictation := &scriptedAction{name: "dictation", trigger: "start dictation", outcome: FutureText}
	other := &scriptedAction{name: "other", trigger: "", outcome: Processed}

	d := New(nil)
	d.Register(dictation)
	d.Register(other)

	ctx := context.Background()
	if _, _, err := d.Dispatch(ctx, "start dictation"); err != nil {
		t.Fatal(err)
	}

	// While the claim holds, everything goes to the claim holder even
	// though "other" would match.
	dictation.outcome = FutureText
	dictation.trigger = ""
	if name, _, err := d.Dispatch(ctx, "hello world"); err != nil || name != "dictation" {
		t.Fatalf("claimed dispatch went to %q (err=%v)", name, err)
	}

	// Claim released when the holder stops asking for more.
	dictation.outcome = Processed
	if _, _, err := d.Dispatch(ctx, "stop dictation"); err != nil {
		t.Fatal(err)
	}
	if name, _, err := d.Dispatch(ctx, "anything at all"); err != nil || name != "other" {
		t.Fatalf("post-claim dispatch went to %q (err=%v), want other", name, err)
	}

	if len(dictation.calls) != 3 {
		t.Errorf("dictation saw %d texts, want 3", len(dictation.calls))
	}
}

func TestDispatchClaimHolderPasses(t *testing.T) {
	holder := &scriptedAction{name: "holder", trigger: "claim", outcome: FutureText}
	fallback := &scriptedAction{name: "fallback", trigger: "", outcome: Processed}

	d := New(nil)
	d.Register(holder)
	d.Register(fallback)

	ctx := context.Background()
	if _, _, err := d.Dispatch(ctx, "claim this"); err != nil {
		t.Fatal(err)
	}

	// Holder declines the next text; the claim drops and the scan resumes.
	holder.trigger = "nothing matches this"
	holder.outcome = NotProcessed
	name, handled, err := d.Dispatch(ctx, "unrelated text")
	if err != nil {
		t.Fatal(err)
	}
	if !handled || name != "fallback" {
		t.Errorf("dispatch = (%q, %v), want fallback", name, handled)
	}
	// The holder already declined this text; the fallback scan must not
	// offer it a second time.
	if got := len(holder.calls); got != 2 {
		t.Errorf("holder saw %d texts, want 2", got)
	}
}

func TestDispatchActionError(t *testing.T) {
	boom := errors.New("boom")
	d := New(nil)
	d.Register(&scriptedAction{name: "flaky", err: boom})

	name, handled, err := d.Dispatch(context.Background(), "anything")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if !handled || name != "flaky" {
		t.Errorf("dispatch = (%q, %v), want flaky handled", name, handled)
	}
}
