package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lipschultz/hwinarion/internal/audio"
	"github.com/lipschultz/hwinarion/internal/dispatch"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/stt"
	"github.com/lipschultz/hwinarion/internal/transcript"
	"github.com/lipschultz/hwinarion/internal/vad"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

const frameDur = 20 * time.Millisecond

// fakeSource plays a fixed frame script and then reports err (nil for a
// clean end of stream).
type fakeSource struct {
	ch  chan audio.Frame
	err error
}

func newFakeSource(t *testing.T, levels []int16, err error) *fakeSource {
	t.Helper()
	s := &fakeSource{ch: make(chan audio.Frame, len(levels)), err: err}
	base := time.Now()
	for i, lvl := range levels {
		samples := make([]int16, 320)
		for j := range samples {
			samples[j] = lvl
		}
		f, ferr := audio.NewFrame(samples, 16000, 1, base.Add(time.Duration(i)*frameDur))
		if ferr != nil {
			t.Fatal(ferr)
		}
		s.ch <- f
	}
	close(s.ch)
	return s
}

func (s *fakeSource) Frames() <-chan audio.Frame { return s.ch }
func (s *fakeSource) Err() error                 { return s.err }
func (s *fakeSource) Close() error               { return nil }

// fakeBatch returns a fixed transcript for every utterance.
type fakeBatch struct {
	text  string
	err   error
	calls int
}

func (m *fakeBatch) ID() string { return "fake" }
func (m *fakeBatch) Capabilities() stt.Capabilities {
	return stt.Capabilities{RequiredFormat: testFormat}
}
func (m *fakeBatch) Close() error { return nil }
func (m *fakeBatch) Recognize(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
	m.calls++
	if m.err != nil {
		return stt.Result{}, m.err
	}
	return stt.Result{Text: m.text, Final: true, EngineID: "fake"}, nil
}

type recordingAction struct {
	texts []string
}

func (a *recordingAction) Name() string { return "recorder" }
func (a *recordingAction) Act(ctx context.Context, text string) (dispatch.Outcome, error) {
	a.texts = append(a.texts, text)
	return dispatch.Processed, nil
}

func repeat(lvl int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = lvl
	}
	return out
}

func speechScript() []int16 {
	return append(append(repeat(0, 5), repeat(10000, 10)...), repeat(0, 10)...)
}

func testVAD() vad.Config {
	return vad.Config{
		MinSpeech:       2 * frameDur,
		TrailingSilence: 5 * frameDur,
	}
}

func TestRunRecognizesAndDispatches(t *testing.T) {
	src := newFakeSource(t, speechScript(), nil)
	rec := &fakeBatch{text: "open the browser"}
	action := &recordingAction{}
	d := dispatch.New(nil)
	d.Register(action)
	store := transcript.NewStore(10, 64)

	p := New(src, rec, d, store, Config{
		Detector: vad.NewEnergyDetector(500),
		VAD:      testVAD(),
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if rec.calls != 1 {
		t.Fatalf("recognizer called %d times, want 1", rec.calls)
	}
	if len(action.texts) != 1 || action.texts[0] != "open the browser" {
		t.Errorf("dispatched texts = %v", action.texts)
	}

	last, ok := store.Last()
	if !ok {
		t.Fatal("store is empty")
	}
	if last.Text != "open the browser" || !last.Handled || last.Action != "recorder" {
		t.Errorf("entry = %+v", last)
	}
	if last.Engine != "fake" {
		t.Errorf("engine = %q", last.Engine)
	}

	st := p.Stats()
	if st.Utterances != 1 || st.Completed != 1 || st.Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.FramesCaptured != int64(len(speechScript())) {
		t.Errorf("frames captured = %d, want %d", st.FramesCaptured, len(speechScript()))
	}
}

func TestRunEmitsFinalEvent(t *testing.T) {
	src := newFakeSource(t, speechScript(), nil)
	store := transcript.NewStore(10, 64)
	p := New(src, &fakeBatch{text: "hello"}, dispatch.New(nil), store, Config{
		Detector: vad.NewEnergyDetector(500),
		VAD:      testVAD(),
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	var sawFinal bool
	for {
		select {
		case e := <-store.Events():
			if e.Kind == transcript.EventFinal && e.Text == "hello" {
				sawFinal = true
			}
			continue
		default:
		}
		break
	}
	if !sawFinal {
		t.Error("no final event emitted")
	}
}

func TestRunRecognitionFailure(t *testing.T) {
	src := newFakeSource(t, speechScript(), nil)
	rec := &fakeBatch{err: apperr.New(apperr.CodeRecognitionError, "model exploded")}
	store := transcript.NewStore(10, 64)
	p := New(src, rec, dispatch.New(nil), store, Config{
		Detector: vad.NewEnergyDetector(500),
		VAD:      testVAD(),
	})

	// A failed utterance is recoverable; the pipeline itself succeeds.
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := p.Stats()
	if st.Failed != 1 || st.Completed != 0 {
		t.Errorf("stats = %+v", st)
	}
	if _, ok := store.Last(); ok {
		t.Error("failed utterance produced a transcript entry")
	}
}

func TestRunSourceFailure(t *testing.T) {
	boom := apperr.New(apperr.CodeDeviceDisconnected, "usb yanked")
	src := newFakeSource(t, repeat(0, 3), boom)
	store := transcript.NewStore(10, 64)
	p := New(src, &fakeBatch{text: "x"}, dispatch.New(nil), store, Config{
		Detector: vad.NewEnergyDetector(500),
		VAD:      testVAD(),
	})

	err := p.Run(context.Background())
	if !apperr.IsCode(err, apperr.CodeDeviceDisconnected) {
		t.Fatalf("Run error = %v, want DEVICE_DISCONNECTED", err)
	}

	var sawDisconnect bool
	for {
		select {
		case e := <-store.Events():
			if e.Kind == transcript.EventDeviceDisconnected {
				sawDisconnect = true
			}
			continue
		default:
		}
		break
	}
	if !sawDisconnect {
		t.Error("no device_disconnected event emitted")
	}
}

func TestRunCancelled(t *testing.T) {
	// A source that never produces keeps Run blocked until cancel.
	src := &fakeSource{ch: make(chan audio.Frame)}
	p := New(src, &fakeBatch{text: "x"}, dispatch.New(nil), transcript.NewStore(10, 64), Config{
		Detector: vad.NewEnergyDetector(500),
		VAD:      testVAD(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
