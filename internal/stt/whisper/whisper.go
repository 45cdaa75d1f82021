// Package whisper drives whisper.cpp through its cgo bindings. Whisper has
// no incremental mode, so it runs as a batch engine over closed utterances.
package whisper

import (
	"context"
	"io"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/stt"
)

// modelSampleRate is fixed by the whisper architecture.
const modelSampleRate = 16000

// Options tune engine construction.
type Options struct {
	// Language is the transcription language, e.g. "en". "auto" enables
	// detection. Empty defaults to "auto".
	Language string
}

// Engine wraps one loaded ggml model.
type Engine struct {
	mu       sync.Mutex
	model    whisper.Model
	language string
	closed   bool

	// inflight tracks a run that outlived its finalize deadline. Close must
	// not free the model under it.
	inflight sync.WaitGroup
}

var _ stt.BatchRecognizer = (*Engine)(nil)

// New loads the ggml model at modelPath.
func New(modelPath string, opts Options) (*Engine, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeEngineUnavailable, "whisper: load model %s", modelPath)
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	return &Engine{model: model, language: lang}, nil
}

func (e *Engine) ID() string { return "whisper" }

func (e *Engine) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      false,
		PartialResults: false,
		RequiredFormat: audio.Format{SampleRate: modelSampleRate, Channels: 1, BitDepth: 16},
	}
}

// Recognize transcribes a closed utterance. One run at a time; the model
// context is not reentrant.
func (e *Engine) Recognize(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
	if !u.Closed() {
		return stt.Result{}, apperr.New(apperr.CodeRecognitionError, "whisper: utterance still open")
	}
	if err := checkUtteranceFormat(u, e.Capabilities().RequiredFormat); err != nil {
		return stt.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, apperr.Wrap(err, apperr.CodeCancelled, "whisper: recognize")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return stt.Result{}, apperr.New(apperr.CodeEngineUnavailable, "whisper: engine closed")
	}

	text, err := awaitRun(ctx, &e.inflight, func() (string, error) {
		return e.run(pcmFloat32(u.PCM()))
	})
	if err != nil {
		return stt.Result{}, err
	}
	return stt.Result{Text: text, Final: true, EngineID: "whisper"}, nil
}

// awaitRun executes run on its own goroutine, tracked by wg, and waits for
// it or for ctx. The cgo call cannot be interrupted: on ctx expiry it keeps
// running in the background with its result discarded, and wg lets Close
// block until it drains.
func awaitRun(ctx context.Context, wg *sync.WaitGroup, run func() (string, error)) (string, error) {
	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		text, err := run()
		done <- outcome{text, err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-ctx.Done():
		return "", apperr.Wrap(ctx.Err(), apperr.CodeTimeout, "whisper: recognize")
	}
}

func (e *Engine) run(samples []float32) (string, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeRecognitionError, "whisper: new context")
	}
	wctx.SetTranslate(false)
	wctx.SetLanguage(e.language)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", apperr.Wrap(err, apperr.CodeRecognitionError, "whisper: process")
	}

	var b strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", apperr.Wrap(err, apperr.CodeRecognitionError, "whisper: read segment")
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(segment.Text))
	}
	return b.String(), nil
}

// Close frees the model once no run is using it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	// A timed-out Process call may still hold the model.
	e.inflight.Wait()
	return e.model.Close()
}

func checkUtteranceFormat(u *audio.Utterance, want audio.Format) error {
	for _, f := range u.Frames() {
		if err := stt.CheckFormat(f, want); err != nil {
			return err
		}
	}
	return nil
}

// pcmFloat32 rescales 16-bit PCM into the [-1, 1] float range whisper.cpp
// expects.
func pcmFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v) / 32768.0
	}
	return out
}
