// Package coqui drives the Coqui STT command-line client. Each utterance is
// written to a temporary WAV file and handed to the client, which prints a
// JSON object with the transcript on stdout.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/resilience"
	"github.com/lipschultz/hwinarion/internal/stt"
)

const defaultSampleRate = 16000

// Options tune engine construction.
type Options struct {
	// SampleRate the model expects. Defaults to 16000.
	SampleRate int

	// ModelPath is passed to the client as --model when set.
	ModelPath string

	// Breaker guards client invocations. Nil gets a default breaker.
	Breaker *resilience.Breaker
}

// Engine invokes the client once per utterance.
type Engine struct {
	cmd     []string
	rate    int
	model   string
	breaker *resilience.Breaker

	mu     sync.Mutex
	closed bool
}

var _ stt.BatchRecognizer = (*Engine)(nil)

// New parses the client command line, e.g. "stt --json".
func New(command string, opts Options) (*Engine, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "coqui: parse command")
	}
	if len(args) == 0 {
		return nil, apperr.New(apperr.CodeConfigInvalid, "coqui: empty command")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.New(resilience.Config{})
	}
	return &Engine{cmd: args, rate: opts.SampleRate, model: opts.ModelPath, breaker: opts.Breaker}, nil
}

func (e *Engine) ID() string { return "coqui" }

func (e *Engine) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      false,
		PartialResults: false,
		RequiredFormat: audio.Format{SampleRate: e.rate, Channels: 1, BitDepth: 16},
	}
}

type clientResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognize writes the utterance to a temp WAV and runs the client on it.
func (e *Engine) Recognize(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
	if !u.Closed() {
		return stt.Result{}, apperr.New(apperr.CodeRecognitionError, "coqui: utterance still open")
	}
	for _, f := range u.Frames() {
		if err := stt.CheckFormat(f, e.Capabilities().RequiredFormat); err != nil {
			return stt.Result{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return stt.Result{}, apperr.New(apperr.CodeEngineUnavailable, "coqui: engine closed")
	}
	if err := e.breaker.Allow(); err != nil {
		return stt.Result{}, apperr.Wrap(err, apperr.CodeEngineUnavailable, "coqui: client unavailable")
	}

	res, err := e.runOnce(ctx, u)
	if err != nil {
		e.breaker.Failure()
		return stt.Result{}, err
	}
	e.breaker.Success()
	return res, nil
}

func (e *Engine) runOnce(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
	file, err := os.CreateTemp("", "hwinarion_coqui_*.wav")
	if err != nil {
		return stt.Result{}, apperr.Wrap(err, apperr.CodeRecognitionError, "coqui: temp file")
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWAV(file, u.PCM(), e.rate); err != nil {
		return stt.Result{}, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if e.model != "" {
		args = append(args, "--model", e.model)
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stt.Result{}, apperr.Wrap(ctx.Err(), apperr.CodeTimeout, "coqui: recognize")
		}
		return stt.Result{}, apperr.Wrapf(err, apperr.CodeRecognitionError, "coqui: client failed: %s", strings.TrimSpace(stderr.String()))
	}

	var out clientResult
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return stt.Result{}, apperr.Wrap(err, apperr.CodeRecognitionError, "coqui: decode client output")
	}
	return stt.Result{
		Text:       strings.TrimSpace(out.Text),
		Final:      true,
		Confidence: out.Confidence,
		EngineID:   "coqui",
	}, nil
}

// Close marks the engine unusable. There is no persistent state to release.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func writeWAV(file *os.File, pcm []int16, rate int) error {
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:   make([]int, len(pcm)),
	}
	for i, v := range pcm {
		buf.Data[i] = int(v)
	}

	enc := wav.NewEncoder(file, rate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return apperr.Wrap(err, apperr.CodeRecognitionError, "coqui: write wav")
	}
	if err := enc.Close(); err != nil {
		return apperr.Wrap(err, apperr.CodeRecognitionError, "coqui: close wav")
	}
	return nil
}
