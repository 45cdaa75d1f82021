// Package sphinx drives a pocketsphinx decoder as a subprocess. The decoder
// reads raw 16-bit PCM on stdin and prints hypothesis lines on stdout; every
// line is an interim hypothesis and the last line after stdin closes is the
// final one. One subprocess serves one utterance.
package sphinx

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/resilience"
	"github.com/lipschultz/hwinarion/internal/stt"
)

const (
	defaultSampleRate = 16000
	partialBuffer     = 16
)

// Options tune engine construction.
type Options struct {
	// SampleRate the acoustic model expects. Defaults to 16000.
	SampleRate int

	// Breaker guards subprocess spawning. Nil gets a default breaker.
	Breaker *resilience.Breaker
}

// Engine spawns the decoder command per utterance.
type Engine struct {
	cmd     []string
	rate    int
	breaker *resilience.Breaker

	mu     sync.Mutex
	active *stream
	closed bool
}

var _ stt.StreamingRecognizer = (*Engine)(nil)

// New parses the decoder command line, e.g.
// "pocketsphinx_continuous -hmm /models/en-us -infile /dev/stdin".
func New(command string, opts Options) (*Engine, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "sphinx: parse command")
	}
	if len(args) == 0 {
		return nil, apperr.New(apperr.CodeConfigInvalid, "sphinx: empty command")
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.New(resilience.Config{})
	}
	return &Engine{cmd: args, rate: opts.SampleRate, breaker: opts.Breaker}, nil
}

func (e *Engine) ID() string { return "pocketsphinx" }

func (e *Engine) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      true,
		PartialResults: true,
		RequiredFormat: audio.Format{SampleRate: e.rate, Channels: 1, BitDepth: 16},
	}
}

// Start spawns the decoder for one utterance.
func (e *Engine) Start(ctx context.Context) (stt.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, apperr.New(apperr.CodeEngineUnavailable, "sphinx: engine closed")
	}
	if e.active != nil {
		return nil, apperr.New(apperr.CodeRecognitionError, "sphinx: previous stream still open")
	}
	if err := e.breaker.Allow(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeEngineUnavailable, "sphinx: decoder unavailable")
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.breaker.Failure()
		return nil, apperr.Wrap(err, apperr.CodeEngineUnavailable, "sphinx: stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.breaker.Failure()
		return nil, apperr.Wrap(err, apperr.CodeEngineUnavailable, "sphinx: stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		e.breaker.Failure()
		return nil, apperr.Wrapf(err, apperr.CodeEngineUnavailable, "sphinx: start %s", e.cmd[0])
	}

	s := &stream{
		eng:      e,
		cmd:      cmd,
		stdin:    stdin,
		partials: make(chan stt.Result, partialBuffer),
		read:     make(chan struct{}),
	}
	go s.readLoop(bufio.NewScanner(stdout))
	e.active = s
	return s, nil
}

// Close marks the engine unusable and aborts any open stream.
func (e *Engine) Close() error {
	e.mu.Lock()
	active := e.active
	e.closed = true
	e.mu.Unlock()
	if active != nil {
		active.Abort()
	}
	return nil
}

type stream struct {
	eng      *Engine
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	partials chan stt.Result
	read     chan struct{} // closed when readLoop exits

	lineMu sync.Mutex
	last   string

	doneMu sync.Mutex
	done   bool
}

func (s *stream) Partials() <-chan stt.Result { return s.partials }

// readLoop forwards hypothesis lines as partials and remembers the most
// recent one as the final candidate.
func (s *stream) readLoop(sc *bufio.Scanner) {
	defer close(s.read)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		s.lineMu.Lock()
		s.last = line
		s.lineMu.Unlock()
		select {
		case s.partials <- stt.Result{Text: line, EngineID: "pocketsphinx"}:
		default:
		}
	}
}

func (s *stream) Feed(f audio.Frame) error {
	if err := stt.CheckFormat(f, s.eng.Capabilities().RequiredFormat); err != nil {
		return err
	}
	s.doneMu.Lock()
	defer s.doneMu.Unlock()
	if s.done {
		return apperr.New(apperr.CodeRecognitionError, "sphinx: feed on finished stream")
	}
	if _, err := s.stdin.Write(pcmBytes(f.Samples)); err != nil {
		return apperr.Wrap(err, apperr.CodeRecognitionError, "sphinx: write pcm")
	}
	return nil
}

// Finish closes stdin and waits for the decoder to flush its last
// hypothesis and exit.
func (s *stream) Finish(ctx context.Context) (stt.Result, error) {
	s.doneMu.Lock()
	if s.done {
		s.doneMu.Unlock()
		return stt.Result{}, apperr.New(apperr.CodeRecognitionError, "sphinx: finish on finished stream")
	}
	s.done = true
	s.stdin.Close()
	s.doneMu.Unlock()

	waited := make(chan error, 1)
	go func() {
		<-s.read
		waited <- s.cmd.Wait()
	}()

	select {
	case err := <-waited:
		s.detach()
		if err != nil {
			s.eng.breaker.Failure()
			return stt.Result{}, apperr.Wrap(err, apperr.CodeRecognitionError, "sphinx: decoder exited")
		}
		s.eng.breaker.Success()
		s.lineMu.Lock()
		text := s.last
		s.lineMu.Unlock()
		return stt.Result{Text: text, Final: true, EngineID: "pocketsphinx"}, nil
	case <-ctx.Done():
		s.cmd.Process.Kill()
		<-waited
		s.detach()
		s.eng.breaker.Failure()
		return stt.Result{}, apperr.Wrap(ctx.Err(), apperr.CodeTimeout, "sphinx: finish")
	}
}

func (s *stream) Abort() {
	s.doneMu.Lock()
	if s.done {
		s.doneMu.Unlock()
		return
	}
	s.done = true
	s.stdin.Close()
	s.doneMu.Unlock()

	s.cmd.Process.Kill()
	<-s.read
	s.cmd.Wait()
	s.detach()
}

// detach closes the partial channel and releases the engine slot.
func (s *stream) detach() {
	close(s.partials)
	s.eng.mu.Lock()
	if s.eng.active == s {
		s.eng.active = nil
	}
	s.eng.mu.Unlock()
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
