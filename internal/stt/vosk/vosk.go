// Package vosk drives the Vosk recognizer through its cgo bindings. Vosk is
// the default engine: streaming, partial results, offline models.
package vosk

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/stt"
)

const defaultSampleRate = 16000

// partialBuffer bounds in-flight interim hypotheses. A slow reader loses
// interim results, never the final one.
const partialBuffer = 16

// Options tune engine construction.
type Options struct {
	// SampleRate the model was trained for. Defaults to 16000.
	SampleRate int

	// Vocabulary restricts recognition to the given phrases plus an
	// unknown-word token. Empty means open vocabulary.
	Vocabulary []string

	// WordTimings makes results carry per-word confidences, which feed
	// the aggregate confidence on final results.
	WordTimings bool
}

// Engine wraps one loaded model and one native recognizer. It serves one
// stream at a time.
type Engine struct {
	mu     sync.Mutex
	model  *vosk.VoskModel
	rec    *vosk.VoskRecognizer
	rate   int
	active *stream
	closed bool
}

var _ stt.StreamingRecognizer = (*Engine)(nil)

// New loads the model at modelPath. Loading is the expensive part; keep one
// Engine alive for the process lifetime.
func New(modelPath string, opts Options) (*Engine, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaultSampleRate
	}

	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeEngineUnavailable, "vosk: load model %s", modelPath)
	}

	var rec *vosk.VoskRecognizer
	if len(opts.Vocabulary) > 0 {
		grammar, err := json.Marshal(append(opts.Vocabulary, "[unk]"))
		if err != nil {
			model.Free()
			return nil, apperr.Wrap(err, apperr.CodeConfigInvalid, "vosk: encode vocabulary")
		}
		rec, err = vosk.NewRecognizerGrm(model, float64(opts.SampleRate), string(grammar))
		if err != nil {
			model.Free()
			return nil, apperr.Wrap(err, apperr.CodeEngineUnavailable, "vosk: create grammar recognizer")
		}
	} else {
		rec, err = vosk.NewRecognizer(model, float64(opts.SampleRate))
		if err != nil {
			model.Free()
			return nil, apperr.Wrap(err, apperr.CodeEngineUnavailable, "vosk: create recognizer")
		}
	}
	if opts.WordTimings {
		rec.SetWords(1)
	}

	return &Engine{model: model, rec: rec, rate: opts.SampleRate}, nil
}

func (e *Engine) ID() string { return "vosk" }

func (e *Engine) Capabilities() stt.Capabilities {
	return stt.Capabilities{
		Streaming:      true,
		PartialResults: true,
		RequiredFormat: audio.Format{SampleRate: e.rate, Channels: 1, BitDepth: 16},
	}
}

// Start opens a stream for one utterance.
func (e *Engine) Start(ctx context.Context) (stt.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeCancelled, "vosk: start")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, apperr.New(apperr.CodeEngineUnavailable, "vosk: engine closed")
	}
	if e.active != nil {
		return nil, apperr.New(apperr.CodeRecognitionError, "vosk: previous stream still open")
	}

	s := &stream{
		eng:      e,
		partials: make(chan stt.Result, partialBuffer),
	}
	e.active = s
	return s, nil
}

// Close frees the native recognizer and model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.active != nil {
		e.active.closeLocked()
		e.active = nil
	}
	e.rec.Free()
	e.model.Free()
	return nil
}

type stream struct {
	eng      *Engine
	partials chan stt.Result

	// Text segments vosk already finalized mid-utterance when it spotted
	// its own endpoint. Joined ahead of the closing FinalResult.
	segments []string

	lastPartial string
	done        bool
}

func (s *stream) Partials() <-chan stt.Result { return s.partials }

func (s *stream) Feed(f audio.Frame) error {
	if err := stt.CheckFormat(f, s.eng.Capabilities().RequiredFormat); err != nil {
		return err
	}

	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	if s.done {
		return apperr.New(apperr.CodeRecognitionError, "vosk: feed on finished stream")
	}

	if s.eng.rec.AcceptWaveform(pcmBytes(f.Samples)) != 0 {
		// Vosk hit an internal endpoint and sealed a segment.
		if text := parseText(s.eng.rec.Result()); text != "" {
			s.segments = append(s.segments, text)
			s.emit(stt.Result{Text: strings.Join(s.segments, " "), EngineID: "vosk"})
		}
		return nil
	}

	if partial := parsePartial(s.eng.rec.PartialResult()); partial != "" && partial != s.lastPartial {
		s.lastPartial = partial
		text := partial
		if len(s.segments) > 0 {
			text = strings.Join(s.segments, " ") + " " + partial
		}
		s.emit(stt.Result{Text: text, EngineID: "vosk"})
	}
	return nil
}

func (s *stream) Finish(ctx context.Context) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		s.Abort()
		return stt.Result{}, apperr.Wrap(err, apperr.CodeTimeout, "vosk: finish")
	}

	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	if s.done {
		return stt.Result{}, apperr.New(apperr.CodeRecognitionError, "vosk: finish on finished stream")
	}

	text, confidence := parseFinal(s.eng.rec.FinalResult())
	if len(s.segments) > 0 {
		parts := s.segments
		if text != "" {
			parts = append(parts, text)
		}
		text = strings.Join(parts, " ")
	}
	s.closeLocked()
	s.eng.active = nil

	return stt.Result{Text: text, Final: true, Confidence: confidence, EngineID: "vosk"}, nil
}

func (s *stream) Abort() {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	if s.done {
		return
	}
	s.eng.rec.FinalResult() // drain, discard
	s.closeLocked()
	s.eng.active = nil
}

// emit drops the interim result when the reader lags.
func (s *stream) emit(r stt.Result) {
	select {
	case s.partials <- r:
	default:
	}
}

// closeLocked resets the native recognizer for the next utterance and closes
// the partial channel. Callers hold eng.mu.
func (s *stream) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	s.eng.rec.Reset()
	close(s.partials)
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func parsePartial(raw string) string {
	var v struct {
		Partial string `json:"partial"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ""
	}
	return strings.TrimSpace(v.Partial)
}

func parseText(raw string) string {
	var v struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ""
	}
	return strings.TrimSpace(v.Text)
}

// parseFinal extracts the transcript and, when word timings are on, the mean
// per-word confidence.
func parseFinal(raw string) (string, float64) {
	var v struct {
		Text   string `json:"text"`
		Result []struct {
			Conf float64 `json:"conf"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", 0
	}
	var confidence float64
	if len(v.Result) > 0 {
		var sum float64
		for _, w := range v.Result {
			sum += w.Conf
		}
		confidence = sum / float64(len(v.Result))
	}
	return strings.TrimSpace(v.Text), confidence
}
