// Package pipeline connects the capture source to recognition and dispatch:
// a producer goroutine moves frames from the source into a bounded queue, a
// single worker drains the queue through the segmenter, and each utterance
// runs one recognition session whose final transcript goes to the dispatcher
// and the transcript store.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lipschultz/hwinarion/internal/audio"
	"github.com/lipschultz/hwinarion/internal/audio/resample"
	"github.com/lipschultz/hwinarion/internal/dispatch"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/session"
	"github.com/lipschultz/hwinarion/internal/stt"
	"github.com/lipschultz/hwinarion/internal/syncx"
	"github.com/lipschultz/hwinarion/internal/telemetry"
	"github.com/lipschultz/hwinarion/internal/trace"
	"github.com/lipschultz/hwinarion/internal/transcript"
	"github.com/lipschultz/hwinarion/internal/vad"
)

const defaultQueueCapacity = 64

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	FramesCaptured int64
	FramesDropped  int64
	Utterances     int64
	Completed      int64
	Failed         int64
	LastTranscript string
}

// Config tunes a pipeline.
type Config struct {
	Detector        vad.Detector
	VAD             vad.Config
	QueueCapacity   int
	FinalizeTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *telemetry.Metrics
}

// Pipeline owns the recognizer for its lifetime. Construct with New, drive
// with Run.
type Pipeline struct {
	src        audio.Source
	rec        stt.Recognizer
	dispatcher *dispatch.Dispatcher
	store      *transcript.Store
	queue      *audio.Queue
	cfg        Config
	log        *slog.Logger
	metrics    *telemetry.Metrics
	stats      *syncx.RWGuard[Stats]

	// Worker-goroutine state; never touched elsewhere.
	cur    *session.Session
	curCtx context.Context
}

// New wires a pipeline. The source, recognizer, dispatcher and store must
// outlive the Run call.
func New(src audio.Source, rec stt.Recognizer, d *dispatch.Dispatcher, store *transcript.Store, cfg Config) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Noop()
	}
	if cfg.Detector == nil {
		cfg.Detector = vad.NewEnergyDetector(0)
	}

	p := &Pipeline{
		src:        src,
		rec:        rec,
		dispatcher: d,
		store:      store,
		cfg:        cfg,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		stats:      syncx.NewGuard(Stats{}),
	}
	p.queue = audio.NewQueue(cfg.QueueCapacity, p.onDrop)
	return p
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats { return p.stats.Get() }

// Run blocks until the source ends or the context is cancelled. A clean end
// of a finite source returns nil; abnormal source failure returns the
// source's error.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.produce(gctx) })
	g.Go(func() error { return p.consume(gctx) })
	return g.Wait()
}

// produce moves frames from the source into the queue and accounts for
// backpressure drops. It closes the queue on exit so the worker drains out.
func (p *Pipeline) produce(ctx context.Context) error {
	defer p.queue.Close()

	for {
		select {
		case f, ok := <-p.src.Frames():
			if !ok {
				if err := p.src.Err(); err != nil {
					p.store.Emit(transcript.Event{Kind: transcript.EventDeviceDisconnected, Error: err.Error()})
					p.log.Error("audio source failed", "error", err)
					return err
				}
				return nil
			}
			p.metrics.FramesCaptured.Add(ctx, 1)
			p.stats.Write(func(s *Stats) { s.FramesCaptured++ })
			p.queue.Push(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// onDrop runs inside Queue.Push when the oldest frame is evicted.
func (p *Pipeline) onDrop(f audio.Frame) {
	p.metrics.FramesDropped.Add(context.Background(), 1)
	p.stats.Write(func(s *Stats) { s.FramesDropped++ })
	p.store.Emit(transcript.Event{Kind: transcript.EventFrameDropped, Count: 1})
	p.log.Warn("capture queue full, dropped oldest frame", "ts", f.Timestamp)
}

// consume drains the queue through the segmenter on a single goroutine, so
// segmentation hooks and session calls are never concurrent.
func (p *Pipeline) consume(ctx context.Context) error {
	seg := vad.NewSegmenter(p.cfg.Detector, p.cfg.VAD, vad.Hooks{
		OnUtteranceStart: func(u *audio.Utterance) { p.startSession(ctx, u) },
		OnFrame:          func(u *audio.Utterance, f audio.Frame) { p.feed(f) },
		OnUtteranceEnd:   func(u *audio.Utterance) { p.finishSession(ctx, u) },
	})

	for f := range p.queue.Frames() {
		if err := seg.Process(f); err != nil {
			p.log.Warn("vad detector error", "error", err)
		}
	}

	if ctx.Err() != nil {
		// Shutdown or source failure: abandon the open utterance.
		if p.cur != nil {
			p.cur.Cancel()
			p.cur = nil
		}
		return ctx.Err()
	}
	seg.Flush()
	return nil
}

func (p *Pipeline) startSession(ctx context.Context, u *audio.Utterance) {
	sctx, span := trace.StartSpan(ctx, "utterance")
	log := trace.Logger(sctx)

	s := session.New(p.rec, session.Config{FinalizeTimeout: p.cfg.FinalizeTimeout, Logger: log})
	if err := s.Begin(sctx); err != nil {
		log.Error("session begin failed", "engine", p.rec.ID(), "error", err)
		p.store.Emit(transcript.Event{Kind: transcript.EventError, Engine: p.rec.ID(), Error: err.Error()})
		span.End()
		return
	}
	p.cur = s
	p.curCtx = sctx
	p.metrics.Utterances.Add(sctx, 1, telemetry.Engine(p.rec.ID()))
	p.stats.Write(func(st *Stats) { st.Utterances++ })
	log.Debug("utterance started", "start", u.Start())

	go func() {
		for r := range s.Partials() {
			p.metrics.Partials.Add(sctx, 1, telemetry.Engine(r.EngineID))
			p.store.Emit(transcript.Event{Kind: transcript.EventPartial, Text: r.Text, Engine: r.EngineID})
		}
		span.End()
	}()
}

// feed converts the frame to the engine's required format and hands it to
// the open session. Conversion failures poison the whole utterance.
func (p *Pipeline) feed(f audio.Frame) {
	if p.cur == nil {
		return
	}
	converted, err := resample.Convert(f, p.rec.Capabilities().RequiredFormat)
	if err != nil {
		p.log.Error("frame conversion failed", "error", err)
		p.store.Emit(transcript.Event{Kind: transcript.EventError, Engine: p.rec.ID(), Error: err.Error()})
		p.cur.Cancel()
		p.cur = nil
		return
	}
	if err := p.cur.Feed(converted); err != nil {
		p.log.Warn("session feed failed", "error", err)
	}
}

func (p *Pipeline) finishSession(ctx context.Context, u *audio.Utterance) {
	s := p.cur
	if s == nil {
		return
	}
	p.cur = nil
	sctx := p.curCtx

	started := time.Now()
	res, err := s.End(sctx)
	elapsed := time.Since(started)
	p.metrics.RecognitionSeconds.Record(sctx, elapsed.Seconds(), telemetry.Engine(p.rec.ID()))
	log := trace.Logger(sctx)

	if err != nil {
		p.metrics.RecognitionErrors.Add(sctx, 1, telemetry.Engine(p.rec.ID()))
		p.stats.Write(func(st *Stats) { st.Failed++ })
		p.store.Emit(transcript.Event{Kind: transcript.EventError, Engine: p.rec.ID(), Error: err.Error()})
		log.Warn("utterance failed",
			"engine", p.rec.ID(),
			"code", string(apperr.CodeOf(err)),
			"duration", u.Duration(),
			"error", err)
		return
	}

	p.stats.Write(func(st *Stats) {
		st.Completed++
		st.LastTranscript = res.Text
	})
	p.store.Emit(transcript.Event{Kind: transcript.EventFinal, Text: res.Text, Engine: res.EngineID})
	log.Info("utterance recognized",
		"engine", res.EngineID,
		"text", res.Text,
		"confidence", res.Confidence,
		"finalize", elapsed)

	entry := transcript.Entry{
		Timestamp:  u.Start(),
		Text:       res.Text,
		Engine:     res.EngineID,
		Confidence: res.Confidence,
		Duration:   u.Duration(),
	}

	if res.Text != "" {
		action, handled, derr := p.dispatcher.Dispatch(sctx, res.Text)
		entry.Action = action
		entry.Handled = handled
		p.metrics.Dispatched.Add(sctx, 1, telemetry.Handled(handled))
		if derr != nil {
			log.Error("action failed", "action", action, "error", derr)
			p.store.Emit(transcript.Event{Kind: transcript.EventError, Error: derr.Error()})
		}
	}
	p.store.Add(entry)
}
