// Package server exposes the pipeline over HTTP: live transcripts and events
// on a websocket, history and status over REST, plus health and metrics
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lipschultz/hwinarion/internal/pipeline"
	"github.com/lipschultz/hwinarion/internal/trace"
	"github.com/lipschultz/hwinarion/internal/transcript"
)

// EventMessage is the websocket frame for live pipeline events.
type EventMessage struct {
	Type  string           `json:"type"`
	Event transcript.Event `json:"event"`
}

// HistoryMessage answers a history request.
type HistoryMessage struct {
	Type    string             `json:"type"`
	Entries []transcript.Entry `json:"entries"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type inbound struct {
	Type string `json:"type"`
	// WindowSeconds bounds history requests; 0 means everything kept.
	WindowSeconds int `json:"window_seconds,omitempty"`
}

// rateLimiter tracks message timestamps in a sliding window.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server fans pipeline events out to websocket clients and serves the REST
// surface.
type Server struct {
	pipe    *pipeline.Pipeline
	store   *transcript.Store
	metrics http.Handler
	engine  string
	log     *slog.Logger

	mu         sync.RWMutex
	conns      map[*websocket.Conn]chan EventMessage
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New builds a server and starts the event broadcaster. metricsHandler may
// be nil when telemetry is disabled.
func New(pipe *pipeline.Pipeline, store *transcript.Store, metricsHandler http.Handler, engine string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		pipe:       pipe,
		store:      store,
		metrics:    metricsHandler,
		engine:     engine,
		log:        log,
		conns:      make(map[*websocket.Conn]chan EventMessage),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}
	go s.broadcast()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/transcripts", s.handleTranscripts)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	events := make(chan EventMessage, EventSendBuffer)
	s.mu.Lock()
	s.conns[conn] = events
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	go s.writeEvents(ctx, conn, events)

	for {
		var msg inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, errorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		switch msg.Type {
		case "history":
			window := time.Duration(msg.WindowSeconds) * time.Second
			var entries []transcript.Entry
			if window > 0 {
				entries = s.store.Recent(window)
			} else {
				entries = s.store.Entries()
			}
			_ = wsjson.Write(ctx, conn, HistoryMessage{Type: "history", Entries: entries})
		case "ping":
			_ = wsjson.Write(ctx, conn, inbound{Type: "pong"})
		}
	}
}

// broadcast enqueues every pipeline event for every connected client. Each
// connection drains its own queue on a single writer, so a client observes
// events in emission order.
func (s *Server) broadcast() {
	for evt := range s.store.Events() {
		msg := EventMessage{Type: "event", Event: evt}

		s.mu.RLock()
		for _, ch := range s.conns {
			select {
			case ch <- msg:
			default:
				// Slow client: drop the event rather than stall the
				// broadcast or deliver out of order.
			}
		}
		s.mu.RUnlock()
	}
}

// writeEvents delivers queued events to one client, in order, until the
// connection goes away.
func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, events <-chan EventMessage) {
	for {
		select {
		case msg := <-events:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.pipe.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"engine":          s.engine,
		"frames_captured": stats.FramesCaptured,
		"frames_dropped":  stats.FramesDropped,
		"utterances":      stats.Utterances,
		"completed":       stats.Completed,
		"failed":          stats.Failed,
		"last_transcript": stats.LastTranscript,
	})
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window_seconds"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil && secs > 0 {
			window = secs
		}
	}

	entries := s.store.Recent(window)
	if entries == nil {
		entries = []transcript.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
