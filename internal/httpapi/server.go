package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/aicc/internal/config"
	"github.com/ent0n29/aicc/internal/mediastream"
	"github.com/ent0n29/aicc/internal/observability"
	"github.com/ent0n29/aicc/internal/session"
	"github.com/ent0n29/aicc/internal/status"
	"github.com/ent0n29/aicc/internal/transcript"
)

// CallFactory builds the media-stream handler for a newly connected call.
type CallFactory interface {
	NewCall(callID string) *mediastream.Handler
}

type Deps struct {
	Sessions    *session.Manager
	Calls       CallFactory
	Hub         *status.Hub
	Transcripts transcript.Store
	Metrics     *observability.Metrics
	Logger      *zap.Logger

	// VoiceProvider and StoreMode are reported by /readyz.
	VoiceProvider string
	StoreMode     string
}

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	callFactory CallFactory
	hub         *status.Hub
	transcripts transcript.Store
	metrics     *observability.Metrics
	log         *zap.Logger
	upgrader    websocket.Upgrader

	voiceProvider string
	storeMode     string

	mediaReadTimeout   time.Duration
	statusPingInterval time.Duration

	// liveCalls tracks media handlers, including runs still finishing after
	// the socket closed; hijacked connections are invisible to Shutdown.
	liveCalls sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(cfg.SessionRetention)
	}
	return &Server{
		cfg:                cfg,
		sessions:           deps.Sessions,
		callFactory:        deps.Calls,
		hub:                deps.Hub,
		transcripts:        deps.Transcripts,
		metrics:            deps.Metrics,
		log:                deps.Logger,
		voiceProvider:      deps.VoiceProvider,
		storeMode:          deps.StoreMode,
		mediaReadTimeout:   60 * time.Second,
		statusPingInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Carriers and other non-browser clients omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Drain waits for every media call, including its last pipeline run, to
// finish. Call it after the run context is canceled and before closing
// the transcript store.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.liveCalls.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)

	r.Get("/ws/media/{callID}", s.handleMediaWS)
	r.Get("/ws/call/{callID}", s.handleStatusWS)

	r.Get("/v1/media/sessions", s.handleListSessions)
	r.Get("/v1/media/sessions/{callID}", s.handleGetSession)
	r.Get("/v1/media/sessions/{callID}/transcripts", s.handleListTranscripts)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.callFactory == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"reason": "call pipeline not configured",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"voice_provider":   s.voiceProvider,
		"transcript_store": s.storeMode,
		"active_calls":     s.sessions.ActiveCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDParam(w, r)
	if !ok {
		return
	}
	snap, err := s.sessions.Get(callID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	callID, ok := callIDParam(w, r)
	if !ok {
		return
	}
	if s.transcripts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "transcript store not configured")
		return
	}
	records, err := s.transcripts.ListTurns(r.Context(), callID)
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		respondError(w, http.StatusNotFound, "transcript_not_found", err.Error())
		return
	case err != nil:
		s.log.Warn("list transcripts failed", zap.String("call_id", callID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store_error", "transcript lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call_id": callID, "turns": records})
}

func callIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "callID"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_call_id", "missing call id")
		return "", false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, httpStatus int, code, message string) {
	respondJSON(w, httpStatus, errorResponse{Error: message, Code: code})
}
