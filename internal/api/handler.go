package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/gateway"
	"github.com/nidhogg/nuka-memory/internal/graph"
	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
	"go.uber.org/zap"
)

// DreamJournal serves persisted dreams.
type DreamJournal interface {
	RecentDreams(ctx context.Context, limit int, typ string) ([]dream.Narrative, error)
}

// EpisodeIndex finds episodes with similar sensory content.
type EpisodeIndex interface {
	Similar(ctx context.Context, vector []float64, k int) ([]vectorstore.Match, error)
}

// ConceptGraph spreads activation over the persisted concept graph.
type ConceptGraph interface {
	Activate(ctx context.Context, seeds []uint64, opts graph.ActivationOpts) (*graph.ActivationResult, error)
}

// QueryRecorder observes query latency.
type QueryRecorder interface {
	RecordQuery(kind string, took time.Duration)
}

// Handler holds dependencies for HTTP handlers. Everything except the
// integrator is optional; the matching routes answer 503 when missing.
type Handler struct {
	memory      *integrator.Integrator
	journal     DreamJournal
	index       EpisodeIndex
	graph       ConceptGraph
	recorder    QueryRecorder
	metrics     http.Handler
	broadcaster *gateway.Broadcaster
	logger      *zap.Logger
}

// Option configures optional handler dependencies.
type Option func(*Handler)

func WithJournal(j DreamJournal) Option { return func(h *Handler) { h.journal = j } }
func WithEpisodeIndex(i EpisodeIndex) Option { return func(h *Handler) { h.index = i } }
func WithConceptGraph(g ConceptGraph) Option { return func(h *Handler) { h.graph = g } }
func WithQueryRecorder(r QueryRecorder) Option { return func(h *Handler) { h.recorder = r } }
func WithMetrics(m http.Handler) Option { return func(h *Handler) { h.metrics = m } }

func WithBroadcaster(b *gateway.Broadcaster) Option {
	return func(h *Handler) { h.broadcaster = b }
}

// NewHandler creates a new API handler.
func NewHandler(in *integrator.Integrator, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{memory: in, logger: logger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.stats)

		r.Post("/memories", h.storeMemory)
		r.Post("/episodes", h.storeEpisode)
		r.Get("/episodes/{id}/similar", h.similarEpisodes)
		r.Post("/working", h.addWorkingItem)

		r.Get("/query", h.query)
		r.Post("/query", h.queryBody)

		r.Get("/links", h.listLinks)
		r.Post("/links", h.createLink)
		r.Delete("/links", h.pruneLinks)

		r.Post("/sleep", h.triggerSleep)
		r.Post("/sleep/stop", h.stopSleep)
		r.Get("/sleep/last", h.lastSleep)

		r.Get("/dreams", h.listDreams)
		r.Post("/dreams/problem", h.setProblem)
		r.Delete("/dreams/problem", h.clearProblem)

		r.Get("/development", h.development)
		r.Post("/development/periods", h.definePeriod)
		r.Delete("/development/periods/{name}", h.removePeriod)

		r.Get("/concepts/{id}/spread", h.spreadActivation)

		r.Get("/notifications", h.notifications)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.memory.IsOperational() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"operational": h.memory.IsOperational(),
		"sleep_ready": h.memory.SleepReady(),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.memory.Stats())
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platforms":  h.broadcaster.Platforms(),
		"deliveries": h.broadcaster.History(queryInt(r, "limit", 20)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
