package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-memory/internal/development"
	"github.com/nidhogg/nuka-memory/internal/dream"
	"github.com/nidhogg/nuka-memory/internal/graph"
	"go.uber.org/zap"
)

type sleepRequest struct {
	Duration string `json:"duration"`
	Force    bool   `json:"force"`
}

type problemRequest struct {
	Vector []float64 `json:"vector"`
	Hints  []string  `json:"hints"`
}

// triggerSleep runs a full session synchronously and returns its report.
func (h *Handler) triggerSleep(w http.ResponseWriter, r *http.Request) {
	orch := h.memory.Sleep()
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "sleep consolidation disabled")
		return
	}
	var req sleepRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid duration")
			return
		}
	}
	report, ok := orch.TriggerConsolidation(r.Context(), req.Force, d)
	if !ok {
		writeError(w, http.StatusConflict, "session refused: not ready, already running or too soon")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) stopSleep(w http.ResponseWriter, r *http.Request) {
	orch := h.memory.Sleep()
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "sleep consolidation disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopping": orch.StopConsolidation()})
}

func (h *Handler) lastSleep(w http.ResponseWriter, r *http.Request) {
	orch := h.memory.Sleep()
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "sleep consolidation disabled")
		return
	}
	report, ok := orch.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no session yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listDreams serves GET /api/dreams?limit=10&type=nightmare. Persisted
// dreams are preferred; the in-process history answers when no journal is
// configured or it fails.
func (h *Handler) listDreams(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	typ := r.URL.Query().Get("type")
	var t dream.Type
	if typ != "" {
		var err error
		if t, err = dream.ParseType(typ); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if h.journal != nil {
		dreams, err := h.journal.RecentDreams(r.Context(), limit, typ)
		if err == nil {
			writeJSON(w, http.StatusOK, nonNil(dreams))
			return
		}
		h.logger.Warn("dream journal unavailable, serving history", zap.Error(err))
	}
	proc := h.memory.Dreams()
	if proc == nil {
		writeError(w, http.StatusServiceUnavailable, "dream processing disabled")
		return
	}
	var dreams []dream.Narrative
	if typ != "" {
		dreams = proc.HistoryByType(t, limit)
	} else {
		dreams = proc.History(limit)
	}
	writeJSON(w, http.StatusOK, nonNil(dreams))
}

func nonNil(d []dream.Narrative) []dream.Narrative {
	if d == nil {
		return []dream.Narrative{}
	}
	return d
}

func (h *Handler) setProblem(w http.ResponseWriter, r *http.Request) {
	proc := h.memory.Dreams()
	if proc == nil {
		writeError(w, http.StatusServiceUnavailable, "dream processing disabled")
		return
	}
	var req problemRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Vector) == 0 && len(req.Hints) == 0 {
		writeError(w, http.StatusBadRequest, "vector or hints is required")
		return
	}
	proc.SetProblemContext(req.Vector, req.Hints)
	writeJSON(w, http.StatusOK, map[string]string{"status": "problem context set"})
}

func (h *Handler) clearProblem(w http.ResponseWriter, r *http.Request) {
	proc := h.memory.Dreams()
	if proc == nil {
		writeError(w, http.StatusServiceUnavailable, "dream processing disabled")
		return
	}
	proc.ClearProblemContext()
	w.WriteHeader(http.StatusNoContent)
}

// development serves GET /api/development?region=cortex
func (h *Handler) development(w http.ResponseWriter, r *http.Request) {
	dev := h.memory.Development()
	if dev == nil {
		writeError(w, http.StatusServiceUnavailable, "developmental constraints disabled")
		return
	}
	resp := map[string]any{
		"stats":   dev.Stats(),
		"periods": dev.Periods(),
	}
	if region := r.URL.Query().Get("region"); region != "" {
		resp["multipliers"] = map[string]any{
			"region":        region,
			"plasticity":    dev.PlasticityMultiplier(region),
			"learning_rate": dev.LearningRateMultiplier(region),
			"consolidation": dev.ConsolidationMultiplier(region),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) definePeriod(w http.ResponseWriter, r *http.Request) {
	dev := h.memory.Development()
	if dev == nil {
		writeError(w, http.StatusServiceUnavailable, "developmental constraints disabled")
		return
	}
	var p development.CriticalPeriod
	if !decode(w, r, &p) {
		return
	}
	if err := dev.DefineCriticalPeriod(p); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, development.ErrInvalidPeriod) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	stored, _ := dev.Period(p.Name)
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) removePeriod(w http.ResponseWriter, r *http.Request) {
	dev := h.memory.Development()
	if dev == nil {
		writeError(w, http.StatusServiceUnavailable, "developmental constraints disabled")
		return
	}
	if !dev.RemoveCriticalPeriod(chi.URLParam(r, "name")) {
		writeError(w, http.StatusNotFound, "period not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// spreadActivation serves GET /api/concepts/{id}/spread?depth=2&decay=0.6
func (h *Handler) spreadActivation(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeError(w, http.StatusServiceUnavailable, "concept graph not configured")
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid concept id")
		return
	}
	opts := graph.DefaultActivationOpts()
	opts.MaxDepth = queryInt(r, "depth", opts.MaxDepth)
	if s := r.URL.Query().Get("decay"); s != "" {
		if opts.DecayFactor, err = strconv.ParseFloat(s, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid decay")
			return
		}
	}
	res, err := h.graph.Activate(r.Context(), []uint64{id}, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
