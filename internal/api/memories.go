package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/memory"
)

type memoryRequest struct {
	Label     string    `json:"label"`
	Features  []float64 `json:"features"`
	Emotional []float64 `json:"emotional"`
	Narrative string    `json:"narrative"`
}

type episodeRequest struct {
	Context   string    `json:"context"`
	Sensory   []float64 `json:"sensory"`
	Emotional []float64 `json:"emotional"`
	Narrative string    `json:"narrative"`
}

type linkRequest struct {
	Source   memory.Ref `json:"source"`
	Target   memory.Ref `json:"target"`
	Strength float64    `json:"strength"`
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	ref, ok := h.memory.StoreIntegratedMemory(req.Label, req.Features, req.Emotional, req.Narrative)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no store accepted the memory")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) storeEpisode(w http.ResponseWriter, r *http.Request) {
	var req episodeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Context == "" {
		writeError(w, http.StatusBadRequest, "context is required")
		return
	}
	ref, ok := h.memory.StoreEpisode(req.Context, req.Sensory, req.Emotional, req.Narrative)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "episodic memory disabled")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) addWorkingItem(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	ref, ok := h.memory.AddWorkingItem(req.Label, req.Features)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "working memory disabled")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) similarEpisodes(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeError(w, http.StatusServiceUnavailable, "episode index not configured")
		return
	}
	if h.memory.Episodic() == nil {
		writeError(w, http.StatusServiceUnavailable, "episodic memory disabled")
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}
	rec, ok := h.memory.Episodic().RetrieveEpisode(id)
	if !ok {
		writeError(w, http.StatusNotFound, "episode not found")
		return
	}
	matches, err := h.index.Similar(r.Context(), rec.Sensory, queryInt(r, "k", 5))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// query serves GET /api/query?q=apple&k=5&systems=semantic,episodic&context=morning
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := integrator.Query{Text: v.Get("q"), K: queryInt(r, "k", 0)}
	var err error
	if q.Features, err = parseFloats(v.Get("features")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Systems, err = parseSystems(v.Get("systems")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.runQuery(w, r, q, v.Get("context"))
}

func (h *Handler) queryBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		integrator.Query
		Context string `json:"context"`
	}
	if !decode(w, r, &req) {
		return
	}
	for _, s := range req.Systems {
		if !validSystem(s) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown system %q", s))
			return
		}
	}
	h.runQuery(w, r, req.Query, req.Context)
}

func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, q integrator.Query, contextLabel string) {
	if q.Text == "" && len(q.Features) == 0 {
		writeError(w, http.StatusBadRequest, "q or features is required")
		return
	}
	start := time.Now()
	kind := "all"
	var res []integrator.Result
	if contextLabel != "" {
		kind = "context"
		res = h.memory.RetrieveWithContext(r.Context(), q, contextLabel)
	} else {
		res = h.memory.QueryAllSystems(r.Context(), q)
	}
	if h.recorder != nil {
		h.recorder.RecordQuery(kind, time.Since(start))
	}
	if res == nil {
		res = []integrator.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listLinks(w http.ResponseWriter, r *http.Request) {
	ref, err := parseRef(r.URL.Query().Get("system"), r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	links := h.memory.Links(ref)
	if links == nil {
		links = []integrator.Link{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) createLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decode(w, r, &req) {
		return
	}
	if !validSystem(req.Source.System) || !validSystem(req.Target.System) {
		writeError(w, http.StatusBadRequest, "source and target need a known system")
		return
	}
	if req.Strength <= 0 {
		writeError(w, http.StatusBadRequest, "strength must be positive")
		return
	}
	if !h.memory.CreateCrossSystemLink(req.Source, req.Target, req.Strength) {
		writeError(w, http.StatusUnprocessableEntity, "link rejected: endpoint missing or self link")
		return
	}
	writeJSON(w, http.StatusCreated, h.memory.Links(req.Source))
}

// pruneLinks serves DELETE /api/links?below=0.1
func (h *Handler) pruneLinks(w http.ResponseWriter, r *http.Request) {
	var th float64
	if s := r.URL.Query().Get("below"); s != "" {
		var err error
		if th, err = strconv.ParseFloat(s, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": h.memory.PruneWeakLinks(th)})
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feature %q", p)
		}
		out[i] = f
	}
	return out, nil
}

func validSystem(s memory.System) bool {
	switch s {
	case memory.SystemWorking, memory.SystemEpisodic, memory.SystemSemantic, memory.SystemProcedural:
		return true
	}
	return false
}

func parseSystems(s string) ([]memory.System, error) {
	if s == "" {
		return nil, nil
	}
	var out []memory.System
	for _, p := range strings.Split(s, ",") {
		sys := memory.System(strings.TrimSpace(p))
		if !validSystem(sys) {
			return nil, fmt.Errorf("unknown system %q", sys)
		}
		out = append(out, sys)
	}
	return out, nil
}

func parseRef(system, id string) (memory.Ref, error) {
	sys := memory.System(system)
	if !validSystem(sys) {
		return memory.Ref{}, fmt.Errorf("unknown system %q", system)
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return memory.Ref{}, fmt.Errorf("invalid id %q", id)
	}
	return memory.Ref{System: sys, ID: n}, nil
}
