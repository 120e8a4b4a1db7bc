// Package httpapi exposes the pattern admin and execute endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/delegation"
	"github.com/conductor-labs/delegate/internal/executor"
	"github.com/conductor-labs/delegate/internal/metrics"
	"github.com/conductor-labs/delegate/internal/registry"
	"github.com/conductor-labs/delegate/internal/store"
)

// Handler serves the pattern admin API.
type Handler struct {
	registry *registry.Registry
	store    *store.Store // optional, may be nil
	exec     *executor.Executor
	runtime  store.Runtime
	logger   *zap.Logger
}

// NewHandler creates the API handler. The store may be nil for
// registry-only deployments.
func NewHandler(reg *registry.Registry, st *store.Store, exec *executor.Executor, rt store.Runtime, logger *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		store:    st,
		exec:     exec,
		runtime:  rt,
		logger:   logger,
	}
}

// RegisterRoutes wires the API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/patterns", h.handlePatterns)
	mux.HandleFunc("/api/v1/patterns/", h.handlePatternByName)
	mux.HandleFunc("/api/v1/execute", h.handleExecute)
}

// patternRequest is the payload for registering a pattern.
type patternRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Type          string   `json:"type"`
	Steps         []string `json:"steps,omitempty"`
	ResourceTypes []string `json:"resource_types,omitempty"`
	Domains       []string `json:"domains,omitempty"`
}

// patternResponse is the listed form of a pattern.
type patternResponse struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type"`
	Score       float64 `json:"confidence_score"`
	Level       string  `json:"confidence_level"`
	Executions  int     `json:"executions"`
}

func (h *Handler) handlePatterns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.registerPattern(w, r)
	case http.MethodGet:
		h.listPatterns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) registerPattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("pattern decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	p, err := h.runtime.Materialize(store.Record{
		Name:          req.Name,
		Description:   req.Description,
		Type:          delegation.PatternType(req.Type),
		Steps:         req.Steps,
		ResourceTypes: req.ResourceTypes,
		Domains:       req.Domains,
	}, h.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		metrics.HTTPRequests.WithLabelValues("register", "invalid").Inc()
		return
	}

	if err := h.registry.Register(p); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, delegation.ErrDuplicateName) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		metrics.HTTPRequests.WithLabelValues("register", "rejected").Inc()
		return
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.store.Register(ctx, p); err != nil && !errors.Is(err, delegation.ErrDuplicateName) {
			// Keep the two indexes consistent: a failed persist rolls the
			// in-memory registration back.
			_ = h.registry.Unregister(p.Name())
			writeError(w, http.StatusBadGateway, "failed to persist pattern")
			metrics.HTTPRequests.WithLabelValues("register", "error").Inc()
			return
		}
	}

	metrics.HTTPRequests.WithLabelValues("register", "ok").Inc()
	writeJSON(w, http.StatusCreated, toResponse(p))
}

func (h *Handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	var patterns []delegation.Pattern
	if t := r.URL.Query().Get("type"); t != "" {
		patterns = h.registry.ListByType(delegation.PatternType(t))
	} else {
		patterns = h.registry.List()
	}

	out := make([]patternResponse, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, toResponse(p))
	}
	metrics.HTTPRequests.WithLabelValues("list", "ok").Inc()
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePatternByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/patterns/")
	if name == "" {
		writeError(w, http.StatusBadRequest, "pattern name is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, ok := h.registry.Get(name)
		if !ok {
			writeError(w, http.StatusNotFound, "pattern not found")
			return
		}
		writeJSON(w, http.StatusOK, toResponse(p))
	case http.MethodDelete:
		err := h.registry.Unregister(name)
		if h.store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if serr := h.store.Unregister(ctx, name); serr != nil && err == nil {
				err = serr
			}
		}
		if err != nil {
			if errors.Is(err, delegation.ErrPatternNotFound) {
				// Reported, not fatal: the end state is what the caller asked for.
				writeJSON(w, http.StatusOK, map[string]string{"status": "absent"})
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		metrics.HTTPRequests.WithLabelValues("unregister", "ok").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// executeRequest is the payload for a delegation request.
type executeRequest struct {
	Domain     string                 `json:"domain"`
	AgentType  string                 `json:"agent_type"`
	Priority   int                    `json:"priority"`
	Attributes map[string]interface{} `json:"attributes"`
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("execute decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	c := delegation.NewContext(req.Domain, req.AgentType, req.Priority, req.Attributes)
	res := h.exec.ExecuteBest(r.Context(), c)

	status := "ok"
	if !res.Success {
		status = "failed"
	}
	metrics.HTTPRequests.WithLabelValues("execute", status).Inc()

	// A failed delegation is still a well-formed answer.
	writeJSON(w, http.StatusOK, res)
}

func toResponse(p delegation.Pattern) patternResponse {
	return patternResponse{
		Name:        p.Name(),
		Description: p.Description(),
		Type:        string(p.Type()),
		Score:       p.Tracker().Score(),
		Level:       p.Tracker().Level().String(),
		Executions:  p.Tracker().Observations(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
