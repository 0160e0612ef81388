// Package web exposes the promptseq HTTP API under /api/v1, plus the
// unauthenticated /healthcheck and /metrics endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/promptseq/promptseq/internal/auth"
	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/engine"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/internal/runner"
	"github.com/promptseq/promptseq/internal/storage"
	"github.com/promptseq/promptseq/pkg/models"
)

// Config wires the handler's dependencies.
type Config struct {
	App      *config.Config
	Store    *storage.Store
	Engine   *engine.Engine
	Runner   *runner.Runner
	JWT      *auth.JWTService
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
}

// Handler serves the HTTP API.
type Handler struct {
	config *Config
	mux    *http.ServeMux
	chain  http.Handler
}

// NewHandler builds the API handler and its route table.
func NewHandler(cfg *Config) (*Handler, error) {
	if cfg == nil || cfg.Store == nil || cfg.Engine == nil || cfg.JWT == nil || cfg.Logger == nil {
		return nil, errors.New("web: store, engine, jwt and logger are required")
	}
	h := &Handler{config: cfg, mux: http.NewServeMux()}
	h.setupRoutes()

	var chain http.Handler = h.mux
	chain = h.corsMiddleware(chain)
	chain = h.metricsMiddleware(chain)
	chain = h.loggingMiddleware(chain)
	chain = h.requestIDMiddleware(chain)
	h.chain = chain
	return h, nil
}

func (h *Handler) setupRoutes() {
	mux := h.mux

	mux.HandleFunc("/healthcheck", h.healthcheck)
	if h.config.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.config.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/api/v1/auth/register", h.register)
	mux.HandleFunc("/api/v1/auth/login", h.login)
	mux.HandleFunc("/api/v1/auth/me", h.requireAuth(h.me))

	mux.HandleFunc("/api/v1/sequences", h.requireAuth(h.sequenceCollection))
	mux.HandleFunc("/api/v1/sequences/{$}", h.requireAuth(h.sequenceCollection))
	mux.HandleFunc("/api/v1/sequences/{id}", h.requireAuth(h.sequenceByID))

	mux.HandleFunc("/api/v1/blocks", h.requireAuth(h.blockCollection))
	mux.HandleFunc("/api/v1/blocks/{$}", h.requireAuth(h.blockCollection))
	mux.HandleFunc("/api/v1/blocks/in_sequence/{id}", h.requireAuth(h.blocksInSequence))
	mux.HandleFunc("/api/v1/blocks/{id}", h.requireAuth(h.blockByID))

	mux.HandleFunc("/api/v1/variables", h.requireAuth(h.variableCollection))
	mux.HandleFunc("/api/v1/variables/{$}", h.requireAuth(h.variableCollection))
	mux.HandleFunc("/api/v1/variables/by_sequence/{id}", h.requireAuth(h.variablesBySequence))
	mux.HandleFunc("/api/v1/variables/available_for_sequence/{id}", h.requireAuth(h.availableVariables))
	mux.HandleFunc("/api/v1/variables/{id}", h.requireAuth(h.variableByID))

	mux.HandleFunc("/api/v1/global-lists", h.requireAuth(h.globalListCollection))
	mux.HandleFunc("/api/v1/global-lists/{$}", h.requireAuth(h.globalListCollection))
	mux.HandleFunc("/api/v1/global-lists/{id}", h.requireAuth(h.globalListByID))
	mux.HandleFunc("/api/v1/global-lists/{id}/items", h.requireAuth(h.listItemCollection))
	mux.HandleFunc("/api/v1/global-lists/{id}/items/{$}", h.requireAuth(h.listItemCollection))
	mux.HandleFunc("/api/v1/global-lists/{id}/items/{itemID}", h.requireAuth(h.listItemByID))

	mux.HandleFunc("/api/v1/runs", h.requireAuth(h.runCollection))
	mux.HandleFunc("/api/v1/runs/{$}", h.requireAuth(h.runCollection))
	mux.HandleFunc("/api/v1/runs/by_sequence/{id}", h.requireAuth(h.runsBySequence))
	mux.HandleFunc("/api/v1/runs/block_run/{id}", h.requireAuth(h.blockRunByID))
	mux.HandleFunc("/api/v1/runs/{id}", h.requireAuth(h.runByID))

	mux.HandleFunc("/api/v1/engine/preview_prompt", h.requireAuth(h.previewPrompt))
}

// ServeHTTP dispatches through the middleware chain.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.chain.ServeHTTP(w, r)
}

func (h *Handler) healthcheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := "promptseq"
	if h.config.App != nil && h.config.App.ProjectName != "" {
		name = h.config.App.ProjectName
	}
	h.jsonResponse(w, map[string]string{"status": "ok", "project_name": name})
}

// jsonResponse writes data as JSON with a 200 status.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error(context.Background(), "json encode error", "error", err)
	}
}

// jsonError writes the error envelope used by every failure response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": message})
}

// storeError maps storage and validation failures onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, err error, notFoundMsg string) {
	var cfgErr *models.ConfigError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.jsonError(w, notFoundMsg, http.StatusNotFound)
	case errors.Is(err, storage.ErrDuplicate):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &cfgErr):
		h.jsonError(w, cfgErr.Error(), http.StatusBadRequest)
	default:
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decodeJSON parses a request body, rejecting unparseable payloads.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.jsonError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses the numeric path segment registered under name.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		h.jsonError(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// userFromContext extracts the authenticated user; requireAuth guarantees it
// is present on protected routes.
func userFromContext(r *http.Request) *models.User {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil
	}
	return user
}
