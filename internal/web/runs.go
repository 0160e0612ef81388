package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/promptseq/promptseq/internal/runner"
)

type runRequest struct {
	SequenceID     int64           `json:"sequence_id"`
	InputOverrides json.RawMessage `json:"input_overrides_json"`
}

// runCollection accepts a new run. The run is persisted as pending and
// handed to the background runner; the response is 202 with the pending
// record. With sync_runs configured the run executes inside the request.
func (h *Handler) runCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req runRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.SequenceID < 1 {
		h.jsonError(w, "sequence_id is required", http.StatusBadRequest)
		return
	}
	user := userFromContext(r)
	run, err := h.config.Store.CreateRun(r.Context(), user.ID, req.SequenceID, req.InputOverrides)
	if err != nil {
		h.storeError(w, err, "Sequence not found or not owned by user")
		return
	}

	if h.config.App != nil && h.config.App.Engine.SyncRuns {
		finished, err := h.config.Engine.ExecuteRun(r.Context(), user.ID, run.ID)
		if err != nil {
			h.jsonError(w, "Failed to execute sequence: "+err.Error(), http.StatusInternalServerError)
			return
		}
		h.jsonStatus(w, http.StatusAccepted, finished)
		return
	}

	if h.config.Runner == nil {
		h.jsonError(w, "Run execution is not available", http.StatusServiceUnavailable)
		return
	}
	if err := h.config.Runner.Enqueue(user.ID, run.ID); err != nil {
		if errors.Is(err, runner.ErrQueueFull) {
			h.jsonError(w, "Run queue is full, try again later", http.StatusServiceUnavailable)
			return
		}
		h.jsonError(w, "Run execution is not available", http.StatusServiceUnavailable)
		return
	}
	h.jsonStatus(w, http.StatusAccepted, run)
}

func (h *Handler) runsBySequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seqID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)
	skip := parseIntParam(r, "skip", 0)
	limit := parseIntParam(r, "limit", 20)
	runs, err := h.config.Store.ListRunsBySequence(r.Context(), user.ID, seqID, skip, limit)
	if err != nil {
		h.storeError(w, err, "Sequence not found or not owned by user")
		return
	}
	h.jsonResponse(w, runs)
}

func (h *Handler) runByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)
	run, err := h.config.Store.GetRun(r.Context(), user.ID, id)
	if err != nil {
		h.storeError(w, err, "Run not found or not owned by user")
		return
	}
	h.jsonResponse(w, run)
}

func (h *Handler) blockRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)
	br, err := h.config.Store.GetBlockRun(r.Context(), user.ID, id)
	if err != nil {
		h.storeError(w, err, "BlockRun not found or access denied")
		return
	}
	h.jsonResponse(w, br)
}
