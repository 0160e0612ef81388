package web

import (
	"net/http"
	"strings"
)

type sequenceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) sequenceCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSequence(w, r)
	case http.MethodGet:
		h.listSequences(w, r)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createSequence(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.jsonError(w, "Sequence name is required", http.StatusBadRequest)
		return
	}
	user := userFromContext(r)
	seq, err := h.config.Store.CreateSequence(r.Context(), user.ID, req.Name, req.Description)
	if err != nil {
		h.storeError(w, err, "Sequence not found")
		return
	}
	h.jsonStatus(w, http.StatusCreated, seq)
}

func (h *Handler) listSequences(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	skip := parseIntParam(r, "skip", 0)
	limit := parseIntParam(r, "limit", 100)
	seqs, err := h.config.Store.ListSequences(r.Context(), user.ID, skip, limit)
	if err != nil {
		h.storeError(w, err, "Sequence not found")
		return
	}
	h.jsonResponse(w, seqs)
}

func (h *Handler) sequenceByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)

	switch r.Method {
	case http.MethodGet:
		seq, err := h.config.Store.GetSequence(r.Context(), user.ID, id)
		if err != nil {
			h.storeError(w, err, "Sequence not found")
			return
		}
		h.jsonResponse(w, seq)
	case http.MethodPut:
		var req sequenceRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			h.jsonError(w, "Sequence name is required", http.StatusBadRequest)
			return
		}
		seq, err := h.config.Store.UpdateSequence(r.Context(), user.ID, id, req.Name, req.Description)
		if err != nil {
			h.storeError(w, err, "Sequence not found")
			return
		}
		h.jsonResponse(w, seq)
	case http.MethodDelete:
		if err := h.config.Store.DeleteSequence(r.Context(), user.ID, id); err != nil {
			h.storeError(w, err, "Sequence not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
