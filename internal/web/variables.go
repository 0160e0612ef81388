package web

import (
	"encoding/json"
	"net/http"

	"github.com/promptseq/promptseq/internal/engine"
	"github.com/promptseq/promptseq/pkg/models"
)

type variableRequest struct {
	SequenceID  int64           `json:"sequence_id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Value       json.RawMessage `json:"value_json"`
	Description string          `json:"description"`
}

func (h *Handler) variableCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req variableRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	variable, ok := h.variableFromRequest(w, &req)
	if !ok {
		return
	}
	user := userFromContext(r)
	created, err := h.config.Store.CreateVariable(r.Context(), user.ID, variable)
	if err != nil {
		h.storeError(w, err, "Parent sequence not found or not owned by user")
		return
	}
	h.jsonStatus(w, http.StatusCreated, created)
}

func (h *Handler) variableFromRequest(w http.ResponseWriter, req *variableRequest) (*models.Variable, bool) {
	if req.SequenceID < 1 {
		h.jsonError(w, "sequence_id is required", http.StatusBadRequest)
		return nil, false
	}
	if !models.VariableNameRe.MatchString(req.Name) {
		h.jsonError(w, "Variable name must be a valid identifier", http.StatusBadRequest)
		return nil, false
	}
	varType := models.VariableType(req.Type)
	if !varType.Valid() {
		h.jsonError(w, "Unknown variable type "+req.Type, http.StatusBadRequest)
		return nil, false
	}
	return &models.Variable{
		SequenceID:  req.SequenceID,
		Name:        req.Name,
		Type:        varType,
		Value:       req.Value,
		Description: req.Description,
	}, true
}

func (h *Handler) variablesBySequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seqID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)
	vars, err := h.config.Store.ListVariablesBySequence(r.Context(), user.ID, seqID)
	if err != nil {
		h.storeError(w, err, "Parent sequence not found or not owned by user")
		return
	}
	h.jsonResponse(w, vars)
}

// availableVariables lists every name a prompt template in the sequence can
// reference, including simulated block outputs.
func (h *Handler) availableVariables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seqID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)
	seq, err := h.config.Store.GetSequence(r.Context(), user.ID, seqID)
	if err != nil {
		h.storeError(w, err, "Sequence not found or not owned by user")
		return
	}
	lists, err := h.config.Store.ListGlobalLists(r.Context(), user.ID)
	if err != nil {
		h.storeError(w, err, "Sequence not found or not owned by user")
		return
	}
	h.jsonResponse(w, engine.AvailableVariables(seq, lists))
}

func (h *Handler) variableByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)

	switch r.Method {
	case http.MethodGet:
		variable, err := h.config.Store.GetVariable(r.Context(), user.ID, id)
		if err != nil {
			h.storeError(w, err, "Variable not found")
			return
		}
		h.jsonResponse(w, variable)
	case http.MethodPut:
		var req variableRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		existing, err := h.config.Store.GetVariable(r.Context(), user.ID, id)
		if err != nil {
			h.storeError(w, err, "Variable not found")
			return
		}
		if req.SequenceID == 0 {
			req.SequenceID = existing.SequenceID
		}
		if req.SequenceID != existing.SequenceID {
			h.jsonError(w, "Variable's sequence_id mismatch", http.StatusBadRequest)
			return
		}
		variable, ok := h.variableFromRequest(w, &req)
		if !ok {
			return
		}
		variable.ID = id
		updated, err := h.config.Store.UpdateVariable(r.Context(), user.ID, variable)
		if err != nil {
			h.storeError(w, err, "Variable not found")
			return
		}
		h.jsonResponse(w, updated)
	case http.MethodDelete:
		if err := h.config.Store.DeleteVariable(r.Context(), user.ID, id); err != nil {
			h.storeError(w, err, "Variable not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
