package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/promptseq/promptseq/pkg/models"
)

type blockRequest struct {
	SequenceID int64           `json:"sequence_id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Order      int             `json:"order"`
	Config     json.RawMessage `json:"config"`
}

func (h *Handler) blockCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req blockRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	block, ok := h.blockFromRequest(w, &req)
	if !ok {
		return
	}
	user := userFromContext(r)
	created, err := h.config.Store.CreateBlock(r.Context(), user.ID, block)
	if err != nil {
		h.storeError(w, err, "Parent sequence not found or not owned by user")
		return
	}
	h.jsonStatus(w, http.StatusCreated, created)
}

// blockFromRequest validates the payload and decodes the typed config.
func (h *Handler) blockFromRequest(w http.ResponseWriter, req *blockRequest) (*models.Block, bool) {
	if req.SequenceID < 1 {
		h.jsonError(w, "sequence_id is required", http.StatusBadRequest)
		return nil, false
	}
	if strings.TrimSpace(req.Name) == "" {
		h.jsonError(w, "Block name is required", http.StatusBadRequest)
		return nil, false
	}
	blockType := models.BlockType(req.Type)
	if !blockType.Valid() {
		h.jsonError(w, "Unknown block type "+req.Type, http.StatusBadRequest)
		return nil, false
	}
	cfg, err := models.DecodeBlockConfig(blockType, req.Config)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return &models.Block{
		SequenceID: req.SequenceID,
		Name:       req.Name,
		Type:       blockType,
		Order:      req.Order,
		Config:     cfg,
	}, true
}

func (h *Handler) blocksInSequence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seqID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)
	blocks, err := h.config.Store.ListBlocksBySequence(r.Context(), user.ID, seqID)
	if err != nil {
		h.storeError(w, err, "Parent sequence not found or not owned by user")
		return
	}
	h.jsonResponse(w, blocks)
}

func (h *Handler) blockByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)

	switch r.Method {
	case http.MethodGet:
		block, err := h.config.Store.GetBlock(r.Context(), user.ID, id)
		if err != nil {
			h.storeError(w, err, "Block not found")
			return
		}
		h.jsonResponse(w, block)
	case http.MethodPut:
		var req blockRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		existing, err := h.config.Store.GetBlock(r.Context(), user.ID, id)
		if err != nil {
			h.storeError(w, err, "Block not found")
			return
		}
		if req.SequenceID == 0 {
			req.SequenceID = existing.SequenceID
		}
		// Blocks never move between sequences.
		if req.SequenceID != existing.SequenceID {
			h.jsonError(w, "Block's sequence_id mismatch", http.StatusBadRequest)
			return
		}
		block, ok := h.blockFromRequest(w, &req)
		if !ok {
			return
		}
		block.ID = id
		updated, err := h.config.Store.UpdateBlock(r.Context(), user.ID, block)
		if err != nil {
			h.storeError(w, err, "Block not found")
			return
		}
		h.jsonResponse(w, updated)
	case http.MethodDelete:
		if err := h.config.Store.DeleteBlock(r.Context(), user.ID, id); err != nil {
			h.storeError(w, err, "Block not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
