package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/promptseq/promptseq/internal/engine"
)

type previewRequest struct {
	SequenceID     int64           `json:"sequence_id"`
	BlockID        int64           `json:"block_id"`
	InputOverrides json.RawMessage `json:"input_overrides"`
}

// previewPrompt renders a block's template against simulated prior outputs.
// No run is recorded and the LLM is never called.
func (h *Handler) previewPrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req previewRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.SequenceID < 1 || req.BlockID < 1 {
		h.jsonError(w, "sequence_id and block_id are required", http.StatusBadRequest)
		return
	}
	user := userFromContext(r)
	preview, err := h.config.Engine.PreviewPrompt(r.Context(), user.ID, req.SequenceID, req.BlockID, req.InputOverrides)
	if err != nil {
		if errors.Is(err, engine.ErrBlockNotInSequence) {
			h.jsonError(w, "Block does not belong to the sequence", http.StatusBadRequest)
			return
		}
		h.storeError(w, err, "Sequence or block not found")
		return
	}
	h.jsonResponse(w, preview)
}
