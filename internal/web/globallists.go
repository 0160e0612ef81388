package web

import (
	"net/http"
	"strings"

	"github.com/promptseq/promptseq/pkg/models"
)

type globalListRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Items       []struct {
		Value string `json:"value"`
		Order int    `json:"order"`
	} `json:"items"`
}

type listItemRequest struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

func (h *Handler) globalListCollection(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	switch r.Method {
	case http.MethodPost:
		var req globalListRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			h.jsonError(w, "Global list name is required", http.StatusBadRequest)
			return
		}
		list := &models.GlobalList{Name: req.Name, Description: req.Description}
		for _, item := range req.Items {
			list.Items = append(list.Items, &models.GlobalListItem{Value: item.Value, Order: item.Order})
		}
		created, err := h.config.Store.CreateGlobalList(r.Context(), user.ID, list)
		if err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		h.jsonStatus(w, http.StatusCreated, created)
	case http.MethodGet:
		lists, err := h.config.Store.ListGlobalLists(r.Context(), user.ID)
		if err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		h.jsonResponse(w, lists)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) globalListByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)

	switch r.Method {
	case http.MethodGet:
		list, err := h.config.Store.GetGlobalList(r.Context(), user.ID, id)
		if err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		h.jsonResponse(w, list)
	case http.MethodPut:
		var req globalListRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			h.jsonError(w, "Global list name is required", http.StatusBadRequest)
			return
		}
		list, err := h.config.Store.UpdateGlobalList(r.Context(), user.ID, id, req.Name, req.Description)
		if err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		h.jsonResponse(w, list)
	case http.MethodDelete:
		if err := h.config.Store.DeleteGlobalList(r.Context(), user.ID, id); err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listItemCollection(w http.ResponseWriter, r *http.Request) {
	listID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	user := userFromContext(r)

	switch r.Method {
	case http.MethodPost:
		var req listItemRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		item, err := h.config.Store.AddListItem(r.Context(), user.ID, listID, req.Value, req.Order)
		if err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		h.jsonStatus(w, http.StatusCreated, item)
	case http.MethodGet:
		list, err := h.config.Store.GetGlobalList(r.Context(), user.ID, listID)
		if err != nil {
			h.storeError(w, err, "Global list not found")
			return
		}
		h.jsonResponse(w, list.Items)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listItemByID(w http.ResponseWriter, r *http.Request) {
	listID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := h.pathID(w, r, "itemID")
	if !ok {
		return
	}
	user := userFromContext(r)
	if !h.itemInList(w, r, user.ID, listID, itemID) {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req listItemRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		item, err := h.config.Store.UpdateListItem(r.Context(), user.ID, itemID, req.Value, req.Order)
		if err != nil {
			h.storeError(w, err, "Item not found in this list")
			return
		}
		h.jsonResponse(w, item)
	case http.MethodDelete:
		if err := h.config.Store.DeleteListItem(r.Context(), user.ID, itemID); err != nil {
			h.storeError(w, err, "Item not found in this list")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// itemInList rejects item operations addressed through the wrong list.
func (h *Handler) itemInList(w http.ResponseWriter, r *http.Request, ownerID, listID, itemID int64) bool {
	list, err := h.config.Store.GetGlobalList(r.Context(), ownerID, listID)
	if err != nil {
		h.storeError(w, err, "Global list not found")
		return false
	}
	for _, item := range list.Items {
		if item.ID == itemID {
			return true
		}
	}
	h.jsonError(w, "Item not found in this list", http.StatusNotFound)
	return false
}
