package web

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/promptseq/promptseq/internal/auth"
	"github.com/promptseq/promptseq/internal/storage"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the login payload: a bearer token for the Authorization
// header.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.jsonError(w, "Invalid email address", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		h.jsonError(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	user, err := h.config.Store.CreateUser(r.Context(), req.Email, hash)
	if errors.Is(err, storage.ErrDuplicate) {
		h.jsonError(w, "Email already registered", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, user)
}

// login exchanges form-encoded credentials (username holds the email) for a
// bearer token.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.jsonError(w, "Invalid form body", http.StatusBadRequest)
		return
	}
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.config.Store.GetUserByEmail(r.Context(), email)
	if err != nil || !auth.VerifyPassword(user.HashedPassword, password) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.jsonError(w, "Incorrect email or password", http.StatusUnauthorized)
		return
	}
	if !user.IsActive {
		h.jsonError(w, "Inactive user", http.StatusBadRequest)
		return
	}

	token, err := h.config.JWT.Mint(user.Email)
	if err != nil {
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.jsonResponse(w, userFromContext(r))
}
