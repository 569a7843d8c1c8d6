package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	goGate "github.com/MrEthical07/goGate"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type handlers struct {
	gate   *goGate.Gate
	logger *zap.Logger
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// createUser answers an existing username with 200 and an error body.
func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "invalid JSON body"})
		return
	}

	identity, err := h.gate.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, userResponse{ID: identity.ID, Username: identity.Username})
	case errors.Is(err, goGate.ErrMalformedRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "username and password are required"})
	case errors.Is(err, goGate.ErrIdentityExists):
		writeJSON(w, http.StatusOK, errorResponse{Error: "user_exists", Message: "This user already exists"})
	default:
		h.internalError(w, r, "register failed", err)
	}
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "id must be a positive integer"})
		return
	}

	identity, err := h.gate.LookupIdentity(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, userResponse{ID: identity.ID, Username: identity.Username})
	case errors.Is(err, goGate.ErrIdentityNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "user not found"})
	default:
		h.internalError(w, r, "lookup failed", err)
	}
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := goGate.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: identity.ID, Username: identity.Username})
}

func (h *handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	identity, ok := goGate.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	tok, err := h.gate.IssueToken(r.Context(), identity, 0)
	if err != nil {
		h.internalError(w, r, "token issue failed", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok, ExpiresIn: int64(h.gate.TokenTTL().Seconds())})
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("request_id", goGate.RequestIDFromContext(r.Context())))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
