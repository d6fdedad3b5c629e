package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-converse/internal/identity"
	"github.com/a-essam23/go-converse/internal/server/middleware"
	"github.com/a-essam23/go-converse/internal/store"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Username string `json:"username" validate:"omitempty,max=50"`
}

type registerResponse struct {
	Message string     `json:"message"`
	User    store.User `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    store.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		h.internalError(w, r, err, "Failed to register user")
		return
	}
	user, err := h.store.CreateUser(r.Context(), req.Email, req.Username, hash)
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		middleware.WriteError(w, http.StatusConflict, "Email already registered")
		return
	case err != nil:
		h.internalError(w, r, err, "Failed to register user")
		return
	}

	h.logger.Info("User registered", slog.String("userID", user.ID))
	middleware.WriteJSON(w, http.StatusCreated, registerResponse{Message: "User registered successfully", User: user})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, hash, err := h.store.GetCredentials(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.internalError(w, r, err, "Failed to log in")
		return
	}

	ok, err := identity.ComparePassword(req.Password, hash)
	if err != nil || !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, _, err := h.issuer.Issue(user.ID)
	if err != nil {
		h.internalError(w, r, err, "Failed to log in")
		return
	}
	if err := h.store.TouchLastSeen(r.Context(), user.ID, h.now()); err != nil {
		h.logger.Warn("Failed to update last seen", slog.String("userID", user.ID), slog.Any("error", err))
	}
	middleware.WriteJSON(w, http.StatusOK, loginResponse{Message: "Login successful", Token: token, User: user})
}

// logout revokes the presenting token until it would have expired anyway.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	reqMeta, err := caller(r)
	if err != nil {
		h.unauthorized(w)
		return
	}
	claims := reqMeta.Claims
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		middleware.WriteError(w, http.StatusBadRequest, "No valid token provided")
		return
	}
	if err := h.store.RevokeToken(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		h.internalError(w, r, err, "Failed to log out")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
