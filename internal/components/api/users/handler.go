// Package users implements the profile read and update endpoints.
package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/components/profiles"
	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// Handler serves /api/users.
type Handler struct {
	profiles     *profiles.Service
	maxBodyBytes int64
	currentUser  func(context.Context) (*identity.User, error)
	log          *slog.Logger
}

// NewHandler creates the users handler. maxBodyBytes bounds PATCH bodies.
func NewHandler(svc *profiles.Service, maxBodyBytes int64, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = api.DefaultMaxBodyBytes
	}
	return &Handler{
		profiles:     svc,
		maxBodyBytes: maxBodyBytes,
		currentUser:  currentUser,
		log:          logutil.NoopIfNil(log),
	}
}

// Get handles GET /api/users/{username}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	p, err := h.profiles.Get(r.Context(), username)
	if errors.Is(err, identity.ErrUserNotFound) {
		api.WriteNotFound(w, "User not found")
		return
	}
	if err != nil {
		h.logger(r.Context()).Error("profile lookup failed", "username", username, "error", err)
		api.WriteInternalError(w, "Failed to load profile")
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

// UpdateMe handles PATCH /api/users/me.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Authentication required")
		return
	}

	var upd profiles.Update
	if err := api.DecodeJSON(w, r, h.maxBodyBytes, &upd); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}

	p, err := h.profiles.Apply(r.Context(), user.ID, upd)
	switch {
	case errors.Is(err, profiles.ErrInvalidUpdate):
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	case errors.Is(err, identity.ErrUserNotFound):
		api.WriteNotFound(w, "User not found")
		return
	case err != nil:
		h.logger(r.Context()).Error("profile update failed", "error", err)
		api.WriteInternalError(w, "Failed to update profile")
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

// logger prefers the request-scoped logger and falls back to the handler's.
func (h *Handler) logger(ctx context.Context) *slog.Logger {
	if l, ok := appctx.LoggerFromContext(ctx); ok {
		return l
	}
	return h.log
}
