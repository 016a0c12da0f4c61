// Package connections implements the connection graph endpoints.
// Every endpoint acts on behalf of the session user.
package connections

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinship-app/kinship/internal/components/api"
	graph "github.com/kinship-app/kinship/internal/components/connections"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// MessageResponse is the body of a successful mutation.
type MessageResponse struct {
	Message string `json:"message"`
}

// SendResponse is returned by POST /api/connections/request/{userId}.
type SendResponse struct {
	Message string         `json:"message"`
	Request *graph.Request `json:"request"`
}

// Handler serves /api/connections.
type Handler struct {
	svc         *graph.Service
	currentUser func(context.Context) (*identity.User, error)
	log         *slog.Logger
}

// NewHandler creates the connections handler.
func NewHandler(svc *graph.Service, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	return &Handler{
		svc:         svc,
		currentUser: currentUser,
		log:         logutil.NoopIfNil(log),
	}
}

// Status handles GET /api/connections/status/{userId}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Status(r.Context(), viewer.ID, chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rec)
}

// Send handles POST /api/connections/request/{userId}.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	req, err := h.svc.Send(r.Context(), viewer.ID, chi.URLParam(r, "userId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, SendResponse{Message: "Connection request sent successfully", Request: req})
}

// Accept handles PUT /api/connections/accept/{requestId}.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := h.svc.Accept(r.Context(), viewer.ID, chi.URLParam(r, "requestId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Connection accepted successfully"})
}

// Reject handles PUT /api/connections/reject/{requestId}.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reject(r.Context(), viewer.ID, chi.URLParam(r, "requestId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Connection request rejected"})
}

// Remove handles DELETE /api/connections/{userId}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := h.svc.Remove(r.Context(), viewer.ID, chi.URLParam(r, "userId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Connection removed successfully"})
}

// Requests handles GET /api/connections/requests.
func (h *Handler) Requests(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	reqs, err := h.svc.ListReceived(r.Context(), viewer.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	u, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Authentication required")
		return nil, false
	}
	return u, true
}

// writeError maps service errors to the envelope. Messages are shown to users verbatim.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, graph.ErrSelfRequest):
		api.WriteBadRequest(w, api.ReasonSelfRequest, "You can't send a request to yourself")
	case errors.Is(err, graph.ErrUserNotFound):
		api.WriteNotFound(w, "User not found")
	case errors.Is(err, graph.ErrRequestNotFound):
		api.WriteNotFound(w, "Connection request not found")
	case errors.Is(err, graph.ErrAlreadyConnected):
		api.WriteConflict(w, api.ReasonAlreadyConnected, "You are already connected")
	case errors.Is(err, graph.ErrRequestExists):
		api.WriteConflict(w, api.ReasonRequestExists, "A connection request already exists")
	case errors.Is(err, graph.ErrRequestProcessed):
		api.WriteConflict(w, api.ReasonRequestProcessed, "Request already processed")
	case errors.Is(err, graph.ErrNotConnected):
		api.WriteConflict(w, api.ReasonNotConnected, "You are not connected with this user")
	default:
		h.logger(r.Context()).Error("connection request failed", "error", err)
		api.WriteInternalError(w, "Server error")
	}
}

// logger prefers the request-scoped logger and falls back to the handler's.
func (h *Handler) logger(ctx context.Context) *slog.Logger {
	if l, ok := appctx.LoggerFromContext(ctx); ok {
		return l
	}
	return h.log
}
