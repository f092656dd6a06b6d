package notify

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Handler provides the notification and warning HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a notify Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the /api/v0/auth/notifications routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDelete)
	r.Delete("/clear", h.handleClear)
	return r
}

// WarningRoutes returns the /api/v0/auth/warnings routes.
func (h *Handler) WarningRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateWarning)
	r.Delete("/{id}", h.handleDeleteWarning)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	page := httpserver.Page(r)
	items, err := h.svc.ListNotifications(r.Context(), p.ID, page.Limit, page.Offset)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, items)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if err := h.svc.DeleteNotification(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if err := h.svc.DeleteNotificationsByRecipient(r.Context(), p.ID, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleCreateWarning(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if !p.TokenContextFromToken(profile.TokenFromContext(r.Context())).CanDo(profile.PermModerator) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req WarningCreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.CreateWarning(r.Context(), req, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleDeleteWarning(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if err := h.svc.DeleteWarning(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}
