package mail

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Handler provides the mail HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a mail Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the /api/v0/auth/mail routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/inbox", h.handleInbox)
	r.Get("/sent", h.handleSent)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/state", h.handleSetState)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) *profile.Profile {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return nil
	}
	return p
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	if !p.TokenContextFromToken(profile.TokenFromContext(r.Context())).CanDo(profile.PermSendMail) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req CreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.svc.Create(r.Context(), req, p.ID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, m)
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	page := httpserver.Page(r)
	items, err := h.svc.ListInbox(r.Context(), p.ID, page.Limit, page.Offset)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, items)
}

func (h *Handler) handleSent(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	page := httpserver.Page(r)
	items, err := h.svc.ListSent(r.Context(), p.ID, page.Limit, page.Offset)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, m)
}

func (h *Handler) handleSetState(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	var req SetStateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateState(r.Context(), chi.URLParam(r, "id"), req.State, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}
