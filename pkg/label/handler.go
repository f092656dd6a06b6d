package label

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Handler provides the label HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a label Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the /api/v0/auth/labels routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	labels, err := h.svc.List(r.Context())
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, labels)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, l)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req CreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	l, err := h.svc.Create(r.Context(), req, p)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, l)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}
