package ipban

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Handler provides the ban/block HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an ipban Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// BanRoutes returns the /api/v0/auth/ipbans routes.
func (h *Handler) BanRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleListBans)
	r.Post("/", h.handleCreateBan)
	r.Delete("/{id}", h.handleDeleteBan)
	return r
}

// BlockRoutes returns the /api/v0/auth/ipblocks routes.
func (h *Handler) BlockRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleListBlocks)
	r.Post("/", h.handleCreateBlock)
	r.Delete("/{id}", h.handleDeleteBlock)
	return r
}

func requireIdentity(w http.ResponseWriter, r *http.Request) *profile.Profile {
	p := profile.FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return nil
	}
	return p
}

func (h *Handler) handleListBans(w http.ResponseWriter, r *http.Request) {
	p := requireIdentity(w, r)
	if p == nil {
		return
	}

	bans, err := h.svc.ListBans(r.Context(), p)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, bans)
}

func (h *Handler) handleCreateBan(w http.ResponseWriter, r *http.Request) {
	p := requireIdentity(w, r)
	if p == nil {
		return
	}

	if !p.TokenContextFromToken(profile.TokenFromContext(r.Context())).CanDo(profile.PermModerator) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req BanCreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.CreateBan(r.Context(), req, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleDeleteBan(w http.ResponseWriter, r *http.Request) {
	p := requireIdentity(w, r)
	if p == nil {
		return
	}

	if err := h.svc.DeleteBan(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	p := requireIdentity(w, r)
	if p == nil {
		return
	}

	blocks, err := h.svc.ListBlocks(r.Context(), p)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, blocks)
}

func (h *Handler) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	p := requireIdentity(w, r)
	if p == nil {
		return
	}

	var req BlockCreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.CreateBlock(r.Context(), req, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	p := requireIdentity(w, r)
	if p == nil {
		return
	}

	if err := h.svc.DeleteBlock(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}
