package market

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Handler provides the marketplace HTTP surface.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a market Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ItemRoutes returns the /api/v0/auth/items routes.
func (h *Handler) ItemRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateItem)
	r.Get("/{id}", h.handleGetItem)
	r.Put("/{id}", h.handleUpdateItem)
	r.Put("/{id}/content", h.handleUpdateItemContent)
	r.Post("/{id}/status", h.handleSetItemStatus)
	r.Delete("/{id}", h.handleDeleteItem)
	return r
}

// TransactionRoutes returns the /api/v0/auth/transactions routes.
func (h *Handler) TransactionRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreateTransaction)
	r.Get("/", h.handleListTransactions)
	r.Get("/{id}", h.handleGetTransaction)
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

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	if !p.TokenContextFromToken(profile.TokenFromContext(r.Context())).CanDo(profile.PermManageAssets) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req ItemCreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	item, err := h.svc.CreateItem(r.Context(), req, p.ID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, item)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, item)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	var req ItemEditParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateItem(r.Context(), chi.URLParam(r, "id"), req, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleUpdateItemContent(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	var req struct {
		Content string `json:"content" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateItemContent(r.Context(), chi.URLParam(r, "id"), req.Content, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleSetItemStatus(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	if !p.TokenContextFromToken(profile.TokenFromContext(r.Context())).CanDo(profile.PermModerator) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req SetItemStatusParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateItemStatus(r.Context(), chi.URLParam(r, "id"), req.Status, p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	if err := h.svc.DeleteItem(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, nil)
}

func (h *Handler) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	var req TransactionCreateParams
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.svc.CreateTransaction(r.Context(), req, p.ID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, t)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	page := httpserver.Page(r)
	items, err := h.svc.ListParticipatingTransactions(r.Context(), p.ID, page.Limit, page.Offset)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, items)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	t, err := h.svc.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	// receipts are private to their parties
	if t.Customer != p.ID && t.Merchant != p.ID {
		httpserver.RespondError(w, apierror.New(apierror.NotFound))
		return
	}
	httpserver.Respond(w, t)
}
