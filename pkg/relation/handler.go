package relation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Handler provides the social-graph HTTP surface.
type Handler struct {
	svc      *Service
	profiles ProfileDirectory
	logger   *slog.Logger
}

// NewHandler creates a relation Handler.
func NewHandler(svc *Service, profiles ProfileDirectory, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, profiles: profiles, logger: logger}
}

// Routes returns the /api/v0/auth/relationships routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/follow/{id}", h.handleFollow)
	r.Post("/friend/{id}", h.handleFriend)
	r.Post("/block/{id}", h.handleBlock)
	r.Delete("/{id}", h.handleRemove)
	r.Get("/{id}", h.handleGet)
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

// other resolves the path id; a missing profile reads as NotFound.
func (h *Handler) other(w http.ResponseWriter, r *http.Request) *profile.Profile {
	other, err := h.profiles.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, apierror.New(apierror.NotFound))
		return nil
	}
	return other
}

func (h *Handler) handleFollow(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}

	if err := h.svc.ToggleFollow(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.RespondMessage(w, "Follow toggled", nil)
}

// handleFriend walks the machine: no relationship sends a request, a
// pending one accepts it, anything else removes the relationship.
func (h *Handler) handleFriend(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}
	other := h.other(w, r)
	if other == nil {
		return
	}

	rel, err := h.svc.GetRelationship(r.Context(), p.ID, other.ID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	var next Status
	switch rel.Status {
	case StatusUnknown:
		next = StatusPending
	case StatusPending:
		next = StatusFriends
	default:
		next = StatusUnknown
	}

	if err := h.svc.SetStatus(r.Context(), p.ID, other.ID, next, false); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, map[string]any{"status": next})
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}
	other := h.other(w, r)
	if other == nil {
		return
	}

	if err := h.svc.SetStatus(r.Context(), p.ID, other.ID, StatusBlocked, false); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}
	other := h.other(w, r)
	if other == nil {
		return
	}

	if err := h.svc.SetStatus(r.Context(), p.ID, other.ID, StatusUnknown, false); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p := h.identity(w, r)
	if p == nil {
		return
	}
	other := h.other(w, r)
	if other == nil {
		return
	}

	rel, err := h.svc.GetRelationship(r.Context(), p.ID, other.ID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, rel)
}
