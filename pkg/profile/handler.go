package profile

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/internal/httpserver"
)

// CreateRequest is the JSON body for POST /api/v0/auth/register.
type CreateRequest struct {
	Username      string `json:"username" validate:"required,min=2,max=500"`
	Password      string `json:"password" validate:"required,min=6"`
	PolicyConsent bool   `json:"policy_consent"`
	Token         string `json:"token"`
}

// LoginRequest is the JSON body for POST /api/v0/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Token    string `json:"token"`
	TOTP     string `json:"totp"`
}

// DeleteMeRequest is the JSON body for DELETE /api/v0/auth/me.
type DeleteMeRequest struct {
	Password string `json:"password" validate:"required"`
}

// UpdateTokensRequest carries the desired remaining set of hashed
// tokens.
type UpdateTokensRequest struct {
	Tokens []string `json:"tokens"`
}

// SetPasswordRequest is the body for password changes.
type SetPasswordRequest struct {
	Password    string `json:"password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// SetUsernameRequest is the body for renames.
type SetUsernameRequest struct {
	Password string `json:"password" validate:"required"`
	NewName  string `json:"new_name" validate:"required,min=2,max=500"`
}

// SetMetadataRequest is the body for metadata updates.
type SetMetadataRequest struct {
	Metadata Metadata `json:"metadata"`
}

// Handler provides the identity HTTP surface.
type Handler struct {
	svc          *Service
	logger       *slog.Logger
	realIPHeader string
	secure       bool
}

// NewHandler creates an identity Handler.
func NewHandler(svc *Service, logger *slog.Logger, realIPHeader string, secure bool) *Handler {
	return &Handler{svc: svc, logger: logger, realIPHeader: realIPHeader, secure: secure}
}

// Routes returns the /api/v0/auth identity routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Get("/callback", h.handleCallback)
	r.Get("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	r.Delete("/me", h.handleDeleteMe)
	r.Put("/me/tokens", h.handleUpdateTokens)
	r.Post("/me/password", h.handleSetPassword)
	r.Post("/me/username", h.handleSetUsername)
	r.Post("/me/metadata", h.handleSetMetadata)
	r.Post("/tokens", h.handleGenerateToken)
	r.Get("/profile/{id}", h.handleGetProfile)
	return r
}

func (h *Handler) clientIP(r *http.Request) string {
	return httpserver.ClientIP(r, h.realIPHeader)
}

// setSessionCookie issues the session cookie.
func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   h.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.svc.CreateProfile(r.Context(), CreateParams{
		Username:      req.Username,
		Password:      req.Password,
		PolicyConsent: req.PolicyConsent,
		CaptchaToken:  req.Token,
	}, h.clientIP(r))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	h.setSessionCookie(w, token, 60*60*24*365)
	httpserver.RespondMessage(w, token, nil)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.svc.Login(r.Context(), LoginParams{
		Username:     req.Username,
		Password:     req.Password,
		CaptchaToken: req.Token,
		TOTP:         req.TOTP,
	}, h.clientIP(r))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	h.setSessionCookie(w, token, 60*60*24*365)
	httpserver.RespondMessage(w, token, nil)
}

// handleCallback accepts ?token=, sets the cookie and meta-refreshes to
// the root. Used by external auth flows that end with a token in hand.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token != "" {
		h.setSessionCookie(w, token, 60*60*24*365)
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<head><meta http-equiv="Refresh" content="0; URL=/" /></head>`)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(SessionCookie); err != nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	h.setSessionCookie(w, "refresh", 0)
	httpserver.RespondMessage(w, "You have been signed out", nil)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	out := *p
	out.Clean()
	httpserver.Respond(w, &out)
}

func (h *Handler) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req DeleteMeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.DeleteProfile(r.Context(), p.ID, req.Password, false); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	h.setSessionCookie(w, "refresh", 0)
	httpserver.RespondMessage(w, "Profile deleted", nil)
}

func (h *Handler) handleUpdateTokens(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	// the current token must allow account management
	if !p.TokenContextFromToken(TokenFromContext(r.Context())).CanDo(PermManageAccount) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req UpdateTokensRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateProfileTokens(r.Context(), p, req.Tokens); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	callerToken := TokenFromContext(r.Context())
	if !p.TokenContextFromToken(callerToken).CanDo(PermGenerateTokens) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req TokenContext
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.svc.GenerateToken(r.Context(), p, callerToken, req)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.RespondMessage(w, token, nil)
}

func (h *Handler) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if !p.TokenContextFromToken(TokenFromContext(r.Context())).CanDo(PermManageAccount) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req SetPasswordRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdatePassword(r.Context(), p.ID, req.Password, req.NewPassword, true); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleSetUsername(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if !p.TokenContextFromToken(TokenFromContext(r.Context())).CanDo(PermManageAccount) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req SetUsernameRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateUsername(r.Context(), p.ID, req.Password, req.NewName); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

func (h *Handler) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	p := FromContext(r.Context())
	if p == nil {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	if !p.TokenContextFromToken(TokenFromContext(r.Context())).CanDo(PermManageProfile) {
		httpserver.RespondError(w, apierror.New(apierror.NotAllowed))
		return
	}

	var req SetMetadataRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateMetadata(r.Context(), p.ID, req.Metadata); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, nil)
}

// handleGetProfile serves profiles to browsers and to peer servers
// resolving citrus ids. The payload is always cleaned.
func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	out := *p
	out.Clean()
	httpserver.Respond(w, &out)
}
