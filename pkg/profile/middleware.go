package profile

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	identityKey contextKey = "profile"
	tokenKey    contextKey = "token"
)

// SessionCookie is the session cookie name. The logout sentinel value
// is "refresh".
const SessionCookie = "__Secure-Token"

// Authenticator resolves the session token on incoming requests.
type Authenticator struct {
	svc *Service
}

// NewAuthenticator creates an Authenticator over the identity service.
func NewAuthenticator(svc *Service) *Authenticator {
	return &Authenticator{svc: svc}
}

// Middleware attaches the authenticated profile (and its unhashed
// token) to the request context when a valid session is presented.
// Requests without a session pass through unauthenticated; handlers
// that need identity check FromContext.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := a.svc.GetProfileByUnhashed(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, p)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestToken pulls the unhashed token from the session cookie or the
// Authorization header.
func requestToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" && c.Value != "refresh" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// FromContext returns the authenticated profile, or nil.
func FromContext(ctx context.Context) *Profile {
	p, _ := ctx.Value(identityKey).(*Profile)
	return p
}

// TokenFromContext returns the unhashed session token of the request.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// NewContext returns ctx carrying p as the authenticated profile; used
// by tests and internal calls.
func NewContext(ctx context.Context, p *Profile, token string) context.Context {
	ctx = context.WithValue(ctx, identityKey, p)
	if token != "" {
		ctx = context.WithValue(ctx, tokenKey, token)
	}
	return ctx
}
