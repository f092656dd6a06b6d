package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(NewAuthenticator(svc).Middleware)
	r.Mount("/", NewHandler(svc, testLogger(), "X-Real-IP", true).Routes())
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		r.AddCookie(c)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func TestRegisterLoginMeFlow(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newTestRouter(svc)

	// register
	w, env := doJSON(t, router, http.MethodPost, "/register",
		`{"username":"alice","password":"hunter22","policy_consent":true,"token":"cap"}`)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}

	cookie := sessionCookie(w)
	if cookie == nil {
		t.Fatal("register should set the session cookie")
	}
	if cookie.Value != env.Message {
		t.Error("cookie should carry the unhashed token from the envelope")
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", cookie)
	}

	// login issues a fresh token
	w2, env2 := doJSON(t, router, http.MethodPost, "/login",
		`{"username":"alice","password":"hunter22","token":"cap"}`)
	if w2.Code != http.StatusOK || !env2.Success {
		t.Fatalf("login = %d %s", w2.Code, w2.Body.String())
	}
	if env2.Message == env.Message {
		t.Error("login must issue a new token")
	}

	// me with the cookie
	w3, env3 := doJSON(t, router, http.MethodGet, "/me", "", sessionCookie(w2))
	if w3.Code != http.StatusOK {
		t.Fatalf("me = %d %s", w3.Code, w3.Body.String())
	}

	var me Profile
	if err := json.Unmarshal(env3.Payload, &me); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if me.Username != "alice" || me.Coins != 100 {
		t.Errorf("me = %+v", me)
	}
	if len(me.Tokens) != 0 || me.Password != "" {
		t.Error("me payload must be cleaned")
	}
}

func TestMeUnauthenticated(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newTestRouter(svc)

	w, _ := doJSON(t, router, http.MethodGet, "/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestErrorPayloadCarriesStatus(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newTestRouter(svc)

	w, env := doJSON(t, router, http.MethodGet, "/profile/ghost-user", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	var status int
	if err := json.Unmarshal(env.Payload, &status); err != nil || status != http.StatusNotFound {
		t.Errorf("payload = %s, want 404", env.Payload)
	}
}

func TestLogout(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newTestRouter(svc)

	w, _ := doJSON(t, router, http.MethodPost, "/register",
		`{"username":"alice","password":"hunter22","policy_consent":true}`)

	w2, _ := doJSON(t, router, http.MethodGet, "/logout", "", sessionCookie(w))
	cookie := sessionCookie(w2)
	if cookie == nil {
		t.Fatal("logout should rewrite the cookie")
	}
	if cookie.Value != "refresh" || cookie.MaxAge != 0 {
		t.Errorf("logout cookie = %q maxage %d, want sentinel refresh", cookie.Value, cookie.MaxAge)
	}
}

func TestDeleteMeWrongPassword(t *testing.T) {
	svc := newTestService(newFakeStore())
	svc.SetDeleter(&fakeDeleter{})
	router := newTestRouter(svc)

	w, _ := doJSON(t, router, http.MethodPost, "/register",
		`{"username":"alice","password":"hunter22","policy_consent":true}`)

	w2, _ := doJSON(t, router, http.MethodDelete, "/me",
		`{"password":"wrong"}`, sessionCookie(w))
	if w2.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w2.Code)
	}
}

func TestGeneratedTokenScopes(t *testing.T) {
	svc := newTestService(newFakeStore())
	router := newTestRouter(svc)

	w, _ := doJSON(t, router, http.MethodPost, "/register",
		`{"username":"alice","password":"hunter22","policy_consent":true}`)
	root := sessionCookie(w)

	// mint a mail-only token
	w2, env2 := doJSON(t, router, http.MethodPost, "/tokens",
		`{"app":"mailer","permissions":["SendMail"]}`, root)
	if w2.Code != http.StatusOK {
		t.Fatalf("tokens = %d %s", w2.Code, w2.Body.String())
	}
	scoped := env2.Message

	// the scoped token authenticates
	p, err := svc.GetProfileByUnhashed(context.Background(), scoped)
	if err != nil {
		t.Fatalf("scoped token should resolve: %v", err)
	}
	ctx := p.TokenContextFromToken(scoped)
	if !ctx.CanDo(PermSendMail) || ctx.CanDo(PermModerator) {
		t.Errorf("scoped context = %+v", ctx)
	}

	// but cannot mint wider tokens
	w3, _ := doJSON(t, router, http.MethodPost, "/tokens",
		`{"permissions":["Moderator"]}`, &http.Cookie{Name: SessionCookie, Value: scoped})
	if w3.Code == http.StatusOK {
		t.Error("scoped token minted beyond its scope")
	}
}
