package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rbeam/rbeam/internal/apierror"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env
}

func TestRespondSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, map[string]string{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Error("success should be true")
	}
}

func TestRespondErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		kind apierror.Kind
		want int
	}{
		{"not allowed", apierror.NotAllowed, http.StatusUnauthorized},
		{"not found", apierror.NotFound, http.StatusNotFound},
		{"too expensive", apierror.TooExpensive, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondError(w, apierror.New(tt.kind))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}

			env := decodeEnvelope(t, w)
			if env.Success {
				t.Error("success should be false")
			}
			// the payload carries the numeric status
			if status, ok := env.Payload.(float64); !ok || int(status) != tt.want {
				t.Errorf("payload = %v, want %d", env.Payload, tt.want)
			}
		})
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 25, 0},
		{"explicit page", "?page=2", 25, 50},
		{"explicit limit", "?limit=10&page=3", 10, 30},
		{"limit clamped", "?limit=9999", 100, 0},
		{"garbage ignored", "?limit=x&page=y", 25, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			p := Page(r)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("Page = %+v, want limit %d offset %d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
