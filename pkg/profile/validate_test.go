package profile

import (
	"errors"
	"strings"
	"testing"

	"github.com/rbeam/rbeam/internal/apierror"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"simple", "alice", false},
		{"allowed punctuation", "a.b-c_d!", false},
		{"digits", "user2026", false},
		{"minimum length", "ab", false},
		{"too short", "a", true},
		{"too long", strings.Repeat("a", 501), true},
		{"space", "a b", true},
		{"slash", "a/b", true},
		{"unicode", "ålice", true},
		{"reserved admin", "admin", true},
		{"reserved anonymous", "anonymous", true},
		{"reserved inbox", "inbox", true},
		{"reserved market", "market", true},
		{"reserved well-known", ".well-known", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apierror.New(apierror.ValueError)) {
				t.Errorf("error kind = %v, want ValueError", err)
			}
		})
	}
}

func TestFilterMetadataDropsUnknownKeys(t *testing.T) {
	m, err := FilterMetadata(Metadata{KV: map[string]string{
		"sparkler:display_name": "Alice",
		"evil:unknown":          "x",
	}})
	if err != nil {
		t.Fatalf("FilterMetadata: %v", err)
	}

	if m.KV["sparkler:display_name"] != "Alice" {
		t.Error("allow-listed key should survive")
	}
	if _, ok := m.KV["evil:unknown"]; ok {
		t.Error("unknown key should be dropped silently")
	}
}

func TestFilterMetadataLengthBounds(t *testing.T) {
	long := strings.Repeat("x", 64*64+1)
	if _, err := FilterMetadata(Metadata{KV: map[string]string{"sparkler:biography": long}}); err == nil {
		t.Error("oversized value should be rejected")
	}

	// custom_css gets the extended bound
	css := strings.Repeat("x", 64*100)
	if _, err := FilterMetadata(Metadata{KV: map[string]string{"sparkler:custom_css": css}}); err != nil {
		t.Errorf("custom_css within bound rejected: %v", err)
	}

	hugeCSS := strings.Repeat("x", 64*128+1)
	if _, err := FilterMetadata(Metadata{KV: map[string]string{"sparkler:custom_css": hugeCSS}}); err == nil {
		t.Error("custom_css over bound should be rejected")
	}
}
