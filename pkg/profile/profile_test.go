package profile

import (
	"encoding/json"
	"testing"

	"github.com/rbeam/rbeam/internal/idgen"
)

func TestVirtualProfiles(t *testing.T) {
	if g := Global(); g.ID != "@" || g.Username != "@" {
		t.Errorf("Global = %q/%q", g.ID, g.Username)
	}
	if s := System(); s.ID != "0" || s.Username != "system" {
		t.Errorf("System = %q/%q", s.ID, s.Username)
	}
	if a := Anonymous("anonymous#tag1"); a.Username != "anonymous" {
		t.Errorf("Anonymous username = %q", a.Username)
	}
}

func TestAnonymousTag(t *testing.T) {
	tests := []struct {
		input   string
		wantIs  bool
		wantTag string
	}{
		{"anonymous", true, "unknown"},
		{"anonymous#abc123", true, "abc123"},
		{"anonymous#", true, "unknown"},
		{"alice", false, ""},
		{"anon", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			is, tag := AnonymousTag(tt.input)
			if is != tt.wantIs || tag != tt.wantTag {
				t.Errorf("AnonymousTag(%q) = %v, %q; want %v, %q",
					tt.input, is, tag, tt.wantIs, tt.wantTag)
			}
		})
	}
}

func TestIsVirtual(t *testing.T) {
	for _, id := range []string{"@", "0", "system", "anonymous", "anonymous#x"} {
		if !IsVirtual(id) {
			t.Errorf("IsVirtual(%q) = false, want true", id)
		}
	}
	for _, id := range []string{"alice", "0a1b2c"} {
		if IsVirtual(id) {
			t.Errorf("IsVirtual(%q) = true, want false", id)
		}
	}
}

func TestTokenContextCanDo(t *testing.T) {
	unrestricted := TokenContext{}
	if !unrestricted.CanDo(PermModerator) {
		t.Error("nil permissions means unrestricted")
	}

	empty := TokenContext{Permissions: []TokenPermission{}}
	if empty.CanDo(PermSendMail) {
		t.Error("empty permissions means no permissions")
	}

	scoped := TokenContext{Permissions: []TokenPermission{PermSendMail}}
	if !scoped.CanDo(PermSendMail) || scoped.CanDo(PermModerator) {
		t.Error("scoped context should grant only its listed permissions")
	}
}

func TestTokenContextIsSubsetOf(t *testing.T) {
	root := TokenContext{}
	scoped := TokenContext{Permissions: []TokenPermission{PermSendMail}}
	wider := TokenContext{Permissions: []TokenPermission{PermSendMail, PermModerator}}

	if !scoped.IsSubsetOf(root) {
		t.Error("anything is a subset of an unrestricted context")
	}
	if root.IsSubsetOf(scoped) {
		t.Error("unrestricted is never a subset of a scoped context")
	}
	if !scoped.IsSubsetOf(wider) {
		t.Error("narrower set should be a subset")
	}
	if wider.IsSubsetOf(scoped) {
		t.Error("wider set should not be a subset")
	}
}

func TestTokenContextFromToken(t *testing.T) {
	token := "aaaabbbbccccddddeeeeffff00001111"
	p := &Profile{
		Tokens:       []string{idgen.HashToken(token)},
		IPs:          []string{"1.2.3.4"},
		TokenContext: []TokenContext{{App: "test-app", Permissions: []TokenPermission{PermSendMail}}},
	}

	ctx := p.TokenContextFromToken(token)
	if ctx.App != "test-app" {
		t.Errorf("App = %q", ctx.App)
	}

	// unknown tokens default to unrestricted
	if got := p.TokenContextFromToken("nope"); got.Permissions != nil {
		t.Error("unknown token should return the default context")
	}

	// positions past the stored contexts default too
	p.Tokens = append(p.Tokens, idgen.HashToken("second"))
	if got := p.TokenContextFromToken("second"); got.Permissions != nil {
		t.Error("missing context entry should default")
	}
}

func TestCleanRemovesSecrets(t *testing.T) {
	p := &Profile{
		Password:     "hash",
		Salt:         "salt",
		Tokens:       []string{"t"},
		IPs:          []string{"ip"},
		TokenContext: []TokenContext{{}},
		Metadata:     Metadata{Email: "a@b.c"},
	}
	p.Clean()

	if p.Password != "" || p.Salt != "" || p.Tokens != nil || p.IPs != nil ||
		p.TokenContext != nil || p.Metadata.Email != "" {
		t.Errorf("Clean left secrets behind: %+v", p)
	}
}

func TestBadgeJSONShape(t *testing.T) {
	b := Badge{Label: "staff", Background: "#000", Foreground: "#fff"}

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `["staff","#000","#fff"]` {
		t.Errorf("badge wire form = %s", raw)
	}

	var back Badge
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != b {
		t.Errorf("round trip = %+v, want %+v", back, b)
	}
}

func TestTokenContextJSONDistinguishesNilAndEmpty(t *testing.T) {
	var unrestricted, none TokenContext
	none.Permissions = []TokenPermission{}

	rawNil, _ := json.Marshal(unrestricted)
	rawEmpty, _ := json.Marshal(none)

	if string(rawNil) == string(rawEmpty) {
		t.Errorf("nil and empty permission sets must serialize differently: %s vs %s", rawNil, rawEmpty)
	}

	var back TokenContext
	if err := json.Unmarshal(rawNil, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Permissions != nil {
		t.Error("null permissions should unmarshal to nil")
	}
}

func TestGroupHas(t *testing.T) {
	g := Group{Permissions: []GroupPermission{PermHelper}}
	if !g.Has(PermHelper) {
		t.Error("helper group should have Helper")
	}
	if g.Has(PermManager) {
		t.Error("helper group should not have Manager")
	}
	if DefaultGroup().Has(PermHelper) {
		t.Error("default group has no permissions")
	}
}
