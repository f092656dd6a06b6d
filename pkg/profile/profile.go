// Package profile implements identity: profiles, credentials, session
// tokens with scoped contexts, groups and virtual profiles.
package profile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rbeam/rbeam/internal/idgen"
)

// Profile is a user account. The tokens, ips and token_context slices
// are parallel: index i of each describes one session. Every writer
// maintains that invariant; readers that find a shorter ips or
// token_context synthesize defaults on the fly.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// Password is the salted hash, never the cleartext.
	Password     string         `json:"password"`
	Salt         string         `json:"salt"`
	Tokens       []string       `json:"tokens"`
	IPs          []string       `json:"ips"`
	TokenContext []TokenContext `json:"token_context"`
	Metadata     Metadata       `json:"metadata"`
	Badges       []Badge        `json:"badges"`
	Group        int32          `json:"group"`
	Joined       uint64         `json:"joined"`
	Tier         int32          `json:"tier"`
	Labels       []string       `json:"labels"`
	Coins        int32          `json:"coins"`
}

// Clean removes credential and session material before a profile is
// returned to anyone but its owner.
func (p *Profile) Clean() {
	p.Password = ""
	p.Salt = ""
	p.Tokens = nil
	p.IPs = nil
	p.TokenContext = nil
	p.Metadata = Metadata{}
}

// TokenContextFromToken returns the context stored alongside the given
// unhashed token. Positions past the stored context slice default to an
// unrestricted context, as do unknown tokens.
func (p *Profile) TokenContextFromToken(token string) TokenContext {
	hashed := idgen.HashToken(token)
	for i, t := range p.Tokens {
		if t != hashed {
			continue
		}
		if i < len(p.TokenContext) {
			return p.TokenContext[i]
		}
		break
	}
	return TokenContext{}
}

// TokenPermission scopes what a session token may do.
type TokenPermission string

const (
	// PermManageAssets allows managing content uploaded by the user.
	PermManageAssets TokenPermission = "ManageAssets"
	// PermManageProfile allows managing user metadata.
	PermManageProfile TokenPermission = "ManageProfile"
	// PermManageAccount allows managing all user fields.
	PermManageAccount TokenPermission = "ManageAccount"
	// PermModerator allows executing moderator actions.
	PermModerator TokenPermission = "Moderator"
	// PermGenerateTokens allows generating tokens on behalf of the
	// account. Generated tokens cannot exceed the generator's scope.
	PermGenerateTokens TokenPermission = "GenerateTokens"
	// PermSendMail allows sending mail on behalf of the user.
	PermSendMail TokenPermission = "SendMail"
)

// TokenContext is the metadata attached to one session token. A nil
// Permissions slice means unrestricted (legacy root session); an empty
// slice means no permissions at all.
type TokenContext struct {
	App         string            `json:"app,omitempty"`
	Permissions []TokenPermission `json:"permissions"`
	Timestamp   uint64            `json:"timestamp"`
}

// AppName returns the app field, or "".
func (c TokenContext) AppName() string { return c.App }

// CanDo reports whether the context grants the permission.
func (c TokenContext) CanDo(permission TokenPermission) bool {
	if c.Permissions == nil {
		return true
	}
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// IsSubsetOf reports whether every permission of c is held by parent.
// A nil parent set grants everything; a nil child set is only a subset
// of another nil set.
func (c TokenContext) IsSubsetOf(parent TokenContext) bool {
	if parent.Permissions == nil {
		return true
	}
	if c.Permissions == nil {
		return false
	}
	for _, p := range c.Permissions {
		if !parent.CanDo(p) {
			return false
		}
	}
	return true
}

// Metadata is extra profile information.
type Metadata struct {
	Email         string            `json:"email"`
	PolicyConsent bool              `json:"policy_consent"`
	KV            map[string]string `json:"kv"`
}

// Exists reports whether key holds a non-empty value.
func (m Metadata) Exists(key string) bool { return m.KV[key] != "" }

// IsTrue reports whether key holds the literal "true".
func (m Metadata) IsTrue(key string) bool { return m.KV[key] == "true" }

// SoftGet returns the value at key, or "".
func (m Metadata) SoftGet(key string) string { return m.KV[key] }

// Badge is a profile badge: label plus background and text colors. The
// wire form is a 3-element array for compatibility with stored rows.
type Badge struct {
	Label      string
	Background string
	Foreground string
}

func (b Badge) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{b.Label, b.Background, b.Foreground})
}

func (b *Badge) UnmarshalJSON(data []byte) error {
	var arr [3]string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("unmarshaling badge: %w", err)
	}
	b.Label, b.Background, b.Foreground = arr[0], arr[1], arr[2]
	return nil
}

// Virtual profiles. These are returned straight from constructors and
// never persisted; the store never sees their ids.

// Global returns the "@" profile used to address everyone.
func Global() *Profile {
	return &Profile{ID: "@", Username: "@", Metadata: defaultMetadata()}
}

// System returns the system profile (id "0").
func System() *Profile {
	return &Profile{ID: "0", Username: "system", Metadata: defaultMetadata()}
}

// Anonymous returns an anonymous profile carrying the given tag as id.
func Anonymous(tag string) *Profile {
	return &Profile{ID: tag, Username: "anonymous", Metadata: defaultMetadata()}
}

func defaultMetadata() Metadata {
	// policy_consent defaults true: consent is required at sign up.
	return Metadata{PolicyConsent: true, KV: map[string]string{}}
}

// AnonymousTag splits an anonymous id. The tag is the part after "#";
// ids from before tagging read as "unknown".
func AnonymousTag(input string) (isAnonymous bool, tag string) {
	if input != "anonymous" && !strings.HasPrefix(input, "anonymous#") {
		return false, ""
	}
	parts := strings.SplitN(input, "#", 2)
	if len(parts) < 2 || parts[1] == "" {
		return true, "unknown"
	}
	return true, parts[1]
}

// IsVirtual reports whether id addresses a profile that never hits the
// store.
func IsVirtual(id string) bool {
	if id == "@" || id == "0" || id == "system" || id == "#" {
		return true
	}
	anon, _ := AnonymousTag(id)
	return anon
}
