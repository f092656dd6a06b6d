package profile

import (
	"regexp"
	"strings"

	"github.com/rbeam/rbeam/internal/apierror"
)

// reservedUsernames can never be registered; they collide with routes
// or with virtual profiles.
var reservedUsernames = map[string]struct{}{
	"admin":       {},
	"account":     {},
	"anonymous":   {},
	"login":       {},
	"sign_up":     {},
	"settings":    {},
	"api":         {},
	"intents":     {},
	"circles":     {},
	"chats":       {},
	"sites":       {},
	"responses":   {},
	"questions":   {},
	"comments":    {},
	"response":    {},
	"question":    {},
	"comment":     {},
	"pages":       {},
	"inbox":       {},
	"system":      {},
	"market":      {},
	".well-known": {},
	"static":      {},
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-.!]+$`)

// ValidateUsername checks the username rules: allowed characters,
// length 2..500, not reserved. Callers lowercase before storing; the
// reserved check is made on the folded form.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return apierror.New(apierror.ValueError)
	}
	if len(username) < 2 || len(username) > 500 {
		return apierror.New(apierror.ValueError)
	}
	if _, ok := reservedUsernames[strings.ToLower(username)]; ok {
		return apierror.New(apierror.ValueError)
	}
	return nil
}

// allowedMetadataKeys is the kv allow-list; unknown keys are silently
// dropped on update.
var allowedMetadataKeys = map[string]struct{}{
	"sparkler:display_name":            {},
	"sparkler:status_note":             {},
	"sparkler:status_emoji":            {},
	"sparkler:limited_friend_requests": {},
	"sparkler:limited_chats":           {},
	"sparkler:private_profile":         {},
	"sparkler:allow_drawings":          {},
	"sparkler:biography":               {},
	"sparkler:sidebar":                 {},
	"sparkler:avatar_url":              {},
	"sparkler:banner_url":              {},
	"sparkler:banner_fit":              {},
	"sparkler:website_theme":           {},
	"sparkler:allow_profile_themes":    {},
	"sparkler:motivational_header":     {},
	"sparkler:warning":                 {},
	"sparkler:anonymous_username":      {},
	"sparkler:anonymous_avatar":        {},
	"sparkler:pinned":                  {},
	"sparkler:profile_theme":           {},
	"sparkler:layout":                  {},
	"sparkler:nsfw_profile":            {},
	"sparkler:mail_signature":          {},
	"sparkler:custom_css":              {},
	"sparkler:disallow_anonymous":      {},
	"sparkler:disallow_anonymous_comments": {},
	"sparkler:require_account":         {},
	"sparkler:disable_mailbox":         {},
	"sparkler:private_social":          {},
	"rbeam:totp_secret":                {},
	"rbeam:market_theme_template":      {},
}

const (
	maxMetadataValueLen   = 64 * 64
	maxCustomCSSValueLen  = 64 * 128
	customCSSMetadataKey  = "sparkler:custom_css"
)

// FilterMetadata drops unknown kv keys and validates value lengths.
func FilterMetadata(m Metadata) (Metadata, error) {
	kv := make(map[string]string, len(m.KV))
	for key, value := range m.KV {
		if _, ok := allowedMetadataKeys[key]; !ok {
			continue
		}
		limit := maxMetadataValueLen
		if key == customCSSMetadataKey {
			limit = maxCustomCSSValueLen
		}
		if len(value) > limit {
			return Metadata{}, apierror.New(apierror.TooLong)
		}
		kv[key] = value
	}
	m.KV = kv
	return m, nil
}
