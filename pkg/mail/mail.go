// Package mail implements direct messages: one row per mail with an
// N-recipient fan-out, per-recipient filtering, and remote delivery to
// peer servers for federated recipients.
package mail

import (
	"encoding/json"
	"strings"
)

// State is the read state of a mail.
type State string

const (
	StateUnread State = "Unread"
	StateRead   State = "Read"
)

// ParseState normalizes a stored state. Legacy rows carry the JSON
// quoted form.
func ParseState(s string) State {
	if State(strings.Trim(s, `"`)) == StateRead {
		return StateRead
	}
	return StateUnread
}

// Mail is a direct message.
type Mail struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Timestamp uint64   `json:"timestamp"`
	State     State    `json:"state"`
	Author    string   `json:"author"`
	Recipient []string `json:"recipient"`
}

// CreateParams is the input for Create.
type CreateParams struct {
	Title     string   `json:"title" validate:"required"`
	Content   string   `json:"content" validate:"required"`
	Recipient []string `json:"recipient" validate:"required"`
}

// SetStateParams is the input for UpdateState.
type SetStateParams struct {
	State State `json:"state" validate:"required,oneof=Unread Read"`
}

// parseRecipients reads the stored recipient column: a JSON list, with
// a fallback for legacy rows holding one bare id.
func parseRecipients(raw string) []string {
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	if raw == "" {
		return nil
	}
	return []string{raw}
}
