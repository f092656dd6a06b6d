package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rbeam/rbeam/internal/apierror"
	"github.com/rbeam/rbeam/pkg/profile"
)

// Client talks to peer servers. Failures surface as Other, except a
// peer's negative profile answer, which reads as NotFound. There is no
// retry: a remote 5xx loses that delivery.
type Client struct {
	http         *http.Client
	secure       bool
	blockedHosts map[string]struct{}
	logger       *slog.Logger
}

// NewClient creates a federation client. The secure flag selects
// https; blockedHosts are refused outright.
func NewClient(httpClient *http.Client, secure bool, blockedHosts []string, logger *slog.Logger) *Client {
	blocked := make(map[string]struct{}, len(blockedHosts))
	for _, h := range blockedHosts {
		blocked[h] = struct{}{}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, secure: secure, blockedHosts: blocked, logger: logger}
}

func (c *Client) proto() string {
	if c.secure {
		return "https"
	}
	return "http"
}

// envelope is the uniform response wrapper peers speak.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

// Server discovers the peer descriptor for a host.
func (c *Client) Server(ctx context.Context, host string) (Descriptor, error) {
	if _, blocked := c.blockedHosts[host]; blocked {
		return Descriptor{}, apierror.New(apierror.Other)
	}

	url := fmt.Sprintf("%s://%s/.well-known/citrus/citrus.json", c.proto(), host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Descriptor{}, apierror.Wrap(apierror.Other, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Descriptor{}, apierror.Wrap(apierror.Other, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, apierror.Newf(apierror.Other, "peer %s descriptor returned %d", host, resp.StatusCode)
	}

	var d Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Descriptor{}, apierror.Wrap(apierror.Other, err)
	}
	return d, nil
}

// FetchProfile reads a profile from a peer that advertises the Profile
// schema.
func (c *Client) FetchProfile(ctx context.Context, server, id string) (*profile.Profile, error) {
	peer, err := c.Server(ctx, server)
	if err != nil {
		return nil, err
	}
	if !peer.Supports(SchemaProfile) {
		return nil, apierror.New(apierror.Other)
	}

	url := fmt.Sprintf("%s://%s/api/v0/auth/profile/%s", c.proto(), server, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	if !env.Success || len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, apierror.New(apierror.NotFound)
	}

	var p profile.Profile
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, apierror.Wrap(apierror.Other, err)
	}
	return &p, nil
}

// VerifyMailSchema checks that the peer accepts mail.
func (c *Client) VerifyMailSchema(ctx context.Context, server string) error {
	peer, err := c.Server(ctx, server)
	if err != nil {
		return err
	}
	if !peer.Supports(SchemaMail) {
		return apierror.New(apierror.Other)
	}
	return nil
}

// SendMail posts a single-recipient copy of a mail to the peer. Remote
// recipients each receive their own copy instead of sharing a thread.
func (c *Client) SendMail(ctx context.Context, server, title, content, recipient string) error {
	body, err := json.Marshal(map[string]any{
		"title":     title,
		"content":   content,
		"recipient": []string{recipient},
	})
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}

	url := fmt.Sprintf("%s://%s/api/v0/auth/mail", c.proto(), server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apierror.Wrap(apierror.Other, err)
	}
	if !env.Success {
		c.logger.Warn("remote mail delivery refused", "server", server, "message", env.Message)
		return apierror.New(apierror.Other)
	}
	return nil
}
