// Package backend talks to the app's session backend and uploads
// recordings to Google Drive.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-parley/internal/httpc"
	"github.com/teslashibe/go-parley/pkg/conversation"
)

// ErrNoBaseURL is returned by NewClient without a base URL.
var ErrNoBaseURL = errors.New("backend: base url required")

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, for example https://api.example.com/v1.
	BaseURL string

	// TokenSource authenticates requests with a bearer token. Nil sends
	// requests unauthenticated.
	TokenSource oauth2.TokenSource

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements the session collaborators over HTTP.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.Client
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if cfg.TokenSource != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.HTTPClient)
		hc = oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, cfg.TokenSource))
		hc.Timeout = cfg.HTTPClient.Timeout
	}

	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   hc,
		logger: cfg.Logger.With("component", "backend.client"),
	}, nil
}

// StaticToken returns a token source for a fixed bearer token.
func StaticToken(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

func (c *Client) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

// Collaborators binds the client to a session. Upload is left to the
// Drive uploader.
func (c *Client) Collaborators() conversation.Collaborators {
	return conversation.Collaborators{
		Quota:            c.Quota,
		Persist:          c.Persist,
		EndServerSession: c.EndSession,
		PastContext:      c.PastContext,
		Summarize:        c.Summarize,
	}
}

type quotaResponse struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

// Quota returns the seconds of conversation left today.
func (c *Client) Quota(ctx context.Context) (int, error) {
	var resp quotaResponse
	if err := httpc.GetJSON(ctx, c.http, c.url("quota"), &resp); err != nil {
		return 0, fmt.Errorf("get quota: %w", err)
	}
	return resp.RemainingSeconds, nil
}

// Persist uploads a finished session.
func (c *Client) Persist(ctx context.Context, rec conversation.Record) error {
	if err := httpc.PostJSON(ctx, c.http, c.url("sessions"), rec, nil); err != nil {
		return fmt.Errorf("post session %s: %w", rec.SessionID, err)
	}
	c.logger.Debug("session uploaded", "session_id", rec.SessionID)
	return nil
}

// EndSession closes the server-side tracking for a realtime session.
func (c *Client) EndSession(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return nil
	}
	if err := httpc.PostJSON(ctx, c.http, c.url("sessions", sessionKey, "end"), struct{}{}, nil); err != nil {
		return fmt.Errorf("end session %s: %w", sessionKey, err)
	}
	return nil
}

type contextResponse struct {
	Text string `json:"text"`
}

// PastContext answers one past-context lookup.
func (c *Client) PastContext(ctx context.Context, lookup conversation.Lookup) (string, error) {
	var resp contextResponse
	if err := httpc.GetJSON(ctx, c.http, c.url("context", string(lookup)), &resp); err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("get %s context: %w", lookup, err)
	}
	return resp.Text, nil
}

type summarizeRequest struct {
	Transcript []conversation.TranscriptEntry `json:"transcript"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Summarize asks the backend to condense a transcript.
func (c *Client) Summarize(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error) {
	var resp summarizeResponse
	if err := httpc.PostJSON(ctx, c.http, c.url("summaries"), summarizeRequest{Transcript: transcript}, &resp); err != nil {
		return "", fmt.Errorf("post summary: %w", err)
	}
	return strings.TrimSpace(resp.Summary), nil
}

type invitationRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

// CreateInvitation invites a family member to the app.
func (c *Client) CreateInvitation(ctx context.Context, name, contact string) error {
	if err := httpc.PostJSON(ctx, c.http, c.url("invitations"), invitationRequest{Name: name, Contact: contact}, nil); err != nil {
		return fmt.Errorf("post invitation: %w", err)
	}
	c.logger.Info("invitation created", "name", name)
	return nil
}

// Name identifies the client in a summary chain.
func (c *Client) Name() string { return "backend" }
