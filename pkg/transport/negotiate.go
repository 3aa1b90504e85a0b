package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/realtime"

	"github.com/teslashibe/go-parley/internal/httpc"
)

// Default OpenAI realtime endpoints.
const (
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	DefaultCallsURL    = "https://api.openai.com/v1/realtime/calls"
	DefaultModel       = "gpt-realtime"
)

// SecretFunc mints a short-lived client secret for a peer session.
type SecretFunc func(ctx context.Context) (string, error)

// OpenAIConfig configures OpenAINegotiator.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	RealtimeURL string
	CallsURL    string
	HTTPClient  *http.Client
	Logger      *slog.Logger

	// Secret overrides how ephemeral secrets are minted.
	Secret SecretFunc
}

// OpenAINegotiator connects both transport variants to the OpenAI realtime
// API. The socket variant authenticates with the API key directly; the peer
// variant mints an ephemeral client secret and posts its SDP offer to the
// calls endpoint.
type OpenAINegotiator struct {
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAINegotiator creates a negotiator.
func NewOpenAINegotiator(cfg OpenAIConfig) *OpenAINegotiator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = DefaultRealtimeURL
	}
	if cfg.CallsURL == "" {
		cfg.CallsURL = DefaultCallsURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.Client
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	n := &OpenAINegotiator{cfg: cfg, logger: cfg.Logger.With("component", "transport.negotiate")}
	if n.cfg.Secret == nil {
		n.cfg.Secret = n.mintSecret
	}
	return n
}

// Credentials returns the socket endpoint and bearer token.
func (n *OpenAINegotiator) Credentials(ctx context.Context) (Credentials, error) {
	if n.cfg.APIKey == "" {
		return Credentials{}, fmt.Errorf("openai api key is not set")
	}

	u, err := url.Parse(n.cfg.RealtimeURL)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", n.cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("OpenAI-Beta", "realtime=v1")

	return Credentials{URL: u.String(), Token: n.cfg.APIKey, Header: header}, nil
}

func (n *OpenAINegotiator) mintSecret(ctx context.Context) (string, error) {
	client := openai.NewClient(
		option.WithAPIKey(n.cfg.APIKey),
		option.WithHTTPClient(n.cfg.HTTPClient),
	)

	resp, err := client.Realtime.ClientSecrets.New(ctx, realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{
			OfRealtime: &realtime.RealtimeSessionCreateRequestParam{
				Type:  "realtime",
				Model: realtime.RealtimeSessionCreateRequestModel(n.cfg.Model),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create client secret: %w", err)
	}
	return resp.Value, nil
}

// Exchange posts the SDP offer and returns the answer and call id.
func (n *OpenAINegotiator) Exchange(ctx context.Context, offer string) (Answer, error) {
	secret, err := n.cfg.Secret(ctx)
	if err != nil {
		return Answer{}, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+secret)

	resp, body, err := httpc.Post(ctx, n.cfg.HTTPClient, n.cfg.CallsURL, "application/sdp", []byte(offer), header)
	if err != nil {
		var se *httpc.StatusError
		retryable := errors.As(err, &se) && se.Retryable()
		return Answer{}, NewConnectionError("sdp exchange", err, retryable)
	}

	key := callID(resp.Header.Get("Location"))
	if key == "" {
		key = uuid.NewString()
		n.logger.Debug("no call id in answer, generated one", "session_key", key)
	}
	return Answer{SDP: string(body), SessionKey: key}, nil
}

// Hangup ends a server-side call by id.
func (n *OpenAINegotiator) Hangup(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+n.cfg.APIKey)

	endpoint := strings.TrimRight(n.cfg.CallsURL, "/") + "/" + url.PathEscape(key) + "/hangup"
	if _, _, err := httpc.Post(ctx, n.cfg.HTTPClient, endpoint, "application/json", nil, header); err != nil {
		return fmt.Errorf("hangup %s: %w", key, err)
	}
	return nil
}

func callID(location string) string {
	if location == "" {
		return ""
	}
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	id := path.Base(strings.TrimRight(location, "/"))
	if id == "." || id == "/" {
		return ""
	}
	return id
}

var _ Negotiator = (*OpenAINegotiator)(nil)
