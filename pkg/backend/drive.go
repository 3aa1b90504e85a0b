package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-parley/internal/httpc"
	"github.com/teslashibe/go-parley/pkg/audioio"
)

// ErrNotAuthorized is returned by Upload before the user has connected a
// Google account.
var ErrNotAuthorized = errors.New("backend: drive not authorized")

// DriveConfig configures a DriveUploader.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// TokenPath stores the user's token. Defaults to
	// $XDG_CONFIG_HOME/parley/google_token.json.
	TokenPath string

	// FolderID is the Drive folder recordings are placed in.
	FolderID string

	// TokenSource skips the consent flow, for service accounts and tests.
	TokenSource oauth2.TokenSource

	// Endpoint overrides the Drive API root.
	Endpoint string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DriveUploader stores session recordings in Google Drive.
type DriveUploader struct {
	cfg    DriveConfig
	oauth  *oauth2.Config
	logger *slog.Logger

	mu      sync.RWMutex
	token   *oauth2.Token
	service *drive.Service
}

// NewDriveUploader creates an uploader. With a TokenSource it is ready
// immediately; otherwise it loads a saved token or waits for HandleCallback.
func NewDriveUploader(ctx context.Context, cfg DriveConfig) (*DriveUploader, error) {
	if cfg.TokenSource == nil && (cfg.ClientID == "" || cfg.ClientSecret == "") {
		return nil, fmt.Errorf("backend: google client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/drive/callback"
	}
	if cfg.TokenPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		cfg.TokenPath = filepath.Join(dir, "parley", "google_token.json")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.Client
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	u := &DriveUploader{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{drive.DriveFileScope},
			Endpoint:     google.Endpoint,
		},
		logger: cfg.Logger.With("component", "backend.drive"),
	}

	if cfg.TokenSource != nil {
		if err := u.initService(ctx, cfg.TokenSource); err != nil {
			return nil, err
		}
		return u, nil
	}

	if err := u.loadToken(); err == nil {
		if err := u.initService(ctx, u.oauth.TokenSource(u.clientContext(ctx), u.token)); err != nil {
			u.logger.Warn("saved google token unusable", "error", err)
			u.token = nil
		}
	}
	return u, nil
}

func (u *DriveUploader) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, u.cfg.HTTPClient)
}

// Authorized reports whether uploads can be made.
func (u *DriveUploader) Authorized() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.service != nil
}

// AuthURL returns the consent page URL.
func (u *DriveUploader) AuthURL(state string) string {
	return u.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the consent code for a token and saves it.
func (u *DriveUploader) HandleCallback(ctx context.Context, code string) error {
	token, err := u.oauth.Exchange(u.clientContext(ctx), code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	u.mu.Lock()
	u.token = token
	u.mu.Unlock()

	if err := u.saveToken(); err != nil {
		u.logger.Warn("failed to save google token", "path", u.cfg.TokenPath, "error", err)
	}
	return u.initService(ctx, u.oauth.TokenSource(u.clientContext(ctx), token))
}

// Disconnect forgets the token.
func (u *DriveUploader) Disconnect() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.token = nil
	u.service = nil
	if err := os.Remove(u.cfg.TokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Upload stores a recording and returns a link to it.
func (u *DriveUploader) Upload(ctx context.Context, sessionID string, blob audioio.Blob) (string, error) {
	u.mu.RLock()
	service := u.service
	u.mu.RUnlock()
	if service == nil {
		return "", ErrNotAuthorized
	}
	if blob.Empty() {
		return "", fmt.Errorf("backend: empty recording for %s", sessionID)
	}

	mimeType := blob.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	file := &drive.File{
		Name:     "parley-" + sessionID + extension(mimeType),
		MimeType: mimeType,
	}
	if u.cfg.FolderID != "" {
		file.Parents = []string{u.cfg.FolderID}
	}

	created, err := service.Files.Create(file).
		Media(bytes.NewReader(blob.Data)).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload recording %s: %w", sessionID, err)
	}

	link := created.WebViewLink
	if link == "" {
		link = FileURL(created.Id)
	}
	u.logger.Info("recording uploaded", "session_id", sessionID, "file_id", created.Id, "bytes", len(blob.Data))
	return link, nil
}

// FileURL returns the viewer URL for a Drive file.
func FileURL(id string) string {
	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", id)
}

func extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}

func (u *DriveUploader) initService(ctx context.Context, src oauth2.TokenSource) error {
	client := oauth2.NewClient(u.clientContext(ctx), src)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if u.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(u.cfg.Endpoint))
	}
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create drive service: %w", err)
	}

	u.mu.Lock()
	u.service = service
	u.mu.Unlock()
	return nil
}

func (u *DriveUploader) loadToken() error {
	data, err := os.ReadFile(u.cfg.TokenPath)
	if err != nil {
		return err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	u.mu.Lock()
	u.token = &token
	u.mu.Unlock()
	return nil
}

func (u *DriveUploader) saveToken() error {
	u.mu.RLock()
	token := u.token
	u.mu.RUnlock()
	if token == nil {
		return fmt.Errorf("no token to save")
	}

	if err := os.MkdirAll(filepath.Dir(u.cfg.TokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(u.cfg.TokenPath, data, 0o600)
}
