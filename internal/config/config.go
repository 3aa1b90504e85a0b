// Package config provides configuration loading for go-parley commands.
//
// Values come from defaults, then an optional TOML file, then PARLEY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport kinds accepted in Session.Transport.
const (
	TransportSocket = "socket"
	TransportPeer   = "peer"
)

// Config is the full application configuration.
type Config struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// DataDir holds the local store and recordings.
	DataDir string `toml:"data_dir"`

	// ListenAddr is the control API address for "parley serve".
	ListenAddr string `toml:"listen_addr"`

	OpenAI    OpenAI    `toml:"openai"`
	Session   Session   `toml:"session"`
	Gate      Gate      `toml:"gate"`
	Reconnect Reconnect `toml:"reconnect"`
	Audio     Audio     `toml:"audio"`
	Backend   Backend   `toml:"backend"`
	Drive     Drive     `toml:"drive"`
}

// OpenAI configures the realtime endpoint and summarization.
type OpenAI struct {
	APIKey       string `toml:"api_key"`
	Model        string `toml:"model"`
	Voice        string `toml:"voice"`
	RealtimeURL  string `toml:"realtime_url"`
	CallsURL     string `toml:"calls_url"`
	SummaryModel string `toml:"summary_model"`
}

// Session configures the conversation engine.
type Session struct {
	Transport       string        `toml:"transport"`
	MaxDuration     time.Duration `toml:"max_duration"`
	WarningFraction float64       `toml:"warning_fraction"`
	EndFallback     time.Duration `toml:"end_fallback"`
	EndGrace        time.Duration `toml:"end_grace"`
	RetryDelay      time.Duration `toml:"retry_delay"`
	DailyLimit      int           `toml:"daily_limit"`
	EndPhrases      []string      `toml:"end_phrases"`
	Record          bool          `toml:"record"`
}

// Gate configures echo/barge-in gating.
type Gate struct {
	Threshold     float64       `toml:"threshold"`
	RequiredCount int           `toml:"required_count"`
	Cooldown      time.Duration `toml:"cooldown"`
}

// Reconnect configures socket transport backoff.
type Reconnect struct {
	Base        time.Duration `toml:"base"`
	Max         time.Duration `toml:"max"`
	MaxAttempts int           `toml:"max_attempts"`
}

// Audio selects the device backend.
type Audio struct {
	Backend string `toml:"backend"`
	Device  string `toml:"device"`
}

// Backend points at an optional remote collaborator API.
type Backend struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// Drive enables uploading recordings to Google Drive.
type Drive struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	FolderID     string `toml:"folder_id"`
	TokenPath    string `toml:"token_path"`

	// RedirectURL defaults to the control API's callback route.
	RedirectURL string `toml:"redirect_url"`
}

// Enabled reports whether Drive uploads are configured.
func (d Drive) Enabled() bool { return d.ClientID != "" && d.ClientSecret != "" }

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		LogLevel:   "info",
		DataDir:    defaultDataDir(),
		ListenAddr: ":8080",
		OpenAI: OpenAI{
			Model:        "gpt-4o-realtime-preview",
			Voice:        "shimmer",
			RealtimeURL:  "wss://api.openai.com/v1/realtime",
			CallsURL:     "https://api.openai.com/v1/realtime/calls",
			SummaryModel: "gpt-4o-mini",
		},
		Session: Session{
			Transport:       TransportSocket,
			MaxDuration:     10 * time.Minute,
			WarningFraction: 0.8,
			EndFallback:     12 * time.Second,
			EndGrace:        3 * time.Second,
			RetryDelay:      750 * time.Millisecond,
			DailyLimit:      20,
			Record:          true,
		},
		Gate: Gate{
			Threshold:     0.15,
			RequiredCount: 3,
			Cooldown:      500 * time.Millisecond,
		},
		Reconnect: Reconnect{
			Base:        500 * time.Millisecond,
			Max:         8 * time.Second,
			MaxAttempts: 5,
		},
		Audio: Audio{Backend: "auto"},
	}
}

// Load reads the default config file (if present) and applies env overrides.
func Load() (Config, error) {
	return LoadFile(FilePath())
}

// LoadFile reads the given TOML file (empty path skips the file) and applies env overrides.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.DataDir = expandTilde(cfg.DataDir)
	cfg.Drive.TokenPath = expandTilde(cfg.Drive.TokenPath)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Session.Transport {
	case TransportSocket, TransportPeer:
	default:
		return fmt.Errorf("session.transport must be %q or %q, got %q", TransportSocket, TransportPeer, c.Session.Transport)
	}
	if c.Session.MaxDuration <= 0 {
		return fmt.Errorf("session.max_duration must be positive, got %v", c.Session.MaxDuration)
	}
	if c.Session.WarningFraction <= 0 || c.Session.WarningFraction >= 1 {
		return fmt.Errorf("session.warning_fraction must be in (0,1), got %v", c.Session.WarningFraction)
	}
	if c.Gate.Threshold <= 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("gate.threshold must be in (0,1], got %v", c.Gate.Threshold)
	}
	if c.Gate.RequiredCount < 1 {
		return fmt.Errorf("gate.required_count must be at least 1, got %d", c.Gate.RequiredCount)
	}
	if c.Reconnect.Base <= 0 || c.Reconnect.Max < c.Reconnect.Base {
		return fmt.Errorf("reconnect: base must be positive and max >= base (base=%v max=%v)", c.Reconnect.Base, c.Reconnect.Max)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", c.Reconnect.MaxAttempts)
	}
	return nil
}

// FilePath returns the config file location, or "" if none exists.
func FilePath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}

	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, "parley")
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "parley")
	} else {
		return ""
	}

	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("PARLEY_OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PARLEY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PARLEY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PARLEY_TRANSPORT"); v != "" {
		cfg.Session.Transport = v
	}
	if v := os.Getenv("PARLEY_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("PARLEY_VOICE"); v != "" {
		cfg.OpenAI.Voice = v
	}
	if v := os.Getenv("PARLEY_MAX_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.MaxDuration = d
		}
	}
	if v := os.Getenv("PARLEY_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.DailyLimit = n
		}
	}
	if v := os.Getenv("PARLEY_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("PARLEY_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Drive.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Drive.ClientSecret = v
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".parley")
	}
	return filepath.Join(".", ".parley")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
