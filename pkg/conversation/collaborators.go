package conversation

import (
	"context"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/transport"
)

// Lookup names a past-context query made while a session starts.
type Lookup string

const (
	LookupSummaries   Lookup = "summaries"
	LookupProfile     Lookup = "profile"
	LookupFamilyRules Lookup = "family_rules"
)

// Lookups is every past-context query, in instruction order.
var Lookups = []Lookup{LookupSummaries, LookupProfile, LookupFamilyRules}

// StopReason says why a session ended.
type StopReason string

const (
	ReasonUser    StopReason = "user"
	ReasonEndFlow StopReason = "end_flow"
	ReasonTimeout StopReason = "timeout"
	ReasonRetry   StopReason = "retry"
)

// Record is a finished session handed to persistence.
type Record struct {
	SessionID  string            `json:"session_id"`
	Character  string            `json:"character"`
	Topic      string            `json:"topic"`
	Transport  transport.Kind    `json:"transport"`
	SessionKey string            `json:"session_key,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
	Reason     StopReason        `json:"reason"`
	Transcript []TranscriptEntry `json:"transcript"`

	Recording    audioio.Blob `json:"-"`
	RecordingURL string       `json:"recording_url,omitempty"`
	Summary      string       `json:"summary,omitempty"`
}

// Duration is how long the session ran.
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Empty reports whether nothing was said.
func (r Record) Empty() bool { return len(r.Transcript) == 0 }

// QuotaFunc returns the seconds of conversation left today.
type QuotaFunc func(ctx context.Context) (int, error)

// PersistFunc stores a finished session.
type PersistFunc func(ctx context.Context, rec Record) error

// UploadFunc stores a recording and returns its URL.
type UploadFunc func(ctx context.Context, sessionID string, blob audioio.Blob) (string, error)

// EndServerSessionFunc tells the backend a server session is over.
type EndServerSessionFunc func(ctx context.Context, sessionKey string) error

// PastContextFunc answers one past-context lookup.
type PastContextFunc func(ctx context.Context, lookup Lookup) (string, error)

// SummarizeFunc condenses a transcript.
type SummarizeFunc func(ctx context.Context, transcript []TranscriptEntry) (string, error)

// Preferences are user settings read when a session starts. Empty fields
// keep the configured defaults.
type Preferences struct {
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// PreferencesFunc loads the user's saved preferences.
type PreferencesFunc func(ctx context.Context) (Preferences, error)

// Collaborators are the fallible services around a session. Every field is
// optional.
type Collaborators struct {
	Quota            QuotaFunc
	Persist          PersistFunc
	Upload           UploadFunc
	EndServerSession EndServerSessionFunc
	PastContext      PastContextFunc
	Summarize        SummarizeFunc
	Preferences      PreferencesFunc
}
