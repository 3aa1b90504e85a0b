package conversation

import "time"

// SessionState is the turn-taking state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateListening  SessionState = "listening"
	StateAISpeaking SessionState = "ai-speaking"
	StateError      SessionState = "error"
)

// Active reports whether the state belongs to a running session.
func (s SessionState) Active() bool {
	return s == StateConnecting || s == StateListening || s == StateAISpeaking
}

// Role identifies who spoke a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one committed utterance. Entries are never modified
// after they are appended.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SummaryStatus tracks post-session summarization. It is independent of
// the live session and survives a stop.
type SummaryStatus string

const (
	SummaryIdle      SummaryStatus = "idle"
	SummaryPending   SummaryStatus = "pending"
	SummaryCompleted SummaryStatus = "completed"
	SummaryFailed    SummaryStatus = "failed"
)

// TimerState is the session countdown as last observed.
type TimerState struct {
	StartedAt    time.Time     `json:"started_at"`
	Remaining    time.Duration `json:"remaining"`
	WarningShown bool          `json:"warning_shown"`
}

// RemainingMs returns the remaining time in milliseconds.
func (t TimerState) RemainingMs() int64 { return t.Remaining.Milliseconds() }

// EndTrigger names what started an end-of-conversation flow.
type EndTrigger string

const (
	TriggerTool       EndTrigger = "tool"
	TriggerPhrase     EndTrigger = "phrase"
	TriggerCompletion EndTrigger = "completion"
)

// EndFlowState is the observable part of the end-of-conversation flow.
type EndFlowState struct {
	Requested        bool       `json:"requested"`
	FarewellObserved bool       `json:"farewell_observed"`
	Trigger          EndTrigger `json:"trigger,omitempty"`
}

// State is a snapshot of a session.
type State struct {
	Session    SessionState      `json:"session"`
	SessionID  string            `json:"session_id,omitempty"`
	Character  string            `json:"character,omitempty"`
	Topic      string            `json:"topic,omitempty"`
	Error      *SessionError     `json:"error,omitempty"`
	Transcript []TranscriptEntry `json:"transcript"`
	Pending    string            `json:"pending,omitempty"`
	Timer      TimerState        `json:"timer"`
	EndFlow    EndFlowState      `json:"end_flow"`

	Summary          SummaryStatus `json:"summary"`
	SummarySessionID string        `json:"summary_session_id,omitempty"`
}

func initialState() State {
	return State{Session: StateIdle, Summary: SummaryIdle}
}

// clone returns a copy that shares no mutable memory with s.
func (s State) clone() State {
	out := s
	out.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
