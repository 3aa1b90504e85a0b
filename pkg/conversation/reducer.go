package conversation

import (
	"fmt"
	"strings"
	"time"
)

// action is the closed set of inputs to reduce. Every variant embeds the
// marker method so no other type can be dispatched.
type action interface{ isAction() }

type (
	actStart struct {
		SessionID   string
		Character   string
		Topic       string
		At          time.Time
		MaxDuration time.Duration
	}
	actConnected      struct{}
	actAudioStarted   struct{}
	actTurnDone       struct{}
	actInterrupted    struct{}
	actUserTranscript struct {
		Text string
		At   time.Time
	}
	actAssistantDelta struct{ Delta string }
	actAssistantDone  struct {
		Text string
		At   time.Time
	}
	actError struct{ Err *SessionError }
	actStop  struct{}
	actTick  struct {
		Remaining time.Duration
		Warn      bool
	}
	actEndRequested struct{ Trigger EndTrigger }
	actFarewell     struct{}
	actEndCancelled struct{}
	actSummary      struct {
		SessionID string
		Status    SummaryStatus
	}
)

func (actStart) isAction()          {}
func (actConnected) isAction()      {}
func (actAudioStarted) isAction()   {}
func (actTurnDone) isAction()       {}
func (actInterrupted) isAction()    {}
func (actUserTranscript) isAction() {}
func (actAssistantDelta) isAction() {}
func (actAssistantDone) isAction()  {}
func (actError) isAction()          {}
func (actStop) isAction()           {}
func (actTick) isAction()           {}
func (actEndRequested) isAction()   {}
func (actFarewell) isAction()       {}
func (actEndCancelled) isAction()   {}
func (actSummary) isAction()        {}

// reduce is the only place session state changes. It never mutates s.
func reduce(s State, a action) State {
	switch a := a.(type) {
	case actStart:
		if s.Session != StateIdle && s.Session != StateError {
			return s
		}
		return State{
			Session:          StateConnecting,
			SessionID:        a.SessionID,
			Character:        a.Character,
			Topic:            a.Topic,
			Timer:            TimerState{StartedAt: a.At, Remaining: a.MaxDuration},
			Summary:          s.Summary,
			SummarySessionID: s.SummarySessionID,
		}

	case actConnected:
		if s.Session == StateConnecting {
			s.Session = StateListening
		}
		return s

	case actAudioStarted:
		if s.Session == StateListening {
			s.Session = StateAISpeaking
		}
		return s

	case actTurnDone, actInterrupted:
		if s.Session == StateAISpeaking {
			s.Session = StateListening
		}
		return s

	case actUserTranscript:
		if !s.Session.Active() {
			return s
		}
		s.Transcript = appendEntry(s.Transcript, TranscriptEntry{Role: RoleUser, Text: a.Text, Timestamp: a.At})
		return s

	case actAssistantDelta:
		if !s.Session.Active() {
			return s
		}
		s.Pending += a.Delta
		return s

	case actAssistantDone:
		// A failed session still keeps the turn it was streaming.
		if !s.Session.Active() && s.Session != StateError {
			return s
		}
		text := a.Text
		if strings.TrimSpace(text) == "" {
			text = s.Pending
		}
		s.Pending = ""
		if text = strings.TrimSpace(text); text != "" {
			s.Transcript = appendEntry(s.Transcript, TranscriptEntry{Role: RoleAssistant, Text: text, Timestamp: a.At})
		}
		return s

	case actError:
		if s.Session == StateIdle {
			return s
		}
		s.Session = StateError
		s.Error = a.Err
		s.EndFlow = EndFlowState{}
		return s

	case actStop:
		next := initialState()
		next.Summary = s.Summary
		next.SummarySessionID = s.SummarySessionID
		return next

	case actTick:
		if !s.Session.Active() {
			return s
		}
		if a.Remaining < s.Timer.Remaining {
			s.Timer.Remaining = a.Remaining
		}
		if a.Warn {
			s.Timer.WarningShown = true
		}
		return s

	case actEndRequested:
		if !s.Session.Active() || s.EndFlow.Requested {
			return s
		}
		s.EndFlow = EndFlowState{Requested: true, Trigger: a.Trigger}
		return s

	case actFarewell:
		if s.EndFlow.Requested {
			s.EndFlow.FarewellObserved = true
		}
		return s

	case actEndCancelled:
		s.EndFlow = EndFlowState{}
		return s

	case actSummary:
		if a.Status == SummaryPending {
			s.SummarySessionID = a.SessionID
		} else if a.SessionID != s.SummarySessionID {
			return s
		}
		s.Summary = a.Status
		return s

	default:
		panic(fmt.Sprintf("conversation: unhandled action %T", a))
	}
}

// appendEntry copies before appending so earlier snapshots never observe
// the new entry.
func appendEntry(list []TranscriptEntry, e TranscriptEntry) []TranscriptEntry {
	out := make([]TranscriptEntry, len(list), len(list)+1)
	copy(out, list)
	return append(out, e)
}
