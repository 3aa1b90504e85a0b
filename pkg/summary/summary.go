// Package summary condenses finished conversation transcripts.
//
// A Summarizer turns a transcript into a short paragraph for the session
// history. Chain tries summarizers in order so a hosted model can fall back
// to the local Extractive summarizer.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

var (
	// ErrEmptyTranscript is returned for a transcript with no usable text.
	ErrEmptyTranscript = errors.New("summary: empty transcript")

	// ErrEmptySummary is returned when a summarizer produced no text.
	ErrEmptySummary = errors.New("summary: empty summary")

	// ErrNoSummarizers is returned by NewChain without summarizers.
	ErrNoSummarizers = errors.New("summary: no summarizers")

	// ErrAllFailed is matched by a ChainError.
	ErrAllFailed = errors.New("summary: all summarizers failed")
)

// Summarizer condenses a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error)
	Name() string
}

// Func adapts a function to Summarizer.
type Func struct {
	Label string
	Fn    func(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error)
}

// Summarize implements Summarizer.
func (f Func) Summarize(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error) {
	return f.Fn(ctx, transcript)
}

// Name implements Summarizer.
func (f Func) Name() string {
	if f.Label == "" {
		return "func"
	}
	return f.Label
}

// Collaborator exposes s as the session's summarize hook.
func Collaborator(s Summarizer) conversation.SummarizeFunc {
	return s.Summarize
}

// ProviderError wraps an error with the summarizer that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("summary [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ChainError collects the failure of every summarizer in a Chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("summary: all %d summarizers failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Is matches ErrAllFailed.
func (e *ChainError) Is(target error) bool { return target == ErrAllFailed }

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error { return e.Errors }

// Format renders a transcript as speaker-labelled lines. Entries with no
// text are skipped.
func Format(transcript []conversation.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range transcript {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		if e.Role == conversation.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}
