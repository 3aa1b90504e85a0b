package summary

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

// Extractive builds a summary from the user's own words without any
// network calls. It is the last link of a chain.
type Extractive struct {
	// MaxTurns caps how many user turns are quoted. Zero means 3.
	MaxTurns int

	// MaxChars caps each quoted turn. Zero means 120.
	MaxChars int
}

// Summarize implements Summarizer.
func (e Extractive) Summarize(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	maxTurns, maxChars := e.MaxTurns, e.MaxChars
	if maxTurns <= 0 {
		maxTurns = 3
	}
	if maxChars <= 0 {
		maxChars = 120
	}

	var (
		quotes    []string
		userTurns int
		total     int
	)
	for _, entry := range transcript {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		total++
		if entry.Role != conversation.RoleUser {
			continue
		}
		userTurns++
		if len(quotes) < maxTurns {
			quotes = append(quotes, clip(text, maxChars))
		}
	}
	if total == 0 {
		return "", ErrEmptyTranscript
	}
	if len(quotes) == 0 {
		return "The assistant spoke but the user did not say anything.", nil
	}

	var b strings.Builder
	b.WriteString("The user said: ")
	for i, q := range quotes {
		if i > 0 {
			b.WriteString(" / ")
		}
		b.WriteString(`"` + q + `"`)
	}
	b.WriteString(".")
	if more := userTurns - len(quotes); more > 0 {
		noun := "turns"
		if more == 1 {
			noun = "turn"
		}
		fmt.Fprintf(&b, " %d more %s followed.", more, noun)
	}
	return b.String(), nil
}

// Name implements Summarizer.
func (Extractive) Name() string { return "extractive" }

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}

var _ Summarizer = Extractive{}
