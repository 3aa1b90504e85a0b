package conversation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultEndPhrases are user utterances that ask to finish.
func DefaultEndPhrases() []string {
	return []string{
		"goodbye",
		"good bye",
		"bye bye",
		"i have to go",
		"i need to go",
		"talk to you later",
		"end the conversation",
		"stop the conversation",
		"that's all for today",
	}
}

// phraseMatcher finds end-intent phrases in user speech regardless of case,
// accents in composed or decomposed form, and surrounding punctuation.
type phraseMatcher struct {
	phrases []string
}

func newPhraseMatcher(phrases []string) *phraseMatcher {
	m := &phraseMatcher{}
	for _, p := range phrases {
		if p = m.normalize(p); p != "" {
			m.phrases = append(m.phrases, p)
		}
	}
	return m
}

// normalize folds case, collapses punctuation to spaces and pads the
// result so phrases only match on word boundaries.
func (m *phraseMatcher) normalize(s string) string {
	s = cases.Fold().String(norm.NFC.String(s))
	s = strings.ReplaceAll(s, "’", "'")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	if len(fields) == 0 {
		return ""
	}
	return " " + strings.Join(fields, " ") + " "
}

// Match reports whether text contains any phrase.
func (m *phraseMatcher) Match(text string) bool {
	if len(m.phrases) == 0 {
		return false
	}
	t := m.normalize(text)
	for _, p := range m.phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// MeaningfulUserText reports whether a user transcript is worth keeping:
// at least minChars runes after trimming and at least one letter or digit.
func MeaningfulUserText(text string, minChars int) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minChars {
		return false
	}
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// containsMarker reports whether assistant text carries the completion
// marker, ignoring case.
func containsMarker(text, marker string) bool {
	if marker == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(text), fold.String(marker))
}
