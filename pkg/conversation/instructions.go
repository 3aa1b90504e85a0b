package conversation

import (
	"fmt"
	"strings"
)

// PastContext holds the answers to the past-context lookups. Missing
// answers are empty strings.
type PastContext map[Lookup]string

// InstructionsFunc builds the session instructions. The result is opaque
// to the engine.
type InstructionsFunc func(character, topic string, past PastContext) string

// DefaultInstructions joins the character, topic and past context into a
// plain instruction block.
func DefaultInstructions(character, topic string, past PastContext) string {
	var b strings.Builder
	if character != "" {
		fmt.Fprintf(&b, "You are %s. Stay in character.\n", character)
	}
	if topic != "" {
		fmt.Fprintf(&b, "Today's topic: %s.\n", topic)
	}
	b.WriteString("Speak in short, warm turns and let the user talk. ")
	b.WriteString("When the user wants to stop, say a short goodbye and call end_conversation.\n")

	sections := []struct {
		lookup Lookup
		title  string
	}{
		{LookupSummaries, "Earlier conversations"},
		{LookupProfile, "About the user"},
		{LookupFamilyRules, "Rules set by the family"},
	}
	for _, s := range sections {
		if text := strings.TrimSpace(past[s.lookup]); text != "" {
			fmt.Fprintf(&b, "\n%s:\n%s\n", s.title, text)
		}
	}
	return b.String()
}
