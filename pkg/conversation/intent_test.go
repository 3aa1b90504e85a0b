package conversation

import "testing"

func TestPhraseMatcher(t *testing.T) {
	m := newPhraseMatcher(DefaultEndPhrases())

	tests := []struct {
		text string
		want bool
	}{
		{"Goodbye!", true},
		{"okay, GOOD-BYE then", true},
		{"I have to go now.", true},
		{"that’s all for today", true},
		{"Talk to you later...", true},
		{"goodbyes are hard", false},
		{"I have to going", false},
		{"tell me about rivers", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := m.Match(tt.text); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestPhraseMatcherNormalizesUnicode(t *testing.T) {
	m := newPhraseMatcher([]string{"adiós"})
	if !m.Match("Bueno, ADIÓS amigo") {
		t.Error("decomposed accent did not match")
	}
	if newPhraseMatcher(nil).Match("goodbye") {
		t.Error("empty matcher matched")
	}
}

func TestMeaningfulUserText(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"hi", true},
		{"  ok  ", true},
		{"a", false},
		{"...", false},
		{"   ", false},
		{"42", true},
		{"¿?", false},
	}
	for _, tt := range tests {
		if got := MeaningfulUserText(tt.text, 2); got != tt.want {
			t.Errorf("MeaningfulUserText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestContainsMarker(t *testing.T) {
	if !containsMarker("All done. [END]", "[end]") {
		t.Error("marker not found")
	}
	if containsMarker("All done.", "") {
		t.Error("empty marker matched")
	}
}
