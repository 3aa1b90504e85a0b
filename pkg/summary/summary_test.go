package summary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

var transcript = []conversation.TranscriptEntry{
	{Role: conversation.RoleAssistant, Text: "Hello! What shall we talk about?"},
	{Role: conversation.RoleUser, Text: "Tell me about the Nile."},
	{Role: conversation.RoleAssistant, Text: "The Nile is the longest river in Africa."},
	{Role: conversation.RoleUser, Text: "  "},
	{Role: conversation.RoleUser, Text: "How about the Amazon?"},
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func failing(name string) Summarizer {
	return Func{Label: name, Fn: func(context.Context, []conversation.TranscriptEntry) (string, error) {
		return "", errors.New(name + " down")
	}}
}

func fixed(name, text string) Summarizer {
	return Func{Label: name, Fn: func(context.Context, []conversation.TranscriptEntry) (string, error) {
		return text, nil
	}}
}

func TestFormat(t *testing.T) {
	got := Format(transcript)
	want := "Assistant: Hello! What shall we talk about?\n" +
		"User: Tell me about the Nile.\n" +
		"Assistant: The Nile is the longest river in Africa.\n" +
		"User: How about the Amazon?\n"
	if got != want {
		t.Errorf("Format =\n%s\nwant\n%s", got, want)
	}
}

func TestChainFallback(t *testing.T) {
	chain, err := NewChainWithLogger(quiet(), failing("primary"), fixed("empty", ""), fixed("backup", "They talked about rivers."))
	if err != nil {
		t.Fatal(err)
	}
	got, err := chain.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatal(err)
	}
	if got != "They talked about rivers." {
		t.Errorf("summary = %q", got)
	}
}

func TestChainAllFail(t *testing.T) {
	chain, _ := NewChainWithLogger(quiet(), failing("a"), failing("b"))

	_, err := chain.Summarize(context.Background(), transcript)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	var chainErr *ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Fatalf("err = %#v", err)
	}
	var pe *ProviderError
	if !errors.As(chainErr.Errors[1], &pe) || pe.Provider != "b" {
		t.Errorf("second failure = %v", chainErr.Errors[1])
	}
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	first := Func{Label: "first", Fn: func(context.Context, []conversation.TranscriptEntry) (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	}}
	chain, _ := NewChainWithLogger(quiet(), first, fixed("second", "never"))

	if _, err := chain.Summarize(ctx, transcript); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestNewChainRequiresSummarizer(t *testing.T) {
	if _, err := NewChain(); !errors.Is(err, ErrNoSummarizers) {
		t.Errorf("err = %v", err)
	}
}

func TestExtractive(t *testing.T) {
	tests := []struct {
		name string
		in   []conversation.TranscriptEntry
		max  int
		want string
	}{
		{
			name: "quotes user turns",
			in:   transcript,
			want: `The user said: "Tell me about the Nile." / "How about the Amazon?".`,
		},
		{
			name: "counts the rest",
			in:   transcript,
			max:  1,
			want: `The user said: "Tell me about the Nile.". 1 more turn followed.`,
		},
		{
			name: "assistant only",
			in:   transcript[:1],
			want: "The assistant spoke but the user did not say anything.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extractive{MaxTurns: tt.max}.Summarize(context.Background(), tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}

	if _, err := (Extractive{}).Summarize(context.Background(), nil); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("empty transcript err = %v", err)
	}
}

func TestExtractiveClipsLongTurns(t *testing.T) {
	long := strings.Repeat("river ", 50)
	got, err := Extractive{MaxChars: 10}.Summarize(context.Background(), []conversation.TranscriptEntry{
		{Role: conversation.RoleUser, Text: long},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != `The user said: "river rive…".` {
		t.Errorf("got %q", got)
	}
}

func TestOpenAISummarize(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "  The user asked about the Nile and the Amazon.  "}
			}]
		}`)
	}))
	defer srv.Close()

	s, err := NewOpenAI("sk-test", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.Summarize(context.Background(), transcript)
	if err != nil {
		t.Fatal(err)
	}
	if out != "The user asked about the Nile and the Amazon." {
		t.Errorf("summary = %q", out)
	}
	if got.Model != DefaultOpenAIModel {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || !strings.Contains(got.Messages[1].Content, "User: How about the Amazon?") {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOpenAIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	s, err := NewOpenAI("sk-test", WithBaseURL(srv.URL+"/"), WithMaxRetries(0), WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Summarize(context.Background(), transcript); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := s.Summarize(context.Background(), nil); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("empty transcript err = %v", err)
	}
	if _, err := NewOpenAI(""); err == nil {
		t.Error("missing api key accepted")
	}
}

func TestCollaboratorFallsBackToExtractive(t *testing.T) {
	chain, _ := NewChainWithLogger(quiet(), failing("openai"), Extractive{})
	fn := Collaborator(chain)

	got, err := fn(context.Background(), transcript)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "The user said:") {
		t.Errorf("summary = %q", got)
	}
}
