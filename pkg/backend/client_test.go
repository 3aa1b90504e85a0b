package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/internal/httpc"
	"github.com/teslashibe/go-parley/pkg/conversation"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeBackend struct {
	mu       sync.Mutex
	auth     []string
	sessions []conversation.Record
	ended    []string
	invites  []map[string]string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/quota", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `{"remaining_seconds": 420}`)
	})
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var rec conversation.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			t.Error(err)
		}
		f.mu.Lock()
		f.sessions = append(f.sessions, rec)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v1/sessions/{key}/end", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.ended = append(f.ended, r.PathValue("key"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/context/{lookup}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch r.PathValue("lookup") {
		case "profile":
			_, _ = io.WriteString(w, `{"text": "Likes boats."}`)
		case "family_rules":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("POST /v1/invitations", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		f.mu.Lock()
		f.invites = append(f.invites, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v1/summaries", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req struct {
			Transcript []conversation.TranscriptEntry `json:"transcript"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"summary": " Talked about " + req.Transcript[0].Text + " ",
		})
	})
	return mux
}

func (f *fakeBackend) record(r *http.Request) {
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.mu.Unlock()
}

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:     srv.URL + "/v1/",
		TokenSource: StaticToken("secret-token"),
		HTTPClient:  srv.Client(),
		Logger:      quiet(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c, fb
}

func TestClientCollaborators(t *testing.T) {
	ctx := context.Background()
	c, fb := newTestClient(t)
	col := c.Collaborators()

	left, err := col.Quota(ctx)
	if err != nil || left != 420 {
		t.Fatalf("Quota = %d, %v", left, err)
	}

	rec := conversation.Record{
		SessionID: "s1",
		Character: "Ada",
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Transcript: []conversation.TranscriptEntry{
			{Role: conversation.RoleUser, Text: "rivers"},
		},
	}
	if err := col.Persist(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := col.EndServerSession(ctx, "call_42"); err != nil {
		t.Fatal(err)
	}
	if err := col.EndServerSession(ctx, ""); err != nil {
		t.Fatal(err)
	}

	summary, err := col.Summarize(ctx, rec.Transcript)
	if err != nil || summary != "Talked about rivers" {
		t.Errorf("Summarize = %q, %v", summary, err)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.sessions) != 1 || fb.sessions[0].SessionID != "s1" || fb.sessions[0].Transcript[0].Text != "rivers" {
		t.Errorf("sessions = %+v", fb.sessions)
	}
	if len(fb.ended) != 1 || fb.ended[0] != "call_42" {
		t.Errorf("ended = %v", fb.ended)
	}
	for _, a := range fb.auth {
		if a != "Bearer secret-token" {
			t.Errorf("authorization = %q", a)
		}
	}
}

func TestClientPastContext(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	tests := []struct {
		lookup  conversation.Lookup
		want    string
		wantErr bool
	}{
		{conversation.LookupProfile, "Likes boats.", false},
		{conversation.LookupSummaries, "", false},
		{conversation.LookupFamilyRules, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.lookup), func(t *testing.T) {
			got, err := c.PastContext(ctx, tt.lookup)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			var se *httpc.StatusError
			if tt.wantErr && (!errors.As(err, &se) || !se.Retryable()) {
				t.Errorf("err = %v, want retryable status error", err)
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("err = %v", err)
	}
	if StaticToken("") != nil {
		t.Error("empty token produced a token source")
	}
}

func TestClientWithoutToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"remaining_seconds": 5}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Quota(context.Background()); err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		t.Errorf("authorization = %q", auth)
	}
	if !strings.HasSuffix(c.url("context", "a b"), "/context/a%20b") {
		t.Errorf("url = %s", c.url("context", "a b"))
	}
}

func TestClientCreateInvitation(t *testing.T) {
	c, fb := newTestClient(t)

	if err := c.CreateInvitation(context.Background(), "Grandma", "gran@example.com"); err != nil {
		t.Fatal(err)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.invites) != 1 {
		t.Fatalf("invites = %v", fb.invites)
	}
	if got := fb.invites[0]; got["name"] != "Grandma" || got["contact"] != "gran@example.com" {
		t.Errorf("invite = %v", got)
	}
}
