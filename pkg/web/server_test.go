package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/conversation"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

type fakeSession struct {
	mu       sync.Mutex
	state    conversation.State
	startErr error
	retryErr error
	started  []StartRequest
	stops    int
	record   conversation.Record
	registry *tools.Registry
	applied  []string

	stateFns []func(conversation.State)
	detached int
}

func newFakeSession(t *testing.T) *fakeSession {
	t.Helper()
	f := &fakeSession{state: conversation.State{Session: conversation.StateIdle, Summary: conversation.SummaryIdle}}
	reg, err := tools.NewRegistry(quiet(), tools.Tool{
		Name: "add_todo",
		Tier: tools.TierConsequential,
		Handler: func(_ context.Context, args tools.Args) (string, error) {
			f.mu.Lock()
			f.applied = append(f.applied, args.String("text"))
			f.mu.Unlock()
			return "added", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.registry = reg
	return f
}

func (f *fakeSession) Start(_ context.Context, character, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, StartRequest{Character: character, Topic: topic})
	if f.startErr != nil {
		return f.startErr
	}
	f.state.Session = conversation.StateConnecting
	f.state.Character = character
	return nil
}

func (f *fakeSession) Stop(context.Context) (conversation.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state.Session = conversation.StateIdle
	return f.record, nil
}

func (f *fakeSession) Retry(context.Context) error { return f.retryErr }

func (f *fakeSession) State() conversation.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Kind() transport.Kind    { return transport.KindSocket }
func (f *fakeSession) Tools() *tools.Registry { return f.registry }

func (f *fakeSession) Confirm(ctx context.Context, id string) (string, error) {
	return f.registry.Confirm(ctx, id)
}

func (f *fakeSession) Decline(id string) error { return f.registry.Decline(id) }

func (f *fakeSession) OnState(fn func(conversation.State)) func() {
	f.mu.Lock()
	f.stateFns = append(f.stateFns, fn)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.detached++
		f.mu.Unlock()
	}
}

func (f *fakeSession) OnLevel(func(float64)) func() { return func() {} }

type fakeDrive struct {
	authorized bool
	codes      []string
}

func (d *fakeDrive) Authorized() bool { return d.authorized }
func (d *fakeDrive) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}
func (d *fakeDrive) HandleCallback(_ context.Context, code string) error {
	d.codes = append(d.codes, code)
	d.authorized = true
	return nil
}
func (d *fakeDrive) Disconnect() error {
	d.authorized = false
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func do(t *testing.T, s *Server, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Logger = quiet()
	s := NewServer(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestGetSession(t *testing.T) {
	f := newFakeSession(t)
	f.state.Timer.Remaining = 90 * time.Second
	s := newTestServer(t, Config{Session: f})

	resp, body := do(t, s, http.MethodGet, "/api/session", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatal(err)
	}
	if v["session"] != "idle" || v["transport"] != "socket" || v["remaining_ms"] != float64(90000) {
		t.Errorf("view = %v", v)
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantKind string
	}{
		{"ok", `{"character":"Ada","topic":"rivers"}`, nil, http.StatusAccepted, ""},
		{"missing character", `{"topic":"rivers"}`, nil, http.StatusBadRequest, ""},
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
		{"already active", `{"character":"Ada"}`, conversation.ErrAlreadyActive, http.StatusConflict, ""},
		{"quota", `{"character":"Ada"}`, &conversation.SessionError{Kind: conversation.KindQuotaExceeded, Err: conversation.ErrQuotaExceeded}, http.StatusTooManyRequests, "quotaExceeded"},
		{"network", `{"character":"Ada"}`, &conversation.SessionError{Kind: conversation.KindNetwork, Err: errors.New("dial failed")}, http.StatusBadGateway, "network"},
		{"microphone", `{"character":"Ada"}`, &conversation.SessionError{Kind: conversation.KindMicrophone, Err: errors.New("denied")}, http.StatusServiceUnavailable, "microphone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSession(t)
			f.startErr = tt.err
			s := newTestServer(t, Config{Session: f})

			resp, body := do(t, s, http.MethodPost, "/api/session/start", tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantCode, body)
			}
			if tt.wantKind != "" {
				var eb errorBody
				if err := json.Unmarshal(body, &eb); err != nil {
					t.Fatal(err)
				}
				if string(eb.Kind) != tt.wantKind {
					t.Errorf("kind = %q, want %q", eb.Kind, tt.wantKind)
				}
			}
		})
	}
}

func TestStartPassesCharacterAndTopic(t *testing.T) {
	f := newFakeSession(t)
	s := newTestServer(t, Config{Session: f})
	do(t, s, http.MethodPost, "/api/session/start", `{"character":"Ada","topic":"rivers"}`)

	if len(f.started) != 1 || f.started[0] != (StartRequest{Character: "Ada", Topic: "rivers"}) {
		t.Errorf("started = %+v", f.started)
	}
}

func TestStopReturnsRecord(t *testing.T) {
	f := newFakeSession(t)
	f.record = conversation.Record{SessionID: "s1", Reason: conversation.ReasonUser}
	s := newTestServer(t, Config{Session: f})

	resp, body := do(t, s, http.MethodPost, "/api/session/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rec conversation.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.SessionID != "s1" || rec.Reason != conversation.ReasonUser || f.stops != 1 {
		t.Errorf("record = %+v, stops = %d", rec, f.stops)
	}
}

func TestRetryWithoutSession(t *testing.T) {
	f := newFakeSession(t)
	f.retryErr = conversation.ErrNothingToRetry
	s := newTestServer(t, Config{Session: f})

	resp, _ := do(t, s, http.MethodPost, "/api/session/retry", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestTranscript(t *testing.T) {
	f := newFakeSession(t)
	f.state.SessionID = "s1"
	f.state.Transcript = []conversation.TranscriptEntry{{Role: conversation.RoleUser, Text: "hello"}}
	f.state.Pending = "Hi"
	s := newTestServer(t, Config{Session: f})

	_, body := do(t, s, http.MethodGet, "/api/transcript", "")
	var got struct {
		SessionID  string                         `json:"session_id"`
		Transcript []conversation.TranscriptEntry `json:"transcript"`
		Pending    string                         `json:"pending"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s1" || len(got.Transcript) != 1 || got.Transcript[0].Text != "hello" || got.Pending != "Hi" {
		t.Errorf("transcript = %+v", got)
	}
}

func TestConfirmations(t *testing.T) {
	f := newFakeSession(t)
	s := newTestServer(t, Config{Session: f})
	ctx := context.Background()
	f.registry.Dispatch(ctx, tools.Call{ID: "call_1", Name: "add_todo", Arguments: json.RawMessage(`{"text":"milk"}`)})
	f.registry.Dispatch(ctx, tools.Call{ID: "call_2", Name: "add_todo", Arguments: json.RawMessage(`{"text":"eggs"}`)})

	_, body := do(t, s, http.MethodGet, "/api/confirmations", "")
	var pending []tools.PendingConfirmation
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %+v", pending)
	}

	resp, body := do(t, s, http.MethodPost, "/api/confirmations/call_1", `{"accept":true}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"added"`) {
		t.Fatalf("confirm: %d %s", resp.StatusCode, body)
	}
	resp, _ = do(t, s, http.MethodPost, "/api/confirmations/call_2", `{"accept":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decline: %d", resp.StatusCode)
	}
	resp, _ = do(t, s, http.MethodPost, "/api/confirmations/call_1", `{"accept":true}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second confirm status = %d, want 404", resp.StatusCode)
	}

	if len(f.applied) != 1 || f.applied[0] != "milk" {
		t.Errorf("applied = %v", f.applied)
	}
	if n := len(f.registry.Pending()); n != 0 {
		t.Errorf("%d confirmations left", n)
	}
}

func TestHistory(t *testing.T) {
	st, err := store.Open("", store.WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		rec := conversation.Record{SessionID: id, StartedAt: start, EndedAt: start.Add(time.Minute)}
		if err := st.Persist(ctx, rec); err != nil {
			t.Fatal(err)
		}
		start = start.Add(time.Hour)
	}
	ref, err := st.SaveRecording(ctx, "b", audioio.Blob{Data: []byte("OggS"), MimeType: "audio/ogg"})
	if err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, Config{Session: newFakeSession(t), History: st, Recordings: st})

	_, body := do(t, s, http.MethodGet, "/api/sessions?limit=1", "")
	var recs []conversation.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].SessionID != "b" {
		t.Errorf("sessions = %+v", recs)
	}

	resp, _ := do(t, s, http.MethodGet, "/api/sessions/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session status = %d", resp.StatusCode)
	}
	resp, _ = do(t, s, http.MethodGet, "/api/sessions?limit=0", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d", resp.StatusCode)
	}

	resp, body = do(t, s, http.MethodGet, "/api/sessions/b/recording", "")
	if resp.StatusCode != http.StatusOK || string(body) != "OggS" || resp.Header.Get("Content-Type") != "audio/ogg" {
		t.Errorf("recording %q: %d %q %q", ref, resp.StatusCode, body, resp.Header.Get("Content-Type"))
	}
}

func TestDriveAuthorization(t *testing.T) {
	d := &fakeDrive{}
	s := newTestServer(t, Config{Session: newFakeSession(t), Drive: d})

	resp, _ := do(t, s, http.MethodGet, "/api/drive/auth", "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("auth status = %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")

	resp, _ = do(t, s, http.MethodGet, "/api/drive/callback?state=forged&code=x", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("forged state status = %d", resp.StatusCode)
	}

	resp, _ = do(t, s, http.MethodGet, "/api/drive/callback?state="+state+"&code=abc", "")
	if resp.StatusCode != http.StatusOK || len(d.codes) != 1 || d.codes[0] != "abc" {
		t.Fatalf("callback: %d codes=%v", resp.StatusCode, d.codes)
	}

	resp, _ = do(t, s, http.MethodGet, "/api/drive/callback?state="+state+"&code=abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("replayed state status = %d", resp.StatusCode)
	}

	resp, _ = do(t, s, http.MethodDelete, "/api/drive", "")
	if resp.StatusCode != http.StatusNoContent || d.authorized {
		t.Errorf("disconnect: %d authorized=%v", resp.StatusCode, d.authorized)
	}
}

func TestOptionalRoutesAbsent(t *testing.T) {
	s := newTestServer(t, Config{Session: newFakeSession(t)})
	for _, path := range []string{"/api/sessions", "/api/drive"} {
		resp, _ := do(t, s, http.MethodGet, path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestMetricsAndWebsocketGuard(t *testing.T) {
	s := newTestServer(t, Config{Session: newFakeSession(t)})

	resp, body := do(t, s, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "parley_active_sessions") {
		t.Errorf("metrics: %d", resp.StatusCode)
	}

	resp, _ = do(t, s, http.MethodGet, "/ws/status", "")
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("plain GET on websocket route = %d, want 426", resp.StatusCode)
	}
}

func TestShutdownDetaches(t *testing.T) {
	f := newFakeSession(t)
	s := NewServer(Config{Session: f, Logger: quiet()})
	if len(f.stateFns) != 1 {
		t.Fatalf("%d state observers", len(f.stateFns))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Shutdown(ctx)
	if f.detached != 1 {
		t.Errorf("detached = %d", f.detached)
	}
}
