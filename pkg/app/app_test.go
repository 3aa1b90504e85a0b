package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/internal/clock"
	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/backend"
	"github.com/teslashibe/go-parley/pkg/conversation"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/transport"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.OpenAI.APIKey = ""
	cfg.Session.Record = false
	return cfg
}

// newTestApp builds an app on an in-memory store with a mock transport
// and scripted audio devices.
func newTestApp(t *testing.T, cfg config.Config, opts ...conversation.Option) (*App, *transport.Mock) {
	t.Helper()
	tr := transport.NewMock(transport.KindSocket)
	audio := audioio.DefaultConfig()
	sessOpts := append([]conversation.Option{
		conversation.WithTransportFactory(func(transport.Kind, audioio.Sink) transport.Transport { return tr }),
		conversation.WithAudio(
			func() (audioio.Source, error) {
				return audioio.NewMockSource(audio, quiet(), audioio.WithManualFeed()), nil
			},
			func() (audioio.Sink, error) { return audioio.NewMockSink(audio, quiet()), nil },
		),
	}, opts...)

	a, err := New(context.Background(), cfg, InMemory(), WithLogger(quiet()), WithSessionOptions(sessOpts...))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, tr
}

func handshake(tr *transport.Mock, transcript string) {
	tr.SimulateEvent(protocol.SessionCreated{Session: protocol.SessionInfo{ID: "srv_1"}})
	tr.SimulateEvent(protocol.SessionUpdated{Session: protocol.SessionInfo{ID: "srv_1"}})
	tr.SimulateEvent(protocol.InputTranscriptCompleted{Transcript: transcript})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type talkResult struct {
	rec conversation.Record
	err error
}

func TestTalkSavesSummarizedRecord(t *testing.T) {
	a, tr := newTestApp(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	res := make(chan talkResult, 1)
	go func() {
		rec, err := a.Talk(ctx, "Ada", "rivers", out)
		res <- talkResult{rec, err}
	}()

	waitFor(t, "connect", func() bool { return tr.Connects() == 1 })
	handshake(tr, "tell me about rivers")
	waitFor(t, "transcript line", func() bool { return strings.Contains(out.String(), "You: tell me about rivers") })
	cancel()

	r := <-res
	if r.err != nil {
		t.Fatalf("Talk: %v", r.err)
	}
	if r.rec.Reason != conversation.ReasonUser || len(r.rec.Transcript) != 1 {
		t.Errorf("record = %+v", r.rec)
	}
	if !strings.Contains(r.rec.Summary, "tell me about rivers") {
		t.Errorf("summary = %q", r.rec.Summary)
	}

	recs, err := a.Store().Sessions(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].SessionID != r.rec.SessionID {
		t.Errorf("stored = %+v", recs)
	}
	left, err := a.Remaining(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if left >= 20*60 {
		t.Errorf("remaining = %d, usage not charged", left)
	}
}

func TestTalkReturnsWhenSessionTimesOut(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	a, tr := newTestApp(t, testConfig(),
		conversation.WithClock(clk),
		conversation.WithMaxDuration(10*time.Second))

	out := &syncBuffer{}
	res := make(chan talkResult, 1)
	go func() {
		rec, err := a.Talk(context.Background(), "Ada", "", out)
		res <- talkResult{rec, err}
	}()

	waitFor(t, "connect", func() bool { return tr.Connects() == 1 })
	handshake(tr, "hello there")
	waitFor(t, "listening", func() bool { return a.Session().State().Session == conversation.StateListening })
	clk.Advance(10 * time.Second)

	select {
	case r := <-res:
		if r.err != nil {
			t.Fatalf("Talk: %v", r.err)
		}
		if r.rec.Reason != conversation.ReasonTimeout {
			t.Errorf("reason = %s, want timeout", r.rec.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Talk did not return after the time limit")
	}
	if !strings.Contains(out.String(), "left]") {
		t.Errorf("no time warning printed:\n%s", out.String())
	}
}

func TestTalkReportsStartFailure(t *testing.T) {
	a, tr := newTestApp(t, testConfig())
	tr.ConnectFunc = func(context.Context, transport.MediaSource, transport.Negotiator) error {
		return transport.NewConnectionError("dial", errors.New("refused"), true)
	}

	_, err := a.Talk(context.Background(), "Ada", "", io.Discard)
	var se *conversation.SessionError
	if !errors.As(err, &se) || se.Kind != conversation.KindNetwork {
		t.Fatalf("err = %v, want network session error", err)
	}
}

func TestCollaboratorsLocalOnly(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	col := a.collaborators()
	if col.EndServerSession != nil {
		t.Error("socket transport without backend should not end server sessions")
	}
	wired := map[string]bool{
		"quota":     col.Quota != nil,
		"persist":   col.Persist != nil,
		"upload":    col.Upload != nil,
		"context":   col.PastContext != nil,
		"summarize": col.Summarize != nil,
	}
	for name, ok := range wired {
		if !ok {
			t.Errorf("%s not wired", name)
		}
	}

	ref, err := col.Upload(context.Background(), "s1", audioio.Blob{Data: []byte{1}, MimeType: "audio/wav"})
	if err != nil || !strings.HasPrefix(ref, "store://") {
		t.Errorf("upload = %q, %v", ref, err)
	}
}

func TestCollaboratorsPeerHangsUp(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Transport = config.TransportPeer
	a, _ := newTestApp(t, cfg)
	if a.collaborators().EndServerSession == nil {
		t.Error("peer transport should hang up the call")
	}
}

func TestDriveRedirect(t *testing.T) {
	tests := []struct {
		listen, override, want string
	}{
		{":8080", "", "http://localhost:8080/api/drive/callback"},
		{"127.0.0.1:9000", "", "http://127.0.0.1:9000/api/drive/callback"},
		{":8080", "https://parley.example.com/cb", "https://parley.example.com/cb"},
	}
	for _, tt := range tests {
		a := &App{cfg: config.Config{ListenAddr: tt.listen, Drive: config.Drive{RedirectURL: tt.override}}}
		if got := a.driveRedirect(); got != tt.want {
			t.Errorf("driveRedirect(%q, %q) = %q, want %q", tt.listen, tt.override, got, tt.want)
		}
	}
}

func TestPersistAllJoinsErrors(t *testing.T) {
	var calls []string
	ok := func(name string) conversation.PersistFunc {
		return func(context.Context, conversation.Record) error {
			calls = append(calls, name)
			return nil
		}
	}
	boom := errors.New("remote down")
	failing := func(context.Context, conversation.Record) error {
		calls = append(calls, "remote")
		return boom
	}

	err := persistAll(ok("local"), nil, failing, ok("mirror"))(context.Background(), conversation.Record{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if strings.Join(calls, ",") != "local,remote,mirror" {
		t.Errorf("calls = %v", calls)
	}
}

func TestUploadWithFallback(t *testing.T) {
	local := func(_ context.Context, id string, _ audioio.Blob) (string, error) {
		return "store://recordings/" + id, nil
	}
	tests := []struct {
		name    string
		primary conversation.UploadFunc
		want    string
	}{
		{"no primary", nil, "store://recordings/s1"},
		{"primary ok", func(context.Context, string, audioio.Blob) (string, error) {
			return "https://drive.example.com/f", nil
		}, "https://drive.example.com/f"},
		{"not authorized", func(context.Context, string, audioio.Blob) (string, error) {
			return "", backend.ErrNotAuthorized
		}, "store://recordings/s1"},
		{"upload error", func(context.Context, string, audioio.Blob) (string, error) {
			return "", errors.New("503")
		}, "store://recordings/s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := uploadWithFallback(tt.primary, local, quiet())
			got, err := up(context.Background(), "s1", audioio.Blob{Data: []byte{1}})
			if err != nil || got != tt.want {
				t.Errorf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestContextWithFallback(t *testing.T) {
	remote := func(_ context.Context, l conversation.Lookup) (string, error) {
		if l == conversation.LookupProfile {
			return "", errors.New("timeout")
		}
		return "remote " + string(l), nil
	}
	local := func(_ context.Context, l conversation.Lookup) (string, error) {
		return "local " + string(l), nil
	}
	fn := contextWithFallback(remote, local, quiet())

	if got, _ := fn(context.Background(), conversation.LookupSummaries); got != "remote summaries" {
		t.Errorf("summaries = %q", got)
	}
	if got, _ := fn(context.Background(), conversation.LookupProfile); got != "local profile" {
		t.Errorf("profile = %q", got)
	}
}
