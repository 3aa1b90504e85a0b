package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-parley/pkg/protocol"
)

type stubNegotiator struct {
	url string
}

func (n stubNegotiator) Credentials(context.Context) (Credentials, error) {
	h := http.Header{}
	h.Set("OpenAI-Beta", "realtime=v1")
	return Credentials{URL: n.url, Token: "sk-test", Header: h}, nil
}

func (n stubNegotiator) Exchange(context.Context, string) (Answer, error) {
	return Answer{}, nil
}

// realtimeServer is a scripted WebSocket endpoint.
type realtimeServer struct {
	*httptest.Server

	accepts  atomic.Int32
	rejectAt atomic.Int32 // connections at or after this index get a 503; 0 disables
	mu       sync.Mutex
	headers  []http.Header
	received chan []byte
	onConn   func(n int32, conn *websocket.Conn)
}

func newRealtimeServer(t *testing.T, onConn func(n int32, conn *websocket.Conn)) *realtimeServer {
	t.Helper()
	rs := &realtimeServer{received: make(chan []byte, 16), onConn: onConn}
	upgrader := websocket.Upgrader{}

	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := rs.accepts.Add(1)
		if limit := rs.rejectAt.Load(); limit > 0 && n >= limit {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		rs.mu.Lock()
		rs.headers = append(rs.headers, r.Header.Clone())
		rs.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if rs.onConn != nil {
			rs.onConn(n, conn)
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			rs.received <- data
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *realtimeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http")
}

func recordSleeps(delays *[]time.Duration, mu *sync.Mutex) SocketOption {
	return func(c *SocketConfig) {
		c.sleep = func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			*delays = append(*delays, d)
			mu.Unlock()
			return ctx.Err()
		}
	}
}

func waitStatus(t *testing.T, tr Transport, want Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", tr.Status(), want)
}

func TestSocket_ConnectSendsAuthHeaders(t *testing.T) {
	rs := newRealtimeServer(t, nil)
	s := NewSocket()
	defer s.Disconnect()

	if err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.Status() != StatusConnected {
		t.Errorf("Status() = %v", s.Status())
	}

	rs.mu.Lock()
	h := rs.headers[0]
	rs.mu.Unlock()
	if h.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("OpenAI-Beta") != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", h.Get("OpenAI-Beta"))
	}
}

func TestSocket_Send(t *testing.T) {
	rs := newRealtimeServer(t, nil)
	s := NewSocket()
	defer s.Disconnect()

	ctx := context.Background()
	if err := s.Send(ctx, protocol.NewAudioCommit()); err != ErrNotConnected {
		t.Errorf("Send before Connect = %v, want ErrNotConnected", err)
	}
	if err := s.Connect(ctx, nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, protocol.NewAudioAppend([]byte{1, 2})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case data := <-rs.received:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		if m["type"] != string(protocol.TypeInputAudioAppend) || m["audio"] != "AQI=" {
			t.Errorf("server received %v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestSocket_DeliversInOrderAndDropsMalformed(t *testing.T) {
	rs := newRealtimeServer(t, func(_ int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"s1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.updated","session":{"id":"s1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done","response":{"id":"r1"}}`))
		conn.ReadMessage()
	})

	s := NewSocket()
	defer s.Disconnect()

	got := make(chan protocol.EventType, 8)
	s.Subscribe(func(ev protocol.ServerEvent) { got <- ev.EventType() })

	if err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Fatal(err)
	}

	want := []protocol.EventType{protocol.TypeSessionCreated, protocol.TypeSessionUpdated, protocol.TypeResponseDone}
	for i, w := range want {
		select {
		case ev := <-got:
			if ev != w {
				t.Errorf("event %d = %v, want %v", i, ev, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if s.Status() != StatusConnected {
		t.Errorf("malformed frame changed status to %v", s.Status())
	}
}

func TestSocket_ReconnectsAfterDrop(t *testing.T) {
	rs := newRealtimeServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			return // drop the first connection immediately
		}
		conn.ReadMessage()
	})

	var delays []time.Duration
	var mu sync.Mutex
	s := NewSocket(WithBackoff(Backoff{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 3}), recordSleeps(&delays, &mu))
	defer s.Disconnect()

	var statuses []Status
	var smu sync.Mutex
	s.OnStatus(func(st Status) {
		smu.Lock()
		statuses = append(statuses, st)
		smu.Unlock()
	})

	if err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Fatal(err)
	}

	statusCount := func() int {
		smu.Lock()
		defer smu.Unlock()
		return len(statuses)
	}
	deadline := time.Now().Add(3 * time.Second)
	for statusCount() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	waitStatus(t, s, StatusConnected)
	if got := rs.accepts.Load(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("delays = %v, want [1s]", delays)
	}

	smu.Lock()
	defer smu.Unlock()
	// connecting, connected, connecting (drop), connected
	if len(statuses) != 4 || statuses[2] != StatusConnecting || statuses[3] != StatusConnected {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestSocket_FailsAfterMaxAttempts(t *testing.T) {
	rs := newRealtimeServer(t, func(n int32, conn *websocket.Conn) {})
	rs.rejectAt.Store(2)

	var delays []time.Duration
	var mu sync.Mutex
	b := Backoff{Base: 500 * time.Millisecond, Max: 1500 * time.Millisecond, MaxAttempts: 4}
	s := NewSocket(WithBackoff(b), recordSleeps(&delays, &mu))
	defer s.Disconnect()

	if err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, s, StatusFailed)

	if got := rs.accepts.Load(); got != 1+int32(b.MaxAttempts) {
		t.Errorf("dials = %d, want %d", got, 1+b.MaxAttempts)
	}

	mu.Lock()
	defer mu.Unlock()
	want := b.Schedule()
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}

	// terminal: no further attempts
	time.Sleep(50 * time.Millisecond)
	if got := rs.accepts.Load(); got != 1+int32(b.MaxAttempts) {
		t.Errorf("dialed again after failure: %d", got)
	}
	if err := s.Send(context.Background(), protocol.NewAudioCommit()); err != ErrNotConnected {
		t.Errorf("Send after failure = %v", err)
	}
}

func TestSocket_InitialDialFailure(t *testing.T) {
	rs := newRealtimeServer(t, nil)
	rs.rejectAt.Store(1)

	s := NewSocket()
	err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()})
	if err == nil {
		t.Fatal("Connect() succeeded against a 503")
	}
	if !IsRetryable(err) {
		t.Errorf("503 should be retryable: %v", err)
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %v, want failed", s.Status())
	}

	// a new explicit Connect is allowed after failure
	rs.rejectAt.Store(0)
	if err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Errorf("reconnect after failure: %v", err)
	}
	s.Disconnect()
}

func TestSocket_DisconnectIsIdempotentAndStopsReconnect(t *testing.T) {
	rs := newRealtimeServer(t, nil)
	s := NewSocket()

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect before Connect: %v", err)
	}
	if err := s.Connect(context.Background(), nil, stubNegotiator{url: rs.wsURL()}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Disconnect(); err != nil {
			t.Fatalf("Disconnect #%d: %v", i+1, err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := rs.accepts.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if s.Status() != StatusDisconnected {
		t.Errorf("Status() = %v", s.Status())
	}
}

func TestSocket_ConnectRequiresNegotiator(t *testing.T) {
	if err := NewSocket().Connect(context.Background(), nil, nil); err != ErrNoNegotiator {
		t.Errorf("Connect(nil) = %v", err)
	}
}
