package transport

import (
	"context"
	"sync"

	"github.com/teslashibe/go-parley/pkg/protocol"
)

// Mock is an in-memory Transport for testing.
type Mock struct {
	mu sync.RWMutex

	kind       Kind
	sent       []protocol.ClientEvent
	connects   int
	disconnect int
	sessionKey string

	status *statusCell
	events listeners[protocol.ServerEvent]

	// Configurable behavior
	ConnectFunc func(ctx context.Context, media MediaSource, negotiate Negotiator) error
	SendFunc    func(ev protocol.ClientEvent) error
}

// NewMock creates a mock transport of the given kind.
func NewMock(kind Kind) *Mock {
	return &Mock{kind: kind, status: newStatusCell()}
}

// Connect implements Transport.
func (m *Mock) Connect(ctx context.Context, media MediaSource, negotiate Negotiator) error {
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()

	m.status.set(StatusConnecting)
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx, media, negotiate); err != nil {
			m.status.set(StatusFailed)
			return err
		}
	}
	m.status.set(StatusConnected)
	return nil
}

// Send implements Transport.
func (m *Mock) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if m.status.get() != StatusConnected {
		return ErrNotConnected
	}
	if m.SendFunc != nil {
		if err := m.SendFunc(ev); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, ev)
	m.mu.Unlock()
	return nil
}

// Disconnect implements Transport.
func (m *Mock) Disconnect() error {
	m.mu.Lock()
	m.disconnect++
	m.mu.Unlock()
	m.status.set(StatusDisconnected)
	return nil
}

// Status implements Transport.
func (m *Mock) Status() Status { return m.status.get() }

// Subscribe implements Transport.
func (m *Mock) Subscribe(h Handler) func() { return m.events.add(h) }

// OnStatus implements Transport.
func (m *Mock) OnStatus(fn func(Status)) func() { return m.status.observers.add(fn) }

// SessionKey implements Transport.
func (m *Mock) SessionKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionKey
}

// Kind implements Transport.
func (m *Mock) Kind() Kind { return m.kind }

// SetSessionKey sets the value returned by SessionKey.
func (m *Mock) SetSessionKey(key string) {
	m.mu.Lock()
	m.sessionKey = key
	m.mu.Unlock()
}

// SimulateEvent delivers a server event to subscribers.
func (m *Mock) SimulateEvent(ev protocol.ServerEvent) {
	m.events.emit(ev)
}

// SimulateRaw parses a raw frame and delivers it, dropping malformed input
// the way the real transports do.
func (m *Mock) SimulateRaw(data []byte) bool {
	ev, err := protocol.ParseServerEvent(data)
	if err != nil {
		return false
	}
	m.events.emit(ev)
	return true
}

// SimulateStatus forces a status change.
func (m *Mock) SimulateStatus(s Status) {
	m.status.set(s)
}

// Sent returns a copy of every event sent.
func (m *Mock) Sent() []protocol.ClientEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.ClientEvent, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentOfType returns the sent events with the given type.
func (m *Mock) SentOfType(t protocol.EventType) []protocol.ClientEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []protocol.ClientEvent
	for _, ev := range m.sent {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// ResetSent clears the captured events.
func (m *Mock) ResetSent() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// Connects returns how many times Connect was called.
func (m *Mock) Connects() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connects
}

// Disconnects returns how many times Disconnect was called.
func (m *Mock) Disconnects() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disconnect
}

// Subscribers returns the number of registered event handlers.
func (m *Mock) Subscribers() int {
	return m.events.len()
}

var _ Transport = (*Mock)(nil)
