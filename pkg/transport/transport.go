// Package transport carries realtime events between the session engine and
// the conversation endpoint.
//
// Two variants implement Transport:
//   - Socket: one WebSocket carries JSON control events and base64 audio,
//     with bounded exponential-backoff reconnect.
//   - Peer: a WebRTC peer connection carries audio as native Opus tracks and
//     control events over an ordered, reliable data channel.
package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/protocol"
)

// Status is the connection state of a transport.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Kind names the transport variant.
type Kind string

const (
	KindSocket Kind = "socket"
	KindPeer   Kind = "peer"
)

// Handler receives server events in arrival order.
type Handler func(protocol.ServerEvent)

// MediaSource supplies local microphone audio to transports that send it
// natively (the peer variant). The socket variant ignores it.
type MediaSource interface {
	Stream() <-chan audioio.AudioChunk
}

// Credentials authorise a socket connection.
type Credentials struct {
	URL    string
	Token  string
	Header http.Header
}

// Answer is the result of a signaling exchange.
type Answer struct {
	SDP string

	// SessionKey identifies the server-side session for later teardown.
	SessionKey string
}

// Negotiator produces whatever a transport needs to connect.
type Negotiator interface {
	// Credentials returns the endpoint and token for a socket connection.
	Credentials(ctx context.Context) (Credentials, error)

	// Exchange sends a local SDP offer and returns the remote answer.
	Exchange(ctx context.Context, offer string) (Answer, error)
}

// Transport is a bidirectional realtime event channel.
type Transport interface {
	// Connect negotiates and opens the connection. It returns once the
	// transport is usable or has failed.
	Connect(ctx context.Context, media MediaSource, negotiate Negotiator) error

	// Send writes one client event.
	Send(ctx context.Context, ev protocol.ClientEvent) error

	// Disconnect closes the connection. Safe to call in any state, more than once.
	Disconnect() error

	// Status returns the current connection status.
	Status() Status

	// Subscribe registers a server event handler and returns its disposer.
	Subscribe(h Handler) (unsubscribe func())

	// OnStatus registers a status observer and returns its disposer.
	OnStatus(fn func(Status)) (unsubscribe func())

	// SessionKey returns the server session key, if the variant has one.
	SessionKey() string

	// Kind reports the variant.
	Kind() Kind
}

// listeners is an ordered, owned collection of callbacks.
type listeners[T any] struct {
	mu     sync.RWMutex
	nextID int
	fns    []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.fns = append(l.fns, listener[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, entry := range l.fns {
				if entry.id == id {
					l.fns = append(l.fns[:i:i], l.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), len(l.fns))
	for i, entry := range l.fns {
		fns[i] = entry.fn
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// statusCell holds a status and notifies observers on change.
type statusCell struct {
	mu        sync.RWMutex
	status    Status
	observers listeners[Status]
}

func newStatusCell() *statusCell {
	return &statusCell{status: StatusDisconnected}
}

func (c *statusCell) get() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// set changes the status and reports whether it changed.
func (c *statusCell) set(s Status) bool {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return false
	}
	c.status = s
	c.mu.Unlock()

	c.observers.emit(s)
	return true
}
