// Package hub fans session updates out to websocket subscribers using a
// single goroutine that owns the client set.
package hub

import "encoding/json"

// MessageType indicates the websocket frame type.
type MessageType int

const (
	// JSONMessage is sent as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a binary frame, e.g. a level meter sample.
	BinaryMessage
)

// Message is one frame queued for every subscriber.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Envelope is the JSON shape of every text frame: a kind tag and a payload.
type Envelope struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Encode marshals an envelope into a text message.
func Encode(kind string, payload any) (Message, error) {
	data, err := json.Marshal(Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
