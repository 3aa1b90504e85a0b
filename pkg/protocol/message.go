// Package protocol defines the JSON events exchanged with the realtime
// conversation endpoint. Every message carries a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType identifies the type of a realtime message.
type EventType string

const (
	// Client → server
	TypeSessionUpdate          EventType = "session.update"
	TypeInputAudioAppend       EventType = "input_audio_buffer.append"
	TypeInputAudioCommit       EventType = "input_audio_buffer.commit"
	TypeInputAudioClear        EventType = "input_audio_buffer.clear"
	TypeConversationItemCreate EventType = "conversation.item.create"
	TypeResponseCreate         EventType = "response.create"
	TypeResponseCancel         EventType = "response.cancel"

	// Server → client
	TypeSessionCreated           EventType = "session.created"
	TypeSessionUpdated           EventType = "session.updated"
	TypeSpeechStarted            EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped            EventType = "input_audio_buffer.speech_stopped"
	TypeAudioDelta               EventType = "response.audio.delta"
	TypeAudioDone                EventType = "response.audio.done"
	TypeTranscriptDelta          EventType = "response.audio_transcript.delta"
	TypeTranscriptDone           EventType = "response.audio_transcript.done"
	TypeInputTranscriptCompleted EventType = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated          EventType = "response.created"
	TypeResponseDone             EventType = "response.done"
	TypeOutputItemDone           EventType = "response.output_item.done"
	TypeError                    EventType = "error"

	// GA names used on the WebRTC calls endpoint.
	TypeOutputAudioDelta           EventType = "response.output_audio.delta"
	TypeOutputAudioDone            EventType = "response.output_audio.done"
	TypeOutputAudioTranscriptDelta EventType = "response.output_audio_transcript.delta"
	TypeOutputAudioTranscriptDone  EventType = "response.output_audio_transcript.done"
)

// ClientEvent is a message sent to the realtime endpoint.
// Only the fields relevant to Type are populated.
type ClientEvent struct {
	EventID  string          `json:"event_id,omitempty"`
	Type     EventType       `json:"type"`
	Session  json.RawMessage `json:"session,omitempty"`
	Audio    string          `json:"audio,omitempty"`
	Item     *Item           `json:"item,omitempty"`
	Response *ResponseParams `json:"response,omitempty"`
}

// Item is a conversation item. Only function call outputs are sent by the client.
type Item struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ResponseParams overrides per-response settings on response.create.
type ResponseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

// Bytes returns the JSON-encoded event.
func (e ClientEvent) Bytes() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type, err)
	}
	return data, nil
}

// IsAudio reports whether the event carries raw microphone audio.
// Transports use this to keep audio out of debug logs.
func (e ClientEvent) IsAudio() bool {
	return e.Type == TypeInputAudioAppend
}

func newEvent(t EventType) ClientEvent {
	return ClientEvent{EventID: "evt_" + uuid.NewString(), Type: t}
}

// NewSessionUpdate creates the one-time session configuration message.
func NewSessionUpdate(cfg SessionConfig, d Dialect) (ClientEvent, error) {
	raw, err := json.Marshal(cfg.wire(d))
	if err != nil {
		return ClientEvent{}, fmt.Errorf("marshal session config: %w", err)
	}
	ev := newEvent(TypeSessionUpdate)
	ev.Session = raw
	return ev, nil
}

// NewAudioAppend wraps raw PCM16 little-endian bytes in an append event.
func NewAudioAppend(pcm []byte) ClientEvent {
	ev := newEvent(TypeInputAudioAppend)
	ev.Audio = EncodeAudio(pcm)
	return ev
}

// NewAudioCommit commits the server-side input buffer.
func NewAudioCommit() ClientEvent {
	return newEvent(TypeInputAudioCommit)
}

// NewAudioClear discards the server-side input buffer.
func NewAudioClear() ClientEvent {
	return newEvent(TypeInputAudioClear)
}

// NewFunctionCallOutput delivers a tool result for the given call.
func NewFunctionCallOutput(callID, output string) ClientEvent {
	ev := newEvent(TypeConversationItemCreate)
	ev.Item = &Item{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}
	return ev
}

// NewResponseCreate asks the model to produce a new turn.
func NewResponseCreate() ClientEvent {
	return newEvent(TypeResponseCreate)
}

// NewResponseCancel cancels the in-progress response.
func NewResponseCancel() ClientEvent {
	return newEvent(TypeResponseCancel)
}
