package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned by ParseServerEvent for frames that are not
// JSON objects with a type field.
var ErrMalformed = errors.New("protocol: malformed event")

// ServerEvent is a message received from the realtime endpoint.
type ServerEvent interface {
	EventType() EventType
}

// SessionInfo is the subset of the server session object we care about.
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Voice string `json:"voice"`
}

// SessionCreated is sent once after the connection is established.
type SessionCreated struct {
	Session SessionInfo `json:"session"`
}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct {
	Session SessionInfo `json:"session"`
}

// SpeechStarted marks server VAD detecting user speech.
type SpeechStarted struct {
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// SpeechStopped marks server VAD detecting the end of user speech.
type SpeechStopped struct {
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// AudioDelta carries a base64 PCM16 chunk of assistant speech.
type AudioDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// PCM decodes the delta into raw PCM16 bytes.
func (e AudioDelta) PCM() ([]byte, error) {
	return DecodeAudio(e.Delta)
}

// AudioDone marks the end of assistant audio for an item.
type AudioDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
}

// TranscriptDelta carries streamed assistant transcript text.
type TranscriptDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// TranscriptDone carries the final assistant transcript for an item.
type TranscriptDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// InputTranscriptCompleted carries the finalized transcription of user audio.
type InputTranscriptCompleted struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// ResponseInfo is the subset of a response object we care about.
type ResponseInfo struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []OutputItem `json:"output,omitempty"`
}

// ResponseCreated marks the start of an assistant turn.
type ResponseCreated struct {
	Response ResponseInfo `json:"response"`
}

// ResponseDone marks the end of an assistant turn.
type ResponseDone struct {
	Response ResponseInfo `json:"response"`
}

// OutputItem is an item produced by the model: a message or a function call.
type OutputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// IsFunctionCall reports whether the item asks the client to run a tool.
func (i OutputItem) IsFunctionCall() bool { return i.Type == "function_call" }

// IsMessage reports whether the item is a spoken/text message.
func (i OutputItem) IsMessage() bool { return i.Type == "message" }

// OutputItemDone is sent when an output item is complete.
type OutputItemDone struct {
	ResponseID string     `json:"response_id"`
	Item       OutputItem `json:"item"`
}

// ErrorDetail is the structured body of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ErrorEvent reports a server-side failure.
type ErrorEvent struct {
	Error ErrorDetail `json:"error"`
}

// UnknownEvent is any type this package does not model. It is ignored by
// consumers rather than treated as a failure.
type UnknownEvent struct {
	Type EventType
	Raw  json.RawMessage
}

func (SessionCreated) EventType() EventType           { return TypeSessionCreated }
func (SessionUpdated) EventType() EventType           { return TypeSessionUpdated }
func (SpeechStarted) EventType() EventType            { return TypeSpeechStarted }
func (SpeechStopped) EventType() EventType            { return TypeSpeechStopped }
func (AudioDelta) EventType() EventType               { return TypeAudioDelta }
func (AudioDone) EventType() EventType                { return TypeAudioDone }
func (TranscriptDelta) EventType() EventType          { return TypeTranscriptDelta }
func (TranscriptDone) EventType() EventType           { return TypeTranscriptDone }
func (InputTranscriptCompleted) EventType() EventType { return TypeInputTranscriptCompleted }
func (ResponseCreated) EventType() EventType          { return TypeResponseCreated }
func (ResponseDone) EventType() EventType             { return TypeResponseDone }
func (OutputItemDone) EventType() EventType           { return TypeOutputItemDone }
func (ErrorEvent) EventType() EventType               { return TypeError }
func (e UnknownEvent) EventType() EventType           { return e.Type }

// ParseServerEvent decodes a frame into its concrete event type.
// GA event names are folded onto their beta equivalents.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch envelope.Type {
	case TypeSessionCreated:
		return decode[SessionCreated](data)
	case TypeSessionUpdated:
		return decode[SessionUpdated](data)
	case TypeSpeechStarted:
		return decode[SpeechStarted](data)
	case TypeSpeechStopped:
		return decode[SpeechStopped](data)
	case TypeAudioDelta, TypeOutputAudioDelta:
		return decode[AudioDelta](data)
	case TypeAudioDone, TypeOutputAudioDone:
		return decode[AudioDone](data)
	case TypeTranscriptDelta, TypeOutputAudioTranscriptDelta:
		return decode[TranscriptDelta](data)
	case TypeTranscriptDone, TypeOutputAudioTranscriptDone:
		return decode[TranscriptDone](data)
	case TypeInputTranscriptCompleted:
		return decode[InputTranscriptCompleted](data)
	case TypeResponseCreated:
		return decode[ResponseCreated](data)
	case TypeResponseDone:
		return decode[ResponseDone](data)
	case TypeOutputItemDone:
		return decode[OutputItemDone](data)
	case TypeError:
		return decode[ErrorEvent](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownEvent{Type: envelope.Type, Raw: raw}, nil
	}
}

func decode[T ServerEvent](data []byte) (ServerEvent, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ev, nil
}
