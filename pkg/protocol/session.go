package protocol

// Dialect selects the session.update payload shape.
type Dialect int

const (
	// DialectBeta is the shape accepted on the WebSocket endpoint with
	// the "OpenAI-Beta: realtime=v1" header.
	DialectBeta Dialect = iota

	// DialectGA is the shape accepted on WebRTC calls.
	DialectGA
)

// DefaultTranscriptionModel transcribes user audio for the transcript.
const DefaultTranscriptionModel = "whisper-1"

// ToolDefinition declares a function the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// DefaultTurnDetection returns server VAD with conservative settings.
func DefaultTurnDetection() TurnDetection {
	return TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// SessionConfig is built once per session and never changed while it runs.
type SessionConfig struct {
	Instructions       string
	Voice              string
	Tools              []ToolDefinition
	TurnDetection      TurnDetection
	TranscriptionModel string
}

type functionTool struct {
	Type string `json:"type"`
	ToolDefinition
}

func (c SessionConfig) tools() []functionTool {
	out := make([]functionTool, 0, len(c.Tools))
	for _, t := range c.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, functionTool{
			Type: "function",
			ToolDefinition: ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (c SessionConfig) transcriptionModel() string {
	if c.TranscriptionModel != "" {
		return c.TranscriptionModel
	}
	return DefaultTranscriptionModel
}

func (c SessionConfig) wire(d Dialect) any {
	if d == DialectGA {
		return map[string]any{
			"type":         "realtime",
			"instructions": c.Instructions,
			"audio": map[string]any{
				"input": map[string]any{
					"transcription":  map[string]any{"model": c.transcriptionModel()},
					"turn_detection": c.TurnDetection,
				},
				"output": map[string]any{"voice": c.Voice},
			},
			"tools":       c.tools(),
			"tool_choice": "auto",
		}
	}

	return map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        c.Instructions,
		"voice":               c.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": c.transcriptionModel(),
		},
		"turn_detection": c.TurnDetection,
		"tools":          c.tools(),
		"tool_choice":    "auto",
	}
}
