// Package tools dispatches function calls made by the model during a
// conversation.
//
// Every tool belongs to a tier that decides how a call is applied:
//
//   - TierNavigate: read-only navigation, runs synchronously.
//   - TierSetting: reversible settings, may block, applied automatically.
//   - TierConsequential: not applied by the dispatcher; the call is parked
//     as a PendingConfirmation until the user accepts it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tier classifies how a tool call is applied.
type Tier int

const (
	TierNavigate Tier = iota
	TierSetting
	TierConsequential
)

func (t Tier) String() string {
	switch t {
	case TierNavigate:
		return "navigate"
	case TierSetting:
		return "setting"
	case TierConsequential:
		return "consequential"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Args are decoded call arguments.
type Args map[string]any

// String returns a string argument, or "" when it is absent or not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Handler applies a tool call and returns a human-readable message.
type Handler func(ctx context.Context, args Args) (string, error)

// Tool is a function the model may call.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "navigate_to").
	Name string

	// Description explains what the tool does, helping the model decide when to use it.
	Description string

	// Parameters is the JSON schema of the arguments.
	Parameters map[string]any

	Tier Tier

	// Handler applies the call. For TierConsequential it runs only after
	// the user confirms.
	Handler Handler
}

// Call is one function call from the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is returned to the model as the function call output.
type Result struct {
	OK                   bool   `json:"ok"`
	Message              string `json:"message,omitempty"`
	Reason               string `json:"reason,omitempty"`
	Error                string `json:"error,omitempty"`
	ConfirmationRequired bool   `json:"confirmation_required,omitempty"`
	Action               string `json:"action,omitempty"`
	Data                 Args   `json:"data,omitempty"`
}

// Output encodes the result for a function_call_output item.
func (r Result) Output() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":"encode result"}`
	}
	return string(b)
}

// PendingConfirmation is a consequential call awaiting the user's decision.
type PendingConfirmation struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Data   Args   `json:"data,omitempty"`
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string, enum ...string) map[string]any {
	p := map[string]any{"type": "string", "description": description}
	if len(enum) > 0 {
		p["enum"] = enum
	}
	return p
}
