package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-parley/internal/metrics"
	"github.com/teslashibe/go-parley/pkg/protocol"
)

// Registry errors.
var (
	ErrDuplicateTool       = errors.New("tools: duplicate tool name")
	ErrInvalidTool         = errors.New("tools: tool needs a name and a handler")
	ErrNoPendingCall       = errors.New("tools: no pending confirmation with that id")
	ErrConfirmationPending = errors.New("tools: confirmation already pending for call")
)

// Registry holds the tools offered to the model and dispatches their calls.
type Registry struct {
	logger *slog.Logger

	mu             sync.RWMutex
	tools          map[string]Tool
	order          []string
	pending        map[string]PendingConfirmation
	onConfirmation func(PendingConfirmation)
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(logger *slog.Logger, tools ...Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:  logger.With("component", "tools.registry"),
		tools:   make(map[string]Tool),
		pending: make(map[string]PendingConfirmation),
	}
	if err := r.Register(tools...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds tools. Names must be unique.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("%w: %q", ErrInvalidTool, t.Name)
		}
		if _, ok := r.tools[t.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Catalog returns the tool declarations for the session configuration.
func (r *Registry) Catalog() []protocol.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, protocol.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// OnConfirmation sets the callback invoked when a consequential call needs
// the user's consent.
func (r *Registry) OnConfirmation(fn func(PendingConfirmation)) {
	r.mu.Lock()
	r.onConfirmation = fn
	r.mu.Unlock()
}

// Dispatch runs one call according to its tool's tier. It never returns
// an error: every outcome is a Result for the model.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	t, ok := r.Lookup(call.Name)
	if !ok {
		r.logger.Warn("unknown function", "name", call.Name, "call_id", call.ID)
		metrics.ToolCallsTotal.WithLabelValues("unknown", "error").Inc()
		return Result{Error: "unknown function: " + call.Name}
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		metrics.ToolCallsTotal.WithLabelValues(t.Tier.String(), "error").Inc()
		return Result{Error: "invalid arguments: " + err.Error()}
	}
	if missing := missingRequired(t.Parameters, args); missing != "" {
		metrics.ToolCallsTotal.WithLabelValues(t.Tier.String(), "error").Inc()
		return Result{Reason: "missing argument: " + missing}
	}

	var res Result
	switch t.Tier {
	case TierNavigate:
		res = r.apply(ctx, t, args, true)
	case TierSetting:
		res = r.apply(ctx, t, args, false)
	case TierConsequential:
		res = r.park(call, args)
	default:
		res = Result{Error: fmt.Sprintf("unsupported tier %d", t.Tier)}
	}

	outcome := "ok"
	switch {
	case res.ConfirmationRequired:
		outcome = "pending"
	case !res.OK:
		outcome = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(t.Tier.String(), outcome).Inc()
	r.logger.Info("tool call", "name", call.Name, "tier", t.Tier, "outcome", outcome)
	return res
}

func (r *Registry) apply(ctx context.Context, t Tool, args Args, reason bool) Result {
	msg, err := t.Handler(ctx, args)
	if err != nil {
		if reason {
			return Result{Reason: err.Error()}
		}
		return Result{Error: err.Error()}
	}
	return Result{OK: true, Message: msg}
}

func (r *Registry) park(call Call, args Args) Result {
	p := PendingConfirmation{ID: call.ID, Action: call.Name, Data: args}

	r.mu.Lock()
	if _, dup := r.pending[call.ID]; dup {
		r.mu.Unlock()
		return Result{Error: ErrConfirmationPending.Error()}
	}
	r.pending[call.ID] = p
	notify := r.onConfirmation
	r.mu.Unlock()

	if notify != nil {
		notify(p)
	}
	return Result{OK: true, ConfirmationRequired: true, Action: call.Name, Data: args}
}

// Confirm applies a pending consequential call.
func (r *Registry) Confirm(ctx context.Context, id string) (string, error) {
	p, err := r.take(id)
	if err != nil {
		return "", err
	}
	t, ok := r.Lookup(p.Action)
	if !ok {
		return "", fmt.Errorf("unknown function: %s", p.Action)
	}

	msg, err := t.Handler(ctx, p.Data)
	outcome := "confirmed"
	if err != nil {
		outcome = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(t.Tier.String(), outcome).Inc()
	if err != nil {
		return "", fmt.Errorf("apply %s: %w", p.Action, err)
	}
	return msg, nil
}

// Decline drops a pending call without applying it.
func (r *Registry) Decline(id string) error {
	p, err := r.take(id)
	if err != nil {
		return err
	}
	metrics.ToolCallsTotal.WithLabelValues(TierConsequential.String(), "declined").Inc()
	r.logger.Info("confirmation declined", "name", p.Action, "call_id", id)
	return nil
}

// Pending returns the calls awaiting confirmation.
func (r *Registry) Pending() []PendingConfirmation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PendingConfirmation, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	return out
}

// ClearPending drops every pending confirmation.
func (r *Registry) ClearPending() {
	r.mu.Lock()
	clear(r.pending)
	r.mu.Unlock()
}

func (r *Registry) take(id string) (PendingConfirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return PendingConfirmation{}, ErrNoPendingCall
	}
	delete(r.pending, id)
	return p, nil
}

func decodeArgs(raw json.RawMessage) (Args, error) {
	args := Args{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func missingRequired(schema map[string]any, args Args) string {
	var required []string
	switch v := schema["required"].(type) {
	case []string:
		required = v
	case []any:
		for _, s := range v {
			if name, ok := s.(string); ok {
				required = append(required, name)
			}
		}
	}
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return name
		}
	}
	return ""
}
