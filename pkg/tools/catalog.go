package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Tool names in the default catalog.
const (
	NameNavigateTo       = "navigate_to"
	NameShowTodos        = "show_todos"
	NameSetVoice         = "set_voice"
	NameSetLanguage      = "set_language"
	NameAddTodo          = "add_todo"
	NameStartNewSession  = "start_new_session"
	NameCreateInvitation = "create_invitation"
	NameEndConversation  = "end_conversation"
)

// Screens accepted by navigate_to.
var Screens = []string{"home", "history", "todos", "settings", "family", "profile"}

// Voices accepted by set_voice.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// ErrUnavailable is returned by a default tool whose action is not wired.
var ErrUnavailable = errors.New("not available in this app")

// Actions are the app hooks behind the default catalog. Nil hooks make the
// tool report that it is unavailable.
type Actions struct {
	Navigate         func(ctx context.Context, screen string) error
	ShowTodos        func(ctx context.Context) error
	SetVoice         func(ctx context.Context, voice string) error
	SetLanguage      func(ctx context.Context, language string) error
	AddTodo          func(ctx context.Context, text string) error
	StartNewSession  func(ctx context.Context, topic string) error
	CreateInvitation func(ctx context.Context, name, contact string) error

	// EndConversation runs after the session has started its end flow.
	EndConversation func(ctx context.Context, reason string) error
}

// DefaultActions returns the standard catalog bound to a.
func DefaultActions(a Actions) []Tool {
	return []Tool{
		{
			Name:        NameNavigateTo,
			Description: "Open a screen in the app. Use when the user asks to see a part of the app.",
			Parameters:  object(map[string]any{"screen": stringProp("Screen to open", Screens...)}, "screen"),
			Tier:        TierNavigate,
			Handler: func(ctx context.Context, args Args) (string, error) {
				screen := args.String("screen")
				if !slices.Contains(Screens, screen) {
					return "", fmt.Errorf("unknown screen %q", screen)
				}
				if a.Navigate == nil {
					return "", ErrUnavailable
				}
				if err := a.Navigate(ctx, screen); err != nil {
					return "", err
				}
				return "Opened " + screen, nil
			},
		},
		{
			Name:        NameShowTodos,
			Description: "Show the user's todo list.",
			Parameters:  object(map[string]any{}),
			Tier:        TierNavigate,
			Handler: func(ctx context.Context, _ Args) (string, error) {
				if a.ShowTodos == nil {
					return "", ErrUnavailable
				}
				if err := a.ShowTodos(ctx); err != nil {
					return "", err
				}
				return "Showing todos", nil
			},
		},
		{
			Name:        NameSetVoice,
			Description: "Change the assistant voice for future conversations.",
			Parameters:  object(map[string]any{"voice": stringProp("Voice name", Voices...)}, "voice"),
			Tier:        TierSetting,
			Handler: func(ctx context.Context, args Args) (string, error) {
				voice := args.String("voice")
				if !slices.Contains(Voices, voice) {
					return "", fmt.Errorf("unknown voice %q", voice)
				}
				if a.SetVoice == nil {
					return "", ErrUnavailable
				}
				if err := a.SetVoice(ctx, voice); err != nil {
					return "", err
				}
				return fmt.Sprintf("Voice changed to %s. It applies from the next conversation.", voice), nil
			},
		},
		{
			Name:        NameSetLanguage,
			Description: "Change the conversation language.",
			Parameters:  object(map[string]any{"language": stringProp("Language name or BCP 47 code")}, "language"),
			Tier:        TierSetting,
			Handler: func(ctx context.Context, args Args) (string, error) {
				lang := args.String("language")
				if lang == "" {
					return "", errors.New("language is empty")
				}
				if a.SetLanguage == nil {
					return "", ErrUnavailable
				}
				if err := a.SetLanguage(ctx, lang); err != nil {
					return "", err
				}
				return "Language set to " + lang, nil
			},
		},
		{
			Name:        NameAddTodo,
			Description: "Add an item to the user's todo list.",
			Parameters:  object(map[string]any{"text": stringProp("The todo item")}, "text"),
			Tier:        TierSetting,
			Handler: func(ctx context.Context, args Args) (string, error) {
				text := args.String("text")
				if text == "" {
					return "", errors.New("todo text is empty")
				}
				if a.AddTodo == nil {
					return "", ErrUnavailable
				}
				if err := a.AddTodo(ctx, text); err != nil {
					return "", err
				}
				return fmt.Sprintf("Added %q to the todo list", text), nil
			},
		},
		{
			Name:        NameStartNewSession,
			Description: "Start a new conversation on a different topic. The user must confirm.",
			Parameters:  object(map[string]any{"topic": stringProp("Topic of the new conversation")}, "topic"),
			Tier:        TierConsequential,
			Handler: func(ctx context.Context, args Args) (string, error) {
				if a.StartNewSession == nil {
					return "", ErrUnavailable
				}
				if err := a.StartNewSession(ctx, args.String("topic")); err != nil {
					return "", err
				}
				return "Starting a new conversation", nil
			},
		},
		{
			Name:        NameCreateInvitation,
			Description: "Invite a family member to the app. The user must confirm.",
			Parameters: object(map[string]any{
				"name":    stringProp("Name of the person to invite"),
				"contact": stringProp("Email address or phone number"),
			}, "name"),
			Tier: TierConsequential,
			Handler: func(ctx context.Context, args Args) (string, error) {
				if a.CreateInvitation == nil {
					return "", ErrUnavailable
				}
				name := args.String("name")
				if err := a.CreateInvitation(ctx, name, args.String("contact")); err != nil {
					return "", err
				}
				return "Invitation created for " + name, nil
			},
		},
		{
			Name:        NameEndConversation,
			Description: "End the conversation after saying goodbye. Call this when the user wants to stop talking.",
			Parameters:  object(map[string]any{"reason": stringProp("Why the conversation is ending")}),
			Tier:        TierNavigate,
			Handler: func(ctx context.Context, args Args) (string, error) {
				if a.EndConversation != nil {
					if err := a.EndConversation(ctx, args.String("reason")); err != nil {
						return "", err
					}
				}
				return "Say a short goodbye. The conversation will end after it.", nil
			},
		},
	}
}
