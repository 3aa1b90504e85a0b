package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/tools"
)

var (
	errNoScreen       = errors.New("no screen is attached")
	errNothingRunning = errors.New("no conversation to restart")
)

// publisher receives UI envelopes. *hub.Hub is the web implementation.
type publisher interface {
	Publish(kind string, payload any) error
}

// screen forwards navigation to whichever UI is attached.
type screen struct {
	mu  sync.RWMutex
	pub publisher
}

func (s *screen) attach(p publisher) (detach func()) {
	s.mu.Lock()
	s.pub = p
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.pub == p {
			s.pub = nil
		}
		s.mu.Unlock()
	}
}

func (s *screen) publish(kind string, payload any) error {
	s.mu.RLock()
	p := s.pub
	s.mu.RUnlock()
	if p == nil {
		return errNoScreen
	}
	return p.Publish(kind, payload)
}

type navigation struct {
	Screen string `json:"screen"`
}

// textScreen renders navigation as terminal lines for Talk.
type textScreen struct {
	w io.Writer
}

func (t textScreen) Publish(kind string, payload any) error {
	switch v := payload.(type) {
	case navigation:
		_, err := fmt.Fprintf(t.w, "[opened %s]\n", v.Screen)
		return err
	case []store.Todo:
		if len(v) == 0 {
			_, err := fmt.Fprintln(t.w, "[todo list is empty]")
			return err
		}
		var b strings.Builder
		b.WriteString("[todos]\n")
		for _, todo := range v {
			fmt.Fprintf(&b, "  - %s\n", todo.Text)
		}
		_, err := io.WriteString(t.w, b.String())
		return err
	default:
		_, err := fmt.Fprintf(t.w, "[%s]\n", kind)
		return err
	}
}

// actions binds the default tool catalog to the store, the attached screen,
// the session and, when configured, the backend.
func (a *App) actions() tools.Actions {
	acts := tools.Actions{
		Navigate: func(_ context.Context, name string) error {
			return a.screen.publish(hub.KindNavigate, navigation{Screen: name})
		},
		ShowTodos: func(ctx context.Context) error {
			todos, err := a.store.Todos(ctx)
			if err != nil {
				return err
			}
			return a.screen.publish(hub.KindTodos, todos)
		},
		SetVoice:    a.store.SetVoice,
		SetLanguage: a.store.SetLanguage,
		AddTodo: func(ctx context.Context, text string) error {
			_, err := a.store.AddTodo(ctx, text)
			return err
		},
		StartNewSession: a.restart,
	}
	if a.remote != nil {
		acts.CreateInvitation = a.remote.CreateInvitation
	}
	return acts
}

// catalog returns the default tools, leaving out invitations when no
// backend can create them.
func catalog(acts tools.Actions) []tools.Tool {
	all := tools.DefaultActions(acts)
	if acts.CreateInvitation == nil {
		all = slices.DeleteFunc(all, func(t tools.Tool) bool { return t.Name == tools.NameCreateInvitation })
	}
	return all
}

// restart ends the running conversation and starts a new one with the
// same character on topic.
func (a *App) restart(ctx context.Context, topic string) error {
	st := a.session.State()
	character := st.Character
	if !st.Session.Active() || character == "" {
		return errNothingRunning
	}
	if _, err := a.session.Stop(ctx); err != nil {
		a.logger.Warn("stop before restart finished with errors", "error", err)
	}
	a.logger.Info("restarting conversation", "character", character, "topic", topic)
	return a.session.Start(context.WithoutCancel(ctx), character, topic)
}
