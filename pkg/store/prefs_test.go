package store

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t)

	prefs, err := s.Preferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if prefs != (conversation.Preferences{}) {
		t.Errorf("fresh store preferences = %+v", prefs)
	}

	if err := s.SetVoice(ctx, "sage"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLanguage(ctx, " French "); err != nil {
		t.Fatal(err)
	}
	if err := s.SetVoice(ctx, "coral"); err != nil {
		t.Fatal(err)
	}

	prefs, err = s.Preferences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := conversation.Preferences{Voice: "coral", Language: "French"}
	if prefs != want {
		t.Errorf("preferences = %+v, want %+v", prefs, want)
	}
}

func TestTodos(t *testing.T) {
	ctx := context.Background()
	s, clk := openTest(t)

	if _, err := s.AddTodo(ctx, "  "); err == nil {
		t.Error("blank todo accepted")
	}
	for _, text := range []string{"buy milk", "call Sam"} {
		if _, err := s.AddTodo(ctx, text); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Second)
	}

	todos, err := s.Todos(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 2 {
		t.Fatalf("todos = %+v", todos)
	}
	if todos[0].Text != "buy milk" || todos[1].Text != "call Sam" {
		t.Errorf("todos out of order: %+v", todos)
	}
	if todos[0].ID == "" || todos[0].ID == todos[1].ID {
		t.Errorf("todo ids = %q, %q", todos[0].ID, todos[1].ID)
	}
}
