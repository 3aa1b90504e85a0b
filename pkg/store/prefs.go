package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

const (
	keyPreferences = "preferences"
	prefixTodo     = "todo/"
)

// Todo is an item on the user's todo list.
type Todo struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Preferences returns the saved user preferences. Nothing saved is not an
// error.
func (s *Store) Preferences(ctx context.Context) (conversation.Preferences, error) {
	var prefs conversation.Preferences
	if err := ctx.Err(); err != nil {
		return prefs, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPreferences))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &prefs) })
	})
	if err != nil {
		return conversation.Preferences{}, fmt.Errorf("read preferences: %w", err)
	}
	return prefs, nil
}

// SetVoice saves the voice used from the next session on.
func (s *Store) SetVoice(ctx context.Context, voice string) error {
	return s.updatePreferences(ctx, func(p *conversation.Preferences) { p.Voice = voice })
}

// SetLanguage saves the conversation language used from the next session on.
func (s *Store) SetLanguage(ctx context.Context, language string) error {
	return s.updatePreferences(ctx, func(p *conversation.Preferences) { p.Language = strings.TrimSpace(language) })
}

func (s *Store) updatePreferences(ctx context.Context, change func(*conversation.Preferences)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var prefs conversation.Preferences
		item, err := txn.Get([]byte(keyPreferences))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prefs) }); err != nil {
				return err
			}
		}
		change(&prefs)
		data, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyPreferences), data)
	})
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// AddTodo appends an item to the todo list.
func (s *Store) AddTodo(ctx context.Context, text string) (Todo, error) {
	if err := ctx.Err(); err != nil {
		return Todo{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Todo{}, errors.New("store: todo text is empty")
	}
	todo := Todo{ID: uuid.NewString(), Text: text, CreatedAt: s.clk.Now().UTC()}
	data, err := json.Marshal(todo)
	if err != nil {
		return Todo{}, fmt.Errorf("encode todo: %w", err)
	}
	key := fmt.Sprintf("%s%020d/%s", prefixTodo, todo.CreatedAt.UnixNano(), todo.ID)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return Todo{}, fmt.Errorf("save todo: %w", err)
	}
	s.logger.Debug("todo added", "id", todo.ID)
	return todo, nil
}

// Todos returns the todo list, oldest first.
func (s *Store) Todos(ctx context.Context) ([]Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Todo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTodo)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var todo Todo
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &todo) }); err != nil {
				return err
			}
			out = append(out, todo)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return out, nil
}
