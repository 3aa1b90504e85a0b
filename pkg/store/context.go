package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

// SetContext stores the standing answer for a profile or family-rules
// lookup. An empty text removes it.
func (s *Store) SetContext(ctx context.Context, lookup conversation.Lookup, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lookup == conversation.LookupSummaries {
		return fmt.Errorf("store: %s is derived from sessions", lookup)
	}
	key := []byte(prefixContext + string(lookup))
	err := s.db.Update(func(txn *badger.Txn) error {
		if strings.TrimSpace(text) == "" {
			return txn.Delete(key)
		}
		return txn.Set(key, []byte(text))
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", lookup, err)
	}
	return nil
}

// PastContext answers a past-context lookup. Summaries come from the most
// recent summarized sessions; the other lookups are stored text.
func (s *Store) PastContext(ctx context.Context, lookup conversation.Lookup) (string, error) {
	if lookup == conversation.LookupSummaries {
		return s.recentSummaries(ctx)
	}

	var text string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixContext + string(lookup)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		text = string(val)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("read %s: %w", lookup, err)
	}
	return text, nil
}

func (s *Store) recentSummaries(ctx context.Context) (string, error) {
	recs, err := s.Sessions(ctx, 0)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, rec := range recs {
		if rec.Summary == "" {
			continue
		}
		line := fmt.Sprintf("- %s", rec.StartedAt.In(s.location).Format(time.DateOnly))
		if rec.Topic != "" {
			line += " (" + rec.Topic + ")"
		}
		lines = append(lines, line+": "+rec.Summary)
		if len(lines) == s.pastCount {
			break
		}
	}
	return strings.Join(lines, "\n"), nil
}
