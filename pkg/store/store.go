// Package store persists finished sessions, recordings, daily usage and
// the user's standing context in an embedded Badger database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/teslashibe/go-parley/internal/clock"
	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/conversation"
)

// ErrNotFound is returned when a session or recording does not exist.
var ErrNotFound = errors.New("store: not found")

// RecordingScheme prefixes the URLs returned by SaveRecording.
const RecordingScheme = "store://recordings/"

const (
	prefixSession   = "session/"
	prefixSessionID = "session-id/"
	prefixUsage     = "usage/"
	prefixRecording = "recording/"
	prefixContext   = "context/"
)

// Store is a Badger-backed implementation of the session collaborators.
type Store struct {
	db         *badger.DB
	clk        clock.Clock
	dailyLimit time.Duration
	location   *time.Location
	pastCount  int
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDailyLimit sets how much conversation time is allowed per day.
func WithDailyLimit(d time.Duration) Option {
	return func(s *Store) { s.dailyLimit = d }
}

// WithClock sets the clock used to pick the usage day.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clk = clk }
}

// WithLocation sets the time zone that defines a day.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.location = loc }
}

// WithPastSummaries sets how many earlier summaries feed past context.
func WithPastSummaries(n int) Option {
	return func(s *Store) { s.pastCount = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		clk:        clock.Real{},
		dailyLimit: 30 * time.Minute,
		location:   time.Local,
		pastCount:  3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	bopts := badger.DefaultOptions(dir).WithLogger(badgerLogger{s.logger})
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	s.db = db
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Collaborators binds the store to a session.
func (s *Store) Collaborators() conversation.Collaborators {
	return conversation.Collaborators{
		Quota:       s.Remaining,
		Persist:     s.Persist,
		Upload:      s.SaveRecording,
		PastContext: s.PastContext,
		Preferences: s.Preferences,
	}
}

func (s *Store) day(t time.Time) string {
	return t.In(s.location).Format(time.DateOnly)
}

// Remaining returns the seconds of conversation left today.
func (s *Store) Remaining(ctx context.Context) (int, error) {
	used, err := s.Usage(ctx, s.clk.Now())
	if err != nil {
		return 0, err
	}
	left := s.dailyLimit - used
	if left < 0 {
		left = 0
	}
	return int(left / time.Second), nil
}

// Usage returns the conversation time recorded on the day containing t.
func (s *Store) Usage(ctx context.Context, t time.Time) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var secs int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		secs, err = readUsage(txn, prefixUsage+s.day(t))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return time.Duration(secs) * time.Second, nil
}

func readUsage(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var secs int64
	err = item.Value(func(val []byte) error {
		secs, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return secs, err
}

// Persist stores a finished session and charges its duration to the day
// it started. Persisting the same session again replaces the record
// without charging twice.
func (s *Store) Persist(ctx context.Context, rec conversation.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.SessionID == "" {
		return fmt.Errorf("store: record has no session id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	key := sessionKey(rec)

	err = s.db.Update(func(txn *badger.Txn) error {
		idKey := []byte(prefixSessionID + rec.SessionID)
		item, err := txn.Get(idKey)
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(old); err != nil {
				return err
			}
			return setAll(txn, key, data, idKey)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := setAll(txn, key, data, idKey); err != nil {
			return err
		}
		day := rec.StartedAt
		if day.IsZero() {
			day = rec.EndedAt
		}
		usageKey := prefixUsage + s.day(day)
		used, err := readUsage(txn, usageKey)
		if err != nil {
			return err
		}
		secs := int64(math.Ceil(rec.Duration().Seconds()))
		return txn.Set([]byte(usageKey), []byte(strconv.FormatInt(used+secs, 10)))
	})
	if err != nil {
		return fmt.Errorf("persist session %s: %w", rec.SessionID, err)
	}
	s.logger.Debug("session persisted", "session_id", rec.SessionID, "entries", len(rec.Transcript))
	return nil
}

func setAll(txn *badger.Txn, key, data, idKey []byte) error {
	if err := txn.Set(key, data); err != nil {
		return err
	}
	return txn.Set(idKey, key)
}

// sessionKey orders sessions by end time so a reverse scan lists the
// newest first.
func sessionKey(rec conversation.Record) []byte {
	at := rec.EndedAt
	if at.IsZero() {
		at = rec.StartedAt
	}
	return []byte(fmt.Sprintf("%s%020d/%s", prefixSession, at.UnixNano(), rec.SessionID))
}

// Session returns one stored session.
func (s *Store) Session(ctx context.Context, id string) (conversation.Record, error) {
	if err := ctx.Err(); err != nil {
		return conversation.Record{}, err
	}
	var rec conversation.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSessionID + id))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return conversation.Record{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return conversation.Record{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return rec, nil
}

// Sessions returns up to limit sessions, newest first. A limit of zero or
// less returns all of them.
func (s *Store) Sessions(ctx context.Context, limit int) ([]conversation.Record, error) {
	var out []conversation.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixSession)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixSession + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec conversation.Record
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

type storedRecording struct {
	MimeType string        `json:"mime_type"`
	Duration time.Duration `json:"duration"`
	Data     []byte        `json:"data"`
}

// SaveRecording stores a session recording and returns its URL.
func (s *Store) SaveRecording(ctx context.Context, sessionID string, blob audioio.Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(storedRecording{MimeType: blob.MimeType, Duration: blob.Duration, Data: blob.Data})
	if err != nil {
		return "", fmt.Errorf("encode recording: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRecording+sessionID), data)
	})
	if err != nil {
		return "", fmt.Errorf("save recording %s: %w", sessionID, err)
	}
	s.logger.Debug("recording saved", "session_id", sessionID, "bytes", len(blob.Data), "mime", blob.MimeType)
	return RecordingScheme + sessionID, nil
}

// Recording loads a recording by session id or by the URL SaveRecording
// returned.
func (s *Store) Recording(ctx context.Context, ref string) (audioio.Blob, error) {
	if err := ctx.Err(); err != nil {
		return audioio.Blob{}, err
	}
	id := strings.TrimPrefix(ref, RecordingScheme)
	var stored storedRecording
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRecording + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &stored) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return audioio.Blob{}, fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return audioio.Blob{}, fmt.Errorf("read recording %s: %w", id, err)
	}
	return audioio.Blob{Data: stored.Data, MimeType: stored.MimeType, Duration: stored.Duration}, nil
}
