package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/backend"
	"github.com/teslashibe/go-parley/pkg/conversation"
)

// persistAll writes a record to every destination and joins the failures.
func persistAll(fns ...conversation.PersistFunc) conversation.PersistFunc {
	return func(ctx context.Context, rec conversation.Record) error {
		var errs []error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// endAll ends the server session everywhere it is known.
func endAll(fns ...conversation.EndServerSessionFunc) conversation.EndServerSessionFunc {
	return func(ctx context.Context, key string) error {
		var errs []error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// uploadWithFallback tries primary and keeps the recording locally when it
// is missing or fails.
func uploadWithFallback(primary, fallback conversation.UploadFunc, logger *slog.Logger) conversation.UploadFunc {
	if primary == nil {
		return fallback
	}
	return func(ctx context.Context, sessionID string, blob audioio.Blob) (string, error) {
		ref, err := primary(ctx, sessionID, blob)
		if err == nil {
			return ref, nil
		}
		if errors.Is(err, backend.ErrNotAuthorized) {
			logger.Debug("drive not connected, keeping recording locally", "session_id", sessionID)
		} else {
			logger.Warn("recording upload failed, keeping it locally", "session_id", sessionID, "error", err)
		}
		if fallback == nil {
			return "", err
		}
		return fallback(ctx, sessionID, blob)
	}
}

// contextWithFallback reads past context from primary, or from fallback
// when primary fails.
func contextWithFallback(primary, fallback conversation.PastContextFunc, logger *slog.Logger) conversation.PastContextFunc {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return func(ctx context.Context, lookup conversation.Lookup) (string, error) {
		text, err := primary(ctx, lookup)
		if err == nil {
			return text, nil
		}
		logger.Debug("remote context lookup failed, using local store", "lookup", lookup, "error", err)
		return fallback(ctx, lookup)
	}
}
