package summary

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-parley/pkg/conversation"
)

// Chain implements Summarizer by trying summarizers in order.
// The first one to return a non-empty summary wins.
type Chain struct {
	summarizers []Summarizer
	logger      *slog.Logger
}

// NewChain creates a chain. At least one summarizer is required.
func NewChain(summarizers ...Summarizer) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), summarizers...)
}

// NewChainWithLogger creates a chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, summarizers ...Summarizer) (*Chain, error) {
	if len(summarizers) == 0 {
		return nil, ErrNoSummarizers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		summarizers: summarizers,
		logger:      logger.With("component", "summary.chain"),
	}, nil
}

// Summarize tries each summarizer until one succeeds.
func (c *Chain) Summarize(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error) {
	var errs []error

	for i, s := range c.summarizers {
		text, err := s.Summarize(ctx, transcript)
		if err == nil && text == "" {
			err = ErrEmptySummary
		}
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback summarizer succeeded", "summarizer", s.Name(), "index", i)
			}
			return text, nil
		}

		errs = append(errs, &ProviderError{Provider: s.Name(), Err: err})
		c.logger.Warn("summarizer failed, trying next", "summarizer", s.Name(), "error", err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", &ChainError{Errors: errs}
}

// Name implements Summarizer.
func (c *Chain) Name() string { return "chain" }

var _ Summarizer = (*Chain)(nil)
