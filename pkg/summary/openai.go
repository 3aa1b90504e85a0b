package summary

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/teslashibe/go-parley/internal/httpc"
	"github.com/teslashibe/go-parley/pkg/conversation"
)

// DefaultOpenAIModel is the chat model used for summaries.
const DefaultOpenAIModel = "gpt-4o-mini"

const summaryPrompt = `Summarize this voice conversation for the user's history in two or three sentences.
Mention the topics discussed and anything the user said they want to remember.
Write in the third person about "the user". Do not invent details.`

// OpenAI summarizes with an OpenAI chat model.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// OpenAIOption configures an OpenAI summarizer.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL    string
	model      string
	maxTokens  int64
	retries    int
	httpClient *http.Client
	logger     *slog.Logger
}

// WithModel sets the chat model.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithMaxTokens caps the summary length.
func WithMaxTokens(n int64) OpenAIOption {
	return func(c *openAIConfig) { c.maxTokens = n }
}

// WithMaxRetries sets how often the client retries transient failures.
func WithMaxRetries(n int) OpenAIOption {
	return func(c *openAIConfig) { c.retries = n }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(c *openAIConfig) { c.logger = logger }
}

// NewOpenAI creates an OpenAI summarizer.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("summary: openai api key required")
	}
	cfg := openAIConfig{
		model:      DefaultOpenAIModel,
		maxTokens:  300,
		retries:    2,
		httpClient: httpc.Client,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(cfg.retries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
		logger:    cfg.logger.With("component", "summary.openai"),
	}, nil
}

// Summarize implements Summarizer.
func (o *OpenAI) Summarize(ctx context.Context, transcript []conversation.TranscriptEntry) (string, error) {
	text := Format(transcript)
	if text == "" {
		return "", ErrEmptyTranscript
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summaryPrompt),
			openai.UserMessage(text),
		},
		MaxCompletionTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptySummary
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptySummary
	}
	o.logger.Debug("summary created", "model", o.model, "entries", len(transcript), "chars", len(out))
	return out, nil
}

// Name implements Summarizer.
func (o *OpenAI) Name() string { return "openai" }

var _ Summarizer = (*OpenAI)(nil)
