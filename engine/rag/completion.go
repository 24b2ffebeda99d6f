package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/pkg/fn"
	"github.com/satyawork/nlp-ui/pkg/ollama"
	"github.com/satyawork/nlp-ui/pkg/resilience"
)

// Completion budget bounds. The floor wins when the prompt leaves less room.
const (
	MinCompletionTokens = 128
	MaxCompletionTokens = 512

	DefaultModelMaxTokens = 4096
	DefaultModel          = "phi4:14b"
	DefaultSystemPrompt   = "You are a helpful AI assistant. Use the context below to answer factually."
)

// CompletionRequest is the prompt and token budget for one answer.
type CompletionRequest struct {
	Prompt              string
	MaxCompletionTokens int
}

// ComposePrompt lays out the retrieved context ahead of the question.
func ComposePrompt(question, passages string) string {
	return "Context:\n" + passages + "\n\nQuestion: " + question
}

// EstimateTokens approximates prompt size as its whitespace word count.
func EstimateTokens(prompt string) int {
	return len(strings.Fields(prompt))
}

// BuildRequest composes the prompt and sizes the completion budget from what
// the model window leaves after it.
func BuildRequest(question, passages string, modelMaxTokens int) CompletionRequest {
	prompt := ComposePrompt(question, passages)
	budget := modelMaxTokens - EstimateTokens(prompt)
	if budget > MaxCompletionTokens {
		budget = MaxCompletionTokens
	}
	if budget < MinCompletionTokens {
		budget = MinCompletionTokens
	}
	return CompletionRequest{Prompt: prompt, MaxCompletionTokens: budget}
}

// Backend sends a chat request and returns the raw response JSON.
type Backend interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (json.RawMessage, error)
}

// RequesterOpts configures a Requester.
type RequesterOpts struct {
	Model          string
	SystemPrompt   string
	ModelMaxTokens int
	Timeout        time.Duration
	Breaker        resilience.BreakerOpts
}

// DefaultRequesterOpts returns the production completion settings.
func DefaultRequesterOpts() RequesterOpts {
	return RequesterOpts{
		Model:          DefaultModel,
		SystemPrompt:   DefaultSystemPrompt,
		ModelMaxTokens: DefaultModelMaxTokens,
		Timeout:        120 * time.Second,
		Breaker: resilience.BreakerOpts{
			FailThreshold: 5,
			Timeout:       30 * time.Second,
			HalfOpenMax:   1,
		},
	}
}

// Requester sends completion requests through a circuit breaker. Only
// transport failures and 5xx answers count toward tripping it.
type Requester struct {
	backend Backend
	breaker *resilience.Breaker
	opts    RequesterOpts
	logger  *slog.Logger
}

// NewRequester creates a Requester. Zero fields in opts take their defaults.
func NewRequester(backend Backend, opts RequesterOpts, logger *slog.Logger) *Requester {
	def := DefaultRequesterOpts()
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = def.SystemPrompt
	}
	if opts.ModelMaxTokens <= 0 {
		opts.ModelMaxTokens = def.ModelMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	opts.Breaker.IsFailure = domain.Retryable
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		backend: backend,
		breaker: resilience.NewBreaker(opts.Breaker),
		opts:    opts,
		logger:  logger,
	}
}

// ChatRequest converts a CompletionRequest into the backend's chat shape.
func (r *Requester) ChatRequest(req CompletionRequest) ollama.ChatRequest {
	return ollama.ChatRequest{
		Model: r.opts.Model,
		Messages: []ollama.Message{
			{Role: "system", Content: r.opts.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Stream:  false,
		Options: &ollama.ChatOptions{NumPredict: req.MaxCompletionTokens},
	}
}

// Complete asks the backend to answer question from passages. A 2xx answer is
// returned unchanged. Non-2xx answers become *domain.BackendError; transport
// failures and an open circuit wrap domain.ErrBackendUnavailable.
func (r *Requester) Complete(ctx context.Context, question, passages string) (json.RawMessage, error) {
	req := BuildRequest(question, passages, r.opts.ModelMaxTokens)
	chat := r.ChatRequest(req)

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := resilience.CallResult(r.breaker, ctx, func(ctx context.Context) fn.Result[json.RawMessage] {
		return r.send(ctx, chat)
	}).Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("rag: complete: %w: %w", domain.ErrBackendUnavailable, err)
	}
	if err != nil {
		r.logger.Warn("rag: completion failed", "err", err, "breaker", r.breaker.State().String())
		return nil, err
	}
	r.logger.Info("rag completion done",
		"model", r.opts.Model,
		"max_tokens", req.MaxCompletionTokens,
		"duration", time.Since(start),
	)
	return raw, nil
}

func (r *Requester) send(ctx context.Context, chat ollama.ChatRequest) fn.Result[json.RawMessage] {
	raw, err := r.backend.Chat(ctx, chat)
	if err == nil {
		return fn.Ok(raw)
	}
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return fn.Err[json.RawMessage](domain.NewBackendError(se.Status, se.Body))
	}
	return fn.Err[json.RawMessage](fmt.Errorf("rag: complete: %w: %w", domain.ErrBackendUnavailable, err))
}
