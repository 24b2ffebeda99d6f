// Package ollama provides Ollama-backed embedding and chat clients.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/satyawork/nlp-ui/pkg/fn"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// EmbedConfig configures the embedding endpoint.
type EmbedConfig struct {
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// Embedder is satisfied by langchaingo embedders.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder builds a langchaingo embedder talking to Ollama.
func NewEmbedder(cfg EmbedConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: init embedder %s: %w", cfg.Model, err)
	}

	var opts []embeddings.Option
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(llm, opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama: create embedder: %w", err)
	}
	return embedder, nil
}

// RetryingEmbedder retries transient embedding failures with backoff.
type RetryingEmbedder struct {
	inner Embedder
	opts  fn.RetryOpts
}

// WithRetry wraps e so each call is retried according to opts.
func WithRetry(e Embedder, opts fn.RetryOpts) *RetryingEmbedder {
	return &RetryingEmbedder{inner: e, opts: opts}
}

// EmbedDocuments implements Embedder.
func (r *RetryingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(r.inner.EmbedDocuments(ctx, texts))
	}).Unwrap()
}

// EmbedQuery implements Embedder.
func (r *RetryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(r.inner.EmbedQuery(ctx, text))
	}).Unwrap()
}
