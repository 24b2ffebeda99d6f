package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/engine/semantic"
)

// RerankMode selects what the retriever does with cross-encoder scores.
type RerankMode string

const (
	// RerankOff never calls the reranker.
	RerankOff RerankMode = "off"
	// RerankObserve attaches rerank scores to hits but keeps search order.
	RerankObserve RerankMode = "observe"
	// RerankApply orders hits by rerank score.
	RerankApply RerankMode = "apply"
)

// ParseRerankMode maps a config string to a RerankMode. Empty means observe.
func ParseRerankMode(s string) (RerankMode, error) {
	switch RerankMode(s) {
	case "", RerankObserve:
		return RerankObserve, nil
	case RerankOff, RerankApply:
		return RerankMode(s), nil
	default:
		return "", fmt.Errorf("rag: unknown rerank mode %q", s)
	}
}

// DefaultSearchLimit is how many hits a question retrieves.
const DefaultSearchLimit = 15

// QueryEmbedder embeds a question with the same model used at indexing time.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the read side of the collection manager.
type VectorIndex interface {
	Dimension(ctx context.Context, name string) (int, error)
	Search(ctx context.Context, name string, vector []float32, limit int) ([]semantic.Hit, error)
}

// Reranker scores each text against the query, in input order.
type Reranker interface {
	Score(ctx context.Context, query string, texts []string) ([]float32, error)
}

// RetrieverOpts configures a Retriever.
type RetrieverOpts struct {
	Limit         int
	Mode          RerankMode
	SearchTimeout time.Duration
}

// Retriever turns a question into ranked hits from one collection.
type Retriever struct {
	embedder QueryEmbedder
	index    VectorIndex
	reranker Reranker
	opts     RetrieverOpts
	logger   *slog.Logger
}

// NewRetriever creates a Retriever. reranker may be nil, which behaves like RerankOff.
func NewRetriever(embedder QueryEmbedder, index VectorIndex, reranker Reranker, opts RetrieverOpts, logger *slog.Logger) *Retriever {
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Mode == "" {
		opts.Mode = RerankObserve
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, reranker: reranker, opts: opts, logger: logger}
}

// Retrieve returns up to limit hits ordered by search score, or by rerank
// score in RerankApply mode. A collection without points yields no hits and
// no error. limit <= 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, collection, question string, limit int) ([]semantic.Hit, error) {
	if limit <= 0 {
		limit = r.opts.Limit
	}

	dim, err := r.index.Dimension(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("rag: lookup %s: %w", collection, err)
	}

	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("rag: query has %d dimensions, %s has %d: %w",
			len(vec), collection, dim, domain.ErrDimensionMismatch)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()
	hits, err := r.index.Search(searchCtx, collection, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("rag: semantic search: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if len(hits) > 0 && r.reranker != nil && r.opts.Mode != RerankOff {
		r.rerank(ctx, question, hits)
	}
	r.logger.Info("rag retrieve done", "collection", collection, "hits", len(hits), "rerank", string(r.opts.Mode))
	return hits, nil
}

// rerank fills RerankScore in place. Failures keep the search order.
func (r *Retriever) rerank(ctx context.Context, question string, hits []semantic.Hit) {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Payload.Text
	}
	scores, err := r.reranker.Score(ctx, question, texts)
	if err != nil {
		r.logger.Warn("rag: rerank failed, keeping search order", "err", err)
		return
	}
	for i := range hits {
		hits[i].RerankScore = scores[i]
	}
	if r.opts.Mode == RerankApply {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].RerankScore > hits[j].RerankScore })
	}
}
