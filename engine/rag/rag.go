// Package rag answers questions against an indexed collection. It embeds the
// question, retrieves and ranks matching chunks, assembles a bounded context
// and forwards a chat request to the completion backend.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/satyawork/nlp-ui/engine/domain"
)

// Options configures the ask pipeline.
type Options struct {
	SearchLimit     int
	ContextHits     int
	ContextMaxWords int
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		SearchLimit:     DefaultSearchLimit,
		ContextHits:     5,
		ContextMaxWords: 1000,
	}
}

// Service is the ask pipeline.
type Service struct {
	retriever *Retriever
	requester *Requester
	opts      Options
	logger    *slog.Logger
}

// New creates a Service. Zero fields in opts take their defaults.
func New(retriever *Retriever, requester *Requester, opts Options, logger *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = def.SearchLimit
	}
	if opts.ContextHits <= 0 {
		opts.ContextHits = def.ContextHits
	}
	if opts.ContextMaxWords <= 0 {
		opts.ContextMaxWords = def.ContextMaxWords
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: retriever, requester: requester, opts: opts, logger: logger}
}

// Ask answers q and returns the backend's response body. It returns
// domain.ErrNoHits without contacting the backend when retrieval finds nothing.
func (s *Service) Ask(ctx context.Context, q domain.Question) (json.RawMessage, error) {
	q, err := domain.ResolveQuestion(q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	s.logger.Info("rag ask start", "collection", q.Collection, "question_len", len(q.Text))

	hits, err := s.retriever.Retrieve(ctx, q.Collection, q.Text, s.opts.SearchLimit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("rag: %s: %w", q.Collection, domain.ErrNoHits)
	}

	top := hits
	if len(top) > s.opts.ContextHits {
		top = top[:s.opts.ContextHits]
	}
	passages := Assemble(top, s.opts.ContextMaxWords)

	answer, err := s.requester.Complete(ctx, q.Text, passages)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rag ask done", "collection", q.Collection, "hits", len(hits), "duration", time.Since(start))
	return answer, nil
}
