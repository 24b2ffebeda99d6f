package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/engine/semantic"
	"github.com/satyawork/nlp-ui/pkg/fn"
	"github.com/satyawork/nlp-ui/pkg/resilience"
)

// EmbedBatchSize is the max chunks per embedding request.
const EmbedBatchSize = 100

// DocumentEmbedder embeds chunk texts, one vector per text.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Collections is the write side of the collection manager.
type Collections interface {
	Ensure(ctx context.Context, name string) error
	DefaultDimension() int
	Dimension(ctx context.Context, name string) (int, error)
	Upsert(ctx context.Context, name string, points []semantic.Point) error
}

// IndexerOpts configures an Indexer.
type IndexerOpts struct {
	BatchSize int
	// Limiter throttles embedding requests. Nil means unthrottled.
	Limiter *resilience.Limiter
}

// Indexer embeds chunks and stores them as points of one collection.
type Indexer struct {
	embed       fn.Stage[[]string, [][]float32]
	collections Collections
	batchSize   int
	logger      *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(embedder DocumentEmbedder, collections Collections, opts IndexerOpts, logger *slog.Logger) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = EmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	embed := fn.Stage[[]string, [][]float32](func(ctx context.Context, texts []string) fn.Result[[][]float32] {
		return fn.FromPair(embedder.EmbedDocuments(ctx, texts))
	})
	if opts.Limiter != nil {
		embed = resilience.LimiterStageWait(opts.Limiter, embed)
	}
	return &Indexer{
		embed:       fn.TracedStage("ingest.embed_batch", embed),
		collections: collections,
		batchSize:   opts.BatchSize,
		logger:      logger,
	}
}

// Index stores every chunk in collection and returns how many were written.
// Either all chunks are stored or an error is returned; the collection is
// only created once every chunk has a vector of the right size.
func (ix *Indexer) Index(ctx context.Context, collection string, chunks []string) (int, error) {
	if len(chunks) == 0 {
		return 0, fmt.Errorf("ingest: index %s: %w", collection, domain.ErrEmptyText)
	}

	vectors := make([][]float32, 0, len(chunks))
	for _, batch := range fn.Chunk(chunks, ix.batchSize) {
		got, err := ix.embed(ctx, batch).Unwrap()
		if err != nil {
			return 0, fmt.Errorf("ingest: embed batch: %w", err)
		}
		if len(got) != len(batch) {
			return 0, fmt.Errorf("ingest: embedder returned %d vectors for %d chunks", len(got), len(batch))
		}
		vectors = append(vectors, got...)
	}

	dim, err := ix.collections.Dimension(ctx, collection)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		dim = ix.collections.DefaultDimension()
	} else if err != nil {
		return 0, fmt.Errorf("ingest: lookup %s: %w", collection, err)
	}

	points := make([]semantic.Point, len(chunks))
	for i, text := range chunks {
		if dim > 0 && len(vectors[i]) != dim {
			return 0, fmt.Errorf("ingest: chunk %d has %d dimensions, %s has %d: %w",
				i, len(vectors[i]), collection, dim, domain.ErrDimensionMismatch)
		}
		points[i] = semantic.Point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: semantic.Payload{Text: text},
		}
	}

	if err := ix.collections.Ensure(ctx, collection); err != nil {
		return 0, err
	}
	if err := ix.collections.Upsert(ctx, collection, points); err != nil {
		return 0, err
	}
	ix.logger.Info("ingest: indexed", "collection", collection, "chunks", len(points))
	return len(points), nil
}
