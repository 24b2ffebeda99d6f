// Package semantic owns vector collections: naming, creation, upsert and
// similarity search over Qdrant or an embedded chromem database.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/satyawork/nlp-ui/engine/domain"
)

// ErrCollectionExists is returned by CreateCollection when the name is taken.
var ErrCollectionExists = errors.New("collection already exists")

// Store is a vector database holding one collection per document.
// Implementations return domain.ErrCollectionNotFound for unknown collections.
type Store interface {
	ListCollections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, name string) (CollectionSpec, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)
	Close() error
}

// Manager guarantees a collection exists before writes and reports the
// dimensionality searches must match.
type Manager struct {
	store     Store
	dimension int
	metric    Metric
	logger    *slog.Logger
}

// NewManager creates a Manager. Non-positive dimension and empty metric fall
// back to DefaultDimension and DefaultMetric.
func NewManager(store Store, dimension int, metric Metric, logger *slog.Logger) *Manager {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if metric == "" {
		metric = DefaultMetric
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, dimension: dimension, metric: metric, logger: logger}
}

// DefaultDimension is the size used when Ensure creates a collection.
func (m *Manager) DefaultDimension() int { return m.dimension }

// Ensure creates name with the manager's dimension and metric if absent.
func (m *Manager) Ensure(ctx context.Context, name string) error {
	return m.EnsureCollection(ctx, name, m.dimension, m.metric)
}

// EnsureCollection creates the collection if it doesn't exist. An existing
// collection is never altered, whatever its configuration.
func (m *Manager) EnsureCollection(ctx context.Context, name string, dimension int, metric Metric) error {
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("semantic: ensure %s: %w", name, err)
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}

	err = m.store.CreateCollection(ctx, CollectionSpec{Name: name, Dimension: dimension, Metric: metric})
	if errors.Is(err, ErrCollectionExists) {
		// Lost a race with a concurrent upload of the same document name.
		return nil
	}
	if err != nil {
		return fmt.Errorf("semantic: ensure %s: %w", name, err)
	}
	m.logger.Info("collection created", "collection", name, "dimension", dimension, "metric", string(metric))
	return nil
}

// Dimension returns the stored dimensionality of name. Zero means the store
// does not know it and callers should skip the check.
func (m *Manager) Dimension(ctx context.Context, name string) (int, error) {
	spec, err := m.store.CollectionInfo(ctx, name)
	if err != nil {
		return 0, err
	}
	return spec.Dimension, nil
}

// List returns the names of all collections.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic: list collections: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Exists reports whether name is a known collection.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.store.CollectionInfo(ctx, name)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Search returns up to limit hits from name, nearest first.
func (m *Manager) Search(ctx context.Context, name string, vector []float32, limit int) ([]Hit, error) {
	hits, err := m.store.Search(ctx, name, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", name, err)
	}
	return hits, nil
}

// Upsert writes points to name in a single batch.
func (m *Manager) Upsert(ctx context.Context, name string, points []Point) error {
	if err := m.store.Upsert(ctx, name, points); err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), name, err)
	}
	return nil
}
