package semantic

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/satyawork/nlp-ui/engine/domain"
)

// ChromemStore is an embedded vector store backed by chromem-go. It needs
// no external service, which makes it the default for local runs and tests.
// chromem only supports cosine similarity.
type ChromemStore struct {
	db *chromem.DB

	mu    sync.RWMutex
	specs map[string]CollectionSpec
}

var _ Store = (*ChromemStore)(nil)

// NewChromem opens a chromem database. An empty path keeps everything in memory.
func NewChromem(path string) (*ChromemStore, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("semantic: open chromem %s: %w", path, err)
		}
	}
	return &ChromemStore{db: db, specs: make(map[string]CollectionSpec)}, nil
}

// precomputed is handed to chromem so it never tries to embed on its own.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, errors.New("semantic: chromem store requires precomputed embeddings")
}

func (c *ChromemStore) collection(name string) *chromem.Collection {
	return c.db.GetCollection(name, precomputed)
}

// ListCollections returns collection names in lexical order.
func (c *ChromemStore) ListCollections(_ context.Context) ([]string, error) {
	cols := c.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CollectionInfo returns the CollectionSpec recorded at creation. For
// collections loaded from disk the dimension is read back from the collection
// metadata; collections without one report Dimension 0.
func (c *ChromemStore) CollectionInfo(_ context.Context, name string) (CollectionSpec, error) {
	if c.collection(name) == nil {
		return CollectionSpec{}, fmt.Errorf("semantic: get collection %s: %w", name, domain.ErrCollectionNotFound)
	}
	c.mu.RLock()
	spec, ok := c.specs[name]
	c.mu.RUnlock()
	if ok {
		return spec, nil
	}

	spec, err := c.storedSpec(name)
	if err != nil {
		return CollectionSpec{}, err
	}
	c.mu.Lock()
	c.specs[name] = spec
	c.mu.Unlock()
	return spec, nil
}

// storedSpec decodes the metadata chromem persisted for name. chromem keeps
// collection metadata unexported, so it is taken from its gob export.
func (c *ChromemStore) storedSpec(name string) (CollectionSpec, error) {
	var buf bytes.Buffer
	if err := c.db.ExportToWriter(&buf, false, "", name); err != nil {
		return CollectionSpec{}, fmt.Errorf("semantic: read collection %s metadata: %w", name, err)
	}
	var exported struct {
		Collections map[string]*struct {
			Name     string
			Metadata map[string]string
		}
	}
	if err := gob.NewDecoder(&buf).Decode(&exported); err != nil {
		return CollectionSpec{}, fmt.Errorf("semantic: decode collection %s metadata: %w", name, err)
	}

	spec := CollectionSpec{Name: name, Metric: MetricCosine}
	if col := exported.Collections[name]; col != nil {
		if dim, err := strconv.Atoi(col.Metadata["dimension"]); err == nil && dim > 0 {
			spec.Dimension = dim
		}
	}
	return spec, nil
}

// CreateCollection creates an empty collection.
func (c *ChromemStore) CreateCollection(_ context.Context, spec CollectionSpec) error {
	if spec.Metric != "" && spec.Metric != MetricCosine {
		return fmt.Errorf("semantic: create collection %s: chromem supports cosine only, got %s", spec.Name, spec.Metric)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collection(spec.Name) != nil {
		return fmt.Errorf("semantic: create collection %s: %w", spec.Name, ErrCollectionExists)
	}
	meta := map[string]string{"dimension": strconv.Itoa(spec.Dimension)}
	if _, err := c.db.CreateCollection(spec.Name, meta, precomputed); err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", spec.Name, err)
	}
	spec.Metric = MetricCosine
	c.specs[spec.Name] = spec
	return nil
}

// DeleteCollection removes a collection and its documents.
func (c *ChromemStore) DeleteCollection(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	delete(c.specs, name)
	return nil
}

// Upsert adds all points in one call. Existing IDs are overwritten.
func (c *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col := c.collection(collection)
	if col == nil {
		return fmt.Errorf("semantic: upsert into %s: %w", collection, domain.ErrCollectionNotFound)
	}
	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   p.Payload.Text,
			Embedding: p.Vector,
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search returns up to limit nearest documents, best first. An empty
// collection yields no hits.
func (c *ChromemStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	col := c.collection(collection)
	if col == nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, domain.ErrCollectionNotFound)
	}
	n := min(limit, col.Count())
	if n <= 0 {
		return []Hit{}, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, err)
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: r.ID, Score: r.Similarity, Payload: Payload{Text: r.Content}}
	}
	return hits, nil
}

// Close is a no-op; persistent databases write through on every change.
func (c *ChromemStore) Close() error { return nil }
