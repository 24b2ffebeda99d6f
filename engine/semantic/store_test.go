package semantic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/satyawork/nlp-ui/engine/domain"
)

// fakeStore records calls so Manager behaviour can be asserted without a database.
type fakeStore struct {
	names     []string
	specs     map[string]CollectionSpec
	listErr   error
	createErr error
	creates   int
}

func newFakeStore(names ...string) *fakeStore {
	f := &fakeStore{specs: make(map[string]CollectionSpec)}
	for _, n := range names {
		f.names = append(f.names, n)
		f.specs[n] = CollectionSpec{Name: n, Dimension: 8, Metric: MetricDot}
	}
	return f
}

func (f *fakeStore) ListCollections(context.Context) ([]string, error) { return f.names, f.listErr }
func (f *fakeStore) CollectionInfo(_ context.Context, name string) (CollectionSpec, error) {
	spec, ok := f.specs[name]
	if !ok {
		return CollectionSpec{}, fmt.Errorf("fake: %w", domain.ErrCollectionNotFound)
	}
	return spec, nil
}
func (f *fakeStore) CreateCollection(_ context.Context, spec CollectionSpec) error {
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	f.names = append(f.names, spec.Name)
	f.specs[spec.Name] = spec
	return nil
}
func (f *fakeStore) DeleteCollection(context.Context, string) error { return nil }
func (f *fakeStore) Upsert(context.Context, string, []Point) error  { return nil }
func (f *fakeStore) Search(context.Context, string, []float32, int) ([]Hit, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(newFakeStore(), 0, "", nil)
	if m.DefaultDimension() != DefaultDimension {
		t.Fatalf("expected %d, got %d", DefaultDimension, m.DefaultDimension())
	}
	if m.metric != MetricCosine {
		t.Fatalf("expected cosine, got %s", m.metric)
	}
}

func TestEnsure_Creates(t *testing.T) {
	fs := newFakeStore()
	m := NewManager(fs, 384, MetricCosine, nil)
	if err := m.Ensure(context.Background(), "notes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec := fs.specs["notes"]
	if spec.Dimension != 384 || spec.Metric != MetricCosine {
		t.Fatalf("unexpected spec: %+v", spec)
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	fs := newFakeStore()
	m := NewManager(fs, 384, MetricCosine, nil)
	for i := 0; i < 3; i++ {
		if err := m.Ensure(context.Background(), "notes"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if fs.creates != 1 {
		t.Fatalf("expected exactly one create, got %d", fs.creates)
	}
}

func TestEnsure_NeverAltersExisting(t *testing.T) {
	fs := newFakeStore("notes")
	m := NewManager(fs, 384, MetricCosine, nil)
	if err := m.EnsureCollection(context.Background(), "notes", 1024, MetricEuclid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.creates != 0 {
		t.Fatal("existing collection must not be recreated")
	}
	if got := fs.specs["notes"]; got.Dimension != 8 || got.Metric != MetricDot {
		t.Fatalf("existing spec changed: %+v", got)
	}
}

func TestEnsure_LostRace(t *testing.T) {
	fs := newFakeStore()
	fs.createErr = fmt.Errorf("qdrant: %w", ErrCollectionExists)
	m := NewManager(fs, 384, MetricCosine, nil)
	if err := m.Ensure(context.Background(), "notes"); err != nil {
		t.Fatalf("concurrent create should be tolerated, got %v", err)
	}
}

func TestEnsure_Errors(t *testing.T) {
	fs := newFakeStore()
	fs.listErr = errors.New("list fail")
	if err := NewManager(fs, 4, "", nil).Ensure(context.Background(), "notes"); err == nil {
		t.Fatal("expected list error")
	}

	fs = newFakeStore()
	fs.createErr = errors.New("create fail")
	if err := NewManager(fs, 4, "", nil).Ensure(context.Background(), "notes"); err == nil {
		t.Fatal("expected create error")
	}
}

func TestDimension(t *testing.T) {
	m := NewManager(newFakeStore("notes"), 384, "", nil)
	dim, err := m.Dimension(context.Background(), "notes")
	if err != nil || dim != 8 {
		t.Fatalf("expected 8, got %d (%v)", dim, err)
	}
	if _, err := m.Dimension(context.Background(), "missing"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	m := NewManager(newFakeStore(), 4, "", nil)
	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", names)
	}
}

func TestExists(t *testing.T) {
	m := NewManager(newFakeStore("notes"), 4, "", nil)
	if ok, err := m.Exists(context.Background(), "notes"); !ok || err != nil {
		t.Fatalf("expected notes to exist, got %v %v", ok, err)
	}
	if ok, err := m.Exists(context.Background(), "other"); ok || err != nil {
		t.Fatalf("expected other to be missing, got %v %v", ok, err)
	}
}
