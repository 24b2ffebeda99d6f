// Package metrics provides a small Prometheus-compatible registry of
// counters and histograms, rendered in the text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are latency buckets in seconds, stretched to cover
// multi-minute completions on CPU-bound models.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// SizeBuckets suit counts such as chunks per document.
var SizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Histogram tracks the distribution of observed values using fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []uint64 // non-cumulative, one per bound
	sum     float64
	count   uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, buckets: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i < len(h.bounds) {
		h.buckets[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

// snapshot returns bounds, cumulative bucket counts, sum and count.
func (h *Histogram) snapshot() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]uint64, len(h.buckets))
	var running uint64
	for i, n := range h.buckets {
		running += n
		cum[i] = running
	}
	return h.bounds, cum, h.sum, h.count
}

// family groups every labeled series sharing a base name.
type family struct {
	kind   string // counter | histogram
	help   string
	series map[string]any // labels (without braces) -> *Counter or *Histogram
}

// Registry holds named metrics. Names may carry labels, as produced by
// WithLabels; every label combination is its own series.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// series returns the metric stored under name, creating it with mk.
func (r *Registry) series(name, kind, help string, mk func() any) any {
	base, labels := splitName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: kind, series: make(map[string]any)}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.help == "" {
		f.help = help
	}
	m, ok := f.series[labels]
	if !ok {
		m = mk()
		f.series[labels] = m
	}
	return m
}

// Counter returns (or creates) the counter called name.
func (r *Registry) Counter(name, help string) *Counter {
	return r.series(name, "counter", help, func() any { return new(Counter) }).(*Counter)
}

// Histogram returns (or creates) the histogram called name. Nil buckets
// means DefaultBuckets; buckets are fixed by the first call.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.series(name, "histogram", help, func() any { return newHistogram(buckets) }).(*Histogram)
}

// WithLabels returns a metric name with labels appended, e.g.
// WithLabels("foo", "k", "v") => `foo{k="v"}`. An odd number of label
// arguments returns name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+labelEscaper.Replace(kvs[i+1])+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// splitName separates `foo{k="v"}` into "foo" and `k="v"`.
func splitName(name string) (base, labels string) {
	i := strings.IndexByte(name, '{')
	if i == -1 || !strings.HasSuffix(name, "}") {
		return name, ""
	}
	return name[:i], name[i+1 : len(name)-1]
}

func braced(labels ...string) string {
	var parts []string
	for _, l := range labels {
		if l != "" {
			parts = append(parts, l)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Render returns the Prometheus text exposition format output. Families
// appear in registration order, series sorted by labels.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.kind)

		labelSets := make([]string, 0, len(f.series))
		for l := range f.series {
			labelSets = append(labelSets, l)
		}
		sort.Strings(labelSets)

		for _, labels := range labelSets {
			switch m := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", base, braced(labels), m.Value())
			case *Histogram:
				bounds, cum, sum, count := m.snapshot()
				for i, le := range bounds {
					fmt.Fprintf(&b, "%s_bucket%s %d\n", base, braced(fmt.Sprintf(`le="%g"`, le), labels), cum[i])
				}
				fmt.Fprintf(&b, "%s_bucket%s %d\n", base, braced(`le="+Inf"`, labels), count)
				fmt.Fprintf(&b, "%s_sum%s %g\n", base, braced(labels), sum)
				fmt.Fprintf(&b, "%s_count%s %d\n", base, braced(labels), count)
			}
		}
	}
	return b.String()
}

// Handler returns an http.Handler that renders the registry.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}
