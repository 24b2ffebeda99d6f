package semantic

// Metric is the similarity function a collection is configured with.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclid    Metric = "euclid"
	MetricManhattan Metric = "manhattan"
)

const (
	// DefaultDimension matches all-MiniLM-L6-v2 style sentence embedders.
	DefaultDimension = 384
	// DefaultMetric is used for every collection created by the upload path.
	DefaultMetric = MetricCosine
)

// CollectionSpec describes a vector collection. Dimension 0 means the store
// could not report it.
type CollectionSpec struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    Metric `json:"metric"`
}

// Payload is stored alongside every vector.
type Payload struct {
	Text string `json:"text"`
}

// Point is a single vector to store.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is a single search result. RerankScore is set only when a reranker ran.
type Hit struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	RerankScore float32 `json:"rerank_score,omitempty"`
	Payload     Payload `json:"payload"`
}
