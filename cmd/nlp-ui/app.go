package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/satyawork/nlp-ui/engine/chunk"
	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/engine/extract"
	"github.com/satyawork/nlp-ui/engine/ingest"
	"github.com/satyawork/nlp-ui/engine/rag"
	"github.com/satyawork/nlp-ui/engine/semantic"
	"github.com/satyawork/nlp-ui/pkg/config"
	"github.com/satyawork/nlp-ui/pkg/fn"
	"github.com/satyawork/nlp-ui/pkg/metrics"
	"github.com/satyawork/nlp-ui/pkg/natsutil"
	"github.com/satyawork/nlp-ui/pkg/ollama"
	"github.com/satyawork/nlp-ui/pkg/rerank"
	"github.com/satyawork/nlp-ui/pkg/resilience"
)

// embedRetry retries transient embedding transport failures.
var embedRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
	Retryable:   transient,
}

// transient reports whether an embedding failure may succeed on retry.
func transient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// backends are the external collaborators of the pipelines. Tests swap
// them for in-process fakes.
type backends struct {
	Store    semantic.Store
	Embedder ollama.Embedder
	Chat     rag.Backend
	Reranker rag.Reranker
	Notifier ingest.Notifier
	NATS     *nats.Conn
}

// connect opens every backend named by cfg.
func connect(cfg config.Config, logger *slog.Logger) (backends, error) {
	var (
		b   backends
		err error
	)

	switch cfg.VectorStore.Backend {
	case "chromem":
		b.Store, err = semantic.NewChromem(cfg.VectorStore.ChromemPath)
	default:
		b.Store, err = semantic.NewQdrant(cfg.VectorStore.QdrantAddr)
	}
	if err != nil {
		return backends{}, fmt.Errorf("vector store: %w", err)
	}

	embedder, err := ollama.NewEmbedder(ollama.EmbedConfig{
		BaseURL:   cfg.Embedder.URL,
		Model:     cfg.Embedder.Model,
		BatchSize: cfg.Embedder.BatchSize,
		Timeout:   cfg.Embedder.Timeout,
	})
	if err != nil {
		b.Store.Close()
		return backends{}, err
	}
	b.Embedder = ollama.WithRetry(embedder, embedRetry)
	b.Chat = ollama.NewChatClient(cfg.Completion.URL, cfg.Completion.Timeout)

	if cfg.Retrieval.RerankURL != "" {
		b.Reranker = rerank.New(cfg.Retrieval.RerankURL, 10*time.Second)
	}

	if cfg.NATS.URL != "" {
		nc, err := natsutil.Connect(cfg.NATS.URL, "nlp-ui", logger)
		if err != nil {
			b.Store.Close()
			return backends{}, err
		}
		b.NATS = nc
		b.Notifier = ingest.NewNATSNotifier(nc, cfg.NATS.Subject)
	}
	return b, nil
}

// Close releases the store and drains the NATS connection.
func (b backends) Close() {
	if b.NATS != nil {
		b.NATS.Drain()
	}
	if b.Store != nil {
		b.Store.Close()
	}
}

// app holds the wired pipelines shared by the HTTP server and the CLI.
type app struct {
	cfg         config.Config
	logger      *slog.Logger
	collections *semantic.Manager
	upload      fn.Stage[domain.Upload, domain.UploadResult]
	rag         *rag.Service
	metrics     *metrics.Registry
	limiter     *resilience.Limiter
}

func newApp(cfg config.Config, b backends, logger *slog.Logger) (*app, error) {
	naming, err := semantic.ParseNamingPolicy(cfg.VectorStore.Naming)
	if err != nil {
		return nil, err
	}
	mode, err := rag.ParseRerankMode(cfg.Retrieval.RerankMode)
	if err != nil {
		return nil, err
	}
	chunker, err := chunk.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	manager := semantic.NewManager(b.Store, cfg.VectorStore.Dimension, semantic.DefaultMetric, logger)

	var embedLimiter *resilience.Limiter
	if cfg.Embedder.Rate > 0 {
		embedLimiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Embedder.Rate, Burst: 1})
	}
	indexer := ingest.NewIndexer(b.Embedder, manager, ingest.IndexerOpts{
		BatchSize: cfg.Embedder.BatchSize,
		Limiter:   embedLimiter,
	}, logger)

	retriever := rag.NewRetriever(b.Embedder, manager, b.Reranker, rag.RetrieverOpts{
		Limit: cfg.Retrieval.SearchLimit,
		Mode:  mode,
	}, logger)

	reqOpts := rag.DefaultRequesterOpts()
	reqOpts.Model = cfg.Completion.Model
	reqOpts.SystemPrompt = cfg.Completion.SystemPrompt
	reqOpts.ModelMaxTokens = cfg.Completion.ModelMaxTokens
	reqOpts.Timeout = cfg.Completion.Timeout
	requester := rag.NewRequester(b.Chat, reqOpts, logger)

	a := &app{
		cfg:         cfg,
		logger:      logger,
		collections: manager,
		upload: ingest.NewPipeline(ingest.Deps{
			Extractor: extract.Default(),
			Indexer:   indexer,
			Chunker:   chunker,
			Naming:    naming,
			UploadDir: cfg.Server.UploadDir,
			Notifier:  b.Notifier,
			Logger:    logger,
		}),
		rag: rag.New(retriever, requester, rag.Options{
			SearchLimit:     cfg.Retrieval.SearchLimit,
			ContextHits:     cfg.Retrieval.ContextHits,
			ContextMaxWords: cfg.Retrieval.ContextMaxWords,
		}, logger),
		metrics: metrics.New(),
	}
	if cfg.Server.RateLimit > 0 {
		a.limiter = resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  cfg.Server.RateLimit,
			Burst: cfg.Server.RateBurst,
		})
	}
	return a, nil
}

// Upload runs the upload pipeline and records its outcome.
func (a *app) Upload(ctx context.Context, u domain.Upload) (domain.UploadResult, error) {
	start := time.Now()
	res, err := a.upload(ctx, u).Unwrap()
	a.metrics.Histogram("nlpui_upload_duration_seconds", "Upload pipeline latency", nil).Since(start)
	a.metrics.Counter(metrics.WithLabels("nlpui_uploads_total", "outcome", outcome(err)),
		"Uploads by outcome").Inc()
	if err != nil {
		return res, err
	}
	a.metrics.Histogram("nlpui_chunks_per_document", "Chunks stored per uploaded document",
		metrics.SizeBuckets).Observe(float64(res.Chunks))
	return res, nil
}

// Ask runs the ask pipeline and records its outcome.
func (a *app) Ask(ctx context.Context, q domain.Question) (json.RawMessage, error) {
	start := time.Now()
	raw, err := a.rag.Ask(ctx, q)
	a.metrics.Histogram("nlpui_ask_duration_seconds", "Ask pipeline latency", nil).Since(start)
	a.metrics.Counter(metrics.WithLabels("nlpui_asks_total", "outcome", outcome(err)),
		"Asks by outcome").Inc()
	return raw, err
}

// Collections lists collection names, never nil.
func (a *app) Collections(ctx context.Context) ([]string, error) {
	names, err := a.collections.List(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return classify(err).kind
}

// errNoNATS is returned by commands that need an event bus.
var errNoNATS = errors.New("nats: no url configured (set NATS_URL)")
