// Package config loads service configuration from an optional YAML file,
// a .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port       string  `yaml:"port"`
	CORSOrigin string  `yaml:"cors_origin"`
	UploadDir  string  `yaml:"upload_dir"`
	MaxUpload  int64   `yaml:"max_upload_bytes"`
	RateLimit  float64 `yaml:"rate_limit"` // requests/sec on /upload and /ask; 0 disables
	RateBurst  int     `yaml:"rate_burst"`
}

// VectorStoreConfig selects the vector backend.
type VectorStoreConfig struct {
	Backend     string `yaml:"backend"` // qdrant | chromem
	QdrantAddr  string `yaml:"qdrant_addr"`
	ChromemPath string `yaml:"chromem_path"` // empty keeps chromem in memory
	Dimension   int    `yaml:"dimension"`
	Naming      string `yaml:"naming"`
}

// EmbedderConfig configures the Ollama embedding model.
type EmbedderConfig struct {
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Rate      float64       `yaml:"rate"` // embedding batches/sec; 0 disables
}

// ChunkerConfig configures word windows.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig configures search and context assembly.
type RetrievalConfig struct {
	SearchLimit     int    `yaml:"search_limit"`
	ContextHits     int    `yaml:"context_hits"`
	ContextMaxWords int    `yaml:"context_max_words"`
	RerankURL       string `yaml:"rerank_url"` // empty disables reranking
	RerankMode      string `yaml:"rerank_mode"`
}

// CompletionConfig configures the chat backend.
type CompletionConfig struct {
	URL            string        `yaml:"url"`
	Model          string        `yaml:"model"`
	SystemPrompt   string        `yaml:"system_prompt"`
	ModelMaxTokens int           `yaml:"model_max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
}

// NATSConfig configures document-indexed events. An empty URL disables them.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	LogLevel string `yaml:"log_level"`
	Metrics  bool   `yaml:"metrics"`
	OTel     bool   `yaml:"otel"`
}

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Completion  CompletionConfig  `yaml:"completion"`
	NATS        NATSConfig        `yaml:"nats"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:       "9000",
			CORSOrigin: "*",
			UploadDir:  "uploads",
			MaxUpload:  64 << 20,
			RateBurst:  10,
		},
		VectorStore: VectorStoreConfig{
			Backend:     "qdrant",
			QdrantAddr:  "localhost:6334",
			ChromemPath: "data/chromem",
			Dimension:   384,
			Naming:      "strip-extension",
		},
		Embedder: EmbedderConfig{
			URL:       "http://localhost:11434",
			Model:     "all-minilm",
			BatchSize: 100,
			Timeout:   60 * time.Second,
		},
		Chunker: ChunkerConfig{Size: 100, Overlap: 30},
		Retrieval: RetrievalConfig{
			SearchLimit:     15,
			ContextHits:     5,
			ContextMaxWords: 1000,
			RerankMode:      "observe",
		},
		Completion: CompletionConfig{
			URL:            "http://localhost:11434",
			Model:          "phi4:14b",
			ModelMaxTokens: 4096,
			Timeout:        120 * time.Second,
		},
		NATS:      NATSConfig{Subject: "nlpui.documents.indexed"},
		Telemetry: TelemetryConfig{LogLevel: "info", Metrics: true},
	}
}

// Load builds the configuration. envFiles are loaded first (missing files
// are ignored, existing variables win). path names an optional YAML file;
// an empty path or a missing file means defaults only. Environment
// variables override both.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.Server.Port = envOr("PORT", cfg.Server.Port)
	cfg.Server.CORSOrigin = envOr("CORS_ORIGIN", cfg.Server.CORSOrigin)
	cfg.Server.UploadDir = envOr("UPLOAD_DIR", cfg.Server.UploadDir)
	collect(envInt64("MAX_UPLOAD_BYTES", &cfg.Server.MaxUpload))
	collect(envFloat("RATE_LIMIT", &cfg.Server.RateLimit))
	collect(envInt("RATE_BURST", &cfg.Server.RateBurst))

	cfg.VectorStore.Backend = envOr("VECTOR_BACKEND", cfg.VectorStore.Backend)
	cfg.VectorStore.QdrantAddr = envOr("QDRANT_URL", cfg.VectorStore.QdrantAddr)
	cfg.VectorStore.ChromemPath = envOr("CHROMEM_PATH", cfg.VectorStore.ChromemPath)
	collect(envInt("EMBED_DIMENSION", &cfg.VectorStore.Dimension))
	cfg.VectorStore.Naming = envOr("COLLECTION_NAMING", cfg.VectorStore.Naming)

	cfg.Embedder.URL = envOr("EMBED_URL", cfg.Embedder.URL)
	cfg.Embedder.Model = envOr("EMBED_MODEL", cfg.Embedder.Model)
	collect(envInt("EMBED_BATCH_SIZE", &cfg.Embedder.BatchSize))
	collect(envDuration("EMBED_TIMEOUT", &cfg.Embedder.Timeout))
	collect(envFloat("EMBED_RATE", &cfg.Embedder.Rate))

	collect(envInt("CHUNK_SIZE", &cfg.Chunker.Size))
	collect(envInt("CHUNK_OVERLAP", &cfg.Chunker.Overlap))

	collect(envInt("SEARCH_LIMIT", &cfg.Retrieval.SearchLimit))
	collect(envInt("CONTEXT_HITS", &cfg.Retrieval.ContextHits))
	collect(envInt("CONTEXT_MAX_WORDS", &cfg.Retrieval.ContextMaxWords))
	cfg.Retrieval.RerankURL = envOr("RERANK_URL", cfg.Retrieval.RerankURL)
	cfg.Retrieval.RerankMode = envOr("RERANK_MODE", cfg.Retrieval.RerankMode)

	cfg.Completion.URL = envOr("CHAT_URL", cfg.Completion.URL)
	cfg.Completion.Model = envOr("CHAT_MODEL", cfg.Completion.Model)
	cfg.Completion.SystemPrompt = envOr("SYSTEM_PROMPT", cfg.Completion.SystemPrompt)
	collect(envInt("MODEL_MAX_TOKENS", &cfg.Completion.ModelMaxTokens))
	collect(envDuration("CHAT_TIMEOUT", &cfg.Completion.Timeout))

	cfg.NATS.URL = envOr("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = envOr("NATS_SUBJECT", cfg.NATS.Subject)

	cfg.Telemetry.LogLevel = envOr("LOG_LEVEL", cfg.Telemetry.LogLevel)
	collect(envBool("METRICS_ENABLED", &cfg.Telemetry.Metrics))
	collect(envBool("OTEL_ENABLED", &cfg.Telemetry.OTel))

	return errors.Join(errs...)
}

// Validate checks values that have no sensible fallback.
func (c Config) Validate() error {
	var errs []error
	switch c.VectorStore.Backend {
	case "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("config: vector_store.backend %q: want qdrant or chromem", c.VectorStore.Backend))
	}
	if c.VectorStore.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("config: vector_store.dimension must be positive, got %d", c.VectorStore.Dimension))
	}
	if c.Chunker.Size <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		errs = append(errs, fmt.Errorf("config: chunker size=%d overlap=%d: overlap must be in [0, size)", c.Chunker.Size, c.Chunker.Overlap))
	}
	switch c.Retrieval.RerankMode {
	case "", "off", "observe", "apply":
	default:
		errs = append(errs, fmt.Errorf("config: retrieval.rerank_mode %q: want off, observe or apply", c.Retrieval.RerankMode))
	}
	switch c.VectorStore.Naming {
	case "", "strip-extension", "first-period":
	default:
		errs = append(errs, fmt.Errorf("config: vector_store.naming %q: want strip-extension or first-period", c.VectorStore.Naming))
	}
	return errors.Join(errs...)
}

// Level parses the configured log level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.Telemetry.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
