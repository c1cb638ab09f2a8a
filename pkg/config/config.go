// Package config loads lorekeep settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects the vector store.
type StoreConfig struct {
	// Backend is qdrant, pgvector or memory.
	Backend    string `yaml:"backend"`
	Address    string `yaml:"address"`
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
	Metric     string `yaml:"metric"`
}

// ModelConfig configures an embedding or chat provider.
type ModelConfig struct {
	// Provider is ollama, openai or gemini.
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	APIKey      string  `yaml:"-"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	Temperature float64 `yaml:"temperature"`
	// RatePerSec limits calls to the provider; zero is unlimited.
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// Timeout returns TimeoutSecs as a duration.
func (m ModelConfig) Timeout() time.Duration { return time.Duration(m.TimeoutSecs) * time.Second }

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type IngestConfig struct {
	Workers         int    `yaml:"workers"`
	BatchSize       int    `yaml:"batch_size"`
	WriteMode       string `yaml:"write_mode"`
	ContinueOnError bool   `yaml:"continue_on_error"`
}

type RetrieveConfig struct {
	K int `yaml:"k"`
}

type NATSConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
	// Progress publishes ingest progress events when set.
	Progress bool `yaml:"progress"`
}

// Neo4jConfig enables the ingestion catalog when URL is set.
type Neo4jConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type HTTPConfig struct {
	Addr           string `yaml:"addr"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Embedder ModelConfig    `yaml:"embedder"`
	Chat     ModelConfig    `yaml:"chat"`
	Chunk    ChunkConfig    `yaml:"chunk"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Retrieve RetrieveConfig `yaml:"retrieve"`
	NATS     NATSConfig     `yaml:"nats"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the built-in configuration: a local Qdrant and Ollama.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    "qdrant",
			Address:    "localhost:6334",
			Collection: "ebook_collection",
			Dimension:  1024,
			Metric:     "cosine",
		},
		Embedder: ModelConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "bge-m3", TimeoutSecs: 120},
		Chat:     ModelConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "qwen2.5", TimeoutSecs: 120, Temperature: 0.7},
		Chunk:    ChunkConfig{Size: 500, Overlap: 50},
		Ingest:   IngestConfig{Workers: 4, BatchSize: 16, WriteMode: "insert"},
		Retrieve: RetrieveConfig{K: 3},
		NATS:     NATSConfig{URL: "nats://localhost:4222", Queue: "lorekeep-ingest"},
		HTTP:     HTTPConfig{Addr: ":8080", MaxBodyBytes: 1 << 20, AllowedOrigins: "*"},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides and validates the result. A missing file is not an error;
// path "" skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
		}
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env from the working directory if present. Variables
// already set in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through
// getenv. It understands the OpenAI-style variables MODEL_NAME,
// EMBEDDINGS_MODEL_NAME, OPENAI_BASE_URL and OPENAI_API_KEY, plus
// LOREKEEP_* overrides.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Chat.Model, "MODEL_NAME")
	set(&c.Embedder.Model, "EMBEDDINGS_MODEL_NAME")
	for _, m := range []*ModelConfig{&c.Embedder, &c.Chat} {
		if m.Provider == "openai" {
			set(&m.BaseURL, "OPENAI_BASE_URL")
		}
	}

	set(&c.Store.Backend, "LOREKEEP_STORE_BACKEND")
	set(&c.Store.Address, "LOREKEEP_STORE_ADDRESS")
	set(&c.Store.DSN, "LOREKEEP_STORE_DSN")
	set(&c.Store.Collection, "LOREKEEP_COLLECTION")
	if v, err := strconv.Atoi(getenv("LOREKEEP_DIMENSION")); err == nil {
		c.Store.Dimension = v
	}
	set(&c.Embedder.Provider, "LOREKEEP_EMBEDDER")
	set(&c.Chat.Provider, "LOREKEEP_CHAT")
	set(&c.NATS.URL, "NATS_URL")
	set(&c.Neo4j.URL, "NEO4J_URL")
	set(&c.Neo4j.User, "NEO4J_USER")
	set(&c.Neo4j.Password, "NEO4J_PASS")
	set(&c.HTTP.Addr, "LOREKEEP_HTTP_ADDR")
	set(&c.Log.Level, "LOG_LEVEL")

	for _, m := range []*ModelConfig{&c.Embedder, &c.Chat} {
		if m.APIKeyEnv == "" {
			m.APIKeyEnv = defaultKeyEnv(m.Provider)
		}
		if m.APIKeyEnv != "" {
			set(&m.APIKey, m.APIKeyEnv)
		}
	}
}

func defaultKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return ""
}

// Validate checks values the pipelines cannot recover from.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(oneOf(c.Store.Backend, "qdrant", "pgvector", "memory"), "store.backend %q unknown", c.Store.Backend)
	check(c.Store.Collection != "", "store.collection is required")
	check(c.Store.Dimension > 0, "store.dimension must be positive, got %d", c.Store.Dimension)
	check(oneOf(c.Store.Metric, "cosine", "dot", "euclidean"), "store.metric %q unknown", c.Store.Metric)
	check(c.Store.Backend != "pgvector" || c.Store.DSN != "", "store.dsn is required for pgvector")
	for name, m := range map[string]ModelConfig{"embedder": c.Embedder, "chat": c.Chat} {
		check(oneOf(m.Provider, "ollama", "openai", "gemini"), "%s.provider %q unknown", name, m.Provider)
		check(m.RatePerSec >= 0, "%s.rate_per_sec must not be negative", name)
	}
	check(c.Chat.Temperature >= 0 && c.Chat.Temperature <= 2, "chat.temperature %v out of [0, 2]", c.Chat.Temperature)
	check(c.Chunk.Size > 0, "chunk.size must be positive, got %d", c.Chunk.Size)
	check(c.Chunk.Overlap >= 0 && c.Chunk.Overlap < c.Chunk.Size, "chunk.overlap %d must be in [0, size)", c.Chunk.Overlap)
	check(c.Retrieve.K >= 1, "retrieve.k must be at least 1, got %d", c.Retrieve.K)
	check(oneOf(c.Ingest.WriteMode, "", "insert", "upsert"), "ingest.write_mode %q unknown", c.Ingest.WriteMode)
	check(oneOf(strings.ToLower(c.Log.Format), "", "text", "json"), "log.format %q unknown", c.Log.Format)
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Logger builds the slog logger described by c.Log.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
