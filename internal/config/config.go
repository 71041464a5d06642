// Package config loads manual-rag settings from an optional YAML file, an
// optional .env file and the OLLAMA_BASE_URL environment variable.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvOllamaBaseURL overrides the Ollama endpoint for both embeddings and chat.
const EnvOllamaBaseURL = "OLLAMA_BASE_URL"

// DefaultConfigPath is read when no --config flag is given and the file exists.
const DefaultConfigPath = "config.yaml"

const (
	DefaultSourcePath     = "manual.pdf"
	DefaultIndexDir       = "faiss_index_vacuum"
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 100
	DefaultTopK           = 3
	DefaultOllamaBaseURL  = "http://127.0.0.1:11434"
	DefaultChatModel      = "qwen2:7b"
	DefaultEmbeddingModel = "bge-m3"
	DefaultHugotModel     = "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2"
	DefaultListenHost     = "127.0.0.1"
	DefaultListenPort     = 8000
	DefaultFallbackAnswer = "The manual does not contain information about that."
	DefaultInspectQuery   = "What safety precautions should I follow?"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderHugot  = "hugot"
)

// Retrieval backends.
const (
	BackendLocal    = "local"
	BackendPostgres = "postgres"
)

// SourceConfig points at the document the index is built from.
type SourceConfig struct {
	Path string `yaml:"path"`
}

// ChunkerConfig configures the sliding-window splitter.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// OllamaConfig holds the shared Ollama endpoint.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
}

// EmbedderConfig selects and configures the embedding model.
type EmbedderConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	BatchSize     int           `yaml:"batch_size"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	Timeout       time.Duration `yaml:"timeout"`
	ModelDir      string        `yaml:"model_dir"`
}

// LLMConfig configures the chat model that writes answers.
type LLMConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	PromptTemplate string  `yaml:"prompt_template"`
	FallbackAnswer string  `yaml:"fallback_answer"`
}

// IndexConfig controls where the index lives and how it is loaded.
type IndexConfig struct {
	Dir              string `yaml:"dir"`
	AllowUnverified  bool   `yaml:"allow_unverified"`
	RebuildIfMissing bool   `yaml:"rebuild_if_missing"`
}

// RetrievalConfig controls the query side of the chain.
type RetrievalConfig struct {
	TopK         int    `yaml:"top_k"`
	Backend      string `yaml:"backend"`
	InspectQuery string `yaml:"inspect_query"`
}

// PostgresConfig enables the pgvector mirror when DSN is set.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the root configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	LLM       LLMConfig       `yaml:"llm"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Source:  SourceConfig{Path: DefaultSourcePath},
		Chunker: ChunkerConfig{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap},
		Ollama:  OllamaConfig{BaseURL: DefaultOllamaBaseURL},
		Embedder: EmbedderConfig{
			Provider:      ProviderOllama,
			Model:         DefaultEmbeddingModel,
			BatchSize:     16,
			MaxConcurrent: 3,
			MaxRetries:    3,
			Timeout:       30 * time.Second,
			ModelDir:      "./models",
		},
		LLM: LLMConfig{
			Model:          DefaultChatModel,
			Temperature:    0,
			FallbackAnswer: DefaultFallbackAnswer,
		},
		Index: IndexConfig{Dir: DefaultIndexDir},
		Retrieval: RetrievalConfig{
			TopK:         DefaultTopK,
			Backend:      BackendLocal,
			InspectQuery: DefaultInspectQuery,
		},
		Server: ServerConfig{
			Host:            DefaultListenHost,
			Port:            DefaultListenPort,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads .env (if present), then the YAML file at path. An empty path
// falls back to DefaultConfigPath; a missing file yields the defaults. The
// OLLAMA_BASE_URL variable wins over both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvOllamaBaseURL); v != "" {
		cfg.Ollama.BaseURL = v
	}
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Source.Path == "" {
		cfg.Source.Path = d.Source.Path
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = d.Chunker.Size
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = d.Ollama.BaseURL
	}
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = d.Embedder.Provider
	}
	if cfg.Embedder.Model == "" {
		if cfg.Embedder.Provider == ProviderHugot {
			cfg.Embedder.Model = DefaultHugotModel
		} else {
			cfg.Embedder.Model = d.Embedder.Model
		}
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = d.Embedder.BatchSize
	}
	if cfg.Embedder.MaxConcurrent == 0 {
		cfg.Embedder.MaxConcurrent = d.Embedder.MaxConcurrent
	}
	if cfg.Embedder.Timeout == 0 {
		cfg.Embedder.Timeout = d.Embedder.Timeout
	}
	if cfg.Embedder.ModelDir == "" {
		cfg.Embedder.ModelDir = d.Embedder.ModelDir
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = d.LLM.Model
	}
	if cfg.LLM.FallbackAnswer == "" {
		cfg.LLM.FallbackAnswer = d.LLM.FallbackAnswer
	}
	if cfg.Index.Dir == "" {
		cfg.Index.Dir = d.Index.Dir
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = d.Retrieval.TopK
	}
	if cfg.Retrieval.Backend == "" {
		cfg.Retrieval.Backend = d.Retrieval.Backend
	}
	if cfg.Retrieval.InspectQuery == "" {
		cfg.Retrieval.InspectQuery = d.Retrieval.InspectQuery
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chunker.Size <= 0 {
		return fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker.overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	switch c.Embedder.Provider {
	case ProviderOllama, ProviderHugot:
	default:
		return fmt.Errorf("unknown embedder.provider %q", c.Embedder.Provider)
	}
	switch c.Retrieval.Backend {
	case BackendLocal:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("retrieval.backend postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown retrieval.backend %q", c.Retrieval.Backend)
	}
	u, err := url.Parse(c.Ollama.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid ollama base url %q", c.Ollama.BaseURL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// EmbedderName is the identity recorded in the index and checked on load.
func (c *Config) EmbedderName() string {
	return c.Embedder.Provider + ":" + c.Embedder.Model
}
