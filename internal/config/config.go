package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	Model             string `yaml:"model"`
	TimeoutSecs       int    `yaml:"timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries"`
}

// CacheConfig configures the embedding cache. Size 0 disables it.
type CacheConfig struct {
	Size      int    `yaml:"size"`
	RedisAddr string `yaml:"redis_addr"`
	TTLSecs   int    `yaml:"ttl_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Cache     CacheConfig           `yaml:"cache"`
}

// LocalFileConfig points at the JSON chunk file.
type LocalFileConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains connection details for the pgvector store.
type PostgresConfig struct {
	DSNEnv         string `yaml:"dsn_env"`
	Table          string `yaml:"table"`
	SearchFunction string `yaml:"search_function"`
	EnsureSchema   bool   `yaml:"ensure_schema"`
}

// SQLiteConfig points at the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// VectorStoreConfig selects and configures the chunk store implementation.
type VectorStoreConfig struct {
	Type      string           `yaml:"type"`
	LocalFile *LocalFileConfig `yaml:"localfile,omitempty"`
	Postgres  *PostgresConfig  `yaml:"postgres,omitempty"`
	SQLite    *SQLiteConfig    `yaml:"sqlite,omitempty"`
	Qdrant    *QdrantConfig    `yaml:"qdrant,omitempty"`
}

// RetrievalConfig tunes the retrieval tiers.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// Threshold is the vector-tier similarity floor; unset means 0.2.
	Threshold       *float64 `yaml:"threshold"`
	SmallCorpusSize int      `yaml:"small_corpus_size"`
}

// OpenAICompletionConfig configures an OpenAI-compatible chat endpoint (Groq by default).
type OpenAICompletionConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	MaxRetries int    `yaml:"max_retries"`
}

// OllamaConfig configures the local Ollama chat endpoint.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// CompletionConfig selects and configures the completion backend.
type CompletionConfig struct {
	Type        string                  `yaml:"type"`
	OpenAI      *OpenAICompletionConfig `yaml:"openai,omitempty"`
	Ollama      *OllamaConfig           `yaml:"ollama,omitempty"`
	Temperature float64                 `yaml:"temperature"`
	MaxTokens   int                     `yaml:"max_tokens"`
	// BreakerFailures is the consecutive failure count that opens the circuit.
	BreakerFailures int `yaml:"breaker_failures"`
}

// GroundingConfig sets what happens to answers that fail the grounding check.
type GroundingConfig struct {
	Mode string `yaml:"mode"`
}

// TimeoutsConfig bounds each outbound call, in seconds.
type TimeoutsConfig struct {
	EmbeddingSecs  int `yaml:"embedding_secs"`
	StoreSecs      int `yaml:"store_secs"`
	CompletionSecs int `yaml:"completion_secs"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Completion  CompletionConfig  `yaml:"completion"`
	Grounding   GroundingConfig   `yaml:"grounding"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Log         LogConfig         `yaml:"log"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			applyConfigDefaults(cfg)
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/pdfrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/pdfrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	applyConfigDefaults(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// KnownEmbeddingDimensions maps hosted embedding models to their vector width.
var KnownEmbeddingDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"all-minilm":             384,
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 { return &v }

// Seconds converts a config field to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pdfrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Chunker:     ChunkerConfig{ChunkSize: 500},
		Embedder:    EmbedderConfig{Type: "hashing", Dimension: 384, Cache: CacheConfig{Size: 1024}},
		VectorStore: VectorStoreConfig{Type: "localfile", LocalFile: &LocalFileConfig{Path: "pdf_chunks.json"}},
		Retrieval:   RetrievalConfig{TopK: 5, Threshold: Float(0.2), SmallCorpusSize: 5},
		Completion:  CompletionConfig{Type: "openai", Temperature: 0.7, MaxTokens: 1000},
		Grounding:   GroundingConfig{Mode: "observe"},
		Log:         LogConfig{Level: "info", Format: "text"},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 3},
	}
	applyConfigDefaults(cfg)
	return cfg
}

// applyEnvOverrides maps deployment environment variables onto cfg.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("PDFRAG_STORE"); v != "" {
		cfg.VectorStore.Type = v
	}
	if os.Getenv("DATABASE_URL") != "" && cfg.VectorStore.Postgres == nil {
		cfg.VectorStore.Postgres = &PostgresConfig{DSNEnv: "DATABASE_URL"}
	}
	if v := os.Getenv("GROQ_MODEL"); v != "" {
		if cfg.Completion.OpenAI == nil {
			cfg.Completion.OpenAI = &OpenAICompletionConfig{}
		}
		cfg.Completion.OpenAI.Model = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		if cfg.Completion.Ollama == nil {
			cfg.Completion.Ollama = &OllamaConfig{}
		}
		cfg.Completion.Ollama.Model = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Embedder.Cache.RedisAddr = v
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.ChunkSize <= 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension <= 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.Dimension <= 0 {
			cfg.Embedder.Dimension = KnownEmbeddingDimensions[o.Model]
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 5
		}
	}
	if cfg.Embedder.Cache.RedisAddr != "" && cfg.Embedder.Cache.TTLSecs == 0 {
		cfg.Embedder.Cache.TTLSecs = 86400
	}

	switch strings.ToLower(cfg.VectorStore.Type) {
	case "", "localfile", "file", "local":
		cfg.VectorStore.Type = "localfile"
		if cfg.VectorStore.LocalFile == nil {
			cfg.VectorStore.LocalFile = &LocalFileConfig{}
		}
		if cfg.VectorStore.LocalFile.Path == "" {
			cfg.VectorStore.LocalFile.Path = "pdf_chunks.json"
		}
	case "postgres", "supabase":
		cfg.VectorStore.Type = "postgres"
		if cfg.VectorStore.Postgres == nil {
			cfg.VectorStore.Postgres = &PostgresConfig{}
		}
		p := cfg.VectorStore.Postgres
		if p.DSNEnv == "" {
			p.DSNEnv = "DATABASE_URL"
		}
		if p.Table == "" {
			p.Table = "pdf_chunks"
		}
		if p.SearchFunction == "" {
			p.SearchFunction = "search_pdf_chunks"
		}
	case "sqlite":
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = "pdf_chunks.db"
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "pdf_chunks"
		}
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Threshold == nil {
		cfg.Retrieval.Threshold = Float(0.2)
	}
	if cfg.Retrieval.SmallCorpusSize <= 0 {
		cfg.Retrieval.SmallCorpusSize = 5
	}

	if cfg.Completion.Type == "" {
		cfg.Completion.Type = "openai"
	}
	switch cfg.Completion.Type {
	case "openai", "groq":
		cfg.Completion.Type = "openai"
		if cfg.Completion.OpenAI == nil {
			cfg.Completion.OpenAI = &OpenAICompletionConfig{}
		}
		o := cfg.Completion.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.groq.com/openai/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "GROQ_API_KEY"
		}
		if o.Model == "" {
			o.Model = "meta-llama/llama-4-scout-17b-16e-instruct"
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 2
		}
	case "ollama":
		if cfg.Completion.Ollama == nil {
			cfg.Completion.Ollama = &OllamaConfig{}
		}
		if cfg.Completion.Ollama.BaseURL == "" {
			cfg.Completion.Ollama.BaseURL = "http://localhost:11434"
		}
		if cfg.Completion.Ollama.Model == "" {
			cfg.Completion.Ollama.Model = "gemma:2b"
		}
	}
	if cfg.Completion.Temperature == 0 {
		cfg.Completion.Temperature = 0.7
	}
	if cfg.Completion.MaxTokens <= 0 {
		cfg.Completion.MaxTokens = 1000
	}
	if cfg.Completion.BreakerFailures <= 0 {
		cfg.Completion.BreakerFailures = 5
	}

	if cfg.Grounding.Mode == "" {
		cfg.Grounding.Mode = "observe"
	}
	if cfg.Timeouts.EmbeddingSecs <= 0 {
		cfg.Timeouts.EmbeddingSecs = 30
	}
	if cfg.Timeouts.StoreSecs <= 0 {
		cfg.Timeouts.StoreSecs = 15
	}
	if cfg.Timeouts.CompletionSecs <= 0 {
		cfg.Timeouts.CompletionSecs = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences <= 0 {
		cfg.Summarizer.MaxSentences = 3
	}
}
