package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. A small closed set of
// environment variables (LINECOOK_*) overrides file values; no secrets
// are ever logged.
type Config struct {
	Home      string          `mapstructure:"home"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	GraphDBPath      string `mapstructure:"graph_db_path"`
	ChunkIndex       string `mapstructure:"chunk_index"` // "sqlite" or "qdrant"
	ChunkDBPath      string `mapstructure:"chunk_db_path"`
	QdrantURL        string `mapstructure:"qdrant_url"`
	QdrantCollection string `mapstructure:"qdrant_collection"`
	UploadsDir       string `mapstructure:"uploads_dir"`
}

type ProvidersConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	LLMModel       string        `mapstructure:"llm_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	StageAttempts   int           `mapstructure:"stage_attempts"`
	ExtractTimeout  time.Duration `mapstructure:"extract_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	FailureRateTrip float64       `mapstructure:"failure_rate_trip"`
	RecoveryWindow  time.Duration `mapstructure:"recovery_window"`
}

type ChunkerConfig struct {
	ChunkSize int    `mapstructure:"chunk_size"` // tokens
	Overlap   int    `mapstructure:"overlap"`    // tokens
	Encoding  string `mapstructure:"encoding"`
}

type RetrievalConfig struct {
	TopK           int `mapstructure:"top_k"`
	MaxResults     int `mapstructure:"max_results"`
	TraversalDepth int `mapstructure:"traversal_depth"`
}

type ProgressConfig struct {
	SoftCap   int           `mapstructure:"soft_cap"`
	Retention time.Duration `mapstructure:"retention"`
}

// Load reads linecook.toml from the given path, the working directory, or
// $LINECOOK_HOME (default ~/.linecook), applying env overrides and
// defaults.
func Load(configPath string) (*Config, error) {
	config := &Config{}

	home := os.Getenv("LINECOOK_HOME")
	if home == "" {
		home = "~/.linecook"
	}
	home = expandHomePath(home)

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
		home = filepath.Dir(absPath)
	} else {
		if _, err := os.Stat("linecook.toml"); err == nil {
			abs, _ := filepath.Abs("linecook.toml")
			viper.SetConfigFile(abs)
			home = filepath.Dir(abs)
		} else {
			viper.SetConfigFile(filepath.Join(home, "linecook.toml"))
		}
	}

	setDefaults(home)
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Missing default config is fine, defaults apply.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Home == "" {
		config.Home = home
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(home string) {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8970)
	viper.SetDefault("server.cors_origins", []string{"*"})

	viper.SetDefault("storage.graph_db_path", filepath.Join(home, "data", "graph.db"))
	viper.SetDefault("storage.chunk_index", "sqlite")
	viper.SetDefault("storage.chunk_db_path", filepath.Join(home, "data", "chunks.db"))
	viper.SetDefault("storage.qdrant_url", "localhost:6334")
	viper.SetDefault("storage.qdrant_collection", "linecook_chunks")
	viper.SetDefault("storage.uploads_dir", filepath.Join(home, "uploads"))

	viper.SetDefault("providers.base_url", "")
	viper.SetDefault("providers.llm_model", "gpt-4o-mini")
	viper.SetDefault("providers.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.timeout", "60s")

	viper.SetDefault("ingest.max_concurrent", 4)
	viper.SetDefault("ingest.queue_depth", 64)
	viper.SetDefault("ingest.stage_attempts", 3)
	viper.SetDefault("ingest.extract_timeout", "120s")
	viper.SetDefault("ingest.write_timeout", "60s")
	viper.SetDefault("ingest.failure_rate_trip", 0.5)
	viper.SetDefault("ingest.recovery_window", "5m")

	viper.SetDefault("chunker.chunk_size", 384)
	viper.SetDefault("chunker.overlap", 96)
	viper.SetDefault("chunker.encoding", "cl100k_base")

	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.max_results", 10)
	viper.SetDefault("retrieval.traversal_depth", 3)

	viper.SetDefault("progress.soft_cap", 10000)
	viper.SetDefault("progress.retention", "1h")
}

func bindEnvVars() {
	viper.SetEnvPrefix("LINECOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("providers.api_key", "LINECOOK_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("providers.base_url", "LINECOOK_BASE_URL")
	_ = viper.BindEnv("storage.qdrant_url", "LINECOOK_QDRANT_URL")
	_ = viper.BindEnv("server.port", "LINECOOK_PORT")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.MaxConcurrent <= 0 {
		return fmt.Errorf("ingest.max_concurrent must be positive, got %d", c.Ingest.MaxConcurrent)
	}
	if c.Ingest.StageAttempts <= 0 {
		return fmt.Errorf("ingest.stage_attempts must be positive, got %d", c.Ingest.StageAttempts)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.overlap must be in [0, chunk_size), got %d", c.Chunker.Overlap)
	}
	switch c.Storage.ChunkIndex {
	case "sqlite", "qdrant":
	default:
		return fmt.Errorf("storage.chunk_index must be sqlite or qdrant, got %q", c.Storage.ChunkIndex)
	}
	if c.Retrieval.TraversalDepth < 0 {
		return fmt.Errorf("retrieval.traversal_depth must be non-negative, got %d", c.Retrieval.TraversalDepth)
	}
	return nil
}

func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
