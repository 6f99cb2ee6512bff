package linecook

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var (
	forceInit  bool
	outputPath string
)

// defaultConfigDoc mirrors the config schema with its default values, so
// init produces a file that round-trips through config.Load unchanged.
type defaultConfigDoc struct {
	Server struct {
		Host        string   `toml:"host"`
		Port        int      `toml:"port"`
		CORSOrigins []string `toml:"cors_origins"`
	} `toml:"server"`
	Storage struct {
		GraphDBPath      string `toml:"graph_db_path"`
		ChunkIndex       string `toml:"chunk_index"`
		ChunkDBPath      string `toml:"chunk_db_path"`
		QdrantURL        string `toml:"qdrant_url"`
		QdrantCollection string `toml:"qdrant_collection"`
		UploadsDir       string `toml:"uploads_dir"`
	} `toml:"storage"`
	Providers struct {
		BaseURL        string `toml:"base_url"`
		APIKey         string `toml:"api_key"`
		LLMModel       string `toml:"llm_model"`
		EmbeddingModel string `toml:"embedding_model"`
		Timeout        string `toml:"timeout"`
	} `toml:"providers"`
	Ingest struct {
		MaxConcurrent   int     `toml:"max_concurrent"`
		StageAttempts   int     `toml:"stage_attempts"`
		ExtractTimeout  string  `toml:"extract_timeout"`
		WriteTimeout    string  `toml:"write_timeout"`
		FailureRateTrip float64 `toml:"failure_rate_trip"`
		RecoveryWindow  string  `toml:"recovery_window"`
	} `toml:"ingest"`
	Chunker struct {
		ChunkSize int    `toml:"chunk_size"`
		Overlap   int    `toml:"overlap"`
		Encoding  string `toml:"encoding"`
	} `toml:"chunker"`
	Retrieval struct {
		TopK           int `toml:"top_k"`
		MaxResults     int `toml:"max_results"`
		TraversalDepth int `toml:"traversal_depth"`
	} `toml:"retrieval"`
	Progress struct {
		SoftCap   int    `toml:"soft_cap"`
		Retention string `toml:"retention"`
	} `toml:"progress"`
}

func defaultConfig() defaultConfigDoc {
	var d defaultConfigDoc
	d.Server.Host = "0.0.0.0"
	d.Server.Port = 8970
	d.Server.CORSOrigins = []string{"*"}

	d.Storage.GraphDBPath = "./data/graph.db"
	d.Storage.ChunkIndex = "sqlite"
	d.Storage.ChunkDBPath = "./data/chunks.db"
	d.Storage.QdrantURL = "localhost:6334"
	d.Storage.QdrantCollection = "linecook_chunks"
	d.Storage.UploadsDir = "./uploads"

	d.Providers.LLMModel = "gpt-4o-mini"
	d.Providers.EmbeddingModel = "text-embedding-3-small"
	d.Providers.Timeout = "60s"

	d.Ingest.MaxConcurrent = 4
	d.Ingest.StageAttempts = 3
	d.Ingest.ExtractTimeout = "120s"
	d.Ingest.WriteTimeout = "60s"
	d.Ingest.FailureRateTrip = 0.5
	d.Ingest.RecoveryWindow = "5m"

	d.Chunker.ChunkSize = 384
	d.Chunker.Overlap = 96
	d.Chunker.Encoding = "cl100k_base"

	d.Retrieval.TopK = 5
	d.Retrieval.MaxResults = 10
	d.Retrieval.TraversalDepth = 3

	d.Progress.SoftCap = 10000
	d.Progress.Retention = "1h"
	return d
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a linecook.toml with default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := outputPath
		if configPath == "" {
			configPath = "linecook.toml"
		}

		if !forceInit {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		if dir := filepath.Dir(configPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		data, err := toml.Marshal(defaultConfig())
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write configuration file: %w", err)
		}

		fmt.Printf("Configuration written to %s\n", configPath)
		fmt.Printf("Start the server with: linecook --config %s serve\n", configPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite existing configuration file")
	initCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output path (default: linecook.toml)")
}
