// Package config defines the engine configuration and its file/env
// loading.
package config

import (
	"fmt"

	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/search"
)

// Config is the full engine configuration.
type Config struct {
	DataDir       string              `mapstructure:"data_dir" json:"data_dir"`
	Database      DatabaseConfig      `mapstructure:"database" json:"database"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding" json:"embedding"`
	Extraction    ExtractionConfig    `mapstructure:"extraction" json:"extraction"`
	Search        SearchConfig        `mapstructure:"search" json:"search"`
	Chunking      ChunkingConfig      `mapstructure:"chunking" json:"chunking"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation" json:"consolidation"`
	Documents     DocumentsConfig     `mapstructure:"documents" json:"documents"`
	Recovery      RecoveryConfig      `mapstructure:"recovery" json:"recovery"`
	Logging       LoggingConfig       `mapstructure:"logging" json:"logging"`
}

// DatabaseConfig locates the embedded database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider" json:"provider"` // openai or mock
	APIKey    string `mapstructure:"api_key" json:"api_key"`
	Model     string `mapstructure:"model" json:"model"`
	Dimension int    `mapstructure:"dimension" json:"dimension"`
	Cache     bool   `mapstructure:"cache" json:"cache"`
}

// ExtractionConfig tunes the extraction LLM client.
type ExtractionConfig struct {
	APIKey    string `mapstructure:"api_key" json:"api_key"`
	Model     string `mapstructure:"model" json:"model"`
	MaxTokens int64  `mapstructure:"max_tokens" json:"max_tokens"`
}

// SearchConfig tunes hybrid fusion.
type SearchConfig struct {
	VectorWeight  float64 `mapstructure:"vector_weight" json:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight" json:"keyword_weight"`
	RRFK          int     `mapstructure:"rrf_k" json:"rrf_k"`
	Limit         int     `mapstructure:"limit" json:"limit"`
}

// ChunkingConfig tunes the text splitter.
type ChunkingConfig struct {
	TargetTokens  int `mapstructure:"target_tokens" json:"target_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens" json:"overlap_tokens"`
}

// ConsolidationConfig tunes consolidation triggers and trust floors.
type ConsolidationConfig struct {
	MessageThreshold       int     `mapstructure:"message_threshold" json:"message_threshold"`
	InactivityHours        float64 `mapstructure:"inactivity_hours" json:"inactivity_hours"`
	IncrementalEvery       int     `mapstructure:"incremental_every" json:"incremental_every"`
	SweepSchedule          string  `mapstructure:"sweep_schedule" json:"sweep_schedule"`
	MergeConfidenceFloor   float64 `mapstructure:"merge_confidence_floor" json:"merge_confidence_floor"`
	DisplayConfidenceFloor float64 `mapstructure:"display_confidence_floor" json:"display_confidence_floor"`
	BackupDir              string  `mapstructure:"backup_dir" json:"backup_dir"`
}

// DocumentsConfig points at the reference document directory.
type DocumentsConfig struct {
	Dir   string `mapstructure:"dir" json:"dir"`
	Watch bool   `mapstructure:"watch" json:"watch"`
}

// RecoveryConfig points at the external document search service.
type RecoveryConfig struct {
	DocSearchURL   string `mapstructure:"doc_search_url" json:"doc_search_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	DocLimit       int    `mapstructure:"doc_limit" json:"doc_limit"`
}

// LoggingConfig mirrors the logger package configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	File       string `mapstructure:"file" json:"file"`
	Console    bool   `mapstructure:"console" json:"console"`
	Pretty     bool   `mapstructure:"pretty" json:"pretty"`
	Redaction  bool   `mapstructure:"redaction" json:"redaction"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: embedding.DefaultDimension,
			Cache:     true,
		},
		Extraction: ExtractionConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
		},
		Search: SearchConfig{
			VectorWeight:  search.DefaultVectorWeight,
			KeywordWeight: search.DefaultKeywordWeight,
			RRFK:          search.DefaultRRFK,
			Limit:         search.DefaultLimit,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  400,
			OverlapTokens: 50,
		},
		Consolidation: ConsolidationConfig{
			MessageThreshold:       20,
			InactivityHours:        6,
			IncrementalEvery:       5,
			SweepSchedule:          "*/15 * * * *",
			MergeConfidenceFloor:   0.8,
			DisplayConfidenceFloor: 0.7,
		},
		Recovery: RecoveryConfig{
			TimeoutSeconds: 10,
			DocLimit:       20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			Redaction:  true,
			MaxSizeMB:  50,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.Provider != "openai" && c.Embedding.Provider != "mock" {
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Search.VectorWeight < 0 || c.Search.KeywordWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Search.VectorWeight == 0 && c.Search.KeywordWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.Search.RRFK)
	}
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking target_tokens must be positive, got %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking overlap_tokens must be in [0, target_tokens)")
	}
	if c.Consolidation.MessageThreshold <= 0 {
		return fmt.Errorf("consolidation message_threshold must be positive")
	}
	if c.Consolidation.MergeConfidenceFloor <= 0 || c.Consolidation.MergeConfidenceFloor > 1 {
		return fmt.Errorf("merge_confidence_floor must be in (0, 1]")
	}
	if c.Consolidation.DisplayConfidenceFloor <= 0 || c.Consolidation.DisplayConfidenceFloor > 1 {
		return fmt.Errorf("display_confidence_floor must be in (0, 1]")
	}
	return nil
}
