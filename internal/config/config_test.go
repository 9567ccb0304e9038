package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert" }},
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -1 }},
		{"both weights zero", func(c *Config) { c.Search.VectorWeight = 0; c.Search.KeywordWeight = 0 }},
		{"zero rrf_k", func(c *Config) { c.Search.RRFK = 0 }},
		{"overlap exceeds target", func(c *Config) { c.Chunking.OverlapTokens = 500 }},
		{"zero threshold", func(c *Config) { c.Consolidation.MessageThreshold = 0 }},
		{"floor above one", func(c *Config) { c.Consolidation.MergeConfidenceFloor = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.NotEmpty(t, cfg.Database.Path)
	assert.NotEmpty(t, cfg.Consolidation.BackupDir)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoria.json")

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Search.VectorWeight = 0.6
	cfg.Search.KeywordWeight = 0.4
	cfg.Consolidation.MessageThreshold = 30

	require.NoError(t, NewLoader(path).Save(cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, loaded.Search.VectorWeight)
	assert.Equal(t, 0.4, loaded.Search.KeywordWeight)
	assert.Equal(t, 30, loaded.Consolidation.MessageThreshold)
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memoria.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"embedding": {"provider": "bert", "dimension": 768}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Extraction.APIKey)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
}
