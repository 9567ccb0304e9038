package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/selin/memoria/internal/config"
	"github.com/selin/memoria/internal/logger"
	"github.com/selin/memoria/pkg/audit"
	"github.com/selin/memoria/pkg/chunker"
	"github.com/selin/memoria/pkg/consolidate"
	"github.com/selin/memoria/pkg/dedup"
	"github.com/selin/memoria/pkg/docsync"
	"github.com/selin/memoria/pkg/embedding"
	"github.com/selin/memoria/pkg/knowledge"
	"github.com/selin/memoria/pkg/migrate"
	"github.com/selin/memoria/pkg/pipeline"
	"github.com/selin/memoria/pkg/recovery"
	"github.com/selin/memoria/pkg/search"
	"github.com/selin/memoria/pkg/store"
)

// engine bundles the wired components behind every command.
type engine struct {
	cfg      *config.Config
	log      *logger.Logger
	store    *store.Store
	provider embedding.Provider
	hybrid   *search.Hybrid
	pipeline *pipeline.Pipeline
	manager  *consolidate.Manager
	auditor  *audit.Auditor
	syncer   *docsync.Syncer
	recover  *recovery.Recoverer
}

// newEngine loads configuration and wires the full component graph.
func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	zl := log.Zerolog()

	st, err := store.Open(store.Config{
		Path:      cfg.Database.Path,
		Dimension: cfg.Embedding.Dimension,
		Logger:    zl,
	})
	if err != nil {
		log.Close()
		return nil, err
	}
	if err := migrate.Apply(ctx, st.DB(), zl); err != nil {
		st.Close()
		log.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	var provider embedding.Provider
	switch cfg.Embedding.Provider {
	case "mock":
		provider = embedding.NewMock(cfg.Embedding.Dimension)
	default:
		provider = embedding.NewOpenAIProvider(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	}
	if cfg.Embedding.Cache {
		provider = embedding.NewCachedProvider(provider, st, dedup.Hash, zl)
	}

	hybrid := search.NewHybrid(st, provider, search.Options{
		VectorWeight:  cfg.Search.VectorWeight,
		KeywordWeight: cfg.Search.KeywordWeight,
		RRFK:          cfg.Search.RRFK,
	}, zl)

	pipe := pipeline.New(pipeline.Config{
		Store:    st,
		Provider: provider,
		Hybrid:   hybrid,
		Chunking: chunker.Options{
			TargetTokens:  cfg.Chunking.TargetTokens,
			OverlapTokens: cfg.Chunking.OverlapTokens,
		},
		Logger: zl,
	})

	var extractor *knowledge.Client
	if cfg.Extraction.APIKey != "" {
		extractor = knowledge.NewClient(knowledge.ClientConfig{
			APIKey:    cfg.Extraction.APIKey,
			Model:     cfg.Extraction.Model,
			MaxTokens: cfg.Extraction.MaxTokens,
			Logger:    zl,
		})
	}

	e := &engine{
		cfg:      cfg,
		log:      log,
		store:    st,
		provider: provider,
		hybrid:   hybrid,
		pipeline: pipe,
		auditor:  audit.New(st, hybrid, zl),
	}

	if extractor != nil {
		e.manager = consolidate.New(consolidate.Config{
			Store:      st,
			Pipeline:   pipe,
			Extractor:  extractor,
			Summarizer: extractor,
			Options: consolidate.Options{
				MessageThreshold:       cfg.Consolidation.MessageThreshold,
				InactivityThreshold:    time.Duration(cfg.Consolidation.InactivityHours * float64(time.Hour)),
				IncrementalEvery:       cfg.Consolidation.IncrementalEvery,
				MergeConfidenceFloor:   cfg.Consolidation.MergeConfidenceFloor,
				DisplayConfidenceFloor: cfg.Consolidation.DisplayConfidenceFloor,
				BackupDir:              cfg.Consolidation.BackupDir,
			},
			Logger: zl,
		})

		if cfg.Recovery.DocSearchURL != "" {
			docs := recovery.NewHTTPDocSearch(cfg.Recovery.DocSearchURL,
				time.Duration(cfg.Recovery.TimeoutSeconds)*time.Second)
			e.recover = recovery.New(st, docs, extractor, recovery.Options{
				DocLimit:             cfg.Recovery.DocLimit,
				MergeConfidenceFloor: cfg.Consolidation.MergeConfidenceFloor,
			}, zl)
		}
	}

	if cfg.Documents.Dir != "" {
		e.syncer = docsync.New(docsync.Config{
			Pipeline: pipe,
			Store:    st,
			Dir:      cfg.Documents.Dir,
			Logger:   zl,
		})
	}

	return e, nil
}

func (e *engine) close() {
	if e.store != nil {
		e.store.Close()
	}
	if e.log != nil {
		e.log.Close()
	}
}

// requireManager fails commands that need the extraction stack when no
// API key is configured.
func (e *engine) requireManager() (*consolidate.Manager, error) {
	if e.manager == nil {
		return nil, fmt.Errorf("extraction API key not configured (set ANTHROPIC_API_KEY or extraction.api_key)")
	}
	return e.manager, nil
}

// requireSyncer fails document commands when no document directory is
// configured.
func (e *engine) requireSyncer() (*docsync.Syncer, error) {
	if e.syncer == nil {
		return nil, fmt.Errorf("document directory not configured (set documents.dir)")
	}
	return e.syncer, nil
}
