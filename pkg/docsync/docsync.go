// Package docsync keeps a directory of reference documents mirrored
// into the global namespace: full sweeps on demand plus a filesystem
// watcher for live updates.
package docsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/selin/memoria/pkg/pipeline"
	"github.com/selin/memoria/pkg/store"
)

// DefaultOwner is the chat id that owns synced global documents.
const DefaultOwner = "global"

var supportedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Config holds syncer configuration.
type Config struct {
	Pipeline *pipeline.Pipeline
	Store    *store.Store
	Dir      string
	Owner    string
	Logger   zerolog.Logger
}

// Syncer mirrors a document directory into the store.
type Syncer struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	dir      string
	owner    string
	logger   zerolog.Logger
}

// New creates a syncer for the directory.
func New(cfg Config) *Syncer {
	if cfg.Owner == "" {
		cfg.Owner = DefaultOwner
	}
	return &Syncer{
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		dir:      cfg.Dir,
		owner:    cfg.Owner,
		logger:   cfg.Logger,
	}
}

// SyncAll reconciles the directory against the index: every supported
// file is (re)ingested and documents whose file no longer exists are
// removed from the index. Returns files synced and documents removed.
func (s *Syncer) SyncAll(ctx context.Context) (int, int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read document directory: %w", err)
	}

	onDisk := make(map[string]bool)
	synced := 0
	for _, entry := range entries {
		if entry.IsDir() || !supportedExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		onDisk[entry.Name()] = true
		if err := s.SyncFile(ctx, filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Error().Err(err).Str("filename", entry.Name()).Msg("Failed to sync document")
			continue
		}
		synced++
	}

	removed, err := s.removeMissing(ctx, onDisk)
	if err != nil {
		return synced, 0, err
	}
	return synced, removed, nil
}

// SyncFile replaces the indexed content of one document with the
// current file content. Replacement rather than append: a modified file
// must not leave stale chunks from its previous version behind.
func (s *Syncer) SyncFile(ctx context.Context, path string) error {
	filename := filepath.Base(path)
	if !supportedExtensions[filepath.Ext(filename)] {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if _, err := s.store.DeleteMemoriesByFilename(ctx, filename, store.NamespaceGlobal); err != nil {
		return err
	}

	n, err := s.pipeline.ProcessText(ctx, s.owner, string(data), store.TypeDocument,
		store.NamespaceGlobal, store.Metadata{Filename: filename, Source: "docsync"})
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", filename, err)
	}

	s.logger.Info().Str("filename", filename).Int("chunks", n).Msg("Document synced")
	return nil
}

// RemoveFile drops a document from the index.
func (s *Syncer) RemoveFile(ctx context.Context, path string) error {
	filename := filepath.Base(path)
	n, err := s.store.DeleteMemoriesByFilename(ctx, filename, store.NamespaceGlobal)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info().Str("filename", filename).Int64("chunks", n).Msg("Document removed from index")
	}
	return nil
}

// Watch follows filesystem events on the directory until the context is
// cancelled. Event handling errors are logged and skipped; the watch
// keeps running.
func (s *Syncer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.logger.Info().Str("dir", s.dir).Msg("Watching document directory")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (s *Syncer) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !supportedExtensions[filepath.Ext(event.Name)] {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		if err := s.SyncFile(ctx, event.Name); err != nil {
			s.logger.Error().Err(err).Str("path", event.Name).Msg("Failed to sync on event")
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if err := s.RemoveFile(ctx, event.Name); err != nil {
			s.logger.Error().Err(err).Str("path", event.Name).Msg("Failed to remove on event")
		}
	}
}

// removeMissing drops indexed documents whose file is gone.
func (s *Syncer) removeMissing(ctx context.Context, onDisk map[string]bool) (int, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT DISTINCT json_extract(metadata, '$.filename')
		FROM memories
		WHERE chat_id = ? AND namespace = ? AND is_active = 1
			AND json_extract(metadata, '$.filename') IS NOT NULL`,
		s.owner, store.NamespaceGlobal)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexed documents: %w", err)
	}
	defer rows.Close()

	var indexed []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return 0, err
		}
		indexed = append(indexed, filename)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, filename := range indexed {
		if onDisk[filename] {
			continue
		}
		if _, err := s.store.DeleteMemoriesByFilename(ctx, filename, store.NamespaceGlobal); err != nil {
			s.logger.Error().Err(err).Str("filename", filename).Msg("Failed to remove stale document")
			continue
		}
		s.logger.Info().Str("filename", filename).Msg("Stale document removed")
		removed++
	}

	return removed, nil
}
