package consolidate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/selin/memoria/pkg/knowledge"
)

// backupSnapshot writes a timestamped copy of the knowledge base to the
// backup directory. Best-effort: runs after the consolidation has
// committed, so failures only cost the backup itself.
func (m *Manager) backupSnapshot(chatID string, base *knowledge.Base) {
	id, err := gonanoid.New(8)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to generate backup id")
		return
	}

	data, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		m.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to serialize backup")
		return
	}

	if err := os.MkdirAll(m.opts.BackupDir, 0o755); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to create backup directory")
		return
	}

	name := fmt.Sprintf("%s-%s-%s.json", chatID, time.Now().Format("20060102T150405"), id)
	path := filepath.Join(m.opts.BackupDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("Failed to write backup")
		return
	}

	m.logger.Debug().Str("chat_id", chatID).Str("path", path).Msg("Knowledge backup written")
}
