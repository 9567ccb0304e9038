package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/selin/memoria/pkg/consolidate"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the engine: consolidation sweeps and document watching",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	zl := e.log.Zerolog()

	manager, err := e.requireManager()
	if err != nil {
		return err
	}

	scheduler, err := consolidate.NewScheduler(manager, e.cfg.Consolidation.SweepSchedule, zl)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if e.syncer != nil {
		if synced, removed, err := e.syncer.SyncAll(ctx); err != nil {
			zl.Error().Err(err).Msg("Initial document sync failed")
		} else {
			zl.Info().Int("synced", synced).Int("removed", removed).Msg("Initial document sync complete")
		}
		if e.cfg.Documents.Watch {
			go func() {
				if err := e.syncer.Watch(ctx); err != nil && ctx.Err() == nil {
					zl.Error().Err(err).Msg("Document watcher stopped")
				}
			}()
		}
	}

	if e.recover != nil {
		cold, err := e.recover.IsColdStart(ctx, chatID)
		if err != nil {
			zl.Error().Err(err).Msg("Cold start check failed")
		} else if cold {
			zl.Info().Str("chat_id", chatID).Msg("Cold start detected, attempting recovery")
			e.recover.Recover(ctx, chatID)
		}
	}

	zl.Info().Msg("Memoria engine running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		zl.Info().Str("signal", s.String()).Msg("Shutting down")
	case <-ctx.Done():
	}
	return nil
}
