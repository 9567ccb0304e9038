package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the document directory with the index",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	syncer, err := e.requireSyncer()
	if err != nil {
		return err
	}

	synced, removed, err := syncer.SyncAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Synced %d document(s), removed %d stale document(s).\n", synced, removed)
	return nil
}
