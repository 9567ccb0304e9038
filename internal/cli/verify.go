package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/selin/memoria/pkg/docsync"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify that every indexed document is retrievable",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	results, err := e.auditor.VerifyAll(ctx, docsync.DefaultOwner)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No documents indexed.")
		return nil
	}

	failed := 0
	for _, res := range results {
		status := "OK"
		if !res.Found {
			status = "MISSING"
			failed++
		}
		fmt.Printf("%-8s %s (rank %d)\n", status, res.Filename, res.Rank)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed verification", failed, len(results))
	}
	fmt.Printf("All %d documents verified.\n", len(results))
	return nil
}
