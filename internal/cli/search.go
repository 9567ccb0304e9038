package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selin/memoria/pkg/store"
)

var (
	searchLimit     int
	searchNamespace string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories with hybrid retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchNamespace, "namespace", store.NamespaceUser, "namespace to search (user or global)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	query := strings.Join(args, " ")
	results, err := e.hybrid.Search(ctx, chatID, searchNamespace, query, searchLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No memories found.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%2d. [%.4f] (%s) %s\n", i+1, r.Score, r.MemoryType, r.Content)
		if r.Metadata.Filename != "" {
			fmt.Printf("      from %s\n", r.Metadata.Filename)
		}
	}
	return nil
}
