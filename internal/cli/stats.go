package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics for the owner scope",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	stats, err := e.store.MemoryStats(ctx, chatID)
	if err != nil {
		return err
	}

	fmt.Printf("Owner:  %s\n", chatID)
	fmt.Printf("Total:  %d\n", stats.Total)
	fmt.Printf("Active: %d\n", stats.Active)
	if len(stats.ByType) > 0 {
		fmt.Println("By type:")
		for memType, count := range stats.ByType {
			fmt.Printf("  %-14s %d\n", memType, count)
		}
	}
	if len(stats.BySensitivity) > 0 {
		fmt.Println("By sensitivity:")
		for level, count := range stats.BySensitivity {
			fmt.Printf("  %-14s %d\n", level, count)
		}
	}

	if e.manager != nil {
		out, err := e.manager.KnowledgeForPrompt(ctx, chatID)
		if err == nil && out != "" {
			fmt.Println("\nKnowledge base:")
			fmt.Println(out)
		}
	}
	return nil
}
