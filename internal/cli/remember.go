package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selin/memoria/pkg/store"
)

var rememberType string

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store text as a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

func init() {
	rememberCmd.Flags().StringVar(&rememberType, "type", store.TypeFact, "memory type (fact, preference, conversation)")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	text := strings.Join(args, " ")
	n, err := e.pipeline.ProcessText(ctx, chatID, text, rememberType, store.NamespaceUser,
		store.Metadata{Source: "cli"})
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("Already remembered.")
		return nil
	}
	fmt.Printf("Stored %d memory chunk(s).\n", n)
	return nil
}
