package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selin/memoria/pkg/store"
)

var forgetLimit int

var forgetCmd = &cobra.Command{
	Use:   "forget <topic>",
	Short: "Soft-delete memories matching a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runForget,
}

func init() {
	forgetCmd.Flags().IntVar(&forgetLimit, "limit", 5, "maximum memories to forget")
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	topic := strings.Join(args, " ")
	n, err := e.pipeline.ForgetByTopic(ctx, chatID, store.NamespaceUser, topic, forgetLimit)
	if err != nil {
		return err
	}
	fmt.Printf("Forgot %d memory(ies).\n", n)
	return nil
}
