package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/queue"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued transactions",
	Long: `List transactions waiting in the offline queue, oldest first.

Synced records are kept until the next sync prunes them; pass --all to
include them.`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		ctx := cmd.Context()

		q := mustOpenQueue(cmd)
		defer q.Close()

		var items []*schema.QueuedTransaction
		var err error
		if all {
			items, err = q.ListAll(ctx)
		} else {
			items, err = q.ListPending(ctx)
		}
		if err != nil {
			fatalf("%v", err)
		}

		if jsonOutput {
			if items == nil {
				items = []*schema.QueuedTransaction{}
			}
			printJSON(items)
			return
		}
		if len(items) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}
		for _, item := range items {
			fmt.Println(ui.FormatQueued(item))
		}
	},
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of pending transactions",
	Run: func(cmd *cobra.Command, args []string) {
		q := mustOpenQueue(cmd)
		defer q.Close()

		n, err := q.CountPending(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			printJSON(map[string]int{"pending": n})
			return
		}
		fmt.Println(n)
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <local-id>",
	Short: "Show one queued transaction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q := mustOpenQueue(cmd)
		defer q.Close()

		item, err := q.Get(cmd.Context(), args[0])
		if errors.Is(err, queue.ErrNotFound) {
			fatalf("no queued transaction %s", args[0])
		}
		if err != nil {
			fatalf("%v", err)
		}
		printJSON(item)
	},
}

var queueRmCmd = &cobra.Command{
	Use:   "rm <local-id>...",
	Short: "Remove queued transactions without sending them",
	Long: `Remove transactions from the offline queue. They are not sent to the
remote service. Use this to discard an entry before correcting and re-adding
it.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q := mustOpenQueue(cmd)
		defer q.Close()

		for _, id := range args {
			if err := q.Remove(cmd.Context(), id); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), id)
		}
	},
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records that have already synced",
	Run: func(cmd *cobra.Command, args []string) {
		q := mustOpenQueue(cmd)
		defer q.Close()

		n, err := q.PruneSynced(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			printJSON(map[string]int{"pruned": n})
			return
		}
		fmt.Printf("%s Pruned %d synced record(s)\n", ui.RenderPass("✓"), n)
	},
}

func mustOpenQueue(cmd *cobra.Command) *queue.Queue {
	q, err := openQueue(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening queue at %s: %v\n", cfg.QueuePath(), err)
		os.Exit(1)
	}
	return q
}

func init() {
	queueListCmd.Flags().Bool("all", false, "Include synced records")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueRmCmd)
	queueCmd.AddCommand(queuePruneCmd)
	rootCmd.AddCommand(queueCmd)
}
