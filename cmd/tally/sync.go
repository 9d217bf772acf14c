package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/syncer"
	"github.com/tallyapp/tally/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Send queued transactions to the remote service now",
	Long: `Drain the offline queue once.

Each pending transaction is submitted in the order it was queued. Failures
are recorded on the item and retried by the next sync; they do not stop the
rest of the queue. Synced records are pruned afterwards.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := newApp(ctx)
		defer a.Close()

		result := a.engine.Drain(ctx)

		if jsonOutput {
			printJSON(result)
		} else {
			fmt.Println(ui.FormatResult(result))
		}

		if result.Err != nil || result.FailureCount > 0 || result.Interrupted || result.Skipped == syncer.SkipOffline {
			a.Close()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
