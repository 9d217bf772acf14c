package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/importer"
	"github.com/tallyapp/tally/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "entry",
	Short:   "Record transactions from a JSONL file",
	Long: `Record one transaction per line of a JSONL file.

Each row goes through the same path as 'tally add': created remotely when
online, queued when offline. Blank lines and lines starting with # are
skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		stopOnError, _ := cmd.Flags().GetBool("stop-on-error")

		ctx := cmd.Context()
		a := newApp(ctx)
		defer a.Close()

		result, err := importer.Import(ctx, a.entry, args[0], importer.Options{
			DryRun:      dryRun,
			StopOnError: stopOnError,
			Logger:      logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		if jsonOutput {
			printJSON(result)
		} else {
			verb := "Imported"
			if dryRun {
				verb = "Would import"
			}
			fmt.Printf("%s %s %d transaction(s)", ui.RenderPass("✓"), verb, result.Imported)
			if result.Offline > 0 {
				fmt.Printf(", %d queued offline", result.Offline)
			}
			fmt.Println()
			for _, msg := range result.Errors {
				fmt.Printf("  %s %s\n", ui.RenderFail("✗"), msg)
			}
		}

		if len(result.Errors) > 0 {
			a.Close()
			os.Exit(1)
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate without recording anything")
	importCmd.Flags().Bool("stop-on-error", false, "Stop at the first failing row")

	rootCmd.AddCommand(importCmd)
}
