package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/ui"
)

// statusInfo is the --json form of 'tally status'.
type statusInfo struct {
	Online    bool   `json:"online"`
	Remote    string `json:"remote"`
	QueuePath string `json:"queuePath"`
	QueueOK   bool   `json:"queueOk"`
	Pending   int    `json:"pending"`
	Config    string `json:"config,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity and queue status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := newApp(ctx)
		defer a.Close()

		info := statusInfo{
			Online:    a.conn.Online(),
			Remote:    a.remote.BaseURL(),
			QueuePath: a.queue.Path(),
			Config:    cfg.Source,
		}
		n, err := a.queue.CountPending(ctx)
		if err == nil {
			info.QueueOK = true
			info.Pending = n
		}

		if jsonOutput {
			printJSON(info)
			return
		}

		conn := ui.RenderPass("online")
		if !info.Online {
			conn = ui.RenderWarn("offline")
		}
		fmt.Printf("\n%s tally status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Remote:  %s (%s)\n", info.Remote, conn)
		if info.QueueOK {
			fmt.Printf("Queue:   %s\n", info.QueuePath)
			fmt.Printf("Pending: %d\n", info.Pending)
		} else {
			fmt.Printf("Queue:   %s %s\n", info.QueuePath, ui.RenderFail("unavailable"))
			fmt.Fprintf(os.Stderr, "         %v\n", err)
		}
		if info.Config != "" {
			fmt.Printf("Config:  %s\n", info.Config)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
