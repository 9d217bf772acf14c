package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/dashboard"
	"github.com/tallyapp/tally/internal/daemon"
	"github.com/tallyapp/tally/internal/entry"
	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/syncer"
	"github.com/tallyapp/tally/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep the queue draining in the background (foreground process)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Probe the remote service to track connectivity
  2. Drain the queue shortly after startup and whenever connectivity returns
  3. Drain on the configured schedule as a fallback
  4. Turn payload files dropped into the inbox folder into transactions
  5. Serve the status dashboard, when enabled

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		noInbox, _ := cmd.Flags().GetBool("no-inbox")
		if cmd.Flags().Changed("dashboard") {
			cfg.Dashboard.Enabled, _ = cmd.Flags().GetBool("dashboard")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := newApp(context.Background())
		defer a.Close()

		dcfg := &daemon.Config{
			Trigger: &daemon.TriggerConfig{
				SettleDelay:  cfg.Sync.SettleDelay,
				StartupDelay: cfg.Sync.StartupDelay,
				Schedule:     cfg.Sync.Schedule,
				Logger:       logger,
			},
			Monitor: a.monitor,
			Logger:  logger,
		}

		// Notices go to the log and, once it exists, the dashboard.
		var handler *dashboard.Handler
		notifier := notify.NotifierFunc(func(n notify.Notice) {
			notify.LogNotifier{Logger: logger}.Notify(n)
			if handler != nil {
				handler.Notify(n)
			}
		})

		a.engine = syncer.New(syncer.Config{
			Queue:        a.queue,
			Remote:       a.remote,
			Connectivity: a.conn,
			Notifier:     notifier,
			Logger:       logger,
		})

		var invalidators entry.MultiInvalidator
		if cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{Port: cfg.Dashboard.Port, Logger: logger})
			handler = dashboard.NewHandler(server, dashboard.HandlerConfig{
				Engine:       a.engine,
				Queue:        a.queue,
				Connectivity: a.conn,
				Logger:       logger,
			})
			defer handler.Close()

			invalidators = append(invalidators, handler)
			dcfg.Services = append(dcfg.Services, server)
		}

		svc := entry.New(entry.Config{
			Queue:        a.queue,
			Remote:       a.remote,
			Connectivity: a.conn,
			Invalidator:  invalidators,
			Notifier:     notifier,
			Logger:       logger,
		})

		if !noInbox {
			dcfg.Inbox = daemon.NewInbox(svc, daemon.InboxConfig{Dir: cfg.InboxDir(), Logger: logger})
		}

		d, err := daemon.New(a.engine, a.queue, a.conn, dcfg)
		if err != nil {
			fatalf("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting tally daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Remote: %s\n", cfg.Remote.URL)
		fmt.Printf("   Queue: %s\n", cfg.QueuePath())
		if dcfg.Inbox != nil {
			fmt.Printf("   Inbox: %s\n", dcfg.Inbox.Dir())
		}
		if cfg.Dashboard.Enabled {
			fmt.Printf("   Dashboard: http://127.0.0.1:%d\n", cfg.Dashboard.Port)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fatalf("daemon stopped: %v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the status dashboard (overrides dashboard.enabled)")
	daemonCmd.Flags().Bool("no-inbox", false, "Do not watch the inbox folder")

	rootCmd.AddCommand(daemonCmd)
}
