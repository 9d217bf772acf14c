package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tallyapp/tally/internal/daemon"
	"github.com/tallyapp/tally/internal/entry"
	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/queue"
	"github.com/tallyapp/tally/internal/remote"
	"github.com/tallyapp/tally/internal/syncer"
	"github.com/tallyapp/tally/internal/ui"
)

// app holds the collaborators shared by the commands.
type app struct {
	queue    *queue.Queue
	remote   *remote.Client
	monitor  *daemon.Monitor
	conn     daemon.Connectivity
	engine   *syncer.Engine
	entry    *entry.Service
	notifier notify.Multi
}

// openQueue opens the queue without touching the network. The queue is
// returned even when opening fails; every later operation retries the open.
func openQueue(ctx context.Context) (*queue.Queue, error) {
	q := queue.New(cfg.QueuePath())
	return q, q.Open(ctx)
}

// newApp wires the queue, remote client, connectivity, engine and entry
// service. Unless --offline is set, connectivity starts from one
// synchronous health probe.
func newApp(ctx context.Context) *app {
	q, err := openQueue(ctx)
	if err != nil {
		// Online writes still work; offline ones fail with a notice.
		logger.WithError(err).Warn("Offline queue unavailable")
	}

	client := remote.New(remote.Config{
		BaseURL: cfg.Remote.URL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
	})

	a := &app{
		queue:  q,
		remote: client,
		notifier: notify.Multi{
			ui.NewConsole(os.Stderr),
			notify.LogNotifier{Logger: logger},
		},
	}

	if forceOffline {
		a.conn = daemon.NewStatic(false)
	} else {
		a.monitor = daemon.NewMonitor(client, &daemon.MonitorConfig{
			ProbeInterval: cfg.Sync.ProbeInterval,
			ProbeTimeout:  cfg.Sync.ProbeTimeout,
			Logger:        logger,
		})
		a.monitor.Check(ctx)
		a.conn = a.monitor
	}

	a.engine = syncer.New(syncer.Config{
		Queue:        q,
		Remote:       client,
		Connectivity: a.conn,
		Notifier:     a.notifier,
		Logger:       logger,
	})
	a.entry = entry.New(entry.Config{
		Queue:        q,
		Remote:       client,
		Connectivity: a.conn,
		Notifier:     a.notifier,
		Logger:       logger,
	})
	return a
}

func (a *app) Close() {
	_ = a.queue.Close()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
