// Package daemon keeps the offline queue draining without user action.
//
// # Architecture
//
// The daemon consists of several components:
//
//   - Monitor: derives online/offline from periodic health probes of the
//     remote service; Static is a hand-set alternative
//   - Trigger: calls Drain when connectivity returns (after a settle delay),
//     shortly after startup if items are pending, and on a cron schedule
//   - FileWatcher: fsnotify-based watcher for *.json files in one directory
//   - Inbox: imports payload files dropped into a folder through the write
//     façade
//   - Daemon: starts and stops all of the above plus optional services such
//     as the dashboard
//
// # Triggers
//
//	monitor := daemon.NewMonitor(client, nil)
//	trigger := daemon.NewTrigger(engine, q, monitor, daemon.DefaultTriggerConfig())
//
//	if err := monitor.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := trigger.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer trigger.Stop()
//
// Reconnects are debounced: every offline→online transition restarts the
// settle timer and an online→offline transition cancels it, so a flapping
// link drains once it has been stable for SettleDelay. All triggers are
// best-effort; a second trigger firing during a drain is rejected by the
// engine.
//
// # Inbox
//
// Any *.json file written into the inbox directory is parsed as a
// transaction payload:
//
//	{"type":"expense","amount":"12.50","description":"Lunch",
//	 "category":"Food","date":"2026-10-14"}
//
// Imported files are deleted. Files that fail validation move to
// inbox/rejected/. Files whose import failed for other reasons are left in
// place and retried on the next start or reconnect. Writers should create
// the file under a dot-prefixed name and rename it into place; dotfiles are
// ignored.
//
// # Graceful Shutdown
//
// Cancel the context passed to Daemon.Start, or call Stop. Stop:
//  1. Stops extra services in reverse order
//  2. Disarms the trigger and waits for a drain it started
//  3. Stops the connectivity monitor
//  4. Waits for the inbox loop to exit
package daemon
