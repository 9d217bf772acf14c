// Package syncer drives queued offline transactions to the remote service.
//
// Overview
//
// An Engine owns one drain at a time. A drain snapshots the pending records
// of the local queue, submits them one by one, records the outcome of every
// attempt and finally prunes confirmed records:
//
//	queue.ListPending()
//	     ↓
//	for each item (sequential):
//	     remote.CreateTransaction(payload, Idempotency-Key: localID)
//	       ├── ok   → queue.MarkSynced(localID, remoteID)
//	       └── fail → queue.RecordAttemptFailure(localID, msg)
//	     ↓
//	queue.PruneSynced()
//
// Usage
//
//	engine := syncer.New(syncer.Config{
//	    Queue:        q,
//	    Remote:       client,
//	    Connectivity: monitor,
//	})
//
//	unsubscribe := engine.Subscribe(func(ev syncer.Event) {
//	    fmt.Println(ev.Status)
//	})
//	defer unsubscribe()
//
//	result := engine.Drain(ctx)
//	fmt.Println(result.Summary())
//
// Status
//
// Every drain moves through Idle → Syncing → Success|Error → Idle. A drain
// that finds nothing to do goes straight back to Idle. Listeners receive
// each transition; terminal events carry the Result.
//
// Error Handling
//
// Failures are isolated per item:
//
//   - A rejected or unreachable remote write is recorded against the item
//   - A bookkeeping fault (queue I/O) is treated the same way
//   - Neither aborts the batch; the item is retried on the next drain
//
// There is no backoff and no attempt ceiling. SyncAttempts is informational.
//
// Cancelling the context passed to Drain stops the drain before the next
// item. Items that were not submitted, and the one whose submission was cut
// short, stay pending with their attempt counts unchanged; the result has
// Interrupted set.
//
// Concurrency
//
// Drain is safe to call from any goroutine. A call made while another drain
// is running returns immediately with Skipped set to SkipInProgress and
// makes no remote calls. Delivery is at-least-once: a timeout after the
// remote committed leads to a resubmission, which the Idempotency-Key lets a
// cooperating server collapse.
package syncer
