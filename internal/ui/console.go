package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tallyapp/tally/internal/notify"
	"github.com/tallyapp/tally/internal/schema"
	"github.com/tallyapp/tally/internal/syncer"
)

// Console prints notices to a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole returns a Console writing to out (stdout when nil).
func NewConsole(out io.Writer) *Console {
	return &Console{out: Writer(out)}
}

// Notify implements notify.Notifier.
func (c *Console) Notify(n notify.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, FormatNotice(n))
}

// FormatNotice renders a notice as a single styled line.
func FormatNotice(n notify.Notice) string {
	var icon string
	switch n.Level {
	case notify.LevelSuccess:
		icon = RenderPass("✓")
	case notify.LevelWarning:
		icon = RenderWarn("!")
	case notify.LevelError:
		icon = RenderFail("✗")
	default:
		icon = RenderAccent("•")
	}
	if n.Message == "" {
		return fmt.Sprintf("%s %s", icon, n.Title)
	}
	return fmt.Sprintf("%s %s %s", icon, n.Title, RenderMuted(n.Message))
}

// FormatResult renders the outcome of a drain.
func FormatResult(r syncer.Result) string {
	switch {
	case r.Skipped != "":
		return RenderWarn("Sync skipped: ") + r.Summary()
	case r.Err != nil:
		return RenderFail("Sync failed: ") + r.Err.Error()
	case r.FailureCount > 0 || r.Interrupted:
		var b strings.Builder
		b.WriteString(RenderWarn(r.Summary()))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "\n  %s %s", RenderMuted(e.LocalID), e.Error)
		}
		return b.String()
	default:
		return RenderPass(r.Summary())
	}
}

// FormatQueued renders one queue record for list output.
func FormatQueued(q *schema.QueuedTransaction) string {
	state := RenderWarn("pending")
	if !q.Pending() {
		state = RenderPass("synced ")
	}
	line := fmt.Sprintf("%s  %s  %s  %s %s  %s",
		RenderMuted(q.LocalID),
		state,
		q.Payload.OccurredAt.Format(schema.DateLayout),
		q.Payload.Kind,
		q.Payload.Amount.StringFixed(2),
		q.Payload.Description,
	)
	if q.SyncAttempts > 0 && q.Pending() {
		line += RenderMuted(fmt.Sprintf("  (%d attempts: %s)", q.SyncAttempts, q.LastError))
	}
	return line
}
