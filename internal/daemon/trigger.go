package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tallyapp/tally/internal/syncer"
)

// Drainer runs one drain. *syncer.Engine satisfies it.
type Drainer interface {
	Drain(ctx context.Context) syncer.Result
}

// PendingCounter reports how many items are queued. *queue.Queue satisfies
// it.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// TriggerConfig holds configuration for the drain trigger.
type TriggerConfig struct {
	// SettleDelay is how long connectivity must stay online after a
	// reconnect before a drain starts. A new transition restarts the wait.
	SettleDelay time.Duration

	// StartupDelay is how long after Start the startup check runs.
	StartupDelay time.Duration

	// Schedule is a cron spec for a periodic fallback drain. Empty disables
	// it.
	Schedule string

	// Logger for trigger activity
	Logger logrus.FieldLogger
}

// DefaultTriggerConfig returns sensible defaults.
func DefaultTriggerConfig() *TriggerConfig {
	return &TriggerConfig{
		SettleDelay:  2 * time.Second,
		StartupDelay: 1 * time.Second,
		Schedule:     "@every 5m",
		Logger:       logrus.StandardLogger(),
	}
}

// Trigger calls Drain when connectivity returns, shortly after startup and
// on an optional schedule. Every trigger is best-effort; a missed one is
// caught by the next.
type Trigger struct {
	drainer Drainer
	counter PendingCounter
	conn    Connectivity
	config  *TriggerConfig
	logger  logrus.FieldLogger

	mu          sync.Mutex
	running     bool
	settle      *time.Timer
	cron        *cron.Cron
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewTrigger creates a trigger. Use Start to arm it.
func NewTrigger(drainer Drainer, counter PendingCounter, conn Connectivity, config *TriggerConfig) *Trigger {
	if config == nil {
		config = DefaultTriggerConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Trigger{
		drainer: drainer,
		counter: counter,
		conn:    conn,
		config:  config,
		logger:  config.Logger.WithField("component", "trigger"),
	}
}

// Start registers the connectivity handler, schedules the startup check and
// starts the cron schedule. It returns immediately.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("trigger already running")
	}

	var c *cron.Cron
	if t.config.Schedule != "" {
		c = cron.New()
		if _, err := c.AddFunc(t.config.Schedule, func() { t.run("schedule", true) }); err != nil {
			return fmt.Errorf("invalid sync schedule %q: %w", t.config.Schedule, err)
		}
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	t.unsubscribe = t.conn.Subscribe(t.onTransition)

	t.wg.Add(1)
	go t.startup()

	if c != nil {
		t.cron = c
		c.Start()
	}

	t.logger.WithFields(logrus.Fields{
		"settle_delay":  t.config.SettleDelay,
		"startup_delay": t.config.StartupDelay,
		"schedule":      t.config.Schedule,
	}).Debug("Trigger armed")
	return nil
}

// Stop disarms every trigger and waits for a drain started by the trigger
// to finish.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.unsubscribe()
	t.cancel()
	if t.settle != nil {
		t.settle.Stop()
		t.settle = nil
	}
	c := t.cron
	t.cron = nil
	t.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	t.wg.Wait()
}

// onTransition debounces reconnects: going online (re)starts the settle
// timer, going offline cancels it.
func (t *Trigger) onTransition(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	if t.settle != nil {
		t.settle.Stop()
		t.settle = nil
	}
	if !online {
		t.logger.Debug("Went offline, pending drain cancelled")
		return
	}

	t.logger.WithField("delay", t.config.SettleDelay).Debug("Back online, waiting to settle")
	t.settle = time.AfterFunc(t.config.SettleDelay, func() { t.run("reconnect", false) })
}

func (t *Trigger) startup() {
	defer t.wg.Done()

	select {
	case <-t.ctx.Done():
		return
	case <-time.After(t.config.StartupDelay):
	}
	t.drainOnce("startup", true)
}

// run is the entry point for timer and cron callbacks, which are not tracked
// by the wait group until they register here.
func (t *Trigger) run(reason string, onlyIfPending bool) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	t.drainOnce(reason, onlyIfPending)
}

func (t *Trigger) drainOnce(reason string, onlyIfPending bool) {
	log := t.logger.WithField("reason", reason)

	if !t.conn.Online() {
		log.Debug("Offline, not draining")
		return
	}

	if onlyIfPending {
		n, err := t.counter.CountPending(t.ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to count pending transactions")
			return
		}
		if n == 0 {
			return
		}
	}

	log.Info("Triggering drain")
	result := t.drainer.Drain(t.ctx)
	if result.Skipped != "" {
		log.WithField("skipped", result.Skipped).Debug("Drain skipped")
	}
}
