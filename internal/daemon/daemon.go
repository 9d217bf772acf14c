package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Service is an optional component whose lifetime the daemon manages, such
// as the dashboard server.
type Service interface {
	Start() error
	Stop() error
}

// Config holds configuration for the daemon.
type Config struct {
	Trigger *TriggerConfig

	// Inbox is nil when the drop folder is disabled.
	Inbox *Inbox

	// Monitor is started and stopped with the daemon when set. Leave it nil
	// when connectivity is provided some other way (e.g. Static).
	Monitor *Monitor

	// Services are started after the trigger and stopped first.
	Services []Service

	// Logger for daemon activity
	Logger logrus.FieldLogger
}

// Daemon keeps the queue draining in the background: it probes
// connectivity, arms the drain trigger, watches the inbox and runs any
// extra services until it is stopped.
type Daemon struct {
	conn    Connectivity
	config  *Config
	trigger *Trigger
	logger  logrus.FieldLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsub   func()
}

// New creates a daemon. drainer and counter are normally the sync engine and
// the queue; conn is the connectivity source the trigger listens to.
func New(drainer Drainer, counter PendingCounter, conn Connectivity, config *Config) (*Daemon, error) {
	if drainer == nil {
		return nil, fmt.Errorf("drainer cannot be nil")
	}
	if counter == nil {
		return nil, fmt.Errorf("counter cannot be nil")
	}
	if conn == nil {
		return nil, fmt.Errorf("connectivity cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Trigger == nil {
		config.Trigger = DefaultTriggerConfig()
	}
	if config.Trigger.Logger == nil {
		config.Trigger.Logger = config.Logger
	}

	return &Daemon{
		conn:    conn,
		config:  config,
		trigger: NewTrigger(drainer, counter, conn, config.Trigger),
		logger:  config.Logger.WithField("component", "daemon"),
	}, nil
}

// Start runs the daemon and blocks until ctx is cancelled, then shuts down
// gracefully.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true
	d.mu.Unlock()

	d.logger.Info("Starting daemon")

	if d.config.Monitor != nil {
		if err := d.config.Monitor.Start(ctx); err != nil {
			d.Stop()
			return fmt.Errorf("failed to start connectivity monitor: %w", err)
		}
	}

	if err := d.trigger.Start(ctx); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start trigger: %w", err)
	}

	if in := d.config.Inbox; in != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := in.Run(ctx); err != nil {
				d.logger.WithError(err).Error("Inbox stopped")
			}
		}()

		// Files left behind by a failed online create get another chance
		// once the connection returns.
		d.unsub = d.conn.Subscribe(func(online bool) {
			if !online {
				return
			}
			d.mu.Lock()
			if !d.running {
				d.mu.Unlock()
				return
			}
			d.wg.Add(1)
			d.mu.Unlock()

			go func() {
				defer d.wg.Done()
				if _, err := in.ProcessExisting(ctx); err != nil {
					d.logger.WithError(err).Warn("Inbox rescan failed")
				}
			}()
		})
	}

	for _, svc := range d.config.Services {
		if err := svc.Start(); err != nil {
			d.Stop()
			return fmt.Errorf("failed to start service: %w", err)
		}
	}

	d.logger.WithField("online", d.conn.Online()).Info("Daemon running")

	<-ctx.Done()
	d.logger.Info("Shutdown signal received")
	d.Stop()
	return nil
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	unsub := d.unsub
	d.unsub = nil
	d.mu.Unlock()

	d.logger.Info("Stopping daemon")

	if unsub != nil {
		unsub()
	}

	for i := len(d.config.Services) - 1; i >= 0; i-- {
		if err := d.config.Services[i].Stop(); err != nil {
			d.logger.WithError(err).Warn("Error stopping service")
		}
	}

	d.trigger.Stop()

	if d.config.Monitor != nil {
		d.config.Monitor.Stop()
	}

	d.wg.Wait()
	d.logger.Info("Daemon stopped")
}
