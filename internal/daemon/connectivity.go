package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Connectivity is a synchronous online flag that can be subscribed to for
// transitions. Monitor and Static implement it.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Prober checks whether the remote service is reachable.
// *remote.Client satisfies it.
type Prober interface {
	Health(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Health calls f(ctx).
func (f ProberFunc) Health(ctx context.Context) error { return f(ctx) }

// subscribers is a set of transition callbacks shared by Monitor and Static.
type subscribers struct {
	mu     sync.Mutex
	fns    map[int]func(bool)
	nextID int
}

func (s *subscribers) add(fn func(bool)) func() {
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[int]func(bool))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) emit(online bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Static is a Connectivity whose state is set by hand. It backs the
// --offline flag and tests.
type Static struct {
	online atomic.Bool
	subs   subscribers
}

// NewStatic returns a Static starting in the given state.
func NewStatic(online bool) *Static {
	s := &Static{}
	s.online.Store(online)
	return s
}

// Online implements Connectivity.
func (s *Static) Online() bool { return s.online.Load() }

// Subscribe implements Connectivity.
func (s *Static) Subscribe(fn func(bool)) func() { return s.subs.add(fn) }

// Set changes the state and notifies subscribers if it changed.
func (s *Static) Set(online bool) {
	if s.online.Swap(online) != online {
		s.subs.emit(online)
	}
}

// MonitorConfig holds configuration for the connectivity monitor.
type MonitorConfig struct {
	// ProbeInterval is how often the remote service is probed.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// Logger for monitor activity
	Logger logrus.FieldLogger
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Logger:        logrus.StandardLogger(),
	}
}

// Monitor derives connectivity from periodic health probes of the remote
// service. It starts offline until the first probe succeeds.
type Monitor struct {
	prober Prober
	config *MonitorConfig
	logger logrus.FieldLogger

	online atomic.Bool
	subs   subscribers

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor. Use Start to begin probing.
func NewMonitor(prober Prober, config *MonitorConfig) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	defaults := DefaultMonitorConfig()
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Monitor{
		prober: prober,
		config: config,
		logger: config.Logger.WithField("component", "connectivity"),
	}
}

// Online implements Connectivity.
func (m *Monitor) Online() bool { return m.online.Load() }

// Subscribe implements Connectivity.
func (m *Monitor) Subscribe(fn func(bool)) func() { return m.subs.add(fn) }

// Check probes once, updates the state and returns it.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	err := m.prober.Health(ctx)
	online := err == nil
	if err != nil {
		m.logger.WithError(err).Debug("Health probe failed")
	}

	if m.online.Swap(online) != online {
		if online {
			m.logger.Info("Remote service reachable")
		} else {
			m.logger.Warn("Remote service unreachable")
		}
		m.subs.emit(online)
	}
	return online
}

// Start probes once synchronously, then keeps probing in the background
// until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	m.mu.Unlock()

	m.Check(ctx)

	m.wg.Add(1)
	go m.probeLoop(ctx)
	return nil
}

// Stop halts probing and waits for the probe loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
