// Package connwatch tracks whether the services a reply depends on
// (the model backend, the mailbox) are reachable, for the health
// endpoint and the logs.
//
// Each watched service is checked on its own goroutine. While a service
// is up it is checked every Interval; while it is down the delay grows
// from MinBackoff to MaxBackoff so an outage is noticed quickly to end
// without hammering a dead endpoint.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// CheckFunc checks whether a service is reachable. Return nil if healthy.
type CheckFunc func(ctx context.Context) error

// Config controls check timing. Zero fields take the defaults.
type Config struct {
	// Interval is the delay between checks of a healthy service (default: 60s).
	Interval time.Duration

	// MinBackoff is the first retry delay after a failure (default: 2s).
	MinBackoff time.Duration

	// MaxBackoff caps the retry delay (default: 60s).
	MaxBackoff time.Duration

	// Timeout limits each check call (default: 10s).
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// backoff returns the retry delay after the given number of
// consecutive failures.
func (c Config) backoff(failures int) time.Duration {
	d := c.MinBackoff
	for i := 1; i < failures && d < c.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.MaxBackoff)
}

// Status is the health of one watched service, as reported by the
// health endpoint.
type Status struct {
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

// Monitor checks a set of services in the background.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	services map[string]*Status
}

// NewMonitor creates a Monitor with no services.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		services: make(map[string]*Status),
	}
}

// Watch starts checking a service until ctx is cancelled. The service
// reports not ready until its first check succeeds.
func (m *Monitor) Watch(ctx context.Context, name string, check CheckFunc) {
	m.mu.Lock()
	m.services[name] = &Status{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, name, check)
	}()
}

// Wait blocks until every watch goroutine has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Status returns a snapshot of every watched service.
func (m *Monitor) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.services))
	for name, s := range m.services {
		out[name] = *s
	}
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.services {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Names returns the watched service names in sorted order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Monitor) run(ctx context.Context, name string, check CheckFunc) {
	log := m.logger.With("service", name)
	everReady := false

	for {
		checkCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		err := check(checkCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		wasReady, failures := m.record(name, err)

		var delay time.Duration
		switch {
		case err == nil && !wasReady && !everReady:
			log.Info("service connected")
			everReady = true
		case err == nil && !wasReady:
			log.Info("service recovered")
		case err != nil && wasReady:
			log.Warn("service became unreachable", "error", err)
		case err != nil:
			log.Debug("service still unreachable", "failures", failures, "error", err)
		}
		if err == nil {
			delay = m.cfg.Interval
		} else {
			delay = m.cfg.backoff(failures)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// record stores a check result and returns the previous readiness and
// the new consecutive failure count.
func (m *Monitor) record(name string, err error) (wasReady bool, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.services[name]
	wasReady = s.Ready
	s.LastCheck = time.Now()
	if err != nil {
		s.Ready = false
		s.LastError = err.Error()
		s.Failures++
	} else {
		s.Ready = true
		s.LastError = ""
		s.Failures = 0
	}
	return wasReady, s.Failures
}
