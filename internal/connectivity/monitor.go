// Package connectivity tracks whether the remote store is reachable.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scout-sync/internal/logging"
)

// Prober checks reachability of the remote side. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// MonitorConfig holds configuration for a Monitor
type MonitorConfig struct {
	// Prober is optional; without it the signal only changes through SetOnline
	Prober        Prober
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	InitialOnline bool
}

// Monitor exposes a boolean online signal and notifies subscribers on every
// transition. It never retries or backs off on its own.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger

	mu     sync.RWMutex
	online bool

	// transitionMu orders state changes with their notifications
	transitionMu sync.Mutex
	subsMu       sync.Mutex
	subs         map[int]func(bool)
	nextSubID    int

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a connectivity monitor
func NewMonitor(cfg MonitorConfig) *Monitor {
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Monitor{
		prober:   cfg.Prober,
		interval: interval,
		timeout:  timeout,
		online:   cfg.InitialOnline,
		logger:   logging.WithComponent("connectivity"),
		subs:     make(map[int]func(bool)),
	}
}

// IsOnline returns the current signal
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline updates the signal. Subscribers are only called on a change.
// Callbacks run synchronously and must not call SetOnline themselves.
func (m *Monitor) SetOnline(online bool) {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.WithField("online", online).Info("Connectivity changed")
	for _, fn := range m.subscribers() {
		fn(online)
	}
}

// Subscribe delivers the current state to fn immediately and then every
// transition. The returned func unsubscribes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.subsMu.Unlock()

	fn(m.IsOnline())

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *Monitor) subscribers() []func(bool) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return fns
}

// Check runs a single probe and applies its result
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if err != nil {
		m.logger.WithError(err).Debug("Probe failed")
	}
	online := err == nil
	m.SetOnline(online)
	return online
}

// Start runs the probe loop. Without a prober it does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("connectivity monitor is already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	m.logger.WithField("interval", m.interval.String()).Info("Starting connectivity probe loop")

	m.Check(ctx)
	go m.probeLoop(ctx, m.stopCh, m.doneCh)
	return nil
}

// Stop stops the probe loop and waits for it to exit
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.runMu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		m.logger.Info("Connectivity probe loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) probeLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
