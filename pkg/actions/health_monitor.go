package actions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultHealthInterval is the default duration between liveness probes
	DefaultHealthInterval = 30 * time.Second

	// MinHealthInterval keeps the probe from hammering a public RPC node
	MinHealthInterval = 5 * time.Second
	// MaxHealthInterval keeps the chain_up gauge reasonably fresh
	MaxHealthInterval = 10 * time.Minute
)

// Prober reports whether the chain node answers.
type Prober interface {
	Connected(ctx context.Context) bool
}

// Gauge receives each probe result.
type Gauge interface {
	SetChainUp(up bool)
}

// HealthMonitor probes the chain node periodically, feeds the result to a
// gauge and logs every change of state.
type HealthMonitor struct {
	prober  Prober
	gauge   Gauge
	logger  *logrus.Logger
	config  ActionConfig
	timeout time.Duration

	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	up   bool
	seen bool
}

// NewHealthMonitor creates the monitor. gauge may be nil.
func NewHealthMonitor(prober Prober, gauge Gauge, logger *logrus.Logger, config ActionConfig) (*HealthMonitor, error) {
	if config.Name == "" {
		config.Name = "chain_health"
	}
	if config.Interval == 0 {
		config.Interval = DefaultHealthInterval
	}
	if config.Interval < MinHealthInterval || config.Interval > MaxHealthInterval {
		return nil, fmt.Errorf("interval must be between %v and %v", MinHealthInterval, MaxHealthInterval)
	}

	timeout := config.Interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}

	return &HealthMonitor{
		prober:  prober,
		gauge:   gauge,
		logger:  logger,
		config:  config,
		timeout: timeout,
		done:    make(chan struct{}),
	}, nil
}

// Name returns the unique identifier for this action
func (h *HealthMonitor) Name() string {
	return h.config.Name
}

// Execute implements the Action interface
func (h *HealthMonitor) Execute(ctx context.Context) error {
	log := h.logger.WithField("interval", h.config.Interval)
	log.Info("Starting chain health monitoring")

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

// Stop implements the Action interface
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Probe runs one liveness check and returns its result.
func (h *HealthMonitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	up := h.prober.Connected(ctx)
	if h.gauge != nil {
		h.gauge.SetChainUp(up)
	}

	h.mu.Lock()
	changed := !h.seen || h.up != up
	h.up, h.seen = up, true
	h.mu.Unlock()

	if changed {
		entry := h.logger.WithField("connected", up)
		if up {
			entry.Info("Chain node reachable")
		} else {
			entry.Warn("Chain node unreachable")
		}
	}
	return up
}

// Up reports the result of the last probe.
func (h *HealthMonitor) Up() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.up
}
