// Package netstatus watches network reachability and reports transitions
// between online and offline.
package netstatus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/logging"
)

// Probe reports whether the network is reachable.
type Probe func(ctx context.Context) bool

// Monitor polls Probe every Interval and calls OnChange when the result
// differs from the last one. The first probe is compared against Initial.
type Monitor struct {
	Probe    Probe
	Interval time.Duration
	Initial  bool
	OnChange func(ctx context.Context, online bool)

	mu     sync.Mutex
	online bool
	primed bool
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		return m.Initial
	}
	return m.online
}

// Run probes immediately, then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.Probe == nil {
		return errors.New("netstatus: probe is required")
	}
	if m.Interval <= 0 {
		return errors.New("netstatus: interval must be positive")
	}
	logging.Debugw(ctx, "netstatus: monitor started", "interval", m.Interval)

	m.Check(ctx)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Debugw(ctx, "netstatus: monitor stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs the probe once and reports a transition if there was one.
func (m *Monitor) Check(ctx context.Context) {
	online := m.Probe(ctx)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	prev := m.Initial
	if m.primed {
		prev = m.online
	}
	m.online, m.primed = online, true
	m.mu.Unlock()

	if online == prev {
		return
	}
	logging.Infow(ctx, "netstatus: connectivity changed", "online", online)
	if m.OnChange != nil {
		m.OnChange(ctx, online)
	}
}

// HTTPProbe returns a probe that treats any HTTP response from url within
// timeout as reachable.
func HTTPProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			logging.Debugw(ctx, "netstatus: probe failed", "url", url, "error", err)
			return false
		}
		resp.Body.Close()
		return true
	}
}
