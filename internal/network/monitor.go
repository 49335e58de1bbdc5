package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/metrics"
)

// Monitor tracks fleet API reachability by probing a URL on an interval.
// Transitions are edge triggered: subscribers hear about offline->online and
// online->offline flips, never about a state that merely persisted.
type Monitor struct {
	probeURL  string
	interval  time.Duration
	threshold int
	client    *http.Client
	logger    *zerolog.Logger

	mu            sync.RWMutex
	online        bool
	failures      int
	lastChangedAt time.Time
	subscribers   map[int]chan bool
	nextSubID     int
}

func NewMonitor(cfg config.NetworkConfig, logger *zerolog.Logger) *Monitor {
	return &Monitor{
		probeURL:  cfg.ProbeURL,
		interval:  time.Duration(cfg.ProbeIntervalSeconds) * time.Second,
		threshold: cfg.FailureThreshold,
		client: &http.Client{
			Timeout: time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		},
		logger: logger,
		// Start optimistic. The first failed probe window corrects this
		// faster than holding every action back on a cold start would.
		online:        true,
		lastChangedAt: time.Now().UTC(),
		subscribers:   make(map[int]chan bool),
	}
}

// Start runs the probe loop until ctx is cancelled. An immediate probe fires
// before the first tick so startup state settles quickly.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Str("probe_url", m.probeURL).Dur("interval", m.interval).Msg("network monitor started")
	defer m.logger.Info().Msg("network monitor stopped")

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.recordFailure(err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.recordFailure(err)
		return
	}
	resp.Body.Close()

	// Any HTTP response proves the link, even an error status.
	m.recordSuccess()
}

func (m *Monitor) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.setOnlineLocked(true)
}

func (m *Monitor) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.logger.Debug().Err(err).Int("consecutive_failures", m.failures).Msg("network probe failed")
	if m.failures >= m.threshold {
		m.setOnlineLocked(false)
	}
}

// IsOnline reports the last settled connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline forces the connectivity state, bypassing the probe loop. Used by
// the HTTP control surface and by tests; the next probe may override it.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.setOnlineLocked(online)
}

// LastChangedAt returns when connectivity last flipped.
func (m *Monitor) LastChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastChangedAt
}

// Subscribe registers for connectivity transitions. The returned channel
// carries the new state; a slow subscriber may miss intermediate flips, so
// treat a receive as a wakeup and consult IsOnline for the current state.
// The cancel func must be called to release the subscription.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan bool, 1)
	m.subscribers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// setOnlineLocked applies a state change and notifies subscribers on the
// edge. Caller holds m.mu.
func (m *Monitor) setOnlineLocked(online bool) {
	if m.online == online {
		return
	}
	m.online = online
	m.lastChangedAt = time.Now().UTC()

	m.logger.Info().Bool("online", online).Msg("connectivity changed")
	metrics.SetOnline(online)

	for _, ch := range m.subscribers {
		select {
		case ch <- online:
		default:
			// Subscriber still holds an unread wakeup; it will read the
			// latest state from IsOnline when it drains.
		}
	}
}
