// Package connectivity tracks online/offline transitions.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRecheckInterval is the safety-net re-read of the platform signal.
const DefaultRecheckInterval = 5 * time.Minute

// Monitor exposes the current connectivity and a stream of transitions.
type Monitor struct {
	signal  Signal
	logger  *slog.Logger
	subs    map[int]chan Status
	status  Status
	recheck time.Duration
	nextSub int
	mu      sync.Mutex
}

// NewMonitor reads the initial state from signal. A nil signal, or one that
// fails to report, means online.
func NewMonitor(ctx context.Context, signal Signal, logger *slog.Logger, recheck time.Duration) *Monitor {
	if recheck <= 0 {
		recheck = DefaultRecheckInterval
	}

	m := &Monitor{
		signal:  signal,
		logger:  logger,
		subs:    make(map[int]chan Status),
		status:  AssumeOnline,
		recheck: recheck,
	}

	if signal != nil {
		status, err := signal.Current(ctx)
		if err != nil {
			logger.Warn("connectivity signal unavailable, assuming online", slog.Any("error", err))
		} else {
			m.status = status
		}
	}

	return m
}

// Status returns the current state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Online reports whether the client is currently online.
func (m *Monitor) Online() bool {
	return m.Status().Online
}

// Subscribe returns a channel that first receives the current status and then
// every transition. A slow subscriber only ever misses intermediate states:
// the latest status replaces an undelivered older one. Call cancel to
// unsubscribe; it closes the channel.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.status
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// Update records a new status and notifies subscribers if it changed.
func (m *Monitor) Update(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status == m.status {
		return
	}
	prev := m.status
	m.status = status

	m.logger.Info("connectivity changed",
		slog.Bool("online", status.Online),
		slog.String("quality", string(status.Quality)),
		slog.Bool("was_online", prev.Online))

	for _, ch := range m.subs {
		publishLatest(ch, status)
	}
}

// Run listens to the signal and re-checks it periodically until ctx is done
// or the signal stops.
func (m *Monitor) Run(ctx context.Context) {
	if m.signal == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.recheck)
	defer ticker.Stop()

	changes := m.signal.Changes()
	for {
		select {
		case <-ctx.Done():
			return

		case status, ok := <-changes:
			if !ok {
				m.logger.Debug("connectivity signal closed")
				return
			}
			m.Update(status)

		case <-ticker.C:
			status, err := m.signal.Current(ctx)
			if err != nil {
				m.logger.Warn("connectivity re-check failed", slog.Any("error", err))
				continue
			}
			m.Update(status)
		}
	}
}

// publishLatest delivers status to a one-slot channel, replacing a stale
// undelivered value.
func publishLatest(ch chan Status, status Status) {
	for {
		select {
		case ch <- status:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
