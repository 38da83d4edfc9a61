package connectivity

import (
	"context"
	"sync"
)

// ManualSignal is a Signal driven by the host application, for example from
// a --offline flag or an OS callback the application already receives.
type ManualSignal struct {
	changes chan Status
	status  Status
	mu      sync.Mutex
	closed  bool
}

var _ Signal = (*ManualSignal)(nil)

// NewManualSignal creates a signal with the given initial state.
func NewManualSignal(initial Status) *ManualSignal {
	return &ManualSignal{
		status:  initial,
		changes: make(chan Status, 16),
	}
}

// Current returns the last set status.
func (s *ManualSignal) Current(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// Changes implements Signal.
func (s *ManualSignal) Changes() <-chan Status {
	return s.changes
}

// Set updates the state and notifies listeners. Setting the same state is a no-op.
func (s *ManualSignal) Set(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.status == status {
		return
	}
	s.status = status

	select {
	case s.changes <- status:
	default:
		// Монитор перечитает Current при следующей проверке
	}
}

// SetOnline is Set with an unknown quality.
func (s *ManualSignal) SetOnline(online bool) {
	s.Set(Status{Online: online, Quality: QualityUnknown})
}

// Close stops the signal.
func (s *ManualSignal) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.changes)
	}
}
