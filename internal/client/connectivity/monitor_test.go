package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan Status) Status {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("no status received")
		return Status{}
	}
}

func TestNewMonitor_InitialState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		signal   Signal
		expected Status
	}{
		{
			name:     "nil signal assumes online",
			signal:   nil,
			expected: AssumeOnline,
		},
		{
			name:     "reads platform state",
			signal:   NewManualSignal(Status{Online: false, Quality: QualityUnknown}),
			expected: Status{Online: false, Quality: QualityUnknown},
		},
		{
			name: "failing signal assumes online",
			signal: &SignalMock{
				CurrentFunc: func(ctx context.Context) (Status, error) {
					return Status{}, errors.New("no platform api")
				},
			},
			expected: AssumeOnline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(ctx, tt.signal, testLogger(), 0)
			assert.Equal(t, tt.expected, m.Status())
		})
	}
}

func TestMonitor_SubscribeReceivesCurrentThenChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal := NewManualSignal(Status{Online: false, Quality: QualityUnknown})
	m := NewMonitor(ctx, signal, testLogger(), time.Hour)
	go m.Run(ctx)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	assert.False(t, receive(t, ch).Online, "first value is the current state")

	signal.Set(Status{Online: true, Quality: QualityGood})
	got := receive(t, ch)
	assert.True(t, got.Online)
	assert.Equal(t, QualityGood, got.Quality)
	assert.True(t, m.Online())
}

func TestMonitor_UpdateSameStatusIsSilent(t *testing.T) {
	m := NewMonitor(context.Background(), nil, testLogger(), 0)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	receive(t, ch)

	m.Update(AssumeOnline)

	select {
	case s := <-ch:
		t.Fatalf("unexpected notification %v", s)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMonitor_SlowSubscriberGetsLatest(t *testing.T) {
	m := NewMonitor(context.Background(), nil, testLogger(), 0)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	// Подписчик не читает, пока идут переходы
	m.Update(Status{Online: false, Quality: QualityUnknown})
	m.Update(Status{Online: true, Quality: QualityPoor})
	m.Update(Status{Online: false, Quality: QualityPoor})

	got := receive(t, ch)
	assert.Equal(t, Status{Online: false, Quality: QualityPoor}, got)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(context.Background(), nil, testLogger(), 0)
	ch, unsubscribe := m.Subscribe()
	receive(t, ch)

	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		m.Update(Status{Online: false, Quality: QualityUnknown})
	})
}

func TestMonitor_PeriodicRecheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	online := make(chan bool, 1)
	online <- false
	current := false
	signal := &SignalMock{
		CurrentFunc: func(ctx context.Context) (Status, error) {
			select {
			case current = <-online:
			default:
			}
			return Status{Online: current, Quality: QualityUnknown}, nil
		},
		ChangesFunc: func() <-chan Status { return nil },
	}

	m := NewMonitor(ctx, signal, testLogger(), 10*time.Millisecond)
	require.False(t, m.Online())

	go m.Run(ctx)

	// Событие о переходе потеряно, спасает периодическая проверка
	online <- true
	assert.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
}

func TestMonitor_RunStopsWhenSignalCloses(t *testing.T) {
	signal := NewManualSignal(AssumeOnline)
	m := NewMonitor(context.Background(), signal, testLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	signal.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after signal closed")
	}
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "online (good)", Status{Online: true, Quality: QualityGood}.String())
	assert.Equal(t, "offline (unknown)", Status{Quality: QualityUnknown}.String())
}
