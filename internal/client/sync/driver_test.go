package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/cache"
	"github.com/iudanet/offsync/internal/client/conflict"
	"github.com/iudanet/offsync/internal/client/connectivity"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/client/transport"
	"github.com/iudanet/offsync/internal/models"
)

type harness struct {
	driver   *Driver
	queue    *queue.Queue
	cache    *cache.Cache[models.Value]
	resolver *conflict.Resolver
	monitor  *connectivity.Monitor
	tr       *transport.TransportMock
}

var (
	offline = connectivity.Status{Online: false, Quality: connectivity.QualityUnknown}
	online  = connectivity.Status{Online: true, Quality: connectivity.QualityGood}
)

// tick returns a clock that advances by one second on every call.
func tick() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newHarness(t *testing.T, tr *transport.TransportMock, cfg Config, opts ...Option) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		queue:    queue.New(nil, logger, queue.Config{}, queue.WithClock(tick())),
		cache:    cache.New[models.Value](nil, logger),
		resolver: conflict.New(nil, logger, conflict.DefaultRules()),
		monitor:  connectivity.NewMonitor(context.Background(), nil, logger, 0),
		tr:       tr,
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.PeriodicInterval == 0 {
		cfg.PeriodicInterval = time.Hour
	}
	h.driver = NewDriver(h.queue, h.cache, h.resolver, h.monitor, tr, logger, cfg, opts...)
	return h
}

func okTransport() *transport.TransportMock {
	return &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			return transport.Result{EntityID: op.TargetID}, nil
		},
	}
}

func tripCreate(priority models.Priority) models.PendingOperation {
	return models.PendingOperation{
		Kind:             models.OperationCreate,
		TargetCollection: "trips",
		Payload:          models.MustParseValue(`{"name":"Lake"}`),
		Priority:         priority,
	}
}

func TestDriver_OfflineCreateDeliveredAfterReconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{})
	h.monitor.Update(offline)

	id, err := h.driver.Write(ctx, tripCreate(models.PriorityHigh))
	require.NoError(t, err)
	assert.Empty(t, h.tr.SendCalls())
	assert.Equal(t, 1, h.queue.Len())

	v, ok, err := h.driver.Read(ctx, "trips", id)
	require.NoError(t, err)
	require.True(t, ok, "offline write must be readable")
	assert.True(t, v.Equal(models.MustParseValue(`{"name":"Lake"}`)))

	h.monitor.Update(online)
	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	require.Len(t, h.tr.SendCalls(), 1)
	assert.Equal(t, id, h.tr.SendCalls()[0].Op.ID)
	assert.Equal(t, 0, h.queue.Len())
}

func TestDriver_WriteOnlineSendsImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{})

	_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)

	assert.Len(t, h.tr.SendCalls(), 1)
	assert.Equal(t, 0, h.queue.Len())
}

func TestDriver_DrainOffline(t *testing.T) {
	h := newHarness(t, okTransport(), Config{})
	h.monitor.Update(offline)

	_, err := h.driver.Drain(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
}

func TestDriver_RetryExhaustion(t *testing.T) {
	ctx := context.Background()
	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			return transport.Result{}, errors.New("connection reset")
		},
	}
	h := newHarness(t, tr, Config{})
	h.monitor.Update(offline)

	_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)
	h.monitor.Update(online)

	for i := 1; i <= 2; i++ {
		res, err := h.driver.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Equal(t, 0, res.Dropped)
		assert.Equal(t, 1, h.queue.Len())
	}

	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Failures, 1)
	assert.False(t, res.Failures[0].Permanent)
	assert.Equal(t, 3, res.Failures[0].Operation.Attempts)
	assert.Equal(t, "connection reset", res.Failures[0].Operation.LastError)
	assert.Error(t, res.Err())
	assert.Equal(t, 0, h.queue.Len())

	_, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, tr.SendCalls(), 3, "exhausted operation must never be sent a 4th time")
}

func TestDriver_PermanentFailureDroppedImmediately(t *testing.T) {
	ctx := context.Background()
	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			return transport.Result{}, transport.Permanent(errors.New("already exists"))
		},
	}
	h := newHarness(t, tr, Config{})
	h.monitor.Update(offline)

	events, cancel := h.driver.Subscribe(16)
	defer cancel()

	_, err := h.driver.Write(ctx, tripCreate(models.PriorityCritical))
	require.NoError(t, err)
	h.monitor.Update(online)

	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Failures, 1)
	assert.True(t, res.Failures[0].Permanent)
	assert.Equal(t, 0, h.queue.Len())
	assert.Len(t, tr.SendCalls(), 1)

	var dropped *Event
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventOperationDropped {
			dropped = &ev
		}
	}
	require.NotNil(t, dropped)
	assert.True(t, transport.IsPermanent(dropped.Err))
}

func TestDriver_DrainOrder(t *testing.T) {
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []models.Priority
	)
	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			mu.Lock()
			order = append(order, op.Priority)
			mu.Unlock()
			return transport.Result{}, nil
		},
	}
	h := newHarness(t, tr, Config{Workers: 1})
	h.monitor.Update(offline)

	for _, p := range []models.Priority{models.PriorityNormal, models.PriorityLow, models.PriorityCritical} {
		_, err := h.driver.Write(ctx, tripCreate(p))
		require.NoError(t, err)
	}
	h.monitor.Update(online)

	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, []models.Priority{models.PriorityCritical, models.PriorityNormal, models.PriorityLow}, order)
}

func TestDriver_DrainIsReentrancyGuarded(t *testing.T) {
	ctx := context.Background()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				started <- struct{}{}
				<-release
			}
			return transport.Result{}, nil
		},
	}
	h := newHarness(t, tr, Config{})
	h.monitor.Update(offline)
	_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)
	h.monitor.Update(online)

	type drainOutcome struct {
		err error
		res DrainResult
	}
	done := make(chan drainOutcome, 1)
	go func() {
		res, err := h.driver.Drain(ctx)
		done <- drainOutcome{res: res, err: err}
	}()

	<-started
	_, err = h.driver.Drain(ctx)
	assert.ErrorIs(t, err, ErrDrainInProgress)

	// Запись во время drain не отправляется в текущем проходе, но попадает в следующий
	_, err = h.driver.Write(ctx, tripCreate(models.PriorityCritical))
	require.NoError(t, err)
	close(release)

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 2, out.res.Sent)
	assert.Equal(t, 2, out.res.Passes)
	assert.Equal(t, 0, h.queue.Len())
}

func TestDriver_StopsDispatchWhenConnectivityDrops(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, Config{Workers: 1})
	h.tr = &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			h.monitor.Update(offline)
			return transport.Result{}, nil
		},
	}
	h.driver.transport = h.tr
	h.monitor.Update(offline)

	for i := 0; i < 3; i++ {
		_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
		require.NoError(t, err)
	}
	h.monitor.Update(online)

	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.Deferred)
	assert.Len(t, h.tr.SendCalls(), 1)

	for _, op := range h.queue.List() {
		assert.Zero(t, op.Attempts, "deferred operations must not consume attempts")
	}
}

func TestDriver_SkipsOperationsNotYetDue(t *testing.T) {
	ctx := context.Background()
	calls := 0
	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			calls++
			return transport.Result{}, errors.New("timeout")
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHarness(t, tr, Config{})
	h.queue = queue.New(nil, logger, queue.Config{RetryBaseDelay: time.Hour, RetryMaxDelay: time.Hour})
	h.driver.queue = h.queue
	h.monitor.Update(offline)

	_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)
	h.monitor.Update(online)

	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	res, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, calls)
}

// TestDriver_RetryKeepsEntityOrder проверяет что повтор старой записи не затирает более новую
func TestDriver_RetryKeepsEntityOrder(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		mu     sync.Mutex
		now    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		server = map[string]models.Value{}
		failed bool
		h      *harness
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	v1 := models.MustParseValue(`{"name":"v1"}`)
	v2 := models.MustParseValue(`{"name":"v2"}`)
	update := func(payload models.Value) models.PendingOperation {
		return models.PendingOperation{
			Kind:             models.OperationUpdate,
			TargetCollection: "trips",
			TargetID:         "t1",
			Payload:          payload,
			Priority:         models.PriorityNormal,
		}
	}

	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			mu.Lock()
			first := !failed
			failed = true
			mu.Unlock()
			if first {
				// Новая запись приходит, пока первая отправка ещё в пути
				_, err := h.driver.Write(ctx, update(v2))
				assert.NoError(t, err)
				return transport.Result{}, errors.New("connection reset")
			}
			mu.Lock()
			server[op.TargetID] = op.Payload
			mu.Unlock()
			return transport.Result{EntityID: op.TargetID}, nil
		},
	}

	cfg := DefaultConfig()
	cfg.SendInterval = 0
	h = newHarness(t, tr, cfg, WithClock(clock))
	h.queue = queue.New(nil, logger, queue.DefaultConfig(), queue.WithClock(clock))
	h.driver.queue = h.queue
	h.monitor.Update(offline)

	_, err := h.driver.Write(ctx, update(v1))
	require.NoError(t, err)
	h.monitor.Update(online)

	res, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Sent, "newer write must wait for the failed one")
	assert.Empty(t, server)
	assert.Equal(t, 2, h.queue.Len())

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()

	res, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 0, h.queue.Len())

	calls := h.tr.SendCalls()
	require.Len(t, calls, 3)
	assert.True(t, calls[1].Op.Payload.Equal(v1))
	assert.True(t, calls[2].Op.Payload.Equal(v2))

	require.Contains(t, server, "t1")
	assert.True(t, server["t1"].Equal(v2), "server must end with the latest write")

	local, ok, err := h.driver.Read(ctx, "trips", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, local.Equal(server["t1"]))
}

// TestEntityHeads проверяет выбор самой ранней операции каждой сущности
func TestEntityHeads(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ops := []*models.PendingOperation{
		{ID: "b", Kind: models.OperationUpdate, TargetCollection: "trips", TargetID: "t1", EnqueuedAt: base.Add(2 * time.Second), Priority: models.PriorityCritical},
		{ID: "a", Kind: models.OperationUpdate, TargetCollection: "trips", TargetID: "t1", EnqueuedAt: base.Add(time.Second)},
		{ID: "c", Kind: models.OperationCreate, TargetCollection: "trips", EnqueuedAt: base},
		{ID: "d", Kind: models.OperationUpdate, TargetCollection: "trips", TargetID: "c", EnqueuedAt: base.Add(3 * time.Second)},
	}

	heads := entityHeads(ops)
	assert.Equal(t, map[string]string{"trips/t1": "a", "trips/c": "c"}, heads)
}

func TestDriver_CreateRekeyedWithServerID(t *testing.T) {
	ctx := context.Background()
	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			return transport.Result{EntityID: "srv-1"}, nil
		},
	}
	h := newHarness(t, tr, Config{})
	h.monitor.Update(offline)

	tmpID, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)
	h.monitor.Update(online)

	_, err = h.driver.Drain(ctx)
	require.NoError(t, err)

	// FetchFunc не задан: чтение обязано обслуживаться кэшем
	v, ok, err := h.driver.Read(ctx, "trips", "srv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(models.MustParseValue(`{"name":"Lake"}`)))
	assert.False(t, h.cache.Has(ctx, EntityKey("trips", tmpID)))

	base := h.driver.base(ctx, "trips", "srv-1")
	require.NotNil(t, base)
	assert.True(t, base.Equal(v))

	entry, ok := h.cache.Entry(EntityKey("trips", "srv-1"))
	require.True(t, ok)
	assert.NotEqual(t, cache.NoExpiration, entry.TTL, "delivered state gets a regular TTL")
}

func TestDriver_WriteFolding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{})
	h.monitor.Update(offline)

	update := func(payload string) models.PendingOperation {
		return models.PendingOperation{
			Kind:             models.OperationUpdate,
			TargetCollection: "trips",
			TargetID:         "t1",
			Payload:          models.MustParseValue(payload),
		}
	}

	first, err := h.driver.Write(ctx, update(`{"name":"a"}`))
	require.NoError(t, err)
	second, err := h.driver.Write(ctx, update(`{"name":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Equal(t, 1, h.queue.Len())
	op, err := h.queue.Get(first)
	require.NoError(t, err)
	assert.True(t, op.Payload.Equal(models.MustParseValue(`{"name":"b"}`)))

	_, err = h.driver.Write(ctx, models.PendingOperation{Kind: models.OperationDelete, TargetCollection: "trips", TargetID: "t1"})
	require.NoError(t, err)
	ops := h.queue.List()
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationDelete, ops[0].Kind)

	_, ok, err := h.driver.Read(ctx, "trips", "t1")
	require.NoError(t, err)
	assert.False(t, ok, "pending delete hides the entity")

	// Delete неотправленного Create просто отменяет его
	tmpID, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)
	_, err = h.driver.Write(ctx, models.PendingOperation{Kind: models.OperationDelete, TargetCollection: "trips", TargetID: tmpID})
	require.NoError(t, err)
	assert.Equal(t, 1, h.queue.Len())
	_, _, err = h.driver.Read(ctx, "trips", tmpID)
	assert.ErrorIs(t, err, ErrOffline)
}

func TestDriver_ReadFallsBackToTransport(t *testing.T) {
	ctx := context.Background()
	tr := okTransport()
	tr.FetchFunc = func(ctx context.Context, collection, id string) (*models.Value, error) {
		if id == "missing" {
			return nil, nil
		}
		return models.Ptr(models.MustParseValue(`{"name":"Remote"}`)), nil
	}
	h := newHarness(t, tr, Config{})

	v, ok, err := h.driver.Read(ctx, "trips", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(models.MustParseValue(`{"name":"Remote"}`)))

	_, _, err = h.driver.Read(ctx, "trips", "t1")
	require.NoError(t, err)
	assert.Len(t, tr.FetchCalls(), 1, "second read is served by the cache")

	_, ok, err = h.driver.Read(ctx, "trips", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_LastSyncTime(t *testing.T) {
	ctx := context.Background()
	var saved time.Time
	meta := &storage.MetadataStorageMock{
		SaveLastSyncTimeFunc: func(ctx context.Context, ts time.Time) error {
			saved = ts
			return nil
		},
		GetLastSyncTimeFunc: func(ctx context.Context) (time.Time, error) {
			return saved, nil
		},
	}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, okTransport(), Config{}, WithMetadata(meta), WithClock(func() time.Time { return now }))

	_, err := h.driver.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta.SaveLastSyncTimeCalls(), "nothing sent, nothing recorded")

	_, err = h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)

	last, err := h.driver.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, now, last)
}

func TestDriver_Events(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{})
	h.monitor.Update(offline)
	_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)
	h.monitor.Update(online)

	events, cancel := h.driver.Subscribe(8)
	_, err = h.driver.Drain(ctx)
	require.NoError(t, err)
	cancel()

	var types []EventType
	for ev := range events {
		types = append(types, ev.Type)
		if ev.Type == EventDrainFinished {
			require.NotNil(t, ev.Result)
			assert.Equal(t, 1, ev.Result.Sent)
		}
	}
	assert.Equal(t, []EventType{EventDrainStarted, EventOperationSent, EventDrainFinished}, types)
}

func TestDriver_Recover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{})

	_, err := h.queue.Enqueue(ctx, models.PendingOperation{
		Kind: models.OperationUpdate, TargetCollection: "trips", TargetID: "t1",
		Payload: models.MustParseValue(`{"name":"v1"}`),
	})
	require.NoError(t, err)
	_, err = h.queue.Enqueue(ctx, models.PendingOperation{
		Kind: models.OperationUpdate, TargetCollection: "trips", TargetID: "t1",
		Payload: models.MustParseValue(`{"name":"v2"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, h.driver.Recover(ctx))

	v, ok, err := h.driver.Read(ctx, "trips", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.Equal(models.MustParseValue(`{"name":"v2"}`)), "latest queued write wins")
}

func TestDriver_RunDrainsAfterSettleDelay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{SettleDelay: 150 * time.Millisecond})
	h.monitor.Update(offline)

	require.NoError(t, h.driver.Start(ctx))
	defer h.driver.Stop()
	assert.ErrorIs(t, h.driver.Start(ctx), ErrAlreadyRunning)

	_, err := h.driver.Write(ctx, tripCreate(models.PriorityHigh))
	require.NoError(t, err)

	h.monitor.Update(online)
	assert.Empty(t, h.tr.SendCalls(), "drain waits for the settle delay")

	require.Eventually(t, func() bool {
		return len(h.tr.SendCalls()) == 1 && h.queue.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDriver_RunDrainsOnWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{SettleDelay: time.Hour})

	require.NoError(t, h.driver.Start(ctx))

	_, err := h.driver.Write(ctx, tripCreate(models.PriorityNormal))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.tr.SendCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.driver.Stop()
	h.driver.Stop()
}

// TestDriver_ZeroConfigStarts проверяет запуск драйвера с пустой конфигурацией
func TestDriver_ZeroConfigStarts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, okTransport(), Config{})
	d := NewDriver(h.queue, h.cache, h.resolver, h.monitor, h.tr, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})

	assert.Equal(t, 1, d.cfg.Workers)
	assert.Equal(t, DefaultConfig().PeriodicInterval, d.cfg.PeriodicInterval)

	require.NoError(t, d.Start(ctx))
	d.Stop()
}
