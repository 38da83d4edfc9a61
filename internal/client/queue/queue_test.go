package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/client/storage/filestore"
	"github.com/iudanet/offsync/internal/models"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memStore(t *testing.T) storage.DurableStore {
	t.Helper()
	store, err := filestore.New(afero.NewMemMapFs(), "/queue")
	require.NoError(t, err)
	return store
}

func createOp(p models.Priority) models.PendingOperation {
	return models.PendingOperation{
		Kind:             models.OperationCreate,
		TargetCollection: "trips",
		Payload:          models.MustParseValue(`{"name":"Lake"}`),
		Priority:         p,
	}
}

func TestQueue_ListOrdering(t *testing.T) {
	ctx := context.Background()
	var now time.Time
	q := New(nil, testLogger(), Config{}, WithClock(func() time.Time { return now }))

	now = epoch.Add(1 * time.Second)
	lowID, err := q.Enqueue(ctx, createOp(models.PriorityLow))
	require.NoError(t, err)

	now = epoch.Add(2 * time.Second)
	critID, err := q.Enqueue(ctx, createOp(models.PriorityCritical))
	require.NoError(t, err)

	now = epoch
	normID, err := q.Enqueue(ctx, createOp(models.PriorityNormal))
	require.NoError(t, err)

	list := q.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{critID, normID, lowID}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	var now time.Time
	q := New(nil, testLogger(), Config{}, WithClock(func() time.Time { return now }))

	var ids []string
	for i := 0; i < 5; i++ {
		now = epoch.Add(time.Duration(i) * time.Millisecond)
		id, err := q.Enqueue(ctx, createOp(models.PriorityHigh))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var got []string
	for _, op := range q.List() {
		got = append(got, op.ID)
	}
	assert.Equal(t, ids, got)
}

// TestQueue_FIFOWithFrozenClock проверяет порядок постановки при одинаковом и отстающем времени
func TestQueue_FIFOWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	now := epoch
	q := New(nil, testLogger(), Config{}, WithClock(func() time.Time { return now }))

	var ids []string
	for i := 0; i < 4; i++ {
		if i == 3 {
			now = epoch.Add(-time.Hour)
		}
		id, err := q.Enqueue(ctx, createOp(models.PriorityNormal))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list := q.List()
	require.Len(t, list, 4)
	for i, op := range list {
		assert.Equal(t, ids[i], op.ID)
		if i > 0 {
			assert.True(t, op.EnqueuedAt.After(list[i-1].EnqueuedAt))
		}
	}
}

func TestQueue_EnqueueAssignsFields(t *testing.T) {
	ctx := context.Background()
	q := New(nil, testLogger(), Config{}, WithClock(func() time.Time { return epoch }))

	op := createOp(models.PriorityCritical)
	op.ID = "caller-supplied"
	op.Attempts = 7

	id, err := q.Enqueue(ctx, op)
	require.NoError(t, err)
	assert.NotEqual(t, "caller-supplied", id)

	stored, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Attempts)
	assert.Equal(t, models.MaxAttemptsCritical, stored.MaxAttempts)
	assert.Equal(t, epoch, stored.EnqueuedAt)

	// Get возвращает копию
	stored.Attempts = 99
	again, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Attempts)
}

func TestQueue_EnqueueInvalid(t *testing.T) {
	q := New(nil, testLogger(), Config{})
	_, err := q.Enqueue(context.Background(), models.PendingOperation{Kind: models.OperationUpdate, TargetCollection: "trips"})
	assert.Error(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_MaxSize(t *testing.T) {
	ctx := context.Background()
	q := New(nil, testLogger(), Config{MaxSize: 1})

	_, err := q.Enqueue(ctx, createOp(models.PriorityNormal))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, createOp(models.PriorityNormal))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_DequeueUnknown(t *testing.T) {
	q := New(nil, testLogger(), Config{})
	err := q.Dequeue(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	_, err = q.Get("nope")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	_, _, err = q.RecordFailure(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestQueue_RecordFailure_Exhaustion(t *testing.T) {
	ctx := context.Background()
	q := New(nil, testLogger(), Config{})

	id, err := q.Enqueue(ctx, createOp(models.PriorityNormal))
	require.NoError(t, err)

	cause := errors.New("connection reset")
	for i := 1; i < models.MaxAttemptsDefault; i++ {
		op, dropped, err := q.RecordFailure(ctx, id, cause)
		require.NoError(t, err)
		assert.False(t, dropped)
		assert.Equal(t, i, op.Attempts)
		assert.Equal(t, "connection reset", op.LastError)
	}

	op, dropped, err := q.RecordFailure(ctx, id, cause)
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.Equal(t, models.MaxAttemptsDefault, op.Attempts)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RecordFailure_Backoff(t *testing.T) {
	ctx := context.Background()
	q := New(nil, testLogger(), Config{RetryBaseDelay: time.Second, RetryMaxDelay: 3 * time.Second},
		WithClock(func() time.Time { return epoch }))

	id, err := q.Enqueue(ctx, createOp(models.PriorityCritical))
	require.NoError(t, err)

	expected := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for _, want := range expected {
		op, dropped, err := q.RecordFailure(ctx, id, nil)
		require.NoError(t, err)
		require.False(t, dropped)
		assert.Equal(t, epoch.Add(want), op.NextAttemptAt)
		assert.False(t, op.Due(epoch))
		assert.True(t, op.Due(epoch.Add(want)))
	}
}

func TestQueue_RecordFailure_NoBackoff(t *testing.T) {
	ctx := context.Background()
	q := New(nil, testLogger(), Config{}, WithClock(func() time.Time { return epoch }))

	id, err := q.Enqueue(ctx, createOp(models.PriorityNormal))
	require.NoError(t, err)

	op, _, err := q.RecordFailure(ctx, id, nil)
	require.NoError(t, err)
	assert.True(t, op.Due(epoch))
}

func TestQueue_BackoffJitterBounds(t *testing.T) {
	q := New(nil, testLogger(), Config{RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute, RetryJitter: 10})

	for i := 0; i < 20; i++ {
		d := q.backoff(2)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestQueue_PersistAndRestore(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)

	q := New(store, testLogger(), Config{})
	id1, err := q.Enqueue(ctx, createOp(models.PriorityHigh))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, createOp(models.PriorityLow))
	require.NoError(t, err)
	_, _, err = q.RecordFailure(ctx, id2, errors.New("timeout"))
	require.NoError(t, err)

	restored := New(store, testLogger(), Config{})
	assert.Equal(t, 2, restored.Restore(ctx))

	op, err := restored.Get(id2)
	require.NoError(t, err)
	assert.Equal(t, 1, op.Attempts)
	assert.Equal(t, "timeout", op.LastError)

	require.NoError(t, q.Dequeue(ctx, id1))
	again := New(store, testLogger(), Config{})
	assert.Equal(t, 1, again.Restore(ctx))
}

func TestQueue_RestoreCorrupted(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)
	require.NoError(t, store.Save(ctx, storage.KeyPendingOperations, []byte(`[{"id":`)))

	q := New(store, testLogger(), Config{})
	assert.Equal(t, 0, q.Restore(ctx))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RestoreSkipsInvalidAndExhausted(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)

	ops := []models.PendingOperation{
		{ID: "ok", Kind: models.OperationCreate, TargetCollection: "trips", MaxAttempts: 3},
		{ID: "exhausted", Kind: models.OperationCreate, TargetCollection: "trips", Attempts: 3, MaxAttempts: 3},
		{ID: "invalid", Kind: models.OperationUpdate, TargetCollection: "trips"},
		{ID: "", Kind: models.OperationCreate, TargetCollection: "trips"},
	}
	data, err := json.Marshal(ops)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, storage.KeyPendingOperations, data))

	q := New(store, testLogger(), Config{})
	assert.Equal(t, 1, q.Restore(ctx))
	_, err = q.Get("ok")
	assert.NoError(t, err)
}

func TestQueue_PersistFailureDoesNotBlockEnqueue(t *testing.T) {
	store := &storage.DurableStoreMock{
		SaveFunc: func(ctx context.Context, key string, data []byte) error {
			return errors.New("disk full")
		},
	}

	q := New(store, testLogger(), Config{})
	id, err := q.Enqueue(context.Background(), createOp(models.PriorityNormal))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, q.Len())
	assert.Len(t, store.SaveCalls(), 1)
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	store := memStore(t)
	q := New(store, testLogger(), Config{})

	const n = 100
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := createOp(models.Priority(i % 4))
			op.Payload = models.MustParseValue(fmt.Sprintf(`{"n":%d}`, i))
			id, err := q.Enqueue(ctx, op)
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, n, q.Len())

	// Последний снимок в хранилище содержит все операции
	restored := New(store, testLogger(), Config{})
	assert.Equal(t, n, restored.Restore(ctx))
}
