// Package queue implements the durable pending-operation queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

// Config задает параметры очереди.
type Config struct {
	MaxSize        int           // MaxSize максимальное число операций (0 - без ограничения)
	RetryBaseDelay time.Duration // RetryBaseDelay задержка после первой неудачи (0 - без задержки)
	RetryMaxDelay  time.Duration // RetryMaxDelay верхняя граница задержки
	RetryJitter    uint64        // RetryJitter разброс задержки в процентах
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  5 * time.Minute,
		RetryJitter:    10,
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDGenerator replaces the uuid based id generator.
func WithIDGenerator(newID func() string) Option {
	return func(q *Queue) { q.newID = newID }
}

// Queue is an ordered, persisted set of mutations awaiting transmission.
// The in-memory state is authoritative; persistence is best-effort.
type Queue struct {
	store  storage.DurableStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	ops    map[string]*models.PendingOperation
	last   time.Time // last время последней постановки, EnqueuedAt строго возрастает
	cfg    Config

	mu        sync.Mutex
	persistMu sync.Mutex // сериализует запись снимка в store
}

// New creates an empty queue. Call Restore to load persisted operations.
func New(store storage.DurableStore, logger *slog.Logger, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		ops:    make(map[string]*models.PendingOperation),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue assigns a new id, resets attempts and stamps the enqueue time.
// The attempt limit is derived from the priority. Persistence failures are
// logged and do not fail the call.
func (q *Queue) Enqueue(ctx context.Context, op models.PendingOperation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("invalid operation: %w", err)
	}

	stored := op.Clone()
	stored.ID = q.newID()
	stored.NextAttemptAt = time.Time{}
	stored.Attempts = 0
	stored.LastError = ""
	stored.MaxAttempts = models.MaxAttemptsFor(op.Priority)

	q.mu.Lock()
	if q.cfg.MaxSize > 0 && len(q.ops) >= q.cfg.MaxSize {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	stored.EnqueuedAt = q.stamp()
	q.ops[stored.ID] = stored
	q.mu.Unlock()

	q.logger.Debug("operation enqueued",
		slog.String("op_id", stored.ID),
		slog.String("kind", string(stored.Kind)),
		slog.String("collection", stored.TargetCollection),
		slog.String("priority", stored.Priority.String()))

	q.persist(ctx)
	return stored.ID, nil
}

// Dequeue removes an operation by id.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	q.mu.Lock()
	if _, ok := q.ops[id]; !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	delete(q.ops, id)
	q.mu.Unlock()

	q.persist(ctx)
	return nil
}

// Get returns a copy of the operation.
func (q *Queue) Get(id string) (*models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return op.Clone(), nil
}

// List returns copies of all operations ordered by priority descending, then
// enqueue time ascending.
func (q *Queue) List() []*models.PendingOperation {
	q.mu.Lock()
	out := make([]*models.PendingOperation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, op.Clone())
	}
	q.mu.Unlock()

	sortOperations(out)
	return out
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// RecordFailure increments the attempt counter of a failed send. An operation
// that reaches its attempt limit is removed and returned with dropped=true;
// otherwise its next attempt is pushed back by the retry backoff.
func (q *Queue) RecordFailure(ctx context.Context, id string, cause error) (*models.PendingOperation, bool, error) {
	q.mu.Lock()
	op, ok := q.ops[id]
	if !ok {
		q.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}

	op.Attempts++
	if cause != nil {
		op.LastError = cause.Error()
	}

	dropped := op.Exhausted()
	if dropped {
		delete(q.ops, id)
	} else {
		op.NextAttemptAt = q.now().Add(q.backoff(op.Attempts))
	}
	snapshot := op.Clone()
	q.mu.Unlock()

	q.persist(ctx)
	return snapshot, dropped, nil
}

// Replace swaps the payload of a queued operation, keeping its position and
// attempts. Used when a write for the same entity supersedes a queued one.
func (q *Queue) Replace(ctx context.Context, id string, payload models.Value) error {
	q.mu.Lock()
	op, ok := q.ops[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	op.Payload = payload.Clone()
	q.mu.Unlock()

	q.persist(ctx)
	return nil
}

// Restore loads persisted operations. Missing or corrupt state is treated as
// an empty queue. Returns the number of restored operations.
func (q *Queue) Restore(ctx context.Context) int {
	if q.store == nil {
		return 0
	}

	data, err := q.store.Load(ctx, storage.KeyPendingOperations)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			q.logger.Warn("failed to load pending operations", slog.Any("error", err))
		}
		return 0
	}

	var persisted []*models.PendingOperation
	if err := json.Unmarshal(data, &persisted); err != nil {
		q.logger.Warn("pending operations are corrupted, starting with empty queue", slog.Any("error", err))
		return 0
	}

	restored := 0
	q.mu.Lock()
	for _, op := range persisted {
		if op == nil || op.ID == "" {
			continue
		}
		if err := op.Validate(); err != nil {
			q.logger.Warn("skipping invalid persisted operation",
				slog.String("op_id", op.ID), slog.Any("error", err))
			continue
		}
		if op.MaxAttempts <= 0 {
			op.MaxAttempts = models.MaxAttemptsFor(op.Priority)
		}
		if op.Exhausted() {
			continue
		}
		if _, exists := q.ops[op.ID]; exists {
			continue
		}
		q.ops[op.ID] = op
		if op.EnqueuedAt.After(q.last) {
			q.last = op.EnqueuedAt
		}
		restored++
	}
	q.mu.Unlock()

	return restored
}

// backoff returns the delay before attempt n+1 after n failures.
func (q *Queue) backoff(attempts int) time.Duration {
	if q.cfg.RetryBaseDelay <= 0 || attempts <= 0 {
		return 0
	}

	var b retry.Backoff = retry.NewExponential(q.cfg.RetryBaseDelay)
	if q.cfg.RetryMaxDelay > 0 {
		b = retry.WithCappedDuration(q.cfg.RetryMaxDelay, b)
	}
	if q.cfg.RetryJitter > 0 {
		b = retry.WithJitterPercent(q.cfg.RetryJitter, b)
	}

	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay, _ = b.Next()
	}
	return delay
}

func (q *Queue) persist(ctx context.Context) {
	if q.store == nil {
		return
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	ops := q.List()
	data, err := json.Marshal(ops)
	if err != nil {
		q.logger.Warn("failed to encode pending operations", slog.Any("error", err))
		return
	}
	if err := q.store.Save(ctx, storage.KeyPendingOperations, data); err != nil {
		q.logger.Warn("failed to persist pending operations", slog.Any("error", err))
	}
}

// stamp returns the enqueue time, nudged forward so that it never repeats or
// goes back. Callers hold q.mu.
func (q *Queue) stamp() time.Time {
	now := q.now()
	if !now.After(q.last) {
		now = q.last.Add(time.Nanosecond)
	}
	q.last = now
	return now
}

func sortOperations(ops []*models.PendingOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.ID < b.ID
	})
}
