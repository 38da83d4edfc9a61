package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/offsync/internal/client/cache"
	"github.com/iudanet/offsync/internal/client/transport"
	"github.com/iudanet/offsync/internal/models"
)

// Failure is an operation removed from the queue without being delivered.
type Failure struct {
	Err       error
	Operation *models.PendingOperation
	Permanent bool // Permanent транспорт отклонил операцию без повторов
}

// DrainResult summarizes one Drain call, possibly spanning several passes.
type DrainResult struct {
	Failures []Failure // Failures операции, удалённые без доставки
	Sent     int       // Sent доставлено и удалено из очереди
	Failed   int       // Failed временная ошибка, операция ждёт следующей попытки
	Dropped  int       // Dropped удалено без доставки (исчерпаны попытки или постоянная ошибка)
	Deferred int       // Deferred не отправлялось: ещё не пришло время или связь пропала
	Passes   int       // Passes число проходов по очереди
}

// Err combines the terminal failures into one error, or returns nil.
func (r *DrainResult) Err() error {
	var errs error
	for _, f := range r.Failures {
		errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", f.Operation.Kind, f.Operation.EntityKey(), f.Err))
	}
	return errs
}

func (r *DrainResult) add(other DrainResult) {
	r.Sent += other.Sent
	r.Failed += other.Failed
	r.Dropped += other.Dropped
	r.Deferred = other.Deferred
	r.Failures = append(r.Failures, other.Failures...)
	r.Passes++
}

func isExpectedDrainError(err error) bool {
	return errors.Is(err, ErrDrainInProgress) ||
		errors.Is(err, ErrOffline) ||
		errors.Is(err, context.Canceled)
}

// Drain sends queued operations in priority-then-FIFO order until a pass
// ends with nothing new queued during it. Only one drain runs at a time: a
// concurrent call returns ErrDrainInProgress immediately and the running
// drain performs one more pass for whatever was queued meanwhile.
//
// Within a pass sends run on a small bounded worker pool, started in order
// and spaced by SendInterval. Operations of one entity are delivered in
// enqueue order: a later one waits while an earlier one is queued, including
// one backing off after a failure. Dispatch stops when connectivity drops or ctx
// is cancelled; sends already in flight are awaited and the rest stay queued
// without consuming attempts.
func (d *Driver) Drain(ctx context.Context) (DrainResult, error) {
	if !d.draining.CompareAndSwap(false, true) {
		d.rerun.Store(true)
		return DrainResult{}, ErrDrainInProgress
	}
	defer d.draining.Store(false)

	if !d.monitor.Online() {
		return DrainResult{}, ErrOffline
	}

	start := d.now()
	d.logger.Info("drain started", slog.Int("queued", d.queue.Len()))
	d.emit(Event{Type: EventDrainStarted})

	var total DrainResult
	for {
		d.rerun.Store(false)
		res, waiting := d.pass(ctx)
		total.add(res)

		// Доставка головной операции открывает путь следующей операции той же сущности
		unblocked := waiting > 0 && res.Sent+res.Dropped > 0
		if !(d.rerun.Load() || unblocked) || ctx.Err() != nil || !d.monitor.Online() {
			break
		}
	}

	if total.Sent > 0 && d.metadata != nil {
		if err := d.metadata.SaveLastSyncTime(ctx, d.now()); err != nil {
			d.logger.Warn("failed to save last sync time", slog.Any("error", err))
		}
	}

	d.logger.Info("drain finished",
		slog.Int("sent", total.Sent),
		slog.Int("failed", total.Failed),
		slog.Int("dropped", total.Dropped),
		slog.Int("deferred", total.Deferred),
		slog.Int("passes", total.Passes),
		slog.Duration("duration", d.now().Sub(start)))

	result := total
	d.emit(Event{Type: EventDrainFinished, Result: &result})

	if err := ctx.Err(); err != nil {
		return total, err
	}
	return total, nil
}

// pass sends one ordered snapshot of the queue. Operations queued after the
// snapshot wait for the next pass. Only the oldest queued operation of an
// entity is sent; waiting reports how many were held back behind one.
func (d *Driver) pass(ctx context.Context) (result DrainResult, waiting int) {
	ops := d.queue.List()
	now := d.now()
	heads := entityHeads(ops)

	var (
		mu     sync.Mutex
		paused atomic.Bool
		g      errgroup.Group
	)
	g.SetLimit(d.cfg.Workers)

	record := func(fn func(r *DrainResult)) {
		mu.Lock()
		fn(&result)
		mu.Unlock()
	}
	pause := func(remaining int) {
		if paused.CompareAndSwap(false, true) {
			d.logger.Info("drain paused, leaving operations queued",
				slog.Int("remaining", remaining),
				slog.Bool("online", d.monitor.Online()))
		}
		record(func(r *DrainResult) { r.Deferred += remaining })
	}

	dispatched := 0
	for i, op := range ops {
		if paused.Load() || ctx.Err() != nil || !d.monitor.Online() {
			pause(len(ops) - i)
			break
		}
		if heads[op.EntityKey()] != op.ID {
			waiting++
			record(func(r *DrainResult) { r.Deferred++ })
			continue
		}
		if !op.Due(now) {
			record(func(r *DrainResult) { r.Deferred++ })
			continue
		}
		if dispatched > 0 && d.cfg.SendInterval > 0 && !sleep(ctx, d.cfg.SendInterval) {
			record(func(r *DrainResult) { r.Deferred += len(ops) - i })
			break
		}

		dispatched++
		g.Go(func() error {
			// Связь могла пропасть, пока операция ждала свободного воркера
			if ctx.Err() != nil || !d.monitor.Online() {
				pause(1)
				return nil
			}
			// Берём актуальную версию: запись могла слиться в операцию после снимка
			current, ok := d.claim(op.ID)
			if !ok {
				return nil
			}
			defer d.release(current.ID)
			record(d.send(ctx, current))
			return nil
		})
	}
	_ = g.Wait()

	return result, waiting
}

// entityHeads maps every entity key to its earliest queued operation id.
func entityHeads(ops []*models.PendingOperation) map[string]string {
	first := make(map[string]*models.PendingOperation, len(ops))
	for _, op := range ops {
		key := op.EntityKey()
		if cur, ok := first[key]; !ok || op.EnqueuedAt.Before(cur.EnqueuedAt) {
			first[key] = op
		}
	}
	heads := make(map[string]string, len(first))
	for key, op := range first {
		heads[key] = op.ID
	}
	return heads
}

// send delivers one operation and updates the queue. The send itself is not
// cancelled with ctx: it either completes or hits the transport timeout.
func (d *Driver) send(ctx context.Context, op *models.PendingOperation) func(r *DrainResult) {
	log := d.logger.With(
		slog.String("op_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("collection", op.TargetCollection))

	res, err := d.transport.Send(context.WithoutCancel(ctx), *op)
	if err == nil {
		if derr := d.queue.Dequeue(ctx, op.ID); derr != nil {
			log.Warn("sent operation already left the queue", slog.Any("error", derr))
		}
		d.afterSend(ctx, op, res)
		log.Debug("operation sent", slog.String("entity_id", res.EntityID))
		d.emit(Event{Type: EventOperationSent, Operation: op})
		return func(r *DrainResult) { r.Sent++ }
	}

	if transport.IsPermanent(err) {
		if derr := d.queue.Dequeue(ctx, op.ID); derr != nil {
			log.Warn("rejected operation already left the queue", slog.Any("error", derr))
		}
		op.LastError = err.Error()
		log.Error("operation rejected by backend, dropped", slog.Any("error", err))
		d.emit(Event{Type: EventOperationDropped, Operation: op, Err: err})
		return func(r *DrainResult) {
			r.Dropped++
			r.Failures = append(r.Failures, Failure{Operation: op, Err: err, Permanent: true})
		}
	}

	updated, dropped, rerr := d.queue.RecordFailure(ctx, op.ID, err)
	if rerr != nil {
		log.Warn("failed operation already left the queue", slog.Any("error", rerr))
		return func(r *DrainResult) { r.Failed++ }
	}
	if dropped {
		log.Error("operation dropped after exhausting attempts",
			slog.Int("attempts", updated.Attempts),
			slog.Any("error", err))
		d.emit(Event{Type: EventOperationDropped, Operation: updated, Err: err})
		return func(r *DrainResult) {
			r.Dropped++
			r.Failures = append(r.Failures, Failure{Operation: updated, Err: err})
		}
	}

	log.Warn("operation send failed, will retry",
		slog.Int("attempts", updated.Attempts),
		slog.Int("max_attempts", updated.MaxAttempts),
		slog.Time("next_attempt_at", updated.NextAttemptAt),
		slog.Any("error", err))
	d.emit(Event{Type: EventOperationFailed, Operation: updated, Err: err})
	return func(r *DrainResult) { r.Failed++ }
}

// afterSend moves the cache from "pending local state" to "state the server
// has": the entry gets a regular TTL and becomes the base for conflict
// detection. A Create answered with a server id is re-keyed.
func (d *Driver) afterSend(ctx context.Context, op *models.PendingOperation, res transport.Result) {
	id := op.TargetID
	if id == "" {
		id = op.ID
	}
	key := EntityKey(op.TargetCollection, id)

	if op.Kind == models.OperationDelete {
		if v, ok := d.cache.Get(ctx, key); ok && v.IsNull() {
			d.cache.Delete(ctx, key)
		}
		d.cache.Delete(ctx, baseKey(op.TargetCollection, id))
		return
	}

	if op.Kind == models.OperationCreate && res.EntityID != "" && res.EntityID != id {
		if entry, ok := d.cache.Entry(key); ok {
			d.cache.Delete(ctx, key)
			d.set(ctx, EntityKey(op.TargetCollection, res.EntityID), entry.Data, cache.NoExpiration, entry.Priority)
		}
		d.logger.Info("entity re-keyed with server id",
			slog.String("collection", op.TargetCollection),
			slog.String("temporary_id", id),
			slog.String("entity_id", res.EntityID))
		id = res.EntityID
		key = EntityKey(op.TargetCollection, id)
	}

	d.setBase(ctx, op.TargetCollection, id, op.Payload)

	// Кэш мог уже получить более новую локальную запись: тогда она остаётся неистекающей
	entry, ok := d.cache.Entry(key)
	if !ok || !entry.Data.Equal(op.Payload) || len(d.pendingFor(op.TargetCollection, id)) > 0 {
		return
	}
	d.set(ctx, key, entry.Data, d.cfg.EntityTTL, entry.Priority)
}

// sleep waits for d or ctx; it reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
