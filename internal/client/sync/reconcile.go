package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/iudanet/offsync/internal/client/conflict"
	"github.com/iudanet/offsync/internal/models"
)

// RefreshResult is the outcome of reconciling one entity.
type RefreshResult struct {
	Value      *models.Value        // Value текущее состояние сущности после сверки (nil - отсутствует)
	Conflict   *models.DataConflict // Conflict обнаруженный конфликт
	Resolution *models.Resolution   // Resolution применённое автоматически разрешение
}

// Refresh fetches the remote version of an entity and reconciles it with the
// cached copy. Without a cached copy, or when only one side moved since the
// last agreed version, the newer state is taken as is. A real divergence goes
// to the conflict resolver; auto-resolvable conflicts are applied at once,
// others stay pending and the local copy is kept.
func (d *Driver) Refresh(ctx context.Context, collection, id string) (RefreshResult, error) {
	if !d.monitor.Online() {
		return RefreshResult{}, fmt.Errorf("refresh %s: %w", EntityKey(collection, id), ErrOffline)
	}

	remote, err := d.transport.Fetch(ctx, collection, id)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("failed to fetch %s: %w", EntityKey(collection, id), err)
	}

	entry, cached := d.cache.Entry(EntityKey(collection, id))
	if !cached {
		d.accept(ctx, collection, id, remote)
		return RefreshResult{Value: remote}, nil
	}

	var local *models.Value
	if !entry.Data.IsNull() {
		local = &entry.Data
	}
	base := d.base(ctx, collection, id)

	switch {
	case equalPtr(local, remote):
		d.accept(ctx, collection, id, remote)
		return RefreshResult{Value: remote}, nil

	case base != nil && equalPtr(local, base) && len(d.pendingFor(collection, id)) == 0:
		// Локально ничего не менялось: просто догоняем сервер
		d.accept(ctx, collection, id, remote)
		return RefreshResult{Value: remote}, nil

	case base != nil && equalPtr(remote, base):
		// Сервер не менялся: локальная версия уйдёт с очередной отправкой
		return RefreshResult{Value: local}, nil
	}

	c := d.resolver.DetectConflict(ctx, collection, id, local, remote, base)
	if c == nil {
		// Расхождение только в служебных полях
		d.accept(ctx, collection, id, remote)
		return RefreshResult{Value: remote}, nil
	}
	d.emit(Event{Type: EventConflictDetected, Conflict: c})

	if !c.AutoResolvable {
		return RefreshResult{Value: local, Conflict: c}, nil
	}

	res, err := d.resolver.AutoResolveConflict(ctx, c.ID)
	if err != nil {
		return RefreshResult{Value: local, Conflict: c}, fmt.Errorf("failed to auto-resolve conflict %s: %w", c.ID, err)
	}
	value, err := d.apply(ctx, c, res)
	if err != nil {
		return RefreshResult{Value: local, Conflict: c, Resolution: &res}, err
	}
	return RefreshResult{Value: value, Conflict: c, Resolution: &res}, nil
}

// RefreshCollection reconciles every cached entity of a collection with
// strategy. Entities with a pending local delete are skipped, and entities
// where only one side moved since the last agreed version are brought up to
// date without involving the resolver. One failing entity does not stop the
// others; per-entity errors are combined.
func (d *Driver) RefreshCollection(ctx context.Context, collection string, strategy models.Strategy) ([]conflict.BatchResult, error) {
	if !d.monitor.Online() {
		return nil, fmt.Errorf("refresh %s: %w", collection, ErrOffline)
	}

	items := make(map[string]conflict.Item)
	var batch []conflict.Item
	for _, id := range d.CachedIDs(collection) {
		entry, ok := d.cache.Entry(EntityKey(collection, id))
		if !ok || entry.Data.IsNull() {
			continue
		}
		item := conflict.Item{
			ID:   id,
			Data: entry.Data,
			Base: d.base(ctx, collection, id),
		}
		items[id] = item
		batch = append(batch, item)
	}

	var (
		mu          sync.Mutex
		fastForward = make(map[string]*models.Value) // сервер ушёл вперёд, локальных изменений нет
		ahead       = make(map[string]bool)          // локальная версия ушла вперёд, сервер не менялся
	)
	lookup := func(ctx context.Context, id string) (*models.Value, error) {
		remote, err := d.transport.Fetch(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		item := items[id]
		if item.Base == nil {
			return remote, nil
		}
		local := item.Data
		switch {
		case local.Equal(*item.Base) && len(d.pendingFor(collection, id)) == 0:
			mu.Lock()
			fastForward[id] = remote
			mu.Unlock()
			return &local, nil
		case remote != nil && remote.Equal(*item.Base):
			mu.Lock()
			ahead[id] = true
			mu.Unlock()
			return &local, nil
		}
		return remote, nil
	}
	results, errs := d.resolver.SyncWithResolution(ctx, collection, batch, strategy, lookup)

	for i, res := range results {
		switch {
		case res.Err != nil:
			if res.Conflict != nil {
				d.emit(Event{Type: EventConflictDetected, Conflict: res.Conflict, Err: res.Err})
			}
		case res.Conflict == nil:
			if remote, ok := fastForward[res.ID]; ok {
				d.accept(ctx, collection, res.ID, remote)
				results[i].Data = models.Null()
				if remote != nil {
					results[i].Data = *remote
				}
			} else if !ahead[res.ID] {
				d.setBase(ctx, collection, res.ID, res.Data)
			}
		case res.Resolution != nil:
			d.emit(Event{Type: EventConflictDetected, Conflict: res.Conflict})
			if _, err := d.apply(ctx, res.Conflict, *res.Resolution); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", collection, res.ID, err))
			}
		}
	}
	return results, errs
}

// Resolve settles a pending conflict. An empty strategy applies the
// suggested resolution and fails unless the conflict is auto-resolvable.
// The resolved state is written locally and queued for the server when it
// differs from the remote version.
func (d *Driver) Resolve(ctx context.Context, conflictID string, strategy models.Strategy) (models.Resolution, error) {
	c, err := d.resolver.Get(conflictID)
	if err != nil {
		return models.Resolution{}, err
	}

	var res models.Resolution
	if strategy == "" {
		res, err = d.resolver.AutoResolveConflict(ctx, conflictID)
	} else {
		res, err = d.resolver.ResolveWith(ctx, conflictID, strategy)
	}
	if err != nil {
		return models.Resolution{}, err
	}

	if _, err := d.apply(ctx, c, res); err != nil {
		return res, err
	}
	return res, nil
}

// apply makes a resolution effective. If the resolved data matches the
// remote version, local queued writes for the entity are superseded and the
// remote version is accepted. Otherwise the resolved data replaces them as a
// new queued write. A CreateCopy resolution also queues the local copy as a
// new entity.
func (d *Driver) apply(ctx context.Context, c *models.DataConflict, res models.Resolution) (*models.Value, error) {
	collection, id := c.EntityType, c.EntityID
	remote := c.RemoteData
	resolved := res.ResolvedData

	priority := d.dropPending(ctx, collection, id)

	var value *models.Value
	if (remote == nil && resolved.IsNull()) || (remote != nil && remote.Equal(resolved)) {
		d.accept(ctx, collection, id, remote)
		value = remote
	} else {
		op := models.PendingOperation{
			Kind:             models.OperationUpdate,
			TargetCollection: collection,
			TargetID:         id,
			Payload:          resolved,
			Priority:         priority,
		}
		switch {
		case resolved.IsNull():
			op.Kind = models.OperationDelete
		case remote == nil:
			op.Kind = models.OperationCreate
			value = models.Ptr(resolved)
		default:
			value = models.Ptr(resolved)
		}
		if remote != nil {
			d.setBase(ctx, collection, id, *remote)
		}
		if _, err := d.Write(ctx, op); err != nil {
			return nil, fmt.Errorf("failed to queue resolved %s: %w", EntityKey(collection, id), err)
		}
	}

	if res.Copy != nil {
		copyOp := models.PendingOperation{
			Kind:             models.OperationCreate,
			TargetCollection: collection,
			Payload:          *res.Copy,
			Priority:         priority,
		}
		copyID, err := d.Write(ctx, copyOp)
		if err != nil {
			return value, fmt.Errorf("failed to queue copy of %s: %w", EntityKey(collection, id), err)
		}
		d.logger.Info("local version kept as a copy",
			slog.String("collection", collection),
			slog.String("entity_id", id),
			slog.String("copy_id", copyID))
	}

	d.logger.Info("resolution applied",
		slog.String("conflict_id", c.ID),
		slog.String("collection", collection),
		slog.String("entity_id", id),
		slog.String("strategy", string(res.Strategy)))
	return value, nil
}

// dropPending removes queued operations for the entity that are not in
// flight and returns the highest priority among them (Normal if none).
func (d *Driver) dropPending(ctx context.Context, collection, id string) models.Priority {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	priority := models.PriorityNormal
	for i, op := range d.pendingFor(collection, id) {
		if i == 0 || op.Priority > priority {
			priority = op.Priority
		}
		if _, busy := d.inflight[op.ID]; busy {
			d.logger.Warn("superseded operation is already in flight",
				slog.String("op_id", op.ID),
				slog.String("collection", collection))
			continue
		}
		if err := d.queue.Dequeue(ctx, op.ID); err != nil {
			d.logger.Warn("failed to drop superseded operation",
				slog.String("op_id", op.ID), slog.Any("error", err))
		}
	}
	return priority
}

func equalPtr(a, b *models.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
