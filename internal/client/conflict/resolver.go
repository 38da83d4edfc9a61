// Package conflict detects divergent local/remote versions of an entity and
// proposes or applies a resolution.
package conflict

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

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithBatchConcurrency bounds SyncWithResolution workers.
func WithBatchConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchConcurrency = n
		}
	}
}

// Resolver keeps the set of unresolved conflicts and persists it under
// storage.KeyPendingConflicts.
type Resolver struct {
	store   storage.DurableStore
	logger  *slog.Logger
	rules   *RuleSet
	now     func() time.Time
	pending map[string]*models.DataConflict

	batchConcurrency int

	mu        sync.Mutex
	persistMu sync.Mutex // сериализует запись снимка в store
}

// New creates a resolver. A nil rules table means DefaultRules.
func New(store storage.DurableStore, logger *slog.Logger, rules *RuleSet, opts ...Option) *Resolver {
	if rules == nil {
		rules = DefaultRules()
	}
	r := &Resolver{
		store:            store,
		logger:           logger,
		rules:            rules,
		now:              time.Now,
		pending:          make(map[string]*models.DataConflict),
		batchConcurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DetectConflict compares two versions of an entity. nil means the entity is
// absent on that side; base is the last version both sides agreed on, if known.
// Returns nil when there is nothing to reconcile. A detected conflict joins the
// pending set, replacing an older one for the same entity.
func (r *Resolver) DetectConflict(ctx context.Context, entityType, entityID string, local, remote, base *models.Value) *models.DataConflict {
	c := r.detect(entityType, entityID, local, remote, base)
	if c == nil {
		return nil
	}

	r.mu.Lock()
	for id, existing := range r.pending {
		if existing.EntityType == entityType && existing.EntityID == entityID {
			delete(r.pending, id)
		}
	}
	r.pending[c.ID] = c
	r.mu.Unlock()

	r.logger.Info("conflict detected",
		slog.String("conflict_id", c.ID),
		slog.String("collection", entityType),
		slog.String("entity_id", entityID),
		slog.String("type", string(c.ConflictType)),
		slog.String("severity", c.Severity.String()),
		slog.Any("fields", c.ConflictedFields),
		slog.Bool("auto_resolvable", c.AutoResolvable))

	r.persist(ctx)
	return cloneConflict(c)
}

func (r *Resolver) detect(entityType, entityID string, local, remote, base *models.Value) *models.DataConflict {
	var (
		fields []string
		kind   models.ConflictType
	)

	switch {
	case local == nil && remote == nil:
		return nil

	case local == nil || remote == nil:
		present := local
		if present == nil {
			present = remote
		}
		fields = r.rules.presentFields(*present)
		kind = models.ConflictDeletedModified

	default:
		if local.Equal(*remote) {
			return nil
		}
		fields = r.rules.diffFields(*local, *remote)
		if len(fields) == 0 {
			return nil
		}
		kind = models.ConflictField
		if base != nil &&
			len(r.rules.diffFields(*local, *base)) > 0 &&
			len(r.rules.diffFields(*remote, *base)) > 0 {
			kind = models.ConflictConcurrentEdit
		}
	}

	c := &models.DataConflict{
		DetectedAt:       r.now(),
		LocalData:        clonePtr(local),
		RemoteData:       clonePtr(remote),
		BaseData:         clonePtr(base),
		ID:               uuid.NewString(),
		EntityType:       entityType,
		EntityID:         entityID,
		ConflictType:     kind,
		ConflictedFields: fields,
		Severity:         r.rules.severity(fields),
	}

	suggestion := r.rules.suggest(c)
	c.SuggestedResolution = &suggestion
	c.AutoResolvable = autoResolvable(&suggestion)
	return c
}

// ResolveConflict removes the conflict from the pending set and returns the
// resolved data.
func (r *Resolver) ResolveConflict(ctx context.Context, id string, resolution models.Resolution) (models.Value, error) {
	r.mu.Lock()
	c, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return models.Value{}, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	delete(r.pending, id)
	r.mu.Unlock()

	r.logger.Info("conflict resolved",
		slog.String("conflict_id", id),
		slog.String("collection", c.EntityType),
		slog.String("entity_id", c.EntityID),
		slog.String("strategy", string(resolution.Strategy)))

	r.persist(ctx)
	return resolution.ResolvedData, nil
}

// ResolveWith builds a resolution for the chosen strategy and applies it.
func (r *Resolver) ResolveWith(ctx context.Context, id string, strategy models.Strategy) (models.Resolution, error) {
	c, err := r.Get(id)
	if err != nil {
		return models.Resolution{}, err
	}

	res, err := r.rules.resolve(c, strategy)
	if err != nil {
		return models.Resolution{}, err
	}
	if _, err := r.ResolveConflict(ctx, id, res); err != nil {
		return models.Resolution{}, err
	}
	return res, nil
}

// AutoResolveConflict applies the suggested resolution if the conflict is
// auto-resolvable, and fails with ErrNotAutoResolvable otherwise.
func (r *Resolver) AutoResolveConflict(ctx context.Context, id string) (models.Resolution, error) {
	c, err := r.Get(id)
	if err != nil {
		return models.Resolution{}, err
	}
	if !c.AutoResolvable || c.SuggestedResolution == nil {
		return models.Resolution{}, fmt.Errorf("%w: %s", ErrNotAutoResolvable, id)
	}

	res := *c.SuggestedResolution
	if _, err := r.ResolveConflict(ctx, id, res); err != nil {
		return models.Resolution{}, err
	}
	return res, nil
}

// Get returns a copy of a pending conflict.
func (r *Resolver) Get(id string) (*models.DataConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	return cloneConflict(c), nil
}

// PendingConflicts returns copies of the unresolved conflicts, oldest first.
func (r *Resolver) PendingConflicts() []*models.DataConflict {
	r.mu.Lock()
	out := make([]*models.DataConflict, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, cloneConflict(c))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore loads the persisted pending set. Missing or corrupt state yields an
// empty set. Returns the number of restored conflicts.
func (r *Resolver) Restore(ctx context.Context) int {
	if r.store == nil {
		return 0
	}

	data, err := r.store.Load(ctx, storage.KeyPendingConflicts)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			r.logger.Warn("failed to load pending conflicts", slog.Any("error", err))
		}
		return 0
	}

	var persisted []*models.DataConflict
	if err := json.Unmarshal(data, &persisted); err != nil {
		r.logger.Warn("pending conflicts are corrupted, starting empty", slog.Any("error", err))
		return 0
	}

	restored := 0
	r.mu.Lock()
	for _, c := range persisted {
		// Конфликт без полей существовать не может
		if c == nil || c.ID == "" || len(c.ConflictedFields) == 0 {
			continue
		}
		sort.Strings(c.ConflictedFields)
		r.pending[c.ID] = c
		restored++
	}
	r.mu.Unlock()

	return restored
}

func (r *Resolver) persist(ctx context.Context) {
	if r.store == nil {
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	data, err := json.Marshal(r.PendingConflicts())
	if err != nil {
		r.logger.Warn("failed to encode pending conflicts", slog.Any("error", err))
		return
	}
	if err := r.store.Save(ctx, storage.KeyPendingConflicts, data); err != nil {
		r.logger.Warn("failed to persist pending conflicts", slog.Any("error", err))
	}
}

func clonePtr(v *models.Value) *models.Value {
	if v == nil {
		return nil
	}
	c := v.Clone()
	return &c
}

func cloneConflict(c *models.DataConflict) *models.DataConflict {
	out := *c
	out.LocalData = clonePtr(c.LocalData)
	out.RemoteData = clonePtr(c.RemoteData)
	out.BaseData = clonePtr(c.BaseData)
	out.ConflictedFields = append([]string(nil), c.ConflictedFields...)
	if c.SuggestedResolution != nil {
		res := *c.SuggestedResolution
		res.ResolvedData = res.ResolvedData.Clone()
		res.Copy = clonePtr(res.Copy)
		out.SuggestedResolution = &res
	}
	return &out
}
