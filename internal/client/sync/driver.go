// Package sync drives the offline engine: it routes application writes
// through the pending-operation queue, drains the queue while online and
// reconciles remote state on the read path.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iudanet/offsync/internal/client/cache"
	"github.com/iudanet/offsync/internal/client/conflict"
	"github.com/iudanet/offsync/internal/client/connectivity"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/client/transport"
	"github.com/iudanet/offsync/internal/models"
)

// Config настройки драйвера синхронизации
type Config struct {
	Workers          int           // Workers число параллельных отправок внутри прохода
	SendInterval     time.Duration // SendInterval пауза между запуском соседних отправок
	SettleDelay      time.Duration // SettleDelay ожидание после восстановления связи перед drain
	PeriodicInterval time.Duration // PeriodicInterval период фонового drain при непустой очереди
	EntityTTL        time.Duration // EntityTTL время жизни прочитанных с сервера сущностей в кэше (0 - TTL кэша по умолчанию)
	BaseTTL          time.Duration // BaseTTL время жизни последней согласованной версии сущности
	Durable          bool          // Durable сохранять сущности и согласованные версии в постоянном уровне кэша
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          2,
		SendInterval:     100 * time.Millisecond,
		SettleDelay:      2 * time.Second,
		PeriodicInterval: 5 * time.Minute,
		BaseTTL:          24 * time.Hour,
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithMetadata sets the storage that records the last successful sync.
func WithMetadata(metadata storage.MetadataStorage) Option {
	return func(d *Driver) { d.metadata = metadata }
}

// Driver owns no state of its own beyond bookkeeping: the queue, cache and
// resolver stay authoritative for their data.
type Driver struct {
	queue     *queue.Queue
	cache     *cache.Cache[models.Value]
	resolver  *conflict.Resolver
	monitor   *connectivity.Monitor
	transport transport.Transport
	metadata  storage.MetadataStorage
	logger    *slog.Logger
	now       func() time.Time

	kick     chan struct{}
	inflight map[string]struct{} // операции, отправляемые прямо сейчас
	subs     map[int]chan Event
	stop     context.CancelFunc
	done     chan struct{}

	cfg Config

	draining atomic.Bool
	rerun    atomic.Bool // появились новые операции во время drain
	running  atomic.Bool

	mu         sync.Mutex
	inflightMu sync.Mutex // держится, пока операция очереди проверяется и меняется
	subsMu     sync.Mutex
	nextSub    int
}

// NewDriver wires the engine components together.
func NewDriver(
	q *queue.Queue,
	c *cache.Cache[models.Value],
	resolver *conflict.Resolver,
	monitor *connectivity.Monitor,
	tr transport.Transport,
	logger *slog.Logger,
	cfg Config,
	opts ...Option,
) *Driver {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PeriodicInterval <= 0 {
		cfg.PeriodicInterval = DefaultConfig().PeriodicInterval
	}
	d := &Driver{
		queue:     q,
		cache:     c,
		resolver:  resolver,
		monitor:   monitor,
		transport: tr,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
		kick:      make(chan struct{}, 1),
		inflight:  make(map[string]struct{}),
		subs:      make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EntityKey returns the cache key of an entity.
func EntityKey(collection, id string) string {
	return collection + "/" + id
}

func baseKey(collection, id string) string {
	return "base:" + EntityKey(collection, id)
}

// Write records a local mutation. The operation is always queued first so it
// survives a crash; the new state is written through to the cache so reads
// see it immediately. While online a drain is requested right away.
//
// A write to an entity whose earlier operation is still queued and not in
// flight is folded into that operation. Returns the id of the queued
// operation; for a Create without a target id it doubles as the temporary
// entity id until the server assigns one.
func (d *Driver) Write(ctx context.Context, op models.PendingOperation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("invalid operation: %w", err)
	}

	id, folded, cancelled, err := d.fold(ctx, op)
	if err != nil {
		return "", err
	}
	if !folded {
		id, err = d.queue.Enqueue(ctx, op)
		if err != nil {
			return "", fmt.Errorf("failed to enqueue operation: %w", err)
		}
	}

	entityID := op.TargetID
	if entityID == "" {
		entityID = id
	}
	if cancelled {
		d.cache.Delete(ctx, EntityKey(op.TargetCollection, entityID))
		return id, nil
	}
	d.writeThrough(ctx, op.Kind, op.TargetCollection, entityID, op.Payload, op.Priority)

	d.rerun.Store(true)
	if d.monitor.Online() {
		d.requestDrain(ctx)
	}
	return id, nil
}

// fold merges op into a queued operation for the same entity when possible.
// cancelled reports a delete that annihilated an unsent create.
func (d *Driver) fold(ctx context.Context, op models.PendingOperation) (id string, folded, cancelled bool, err error) {
	if op.Kind == models.OperationCreate {
		return "", false, false, nil
	}

	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	for _, queued := range d.pendingFor(op.TargetCollection, op.TargetID) {
		if _, busy := d.inflight[queued.ID]; busy {
			continue
		}
		switch {
		case op.Kind == models.OperationUpdate:
			// Update поверх Create или Update: сервер увидит только итоговое состояние
			if queued.Kind == models.OperationDelete {
				continue
			}
			if err := d.queue.Replace(ctx, queued.ID, op.Payload); err != nil {
				return "", false, false, fmt.Errorf("failed to fold update: %w", err)
			}
			return queued.ID, true, false, nil

		case op.Kind == models.OperationDelete && queued.Kind == models.OperationCreate:
			// Сущность ещё не доходила до сервера: удалять на сервере нечего
			if err := d.queue.Dequeue(ctx, queued.ID); err != nil {
				return "", false, false, fmt.Errorf("failed to cancel pending create: %w", err)
			}
			d.logger.Info("pending create cancelled by delete",
				slog.String("op_id", queued.ID),
				slog.String("collection", op.TargetCollection))
			return queued.ID, true, true, nil

		case op.Kind == models.OperationDelete && queued.Kind == models.OperationUpdate:
			if err := d.queue.Dequeue(ctx, queued.ID); err != nil {
				return "", false, false, fmt.Errorf("failed to drop superseded update: %w", err)
			}
		}
	}
	return "", false, false, nil
}

// pendingFor returns queued operations targeting the entity. A Create without
// a target id matches by its own id.
func (d *Driver) pendingFor(collection, id string) []*models.PendingOperation {
	var out []*models.PendingOperation
	for _, op := range d.queue.List() {
		if op.TargetCollection != collection {
			continue
		}
		if op.TargetID == id || (op.TargetID == "" && op.ID == id) {
			out = append(out, op)
		}
	}
	return out
}

// writeThrough mirrors a local mutation into the cache. Unsent state never
// expires; a delete leaves a null tombstone so reads do not resurrect the
// entity from the server before the delete is delivered.
func (d *Driver) writeThrough(ctx context.Context, kind models.OperationKind, collection, id string, payload models.Value, priority models.Priority) {
	key := EntityKey(collection, id)
	if kind == models.OperationDelete {
		d.set(ctx, key, models.Null(), cache.NoExpiration, priority)
		return
	}
	d.set(ctx, key, payload, cache.NoExpiration, priority)
}

// Recover rebuilds the write-through state of queued operations after a
// restart. Returns the number of replayed operations.
func (d *Driver) Recover(ctx context.Context) int {
	ops := d.queue.List()
	// Последняя по времени запись сущности должна победить
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt) })
	for _, op := range ops {
		id := op.TargetID
		if id == "" {
			id = op.ID
		}
		d.writeThrough(ctx, op.Kind, op.TargetCollection, id, op.Payload, op.Priority)
	}
	if len(ops) > 0 {
		d.rerun.Store(true)
	}
	return len(ops)
}

// Read returns an entity, serving the cache first and falling back to the
// backend. The second result is false when the entity does not exist or has
// a pending local delete.
func (d *Driver) Read(ctx context.Context, collection, id string) (models.Value, bool, error) {
	key := EntityKey(collection, id)
	if v, ok := d.cache.Get(ctx, key); ok {
		if v.IsNull() {
			return models.Value{}, false, nil
		}
		return v, true, nil
	}

	if !d.monitor.Online() {
		return models.Value{}, false, fmt.Errorf("read %s: %w", key, ErrOffline)
	}

	remote, err := d.transport.Fetch(ctx, collection, id)
	if err != nil {
		return models.Value{}, false, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	d.accept(ctx, collection, id, remote)
	if remote == nil {
		return models.Value{}, false, nil
	}
	return *remote, true, nil
}

// accept stores a remote version as both the cached value and the base for
// later conflict detection. nil means the entity is gone on the server.
func (d *Driver) accept(ctx context.Context, collection, id string, remote *models.Value) {
	key := EntityKey(collection, id)
	if remote == nil {
		d.cache.Delete(ctx, key)
		d.cache.Delete(ctx, baseKey(collection, id))
		return
	}

	priority := models.PriorityNormal
	if entry, ok := d.cache.Entry(key); ok {
		priority = entry.Priority
	}
	d.set(ctx, key, *remote, d.cfg.EntityTTL, priority)
	d.setBase(ctx, collection, id, *remote)
}

func (d *Driver) setBase(ctx context.Context, collection, id string, v models.Value) {
	d.set(ctx, baseKey(collection, id), v, d.cfg.BaseTTL, models.PriorityLow)
}

// set writes to the cache, through to the durable tier when cfg.Durable is set.
func (d *Driver) set(ctx context.Context, key string, v models.Value, ttl time.Duration, priority models.Priority) {
	if d.cfg.Durable {
		d.cache.Set(ctx, key, v, ttl, priority, cache.Durable())
		return
	}
	d.cache.Set(ctx, key, v, ttl, priority)
}

func (d *Driver) base(ctx context.Context, collection, id string) *models.Value {
	v, ok := d.cache.Get(ctx, baseKey(collection, id))
	if !ok {
		return nil
	}
	return &v
}

// CachedIDs returns the ids of live cached entities of a collection.
func (d *Driver) CachedIDs(collection string) []string {
	prefix := collection + "/"
	var ids []string
	for _, key := range d.cache.Keys() {
		if id, ok := strings.CutPrefix(key, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// LastSyncTime returns the time of the last drain that delivered an
// operation, or the zero time.
func (d *Driver) LastSyncTime(ctx context.Context) (time.Time, error) {
	if d.metadata == nil {
		return time.Time{}, nil
	}
	return d.metadata.GetLastSyncTime(ctx)
}

// Start runs the background loop until Stop or ctx cancellation.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.stop = cancel
	d.done = make(chan struct{})

	statuses, unsubscribe := d.monitor.Subscribe()
	d.running.Store(true)
	go func(done chan struct{}) {
		defer close(done)
		defer d.running.Store(false)
		defer unsubscribe()
		d.loop(runCtx, statuses)
	}(d.done)
	return nil
}

// Stop stops the background loop and waits for an in-progress drain to
// finish its in-flight sends.
func (d *Driver) Stop() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

// Run is Start for callers that own the goroutine. Blocks until ctx is done.
func (d *Driver) Run(ctx context.Context) {
	statuses, unsubscribe := d.monitor.Subscribe()
	defer unsubscribe()

	d.running.Store(true)
	defer d.running.Store(false)
	d.loop(ctx, statuses)
}

// loop drains the queue after connectivity is restored (once the settle
// delay passes without another transition), periodically while online with a
// non-empty queue, and whenever a write requests it.
func (d *Driver) loop(ctx context.Context, statuses <-chan connectivity.Status) {
	ticker := time.NewTicker(d.cfg.PeriodicInterval)
	defer ticker.Stop()

	settle := time.NewTimer(d.cfg.SettleDelay)
	settle.Stop()
	defer settle.Stop()

	wasOnline := false
	first := true
	for {
		select {
		case <-ctx.Done():
			return

		case status, ok := <-statuses:
			if !ok {
				return
			}
			switch {
			case first && status.Online:
				// Старт в онлайне: отправляем накопленное без ожидания
				if d.queue.Len() > 0 {
					d.drainInBackground(ctx)
				}
			case status.Online && !wasOnline:
				d.logger.Debug("connectivity restored, waiting to settle",
					slog.Duration("settle_delay", d.cfg.SettleDelay))
				settle.Reset(d.cfg.SettleDelay)
			case !status.Online:
				settle.Stop()
			}
			first = false
			wasOnline = status.Online

		case <-settle.C:
			if d.monitor.Online() {
				d.drainInBackground(ctx)
			}

		case <-ticker.C:
			if d.monitor.Online() && d.queue.Len() > 0 {
				d.drainInBackground(ctx)
			}

		case <-d.kick:
			if d.monitor.Online() {
				d.drainInBackground(ctx)
			}
		}
	}
}

// drainInBackground runs a drain from the loop and logs its outcome.
func (d *Driver) drainInBackground(ctx context.Context) {
	if _, err := d.Drain(ctx); err != nil && !isExpectedDrainError(err) {
		d.logger.Warn("background drain failed", slog.Any("error", err))
	}
}

// requestDrain asks the loop for a drain, or drains inline when no loop runs.
func (d *Driver) requestDrain(ctx context.Context) {
	if d.running.Load() {
		select {
		case d.kick <- struct{}{}:
		default:
		}
		return
	}
	d.drainInBackground(ctx)
}

// claim marks a queued operation as in flight and returns its current
// state. false means it has left the queue since the pass snapshot.
func (d *Driver) claim(id string) (*models.PendingOperation, bool) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()

	op, err := d.queue.Get(id)
	if err != nil {
		return nil, false
	}
	d.inflight[id] = struct{}{}
	return op, true
}

func (d *Driver) release(id string) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	delete(d.inflight, id)
}
