// Package app assembles the offline engine from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/iudanet/offsync/internal/client/api"
	"github.com/iudanet/offsync/internal/client/cache"
	"github.com/iudanet/offsync/internal/client/conflict"
	"github.com/iudanet/offsync/internal/client/connectivity"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/client/storage/boltdb"
	"github.com/iudanet/offsync/internal/client/storage/encrypted"
	"github.com/iudanet/offsync/internal/client/storage/filestore"
	"github.com/iudanet/offsync/internal/client/sync"
	"github.com/iudanet/offsync/internal/client/transport"
	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/models"
)

// Option configures New.
type Option func(*options)

type options struct {
	fs         afero.Fs
	transport  transport.Transport
	signal     connectivity.Signal
	passphrase func() (string, error)
}

// WithFs replaces the OS filesystem used by the file backend.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithTransport replaces the HTTP client.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) { o.transport = tr }
}

// WithSignal replaces the connectivity signal built from configuration.
func WithSignal(signal connectivity.Signal) Option {
	return func(o *options) { o.signal = signal }
}

// WithPassphrasePrompt is asked for the storage passphrase when encryption is
// enabled and none is configured.
func WithPassphrasePrompt(prompt func() (string, error)) Option {
	return func(o *options) { o.passphrase = prompt }
}

// App holds the assembled client components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.DurableStore
	Cache    *cache.Cache[models.Value]
	Queue    *queue.Queue
	Resolver *conflict.Resolver
	Monitor  *connectivity.Monitor
	Driver   *sync.Driver

	closers []io.Closer
}

// New opens the local store, restores persisted state and wires the sync
// driver. Queued operations are replayed into the cache so that reads see
// local writes made before a restart.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	var metadata storage.MetadataStorage
	a.Store, metadata, err = a.openStore(ctx, o)
	if err != nil {
		return nil, err
	}

	rules := conflict.DefaultRules()
	if cfg.Conflict.RulesFile != "" {
		rules, err = conflict.LoadRules(cfg.Conflict.RulesFile)
		if err != nil {
			return nil, err
		}
	}

	a.Cache = cache.New[models.Value](a.Store, logger.With(slog.String("component", "cache")),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL))
	a.Queue = queue.New(a.Store, logger.With(slog.String("component", "queue")), queue.Config{
		MaxSize:        cfg.Queue.MaxSize,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay,
		RetryMaxDelay:  cfg.Queue.RetryMaxDelay,
		RetryJitter:    cfg.Queue.RetryJitter,
	})
	a.Resolver = conflict.New(a.Store, logger.With(slog.String("component", "conflict")), rules,
		conflict.WithBatchConcurrency(cfg.Conflict.BatchConcurrency))

	signal := o.signal
	if signal == nil && cfg.Connectivity.StatusFile != "" {
		fileSignal, err := connectivity.NewFileSignal(cfg.Connectivity.StatusFile, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fileSignal)
		signal = fileSignal
	}
	a.Monitor = connectivity.NewMonitor(ctx, signal, logger.With(slog.String("component", "connectivity")),
		cfg.Connectivity.RecheckInterval)

	tr := o.transport
	if tr == nil {
		tr = api.NewClient(cfg.Remote.URL,
			api.WithToken(cfg.Remote.Token),
			api.WithTimeout(cfg.Remote.Timeout))
	}

	var driverOpts []sync.Option
	if metadata != nil {
		driverOpts = append(driverOpts, sync.WithMetadata(metadata))
	}
	a.Driver = sync.NewDriver(a.Queue, a.Cache, a.Resolver, a.Monitor, tr,
		logger.With(slog.String("component", "sync")), sync.Config{
			Workers:          cfg.Sync.Workers,
			SendInterval:     cfg.Sync.SendInterval,
			SettleDelay:      cfg.Sync.SettleDelay,
			PeriodicInterval: cfg.Sync.PeriodicInterval,
			EntityTTL:        cfg.Cache.EntityTTL,
			BaseTTL:          cfg.Sync.BaseTTL,
			Durable:          cfg.Cache.Durable,
		}, driverOpts...)

	cached := a.Cache.Restore(ctx)
	queued := a.Queue.Restore(ctx)
	conflicts := a.Resolver.Restore(ctx)
	replayed := a.Driver.Recover(ctx)

	logger.Info("offline state restored",
		slog.Int("cache_entries", cached),
		slog.Int("pending_operations", queued),
		slog.Int("pending_conflicts", conflicts),
		slog.Int("replayed", replayed),
		slog.String("status", a.Monitor.Status().String()))

	return a, nil
}

func (a *App) openStore(ctx context.Context, o options) (storage.DurableStore, storage.MetadataStorage, error) {
	cfg := a.Config
	path := cfg.StoragePath()

	var (
		store    storage.DurableStore
		metadata storage.MetadataStorage
	)
	switch cfg.Storage.Backend {
	case config.BackendBolt:
		db, err := boltdb.New(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db)
		store, metadata = db, db
	case config.BackendFile:
		fs, err := filestore.New(o.fs, path)
		if err != nil {
			return nil, nil, err
		}
		store, metadata = fs, fs
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if !cfg.Storage.Encrypt {
		return store, metadata, nil
	}

	passphrase := cfg.Storage.Passphrase
	if passphrase == "" {
		if o.passphrase == nil {
			return nil, nil, fmt.Errorf("storage encryption requires a passphrase")
		}
		var err error
		if passphrase, err = o.passphrase(); err != nil {
			return nil, nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
	}

	enc, err := encrypted.New(ctx, store, passphrase)
	if err != nil {
		return nil, nil, err
	}
	return enc, metadata, nil
}

// Run keeps the engine alive until ctx is done: it follows connectivity,
// sweeps the cache and drains the queue on reconnects and on a timer.
func (a *App) Run(ctx context.Context) error {
	if err := a.Driver.Start(ctx); err != nil {
		return err
	}
	defer a.Driver.Stop()

	var wg conc.WaitGroup
	wg.Go(func() { a.Monitor.Run(ctx) })
	wg.Go(func() { a.Cache.Run(ctx, a.Config.Cache.CleanInterval, a.Config.Cache.MaxBytes) })
	wg.Wait()

	return nil
}

// Close releases the store and the connectivity watcher. Every failure is
// reported.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errs
}
