package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/iudanet/offsync/internal/models"
)

// Item is a local entity taking part in batch reconciliation.
type Item struct {
	Base *models.Value // Base последняя согласованная версия, если известна
	ID   string
	Data models.Value
}

// RemoteLookup fetches the remote version of an entity; nil means absent.
type RemoteLookup func(ctx context.Context, id string) (*models.Value, error)

// BatchResult is the outcome of one item.
type BatchResult struct {
	Err        error
	Conflict   *models.DataConflict // Conflict обнаруженный конфликт, nil если версии совпали
	Resolution *models.Resolution   // Resolution примененное разрешение
	ID         string
	Data       models.Value // Data итоговые данные (локальные, если конфликта не было)
}

// SyncWithResolution reconciles every local item against its remote version
// with a bounded worker pool. Items without a conflict keep local data;
// conflicting items are resolved with strategy. A failing item does not abort
// the batch: results are returned for all items in input order and the
// per-item errors are combined into the returned error. Conflicts that could
// not be resolved stay pending.
func (r *Resolver) SyncWithResolution(ctx context.Context, collection string, items []Item, strategy models.Strategy, lookup RemoteLookup) ([]BatchResult, error) {
	p := pool.NewWithResults[BatchResult]().WithMaxGoroutines(r.batchConcurrency)

	for _, item := range items {
		p.Go(func() BatchResult {
			var result BatchResult
			recovered := panics.Try(func() {
				result = r.reconcile(ctx, collection, item, strategy, lookup)
			})
			if recovered != nil {
				result = BatchResult{ID: item.ID, Err: fmt.Errorf("reconcile panicked: %w", recovered.AsError())}
			}
			return result
		})
	}

	results := p.Wait()

	var errs error
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", collection, res.ID, res.Err))
		}
	}

	r.logger.Info("batch reconciliation finished",
		slog.String("collection", collection),
		slog.Int("items", len(items)),
		slog.Int("failed", failed))

	return results, errs
}

func (r *Resolver) reconcile(ctx context.Context, collection string, item Item, strategy models.Strategy, lookup RemoteLookup) BatchResult {
	result := BatchResult{ID: item.ID}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	remote, err := lookup(ctx, item.ID)
	if err != nil {
		result.Err = fmt.Errorf("failed to fetch remote version: %w", err)
		return result
	}

	local := item.Data
	c := r.DetectConflict(ctx, collection, item.ID, &local, remote, item.Base)
	if c == nil {
		result.Data = local
		return result
	}
	result.Conflict = c

	res, err := r.ResolveWith(ctx, c.ID, strategy)
	if err != nil {
		result.Err = err
		return result
	}
	result.Resolution = &res
	result.Data = res.ResolvedData
	return result
}
