// Package transport defines the contract between the sync driver and the
// backend it reconciles with.
package transport

import (
	"context"
	"errors"

	"github.com/iudanet/offsync/internal/models"
)

//go:generate moq -out transport_mock.go . Transport

// Result is what the backend reports after applying an operation.
type Result struct {
	EntityID string // EntityID идентификатор сущности; для Create назначается сервером
}

// Transport sends queued operations and fetches remote entity versions.
// Implementations impose their own timeouts; the driver treats a timeout like
// any other transient error.
type Transport interface {
	// Send applies one operation on the backend. Wrap errors that must not be
	// retried with Permanent.
	Send(ctx context.Context, op models.PendingOperation) (Result, error)

	// Fetch returns the remote version of an entity, or nil if it does not exist.
	Fetch(ctx context.Context, collection, id string) (*models.Value, error)
}

// Funcs adapts plain functions to Transport. A nil FetchFunc reports every
// entity as absent.
type Funcs struct {
	SendFunc  func(ctx context.Context, op models.PendingOperation) (Result, error)
	FetchFunc func(ctx context.Context, collection, id string) (*models.Value, error)
}

var _ Transport = Funcs{}

// Send implements Transport.
func (f Funcs) Send(ctx context.Context, op models.PendingOperation) (Result, error) {
	if f.SendFunc == nil {
		return Result{}, Permanent(errors.New("transport has no send function"))
	}
	return f.SendFunc(ctx, op)
}

// Fetch implements Transport.
func (f Funcs) Fetch(ctx context.Context, collection, id string) (*models.Value, error) {
	if f.FetchFunc == nil {
		return nil, nil
	}
	return f.FetchFunc(ctx, collection, id)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the driver drops the operation
// without consuming further attempts. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in err's chain was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
