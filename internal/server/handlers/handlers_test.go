package handlers

import (
	"context"
	"io"
	"log/slog"

	"github.com/iudanet/offsync/internal/server/storage"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDocumentStorage - мок для DocumentStorage
type mockDocumentStorage struct {
	applyFunc func(ctx context.Context, op storage.Operation) (*storage.Applied, error)
	getFunc   func(ctx context.Context, collection, id string) (*storage.Document, error)
	applied   []storage.Operation
}

func (m *mockDocumentStorage) ApplyOperation(ctx context.Context, op storage.Operation) (*storage.Applied, error) {
	m.applied = append(m.applied, op)
	if m.applyFunc != nil {
		return m.applyFunc(ctx, op)
	}
	return &storage.Applied{EntityID: op.EntityID, Version: 1}, nil
}

func (m *mockDocumentStorage) GetDocument(ctx context.Context, collection, id string) (*storage.Document, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, collection, id)
	}
	return nil, storage.ErrDocumentNotFound
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
