package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/offsync/internal/server/storage"
)

// ApplyOperation applies op inside a transaction and journals it.
// A replayed operation id returns the journaled result unchanged.
func (s *Storage) ApplyOperation(ctx context.Context, op storage.Operation) (*storage.Applied, error) {
	if op.ID == "" || op.Collection == "" {
		return nil, fmt.Errorf("%w: operation id and collection are required", storage.ErrInvalidOperation)
	}

	entityID := op.EntityID
	switch op.Kind {
	case storage.KindCreate:
		if entityID == "" {
			entityID = op.ID
		}
	case storage.KindUpdate, storage.KindDelete:
		if entityID == "" {
			return nil, fmt.Errorf("%w: %s requires an entity id", storage.ErrInvalidOperation, op.Kind)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", storage.ErrInvalidOperation, op.Kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	applied, err := getApplied(ctx, tx, op.ID)
	if err != nil {
		return nil, err
	}
	if applied != nil {
		return applied, nil
	}

	current, err := getDocument(ctx, tx, op.Collection, entityID)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	version := int64(1)
	switch op.Kind {
	case storage.KindCreate:
		if current != nil {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrDocumentExists, op.Collection, entityID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, op.Collection, entityID, payloadOrNull(op.Payload), version, now.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("failed to insert document: %w", err)
		}

	case storage.KindUpdate:
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrDocumentNotFound, op.Collection, entityID)
		}
		version = current.Version + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET data = ?, version = ?, updated_at = ?
			WHERE collection = ? AND id = ?
		`, payloadOrNull(op.Payload), version, now.UnixNano(), op.Collection, entityID)
		if err != nil {
			return nil, fmt.Errorf("failed to update document: %w", err)
		}

	case storage.KindDelete:
		if current == nil {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrDocumentNotFound, op.Collection, entityID)
		}
		version = current.Version + 1
		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, op.Collection, entityID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete document: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applied_operations (operation_id, kind, collection, entity_id, version, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.ID, op.Kind, op.Collection, entityID, version, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to record operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit operation: %w", err)
	}

	return &storage.Applied{
		AppliedAt: now,
		EntityID:  entityID,
		Version:   version,
	}, nil
}

// GetDocument returns ErrDocumentNotFound if the document doesn't exist
func (s *Storage) GetDocument(ctx context.Context, collection, id string) (*storage.Document, error) {
	return getDocument(ctx, s.db, collection, id)
}

// querier общий интерфейс *sql.DB и *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q querier, collection, id string) (*storage.Document, error) {
	query := `
		SELECT collection, id, data, version, updated_at
		FROM documents
		WHERE collection = ? AND id = ?
	`

	doc := &storage.Document{}
	var updatedAt int64
	err := q.QueryRowContext(ctx, query, collection, id).Scan(
		&doc.Collection,
		&doc.ID,
		&doc.Data,
		&doc.Version,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return doc, nil
}

func getApplied(ctx context.Context, q querier, operationID string) (*storage.Applied, error) {
	query := `
		SELECT entity_id, version, applied_at
		FROM applied_operations
		WHERE operation_id = ?
	`

	applied := &storage.Applied{Replayed: true}
	var appliedAt int64
	err := q.QueryRowContext(ctx, query, operationID).Scan(&applied.EntityID, &applied.Version, &appliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check operation journal: %w", err)
	}

	applied.AppliedAt = time.Unix(0, appliedAt).UTC()
	return applied, nil
}

// payloadOrNull хранит отсутствующий payload как JSON null
func payloadOrNull(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte("null")
	}
	return payload
}
