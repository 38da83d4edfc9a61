package storage

import (
	"context"
	"time"
)

// Виды операций, которые умеет применять хранилище.
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

// Document представляет текущую версию документа коллекции
type Document struct {
	UpdatedAt  time.Time
	Collection string
	ID         string
	Data       []byte // JSON документа
	Version    int64  // увеличивается при каждом изменении
}

// Operation представляет мутацию, присланную клиентом
type Operation struct {
	ID         string // ключ идемпотентности
	Kind       string
	Collection string
	EntityID   string // пуст для create: тогда используется ID операции
	Payload    []byte
}

// Applied описывает результат применения операции
type Applied struct {
	AppliedAt time.Time
	EntityID  string
	Version   int64
	Replayed  bool // операция с этим ID уже применялась, результат взят из журнала
}

// DocumentStorage defines persistence for the documents clients sync.
type DocumentStorage interface {
	// ApplyOperation applies op atomically and records it under op.ID.
	// Applying an already recorded operation returns the recorded result with
	// Replayed set and changes nothing.
	// Returns ErrDocumentExists for a create of an existing document and
	// ErrDocumentNotFound for an update or delete of a missing one.
	ApplyOperation(ctx context.Context, op Operation) (*Applied, error)

	// GetDocument returns ErrDocumentNotFound if the document doesn't exist
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// Ping checks that the database is reachable
	Ping(ctx context.Context) error
}
