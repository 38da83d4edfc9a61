package models

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind тип мутации, ожидающей отправки.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// ParseOperationKind parses an operation kind name (case-insensitive).
func ParseOperationKind(s string) (OperationKind, error) {
	switch kind := OperationKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case OperationCreate, OperationUpdate, OperationDelete:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
}

const (
	// MaxAttemptsCritical лимит попыток для операций с приоритетом Critical
	MaxAttemptsCritical = 10
	// MaxAttemptsDefault лимит попыток для остальных операций
	MaxAttemptsDefault = 3
)

// MaxAttemptsFor returns the attempt limit derived from priority.
func MaxAttemptsFor(p Priority) int {
	if p == PriorityCritical {
		return MaxAttemptsCritical
	}
	return MaxAttemptsDefault
}

// PendingOperation представляет мутацию (create/update/delete), ожидающую отправки на сервер.
// Инвариант: Attempts <= MaxAttempts; после исчерпания попыток операция удаляется из очереди.
type PendingOperation struct {
	EnqueuedAt       time.Time     `json:"enqueued_at"`               // EnqueuedAt время постановки в очередь
	NextAttemptAt    time.Time     `json:"next_attempt_at"`           // NextAttemptAt не раньше этого времени операция отправляется повторно
	Payload          Value         `json:"payload"`                   // Payload непрозрачные данные сущности
	ID               string        `json:"id"`                        // ID уникальный идентификатор операции (UUID)
	Kind             OperationKind `json:"kind"`                      // Kind тип мутации
	TargetCollection string        `json:"target_collection"`         // TargetCollection коллекция на сервере (например, "trips")
	TargetID         string        `json:"target_id,omitempty"`       // TargetID идентификатор сущности; пуст для Create до ответа сервера
	LastError        string        `json:"last_error,omitempty"`      // LastError текст последней ошибки транспорта
	Attempts         int           `json:"attempts"`                  // Attempts количество неудачных попыток
	MaxAttempts      int           `json:"max_attempts"`              // MaxAttempts лимит попыток (Critical=10, остальные=3)
	Priority         Priority      `json:"priority"`                  // Priority приоритет отправки
}

// Exhausted reports whether the operation has used up its attempts.
func (op *PendingOperation) Exhausted() bool {
	return op.Attempts >= op.MaxAttempts
}

// Due reports whether the operation may be sent at now.
func (op *PendingOperation) Due(now time.Time) bool {
	return op.NextAttemptAt.IsZero() || !now.Before(op.NextAttemptAt)
}

// EntityKey returns "collection/id", or the operation id for a Create without a target id.
func (op *PendingOperation) EntityKey() string {
	id := op.TargetID
	if id == "" {
		id = op.ID
	}
	return op.TargetCollection + "/" + id
}

// Clone returns a deep copy of the operation.
func (op *PendingOperation) Clone() *PendingOperation {
	clone := *op
	clone.Payload = op.Payload.Clone()
	return &clone
}

// Validate checks the fields required before enqueueing.
func (op *PendingOperation) Validate() error {
	switch op.Kind {
	case OperationCreate:
	case OperationUpdate, OperationDelete:
		if op.TargetID == "" {
			return fmt.Errorf("%s operation requires a target id", op.Kind)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if op.TargetCollection == "" {
		return fmt.Errorf("target collection is required")
	}
	return nil
}
