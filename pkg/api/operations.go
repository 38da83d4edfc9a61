// Package api holds the wire types shared by the offsync client and the
// reference server.
package api

import (
	"encoding/json"
	"time"
)

// Виды операций на проводе.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// OperationRequest представляет одну мутацию, отправленную клиентом
type OperationRequest struct {
	OperationID string          `json:"operation_id"`        // ключ идемпотентности (ID операции в очереди)
	Kind        string          `json:"kind"`                // create, update или delete
	Collection  string          `json:"collection"`          // коллекция на сервере
	EntityID    string          `json:"entity_id,omitempty"` // пуст для create без клиентского идентификатора
	Payload     json.RawMessage `json:"payload,omitempty"`   // данные сущности
}

// OperationResponse представляет результат применения операции
type OperationResponse struct {
	UpdatedAt time.Time `json:"updated_at"` // время применения на сервере
	EntityID  string    `json:"entity_id"`  // идентификатор сущности (назначенный сервером для create)
	Version   int64     `json:"version"`    // версия документа после применения
	Replayed  bool      `json:"replayed"`   // операция уже применялась ранее
}

// DocumentResponse представляет текущую версию документа
type DocumentResponse struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
}

// HealthResponse представляет ответ health-check эндпоинта
type HealthResponse struct {
	Time   time.Time `json:"time"`
	Status string    `json:"status"`
}
