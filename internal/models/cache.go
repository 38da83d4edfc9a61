package models

import "time"

// CacheEntry представляет запись многоуровневого кэша.
// Запись никогда не изменяется частично: только заменяется целиком или удаляется.
type CacheEntry[T any] struct {
	InsertedAt time.Time     `json:"inserted_at"` // InsertedAt время вставки записи
	Data       T             `json:"data"`        // Data закэшированное значение
	TTL        time.Duration `json:"ttl"`         // TTL время жизни (отрицательное значение - без истечения)
	ApproxSize int           `json:"approx_size"` // ApproxSize примерный размер в байтах (длина сериализованной формы)
	Priority   Priority      `json:"priority"`    // Priority класс приоритета для вытеснения
	Durable    bool          `json:"durable"`     // Durable запись также хранится в постоянном уровне
}

// Expired reports whether the entry is logically absent at now.
// An entry expires once now - InsertedAt > TTL; a negative TTL never expires.
func (e *CacheEntry[T]) Expired(now time.Time) bool {
	if e.TTL < 0 {
		return false
	}
	return now.Sub(e.InsertedAt) > e.TTL
}
