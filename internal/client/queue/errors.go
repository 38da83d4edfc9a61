package queue

import "errors"

var (
	// ErrOperationNotFound is returned for an unknown operation id
	ErrOperationNotFound = errors.New("operation not found")

	// ErrQueueFull is returned by Enqueue when MaxSize is reached
	ErrQueueFull = errors.New("pending operation queue is full")
)
