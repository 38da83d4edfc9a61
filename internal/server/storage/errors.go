package storage

import "errors"

// Common storage errors
var (
	// ErrDocumentNotFound indicates that the document does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists indicates that a create targets an existing document
	ErrDocumentExists = errors.New("document already exists")

	// ErrInvalidOperation indicates that the operation cannot be applied as sent
	ErrInvalidOperation = errors.New("invalid operation")
)
