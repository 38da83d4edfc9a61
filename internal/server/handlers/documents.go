package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/internal/validation"
	"github.com/iudanet/offsync/pkg/api"
)

// maxBodySize ограничение размера тела запроса
const maxBodySize = 1 << 20

// DocumentStorage определяет интерфейс для работы с документами
type DocumentStorage interface {
	ApplyOperation(ctx context.Context, op storage.Operation) (*storage.Applied, error)
	GetDocument(ctx context.Context, collection, id string) (*storage.Document, error)
}

// DocumentHandler applies client operations and serves current documents.
type DocumentHandler struct {
	logger  *slog.Logger
	storage DocumentStorage
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(logger *slog.Logger, storage DocumentStorage) *DocumentHandler {
	return &DocumentHandler{
		logger:  logger,
		storage: storage,
	}
}

// ApplyOperation обрабатывает POST /api/v1/operations
func (h *DocumentHandler) ApplyOperation(w http.ResponseWriter, r *http.Request) {
	var req api.OperationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(h.logger, w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("failed to decode operation", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateTarget(req.Collection, req.EntityID); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	subject, _ := GetSubject(r.Context())
	log := h.logger.With(
		slog.String("op_id", req.OperationID),
		slog.String("kind", req.Kind),
		slog.String("collection", req.Collection),
		slog.String("entity_id", req.EntityID),
	)
	if subject != "" {
		log = log.With(slog.String("subject", subject))
	}

	applied, err := h.storage.ApplyOperation(r.Context(), storage.Operation{
		ID:         req.OperationID,
		Kind:       req.Kind,
		Collection: req.Collection,
		EntityID:   req.EntityID,
		Payload:    req.Payload,
	})
	switch {
	case errors.Is(err, storage.ErrInvalidOperation):
		log.Warn("operation rejected", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, storage.ErrDocumentExists):
		log.Warn("operation rejected", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, storage.ErrDocumentNotFound):
		log.Warn("operation rejected", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		log.Error("failed to apply operation", slog.Any("error", err))
		sendError(h.logger, w, "failed to apply operation", http.StatusInternalServerError)
		return
	}

	if applied.Replayed {
		log.Info("operation replayed", slog.Int64("version", applied.Version))
	} else {
		log.Info("operation applied", slog.Int64("version", applied.Version))
	}

	sendJSON(h.logger, w, api.OperationResponse{
		UpdatedAt: applied.AppliedAt,
		EntityID:  applied.EntityID,
		Version:   applied.Version,
		Replayed:  applied.Replayed,
	}, http.StatusOK)
}

// GetDocument обрабатывает GET /api/v1/collections/{collection}/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	if id == "" {
		sendError(h.logger, w, "entity id cannot be empty", http.StatusBadRequest)
		return
	}
	if err := validateTarget(collection, id); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := h.storage.GetDocument(r.Context(), collection, id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		sendError(h.logger, w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get document",
			slog.String("collection", collection),
			slog.String("id", id),
			slog.Any("error", err))
		sendError(h.logger, w, "failed to get document", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, api.DocumentResponse{
		UpdatedAt:  doc.UpdatedAt,
		Collection: doc.Collection,
		ID:         doc.ID,
		Data:       doc.Data,
		Version:    doc.Version,
	}, http.StatusOK)
}

// validateTarget проверяет коллекцию и, если задан, идентификатор сущности
func validateTarget(collection, id string) error {
	if err := validation.ValidateCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	return validation.ValidateEntityID(id)
}
