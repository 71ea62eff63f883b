package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// maxOccurrenceBytes bounds the inbound payload size.
const maxOccurrenceBytes = 1 << 20

// OccurrenceProcessor handles one normalized occurrence end to end.
// Satisfied by services.Orchestrator.
type OccurrenceProcessor interface {
	ProcessOccurrence(ctx context.Context, occ *models.NormalizedOccurrence) (*models.AttachResult, *models.Discard, error)
}

// discardResponse reports an intentionally dropped occurrence.
type discardResponse struct {
	Discarded bool   `json:"discarded"`
	Reason    string `json:"reason"`
}

// IngestHandler accepts normalized occurrences from ingestion workers and
// feeds them through the grouping orchestrator.
type IngestHandler struct {
	orchestrator OccurrenceProcessor
	logger       *zap.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(orchestrator OccurrenceProcessor, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{orchestrator: orchestrator, logger: logger}
}

// RegisterRoutes registers the ingest handler's routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/occurrences", h.ProcessOccurrence)
}

// ProcessOccurrence handles POST /api/occurrences.
// Responds 200 with an AttachResult, 202 when the occurrence was discarded
// (the worker must not resubmit), or 400 on a malformed payload.
func (h *IngestHandler) ProcessOccurrence(w http.ResponseWriter, r *http.Request) {
	var occ models.NormalizedOccurrence

	body := http.MaxBytesReader(w, r.Body, maxOccurrenceBytes)
	if err := json.NewDecoder(body).Decode(&occ); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid occurrence payload")
		return
	}

	result, discard, err := h.orchestrator.ProcessOccurrence(r.Context(), &occ)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoHashes) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to process occurrence", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to process occurrence")
		return
	}

	if discard != nil {
		_ = WriteJSON(w, http.StatusAccepted, discardResponse{
			Discarded: true,
			Reason:    string(discard.Reason),
		})
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode attach result", zap.Error(err))
	}
}
