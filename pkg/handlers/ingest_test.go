package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

type stubProcessor struct {
	result  *models.AttachResult
	discard *models.Discard
	err     error
}

func (s *stubProcessor) ProcessOccurrence(context.Context, *models.NormalizedOccurrence) (*models.AttachResult, *models.Discard, error) {
	return s.result, s.discard, s.err
}

func ingestRequest(t *testing.T, body string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/occurrences", strings.NewReader(body))
	return httptest.NewRecorder(), req
}

func occurrenceBody(t *testing.T) string {
	t.Helper()
	payload, err := json.Marshal(models.NormalizedOccurrence{
		ProjectID:  uuid.New(),
		FlatHashes: []string{"a1b2"},
	})
	require.NoError(t, err)
	return string(payload)
}

func TestProcessOccurrence_Success(t *testing.T) {
	result := &models.AttachResult{
		GroupID:    uuid.New(),
		ShortID:    42,
		IsNewGroup: true,
	}
	handler := NewIngestHandler(&stubProcessor{result: result}, zap.NewNop())

	w, req := ingestRequest(t, occurrenceBody(t))
	handler.ProcessOccurrence(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got models.AttachResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, result.GroupID, got.GroupID)
	assert.Equal(t, int64(42), got.ShortID)
	assert.True(t, got.IsNewGroup)
}

func TestProcessOccurrence_MalformedBody(t *testing.T) {
	handler := NewIngestHandler(&stubProcessor{}, zap.NewNop())

	w, req := ingestRequest(t, "{not json")
	handler.ProcessOccurrence(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessOccurrence_NoHashes(t *testing.T) {
	handler := NewIngestHandler(&stubProcessor{err: apperrors.ErrNoHashes}, zap.NewNop())

	w, req := ingestRequest(t, `{"project_id":"`+uuid.NewString()+`"}`)
	handler.ProcessOccurrence(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessOccurrence_Discarded(t *testing.T) {
	handler := NewIngestHandler(&stubProcessor{
		discard: &models.Discard{Reason: models.DiscardReasonTombstoned},
	}, zap.NewNop())

	w, req := ingestRequest(t, occurrenceBody(t))
	handler.ProcessOccurrence(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var got discardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Discarded)
	assert.Equal(t, "tombstoned", got.Reason)
}

func TestProcessOccurrence_InternalError(t *testing.T) {
	handler := NewIngestHandler(&stubProcessor{err: errors.New("pool exhausted")}, zap.NewNop())

	w, req := ingestRequest(t, occurrenceBody(t))
	handler.ProcessOccurrence(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pool exhausted")
}
