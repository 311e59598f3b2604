package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.Error
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(CorrelationIDHeader, "corr-1")

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "resource not found", body.Message)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Equal(t, "corr-1", body.CorrelationID)
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", apperrors.NotFoundf("organization %q not found", "acme"), http.StatusNotFound, `organization "acme" not found`},
		{"forbidden", apperrors.Forbiddenf("insufficient permissions"), http.StatusForbidden, "insufficient permissions"},
		{"validation", apperrors.Validationf("name is required"), http.StatusBadRequest, "name is required"},
		{"conflict", apperrors.Conflictf("already a member"), http.StatusConflict, "already a member"},
		{"unauthorized", apperrors.Unauthorizedf("authentication required"), http.StatusUnauthorized, "authentication required"},
		{"store failure hides cause", apperrors.Store(errors.New("pq: deadlock detected"), "failed to add member"), http.StatusInternalServerError, "internal error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAppError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.message, body.Message)
			assert.Equal(t, tt.status, body.Code)
		})
	}
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "who") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "no") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "gone") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "dup") }, http.StatusConflict},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError},
		{"no content", func(w http.ResponseWriter) { WriteNoContent(w) }, http.StatusNoContent},
		{"created", func(w http.ResponseWriter) { _ = WriteCreated(w, map[string]int{"id": 1}) }, http.StatusCreated},
		{"success", func(w http.ResponseWriter) { _ = WriteSuccess(w, map[string]int{"id": 1}) }, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
