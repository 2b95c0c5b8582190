package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.EUNAVAILABLE, http.StatusServiceUnavailable},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestErrorResponse_HidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := domain.Internal(errors.New("pq: relation \"inspection_jobs\" does not exist"), "queue.on_status", "failed to finalize job")

	req := httptest.NewRequest(http.MethodPost, "/inspect/update-status", nil)
	rec := httptest.NewRecorder()
	ErrorResponse(rec, req, logger, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.NotContains(t, body, "inspection_jobs")
	assert.NotContains(t, body, "queue.on_status")

	var decoded JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, domain.EINTERNAL, decoded.Error.Code)
}

func TestErrorResponse_ClientError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodPost, "/inspect/update-status", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, logger, domain.NotFound("queue.on_status", "job for target", "project:4"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var decoded JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, domain.ENOTFOUND, decoded.Error.Code)
	assert.Contains(t, decoded.Error.Message, "project:4")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ProjectID int64 `json:"projectId"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"projectId": 3}`},
		{name: "empty", body: ``, wantErr: true},
		{name: "malformed", body: `{"projectId": `, wantErr: true},
		{name: "wrong type", body: `{"projectId": "three"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := decodeJSON(req, "test", &dst)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(3), dst.ProjectID)
		})
	}
}
