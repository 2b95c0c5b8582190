package scopito

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/inspector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Submit(t *testing.T) {
	var got processRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inspections/9001/process", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "secret"}, testLogger())
	require.NoError(t, err)

	err = c.Submit(context.Background(), inspector.Request{
		JobID:  3,
		Target: domain.ThirdPartyTarget{InspectionID: 9001},
		Model:  "FLIGHT_80M",
	})
	require.NoError(t, err)
	assert.Equal(t, processRequest{JobID: 3, Model: "FLIGHT_80M"}, got)
}

func TestClient_SubmitUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "wrong"}, testLogger())
	require.NoError(t, err)

	err = c.Submit(context.Background(), inspector.Request{
		JobID:  3,
		Target: domain.ThirdPartyTarget{InspectionID: 1},
		Model:  "FLIGHT_80M",
	})
	assert.ErrorIs(t, err, inspector.ErrUnauthorized)
}

func TestClient_RejectsInternalTarget(t *testing.T) {
	c, err := New(Config{BaseURL: "http://unused", APIKey: "k"}, testLogger())
	require.NoError(t, err)

	err = c.Submit(context.Background(), inspector.Request{
		JobID:  1,
		Target: domain.InternalTarget{ProjectID: 1},
		Model:  "FLIGHT_80M",
	})
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing url", cfg: Config{APIKey: "k"}},
		{name: "missing key", cfg: Config{BaseURL: "http://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, testLogger())
			assert.Error(t, err)
		})
	}
}
