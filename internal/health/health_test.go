package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-cart/internal/resilience"
	"github.com/sells-group/pharma-cart/internal/worker"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixedStatus worker.Status

func (f fixedStatus) Status() worker.Status { return worker.Status(f) }

type fixedChannels map[string]resilience.CircuitState

func (f fixedChannels) Channels() map[string]resilience.CircuitState { return f }

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(fixedStatus{}, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatus(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	status := fixedStatus{TaskID: "t1", State: "processing", StartedAt: &started, Processed: 3, Failed: 1}
	channels := fixedChannels{"queue": resilience.CircuitOpen, "store": resilience.CircuitClosed}

	rec := httptest.NewRecorder()
	NewRouter(status, channels).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "t1", snap.Worker.TaskID)
	assert.Equal(t, "processing", snap.Worker.State)
	assert.Equal(t, 3, snap.Worker.Processed)
	assert.True(t, started.Equal(*snap.Worker.StartedAt))
	assert.Equal(t, map[string]string{"queue": "open", "store": "closed"}, snap.Channels)
	assert.NotEmpty(t, snap.Uptime)
}

func TestUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(fixedStatus{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, 0, NewRouter(fixedStatus{}, nil)) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
