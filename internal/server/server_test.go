package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pow-node/pow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server            *Server
	phaseTracker      *pow.PhaseTracker
	inValidationQueue chan pow.ProofBatch
	wsOut             chan pow.BatchMessage
	wsAck             chan pow.AckMessage
	connState         *pow.ConnState
	stopped           bool
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		phaseTracker:      pow.NewPhaseTracker(),
		inValidationQueue: make(chan pow.ProofBatch, 4),
		wsOut:             make(chan pow.BatchMessage, 4),
		wsAck:             make(chan pow.AckMessage, 4),
		connState:         &pow.ConnState{},
	}
	f.server = NewServer(
		f.phaseTracker,
		make(chan pow.ProofBatch, 4),
		make(chan pow.ProofBatch, 4),
		f.inValidationQueue,
		f.wsOut,
		f.wsAck,
		f.connState,
		func() { f.stopped = true },
	)
	return f
}

func (f *serverFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return status
}

func TestPhaseEndpoints(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/v1/pow/phase/generate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Generate", decodeStatus(t, rec).Phase)
	assert.Equal(t, pow.PhaseGenerate, f.phaseTracker.Phase())

	rec = f.do(http.MethodPost, "/api/v1/pow/phase/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Validate", decodeStatus(t, rec).Phase)
	assert.Equal(t, pow.PhaseValidate, f.phaseTracker.Phase())
}

func TestPhaseEndpointsRejectedAfterStop(t *testing.T) {
	f := newServerFixture()
	f.phaseTracker.Stop()

	for _, path := range []string{
		"/api/v1/pow/phase/generate",
		"/api/v1/pow/phase/validate",
		"/api/v1/pow/validate",
	} {
		rec := f.do(http.MethodPost, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetStatus(t *testing.T) {
	f := newServerFixture()
	f.phaseTracker.SetPhase(pow.PhaseGenerate)
	f.inValidationQueue <- pow.ProofBatch{}

	rec := f.do(http.MethodGet, "/api/v1/pow/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decodeStatus(t, rec)
	assert.Equal(t, "OK", status.Status)
	assert.Equal(t, "Generate", status.Phase)
	assert.False(t, status.WebsocketConnected)
	assert.Equal(t, 1, status.InValidationQueued)
	assert.Equal(t, 0, status.GenerationQueued)
}

func TestPostValidateEnqueuesBatch(t *testing.T) {
	f := newServerFixture()

	body := `{"public_key":"pk-a","block_hash":"abc","block_height":10,"nonces":[1,2],"dist":[0.1,0.2]}`
	rec := f.do(http.MethodPost, "/api/v1/pow/validate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.inValidationQueue, 1)
	batch := <-f.inValidationQueue
	assert.Equal(t, "pk-a", batch.PublicKey)
	assert.Equal(t, int64(10), batch.BlockHeight)
	assert.Equal(t, []int64{1, 2}, batch.Nonces)
}

func TestPostValidateRejectsBadBody(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/v1/pow/validate", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.inValidationQueue)
}

func TestPostValidateWhenIntakeFull(t *testing.T) {
	f := newServerFixture()
	for i := 0; i < cap(f.inValidationQueue); i++ {
		f.inValidationQueue <- pow.ProofBatch{}
	}

	rec := f.do(http.MethodPost, "/api/v1/pow/validate", `{"public_key":"pk-a"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStopEndpoint(t *testing.T) {
	f := newServerFixture()
	f.phaseTracker.SetPhase(pow.PhaseGenerate)

	rec := f.do(http.MethodPost, "/api/v1/pow/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.stopped)
	assert.False(t, f.phaseTracker.IsRunning())

	// A second stop is a no-op that still reports OK.
	f.stopped = false
	rec = f.do(http.MethodPost, "/api/v1/pow/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.stopped)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
