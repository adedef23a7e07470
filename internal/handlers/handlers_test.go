package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowscope/internal/models"
)

type fakeController struct {
	mu     sync.Mutex
	paused bool
	stdDev float64
}

func (f *fakeController) ID() string { return "sess-1" }

func (f *fakeController) state() models.ControlState {
	if f.paused {
		return models.ControlState{State: "PAUSED", Paused: true}
	}
	return models.ControlState{State: "RUNNING"}
}

func (f *fakeController) Pause() models.ControlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return f.state()
}

func (f *fakeController) Resume() models.ControlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return f.state()
}

func (f *fakeController) Toggle() models.ControlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = !f.paused
	return f.state()
}

func (f *fakeController) State() models.ControlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state()
}

func (f *fakeController) Stats() models.StatsResponse {
	return models.StatsResponse{Profile: "flow-pwm", WindowLen: 2, WindowCap: 100, Accepted: 2, StdDev: f.stdDev}
}

type fakeStore struct {
	samples []models.Sample
	err     error
}

func (f *fakeStore) LatestSamples(_ context.Context, count int64) ([]models.Sample, error) {
	if f.err != nil {
		return nil, f.err
	}
	if int64(len(f.samples)) > count {
		return f.samples[int64(len(f.samples))-count:], nil
	}
	return f.samples, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

func newTestHandler(store SampleStore) (*Handler, *FrameHub) {
	log, _ := test.NewNullLogger()
	hub := NewFrameHub(log)
	return NewHandler(&fakeController{}, hub, store, log), hub
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestControlEndpoints(t *testing.T) {
	h, _ := newTestHandler(nil)
	router := h.Router()

	var st models.ControlState
	rec := do(t, router, http.MethodGet, "/control")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &st)
	assert.Equal(t, "RUNNING", st.State)

	rec = do(t, router, http.MethodPost, "/control/toggle")
	decode(t, rec, &st)
	assert.True(t, st.Paused)

	rec = do(t, router, http.MethodPost, "/control/resume")
	decode(t, rec, &st)
	assert.False(t, st.Paused)

	rec = do(t, router, http.MethodPost, "/control/pause")
	decode(t, rec, &st)
	assert.Equal(t, "PAUSED", st.State)

	rec = do(t, router, http.MethodGet, "/control/toggle")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFrameHandler(t *testing.T) {
	h, hub := newTestHandler(nil)
	router := h.Router()

	rec := do(t, router, http.MethodGet, "/frame")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	hub.Render(models.RenderFrame{Session: "sess-1", Seq: 3, Times: []float64{1, 2}, Values: []float64{4, 5}, Left: 0, Right: 2.1})

	rec = do(t, router, http.MethodGet, "/frame")
	require.Equal(t, http.StatusOK, rec.Code)
	var f models.RenderFrame
	decode(t, rec, &f)
	assert.EqualValues(t, 3, f.Seq)
	assert.Equal(t, []float64{4, 5}, f.Values)
	assert.Equal(t, 2.1, f.Right)
}

func TestLatestSamplesHandler(t *testing.T) {
	h, _ := newTestHandler(nil)
	rec := do(t, h.Router(), http.MethodGet, "/samples/latest")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store := &fakeStore{samples: []models.Sample{{T: 0, Value: 1}, {T: 1, Value: 2}, {T: 2, Value: 3}}}
	h, _ = newTestHandler(store)
	rec = do(t, h.Router(), http.MethodGet, "/samples/latest?count=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.Sample
	decode(t, rec, &got)
	assert.Equal(t, []models.Sample{{T: 1, Value: 2}, {T: 2, Value: 3}}, got)

	store.err = errors.New("redis down")
	rec = do(t, h.Router(), http.MethodGet, "/samples/latest")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}

func TestStatsAndHealth(t *testing.T) {
	h, _ := newTestHandler(&fakeStore{})
	router := h.Router()

	var stats models.StatsResponse
	rec := do(t, router, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stats)
	assert.Equal(t, "flow-pwm", stats.Profile)
	assert.Equal(t, 100, stats.WindowCap)

	var health models.HealthStatus
	rec = do(t, router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "sess-1", health.Session)
	assert.Equal(t, "connected", health.Redis)

	h, _ = newTestHandler(nil)
	rec = do(t, h.Router(), http.MethodGet, "/health")
	decode(t, rec, &health)
	assert.Equal(t, "disabled", health.Redis)
}

func TestStats_UnencodableResponse(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := NewHandler(&fakeController{stdDev: math.NaN()}, NewFrameHub(log), nil, log)

	rec := do(t, h.Router(), http.MethodGet, "/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to encode response")

	var logged bool
	for _, e := range hook.AllEntries() {
		logged = logged || e.Message == "failed to encode response"
	}
	assert.True(t, logged, "encode error must be logged")
}

func TestPrometheusEndpoint(t *testing.T) {
	h, _ := newTestHandler(nil)
	rec := do(t, h.Router(), http.MethodGet, "/prometheus")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowscope_samples_accepted_total")
}

func TestStream(t *testing.T) {
	h, hub := newTestHandler(nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()
	defer hub.Close()

	hub.Render(models.RenderFrame{Seq: 1, Values: []float64{1}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// The latest frame is replayed on connect
	var f models.RenderFrame
	require.NoError(t, conn.ReadJSON(&f))
	assert.EqualValues(t, 1, f.Seq)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.Render(models.RenderFrame{Seq: 2, Values: []float64{1, 2}})

	require.NoError(t, conn.ReadJSON(&f))
	assert.EqualValues(t, 2, f.Seq)
	assert.Equal(t, []float64{1, 2}, f.Values)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFrameHub_CloseRejectsNewClients(t *testing.T) {
	h, hub := newTestHandler(nil)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	hub.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.Clients())
}
