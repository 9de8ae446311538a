package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metergrid/metergrid/pkg/live"
	"github.com/metergrid/metergrid/pkg/storage"
	"github.com/metergrid/metergrid/pkg/types"
)

type fakeFetcher struct{}

func (fakeFetcher) EMStatus(ctx context.Context, host string, meterID int) (map[string]any, error) {
	return map[string]any{}, nil
}

func (fakeFetcher) SwitchStatus(ctx context.Context, host string, switchID int) (map[string]any, error) {
	return map[string]any{}, nil
}

func testServer(t *testing.T) (*Server, *Deps) {
	t.Helper()
	dir, err := types.NewDirectory([]types.Device{
		{Key: "em", Name: "House", Host: "10.0.0.5", Kind: types.KindEM},
		{Key: "plug", Name: "Plug", Host: "10.0.0.6", Kind: types.KindSwitch},
	})
	require.NoError(t, err)

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	deps := &Deps{
		Directory: dir,
		Store:     store,
		Ring:      live.NewRingStore(time.Minute, time.Second),
		Today:     live.NewTodayMeter(),
		Poller:    live.NewPoller(dir, fakeFetcher{}, types.LiveConfig{PollSeconds: 1}),
	}
	return &Server{deps: deps, hub: NewHub(), serverName: "metergrid"}, deps
}

func doRequest(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.setupHandler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "metergrid", w.Header().Get("Server"))
}

func TestDevices(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var devices []types.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "em", devices[0].Key)
}

func TestLiveSnapshot(t *testing.T) {
	s, deps := testServer(t)
	deps.Ring.Append("em", "power_total_w", live.Point{TS: 100, Value: 60})

	w := doRequest(t, s, "GET", "/api/live?device=em", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap map[string][]live.Point
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap["power_total_w"], 1)
	assert.Equal(t, 60.0, snap["power_total_w"][0].Value)

	w = doRequest(t, s, "GET", "/api/live?device=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestToday(t *testing.T) {
	s, deps := testServer(t)
	now := time.Now().Unix()
	deps.Today.Accumulate("em", now-3600, 1000)
	deps.Today.Accumulate("em", now, 1000)

	w := doRequest(t, s, "GET", "/api/today", "")
	require.Equal(t, http.StatusOK, w.Code)

	var entries []todayEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "em", entries[0].DeviceKey)
	assert.InDelta(t, 1.0, entries[0].KWHToday, 1e-6)
	assert.Zero(t, entries[1].KWHToday)
}

func TestStatus(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var entries []statusEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Zero(t, entries[0].ConsecutiveErrors)
}

func TestHistory(t *testing.T) {
	s, deps := testServer(t)

	// two samples from earlier today so the baseline reseed kicks in
	now := time.Now().UTC()
	t1 := now.Add(-2 * time.Minute).Unix()
	t2 := now.Add(-time.Minute).Unix()
	content := fmt.Sprintf("timestamp,a_act_power,b_act_power,c_act_power\n%d,100,50,50\n%d,100,50,50\n", t1, t2)
	dir, err := deps.Store.DeviceDir("em")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "emdata_em_1-2.csv"), []byte(content), 0o644))

	w := doRequest(t, s, "GET", "/api/history?device=em", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "power-sum", resp.CalcMethod)
	assert.InDelta(t, 200, resp.Summary.MaxPowerW, 1e-9)

	// the live accumulator watermark now covers the newest history row
	assert.Equal(t, time.Unix(t2, 0).UTC(), deps.Today.Watermark("em"))
}

func TestHistoryUnknownDevice(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/api/history?device=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryNoData(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/api/history?device=em", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryBadParams(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/api/history?device=em&start=whenever", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, "GET", "/api/history?device=em&method=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSwitchValidation(t *testing.T) {
	s, _ := testServer(t)

	w := doRequest(t, s, "POST", "/api/switch", `{"device":"nope","on":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// EM devices cannot be switched
	w = doRequest(t, s, "POST", "/api/switch", `{"device":"em","on":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, "POST", "/api/switch", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseTimeParam(t *testing.T) {
	got, err := parseTimeParam("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTimeParam("1700000000")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got)

	got, err = parseTimeParam("2024-03-02T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), got)

	got, err = parseTimeParam("2024-03-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), got)

	_, err = parseTimeParam("whenever")
	assert.Error(t, err)
}

func TestHubBroadcastDropOnFull(t *testing.T) {
	h := NewHub()
	c := &client{send: make(chan []byte, 1)}
	h.register(c)

	h.Broadcast([]byte("one"))
	// the buffer is full now; this must not block
	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte("two"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client")
	}

	assert.Equal(t, []byte("one"), <-c.send)
	assert.Equal(t, 1, h.ClientCount())
	h.unregister(c)
	assert.Equal(t, 0, h.ClientCount())
}
