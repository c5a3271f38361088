package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/jpalmerr/stationwatch/internal/cache"
	"github.com/jpalmerr/stationwatch/internal/hub"
	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/internal/poller"
	"github.com/jpalmerr/stationwatch/snapshot"
)

type fakeController struct {
	mu      sync.Mutex
	running bool
	active  []string
	known   map[string]bool
	checks  []string
}

func newFakeController(ids ...string) *fakeController {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &fakeController{known: known}
}

func (c *fakeController) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	return true
}

func (c *fakeController) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.running = false
	return true
}

func (c *fakeController) Status() poller.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return poller.Status{
		Running:       c.running,
		ActiveCount:   len(c.active),
		ActiveSources: append([]string{}, c.active...),
		IntervalMs:    60000,
	}
}

func (c *fakeController) SetActiveSources(ids []string) {
	c.mu.Lock()
	c.active = append([]string(nil), ids...)
	c.mu.Unlock()
}

func (c *fakeController) Snapshot(_ context.Context, id string) (snapshot.Snapshot, error) {
	if !c.known[id] {
		return snapshot.Snapshot{}, poller.ErrUnknownSource
	}
	return snapshot.Snapshot{SourceID: id, Outcome: snapshot.OutcomeSuccess, Slots: []snapshot.Slot{}}, nil
}

func (c *fakeController) CheckNow(ctx context.Context, id string) (snapshot.Delta, error) {
	snap, err := c.Snapshot(ctx, id)
	if err != nil {
		return snapshot.Delta{}, err
	}
	c.mu.Lock()
	c.checks = append(c.checks, id)
	c.mu.Unlock()
	return snapshot.Delta{SourceID: id, Current: snap, HasChanges: true}, nil
}

type fakeStations []snapshot.Source

func (f fakeStations) Sources() []snapshot.Source { return f }

type fakeCacheAdmin struct {
	entries map[string]bool
}

func (f *fakeCacheAdmin) TTL() time.Duration { return 30 * time.Second }

func (f *fakeCacheAdmin) Stats() []cache.EntryStat {
	stats := make([]cache.EntryStat, 0, len(f.entries))
	for id := range f.entries {
		stats = append(stats, cache.EntryStat{SourceID: id, AgeMs: 1500})
	}
	return stats
}

func (f *fakeCacheAdmin) Invalidate(id string) bool {
	ok := f.entries[id]
	delete(f.entries, id)
	return ok
}

func (f *fakeCacheAdmin) InvalidateAll() int {
	n := len(f.entries)
	f.entries = map[string]bool{}
	return n
}

type fakeHistory struct {
	ids map[string]bool
}

func (f *fakeHistory) Forget(id string) bool {
	ok := f.ids[id]
	delete(f.ids, id)
	return ok
}

func (f *fakeHistory) Reset() int {
	n := len(f.ids)
	f.ids = map[string]bool{}
	return n
}

type fixture struct {
	srv     *Server
	control *fakeController
	hub     *hub.Hub
	cache   *fakeCacheAdmin
	history *fakeHistory
	metrics *metrics.Metrics
}

func newFixture(assets fs.FS, title string) *fixture {
	f := &fixture{
		control: newFakeController("ess08", "ess09"),
		hub:     hub.New(zerolog.Nop()),
		cache:   &fakeCacheAdmin{entries: map[string]bool{"ess08": true, "ess09": true}},
		history: &fakeHistory{ids: map[string]bool{"ess08": true}},
		metrics: metrics.New(),
	}
	f.srv = NewServer(Config{
		Title:      title,
		Version:    "test",
		Assets:     assets,
		Controller: f.control,
		Stations: fakeStations{
			{ID: "ess08", Name: "ESS08", Locator: "http://ess08", Enabled: true, Labels: map[string]string{"line": "4"}},
			{ID: "ess09", Name: "ESS09", Locator: "http://ess09"},
		},
		Cache:   f.cache,
		History: f.history,
		Hub:     f.hub,
		Logger:  zerolog.Nop(),
		Metrics: f.metrics,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(nil, "")
	rec := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 0, body["subscribers"])
}

func TestListStations(t *testing.T) {
	f := newFixture(nil, "")
	rec := f.do(t, http.MethodGet, "/api/stations", "")

	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]stationView](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "ess08", views[0].ID)
	assert.Equal(t, "http://ess08", views[0].URL)
	assert.Equal(t, "4", views[0].Labels["line"])
	assert.False(t, views[1].Enabled)
}

func TestStationLookup(t *testing.T) {
	f := newFixture(nil, "")

	rec := f.do(t, http.MethodGet, "/api/stations/ess08", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[snapshot.Snapshot](t, rec)
	assert.Equal(t, "ess08", snap.SourceID)

	rec = f.do(t, http.MethodGet, "/api/stations/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Station not found", decode[map[string]string](t, rec)["error"])
}

func TestCheckNow(t *testing.T) {
	f := newFixture(nil, "")

	rec := f.do(t, http.MethodPost, "/api/stations/ess09/check", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]json.RawMessage](t, rec)
	assert.Contains(t, string(body["data"]), `"id":"ess09"`)
	assert.Contains(t, string(body["changes"]), `"hasChanges":true`)
	assert.Equal(t, []string{"ess09"}, f.control.checks)

	rec = f.do(t, http.MethodPost, "/api/stations/ghost/check", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatch(t *testing.T) {
	f := newFixture(nil, "")

	rec := f.do(t, http.MethodPost, "/api/stations/batch", `{"stationIds":["ess09","ghost","ess08"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	snaps := decode[[]snapshot.Snapshot](t, rec)
	require.Len(t, snaps, 2)
	assert.Equal(t, "ess09", snaps[0].SourceID)
	assert.Equal(t, "ess08", snaps[1].SourceID)

	for _, body := range []string{``, `{}`, `{"stationIds":"ess08"}`, `not json`} {
		rec = f.do(t, http.MethodPost, "/api/stations/batch", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestSchedulerControl(t *testing.T) {
	f := newFixture(nil, "")

	rec := f.do(t, http.MethodPost, "/api/scheduler/start", `{"stationIds":["ess08","ess09"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, []string{"ess08", "ess09"}, f.control.Status().ActiveSources)

	// already running, and no body keeps the active set
	rec = f.do(t, http.MethodPost, "/api/scheduler/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["started"])
	assert.Len(t, f.control.Status().ActiveSources, 2)

	rec = f.do(t, http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[poller.Status](t, rec)
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.ActiveCount)

	rec = f.do(t, http.MethodPut, "/api/scheduler/stations", `{"stationIds":["ess09"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ess09"}, decode[poller.Status](t, rec).ActiveSources)

	rec = f.do(t, http.MethodPut, "/api/scheduler/stations", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/scheduler/stop", "")
	assert.Equal(t, true, decode[map[string]any](t, rec)["stopped"])
	rec = f.do(t, http.MethodPost, "/api/scheduler/stop", "")
	assert.Equal(t, false, decode[map[string]any](t, rec)["stopped"])

	rec = f.do(t, http.MethodPost, "/api/scheduler/start", `{"stationIds": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheAndHistory(t *testing.T) {
	f := newFixture(nil, "")

	rec := f.do(t, http.MethodGet, "/api/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	assert.Equal(t, "30000", string(body["ttlMs"]))

	rec = f.do(t, http.MethodDelete, "/api/cache/ess08", "")
	assert.Equal(t, true, decode[map[string]any](t, rec)["removed"])
	rec = f.do(t, http.MethodDelete, "/api/cache/ess08", "")
	assert.Equal(t, false, decode[map[string]any](t, rec)["removed"])

	rec = f.do(t, http.MethodDelete, "/api/cache", "")
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["removed"])

	rec = f.do(t, http.MethodDelete, "/api/history/ess08", "")
	assert.Equal(t, true, decode[map[string]any](t, rec)["removed"])
	rec = f.do(t, http.MethodDelete, "/api/history", "")
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["removed"])
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(nil, "")
	rec := f.do(t, http.MethodDelete, "/api/scheduler/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(nil, "")
	f.do(t, http.MethodGet, "/api/stations/ess08", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`stationwatch_http_requests_total{code="200",method="GET",route="/api/stations/{id}"} 1`)
}

// readSSE returns the payload of the next data frame, skipping comments.
func readSSE(t *testing.T, r *bufio.Reader) snapshot.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev snapshot.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		return ev
	}
}

func TestSSE_StreamsEvents(t *testing.T) {
	f := newFixture(nil, "")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sse", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ev := readSSE(t, r)
	assert.Equal(t, snapshot.EventConnected, ev.Type)
	require.Equal(t, 1, f.hub.Len())

	cur := snapshot.Snapshot{SourceID: "ess08", Outcome: snapshot.OutcomeSuccess}
	f.hub.Publish(snapshot.SourceUpdate(snapshot.Delta{SourceID: "ess08", Current: cur, HasChanges: true}))

	ev = readSSE(t, r)
	assert.Equal(t, snapshot.EventSourceUpdate, ev.Type)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, "ess08", ev.Snapshot.SourceID)
	require.NotNil(t, ev.Changes)
	assert.True(t, ev.Changes.HasChanges)
	assert.False(t, ev.Timestamp.IsZero())

	cancel()
	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSSE_EndsWhenHubCloses(t *testing.T) {
	f := newFixture(nil, "")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	readSSE(t, r)

	f.hub.Close()

	done := make(chan struct{})
	go func() {
		for {
			if _, err := r.ReadString('\n'); err != nil {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after hub closed")
	}
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	f := newFixture(nil, "")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev snapshot.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, snapshot.EventConnected, ev.Type)
	require.Equal(t, 1, f.hub.Len())

	f.hub.Publish(snapshot.BatchUpdate([]snapshot.Snapshot{{SourceID: "ess08"}, {SourceID: "ess09"}}))

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, snapshot.EventBatchUpdate, ev.Type)
	assert.Len(t, ev.Batch, 2)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return f.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// --- Server start ---

func TestStart_AvailablePort(t *testing.T) {
	f := newFixture(nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.srv.Start(ctx))
	require.NotNil(t, f.srv.Addr())

	port := f.srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	f := newFixture(nil, "")
	f.srv.port = ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = f.srv.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}

func TestStart_InvalidPort(t *testing.T) {
	f := newFixture(nil, "")
	f.srv.port = -1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, f.srv.Start(ctx))
}

// --- Dashboard ---

// mockFS implements fs.ReadFileFS for dashboard rendering.
type mockFS struct {
	content string
}

func (m *mockFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *mockFS) ReadFile(name string) ([]byte, error) {
	if name == "assets/index.html" {
		return []byte(m.content), nil
	}
	return nil, fs.ErrNotExist
}

func TestDashboard_Title(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"custom", "Line 4 Burn-in", "<title>Line 4 Burn-in</title><h1>Line 4 Burn-in</h1>"},
		{"default", "", "<title>Station Watch</title><h1>Station Watch</h1>"},
		{"escaped", `<script>alert("x")</script>`, "<title>&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;</title>"},
		{"ampersand", "R&D", "<title>R&amp;D</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(&mockFS{content: "<title>{{.Title}}</title><h1>{{.Title}}</h1>"}, tt.title)
			rec := f.do(t, http.MethodGet, "/", "")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestDashboard_MissingAsset(t *testing.T) {
	f := newFixture(fstestEmpty{}, "")

	rec := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDashboard_Disabled(t *testing.T) {
	f := newFixture(nil, "")
	rec := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fstestEmpty struct{}

func (fstestEmpty) Open(name string) (fs.File, error) { return nil, fs.ErrNotExist }
