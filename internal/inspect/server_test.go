package inspect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/frameprof/internal/testutil"
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/clock"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

type nopSink struct{}

func (nopSink) WriteCapture(context.Context, *profiler.Capture) error { return nil }

// newProfiler returns a profiler that has processed one frame of
// update(physics) on thread "main".
func newProfiler(t *testing.T) *profiler.Profiler {
	t.Helper()
	clk := clock.NewManual(1, 1e6)
	opts := profiler.DefaultOptions()
	opts.MaxThreads = 4
	opts.EventsPerThread = 256
	opts.Clock = clk
	opts.Synchronous = true
	p, err := profiler.New(opts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	pr, err := p.Register("main")
	require.NoError(t, err)

	clk.Set(1000)
	update := pr.Begin("update", event.CategoryCPP)
	clk.Set(1100)
	physics := pr.Begin("physics", event.CategoryCPP)
	clk.Set(1600)
	physics.End()
	pr.Counter("bodies", event.CategoryCPP, 7)
	clk.Set(3000)
	update.End()
	require.NoError(t, p.Tick(context.Background()))
	return p
}

func newTestServer(t *testing.T, p *profiler.Profiler) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{PushInterval: 10 * time.Millisecond, Logger: zerolog.Nop()}, p)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, newProfiler(t))
	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Statistics(t *testing.T) {
	_, ts := newTestServer(t, newProfiler(t))

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/statistics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	stats := decodeBody[StatisticsView](t, resp)
	assert.Equal(t, int32(0), stats.Frame)
	assert.Equal(t, "HIERARCHICAL", stats.Mode)
	assert.Equal(t, "All", stats.Filter)
	assert.Equal(t, "inactive", stats.Dump)
	assert.Equal(t, 5, stats.Events)
	require.Len(t, stats.Threads, 1)
	assert.Equal(t, "main", stats.Threads[0].Name)
	require.Len(t, stats.Counters, 1)
	assert.Equal(t, CounterView{Slot: 0, Name: "bodies", Value: 7}, stats.Counters[0])
}

func TestServer_SnapshotEndpoints(t *testing.T) {
	_, ts := newTestServer(t, newProfiler(t))

	threads := decodeBody[[]SlotView](t, do(t, http.MethodGet, ts.URL+"/api/v1/threads", ""))
	require.Len(t, threads, 1)
	assert.Equal(t, SlotView{ID: 0, Name: "main", Visible: true, Live: true}, threads[0])

	top := decodeBody[[]EntryView](t, do(t, http.MethodGet, ts.URL+"/api/v1/threads/0/top", ""))
	require.Len(t, top, 2)
	assert.Equal(t, "update", top[0].Name)
	assert.Equal(t, int64(2000), top[0].Cycles)
	assert.InDelta(t, 2.0, top[0].TimeMS, 1e-9)

	hist := decodeBody[[]float64](t, do(t, http.MethodGet, ts.URL+"/api/v1/threads/0/history", ""))
	require.NotEmpty(t, hist)
	assert.InDelta(t, 2.0, hist[len(hist)-1], 1e-9)

	rows := decodeBody[[]RowView](t, do(t, http.MethodGet, ts.URL+"/api/v1/hierarchy", ""))
	var names []string
	for _, r := range rows {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"All Threads", "main", "update", "physics"}, names)

	trace := decodeBody[[]TraceEventView](t, do(t, http.MethodGet, ts.URL+"/api/v1/trace", ""))
	require.Len(t, trace, 5)
	assert.Equal(t, "B", trace[0].Phase)
	assert.Equal(t, "update", trace[0].Name)
	assert.Equal(t, "C", trace[3].Phase)
	assert.Equal(t, int32(7), trace[3].Value)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/threads/x/top", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_HierarchyNavigation(t *testing.T) {
	p := newProfiler(t)
	_, ts := newTestServer(t, p)
	thread := p.Hierarchy().Find("main")
	update := p.Hierarchy().Find("main", "update")
	physics := p.Hierarchy().Find("main", "update", "physics")
	require.NotEqual(t, int32(-1), physics)

	visible := func() []string {
		rows := decodeBody[[]RowView](t, do(t, http.MethodGet, ts.URL+"/api/v1/hierarchy?view=visible", ""))
		var names []string
		for _, r := range rows {
			names = append(names, r.Name)
		}
		return names
	}
	assert.Equal(t, []string{"All Threads", "main"}, visible())

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/hierarchy/"+itoa(thread)+"/toggle-children", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"All Threads", "main", "update"}, visible())

	sel := decodeBody[selectResponse](t, do(t, http.MethodPut, ts.URL+"/api/v1/hierarchy/selection", `{"move":"next"}`))
	assert.Equal(t, update, sel.Selected)
	sel = decodeBody[selectResponse](t, do(t, http.MethodPut, ts.URL+"/api/v1/hierarchy/selection", `{"move":"prev"}`))
	assert.Equal(t, thread, sel.Selected)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/hierarchy/"+itoa(update)+"/history", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "not graphed yet")

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/hierarchy/"+itoa(update)+"/toggle-graph", `{"recursive":true}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	for _, idx := range []int32{update, physics} {
		resp = do(t, http.MethodGet, ts.URL+"/api/v1/hierarchy/"+itoa(idx)+"/history", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, decodeBody[[]float64](t, resp))
	}
	rows := decodeBody[[]RowView](t, do(t, http.MethodGet, ts.URL+"/api/v1/hierarchy", ""))
	for _, r := range rows {
		if r.Index == update {
			assert.True(t, r.Selected)
			assert.True(t, r.HasHistory)
		}
	}

	resp = do(t, http.MethodPut, ts.URL+"/api/v1/hierarchy/selection", `{"index":999}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodPut, ts.URL+"/api/v1/hierarchy/selection", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/hierarchy/x/toggle-graph", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/api/v1/hierarchy?view=flat", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func itoa(idx int32) string { return strconv.Itoa(int(idx)) }

func TestServer_Report(t *testing.T) {
	_, ts := newTestServer(t, newProfiler(t))
	resp := do(t, http.MethodGet, ts.URL+"/api/v1/report", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Hierarchical Profile data (Inclusive)")
	assert.Contains(t, string(body), "physics(1)")
}

func TestServer_Controls(t *testing.T) {
	p := newProfiler(t)
	_, ts := newTestServer(t, p)

	resp := do(t, http.MethodPut, ts.URL+"/api/v1/mode", `{"mode":"sort_by_numcalls"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SORT_BY_NUMCALLS", decodeBody[modeRequest](t, resp).Mode)
	assert.Equal(t, profiler.ModeSortByCalls, p.Mode())

	resp = do(t, http.MethodPut, ts.URL+"/api/v1/mode", `{"mode":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, ts.URL+"/api/v1/filter", `{"category":"Script"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, event.CategoryScript, p.Filter())

	resp = do(t, http.MethodPut, ts.URL+"/api/v1/exclusive", `{"exclusive":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, p.Exclusive())

	resp = do(t, http.MethodPut, ts.URL+"/api/v1/exclusive", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/freeze", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, p.Frozen())
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/unfreeze", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, p.Frozen())

	resp = do(t, http.MethodPut, ts.URL+"/api/v1/threads/0/visible", `{"visible":false}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, p.Threads()[0].Visible)
}

func TestServer_Dump(t *testing.T) {
	p := newProfiler(t)
	_, ts := newTestServer(t, p)

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/dump", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	p.AddSink(nopSink{})
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/dump", `{"frames":3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, dumpResponse{Frames: 3, State: "active"}, decodeBody[dumpResponse](t, resp))
	assert.Equal(t, profiler.DumpActive, p.DumpState())
}

func TestServer_Stream(t *testing.T) {
	s, ts := newTestServer(t, newProfiler(t))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for i := 0; i < 2; i++ {
		var stats StatisticsView
		require.NoError(t, conn.ReadJSON(&stats))
		assert.Equal(t, "HIERARCHICAL", stats.Mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestServer_StartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", Logger: testutil.NewTestLoggerWithOutput(t)}, newProfiler(t))
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get(s.URL() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", Logger: zerolog.Nop()}, newProfiler(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMiddleware_RecoverAndLog(t *testing.T) {
	logger, logs := testutil.NewBufferLogger()
	s := New(Config{Logger: logger}, newProfiler(t))

	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := requestLog(logger)(s.recoverJSON(panicky))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/hierarchy", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
	assert.Equal(t, 1, logs.Count("Inspector handler panicked"))
	assert.Equal(t, 1, logs.Count("Inspector request rejected"))

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	rec = httptest.NewRecorder()
	requestLog(logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/freeze", nil))
	assert.Equal(t, 1, logs.Count("Inspector control applied"))
}
