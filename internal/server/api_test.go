package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/packagewjx/spc-monitor/internal/observability"
	"github.com/packagewjx/spc-monitor/internal/snapshot"
	"github.com/packagewjx/spc-monitor/internal/watch"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/packagewjx/spc-monitor/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDashboard struct {
	mu          sync.Mutex
	sku         *watch.Value[string]
	store       *snapshot.Store
	refreshed   int
	corrections int
}

var _ server.Dashboard = &fakeDashboard{}

func newFakeDashboard(sku string) *fakeDashboard {
	d := &fakeDashboard{sku: watch.NewValue(sku), store: snapshot.NewStore()}
	d.store.Set(core.NewSnapshot(sku, []core.Cycle{{ID: "1", Sku: sku, Seq: 1}}, nil, nil))
	return d
}

func (f *fakeDashboard) Snapshot() core.DashboardSnapshot { return f.store.Get() }

func (f *fakeDashboard) Sku() string { return f.sku.Get() }

func (f *fakeDashboard) SelectSku(sku string) {
	if s := strings.TrimSpace(sku); s != "" {
		f.sku.Update(func(old string) (string, bool) { return s, old != s })
	}
}

func (f *fakeDashboard) Refresh(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
}

func (f *fakeDashboard) ApplyCorrection(ctx context.Context) {
	f.mu.Lock()
	f.corrections++
	f.mu.Unlock()
	msg := core.CorrectionFailedMessage
	f.store.Update(func(old core.DashboardSnapshot) core.DashboardSnapshot {
		old.IsLoading = false
		old.Error = &msg
		return old
	})
}

func (f *fakeDashboard) Watch(ctx context.Context) <-chan core.DashboardSnapshot {
	return f.store.Subscribe(ctx)
}

func (f *fakeDashboard) WatchSku(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			sku, changed := f.sku.Load()
			select {
			case out <- sku:
			case <-ctx.Done():
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestApi_Snapshot(t *testing.T) {
	router := NewRouter(newFakeDashboard("COKE_355"), nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	s := core.DashboardSnapshot{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "COKE_355", s.CurrentSku)
	assert.Len(t, s.Cycles, 1)

	w = doRequest(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestApi_SelectSku(t *testing.T) {
	d := newFakeDashboard("COKE_355")
	router := NewRouter(d, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/sku", `{"sku": "SPRITE_500"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := server.SkuResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SPRITE_500", resp.Sku)

	w = doRequest(t, router, http.MethodGet, "/api/sku", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SPRITE_500", resp.Sku)

	for _, body := range []string{`{"sku": "  "}`, `{}`, `not json`} {
		w = doRequest(t, router, http.MethodPost, "/api/sku", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, "SPRITE_500", d.Sku())
}

func TestApi_Commands(t *testing.T) {
	d := newFakeDashboard("COKE_355")
	router := NewRouter(d, nil, nil)

	w := doRequest(t, router, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, d.refreshed)

	w = doRequest(t, router, http.MethodPost, "/api/correction", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, d.corrections)
	s := core.DashboardSnapshot{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	require.NotNil(t, s.Error)
	assert.Equal(t, core.CorrectionFailedMessage, *s.Error)
}

func TestApi_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	metrics.SkuSwitched()
	router := NewRouter(newFakeDashboard("COKE_355"), registry, nil)

	w := doRequest(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "spc_monitor_sku_switches_total 1")
}

func TestApi_WebSocket(t *testing.T) {
	d := newFakeDashboard("COKE_355")
	srv := httptest.NewServer(NewRouter(d, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	first := core.DashboardSnapshot{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "COKE_355", first.CurrentSku)

	d.store.Set(core.LoadingSnapshot("SPRITE_500"))
	next := core.DashboardSnapshot{}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "SPRITE_500", next.CurrentSku)
	assert.True(t, next.IsLoading)
}

func TestApi_SkuWebSocket(t *testing.T) {
	d := newFakeDashboard("COKE_355")
	srv := httptest.NewServer(NewRouter(d, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/sku/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	first := server.SkuResponse{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "COKE_355", first.Sku)

	d.SelectSku("SPRITE_500")
	next := server.SkuResponse{}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "SPRITE_500", next.Sku)
}
