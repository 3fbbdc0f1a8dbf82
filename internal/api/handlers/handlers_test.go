// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/events"
	"github.com/wingedpig/servicedeck/internal/hub"
	"github.com/wingedpig/servicedeck/internal/lifecycle"
	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/ports"
)

// Mock implementations

type mockLifecycle struct {
	mu       sync.Mutex
	store    catalog.Store
	bound    map[int]bool
	startErr error
	stopErr  error
	calls    []string
	forgot   []string
}

func (m *mockLifecycle) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockLifecycle) setStatus(ctx context.Context, id string, st catalog.Status) error {
	svc, err := m.store.GetService(ctx, id)
	if err != nil {
		return &lifecycle.Error{Kind: lifecycle.KindNotFound, ServiceID: id, Op: "test"}
	}
	svc.Status = st
	_, err = m.store.UpsertService(ctx, svc)
	return err
}

func (m *mockLifecycle) Start(ctx context.Context, id string) error {
	m.record("start:" + id)
	if m.startErr != nil {
		return m.startErr
	}
	return m.setStatus(ctx, id, catalog.StatusRunning)
}

func (m *mockLifecycle) Stop(ctx context.Context, id string) error {
	m.record("stop:" + id)
	if m.stopErr != nil {
		return m.stopErr
	}
	return m.setStatus(ctx, id, catalog.StatusStopped)
}

func (m *mockLifecycle) Refresh(ctx context.Context, id string) (ports.Result, error) {
	svc, err := m.store.GetService(ctx, id)
	if err != nil {
		return ports.Result{}, &lifecycle.Error{Kind: lifecycle.KindNotFound, ServiceID: id, Op: "refresh"}
	}
	return ports.Result{Port: svc.Port, Bound: m.bound[svc.Port]}, nil
}

func (m *mockLifecycle) RefreshAll(ctx context.Context) (map[string]ports.Result, error) {
	services, err := m.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]ports.Result)
	for _, s := range services {
		out[s.ID] = ports.Result{Port: s.Port, Bound: m.bound[s.Port]}
	}
	return out, nil
}

func (m *mockLifecycle) Status(id string) lifecycle.Status {
	return lifecycle.Status{State: lifecycle.StateIdle}
}

func (m *mockLifecycle) UpdateService(ctx context.Context, id string, mutate func(*catalog.Service)) (catalog.Service, error) {
	m.record("update:" + id)
	cur, err := m.store.GetService(ctx, id)
	if err != nil {
		return catalog.Service{}, &lifecycle.Error{Kind: lifecycle.KindNotFound, ServiceID: id, Op: "update"}
	}
	next := cur
	mutate(&next)
	next.ID, next.Status, next.LastStarted, next.LastStopped = cur.ID, cur.Status, cur.LastStarted, cur.LastStopped
	if err := next.Validate(); err != nil {
		return catalog.Service{}, &lifecycle.Error{Kind: lifecycle.KindInvalid, ServiceID: id, Op: "update", Err: err}
	}
	if (next.Port != cur.Port || next.Path != cur.Path) && m.bound[cur.Port] {
		return catalog.Service{}, &lifecycle.Error{Kind: lifecycle.KindInUse, ServiceID: id, Op: "update"}
	}
	return m.store.UpsertService(ctx, next)
}

func (m *mockLifecycle) Delete(ctx context.Context, id string) error {
	m.record("delete:" + id)
	if m.stopErr != nil && lifecycle.KindOf(m.stopErr) != lifecycle.KindStopTimeout {
		return m.stopErr
	}
	if err := m.store.DeleteService(ctx, id); err != nil {
		return &lifecycle.Error{Kind: lifecycle.KindNotFound, ServiceID: id, Op: "delete"}
	}
	m.mu.Lock()
	m.forgot = append(m.forgot, id)
	m.mu.Unlock()
	return nil
}

type mockProber struct{ bound map[int]bool }

func (p *mockProber) Probe(ctx context.Context, port int) (ports.Result, error) {
	return ports.Result{Port: port, Bound: p.bound[port]}, nil
}

type testEnv struct {
	store  catalog.Store
	lc     *mockLifecycle
	hub    *hub.Hub
	bus    *events.MemoryBus
	router *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := catalog.OpenJSONStore(context.Background(), filepath.Join(t.TempDir(), "services.json"), false)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := hub.New(context.Background(), hub.Config{PingInterval: time.Hour}, nil)
	t.Cleanup(func() { h.Close() })
	bus := events.NewMemoryBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })

	env := &testEnv{
		store: store,
		lc:    &mockLifecycle{store: store, bound: map[int]bool{}},
		hub:   h,
		bus:   bus,
	}

	r := mux.NewRouter()
	sh := NewServiceHandler(store, env.lc, nil)
	r.HandleFunc("/services", sh.List).Methods("GET")
	r.HandleFunc("/services", sh.Create).Methods("POST")
	r.HandleFunc("/services/{id}", sh.Get).Methods("GET")
	r.HandleFunc("/services/{id}", sh.Update).Methods("PUT")
	r.HandleFunc("/services/{id}", sh.Delete).Methods("DELETE")
	r.HandleFunc("/services/{id}/start", sh.Start).Methods("POST")
	r.HandleFunc("/services/{id}/stop", sh.Stop).Methods("POST")
	r.HandleFunc("/services/{id}/refresh", sh.Refresh).Methods("POST")
	r.HandleFunc("/services/{id}/logs", sh.Logs).Methods("GET")

	lh := NewLogStreamHandler(store, h, LogStreamConfig{Backfill: true, KeepAlive: time.Hour})
	r.HandleFunc("/services/{id}/logs/stream", lh.StreamSSE).Methods("GET")
	r.HandleFunc("/ws", lh.WebSocket).Methods("GET")

	gh := NewGroupHandler(store, lifecycle.NewGroupOrchestrator(store, env.lc, bus))
	r.HandleFunc("/groups", gh.List).Methods("GET")
	r.HandleFunc("/groups", gh.Create).Methods("POST")
	r.HandleFunc("/groups/{id}", gh.Get).Methods("GET")
	r.HandleFunc("/groups/{id}", gh.Rename).Methods("PATCH")
	r.HandleFunc("/groups/{id}", gh.Delete).Methods("DELETE")
	r.HandleFunc("/groups/{id}/members/{sid}", gh.AddMember).Methods("POST")
	r.HandleFunc("/groups/{id}/members/{sid}", gh.RemoveMember).Methods("DELETE")
	r.HandleFunc("/groups/{id}/start", gh.Start).Methods("POST")
	r.HandleFunc("/groups/{id}/stop", gh.Stop).Methods("POST")

	ph := NewPortHandler(&mockProber{bound: map[int]bool{4000: true}})
	r.HandleFunc("/ports/{port}", ph.Probe).Methods("GET")

	eh := NewEventHandler(bus)
	r.HandleFunc("/events", eh.History).Methods("GET")
	r.HandleFunc("/events/ws", eh.WebSocket).Methods("GET")

	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addService(t *testing.T, name string, port int) catalog.Service {
	t.Helper()
	svc, err := e.store.UpsertService(context.Background(), catalog.Service{Name: name, Port: port, Path: t.TempDir()})
	require.NoError(t, err)
	return svc
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestServiceHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/services", map[string]interface{}{
		"name": "api", "description": "REST API", "port": 3000, "path": "/srv/api",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created ServiceView
	decodeData(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, catalog.StatusStopped, created.Status)

	env.lc.bound[3000] = true
	rec = env.do(t, "GET", "/services/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got ServiceView
	decodeData(t, rec, &got)
	assert.Equal(t, "api", got.Name)
	require.NotNil(t, got.Probe)
	assert.True(t, got.Probe.Bound)
}

func TestServiceHandler_CreateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/services", map[string]interface{}{"name": "api", "port": 0, "path": "/srv"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrBadRequest, errorCode(t, rec))

	req := httptest.NewRequest("POST", "/services", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceHandler_List(t *testing.T) {
	env := newTestEnv(t)
	env.addService(t, "api", 3000)
	env.addService(t, "web", 3001)

	rec := env.do(t, "GET", "/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []ServiceView
	decodeData(t, rec, &views)
	assert.Len(t, views, 2)
	for _, v := range views {
		assert.NotNil(t, v.Probe)
	}
}

func TestServiceHandler_Get_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/services/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrNotFound, errorCode(t, rec))
}

func TestServiceHandler_UpdateKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	now := time.Now().UTC().Truncate(time.Second)
	svc.Status = catalog.StatusRunning
	svc.LastStarted = &now
	_, err := env.store.UpsertService(context.Background(), svc)
	require.NoError(t, err)

	rec := env.do(t, "PUT", "/services/"+svc.ID, map[string]interface{}{
		"name": "api-v2", "port": 3005, "path": svc.Path, "status": "stopped",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.GetService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "api-v2", got.Name)
	assert.Equal(t, 3005, got.Port)
	assert.Equal(t, catalog.StatusRunning, got.Status)
	require.NotNil(t, got.LastStarted)
	assert.True(t, now.Equal(*got.LastStarted))
}

func TestServiceHandler_UpdateValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)

	rec := env.do(t, "PUT", "/services/"+svc.ID, map[string]interface{}{
		"name": "", "port": 3000, "path": svc.Path,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrBadRequest, errorCode(t, rec))

	rec = env.do(t, "PUT", "/services/missing", map[string]interface{}{
		"name": "x", "port": 3000, "path": svc.Path,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServiceHandler_UpdatePortWhileBound(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	env.lc.bound[3000] = true

	rec := env.do(t, "PUT", "/services/"+svc.ID, map[string]interface{}{
		"name": "api", "port": 3001, "path": svc.Path,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ErrConflict, errorCode(t, rec))

	// Descriptive fields can still change.
	rec = env.do(t, "PUT", "/services/"+svc.ID, map[string]interface{}{
		"name": "api", "description": "live", "port": 3000, "path": svc.Path,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := env.store.GetService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3000, got.Port)
	assert.Equal(t, "live", got.Description)
}

func TestServiceHandler_StartStop(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)

	rec := env.do(t, "POST", "/services/"+svc.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view ServiceView
	decodeData(t, rec, &view)
	assert.Equal(t, catalog.StatusRunning, view.Status)

	rec = env.do(t, "POST", "/services/"+svc.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &view)
	assert.Equal(t, catalog.StatusStopped, view.Status)
}

func TestServiceHandler_LifecycleErrors(t *testing.T) {
	tests := []struct {
		kind   lifecycle.Kind
		status int
		code   string
	}{
		{lifecycle.KindBusy, http.StatusConflict, ErrConflict},
		{lifecycle.KindPortConflict, http.StatusConflict, ErrConflict},
		{lifecycle.KindReadinessTimeout, http.StatusGatewayTimeout, ErrTimeout},
		{lifecycle.KindSpawn, http.StatusBadRequest, ErrServiceError},
		{lifecycle.KindNotFound, http.StatusNotFound, ErrNotFound},
		{lifecycle.KindCatalog, http.StatusInternalServerError, ErrInternalError},
		{lifecycle.KindInvalid, http.StatusBadRequest, ErrBadRequest},
		{lifecycle.KindInUse, http.StatusConflict, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			env := newTestEnv(t)
			svc := env.addService(t, "api", 3000)
			env.lc.startErr = &lifecycle.Error{Kind: tt.kind, ServiceID: svc.ID, Op: "start"}

			rec := env.do(t, "POST", "/services/"+svc.ID+"/start", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestServiceHandler_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.addService(t, "api", 3000)
	g, err := env.store.CreateGroup(ctx, "stack")
	require.NoError(t, err)
	require.NoError(t, env.store.AddMember(ctx, g.ID, svc.ID))

	rec := env.do(t, "DELETE", "/services/"+svc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"delete:" + svc.ID}, env.lc.calls)
	assert.Equal(t, []string{svc.ID}, env.lc.forgot)

	_, err = env.store.GetService(ctx, svc.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	g, err = env.store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, g.Services)
}

func TestServiceHandler_DeleteBusy(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	env.lc.stopErr = &lifecycle.Error{Kind: lifecycle.KindBusy, ServiceID: svc.ID, Op: "stop"}

	rec := env.do(t, "DELETE", "/services/"+svc.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	_, err := env.store.GetService(context.Background(), svc.ID)
	assert.NoError(t, err)
}

func TestServiceHandler_DeleteAfterStopTimeout(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	env.lc.stopErr = &lifecycle.Error{Kind: lifecycle.KindStopTimeout, ServiceID: svc.ID, Op: "stop"}

	rec := env.do(t, "DELETE", "/services/"+svc.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, err := env.store.GetService(context.Background(), svc.ID)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestServiceHandler_Logs(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	require.NoError(t, os.MkdirAll(filepath.Dir(svc.LogPath()), 0755))
	content := "[2026-01-02T03:04:05.000Z] booting\n[2026-01-02T03:04:06.000Z] [error] boom\n[2026-01-02T03:04:07.000Z] ready\n"
	require.NoError(t, os.WriteFile(svc.LogPath(), []byte(content), 0644))

	rec := env.do(t, "GET", "/services/"+svc.ID+"/logs?lines=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []logs.Entry `json:"entries"`
	}
	decodeData(t, rec, &body)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "[error] boom", body.Entries[0].Message)
	assert.Equal(t, logs.LevelError, body.Entries[0].Level)
	assert.Equal(t, "ready", body.Entries[1].Message)

	rec = env.do(t, "GET", "/services/"+svc.ID+"/logs?lines=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceHandler_LogsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)

	rec := env.do(t, "GET", "/services/"+svc.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []logs.Entry `json:"entries"`
	}
	decodeData(t, rec, &body)
	assert.Empty(t, body.Entries)
}

func TestGroupHandler_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.addService(t, "a", 3000)
	b := env.addService(t, "b", 3001)

	rec := env.do(t, "POST", "/groups", map[string]string{"name": "stack"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var g catalog.Group
	decodeData(t, rec, &g)

	for _, id := range []string{a.ID, b.ID} {
		rec = env.do(t, "POST", "/groups/"+g.ID+"/members/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	decodeData(t, rec, &g)
	assert.Equal(t, []string{a.ID, b.ID}, g.Services)

	rec = env.do(t, "PATCH", "/groups/"+g.ID, map[string]string{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &g)
	assert.Equal(t, "renamed", g.Name)

	rec = env.do(t, "POST", "/groups/"+g.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report lifecycle.GroupReport
	decodeData(t, rec, &report)
	assert.Equal(t, 2, report.Succeeded)

	env.lc.stopErr = &lifecycle.Error{Kind: lifecycle.KindStopTimeout, Op: "stop"}
	rec = env.do(t, "POST", "/groups/"+g.ID+"/stop", nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	decodeData(t, rec, &report)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, lifecycle.KindStopTimeout, report.Results[0].Kind)

	rec = env.do(t, "DELETE", "/groups/"+g.ID+"/members/"+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &g)
	assert.Equal(t, []string{b.ID}, g.Services)

	rec = env.do(t, "DELETE", "/groups/"+g.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := env.store.GetService(context.Background(), b.ID)
	assert.NoError(t, err)

	rec = env.do(t, "GET", "/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupHandler_Validation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/groups", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/groups/nope/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/groups", map[string]string{"name": "g"})
	var g catalog.Group
	decodeData(t, rec, &g)
	rec = env.do(t, "POST", "/groups/"+g.ID+"/members/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortHandler_Probe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/ports/4000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res ports.Result
	decodeData(t, rec, &res)
	assert.True(t, res.Bound)

	rec = env.do(t, "GET", "/ports/99999", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventHandler_History(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.bus.Publish(ctx, events.Event{Type: events.ServiceStarted, Service: "a"}))
	require.NoError(t, env.bus.Publish(ctx, events.Event{Type: events.ServiceStopped, Service: "a"}))
	require.NoError(t, env.bus.Publish(ctx, events.Event{Type: events.GroupStarted, Service: "g"}))

	rec := env.do(t, "GET", "/events?type=service.*", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []events.Event
	decodeData(t, rec, &list)
	assert.Len(t, list, 2)

	rec = env.do(t, "GET", "/events?service=g", nil)
	decodeData(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, events.GroupStarted, list[0].Type)

	rec = env.do(t, "GET", "/events?type=se*ce", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/events?limit=1", nil)
	decodeData(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, events.GroupStarted, list[0].Type)
}

func TestEventHandler_HistoryBadQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"limit=abc", "limit=-1", "since=yesterday", "until=2026-13-01"} {
		rec := env.do(t, "GET", "/events?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, ErrBadRequest, errorCode(t, rec), q)
	}
}

func TestEventHandler_WebSocketFiltersService(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws?pattern=service.*&service=a"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readType(t, conn, "connected")
	assert.Equal(t, "service.*", hello["pattern"])
	assert.Equal(t, "a", hello["service"])

	ctx := context.Background()
	require.NoError(t, env.bus.Publish(ctx, events.Event{Type: events.ServiceStarted, Service: "b"}))
	require.NoError(t, env.bus.Publish(ctx, events.Event{Type: events.GroupStarted, Service: "a"}))
	require.NoError(t, env.bus.Publish(ctx, events.Event{Type: events.ServiceStopped, Service: "a"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.ServiceStopped, ev.Type)
	assert.Equal(t, "a", ev.Service)
}

func TestEventHandler_WebSocketBadPattern(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/events/ws?pattern=se*ce", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogStream_SSE(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/services/" + svc.ID + "/logs/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	require.Eventually(t, func() bool { return env.hub.Count(svc.ID) == 1 }, 5*time.Second, 10*time.Millisecond)
	env.hub.Publish(svc.ID, logs.NewEntry("hello", logs.LevelInfo))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "hello") {
			break
		}
	}
	var e logs.Entry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &e))
	assert.Equal(t, "hello", e.Message)
	assert.Equal(t, logs.LevelInfo, e.Level)
}

func TestLogStream_SSEBadBuffer(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	rec := env.do(t, "GET", "/services/"+svc.ID+"/logs/stream?buffer=7", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestLogStream_WebSocket(t *testing.T) {
	env := newTestEnv(t)
	svc := env.addService(t, "api", 3000)
	require.NoError(t, os.MkdirAll(filepath.Dir(svc.LogPath()), 0755))
	require.NoError(t, os.WriteFile(svc.LogPath(), []byte("[2026-01-02T03:04:05.000Z] from file\n"), 0644))

	srv := httptest.NewServer(env.router)
	defer srv.Close()
	conn := dialWS(t, srv, "serviceId="+svc.ID+"&buffer=100")

	hello := readType(t, conn, "connected")
	assert.Equal(t, float64(100), hello["bufferSize"])

	backfill := readType(t, conn, "log")
	assert.Equal(t, "from file", backfill["message"])

	env.hub.Publish(svc.ID, logs.NewEntry("Error: crashed", logs.LevelError))
	live := readType(t, conn, "log")
	assert.Equal(t, "Error: crashed", live["message"])
	assert.Equal(t, "error", live["level"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "history"}))
	hist := readType(t, conn, "history")
	assert.Len(t, hist["entries"], 2)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "buffer", "size": 500}))
	buf := readType(t, conn, "buffer")
	assert.Equal(t, float64(500), buf["size"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "buffer", "size": 42}))
	readType(t, conn, "error")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "autoscroll", "enabled": false}))
	as := readType(t, conn, "autoscroll")
	assert.Equal(t, false, as["enabled"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "clear"}))
	readType(t, conn, "clear")
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "history"}))
	hist = readType(t, conn, "history")
	assert.Len(t, hist["entries"], 0)

	conn.Close()
	assert.Eventually(t, func() bool { return env.hub.Count(svc.ID) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestLogStream_WebSocketUnknownService(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?serviceId=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSChannel_PingRequiresPong(t *testing.T) {
	ch := newWSChannel(4)
	assert.NoError(t, ch.Ping())
	assert.ErrorIs(t, ch.Ping(), errNoPong)
	ch.pong()
	assert.NoError(t, ch.Ping())

	ch.Close()
	assert.ErrorIs(t, ch.Send(logs.NewEntry("x", logs.LevelInfo)), hub.ErrQueueClosed)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Meta)
}

func TestWriteErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetails(rec, http.StatusConflict, ErrConflict, "busy", map[string]interface{}{"kind": "busy"})

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrConflict, resp.Error.Code)
	assert.Equal(t, "busy", resp.Error.Details["kind"])
}
