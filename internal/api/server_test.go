package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/groundctl/internal/auth"
	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/danmuck/groundctl/internal/sim"
	"github.com/danmuck/groundctl/internal/store"
	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiRig struct {
	vehicle *sim.Vehicle
	session *session.Session
	sync    *params.Synchronizer
	server  *Server
}

func newAPIRig(t *testing.T, opts sim.Options, withStore bool) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v := sim.New(sim.DefaultTable(), opts)

	sc := session.DefaultConfig()
	sc.HeartbeatInterval, sc.HeartbeatTimeout = 0, 0
	s := session.New(v.Provider(log.Logger), sc, log.Logger)

	pc := params.DefaultConfig()
	pc.QuiescenceTimeout = 150 * time.Millisecond
	pc.SettleWindow = 30 * time.Millisecond
	pc.AckTimeout = 100 * time.Millisecond
	pc.BatchPacing = time.Millisecond
	sy := params.New(s, pc, log.Logger)

	apiOpts := Options{Link: link.TCP("sim", 5760), RequestTimeout: 5 * time.Second, Logger: log.Logger}
	if withStore {
		db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		apiOpts.Store = db
	}
	t.Cleanup(func() {
		sy.Cleanup()
		s.Close()
	})
	return &apiRig{vehicle: v, session: s, sync: sy, server: New(s, sy, apiOpts)}
}

func quiet() sim.Options {
	opts := sim.DefaultOptions()
	opts.HeartbeatInterval = 0
	return opts
}

func (r *apiRig) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.server.Handler().ServeHTTP(rr, req)
	out := map[string]any{}
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	log.Debug().Str("method", method).Str("path", path).Int("status", rr.Code).Msg("api test request")
	return rr.Code, out
}

func (r *apiRig) connectAndLoad(t *testing.T) {
	t.Helper()
	code, body := r.do(t, http.MethodPost, "/connect", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "connected", body["phase"])

	code, body = r.do(t, http.MethodPost, "/params/refresh?force=true", "")
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["complete"])
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)

	code, body := r.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	r.server.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "groundctl_http_requests_total")
}

func TestStateBeforeConnect(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)

	code, body := r.do(t, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disconnected", body["phase"])

	code, _ = r.do(t, http.MethodPost, "/params/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRefreshListAndGet(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)
	r.connectAndLoad(t)

	code, body := r.do(t, http.MethodGet, "/params?group=servo1", "")
	require.Equal(t, http.StatusOK, code)
	list, ok := body["params"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 5)

	code, body = r.do(t, http.MethodGet, "/params/RC1_MIN", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "INT16", body["type"])
	assert.Equal(t, float64(1100), body["value"])

	code, _ = r.do(t, http.MethodGet, "/params/NOPE", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = r.do(t, http.MethodGet, "/progress", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(len(sim.DefaultTable())), body["total"])
}

func TestPutParamWritesThroughToVehicle(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)
	r.connectAndLoad(t)

	code, body := r.do(t, http.MethodPut, "/params/RC1_MIN", `{"value": 1000}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["ok"])
	got, _ := r.vehicle.Param("RC1_MIN")
	assert.Equal(t, float32(1000), got.Value)

	code, body = r.do(t, http.MethodPut, "/params/RC1_MIN", `{"value": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, _ = r.do(t, http.MethodPut, "/params/RC1_MIN", `{"type": "INT16"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = r.do(t, http.MethodPut, "/params/RC1_MIN", `{"value": 1, "type": "WIDE"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPutRejectedParamIsConflict(t *testing.T) {
	testlog.Start(t)
	opts := quiet()
	opts.OnSet = sim.Reject("SERVO1_FUNCTION")
	r := newAPIRig(t, opts, false)
	r.connectAndLoad(t)

	code, body := r.do(t, http.MethodPut, "/params/SERVO1_FUNCTION", `{"value": 19}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, float64(33), body["observed"])
	assert.NotEmpty(t, body["error"])
}

func TestEditAndSavePending(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)
	r.connectAndLoad(t)

	code, body := r.do(t, http.MethodPost, "/params/RC1_MAX/edit", `{"value": 2000}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"RC1_MAX": float64(2000)}, body["pending"])

	code, body = r.do(t, http.MethodPost, "/params/save", "")
	require.Equal(t, http.StatusOK, code, body)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]any)["ok"])
	assert.Empty(t, body["pending"])
	got, _ := r.vehicle.Param("RC1_MAX")
	assert.Equal(t, float32(2000), got.Value)

	_, _ = r.do(t, http.MethodPost, "/params/RC1_MIN/edit", `{"value": 1200}`)
	code, body = r.do(t, http.MethodDelete, "/params/pending", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["pending"])
}

func TestVehicleViews(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)

	code, _ := r.do(t, http.MethodGet, "/vehicle/frame", "")
	assert.Equal(t, http.StatusNotFound, code)

	r.connectAndLoad(t)
	code, body := r.do(t, http.MethodGet, "/vehicle/servos", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["servos"], 8)

	code, body = r.do(t, http.MethodGet, "/vehicle/serial", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["ports"], 5)

	code, body = r.do(t, http.MethodGet, "/vehicle/frame", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Quad", body["class_name"])
}

func TestSnapshotsRoundTrip(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), true)

	code, _ := r.do(t, http.MethodPost, "/snapshots", `{"name": "early"}`)
	assert.Equal(t, http.StatusConflict, code, "no snapshot before a load")

	r.connectAndLoad(t)
	code, body := r.do(t, http.MethodPost, "/snapshots", `{"name": "baseline"}`)
	require.Equal(t, http.StatusCreated, code, body)
	id := int64(body["id"].(float64))

	res := r.sync.Set(context.Background(), "RC1_MIN", 1000, r.mustType(t, "RC1_MIN"))
	require.True(t, res.OK)

	code, body = r.do(t, http.MethodGet, "/snapshots/"+strconv.FormatInt(id, 10)+"/diff", "")
	require.Equal(t, http.StatusOK, code)
	changes := body["changes"].([]any)
	require.Len(t, changes, 1)
	change := changes[0].(map[string]any)
	assert.Equal(t, "RC1_MIN", change["name"])
	assert.Equal(t, "changed", change["kind"])

	code, body = r.do(t, http.MethodGet, "/snapshots", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["snapshots"], 1)

	code, _ = r.do(t, http.MethodDelete, "/snapshots/"+strconv.FormatInt(id, 10), "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = r.do(t, http.MethodGet, "/snapshots/"+strconv.FormatInt(id, 10), "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = r.do(t, http.MethodGet, "/snapshots/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSnapshotRefusesPartialTable(t *testing.T) {
	testlog.Start(t)
	opts := quiet()
	opts.DropList = map[uint16]bool{2: true}
	opts.DropReads = map[uint16]int{2: 100}
	r := newAPIRig(t, opts, true)
	r.connectAndLoad(t)
	require.Error(t, r.sync.Progress().Err())

	code, body := r.do(t, http.MethodPost, "/snapshots", `{"name": "partial"}`)
	assert.Equal(t, http.StatusConflict, code, body)
	assert.Contains(t, body["error"], "partial table")

	code, body = r.do(t, http.MethodGet, "/snapshots", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["snapshots"])
}

func TestSnapshotsDisabledWithoutStore(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)
	code, _ := r.do(t, http.MethodGet, "/snapshots", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDisconnectDropsTable(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)
	r.connectAndLoad(t)

	code, body := r.do(t, http.MethodPost, "/disconnect", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disconnected", body["phase"])
	require.Eventually(t, func() bool { return len(r.sync.List()) == 0 }, time.Second, 5*time.Millisecond)
}

func (r *apiRig) mustType(t *testing.T, name string) dialect.ParamType {
	t.Helper()
	p, ok := r.sync.Get(name)
	require.True(t, ok)
	return p.Type
}

func TestTokenGuardsMutatingRoutes(t *testing.T) {
	testlog.Start(t)
	r := newAPIRig(t, quiet(), false)
	r.server = New(r.session, r.sync, Options{
		Link:   link.TCP("sim", 5760),
		Auth:   auth.StaticToken{Token: "s3cret"},
		Logger: log.Logger,
	})

	code, _ := r.do(t, http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := r.do(t, http.MethodPost, "/connect", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, body["error"], "bearer")
	assert.Equal(t, session.Disconnected, r.session.State().Phase)

	req := httptest.NewRequest(http.MethodPost, "/connect", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	r.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/connect", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	r.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}
