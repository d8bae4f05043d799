package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singrar/internal/alert"
	"singrar/internal/anchor"
	"singrar/internal/collision"
	"singrar/internal/gps"
	"singrar/internal/logging"
	"singrar/internal/radar"
	"singrar/internal/session"
	"singrar/internal/store"
	"singrar/internal/track"
)

type testServer struct {
	ts     *httptest.Server
	gps    *gps.Service
	sess   *session.Session
	store  *store.Store
	alerts *alert.Dispatcher
	logs   *logging.LogBuffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := gps.New(gps.Config{})
	alerts := alert.NewDispatcher(alert.Config{ToneDir: t.TempDir()}, alert.NopPlayer)
	t.Cleanup(alerts.Close)
	r := radar.New(radar.Config{BroadcastInterval: time.Hour, SweepInterval: time.Hour}, radar.NewHub(), svc.Last)

	sess := session.New(session.Config{Logger: zerolog.Nop()}, session.Deps{
		Positions: svc,
		Alerts:    alerts,
		Radar:     r,
		Tracks:    st,
		Alarms:    st,
	})
	require.NoError(t, sess.Start(t.Context()))
	t.Cleanup(sess.Close)

	logs := logging.NewLogBuffer(10)
	status := NewStatus()
	status.SetGPS(svc.Snapshot)

	ts := httptest.NewServer(Handler(Deps{
		Session:              sess,
		Tracks:               st,
		Alerts:               alerts,
		Logs:                 logs,
		Status:               status,
		DefaultAnchorRadiusM: 50,
		Logger:               zerolog.Nop(),
	}))
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, gps: svc, sess: sess, store: st, alerts: alerts, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.ts.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func publish(s *testServer, lat, lng float64, n int) {
	s.gps.Publish(gps.PositionSample{
		LatDeg:    lat,
		LngDeg:    lng,
		AccuracyM: 5,
		Timestamp: time.Date(2026, 6, 1, 12, 0, n, 0, time.UTC),
	})
}

func TestAPIStatus(t *testing.T) {
	s := newTestServer(t)
	publish(s, 59.9, 10.7, 0)

	resp := s.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	snap := decode[StatusSnapshot](t, resp)
	assert.Equal(t, "singrar", snap.Service)
	require.NotNil(t, snap.GPS)
	require.NotNil(t, snap.Session)
	require.NotNil(t, snap.Session.Position)
	assert.Equal(t, 59.9, snap.Session.Position.LatDeg)
	assert.Equal(t, anchor.Disarmed, snap.Session.Anchor.State)
}

func TestAPIAnchor(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/anchor/drop", `{"radius_m":30}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	publish(s, 0, 0, 0)
	resp = s.do(t, http.MethodPost, "/api/anchor/drop", `{"radius_m":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/anchor/drop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a := decode[anchor.Alarm](t, resp)
	assert.True(t, a.Active)
	assert.Equal(t, 50.0, a.RadiusM)

	publish(s, 0, 0.001, 1)
	assert.Equal(t, anchor.Alerting, s.sess.Snapshot().Anchor.State)

	resp = s.do(t, http.MethodPost, "/api/anchor/dismiss", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, s.sess.Snapshot().Anchor.Dismissed)

	resp = s.do(t, http.MethodPost, "/api/anchor/raise", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, anchor.Disarmed, s.sess.Snapshot().Anchor.State)

	resp = s.do(t, http.MethodGet, "/api/alerts", "")
	out := decode[struct {
		Alerts []alert.Banner `json:"alerts"`
	}](t, resp)
	require.NotEmpty(t, out.Alerts)
	assert.Equal(t, alert.KindAnchorDrift, out.Alerts[0].Kind)
}

func TestAPITracks(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/track/stop", `{"name":"x"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/track/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	publish(s, 38.70, -9.14, 0)
	publish(s, 38.71, -9.14, 1)

	resp = s.do(t, http.MethodPost, "/api/track/stop", `{"name":"Tagus"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decode[track.Track](t, resp)
	assert.Len(t, tr.Points, 2)

	resp = s.do(t, http.MethodGet, "/api/tracks", "")
	list := decode[struct {
		Tracks []store.TrackSummary `json:"tracks"`
	}](t, resp)
	require.Len(t, list.Tracks, 1)
	assert.Equal(t, "Tagus", list.Tracks[0].Name)

	resp = s.do(t, http.MethodPatch, "/api/tracks/"+tr.ID, `{"visible":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[track.Track](t, resp).Visible)

	resp = s.do(t, http.MethodGet, "/api/tracks/"+tr.ID+"/geometry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.True(t, strings.HasPrefix(buf.String(), "LINESTRING"))

	resp = s.do(t, http.MethodDelete, "/api/tracks/"+tr.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/tracks/"+tr.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIRadarAndOffline(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/radar", `{"enabled":true,"identity":"boat-a"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g := decode[session.Gating](t, resp)
	assert.True(t, g.Active)

	resp = s.do(t, http.MethodPost, "/api/offline", `{"offline":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g = decode[session.Gating](t, resp)
	assert.False(t, g.Active)

	resp = s.do(t, http.MethodPost, "/api/radar", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPICollisionActions(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/collision/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[struct {
		Changed bool `json:"changed"`
	}](t, resp)
	assert.False(t, out.Changed)

	resp = s.do(t, http.MethodPost, "/api/collision/emergency", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, collision.Emergency, s.sess.CollisionState().Phase)

	resp = s.do(t, http.MethodGet, "/api/status", "")
	snap := decode[StatusSnapshot](t, resp)
	require.NotNil(t, snap.Session)
	assert.Equal(t, collision.Emergency, snap.Session.Collision.Phase)

	resp = s.do(t, http.MethodPost, "/api/collision/clear", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, collision.Idle, s.sess.CollisionState().Phase)
}

func TestAPIPositionRefreshUnavailable(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/position/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPILogsAndMetrics(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.logs.Write([]byte("one\ntwo\n"))

	resp := s.do(t, http.MethodGet, "/api/logs?tail=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"two"}, decode[LogsResponse](t, resp).Lines)

	resp = s.do(t, http.MethodGet, "/api/logs?tail=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/about", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "singrar", decode[AboutResponse](t, resp).Service)
}

func TestAPIMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/anchor/drop", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
