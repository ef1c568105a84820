package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/vesselwatch/internal/analytics"
	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/geofence"
	"github.com/yash/vesselwatch/internal/service"
	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	store *store.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemory()
	bus := events.NewBroadcaster()
	eval := geofence.NewEvaluator(s, bus)
	tracker := service.New(s, bus, eval, service.WithAnalytics(analytics.WithRandom(func() float64 { return 0 })))

	srv := NewServer(tracker, bus, WithFeedState(func() string { return "connected" }))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		bus.Close()
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, store: s}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

const vesselJSON = `{
	"stationId": "636012345",
	"registryId": "IMO9876543",
	"name": "Ocean Star",
	"type": "Cargo",
	"status": "Under Way",
	"speed": 12.5,
	"position": {"latitude": 25.5, "longitude": 55.5},
	"destination": "Port of Dubai"
}`

func TestProbes(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"starting"`)

	resp, _ = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	env.srv.SetReady(true)
	resp, body = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "connected", health["feed"])

	resp, body = env.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", string(body))

	resp, body = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "vesselwatch_http_requests_total")
}

func TestVesselCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/vessels", vesselJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var v models.Vessel
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, int64(1), v.ID)
	assert.Equal(t, models.RiskLow, v.RiskLevel)

	resp, _ = env.do(t, http.MethodPost, "/api/vessels", vesselJSON)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/vessels/1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Ocean Star")

	resp, body = env.do(t, http.MethodPut, "/api/vessels/1", `{"name": "Sea Breeze", "riskLevel": "high"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "Sea Breeze", v.Name)
	assert.Equal(t, models.RiskHigh, v.RiskLevel)

	resp, body = env.do(t, http.MethodGet, "/api/vessels/search?q=breeze", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Sea Breeze")

	resp, _ = env.do(t, http.MethodGet, "/api/vessels/search", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/vessels/filter?type=Tanker", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = env.do(t, http.MethodDelete, "/api/vessels/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/vessels/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/vessels/abc", ""},
		{http.MethodPost, "/api/vessels", `{"name":`},
		{http.MethodPost, "/api/vessels", `{"name":"X","bogus":1}`},
		{http.MethodPost, "/api/vessels", `{"name":"X","stationId":"1","registryId":"2","position":{"latitude":95,"longitude":0}}`},
		{http.MethodGet, "/api/zones/near?lat=1&lon=x&radius=3", ""},
		{http.MethodGet, "/api/vessels/1/history?days=-3", ""},
	} {
		resp, body := env.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s: %s", tc.method, tc.path, body)
	}

	resp, _ := env.do(t, http.MethodPatch, "/api/vessels/1", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIdentityKeysRejectedOnUpdate(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/vessels", vesselJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, body := range []string{`{"stationId": "999999999"}`, `{"registryId": "IMO1111111"}`} {
		resp, _ = env.do(t, http.MethodPut, "/api/vessels/1", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	v, ok, err := env.store.VesselByStationID(context.Background(), "636012345")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), v.ID)
	assert.Equal(t, "IMO9876543", v.RegistryID)
}

func TestAnalyticsStatusCodes(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/vessels/7/eta", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/vessels", vesselJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, path := range []string{"eta", "history", "performance", "route-optimization"} {
		resp, body := env.do(t, http.MethodGet, "/api/vessels/1/"+path, "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
		assert.Empty(t, body, path)
	}

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 2; i++ {
		speed := 12.0
		_, err := env.store.AppendTrackPoint(ctx, models.TrackPoint{
			VesselID:  1,
			Position:  models.Position{Lat: 25.5 - float64(i)*0.01, Lon: 55.5},
			Timestamp: now.Add(time.Duration(i-2) * time.Hour),
			Speed:     &speed,
		})
		require.NoError(t, err)
	}

	resp, body := env.do(t, http.MethodGet, "/api/vessels/1/eta", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pred models.ETAPrediction
	require.NoError(t, json.Unmarshal(body, &pred))
	assert.Equal(t, 12.0, pred.AverageSpeed)
	assert.Equal(t, "Port of Dubai", pred.Destination)

	resp, _ = env.do(t, http.MethodGet, "/api/vessels/1/history?days=7", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/vessels/1/trail", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var track []models.TrackPoint
	require.NoError(t, json.Unmarshal(body, &track))
	assert.Len(t, track, 2)

	resp, body = env.do(t, http.MethodGet, "/api/eta", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"vesselId":1`)
}

func TestZonesAndAlerts(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/zones",
		`{"name":"Harbour","kind":"port","center":{"latitude":25.2,"longitude":55.2},"radius":3000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/api/zones", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Harbour")

	resp, body = env.do(t, http.MethodGet, "/api/zones/near?lat=25.21&lon=55.2&radius=10", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Harbour")

	resp, body = env.do(t, http.MethodGet, "/api/zones/memberships", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = env.do(t, http.MethodPost, "/api/alerts", `{"message":"Pilot requested","severity":"warning"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var a models.Alert
	require.NoError(t, json.Unmarshal(body, &a))
	assert.True(t, a.Active)

	resp, body = env.do(t, http.MethodPost, "/api/alerts/1/resolve", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &a))
	assert.False(t, a.Active)

	resp, _ = env.do(t, http.MethodPost, "/api/alerts/9/resolve", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/alerts", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Pilot requested")
}

func TestServerSentEvents(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.http.Client().Get(env.http.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	created, _ := env.do(t, http.MethodPost, "/api/vessels", vesselJSON)
	require.Equal(t, http.StatusCreated, created.StatusCode)

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream ended early")
			got = append(got, l)
		case <-timeout:
			t.Fatalf("no event, got %v", got)
		}
	}
	assert.Equal(t, "event: vessel_added", got[0])
	require.True(t, strings.HasPrefix(got[1], "data: "))

	var e events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(got[1], "data: ")), &e))
	assert.Equal(t, events.VesselAdded, e.Kind)
	require.NotNil(t, e.Vessel)
	assert.Equal(t, "636012345", e.Vessel.StationID)
}

func TestWebSocketStream(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp, _ := env.do(t, http.MethodPost, "/api/zones",
		`{"name":"Harbour","kind":"port","center":{"latitude":25.2,"longitude":55.2},"radius":3000}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.ZoneCreated, e.Kind)
	require.NotNil(t, e.Zone)
	assert.Equal(t, "Harbour", e.Zone.Name)
}
