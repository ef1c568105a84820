package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// upstream accepts the first connection, records the subscription, sends
// frames and hangs up. Later connections are refused unless keepOpen is set.
type upstream struct {
	t        *testing.T
	frames   []string
	keepOpen bool

	conns atomic.Int32
	mu    sync.Mutex
	sub   subscription
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := u.conns.Add(1)
	if n > 1 && !u.keepOpen {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub subscription
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	u.mu.Lock()
	u.sub = sub
	u.mu.Unlock()

	for _, f := range u.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	if u.keepOpen {
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(Config{URL: "ws://localhost"})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestDelayDoubles(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k", BaseDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, time.Second, c.Delay(1))
	assert.Equal(t, 2*time.Second, c.Delay(2))
	assert.Equal(t, 4*time.Second, c.Delay(3))
	assert.Equal(t, 16*time.Second, c.Delay(5))
	assert.Equal(t, time.Second, c.Delay(0))
}

func TestDelayCapped(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k", BaseDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 256*time.Second, c.Delay(9))
	assert.Equal(t, 5*time.Minute, c.Delay(10))
	assert.Equal(t, 5*time.Minute, c.Delay(64))
	assert.Equal(t, 5*time.Minute, c.Delay(1000))

	slow, err := NewClient(Config{APIKey: "k", BaseDelay: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, slow.Delay(3))
}

func TestDelayJitterBounded(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k", BaseDelay: time.Second, Jitter: true})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		d := c.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestRunDeliversFramesThenExhausts(t *testing.T) {
	up := &upstream{t: t, frames: []string{`{"n":1}`, `{"n":2}`}}
	srv := httptest.NewServer(up)
	defer srv.Close()

	var (
		mu     sync.Mutex
		states []State
	)
	c, err := NewClient(Config{
		URL:         wsURL(srv),
		APIKey:      "secret",
		BaseDelay:   time.Millisecond,
		MaxAttempts: 3,
	}, WithStateHook(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	require.NoError(t, err)

	out := make(chan Envelope, 10)
	err = c.Run(context.Background(), out)
	require.ErrorIs(t, err, ErrUpstreamExhausted)

	var cerr *ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.Attempt)
	assert.Equal(t, Failed, c.State())

	close(out)
	var got []string
	for env := range out {
		got = append(got, string(env.Data))
		assert.False(t, env.Received.IsZero())
	}
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, got)

	up.mu.Lock()
	assert.Equal(t, "secret", up.sub.APIKey)
	assert.Equal(t, []BoundingBox{GlobalBox}, up.sub.BoundingBoxes)
	up.mu.Unlock()

	// One good connection, then a drop (attempt 1) and two refused dials.
	assert.Equal(t, int32(3), up.conns.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		Connecting, Connected, Backoff,
		Connecting, Backoff,
		Connecting, Failed,
	}, states)
}

func TestRunStopsOnCancel(t *testing.T) {
	up := &upstream{t: t, frames: []string{`{"hello":true}`}, keepOpen: true}
	srv := httptest.NewServer(up)
	defer srv.Close()

	c, err := NewClient(Config{URL: wsURL(srv), APIKey: "k"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Envelope, 1)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	select {
	case env := <-out:
		assert.JSONEq(t, `{"hello":true}`, string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	assert.Equal(t, Connected, c.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Disconnected, c.State())
}

func TestSubscriptionWireFormat(t *testing.T) {
	cfg := DefaultConfig()
	b, err := json.Marshal(subscription{
		APIKey:              "k",
		BoundingBoxes:       cfg.BoundingBoxes,
		FiltersShipAndCargo: cfg.ShipTypes,
		FilterMessageTypes:  cfg.MessageTypes,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"APIKey": "k",
		"BoundingBoxes": [[[-90, -180], [90, 180]]],
		"FiltersShipAndCargo": ["1","2","3","4","5","6","7","8","9"],
		"FilterMessageTypes": ["PositionReport", "ShipAndCargoData"]
	}`, string(b))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "backoff", Backoff.String())
	assert.Equal(t, "unknown", State(42).String())
}
