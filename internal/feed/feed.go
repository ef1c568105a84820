// Package feed maintains the websocket subscription to the upstream AIS
// stream and hands raw frames to the ingestion pipeline.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yash/vesselwatch/internal/metrics"
)

const (
	DefaultURL         = "wss://stream.aisstream.io/v0/stream"
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
	maxBackoffDelay    = 5 * time.Minute
	defaultReadTimeout = 2 * time.Minute
	handshakeTimeout   = 15 * time.Second
	maxFrameBytes      = 1 << 20
)

var (
	// ErrMissingToken is returned by NewClient when no API key is configured.
	ErrMissingToken = errors.New("feed: api key not provided")

	// ErrUpstreamExhausted is returned by Run after MaxAttempts consecutive
	// connection failures. Ingestion stays down until restarted.
	ErrUpstreamExhausted = errors.New("feed: reconnect attempts exhausted")
)

// ConnectionError describes one failed or dropped upstream connection.
type ConnectionError struct {
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("upstream connection (attempt %d): %v", e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Envelope is one raw frame with its local receive time.
type Envelope struct {
	Data     []byte
	Received time.Time
}

// ---------------------------------------------------------------------------
// Connection state machine
// ---------------------------------------------------------------------------

// State is the client's connection state.
//
//	Disconnected → Connecting → Connected
//	Connecting   → Backoff(n) → Connecting      (n < MaxAttempts)
//	Connecting   → Failed                       (n == MaxAttempts)
//	Connected    → Backoff(1)                   (stream dropped)
//	any          → Disconnected                 (context cancelled)
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// BoundingBox is [[minLat, minLon], [maxLat, maxLon]].
type BoundingBox [2][2]float64

// GlobalBox covers the whole Earth.
var GlobalBox = BoundingBox{{-90, -180}, {90, 180}}

// Config describes the upstream subscription.
type Config struct {
	URL           string
	APIKey        string
	BoundingBoxes []BoundingBox
	ShipTypes     []string
	MessageTypes  []string

	BaseDelay   time.Duration
	MaxAttempts int
	Jitter      bool
	ReadTimeout time.Duration
}

// DefaultConfig subscribes to position and ship data for ship-type
// categories 1-9 worldwide.
func DefaultConfig() Config {
	return Config{
		URL:           DefaultURL,
		BoundingBoxes: []BoundingBox{GlobalBox},
		ShipTypes:     []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"},
		MessageTypes:  []string{"PositionReport", "ShipAndCargoData"},
		BaseDelay:     defaultBaseDelay,
		MaxAttempts:   defaultMaxAttempts,
		ReadTimeout:   defaultReadTimeout,
	}
}

type subscription struct {
	APIKey              string        `json:"APIKey"`
	BoundingBoxes       []BoundingBox `json:"BoundingBoxes"`
	FiltersShipAndCargo []string      `json:"FiltersShipAndCargo,omitempty"`
	FilterMessageTypes  []string      `json:"FilterMessageTypes,omitempty"`
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithStateHook registers fn to observe every state change.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// Client streams frames from the upstream feed. Run may be called once at
// a time.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	onState func(State)

	state   atomic.Int32
	attempt atomic.Int32
}

// NewClient validates cfg and returns a client. Zero fields take defaults.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingToken
	}
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if len(cfg.BoundingBoxes) == 0 {
		cfg.BoundingBoxes = def.BoundingBoxes
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	c := &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Attempt returns the current consecutive-failure count.
func (c *Client) Attempt() int {
	return int(c.attempt.Load())
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if s == Connected {
		metrics.FeedConnected.Set(1)
	} else if prev == Connected {
		metrics.FeedConnected.Set(0)
	}
	if c.onState != nil {
		c.onState(s)
	}
}

// Delay returns the wait before reconnect attempt n (1-based):
// base × 2^(n-1), capped at five minutes (or the base, if larger), plus up
// to half that again when jitter is enabled.
func (c *Client) Delay(n int) time.Duration {
	limit := max(maxBackoffDelay, c.cfg.BaseDelay)
	d := c.cfg.BaseDelay
	for i := 1; i < n && d < limit; i++ {
		d <<= 1
	}
	d = min(d, limit)
	if c.cfg.Jitter && d > 1 {
		d += time.Duration(rand.Int64N(int64(d / 2)))
	}
	return d
}

// Run connects, subscribes and forwards frames to out until ctx is done
// (returns nil) or reconnection is exhausted (returns an error wrapping
// ErrUpstreamExhausted and the last *ConnectionError).
func (c *Client) Run(ctx context.Context, out chan<- Envelope) error {
	defer func() {
		if c.State() != Failed {
			c.setState(Disconnected)
		}
	}()

	c.attempt.Store(0)
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(Connecting)
		conn, err := c.connect(ctx)
		if err == nil {
			c.setState(Connected)
			c.attempt.Store(0)
			metrics.FeedConnects.Inc()
			c.logger.Info("upstream connected", "url", c.cfg.URL)

			err = c.stream(ctx, conn, out)
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("upstream stream ended", "err", err)
		} else if ctx.Err() != nil {
			return nil
		}

		n := int(c.attempt.Add(1))
		cerr := &ConnectionError{Attempt: n, Err: err}
		if n >= c.cfg.MaxAttempts {
			c.setState(Failed)
			c.logger.Error("upstream reconnect exhausted", "attempts", n, "err", err)
			return fmt.Errorf("%w: %w", ErrUpstreamExhausted, cerr)
		}

		delay := c.Delay(n)
		c.setState(Backoff)
		metrics.FeedReconnects.Inc()
		c.logger.Warn("upstream reconnect scheduled", "attempt", n, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	sub := subscription{
		APIKey:              c.cfg.APIKey,
		BoundingBoxes:       c.cfg.BoundingBoxes,
		FiltersShipAndCargo: c.cfg.ShipTypes,
		FilterMessageTypes:  c.cfg.MessageTypes,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending subscription: %w", err)
	}
	return conn, nil
}

// stream reads frames until the connection fails or ctx is done.
func (c *Client) stream(ctx context.Context, conn *websocket.Conn, out chan<- Envelope) error {
	conn.SetReadLimit(maxFrameBytes)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
		conn.Close()
	}()

	for {
		if c.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		select {
		case out <- Envelope{Data: data, Received: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
