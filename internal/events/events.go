// Package events fans state changes out to any number of observers without
// ever blocking the publisher.
package events

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yash/vesselwatch/internal/metrics"
	"github.com/yash/vesselwatch/pkg/models"
)

// Kind names an event on the wire.
type Kind string

const (
	VesselAdded   Kind = "vessel_added"
	VesselUpdated Kind = "vessel_updated"
	VesselDeleted Kind = "vessel_deleted"
	GeofenceAlert Kind = "geofence_alert"
	AlertCreated  Kind = "alert_created"
	ZoneCreated   Kind = "zone_created"
)

// Event is one state change. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind              `json:"type"`
	VesselID   int64             `json:"vesselId,omitempty"`
	Vessel     *models.Vessel    `json:"vessel,omitempty"`
	Zone       *models.Zone      `json:"zone,omitempty"`
	Alert      *models.Alert     `json:"alert,omitempty"`
	Transition models.Transition `json:"transition,omitempty"`
	Time       time.Time         `json:"timestamp"`
}

// ErrObserverDropped is reported by Subscription.Err when the observer fell
// behind and was removed.
var ErrObserverDropped = errors.New("observer dropped: delivery queue full")

// ErrClosed is reported by Subscription.Err after the broadcaster shut down.
var ErrClosed = errors.New("broadcaster closed")

// Publisher is what producers depend on.
type Publisher interface {
	Publish(Event)
}

// ---------------------------------------------------------------------------
// Subscription
// ---------------------------------------------------------------------------

// Subscription is one observer's queue. C is closed when the observer is
// unsubscribed, dropped or the broadcaster closes.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Event

	ch  chan Event
	err error // guarded by Broadcaster.mu
	b   *Broadcaster
}

// Err reports why C was closed: nil after Unsubscribe, ErrObserverDropped or
// ErrClosed.
func (s *Subscription) Err() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.err
}

// Unsubscribe is shorthand for Broadcaster.Unsubscribe.
func (s *Subscription) Unsubscribe() {
	s.b.Unsubscribe(s.ID)
}

// ---------------------------------------------------------------------------
// Broadcaster
// ---------------------------------------------------------------------------

const DefaultBuffer = 256

// Broadcaster delivers each published event to every subscription, in
// publish order per subscription. A subscription whose queue is full is
// dropped instead of stalling the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
	logger *slog.Logger
	now    func() time.Time
}

var _ Publisher = (*Broadcaster)(nil)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger used for drop notices.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// WithClock sets the source of Event.Time for events published without one.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// NewBroadcaster creates a broadcaster with no subscriptions.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[uuid.UUID]*Subscription),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers an observer with a queue of the given capacity
// (DefaultBuffer when buffer <= 0). Subscribing after Close returns a
// subscription whose channel is already closed.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	s := &Subscription{ID: uuid.New(), C: ch, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.err = ErrClosed
		close(ch)
		return s
	}
	b.subs[s.ID] = s
	metrics.Observers.Inc()
	b.logger.Debug("observer subscribed", "id", s.ID, "buffer", buffer)
	return s
}

// Unsubscribe removes an observer and closes its channel. Unknown ids are
// ignored.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.subs[id]; ok {
		b.remove(s, nil)
	}
}

// Publish enqueues e for every observer and returns immediately.
func (b *Broadcaster) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	metrics.EventsPublished.Inc()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.remove(s, ErrObserverDropped)
			metrics.ObserversDropped.Inc()
			b.logger.Warn("observer queue full, dropping", "id", s.ID, "event", e.Kind)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		b.remove(s, ErrClosed)
	}
}

// remove requires b.mu.
func (b *Broadcaster) remove(s *Subscription, reason error) {
	delete(b.subs, s.ID)
	s.err = reason
	close(s.ch)
	metrics.Observers.Dec()
}
