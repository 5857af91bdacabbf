// Package events fans budget lifecycle events out to notifiers, the audit
// log and metrics. Delivery is fire-and-forget: sink failures are logged and
// never propagate to the caller.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/budgeteer/pkg/metrics"
	"github.com/pario-ai/budgeteer/pkg/models"
)

// Publisher accepts budget events.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event)
}

// Sink receives events from a Bus.
type Sink interface {
	Handle(ctx context.Context, ev models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev models.Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// Bus delivers each event to every registered sink in order.
type Bus struct {
	mu      sync.RWMutex
	sinks   []namedSink
	metrics *metrics.Metrics
}

type namedSink struct {
	name string
	sink Sink
}

// NewBus creates an empty Bus.
func NewBus(m *metrics.Metrics) *Bus {
	return &Bus{metrics: m}
}

// Subscribe adds a sink under name.
func (b *Bus) Subscribe(name string, s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: s})
	b.mu.Unlock()
}

// Publish stamps the event with an id and time if missing and delivers it.
func (b *Bus) Publish(ctx context.Context, ev models.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	b.metrics.Event(string(ev.Type))

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		if err := s.sink.Handle(ctx, ev); err != nil {
			log.Warn().Err(err).
				Str("sink", s.name).
				Str("event", string(ev.Type)).
				Str("principal", ev.Principal).
				Msg("event delivery failed")
		}
	}
}

// New builds an event for acct with optional key/value detail pairs.
func New(t models.EventType, acct models.BudgetAccount, kv ...string) models.Event {
	ev := models.Event{
		Type:      t,
		Principal: acct.PrincipalID,
		Spent:     acct.Spent,
		Limit:     acct.BudgetLimit,
	}
	if len(kv) > 0 {
		ev.Detail = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ev.Detail[kv[i]] = kv[i+1]
		}
	}
	return ev
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, models.Event) {}

// Recorder is a Publisher that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

// Publish appends ev.
func (r *Recorder) Publish(_ context.Context, ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns the number of recorded events of type t.
func (r *Recorder) Count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
