// Package eventbus provides per-incident pub/sub for live event streaming.
//
// The bus is deliberately ephemeral: it holds no history, and a late
// subscriber only ever sees the terminal signal. Anything that must survive
// the moment of publication belongs in the incident's durable audit log.
package eventbus

import (
	"sync"
	"time"

	"github.com/jeff4444/autoduty-backend/model"
)

// subscriberBuffer is the per-subscriber queue capacity. A full queue drops
// the newest event for that subscriber; publishing never blocks the pipeline.
const subscriberBuffer = 1000

// Bus fans events out to live subscribers, keyed by incident ID.
type Bus interface {
	// Publish delivers an event to all current subscribers of the incident.
	Publish(incidentID string, event model.AgentEvent)
	// Subscribe returns a channel of events for the incident. The channel is
	// closed after the terminal "done" event. Callers must Unsubscribe when
	// they stop reading.
	Subscribe(incidentID string) <-chan model.AgentEvent
	// Unsubscribe detaches a channel returned by Subscribe.
	Unsubscribe(incidentID string, ch <-chan model.AgentEvent)
	// Close pushes the terminal "done" event to every current subscriber of
	// the incident and closes their channels. Subsequent Subscribe calls
	// receive only the terminal event.
	Close(incidentID string, finalStatus model.Status)
}

// InMemoryBus is the default channel-based Bus implementation.
type InMemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]chan model.AgentEvent
	closed map[string]model.Status // incidents whose stream has terminated
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs:   make(map[string][]chan model.AgentEvent),
		closed: make(map[string]model.Status),
	}
}

// Publish sends an event to all subscribers for an incident. Events published
// after Close are discarded.
func (b *InMemoryBus) Publish(incidentID string, event model.AgentEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.IncidentID = incidentID

	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, done := b.closed[incidentID]; done {
		return
	}
	for _, ch := range b.subs[incidentID] {
		select {
		case ch <- event:
		default:
			// Subscriber is too slow; drop rather than stall the publisher.
		}
	}
}

// Subscribe registers a new subscriber channel for an incident. If the
// incident's stream already terminated, the returned channel carries only the
// terminal event and is already closed.
func (b *InMemoryBus) Subscribe(incidentID string) <-chan model.AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if status, done := b.closed[incidentID]; done {
		ch := make(chan model.AgentEvent, 1)
		ch <- doneEvent(incidentID, status)
		close(ch)
		return ch
	}

	ch := make(chan model.AgentEvent, subscriberBuffer)
	b.subs[incidentID] = append(b.subs[incidentID], ch)
	return ch
}

// Unsubscribe removes a channel from the incident's subscriber list and
// closes it. Unsubscribing an already-closed stream is a no-op.
func (b *InMemoryBus) Unsubscribe(incidentID string, ch <-chan model.AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[incidentID]
	for i, s := range subs {
		if s == ch {
			b.subs[incidentID] = append(subs[:i], subs[i+1:]...)
			close(s)
			break
		}
	}
	if len(b.subs[incidentID]) == 0 {
		delete(b.subs, incidentID)
	}
}

// Close terminates the incident's stream: every current subscriber receives
// the "done" sentinel and has its channel closed.
func (b *InMemoryBus) Close(incidentID string, finalStatus model.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.closed[incidentID]; done {
		return
	}
	b.closed[incidentID] = finalStatus

	ev := doneEvent(incidentID, finalStatus)
	for _, ch := range b.subs[incidentID] {
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
	delete(b.subs, incidentID)
}

func doneEvent(incidentID string, status model.Status) model.AgentEvent {
	return model.AgentEvent{
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		Kind:       "done",
		Payload:    map[string]any{"status": string(status)},
	}
}
