// Package memory implements store.IncidentStore as an in-memory keyed map,
// the default incident ledger.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/store"
)

// Store is the in-memory incident ledger.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*model.Incident
	events    map[string][]model.AgentEvent
	nextEvent int64
}

// New creates an empty ledger.
func New() *Store {
	return &Store{
		incidents: make(map[string]*model.Incident),
		events:    make(map[string][]model.AgentEvent),
		nextEvent: 1,
	}
}

// Create registers a new incident.
func (s *Store) Create(inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

// Get returns a snapshot of the incident.
func (s *Store) Get(id string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return inc.Clone(), nil
}

// List returns summaries of all incidents, newest first.
func (s *Store) List() ([]model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Summary, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update applies fn to the incident under the store's lock.
func (s *Store) Update(id string, fn func(*model.Incident) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(inc); err != nil {
		return err
	}
	inc.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendEvent appends one record to the incident's durable audit log.
func (s *Store) AppendEvent(ev model.AgentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[ev.IncidentID]; !ok {
		return store.ErrNotFound
	}
	ev.ID = s.nextEvent
	s.nextEvent++
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.events[ev.IncidentID] = append(s.events[ev.IncidentID], ev)
	return nil
}

// Events returns the incident's audit log in append order.
func (s *Store) Events(incidentID string) ([]model.AgentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.incidents[incidentID]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]model.AgentEvent(nil), s.events[incidentID]...), nil
}

// Close is a no-op for the in-memory ledger.
func (s *Store) Close() error { return nil }
