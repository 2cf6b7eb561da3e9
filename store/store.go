// Package store defines persistence for incidents and their durable audit
// log. The default implementation is the in-memory ledger; swapping in a
// durable store changes no other component's contract.
package store

import (
	"errors"

	"github.com/jeff4444/autoduty-backend/model"
)

// ErrNotFound is returned when no incident exists for the given ID.
var ErrNotFound = errors.New("incident not found")

// IncidentStore owns every Incident. Incidents are never deleted. All
// returned incidents are snapshots; mutation goes through Update so the
// store can serialize concurrent access.
type IncidentStore interface {
	// Create registers a new incident.
	Create(inc *model.Incident) error
	// Get returns a snapshot of the incident.
	Get(id string) (*model.Incident, error)
	// List returns summaries of all incidents, newest first.
	List() ([]model.Summary, error)
	// Update applies fn to the incident under the store's lock and persists
	// the result. fn returning an error aborts the update.
	Update(id string, fn func(*model.Incident) error) error
	// AppendEvent appends one record to the incident's durable audit log.
	AppendEvent(ev model.AgentEvent) error
	// Events returns the incident's audit log in append order.
	Events(incidentID string) ([]model.AgentEvent, error)
	// Close releases store resources.
	Close() error
}

// SetStatus is an Update helper enforcing the lifecycle graph.
func SetStatus(inc *model.Incident, to model.Status) error {
	if !model.CanTransition(inc.Status, to) {
		return errors.New("invalid status transition: " + string(inc.Status) + " -> " + string(to))
	}
	inc.Status = to
	return nil
}
