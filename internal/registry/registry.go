// Package registry tracks which team is working on which feature, for live
// status display only. It is best-effort and non-authoritative: nothing in the
// engine's success/failure determination reads it.
package registry

import (
	"sync"
	"time"
)

// Entry describes one active worker slot.
type Entry struct {
	TeamID    string
	FeatureID string
	Phase     string
	StartedAt time.Time
}

// Registry is a lock-protected side table of currently active workers.
type Registry struct {
	mu     sync.Mutex
	active map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{active: make(map[string]Entry)}
}

// Begin records that a team started working on a feature.
func (r *Registry) Begin(teamID, featureID, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[teamID] = Entry{
		TeamID:    teamID,
		FeatureID: featureID,
		Phase:     phase,
		StartedAt: time.Now(),
	}
}

// Update changes the recorded phase for a team, if present.
func (r *Registry) Update(teamID, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.active[teamID]; ok {
		entry.Phase = phase
		r.active[teamID] = entry
	}
}

// End clears a team's slot. Safe to call for an unknown team.
func (r *Registry) End(teamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, teamID)
}

// Active returns a point-in-time copy of every active entry.
func (r *Registry) Active() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.active))
	for _, entry := range r.active {
		entries = append(entries, entry)
	}
	return entries
}
