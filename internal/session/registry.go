// Package session implements the Session Registry (C3): the mapping from
// CDP targetId to session state, with a "pending attach" placeholder for the
// window between issuing an attach command and its acknowledging event.
package session

import "sync"

// State is the lifecycle of one targetId's session.
type State int

const (
	// Absent means no entry exists for the targetId.
	Absent State = iota
	// Pending means an attach command was issued but not yet acknowledged.
	Pending
	// Attached means the session is live.
	Attached
)

type entry struct {
	state     State
	sessionID string
}

// Registry maps targetId -> SessionState. At most one entry per targetId;
// Pending exists only between issuing an attach and its ack; every Attached
// entry has a unique non-empty sessionId. Reverse lookup is a linear scan
// since sessions are few (spec §4.3).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// BeginAttach atomically writes Pending only if no entry exists for
// targetID. Returns false if an entry (Pending or Attached) already exists,
// which callers use to suppress duplicate Target.attachToTarget commands.
func (r *Registry) BeginAttach(targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[targetID]; exists {
		return false
	}
	r.entries[targetID] = &entry{state: Pending}
	return true
}

// CompleteAttach replaces any existing value (Pending, or a new targetId
// with no prior BeginAttach call) with Attached(sessionID).
func (r *Registry) CompleteAttach(targetID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[targetID] = &entry{state: Attached, sessionID: sessionID}
}

// ReleaseTarget removes the entry for targetID, returning its sessionID (if
// it had reached Attached) and whether an entry existed at all.
func (r *Registry) ReleaseTarget(targetID string) (sessionID string, existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[targetID]
	if !ok {
		return "", false
	}
	delete(r.entries, targetID)
	return e.sessionID, true
}

// StateOf returns the current state and (if Attached) sessionID for a
// targetID.
func (r *Registry) StateOf(targetID string) (State, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[targetID]
	if !ok {
		return Absent, ""
	}
	return e.state, e.sessionID
}

// SessionFor returns the sessionID recorded for targetID, if Attached.
func (r *Registry) SessionFor(targetID string) (string, bool) {
	state, sessionID := r.StateOf(targetID)
	if state != Attached {
		return "", false
	}
	return sessionID, true
}

// TargetFor reverse-looks-up the targetId owning sessionID by linear scan.
func (r *Registry) TargetFor(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for targetID, e := range r.entries {
		if e.state == Attached && e.sessionID == sessionID {
			return targetID, true
		}
	}
	return "", false
}

// Count returns the number of tracked targets (Pending + Attached).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
