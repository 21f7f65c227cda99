// Package subscription tracks standing client interest in component
// types, keyed by (connection, subscription_id). The manager is
// authoritative: the client is not trusted to send Unsubscribe for
// every Subscribe, so connection drop triggers a server-side sweep.
package subscription

import (
	"sync"

	"github.com/nugget/entitysync/internal/connid"
	"github.com/nugget/entitysync/internal/entityid"
)

// Wildcard is the reserved component_type value (§6.4) matching every
// registered type, including types registered after the subscribe.
const Wildcard = "*"

// Entry is one standing subscription from a connection.
type Entry struct {
	ConnectionID  connid.ID
	SubscriptionID uint64
	ComponentType string
	// Entity narrows the subscription to a single entity. Nil means
	// "all entities of this type".
	Entity *entityid.ID
}

// MatchesType reports whether the entry cares about typeName — either
// because it is a wildcard subscription or an exact match.
func (e Entry) MatchesType(typeName string) bool {
	return e.ComponentType == Wildcard || e.ComponentType == typeName
}

// MatchesEntity reports whether the entry cares about entity — either
// because it has no entity filter or the filter matches exactly.
func (e Entry) MatchesEntity(entity entityid.ID) bool {
	return e.Entity == nil || *e.Entity == entity
}

// Matches reports whether the entry should receive a change on
// (entity, typeName).
func (e Entry) Matches(typeName string, entity entityid.ID) bool {
	return e.MatchesType(typeName) && e.MatchesEntity(entity)
}

// Manager is the process-wide table of live subscriptions. For v1 this
// stays a simple slice scanned linearly per frame — subscription counts
// are expected to be small relative to per-frame component churn, and a
// slice keeps add/remove/drain trivial to reason about.
type Manager struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates an empty subscription manager.
func New() *Manager {
	return &Manager{}
}

// Add appends a new subscription entry. The caller is responsible for
// allocating a subscription_id unique within its connection.
func (m *Manager) Add(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Remove deletes the entry for (connection, subscriptionID), if present.
// A second Remove for an already-removed id is a no-op (§8 property 8).
func (m *Manager) Remove(connection connid.ID, subscriptionID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ConnectionID == connection && e.SubscriptionID == subscriptionID {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// DrainConnection removes every entry belonging to connection and
// returns the entries that were removed, so callers (the engine's
// disconnect handling) can log what was torn down.
func (m *Manager) DrainConnection(connection connid.ID) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []Entry
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.ConnectionID == connection {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed
}

// Iter returns a snapshot copy of every live subscription entry. Used
// by the dispatcher to answer "which clients care about this change?".
func (m *Manager) Iter() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// CountForType returns the number of live subscriptions whose
// ComponentType equals typeName exactly (wildcard subscriptions are not
// counted — §8 property 1 is stated per exact type).
func (m *Manager) CountForType(typeName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.ComponentType == typeName {
			n++
		}
	}
	return n
}
