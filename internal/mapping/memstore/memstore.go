// Package memstore is an in-memory mapping.Store guarded by a mutex, used
// by tests and by local/offline engine runs that have no Postgres
// available.
package memstore

import (
	"sync"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

type key struct {
	scope        model.Scope
	hubProjectID int
}

// Store is an in-memory, append-only mapping store.
type Store struct {
	mutex   sync.RWMutex
	entries map[key][]model.Mapping
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[key][]model.Mapping)}
}

func scopeKey(scope model.Scope, hubProjectID int) key {
	if scope == model.ScopeUser {
		hubProjectID = 0
	}
	return key{scope: scope, hubProjectID: hubProjectID}
}

// FindByInternalID implements mapping.Store.
func (s *Store) FindByInternalID(scope model.Scope, hubProjectID, internalID int) (model.Mapping, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, m := range s.entries[scopeKey(scope, hubProjectID)] {
		if m.InternalID == internalID {
			return m, true
		}
	}
	return model.Mapping{}, false
}

// FindByExternalKey implements mapping.Store.
func (s *Store) FindByExternalKey(scope model.Scope, hubProjectID int, externalKey string, onlyPrimary bool) (model.Mapping, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, m := range s.entries[scopeKey(scope, hubProjectID)] {
		if onlyPrimary && !m.Primary {
			continue
		}
		if m.ExternalKey == externalKey {
			return m, true
		}
	}
	return model.Mapping{}, false
}

// Insert implements mapping.Store.
func (s *Store) Insert(mappings []model.Mapping) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, m := range mappings {
		k := scopeKey(m.Scope, m.HubProjectID)
		s.entries[k] = append(s.entries[k], m)
	}
	return nil
}
