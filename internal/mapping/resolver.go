package mapping

import "github.com/jlmwin/spira5-jira-datasync-master/internal/model"

// UserLookup is the narrow Hub capability the Resolver needs when
// autoMapUsers bypasses the mapping store (§4.1). Implemented by
// hubclient.Client; declared here (rather than imported from hubclient) so
// mapping has no dependency on the Hub client package.
type UserLookup interface {
	FindUserByID(id int) (login string, ok bool, err error)
	FindUserByLogin(login string) (id int, ok bool, err error)
}

// Resolver is the Mapping Resolver (§4.1): the sole chokepoint for
// translating between Hub internal ids and Tracker external keys, per the
// Design Notes' "keep the resolver as the sole user-lookup chokepoint"
// guidance.
type Resolver struct {
	store        Store
	users        UserLookup
	autoMapUsers bool

	pending []model.Mapping
}

// New returns a Resolver backed by store. users may be nil when
// autoMapUsers is false.
func New(store Store, users UserLookup, autoMapUsers bool) *Resolver {
	return &Resolver{store: store, users: users, autoMapUsers: autoMapUsers}
}

// FindByInternalID implements the §4.1 public contract.
func (r *Resolver) FindByInternalID(scope model.Scope, hubProjectID, internalID int) (model.Mapping, bool) {
	if m, ok := r.findPendingByInternalID(scope, hubProjectID, internalID); ok {
		return m, true
	}
	return r.store.FindByInternalID(scope, hubProjectID, internalID)
}

// FindByExternalKey implements the §4.1 public contract.
func (r *Resolver) FindByExternalKey(scope model.Scope, hubProjectID int, externalKey string, onlyPrimary bool) (model.Mapping, bool) {
	if m, ok := r.findPendingByExternalKey(scope, hubProjectID, externalKey, onlyPrimary); ok {
		return m, true
	}
	return r.store.FindByExternalKey(scope, hubProjectID, externalKey, onlyPrimary)
}

// FindUserByInternalID implements the §4.1 autoMapUsers policy knob: when
// enabled, it bypasses the mapping store and asks the Hub directly,
// synthesizing a mapping rather than persisting one.
func (r *Resolver) FindUserByInternalID(internalID int) (model.Mapping, bool) {
	if r.autoMapUsers && r.users != nil {
		login, ok, err := r.users.FindUserByID(internalID)
		if err != nil || !ok {
			return model.Mapping{}, false
		}
		return model.Mapping{Scope: model.ScopeUser, InternalID: internalID, ExternalKey: login, Primary: true}, true
	}
	return r.FindByInternalID(model.ScopeUser, 0, internalID)
}

// FindUserByExternalKey is the external-key counterpart of
// FindUserByInternalID.
func (r *Resolver) FindUserByExternalKey(externalKey string) (model.Mapping, bool) {
	if r.autoMapUsers && r.users != nil {
		id, ok, err := r.users.FindUserByLogin(externalKey)
		if err != nil || !ok {
			return model.Mapping{}, false
		}
		return model.Mapping{Scope: model.ScopeUser, InternalID: id, ExternalKey: externalKey, Primary: true}, true
	}
	return r.FindByExternalKey(model.ScopeUser, 0, externalKey, false)
}

// AddMappings buffers mappings for the next Flush, per §4.1 "buffered;
// flushed at §4.5 checkpoints."
func (r *Resolver) AddMappings(mappings []model.Mapping) {
	r.pending = append(r.pending, mappings...)
}

// Flush writes every buffered mapping to the store and clears the buffer.
// Called at the Reconciliation Engine's checkpoints (§4.5, §2 "new mappings
// are buffered and written to MSA at safe checkpoints").
func (r *Resolver) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.store.Insert(r.pending); err != nil {
		return err
	}
	r.pending = nil
	return nil
}

func (r *Resolver) findPendingByInternalID(scope model.Scope, hubProjectID, internalID int) (model.Mapping, bool) {
	for _, m := range r.pending {
		if m.Scope != scope {
			continue
		}
		if isProjectScoped(scope) && m.HubProjectID != hubProjectID {
			continue
		}
		if m.InternalID == internalID {
			return m, true
		}
	}
	return model.Mapping{}, false
}

func (r *Resolver) findPendingByExternalKey(scope model.Scope, hubProjectID int, externalKey string, onlyPrimary bool) (model.Mapping, bool) {
	for _, m := range r.pending {
		if m.Scope != scope {
			continue
		}
		if isProjectScoped(scope) && m.HubProjectID != hubProjectID {
			continue
		}
		if onlyPrimary && !m.Primary {
			continue
		}
		if m.ExternalKey == externalKey {
			return m, true
		}
	}
	return model.Mapping{}, false
}
