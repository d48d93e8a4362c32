package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping/memstore"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

func TestResolver_FindByInternalID_VisibleBeforeAndAfterFlush(t *testing.T) {
	store := memstore.New()
	r := New(store, nil, false)

	m := model.Mapping{Scope: model.ScopeIncident, HubProjectID: 7, InternalID: 42, ExternalKey: "DEMO-1", Primary: true}
	r.AddMappings([]model.Mapping{m})

	got, ok := r.FindByInternalID(model.ScopeIncident, 7, 42)
	require.True(t, ok, "pending mapping should be visible before flush")
	assert.Equal(t, "DEMO-1", got.ExternalKey)

	require.NoError(t, r.Flush())

	got, ok = r.FindByInternalID(model.ScopeIncident, 7, 42)
	require.True(t, ok, "mapping should be visible immediately after flush")
	assert.Equal(t, "DEMO-1", got.ExternalKey)
}

func TestResolver_FindByExternalKey_FirstMatchWins(t *testing.T) {
	store := memstore.New()
	store.Insert([]model.Mapping{
		{Scope: model.ScopeCustomPropertyValue, HubProjectID: 7, InternalID: 1, ExternalKey: "Open", Primary: false},
		{Scope: model.ScopeCustomPropertyValue, HubProjectID: 7, InternalID: 2, ExternalKey: "Open", Primary: true},
	})
	r := New(store, nil, false)

	got, ok := r.FindByExternalKey(model.ScopeCustomPropertyValue, 7, "Open", false)
	require.True(t, ok)
	assert.Equal(t, 1, got.InternalID, "first entry in iteration order wins")

	got, ok = r.FindByExternalKey(model.ScopeCustomPropertyValue, 7, "Open", true)
	require.True(t, ok)
	assert.Equal(t, 2, got.InternalID, "onlyPrimary excludes the non-primary alias")
}

type fakeUserLookup struct {
	byID    map[int]string
	byLogin map[string]int
}

func (f *fakeUserLookup) FindUserByID(id int) (string, bool, error) {
	login, ok := f.byID[id]
	return login, ok, nil
}

func (f *fakeUserLookup) FindUserByLogin(login string) (int, bool, error) {
	id, ok := f.byLogin[login]
	return id, ok, nil
}

func TestResolver_AutoMapUsers_BypassesStore(t *testing.T) {
	store := memstore.New()
	users := &fakeUserLookup{byID: map[int]string{5: "alice"}, byLogin: map[string]int{"alice": 5}}
	r := New(store, users, true)

	got, ok := r.FindUserByInternalID(5)
	require.True(t, ok)
	assert.Equal(t, "alice", got.ExternalKey)

	// The store never received a mapping: the bypass synthesizes it on the fly.
	_, storeHasIt := store.FindByInternalID(model.ScopeUser, 0, 5)
	assert.False(t, storeHasIt)
}

func TestResolver_AutoMapUsersDisabled_UsesStore(t *testing.T) {
	store := memstore.New()
	store.Insert([]model.Mapping{{Scope: model.ScopeUser, InternalID: 5, ExternalKey: "alice", Primary: true}})
	r := New(store, nil, false)

	got, ok := r.FindUserByInternalID(5)
	require.True(t, ok)
	assert.Equal(t, "alice", got.ExternalKey)
}
