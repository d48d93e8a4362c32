package engine

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/config"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	mappingmem "github.com/jlmwin/spira5-jira-datasync-master/internal/mapping/memstore"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/transform"
)

type discardSink struct{}

func (discardSink) Write(severity eventlog.Severity, chunk string) {}

func newTestLogger() *eventlog.Logger { return eventlog.New(discardSink{}, false) }

// fakeHubTransport is a minimal hubclient.Transport whose behavior each
// test configures through the exported fields, mirroring
// hubclient/client_test.go's fakeTransport.
type fakeHubTransport struct {
	loginErr   error
	connectErr error
}

func (f *fakeHubTransport) Login(ctx context.Context, user, pass string) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "tok", nil
}

func (f *fakeHubTransport) ConnectProject(ctx context.Context, sessionToken string, projectID int) error {
	return f.connectErr
}

func (f *fakeHubTransport) Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error {
	return nil
}

// scriptedHubTransport answers named operations with canned XML fragments,
// decoded generically via encoding/xml so the test never needs to name
// hubclient's unexported response DTO types.
type scriptedHubTransport struct {
	responses map[string]string
}

func (f *scriptedHubTransport) Login(ctx context.Context, user, pass string) (string, error) {
	return "tok", nil
}

func (f *scriptedHubTransport) ConnectProject(ctx context.Context, sessionToken string, projectID int) error {
	return nil
}

func (f *scriptedHubTransport) Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error {
	body, ok := f.responses[operation]
	if !ok || out == nil {
		return nil
	}
	return xml.Unmarshal([]byte("<Response>"+body+"</Response>"), out)
}

func newEngineWithTracker(t *testing.T, trackerHandler http.Handler, hubTransport hubclient.Transport, pairs []model.ProjectPair) *Engine {
	t.Helper()
	server := httptest.NewServer(trackerHandler)
	t.Cleanup(server.Close)

	hub := hubclient.New(hubTransport, "u", "p")
	tracker := jiraclient.New(server.URL, "u", "p")
	resolver := mapping.New(mappingmem.New(), hub, false)
	return New(config.EngineConfig{}, hub, tracker, resolver, newTestLogger(), pairs, nil)
}

func okTrackerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/2/mypermissions":
			w.Write([]byte(`{"permissions":{}}`))
		case "/rest/api/2/issue/createmeta":
			w.Write([]byte(`{"projects":[]}`))
		default:
			w.Write([]byte(`{}`))
		}
	})
}

func TestExecute_NoPairs_ReturnsSuccess(t *testing.T) {
	eng := newEngineWithTracker(t, okTrackerHandler(), &fakeHubTransport{}, nil)

	outcome, err := eng.Execute(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
}

func TestExecute_HubAuthFailure_ReturnsError(t *testing.T) {
	eng := newEngineWithTracker(t, okTrackerHandler(), &fakeHubTransport{loginErr: assert.AnError}, nil)

	outcome, err := eng.Execute(context.Background(), nil, time.Now())
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)
	assert.ErrorIs(t, err, errs.ErrAuthFailure)
}

func TestExecute_TrackerProbeFailure_ReturnsError(t *testing.T) {
	emptyPermissions := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	eng := newEngineWithTracker(t, emptyPermissions, &fakeHubTransport{}, nil)

	outcome, err := eng.Execute(context.Background(), nil, time.Now())
	require.Error(t, err)
	assert.Equal(t, OutcomeError, outcome)
}

func TestExecute_ReportsPhaseTransitionsToProgressSink(t *testing.T) {
	server := httptest.NewServer(okTrackerHandler())
	t.Cleanup(server.Close)

	hub := hubclient.New(&fakeHubTransport{}, "u", "p")
	tracker := jiraclient.New(server.URL, "u", "p")
	resolver := mapping.New(mappingmem.New(), hub, false)

	var seen []Phase
	sink := progressSinkFunc(func(p Phase) { seen = append(seen, p) })

	eng := New(config.EngineConfig{}, hub, tracker, resolver, newTestLogger(), nil, sink)
	_, err := eng.Execute(context.Background(), nil, time.Now())
	require.NoError(t, err)

	assert.Contains(t, seen, PhaseAuthenticateHub)
	assert.Contains(t, seen, PhaseProbeTracker)
	assert.Contains(t, seen, PhaseLoadGlobalMappings)
	assert.Contains(t, seen, PhaseDone)
}

type progressSinkFunc func(Phase)

func (f progressSinkFunc) OnPhase(phase Phase) { f(phase) }

func TestResolveTrackerID_And_ResolveHubID_RoundTrip(t *testing.T) {
	store := mappingmem.New()
	hub := hubclient.New(&fakeHubTransport{}, "u", "p")
	resolver := mapping.New(store, hub, false)
	eng := New(config.EngineConfig{}, hub, nil, resolver, newTestLogger(), nil, nil)

	require.NoError(t, store.Insert([]model.Mapping{{
		Scope:        model.ScopeCustomPropertyValue,
		HubProjectID: 7,
		InternalID:   transform.OptionSlotKey(incidentStatusSlot, 2),
		ExternalKey:  transform.EnumKey(incidentStatusSlot, "10001"),
		Primary:      true,
	}}))

	trackerID, ok := eng.resolveTrackerID(7, incidentStatusSlot, 2)
	require.True(t, ok)
	assert.Equal(t, "10001", trackerID)

	hubID, ok := eng.resolveHubID(7, incidentStatusSlot, "10001")
	require.True(t, ok)
	assert.Equal(t, 2, hubID)
}

func TestResolveTrackerID_MissingMapping_ReturnsFalse(t *testing.T) {
	store := mappingmem.New()
	hub := hubclient.New(&fakeHubTransport{}, "u", "p")
	resolver := mapping.New(store, hub, false)
	eng := New(config.EngineConfig{}, hub, nil, resolver, newTestLogger(), nil, nil)

	_, ok := eng.resolveTrackerID(7, incidentStatusSlot, 999)
	assert.False(t, ok)
}

func TestPullJQL_FormatsLocalOffsetWindow(t *testing.T) {
	horizon := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	jql := pullJQL("PROJ", horizon, 0)
	assert.Equal(t, "project = PROJ AND updated >= '2026/01/15 12:00' order by updated asc", jql)

	jqlOffset := pullJQL("PROJ", horizon, -5)
	assert.Equal(t, "project = PROJ AND updated >= '2026/01/15 07:00' order by updated asc", jqlOffset)
}

func TestSyncFlagAllows_AbsentValueDefaultsToExcluded(t *testing.T) {
	eng := newEngineWithTracker(t, okTrackerHandler(), &fakeHubTransport{}, nil)
	def := model.CustomPropertyDef{Slot: 3, Name: "Sync to Tracker"}
	incident := model.HubArtifact{CustomProperties: map[int]model.TypedValue{}}

	assert.False(t, eng.syncFlagAllows(1, incident, def))
}

// TestSyncFlagAllows_ExplicitYesAndNo exercises the real Hub-incoming shape:
// incident.CustomProperties[3].List is populated the way
// hubCustomPropertyValueDTO.toTypedValue() populates it for a list-typed
// property — a Hub-internal option id, not a display name — and resolved
// to a name through the same enum-mapping store every other list-typed
// custom property goes through.
func TestSyncFlagAllows_ExplicitYesAndNo(t *testing.T) {
	eng := newEngineWithTracker(t, okTrackerHandler(), &fakeHubTransport{}, nil)
	def := model.CustomPropertyDef{Slot: 3, Name: "Sync to Tracker"}
	const hubProjectID = 1

	eng.resolver.AddMappings([]model.Mapping{
		{Scope: model.ScopeCustomPropertyValue, HubProjectID: hubProjectID, InternalID: transform.OptionSlotKey(3, 101), ExternalKey: transform.EnumKey(3, "Y"), Primary: true},
		{Scope: model.ScopeCustomPropertyValue, HubProjectID: hubProjectID, InternalID: transform.OptionSlotKey(3, 102), ExternalKey: transform.EnumKey(3, "N"), Primary: true},
	})
	require.NoError(t, eng.resolver.Flush())

	yes := model.HubArtifact{CustomProperties: map[int]model.TypedValue{
		3: {Kind: model.KindList, List: "101"},
	}}
	assert.True(t, eng.syncFlagAllows(hubProjectID, yes, def))

	no := model.HubArtifact{CustomProperties: map[int]model.TypedValue{
		3: {Kind: model.KindList, List: "102"},
	}}
	assert.False(t, eng.syncFlagAllows(hubProjectID, no, def))
}

// TestFetchExistingArtifact_SeedsCustomPropertiesFromHub guards against
// the pull-update data-loss bug: UpdateIncident/UpdateRequirement write
// the entire CustomProperties map as a full replace, so fetchExistingArtifact
// must seed it from GetArtifactCustomProperties before the transformer
// merges in only the slots the current Tracker pull actually supplies.
func TestFetchExistingArtifact_SeedsCustomPropertiesFromHub(t *testing.T) {
	hubTransport := &scriptedHubTransport{responses: map[string]string{
		"GetIncidentById":       `<Id>77</Id><Name>existing incident</Name>`,
		"GetComments":           ``,
		"GetCustomPropertyValues": `<Value><Slot>9</Slot><ValueType>text</ValueType><Text>preserve me</Text></Value>`,
	}}
	eng := newEngineWithTracker(t, okTrackerHandler(), hubTransport, nil)

	eng.resolver.AddMappings([]model.Mapping{{
		Scope: model.ScopeIncident, HubProjectID: 1, InternalID: 77, ExternalKey: "HUB-9", Primary: true,
	}})
	require.NoError(t, eng.resolver.Flush())

	art, ok := eng.fetchExistingArtifact(context.Background(), model.ScopeIncident, 1, "HUB-9", false)
	require.True(t, ok)
	require.Contains(t, art.CustomProperties, 9)
	assert.Equal(t, "preserve me", art.CustomProperties[9].Text)
}

func TestFieldIDFromString(t *testing.T) {
	id, err := fieldIDFromString("10042")
	require.NoError(t, err)
	assert.Equal(t, 10042, id)
}
