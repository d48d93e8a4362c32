package transform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// fakeHubTransport is a minimal hubclient.Transport for exercising
// ArtifactTransformer against a real *hubclient.Client, mirroring the fake
// transport already used by hubclient/client_test.go and engine_test.go.
type fakeHubTransport struct {
	createReleaseID      int
	releaseName          string
	releaseVersionNumber string
}

func (f *fakeHubTransport) Login(ctx context.Context, user, pass string) (string, error) {
	return "tok", nil
}

func (f *fakeHubTransport) ConnectProject(ctx context.Context, sessionToken string, projectID int) error {
	return nil
}

func (f *fakeHubTransport) Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error {
	switch operation {
	case "CreateRelease":
		if resp, ok := out.(*struct {
			ID int `xml:"Id"`
		}); ok {
			resp.ID = f.createReleaseID
		}
	case "GetReleaseById":
		if resp, ok := out.(*struct {
			ID            int    `xml:"ReleaseId"`
			Name          string `xml:"Name"`
			VersionNumber string `xml:"VersionNumber"`
			StartDate     string `xml:"StartDate"`
			EndDate       string `xml:"EndDate"`
		}); ok {
			resp.Name = f.releaseName
			resp.VersionNumber = f.releaseVersionNumber
		}
	}
	return nil
}

func newTestArtifactTransformer(t *testing.T, hubTransport hubclient.Transport, mappings ...model.Mapping) (*ArtifactTransformer, *mapping.Resolver) {
	t.Helper()
	if hubTransport == nil {
		hubTransport = &fakeHubTransport{}
	}
	hub := hubclient.New(hubTransport, "u", "p")
	tracker := jiraclient.New("http://tracker.invalid", "u", "p")
	resolver := newTestResolver(t, mappings...)
	at := New(resolver, hub, tracker, eventlog.New(discardSink{}, false))
	return at, resolver
}

func userMapping(hubUserID int, login string) model.Mapping {
	return model.Mapping{Scope: model.ScopeUser, InternalID: hubUserID, ExternalKey: login, Primary: true}
}

func releaseMapping(hubProjectID, hubReleaseID int, trackerVersionID string) model.Mapping {
	return model.Mapping{Scope: model.ScopeRelease, HubProjectID: hubProjectID, InternalID: hubReleaseID, ExternalKey: trackerVersionID, Primary: true}
}

func componentMapping(hubComponentID int, trackerName string) model.Mapping {
	return enumMapping(componentCatalogSlot, hubComponentID, trackerName)
}

// TestBuildTrackerIssue_PopulatesStandardAndCustomFields exercises
// BuildTrackerIssue end to end against a realistic incident carrying a
// reporter, a component, a detected release, and a custom property, all
// resolved through a real mapping.Resolver rather than pre-computed values.
func TestBuildTrackerIssue_PopulatesStandardAndCustomFields(t *testing.T) {
	at, _ := newTestArtifactTransformer(t, nil,
		userMapping(9, "reporter9"),
		releaseMapping(hubProjectID, 300, "1000"),
		componentMapping(50, "Frontend"),
		enumMapping(5, 200, "Blocker"),
	)

	incident := model.HubArtifact{
		Kind:              model.ArtifactIncident,
		Name:              "checkout fails",
		Description:       "<p>cart is empty &amp; checkout 500s</p>",
		OpenerOrAuthorID:  9,
		ComponentIDs:      []int{50},
		DetectedReleaseID: 300,
		CustomProperties: map[int]model.TypedValue{
			5: model.List("200"),
		},
	}
	catalog := []model.CustomPropertyDef{
		customFieldDef(5, "10050", model.KindList),
	}

	tree, err := at.BuildTrackerIssue(context.Background(), hubProjectID, "HUB", "1", incident, catalog, "")
	require.NoError(t, err)

	assert.Equal(t, "checkout fails", tree.Standard["summary"])
	assert.Equal(t, "cart is empty & checkout 500s", tree.Standard["description"])
	assert.Equal(t, map[string]string{"name": "reporter9"}, tree.Standard["reporter"])
	assert.Equal(t, []map[string]string{{"id": "1000"}}, tree.Standard["versions"])
	assert.Equal(t, []map[string]string{{"name": "Frontend"}}, tree.Standard["components"])
	assert.Equal(t, jiraclient.OptionRef{Name: "Blocker"}, tree.Custom["customfield_10050"])
}

func TestBuildTrackerIssue_VersionCreateFails_LeavesVersionsUnset(t *testing.T) {
	at, _ := newTestArtifactTransformer(t, nil)

	incident := model.HubArtifact{
		Kind:              model.ArtifactIncident,
		Name:              "x",
		DetectedReleaseID: 999,
	}

	tree, err := at.BuildTrackerIssue(context.Background(), hubProjectID, "HUB", "1", incident, nil, "")
	require.NoError(t, err)

	_, ok := tree.Standard["versions"]
	assert.False(t, ok)
}

// TestBuildTrackerIssue_AutoProvisionsTrackerVersionFromHubRelease
// exercises the push-side counterpart of pull's
// resolveOrCreateHubRelease: a Hub release with no existing mapping is
// fetched from the Hub and used to create a Tracker version, and the new
// mapping is buffered for the next flush.
func TestBuildTrackerIssue_AutoProvisionsTrackerVersionFromHubRelease(t *testing.T) {
	var createdVersionName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/2/version" {
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				Name string `json:"name"`
			}
			json.Unmarshal(body, &payload)
			createdVersionName = payload.Name
			w.Write([]byte(`{"id":"3001"}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	hubTransport := &fakeHubTransport{releaseName: "2026.1 GA", releaseVersionNumber: "2026.1.0"}
	hub := hubclient.New(hubTransport, "u", "p")
	tracker := jiraclient.New(server.URL, "u", "p")
	resolver := newTestResolver(t)
	at := New(resolver, hub, tracker, eventlog.New(discardSink{}, false))

	incident := model.HubArtifact{
		Kind:              model.ArtifactIncident,
		Name:              "x",
		DetectedReleaseID: 400,
	}

	tree, err := at.BuildTrackerIssue(context.Background(), hubProjectID, "HUB", "1", incident, nil, "")
	require.NoError(t, err)

	assert.Equal(t, []map[string]string{{"id": "3001"}}, tree.Standard["versions"])
	assert.Equal(t, "2026.1.0", createdVersionName)

	m, ok := resolver.FindByInternalID(model.ScopeRelease, hubProjectID, 400)
	require.True(t, ok)
	assert.Equal(t, "3001", m.ExternalKey)
}

// TestPullToIncident_NewArtifact_BuildsFromTrackerIssue exercises the
// create path (existing == nil): status/priority/type resolved through
// mapping funcs, reporter resolved through the resolver, a custom property
// pulled via the default list branch, and comments copied from the issue.
func TestPullToIncident_NewArtifact_BuildsFromTrackerIssue(t *testing.T) {
	at, resolver := newTestArtifactTransformer(t, nil, enumMapping(7, 42, "High"))
	resolver.AddMappings([]model.Mapping{userMapping(3, "reporter3")})
	require.NoError(t, resolver.Flush())

	issue := &model.TrackerIssue{
		Key:      "HUB-1",
		Summary:  "db connection pool exhausted",
		Status:   model.Ref{ID: "1", Name: "Open"},
		Priority: model.Ref{ID: "2", Name: "High"},
		Reporter: "reporter3",
		CustomFields: map[int]model.TypedValue{
			10070: model.List("High"),
		},
		Comments: []model.Comment{
			{AuthorLogin: "alice", Body: "happens under load", Created: time.Now()},
		},
	}
	catalog := []model.CustomPropertyDef{
		customFieldDef(7, "10070", model.KindList),
	}

	statusMap := func(trackerID string) (int, bool) { return 10, trackerID == "1" }
	priorityMap := func(trackerID string) (int, bool) { return 20, trackerID == "2" }
	typeMap := func(trackerID string) (int, bool) { return 0, false }

	art := at.PullToIncident(hubProjectID, issue, catalog, nil, statusMap, priorityMap, typeMap)

	assert.Equal(t, model.ArtifactIncident, art.Kind)
	assert.Equal(t, "db connection pool exhausted", art.Name)
	assert.Equal(t, 10, art.StatusID)
	assert.Equal(t, 20, art.PriorityID)
	assert.Equal(t, 3, art.OpenerOrAuthorID)
	require.Len(t, art.Comments, 1)
	assert.Equal(t, "happens under load", art.Comments[0].Body)
	require.Contains(t, art.CustomProperties, 7)
	assert.Equal(t, "42", art.CustomProperties[7].List)
}

// TestPullToIncident_ExistingArtifact_MergesAndDedupesComments exercises
// the merge path (existing != nil): the artifact's own comments are kept,
// and only the Tracker comment with a genuinely new body is appended.
func TestPullToIncident_ExistingArtifact_MergesAndDedupesComments(t *testing.T) {
	at, _ := newTestArtifactTransformer(t, nil)

	existing := &model.HubArtifact{
		Kind: model.ArtifactIncident,
		ID:   55,
		Name: "old title",
		Comments: []model.Comment{
			{AuthorLogin: "bob", Body: "already on the hub"},
		},
	}
	issue := &model.TrackerIssue{
		Key:     "HUB-2",
		Summary: "new title from tracker",
		Status:  model.Ref{ID: "1"},
		Comments: []model.Comment{
			{AuthorLogin: "bob", Body: "already on the hub"},
			{AuthorLogin: "carol", Body: "one more data point"},
		},
	}

	noMap := func(string) (int, bool) { return 0, false }
	art := at.PullToIncident(hubProjectID, issue, nil, existing, noMap, noMap, noMap)

	assert.Equal(t, 55, art.ID)
	assert.Equal(t, "new title from tracker", art.Name)
	require.Len(t, art.Comments, 2)
	assert.Equal(t, "already on the hub", art.Comments[0].Body)
	assert.Equal(t, "one more data point", art.Comments[1].Body)
}

// TestPullToRequirement_DefaultsStatusAndTypeWhenUnmapped covers the §7
// defaulting rules: an unmapped Tracker status/issue-type falls back to
// defaultRequirementStatusID/defaultRequirementTypeID rather than leaving
// the artifact's fields at zero.
func TestPullToRequirement_DefaultsStatusAndTypeWhenUnmapped(t *testing.T) {
	at, _ := newTestArtifactTransformer(t, nil)

	issue := &model.TrackerIssue{
		Key:       "HUB-3",
		Summary:   "new story",
		Status:    model.Ref{ID: "99"},
		IssueType: model.Ref{ID: "88"},
	}
	noMap := func(string) (int, bool) { return 0, false }

	art := at.PullToRequirement(hubProjectID, issue, nil, nil, noMap, noMap)

	assert.Equal(t, model.ArtifactRequirement, art.Kind)
	assert.Equal(t, defaultRequirementStatusID, art.StatusID)
	assert.Equal(t, defaultRequirementTypeID, art.TypeID)
}

// TestPullToIncident_AutoProvisionsHubReleaseFromFixVersion exercises §8
// scenario 4 end to end: a Tracker fixVersion with no existing release
// mapping is created on the Hub via a real hubclient.Client call, and the
// resulting Hub release id lands on the artifact.
func TestPullToIncident_AutoProvisionsHubReleaseFromFixVersion(t *testing.T) {
	at, _ := newTestArtifactTransformer(t, &fakeHubTransport{createReleaseID: 777})

	issue := &model.TrackerIssue{
		Key:     "HUB-4",
		Summary: "needs a release",
		Status:  model.Ref{ID: "1"},
		FixVersions: []model.Release{
			{ExternalKey: "2000", Name: "2026.1"},
		},
	}
	noMap := func(string) (int, bool) { return 0, false }

	art := at.PullToIncident(hubProjectID, issue, nil, nil, noMap, noMap, noMap)

	assert.Equal(t, 777, art.ResolvedReleaseID)
}
