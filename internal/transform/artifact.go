package transform

import (
	"context"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// defaultRequirementStatusID and defaultRequirementTypeID are the §7
// MappingMissing fallbacks for pulled requirements ("Requested" and
// "User Story").
const (
	defaultRequirementStatusID = 1
	defaultRequirementTypeID   = 4
)

// ArtifactTransformer is the Artifact Transformer (AT, §4.4/§2): it builds
// full artifact payloads in either direction, delegating per-field
// coercion to a ValueTransformer and persisted-identity lookups to the
// mapping Resolver, doing field-by-field reconciliation between two
// externally-shaped records.
type ArtifactTransformer struct {
	vt       *ValueTransformer
	resolver *mapping.Resolver
	hub      *hubclient.Client
	tracker  *jiraclient.Client
	log      *eventlog.Logger
}

// New returns an ArtifactTransformer wired to the given collaborators.
func New(resolver *mapping.Resolver, hub *hubclient.Client, tracker *jiraclient.Client, log *eventlog.Logger) *ArtifactTransformer {
	return &ArtifactTransformer{
		vt:       NewValueTransformer(resolver, log),
		resolver: resolver,
		hub:      hub,
		tracker:  tracker,
		log:      log,
	}
}

// BuildTrackerIssue implements the Hub→Tracker half of §4.4/§4.4.2: builds
// the FieldTree (pass 1) that jiraclient.ReconcileCreatePayload (pass 2)
// will shape into a create payload for incident.
func (at *ArtifactTransformer) BuildTrackerIssue(
	ctx context.Context,
	hubProjectID int,
	trackerProjectKey, issueTypeID string,
	incident model.HubArtifact,
	catalog []model.CustomPropertyDef,
	linkTypeName string,
) (jiraclient.FieldTree, error) {
	tree := jiraclient.NewFieldTree()
	tree.Standard["summary"] = incident.Name
	tree.Standard["description"] = plainText(incident.Description)

	if reporterLogin, ok := at.lookupUserExternal(incident.OpenerOrAuthorID); ok {
		tree.Standard["reporter"] = map[string]string{"name": reporterLogin}
	}
	if incident.OwnerID != 0 {
		if ownerLogin, ok := at.lookupUserExternal(incident.OwnerID); ok {
			tree.Standard["assignee"] = map[string]string{"name": ownerLogin}
		}
	}

	componentsSet := false
	if len(incident.ComponentIDs) > 0 {
		var names []map[string]string
		for _, hubComponentID := range incident.ComponentIDs {
			name, ok := at.vt.lookupEnumByHubID(hubProjectID, componentCatalogSlot, hubComponentID)
			if ok {
				names = append(names, map[string]string{"name": name})
			}
		}
		if len(names) > 0 {
			tree.Standard["components"] = names
			componentsSet = true
		}
	}

	if incident.DetectedReleaseID != 0 {
		if version, ok := at.resolveTrackerVersion(ctx, hubProjectID, trackerProjectKey, incident.DetectedReleaseID); ok {
			tree.Standard["versions"] = []map[string]string{{"id": version}}
		}
	}
	if incident.ResolvedReleaseID != 0 {
		if version, ok := at.resolveTrackerVersion(ctx, hubProjectID, trackerProjectKey, incident.ResolvedReleaseID); ok {
			tree.Standard["fixVersions"] = []map[string]string{{"id": version}}
		}
	}

	for _, def := range catalog {
		value, ok := incident.CustomProperties[def.Slot]
		if !ok || value.IsZero() {
			continue
		}
		at.vt.PushCustomProperty(hubProjectID, def, value, tree, componentsSet)
	}

	return tree, nil
}

// lookupUserExternal resolves a Hub internal user id to a Tracker login via
// the resolver, which itself may bypass the store per autoMapUsers (§4.1).
func (at *ArtifactTransformer) lookupUserExternal(internalID int) (string, bool) {
	if internalID == 0 {
		return "", false
	}
	m, ok := at.resolver.FindUserByInternalID(internalID)
	if !ok {
		return "", false
	}
	return m.ExternalKey, true
}

// resolveTrackerVersion resolves a Hub release id to a Tracker version id,
// auto-provisioning a Tracker version when no Hub→Tracker release mapping
// exists yet, symmetric with the pull side's resolveOrCreateHubRelease (§3
// Release/Version, §8 property 6's 10-character version-number truncation
// applies on both sides).
func (at *ArtifactTransformer) resolveTrackerVersion(ctx context.Context, hubProjectID int, trackerProjectKey string, hubReleaseID int) (string, bool) {
	if m, ok := at.resolver.FindByInternalID(model.ScopeRelease, hubProjectID, hubReleaseID); ok {
		return m.ExternalKey, true
	}

	release, err := at.hub.GetRelease(ctx, hubReleaseID)
	if err != nil {
		at.log.Warn("push.release.fetch_failed", map[string]interface{}{"hubReleaseId": hubReleaseID, "error": err.Error()})
		return "", false
	}
	if len(release.VersionNumber) == 0 {
		release.VersionNumber = release.Name
	}
	if len(release.VersionNumber) > 10 {
		release.VersionNumber = release.VersionNumber[:10]
	}

	externalKey, err := at.tracker.CreateVersion(ctx, trackerProjectKey, release)
	if err != nil {
		at.log.Warn("push.release.create_failed", map[string]interface{}{"hubReleaseId": hubReleaseID, "error": err.Error()})
		return "", false
	}

	at.resolver.AddMappings([]model.Mapping{{
		Scope: model.ScopeRelease, HubProjectID: hubProjectID,
		InternalID: hubReleaseID, ExternalKey: externalKey, Primary: true,
	}})
	return externalKey, true
}

// componentCatalogSlot is the reserved slot number under which component
// name<->id enum mappings are recorded in the mapping store (§4.1.1's
// Scope=CustomPropertyValue convention, reused here since Hub components
// are not one of the five declared Mapping scopes but still need a
// (project, name)->id lookup table).
const componentCatalogSlot = -1

// PullToIncident implements the Tracker→Hub half of §4.4.1 when the
// Tracker issue's type is not in the configured requirement set: builds
// or updates a model.HubArtifact (Kind=Incident) from issue.
func (at *ArtifactTransformer) PullToIncident(
	hubProjectID int,
	issue *model.TrackerIssue,
	catalog []model.CustomPropertyDef,
	existing *model.HubArtifact,
	statusMap, priorityMap, typeMap func(trackerID string) (int, bool),
) model.HubArtifact {
	art := model.HubArtifact{Kind: model.ArtifactIncident}
	if existing != nil {
		art = *existing
	}
	art.ProjectID = hubProjectID

	art.Name = firstNonEmpty(issue.Summary, art.Name, "(untitled)")
	if art.Description == "" || issue.Description != "" {
		art.Description = html.EscapeString(issue.Description)
		if art.Description == "" {
			art.Description = html.EscapeString("(no description)")
		}
	}

	if id, ok := statusMap(issue.Status.ID); ok {
		art.StatusID = id
	} else if art.StatusID == 0 {
		art.StatusID = defaultRequirementStatusID
	}
	if id, ok := priorityMap(issue.Priority.ID); ok {
		art.PriorityID = id
	}
	if id, ok := typeMap(issue.IssueType.ID); ok {
		art.TypeID = id
	}

	if issue.Reporter != "" {
		if m, ok := at.resolver.FindUserByExternalKey(issue.Reporter); ok {
			art.OpenerOrAuthorID = m.InternalID
		}
	}
	if issue.Assignee != "" {
		if m, ok := at.resolver.FindUserByExternalKey(issue.Assignee); ok {
			art.OwnerID = m.InternalID
		}
	}

	at.pullComponents(hubProjectID, issue, &art)
	at.pullReleases(hubProjectID, issue, &art)
	at.pullComments(issue, &art)

	for _, def := range catalog {
		value, ok := at.vt.PullCustomProperty(hubProjectID, def, issue)
		if !ok {
			continue
		}
		if art.CustomProperties == nil {
			art.CustomProperties = map[int]model.TypedValue{}
		}
		art.CustomProperties[def.Slot] = value
	}

	return art
}

// PullToRequirement is PullToIncident's counterpart for Tracker issues
// whose issue type is in the configured requirementIssueTypes set (§4.5
// pull step 3), with the §7/§8 scenario 2 defaulting rules for status and
// requirement type.
func (at *ArtifactTransformer) PullToRequirement(
	hubProjectID int,
	issue *model.TrackerIssue,
	catalog []model.CustomPropertyDef,
	existing *model.HubArtifact,
	statusMap, requirementTypeMap func(trackerID string) (int, bool),
) model.HubArtifact {
	art := model.HubArtifact{Kind: model.ArtifactRequirement}
	if existing != nil {
		art = *existing
	}
	art.ProjectID = hubProjectID
	art.Name = firstNonEmpty(issue.Summary, art.Name, "(untitled)")
	art.Description = html.EscapeString(firstNonEmpty(issue.Description, "(no description)"))

	if id, ok := statusMap(issue.Status.ID); ok {
		art.StatusID = id
	} else {
		art.StatusID = defaultRequirementStatusID
		at.log.Warn("pull.requirement.status_defaulted", map[string]interface{}{"trackerStatusId": issue.Status.ID})
	}
	if id, ok := requirementTypeMap(issue.IssueType.ID); ok {
		art.TypeID = id
	} else {
		art.TypeID = defaultRequirementTypeID
		at.log.Warn("pull.requirement.type_defaulted", map[string]interface{}{"trackerIssueTypeId": issue.IssueType.ID})
	}

	if issue.Reporter != "" {
		if m, ok := at.resolver.FindUserByExternalKey(issue.Reporter); ok {
			art.OpenerOrAuthorID = m.InternalID
		}
	}

	at.pullReleases(hubProjectID, issue, &art)
	at.pullComments(issue, &art)

	for _, def := range catalog {
		value, ok := at.vt.PullCustomProperty(hubProjectID, def, issue)
		if !ok {
			continue
		}
		if art.CustomProperties == nil {
			art.CustomProperties = map[int]model.TypedValue{}
		}
		art.CustomProperties[def.Slot] = value
	}

	return art
}

func (at *ArtifactTransformer) pullComponents(hubProjectID int, issue *model.TrackerIssue, art *model.HubArtifact) {
	if len(issue.Components) == 0 {
		return
	}
	var ids []int
	for _, name := range issue.Components {
		if m, ok := at.resolver.FindByExternalKey(model.ScopeCustomPropertyValue, hubProjectID, enumKey(componentCatalogSlot, name), false); ok {
			ids = append(ids, decodeOptionSlotKey(componentCatalogSlot, m.InternalID))
		}
	}
	if len(ids) > 0 {
		art.ComponentIDs = ids
	}
}

// pullReleases implements §8 scenario 4: auto-provision a Hub release when
// a Tracker fixVersion/version carries no existing release mapping.
func (at *ArtifactTransformer) pullReleases(hubProjectID int, issue *model.TrackerIssue, art *model.HubArtifact) {
	if len(issue.FixVersions) > 0 {
		if id, ok := at.resolveOrCreateHubRelease(hubProjectID, issue.FixVersions[0]); ok {
			art.ResolvedReleaseID = id
		}
	}
	if len(issue.Versions) > 0 {
		if id, ok := at.resolveOrCreateHubRelease(hubProjectID, issue.Versions[0]); ok {
			art.DetectedReleaseID = id
		}
	}
}

func (at *ArtifactTransformer) resolveOrCreateHubRelease(hubProjectID int, version model.Release) (int, bool) {
	if m, ok := at.resolver.FindByExternalKey(model.ScopeRelease, hubProjectID, version.ExternalKey, false); ok {
		return m.InternalID, true
	}

	release := version
	if len(release.VersionNumber) == 0 {
		release.VersionNumber = release.Name
	}
	if len(release.VersionNumber) > 10 {
		release.VersionNumber = release.VersionNumber[:10]
	}
	if !release.EndDate.IsZero() {
		release.StartDate = release.EndDate.AddDate(0, 0, -1)
	} else {
		release.StartDate = time.Now().UTC().Truncate(24 * time.Hour)
		release.EndDate = release.StartDate.AddDate(0, 0, 5)
	}

	newID, err := at.hub.CreateRelease(context.Background(), hubProjectID, release)
	if err != nil {
		at.log.Warn("pull.release.create_failed", map[string]interface{}{"error": err.Error()})
		return 0, false
	}

	// §9 Open Question: whether to persist the new release mapping. The
	// mapping is not buffered here or by the engine: the new id is used for
	// this artifact only, and a later issue carrying the same Tracker
	// version finds no mapping for it.
	return newID, true
}

func (at *ArtifactTransformer) pullComments(issue *model.TrackerIssue, art *model.HubArtifact) {
	for _, c := range issue.Comments {
		duplicate := false
		for _, existing := range art.Comments {
			if existing.SameBody(c) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			art.Comments = append(art.Comments, c)
		}
	}
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// plainText is the base spec's "treated as a pure utility function, not a
// component" HTML-to-plain-text rendering (§1).
func plainText(htmlBody string) string {
	unescaped := html.UnescapeString(htmlBody)
	stripped := htmlTagPattern.ReplaceAllString(unescaped, "")
	return strings.TrimSpace(stripped)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
