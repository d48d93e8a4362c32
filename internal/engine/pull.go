package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

const pullPageSize = 100

// pullPhase implements §4.5's pull phase, steps 1-4.
func (e *Engine) pullPhase(
	ctx context.Context,
	pair model.ProjectPair,
	incidentCatalog, requirementCatalog []model.CustomPropertyDef,
	md *jiraclient.CreateMetadata,
	horizon, now time.Time,
) {
	jql := pullJQL(pair.TrackerProjectKey, horizon, e.cfg.LocalZoneOffsetHours)
	requirementTypes := e.cfg.RequirementIssueTypeIDs()

	startAt := 0
	for {
		keys, err := e.tracker.Search(ctx, jql, []string{"key"}, startAt, pullPageSize)
		if err != nil {
			e.log.Error("pull.search.failed", map[string]interface{}{
				"trackerProjectKey": pair.TrackerProjectKey, "error": err.Error(),
			})
			return
		}
		if len(keys) == 0 {
			return
		}

		for _, key := range keys {
			e.processPullIssue(ctx, pair, key, incidentCatalog, requirementCatalog, md, requirementTypes, horizon)
		}

		if len(keys) < pullPageSize {
			return
		}
		startAt += pullPageSize
	}
}

// pullJQL implements §4.5 pull step 1: convert lastSyncAt (UTC) into the
// configured local offset and format for JQL.
func pullJQL(trackerProjectKey string, horizon time.Time, offsetHours int) string {
	local := horizon.Add(time.Duration(offsetHours) * time.Hour)
	formatted := local.Format("2006/01/02 15:04")
	return fmt.Sprintf("project = %s AND updated >= '%s' order by updated asc", trackerProjectKey, formatted)
}

func (e *Engine) processPullIssue(
	ctx context.Context,
	pair model.ProjectPair,
	trackerKey string,
	incidentCatalog, requirementCatalog []model.CustomPropertyDef,
	md *jiraclient.CreateMetadata,
	requirementTypes map[string]bool,
	horizon time.Time,
) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("pull.issue.panic", map[string]interface{}{
				"trackerKey": trackerKey, "panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	issue, err := e.tracker.GetIssueByKey(ctx, trackerKey, md)
	if err != nil {
		e.log.Error("pull.issue.fetch_failed", map[string]interface{}{
			"trackerKey": trackerKey, "error": err.Error(),
		})
		return
	}

	// §8 property 4: never pull an issue updated before lastSyncAt, even if
	// the JQL window already excludes it — defends against clock/offset
	// drift between the engine and the Tracker.
	if issue.Updated.Before(horizon) {
		return
	}

	isRequirement := requirementTypes[issue.IssueType.ID]
	scope := model.ScopeIncident
	if isRequirement {
		scope = model.ScopeRequirement
	}

	existing, hasExisting := e.fetchExistingArtifact(ctx, scope, pair.HubProjectID, issue.Key, isRequirement)
	if !hasExisting && e.cfg.OnlyCreateNewItemsInTracker {
		return
	}

	var art model.HubArtifact
	var existingPtr *model.HubArtifact
	if hasExisting {
		existingPtr = &existing
	}

	if isRequirement {
		art = e.at.PullToRequirement(pair.HubProjectID, issue, requirementCatalog, existingPtr,
			func(trackerID string) (int, bool) { return e.resolveHubID(pair.HubProjectID, requirementStatusSlot, trackerID) },
			func(trackerID string) (int, bool) { return e.resolveHubID(pair.HubProjectID, requirementTypeSlot, trackerID) },
		)
	} else {
		art = e.at.PullToIncident(pair.HubProjectID, issue, incidentCatalog, existingPtr,
			func(trackerID string) (int, bool) { return e.resolveHubID(pair.HubProjectID, incidentStatusSlot, trackerID) },
			func(trackerID string) (int, bool) { return e.resolveHubID(pair.HubProjectID, priorityOrImportanceSlot, trackerID) },
			func(trackerID string) (int, bool) { return e.resolveHubID(pair.HubProjectID, incidentTypeSlot, trackerID) },
		)
	}

	if _, enabled := e.cfg.SeverityCustomFieldID(); enabled {
		e.applySeverityMapping(pair.HubProjectID, issue, &art)
	}

	// PullToIncident/PullToRequirement start art.Comments from the existing
	// Hub artifact's comments and append only de-duplicated new ones
	// (transform.pullComments); everything past the original length is new
	// and needs pushing to the Hub via AddComment.
	existingCommentCount := 0
	if hasExisting {
		existingCommentCount = len(existing.Comments)
	}
	var newComments []model.Comment
	if len(art.Comments) > existingCommentCount {
		newComments = art.Comments[existingCommentCount:]
	}

	if hasExisting {
		e.updateExistingArtifact(ctx, art, newComments)
		return
	}
	e.createNewArtifact(ctx, pair, issue, &art, newComments)
}

func (e *Engine) fetchExistingArtifact(ctx context.Context, scope model.Scope, hubProjectID int, trackerKey string, isRequirement bool) (model.HubArtifact, bool) {
	m, ok := e.resolver.FindByExternalKey(scope, hubProjectID, trackerKey, true)
	if !ok {
		return model.HubArtifact{}, false
	}

	var art model.HubArtifact
	var err error
	if isRequirement {
		art, err = e.hub.GetRequirement(ctx, m.InternalID)
	} else {
		art, err = e.hub.GetIncident(ctx, m.InternalID)
	}
	if err != nil {
		e.log.Warn("pull.issue.fetch_existing_artifact_failed", map[string]interface{}{
			"trackerKey": trackerKey, "hubArtifactId": m.InternalID, "error": err.Error(),
		})
		return model.HubArtifact{}, false
	}

	kind := model.ArtifactIncident
	if isRequirement {
		kind = model.ArtifactRequirement
	}
	comments, err := e.hub.GetComments(ctx, kind, m.InternalID)
	if err != nil {
		e.log.Warn("pull.issue.fetch_comments_failed", map[string]interface{}{
			"hubArtifactId": m.InternalID, "error": err.Error(),
		})
	} else {
		art.Comments = comments
	}

	// UpdateIncident/UpdateRequirement serialize CustomProperties as a full
	// replace, not a patch (incidentXML/requirementXML); without seeding
	// the existing values here, every slot the current Tracker pull doesn't
	// happen to supply would be wiped on write-back. Symmetric with the
	// push path's GetArtifactCustomProperties call.
	props, err := e.hub.GetArtifactCustomProperties(ctx, kind, m.InternalID)
	if err != nil {
		e.log.Warn("pull.issue.fetch_custom_properties_failed", map[string]interface{}{
			"hubArtifactId": m.InternalID, "error": err.Error(),
		})
		props = map[int]model.TypedValue{}
	}
	art.CustomProperties = props

	return art, true
}

// applySeverityMapping mirrors §4.5 pull step 4's severity addendum:
// severityCustomFieldId, when configured, maps that Tracker custom field's
// single value (the first, per §9's documented single-value
// simplification) into the Hub's native severityId via the severity enum
// mapping.
func (e *Engine) applySeverityMapping(hubProjectID int, issue *model.TrackerIssue, art *model.HubArtifact) {
	fieldID, enabled := e.cfg.SeverityCustomFieldID()
	if !enabled {
		return
	}
	id, err := fieldIDFromString(fieldID)
	if err != nil {
		return
	}
	tv, ok := issue.CustomFields[id]
	if !ok {
		return
	}
	var trackerValue string
	switch tv.Kind {
	case model.KindList:
		trackerValue = tv.List
	case model.KindMultiList:
		if len(tv.MultiList) == 0 {
			return
		}
		trackerValue = tv.MultiList[0]
	default:
		return
	}
	if hubSeverityID, ok := e.resolveHubID(hubProjectID, severitySlot, trackerValue); ok {
		art.SeverityID = hubSeverityID
	}
}

func (e *Engine) updateExistingArtifact(ctx context.Context, art model.HubArtifact, newComments []model.Comment) {
	var err error
	if art.Kind == model.ArtifactRequirement {
		err = e.hub.UpdateRequirement(ctx, art)
	} else {
		err = e.hub.UpdateIncident(ctx, art)
	}
	if err != nil {
		e.log.Error("pull.issue.update_failed", map[string]interface{}{
			"hubArtifactId": art.ID, "error": err.Error(),
		})
		return
	}
	e.pushComments(ctx, art.Kind, art.ID, newComments)
}

// pushComments writes each Tracker-sourced comment back to the Hub
// artifact via AddComment (§4.5 pull step 4's comment addendum, §8
// property 2). Failures are logged per comment so one bad comment body
// never drops the rest.
func (e *Engine) pushComments(ctx context.Context, kind model.ArtifactKind, artifactID int, comments []model.Comment) {
	for _, c := range comments {
		if err := e.hub.AddComment(ctx, kind, artifactID, c); err != nil {
			e.log.Warn("pull.issue.add_comment_failed", map[string]interface{}{
				"hubArtifactId": artifactID, "error": err.Error(),
			})
		}
	}
}

func (e *Engine) createNewArtifact(ctx context.Context, pair model.ProjectPair, issue *model.TrackerIssue, art *model.HubArtifact, newComments []model.Comment) {
	var newID int
	var err error
	scope := model.ScopeIncident
	if art.Kind == model.ArtifactRequirement {
		scope = model.ScopeRequirement
		newID, err = e.hub.CreateRequirement(ctx, *art)
	} else {
		newID, err = e.hub.CreateIncident(ctx, *art)
	}
	if err != nil {
		e.log.Error("pull.issue.create_failed", map[string]interface{}{
			"trackerKey": issue.Key, "error": err.Error(),
		})
		return
	}
	art.ID = newID

	e.resolver.AddMappings([]model.Mapping{{
		Scope: scope, HubProjectID: pair.HubProjectID,
		InternalID: newID, ExternalKey: issue.Key, Primary: true,
	}})

	kind := art.Kind
	if e.cfg.HubWebBaseURL != "" {
		hubURL := hubArtifactURL(e.cfg.HubWebBaseURL, kind, newID)
		if err := e.tracker.AddWebLink(ctx, issue.Key, hubURL, "Hub "+string(kind)); err != nil {
			e.log.Warn("pull.issue.web_link_failed", map[string]interface{}{
				"trackerKey": issue.Key, "error": err.Error(),
			})
		}
	}
	trackerURL := strings.TrimRight(e.cfg.TrackerBrowseBaseURL, "/") + "/browse/" + issue.Key
	if err := e.hub.AddDocumentURL(ctx, kind, newID, trackerURL); err != nil {
		e.log.Warn("pull.issue.hub_doc_link_failed", map[string]interface{}{
			"hubArtifactId": newID, "error": err.Error(),
		})
	}

	for _, att := range issue.Attachments {
		e.pullAttachment(ctx, kind, newID, att)
	}

	e.pushComments(ctx, kind, newID, newComments)
}

func (e *Engine) pullAttachment(ctx context.Context, kind model.ArtifactKind, artifactID int, att model.Attachment) {
	if att.URL == "" {
		return
	}
	data, err := e.tracker.DownloadAttachment(ctx, att.URL)
	if err != nil {
		e.log.Warn("pull.issue.attachment_download_failed", map[string]interface{}{
			"hubArtifactId": artifactID, "filename": att.Filename, "error": err.Error(),
		})
		return
	}
	if err := e.hub.AddDocumentFile(ctx, kind, artifactID, att.Filename, data); err != nil {
		e.log.Warn("pull.issue.attachment_upload_failed", map[string]interface{}{
			"hubArtifactId": artifactID, "filename": att.Filename, "error": err.Error(),
		})
	}
}

func fieldIDFromString(s string) (int, error) {
	var id int
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
