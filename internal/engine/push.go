package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/config"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

const pushPageSize = 15

// pushPhase implements §4.5's push phase, steps 1-6. Each incident is
// processed inside its own try boundary; a failure on one incident never
// stops the page loop.
func (e *Engine) pushPhase(ctx context.Context, pair model.ProjectPair, catalog []model.CustomPropertyDef, md *jiraclient.CreateMetadata, horizon time.Time) {
	syncFlagDef := findCatalogDef(catalog, e.cfg.SyncFlagPropertyName)
	projectKeyOverrideDef := findCatalogDef(catalog, e.cfg.TrackerProjectKeyPropertyName)

	sortByName := true
	var updatedSinceUnix int64
	if e.cfg.PushWindowFilter == config.PushWindowSinceLastSync {
		sortByName = false
		updatedSinceUnix = horizon.Unix()
	}

	startRow := 0
	for {
		incidents, err := e.hub.ListIncidents(ctx, pair.HubProjectID, startRow, pushPageSize, sortByName, updatedSinceUnix)
		if err != nil {
			e.log.Error("push.list_incidents.failed", map[string]interface{}{
				"hubProjectId": pair.HubProjectID, "error": err.Error(),
			})
			return
		}
		if len(incidents) == 0 {
			return
		}

		for _, incident := range incidents {
			e.processPushIncident(ctx, pair, incident, catalog, md, syncFlagDef, projectKeyOverrideDef)
		}

		if len(incidents) < pushPageSize {
			return
		}
		startRow += pushPageSize
	}
}

func findCatalogDef(catalog []model.CustomPropertyDef, name string) *model.CustomPropertyDef {
	if name == "" {
		return nil
	}
	for i := range catalog {
		if catalog[i].Name == name {
			return &catalog[i]
		}
	}
	return nil
}

func (e *Engine) processPushIncident(
	ctx context.Context,
	pair model.ProjectPair,
	incident model.HubArtifact,
	catalog []model.CustomPropertyDef,
	md *jiraclient.CreateMetadata,
	syncFlagDef, projectKeyOverrideDef *model.CustomPropertyDef,
) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("push.incident.panic", map[string]interface{}{
				"hubIncidentId": incident.ID, "panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	// Step 4: idempotency — already-mapped incidents are skipped (§8
	// property 2, property 3 for an explicit "N" flag below).
	if _, ok := e.resolver.FindByInternalID(model.ScopeIncident, pair.HubProjectID, incident.ID); ok {
		return
	}

	props, err := e.hub.GetArtifactCustomProperties(ctx, model.ArtifactIncident, incident.ID)
	if err != nil {
		e.log.Warn("push.incident.custom_properties_fetch_failed", map[string]interface{}{
			"hubIncidentId": incident.ID, "error": err.Error(),
		})
		props = map[int]model.TypedValue{}
	}
	incident.CustomProperties = props

	// Step 2: sync-flag gating (§8 property 3).
	if syncFlagDef != nil && !e.syncFlagAllows(pair.HubProjectID, incident, *syncFlagDef) {
		return
	}

	trackerProjectKey := strings.ToUpper(pair.TrackerProjectKey)
	if projectKeyOverrideDef != nil {
		if tv, ok := incident.CustomProperties[projectKeyOverrideDef.Slot]; ok && tv.Kind == model.KindText && tv.Text != "" {
			trackerProjectKey = strings.ToUpper(tv.Text)
		}
	}

	// Step 3: resolve the Tracker project by uppercased key.
	project, ok := md.Projects[trackerProjectKey]
	if !ok {
		e.log.Warn("push.incident.unknown_tracker_project", map[string]interface{}{
			"hubIncidentId": incident.ID, "trackerProjectKey": trackerProjectKey,
		})
		return
	}

	issueTypeID, ok := e.resolveTrackerID(pair.HubProjectID, incidentTypeSlot, incident.TypeID)
	if !ok {
		e.log.Warn("push.incident.type_mapping_missing", map[string]interface{}{
			"hubIncidentId": incident.ID, "hubTypeId": incident.TypeID,
		})
		return
	}
	if _, ok := project.IssueTypes[issueTypeID]; !ok {
		e.log.Warn("push.incident.issue_type_not_in_project", map[string]interface{}{
			"hubIncidentId": incident.ID, "trackerProjectKey": trackerProjectKey, "issueTypeId": issueTypeID,
		})
		return
	}

	// Step 5: build, validate, create.
	tree, err := e.at.BuildTrackerIssue(ctx, pair.HubProjectID, trackerProjectKey, issueTypeID, incident, catalog, e.cfg.Custom05IncidentLinkTypeName)
	if err != nil {
		e.log.Error("push.incident.build_failed", map[string]interface{}{
			"hubIncidentId": incident.ID, "error": err.Error(),
		})
		return
	}

	key, err := e.tracker.CreateIssue(ctx, tree, trackerProjectKey, issueTypeID, md)
	if err != nil {
		var vf *errs.ValidationFault
		if errors.As(err, &vf) {
			e.log.ValidationFault(vf.Summary, toLoggedFieldMessages(vf.Messages))
		} else {
			e.log.Error("push.incident.create_failed", map[string]interface{}{
				"hubIncidentId": incident.ID, "error": err.Error(),
			})
		}
		return
	}

	e.resolver.AddMappings([]model.Mapping{{
		Scope: model.ScopeIncident, HubProjectID: pair.HubProjectID,
		InternalID: incident.ID, ExternalKey: key, Primary: true,
	}})

	e.linkPushedArtifact(ctx, pair, incident, key)

	for _, att := range incident.Attachments {
		e.pushAttachment(ctx, key, att)
	}

	// Step 6: JiraIssueKey sentinel write-back.
	for _, def := range catalog {
		if def.Sentinel != model.SentinelJiraIssueKey {
			continue
		}
		incident.CustomProperties[def.Slot] = model.Text(key)
		if err := e.hub.UpdateIncident(ctx, incident); err != nil {
			e.log.Warn("push.incident.jira_key_writeback_failed", map[string]interface{}{
				"hubIncidentId": incident.ID, "error": err.Error(),
			})
		}
		break
	}
}

// syncFlagAllows implements §4.5 push step 2: a list-typed sync flag opts
// the incident in only when its configured option resolves (through the
// same enum-mapping store every other list-typed custom property goes
// through, per transform.OptionSlotKey) to the option name "Y". A missing
// value, a non-list value, or an option with no mapping at all all exclude
// the incident, matching "Y" and nothing else. incident.CustomProperties[
// slot].List holds a Hub-internal option id, like every other list-typed
// property (see pushList's sentinel branches) — never a display name — so
// it must be translated before comparison.
func (e *Engine) syncFlagAllows(hubProjectID int, incident model.HubArtifact, def model.CustomPropertyDef) bool {
	tv, ok := incident.CustomProperties[def.Slot]
	if !ok || tv.Kind != model.KindList {
		return false
	}
	name, ok := e.resolveTrackerID(hubProjectID, def.Slot, atoiSafe(tv.List))
	if !ok {
		return false
	}
	return strings.EqualFold(name, "Y")
}

func (e *Engine) linkPushedArtifact(ctx context.Context, pair model.ProjectPair, incident model.HubArtifact, trackerKey string) {
	if e.cfg.HubWebBaseURL != "" {
		hubURL := hubArtifactURL(e.cfg.HubWebBaseURL, model.ArtifactIncident, incident.ID)
		if err := e.tracker.AddWebLink(ctx, trackerKey, hubURL, "Hub Incident"); err != nil {
			e.log.Warn("push.incident.web_link_failed", map[string]interface{}{
				"hubIncidentId": incident.ID, "error": err.Error(),
			})
		}
	}

	trackerURL := strings.TrimRight(e.cfg.TrackerBrowseBaseURL, "/") + "/browse/" + trackerKey
	if err := e.hub.AddDocumentURL(ctx, model.ArtifactIncident, incident.ID, trackerURL); err != nil {
		e.log.Warn("push.incident.hub_doc_link_failed", map[string]interface{}{
			"hubIncidentId": incident.ID, "error": err.Error(),
		})
	}
}

func (e *Engine) pushAttachment(ctx context.Context, trackerKey string, att model.Attachment) {
	if len(att.Bytes) > 0 {
		if err := e.tracker.AddAttachment(ctx, trackerKey, att.Filename, att.Bytes); err != nil {
			e.log.Warn("push.incident.attachment_upload_failed", map[string]interface{}{
				"trackerKey": trackerKey, "filename": att.Filename, "error": err.Error(),
			})
		}
		return
	}
	if att.URL != "" {
		if err := e.tracker.AddWebLink(ctx, trackerKey, att.URL, att.Filename); err != nil {
			e.log.Warn("push.incident.attachment_link_failed", map[string]interface{}{
				"trackerKey": trackerKey, "filename": att.Filename, "error": err.Error(),
			})
		}
	}
}

func toLoggedFieldMessages(messages []errs.FieldMessage) []eventlog.FieldMessage {
	out := make([]eventlog.FieldMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, eventlog.FieldMessage{FieldName: m.FieldName, Message: m.Message})
	}
	return out
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
