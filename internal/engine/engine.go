// Package engine is the Reconciliation Engine (RE, §4.5): the per-project
// orchestration loop that drives the push and pull phases, re-authenticates
// at each checkpoint, and flushes buffered mappings. Grounded in the
// teacher's legacy.SyncService (the top-level orchestrator delegating to
// per-system services) and legacy.handlers.go's panic-recovery boundary
// around each unit of work.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/config"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/transform"
)

// Phase names the state-machine checkpoints of §4.5, used both for trace
// logging and for the operator console's websocket progress push (§4.6).
type Phase string

const (
	PhaseAuthenticateHub  Phase = "AUTHENTICATE_HUB"
	PhaseProbeTracker     Phase = "PROBE_TRACKER"
	PhaseLoadGlobalMappings Phase = "LOAD_GLOBAL_MAPPINGS"
	PhaseConnectProject   Phase = "CONNECT_PROJECT"
	PhaseLoadProjectMappings Phase = "LOAD_PROJECT_MAPPINGS"
	PhasePush             Phase = "PUSH_PHASE"
	PhaseReauth           Phase = "REAUTH"
	PhaseReloadMappings   Phase = "RELOAD_INCIDENT_AND_REQUIREMENT_MAPPINGS"
	PhasePull             Phase = "PULL_PHASE"
	PhaseFlushMappings    Phase = "FLUSH_MAPPINGS"
	PhaseDone             Phase = "DONE"
)

// Outcome is the engine's return value (§4.5 Return, §6.1 execute).
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeError   Outcome = "Error"
)

// ProgressSink receives phase transitions as they happen, for a host (the
// operator console, §4.6) that wants to surface live progress. Hosts that
// don't care pass nil.
type ProgressSink interface {
	OnPhase(phase Phase)
}

// reserved slot numbers fold the built-in status/type/priority mappings into
// the mapping store's ScopeCustomPropertyValue namespace, the same way
// transform/artifact.go reserves componentCatalogSlot for components: none of these
// are real Hub custom-property slots (those run 1..30), and the negative
// range keeps them from ever colliding with one.
const (
	incidentStatusSlot    = -2
	requirementStatusSlot = -3
	incidentTypeSlot      = -4
	requirementTypeSlot   = -5
	priorityOrImportanceSlot = -6
	severitySlot          = -7
)

// Engine is the Reconciliation Engine. One Engine serves one Execute call
// across every configured ProjectPair; it holds no state between calls
// beyond what's threaded through Execute's parameters (§5: single-threaded,
// cooperative, no engine-owned persistent state besides the mapping store).
type Engine struct {
	cfg      config.EngineConfig
	hub      *hubclient.Client
	tracker  *jiraclient.Client
	resolver *mapping.Resolver
	at       *transform.ArtifactTransformer
	log      *eventlog.Logger
	pairs    []model.ProjectPair
	progress ProgressSink
}

// New returns an Engine wired to the given collaborators and ready to run
// Execute against pairs. progress may be nil.
func New(cfg config.EngineConfig, hub *hubclient.Client, tracker *jiraclient.Client, resolver *mapping.Resolver, log *eventlog.Logger, pairs []model.ProjectPair, progress ProgressSink) *Engine {
	return &Engine{
		cfg:      cfg,
		hub:      hub,
		tracker:  tracker,
		resolver: resolver,
		at:       transform.New(resolver, hub, tracker, log),
		log:      log,
		pairs:    pairs,
		progress: progress,
	}
}

func (e *Engine) transition(phase Phase) {
	e.log.Trace("engine.phase", map[string]interface{}{"phase": string(phase)})
	if e.progress != nil {
		e.progress.OnPhase(phase)
	}
}

// Execute runs one full reconciliation cycle (§4.5, §6.1). lastSyncAt may be
// nil, in which case the engine falls back to model.LastSyncHorizon.
func (e *Engine) Execute(ctx context.Context, lastSyncAt *time.Time, now time.Time) (Outcome, error) {
	e.transition(PhaseAuthenticateHub)
	if err := e.hub.Authenticate(ctx); err != nil {
		e.log.Error("engine.authenticate_hub.failed", map[string]interface{}{"error": err.Error()})
		return OutcomeError, err
	}

	e.transition(PhaseProbeTracker)
	if _, err := e.tracker.GetPermissions(ctx); err != nil {
		e.log.Error("engine.probe_tracker.failed", map[string]interface{}{"error": err.Error()})
		return OutcomeError, err
	}

	e.transition(PhaseLoadGlobalMappings)
	md, err := e.tracker.GetCreateMetadata(ctx)
	if err != nil {
		e.log.Error("engine.load_create_metadata.failed", map[string]interface{}{"error": err.Error()})
		return OutcomeError, err
	}

	horizon := model.LastSyncHorizon
	if lastSyncAt != nil {
		horizon = *lastSyncAt
	}

	for _, pair := range e.pairs {
		fatal, err := e.runProjectPair(ctx, pair, md, horizon, now)
		if fatal {
			e.log.Error("engine.run.aborted", map[string]interface{}{
				"hubProjectId": pair.HubProjectID, "error": err.Error(),
			})
			return OutcomeError, err
		}
	}

	e.transition(PhaseDone)
	return OutcomeSuccess, nil
}

// runProjectPair drives one ProjectPair through CONNECT_PROJECT ...
// FLUSH_MAPPINGS (§4.5). fatal is true when a reauth checkpoint fails,
// per §4.5 "if reauth fails, the run ends with Error", or when flushing the
// buffered mappings fails; any other failure (project connect, catalog
// fetch) just skips this pair.
func (e *Engine) runProjectPair(ctx context.Context, pair model.ProjectPair, md *jiraclient.CreateMetadata, horizon, now time.Time) (fatal bool, err error) {
	e.transition(PhaseConnectProject)
	if err := e.hub.ConnectProject(ctx, pair.HubProjectID); err != nil {
		e.log.Warn("engine.connect_project.failed", map[string]interface{}{
			"hubProjectId": pair.HubProjectID, "error": err.Error(),
		})
		return false, nil
	}

	e.transition(PhaseLoadProjectMappings)
	incidentCatalog, err := e.hub.GetCustomPropertyCatalog(ctx, pair.HubProjectID, model.ArtifactIncident)
	if err != nil {
		e.log.Error("engine.load_incident_catalog.failed", map[string]interface{}{
			"hubProjectId": pair.HubProjectID, "error": err.Error(),
		})
		return false, nil
	}
	requirementCatalog, err := e.hub.GetCustomPropertyCatalog(ctx, pair.HubProjectID, model.ArtifactRequirement)
	if err != nil {
		e.log.Error("engine.load_requirement_catalog.failed", map[string]interface{}{
			"hubProjectId": pair.HubProjectID, "error": err.Error(),
		})
		return false, nil
	}

	e.transition(PhasePush)
	e.pushPhase(ctx, pair, incidentCatalog, md, horizon)

	e.transition(PhaseReauth)
	if err := e.reauth(ctx, pair.HubProjectID); err != nil {
		return true, fmt.Errorf("reauth after push phase: %w", err)
	}

	e.transition(PhaseReloadMappings)
	// Pushed artifact mappings are already visible through the resolver's
	// pending buffer; nothing further to reload before the pull phase
	// starts reading the same mapping space.

	e.transition(PhasePull)
	e.pullPhase(ctx, pair, incidentCatalog, requirementCatalog, md, horizon, now)

	e.transition(PhaseReauth)
	if err := e.reauth(ctx, pair.HubProjectID); err != nil {
		return true, fmt.Errorf("reauth after pull phase: %w", err)
	}

	e.transition(PhaseFlushMappings)
	if err := e.resolver.Flush(); err != nil {
		e.log.Error("engine.flush_mappings.failed", map[string]interface{}{"error": err.Error()})
		return true, err
	}

	return false, nil
}

func (e *Engine) reauth(ctx context.Context, hubProjectID int) error {
	if err := e.hub.Authenticate(ctx); err != nil {
		return err
	}
	return e.hub.ConnectProject(ctx, hubProjectID)
}

// resolveTrackerID resolves a Hub-side enumerated id (status, type,
// priority) to its Tracker counterpart, using the built-in mapping
// convention described above slot consts.
func (e *Engine) resolveTrackerID(hubProjectID, slot, hubID int) (string, bool) {
	m, ok := e.resolver.FindByInternalID(model.ScopeCustomPropertyValue, hubProjectID, transform.OptionSlotKey(slot, hubID))
	if !ok {
		return "", false
	}
	return transform.DecodeEnumKey(m.ExternalKey), true
}

// resolveHubID is resolveTrackerID's inverse, used by the pull phase.
func (e *Engine) resolveHubID(hubProjectID, slot int, trackerID string) (int, bool) {
	m, ok := e.resolver.FindByExternalKey(model.ScopeCustomPropertyValue, hubProjectID, transform.EnumKey(slot, trackerID), false)
	if !ok {
		return 0, false
	}
	return transform.DecodeOptionSlotKey(slot, m.InternalID), true
}
