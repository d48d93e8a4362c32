// Package config holds the engine's Setup-time configuration and, for the
// operator console binaries only, .env/os.Getenv loading with
// fallback defaults. The reconciliation core itself never reads the
// environment directly (§6.1): it is wired exclusively through
// EngineConfig, which a host assembles however it likes.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EngineConfig is the engine's Setup(...) parameter set (§6.1), plus the
// named options this expansion introduces for the Design Notes' Open
// Questions (§9) instead of guessing at fixed behavior.
type EngineConfig struct {
	DataSyncSystemID int
	TraceLogging     bool

	HubBaseURL string
	HubUser    string
	HubPass    string

	TrackerBaseURL string
	TrackerUser    string
	TrackerPass    string
	// TrackerBrowseBaseURL is the human-facing URL prefix issues are linked
	// from ("<TrackerBrowseBaseURL>/browse/<key>", §8 scenario 1). Usually
	// equal to TrackerBaseURL but kept separate since a Tracker's REST API
	// base and its browse-UI base can differ behind a reverse proxy.
	TrackerBrowseBaseURL string
	// HubWebBaseURL is the Hub's "~"-placeholder web URL used to resolve a
	// browsable artifact link (§4.3 ResolveArtifactURL). Distinct from
	// HubBaseURL, which targets the RPC endpoint.
	HubWebBaseURL string
	// UseDefaultCredentials requests "integrated"/SSO auth against the
	// Tracker instead of HTTP Basic (§4.2).
	UseDefaultCredentials bool
	// InsecureSkipVerify opts in to accepting self-signed Tracker
	// certificates. Off by default; the base spec's "accepted by design"
	// becomes an explicit opt-in here (§4.2, Design Notes risk note).
	InsecureSkipVerify bool

	// LocalZoneOffsetHours is added to lastSyncAt (UTC) when formatting the
	// pull-phase JQL clause (§4.5 pull step 1): with -5, 12:00 UTC is
	// written as 07:00.
	LocalZoneOffsetHours int

	AutoMapUsers bool

	// Custom01..05 are the five recognized custom options (§6.1).
	Custom01SeverityCustomFieldID string
	Custom02UseSecurityLevel      bool
	Custom03HubToTrackerOnly      bool
	Custom04RequirementIssueTypes string
	Custom05IncidentLinkTypeName  string

	// PushWindowFilter and PersistAutoCreatedReleaseMappings resolve the
	// Design Notes' Open Questions (§9) as named toggles rather than
	// hard-coded behavior. Only PushWindowFilter is consulted by the engine;
	// PersistAutoCreatedReleaseMappings is carried here but has no effect,
	// and the mapping of a Hub release auto-created during the pull phase
	// is never persisted.
	PushWindowFilter                  PushWindowFilter
	PersistAutoCreatedReleaseMappings bool

	// OnlyCreateNewItemsInTracker gates the pull phase per §4.5 pull step
	// 4: when true, Tracker issues with no existing Hub mapping are
	// skipped rather than creating a new Hub artifact.
	OnlyCreateNewItemsInTracker bool

	// SyncFlagPropertyName and TrackerProjectKeyPropertyName name the two
	// Hub-specific gating custom properties §4.5 push step 2 reads by
	// catalog Name (the base spec describes their behavior but not how an
	// implementation locates them; naming them as configuration follows
	// the same approach as the Design Notes' Open Questions rather than
	// hard-coding a catalog slot number).
	SyncFlagPropertyName          string
	TrackerProjectKeyPropertyName string
}

// PushWindowFilter selects how the push phase pages Hub incidents (§9 first
// Open Question).
type PushWindowFilter string

const (
	// PushWindowAll pages every Hub incident sorted by name, relying
	// entirely on the mapping-store idempotency check to skip
	// already-synced incidents. This is the base spec's observed
	// behavior.
	PushWindowAll PushWindowFilter = "all"
	// PushWindowSinceLastSync restricts the page filter to incidents
	// updated at or after lastSyncAt, the behavior the source's
	// commented-out code anticipated.
	PushWindowSinceLastSync PushWindowFilter = "since_last_sync"
)

// RequirementIssueTypeIDs parses Custom04RequirementIssueTypes's
// comma-separated list of Tracker issue-type ids into a lookup set.
func (c EngineConfig) RequirementIssueTypeIDs() map[string]bool {
	set := make(map[string]bool)
	for _, raw := range strings.Split(c.Custom04RequirementIssueTypes, ",") {
		id := strings.TrimSpace(raw)
		if id != "" {
			set[id] = true
		}
	}
	return set
}

// SeverityCustomFieldID returns the configured Tracker custom-field id and
// whether severity mirroring is enabled at all (§6.1 custom01).
func (c EngineConfig) SeverityCustomFieldID() (id string, enabled bool) {
	id = strings.TrimSpace(c.Custom01SeverityCustomFieldID)
	return id, id != ""
}

// ConsoleEnv is the operator console's own environment-derived
// configuration: godotenv first, then os.Getenv with defaults.
type ConsoleEnv struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
}

// LoadConsoleEnv loads a .env file if present (silently ignored if missing)
// and reads the console's environment variables.
func LoadConsoleEnv() ConsoleEnv {
	_ = godotenv.Load()

	return ConsoleEnv{
		Port:        getEnvDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   getEnvDefault("JWT_SECRET", "change-me-in-production"),
	}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ParseBoolOption mirrors the engine's case-insensitive "true" parsing of
// custom02/custom03 (§6.1).
func ParseBoolOption(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}

// ParseIntOption parses a decimal custom option, returning 0 on a blank or
// unparsable value rather than erroring — custom options are always
// optional.
func ParseIntOption(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}
