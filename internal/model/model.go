// Package model holds the shared data types that flow between the Hub and
// Tracker sides of the reconciliation engine: artifacts, issues, mappings,
// releases and comments.
package model

import "time"

// Scope identifies which identity space a Mapping belongs to.
type Scope string

const (
	ScopeProject            Scope = "project"
	ScopeUser               Scope = "user"
	ScopeIncident           Scope = "artifact.incident"
	ScopeRequirement        Scope = "artifact.requirement"
	ScopeRelease            Scope = "artifact.release"
	ScopeCustomProperty     Scope = "custom_property"
	ScopeCustomPropertyValue Scope = "custom_property_value"
)

// ProjectPair links one Hub project to one Tracker project. It is created
// administratively and never mutated by the engine.
type ProjectPair struct {
	HubProjectID      int
	TrackerProjectKey string
}

// Mapping is a persisted link between a Hub-side internal numeric identifier
// and a Tracker-side external key, within a Scope and (for project-scoped
// entities) a Hub project.
type Mapping struct {
	Scope        Scope
	HubProjectID int // zero when the scope is not project-bound
	InternalID   int
	ExternalKey  string
	Primary      bool
}

// Comment is equal to another Comment, for de-duplication purposes, solely
// based on Body.
type Comment struct {
	AuthorLogin string
	Body        string
	Created     time.Time
}

// SameBody reports whether two comments have the same body text, the sole
// criterion the engine uses for de-duplication (§3 Comment invariant).
func (c Comment) SameBody(other Comment) bool { return c.Body == other.Body }

// Attachment is a file attachment carried on either side; URL attachments
// have Bytes nil and a non-empty URL.
type Attachment struct {
	Filename string
	Bytes    []byte
	URL      string
}

// Release models a Hub release / Tracker version pair. Only one of ID
// (Hub-side) or ExternalKey (Tracker-side) is meaningful depending on which
// side created the record first.
type Release struct {
	ID            int
	ExternalKey   string
	Name          string
	VersionNumber string // truncated to at most 10 characters before being written to the Hub
	Active        bool
	StartDate     time.Time
	EndDate       time.Time
	Released      bool
	Archived      bool
}

// HubArtifact is the common shape shared by Hub incidents and requirements.
// ArtifactKind distinguishes which Hub artifact type this value represents.
type ArtifactKind string

const (
	ArtifactIncident    ArtifactKind = "incident"
	ArtifactRequirement ArtifactKind = "requirement"
)

// HubArtifact is a Hub-side incident or requirement.
type HubArtifact struct {
	Kind        ArtifactKind
	ID          int
	ProjectID   int
	Name        string
	Description string // HTML
	StatusID    int
	TypeID      int // bug type id for incidents, requirement type id for requirements
	PriorityID  int // priority (incident) or importance (requirement)
	SeverityID  int // incidents only; 0 when unset

	OpenerOrAuthorID int
	OwnerID          int // 0 when unset

	CreationDate       time.Time
	StartOrDueDate     *time.Time
	ClosedOrResolvedDate *time.Time

	DetectedReleaseID int // 0 when unset
	ResolvedReleaseID int // 0 when unset
	ComponentIDs      []int

	// CustomProperties is keyed by Hub custom-property slot number, 1..30.
	CustomProperties map[int]TypedValue

	Comments    []Comment
	Attachments []Attachment
}

// Ref is one of Tracker's {id,name} reference pairs (issue type, status,
// priority, resolution).
type Ref struct {
	ID   string
	Name string
}

// TrackerIssue is the Tracker-side issue record.
type TrackerIssue struct {
	Key         string
	ProjectKey  string
	IssueType   Ref
	Status      Ref
	Priority    Ref
	Resolution  Ref
	Reporter    string // login
	Assignee    string // login, empty when unassigned

	Summary     string
	Description string // plain text
	Environment string

	Created        time.Time
	Updated        time.Time
	DueDate        *time.Time
	ResolutionDate *time.Time

	Versions    []Release
	FixVersions []Release
	Components  []string // names

	Attachments []Attachment
	Comments    []Comment

	// CustomFields is keyed by the numeric Tracker custom-field id (the
	// suffix of "customfield_NNNNN").
	CustomFields map[int]TypedValue

	SecurityLevelID string
}

// LastSyncHorizon is the fallback horizon the engine uses when the host
// supplies no lastSyncAt (§3 LastSyncAt).
var LastSyncHorizon = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// Sentinel names the five reserved Tracker-field sentinels recognized by
// external key string on Hub custom-property mappings (§4.4).
type Sentinel string

const (
	SentinelNone          Sentinel = ""
	SentinelEnvironment   Sentinel = "Environment"
	SentinelComponent     Sentinel = "Component"
	SentinelResolution    Sentinel = "Resolution"
	SentinelSecurityLevel Sentinel = "SecurityLevel"
	SentinelJiraIssueKey  Sentinel = "JiraIssueKey"
)

// CustomPropertyDef is one entry in the Hub's custom-property catalog: a
// closed, typed schema of slots 1..30 per artifact (§4.4). ExternalKey
// either names one of the five Sentinels or a literal Tracker
// "customfield_NNNNN" id.
type CustomPropertyDef struct {
	Slot        int
	Name        string
	ValueType   ValueKind
	ExternalKey string
	Sentinel    Sentinel // SentinelNone when ExternalKey is a plain custom-field id
}

// CustomFieldID returns the numeric Tracker custom-field id encoded in
// ExternalKey, and whether ExternalKey was in fact a plain custom-field id
// (as opposed to a sentinel).
func (d CustomPropertyDef) CustomFieldID() (id int, ok bool) {
	if d.Sentinel != SentinelNone {
		return 0, false
	}
	const prefix = "customfield_"
	if len(d.ExternalKey) <= len(prefix) || d.ExternalKey[:len(prefix)] != prefix {
		return 0, false
	}
	n := 0
	for _, ch := range d.ExternalKey[len(prefix):] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}
