// Package mapping implements the Mapping Resolver (§4.1): the translation
// layer between Hub internal numeric identifiers and Tracker external
// keys. Store is the persistence seam (Mapping Store Access, §4.1.1); two
// implementations are provided under memstore and pgstore, selected by the
// host depending on whether a database URL is configured.
package mapping

import "github.com/jlmwin/spira5-jira-datasync-master/internal/model"

// Store is the minimal persistence contract the Resolver needs. Lookups by
// external key return entries in storage iteration order, so the first
// implementation is free to define that order as insertion order.
type Store interface {
	// FindByInternalID returns the first mapping matching scope (and
	// hubProjectID, when scope is project-bound) with InternalID ==
	// internalID, or ok=false when none exists.
	FindByInternalID(scope model.Scope, hubProjectID, internalID int) (m model.Mapping, ok bool)

	// FindByExternalKey returns the first mapping matching scope (and
	// hubProjectID, when scope is project-bound) with ExternalKey ==
	// externalKey. When onlyPrimary is true, non-primary entries are
	// excluded from the scan entirely (§4.1 ordering and tie-breaks).
	FindByExternalKey(scope model.Scope, hubProjectID int, externalKey string, onlyPrimary bool) (m model.Mapping, ok bool)

	// Insert appends mappings to the store. Mappings are append-only
	// within a cycle (§3 Mapping invariant c).
	Insert(mappings []model.Mapping) error
}

// isProjectScoped reports whether scope carries a hubProjectID dimension.
// Scope User is not project-bound: users are shared across every project
// pair tied to the same Hub/Tracker instance.
func isProjectScoped(scope model.Scope) bool {
	return scope != model.ScopeUser
}
