package jiraclient

// AllowedValue is one entry in a select field's create-metadata
// allowedValues table (§4.4 step 5).
type AllowedValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// FieldMeta describes one field the Tracker exposes for a given
// (project, issue type) pair.
type FieldMeta struct {
	Required      bool           `json:"required"`
	Name          string         `json:"name"`
	AllowedValues []AllowedValue `json:"allowedValues,omitempty"`
}

// IssueTypeMeta is the create-metadata node for one issue type within a
// project: every field valid for creating that issue type, keyed by field
// key ("summary", "customfield_10010", ...).
type IssueTypeMeta struct {
	ID     string
	Name   string
	Fields map[string]FieldMeta
}

// ProjectMeta groups every issue type's metadata within one project.
type ProjectMeta struct {
	Key        string
	IssueTypes map[string]IssueTypeMeta // keyed by issue type id
}

// CreateMetadata is the Tracker's full create-metadata catalog (§4.2
// getCreateMetadata), grouped by project and issue type.
type CreateMetadata struct {
	Projects map[string]ProjectMeta // keyed by project key
}

// IssueTypeNode locates the (projectKey, issueTypeID) metadata node per
// §4.4 step 1. ok is false when no such node exists, in which case callers
// skip validation entirely rather than failing.
func (m *CreateMetadata) IssueTypeNode(projectKey, issueTypeID string) (IssueTypeMeta, bool) {
	if m == nil {
		return IssueTypeMeta{}, false
	}
	proj, ok := m.Projects[projectKey]
	if !ok {
		return IssueTypeMeta{}, false
	}
	node, ok := proj.IssueTypes[issueTypeID]
	return node, ok
}

// HasField reports whether node declares fieldKey at all, used by the
// validator's "drop every field not listed in the metadata" rule (§4.4
// step 3) and the custom-field gating rule (§4.4 step 4).
func (n IssueTypeMeta) HasField(fieldKey string) bool {
	_, ok := n.Fields[fieldKey]
	return ok
}

// OptionIDByName looks up an allowedValues entry by display name, for the
// outbound name→id translation (§4.4 step 5, and the pushed single/multi
// list branches of §4.4.2).
func (n IssueTypeMeta) OptionIDByName(fieldKey, name string) (string, bool) {
	field, ok := n.Fields[fieldKey]
	if !ok {
		return "", false
	}
	for _, v := range field.AllowedValues {
		if v.Value == name {
			return v.ID, true
		}
	}
	return "", false
}

// OptionNameByID looks up an allowedValues entry by id, for the inbound
// id→name translation (§4.4.1 single/multi-list branches, and the
// reconstruction-by-shape rule for customfield_* arrays/objects with "id").
func (n IssueTypeMeta) OptionNameByID(fieldKey, id string) (string, bool) {
	field, ok := n.Fields[fieldKey]
	if !ok {
		return "", false
	}
	for _, v := range field.AllowedValues {
		if v.ID == id {
			return v.Value, true
		}
	}
	return "", false
}
