package jiraclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
)

// OptionRef is a pending single-select value: pass 1 (the artifact
// transformer) knows only the option's display name, not its Tracker id.
// Pass 2 (ReconcileCreatePayload) resolves it against create-metadata
// (§4.4 step 5).
type OptionRef struct {
	Name string
}

// MultiOptionRef is the multi-select counterpart of OptionRef.
type MultiOptionRef struct {
	Names []string
}

// FieldTree is the output of pass 1 of the outbound field projection
// (§4.4, Design Notes "project then reconcile"): a flat map from Tracker
// field key to either a plain JSON-able value or an OptionRef/
// MultiOptionRef pending metadata resolution. Standard holds the fields
// every create payload needs (project, issuetype, summary, ...); Custom
// holds "customfield_NNNNN" keys.
type FieldTree struct {
	Standard map[string]interface{}
	Custom   map[string]interface{}
}

// NewFieldTree returns an empty FieldTree ready for the artifact
// transformer to populate.
func NewFieldTree() FieldTree {
	return FieldTree{Standard: map[string]interface{}{}, Custom: map[string]interface{}{}}
}

// ReconcileCreatePayload is pass 2 of the outbound field projection
// (§4.4 steps 1-5):
//
//  1. locate the (projectKey, issueTypeID) metadata node; if it is
//     missing entirely, validation is skipped and the tree is marshaled
//     as-is (a tracker with no create-metadata for this issue type can't
//     be validated against, so the engine trusts the caller).
//  2. every standard (non-customfield_) field the node marks required
//     must be present in the tree, or the request fails with an
//     *errs.MissingRequired (which unwraps to errs.ErrValidationFault); a
//     required customfield_ is
//     never enforced here, since the artifact transformer already warns
//     and leaves a field null on a mapping miss rather than failing the
//     whole create.
//  3. every tree field not named in the node is dropped silently.
//  4. custom fields are included only when the node's field list
//     mentions that customfield_ key.
//  5. OptionRef/MultiOptionRef values are resolved to Tracker option ids
//     via the node's allowedValues; a name with no matching option is
//     dropped rather than failing the whole request.
func ReconcileCreatePayload(tree FieldTree, projectKey, issueTypeID string, md *CreateMetadata) (json.RawMessage, error) {
	node, ok := md.IssueTypeNode(projectKey, issueTypeID)
	if !ok {
		return marshalFieldsUnvalidated(tree)
	}

	fields := map[string]interface{}{
		"project":   map[string]string{"key": projectKey},
		"issuetype": map[string]string{"id": issueTypeID},
	}

	var missing []string
	for key, meta := range node.Fields {
		if !meta.Required {
			continue
		}
		if key == "project" || key == "issuetype" {
			continue
		}
		if strings.HasPrefix(key, "customfield_") {
			continue
		}
		if _, ok := tree.Standard[key]; ok {
			continue
		}
		if _, ok := tree.Custom[key]; ok {
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) > 0 {
		return nil, &errs.MissingRequired{
			FieldName:   strings.Join(missing, ","),
			ProjectKey:  projectKey,
			IssueTypeID: issueTypeID,
		}
	}

	for key, value := range tree.Standard {
		if key == "project" || key == "issuetype" {
			continue // already set above, not subject to metadata gating
		}
		if !node.HasField(key) {
			continue
		}
		resolved, ok := resolveOption(node, key, value)
		if !ok {
			continue
		}
		fields[key] = resolved
	}
	for key, value := range tree.Custom {
		if !node.HasField(key) {
			continue
		}
		resolved, ok := resolveOption(node, key, value)
		if !ok {
			continue
		}
		fields[key] = resolved
	}

	return json.Marshal(map[string]interface{}{"fields": fields})
}

func resolveOption(node IssueTypeMeta, key string, value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case OptionRef:
		id, ok := node.OptionIDByName(key, v.Name)
		if !ok {
			return nil, false
		}
		return map[string]string{"id": id}, true
	case MultiOptionRef:
		var out []map[string]string
		for _, name := range v.Names {
			if id, ok := node.OptionIDByName(key, name); ok {
				out = append(out, map[string]string{"id": id})
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return value, true
	}
}

// marshalFieldsUnvalidated serializes the tree without a metadata node to
// reconcile against, translating OptionRef/MultiOptionRef to their
// name-based REST shape since no id lookup table is available.
func marshalFieldsUnvalidated(tree FieldTree) (json.RawMessage, error) {
	fields := map[string]interface{}{}
	for k, v := range tree.Standard {
		fields[k] = unresolvedOptionShape(v)
	}
	for k, v := range tree.Custom {
		fields[k] = unresolvedOptionShape(v)
	}
	return json.Marshal(map[string]interface{}{"fields": fields})
}

func unresolvedOptionShape(value interface{}) interface{} {
	switch v := value.(type) {
	case OptionRef:
		return map[string]string{"name": v.Name}
	case MultiOptionRef:
		out := make([]map[string]string, 0, len(v.Names))
		for _, name := range v.Names {
			out = append(out, map[string]string{"name": name})
		}
		return out
	default:
		return value
	}
}

// CreateIssue runs the two-pass create (§4.4 steps 1-5) and returns the
// new issue's key.
func (c *Client) CreateIssue(ctx context.Context, tree FieldTree, projectKey, issueTypeID string, md *CreateMetadata) (string, error) {
	body, err := ReconcileCreatePayload(tree, projectKey, issueTypeID, md)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/rest/api/2/issue", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrValidationFault, err)
	}
	return resp.Key, nil
}
