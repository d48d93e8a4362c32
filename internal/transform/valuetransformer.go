// Package transform is the Value Transformer (VT) and Artifact
// Transformer (AT): per-field coercion between Hub TypedValues and
// Tracker JSON-shaped values, and the two full artifact-direction
// builders that drive them. VT is a pure value-mapping table consulted by
// the reconciliation loop, not an HTTP handler; AT does the
// field-by-field reconciliation between the two artifact shapes.
package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// enumKey builds the externalKey convention used for
// model.ScopeCustomPropertyValue mappings: one Hub custom-property slot
// can reuse option identifiers another slot also uses ("Open"/"Closed"
// appear under many fields), so the slot number disambiguates the
// mapping-store lookup.
func enumKey(slot int, optionIdentifier string) string {
	return strconv.Itoa(slot) + ":" + optionIdentifier
}

// ValueTransformer implements §4.4's per-value branch tables. It holds no
// mutable state of its own; every call is parameterized by the artifact's
// Hub project id so the same instance serves every project pair in a run.
type ValueTransformer struct {
	resolver *mapping.Resolver
	log      *eventlog.Logger
}

// NewValueTransformer constructs a VT bound to the given mapping resolver
// (for enum/user/component lookups) and event log (for §7 warnings).
func NewValueTransformer(resolver *mapping.Resolver, log *eventlog.Logger) *ValueTransformer {
	return &ValueTransformer{resolver: resolver, log: log}
}

// PullCustomProperty implements §4.4.1: given one Hub custom-property
// definition, compute the HubArtifact.CustomProperties value (if any) it
// should receive from the fetched Tracker issue. ok is false when the
// branch legitimately produces no value (sentinel not applicable,
// mapping missing, or the source field is absent) — callers leave the
// slot unset rather than writing a zero TypedValue.
func (vt *ValueTransformer) PullCustomProperty(hubProjectID int, def model.CustomPropertyDef, issue *model.TrackerIssue) (model.TypedValue, bool) {
	switch def.ValueType {
	case model.KindList:
		return vt.pullList(hubProjectID, def, issue)
	case model.KindMultiList:
		return vt.pullMultiList(hubProjectID, def, issue)
	case model.KindUser:
		return vt.pullUser(def, issue)
	default:
		return vt.pullScalar(hubProjectID, def, issue)
	}
}

func (vt *ValueTransformer) pullList(hubProjectID int, def model.CustomPropertyDef, issue *model.TrackerIssue) (model.TypedValue, bool) {
	switch def.Sentinel {
	case model.SentinelResolution:
		if issue.Resolution.Name == "" {
			return model.TypedValue{}, false
		}
		hubOptionID, ok := vt.lookupEnum(hubProjectID, def.Slot, issue.Resolution.Name)
		if !ok {
			vt.log.Warn("pull.custom_property.mapping_missing", map[string]interface{}{
				"slot": def.Slot, "sentinel": "Resolution", "trackerValue": issue.Resolution.Name,
			})
			return model.TypedValue{}, false
		}
		return model.List(hubOptionID), true

	case model.SentinelSecurityLevel:
		return model.TypedValue{}, false // ignored inbound, §4.4.1

	default:
		fieldID, ok := def.CustomFieldID()
		if !ok {
			return model.TypedValue{}, false
		}
		tv, ok := issue.CustomFields[fieldID]
		if !ok || tv.Kind != model.KindList {
			return model.TypedValue{}, false
		}
		hubOptionID, ok := vt.lookupEnum(hubProjectID, def.Slot, tv.List)
		if !ok {
			vt.log.Warn("pull.custom_property.mapping_missing", map[string]interface{}{
				"slot": def.Slot, "trackerFieldID": fieldID, "trackerValue": tv.List,
			})
			return model.TypedValue{}, false
		}
		return model.List(hubOptionID), true
	}
}

func (vt *ValueTransformer) pullMultiList(hubProjectID int, def model.CustomPropertyDef, issue *model.TrackerIssue) (model.TypedValue, bool) {
	if def.Sentinel == model.SentinelComponent {
		if len(issue.Components) == 0 {
			return model.TypedValue{}, false
		}
		var mapped []string
		for _, name := range issue.Components {
			id, ok := vt.lookupEnum(hubProjectID, def.Slot, name)
			if !ok {
				vt.log.Warn("pull.component.mapping_missing", map[string]interface{}{"name": name})
				continue
			}
			mapped = append(mapped, id)
		}
		if len(mapped) == 0 {
			return model.TypedValue{}, false
		}
		return model.MultiList(mapped), true
	}

	fieldID, ok := def.CustomFieldID()
	if !ok {
		return model.TypedValue{}, false
	}
	tv, ok := issue.CustomFields[fieldID]
	if !ok || tv.Kind != model.KindMultiList {
		return model.TypedValue{}, false
	}
	var mapped []string
	for _, name := range tv.MultiList {
		id, ok := vt.lookupEnum(hubProjectID, def.Slot, name)
		if !ok {
			vt.log.Warn("pull.custom_property.mapping_missing", map[string]interface{}{
				"slot": def.Slot, "trackerFieldID": fieldID, "trackerValue": name,
			})
			continue
		}
		mapped = append(mapped, id)
	}
	if len(mapped) == 0 {
		return model.TypedValue{}, false
	}
	return model.MultiList(mapped), true
}

func (vt *ValueTransformer) pullUser(def model.CustomPropertyDef, issue *model.TrackerIssue) (model.TypedValue, bool) {
	fieldID, ok := def.CustomFieldID()
	if !ok {
		return model.TypedValue{}, false
	}
	tv, ok := issue.CustomFields[fieldID]
	if !ok || tv.Kind != model.KindUser || tv.User == "" {
		return model.TypedValue{}, false
	}
	m, ok := vt.resolver.FindUserByExternalKey(tv.User)
	if !ok {
		vt.log.Warn("pull.custom_property.user_mapping_missing", map[string]interface{}{"login": tv.User})
		return model.TypedValue{}, false
	}
	return model.User(strconv.Itoa(m.InternalID)), true
}

func (vt *ValueTransformer) pullScalar(hubProjectID int, def model.CustomPropertyDef, issue *model.TrackerIssue) (model.TypedValue, bool) {
	switch def.Sentinel {
	case model.SentinelEnvironment:
		if issue.Environment == "" {
			return model.TypedValue{}, false
		}
		return model.Text(issue.Environment), true

	case model.SentinelJiraIssueKey:
		if issue.Key == "" {
			return model.TypedValue{}, false
		}
		return model.Text(issue.Key), true

	case model.SentinelSecurityLevel:
		return model.TypedValue{}, false

	default:
		fieldID, ok := def.CustomFieldID()
		if !ok {
			return model.TypedValue{}, false
		}
		tv, ok := issue.CustomFields[fieldID]
		if !ok {
			return model.TypedValue{}, false
		}
		return coerceScalar(tv, def.ValueType, vt.log)
	}
}

// coerceScalar implements §4.4.1's scalar coercion table: direct copy for
// matching kinds, text parsed into the declared Hub type, anything else
// copied as a string.
func coerceScalar(tv model.TypedValue, want model.ValueKind, log *eventlog.Logger) (model.TypedValue, bool) {
	if tv.Kind == want {
		return tv, true
	}
	if tv.Kind == model.KindText {
		switch want {
		case model.KindBoolean:
			if b, err := strconv.ParseBool(tv.Text); err == nil {
				return model.Boolean(b), true
			}
		case model.KindInteger:
			if i, err := strconv.Atoi(strings.TrimSpace(tv.Text)); err == nil {
				return model.Integer(i), true
			}
		case model.KindDecimal:
			if f, err := strconv.ParseFloat(strings.TrimSpace(tv.Text), 64); err == nil {
				return model.Decimal(f), true
			}
		case model.KindDate:
			for _, layout := range []string{time.RFC3339, "2006-01-02"} {
				if t, err := time.Parse(layout, tv.Text); err == nil {
					return model.Date(t.UTC()), true
				}
			}
		}
	}
	switch tv.Kind {
	case model.KindBoolean, model.KindDate, model.KindDecimal, model.KindInteger, model.KindText:
		return model.Text(scalarToString(tv)), true
	default:
		log.Warn("pull.custom_property.unknown_scalar_shape", map[string]interface{}{"kind": string(tv.Kind)})
		return model.TypedValue{}, false
	}
}

func scalarToString(tv model.TypedValue) string {
	switch tv.Kind {
	case model.KindBoolean:
		return strconv.FormatBool(tv.Boolean)
	case model.KindDate:
		return tv.Date.UTC().Format(time.RFC3339)
	case model.KindDecimal:
		return strconv.FormatFloat(tv.Decimal, 'f', -1, 64)
	case model.KindInteger:
		return strconv.Itoa(tv.Integer)
	default:
		return tv.Text
	}
}

func (vt *ValueTransformer) lookupEnum(hubProjectID, slot int, trackerIdentifier string) (string, bool) {
	m, ok := vt.resolver.FindByExternalKey(model.ScopeCustomPropertyValue, hubProjectID, enumKey(slot, trackerIdentifier), false)
	if !ok {
		return "", false
	}
	return strconv.Itoa(decodeOptionSlotKey(slot, m.InternalID)), true
}

func (vt *ValueTransformer) lookupEnumByHubID(hubProjectID, slot, hubOptionID int) (string, bool) {
	m, ok := vt.resolver.FindByInternalID(model.ScopeCustomPropertyValue, hubProjectID, optionSlotKey(slot, hubOptionID))
	if !ok {
		return "", false
	}
	return decodeEnumKey(m.ExternalKey), true
}

// optionSlotKey folds the slot into the internal id namespace for
// both directions of an enum mapping (Hub option id <-> Tracker option
// name), since Hub option ids are only unique within one custom
// property and FindByInternalID/FindByExternalKey do not take the slot
// as a separate dimension.
func optionSlotKey(slot, hubOptionID int) int {
	return slot*1_000_000 + hubOptionID
}

func decodeOptionSlotKey(slot, encoded int) int {
	return encoded - slot*1_000_000
}

func decodeEnumKey(externalKey string) string {
	if idx := strings.IndexByte(externalKey, ':'); idx >= 0 {
		return externalKey[idx+1:]
	}
	return externalKey
}

// PushCustomProperty implements §4.4.2: given one Hub custom property's
// value, mutate tree to carry it toward the Tracker, or leave tree
// unchanged when no branch applies (e.g. a mapping miss); metadata is not
// consulted here. componentsAlreadySet reports whether the artifact's
// standard components list (model.HubArtifact.ComponentIDs) already
// produced a non-empty tree.Standard["components"], since §4.4.2's
// Component sentinel only fires "unless already set via the new standard
// components list".
func (vt *ValueTransformer) PushCustomProperty(hubProjectID int, def model.CustomPropertyDef, value model.TypedValue, tree jiraclient.FieldTree, componentsAlreadySet bool) {
	switch value.Kind {
	case model.KindList:
		vt.pushList(hubProjectID, def, value, tree, componentsAlreadySet)
	case model.KindMultiList:
		vt.pushMultiList(hubProjectID, def, value, tree)
	case model.KindUser:
		if value.User != "" {
			m, ok := vt.resolver.FindUserByInternalID(atoiSafe(value.User))
			if ok {
				tree.Custom[customFieldKey(def)] = map[string]string{"name": m.ExternalKey}
			}
		}
	default:
		if def.Sentinel != model.SentinelNone {
			return // sentinels are only meaningful for List/MultiList per §4.4.2
		}
		tree.Custom[customFieldKey(def)] = value
	}
}

func (vt *ValueTransformer) pushList(hubProjectID int, def model.CustomPropertyDef, value model.TypedValue, tree jiraclient.FieldTree, componentsAlreadySet bool) {
	switch def.Sentinel {
	case model.SentinelComponent:
		if componentsAlreadySet {
			return
		}
		hubOptionID := atoiSafe(value.List)
		name, ok := vt.lookupEnumByHubID(hubProjectID, def.Slot, hubOptionID)
		if !ok {
			return
		}
		tree.Standard["components"] = appendComponent(tree.Standard["components"], name)

	case model.SentinelResolution:
		hubOptionID := atoiSafe(value.List)
		name, ok := vt.lookupEnumByHubID(hubProjectID, def.Slot, hubOptionID)
		if !ok {
			return
		}
		tree.Standard["resolution"] = jiraclient.OptionRef{Name: name}

	case model.SentinelSecurityLevel:
		if id, err := strconv.Atoi(value.List); err == nil {
			tree.Standard["security"] = map[string]string{"id": strconv.Itoa(id)}
		}

	default:
		name, ok := vt.lookupEnumByHubID(hubProjectID, def.Slot, atoiSafe(value.List))
		if !ok {
			vt.log.Warn("push.custom_property.mapping_missing", map[string]interface{}{
				"slot": def.Slot, "hubOptionID": value.List,
			})
			return
		}
		tree.Custom[customFieldKey(def)] = jiraclient.OptionRef{Name: name}
	}
}

func (vt *ValueTransformer) pushMultiList(hubProjectID int, def model.CustomPropertyDef, value model.TypedValue, tree jiraclient.FieldTree) {
	if def.Sentinel == model.SentinelComponent {
		var names []string
		for _, optionID := range value.MultiList {
			name, ok := vt.lookupEnumByHubID(hubProjectID, def.Slot, atoiSafe(optionID))
			if ok {
				names = append(names, name)
			}
		}
		for _, n := range names {
			tree.Standard["components"] = appendComponent(tree.Standard["components"], n)
		}
		return
	}

	var names []string
	for _, hubOptionID := range value.MultiList {
		name, ok := vt.lookupEnumByHubID(hubProjectID, def.Slot, atoiSafe(hubOptionID))
		if !ok {
			vt.log.Warn("push.custom_property.mapping_missing", map[string]interface{}{
				"slot": def.Slot, "hubOptionID": hubOptionID,
			})
			continue
		}
		names = append(names, name)
	}
	tree.Custom[customFieldKey(def)] = jiraclient.MultiOptionRef{Names: names}
}

func customFieldKey(def model.CustomPropertyDef) string {
	if id, ok := def.CustomFieldID(); ok {
		return "customfield_" + strconv.Itoa(id)
	}
	return def.ExternalKey
}

func appendComponent(existing interface{}, name string) []map[string]string {
	list, _ := existing.([]map[string]string)
	return append(list, map[string]string{"name": name})
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
