package jiraclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

type issueDTO struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type refDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type personDTO struct {
	Name string `json:"name"`
}

type versionFieldDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Archived    bool   `json:"archived"`
	Released    bool   `json:"released"`
	ReleaseDate string `json:"releaseDate"`
}

type componentFieldDTO struct {
	Name string `json:"name"`
}

type commentsDTO struct {
	Comments []struct {
		Author struct {
			Name string `json:"name"`
		} `json:"author"`
		UpdateAuthor struct {
			Name string `json:"name"`
		} `json:"updateAuthor"`
		Body    string `json:"body"`
		Created string `json:"created"`
	} `json:"comments"`
}

type attachmentFieldDTO struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// GetIssueByKey fetches one issue and reconstructs it into a
// model.TrackerIssue, including dynamic custom-field reconstruction
// (§4.4.1 "reconstruction by shape"). Tracker's create-metadata describes
// a field's type only at creation time; fetched issues carry no such tag,
// so the client infers the TypedValue branch from the JSON shape actually
// returned:
//
//   - array of objects each carrying "id"  -> MultiList, names resolved
//     from the supplied metadata by id
//   - object with "id"                     -> List, name resolved from
//     metadata by id
//   - object with "name" (no "id")         -> User, login taken from name
//   - boolean | integer | float | string   -> the matching scalar
//   - string matching a date/date-time shape -> Date
//
// Null, missing, or unrecognized shapes leave that one custom field
// absent rather than failing the whole fetch (errs.ErrUnknownFieldShape is
// swallowed at the field level, per §7).
func (c *Client) GetIssueByKey(ctx context.Context, key string, md *CreateMetadata) (*model.TrackerIssue, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/rest/api/2/issue/"+key+"?expand=renderedFields", nil)
	if err != nil {
		return nil, err
	}
	var dto issueDTO
	if err := c.do(req, &dto); err != nil {
		return nil, err
	}

	issue := &model.TrackerIssue{Key: dto.Key, CustomFields: map[int]model.TypedValue{}}

	readString(dto.Fields, "summary", &issue.Summary)
	readString(dto.Fields, "description", &issue.Description)
	readString(dto.Fields, "environment", &issue.Environment)
	readTime(dto.Fields, "created", &issue.Created)
	readTime(dto.Fields, "updated", &issue.Updated)
	issue.DueDate = readOptionalTime(dto.Fields, "duedate")
	issue.ResolutionDate = readOptionalTime(dto.Fields, "resolutiondate")

	if raw, ok := dto.Fields["project"]; ok {
		var p refDTO
		json.Unmarshal(raw, &p)
		issue.ProjectKey = p.Name
		if issue.ProjectKey == "" {
			issue.ProjectKey = p.ID
		}
	}
	if raw, ok := dto.Fields["issuetype"]; ok {
		var r refDTO
		json.Unmarshal(raw, &r)
		issue.IssueType = model.Ref{ID: r.ID, Name: r.Name}
	}
	if raw, ok := dto.Fields["status"]; ok {
		var r refDTO
		json.Unmarshal(raw, &r)
		issue.Status = model.Ref{ID: r.ID, Name: r.Name}
	}
	if raw, ok := dto.Fields["priority"]; ok {
		var r refDTO
		json.Unmarshal(raw, &r)
		issue.Priority = model.Ref{ID: r.ID, Name: r.Name}
	}
	if raw, ok := dto.Fields["resolution"]; ok && string(raw) != "null" {
		var r refDTO
		json.Unmarshal(raw, &r)
		issue.Resolution = model.Ref{ID: r.ID, Name: r.Name}
	}
	if raw, ok := dto.Fields["reporter"]; ok {
		var p personDTO
		json.Unmarshal(raw, &p)
		issue.Reporter = p.Name
	}
	if raw, ok := dto.Fields["assignee"]; ok && string(raw) != "null" {
		var p personDTO
		json.Unmarshal(raw, &p)
		issue.Assignee = p.Name
	}
	if raw, ok := dto.Fields["security"]; ok && string(raw) != "null" {
		var r refDTO
		json.Unmarshal(raw, &r)
		issue.SecurityLevelID = r.ID
	}

	if raw, ok := dto.Fields["versions"]; ok {
		issue.Versions = decodeVersions(raw)
	}
	if raw, ok := dto.Fields["fixVersions"]; ok {
		issue.FixVersions = decodeVersions(raw)
	}
	if raw, ok := dto.Fields["components"]; ok {
		var comps []componentFieldDTO
		json.Unmarshal(raw, &comps)
		for _, comp := range comps {
			issue.Components = append(issue.Components, comp.Name)
		}
	}
	if raw, ok := dto.Fields["comment"]; ok {
		var c commentsDTO
		json.Unmarshal(raw, &c)
		for _, com := range c.Comments {
			author := com.Author.Name
			if author == "" {
				author = com.UpdateAuthor.Name
			}
			created, _ := time.Parse(time.RFC3339, com.Created)
			issue.Comments = append(issue.Comments, model.Comment{
				AuthorLogin: author,
				Body:        com.Body,
				Created:     created.UTC(),
			})
		}
	}
	if raw, ok := dto.Fields["attachment"]; ok {
		var atts []attachmentFieldDTO
		json.Unmarshal(raw, &atts)
		for _, a := range atts {
			issue.Attachments = append(issue.Attachments, model.Attachment{Filename: a.Filename, URL: a.Content})
		}
	}

	for fieldKey, raw := range dto.Fields {
		slot, isCustom := customFieldSlot(fieldKey)
		if !isCustom {
			continue
		}
		node, _ := md.IssueTypeNode(issue.ProjectKey, issue.IssueType.ID)
		tv, err := reconstructTypedValue(raw, node, fieldKey)
		if err != nil {
			continue // leave this one field absent, per field-level isolation
		}
		if tv.IsZero() {
			continue
		}
		issue.CustomFields[slot] = tv
	}

	return issue, nil
}

func readString(fields map[string]json.RawMessage, key string, dest *string) {
	if raw, ok := fields[key]; ok {
		json.Unmarshal(raw, dest)
	}
}

func readTime(fields map[string]json.RawMessage, key string, dest *time.Time) {
	if t := readOptionalTime(fields, key); t != nil {
		*dest = *t
	}
}

func readOptionalTime(fields map[string]json.RawMessage, key string) *time.Time {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil || s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}

func decodeVersions(raw json.RawMessage) []model.Release {
	var dtos []versionFieldDTO
	json.Unmarshal(raw, &dtos)
	out := make([]model.Release, 0, len(dtos))
	for _, d := range dtos {
		r := model.Release{ExternalKey: d.ID, Name: d.Name, Archived: d.Archived, Released: d.Released}
		if d.ReleaseDate != "" {
			if t, err := time.Parse("2006-01-02", d.ReleaseDate); err == nil {
				r.EndDate = t
			}
		}
		out = append(out, r)
	}
	return out
}

func customFieldSlot(fieldKey string) (int, bool) {
	const prefix = "customfield_"
	if len(fieldKey) <= len(prefix) || fieldKey[:len(prefix)] != prefix {
		return 0, false
	}
	slot, err := strconv.Atoi(fieldKey[len(prefix):])
	if err != nil {
		return 0, false
	}
	return slot, true
}

// reconstructTypedValue classifies one customfield_* JSON value by shape
// (§4.4.1 "Inbound custom-field reconstruction"). node's allowedValues
// table resolves option ids back to display names for List/MultiList;
// when node is the zero value (no metadata for this issue type), option
// values fall back to their raw id string.
func reconstructTypedValue(raw json.RawMessage, node IssueTypeMeta, fieldKey string) (model.TypedValue, error) {
	trimmed := string(raw)
	if trimmed == "null" || trimmed == "" {
		return model.TypedValue{}, nil
	}

	var asObject struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &asObject) == nil && (asObject.ID != "" || asObject.Name != "") {
		if asObject.ID != "" {
			name, ok := node.OptionNameByID(fieldKey, asObject.ID)
			if !ok {
				name = asObject.Name
			}
			if name == "" {
				name = asObject.ID
			}
			return model.List(name), nil
		}
		return model.User(asObject.Name), nil
	}

	var asArray []json.RawMessage
	if json.Unmarshal(raw, &asArray) == nil {
		names := make([]string, 0, len(asArray))
		allTagged := len(asArray) > 0
		for _, item := range asArray {
			var opt struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(item, &opt) != nil || opt.ID == "" {
				allTagged = false
				continue
			}
			name, ok := node.OptionNameByID(fieldKey, opt.ID)
			if !ok {
				name = opt.ID
			}
			names = append(names, name)
		}
		if allTagged {
			return model.MultiList(names), nil
		}
	}

	var asBool bool
	if json.Unmarshal(raw, &asBool) == nil {
		return model.Boolean(asBool), nil
	}

	var asNumber json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&asNumber); err == nil {
		if i, err := asNumber.Int64(); err == nil {
			return model.Integer(int(i)), nil
		}
		if f, err := asNumber.Float64(); err == nil {
			return model.Decimal(f), nil
		}
	}

	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		if t, err := time.Parse(time.RFC3339, asString); err == nil {
			return model.Date(t), nil
		}
		if t, err := time.Parse("2006-01-02", asString); err == nil {
			return model.Date(t), nil
		}
		return model.Text(asString), nil
	}

	return model.TypedValue{}, fmt.Errorf("%w: %s", errs.ErrUnknownFieldShape, trimmed)
}
