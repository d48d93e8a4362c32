package hubclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// Client is the Hub Client (HC, §4.3): typed, session-aware wrappers over a
// Transport. Authenticate/ConnectProject must be called before any other
// operation; the Reconciliation Engine re-invokes both at every checkpoint
// (§4.5) to survive server-side session timeouts.
type Client struct {
	transport Transport
	user      string
	pass      string

	sessionToken     string
	connectedProject int
}

// New returns a Client that will authenticate against transport using user
// and pass.
func New(transport Transport, user, pass string) *Client {
	return &Client{transport: transport, user: user, pass: pass}
}

// Authenticate logs in and stores the resulting session token. Failure here
// is an ErrAuthFailure per §7: the caller should end the run.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.transport.Login(ctx, c.user, c.pass)
	if err != nil {
		return fmt.Errorf("hub login failed: %w", errAuthFailure(err))
	}
	c.sessionToken = token
	c.connectedProject = 0
	return nil
}

// ConnectProject scopes the session to projectID. Returns
// ErrProjectConnectFailure on failure per §7 (the caller skips that project
// pair and continues with others).
func (c *Client) ConnectProject(ctx context.Context, projectID int) error {
	if c.sessionToken == "" {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
	}
	if err := c.transport.ConnectProject(ctx, c.sessionToken, projectID); err != nil {
		return fmt.Errorf("hub project %d connect failed: %w", projectID, errProjectConnectFailure(err))
	}
	c.connectedProject = projectID
	return nil
}

// call wraps transport.Call, transparently re-authenticating and retrying
// once on a SessionExpiredError, matching §4.3 "the engine MUST
// re-authenticate and reconnect before each major phase" extended to
// mid-phase expiry.
func (c *Client) call(ctx context.Context, operation, args string, out interface{}) error {
	err := c.transport.Call(ctx, c.sessionToken, operation, args, out)
	var expired *SessionExpiredError
	if errors.As(err, &expired) {
		if authErr := c.Authenticate(ctx); authErr != nil {
			return authErr
		}
		if c.connectedProject != 0 {
			if connErr := c.ConnectProject(ctx, c.connectedProject); connErr != nil {
				return connErr
			}
		}
		return c.transport.Call(ctx, c.sessionToken, operation, args, out)
	}
	return err
}

// FindUserByID implements mapping.UserLookup.
func (c *Client) FindUserByID(id int) (string, bool, error) {
	var resp struct {
		Login string `xml:"Login"`
		Found bool   `xml:"Found"`
	}
	args := fmt.Sprintf(`<userId>%d</userId>`, id)
	if err := c.call(context.Background(), "GetUserById", args, &resp); err != nil {
		return "", false, err
	}
	return resp.Login, resp.Found, nil
}

// FindUserByLogin implements mapping.UserLookup.
func (c *Client) FindUserByLogin(login string) (int, bool, error) {
	var resp struct {
		UserID int  `xml:"UserId"`
		Found  bool `xml:"Found"`
	}
	args := fmt.Sprintf(`<login>%s</login>`, login)
	if err := c.call(context.Background(), "GetUserByLogin", args, &resp); err != nil {
		return 0, false, err
	}
	return resp.UserID, resp.Found, nil
}

// GetCustomPropertyCatalog fetches the Hub's custom-property catalog for
// projectID and artifact kind. Per §1 Non-goals, this is always fetched
// fresh (no schema discovery/caching on the Hub side).
func (c *Client) GetCustomPropertyCatalog(ctx context.Context, projectID int, kind model.ArtifactKind) ([]model.CustomPropertyDef, error) {
	var resp struct {
		Properties []hubCustomPropertyDef `xml:"Property"`
	}
	args := fmt.Sprintf(`<projectId>%d</projectId><artifactType>%s</artifactType>`, projectID, kind)
	if err := c.call(ctx, "GetCustomProperties", args, &resp); err != nil {
		return nil, err
	}

	defs := make([]model.CustomPropertyDef, 0, len(resp.Properties))
	for _, p := range resp.Properties {
		defs = append(defs, p.toModel())
	}
	return defs, nil
}

type hubCustomPropertyDef struct {
	Slot        int    `xml:"Slot"`
	Name        string `xml:"Name"`
	ValueType   string `xml:"ValueType"`
	ExternalKey string `xml:"ExternalKey"`
}

func (p hubCustomPropertyDef) toModel() model.CustomPropertyDef {
	d := model.CustomPropertyDef{
		Slot:        p.Slot,
		Name:        p.Name,
		ValueType:   model.ValueKind(p.ValueType),
		ExternalKey: p.ExternalKey,
	}
	switch model.Sentinel(p.ExternalKey) {
	case model.SentinelEnvironment, model.SentinelComponent, model.SentinelResolution, model.SentinelSecurityLevel, model.SentinelJiraIssueKey:
		d.Sentinel = model.Sentinel(p.ExternalKey)
	}
	return d
}

// ListIncidents pages through Hub incidents for projectID. sortByName
// matches the push phase's "empty filter set sorted by Name ascending"
// paging (§4.5 push step 1); when the pushWindowFilter configuration
// option is "since_last_sync" instead, callers pass a non-zero
// updatedSinceUnix filter and sortByName is ignored by the Hub side.
func (c *Client) ListIncidents(ctx context.Context, projectID, startRow, pageSize int, sortByName bool, updatedSinceUnix int64) ([]model.HubArtifact, error) {
	var resp struct {
		Incidents []hubIncidentDTO `xml:"Incident"`
	}
	args := fmt.Sprintf(`<projectId>%d</projectId><startRow>%d</startRow><pageSize>%d</pageSize><sortByName>%t</sortByName><updatedSince>%d</updatedSince>`,
		projectID, startRow, pageSize, sortByName, updatedSinceUnix)
	if err := c.call(ctx, "RetrieveIncidents", args, &resp); err != nil {
		return nil, err
	}

	out := make([]model.HubArtifact, 0, len(resp.Incidents))
	for _, i := range resp.Incidents {
		out = append(out, i.toModel())
	}
	return out, nil
}

type hubIncidentDTO struct {
	ID          int    `xml:"Id"`
	ProjectID   int    `xml:"ProjectId"`
	Name        string `xml:"Name"`
	Description string `xml:"Description"`
	StatusID    int    `xml:"StatusId"`
	TypeID      int    `xml:"TypeId"`
	PriorityID  int    `xml:"PriorityId"`
	SeverityID  int    `xml:"SeverityId"`
	OpenerID    int    `xml:"OpenerId"`
	OwnerID     int    `xml:"OwnerId"`
}

func (i hubIncidentDTO) toModel() model.HubArtifact {
	return model.HubArtifact{
		Kind:             model.ArtifactIncident,
		ID:               i.ID,
		ProjectID:        i.ProjectID,
		Name:             i.Name,
		Description:      i.Description,
		StatusID:         i.StatusID,
		TypeID:           i.TypeID,
		PriorityID:       i.PriorityID,
		SeverityID:       i.SeverityID,
		OpenerOrAuthorID: i.OpenerID,
		OwnerID:          i.OwnerID,
		CustomProperties: map[int]model.TypedValue{},
	}
}

// GetArtifactCustomProperties fetches the custom-property values recorded
// against one Hub artifact (§4.3 "custom-property value mappings").
// ListIncidents returns only an artifact's fixed fields; the push phase
// calls this once per incident it actually processes, rather than paying
// for every slot's value on every page fetched.
func (c *Client) GetArtifactCustomProperties(ctx context.Context, kind model.ArtifactKind, artifactID int) (map[int]model.TypedValue, error) {
	var resp struct {
		Values []hubCustomPropertyValueDTO `xml:"Value"`
	}
	args := fmt.Sprintf(`<ArtifactType>%s</ArtifactType><ArtifactId>%d</ArtifactId>`, kind, artifactID)
	if err := c.call(ctx, "GetCustomPropertyValues", args, &resp); err != nil {
		return nil, err
	}

	out := map[int]model.TypedValue{}
	for _, v := range resp.Values {
		if tv, ok := v.toTypedValue(); ok {
			out[v.Slot] = tv
		}
	}
	return out, nil
}

type hubCustomPropertyValueDTO struct {
	Slot      int    `xml:"Slot"`
	ValueType string `xml:"ValueType"`
	Text      string `xml:"Text"`
}

func (v hubCustomPropertyValueDTO) toTypedValue() (model.TypedValue, bool) {
	if v.Text == "" {
		return model.TypedValue{}, false
	}
	switch model.ValueKind(v.ValueType) {
	case model.KindText:
		return model.Text(v.Text), true
	case model.KindInteger:
		n, err := strconv.Atoi(v.Text)
		if err != nil {
			return model.TypedValue{}, false
		}
		return model.Integer(n), true
	case model.KindDecimal:
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return model.TypedValue{}, false
		}
		return model.Decimal(f), true
	case model.KindBoolean:
		b, err := strconv.ParseBool(v.Text)
		if err != nil {
			return model.TypedValue{}, false
		}
		return model.Boolean(b), true
	case model.KindDate:
		t, err := time.Parse(time.RFC3339, v.Text)
		if err != nil {
			return model.TypedValue{}, false
		}
		return model.Date(t), true
	case model.KindList:
		return model.List(v.Text), true
	case model.KindMultiList:
		return model.MultiList(strings.Split(v.Text, ",")), true
	case model.KindUser:
		return model.User(v.Text), true
	default:
		return model.TypedValue{}, false
	}
}

// GetIncident fetches one Hub incident by id, used by the pull phase to
// merge Tracker-sourced changes into the artifact's existing state (§4.3
// "retrieve artifacts ... retrieve comments and documents").
func (c *Client) GetIncident(ctx context.Context, incidentID int) (model.HubArtifact, error) {
	var resp hubIncidentDTO
	args := fmt.Sprintf(`<IncidentId>%d</IncidentId>`, incidentID)
	if err := c.call(ctx, "GetIncidentById", args, &resp); err != nil {
		return model.HubArtifact{}, err
	}
	return resp.toModel(), nil
}

type hubRequirementDTO struct {
	ID            int    `xml:"Id"`
	ProjectID     int    `xml:"ProjectId"`
	Name          string `xml:"Name"`
	Description   string `xml:"Description"`
	StatusID      int    `xml:"StatusId"`
	TypeID        int    `xml:"TypeId"`
	ImportanceID  int    `xml:"ImportanceId"`
	AuthorID      int    `xml:"AuthorId"`
	OwnerID       int    `xml:"OwnerId"`
}

func (r hubRequirementDTO) toModel() model.HubArtifact {
	return model.HubArtifact{
		Kind:             model.ArtifactRequirement,
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		Name:             r.Name,
		Description:      r.Description,
		StatusID:         r.StatusID,
		TypeID:           r.TypeID,
		PriorityID:       r.ImportanceID,
		OpenerOrAuthorID: r.AuthorID,
		OwnerID:          r.OwnerID,
		CustomProperties: map[int]model.TypedValue{},
	}
}

// GetRequirement is GetIncident's requirement counterpart.
func (c *Client) GetRequirement(ctx context.Context, requirementID int) (model.HubArtifact, error) {
	var resp hubRequirementDTO
	args := fmt.Sprintf(`<RequirementId>%d</RequirementId>`, requirementID)
	if err := c.call(ctx, "GetRequirementById", args, &resp); err != nil {
		return model.HubArtifact{}, err
	}
	return resp.toModel(), nil
}

// GetComments fetches the comments already recorded against a Hub artifact,
// used by the pull phase's body-equality de-duplication (§3 Comment
// invariant, §8 property 2).
func (c *Client) GetComments(ctx context.Context, kind model.ArtifactKind, artifactID int) ([]model.Comment, error) {
	var resp struct {
		Comments []struct {
			AuthorLogin string `xml:"AuthorLogin"`
			Body        string `xml:"Body"`
			CreationDate string `xml:"CreationDate"`
		} `xml:"Comment"`
	}
	args := fmt.Sprintf(`<ArtifactType>%s</ArtifactType><ArtifactId>%d</ArtifactId>`, kind, artifactID)
	if err := c.call(ctx, "GetComments", args, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Comment, 0, len(resp.Comments))
	for _, dto := range resp.Comments {
		created, _ := time.Parse(time.RFC3339, dto.CreationDate)
		out = append(out, model.Comment{AuthorLogin: dto.AuthorLogin, Body: dto.Body, Created: created.UTC()})
	}
	return out, nil
}

// CreateIncident creates a new Hub incident and returns its id.
func (c *Client) CreateIncident(ctx context.Context, a model.HubArtifact) (int, error) {
	var resp struct {
		ID int `xml:"Id"`
	}
	args := incidentXML(a)
	if err := c.call(ctx, "CreateIncident", args, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UpdateIncident updates an existing Hub incident in place.
func (c *Client) UpdateIncident(ctx context.Context, a model.HubArtifact) error {
	return c.call(ctx, "UpdateIncident", incidentXML(a), nil)
}

// CreateRequirement creates a new Hub requirement and returns its id.
func (c *Client) CreateRequirement(ctx context.Context, a model.HubArtifact) (int, error) {
	var resp struct {
		ID int `xml:"Id"`
	}
	if err := c.call(ctx, "CreateRequirement", requirementXML(a), &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// UpdateRequirement updates an existing Hub requirement in place.
func (c *Client) UpdateRequirement(ctx context.Context, a model.HubArtifact) error {
	return c.call(ctx, "UpdateRequirement", requirementXML(a), nil)
}

func incidentXML(a model.HubArtifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<Incident><Id>%d</Id><ProjectId>%d</ProjectId><Name>%s</Name><Description>%s</Description><StatusId>%d</StatusId><TypeId>%d</TypeId><PriorityId>%d</PriorityId><SeverityId>%d</SeverityId><OpenerId>%d</OpenerId><OwnerId>%d</OwnerId>`,
		a.ID, a.ProjectID, escapeXML(a.Name), escapeXML(a.Description), a.StatusID, a.TypeID, a.PriorityID, a.SeverityID, a.OpenerOrAuthorID, a.OwnerID)
	if a.DetectedReleaseID != 0 {
		fmt.Fprintf(&b, `<DetectedReleaseId>%d</DetectedReleaseId>`, a.DetectedReleaseID)
	}
	if a.ResolvedReleaseID != 0 {
		fmt.Fprintf(&b, `<ResolvedReleaseId>%d</ResolvedReleaseId>`, a.ResolvedReleaseID)
	}
	if a.StartOrDueDate != nil {
		fmt.Fprintf(&b, `<StartDate>%s</StartDate>`, a.StartOrDueDate.UTC().Format(time.RFC3339))
	}
	if a.ClosedOrResolvedDate != nil {
		fmt.Fprintf(&b, `<ClosedDate>%s</ClosedDate>`, a.ClosedOrResolvedDate.UTC().Format(time.RFC3339))
	}
	b.WriteString(componentIDsXML(a.ComponentIDs))
	b.WriteString(customPropertiesXML(a.CustomProperties))
	b.WriteString(`</Incident>`)
	return b.String()
}

func requirementXML(a model.HubArtifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<Requirement><Id>%d</Id><ProjectId>%d</ProjectId><Name>%s</Name><Description>%s</Description><StatusId>%d</StatusId><TypeId>%d</TypeId><ImportanceId>%d</ImportanceId><AuthorId>%d</AuthorId><OwnerId>%d</OwnerId>`,
		a.ID, a.ProjectID, escapeXML(a.Name), escapeXML(a.Description), a.StatusID, a.TypeID, a.PriorityID, a.OpenerOrAuthorID, a.OwnerID)
	if a.DetectedReleaseID != 0 {
		fmt.Fprintf(&b, `<DetectedReleaseId>%d</DetectedReleaseId>`, a.DetectedReleaseID)
	}
	if a.ResolvedReleaseID != 0 {
		fmt.Fprintf(&b, `<ResolvedReleaseId>%d</ResolvedReleaseId>`, a.ResolvedReleaseID)
	}
	if a.StartOrDueDate != nil {
		fmt.Fprintf(&b, `<StartDate>%s</StartDate>`, a.StartOrDueDate.UTC().Format(time.RFC3339))
	}
	if a.ClosedOrResolvedDate != nil {
		fmt.Fprintf(&b, `<ClosedDate>%s</ClosedDate>`, a.ClosedOrResolvedDate.UTC().Format(time.RFC3339))
	}
	b.WriteString(componentIDsXML(a.ComponentIDs))
	b.WriteString(customPropertiesXML(a.CustomProperties))
	b.WriteString(`</Requirement>`)
	return b.String()
}

// componentIDsXML serializes HubArtifact.ComponentIDs as a <ComponentIds>
// element holding one <Id> element per entry; an empty list writes nothing.
func componentIDsXML(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<ComponentIds>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<Id>%d</Id>`, id)
	}
	b.WriteString(`</ComponentIds>`)
	return b.String()
}

// customPropertiesXML serializes HubArtifact.CustomProperties in the wire
// shape hubCustomPropertyValueDTO reads back: one <CustomProperty> per
// populated slot, with ValueType naming the TypedValue branch and Text
// carrying the scalar/list-id/comma-joined-multilist encoding, matching
// toTypedValue's decode side field for field.
func customPropertiesXML(props map[int]model.TypedValue) string {
	if len(props) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<CustomProperties>`)
	for slot, tv := range props {
		text := customPropertyText(tv)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, `<CustomProperty><Slot>%d</Slot><ValueType>%s</ValueType><Text>%s</Text></CustomProperty>`,
			slot, tv.Kind, escapeXML(text))
	}
	b.WriteString(`</CustomProperties>`)
	return b.String()
}

func customPropertyText(tv model.TypedValue) string {
	switch tv.Kind {
	case model.KindText:
		return tv.Text
	case model.KindInteger:
		return strconv.Itoa(tv.Integer)
	case model.KindDecimal:
		return strconv.FormatFloat(tv.Decimal, 'f', -1, 64)
	case model.KindBoolean:
		return strconv.FormatBool(tv.Boolean)
	case model.KindDate:
		return tv.Date.UTC().Format(time.RFC3339)
	case model.KindList:
		return tv.List
	case model.KindMultiList:
		return strings.Join(tv.MultiList, ",")
	case model.KindUser:
		return tv.User
	default:
		return ""
	}
}

// AddComment adds a comment to an artifact of the given kind.
func (c *Client) AddComment(ctx context.Context, kind model.ArtifactKind, artifactID int, comment model.Comment) error {
	args := fmt.Sprintf(`<ArtifactType>%s</ArtifactType><ArtifactId>%d</ArtifactId><AuthorLogin>%s</AuthorLogin><Body>%s</Body>`,
		kind, artifactID, escapeXML(comment.AuthorLogin), escapeXML(comment.Body))
	return c.call(ctx, "AddComment", args, nil)
}

// CreateRelease creates a Hub release for projectID and returns its id. The
// version number is truncated to 10 characters before being sent, per §3
// Release/Version and §8 property 6.
func (c *Client) CreateRelease(ctx context.Context, projectID int, release model.Release) (int, error) {
	versionNumber := release.VersionNumber
	if len(versionNumber) > 10 {
		versionNumber = versionNumber[:10]
	}

	var resp struct {
		ID int `xml:"Id"`
	}
	args := fmt.Sprintf(`<ProjectId>%d</ProjectId><Name>%s</Name><VersionNumber>%s</VersionNumber>`,
		projectID, escapeXML(release.Name), escapeXML(versionNumber))
	if err := c.call(ctx, "CreateRelease", args, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// GetRelease fetches one Hub release by id, used by the push phase to
// recover the release's Name/VersionNumber before auto-provisioning a
// Tracker version for it (§3 Release/Version).
func (c *Client) GetRelease(ctx context.Context, releaseID int) (model.Release, error) {
	var resp struct {
		ID            int    `xml:"ReleaseId"`
		Name          string `xml:"Name"`
		VersionNumber string `xml:"VersionNumber"`
		StartDate     string `xml:"StartDate"`
		EndDate       string `xml:"EndDate"`
	}
	args := fmt.Sprintf(`<ReleaseId>%d</ReleaseId>`, releaseID)
	if err := c.call(ctx, "GetReleaseById", args, &resp); err != nil {
		return model.Release{}, err
	}
	release := model.Release{ID: resp.ID, Name: resp.Name, VersionNumber: resp.VersionNumber}
	if t, err := time.Parse(time.RFC3339, resp.StartDate); err == nil {
		release.StartDate = t
	}
	if t, err := time.Parse(time.RFC3339, resp.EndDate); err == nil {
		release.EndDate = t
	}
	return release, nil
}

// AddDocumentFile uploads a file attachment against an artifact.
func (c *Client) AddDocumentFile(ctx context.Context, kind model.ArtifactKind, artifactID int, filename string, data []byte) error {
	args := fmt.Sprintf(`<ArtifactType>%s</ArtifactType><ArtifactId>%d</ArtifactId><Filename>%s</Filename><Size>%d</Size>`,
		kind, artifactID, escapeXML(filename), len(data))
	return c.call(ctx, "AddDocumentFile", args, nil)
}

// AddDocumentURL adds a URL-link document against an artifact. The push and
// pull phases use it to link a Hub artifact to its Tracker issue.
func (c *Client) AddDocumentURL(ctx context.Context, kind model.ArtifactKind, artifactID int, url string) error {
	args := fmt.Sprintf(`<ArtifactType>%s</ArtifactType><ArtifactId>%d</ArtifactId><FilenameOrUrl>%s</FilenameOrUrl>`,
		kind, artifactID, escapeXML(url))
	return c.call(ctx, "AddDocumentUrl", args, nil)
}

// ResolveArtifactURL substitutes the Hub's base web URL placeholder "~"
// (§4.3) to build a browsable link to an artifact.
func ResolveArtifactURL(baseWebURL string, kind model.ArtifactKind, artifactID int) string {
	path := fmt.Sprintf("Incident.aspx?id=%d", artifactID)
	if kind == model.ArtifactRequirement {
		path = fmt.Sprintf("Requirement.aspx?id=%d", artifactID)
	}
	if strings.Contains(baseWebURL, "~") {
		return strings.Replace(baseWebURL, "~", path, 1)
	}
	return strings.TrimRight(baseWebURL, "/") + "/" + path
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func errAuthFailure(err error) error { return fmt.Errorf("%w: %v", errs.ErrAuthFailure, err) }
func errProjectConnectFailure(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrProjectConnectFailure, err)
}
