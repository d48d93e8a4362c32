// Package jiraclient is the Tracker Client: typed wrappers over the
// Jira-shaped REST resources the engine consumes (create-metadata,
// projects, versions, components, issue search, issue fetch/create,
// attachments, web-links, issue-links, the permissions probe, and version
// creation). Request building uses a plain *http.Client, manual basic
// auth, and bytes.Buffer request bodies throughout.
package jiraclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/cache"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// metadataCacheTTL bounds how long the create-metadata catalog (all
// projects, cached under one key) is reused before being re-fetched. The
// cache belongs to the Client, so a Client reused across Execute calls
// serves the cached catalog to any call made within the TTL.
const metadataCacheTTL = 10 * time.Minute

// Client is the Tracker Client.
type Client struct {
	baseURL  string
	user     string
	pass     string
	useSSO   bool // UseDefaultCredentials (§4.2)
	insecure bool // InsecureSkipVerify opt-in (§4.2)

	httpClient *http.Client
	metadata   *cache.TTLCache
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithDefaultCredentials switches the client to "integrated"/SSO auth mode
// (§4.2 UseDefaultCredentials): the caller is responsible for supplying an
// http.Client whose Transport performs that negotiation via
// WithHTTPClient; basic auth headers are then omitted.
func WithDefaultCredentials() Option {
	return func(c *Client) { c.useSSO = true }
}

// WithInsecureSkipVerify opts in to accepting self-signed Tracker
// certificates (§4.2, Design Notes risk note: off by default).
func WithInsecureSkipVerify() Option {
	return func(c *Client) { c.insecure = true }
}

// WithHTTPClient overrides the underlying *http.Client, e.g. to supply a
// Transport implementing integrated Windows/Kerberos auth.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Tracker Client targeting baseURL.
func New(baseURL, user, pass string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		pass:     pass,
		metadata: cache.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) httpTransportFor(tlsVersion uint16) *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tlsVersion,
			MaxVersion:         tlsVersion,
			InsecureSkipVerify: c.insecure,
		},
	}
}

func (c *Client) client(tlsVersion uint16) *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Transport: c.httpTransportFor(tlsVersion)}
}

func (c *Client) setAuth(req *http.Request) {
	if c.useSSO {
		return // the injected http.Client's Transport handles credentials
	}
	token := base64.StdEncoding.EncodeToString([]byte(c.user + ":" + c.pass))
	req.Header.Set("Authorization", "Basic "+token)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("jiraclient: build request for %s: %w", path, err)
	}
	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// GetPermissions probes connectivity and authorization (§4.2). It attempts
// TLS 1.2, then 1.1, then 1.0, then the oldest version the client exposes,
// keeping the first protocol version that succeeds and latching it
// process-wide (§5 TLS state; §9 Design Notes). An empty permissions
// response or a network error on every attempted version is an
// ErrConnectivityFailure (§7).
func (c *Client) GetPermissions(ctx context.Context) (json.RawMessage, error) {
	versions := preferredTLSVersions
	if latched := currentTLSPreference(); latched != 0 {
		versions = []uint16{latched}
	}

	var lastErr error
	for _, version := range versions {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/api/2/mypermissions", nil)
		if err != nil {
			return nil, fmt.Errorf("jiraclient: build permissions request: %w", err)
		}
		c.setAuth(req)

		resp, err := c.client(version).Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode != http.StatusOK || len(body) == 0 {
			lastErr = fmt.Errorf("permissions probe returned status %d", resp.StatusCode)
			continue
		}

		latchTLSVersion(version)
		return json.RawMessage(body), nil
	}

	return nil, fmt.Errorf("%w: %v", errs.ErrConnectivityFailure, lastErr)
}

// Project is a Tracker project summary (§4.2 listProjects).
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ListProjects implements §4.2 listProjects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/api/2/project", nil)
	if err != nil {
		return nil, err
	}
	var out []Project
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type versionDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Archived    bool   `json:"archived"`
	Released    bool   `json:"released"`
	ReleaseDate string `json:"releaseDate"`
}

// ListVersions implements §4.2 listVersions.
func (c *Client) ListVersions(ctx context.Context, projectKey string) ([]model.Release, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/api/2/project/"+projectKey+"/versions", nil)
	if err != nil {
		return nil, err
	}
	var dtos []versionDTO
	if err := c.do(req, &dtos); err != nil {
		return nil, err
	}

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
	return out, nil
}

// Component is a Tracker component summary (§4.2 listComponents).
type Component struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListComponents implements §4.2 listComponents.
func (c *Client) ListComponents(ctx context.Context, projectKey string) ([]Component, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/api/2/project/"+projectKey+"/components", nil)
	if err != nil {
		return nil, err
	}
	var out []Component
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search runs a JQL search and returns the page of issue keys (§4.2
// search). The engine pages this until it gets back fewer than pageSize
// records.
func (c *Client) Search(ctx context.Context, jql string, fields []string, startAt, pageSize int) ([]string, error) {
	payload := map[string]interface{}{
		"jql":        jql,
		"startAt":    startAt,
		"maxResults": pageSize,
		"fields":     fields,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jiraclient: encode search payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/rest/api/2/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Issues []struct {
			Key string `json:"key"`
		} `json:"issues"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(resp.Issues))
	for _, i := range resp.Issues {
		keys = append(keys, i.Key)
	}
	return keys, nil
}

// AddAttachment uploads a file attachment (§4.2 addAttachment, §6.2).
func (c *Client) AddAttachment(ctx context.Context, key, filename string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("%w: build multipart part: %v", errs.ErrAttachmentTransferFailure, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("%w: write multipart body: %v", errs.ErrAttachmentTransferFailure, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: close multipart writer: %v", errs.ErrAttachmentTransferFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/api/2/issue/"+key+"/attachments", &buf)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", errs.ErrAttachmentTransferFailure, err)
	}
	c.setAuth(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "nocheck")

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrAttachmentTransferFailure, err)
	}
	return nil
}

// AddWebLink adds a remote web-link (§4.2 addWebLink).
func (c *Client) AddWebLink(ctx context.Context, key, url, label string) error {
	payload := map[string]interface{}{
		"object": map[string]string{"url": url, "title": label},
	}
	body, _ := json.Marshal(payload)
	req, err := c.newRequest(ctx, http.MethodPost, "/rest/api/2/issue/"+key+"/remotelink", bytes.NewReader(body))
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrLinkCreationFailure, err)
	}
	return nil
}

// AddIssueLink adds an issue-link between two issues (§4.2 addIssueLink).
func (c *Client) AddIssueLink(ctx context.Context, linkType, fromKey, toKey, comment string) error {
	payload := map[string]interface{}{
		"type":         map[string]string{"name": linkType},
		"inwardIssue":  map[string]string{"key": fromKey},
		"outwardIssue": map[string]string{"key": toKey},
	}
	if comment != "" {
		payload["comment"] = map[string]string{"body": comment}
	}
	body, _ := json.Marshal(payload)
	req, err := c.newRequest(ctx, http.MethodPost, "/rest/api/2/issueLink", bytes.NewReader(body))
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrLinkCreationFailure, err)
	}
	return nil
}

// CreateVersion creates a Tracker version (§4.2 createVersion). The version
// number is truncated to 10 characters, matching the same constraint as
// Hub releases (§3, §8 property 6), since the two sides share the naming
// constraint when auto-provisioning runs either direction.
func (c *Client) CreateVersion(ctx context.Context, projectKey string, release model.Release) (string, error) {
	name := release.VersionNumber
	if len(name) > 10 {
		name = name[:10]
	}
	payload := map[string]interface{}{
		"project": projectKey,
		"name":    name,
	}
	if !release.EndDate.IsZero() {
		payload["releaseDate"] = release.EndDate.Format("2006-01-02")
	}
	body, _ := json.Marshal(payload)
	req, err := c.newRequest(ctx, http.MethodPost, "/rest/api/2/version", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.client(currentTLSPreference()).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jiraclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("jiraclient: request to %s failed with status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("jiraclient: decode response from %s: %w", req.URL.Path, err)
	}
	return nil
}

