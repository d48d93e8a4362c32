package jiraclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCreateMetadataJSON = `{
  "projects": [
    {
      "key": "HUB",
      "issuetypes": [
        {
          "id": "1",
          "name": "Bug",
          "fields": {
            "project": {"required": true, "name": "Project"},
            "issuetype": {"required": true, "name": "Issue Type"},
            "summary": {"required": true, "name": "Summary"},
            "description": {"required": false, "name": "Description"},
            "customfield_10050": {
              "required": false,
              "name": "Severity",
              "allowedValues": [
                {"id": "101", "value": "Blocker"},
                {"id": "102", "value": "Minor"}
              ]
            },
            "components": {
              "required": false,
              "name": "Components",
              "allowedValues": [
                {"id": "200", "value": "Frontend"},
                {"id": "201", "value": "Backend"}
              ]
            }
          }
        }
      ]
    }
  ]
}`

func newMetadataServer(t *testing.T, createMetaJSON string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/2/issue/createmeta":
			w.Write([]byte(createMetaJSON))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// TestReconcileCreatePayload_AgainstFetchedMetadata exercises
// ReconcileCreatePayload end to end against create-metadata fetched and
// decoded through GetCreateMetadata's real JSON parsing path, rather than
// a hand-built CreateMetadata literal, so a field-name or shape mismatch
// between the fetch DTO and the reconcile step would actually be caught.
func TestReconcileCreatePayload_AgainstFetchedMetadata(t *testing.T) {
	server := newMetadataServer(t, sampleCreateMetadataJSON)
	client := New(server.URL, "u", "p")

	md, err := client.GetCreateMetadata(context.Background())
	require.NoError(t, err)

	tree := NewFieldTree()
	tree.Standard["summary"] = "something broke"
	tree.Standard["components"] = MultiOptionRef{Names: []string{"Frontend", "Backend"}}
	tree.Custom["customfield_10050"] = OptionRef{Name: "Blocker"}

	body, err := ReconcileCreatePayload(tree, "HUB", "1", md)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"fields": {
			"project": {"key": "HUB"},
			"issuetype": {"id": "1"},
			"summary": "something broke",
			"components": [{"id": "200"}, {"id": "201"}],
			"customfield_10050": {"id": "101"}
		}
	}`, string(body))
}

func TestReconcileCreatePayload_AgainstFetchedMetadata_MissingRequiredField(t *testing.T) {
	server := newMetadataServer(t, sampleCreateMetadataJSON)
	client := New(server.URL, "u", "p")

	md, err := client.GetCreateMetadata(context.Background())
	require.NoError(t, err)

	tree := NewFieldTree() // no summary set

	_, err = ReconcileCreatePayload(tree, "HUB", "1", md)
	require.Error(t, err)
}

const requiredCustomFieldMetadataJSON = `{
  "projects": [
    {
      "key": "HUB",
      "issuetypes": [
        {
          "id": "1",
          "name": "Bug",
          "fields": {
            "project": {"required": true, "name": "Project"},
            "issuetype": {"required": true, "name": "Issue Type"},
            "summary": {"required": true, "name": "Summary"},
            "customfield_10099": {
              "required": true,
              "name": "Root Cause",
              "allowedValues": [
                {"id": "900", "value": "Hardware"}
              ]
            }
          }
        }
      ]
    }
  ]
}`

// TestReconcileCreatePayload_RequiredCustomFieldNeverEnforced guards §4.4
// step 2's carve-out: a metadata-required customfield_ that the pushed
// incident has no mapped value for must be silently omitted, not treated
// as a MissingRequired fault that aborts the create.
func TestReconcileCreatePayload_RequiredCustomFieldNeverEnforced(t *testing.T) {
	server := newMetadataServer(t, requiredCustomFieldMetadataJSON)
	client := New(server.URL, "u", "p")

	md, err := client.GetCreateMetadata(context.Background())
	require.NoError(t, err)

	tree := NewFieldTree()
	tree.Standard["summary"] = "something broke"

	body, err := ReconcileCreatePayload(tree, "HUB", "1", md)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "customfield_10099")
}

func TestReconcileCreatePayload_UnmappedOptionDropped(t *testing.T) {
	server := newMetadataServer(t, sampleCreateMetadataJSON)
	client := New(server.URL, "u", "p")

	md, err := client.GetCreateMetadata(context.Background())
	require.NoError(t, err)

	tree := NewFieldTree()
	tree.Standard["summary"] = "something broke"
	tree.Custom["customfield_10050"] = OptionRef{Name: "Unmapped Severity"}

	body, err := ReconcileCreatePayload(tree, "HUB", "1", md)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "customfield_10050")
}
