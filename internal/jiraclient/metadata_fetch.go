package jiraclient

import (
	"context"
	"net/http"
)

const metadataCacheKey = "create-metadata"

type createMetadataDTO struct {
	Projects []struct {
		Key        string `json:"key"`
		IssueTypes []struct {
			ID     string                    `json:"id"`
			Name   string                    `json:"name"`
			Fields map[string]fieldMetaDTO `json:"fields"`
		} `json:"issuetypes"`
	} `json:"projects"`
}

type fieldMetaDTO struct {
	Required      bool           `json:"required"`
	Name          string         `json:"name"`
	AllowedValues []AllowedValue `json:"allowedValues,omitempty"`
}

// GetCreateMetadata fetches and caches the Tracker's create-metadata
// catalog (§4.2 getCreateMetadata). The catalog is expanded with fields
// and is large enough on a real instance that callers should not refetch
// it per artifact; it is cached for metadataCacheTTL.
func (c *Client) GetCreateMetadata(ctx context.Context) (*CreateMetadata, error) {
	cached := &CreateMetadata{}
	if err := c.metadata.Get(metadataCacheKey, cached); err == nil {
		return cached, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet,
		"/rest/api/2/issue/createmeta?expand=projects.issuetypes.fields", nil)
	if err != nil {
		return nil, err
	}
	var dto createMetadataDTO
	if err := c.do(req, &dto); err != nil {
		return nil, err
	}

	md := &CreateMetadata{Projects: map[string]ProjectMeta{}}
	for _, p := range dto.Projects {
		pm := ProjectMeta{Key: p.Key, IssueTypes: map[string]IssueTypeMeta{}}
		for _, it := range p.IssueTypes {
			fields := map[string]FieldMeta{}
			for key, f := range it.Fields {
				fields[key] = FieldMeta{Required: f.Required, Name: f.Name, AllowedValues: f.AllowedValues}
			}
			pm.IssueTypes[it.ID] = IssueTypeMeta{ID: it.ID, Name: it.Name, Fields: fields}
		}
		md.Projects[p.Key] = pm
	}

	c.metadata.Set(metadataCacheKey, md, metadataCacheTTL)
	return md, nil
}
