package jiraclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/errs"
)

// DownloadAttachment fetches an attachment's bytes from its content URL,
// authenticating the same way as every other request (§4.2), so the pull
// phase can re-upload it as a Hub document (§4.5 pull step 4 "fetch Tracker
// attachments and re-upload them as Hub documents").
func (c *Client) DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errs.ErrAttachmentTransferFailure, err)
	}
	c.setAuth(req)

	resp, err := c.client(currentTLSPreference()).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrAttachmentTransferFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", errs.ErrAttachmentTransferFailure, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errs.ErrAttachmentTransferFailure, err)
	}
	return body, nil
}
