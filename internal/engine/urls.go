package engine

import (
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// hubArtifactURL is a thin alias over hubclient.ResolveArtifactURL so the
// push/pull phases don't need to import hubclient just for this one call.
func hubArtifactURL(baseWebURL string, kind model.ArtifactKind, artifactID int) string {
	return hubclient.ResolveArtifactURL(baseWebURL, kind, artifactID)
}
