// Command syncengine runs the operator console (§4.6): an HTTP host that
// schedules and observes Reconciliation Engine runs against a configured
// Hub and Tracker.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/auth"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/config"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/console"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/console/memstore"
	consolepg "github.com/jlmwin/spira5-jira-datasync-master/internal/console/pgstore"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/engine"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient/soaptransport"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	mappingmem "github.com/jlmwin/spira5-jira-datasync-master/internal/mapping/memstore"
	mappingpg "github.com/jlmwin/spira5-jira-datasync-master/internal/mapping/pgstore"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// stdoutSink is an eventlog.Sink that prints each chunk to stdout as a
// single line.
type stdoutSink struct{}

func (stdoutSink) Write(severity eventlog.Severity, chunk string) {
	fmt.Printf("[%s] %s\n", severity, chunk)
}

func main() {
	env := config.LoadConsoleEnv()
	ctx := context.Background()

	consoleStore, mappingStore, closeStores := openStores(ctx, env.DatabaseURL)
	defer closeStores()

	hubTransport := soaptransport.New(mustEnv("HUB_BASE_URL"), &http.Client{Timeout: 60 * time.Second})
	hub := hubclient.New(hubTransport, mustEnv("HUB_USER"), mustEnv("HUB_PASS"))

	var trackerOpts []jiraclient.Option
	if config.ParseBoolOption(os.Getenv("TRACKER_USE_DEFAULT_CREDENTIALS")) {
		trackerOpts = append(trackerOpts, jiraclient.WithDefaultCredentials())
	}
	if config.ParseBoolOption(os.Getenv("TRACKER_INSECURE_SKIP_VERIFY")) {
		trackerOpts = append(trackerOpts, jiraclient.WithInsecureSkipVerify())
	}
	tracker := jiraclient.New(mustEnv("TRACKER_BASE_URL"), mustEnv("TRACKER_USER"), mustEnv("TRACKER_PASS"), trackerOpts...)

	autoMapUsers := config.ParseBoolOption(os.Getenv("AUTO_MAP_USERS"))
	resolver := mapping.New(mappingStore, hub, autoMapUsers)
	logger := eventlog.New(stdoutSink{}, config.ParseBoolOption(os.Getenv("TRACE_LOGGING")))

	cfg := engineConfigFromEnv(autoMapUsers)

	newEngine := func(pairs []model.ProjectPair, progress engine.ProgressSink) *engine.Engine {
		return engine.New(cfg, hub, tracker, resolver, logger, pairs, progress)
	}

	authSvc := auth.New(env.JWTSecret)
	srv := console.New(authSvc, consoleStore, newEngine)

	httpServer := &http.Server{
		Addr:         ":" + env.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("operator console starting on port %s", env.Port)
	log.Printf("websocket endpoint: ws://localhost:%s/ws", env.Port)
	log.Fatal(httpServer.ListenAndServe())
}

func openStores(ctx context.Context, databaseURL string) (console.Store, mapping.Store, func()) {
	if databaseURL == "" {
		log.Println("DATABASE_URL not set; using in-memory stores (not durable across restarts)")
		return memstore.New(), mappingmem.New(), func() {}
	}

	consolePg, err := consolepg.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("failed to open console store: %v", err)
	}
	mappingPg, err := mappingpg.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("failed to open mapping store: %v", err)
	}
	return consolePg, mappingPg, func() {
		consolePg.Close()
		mappingPg.Close()
	}
}

func engineConfigFromEnv(autoMapUsers bool) config.EngineConfig {
	return config.EngineConfig{
		DataSyncSystemID:             config.ParseIntOption(os.Getenv("DATA_SYNC_SYSTEM_ID")),
		TraceLogging:                 config.ParseBoolOption(os.Getenv("TRACE_LOGGING")),
		HubBaseURL:                   os.Getenv("HUB_BASE_URL"),
		HubUser:                      os.Getenv("HUB_USER"),
		HubPass:                      os.Getenv("HUB_PASS"),
		HubWebBaseURL:                os.Getenv("HUB_WEB_BASE_URL"),
		TrackerBaseURL:               os.Getenv("TRACKER_BASE_URL"),
		TrackerUser:                  os.Getenv("TRACKER_USER"),
		TrackerPass:                  os.Getenv("TRACKER_PASS"),
		TrackerBrowseBaseURL:         firstNonEmptyEnv("TRACKER_BROWSE_BASE_URL", "TRACKER_BASE_URL"),
		UseDefaultCredentials:        config.ParseBoolOption(os.Getenv("TRACKER_USE_DEFAULT_CREDENTIALS")),
		InsecureSkipVerify:           config.ParseBoolOption(os.Getenv("TRACKER_INSECURE_SKIP_VERIFY")),
		LocalZoneOffsetHours:         config.ParseIntOption(os.Getenv("LOCAL_ZONE_OFFSET_HOURS")),
		AutoMapUsers:                 autoMapUsers,
		Custom01SeverityCustomFieldID: os.Getenv("CUSTOM01_SEVERITY_CUSTOM_FIELD_ID"),
		Custom02UseSecurityLevel:      config.ParseBoolOption(os.Getenv("CUSTOM02_USE_SECURITY_LEVEL")),
		Custom03HubToTrackerOnly:      config.ParseBoolOption(os.Getenv("CUSTOM03_HUB_TO_TRACKER_ONLY")),
		Custom04RequirementIssueTypes: os.Getenv("CUSTOM04_REQUIREMENT_ISSUE_TYPES"),
		Custom05IncidentLinkTypeName:  os.Getenv("CUSTOM05_INCIDENT_LINK_TYPE_NAME"),
		PushWindowFilter:              config.PushWindowFilter(firstNonEmptyEnv2("PUSH_WINDOW_FILTER", string(config.PushWindowAll))),
		PersistAutoCreatedReleaseMappings: config.ParseBoolOption(os.Getenv("PERSIST_AUTO_CREATED_RELEASE_MAPPINGS")),
		OnlyCreateNewItemsInTracker:      config.ParseBoolOption(os.Getenv("ONLY_CREATE_NEW_ITEMS_IN_TRACKER")),
		SyncFlagPropertyName:             os.Getenv("SYNC_FLAG_PROPERTY_NAME"),
		TrackerProjectKeyPropertyName:    os.Getenv("TRACKER_PROJECT_KEY_PROPERTY_NAME"),
	}
}

func firstNonEmptyEnv(key, fallbackKey string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return os.Getenv(fallbackKey)
}

func firstNonEmptyEnv2(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required environment variable %s", key)
	}
	return v
}
