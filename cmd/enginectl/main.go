// Command enginectl loads a YAML project-pair/options file and invokes the
// Reconciliation Engine's Execute once, for operators running the engine
// outside the console/cron host (§2.2).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/config"
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

// runFile is the YAML shape enginectl loads: the engine's own Setup call
// remains parameter-based per the host contract, so this file is purely the
// CLI's own input, never something the engine parses itself.
type runFile struct {
	Hub struct {
		BaseURL string `yaml:"baseUrl"`
		User    string `yaml:"user"`
		Pass    string `yaml:"pass"`
		WebURL  string `yaml:"webUrl"`
	} `yaml:"hub"`
	Tracker struct {
		BaseURL               string `yaml:"baseUrl"`
		BrowseBaseURL         string `yaml:"browseBaseUrl"`
		User                  string `yaml:"user"`
		Pass                  string `yaml:"pass"`
		UseDefaultCredentials bool   `yaml:"useDefaultCredentials"`
		InsecureSkipVerify    bool   `yaml:"insecureSkipVerify"`
	} `yaml:"tracker"`
	DatabaseURL          string `yaml:"databaseUrl"`
	LocalZoneOffsetHours int    `yaml:"localZoneOffsetHours"`
	AutoMapUsers         bool   `yaml:"autoMapUsers"`
	TraceLogging         bool   `yaml:"traceLogging"`

	Custom struct {
		SeverityCustomFieldID    string `yaml:"severityCustomFieldId"`
		UseSecurityLevel         bool   `yaml:"useSecurityLevel"`
		HubToTrackerOnly         bool   `yaml:"hubToTrackerOnly"`
		RequirementIssueTypeIDs  string `yaml:"requirementIssueTypeIds"`
		IncidentLinkTypeName     string `yaml:"incidentLinkTypeName"`
	} `yaml:"custom"`

	SyncFlagPropertyName          string `yaml:"syncFlagPropertyName"`
	TrackerProjectKeyPropertyName string `yaml:"trackerProjectKeyPropertyName"`
	PushWindowFilter              string `yaml:"pushWindowFilter"`

	ProjectPairs []struct {
		HubProjectID      int    `yaml:"hubProjectId"`
		TrackerProjectKey string `yaml:"trackerProjectKey"`
	} `yaml:"projectPairs"`
}

type stdoutSink struct{}

func (stdoutSink) Write(severity eventlog.Severity, chunk string) {
	fmt.Printf("[%s] %s\n", severity, chunk)
}

func main() {
	var filePath string
	var lastSyncAtRaw string

	rootCmd := &cobra.Command{
		Use:   "enginectl",
		Short: "Run one Reconciliation Engine cycle from a YAML project-pair file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(filePath, lastSyncAtRaw)
		},
	}
	rootCmd.Flags().StringVarP(&filePath, "file", "f", "", "path to the project-pair/options YAML file (required)")
	rootCmd.Flags().StringVar(&lastSyncAtRaw, "last-sync-at", "", "RFC3339 timestamp of the previous successful run; omit for the first run")
	_ = rootCmd.MarkFlagRequired("file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(filePath, lastSyncAtRaw string) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}
	var rf runFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return fmt.Errorf("parsing %s: %w", filePath, err)
	}

	ctx := context.Background()

	var mappingStore mapping.Store
	if rf.DatabaseURL != "" {
		pg, err := mappingpg.Open(ctx, rf.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening mapping store: %w", err)
		}
		defer pg.Close()
		mappingStore = pg
	} else {
		mappingStore = mappingmem.New()
	}

	hubTransport := soaptransport.New(rf.Hub.BaseURL, nil)
	hub := hubclient.New(hubTransport, rf.Hub.User, rf.Hub.Pass)

	var trackerOpts []jiraclient.Option
	if rf.Tracker.UseDefaultCredentials {
		trackerOpts = append(trackerOpts, jiraclient.WithDefaultCredentials())
	}
	if rf.Tracker.InsecureSkipVerify {
		trackerOpts = append(trackerOpts, jiraclient.WithInsecureSkipVerify())
	}
	tracker := jiraclient.New(rf.Tracker.BaseURL, rf.Tracker.User, rf.Tracker.Pass, trackerOpts...)

	resolver := mapping.New(mappingStore, hub, rf.AutoMapUsers)
	logger := eventlog.New(stdoutSink{}, rf.TraceLogging)

	trackerBrowseBaseURL := rf.Tracker.BrowseBaseURL
	if trackerBrowseBaseURL == "" {
		trackerBrowseBaseURL = rf.Tracker.BaseURL
	}

	pushWindowFilter := config.PushWindowAll
	if rf.PushWindowFilter != "" {
		pushWindowFilter = config.PushWindowFilter(rf.PushWindowFilter)
	}

	cfg := config.EngineConfig{
		TraceLogging:                  rf.TraceLogging,
		HubBaseURL:                    rf.Hub.BaseURL,
		HubUser:                       rf.Hub.User,
		HubPass:                       rf.Hub.Pass,
		HubWebBaseURL:                 rf.Hub.WebURL,
		TrackerBaseURL:                rf.Tracker.BaseURL,
		TrackerUser:                   rf.Tracker.User,
		TrackerPass:                   rf.Tracker.Pass,
		TrackerBrowseBaseURL:          trackerBrowseBaseURL,
		UseDefaultCredentials:         rf.Tracker.UseDefaultCredentials,
		InsecureSkipVerify:            rf.Tracker.InsecureSkipVerify,
		LocalZoneOffsetHours:          rf.LocalZoneOffsetHours,
		AutoMapUsers:                  rf.AutoMapUsers,
		Custom01SeverityCustomFieldID: rf.Custom.SeverityCustomFieldID,
		Custom02UseSecurityLevel:      rf.Custom.UseSecurityLevel,
		Custom03HubToTrackerOnly:      rf.Custom.HubToTrackerOnly,
		Custom04RequirementIssueTypes: rf.Custom.RequirementIssueTypeIDs,
		Custom05IncidentLinkTypeName:  rf.Custom.IncidentLinkTypeName,
		PushWindowFilter:              pushWindowFilter,
		SyncFlagPropertyName:          rf.SyncFlagPropertyName,
		TrackerProjectKeyPropertyName: rf.TrackerProjectKeyPropertyName,
	}

	pairs := make([]model.ProjectPair, len(rf.ProjectPairs))
	for i, p := range rf.ProjectPairs {
		pairs[i] = model.ProjectPair{HubProjectID: p.HubProjectID, TrackerProjectKey: p.TrackerProjectKey}
	}

	var lastSyncAt *time.Time
	if lastSyncAtRaw != "" {
		t, err := time.Parse(time.RFC3339, lastSyncAtRaw)
		if err != nil {
			return fmt.Errorf("parsing --last-sync-at: %w", err)
		}
		lastSyncAt = &t
	}

	eng := engine.New(cfg, hub, tracker, resolver, logger, pairs, nil)
	outcome, err := eng.Execute(ctx, lastSyncAt, time.Now())
	if err != nil {
		return fmt.Errorf("run finished with %s: %w", outcome, err)
	}
	fmt.Printf("run finished: %s\n", outcome)
	return nil
}
