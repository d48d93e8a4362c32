package console_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/auth"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/config"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/console"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/console/memstore"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/engine"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/eventlog"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/hubclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/jiraclient"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/mapping"
	mappingmem "github.com/jlmwin/spira5-jira-datasync-master/internal/mapping/memstore"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// fakeHubTransport is a minimal hubclient.Transport that succeeds
// Authenticate/ConnectProject without a real Hub, mirroring
// hubclient/client_test.go's fakeTransport.
type fakeHubTransport struct{}

func (fakeHubTransport) Login(ctx context.Context, user, pass string) (string, error) {
	return "tok", nil
}
func (fakeHubTransport) ConnectProject(ctx context.Context, sessionToken string, projectID int) error {
	return nil
}
func (fakeHubTransport) Call(ctx context.Context, sessionToken, operation string, args, out interface{}) error {
	return nil
}

// newTestEngineFactory builds an EngineFactory whose Engine can run a real
// Execute to completion against a fake Hub transport and a stub Tracker
// HTTP server, so handleCreateRun's background goroutine has real
// collaborators to call rather than nil pointers.
func newTestEngineFactory(t *testing.T) console.EngineFactory {
	t.Helper()
	trackerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/api/2/mypermissions":
			w.Write([]byte(`{"permissions":{}}`))
		case r.URL.Path == "/rest/api/2/issue/createmeta":
			w.Write([]byte(`{"projects":[]}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(trackerServer.Close)

	hub := hubclient.New(fakeHubTransport{}, "u", "p")
	tracker := jiraclient.New(trackerServer.URL, "u", "p")
	resolver := mapping.New(mappingmem.New(), hub, false)
	logger := eventlog.New(discardSink{}, false)
	cfg := config.EngineConfig{}

	return func(pairs []model.ProjectPair, progress engine.ProgressSink) *engine.Engine {
		return engine.New(cfg, hub, tracker, resolver, logger, pairs, progress)
	}
}

type discardSink struct{}

func (discardSink) Write(severity eventlog.Severity, chunk string) {}

func setupTestServer(t *testing.T) (*console.Server, *memstore.Store, *auth.Service) {
	t.Helper()
	store := memstore.New()
	authSvc := auth.New("test-secret")
	_, err := store.CreateOperator("alice", authSvc.HashPassword("wonderland"))
	require.NoError(t, err)

	srv := console.New(authSvc, store, newTestEngineFactory(t))
	return srv, store, authSvc
}

func TestServer_Login_Success(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	body, _ := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: "alice", Password: "wonderland"})
	req := httptest.NewRequest(http.MethodPost, "/api/operators/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestServer_Login_WrongPassword(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	body, _ := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: "alice", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/operators/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Login_MissingFields(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/operators/login", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProtectedRoutes_RejectMissingToken(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/project-pairs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_CreateAndListProjectPairs(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	token, _, err := authSvc.IssueToken(1, "alice")
	require.NoError(t, err)

	createBody, _ := json.Marshal(struct {
		HubProjectID      int    `json:"hubProjectId"`
		TrackerProjectKey string `json:"trackerProjectKey"`
	}{HubProjectID: 5, TrackerProjectKey: "PROJ"})
	createReq := httptest.NewRequest(http.MethodPost, "/api/project-pairs", bytes.NewReader(createBody))
	createReq.Header.Set("Authorization", "Bearer "+token)
	createRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/project-pairs", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var pairs []map[string]interface{}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &pairs))
	require.Len(t, pairs, 1)
	assert.Equal(t, "PROJ", pairs[0]["TrackerProjectKey"])
}

func TestServer_GetRun_NotFound(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	token, _, err := authSvc.IssueToken(1, "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateRun_AcceptsAndRecordsRunning(t *testing.T) {
	srv, _, authSvc := setupTestServer(t)
	token, _, err := authSvc.IssueToken(1, "alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var run console.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, console.RunRunning, run.Outcome)
}
