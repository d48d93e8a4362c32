package console

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/auth"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/engine"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// EngineFactory builds an Engine wired to the host's Hub/Tracker clients
// and mapping resolver for one run against pairs, reporting phase
// transitions to progress. The console holds no engine collaborators of
// its own (§4.6: "not itself part of the reconciliation core").
type EngineFactory func(pairs []model.ProjectPair, progress engine.ProgressSink) *engine.Engine

// Server is the operator console's HTTP host.
type Server struct {
	router    *mux.Router
	authSvc   *auth.Service
	store     Store
	hub       *hub
	newEngine EngineFactory

	mu         sync.Mutex
	lastSyncAt *time.Time
}

// New wires a Server's routes and returns it ready to Serve.
func New(authSvc *auth.Service, store Store, newEngine EngineFactory) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		authSvc:   authSvc,
		store:     store,
		hub:       newHub(),
		newEngine: newEngine,
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler for this console.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/operators/login", s.handleLogin).Methods(http.MethodPost)

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(s.authSvc.Middleware)
	protected.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	protected.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	protected.HandleFunc("/project-pairs", s.handleListProjectPairs).Methods(http.MethodGet)
	protected.HandleFunc("/project-pairs", s.handleCreateProjectPair).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.hub.serveWS)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	op, ok, err := s.store.GetOperatorByUsername(req.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok || !s.authSvc.VerifyPassword(req.Password, op.PasswordHash) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, expiresAt, err := s.authSvc.IssueToken(op.ID, op.Username)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "expires_at": expiresAt})
}

// handleCreateRun implements §4.6's "invokes engine.Execute(lastSyncAt, now)
// in a background goroutine, recording a RunRecord."
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	pairRecords, err := s.store.ListProjectPairs()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	pairs := make([]model.ProjectPair, len(pairRecords))
	for i, rec := range pairRecords {
		pairs[i] = rec.ProjectPair
	}

	run := RunRecord{ID: uuid.NewString(), StartedAt: time.Now(), Outcome: RunRunning}
	if err := s.store.CreateRun(run); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	s.hub.broadcast(MsgTypeRunStarted, run)

	go s.executeRun(run.ID, pairs)

	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) executeRun(runID string, pairs []model.ProjectPair) {
	s.mu.Lock()
	lastSyncAt := s.lastSyncAt
	s.mu.Unlock()

	now := time.Now()
	sink := &runProgressSink{server: s, runID: runID}
	eng := s.newEngine(pairs, sink)

	outcome, err := eng.Execute(context.Background(), lastSyncAt, now)

	finishedAt := time.Now()
	run, ok, _ := s.store.GetRun(runID)
	if !ok {
		run = RunRecord{ID: runID}
	}
	run.FinishedAt = &finishedAt
	if outcome == engine.OutcomeSuccess {
		run.Outcome = RunSuccess
		s.mu.Lock()
		s.lastSyncAt = &now
		s.mu.Unlock()
	} else {
		run.Outcome = RunError
		if err != nil {
			run.Error = err.Error()
		}
	}
	_ = s.store.UpdateRun(run)

	if run.Outcome == RunSuccess {
		s.hub.broadcast(MsgTypeRunComplete, run)
	} else {
		s.hub.broadcast(MsgTypeRunError, run)
	}
}

// runProgressSink implements engine.ProgressSink, appending each phase
// transition to the RunRecord and pushing it over the websocket hub.
type runProgressSink struct {
	server *Server
	runID  string
}

func (p *runProgressSink) OnPhase(phase engine.Phase) {
	run, ok, _ := p.server.store.GetRun(p.runID)
	if !ok {
		return
	}
	run.PhaseLog = append(run.PhaseLog, PhaseEvent{Phase: string(phase), At: time.Now()})
	_ = p.server.store.UpdateRun(run)
	p.server.hub.broadcast(MsgTypeRunPhase, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, ok, err := s.store.GetRun(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListProjectPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.store.ListProjectPairs()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

type createProjectPairRequest struct {
	HubProjectID      int    `json:"hubProjectId"`
	TrackerProjectKey string `json:"trackerProjectKey"`
}

func (s *Server) handleCreateProjectPair(w http.ResponseWriter, r *http.Request) {
	var req createProjectPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackerProjectKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hubProjectId and trackerProjectKey are required"})
		return
	}

	rec, err := s.store.CreateProjectPair(model.ProjectPair{HubProjectID: req.HubProjectID, TrackerProjectKey: req.TrackerProjectKey})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
