// Package memstore is an in-memory console.Store, grounded in
// mapping/memstore's mutex-guarded-map pattern — itself grounded in the
// teacher's database.DB file-backed store, minus the file persistence, for
// local development and tests.
package memstore

import (
	"errors"
	"sync"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/console"
	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

var ErrOperatorExists = errors.New("operator already exists")

// Store is an in-memory console.Store.
type Store struct {
	mu sync.RWMutex

	operators       map[string]console.Operator
	nextOperatorID  int
	projectPairs    []console.ProjectPairRecord
	nextPairID      int
	runs            map[string]console.RunRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		operators:      make(map[string]console.Operator),
		nextOperatorID: 1,
		nextPairID:     1,
		runs:           make(map[string]console.RunRecord),
	}
}

func (s *Store) CreateOperator(username, passwordHash string) (console.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operators[username]; exists {
		return console.Operator{}, ErrOperatorExists
	}
	op := console.Operator{ID: s.nextOperatorID, Username: username, PasswordHash: passwordHash}
	s.nextOperatorID++
	s.operators[username] = op
	return op, nil
}

func (s *Store) GetOperatorByUsername(username string) (console.Operator, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[username]
	return op, ok, nil
}

func (s *Store) ListProjectPairs() ([]console.ProjectPairRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]console.ProjectPairRecord, len(s.projectPairs))
	copy(out, s.projectPairs)
	return out, nil
}

func (s *Store) CreateProjectPair(pair model.ProjectPair) (console.ProjectPairRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := console.ProjectPairRecord{ID: s.nextPairID, ProjectPair: pair}
	s.nextPairID++
	s.projectPairs = append(s.projectPairs, rec)
	return rec, nil
}

func (s *Store) CreateRun(run console.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *Store) UpdateRun(run console.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *Store) GetRun(id string) (console.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok, nil
}
