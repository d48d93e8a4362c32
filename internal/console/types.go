// Package console is the operator console (§4.6): a small gorilla/mux HTTP
// host that schedules and observes Reconciliation Engine runs. It contains
// no reconciliation logic of its own — it is illustrative of how a
// production host invokes engine.Execute on its own cadence (§6.1).
package console

import (
	"time"

	"github.com/jlmwin/spira5-jira-datasync-master/internal/model"
)

// Operator is a console user allowed to trigger and observe runs.
type Operator struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// ProjectPairRecord is an administratively-created model.ProjectPair, given
// a console-local identity for CRUD.
type ProjectPairRecord struct {
	ID int
	model.ProjectPair
	CreatedAt time.Time
}

// RunOutcome mirrors engine.Outcome plus the in-flight state the console
// tracks that the engine itself has no notion of.
type RunOutcome string

const (
	RunRunning RunOutcome = "Running"
	RunSuccess RunOutcome = "Success"
	RunError   RunOutcome = "Error"
)

// PhaseEvent records one engine.Phase transition against wall-clock time.
type PhaseEvent struct {
	Phase string
	At    time.Time
}

// RunRecord is the console's persisted summary of one Execute invocation
// (§4.6, GLOSSARY).
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    RunOutcome
	Error      string
	PhaseLog   []PhaseEvent
}
