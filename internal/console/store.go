package console

import "github.com/jlmwin/spira5-jira-datasync-master/internal/model"

// Store is the console's persistence seam for operators, administered
// ProjectPairs, and RunRecords. Two implementations are provided under
// memstore and pgstore, selected by the host depending on whether a
// database URL is configured.
type Store interface {
	CreateOperator(username, passwordHash string) (Operator, error)
	GetOperatorByUsername(username string) (Operator, bool, error)

	ListProjectPairs() ([]ProjectPairRecord, error)
	CreateProjectPair(pair model.ProjectPair) (ProjectPairRecord, error)

	CreateRun(run RunRecord) error
	UpdateRun(run RunRecord) error
	GetRun(id string) (RunRecord, bool, error)
}
