package tenant

// Result is the success/failure envelope shared by every lifecycle operation.
// Expected failures (validation, not found, conflict, database errors inside an
// operation) are reported here; the Go error return is kept for faults the
// caller cannot branch on.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Err = err
	r.Error = errorMessage(err)
}

func (r *Result) succeed() {
	r.Success = true
	r.Err = nil
	r.Error = ""
}

func resultLabel(r Result) string {
	if r.Success {
		return "success"
	}
	return "failed"
}

// Outcome classifies one provisioning statement
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped-as-duplicate"
	OutcomeFailed  Outcome = "failed"
)

// StatementOutcome records what happened to one template statement
type StatementOutcome struct {
	Index     int     `json:"index"`
	Statement string  `json:"statement"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

type CreateResult struct {
	Result
	SchemaName string             `json:"schemaName"`
	Statements []StatementOutcome `json:"statements,omitempty"`
}

// Count returns how many statements ended with outcome o
func (r *CreateResult) Count(o Outcome) int {
	n := 0
	for _, s := range r.Statements {
		if s.Outcome == o {
			n++
		}
	}
	return n
}

type DropResult struct {
	Result
	SchemaName string `json:"schemaName"`
	Forced     bool   `json:"forced"`
}

// Stats are operational counters for one tenant schema
type Stats struct {
	ActiveStudents     int64 `json:"activeStudents"`
	ActiveTeachers     int64 `json:"activeTeachers"`
	ActiveClasses      int64 `json:"activeClasses"`
	IncidentsThisMonth int64 `json:"incidentsThisMonth"`
	MeritsThisMonth    int64 `json:"meritsThisMonth"`
}

type StatsResult struct {
	Result
	SchemaName string `json:"schemaName"`
	Stats      Stats  `json:"stats"`
}

// TableRows is a table name with a row count
type TableRows struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

type BackupResult struct {
	Result
	SchemaName string      `json:"schemaName"`
	Path       string      `json:"path"`
	Tables     []TableRows `json:"tables"`
	Bytes      int64       `json:"bytes"`
}

// TotalRows sums the rows written across tables
func (r *BackupResult) TotalRows() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

type RestoreResult struct {
	Result
	Path       string `json:"path"`
	Statements int    `json:"statements"`
}

// SkippedTable is a table clone could not copy
type SkippedTable struct {
	Table string `json:"table"`
	Error string `json:"error"`
}

type CloneResult struct {
	Result
	SourceSchema string         `json:"sourceSchema"`
	TargetSchema string         `json:"targetSchema"`
	Copied       []TableRows    `json:"copied"`
	Skipped      []SkippedTable `json:"skipped,omitempty"`
}
