package domain

// CycleStatus is the final status of a cycle.
type CycleStatus string

const (
	CycleCompleted CycleStatus = "COMPLETED"
	CycleFailed    CycleStatus = "FAILED" // aborted at the cycle boundary
)

// CycleReport summarizes one scan -> validate -> execute pass.
// Corresponds to keeper_cycles table in PostgreSQL.
type CycleReport struct {
	CycleID           string
	StartedAt         int64 // Unix timestamp in milliseconds
	FinishedAt        int64 // Unix timestamp in milliseconds
	VaultCount        int64
	Candidates        int
	Skipped           int // read fine, rejected by the cheap filter
	ScanErrors        int
	Executed          int
	Failed            int
	Deferred          int
	Errors            int
	MinYieldThreshold string // decimal, as read from the ledger
	DryRun            bool
	Status            CycleStatus
	Error             string
}

// Tally folds outcome states into the report counters.
func (r *CycleReport) Tally(outcomes []*Outcome) {
	for _, o := range outcomes {
		switch {
		case o.State == StateSubmittedSuccess:
			r.Executed++
		case o.State.IsDeferred():
			r.Deferred++
		case o.State.IsFailure():
			r.Failed++
		}
	}
	r.Errors = r.ScanErrors + r.Failed
}
