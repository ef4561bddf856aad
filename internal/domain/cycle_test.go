package domain

import "testing"

func TestCycleReport_Tally(t *testing.T) {
	r := &CycleReport{ScanErrors: 2}
	r.Tally([]*Outcome{
		{State: StateSubmittedSuccess},
		{State: StateSubmittedSuccess},
		{State: StateSubmittedFailed},
		{State: StateError},
		{State: StateZeroDebt},
		{State: StatePriceUnavailable},
		{State: StateLowHealth},
		{State: StateEligible},
	})

	if r.Executed != 2 {
		t.Errorf("Executed = %d, want 2", r.Executed)
	}
	if r.Failed != 2 {
		t.Errorf("Failed = %d, want 2", r.Failed)
	}
	if r.Deferred != 3 {
		t.Errorf("Deferred = %d, want 3", r.Deferred)
	}
	if r.Errors != 4 {
		t.Errorf("Errors = %d, want 4 (scan errors + failed)", r.Errors)
	}
}
