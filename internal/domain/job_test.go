package domain

import "testing"

func TestTierCreditCost(t *testing.T) {
	if got := TierStandard.CreditCost(); got != 40 {
		t.Fatalf("standard cost = %d, want 40", got)
	}
	if got := TierPro.CreditCost(); got != 80 {
		t.Fatalf("pro cost = %d, want 80", got)
	}
}

func TestTierValid(t *testing.T) {
	if !TierStandard.Valid() || !TierPro.Valid() {
		t.Fatalf("known tiers must be valid")
	}
	if Tier("mythic").Valid() || Tier("").Valid() {
		t.Fatalf("unknown tiers must be invalid")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	live := []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning}
	for _, s := range live {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestUpdateFromJob(t *testing.T) {
	job := &Job{
		ID: "job-1", Tool: ToolUpscaler, Status: JobStatusQueued,
		QueuePosition: 3, CurrentStep: "queued",
	}
	u := UpdateFromJob(job)
	if u.JobID != "job-1" || u.Status != JobStatusQueued || u.QueuePosition != 3 {
		t.Fatalf("update = %+v", u)
	}
}
