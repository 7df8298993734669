package upscaler

import (
	"testing"

	"upscaler/internal/domain"
)

func TestReduceHappyPath(t *testing.T) {
	st := State{Phase: PhaseProcessing, JobID: "job-1", CurrentStep: "submitted"}

	st, terminal := Reduce(st, domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusQueued, QueuePosition: 3})
	if terminal {
		t.Fatalf("queued must not be terminal")
	}
	if !st.Queued || st.QueuePosition != 3 || st.Phase != PhaseProcessing {
		t.Fatalf("unexpected queued state: %+v", st)
	}

	st, terminal = Reduce(st, domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusRunning})
	if terminal {
		t.Fatalf("running must not be terminal")
	}
	if st.Queued || st.QueuePosition != 0 {
		t.Fatalf("queue position must clear on running: %+v", st)
	}

	st, terminal = Reduce(st, domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusCompleted, OutputURL: "http://x/out.png"})
	if !terminal {
		t.Fatalf("completed must be terminal")
	}
	if st.Phase != PhaseCompleted || st.OutputURL != "http://x/out.png" {
		t.Fatalf("unexpected completed state: %+v", st)
	}
}

func TestReduceTerminalFinality(t *testing.T) {
	st := State{Phase: PhaseProcessing, JobID: "job-1"}
	st, _ = Reduce(st, domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusCompleted, OutputURL: "http://x/a.png"})

	cases := []domain.JobUpdate{
		{JobID: "job-1", Status: domain.JobStatusCompleted, OutputURL: "http://x/a.png"},
		{JobID: "job-1", Status: domain.JobStatusCompleted, OutputURL: "http://x/other.png"},
		{JobID: "job-1", Status: domain.JobStatusFailed, ErrorMessage: "late failure"},
		{JobID: "job-1", Status: domain.JobStatusQueued, QueuePosition: 9},
	}
	for _, u := range cases {
		next, terminal := Reduce(st, u)
		if !terminal {
			t.Fatalf("terminal state lost on %+v", u)
		}
		if next != st {
			t.Fatalf("terminal state mutated by %+v: %+v", u, next)
		}
	}
}

func TestReduceCompletedWithoutOutputIsFailure(t *testing.T) {
	st := State{Phase: PhaseProcessing, JobID: "job-1"}
	st, terminal := Reduce(st, domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusCompleted})
	if !terminal {
		t.Fatalf("anomaly must be terminal")
	}
	if st.Phase != PhaseFailed {
		t.Fatalf("completed without output must map to failure, got %+v", st)
	}
	if st.ErrorMessage == "" {
		t.Fatalf("anomaly must carry an error message")
	}
}

func TestReduceIgnoresForeignJob(t *testing.T) {
	st := State{Phase: PhaseProcessing, JobID: "job-1"}
	next, terminal := Reduce(st, domain.JobUpdate{JobID: "job-2", Status: domain.JobStatusFailed, ErrorMessage: "boom"})
	if terminal || next != st {
		t.Fatalf("foreign update must be ignored, got %+v", next)
	}
}

func TestReduceDuplicateQueuedIsIdempotent(t *testing.T) {
	st := State{Phase: PhaseProcessing, JobID: "job-1"}
	u := domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusQueued, QueuePosition: 2}
	st, _ = Reduce(st, u)
	again, _ := Reduce(st, u)
	if again != st {
		t.Fatalf("duplicate queued update changed state: %+v vs %+v", again, st)
	}
}

func TestReduceCancelledResetsToIdle(t *testing.T) {
	st := State{Phase: PhaseProcessing, JobID: "job-1", Queued: true, QueuePosition: 4}
	st, terminal := Reduce(st, domain.JobUpdate{JobID: "job-1", Status: domain.JobStatusCancelled})
	if !terminal {
		t.Fatalf("cancelled must end the subscription")
	}
	if st.Phase != PhaseIdle || st.JobID != "" {
		t.Fatalf("cancelled must reset to idle, got %+v", st)
	}
}

func TestStateFromJob(t *testing.T) {
	cases := []struct {
		name string
		job  domain.Job
		want Phase
	}{
		{"pending", domain.Job{ID: "j", Status: domain.JobStatusPending}, PhaseProcessing},
		{"queued", domain.Job{ID: "j", Status: domain.JobStatusQueued, QueuePosition: 2}, PhaseProcessing},
		{"running", domain.Job{ID: "j", Status: domain.JobStatusRunning}, PhaseProcessing},
		{"completed", domain.Job{ID: "j", Status: domain.JobStatusCompleted, OutputURL: "http://x/a.png"}, PhaseCompleted},
		{"completed-anomaly", domain.Job{ID: "j", Status: domain.JobStatusCompleted}, PhaseFailed},
		{"failed", domain.Job{ID: "j", Status: domain.JobStatusFailed, ErrorMessage: "boom"}, PhaseFailed},
		{"cancelled", domain.Job{ID: "j", Status: domain.JobStatusCancelled}, PhaseIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := StateFromJob(&tc.job)
			if st.Phase != tc.want {
				t.Fatalf("phase = %s, want %s (%+v)", st.Phase, tc.want, st)
			}
			if tc.name == "queued" && (!st.Queued || st.QueuePosition != 2) {
				t.Fatalf("queued seed lost position: %+v", st)
			}
		})
	}
}
