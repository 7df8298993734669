package upscaler

import "upscaler/internal/domain"

// Phase is the client-visible top-level lifecycle phase. Queueing is not a
// phase of its own: it is a condition that holds while processing, surfaced
// through Queued/QueuePosition.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// State is the full tracked state of the current submission. It is a value
// type reduced through Reduce, so illegal combinations (a completed state
// without an output) cannot be reached.
type State struct {
	Phase         Phase  `json:"phase"`
	JobID         string `json:"job_id,omitempty"`
	Queued        bool   `json:"queued,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	OutputURL     string `json:"output_url,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CurrentStep   string `json:"current_step,omitempty"`
	FailedAtStep  string `json:"failed_at_step,omitempty"`
}

// Terminal reports whether the state accepts no further updates.
func (s State) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseFailed
}

const msgCompletedWithoutOutput = "completed without an output asset"

// Reduce applies one server-pushed update to the state. It is idempotent
// under duplicate delivery and monotonic: once terminal, nothing moves it.
// The second return value reports whether the state is now terminal and the
// subscription should be torn down.
func Reduce(s State, u domain.JobUpdate) (State, bool) {
	if s.Terminal() {
		return s, true
	}
	if s.JobID != "" && u.JobID != s.JobID {
		// Stray event for a dead or foreign job.
		return s, false
	}

	next := s
	next.JobID = u.JobID
	if u.CurrentStep != "" {
		next.CurrentStep = u.CurrentStep
	}

	switch u.Status {
	case domain.JobStatusPending:
		next.Phase = PhaseProcessing
	case domain.JobStatusQueued:
		next.Phase = PhaseProcessing
		next.Queued = true
		next.QueuePosition = u.QueuePosition
	case domain.JobStatusRunning:
		next.Phase = PhaseProcessing
		next.Queued = false
		next.QueuePosition = 0
	case domain.JobStatusCompleted:
		next.Queued = false
		next.QueuePosition = 0
		if u.OutputURL == "" {
			// Protocol anomaly: never surface success without an output.
			next.Phase = PhaseFailed
			next.ErrorMessage = msgCompletedWithoutOutput
			next.FailedAtStep = "finalize"
			return next, true
		}
		next.Phase = PhaseCompleted
		next.OutputURL = u.OutputURL
		return next, true
	case domain.JobStatusFailed:
		next.Phase = PhaseFailed
		next.Queued = false
		next.QueuePosition = 0
		next.ErrorMessage = u.ErrorMessage
		next.FailedAtStep = u.FailedAtStep
		if next.ErrorMessage == "" {
			next.ErrorMessage = "processing failed"
		}
		return next, true
	case domain.JobStatusCancelled:
		// Cancellation resolves the whole attempt; the tracker returns to
		// idle rather than holding a terminal tombstone.
		return State{Phase: PhaseIdle}, true
	}
	return next, false
}

// StateFromJob seeds a State from a persisted job row, for subscribers that
// attach after submission (page reloads, second tabs).
func StateFromJob(j *domain.Job) State {
	st, _ := Reduce(State{Phase: PhaseProcessing, JobID: j.ID}, domain.UpdateFromJob(j))
	return st
}
