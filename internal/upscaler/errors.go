package upscaler

import (
	"errors"
	"fmt"

	"upscaler/internal/domain"
)

var (
	// ErrSubmissionInProgress means the submit lock is already claimed for
	// this user, i.e. a previous click's pipeline has not finished yet.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrCompressionRequired pauses the pipeline until the user confirms
	// downscaling an input above the dimension limit.
	ErrCompressionRequired = errors.New("compression required")
)

// SubmitStage locates where in the pipeline a submission attempt died. Each
// stage implies how much backend state exists: before StageCreate there is no
// job row, before StageUpload not even an uploaded asset.
type SubmitStage string

const (
	StagePrecondition SubmitStage = "precondition"
	StagePreflight    SubmitStage = "preflight"
	StageUpload       SubmitStage = "upload"
	StageCreate       SubmitStage = "create"
	StageTrigger      SubmitStage = "trigger"
)

// Conflict describes the user's already-active job blocking a new submission.
type Conflict struct {
	Tool   domain.Tool      `json:"tool"`
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

// CompressionPrompt carries the dimensions surfaced to the user when the
// pipeline pauses for compression confirmation.
type CompressionPrompt struct {
	Width           int `json:"width"`
	Height          int `json:"height"`
	TargetDimension int `json:"target_dimension"`
}

// SubmitError is the typed failure of one submission attempt. All failures
// are terminal for the attempt; the user retries with a fresh submission.
type SubmitError struct {
	Stage       SubmitStage
	Err         error
	Conflict    *Conflict
	Compression *CompressionPrompt
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Stage, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

func submitErr(stage SubmitStage, err error) *SubmitError {
	return &SubmitError{Stage: stage, Err: err}
}
