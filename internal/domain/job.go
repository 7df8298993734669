package domain

import "time"

// Tool identifies a tool in the AI tool family. Every job belongs to exactly
// one tool, and the single-active-job rule spans all of them.
type Tool string

const (
	ToolUpscaler Tool = "upscaler-arcano"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	// JobStatusPending means the job row exists but the processing pipeline
	// has not accepted it yet. No credits have been charged.
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Tier selects the processing quality level. The credit cost of a job is
// fixed by its tier at submission time.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// Valid reports whether the tier is one the service accepts.
func (t Tier) Valid() bool {
	return t == TierStandard || t == TierPro
}

// CreditCost returns the fixed cost for the tier.
func (t Tier) CreditCost() int {
	if t == TierPro {
		return 80
	}
	return 40
}

// JobParams is the flat tool configuration attached to a job.
type JobParams struct {
	Tier       Tier    `json:"tier"`
	Scale      int     `json:"scale"`
	Creativity float64 `json:"creativity"`
	Denoise    float64 `json:"denoise"`
	Prompt     string  `json:"prompt"`
	Category   string  `json:"category"`
}

// Job encapsulates one unit of asynchronous upscaling work. Rows are created
// by the submission pipeline strictly after the input asset is durable, and
// mutated afterwards only by the processing pipeline.
type Job struct {
	ID            string
	UserID        string
	Tool          Tool
	SessionID     string
	Status        JobStatus
	Params        JobParams
	InputURL      string
	OutputURL     string
	ErrorMessage  string
	QueuePosition int
	CurrentStep   string
	FailedAtStep  string
	CreditCost    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
