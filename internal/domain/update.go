package domain

// JobUpdate is one server-pushed status event for a job. The processing
// pipeline publishes these in non-decreasing progress order; consumers must
// tolerate duplicate delivery of the same status.
type JobUpdate struct {
	JobID         string    `json:"job_id"`
	Tool          Tool      `json:"tool"`
	Status        JobStatus `json:"status"`
	QueuePosition int       `json:"queue_position,omitempty"`
	OutputURL     string    `json:"output_url,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CurrentStep   string    `json:"current_step,omitempty"`
	FailedAtStep  string    `json:"failed_at_step,omitempty"`
}

// UpdateFromJob builds the update event matching a job's current row state.
func UpdateFromJob(j *Job) JobUpdate {
	return JobUpdate{
		JobID:         j.ID,
		Tool:          j.Tool,
		Status:        j.Status,
		QueuePosition: j.QueuePosition,
		OutputURL:     j.OutputURL,
		ErrorMessage:  j.ErrorMessage,
		CurrentStep:   j.CurrentStep,
		FailedAtStep:  j.FailedAtStep,
	}
}
