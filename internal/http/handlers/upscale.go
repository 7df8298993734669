package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"upscaler/internal/domain"
	"upscaler/internal/middleware"
	"upscaler/internal/upscaler"
)

// Session mints a fresh submission session. One per page visit; a previous
// session is never resumed.
func (a *App) Session(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
		return
	}
	id, err := a.Sessions.Create(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: create session failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create session")
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"session_id": id})
}

// Balance returns the authoritative credit balance.
func (a *App) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	balance, err := a.Upscaler.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
			return
		}
		a.Logger.Error().Err(err).Msg("api: balance read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read balance")
		return
	}
	a.json(w, http.StatusOK, map[string]int{"balance": balance})
}

// ActiveJob reports whether the user already has a job in flight in any tool.
func (a *App) ActiveJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
		return
	}
	conflict, err := a.Upscaler.ActiveJob(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("api: active job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to check active job")
		return
	}
	if conflict == nil {
		a.json(w, http.StatusOK, map[string]any{"has_active_job": false})
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"has_active_job": true,
		"tool":           conflict.Tool,
		"job_id":         conflict.JobID,
		"status":         conflict.Status,
	})
}

// Submit runs one submission attempt through the pipeline.
func (a *App) Submit(w http.ResponseWriter, r *http.Request) {
	// The reader cap sits above the validation limit so an oversized file is
	// reported as a validation error, not a broken connection.
	r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes+(4<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}

	var data []byte
	if file, _, err := r.FormFile("image"); err == nil {
		data, err = io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "failed to read image")
			return
		}
	}

	in := upscaler.SubmitInput{
		UserID:          middleware.UserIDFromContext(r.Context()),
		SessionID:       r.FormValue("session_id"),
		Filename:        r.FormValue("filename"),
		Data:            data,
		ConfirmCompress: r.FormValue("confirm_compress") == "true",
		Params: domain.JobParams{
			Tier:       domain.Tier(r.FormValue("tier")),
			Scale:      formInt(r, "scale", 2),
			Creativity: formFloat(r, "creativity", 0.3),
			Denoise:    formFloat(r, "denoise", 0.5),
			Prompt:     r.FormValue("prompt"),
			Category:   r.FormValue("category"),
		},
	}

	result, err := a.Upscaler.Submit(r.Context(), in)
	if err != nil {
		a.submitError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, result)
}

func (a *App) submitError(w http.ResponseWriter, err error) {
	var se *upscaler.SubmitError
	if !errors.As(err, &se) {
		a.Logger.Error().Err(err).Msg("api: submit failed")
		a.error(w, http.StatusInternalServerError, "internal", "submission failed")
		return
	}

	switch {
	case errors.Is(se.Err, upscaler.ErrSubmissionInProgress):
		a.error(w, http.StatusTooManyRequests, "submission_in_progress", "a submission is already being processed")
	case errors.Is(se.Err, domain.ErrNoInputImage):
		a.error(w, http.StatusUnprocessableEntity, "no_image", "select an image first")
	case errors.Is(se.Err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
	case errors.Is(se.Err, domain.ErrActiveJobExists):
		a.json(w, http.StatusConflict, map[string]any{
			"error":    "active_job_exists",
			"message":  "finish or cancel your current job first",
			"conflict": se.Conflict,
		})
	case errors.Is(se.Err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusUnprocessableEntity, "insufficient_credits", "not enough credits for this tier")
	case errors.Is(se.Err, domain.ErrImageTooLarge):
		a.error(w, http.StatusUnprocessableEntity, "file_too_large", "image exceeds the upload size limit")
	case errors.Is(se.Err, domain.ErrInvalidImage):
		a.error(w, http.StatusUnprocessableEntity, "bad_image", "file is not a supported image")
	case errors.Is(se.Err, upscaler.ErrCompressionRequired):
		a.json(w, http.StatusConflict, map[string]any{
			"error":       "compression_required",
			"message":     "image exceeds the maximum dimension and must be compressed",
			"compression": se.Compression,
		})
	default:
		a.Logger.Error().Err(se).Str("stage", string(se.Stage)).Msg("api: submit stage failed")
		code := map[upscaler.SubmitStage]string{
			upscaler.StageUpload:  "upload_failed",
			upscaler.StageCreate:  "job_create_failed",
			upscaler.StageTrigger: "processing_start_failed",
		}[se.Stage]
		if code == "" {
			code = "internal"
		}
		a.error(w, http.StatusBadGateway, code, "submission failed, please try again")
	}
}

// Cancel aborts the user's queued or running job and reports the refund.
func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")
	result, err := a.Upscaler.Cancel(r.Context(), jobID, userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: cancel failed")
			a.error(w, http.StatusInternalServerError, "internal", "cancellation failed")
		}
		return
	}
	a.json(w, http.StatusOK, result)
}

// Job returns a snapshot of one job row.
func (a *App) Job(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Upscaler.Job(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: job read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":             job.ID,
		"tool":           job.Tool,
		"status":         job.Status,
		"queue_position": job.QueuePosition,
		"input_url":      job.InputURL,
		"output_url":     job.OutputURL,
		"error_message":  job.ErrorMessage,
		"current_step":   job.CurrentStep,
		"failed_at_step": job.FailedAtStep,
		"credit_cost":    job.CreditCost,
		"params":         job.Params,
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
	})
}

// JobEvents streams tracked state for one job as server-sent events. The
// stream replays the last-known state on connect and closes after a terminal
// state has been delivered.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "not_logged_in", "login required")
		return
	}
	jobID := chi.URLParam(r, "job_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	st, updates, stop, err := a.Upscaler.WatchJob(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: watch failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to watch job")
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeState := func(s upscaler.State) {
		payload, _ := json.Marshal(s)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	writeState(st)
	if st.Terminal() || st.Phase == upscaler.PhaseIdle {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			writeState(next)
			if next.Terminal() || next.Phase == upscaler.PhaseIdle {
				return
			}
		}
	}
}

func formInt(r *http.Request, key string, fallback int) int {
	if v := r.FormValue(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func formFloat(r *http.Request, key string, fallback float64) float64 {
	if v := r.FormValue(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
