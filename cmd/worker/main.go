package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"upscaler/internal/adapter/repo"
	"upscaler/internal/domain"
	"upscaler/internal/infra"
	"upscaler/internal/providers/gpu"
	"upscaler/internal/queue"
	"upscaler/internal/realtime"
	"upscaler/internal/storage"
)

const (
	claimPollInterval = 2 * time.Second
	sweepInterval     = time.Minute
)

type workerJobs interface {
	domain.JobRepository
	domain.JobQueue
}

type assetStore interface {
	Read(ctx context.Context, keyOrURL string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type upscaleProvider interface {
	Upscale(ctx context.Context, req gpu.UpscaleRequest) (*gpu.UpscaleResult, error)
}

type updatePublisher interface {
	PublishUpdate(ctx context.Context, u domain.JobUpdate) error
}

type jobWorker struct {
	ctx       context.Context
	jobs      workerJobs
	credits   domain.CreditRepository
	store     assetStore
	gpu       upscaleProvider
	publisher updatePublisher
	cfg       *infra.Config
	logger    infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer func() { _ = rdb.Close() }()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	gpuClient, err := gpu.NewClient(gpu.Options{
		BaseURL: cfg.GPUBaseURL,
		APIKey:  cfg.GPUAPIKey,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure gpu client")
	}
	if gpuClient.Synthetic() {
		logger.Warn().Msg("worker: gpu api key missing, using synthetic upscaling")
	}

	consumer, err := queue.NewTriggerConsumer(cfg.RabbitURL, cfg.TriggerQueue, cfg.WorkerConcurrency)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: trigger queue connection failed")
	}
	defer func() { _ = consumer.Close() }()

	w := &jobWorker{
		ctx:       ctx,
		jobs:      repo.NewJobRepository(pool),
		credits:   repo.NewCreditRepository(pool),
		store:     store,
		gpu:       gpuClient,
		publisher: realtime.NewPublisher(rdb),
		cfg:       cfg,
		logger:    logger,
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.runLoop(slot)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweepLoop()
	}()

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Str("queue", cfg.TriggerQueue).Msg("worker: started")
	if err := consumer.Consume(ctx, w.accept); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: consumer stopped")
	}

	wg.Wait()
	logger.Info().Msg("worker: stopped")
}

// accept is the authoritative acceptance step: debit the credits, place the
// job in the queue, and tell the client where it stands. The client-side
// balance check was only advisory; this is where a submission can still be
// rejected for insufficient credits.
func (w *jobWorker) accept(ctx context.Context, msg queue.TriggerMessage) error {
	job, err := w.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn().Str("job_id", msg.JobID).Msg("worker: trigger for unknown job")
			return nil
		}
		return err
	}
	if job.Status != domain.JobStatusPending {
		// Cancelled (or already handled) before acceptance; nothing was
		// debited yet, so there is nothing to unwind.
		return nil
	}

	if err := w.credits.Debit(ctx, job.UserID, job.ID, job.CreditCost); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			w.failJob(ctx, job, "insufficient credits", "accept", false)
			return nil
		}
		return err
	}

	// From here to the queued flip, every exit must unwind the debit: the
	// trigger may be redelivered and acceptance debits again from scratch.
	queued, err := w.jobs.ListQueued(ctx)
	if err != nil {
		w.refundDebit(ctx, job)
		return err
	}
	position := len(queued) + 1
	moved, err := w.jobs.MarkQueued(ctx, job.ID, position)
	if err != nil {
		w.refundDebit(ctx, job)
		return err
	}
	if !moved {
		// A cancellation committed between the debit and the queued flip.
		// The cancel path saw a pending job and refunded nothing, so the
		// debit unwinds exactly once, here. Once the flip wins, refunds
		// belong to the cancel path alone.
		w.refundDebit(ctx, job)
		return nil
	}

	job.Status = domain.JobStatusQueued
	job.QueuePosition = position
	job.CurrentStep = "queued"
	w.publish(ctx, domain.UpdateFromJob(job))
	w.logger.Info().Str("job_id", job.ID).Int("position", position).Msg("worker: job accepted")
	return nil
}

// refundDebit unwinds the acceptance debit for a job that never reached the
// queue.
func (w *jobWorker) refundDebit(ctx context.Context, job *domain.Job) {
	if err := w.credits.Refund(ctx, job.UserID, job.ID, job.CreditCost); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: acceptance refund failed")
	}
}

// runLoop claims queued jobs one at a time and processes them.
func (w *jobWorker) runLoop(slot int) {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		job, err := w.jobs.ClaimQueued(w.ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Int("slot", slot).Msg("worker: claim failed")
			}
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(claimPollInterval):
			}
			continue
		}

		w.process(job)
	}
}

func (w *jobWorker) process(job *domain.Job) {
	ctx := w.ctx
	w.logger.Info().Str("job_id", job.ID).Str("tier", string(job.Params.Tier)).Msg("worker: picked job")

	job.Status = domain.JobStatusRunning
	job.QueuePosition = 0
	job.CurrentStep = "starting"
	w.publish(ctx, domain.UpdateFromJob(job))
	w.republishPositions(ctx)

	input, err := w.store.Read(ctx, job.InputURL)
	if err != nil {
		w.failJob(ctx, job, "input asset unavailable", "load-input", true)
		return
	}

	_ = w.jobs.SetStep(ctx, job.ID, "upscaling")
	w.publishStep(ctx, job, "upscaling")

	result, err := w.gpu.Upscale(ctx, gpu.UpscaleRequest{JobID: job.ID, Image: input, Params: job.Params})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: upscale failed")
		w.failJob(ctx, job, "upscaling failed", "upscale", true)
		return
	}

	outputURL, err := w.store.Upload(ctx, outputKey(job.ID, result.ContentType), result.Data, result.ContentType)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: persist output failed")
		w.failJob(ctx, job, "failed to store result", "persist-output", true)
		return
	}

	if err := w.jobs.Complete(ctx, job.ID, outputURL); err != nil {
		if errors.Is(err, domain.ErrJobFinished) {
			// Cancelled mid-run; the cancellation path already refunded.
			w.logger.Info().Str("job_id", job.ID).Msg("worker: job cancelled before completion")
			return
		}
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: completion update failed")
		return
	}

	job.Status = domain.JobStatusCompleted
	job.OutputURL = outputURL
	job.CurrentStep = "done"
	w.publish(ctx, domain.UpdateFromJob(job))
	w.logger.Info().Str("job_id", job.ID).Msg("worker: job completed")
}

// failJob marks the job failed and publishes the terminal update. When the
// job had already been debited, the cost is returned in full; a failure is
// never charged.
func (w *jobWorker) failJob(ctx context.Context, job *domain.Job, message, step string, refund bool) {
	if err := w.jobs.Fail(ctx, job.ID, message, step); err != nil {
		if !errors.Is(err, domain.ErrJobFinished) {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: failure update failed")
		}
		return
	}
	if refund {
		if err := w.credits.Refund(ctx, job.UserID, job.ID, job.CreditCost); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: refund failed")
		}
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = message
	job.FailedAtStep = step
	w.publish(ctx, domain.UpdateFromJob(job))
}

// republishPositions tells every queued job where it now stands after the
// queue drained by one.
func (w *jobWorker) republishPositions(ctx context.Context) {
	queued, err := w.jobs.ListQueued(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: list queued failed")
		return
	}
	for i := range queued {
		job := queued[i]
		if job.QueuePosition == i+1 {
			continue
		}
		if moved, err := w.jobs.MarkQueued(ctx, job.ID, i+1); err != nil || !moved {
			continue
		}
		job.QueuePosition = i + 1
		w.publish(ctx, domain.UpdateFromJob(&job))
	}
}

func (w *jobWorker) publishStep(ctx context.Context, job *domain.Job, step string) {
	job.CurrentStep = step
	w.publish(ctx, domain.UpdateFromJob(job))
}

func (w *jobWorker) publish(ctx context.Context, u domain.JobUpdate) {
	if err := w.publisher.PublishUpdate(ctx, u); err != nil {
		w.logger.Warn().Err(err).Str("job_id", u.JobID).Msg("worker: publish update failed")
	}
}

// sweepLoop reconciles jobs the protocol left behind: pending rows whose
// trigger never got accepted, and non-terminal jobs of sessions the user
// abandoned.
func (w *jobWorker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}

		stale, err := w.jobs.FailStalePending(w.ctx, time.Now().Add(-w.cfg.PendingJobTTL))
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: stale pending sweep failed")
		}
		for i := range stale {
			// Pending jobs were never debited; fail without refund.
			w.publish(w.ctx, domain.UpdateFromJob(&stale[i]))
		}

		removed, err := w.jobs.DeleteAbandoned(w.ctx, time.Now().Add(-w.cfg.SessionIdleTTL))
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: abandoned job sweep failed")
		} else if removed > 0 {
			w.logger.Info().Int64("count", removed).Msg("worker: removed abandoned jobs")
		}
	}
}

func outputKey(jobID, contentType string) string {
	ext := ".png"
	if contentType == "image/jpeg" {
		ext = ".jpg"
	}
	return fmt.Sprintf("outputs/%s/upscaled%s", jobID, ext)
}
