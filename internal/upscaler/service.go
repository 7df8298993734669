package upscaler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"upscaler/internal/domain"
	"upscaler/internal/infra"
	"upscaler/internal/queue"
)

// ObjectStore is the durable storage the input asset lands in before any job
// record can reference it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// JobStore is the slice of the job table the submission side needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error)
	ActiveForUser(ctx context.Context, userID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID, userID string) (*domain.Job, error)
}

// CreditSource reads balances and applies backend-decided refunds.
type CreditSource interface {
	Balance(ctx context.Context, userID string) (int, error)
	Refund(ctx context.Context, userID, jobID string, amount int) error
}

// Trigger hands an accepted job to the remote processing pipeline.
type Trigger interface {
	PublishTrigger(ctx context.Context, msg queue.TriggerMessage) error
}

// UpdatePublisher pushes updates back onto the realtime channel; the client
// core only uses it to converge other tabs after a cancellation.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, u domain.JobUpdate) error
}

// SessionStore records submission-session activity for cleanup scoping.
type SessionStore interface {
	Touch(ctx context.Context, sessionID string) error
}

// Config carries the client-enforced validation constants and the refund
// policy knob.
type Config struct {
	MaxUploadBytes       int64
	MaxInputDimension    int
	WorkingDimension     int
	RunningRefundPercent int
}

// Deps bundles the collaborators of the submission service.
type Deps struct {
	Store     ObjectStore
	Jobs      JobStore
	Credits   CreditSource
	Trigger   Trigger
	Updates   UpdateSource
	Publisher UpdatePublisher
	Sessions  SessionStore
	Logger    infra.Logger
}

// Service is the client core of the upscaler tool: submission pipeline,
// active-job guard, debounce guard, credit accessor, job tracking and
// cancellation, wired over external collaborators.
type Service struct {
	cfg    Config
	deps   Deps
	guard  *Guard
	ledger *Ledger
	locks  *SubmitLocks

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewService wires the submission service.
func NewService(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		deps:     deps,
		guard:    NewGuard(deps.Jobs),
		ledger:   NewLedger(deps.Credits),
		locks:    NewSubmitLocks(),
		trackers: make(map[string]*Tracker),
	}
}

// SubmitInput is one user-initiated submission attempt.
type SubmitInput struct {
	UserID          string
	SessionID       string
	Filename        string
	Data            []byte
	Params          domain.JobParams
	ConfirmCompress bool
}

// SubmitResult confirms a job was accepted for processing. It says nothing
// about processing having started; that arrives over the realtime channel.
type SubmitResult struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Cost   int              `json:"credit_cost"`
}

// Submit runs the submission pipeline. The order is deliberate and fixed:
// debounce claim, preconditions (image, auth, active-job guard, advisory
// credit check), preflight, then the strictly sequential network steps
// upload -> job creation -> trigger. Each step's success is a precondition
// for the next; no step is retried.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if !s.locks.TryStart(in.UserID) {
		return SubmitResult{}, submitErr(StagePrecondition, ErrSubmissionInProgress)
	}
	defer s.locks.Release(in.UserID)

	if len(in.Data) == 0 {
		return SubmitResult{}, submitErr(StagePrecondition, domain.ErrNoInputImage)
	}
	if in.UserID == "" {
		return SubmitResult{}, submitErr(StagePrecondition, domain.ErrUnauthorized)
	}
	if !in.Params.Tier.Valid() {
		in.Params.Tier = domain.TierStandard
	}

	conflict, err := s.guard.Check(ctx, in.UserID)
	if err != nil {
		return SubmitResult{}, submitErr(StagePrecondition, fmt.Errorf("active job check: %w", err))
	}
	if conflict != nil {
		return SubmitResult{}, &SubmitError{Stage: StagePrecondition, Err: domain.ErrActiveJobExists, Conflict: conflict}
	}

	// Advisory only. The authoritative check and debit happen when the
	// processing pipeline accepts the job.
	cost := in.Params.Tier.CreditCost()
	balance, err := s.ledger.Balance(ctx, in.UserID)
	if err != nil {
		return SubmitResult{}, submitErr(StagePrecondition, fmt.Errorf("balance check: %w", err))
	}
	if balance < cost {
		return SubmitResult{}, submitErr(StagePrecondition, domain.ErrInsufficientCredits)
	}

	if int64(len(in.Data)) > s.cfg.MaxUploadBytes {
		return SubmitResult{}, submitErr(StagePreflight, domain.ErrImageTooLarge)
	}
	width, height, err := Inspect(in.Data)
	if err != nil {
		return SubmitResult{}, submitErr(StagePreflight, err)
	}
	if NeedsCompression(width, height, s.cfg.MaxInputDimension) && !in.ConfirmCompress {
		return SubmitResult{}, &SubmitError{
			Stage: StagePreflight,
			Err:   ErrCompressionRequired,
			Compression: &CompressionPrompt{
				Width:           width,
				Height:          height,
				TargetDimension: s.cfg.MaxInputDimension,
			},
		}
	}
	data, contentType, err := Normalize(in.Data, s.cfg.WorkingDimension)
	if err != nil {
		return SubmitResult{}, submitErr(StagePreflight, err)
	}

	// Upload before job creation, always: a job row must never exist whose
	// input cannot already be dereferenced. An uploaded file with no job is
	// a harmless orphan; the reverse is not.
	key := fmt.Sprintf("inputs/%s/%s%s", sessionSegment(in.SessionID), uuid.NewString(), extensionForMIME(contentType))
	inputURL, err := s.deps.Store.Upload(ctx, key, data, contentType)
	if err != nil {
		return SubmitResult{}, submitErr(StageUpload, fmt.Errorf("upload input: %w", err))
	}

	job := &domain.Job{
		UserID:     in.UserID,
		Tool:       domain.ToolUpscaler,
		SessionID:  in.SessionID,
		Status:     domain.JobStatusPending,
		Params:     in.Params,
		InputURL:   inputURL,
		CreditCost: cost,
	}
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		// The uploaded asset stays behind; it is cheap to garbage-collect.
		return SubmitResult{}, submitErr(StageCreate, fmt.Errorf("create job: %w", err))
	}

	if err := s.deps.Trigger.PublishTrigger(ctx, queue.TriggerMessage{
		JobID:    job.ID,
		Tool:     job.Tool,
		ImageURL: inputURL,
		Params:   in.Params,
	}); err != nil {
		// The job row exists but was never accepted; the sweeper reconciles
		// stale pending rows, the client only reports the start failure.
		return SubmitResult{}, submitErr(StageTrigger, fmt.Errorf("start processing: %w", err))
	}

	if s.deps.Sessions != nil && in.SessionID != "" {
		if err := s.deps.Sessions.Touch(ctx, in.SessionID); err != nil {
			s.deps.Logger.Warn().Err(err).Str("session_id", in.SessionID).Msg("upscaler: session touch failed")
		}
	}

	// Authoritative re-read; the debit happened (or will) backend-side.
	if _, err := s.ledger.Refresh(ctx, in.UserID); err != nil {
		s.deps.Logger.Warn().Err(err).Str("user_id", in.UserID).Msg("upscaler: balance refresh failed")
	}

	// Hand off to the realtime subscriber. The subscription must outlive
	// this request.
	if err := s.trackerFor(in.UserID).Track(context.WithoutCancel(ctx), job.ID, s.deps.Updates); err != nil {
		s.deps.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("upscaler: realtime subscribe failed")
	}

	return SubmitResult{JobID: job.ID, Status: job.Status, Cost: cost}, nil
}

// Balance re-reads the authoritative credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.ErrUnauthorized
	}
	return s.ledger.Refresh(ctx, userID)
}

// ActiveJob reports the user's in-flight job, nil when there is none.
func (s *Service) ActiveJob(ctx context.Context, userID string) (*Conflict, error) {
	return s.guard.Check(ctx, userID)
}

// Job returns a snapshot of a job owned by the user.
func (s *Service) Job(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	return s.deps.Jobs.GetForUser(ctx, jobID, userID)
}

// WatchJob attaches to the live state of a job: through the user's tracker
// when it is the currently tracked job, otherwise through a fresh reduction
// seeded from the persisted row. The returned channel closes once the state
// is terminal; stop must be called when the watcher goes away early.
func (s *Service) WatchJob(ctx context.Context, jobID, userID string) (State, <-chan State, func(), error) {
	t := s.trackerFor(userID)
	if st := t.State(); st.JobID == jobID {
		cur, ch, cancel := t.Listen()
		return cur, ch, cancel, nil
	}

	job, err := s.deps.Jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return State{}, nil, nil, err
	}
	st := StateFromJob(job)
	if st.Terminal() || st.Phase == PhaseIdle {
		ch := make(chan State)
		close(ch)
		return st, ch, func() {}, nil
	}

	updates, stop, err := s.deps.Updates.Subscribe(ctx, jobID)
	if err != nil {
		return State{}, nil, nil, err
	}
	out := make(chan State, 8)
	go func() {
		defer close(out)
		cur := st
		for u := range updates {
			next, terminal := Reduce(cur, u)
			if next != cur {
				cur = next
				select {
				case out <- next:
				case <-ctx.Done():
					stop()
					return
				}
			}
			if terminal {
				stop()
				return
			}
		}
	}()
	return st, out, stop, nil
}

// TrackedState exposes the tracker snapshot for the user's tool instance.
func (s *Service) TrackedState(userID string) State {
	return s.trackerFor(userID).State()
}

func (s *Service) trackerFor(userID string) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[userID]
	if !ok {
		t = NewTracker()
		s.trackers[userID] = t
	}
	return t
}

func sessionSegment(sessionID string) string {
	if sessionID == "" {
		return "adhoc"
	}
	return sessionID
}
