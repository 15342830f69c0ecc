package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/campaignforge/bulkmailer/internal/domain"
	"github.com/campaignforge/bulkmailer/internal/message"
	"github.com/campaignforge/bulkmailer/internal/observability"
	"github.com/campaignforge/bulkmailer/internal/ratelimit"
	"github.com/campaignforge/bulkmailer/internal/repository"
	"github.com/campaignforge/bulkmailer/internal/smtptransport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerCount      = 1
	defaultSendInterval = 30 * time.Second
	defaultIdleInterval = 2 * time.Second
)

// RunState is the dispatcher's tri-state control flag shared by all workers.
type RunState string

const (
	RunStateStopped RunState = "stopped"
	RunStateSending RunState = "sending"
	RunStatePaused  RunState = "paused"
)

// stateHolder guards the run state. Workers poll it every cycle; no other
// in-process synchronization exists between them, the claim protocol in the
// data layer does the rest.
type stateHolder struct {
	mu    sync.Mutex
	state RunState
}

func newStateHolder() *stateHolder {
	return &stateHolder{state: RunStateStopped}
}

func (h *stateHolder) get() RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *stateHolder) set(state RunState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

// compareAndSet transitions from want to next, reporting whether it applied.
func (h *stateHolder) compareAndSet(want, next RunState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != want {
		return false
	}
	h.state = next
	return true
}

// Claimer pulls the next exclusively owned job.
type Claimer interface {
	ClaimNext(ctx context.Context) (*repository.ClaimedJob, error)
}

// MessageBuilder renders a claimed job into a transmittable message.
type MessageBuilder interface {
	Build(ctx context.Context, in message.BuildInput) (*message.Message, error)
}

// Transport delivers raw message bytes through the account's SMTP server.
type Transport interface {
	Send(ctx context.Context, account *domain.Account, to string, raw []byte) error
}

// CampaignStarter flips a draft campaign to sending once its jobs start
// being processed.
type CampaignStarter interface {
	MarkSending(ctx context.Context, campaignID string) error
}

// OutcomeRecorder commits terminal job state.
type OutcomeRecorder interface {
	RecordSent(ctx context.Context, claimed *repository.ClaimedJob, msg *message.Message) error
	RecordFailed(ctx context.Context, jobID, reason string) error
	RecordSkipped(ctx context.Context, jobID, reason string) error
}

// Dispatcher runs a pool of workers, each looping claim, gate-check, build,
// transmit, record, with pacing between sends. Stop is cooperative: a worker
// always finishes its in-flight job.
type Dispatcher struct {
	claimer     Claimer
	rateLimiter ratelimit.RateLimiter
	warmup      ratelimit.WarmupManager
	builder     MessageBuilder
	transport   Transport
	recorder    OutcomeRecorder
	starter     CampaignStarter
	logger      *zap.Logger
	metrics     *observability.Metrics

	sendInterval time.Duration
	idleInterval time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	state *stateHolder

	mu    sync.Mutex
	group *errgroup.Group
}

type DispatcherOption func(*Dispatcher)

func WithSendInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.sendInterval = d
		}
	}
}

func WithIdleInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.idleInterval = d
		}
	}
}

func WithMetrics(m *observability.Metrics) DispatcherOption {
	return func(dp *Dispatcher) { dp.metrics = m }
}

func WithCampaignStarter(s CampaignStarter) DispatcherOption {
	return func(dp *Dispatcher) { dp.starter = s }
}

func NewDispatcher(
	claimer Claimer,
	rateLimiter ratelimit.RateLimiter,
	warmup ratelimit.WarmupManager,
	builder MessageBuilder,
	transport Transport,
	recorder OutcomeRecorder,
	logger *zap.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		claimer:      claimer,
		rateLimiter:  rateLimiter,
		warmup:       warmup,
		builder:      builder,
		transport:    transport,
		recorder:     recorder,
		logger:       logger,
		sendInterval: defaultSendInterval,
		idleInterval: defaultIdleInterval,
		now:          time.Now,
		sleep:        sleepWithContext,
		state:        newStateHolder(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start spawns workerCount worker loops. A dispatcher that is already sending
// or paused ignores the call.
func (d *Dispatcher) Start(ctx context.Context, workerCount int) {
	if !d.state.compareAndSet(RunStateStopped, RunStateSending) {
		return
	}
	if workerCount < minWorkerCount {
		workerCount = minWorkerCount
	}
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		workerID := i + 1
		g.Go(func() error {
			d.logger.Info("worker started", zap.Int("workerId", workerID))
			d.worker(groupCtx, workerID)
			d.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	d.mu.Lock()
	d.group = g
	d.mu.Unlock()
}

// Stop flips the state to stopped and waits for every worker to finish its
// in-flight job and exit. In-flight transmissions are never cancelled.
func (d *Dispatcher) Stop() {
	state := d.state.get()
	if state == RunStateStopped {
		return
	}
	d.state.set(RunStateStopped)

	d.mu.Lock()
	g := d.group
	d.group = nil
	d.mu.Unlock()

	if g != nil {
		_ = g.Wait()
	}
}

// Pause keeps the workers alive but idle; a claimed job is still completed.
func (d *Dispatcher) Pause() {
	d.state.compareAndSet(RunStateSending, RunStatePaused)
}

func (d *Dispatcher) Resume() {
	d.state.compareAndSet(RunStatePaused, RunStateSending)
}

func (d *Dispatcher) Status() RunState {
	return d.state.get()
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		switch d.state.get() {
		case RunStateStopped:
			return
		case RunStatePaused:
			if err := d.sleep(ctx, d.idleInterval); err != nil {
				return
			}
			continue
		}

		claimed, err := d.claimer.ClaimNext(ctx)
		if err != nil {
			// Data-layer hiccups never crash the poll loop.
			d.logger.Error("claim failed", zap.Int("workerId", workerID), zap.Error(err))
			if err := d.sleep(ctx, d.idleInterval); err != nil {
				return
			}
			continue
		}
		if claimed == nil {
			if err := d.sleep(ctx, d.idleInterval); err != nil {
				return
			}
			continue
		}

		d.process(ctx, claimed)

		if err := d.sleep(ctx, d.sendInterval); err != nil {
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, claimed *repository.ClaimedJob) {
	ctx = observability.WithCampaignID(ctx, claimed.Campaign.ID)
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("job_id", claimed.Job.ID),
		zap.String("account_id", claimed.Account.ID),
		zap.String("recipient", claimed.Recipient.Email),
	)

	d.metrics.IncWorkerInFlight()
	defer d.metrics.DecWorkerInFlight()

	if claimed.Recipient.Unsubscribed {
		d.recordSkipped(ctx, logger, claimed, "recipient unsubscribed")
		return
	}

	if d.starter != nil && claimed.Campaign.Status == domain.CampaignStatusDraft {
		if err := d.starter.MarkSending(ctx, claimed.Campaign.ID); err != nil {
			logger.Warn("failed to mark campaign sending", zap.Error(err))
		} else {
			claimed.Campaign.Status = domain.CampaignStatusSending
		}
	}

	rateDecision, err := d.rateLimiter.CheckRateLimit(ctx, &claimed.Account)
	if err != nil {
		d.recordFailed(ctx, logger, claimed, "rate_limited", "rate limit check failed: "+err.Error())
		return
	}
	if !rateDecision.CanSend {
		d.recordFailed(ctx, logger, claimed, "rate_limited", "rate limit: "+rateDecision.Reason)
		return
	}

	warmupDecision, err := d.warmup.CanSendEmail(ctx, &claimed.Account)
	if err != nil {
		d.recordFailed(ctx, logger, claimed, "warmup_limited", "warmup check failed: "+err.Error())
		return
	}
	if !warmupDecision.CanSend {
		d.recordFailed(ctx, logger, claimed, "warmup_limited", "warmup limit: "+warmupDecision.Reason)
		return
	}

	msg, err := d.builder.Build(ctx, message.BuildInput{
		Campaign:  &claimed.Campaign,
		Recipient: &claimed.Recipient,
		Account:   &claimed.Account,
	})
	if err != nil {
		d.recordFailed(ctx, logger, claimed, "build_error", "message build failed: "+err.Error())
		return
	}

	// Warmup spacing beyond the regular pacing interval is slept before the
	// transmission, not after.
	if extra := warmupDecision.Delay - d.sendInterval; extra > 0 {
		if err := d.sleep(ctx, extra); err != nil {
			d.release(ctx, logger, claimed, "shutdown before transmission")
			return
		}
	}

	start := d.now()
	sendErr := d.transport.Send(ctx, &claimed.Account, claimed.Recipient.Email, msg.Raw)
	d.metrics.ObserveSendDuration(claimed.Account.ID, d.now().Sub(start))

	if sendErr != nil {
		d.recordFailed(ctx, logger, claimed, failureReason(sendErr), sendErr.Error())
		return
	}

	if err := d.rateLimiter.IncrementSentCount(ctx, claimed.Account.ID); err != nil {
		logger.Warn("failed to increment rate limit counter", zap.Error(err))
	}
	if err := d.warmup.UpdateWarmupProgress(ctx, &claimed.Account, d.now()); err != nil {
		logger.Warn("failed to update warmup progress", zap.Error(err))
	}

	if err := d.recorder.RecordSent(ctx, claimed, msg); err != nil {
		logger.Error("failed to record sent outcome", zap.Error(err))
		return
	}

	d.metrics.IncEmailSent(claimed.Account.ID)
	logger.Info("email sent", zap.String("message_id", msg.MessageID))
}

func (d *Dispatcher) recordSkipped(ctx context.Context, logger *zap.Logger, claimed *repository.ClaimedJob, reason string) {
	if err := d.recorder.RecordSkipped(ctx, claimed.Job.ID, reason); err != nil {
		logger.Error("failed to record skipped outcome", zap.Error(err))
		return
	}
	d.metrics.IncEmailSkipped(claimed.Account.ID)
	logger.Info("job skipped", zap.String("reason", reason))
}

func (d *Dispatcher) recordFailed(ctx context.Context, logger *zap.Logger, claimed *repository.ClaimedJob, reasonLabel, detail string) {
	if err := d.recorder.RecordFailed(ctx, claimed.Job.ID, detail); err != nil {
		logger.Error("failed to record failed outcome", zap.Error(err))
		return
	}
	d.metrics.IncEmailFailed(claimed.Account.ID, reasonLabel)
	logger.Warn("job failed", zap.String("reason", detail))
}

// release is the shutdown-while-waiting path: the claim is surrendered as a
// failure so the job does not rot in processing.
func (d *Dispatcher) release(ctx context.Context, logger *zap.Logger, claimed *repository.ClaimedJob, reason string) {
	// The worker context may already be done; record with a fresh one.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	d.recordFailed(recordCtx, logger, claimed, "shutdown", reason)
}

func failureReason(err error) string {
	var sendErr *smtptransport.SendError
	if errors.As(err, &sendErr) {
		return strings.ReplaceAll(string(sendErr.Kind), " ", "_")
	}
	return "other"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
