package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lead-retry-engine/internal/crm"
	"github.com/kursadbilgin/lead-retry-engine/internal/dialer"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/observability"
	"github.com/kursadbilgin/lead-retry-engine/internal/ratelimit"
	"github.com/kursadbilgin/lead-retry-engine/internal/repository"
	"github.com/kursadbilgin/lead-retry-engine/internal/schedule"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDialTimeout      = 20 * time.Second
	defaultClaimLease       = 5 * time.Minute
	defaultCycleScanLimit   = 200
	defaultCycleConcurrency = 8
	maxConflictRetries      = 3
	cycleInflightStage      = "cycle"
)

// CycleLock keeps processing cycles of different replicas from overlapping.
type CycleLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type EngineConfig struct {
	DialTimeout time.Duration
	ClaimLease  time.Duration
	ScanLimit   int
	Concurrency int
	MaxAttempts int
}

// Result is what one cycle did with one due record.
type Result struct {
	LeadID string
	Action domain.Action
	CallID string
	Error  string
}

type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
}

// Counts groups the cycle results by action.
func (r CycleReport) Counts() map[domain.Action]int {
	counts := make(map[domain.Action]int, len(r.Results))
	for _, result := range r.Results {
		counts[result.Action]++
	}
	return counts
}

type EnqueueRequest struct {
	LeadID      string
	Phone       string
	DisplayName string
	PolicyKey   domain.PolicyKey
	Reason      string
}

// Engine owns the retry state machine: it processes due records, and applies
// enqueue, cancel, override and post-call outcome operations.
type Engine struct {
	retries  repository.RetryRepository
	attempts repository.AttemptRepository
	calc     *schedule.Calculator
	dialer   dialer.Dialer
	crm      crm.Client
	limiter  ratelimit.RateLimiter
	lease    CycleLock
	clock    schedule.Clock
	logger   *zap.Logger
	metrics  *observability.Metrics
	cfg      EngineConfig
	newID    func() string

	cycleMu sync.Mutex
}

func NewEngine(
	retries repository.RetryRepository,
	attempts repository.AttemptRepository,
	calc *schedule.Calculator,
	d dialer.Dialer,
	cfg EngineConfig,
	logger *zap.Logger,
) (*Engine, error) {
	if retries == nil {
		return nil, fmt.Errorf("retry repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if calc == nil {
		return nil, fmt.Errorf("calculator is required")
	}
	if d == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = defaultClaimLease
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultCycleScanLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultCycleConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		retries:  retries,
		attempts: attempts,
		calc:     calc,
		dialer:   d,
		clock:    schedule.NewClock(calc.Location()),
		logger:   logger,
		cfg:      cfg,
		newID:    uuid.NewString,
	}, nil
}

func (e *Engine) SetCRM(client crm.Client) {
	e.crm = client
}

func (e *Engine) SetRateLimiter(limiter ratelimit.RateLimiter) {
	e.limiter = limiter
}

func (e *Engine) SetCycleLock(lock CycleLock) {
	e.lease = lock
}

func (e *Engine) SetClock(clock schedule.Clock) {
	if clock != nil {
		e.clock = clock
	}
}

func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// RunCycle processes every due record once. A second invocation while a
// cycle is running returns ErrCycleInProgress without touching any record.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !e.cycleMu.TryLock() {
		e.metrics.IncCycleSkipped()
		return CycleReport{}, domain.ErrCycleInProgress
	}
	defer e.cycleMu.Unlock()

	if e.lease != nil {
		acquired, err := e.lease.Acquire(ctx)
		if err != nil {
			return CycleReport{}, fmt.Errorf("failed to acquire cycle lease: %w", err)
		}
		if !acquired {
			e.metrics.IncCycleSkipped()
			return CycleReport{}, domain.ErrCycleInProgress
		}
		defer func() {
			if err := e.lease.Release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("failed to release cycle lease", zap.Error(err))
			}
		}()
	}

	now := e.clock.Now()
	report := CycleReport{StartedAt: now}

	due, err := e.retries.GetDue(ctx, now, e.cfg.ScanLimit)
	if err != nil {
		return report, fmt.Errorf("failed to fetch due retries: %w", err)
	}

	report.Results = make([]Result, len(due))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i := range due {
		i := i
		record := due[i]
		g.Go(func() error {
			e.metrics.IncWorkerInFlight(cycleInflightStage)
			defer e.metrics.DecWorkerInFlight(cycleInflightStage)

			report.Results[i] = e.processRecord(ctx, &record, now)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = e.clock.Now()
	for _, result := range report.Results {
		e.metrics.IncRetryAction(result.Action.String())
	}
	e.metrics.ObserveCycleDuration(report.FinishedAt.Sub(report.StartedAt))

	e.logger.Info("retry cycle finished",
		zap.Int("due", len(due)),
		zap.Any("actions", report.Counts()),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}

func (e *Engine) processRecord(ctx context.Context, rec *domain.RetryRecord, now time.Time) Result {
	ctx = observability.WithLeadID(ctx, rec.LeadID)
	logger := observability.WithContextLogger(e.logger, ctx)

	if rec.Paused {
		return Result{LeadID: rec.LeadID, Action: domain.ActionSkippedPaused}
	}

	if rec.AttemptsExhausted() {
		rec.Pause(domain.StatusMaxAttemptsReached)
		if err := e.retries.Update(ctx, rec); err != nil {
			return e.writeFailed(logger, rec, "", err)
		}
		logger.Info("retry paused at max attempts", zap.Int("attempts", rec.Attempts))
		e.comment(ctx, rec.LeadID, fmt.Sprintf("Automatic retry calling stopped after %d attempts.", rec.Attempts))
		return Result{LeadID: rec.LeadID, Action: domain.ActionPausedMaxAttempts}
	}

	if rec.HasPendingOverride() {
		override := domain.ParseOverrideInstant(rec.BusyOverrideAt, e.calc.Location())
		switch {
		case override.State == domain.OverrideValid && override.At.After(now):
			return Result{LeadID: rec.LeadID, Action: domain.ActionBusyOverridePending}
		case override.State == domain.OverrideValid:
			return e.dispatchOverride(ctx, logger, rec)
		default:
			logger.Warn("discarding unparsable busy override", zap.String("busyOverrideAt", override.Raw))
			rec.ConsumeOverride()
			if err := e.retries.Update(ctx, rec); err != nil {
				return e.writeFailed(logger, rec, "", err)
			}
		}
	}

	if rec.NextCallAt.After(now) {
		return Result{LeadID: rec.LeadID, Action: domain.ActionNotDue}
	}

	local := now.In(e.calc.Location())
	if e.calc.Rules().IsBlackout(local) {
		rec.NextCallAt = e.calc.ComputeNext(rec.PolicyKey, rec.Attempts, now)
		rec.LastStatus = domain.StatusRescheduled
		if err := e.retries.Update(ctx, rec); err != nil {
			return e.writeFailed(logger, rec, "", err)
		}
		logger.Info("retry rescheduled past blackout", zap.Time("nextCallAt", rec.NextCallAt))
		return Result{LeadID: rec.LeadID, Action: domain.ActionRescheduledDueToCutoff}
	}

	if rec.Attempts > 0 && !e.calc.IsWithinPolicyWindow(rec.PolicyKey, now) {
		rec.NextCallAt = e.calc.NextWindowStart(rec.PolicyKey, now)
		rec.LastStatus = domain.StatusRescheduled
		if err := e.retries.Update(ctx, rec); err != nil {
			return e.writeFailed(logger, rec, "", err)
		}
		logger.Info("retry rescheduled to next calling window", zap.Time("nextCallAt", rec.NextCallAt))
		return Result{LeadID: rec.LeadID, Action: domain.ActionRescheduledOutsideWindow}
	}

	return e.dispatchScheduled(ctx, logger, rec, now)
}

func (e *Engine) dispatchOverride(ctx context.Context, logger *zap.Logger, rec *domain.RetryRecord) Result {
	// Consuming the override is the claim: only one processor can win it.
	rec.ConsumeOverride()
	if err := e.retries.Update(ctx, rec); err != nil {
		return e.writeFailed(logger, rec, "", err)
	}

	// Override calls sit outside the attempt budget and are logged as attempt 0.
	callID, dialErr := e.placeCall(ctx, rec, domain.TriggerBusyOverride, 0)
	finishedAt := e.clock.Now()

	saved, err := e.settleDispatch(ctx, rec, func(r *domain.RetryRecord) {
		r.AppendCallID(callID)
		if r.Paused {
			return
		}
		if dialErr != nil {
			r.NextCallAt = e.calc.ComputeNext(r.PolicyKey, max(r.Attempts, 1), finishedAt)
			r.LastStatus = domain.StatusDispatchFailed
			return
		}
		r.LastStatus = domain.StatusBusyOverrideCalled
	})
	if err != nil {
		return e.settleFailed(logger, rec, callID, err)
	}

	if dialErr != nil {
		logger.Warn("busy override call failed", zap.Error(dialErr), zap.Time("nextCallAt", saved.NextCallAt))
		return Result{LeadID: rec.LeadID, Action: domain.ActionFailed, Error: dialErr.Error()}
	}

	logger.Info("busy override call placed", zap.String("callId", callID))
	e.comment(ctx, rec.LeadID, fmt.Sprintf("Callback placed at the time the lead requested (call id %s).", callID))
	return Result{LeadID: rec.LeadID, Action: domain.ActionBusyOverrideCallPlaced, CallID: callID}
}

func (e *Engine) dispatchScheduled(ctx context.Context, logger *zap.Logger, rec *domain.RetryRecord, now time.Time) Result {
	// Move the record out of the due set before dialing. A crash after this
	// point makes it due again once the lease runs out.
	rec.NextCallAt = now.Add(e.cfg.ClaimLease)
	if err := e.retries.Update(ctx, rec); err != nil {
		return e.writeFailed(logger, rec, "", err)
	}

	attemptNumber := rec.Attempts + 1
	callID, dialErr := e.placeCall(ctx, rec, domain.TriggerScheduled, attemptNumber)
	finishedAt := e.clock.Now()

	saved, err := e.settleDispatch(ctx, rec, func(r *domain.RetryRecord) {
		if r.Attempts < attemptNumber {
			r.Attempts = attemptNumber
		}
		r.AppendCallID(callID)
		if r.Paused {
			return
		}
		r.NextCallAt = e.calc.ComputeNext(r.PolicyKey, r.Attempts, finishedAt)
		if dialErr != nil {
			r.LastStatus = domain.StatusDispatchFailed
		} else {
			r.LastStatus = domain.StatusScheduled
		}
		if r.AttemptsExhausted() {
			r.Pause(domain.StatusMaxAttemptsReached)
		}
	})
	if err != nil {
		return e.settleFailed(logger, rec, callID, err)
	}

	if dialErr != nil {
		logger.Warn("retry call failed",
			zap.Error(dialErr),
			zap.Int("attempts", saved.Attempts),
			zap.Bool("paused", saved.Paused),
			zap.Time("nextCallAt", saved.NextCallAt),
		)
		e.comment(ctx, rec.LeadID, fmt.Sprintf("Retry call %d of %d could not be placed.", saved.Attempts, saved.MaxAttempts))
		return Result{LeadID: rec.LeadID, Action: domain.ActionFailed, Error: dialErr.Error()}
	}

	logger.Info("retry call placed",
		zap.String("callId", callID),
		zap.Int("attempts", saved.Attempts),
		zap.Bool("paused", saved.Paused),
		zap.Time("nextCallAt", saved.NextCallAt),
	)
	e.comment(ctx, rec.LeadID, fmt.Sprintf("Retry call %d of %d placed (call id %s).", saved.Attempts, saved.MaxAttempts, callID))
	return Result{LeadID: rec.LeadID, Action: domain.ActionCallScheduled, CallID: callID}
}

// settleDispatch writes the result of a dial onto the claimed record. When
// the record changed during the dial, apply runs again on the latest version
// so a placed call is never dropped. apply must leave a paused record paused.
func (e *Engine) settleDispatch(ctx context.Context, claimed *domain.RetryRecord, apply func(r *domain.RetryRecord)) (*domain.RetryRecord, error) {
	ctx = context.WithoutCancel(ctx)

	apply(claimed)
	err := e.retries.Update(ctx, claimed)
	if err == nil {
		return claimed, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}

	return e.mutate(ctx, claimed.LeadID, func(latest *domain.RetryRecord) (bool, error) {
		apply(latest)
		return true, nil
	})
}

// settleFailed reports a dial whose outcome could not be persisted.
func (e *Engine) settleFailed(logger *zap.Logger, rec *domain.RetryRecord, callID string, err error) Result {
	logger.Error("failed to persist dial result", zap.String("callId", callID), zap.Error(err))
	return Result{LeadID: rec.LeadID, Action: domain.ActionFailed, CallID: callID, Error: err.Error()}
}

// placeCall dials with a bounded timeout and records the attempt. Rate
// limiter waits count against the same timeout.
func (e *Engine) placeCall(ctx context.Context, rec *domain.RetryRecord, trigger domain.AttemptTrigger, attemptNumber int) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()

	policy := rec.PolicyKey.String()
	start := time.Now()

	callID, err := e.dial(dialCtx, rec, trigger, attemptNumber)

	e.metrics.ObserveDispatchDuration(policy, time.Since(start))
	if err != nil {
		e.metrics.IncDispatchFailed(policy, dialer.FailureReason(err))
	} else {
		e.metrics.IncCallDispatched(policy, trigger.String())
	}

	e.recordAttempt(ctx, rec.LeadID, attemptNumber, trigger, callID, err)
	return callID, err
}

func (e *Engine) dial(ctx context.Context, rec *domain.RetryRecord, trigger domain.AttemptTrigger, attemptNumber int) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, e.agentKey(rec.PolicyKey)); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	resp, err := e.dialer.PlaceCall(ctx, dialer.CallRequest{
		LeadID:    rec.LeadID,
		Phone:     rec.Phone,
		LeadName:  rec.LeadName,
		PolicyKey: rec.PolicyKey,
		Context: map[string]string{
			"trigger": trigger.String(),
			"attempt": strconv.Itoa(attemptNumber),
		},
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.CallID) == "" {
		return "", &dialer.DialError{Message: "dialer returned no call id"}
	}

	return strings.TrimSpace(resp.CallID), nil
}

func (e *Engine) agentKey(key domain.PolicyKey) string {
	if selector, ok := e.dialer.(dialer.AgentSelector); ok {
		if id := selector.AgentID(key); id != "" {
			return id
		}
	}
	return key.String()
}

func (e *Engine) recordAttempt(ctx context.Context, leadID string, attemptNumber int, trigger domain.AttemptTrigger, callID string, dialErr error) {
	attempt := &domain.CallAttempt{
		ID:            e.newID(),
		LeadID:        leadID,
		AttemptNumber: attemptNumber,
		Trigger:       trigger,
		CreatedAt:     time.Now().UTC(),
	}
	if callID != "" {
		attempt.CallID = &callID
	}
	if dialErr != nil {
		msg := dialErr.Error()
		attempt.Error = &msg
	}

	if err := e.attempts.Create(context.WithoutCancel(ctx), attempt); err != nil {
		e.logger.Error("failed to record call attempt",
			zap.String("leadId", leadID),
			zap.Int("attemptNumber", attemptNumber),
			zap.Error(err),
		)
	}
}

func (e *Engine) writeFailed(logger *zap.Logger, rec *domain.RetryRecord, callID string, err error) Result {
	if errors.Is(err, domain.ErrConflict) {
		logger.Info("retry record claimed by another processor")
		return Result{LeadID: rec.LeadID, Action: domain.ActionSkippedClaimed, CallID: callID}
	}

	logger.Error("failed to persist retry record", zap.String("callId", callID), zap.Error(err))
	return Result{LeadID: rec.LeadID, Action: domain.ActionFailed, CallID: callID, Error: err.Error()}
}

func (e *Engine) comment(ctx context.Context, leadID string, text string) {
	if e.crm == nil {
		return
	}
	if err := e.crm.AddTimelineComment(ctx, leadID, crm.EntityLead, text); err != nil {
		e.logger.Warn("failed to add crm timeline comment", zap.String("leadId", leadID), zap.Error(err))
	}
}

// Enqueue creates a retry record or touches an existing one. Paused records
// and records already scheduled in the future are returned unchanged.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.RetryRecord, error) {
	leadID := strings.TrimSpace(req.LeadID)
	if leadID == "" {
		return nil, fmt.Errorf("%w: leadId is required", domain.ErrValidation)
	}
	key := req.PolicyKey
	if !key.IsValid() {
		key = domain.PolicyDefault
	}
	phone := strings.TrimSpace(req.Phone)
	name := strings.TrimSpace(req.DisplayName)

	for i := 0; i < maxConflictRetries; i++ {
		existing, err := e.retries.GetByLeadID(ctx, leadID)
		if errors.Is(err, domain.ErrNotFound) {
			rec, createErr := e.createRecord(ctx, leadID, phone, name, key, req.Reason)
			if errors.Is(createErr, domain.ErrConflict) {
				continue
			}
			return rec, createErr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get retry record: %w", err)
		}

		now := e.clock.Now()
		if existing.Paused || existing.NextCallAt.After(now) {
			return existing, nil
		}

		existing.NextCallAt = e.calc.ComputeNext(existing.PolicyKey, existing.Attempts, now)
		if phone != "" {
			existing.Phone = phone
		}
		if name != "" {
			existing.LeadName = name
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			existing.LastStatus = reason
		}

		err = e.retries.Update(ctx, existing)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update retry record: %w", err)
		}

		e.logger.Info("retry record touched",
			zap.String("leadId", leadID),
			zap.Int("attempts", existing.Attempts),
			zap.Time("nextCallAt", existing.NextCallAt),
		)
		return existing, nil
	}

	return nil, fmt.Errorf("failed to enqueue lead %s: %w", leadID, domain.ErrConflict)
}

func (e *Engine) createRecord(ctx context.Context, leadID, phone, name string, key domain.PolicyKey, reason string) (*domain.RetryRecord, error) {
	if phone == "" && e.crm != nil {
		lead, err := e.crm.GetLead(ctx, leadID)
		if err != nil {
			e.logger.Warn("failed to fetch lead from crm", zap.String("leadId", leadID), zap.Error(err))
		} else {
			phone = lead.Phone
			if name == "" {
				name = lead.DisplayName()
			}
		}
	}
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required for a new lead", domain.ErrValidation)
	}

	now := e.clock.Now()
	status := strings.TrimSpace(reason)
	if status == "" {
		status = domain.StatusScheduled
	}

	rec := &domain.RetryRecord{
		LeadID:      leadID,
		Phone:       phone,
		LeadName:    name,
		PolicyKey:   key,
		Attempts:    0,
		MaxAttempts: e.cfg.MaxAttempts,
		NextCallAt:  e.calc.ComputeNext(key, 0, now),
		LastStatus:  status,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if err := e.retries.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create retry record: %w", err)
	}

	e.logger.Info("retry record created",
		zap.String("leadId", leadID),
		zap.String("policy", key.String()),
		zap.Time("nextCallAt", rec.NextCallAt),
	)
	return rec, nil
}

// Cancel pauses a record for good. Cancelling a paused record is a no-op.
func (e *Engine) Cancel(ctx context.Context, leadID string, reason string) (*domain.RetryRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}

	rec, err := e.mutate(ctx, leadID, func(rec *domain.RetryRecord) (bool, error) {
		if rec.Paused {
			return false, nil
		}
		rec.Pause(reason)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("retry record cancelled", zap.String("leadId", leadID), zap.String("reason", reason))
	return rec, nil
}

// ApplyOverride stores a one-shot callback instant. The raw value is kept as
// given; an unparsable value is discarded by the next cycle.
func (e *Engine) ApplyOverride(ctx context.Context, leadID string, instant string) (*domain.RetryRecord, error) {
	return e.setOverride(ctx, leadID, instant, "")
}

func (e *Engine) setOverride(ctx context.Context, leadID string, instant string, status string) (*domain.RetryRecord, error) {
	raw := strings.TrimSpace(instant)
	if raw == "" {
		return nil, fmt.Errorf("%w: override instant is required", domain.ErrValidation)
	}

	rec, err := e.mutate(ctx, leadID, func(rec *domain.RetryRecord) (bool, error) {
		if rec.Paused {
			return false, fmt.Errorf("%w: lead %s is paused", domain.ErrConflict, rec.LeadID)
		}
		rec.BusyOverrideAt = &raw
		rec.BusyOverrideConsumed = false
		if status != "" {
			rec.LastStatus = status
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("busy override applied", zap.String("leadId", leadID), zap.String("busyOverrideAt", raw))
	return rec, nil
}

// RecordOutcome routes a post-call report into the state machine.
func (e *Engine) RecordOutcome(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error) {
	if err := outcome.Validate(); err != nil {
		return domain.OutcomeIgnored, err
	}

	ctx = observability.WithLeadID(ctx, outcome.LeadID)
	logger := observability.WithContextLogger(e.logger, ctx)
	kind := outcome.Kind()
	e.metrics.IncOutcome(string(kind))

	switch kind {
	case domain.OutcomeCompleted:
		if _, err := e.Cancel(ctx, outcome.LeadID, domain.StatusCallCompleted); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return kind, err
		}
	case domain.OutcomeDisqualified:
		if _, err := e.Cancel(ctx, outcome.LeadID, domain.StatusLeadDisqualified); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return kind, err
		}
		if e.crm != nil {
			fields := map[string]any{"STATUS_ID": crm.StatusJunk}
			if err := e.crm.UpdateLead(ctx, outcome.LeadID, fields); err != nil {
				logger.Warn("failed to mark crm lead as junk", zap.Error(err))
			}
		}
		e.comment(ctx, outcome.LeadID, "Lead disqualified on call. Automatic retries stopped.")
	case domain.OutcomeBusyCallback:
		if err := e.scheduleCallback(ctx, logger, outcome); err != nil {
			return kind, err
		}
	case domain.OutcomeFailed:
		if err := e.markAttempt(ctx, outcome); err != nil {
			return kind, err
		}
		e.comment(ctx, outcome.LeadID, fmt.Sprintf("Call ended as %s. Retry scheduled automatically.", outcome.FailureStatus()))
	default:
		logger.Info("ignoring call outcome", zap.String("status", outcome.Status))
	}

	return kind, nil
}

func (e *Engine) scheduleCallback(ctx context.Context, logger *zap.Logger, outcome domain.CallOutcome) error {
	rec, err := e.Enqueue(ctx, EnqueueRequest{
		LeadID:      outcome.LeadID,
		Phone:       outcome.Phone,
		DisplayName: outcome.LeadName,
		PolicyKey:   outcome.PolicyKey,
		Reason:      domain.StatusBusy,
	})
	if err != nil {
		return err
	}
	if rec.Paused {
		logger.Info("callback requested for paused lead, ignoring")
		return nil
	}

	rec, err = e.setOverride(ctx, outcome.LeadID, *outcome.CallbackAt, domain.StatusBusy)
	if err != nil {
		return err
	}

	when := *outcome.CallbackAt
	if parsed := domain.ParseOverrideInstant(rec.BusyOverrideAt, e.calc.Location()); parsed.State == domain.OverrideValid {
		when = parsed.At.In(e.calc.Location()).Format("02 Jan 2006 03:04 PM MST")
	}
	e.comment(ctx, outcome.LeadID, fmt.Sprintf("Lead requested a callback at %s.", when))
	return nil
}

// markAttempt records a failed call reported after the fact. The dispatch was
// already counted by the cycle, so attempts are not incremented here. An
// unknown lead is enqueued fresh.
func (e *Engine) markAttempt(ctx context.Context, outcome domain.CallOutcome) error {
	status := outcome.FailureStatus()

	_, err := e.mutate(ctx, outcome.LeadID, func(rec *domain.RetryRecord) (bool, error) {
		if rec.Paused {
			return false, nil
		}
		rec.AppendCallID(outcome.CallID)
		rec.LastStatus = status
		return true, nil
	})
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	rec, err := e.Enqueue(ctx, EnqueueRequest{
		LeadID:      outcome.LeadID,
		Phone:       outcome.Phone,
		DisplayName: outcome.LeadName,
		PolicyKey:   outcome.PolicyKey,
		Reason:      status,
	})
	if err != nil {
		return err
	}
	if outcome.CallID == "" {
		return nil
	}

	_, err = e.mutate(ctx, rec.LeadID, func(rec *domain.RetryRecord) (bool, error) {
		before := len(rec.DispatchedCallIDs)
		rec.AppendCallID(outcome.CallID)
		return len(rec.DispatchedCallIDs) != before, nil
	})
	return err
}

func (e *Engine) Get(ctx context.Context, leadID string) (*domain.RetryRecord, error) {
	rec, err := e.retries.GetByLeadID(ctx, strings.TrimSpace(leadID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get retry record: %w", err)
	}
	return rec, nil
}

func (e *Engine) Attempts(ctx context.Context, leadID string) ([]domain.CallAttempt, error) {
	attempts, err := e.attempts.ListByLeadID(ctx, strings.TrimSpace(leadID))
	if err != nil {
		return nil, fmt.Errorf("failed to list call attempts: %w", err)
	}
	return attempts, nil
}

// mutate runs a read-modify-write against the store, retrying on version
// conflicts. fn reports whether it changed the record.
func (e *Engine) mutate(ctx context.Context, leadID string, fn func(rec *domain.RetryRecord) (bool, error)) (*domain.RetryRecord, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return nil, fmt.Errorf("%w: leadId is required", domain.ErrValidation)
	}

	for i := 0; i < maxConflictRetries; i++ {
		rec, err := e.retries.GetByLeadID(ctx, leadID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to get retry record: %w", err)
		}

		changed, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if !changed {
			return rec, nil
		}

		err = e.retries.Update(ctx, rec)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update retry record: %w", err)
		}
		return rec, nil
	}

	return nil, fmt.Errorf("failed to update lead %s: %w", leadID, domain.ErrConflict)
}
