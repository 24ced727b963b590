package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/observability"
	"github.com/kursadbilgin/lead-retry-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minOutcomeWorkers    = 1
	outcomeInflightStage = "outcome"
)

// OutcomeRecorder applies a post-call report to the retry state.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error)
}

// OutcomeWorker consumes call outcome events and feeds them to the engine.
type OutcomeWorker struct {
	recorder    OutcomeRecorder
	consumer    queue.Consumer
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewOutcomeWorker(recorder OutcomeRecorder, consumer queue.Consumer, concurrency int, logger *zap.Logger) (*OutcomeWorker, error) {
	if recorder == nil {
		return nil, fmt.Errorf("outcome recorder is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if concurrency < minOutcomeWorkers {
		concurrency = minOutcomeWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutcomeWorker{
		recorder:    recorder,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *OutcomeWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the outcome queue until context cancellation.
func (w *OutcomeWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("outcome worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.OutcomeQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.OutcomeQueue, w.processMessage)
			if err != nil {
				w.logger.Error("outcome worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("outcome worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *OutcomeWorker) processMessage(ctx context.Context, msg queue.CallOutcomeMessage) error {
	if correlationID := strings.TrimSpace(msg.CorrelationID); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	ctx = observability.WithLeadID(ctx, msg.LeadID)
	logger := observability.WithContextLogger(w.logger, ctx)

	w.metrics.IncWorkerInFlight(outcomeInflightStage)
	defer w.metrics.DecWorkerInFlight(outcomeInflightStage)

	kind, err := w.recorder.RecordOutcome(ctx, msg.ToDomain())
	if err != nil {
		// Malformed payloads never succeed on redelivery.
		if errors.Is(err, domain.ErrValidation) {
			logger.Warn("dropping invalid call outcome", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to record call outcome: %w", err)
	}

	logger.Info("call outcome recorded",
		zap.String("callId", msg.CallID),
		zap.String("kind", string(kind)),
	)
	return nil
}
