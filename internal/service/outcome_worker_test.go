package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/observability"
	"github.com/kursadbilgin/lead-retry-engine/internal/queue"
	"go.uber.org/zap"
)

type fakeOutcomeRecorder struct {
	recordFn func(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error)
}

func (f *fakeOutcomeRecorder) RecordOutcome(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error) {
	if f.recordFn != nil {
		return f.recordFn(ctx, outcome)
	}
	return domain.OutcomeIgnored, nil
}

func TestNewOutcomeWorkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewOutcomeWorker(nil, &fakeConsumer{}, 1, nil); err == nil {
		t.Fatal("expected error for nil recorder")
	}
	if _, err := NewOutcomeWorker(&fakeOutcomeRecorder{}, nil, 1, nil); err == nil {
		t.Fatal("expected error for nil consumer")
	}

	worker, err := NewOutcomeWorker(&fakeOutcomeRecorder{}, &fakeConsumer{}, 0, nil)
	if err != nil {
		t.Fatalf("NewOutcomeWorker() error = %v", err)
	}
	if worker.concurrency != minOutcomeWorkers {
		t.Fatalf("concurrency = %d, want %d", worker.concurrency, minOutcomeWorkers)
	}
}

func TestOutcomeWorkerProcessMessage(t *testing.T) {
	t.Parallel()

	var got domain.CallOutcome
	var gotCorrelation string
	recorder := &fakeOutcomeRecorder{
		recordFn: func(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error) {
			got = outcome
			gotCorrelation, _ = observability.CorrelationIDFromContext(ctx)
			return domain.OutcomeBusyCallback, nil
		},
	}

	worker, err := NewOutcomeWorker(recorder, &fakeConsumer{}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOutcomeWorker() error = %v", err)
	}

	callback := "2026-03-02T16:00:00+05:30"
	err = worker.processMessage(context.Background(), queue.CallOutcomeMessage{
		LeadID:        " lead-1 ",
		CallID:        "c-1",
		Status:        "completed",
		Availability:  "busy",
		CallbackAt:    &callback,
		PolicyKey:     "PRIORITY",
		CorrelationID: "corr-1",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if got.LeadID != "lead-1" || got.CallID != "c-1" || got.PolicyKey != domain.PolicyPriority {
		t.Fatalf("outcome = %+v", got)
	}
	if got.CallbackAt == nil || *got.CallbackAt != callback {
		t.Fatalf("callback = %v, want %s", got.CallbackAt, callback)
	}
	if gotCorrelation != "corr-1" {
		t.Fatalf("correlation id = %q, want corr-1", gotCorrelation)
	}
}

func TestOutcomeWorkerProcessMessageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "validation error is dropped", err: fmt.Errorf("%w: leadId is required", domain.ErrValidation)},
		{name: "store error is returned for redelivery", err: errors.New("db down"), wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			worker, err := NewOutcomeWorker(&fakeOutcomeRecorder{
				recordFn: func(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error) {
					return domain.OutcomeFailed, tt.err
				},
			}, &fakeConsumer{}, 1, nil)
			if err != nil {
				t.Fatalf("NewOutcomeWorker() error = %v", err)
			}

			err = worker.processMessage(context.Background(), queue.CallOutcomeMessage{LeadID: "lead-1", Status: "busy"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("processMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutcomeWorkerStartConsumesOutcomeQueue(t *testing.T) {
	t.Parallel()

	var consumers atomic.Int32
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			if queueName != queue.OutcomeQueue {
				return fmt.Errorf("queue = %q, want %q", queueName, queue.OutcomeQueue)
			}
			consumers.Add(1)
			return handler(ctx, queue.CallOutcomeMessage{LeadID: "lead-1", Status: "completed"})
		},
	}

	var recorded atomic.Int32
	worker, err := NewOutcomeWorker(&fakeOutcomeRecorder{
		recordFn: func(ctx context.Context, outcome domain.CallOutcome) (domain.OutcomeKind, error) {
			recorded.Add(1)
			return domain.OutcomeCompleted, nil
		},
	}, consumer, 3, nil)
	if err != nil {
		t.Fatalf("NewOutcomeWorker() error = %v", err)
	}

	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if consumers.Load() != 3 || recorded.Load() != 3 {
		t.Fatalf("consumers/recorded = %d/%d, want 3/3", consumers.Load(), recorded.Load())
	}
}

func TestOutcomeWorkerStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	worker, err := NewOutcomeWorker(&fakeOutcomeRecorder{}, &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			return errors.New("channel closed")
		},
	}, 2, nil)
	if err != nil {
		t.Fatalf("NewOutcomeWorker() error = %v", err)
	}

	if err := worker.Start(context.Background()); err == nil {
		t.Fatal("expected Start error")
	}
}
