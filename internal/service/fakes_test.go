package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/lead-retry-engine/internal/crm"
	"github.com/kursadbilgin/lead-retry-engine/internal/dialer"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/queue"
)

// memRetryRepo is a versioned in-memory store. Hook fields run before the
// stored behavior and short-circuit it when they return an error.
type memRetryRepo struct {
	mu      sync.Mutex
	records map[string]*domain.RetryRecord
	updates int

	getDueFn func(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error)
	updateFn func(ctx context.Context, r *domain.RetryRecord) error
	createFn func(ctx context.Context, r *domain.RetryRecord) error
}

func newMemRetryRepo(records ...*domain.RetryRecord) *memRetryRepo {
	repo := &memRetryRepo{records: make(map[string]*domain.RetryRecord)}
	for _, r := range records {
		c := r.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		repo.records[c.LeadID] = c
	}
	return repo
}

func (m *memRetryRepo) GetByLeadID(ctx context.Context, leadID string) (*domain.RetryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[leadID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memRetryRepo) Create(ctx context.Context, r *domain.RetryRecord) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, r); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.LeadID]; ok {
		return domain.ErrConflict
	}
	r.Version = 1
	m.records[r.LeadID] = r.Clone()
	return nil
}

func (m *memRetryRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.RetryRecord, error) {
	if m.getDueFn != nil {
		return m.getDueFn(ctx, now, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]domain.RetryRecord, 0, len(m.records))
	for _, r := range m.records {
		if r.Paused {
			continue
		}
		if !r.NextCallAt.After(now) || r.HasPendingOverride() {
			due = append(due, *r.Clone())
		}
	}
	return due, nil
}

func (m *memRetryRepo) Update(ctx context.Context, r *domain.RetryRecord) error {
	if m.updateFn != nil {
		if err := m.updateFn(ctx, r); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[r.LeadID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != r.Version {
		return domain.ErrConflict
	}

	r.Version++
	m.records[r.LeadID] = r.Clone()
	m.updates++
	return nil
}

func (m *memRetryRepo) get(leadID string) *domain.RetryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[leadID]
	if !ok {
		return nil
	}
	return r.Clone()
}

func (m *memRetryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.CallAttempt

	createFn func(ctx context.Context, a *domain.CallAttempt) error
	listFn   func(ctx context.Context, leadID string) ([]domain.CallAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.CallAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByLeadID(ctx context.Context, leadID string) ([]domain.CallAttempt, error) {
	if f.listFn != nil {
		return f.listFn(ctx, leadID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.CallAttempt, 0)
	for _, a := range f.attempts {
		if a.LeadID == leadID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) recorded() []domain.CallAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CallAttempt(nil), f.attempts...)
}

type fakeDialer struct {
	calls       atomic.Int32
	placeCallFn func(ctx context.Context, req dialer.CallRequest) (*dialer.CallResponse, error)
}

func (f *fakeDialer) PlaceCall(ctx context.Context, req dialer.CallRequest) (*dialer.CallResponse, error) {
	f.calls.Add(1)
	if f.placeCallFn != nil {
		return f.placeCallFn(ctx, req)
	}
	return &dialer.CallResponse{CallID: "call-" + req.LeadID, StatusCode: 200}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeCRM struct {
	mu       sync.Mutex
	comments []string

	getLeadFn    func(ctx context.Context, leadID string) (*crm.Lead, error)
	updateLeadFn func(ctx context.Context, leadID string, fields map[string]any) error
	commentFn    func(ctx context.Context, entityID string, entityType string, text string) error
}

func (f *fakeCRM) GetLead(ctx context.Context, leadID string) (*crm.Lead, error) {
	if f.getLeadFn != nil {
		return f.getLeadFn(ctx, leadID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCRM) UpdateLead(ctx context.Context, leadID string, fields map[string]any) error {
	if f.updateLeadFn != nil {
		return f.updateLeadFn(ctx, leadID, fields)
	}
	return nil
}

func (f *fakeCRM) AddTimelineComment(ctx context.Context, entityID string, entityType string, text string) error {
	f.mu.Lock()
	f.comments = append(f.comments, text)
	f.mu.Unlock()

	if f.commentFn != nil {
		return f.commentFn(ctx, entityID, entityType, text)
	}
	return nil
}

func (f *fakeCRM) commentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.comments)
}

type fakeCycleLock struct {
	acquireFn func(ctx context.Context) (bool, error)
	released  atomic.Int32
}

func (f *fakeCycleLock) Acquire(ctx context.Context) (bool, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx)
	}
	return true, nil
}

func (f *fakeCycleLock) Release(ctx context.Context) error {
	f.released.Add(1)
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}
