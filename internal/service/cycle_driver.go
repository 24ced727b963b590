package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultCycleSchedule = "@every 1m"

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@every 5m".
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = defaultCycleSchedule
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cycle schedule %q: %w", expr, err)
	}
	return sched, nil
}

// CycleRunner runs one processing cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// CycleDriver triggers processing cycles on a cron schedule.
type CycleDriver struct {
	runner   CycleRunner
	schedule cronlib.Schedule
	logger   *zap.Logger
	now      func() time.Time
	after    func(d time.Duration) <-chan time.Time
}

func NewCycleDriver(runner CycleRunner, expr string, logger *zap.Logger) (*CycleDriver, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CycleDriver{
		runner:   runner,
		schedule: sched,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}, nil
}

func (d *CycleDriver) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.runOnce(ctx)

	for {
		now := d.now()
		wait := d.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.after(wait):
			d.runOnce(ctx)
		}
	}
}

func (d *CycleDriver) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := d.runner.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCycleInProgress):
		d.logger.Info("retry cycle skipped, another cycle is running")
	case ctx.Err() != nil:
	default:
		d.logger.Error("retry cycle failed", zap.Error(err))
	}
}
