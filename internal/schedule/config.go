package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
)

// IntervalUnit is the unit of a policy retry interval.
type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
)

func ParseIntervalUnit(s string) (IntervalUnit, error) {
	u := IntervalUnit(strings.ToLower(strings.TrimSpace(s)))
	switch u {
	case UnitMinutes, UnitHours:
		return u, nil
	}
	return "", fmt.Errorf("%w: invalid interval unit %q", domain.ErrValidation, s)
}

// Policy is the retry interval and daily cutoff for one policy variant.
type Policy struct {
	IntervalAmount int
	IntervalUnit   IntervalUnit
	CutoffHour     int
}

// Interval converts the policy interval to a duration. Nonpositive amounts
// are raised to minInterval so scheduling always moves time forward.
func (p Policy) Interval() time.Duration {
	var d time.Duration
	switch p.IntervalUnit {
	case UnitMinutes:
		d = time.Duration(p.IntervalAmount) * time.Minute
	default:
		d = time.Duration(p.IntervalAmount) * time.Hour
	}
	if d < minInterval {
		return minInterval
	}
	return d
}

const minInterval = time.Minute

// Config carries every scheduling constant. It is built once from process
// configuration and passed to the resolver and calculator.
type Config struct {
	Location          *time.Location
	WindowStartHour   int
	WindowEndHour     int
	BlackoutWeekday   time.Weekday
	BlackoutStartHour int
	BlackoutEndHour   int
	DefaultPolicy     Policy
	Policies          map[domain.PolicyKey]Policy
}

// DefaultConfig mirrors the production defaults in UTC. Callers normally
// replace Location with the configured calling zone.
func DefaultConfig() Config {
	return Config{
		Location:          time.UTC,
		WindowStartHour:   9,
		WindowEndHour:     18,
		BlackoutWeekday:   time.Sunday,
		BlackoutStartHour: 10,
		BlackoutEndHour:   12,
		DefaultPolicy: Policy{
			IntervalAmount: 2,
			IntervalUnit:   UnitHours,
			CutoffHour:     18,
		},
		Policies: map[domain.PolicyKey]Policy{
			domain.PolicyPriority: {
				IntervalAmount: 120,
				IntervalUnit:   UnitMinutes,
				CutoffHour:     23,
			},
		},
	}
}

func (c Config) Validate() error {
	if c.WindowStartHour < 0 || c.WindowStartHour > 23 {
		return fmt.Errorf("%w: calling window start hour %d out of range", domain.ErrValidation, c.WindowStartHour)
	}
	if c.WindowEndHour <= c.WindowStartHour || c.WindowEndHour > 24 {
		return fmt.Errorf("%w: calling window end hour %d must be after start hour %d", domain.ErrValidation, c.WindowEndHour, c.WindowStartHour)
	}
	if c.BlackoutStartHour < 0 || c.BlackoutEndHour <= c.BlackoutStartHour || c.BlackoutEndHour > 23 {
		return fmt.Errorf("%w: invalid blackout window %d-%d", domain.ErrValidation, c.BlackoutStartHour, c.BlackoutEndHour)
	}
	if err := c.DefaultPolicy.validate(c.WindowStartHour); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}
	for key, p := range c.Policies {
		if err := p.validate(c.WindowStartHour); err != nil {
			return fmt.Errorf("policy %q: %w", key, err)
		}
	}
	return nil
}

func (p Policy) validate(windowStart int) error {
	if p.IntervalUnit != UnitMinutes && p.IntervalUnit != UnitHours {
		return fmt.Errorf("%w: invalid interval unit %q", domain.ErrValidation, p.IntervalUnit)
	}
	if p.CutoffHour <= windowStart || p.CutoffHour > 24 {
		return fmt.Errorf("%w: cutoff hour %d must be after window start %d", domain.ErrValidation, p.CutoffHour, windowStart)
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}
