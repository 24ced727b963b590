package schedule

import (
	"time"

	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
)

// settleRounds bounds the final legality pass. Each round only moves time
// forward, and two rounds are enough for any valid Config.
const settleRounds = 8

// Calculator computes the next legal call instant for a record.
type Calculator struct {
	loc      *time.Location
	policies *PolicyResolver
	rules    *Rules
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{
		loc:      cfg.location(),
		policies: NewPolicyResolver(cfg),
		rules:    NewRules(cfg),
	}
}

func (c *Calculator) Location() *time.Location { return c.loc }

func (c *Calculator) Rules() *Rules { return c.rules }

func (c *Calculator) Policies() *PolicyResolver { return c.policies }

// ComputeNext returns the next call instant in UTC.
//
// A base time inside the blackout window always yields the first minute after
// it. First attempts are immediate. Retries are clamped into the policy's
// calling window, pushed by the policy interval and clamped again.
func (c *Calculator) ComputeNext(key domain.PolicyKey, attempts int, base time.Time) time.Time {
	local := base.In(c.loc)

	if c.rules.IsBlackout(local) {
		return c.rules.AfterBlackout(local).UTC()
	}
	if attempts <= 0 {
		return local.UTC()
	}

	policy := c.policies.Resolve(key)
	next := c.rules.ClampToWindow(local, policy.CutoffHour)
	next = next.Add(policy.Interval())
	next = c.settle(next, policy.CutoffHour)

	return next.UTC()
}

// NextWindowStart returns the earliest instant at or after base that lies in
// the policy calling window and outside the blackout window.
func (c *Calculator) NextWindowStart(key domain.PolicyKey, base time.Time) time.Time {
	policy := c.policies.Resolve(key)
	return c.settle(base.In(c.loc), policy.CutoffHour).UTC()
}

// IsWithinPolicyWindow reports whether base is inside the policy calling window.
func (c *Calculator) IsWithinPolicyWindow(key domain.PolicyKey, base time.Time) bool {
	policy := c.policies.Resolve(key)
	return c.rules.withinWindow(base.In(c.loc), policy.CutoffHour)
}

func (c *Calculator) settle(local time.Time, cutoffHour int) time.Time {
	for i := 0; i < settleRounds; i++ {
		next := c.rules.ClampToWindow(local, cutoffHour)
		if c.rules.IsBlackout(next) {
			next = c.rules.AfterBlackout(next)
		}
		if next.Equal(local) {
			return next
		}
		local = next
	}
	return local
}
