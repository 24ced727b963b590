package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/lead-retry-engine/internal/domain"
	"github.com/kursadbilgin/lead-retry-engine/internal/schedule"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DialerAPIURL          string        `env:"DIALER_API_URL,required=true"`
	DialerAPIToken        string        `env:"DIALER_API_TOKEN,required=true"`
	DialerAgentID         string        `env:"DIALER_AGENT_ID"`
	DialerPriorityAgentID string        `env:"DIALER_PRIORITY_AGENT_ID"`
	DialerCallerID        string        `env:"DIALER_CALLER_ID"`
	DialerTimeout         time.Duration `env:"DIALER_TIMEOUT,default=20s"`
	DialerRateLimitPerSec int           `env:"DIALER_RATE_LIMIT_PER_SEC,default=5"`

	CRMWebhookURL string        `env:"CRM_WEBHOOK_URL,required=true"`
	CRMTimeout    time.Duration `env:"CRM_TIMEOUT,default=10s"`

	Timezone               string `env:"TIMEZONE,default=Asia/Kolkata"`
	CallingWindowStartHour int    `env:"CALLING_WINDOW_START_HOUR,default=9"`
	CallingWindowEndHour   int    `env:"CALLING_WINDOW_END_HOUR,default=18"`
	BlackoutWeekday        string `env:"BLACKOUT_WEEKDAY,default=sunday"`
	BlackoutStartHour      int    `env:"BLACKOUT_START_HOUR,default=10"`
	BlackoutEndHour        int    `env:"BLACKOUT_END_HOUR,default=12"`

	RetryInterval             int    `env:"RETRY_INTERVAL,default=2"`
	RetryIntervalUnit         string `env:"RETRY_INTERVAL_UNIT,default=hours"`
	PriorityRetryInterval     int    `env:"PRIORITY_RETRY_INTERVAL,default=120"`
	PriorityRetryIntervalUnit string `env:"PRIORITY_RETRY_INTERVAL_UNIT,default=minutes"`
	PriorityCutoffHour        int    `env:"PRIORITY_CUTOFF_HOUR,default=23"`
	MaxAttempts               int    `env:"MAX_ATTEMPTS,default=10"`

	CycleSchedule     string        `env:"CYCLE_SCHEDULE,default=@every 1m"`
	CycleScanLimit    int           `env:"CYCLE_SCAN_LIMIT,default=200"`
	CycleLeaseTTL     time.Duration `env:"CYCLE_LEASE_TTL,default=2m"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=8"`
	ClaimLease        time.Duration `env:"CLAIM_LEASE,default=5m"`
	CronSecret        string        `env:"CRON_SECRET"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// SchedulePolicy builds the scheduling configuration passed to the policy
// resolver and the next-call-time calculator.
func (c *Config) SchedulePolicy() (schedule.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}

	weekday, err := parseWeekday(c.BlackoutWeekday)
	if err != nil {
		return schedule.Config{}, err
	}

	defaultUnit, err := schedule.ParseIntervalUnit(c.RetryIntervalUnit)
	if err != nil {
		return schedule.Config{}, err
	}
	priorityUnit, err := schedule.ParseIntervalUnit(c.PriorityRetryIntervalUnit)
	if err != nil {
		return schedule.Config{}, err
	}

	cfg := schedule.Config{
		Location:          loc,
		WindowStartHour:   c.CallingWindowStartHour,
		WindowEndHour:     c.CallingWindowEndHour,
		BlackoutWeekday:   weekday,
		BlackoutStartHour: c.BlackoutStartHour,
		BlackoutEndHour:   c.BlackoutEndHour,
		DefaultPolicy: schedule.Policy{
			IntervalAmount: c.RetryInterval,
			IntervalUnit:   defaultUnit,
			CutoffHour:     c.CallingWindowEndHour,
		},
		Policies: map[domain.PolicyKey]schedule.Policy{
			domain.PolicyPriority: {
				IntervalAmount: c.PriorityRetryInterval,
				IntervalUnit:   priorityUnit,
				CutoffHour:     c.PriorityCutoffHour,
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return schedule.Config{}, fmt.Errorf("invalid schedule config: %w", err)
	}

	return cfg, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: invalid weekday %q", domain.ErrValidation, s)
}
