package schedule

import "time"

// Rules holds the fixed no-call and operating-hour windows.
type Rules struct {
	windowStartHour   int
	windowEndHour     int
	blackoutWeekday   time.Weekday
	blackoutStartHour int
	blackoutEndHour   int
}

func NewRules(cfg Config) *Rules {
	return &Rules{
		windowStartHour:   cfg.WindowStartHour,
		windowEndHour:     cfg.WindowEndHour,
		blackoutWeekday:   cfg.BlackoutWeekday,
		blackoutStartHour: cfg.BlackoutStartHour,
		blackoutEndHour:   cfg.BlackoutEndHour,
	}
}

// IsBlackout reports whether local falls inside the weekly hard no-call window.
func (r *Rules) IsBlackout(local time.Time) bool {
	if local.Weekday() != r.blackoutWeekday {
		return false
	}
	h := local.Hour()
	return h >= r.blackoutStartHour && h < r.blackoutEndHour
}

// AfterBlackout returns the first instant after the blackout window that
// contains local: window end plus one minute.
func (r *Rules) AfterBlackout(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d, r.blackoutEndHour, 1, 0, 0, local.Location())
}

// IsWithinCallingWindow reports whether local is inside the daily operating window.
func (r *Rules) IsWithinCallingWindow(local time.Time) bool {
	return r.withinWindow(local, r.windowEndHour)
}

func (r *Rules) withinWindow(local time.Time, endHour int) bool {
	h := local.Hour()
	return h >= r.windowStartHour && h < endHour
}

// ClampToWindow moves local forward to the start of the nearest calling
// window closing at endHour. Times inside the window are returned unchanged.
func (r *Rules) ClampToWindow(local time.Time, endHour int) time.Time {
	if endHour <= r.windowStartHour {
		endHour = r.windowEndHour
	}

	y, m, d := local.Date()
	start := time.Date(y, m, d, r.windowStartHour, 0, 0, 0, local.Location())
	switch {
	case local.Before(start):
		return start
	case local.Hour() >= endHour:
		return time.Date(y, m, d+1, r.windowStartHour, 0, 0, 0, local.Location())
	default:
		return local
	}
}
