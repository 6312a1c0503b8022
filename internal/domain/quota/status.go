package quota

import "time"

// Status is a point-in-time view of today's quota.
type Status struct {
	date     string
	used     int
	limit    int
	resetsAt time.Time
}

// NewStatus creates a quota snapshot.
func NewStatus(date string, used, limit int, resetsAt time.Time) Status {
	return Status{date: date, used: used, limit: limit, resetsAt: resetsAt}
}

// Date returns the day the snapshot applies to.
func (s Status) Date() string { return s.date }

// Used returns the operations consumed today.
func (s Status) Used() int { return s.used }

// Limit returns the daily cap.
func (s Status) Limit() int { return s.limit }

// Remaining returns operations left today, never negative.
func (s Status) Remaining() int {
	if s.used >= s.limit {
		return 0
	}
	return s.limit - s.used
}

// IsExhausted reports whether no operations are left today.
func (s Status) IsExhausted() bool { return s.used >= s.limit }

// ResetsAt returns the start of the next day.
func (s Status) ResetsAt() time.Time { return s.resetsAt }
