// Package quota holds the daily usage-quota record and its read model.
package quota

import (
	"context"
	"fmt"
	"time"
)

// DefaultDailyLimit is the number of gated operations permitted per calendar day.
const DefaultDailyLimit = 10

// DateLayout is the persisted date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// Record is the persisted usage state: how many gated operations were consumed on Date.
type Record struct {
	Date  string
	Count int
}

// Fresh returns an empty record for the given date.
func Fresh(date string) Record {
	return Record{Date: date, Count: 0}
}

// DateOf formats t as a record date in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}

// IsCurrent reports whether the record applies to today.
func (r Record) IsCurrent(today string) bool {
	return r.Date == today
}

// Validate checks the record shape.
func (r Record) Validate() error {
	if r.Count < 0 {
		return fmt.Errorf("negative count %d", r.Count)
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("malformed date %q", r.Date)
	}
	return nil
}

// Reservation is a quota slot already counted in the persisted record.
// Commit keeps it; Release gives it back. Exactly one of them takes effect.
type Reservation interface {
	Commit(ctx context.Context) error
	Release(ctx context.Context) error
}
