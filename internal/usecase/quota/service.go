package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/domain"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
	"github.com/kailas-cloud/printbot/internal/metrics"
)

// Service gates an expensive operation to a fixed number of uses per calendar day.
//
// Every operation runs inside one critical section: the in-process mutex, then the
// store's lock. Reserve writes the increment before returning, so callers in any
// process sharing the store cannot both get the last slot.
type Service struct {
	mu     sync.Mutex
	store  Store
	limit  int
	now    func() time.Time
	loc    *time.Location
	logger *zap.Logger
}

// New creates a quota service. limit <= 0 falls back to domquota.DefaultDailyLimit.
func New(store Store, limit int, logger *zap.Logger) *Service {
	if limit <= 0 {
		limit = domquota.DefaultDailyLimit
	}
	return &Service{
		store:  store,
		limit:  limit,
		now:    time.Now,
		loc:    time.Local,
		logger: logger,
	}
}

// WithClock replaces the wall clock (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLocation sets the time zone that decides where a day starts. Default: process local.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Limit returns the daily cap.
func (s *Service) Limit() int { return s.limit }

// CanUse reports whether today's count is below the limit.
// A missing or stale record is reset to today and persisted immediately.
// On storage failure it fails closed: false plus the error.
func (s *Service) CanUse(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var allowed bool
	err := s.critical(ctx, func(ctx context.Context) error {
		rec, err := s.current(ctx, true)
		if err != nil {
			return err
		}
		allowed = rec.Count < s.limit
		return nil
	})
	if err != nil {
		s.decision("error")
		return false, err
	}

	if allowed {
		s.decision("allowed")
	} else {
		s.decision("denied")
	}
	return allowed, nil
}

// RecordUse adds one consumption to today's count.
// Call it only after the gated action ran following an allowed CanUse.
// A count already at the limit is left unchanged.
func (s *Service) RecordUse(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recordLocked(ctx)
}

// Reserve checks the limit and persists the increment in one critical section.
// The slot stays counted until Release gives it back.
// ok=false means the quota is exhausted; it is not an error.
func (s *Service) Reserve(ctx context.Context) (res domquota.Reservation, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var date string
	err = s.critical(ctx, func(ctx context.Context) error {
		rec, err := s.current(ctx, true)
		if err != nil {
			return err
		}
		if rec.Count >= s.limit {
			return nil
		}
		rec.Count++
		if err := s.save(ctx, rec); err != nil {
			return err
		}
		metrics.QuotaUsed.Set(float64(rec.Count))
		ok, date = true, rec.Date
		return nil
	})
	if err != nil {
		s.decision("error")
		return nil, false, err
	}
	if !ok {
		s.decision("denied")
		return nil, false, nil
	}

	s.decision("allowed")
	return &reservation{svc: s, date: date}, true, nil
}

// Status returns today's usage without persisting a rollover.
func (s *Service) Status(ctx context.Context) (domquota.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec domquota.Record
	err := s.critical(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.current(ctx, false)
		return err
	})
	if err != nil {
		return domquota.Status{}, err
	}

	now := s.now().In(s.loc)
	nextDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, s.loc)
	return domquota.NewStatus(rec.Date, rec.Count, s.limit, nextDay), nil
}

func (s *Service) recordLocked(ctx context.Context) error {
	return s.critical(ctx, func(ctx context.Context) error {
		rec, err := s.current(ctx, false)
		if err != nil {
			return err
		}
		if rec.Count >= s.limit {
			s.decision("overflow")
			s.logger.Warn("Quota use recorded past the limit, ignoring",
				zap.String("date", rec.Date),
				zap.Int("count", rec.Count),
				zap.Int("limit", s.limit),
			)
			return nil
		}
		rec.Count++
		if err := s.save(ctx, rec); err != nil {
			return err
		}
		metrics.QuotaUsed.Set(float64(rec.Count))
		s.logger.Debug("Quota use recorded",
			zap.String("date", rec.Date),
			zap.Int("count", rec.Count),
			zap.Int("limit", s.limit),
		)
		return nil
	})
}

// critical runs fn while holding the store lock. Caller holds s.mu.
func (s *Service) critical(ctx context.Context, fn func(ctx context.Context) error) error {
	unlock, err := s.store.Lock(ctx)
	if err != nil {
		return s.unavailable("lock", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn("Failed to release quota lock", zap.Error(err))
		}
	}()
	return fn(ctx)
}

// current loads today's record. Missing, stale and corrupt records become a fresh
// record for today; persist controls whether that reset is written back right away.
func (s *Service) current(ctx context.Context, persist bool) (domquota.Record, error) {
	today := domquota.DateOf(s.now(), s.loc)

	rec, found, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrQuotaStorageCorrupt):
		metrics.QuotaStorageErrorsTotal.WithLabelValues("corrupt").Inc()
		s.logger.Warn("Quota record is corrupt, resetting to a fresh record",
			zap.String("date", today),
			zap.Error(err),
		)
		found = false
	case err != nil:
		return domquota.Record{}, s.unavailable("load", err)
	}

	if found && rec.IsCurrent(today) {
		return rec, nil
	}

	if found {
		s.logger.Info("Quota day rolled over",
			zap.String("previous_date", rec.Date),
			zap.Int("previous_count", rec.Count),
			zap.String("date", today),
		)
	}
	fresh := domquota.Fresh(today)
	metrics.QuotaUsed.Set(0)
	if persist {
		if err := s.save(ctx, fresh); err != nil {
			return domquota.Record{}, err
		}
	}
	return fresh, nil
}

func (s *Service) save(ctx context.Context, rec domquota.Record) error {
	if err := s.store.Save(ctx, rec); err != nil {
		return s.unavailable("save", err)
	}
	return nil
}

func (s *Service) unavailable(op string, err error) error {
	metrics.QuotaStorageErrorsTotal.WithLabelValues("unavailable").Inc()
	s.logger.Error("Quota storage unavailable", zap.String("op", op), zap.Error(err))
	if !errors.Is(err, domain.ErrQuotaStorageUnavailable) {
		err = fmt.Errorf("%w: %v", domain.ErrQuotaStorageUnavailable, err)
	}
	return fmt.Errorf("quota %s: %w", op, err)
}

func (s *Service) decision(result string) {
	metrics.QuotaDecisionsTotal.WithLabelValues(result).Inc()
}

// reservation is a slot counted by Reserve. Its state is guarded by the service mutex.
type reservation struct {
	svc  *Service
	date string
	done bool
}

// Commit keeps the slot. The use was already persisted by Reserve. Calls after the first are no-ops.
func (r *reservation) Commit(_ context.Context) error {
	s := r.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	r.done = true
	return nil
}

// Release gives the slot back by decrementing the persisted count. No-op after Commit,
// after a previous Release, or once the day the slot was taken has rolled over.
// If the store fails, the slot stays counted.
func (r *reservation) Release(ctx context.Context) error {
	s := r.svc
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.done {
		return nil
	}
	r.done = true

	return s.critical(ctx, func(ctx context.Context) error {
		rec, found, err := s.store.Load(ctx)
		switch {
		case errors.Is(err, domain.ErrQuotaStorageCorrupt):
			// current() resets it on the next check; there is nothing to give back.
			return nil
		case err != nil:
			return s.unavailable("load", err)
		}
		if !found || rec.Date != r.date || rec.Count == 0 {
			return nil
		}
		rec.Count--
		if err := s.save(ctx, rec); err != nil {
			return err
		}
		metrics.QuotaUsed.Set(float64(rec.Count))
		return nil
	})
}
