package usecase

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 366
)

// StatsService serves the reporting endpoints. Managers only ever see their
// own leads; the cross-operator views are admin only.
type StatsService struct {
	repo storage.StatsRepo
	now  Clock
}

func NewStatsService(repo storage.StatsRepo, clock Clock) *StatsService {
	return &StatsService{repo: repo, now: defaultClock(clock)}
}

func scope(id identity.Identity) uint {
	if id.IsAdmin() {
		return 0
	}
	return id.OperatorID
}

func requireAdmin(id identity.Identity) error {
	if !id.IsAdmin() {
		return fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
	}
	return nil
}

func (s *StatsService) Overview(ctx context.Context, id identity.Identity) (model.OverviewStats, error) {
	return s.repo.Overview(ctx, scope(id))
}

func (s *StatsService) Operators(ctx context.Context, id identity.Identity) ([]model.OperatorStats, error) {
	if err := requireAdmin(id); err != nil {
		return nil, err
	}
	return s.repo.OperatorStats(ctx)
}

// Last24Hours covers the rolling day ending now.
func (s *StatsService) Last24Hours(ctx context.Context, id identity.Identity) (model.WindowStats, error) {
	if err := requireAdmin(id); err != nil {
		return model.WindowStats{}, err
	}
	return s.repo.WindowStats(ctx, s.now().Add(-24*time.Hour), 0)
}

// DailyRange is an inclusive range of UTC calendar days.
type DailyRange struct {
	Days      int
	StartDate string
	EndDate   string
}

// Daily reports per-day activity. Explicit dates win over Days; Days counts
// back from today inclusive.
func (s *StatsService) Daily(ctx context.Context, id identity.Identity, r DailyRange) ([]model.DailyStats, error) {
	from, to, err := s.resolveRange(r)
	if err != nil {
		return nil, err
	}
	return s.repo.DailyStats(ctx, from, to, scope(id))
}

func (s *StatsService) resolveRange(r DailyRange) (time.Time, time.Time, error) {
	today := utils.StartOfDay(s.now())

	if r.StartDate != "" || r.EndDate != "" {
		start, err := parseDay(r.StartDate, today)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end, err := parseDay(r.EndDate, today)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end_date before start_date", apperrors.ErrValidation)
		}
		if end.Sub(start) > maxStatsDays*24*time.Hour {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: range longer than %d days", apperrors.ErrValidation, maxStatsDays)
		}
		return start, end.AddDate(0, 0, 1), nil
	}

	days := r.Days
	if days == 0 {
		days = defaultStatsDays
	}
	if days < 1 || days > maxStatsDays {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: days must be between 1 and %d", apperrors.ErrValidation, maxStatsDays)
	}
	return today.AddDate(0, 0, -(days - 1)), today.AddDate(0, 0, 1), nil
}

func parseDay(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", apperrors.ErrValidation, value)
	}
	return t.UTC(), nil
}
