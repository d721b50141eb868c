package storage

import (
	"context"
	"sort"
	"time"

	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const dayLayout = "2006-01-02"

// scopeSQL narrows a leads alias to one operator when operatorID is set.
func scopeSQL(alias string, operatorID uint) (string, []interface{}) {
	if operatorID == 0 {
		return "TRUE", nil
	}
	return alias + ".assigned_operator_id = ?", []interface{}{operatorID}
}

type leadCounts struct {
	Total  int64 `gorm:"column:total"`
	Active int64 `gorm:"column:active"`
	Closed int64 `gorm:"column:closed"`
}

func (r *PostgresRepo) Overview(ctx context.Context, operatorID uint) (model.OverviewStats, error) {
	startTime := utils.Now()
	var stats model.OverviewStats
	where, args := scopeSQL("l", operatorID)

	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "Overview", func() error {
		var leads leadCounts
		if err := r.db.WithContext(ctx).Raw(
			`SELECT COUNT(*) AS total,
				COUNT(*) FILTER (WHERE l.status <> 'closed') AS active,
				COUNT(*) FILTER (WHERE l.status = 'closed') AS closed
			FROM leads l WHERE `+where, args...).Scan(&leads).Error; err != nil {
			return err
		}

		var messages int64
		if err := r.db.WithContext(ctx).Raw(
			`SELECT COUNT(*) FROM messages m JOIN leads l ON l.id = m.lead_id WHERE `+where, args...).
			Scan(&messages).Error; err != nil {
			return err
		}

		var operators int64
		if err := r.db.WithContext(ctx).Model(&model.Operator{}).
			Where("role = ? AND is_active = ?", identity.RoleManager, true).
			Count(&operators).Error; err != nil {
			return err
		}

		stats = model.OverviewStats{
			TotalLeads:     leads.Total,
			ActiveLeads:    leads.Active,
			ClosedLeads:    leads.Closed,
			TotalMessages:  messages,
			OperatorsCount: operators,
		}
		return nil
	})
	observer.ObserveDbOperationDuration("aggregate", "stats_overview", utils.Now().Sub(startTime), err)
	if err != nil {
		return model.OverviewStats{}, checkConstraintViolation(err)
	}
	return stats, nil
}

// OperatorStats lists every active manager, including those with no leads.
func (r *PostgresRepo) OperatorStats(ctx context.Context) ([]model.OperatorStats, error) {
	startTime := utils.Now()
	var rows []model.OperatorStats
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "OperatorStats", func() error {
		return r.db.WithContext(ctx).Raw(
			`SELECT o.id AS operator_id,
				COALESCE(NULLIF(o.full_name, ''), o.username) AS operator_name,
				COUNT(DISTINCT l.id) AS total_leads,
				COUNT(DISTINCT l.id) FILTER (WHERE l.status <> 'closed') AS active_leads,
				COUNT(DISTINCT l.id) FILTER (WHERE l.status = 'closed') AS closed_leads,
				COUNT(m.id) AS total_messages
			FROM operators o
			LEFT JOIN leads l ON l.assigned_operator_id = o.id
			LEFT JOIN messages m ON m.lead_id = l.id
			WHERE o.role = ? AND o.is_active
			GROUP BY o.id, o.full_name, o.username
			ORDER BY o.id`, identity.RoleManager).Scan(&rows).Error
	})
	observer.ObserveDbOperationDuration("aggregate", "stats_operators", utils.Now().Sub(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return rows, nil
}

// WindowStats counts activity at or after since. Active conversations are open
// leads touched inside the window.
func (r *PostgresRepo) WindowStats(ctx context.Context, since time.Time, operatorID uint) (model.WindowStats, error) {
	startTime := utils.Now()
	var stats model.WindowStats
	where, scopeArgs := scopeSQL("l", operatorID)

	args := make([]interface{}, 0, 8)
	for i := 0; i < 4; i++ {
		args = append(args, since)
		args = append(args, scopeArgs...)
	}

	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "WindowStats", func() error {
		return r.db.WithContext(ctx).Raw(
			`SELECT
				(SELECT COUNT(*) FROM leads l WHERE l.created_at >= ? AND `+where+`) AS new_leads,
				(SELECT COUNT(*) FROM leads l WHERE l.closed_at >= ? AND `+where+`) AS closed_leads,
				(SELECT COUNT(*) FROM messages m JOIN leads l ON l.id = m.lead_id WHERE m.created_at >= ? AND `+where+`) AS messages_count,
				(SELECT COUNT(*) FROM leads l WHERE l.last_updated_at >= ? AND l.status <> 'closed' AND `+where+`) AS active_conversations`,
			args...).Scan(&stats).Error
	})
	observer.ObserveDbOperationDuration("aggregate", "stats_window", utils.Now().Sub(startTime), err)
	if err != nil {
		return model.WindowStats{}, checkConstraintViolation(err)
	}
	return stats, nil
}

type dayCount struct {
	Day   time.Time `gorm:"column:day"`
	Count int64     `gorm:"column:count"`
}

// DailyStats buckets activity in [from, to) by UTC day and returns days with
// any activity, newest first.
func (r *PostgresRepo) DailyStats(ctx context.Context, from, to time.Time, operatorID uint) ([]model.DailyStats, error) {
	startTime := utils.Now()
	where, scopeArgs := scopeSQL("l", operatorID)
	rangeArgs := append([]interface{}{from, to}, scopeArgs...)

	var created, closed, messages []dayCount
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "DailyStats", func() error {
		created, closed, messages = nil, nil, nil
		db := r.db.WithContext(ctx)
		if err := db.Raw(
			`SELECT date_trunc('day', l.created_at AT TIME ZONE 'UTC') AS day, COUNT(*) AS count
			FROM leads l WHERE l.created_at >= ? AND l.created_at < ? AND `+where+`
			GROUP BY 1`, rangeArgs...).Scan(&created).Error; err != nil {
			return err
		}
		if err := db.Raw(
			`SELECT date_trunc('day', l.closed_at AT TIME ZONE 'UTC') AS day, COUNT(*) AS count
			FROM leads l WHERE l.closed_at >= ? AND l.closed_at < ? AND `+where+`
			GROUP BY 1`, rangeArgs...).Scan(&closed).Error; err != nil {
			return err
		}
		return db.Raw(
			`SELECT date_trunc('day', m.created_at AT TIME ZONE 'UTC') AS day, COUNT(*) AS count
			FROM messages m JOIN leads l ON l.id = m.lead_id
			WHERE m.created_at >= ? AND m.created_at < ? AND `+where+`
			GROUP BY 1`, rangeArgs...).Scan(&messages).Error
	})
	observer.ObserveDbOperationDuration("aggregate", "stats_daily", utils.Now().Sub(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}

	return mergeDailyCounts(created, closed, messages), nil
}

func mergeDailyCounts(created, closed, messages []dayCount) []model.DailyStats {
	byDay := make(map[string]*model.DailyStats)
	get := func(t time.Time) *model.DailyStats {
		key := t.UTC().Format(dayLayout)
		d, ok := byDay[key]
		if !ok {
			d = &model.DailyStats{Date: key}
			byDay[key] = d
		}
		return d
	}
	for _, c := range created {
		get(c.Day).NewLeads += c.Count
	}
	for _, c := range closed {
		get(c.Day).ClosedLeads += c.Count
	}
	for _, c := range messages {
		get(c.Day).MessagesCount += c.Count
	}

	out := make([]model.DailyStats, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}
