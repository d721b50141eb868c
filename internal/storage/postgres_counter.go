package storage

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const nextCounterSQL = `INSERT INTO distribution_counters (project_id, counter) VALUES (?, 1) ` +
	`ON CONFLICT (project_id) DO UPDATE SET counter = distribution_counters.counter + 1 ` +
	`RETURNING counter - 1`

// NextCounter is a single upsert so concurrent callers for the same project
// always observe distinct values. It is not retried: a lost reply after a
// committed increment would otherwise advance the cursor twice.
func (r *PostgresRepo) NextCounter(ctx context.Context, projectID uint) (int64, error) {
	startTime := utils.Now()
	var counter int64
	err := r.db.WithContext(ctx).Raw(nextCounterSQL, projectID).Scan(&counter).Error
	observer.ObserveDbOperationDuration("upsert", "distribution_counter", utils.Now().Sub(startTime), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to advance distribution counter",
			zap.Uint("project_id", projectID), zap.Error(err))
		return 0, checkConstraintViolation(err)
	}
	return counter, nil
}

// ListEligibleOperators returns active managers linked to the project ordered
// by id, the order round robin indexes into.
func (r *PostgresRepo) ListEligibleOperators(ctx context.Context, projectID uint) ([]model.Operator, error) {
	startTime := utils.Now()
	var operators []model.Operator
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListEligibleOperators", func() error {
		return r.db.WithContext(ctx).
			Joins("JOIN project_operators ON project_operators.operator_id = operators.id").
			Where("project_operators.project_id = ? AND operators.role = ? AND operators.is_active = ?",
				projectID, identity.RoleManager, true).
			Order("operators.id ASC").
			Find(&operators).Error
	})
	observer.ObserveDbOperationDuration("select", "operator", utils.Now().Sub(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return operators, nil
}
