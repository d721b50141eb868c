package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

// Distributor assigns new leads to operators of a project in round robin.
type Distributor struct {
	repo storage.CounterRepo
}

func NewDistributor(repo storage.CounterRepo) *Distributor {
	return &Distributor{repo: repo}
}

// SelectOperator picks eligible[c mod n] where c is the project counter before
// its atomic increment. The counter is left untouched when nobody is eligible.
// Membership changes shift the divisor immediately, so the rotation restarts
// from wherever c lands.
func (d *Distributor) SelectOperator(ctx context.Context, projectID uint) (*model.Operator, error) {
	log := logger.FromContext(ctx).With(zap.Uint("project_id", projectID))

	operators, err := d.repo.ListEligibleOperators(ctx, projectID)
	if err != nil {
		observer.IncAssignmentFailure(projectID, "storage")
		return nil, err
	}
	if len(operators) == 0 {
		observer.IncAssignmentFailure(projectID, "no_operator")
		log.Error("No eligible operators for project")
		return nil, apperrors.NewFatal(apperrors.ErrNoEligibleOperator, "project %d", projectID)
	}

	counter, err := d.repo.NextCounter(ctx, projectID)
	if err != nil {
		observer.IncAssignmentFailure(projectID, "storage")
		return nil, err
	}

	selected := operators[int(counter%int64(len(operators)))]
	observer.IncAssignment(projectID)
	log.Debug("Selected operator",
		zap.Int64("counter", counter),
		zap.Int("eligible", len(operators)),
		zap.Uint("operator_id", selected.ID))
	return &selected, nil
}
