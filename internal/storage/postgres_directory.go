package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

// findOne loads a single row by condition with read retries. notFound is
// returned wrapped when no row matches.
func (r *PostgresRepo) findOne(ctx context.Context, entity string, dest interface{}, notFound error, query string, args ...interface{}) error {
	startTime := utils.Now()
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "find_"+entity, func() error {
		return r.db.WithContext(ctx).Where(query, args...).First(dest).Error
	})
	observer.ObserveDbOperationDuration("select", entity, utils.Now().Sub(startTime), err)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s %v", notFound, entity, args)
		}
		return checkConstraintViolation(err)
	}
	return nil
}

func (r *PostgresRepo) FindBotByIdentifier(ctx context.Context, identifier string) (*model.Bot, error) {
	var bot model.Bot
	if err := r.findOne(ctx, "bot", &bot, apperrors.ErrBotNotFound, "identifier = ?", identifier); err != nil {
		return nil, err
	}
	return &bot, nil
}

func (r *PostgresRepo) FindBotByID(ctx context.Context, id uint) (*model.Bot, error) {
	var bot model.Bot
	if err := r.findOne(ctx, "bot", &bot, apperrors.ErrBotNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &bot, nil
}

// ListActiveBots is used at startup to register webhooks.
func (r *PostgresRepo) ListActiveBots(ctx context.Context) ([]model.Bot, error) {
	startTime := utils.Now()
	var bots []model.Bot
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListActiveBots", func() error {
		return r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&bots).Error
	})
	observer.ObserveDbOperationDuration("select", "bot", utils.Now().Sub(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return bots, nil
}

func (r *PostgresRepo) UpdateBotWebhookURL(ctx context.Context, botID uint, url string) error {
	startTime := utils.Now()
	var rows int64
	err := retryableOperation(ctx, newRetryPolicy(ctx, defaultRetryMaxElapsedTime), "UpdateBotWebhookURL", func() error {
		res := r.db.WithContext(ctx).Model(&model.Bot{}).Where("id = ?", botID).Update("webhook_url", url)
		rows = res.RowsAffected
		return res.Error
	})
	observer.ObserveDbOperationDuration("update", "bot", utils.Now().Sub(startTime), err)
	if err != nil {
		return checkConstraintViolation(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: id %d", apperrors.ErrBotNotFound, botID)
	}
	return nil
}

func (r *PostgresRepo) FindOperatorByID(ctx context.Context, id uint) (*model.Operator, error) {
	var op model.Operator
	if err := r.findOne(ctx, "operator", &op, apperrors.ErrNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *PostgresRepo) FindOperatorByUsername(ctx context.Context, username string) (*model.Operator, error) {
	var op model.Operator
	if err := r.findOne(ctx, "operator", &op, apperrors.ErrNotFound, "username = ?", username); err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *PostgresRepo) FindProjectByID(ctx context.Context, id uint) (*model.Project, error) {
	var p model.Project
	if err := r.findOne(ctx, "project", &p, apperrors.ErrNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// SeedDirectory upserts a project with its bots and operators. Only the load
// generator calls it; production directory data is managed elsewhere.
func (r *PostgresRepo) SeedDirectory(ctx context.Context, project *model.Project, bots []*model.Bot, operators []*model.Operator) error {
	return r.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(project).Error; err != nil {
			return checkConstraintViolation(err)
		}

		for _, op := range operators {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "username"}},
				DoUpdates: clause.AssignmentColumns([]string{"role", "full_name", "is_active"}),
			}).Create(op).Error; err != nil {
				return checkConstraintViolation(err)
			}
			link := model.ProjectOperator{ProjectID: project.ID, OperatorID: op.ID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return checkConstraintViolation(err)
			}
		}

		for _, bot := range bots {
			bot.ProjectID = project.ID
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "identifier"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "project_id", "token", "auto_reply", "is_active"}),
			}).Create(bot).Error; err != nil {
				return checkConstraintViolation(err)
			}
		}

		logger.FromContext(ctx).Info("Seeded directory",
			zap.Uint("project_id", project.ID),
			zap.Int("bots", len(bots)),
			zap.Int("operators", len(operators)))
		return nil
	})
}
