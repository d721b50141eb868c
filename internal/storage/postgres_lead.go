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

const defaultLeadListLimit = 100

// CreateLeadWithMessage inserts the lead and its first message in one
// transaction.
func (r *PostgresRepo) CreateLeadWithMessage(ctx context.Context, lead *model.Lead, msg *model.Message) error {
	startTime := utils.Now()
	err := r.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(lead).Error; err != nil {
			return checkConstraintViolation(err)
		}
		if msg == nil {
			return nil
		}
		msg.LeadID = lead.ID
		if err := tx.Create(msg).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	})
	observer.ObserveDbOperationDuration("insert", "lead", utils.Now().Sub(startTime), err)
	if err != nil {
		if !apperrors.IsDuplicateError(err) {
			logger.FromContext(ctx).Error("Failed to create lead",
				zap.Int64("telegram_chat_id", lead.TelegramChatID), zap.Error(err))
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) FindLeadByID(ctx context.Context, id uint) (*model.Lead, error) {
	var lead model.Lead
	if err := r.findOne(ctx, "lead", &lead, apperrors.ErrLeadNotFound, "id = ?", id); err != nil {
		return nil, err
	}
	return &lead, nil
}

func (r *PostgresRepo) FindLeadByChatID(ctx context.Context, chatID int64) (*model.Lead, error) {
	var lead model.Lead
	if err := r.findOne(ctx, "lead", &lead, apperrors.ErrLeadNotFound, "telegram_chat_id = ?", chatID); err != nil {
		return nil, err
	}
	return &lead, nil
}

// ListLeads returns the newest leads first.
func (r *PostgresRepo) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	startTime := utils.Now()
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLeadListLimit
	}

	var leads []model.Lead
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListLeads", func() error {
		q := r.db.WithContext(ctx).Model(&model.Lead{})
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.OperatorID != 0 {
			q = q.Where("assigned_operator_id = ?", filter.OperatorID)
		}
		return q.Order("last_updated_at DESC").Order("id DESC").
			Limit(limit).Offset(filter.Offset).
			Find(&leads).Error
	})
	observer.ObserveDbOperationDuration("select", "lead", utils.Now().Sub(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return leads, nil
}

// ListMessages returns the conversation oldest first.
func (r *PostgresRepo) ListMessages(ctx context.Context, leadID uint) ([]model.Message, error) {
	startTime := utils.Now()
	var messages []model.Message
	err := retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListMessages", func() error {
		return r.db.WithContext(ctx).
			Where("lead_id = ?", leadID).
			Order("created_at ASC").Order("id ASC").
			Find(&messages).Error
	})
	observer.ObserveDbOperationDuration("select", "message", utils.Now().Sub(startTime), err)
	if err != nil {
		return nil, checkConstraintViolation(err)
	}
	return messages, nil
}

// MutateLead serialises every change to one lead behind SELECT ... FOR UPDATE.
// Deadlocks and connection drops retry the whole transaction, so fn must be
// free of side effects outside the lead it is handed.
func (r *PostgresRepo) MutateLead(ctx context.Context, leadID uint, fn LeadMutation) (*model.Lead, *model.Message, error) {
	startTime := utils.Now()
	var (
		lead    model.Lead
		created *model.Message
	)

	op := func() error {
		lead = model.Lead{}
		created = nil
		return r.withTx(ctx, func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", leadID).
				First(&lead).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: id %d", apperrors.ErrLeadNotFound, leadID)
				}
				return err
			}

			change, err := fn(&lead)
			if err != nil {
				return err
			}

			if change.Updated {
				if err := tx.Model(&model.Lead{}).Where("id = ?", lead.ID).Updates(map[string]interface{}{
					"status":          lead.Status,
					"last_updated_at": lead.LastUpdatedAt,
					"closed_at":       lead.ClosedAt,
				}).Error; err != nil {
					return err
				}
			}

			if change.Message != nil {
				change.Message.ID = 0
				change.Message.LeadID = lead.ID
				if err := tx.Create(change.Message).Error; err != nil {
					return err
				}
				created = change.Message
			}
			return nil
		})
	}

	err := retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "MutateLead", op)
	observer.ObserveDbOperationDuration("update", "lead", utils.Now().Sub(startTime), err)
	if err != nil {
		if apperrors.IsNotFoundError(err) || apperrors.IsLifecycleError(err) || apperrors.IsForbiddenError(err) {
			return nil, nil, err
		}
		logger.FromContext(ctx).Error("Failed to mutate lead", zap.Uint("lead_id", leadID), zap.Error(err))
		if errors.Is(err, apperrors.ErrDatabase) {
			return nil, nil, err
		}
		return nil, nil, checkConstraintViolation(err)
	}
	return &lead, created, nil
}
