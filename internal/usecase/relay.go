package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/internal/validator"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

// SentMessage is what the operator gets back after a successful send.
type SentMessage struct {
	ID        uint      `json:"id"`
	LeadID    uint      `json:"lead_id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

type sendRequest struct {
	Text string `json:"text" validate:"tgtext"`
}

// Relay delivers operator messages to Telegram and records them once
// delivered.
type Relay struct {
	leads     storage.LeadRepo
	bots      BotResolver
	sender    TelegramSender
	lifecycle *LifecycleService
}

func NewRelay(leads storage.LeadRepo, bots BotResolver, sender TelegramSender, lifecycle *LifecycleService) *Relay {
	return &Relay{leads: leads, bots: bots, sender: sender, lifecycle: lifecycle}
}

// OperatorSend checks access and lifecycle, calls Telegram with no lock held,
// then appends the message under the row lock. A failed delivery leaves the
// lead untouched.
func (r *Relay) OperatorSend(ctx context.Context, leadID uint, id identity.Identity, text string) (*SentMessage, error) {
	log := logger.FromContext(ctx).With(zap.Uint("lead_id", leadID), zap.Uint("operator_id", id.OperatorID))

	if err := validator.Validate(sendRequest{Text: text}); err != nil {
		return nil, err
	}

	lead, err := r.leads.FindLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(id, lead); err != nil {
		return nil, err
	}
	if _, err := model.Transition(lead.Status, model.EventOperatorSend); err != nil {
		return nil, fmt.Errorf("lead %d: %w", leadID, err)
	}

	bot, err := r.bots.FindBotByID(ctx, lead.BotID)
	if err != nil {
		return nil, err
	}

	if err := r.sender.SendMessage(ctx, bot.Token, lead.TelegramChatID, text); err != nil {
		log.Warn("Operator message not delivered", zap.Error(err))
		if apperrors.IsDeliveryFailedError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrDeliveryFailed, err)
	}

	_, msg, err := r.lifecycle.SendOperatorMessage(ctx, leadID, id, text)
	if err != nil {
		// Telegram already has the text; only the record is missing.
		log.Error("Delivered operator message could not be recorded", zap.Error(err))
		return nil, err
	}

	return &SentMessage{
		ID:        msg.ID,
		LeadID:    msg.LeadID,
		Text:      msg.Text,
		Sender:    string(msg.Sender),
		CreatedAt: msg.CreatedAt,
	}, nil
}
