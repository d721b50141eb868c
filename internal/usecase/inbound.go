package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/internal/validator"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"gitlab.com/timkado/api/leads-router/pkg/utils"
)

const (
	StartStatusCreated = "created"
	StartStatusExists  = "exists"

	MessageStatusSaved        = "saved"
	MessageStatusLeadNotFound = "lead_not_found"
)

type StartResult struct {
	Status     string `json:"status"`
	LeadID     uint   `json:"lead_id"`
	AssignedTo uint   `json:"assigned_to,omitempty"`
}

type MessageResult struct {
	Status    string `json:"status"`
	LeadID    uint   `json:"lead_id,omitempty"`
	MessageID uint   `json:"message_id,omitempty"`
}

// InboundProcessor turns Telegram updates into leads and messages. Webhooks
// and the JetStream consumer both go through HandleUpdate.
type InboundProcessor struct {
	bots        BotResolver
	leads       storage.LeadRepo
	lifecycle   *LifecycleService
	distributor *Distributor
	sender      TelegramSender
	now         Clock
}

func NewInboundProcessor(bots BotResolver, leads storage.LeadRepo, lifecycle *LifecycleService, distributor *Distributor, sender TelegramSender, clock Clock) *InboundProcessor {
	return &InboundProcessor{
		bots:        bots,
		leads:       leads,
		lifecycle:   lifecycle,
		distributor: distributor,
		sender:      sender,
		now:         defaultClock(clock),
	}
}

// HandleUpdate dispatches one update. Updates without a message yield a nil
// result and no error.
func (p *InboundProcessor) HandleUpdate(ctx context.Context, source, botIdentifier string, update model.Update) (interface{}, error) {
	if update.Message == nil {
		observer.IncInboundReceived(source, "ignored")
		return nil, nil
	}

	msg := update.Message
	kind := "message"
	if msg.IsStart() {
		kind = "start"
	}
	observer.IncInboundReceived(source, kind)
	start := utils.Now()
	logger.FromContext(ctx).Debug("Inbound update",
		zap.String("source", source),
		zap.String("bot", botIdentifier),
		zap.String("kind", kind),
		zap.Time("sent_at", utils.UnixToTime(msg.Date)),
	)

	var (
		result interface{}
		err    error
	)
	if err = validator.Validate(update); err == nil {
		if kind == "start" {
			result, err = p.HandleStart(ctx, botIdentifier, msg.Chat.ID, msg.Profile())
		} else {
			result, err = p.HandleMessage(ctx, botIdentifier, msg.Chat.ID, msg.Text)
		}
	}

	observer.ObserveInboundDuration(source, kind, utils.Now().Sub(start))
	if err != nil {
		observer.IncInboundFailed(source, kind)
		return nil, err
	}
	return result, nil
}

func (p *InboundProcessor) resolveBot(ctx context.Context, identifier string) (*model.Bot, error) {
	bot, err := p.bots.FindBotByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !bot.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", apperrors.ErrBotNotFound, identifier)
	}
	return bot, nil
}

// HandleStart opens a conversation, or records another /start on an
// existing one.
func (p *InboundProcessor) HandleStart(ctx context.Context, botIdentifier string, chatID int64, profile model.SenderProfile) (*StartResult, error) {
	log := logger.FromContext(ctx).With(zap.String("bot", botIdentifier), zap.Int64("chat_id", chatID))

	bot, err := p.resolveBot(ctx, botIdentifier)
	if err != nil {
		log.Warn("Start for unknown bot", zap.Error(err))
		return nil, err
	}

	existing, err := p.leads.FindLeadByChatID(ctx, chatID)
	switch {
	case err == nil:
		return p.restart(ctx, existing)
	case !apperrors.IsNotFoundError(err):
		return nil, err
	}

	operator, err := p.distributor.SelectOperator(ctx, bot.ProjectID)
	if err != nil {
		if apperrors.IsNoEligibleOperatorError(err) {
			log.Error("Cannot assign lead", zap.Uint("project_id", bot.ProjectID), zap.Error(err))
		}
		return nil, err
	}

	now := p.now()
	lead := &model.Lead{
		TelegramChatID:     chatID,
		TelegramUsername:   profile.Username,
		FirstName:          profile.FirstName,
		LastName:           profile.LastName,
		BotID:              bot.ID,
		ProjectID:          bot.ProjectID,
		AssignedOperatorID: operator.ID,
		Status:             model.LeadStatusNew,
		Profile:            utils.MustMarshalJSON(profile),
		CreatedAt:          now,
		LastUpdatedAt:      now,
	}
	first := &model.Message{Sender: model.SenderLead, Text: model.StartMarker, CreatedAt: now}

	if err := p.lifecycle.Create(ctx, lead, first); err != nil {
		if apperrors.IsDuplicateError(err) {
			// Another start for the same chat won the insert.
			log.Info("Lead created concurrently, recording start on existing lead")
			existing, findErr := p.leads.FindLeadByChatID(ctx, chatID)
			if findErr != nil {
				return nil, findErr
			}
			return p.restart(ctx, existing)
		}
		return nil, err
	}

	log.Info("Lead created",
		zap.Uint("lead_id", lead.ID),
		zap.Uint("operator_id", operator.ID))

	if bot.AutoReply != "" {
		p.autoReply(ctx, bot, lead)
	}

	return &StartResult{Status: StartStatusCreated, LeadID: lead.ID, AssignedTo: operator.ID}, nil
}

func (p *InboundProcessor) restart(ctx context.Context, lead *model.Lead) (*StartResult, error) {
	updated, _, err := p.lifecycle.RecordInboundMessage(ctx, lead.ID, model.StartMarker)
	if err != nil {
		return nil, err
	}
	return &StartResult{Status: StartStatusExists, LeadID: updated.ID, AssignedTo: updated.AssignedOperatorID}, nil
}

// autoReply is best effort; the lead already exists whatever happens here.
func (p *InboundProcessor) autoReply(ctx context.Context, bot *model.Bot, lead *model.Lead) {
	log := logger.FromContext(ctx).With(zap.Uint("lead_id", lead.ID), zap.String("bot", bot.Identifier))
	if err := p.sender.SendMessage(ctx, bot.Token, lead.TelegramChatID, bot.AutoReply); err != nil {
		log.Warn("Auto-reply delivery failed", zap.Error(err))
		return
	}
	if _, _, err := p.lifecycle.AppendAutoReply(ctx, lead.ID, bot.AutoReply); err != nil {
		log.Error("Auto-reply delivered but not recorded", zap.Error(err))
	}
}

// HandleMessage records a follow-up message. The lead is found by chat id
// alone, so a bot deactivated mid-conversation still delivers. Unknown chats
// are reported in the result, not as an error.
func (p *InboundProcessor) HandleMessage(ctx context.Context, botIdentifier string, chatID int64, text string) (*MessageResult, error) {
	lead, err := p.leads.FindLeadByChatID(ctx, chatID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Info("Message from chat without lead",
				zap.String("bot", botIdentifier), zap.Int64("chat_id", chatID))
			return &MessageResult{Status: MessageStatusLeadNotFound}, nil
		}
		return nil, err
	}

	_, msg, err := p.lifecycle.RecordInboundMessage(ctx, lead.ID, text)
	if err != nil {
		return nil, err
	}
	return &MessageResult{Status: MessageStatusSaved, LeadID: lead.ID, MessageID: msg.ID}, nil
}
