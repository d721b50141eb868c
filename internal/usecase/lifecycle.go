package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/identity"
	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/observer"
	"gitlab.com/timkado/api/leads-router/internal/storage"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

// LeadDetail is a lead with the display names of what it belongs to.
type LeadDetail struct {
	model.Lead
	ProjectName      string          `json:"project_name,omitempty"`
	BotName          string          `json:"bot_name,omitempty"`
	AssignedOperator *model.Operator `json:"assigned_operator,omitempty"`
}

// LifecycleService owns every state change of a lead. Each mutation runs
// under the lead's row lock; notifications and events go out after commit.
type LifecycleService struct {
	repo      storage.LeadRepo
	directory storage.DirectoryRepo
	notifier  Notifier
	events    EventPublisher
	now       Clock
}

func NewLifecycleService(repo storage.LeadRepo, directory storage.DirectoryRepo, notifier Notifier, events EventPublisher, clock Clock) *LifecycleService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &LifecycleService{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		events:    events,
		now:       defaultClock(clock),
	}
}

// Authorize lets admins act on any lead and managers only on their own.
func Authorize(id identity.Identity, lead *model.Lead) error {
	if id.CanAct(lead.AssignedOperatorID) {
		return nil
	}
	return fmt.Errorf("%w: lead %d", apperrors.ErrForbidden, lead.ID)
}

// Create stores a new lead with its first message and announces it to the
// assigned operator.
func (s *LifecycleService) Create(ctx context.Context, lead *model.Lead, first *model.Message) error {
	if err := s.repo.CreateLeadWithMessage(ctx, lead, first); err != nil {
		return err
	}

	observer.IncLeadTransition("create", string(lead.Status))
	s.notifier.Notify(lead.AssignedOperatorID, model.NewLeadAssignedEvent(lead))
	s.publish(ctx, model.DomainEventLeadCreated, lead, nil)
	if first != nil {
		s.notifier.Notify(lead.AssignedOperatorID, model.NewMessageEvent(first))
		s.publish(ctx, model.DomainEventLeadMessage, lead, first)
	}
	return nil
}

// RecordInboundMessage appends a message from the lead. Open leads go back to
// new; closed leads keep their status and timestamps but still record it.
func (s *LifecycleService) RecordInboundMessage(ctx context.Context, leadID uint, text string) (*model.Lead, *model.Message, error) {
	return s.mutate(ctx, leadID, nil, model.EventInboundMessage, &model.Message{
		Sender: model.SenderLead,
		Text:   text,
	}, 0)
}

// appendOnly records a message without moving the lead through the lifecycle.
const appendOnly model.LifecycleEvent = ""

// AppendAutoReply records a bot auto-reply as a manager message. It is not an
// operator action, so status and timestamps stay as they are.
func (s *LifecycleService) AppendAutoReply(ctx context.Context, leadID uint, text string) (*model.Lead, *model.Message, error) {
	return s.mutate(ctx, leadID, nil, appendOnly, &model.Message{
		Sender: model.SenderOperator,
		Text:   text,
	}, 0)
}

// SendOperatorMessage records a message an operator already delivered to
// Telegram. The assigned operator is notified unless they sent it.
func (s *LifecycleService) SendOperatorMessage(ctx context.Context, leadID uint, id identity.Identity, text string) (*model.Lead, *model.Message, error) {
	return s.mutate(ctx, leadID, &id, model.EventOperatorSend, &model.Message{
		Sender: model.SenderOperator,
		Text:   text,
	}, id.OperatorID)
}

func (s *LifecycleService) MarkRead(ctx context.Context, leadID uint, id identity.Identity) (*model.Lead, error) {
	lead, _, err := s.mutate(ctx, leadID, &id, model.EventMarkRead, nil, 0)
	return lead, err
}

// Close is idempotent: closing a closed lead changes nothing and succeeds.
func (s *LifecycleService) Close(ctx context.Context, leadID uint, id identity.Identity) (*model.Lead, error) {
	lead, _, err := s.mutate(ctx, leadID, &id, model.EventClose, nil, 0)
	return lead, err
}

// mutate applies event under the row lock. caller nil means a system action
// that skips authorization. quietFor suppresses the new_message notification
// when it equals the assigned operator.
func (s *LifecycleService) mutate(ctx context.Context, leadID uint, caller *identity.Identity, event model.LifecycleEvent, msg *model.Message, quietFor uint) (*model.Lead, *model.Message, error) {
	log := logger.FromContext(ctx).With(zap.Uint("lead_id", leadID), zap.String("event", string(event)))

	var (
		prevStatus model.LeadStatus
		changed    bool
	)
	lead, created, err := s.repo.MutateLead(ctx, leadID, func(l *model.Lead) (storage.LeadChange, error) {
		if caller != nil {
			if err := Authorize(*caller, l); err != nil {
				return storage.LeadChange{}, err
			}
		}
		prevStatus = l.Status
		now := s.now()
		if event != appendOnly {
			var err error
			changed, err = l.Apply(event, now)
			if err != nil {
				return storage.LeadChange{}, err
			}
		}
		change := storage.LeadChange{Updated: changed}
		if msg != nil {
			m := *msg
			m.CreatedAt = now
			change.Message = &m
		}
		return change, nil
	})
	if err != nil {
		if apperrors.IsForbiddenError(err) || apperrors.IsLifecycleError(err) || apperrors.IsNotFoundError(err) {
			log.Info("Lead action rejected", zap.Error(err))
		} else {
			log.Error("Lead action failed", zap.Error(err))
		}
		return nil, nil, err
	}

	if changed {
		observer.IncLeadTransition(string(event), string(lead.Status))
	}
	if lead.Status != prevStatus {
		s.publish(ctx, model.DomainEventStatusChanged, lead, nil)
	}
	if created != nil {
		if lead.AssignedOperatorID != quietFor {
			s.notifier.Notify(lead.AssignedOperatorID, model.NewMessageEvent(created))
		}
		s.publish(ctx, model.DomainEventLeadMessage, lead, created)
	}
	return lead, created, nil
}

// ListLeads returns leads visible to the caller, optionally by status.
func (s *LifecycleService) ListLeads(ctx context.Context, id identity.Identity, status model.LeadStatus, limit, offset int) ([]model.Lead, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrValidation, status)
	}
	filter := storage.LeadFilter{Status: status, Limit: limit, Offset: offset}
	if !id.IsAdmin() {
		filter.OperatorID = id.OperatorID
	}
	return s.repo.ListLeads(ctx, filter)
}

func (s *LifecycleService) GetLead(ctx context.Context, leadID uint, id identity.Identity) (*LeadDetail, error) {
	lead, err := s.repo.FindLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(id, lead); err != nil {
		return nil, err
	}

	detail := &LeadDetail{Lead: *lead}
	if s.directory == nil {
		return detail, nil
	}
	log := logger.FromContext(ctx)
	if p, err := s.directory.FindProjectByID(ctx, lead.ProjectID); err == nil {
		detail.ProjectName = p.Name
	} else {
		log.Warn("Project lookup failed for lead detail", zap.Uint("project_id", lead.ProjectID), zap.Error(err))
	}
	if b, err := s.directory.FindBotByID(ctx, lead.BotID); err == nil {
		detail.BotName = b.Name
	} else {
		log.Warn("Bot lookup failed for lead detail", zap.Uint("bot_id", lead.BotID), zap.Error(err))
	}
	if op, err := s.directory.FindOperatorByID(ctx, lead.AssignedOperatorID); err == nil {
		detail.AssignedOperator = op
	} else {
		log.Warn("Operator lookup failed for lead detail", zap.Uint("operator_id", lead.AssignedOperatorID), zap.Error(err))
	}
	return detail, nil
}

func (s *LifecycleService) ListMessages(ctx context.Context, leadID uint, id identity.Identity) ([]model.Message, error) {
	lead, err := s.repo.FindLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(id, lead); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, leadID)
}

func (s *LifecycleService) publish(ctx context.Context, eventType string, lead *model.Lead, msg *model.Message) {
	ev := model.DomainEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		LeadID:     lead.ID,
		ProjectID:  lead.ProjectID,
		OperatorID: lead.AssignedOperatorID,
		Status:     lead.Status,
		OccurredAt: s.now(),
	}
	if msg != nil {
		view := model.NewMessageView(msg)
		ev.Message = &view
	}
	s.events.Publish(ctx, ev)
}
