package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/leads-router/internal/model"
	"gitlab.com/timkado/api/leads-router/internal/storage"
)

// RepositoryMock mocks storage.Repository.
type RepositoryMock struct {
	mock.Mock
}

var _ storage.Repository = (*RepositoryMock)(nil)

func (m *RepositoryMock) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *RepositoryMock) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- CounterRepo ---

func (m *RepositoryMock) NextCounter(ctx context.Context, projectID uint) (int64, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *RepositoryMock) ListEligibleOperators(ctx context.Context, projectID uint) ([]model.Operator, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Operator), args.Error(1)
}

// --- DirectoryRepo ---

func (m *RepositoryMock) FindBotByIdentifier(ctx context.Context, identifier string) (*model.Bot, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Bot), args.Error(1)
}

func (m *RepositoryMock) FindBotByID(ctx context.Context, id uint) (*model.Bot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Bot), args.Error(1)
}

func (m *RepositoryMock) ListActiveBots(ctx context.Context) ([]model.Bot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Bot), args.Error(1)
}

func (m *RepositoryMock) UpdateBotWebhookURL(ctx context.Context, botID uint, url string) error {
	return m.Called(ctx, botID, url).Error(0)
}

func (m *RepositoryMock) FindOperatorByID(ctx context.Context, id uint) (*model.Operator, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Operator), args.Error(1)
}

func (m *RepositoryMock) FindOperatorByUsername(ctx context.Context, username string) (*model.Operator, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Operator), args.Error(1)
}

func (m *RepositoryMock) FindProjectByID(ctx context.Context, id uint) (*model.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

// --- LeadRepo ---

func (m *RepositoryMock) CreateLeadWithMessage(ctx context.Context, lead *model.Lead, msg *model.Message) error {
	return m.Called(ctx, lead, msg).Error(0)
}

func (m *RepositoryMock) FindLeadByID(ctx context.Context, id uint) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *RepositoryMock) FindLeadByChatID(ctx context.Context, chatID int64) (*model.Lead, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *RepositoryMock) ListLeads(ctx context.Context, filter storage.LeadFilter) ([]model.Lead, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *RepositoryMock) ListMessages(ctx context.Context, leadID uint) ([]model.Message, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

// MutateLead mocks the locked update. When the first return value is a
// *model.Lead the supplied mutation is run against a copy of it, so tests
// exercise the real lifecycle rules.
func (m *RepositoryMock) MutateLead(ctx context.Context, leadID uint, fn storage.LeadMutation) (*model.Lead, *model.Message, error) {
	args := m.Called(ctx, leadID, fn)
	if err := args.Error(2); err != nil {
		return nil, nil, err
	}
	seed, ok := args.Get(0).(*model.Lead)
	if !ok || seed == nil {
		return nil, nil, nil
	}
	lead := *seed
	change, err := fn(&lead)
	if err != nil {
		return nil, nil, err
	}
	if change.Message != nil {
		change.Message.LeadID = lead.ID
	}
	return &lead, change.Message, nil
}

// --- StatsRepo ---

func (m *RepositoryMock) Overview(ctx context.Context, operatorID uint) (model.OverviewStats, error) {
	args := m.Called(ctx, operatorID)
	return args.Get(0).(model.OverviewStats), args.Error(1)
}

func (m *RepositoryMock) OperatorStats(ctx context.Context) ([]model.OperatorStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.OperatorStats), args.Error(1)
}

func (m *RepositoryMock) WindowStats(ctx context.Context, since time.Time, operatorID uint) (model.WindowStats, error) {
	args := m.Called(ctx, since, operatorID)
	return args.Get(0).(model.WindowStats), args.Error(1)
}

func (m *RepositoryMock) DailyStats(ctx context.Context, from, to time.Time, operatorID uint) ([]model.DailyStats, error) {
	args := m.Called(ctx, from, to, operatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DailyStats), args.Error(1)
}
