package storage

import (
	"context"
	"time"

	"gitlab.com/timkado/api/leads-router/internal/model"
)

// LeadChange is what a LeadMutation asks MutateLead to persist.
type LeadChange struct {
	// Updated marks status or timestamps as modified on the locked lead.
	Updated bool
	// Message is appended to the lead in the same transaction when non-nil.
	Message *model.Message
}

// LeadMutation runs against a row-locked lead inside a transaction. Returning
// an error rolls everything back.
type LeadMutation func(lead *model.Lead) (LeadChange, error)

// LeadFilter narrows ListLeads. Zero values mean no filter.
type LeadFilter struct {
	Status     model.LeadStatus
	OperatorID uint
	Limit      int
	Offset     int
}

// CounterRepo holds the per-project round-robin cursor.
type CounterRepo interface {
	// NextCounter returns the current counter for the project and increments
	// it atomically. A project without a row starts at 0.
	NextCounter(ctx context.Context, projectID uint) (int64, error)
	ListEligibleOperators(ctx context.Context, projectID uint) ([]model.Operator, error)
}

// DirectoryRepo reads the configuration entities managed outside this service.
type DirectoryRepo interface {
	FindBotByIdentifier(ctx context.Context, identifier string) (*model.Bot, error)
	FindBotByID(ctx context.Context, id uint) (*model.Bot, error)
	ListActiveBots(ctx context.Context) ([]model.Bot, error)
	UpdateBotWebhookURL(ctx context.Context, botID uint, url string) error
	FindOperatorByID(ctx context.Context, id uint) (*model.Operator, error)
	FindOperatorByUsername(ctx context.Context, username string) (*model.Operator, error)
	FindProjectByID(ctx context.Context, id uint) (*model.Project, error)
}

// LeadRepo stores leads and their message history.
type LeadRepo interface {
	// CreateLeadWithMessage inserts the lead and its first message atomically.
	// A second lead for the same chat fails with apperrors.ErrDuplicateChatID.
	CreateLeadWithMessage(ctx context.Context, lead *model.Lead, msg *model.Message) error
	FindLeadByID(ctx context.Context, id uint) (*model.Lead, error)
	FindLeadByChatID(ctx context.Context, chatID int64) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	ListMessages(ctx context.Context, leadID uint) ([]model.Message, error)
	// MutateLead locks the lead row, applies fn and persists the result.
	MutateLead(ctx context.Context, leadID uint, fn LeadMutation) (*model.Lead, *model.Message, error)
}

// StatsRepo computes the reporting aggregates. operatorID 0 means all leads.
type StatsRepo interface {
	Overview(ctx context.Context, operatorID uint) (model.OverviewStats, error)
	OperatorStats(ctx context.Context) ([]model.OperatorStats, error)
	WindowStats(ctx context.Context, since time.Time, operatorID uint) (model.WindowStats, error)
	DailyStats(ctx context.Context, from, to time.Time, operatorID uint) ([]model.DailyStats, error)
}

// Repository is everything the service needs from the database.
type Repository interface {
	CounterRepo
	DirectoryRepo
	LeadRepo
	StatsRepo
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Repository = (*PostgresRepo)(nil)
