package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/internal/model"
)

var leadColumns = []string{
	"id", "telegram_chat_id", "telegram_username", "first_name", "last_name",
	"bot_id", "project_id", "assigned_operator_id", "status",
	"created_at", "last_updated_at", "closed_at",
}

func leadRow(rows *sqlmock.Rows, l *model.Lead) *sqlmock.Rows {
	var closedAt interface{}
	if l.ClosedAt != nil {
		closedAt = *l.ClosedAt
	}
	return rows.AddRow(l.ID, l.TelegramChatID, l.TelegramUsername, l.FirstName, l.LastName,
		l.BotID, l.ProjectID, l.AssignedOperatorID, string(l.Status),
		l.CreatedAt, l.LastUpdatedAt, closedAt)
}

func TestCreateLeadWithMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		lead := model.NewLead(func(l *model.Lead) { l.ID = 0 })
		msg := &model.Message{Sender: model.SenderLead, Text: model.StartMarker, CreatedAt: lead.CreatedAt}

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "leads"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
		mock.ExpectQuery(`INSERT INTO "messages"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(301))
		mock.ExpectCommit()

		require.NoError(t, repo.CreateLeadWithMessage(ctx, lead, msg))
		assert.Equal(t, uint(21), lead.ID)
		assert.Equal(t, uint(21), msg.LeadID)
		assert.Equal(t, uint(301), msg.ID)
	})

	t.Run("Duplicate chat id rolls back", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		lead := model.NewLead(func(l *model.Lead) { l.ID = 0 })

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO "leads"`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_leads_telegram_chat_id"})
		mock.ExpectRollback()

		err := repo.CreateLeadWithMessage(ctx, lead, &model.Message{Sender: model.SenderLead, Text: "hi"})
		assert.ErrorIs(t, err, apperrors.ErrDuplicateChatID)
	})
}

func TestFindLeadByChatID(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		want := model.NewLead()

		mock.ExpectQuery(`SELECT \* FROM "leads" WHERE telegram_chat_id = \$1`).
			WithArgs(want.TelegramChatID, 1).
			WillReturnRows(leadRow(sqlmock.NewRows(leadColumns), want))

		got, err := repo.FindLeadByChatID(ctx, want.TelegramChatID)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Status, got.Status)
	})

	t.Run("Not found", func(t *testing.T) {
		repo, mock := newTestRepo(t)

		mock.ExpectQuery(`SELECT \* FROM "leads" WHERE telegram_chat_id = \$1`).
			WillReturnRows(sqlmock.NewRows(leadColumns))

		_, err := repo.FindLeadByChatID(ctx, 42)
		assert.ErrorIs(t, err, apperrors.ErrLeadNotFound)
		assert.True(t, apperrors.IsNotFoundError(err))
	})
}

func TestListLeads_FiltersByOperatorAndStatus(t *testing.T) {
	repo, mock := newTestRepo(t)
	lead := model.NewLead(func(l *model.Lead) { l.AssignedOperatorID = 5 })

	mock.ExpectQuery(`SELECT \* FROM "leads" WHERE status = \$1 AND assigned_operator_id = \$2 ORDER BY last_updated_at DESC,id DESC LIMIT \$3`).
		WillReturnRows(leadRow(sqlmock.NewRows(leadColumns), lead))

	leads, err := repo.ListLeads(context.Background(), LeadFilter{Status: model.LeadStatusNew, OperatorID: 5})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, uint(5), leads[0].AssignedOperatorID)
}

func TestListMessages_OldestFirst(t *testing.T) {
	repo, mock := newTestRepo(t)
	t0 := time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE lead_id = \$1 ORDER BY created_at ASC,id ASC`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lead_id", "sender", "text", "created_at"}).
			AddRow(1, 7, "lead", "/start", t0).
			AddRow(2, 7, "manager", "hello", t0.Add(time.Minute)))

	msgs, err := repo.ListMessages(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderOperator, msgs[1].Sender)
}

func TestMutateLead(t *testing.T) {
	ctx := context.Background()
	lockQuery := `SELECT \* FROM "leads" WHERE id = \$1 .*FOR UPDATE`

	t.Run("Applies change and appends message", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		lead := model.NewLead(func(l *model.Lead) { l.ID = 9; l.Status = model.LeadStatusRead })
		now := lead.LastUpdatedAt.Add(time.Minute)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(leadRow(sqlmock.NewRows(leadColumns), lead))
		mock.ExpectExec(`UPDATE "leads" SET`).
			WithArgs(nil, AnyTime{}, string(model.LeadStatusInProgress), 9).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO "messages"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
		mock.ExpectCommit()

		updated, msg, err := repo.MutateLead(ctx, 9, func(l *model.Lead) (LeadChange, error) {
			changed, err := l.Apply(model.EventOperatorSend, now)
			return LeadChange{
				Updated: changed,
				Message: &model.Message{Sender: model.SenderOperator, Text: "hi", CreatedAt: now},
			}, err
		})
		require.NoError(t, err)
		assert.Equal(t, model.LeadStatusInProgress, updated.Status)
		assert.Equal(t, now, updated.LastUpdatedAt)
		require.NotNil(t, msg)
		assert.Equal(t, uint(77), msg.ID)
		assert.Equal(t, uint(9), msg.LeadID)
	})

	t.Run("Mutation error rolls back without writes", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		closedAt := time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC)
		lead := model.NewLead(func(l *model.Lead) {
			l.ID = 9
			l.Status = model.LeadStatusClosed
			l.CreatedAt = closedAt.Add(-time.Hour)
			l.LastUpdatedAt = closedAt
			l.ClosedAt = &closedAt
		})

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(leadRow(sqlmock.NewRows(leadColumns), lead))
		mock.ExpectRollback()

		_, _, err := repo.MutateLead(ctx, 9, func(l *model.Lead) (LeadChange, error) {
			_, err := l.Apply(model.EventOperatorSend, closedAt.Add(time.Hour))
			return LeadChange{}, err
		})
		assert.ErrorIs(t, err, apperrors.ErrLeadClosed)
	})

	t.Run("Missing lead", func(t *testing.T) {
		repo, mock := newTestRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(sqlmock.NewRows(leadColumns))
		mock.ExpectRollback()

		_, _, err := repo.MutateLead(ctx, 404, func(*model.Lead) (LeadChange, error) {
			t.Fatal("mutation must not run for a missing lead")
			return LeadChange{}, nil
		})
		assert.ErrorIs(t, err, apperrors.ErrLeadNotFound)
	})

	t.Run("Unchanged lead skips update", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		lead := model.NewLead(func(l *model.Lead) { l.ID = 3 })

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(leadRow(sqlmock.NewRows(leadColumns), lead))
		mock.ExpectCommit()

		_, msg, err := repo.MutateLead(ctx, 3, func(*model.Lead) (LeadChange, error) {
			return LeadChange{}, nil
		})
		require.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("Non transient failure is mapped", func(t *testing.T) {
		repo, mock := newTestRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnError(errors.New("syntax error at or near"))
		mock.ExpectRollback()

		_, _, err := repo.MutateLead(ctx, 3, func(*model.Lead) (LeadChange, error) {
			return LeadChange{}, nil
		})
		assert.ErrorIs(t, err, apperrors.ErrDatabase)
	})
}
