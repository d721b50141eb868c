package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
)

func TestFindBotByIdentifier(t *testing.T) {
	ctx := context.Background()
	query := `SELECT \* FROM "bots" WHERE identifier = \$1`

	t.Run("Found", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(query).
			WithArgs("acme_bot", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "identifier", "project_id", "token", "auto_reply", "is_active"}).
				AddRow(1, "acme_bot", 2, "123:abc", "Thanks, a manager will reply shortly.", true))

		bot, err := repo.FindBotByIdentifier(ctx, "acme_bot")
		require.NoError(t, err)
		assert.Equal(t, uint(2), bot.ProjectID)
		assert.Equal(t, "123:abc", bot.Token)
	})

	t.Run("Unknown bot", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.FindBotByIdentifier(ctx, "ghost_bot")
		assert.ErrorIs(t, err, apperrors.ErrBotNotFound)
		assert.Contains(t, err.Error(), "ghost_bot")
	})
}

func TestUpdateBotWebhookURL(t *testing.T) {
	ctx := context.Background()

	t.Run("Updated", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec(`UPDATE "bots" SET "webhook_url"=\$1 WHERE id = \$2`).
			WithArgs("https://leads.example.com/webhook/acme_bot", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateBotWebhookURL(ctx, 1, "https://leads.example.com/webhook/acme_bot"))
	})

	t.Run("Missing bot", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec(`UPDATE "bots" SET "webhook_url"=\$1 WHERE id = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdateBotWebhookURL(ctx, 1, "x"), apperrors.ErrBotNotFound)
	})
}

func TestFindOperatorByUsername_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	mock.ExpectQuery(`SELECT \* FROM "operators" WHERE username = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindOperatorByUsername(context.Background(), "nobody")
	assert.True(t, apperrors.IsNotFoundError(err))
}
