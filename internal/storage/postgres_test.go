package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/leads-router/internal/apperrors"
	"gitlab.com/timkado/api/leads-router/pkg/logger"
)

// Queries are matched with sqlmock's regexp matcher on a distinctive prefix.
// gorm appends ORDER BY/LIMIT/RETURNING clauses that are not worth pinning.

// AnyTime matches any time.Time argument.
type AnyTime struct{}

func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

func newTestRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t).Named("test")

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return &PostgresRepo{db: gormDB}, mock
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline exceeded", fmt.Errorf("op: %w", context.DeadlineExceeded), true},
		{"record not found", gorm.ErrRecordNotFound, false},
		{"connection exception", &pgconn.PgError{Code: "08000"}, true},
		{"insufficient resources", &pgconn.PgError{Code: "53100"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"io timeout", errors.New("read tcp 10.0.0.1:1234->10.0.0.2:5432: i/o timeout"), true},
		{"starting up", errors.New("FATAL: the database system is starting up"), true},
		{"generic", errors.New("some other database error"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTransientError(tc.err))
		})
	}
}

func TestCheckConstraintViolation(t *testing.T) {
	testCases := []struct {
		name     string
		in       error
		expected error
		fragment string
	}{
		{"record not found", gorm.ErrRecordNotFound, apperrors.ErrNotFound, "record not found"},
		{"duplicate chat id", &pgconn.PgError{Code: "23505", ConstraintName: "idx_leads_telegram_chat_id"}, apperrors.ErrDuplicateChatID, "23505"},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "idx_bots_identifier"}, apperrors.ErrDuplicate, "idx_bots_identifier"},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "fk_messages_lead"}, apperrors.ErrBadRequest, "fk_messages_lead"},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "text"}, apperrors.ErrBadRequest, "text"},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "chk_distribution_counters_counter"}, apperrors.ErrBadRequest, "chk_distribution_counters_counter"},
		{"truncation", &pgconn.PgError{Code: "22001", ColumnName: "telegram_username"}, apperrors.ErrBadRequest, "telegram_username"},
		{"invalid text", &pgconn.PgError{Code: "22P02", DataTypeName: "bigint"}, apperrors.ErrBadRequest, "bigint"},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, apperrors.ErrDatabase, "40P01"},
		{"resources", &pgconn.PgError{Code: "53200"}, apperrors.ErrDatabase, "53200"},
		{"connection", &pgconn.PgError{Code: "08003"}, apperrors.ErrDatabase, "08003"},
		{"unhandled", &pgconn.PgError{Code: "XX000"}, apperrors.ErrDatabase, "XX000"},
		{"generic", errors.New("some generic DB error"), apperrors.ErrDatabase, "some generic DB error"},
	}

	assert.NoError(t, checkConstraintViolation(nil))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := checkConstraintViolation(tc.in)
			require.Error(t, out)
			assert.ErrorIs(t, out, tc.expected)
			assert.ErrorIs(t, out, tc.in)
			assert.ErrorContains(t, out, tc.fragment)
		})
	}
}

func TestDuplicateChatIDIsStillADuplicate(t *testing.T) {
	err := checkConstraintViolation(&pgconn.PgError{Code: "23505", ConstraintName: "idx_leads_telegram_chat_id"})
	assert.True(t, apperrors.IsDuplicateError(err))
}

func TestPostgresRepo_Close(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectClose()

		assert.NoError(t, repo.Close(context.Background()))
	})

	t.Run("Close Fails", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectClose().WillReturnError(errors.New("db close error"))

		err := repo.Close(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close SQL DB")
		assert.Contains(t, err.Error(), "db close error")
	})
}

func TestPostgresRepo_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:               gormLogger.Default.LogMode(gormLogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	repo := &PostgresRepo{db: gormDB}

	mock.ExpectPing()
	assert.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = repo.Ping(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrDatabase)

	assert.NoError(t, mock.ExpectationsWereMet())
}
