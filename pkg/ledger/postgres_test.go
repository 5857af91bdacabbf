package ledger

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/budgeteer/pkg/models"
)

func accountRow(id string, spent int64, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"principal_id", "account_type", "budget_limit", "spent", "status", "threshold_state",
		"grace_deadline", "period_start", "refresh_date", "refresh_period_days", "refresh_count",
		"auto_created", "suspended_at", "restored_at", "created_at", "updated_at",
	}).AddRow(id, "bedrock_api_key", int64(1_000_000_000), spent, status, "normal",
		nil, t0.Unix(), t0.AddDate(0, 0, 30).Unix(), int64(30), int64(0),
		int64(1), nil, nil, t0.Unix(), t0.Unix())
}

func TestPostgresAccrueUsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewPostgresStoreDB(db)
	defer s.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE budget_accounts SET spent = spent + $1, updated_at = $2")).
		WithArgs(int64(250), t0.Unix(), "p1").
		WillReturnRows(accountRow("p1", 1250, "active"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO budget_model_spend (principal_id, model, spent) VALUES ($1, $2, $3)")).
		WithArgs("p1", "claude", int64(250)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acct, err := s.Accrue(context.Background(), "p1", "claude", 250, t0)
	require.NoError(t, err)
	assert.Equal(t, models.Money(1250), acct.Spent)
	assert.True(t, acct.AutoCreated)
	assert.Equal(t, t0.AddDate(0, 0, 30), acct.RefreshDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAccrueMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewPostgresStoreDB(db)
	defer s.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE budget_accounts").WillReturnRows(sqlmock.NewRows([]string{"principal_id"}))
	mock.ExpectRollback()

	_, err = s.Accrue(context.Background(), "ghost", "m", 1, t0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransitionConditional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewPostgresStoreDB(db)
	defer s.Close()

	mock.ExpectExec(regexp.QuoteMeta("WHERE principal_id = $4 AND status IN ($5, $6)")).
		WithArgs("suspended", t0.Unix(), t0.Unix(), "p1", "active", "grace_period").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.Transition(context.Background(), "p1", Transition{
		To:   models.StatusSuspended,
		From: []models.Status{models.StatusActive, models.StatusGracePeriod},
		At:   t0,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := NewPostgresStoreDB(db)
	defer s.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (principal_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err := s.Create(context.Background(), account("p1", 1, 0))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
