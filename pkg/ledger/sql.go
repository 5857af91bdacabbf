package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/budgeteer/pkg/models"
	"github.com/pario-ai/budgeteer/pkg/sqlitedb"
)

const accountColumns = `principal_id, account_type, budget_limit, spent, status, threshold_state,
	grace_deadline, period_start, refresh_date, refresh_period_days, refresh_count,
	auto_created, suspended_at, restored_at, created_at, updated_at`

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// ph returns the placeholder for the n-th (1-based) argument.
	ph     func(n int) string
	schema []string
}

// sqlStore implements Store on database/sql. Times are unix seconds.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// query rewrites ? placeholders for the dialect.
func (s *sqlStore) query(q string) string {
	if s.d.ph == nil {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(s.d.ph(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s ledger: %w", s.d.name, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (models.BudgetAccount, error) {
	var (
		a                          models.BudgetAccount
		grace, suspended, restored sql.NullInt64
		periodStart, refresh       int64
		created, updated           int64
		autoCreated                int64
	)
	err := r.Scan(&a.PrincipalID, &a.AccountType, &a.BudgetLimit, &a.Spent, &a.Status, &a.ThresholdState,
		&grace, &periodStart, &refresh, &a.RefreshPeriodDays, &a.RefreshCount,
		&autoCreated, &suspended, &restored, &created, &updated)
	if err != nil {
		return a, err
	}
	a.GraceDeadline = sqlitedb.FromNullEpoch(grace)
	a.SuspendedAt = sqlitedb.FromNullEpoch(suspended)
	a.RestoredAt = sqlitedb.FromNullEpoch(restored)
	a.PeriodStart = sqlitedb.FromEpoch(periodStart)
	a.RefreshDate = sqlitedb.FromEpoch(refresh)
	a.CreatedAt = sqlitedb.FromEpoch(created)
	a.UpdatedAt = sqlitedb.FromEpoch(updated)
	a.AutoCreated = autoCreated != 0
	return a, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (s *sqlStore) Get(ctx context.Context, principal string) (models.BudgetAccount, error) {
	row := s.db.QueryRowContext(ctx, s.query(`SELECT `+accountColumns+` FROM budget_accounts WHERE principal_id = ?`), principal)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("get budget %s: %w", principal, err)
	}

	rows, err := s.db.QueryContext(ctx, s.query(`SELECT model, spent FROM budget_model_spend WHERE principal_id = ?`), principal)
	if err != nil {
		return a, fmt.Errorf("get model spend %s: %w", principal, err)
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var spent models.Money
		if err := rows.Scan(&model, &spent); err != nil {
			return a, fmt.Errorf("scan model spend: %w", err)
		}
		if a.ModelSpend == nil {
			a.ModelSpend = make(map[string]models.Money)
		}
		a.ModelSpend[model] = spent
	}
	return a, rows.Err()
}

func (s *sqlStore) Create(ctx context.Context, a models.BudgetAccount) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.query(`INSERT INTO budget_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (principal_id) DO NOTHING`),
		a.PrincipalID, string(a.AccountType), int64(a.BudgetLimit), int64(a.Spent), string(a.Status), string(a.ThresholdState),
		sqlitedb.NullEpoch(a.GraceDeadline), sqlitedb.Epoch(a.PeriodStart), sqlitedb.Epoch(a.RefreshDate),
		a.RefreshPeriodDays, a.RefreshCount, boolInt(a.AutoCreated),
		sqlitedb.NullEpoch(a.SuspendedAt), sqlitedb.NullEpoch(a.RestoredAt),
		sqlitedb.Epoch(a.CreatedAt), sqlitedb.Epoch(a.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("insert budget %s: %w", a.PrincipalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert budget %s: %w", a.PrincipalID, err)
	}
	if n == 0 {
		return false, nil
	}
	for model, spent := range a.ModelSpend {
		if _, err := tx.ExecContext(ctx, s.query(`INSERT INTO budget_model_spend (principal_id, model, spent) VALUES (?, ?, ?)`),
			a.PrincipalID, model, int64(spent)); err != nil {
			return false, fmt.Errorf("insert model spend %s: %w", a.PrincipalID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit create: %w", err)
	}
	return true, nil
}

func (s *sqlStore) Accrue(ctx context.Context, principal, model string, cost models.Money, at time.Time) (models.BudgetAccount, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.BudgetAccount{}, fmt.Errorf("begin accrue: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.query(`UPDATE budget_accounts SET spent = spent + ?, updated_at = ?
		WHERE principal_id = ? RETURNING `+accountColumns),
		int64(cost), sqlitedb.Epoch(at), principal)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("accrue %s: %w", principal, err)
	}

	if model != "" {
		if _, err := tx.ExecContext(ctx, s.query(`INSERT INTO budget_model_spend (principal_id, model, spent) VALUES (?, ?, ?)
			ON CONFLICT (principal_id, model) DO UPDATE SET spent = budget_model_spend.spent + excluded.spent`),
			principal, model, int64(cost)); err != nil {
			return a, fmt.Errorf("accrue model spend %s: %w", principal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return a, fmt.Errorf("commit accrue: %w", err)
	}
	return a, nil
}

func (s *sqlStore) SetThreshold(ctx context.Context, principal string, from, to models.ThresholdState, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.query(`UPDATE budget_accounts SET threshold_state = ?, updated_at = ?
		WHERE principal_id = ? AND threshold_state = ?`),
		string(to), sqlitedb.Epoch(at), principal, string(from))
	if err != nil {
		return false, fmt.Errorf("set threshold %s: %w", principal, err)
	}
	return affected(res)
}

func (s *sqlStore) Transition(ctx context.Context, principal string, t Transition) (bool, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(t.To), sqlitedb.Epoch(t.At)}
	switch t.To {
	case models.StatusGracePeriod:
		sets = append(sets, "grace_deadline = ?")
		args = append(args, sqlitedb.Epoch(t.GraceDeadline))
	case models.StatusSuspended:
		sets = append(sets, "grace_deadline = NULL", "suspended_at = ?")
		args = append(args, sqlitedb.Epoch(t.At))
	case models.StatusActive:
		sets = append(sets, "grace_deadline = NULL")
	}

	where, wargs := whereStatus(principal, t.From)
	if t.RequireNoGrace {
		where += " AND grace_deadline IS NULL"
	}
	res, err := s.db.ExecContext(ctx, s.query(`UPDATE budget_accounts SET `+strings.Join(sets, ", ")+` WHERE `+where),
		append(args, wargs...)...)
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", principal, t.To, err)
	}
	return affected(res)
}

func (s *sqlStore) Reset(ctx context.Context, principal string, r Reset) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	now := sqlitedb.Epoch(r.At)
	where, wargs := whereStatus(principal, r.From)
	args := []any{
		string(models.StatusActive), string(models.ThresholdNormal), now, now,
		string(models.StatusSuspended), now, now,
	}
	res, err := tx.ExecContext(ctx, s.query(`UPDATE budget_accounts SET
		spent = 0,
		status = ?,
		threshold_state = ?,
		grace_deadline = NULL,
		period_start = ?,
		refresh_date = ? + refresh_period_days * 86400,
		refresh_count = refresh_count + 1,
		restored_at = CASE WHEN status = ? THEN ? ELSE restored_at END,
		updated_at = ?
		WHERE `+where), append(args, wargs...)...)
	if err != nil {
		return false, fmt.Errorf("reset %s: %w", principal, err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, s.query(`DELETE FROM budget_model_spend WHERE principal_id = ?`), principal); err != nil {
		return false, fmt.Errorf("clear model spend %s: %w", principal, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reset: %w", err)
	}
	return true, nil
}

func (s *sqlStore) SetLimit(ctx context.Context, principal string, limit models.Money, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.query(`UPDATE budget_accounts SET budget_limit = ?, updated_at = ? WHERE principal_id = ?`),
		int64(limit), sqlitedb.Epoch(at), principal)
	if err != nil {
		return fmt.Errorf("set limit %s: %w", principal, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) Scan(ctx context.Context, after string, limit int) ([]models.BudgetAccount, error) {
	rows, err := s.db.QueryContext(ctx, s.query(`SELECT `+accountColumns+` FROM budget_accounts
		WHERE principal_id > ? ORDER BY principal_id LIMIT ?`), after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan budgets: %w", err)
	}
	defer rows.Close()

	var out []models.BudgetAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func whereStatus(principal string, from []models.Status) (string, []any) {
	where := "principal_id = ?"
	args := []any{principal}
	if len(from) > 0 {
		marks := make([]string, len(from))
		for i, st := range from {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where += " AND status IN (" + strings.Join(marks, ", ") + ")"
	}
	return where, args
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
