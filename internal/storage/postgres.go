package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expense-agent/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the PostgreSQL ledger backend.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*Postgres)(nil)

// NewPostgres connects to the database at connString and runs migrations.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS expenses (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			category TEXT,
			amount DOUBLE PRECISION NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user ON expenses(user_id, id)`,
	}
	for _, m := range migrations {
		if _, err := p.pool.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// AddExpense inserts a new expense and returns the effective timestamp.
func (p *Postgres) AddExpense(ctx context.Context, e models.NewExpense) (*models.AddResult, error) {
	if err := validateUser(e.UserID); err != nil {
		return nil, err
	}
	ts, err := normalizeTimestamp(e.Timestamp, time.Now())
	if err != nil {
		return nil, err
	}
	_, err = p.pool.Exec(ctx,
		"INSERT INTO expenses (user_id, category, amount, note, ts) VALUES ($1, $2, $3, $4, $5)",
		e.UserID, e.Category, e.Amount, e.Note, ts,
	)
	if err != nil {
		return nil, dbError("add expense", err)
	}
	return &models.AddResult{OK: true, Timestamp: ts}, nil
}

// SumInRange totals the user's expenses dated within [startDate, endDate].
func (p *Postgres) SumInRange(ctx context.Context, userID, startDate, endDate string) (*models.SumResult, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	var total float64
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM expenses
		WHERE user_id = $1 AND substr(ts, 1, 10) BETWEEN $2 AND $3
	`, userID, startDate, endDate).Scan(&total)
	if err != nil {
		return nil, dbError("sum expenses", err)
	}
	return &models.SumResult{Total: total}, nil
}

// ListRecent returns up to limit expenses, newest first.
func (p *Postgres) ListRecent(ctx context.Context, userID string, limit int) ([]models.Expense, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, amount, category, note, ts
		FROM expenses
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, dbError("list recent expenses", err)
	}
	defer rows.Close()

	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, dbError("list recent expenses", err)
	}
	return expenses, nil
}

// ListAll returns the user's expenses oldest first, keeping the newest limit when limit > 0.
func (p *Postgres) ListAll(ctx context.Context, userID string, limit int) ([]models.Expense, error) {
	query := `
		SELECT id, user_id, amount, category, note, ts
		FROM expenses
		WHERE user_id = $1
		ORDER BY id ASC`
	args := []any{userID}
	if limit > 0 {
		query = `
		SELECT id, user_id, amount, category, note, ts FROM (
			SELECT id, user_id, amount, category, note, ts
			FROM expenses
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		) newest ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError("list all expenses", err)
	}
	defer rows.Close()

	expenses, err := scanExpenses(rows)
	if err != nil {
		return nil, dbError("list all expenses", err)
	}
	return expenses, nil
}

// Count returns the number of expenses recorded for the user.
func (p *Postgres) Count(ctx context.Context, userID string) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM expenses WHERE user_id = $1", userID).Scan(&count); err != nil {
		return 0, dbError("count expenses", err)
	}
	return count, nil
}

// DeleteAll removes every expense of the user.
func (p *Postgres) DeleteAll(ctx context.Context, userID string) (*models.DeleteAllResult, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM expenses WHERE user_id = $1", userID)
	if err != nil {
		return nil, dbError("delete expenses", err)
	}
	return &models.DeleteAllResult{OK: true, Deleted: tag.RowsAffected()}, nil
}

// DeleteMostRecent removes the user's highest-id expense.
func (p *Postgres) DeleteMostRecent(ctx context.Context, userID string) (*models.DeleteResult, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		DELETE FROM expenses
		WHERE id = (SELECT MAX(id) FROM expenses WHERE user_id = $1)
		RETURNING id
	`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.DeleteResult{OK: false, Reason: models.ReasonNoRecord}, nil
	}
	if err != nil {
		return nil, dbError("delete last expense", err)
	}
	return &models.DeleteResult{OK: true, DeletedID: id}, nil
}

// CategoryTotals aggregates the user's spending per category within [startDate, endDate].
func (p *Postgres) CategoryTotals(ctx context.Context, userID, startDate, endDate string) ([]models.CategoryTotal, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT COALESCE(category, $1) AS cat, SUM(amount) AS total, COUNT(*)
		FROM expenses
		WHERE user_id = $2 AND substr(ts, 1, 10) BETWEEN $3 AND $4
		GROUP BY cat
		ORDER BY total DESC, cat ASC
	`, models.Uncategorized, userID, startDate, endDate)
	if err != nil {
		return nil, dbError("category totals", err)
	}
	defer rows.Close()

	totals, err := scanCategoryTotals(rows)
	if err != nil {
		return nil, dbError("category totals", err)
	}
	return totals, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
