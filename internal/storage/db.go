package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"expense-agent/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// DB is the SQLite ledger backend.
type DB struct {
	conn *sql.DB
}

var _ Ledger = (*DB)(nil)

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" databases from splitting per connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			category TEXT,
			amount REAL NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user ON expenses(user_id, id)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// AddExpense inserts a new expense and returns the effective timestamp.
func (db *DB) AddExpense(ctx context.Context, e models.NewExpense) (*models.AddResult, error) {
	if err := validateUser(e.UserID); err != nil {
		return nil, err
	}
	ts, err := normalizeTimestamp(e.Timestamp, time.Now())
	if err != nil {
		return nil, err
	}
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO expenses (user_id, category, amount, note, ts) VALUES (?, ?, ?, ?, ?)",
		e.UserID, e.Category, e.Amount, e.Note, ts,
	)
	if err != nil {
		return nil, dbError("add expense", err)
	}
	return &models.AddResult{OK: true, Timestamp: ts}, nil
}

// SumInRange totals the user's expenses dated within [startDate, endDate].
func (db *DB) SumInRange(ctx context.Context, userID, startDate, endDate string) (*models.SumResult, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	var total float64
	err := db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM expenses
		WHERE user_id = ? AND substr(ts, 1, 10) BETWEEN ? AND ?
	`, userID, startDate, endDate).Scan(&total)
	if err != nil {
		return nil, dbError("sum expenses", err)
	}
	return &models.SumResult{Total: total}, nil
}

// ListRecent returns up to limit expenses, newest first.
func (db *DB) ListRecent(ctx context.Context, userID string, limit int) ([]models.Expense, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, amount, category, note, ts
		FROM expenses
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
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

// ListAll returns the user's expenses oldest first. A positive limit keeps only the newest
// limit records.
func (db *DB) ListAll(ctx context.Context, userID string, limit int) ([]models.Expense, error) {
	query := `
		SELECT id, user_id, amount, category, note, ts
		FROM expenses
		WHERE user_id = ?
		ORDER BY id ASC`
	args := []any{userID}
	if limit > 0 {
		query = `
		SELECT id, user_id, amount, category, note, ts FROM (
			SELECT id, user_id, amount, category, note, ts
			FROM expenses
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
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
func (db *DB) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM expenses WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, dbError("count expenses", err)
	}
	return count, nil
}

// DeleteAll removes every expense of the user.
func (db *DB) DeleteAll(ctx context.Context, userID string) (*models.DeleteAllResult, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE user_id = ?", userID)
	if err != nil {
		return nil, dbError("delete expenses", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return nil, dbError("delete expenses", err)
	}
	return &models.DeleteAllResult{OK: true, Deleted: deleted}, nil
}

// DeleteMostRecent removes the user's highest-id expense.
func (db *DB) DeleteMostRecent(ctx context.Context, userID string) (*models.DeleteResult, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		DELETE FROM expenses
		WHERE id = (SELECT MAX(id) FROM expenses WHERE user_id = ?)
		RETURNING id
	`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.DeleteResult{OK: false, Reason: models.ReasonNoRecord}, nil
	}
	if err != nil {
		return nil, dbError("delete last expense", err)
	}
	return &models.DeleteResult{OK: true, DeletedID: id}, nil
}

// CategoryTotals aggregates the user's spending per category within [startDate, endDate].
func (db *DB) CategoryTotals(ctx context.Context, userID, startDate, endDate string) ([]models.CategoryTotal, error) {
	if err := validateRange(startDate, endDate); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT COALESCE(category, ?) AS cat, SUM(amount) AS total, COUNT(*)
		FROM expenses
		WHERE user_id = ? AND substr(ts, 1, 10) BETWEEN ? AND ?
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

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
