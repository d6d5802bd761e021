package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expense-agent/internal/models"
)

// Ledger is the per-user expense store consumed by the agent.
// Every method is scoped to a single user id and runs as one atomic statement.
type Ledger interface {
	AddExpense(ctx context.Context, e models.NewExpense) (*models.AddResult, error)
	SumInRange(ctx context.Context, userID, startDate, endDate string) (*models.SumResult, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Expense, error)
	ListAll(ctx context.Context, userID string, limit int) ([]models.Expense, error)
	Count(ctx context.Context, userID string) (int, error)
	DeleteAll(ctx context.Context, userID string) (*models.DeleteAllResult, error)
	DeleteMostRecent(ctx context.Context, userID string) (*models.DeleteResult, error)
	CategoryTotals(ctx context.Context, userID, startDate, endDate string) ([]models.CategoryTotal, error)
	Close() error
}

var (
	// ErrUnavailable matches any failure of the underlying database.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrInvalidArgument is returned for inputs the ledger refuses before touching the database.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error wraps a database failure with the ledger operation that caused it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports every storage Error as ErrUnavailable.
func (e *Error) Is(target error) bool { return target == ErrUnavailable }

func dbError(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Open picks a backend from the DSN scheme: postgres:// and mongodb:// URLs get their
// drivers, anything else is treated as a SQLite path.
func Open(ctx context.Context, dsn string) (Ledger, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return NewMongo(ctx, dsn)
	default:
		return NewDB(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

const (
	// TimestampLayout is the canonical form of a stored timestamp without an offset.
	TimestampLayout = "2006-01-02T15:04:05"
	// DateLayout is the form of range bounds and of a record's date component.
	DateLayout = "2006-01-02"
)

var localTimestampLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	DateLayout,
}

// normalizeTimestamp returns the stored form of ts, defaulting to the current local time.
// Offsets supplied by the caller are preserved so the written date stays the caller's date.
func normalizeTimestamp(ts string, now time.Time) (string, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return now.Format(TimestampLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Format(time.RFC3339), nil
	}
	for _, layout := range localTimestampLayouts {
		if t, err := time.ParseInLocation(layout, ts, time.Local); err == nil {
			return t.Format(TimestampLayout), nil
		}
	}
	return "", fmt.Errorf("%w: timestamp %q is not an ISO-8601 date-time", ErrInvalidArgument, ts)
}

// dayOf returns the calendar date component of a stored timestamp.
func dayOf(ts string) string {
	if len(ts) < len(DateLayout) {
		return ts
	}
	return ts[:len(DateLayout)]
}

func validateRange(startDate, endDate string) error {
	if _, err := time.Parse(DateLayout, startDate); err != nil {
		return fmt.Errorf("%w: start_date %q must be YYYY-MM-DD", ErrInvalidArgument, startDate)
	}
	if _, err := time.Parse(DateLayout, endDate); err != nil {
		return fmt.Errorf("%w: end_date %q must be YYYY-MM-DD", ErrInvalidArgument, endDate)
	}
	return nil
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Rows and pgx.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanExpenses(rows rowScanner) ([]models.Expense, error) {
	expenses := []models.Expense{}
	for rows.Next() {
		var e models.Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Category, &e.Note, &e.Timestamp); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func scanCategoryTotals(rows rowScanner) ([]models.CategoryTotal, error) {
	totals := []models.CategoryTotal{}
	for rows.Next() {
		var ct models.CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return nil, err
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}
