package models

// Expense represents a single ledger entry owned by one user.
type Expense struct {
	ID        int64   `json:"id"`
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Category  *string `json:"category"`
	Note      string  `json:"note"`
	Timestamp string  `json:"timestamp"`
}

// NewExpense holds the caller-supplied fields of an expense to be recorded.
// Empty Timestamp means "now".
type NewExpense struct {
	UserID    string
	Amount    float64
	Category  *string
	Note      string
	Timestamp string
}

// AddResult is returned after an expense has been recorded.
type AddResult struct {
	OK        bool   `json:"ok"`
	Timestamp string `json:"timestamp"`
}

// SumResult holds the total spent within a date range.
type SumResult struct {
	Total float64 `json:"total"`
}

// DeleteAllResult is returned after clearing a user's ledger.
type DeleteAllResult struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}

// DeleteResult is returned after removing the most recent expense.
// Reason is set to ReasonNoRecord when there was nothing to delete.
type DeleteResult struct {
	OK        bool   `json:"ok"`
	DeletedID int64  `json:"deleted_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ReasonNoRecord marks a delete on an empty ledger.
const ReasonNoRecord = "no_record"

// CategoryTotal aggregates spending for one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// Uncategorized is the label reported for expenses recorded without a category.
const Uncategorized = "uncategorized"
