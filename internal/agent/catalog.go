package agent

import "expense-agent/internal/llm"

// Operation names exposed to the model.
const (
	OpAddExpense          = "add_expense"
	OpQueryTotal          = "query_total"
	OpListRecentExpenses  = "list_recent_expenses"
	OpClearExpenses       = "clear_expenses"
	OpListAllExpenses     = "list_all_expenses"
	OpDeleteLastExpense   = "delete_last_expense"
	OpQueryCategoryTotals = "query_category_totals"
)

const (
	// DefaultRecentLimit is used when list_recent_expenses gets no limit.
	DefaultRecentLimit = 5
	// MaxRecentLimit bounds list_recent_expenses.
	MaxRecentLimit = 20
	// DefaultMaxListAll bounds list_all_expenses.
	DefaultMaxListAll = 200
)

func stringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func nullableStringParam(description string) map[string]any {
	return map[string]any{"type": []string{"string", "null"}, "description": description}
}

func userIDParam() map[string]any {
	return stringParam("Id of the user whose ledger is used. Always the id given in the instructions.")
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Catalog returns the operations offered to the model on every exchange.
func Catalog() []llm.Tool {
	return []llm.Tool{
		{
			Name:        OpAddExpense,
			Description: "Record a new expense for the user.",
			Parameters: objectSchema(map[string]any{
				"user_id":   userIDParam(),
				"amount":    map[string]any{"type": "number", "description": "Amount spent, greater than zero."},
				"category":  nullableStringParam("Category such as food or transport, or null."),
				"note":      map[string]any{"type": "string", "default": "", "description": "Free-text note."},
				"timestamp": nullableStringParam("ISO-8601 date-time of the expense; omit or null for now."),
			}, "user_id", "amount"),
		},
		{
			Name:        OpQueryTotal,
			Description: "Sum the user's expenses between two dates, both inclusive.",
			Parameters: objectSchema(map[string]any{
				"user_id":    userIDParam(),
				"start_date": stringParam("First day, YYYY-MM-DD."),
				"end_date":   stringParam("Last day, YYYY-MM-DD."),
			}, "user_id", "start_date", "end_date"),
		},
		{
			Name:        OpListRecentExpenses,
			Description: "List the user's most recent expenses, newest first.",
			Parameters: objectSchema(map[string]any{
				"user_id": userIDParam(),
				"limit":   map[string]any{"type": "integer", "default": DefaultRecentLimit, "description": "How many to list, 1 to 20."},
			}, "user_id"),
		},
		{
			Name:        OpClearExpenses,
			Description: "Delete every expense of the user.",
			Parameters: objectSchema(map[string]any{
				"user_id": userIDParam(),
			}, "user_id"),
		},
		{
			Name:        OpListAllExpenses,
			Description: "List all of the user's expenses, oldest first.",
			Parameters: objectSchema(map[string]any{
				"user_id": userIDParam(),
			}, "user_id"),
		},
		{
			Name:        OpDeleteLastExpense,
			Description: "Delete the user's most recently recorded expense.",
			Parameters: objectSchema(map[string]any{
				"user_id": userIDParam(),
			}, "user_id"),
		},
		{
			Name:        OpQueryCategoryTotals,
			Description: "Sum the user's expenses per category between two dates, both inclusive.",
			Parameters: objectSchema(map[string]any{
				"user_id":    userIDParam(),
				"start_date": stringParam("First day, YYYY-MM-DD."),
				"end_date":   stringParam("Last day, YYYY-MM-DD."),
			}, "user_id", "start_date", "end_date"),
		},
	}
}
