package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"expense-agent/internal/logging"
	"expense-agent/internal/models"
	"expense-agent/internal/policy"
	"expense-agent/internal/storage"
)

// operation runs one catalog entry for userID. Returned values are encoded as the call result.
type operation func(ctx context.Context, userID string, args map[string]any) (any, error)

// failure is the structured result fed back to the model when an operation is not carried out.
type failure struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func fail(msg string) failure {
	return failure{OK: false, Error: msg}
}

const notExecuted = "only one operation per exchange is supported; not executed"

// listAllResult replaces the plain list when the ledger holds more than the list cap.
type listAllResult struct {
	Expenses  []models.Expense `json:"expenses"`
	Truncated bool             `json:"truncated"`
	Total     int              `json:"total"`
}

func (a *Agent) operations() map[string]operation {
	return map[string]operation{
		OpAddExpense:          a.addExpense,
		OpQueryTotal:          a.queryTotal,
		OpListRecentExpenses:  a.listRecent,
		OpClearExpenses:       a.clearExpenses,
		OpListAllExpenses:     a.listAll,
		OpDeleteLastExpense:   a.deleteLast,
		OpQueryCategoryTotals: a.categoryTotals,
	}
}

// execute runs the named operation for the caller and returns the encoded result.
// A non-nil error is fatal for the exchange.
func (a *Agent) execute(ctx context.Context, userID, name string, args map[string]any) (string, error) {
	logger := logging.FromContext(ctx)

	op, ok := a.ops[name]
	if !ok {
		logger.WarnContext(ctx, "model requested unknown operation", "operation", name)
		return encode(fail("unknown tool " + name))
	}

	if supplied, ok := args["user_id"]; ok && supplied != userID {
		logger.WarnContext(ctx, "ignoring model-supplied user_id", "operation", name, "supplied", supplied)
	}
	args["user_id"] = userID

	if a.policy != nil {
		decision, err := a.policy.Evaluate(ctx, policy.Input{Operation: name, UserID: userID, Args: args})
		if err != nil {
			return "", fmt.Errorf("policy check for %s: %w", name, err)
		}
		if !decision.Allow {
			logger.InfoContext(ctx, "operation blocked by policy", "operation", name, "reason", decision.Reason)
			return encode(fail("blocked: " + decision.Reason))
		}
	}

	result, err := op(ctx, userID, args)
	if errors.Is(err, storage.ErrInvalidArgument) {
		logger.InfoContext(ctx, "operation rejected invalid arguments", "operation", name, "error", err)
		return encode(fail("invalid arguments: " + invalidReason(err)))
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return encode(result)
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func (a *Agent) addExpense(ctx context.Context, userID string, args map[string]any) (any, error) {
	amount, err := requireNumber(args, "amount")
	if err != nil {
		return nil, err
	}
	category, err := optionalString(args, "category")
	if err != nil {
		return nil, err
	}
	note, err := optionalString(args, "note")
	if err != nil {
		return nil, err
	}
	ts, err := optionalString(args, "timestamp")
	if err != nil {
		return nil, err
	}
	if ts == nil {
		// Older prompts name the field ts.
		if ts, err = optionalString(args, "ts"); err != nil {
			return nil, err
		}
	}

	e := models.NewExpense{UserID: userID, Amount: amount, Category: category}
	if note != nil {
		e.Note = *note
	}
	if ts != nil {
		e.Timestamp = *ts
	}
	return a.ledger.AddExpense(ctx, e)
}

func dateRange(args map[string]any) (string, string, error) {
	start, err := requireString(args, "start_date")
	if err != nil {
		return "", "", err
	}
	end, err := requireString(args, "end_date")
	if err != nil {
		return "", "", err
	}
	return start, end, nil
}

func (a *Agent) queryTotal(ctx context.Context, userID string, args map[string]any) (any, error) {
	start, end, err := dateRange(args)
	if err != nil {
		return nil, err
	}
	return a.ledger.SumInRange(ctx, userID, start, end)
}

func (a *Agent) listRecent(ctx context.Context, userID string, args map[string]any) (any, error) {
	limit, err := optionalInt(args, "limit", DefaultRecentLimit)
	if err != nil {
		return nil, err
	}
	return a.ledger.ListRecent(ctx, userID, clamp(limit, 1, MaxRecentLimit))
}

func (a *Agent) clearExpenses(ctx context.Context, userID string, _ map[string]any) (any, error) {
	return a.ledger.DeleteAll(ctx, userID)
}

func (a *Agent) listAll(ctx context.Context, userID string, _ map[string]any) (any, error) {
	expenses, err := a.ledger.ListAll(ctx, userID, a.maxListAll)
	if err != nil {
		return nil, err
	}
	if a.maxListAll <= 0 || len(expenses) < a.maxListAll {
		return expenses, nil
	}

	total, err := a.ledger.Count(ctx, userID)
	if err != nil {
		return nil, err
	}
	if total <= len(expenses) {
		return expenses, nil
	}
	return listAllResult{Expenses: expenses, Truncated: true, Total: total}, nil
}

func (a *Agent) deleteLast(ctx context.Context, userID string, _ map[string]any) (any, error) {
	return a.ledger.DeleteMostRecent(ctx, userID)
}

func (a *Agent) categoryTotals(ctx context.Context, userID string, args map[string]any) (any, error) {
	start, end, err := dateRange(args)
	if err != nil {
		return nil, err
	}
	return a.ledger.CategoryTotals(ctx, userID, start, end)
}
