// Package agent turns one natural-language message into at most one ledger operation and a
// natural-language reply, using a tool-calling model in two inference calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"expense-agent/internal/llm"
	"expense-agent/internal/logging"
	"expense-agent/internal/policy"
	"expense-agent/internal/storage"
)

var (
	// ErrMalformedArguments is returned when a function call payload is not a JSON object.
	ErrMalformedArguments = errors.New("malformed function call arguments")
	// ErrMalformedResponse is returned when the model output lacks what the exchange needs.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrInference wraps failures of the inference service.
	ErrInference = errors.New("inference failed")
)

// Policy decides whether an operation may run.
type Policy interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// Agent orchestrates exchanges between a user, the model and the ledger.
type Agent struct {
	model      llm.Client
	ledger     storage.Ledger
	policy     Policy
	maxListAll int
	now        func() time.Time

	tools []llm.Tool
	ops   map[string]operation
}

// Option configures an Agent.
type Option func(*Agent)

// WithPolicy gates every operation through p.
func WithPolicy(p Policy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithMaxListAll caps list_all_expenses; n <= 0 disables the cap.
func WithMaxListAll(n int) Option {
	return func(a *Agent) { a.maxListAll = n }
}

// WithClock overrides the clock used for the date in the instructions.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an agent over the given model and ledger.
func New(model llm.Client, ledger storage.Ledger, opts ...Option) *Agent {
	a := &Agent{
		model:      model,
		ledger:     ledger,
		maxListAll: DefaultMaxListAll,
		now:        time.Now,
		tools:      Catalog(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ops = a.operations()
	return a
}

func systemPrompt(userID string, today time.Time) string {
	return fmt.Sprintf(`You are an expense-tracking assistant. Be friendly and concise.

Rules:
1. This user's user_id is "%s". Every tool that takes a user_id must be called with exactly this value. Never ask the user for it.
2. Today is %s. Resolve relative dates such as "today" or "this month" against it.
3. Understand the request before deciding whether to call a tool. If the amount or the dates are missing, ask the user.
4. Call at most one tool per message.
5. Tool arguments must be complete and valid: dates are YYYY-MM-DD, amounts are greater than zero, limit is between 1 and 20.
6. For small talk or anything that does not touch the ledger, reply directly without calling a tool.
7. After a tool runs, present its result to the user in a friendly way.`,
		userID, today.Format(storage.DateLayout))
}

func newExchangeID() string {
	return "ex_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Handle runs one exchange for userID and returns the reply text.
// Any error means the caller should answer with its own fallback message.
func (a *Agent) Handle(ctx context.Context, userID, text string) (string, error) {
	logger := logging.FromContext(ctx).With("exchange_id", newExchangeID(), "user_id", userID)
	ctx = logging.WithLogger(ctx, logger)

	start := time.Now()
	logger.InfoContext(ctx, "exchange started")

	reply, operation, err := a.handle(ctx, userID, text)
	if err != nil {
		logger.ErrorContext(ctx, "exchange failed", "operation", operation, "duration", time.Since(start), "error", err)
		return "", err
	}
	logger.InfoContext(ctx, "exchange done", "operation", operation, "duration", time.Since(start))
	return reply, nil
}

func (a *Agent) handle(ctx context.Context, userID, text string) (string, string, error) {
	logger := logging.FromContext(ctx)

	items := []llm.Item{
		llm.SystemMessage(systemPrompt(userID, a.now())),
		llm.UserMessage(text),
	}

	inferStart := time.Now()
	first, err := a.model.Respond(ctx, &llm.Request{
		Items:             items,
		Tools:             a.tools,
		ToolChoice:        llm.ToolChoiceAuto,
		ParallelToolCalls: false,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInference, err)
	}
	logger.DebugContext(ctx, "first inference done", "response_id", first.ID, "duration", time.Since(inferStart))

	calls := first.FunctionCalls()
	if len(calls) == 0 {
		reply := first.Text()
		if reply == "" {
			return "", "", fmt.Errorf("%w: no text and no function call", ErrMalformedResponse)
		}
		return reply, "", nil
	}

	call := calls[0]
	if call.CallID == "" || call.Name == "" {
		return "", call.Name, fmt.Errorf("%w: function call without id or name", ErrMalformedResponse)
	}
	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return "", call.Name, err
	}

	opStart := time.Now()
	output, err := a.execute(ctx, userID, call.Name, args)
	if err != nil {
		return "", call.Name, err
	}
	logger.DebugContext(ctx, "operation done", "operation", call.Name, "duration", time.Since(opStart))

	outputs := []llm.Item{llm.FunctionCallOutput(call.CallID, output)}
	if len(calls) > 1 {
		rejected, err := encode(fail(notExecuted))
		if err != nil {
			return "", call.Name, err
		}
		for _, extra := range calls[1:] {
			logger.WarnContext(ctx, "rejecting additional function call", "operation", extra.Name, "call_id", extra.CallID)
			outputs = append(outputs, llm.FunctionCallOutput(extra.CallID, rejected))
		}
	}

	followUp := slices.Concat(items, first.Items, outputs)
	inferStart = time.Now()
	second, err := a.model.Respond(ctx, &llm.Request{Items: followUp})
	if err != nil {
		return "", call.Name, fmt.Errorf("%w: %w", ErrInference, err)
	}
	logger.DebugContext(ctx, "second inference done", "response_id", second.ID, "duration", time.Since(inferStart))

	reply := second.Text()
	if reply == "" {
		return "", call.Name, fmt.Errorf("%w: empty reply after %s", ErrMalformedResponse, call.Name)
	}
	return reply, call.Name, nil
}
