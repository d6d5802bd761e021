package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MockClient is a keyword-driven stand-in for a real model, used for offline runs and e2e
// tests. It never supplies user_id; the caller's identity is injected downstream.
type MockClient struct {
	now func() time.Time
}

// NewMockClient creates a new mock model client.
func NewMockClient() *MockClient {
	return &MockClient{now: time.Now}
}

// Ensure MockClient implements Client interface.
var _ Client = (*MockClient)(nil)

var (
	numberPattern   = regexp.MustCompile(`\d+(?:\.\d+)?`)
	categoryPattern = regexp.MustCompile(`\b(?:on|for)\s+([a-z]+)`)
)

// Respond answers tool-bearing requests with at most one function call chosen from the last
// user message, and tool-less follow-ups with a summary of the last operation result.
func (m *MockClient) Respond(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("mock-resp-%d", m.now().UnixNano())

	if len(req.Tools) == 0 {
		return &Response{ID: id, Items: []Item{AssistantMessage(m.summarize(req.Items))}}, nil
	}

	text := lastUserMessage(req.Items)
	name, args := m.pickOperation(strings.ToLower(text))
	if name == "" || !hasTool(req.Tools, name) {
		return &Response{ID: id, Items: []Item{
			AssistantMessage(fmt.Sprintf("[MOCK] Received your message: %q.", truncate(text, 100))),
		}}, nil
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	// Arguments are sent as a JSON-encoded string, as the chat completions API does.
	raw, err := json.Marshal(string(payload))
	if err != nil {
		return nil, err
	}
	callID := "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	return &Response{ID: id, Items: []Item{FunctionCall(callID, name, raw)}}, nil
}

func (m *MockClient) pickOperation(text string) (string, map[string]any) {
	now := m.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02")
	today := now.Format("2006-01-02")

	switch {
	case strings.Contains(text, "clear") || strings.Contains(text, "delete all"):
		return "clear_expenses", map[string]any{}
	case strings.Contains(text, "undo") || strings.Contains(text, "delete last") || strings.Contains(text, "remove last"):
		return "delete_last_expense", map[string]any{}
	case strings.Contains(text, "category") || strings.Contains(text, "breakdown"):
		return "query_category_totals", map[string]any{"start_date": monthStart, "end_date": today}
	case strings.Contains(text, "total") || strings.Contains(text, "how much"):
		return "query_total", map[string]any{"start_date": monthStart, "end_date": today}
	case strings.Contains(text, "all") && (strings.Contains(text, "list") || strings.Contains(text, "show")):
		return "list_all_expenses", map[string]any{}
	case strings.Contains(text, "recent") || strings.Contains(text, "list") || strings.Contains(text, "show"):
		args := map[string]any{}
		if n := numberPattern.FindString(text); n != "" {
			if limit, err := strconv.Atoi(n); err == nil {
				args["limit"] = limit
			}
		}
		return "list_recent_expenses", args
	}

	n := numberPattern.FindString(text)
	if n == "" {
		return "", nil
	}
	amount, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return "", nil
	}
	args := map[string]any{"amount": amount, "note": "", "category": nil, "timestamp": nil}
	if match := categoryPattern.FindStringSubmatch(text); match != nil {
		args["category"] = match[1]
	}
	return "add_expense", args
}

func (m *MockClient) summarize(items []Item) string {
	names := map[string]string{}
	var last *Item
	for i := range items {
		switch items[i].Type {
		case ItemFunctionCall:
			names[items[i].CallID] = items[i].Name
		case ItemFunctionCallOutput:
			if last == nil {
				last = &items[i]
			}
		}
	}
	if last == nil {
		return "[MOCK] Nothing to report."
	}
	return fmt.Sprintf("[MOCK] %s returned %s", names[last.CallID], last.Output)
}

func lastUserMessage(items []Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Type == ItemMessage && items[i].Role == RoleUser {
			return items[i].Content
		}
	}
	return ""
}

func hasTool(tools []Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
