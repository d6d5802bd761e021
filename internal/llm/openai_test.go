package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if captured != nil {
			data, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.NoError(t, json.Unmarshal(data, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIClientToolCall(t *testing.T) {
	var sent map[string]any
	server := newTestServer(t, http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
		"tool_calls":[{"id":"call_1","type":"function","function":{"name":"add_expense","arguments":"{\"amount\":50}"}}]}}]}`, &sent)

	client := NewOpenAIClient(Config{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-4o-mini", Timeout: time.Second})
	resp, err := client.Respond(context.Background(), &Request{
		Items: []Item{SystemMessage("you are a ledger"), UserMessage("spent 50")},
		Tools: []Tool{{
			Name:        "add_expense",
			Description: "Record an expense",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: ToolChoiceAuto,
	})
	require.NoError(t, err)

	assert.Equal(t, "c1", resp.ID)
	calls := resp.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].CallID)
	assert.Equal(t, "add_expense", calls[0].Name)
	assert.JSONEq(t, `"{\"amount\":50}"`, string(calls[0].Arguments))
	assert.Empty(t, resp.Text())

	assert.Equal(t, "gpt-4o-mini", sent["model"])
	assert.Equal(t, "auto", sent["tool_choice"])
	assert.Equal(t, false, sent["parallel_tool_calls"])
	tools, ok := sent["tools"].([]any)
	require.True(t, ok, "tools should be sent")
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "add_expense", fn["name"])
}

func TestOpenAIClientReplaysConversation(t *testing.T) {
	var sent map[string]any
	server := newTestServer(t, http.StatusOK, `{"id":"c2","object":"chat.completion","created":1,"model":"gpt-4o-mini",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Recorded 50."}}]}`, &sent)

	client := NewOpenAIClient(Config{BaseURL: server.URL + "/v1"})
	resp, err := client.Respond(context.Background(), &Request{
		Items: []Item{
			SystemMessage("sys"),
			UserMessage("spent 50"),
			FunctionCall("call_1", "add_expense", json.RawMessage(`"{\"amount\":50}"`)),
			FunctionCallOutput("call_1", `{"ok":true}`),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Recorded 50.", resp.Text())
	assert.Empty(t, resp.FunctionCalls())

	assert.NotContains(t, sent, "tools")
	assert.NotContains(t, sent, "tool_choice")

	messages := sent["messages"].([]any)
	require.Len(t, messages, 4)

	assistant := messages[2].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	toolCalls := assistant["tool_calls"].([]any)
	require.Len(t, toolCalls, 1)
	call := toolCalls[0].(map[string]any)
	assert.Equal(t, "call_1", call["id"])
	assert.Equal(t, `{"amount":50}`, call["function"].(map[string]any)["arguments"])

	tool := messages[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, `{"ok":true}`, tool["content"])
}

func TestOpenAIClientError(t *testing.T) {
	server := newTestServer(t, http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, nil)

	client := NewOpenAIClient(Config{BaseURL: server.URL + "/v1"})
	_, err := client.Respond(context.Background(), &Request{Items: []Item{UserMessage("hello")}})
	assert.Error(t, err)
}

func TestOpenAIClientNoChoices(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{"id":"c3","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil)

	client := NewOpenAIClient(Config{BaseURL: server.URL + "/v1"})
	_, err := client.Respond(context.Background(), &Request{Items: []Item{UserMessage("hello")}})
	assert.ErrorContains(t, err, "no choices")
}

func TestToChatMessagesFoldsAssistantOutput(t *testing.T) {
	messages, err := toChatMessages([]Item{
		UserMessage("two things"),
		AssistantMessage("Let me check."),
		FunctionCall("call_1", "query_total", json.RawMessage(`{"start_date":"2025-06-01"}`)),
		FunctionCall("call_2", "clear_expenses", json.RawMessage(`"{}"`)),
		FunctionCallOutput("call_1", `{"total":0}`),
		FunctionCallOutput("call_2", `{"ok":false}`),
	})
	require.NoError(t, err)
	require.Len(t, messages, 4)

	assert.Equal(t, "Let me check.", messages[1].Content)
	require.Len(t, messages[1].ToolCalls, 2)
	assert.Equal(t, `{"start_date":"2025-06-01"}`, messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, `{}`, messages[1].ToolCalls[1].Function.Arguments)
	assert.Equal(t, "call_2", messages[3].ToolCallID)
}

func TestToChatMessagesRejectsUnknownItem(t *testing.T) {
	_, err := toChatMessages([]Item{{Type: "reasoning"}})
	assert.Error(t, err)
}

func TestArgumentsString(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "object", raw: `{"a":1}`, want: `{"a":1}`},
		{name: "string", raw: `"{\"a\":1}"`, want: `{"a":1}`},
		{name: "empty", raw: ``, want: `{}`},
		{name: "broken string", raw: `"{\"a\"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ArgumentsString(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
