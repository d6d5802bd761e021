package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Config holds the settings of the OpenAI-compatible client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient implements Client on top of the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// Ensure OpenAIClient implements Client interface.
var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(config Config) *OpenAIClient {
	// Allow empty API key - the server rejects it at call time
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}
}

// Respond converts the conversation to chat messages, runs one completion and converts the
// first choice back to items.
func (c *OpenAIClient) Respond(ctx context.Context, req *Request) (*Response, error) {
	messages, err := toChatMessages(req.Items)
	if err != nil {
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toChatTools(req.Tools)
		if req.ToolChoice != "" {
			chatReq.ToolChoice = string(req.ToolChoice)
		}
		chatReq.ParallelToolCalls = req.ParallelToolCalls
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	items, err := fromChatMessage(resp.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	return &Response{ID: resp.ID, Items: items}, nil
}

func toChatTools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// toChatMessages folds consecutive assistant output (text and function calls) into one
// assistant message, and turns function_call_output items into tool messages.
func toChatMessages(items []Item) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(items))
	assistant := -1

	for _, item := range items {
		switch item.Type {
		case ItemMessage:
			if item.Role == RoleAssistant && assistant >= 0 && messages[assistant].Content == "" {
				messages[assistant].Content = item.Content
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: item.Role, Content: item.Content})
			assistant = -1
			if item.Role == RoleAssistant {
				assistant = len(messages) - 1
			}
		case ItemFunctionCall:
			args, err := ArgumentsString(item.Arguments)
			if err != nil {
				return nil, fmt.Errorf("function call %s: %w", item.CallID, err)
			}
			if assistant < 0 {
				messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant})
				assistant = len(messages) - 1
			}
			messages[assistant].ToolCalls = append(messages[assistant].ToolCalls, openai.ToolCall{
				ID:   item.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      item.Name,
					Arguments: args,
				},
			})
		case ItemFunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    item.Output,
				ToolCallID: item.CallID,
			})
			assistant = -1
		default:
			return nil, fmt.Errorf("unsupported item type %q", item.Type)
		}
	}
	return messages, nil
}

func fromChatMessage(msg openai.ChatCompletionMessage) ([]Item, error) {
	var items []Item
	if msg.Content != "" {
		items = append(items, AssistantMessage(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		// Chat completions carry arguments as a JSON-encoded string.
		raw, err := json.Marshal(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		items = append(items, FunctionCall(tc.ID, tc.Function.Name, raw))
	}
	return items, nil
}

// ArgumentsString returns the argument payload as the text of a JSON object, unwrapping a
// JSON string payload.
func ArgumentsString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "{}", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid arguments string: %w", err)
		}
		return s, nil
	}
	return string(raw), nil
}
