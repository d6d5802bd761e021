// Package llm provides an abstraction over tool-calling inference services.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// ItemType discriminates the entries of a conversation log.
type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Item is one entry of the ordered conversation sent to and returned by the model.
type Item struct {
	Type    ItemType `json:"type"`
	Role    string   `json:"role,omitempty"`
	Content string   `json:"content,omitempty"`

	// CallID pairs a function_call with its function_call_output.
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	// Arguments is either a JSON object or a JSON string holding one.
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
}

// SystemMessage returns a system instruction item.
func SystemMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleSystem, Content: text}
}

// UserMessage returns a user message item.
func UserMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleUser, Content: text}
}

// AssistantMessage returns an assistant message item.
func AssistantMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleAssistant, Content: text}
}

// FunctionCall returns a function_call item.
func FunctionCall(callID, name string, arguments json.RawMessage) Item {
	return Item{Type: ItemFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// FunctionCallOutput returns the result item answering callID.
func FunctionCallOutput(callID, output string) Item {
	return Item{Type: ItemFunctionCallOutput, CallID: callID, Output: output}
}

// Tool describes an operation the model may call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters map[string]any
}

// ToolChoice controls whether the model may call tools.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Request is a single inference call.
type Request struct {
	Items             []Item
	Tools             []Tool
	ToolChoice        ToolChoice
	ParallelToolCalls bool
}

// Response carries the output items of an inference call.
type Response struct {
	ID    string
	Items []Item
}

// Text joins the assistant message contents of the response.
func (r *Response) Text() string {
	var parts []string
	for _, item := range r.Items {
		if item.Type == ItemMessage && item.Content != "" {
			parts = append(parts, item.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// FunctionCalls returns the function_call items in output order.
func (r *Response) FunctionCalls() []Item {
	var calls []Item
	for _, item := range r.Items {
		if item.Type == ItemFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}

// Client defines the inference operation the agent depends on.
type Client interface {
	// Respond sends the conversation and returns the model's output items.
	Respond(ctx context.Context, req *Request) (*Response, error)
}
