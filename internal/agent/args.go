package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"expense-agent/internal/llm"
	"expense-agent/internal/storage"
)

// decodeArguments accepts a JSON object or a JSON string holding one.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	text, err := llm.ArgumentsString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if args == nil {
		return nil, fmt.Errorf("%w: arguments are null", ErrMalformedArguments)
	}
	return args, nil
}

func invalidField(format string, a ...any) error {
	return fmt.Errorf("%w: %s", storage.ErrInvalidArgument, fmt.Sprintf(format, a...))
}

// invalidReason strips the sentinel prefix so the model sees only the field problem.
func invalidReason(err error) string {
	return strings.TrimPrefix(err.Error(), storage.ErrInvalidArgument.Error()+": ")
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", invalidField("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidField("%s must be a string", key)
	}
	return s, nil
}

// optionalString returns nil for an absent or null field.
func optionalString(args map[string]any, key string) (*string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, invalidField("%s must be a string or null", key)
	}
	return &s, nil
}

func requireNumber(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, invalidField("%s is required", key)
	}
	n, ok := v.(float64)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, invalidField("%s must be a number", key)
	}
	return n, nil
}

func optionalInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := v.(float64)
	if !ok || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return 0, invalidField("%s must be an integer", key)
	}
	return int(n), nil
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}
