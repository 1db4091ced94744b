package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ID identifies a model provider. The set is closed; adding a provider
// means adding a constant here and a registration in NewRegistry.
type ID string

const (
	// Anthropic is the Anthropic Claude provider
	Anthropic ID = "anthropic"
	// OpenAI is the OpenAI provider
	OpenAI ID = "openai"
)

// ResponseKind discriminates the two possible model outcomes
type ResponseKind string

const (
	// KindFinal means the model produced a user-facing answer
	KindFinal ResponseKind = "final"
	// KindToolCall means the model requested one or more tool invocations
	KindToolCall ResponseKind = "tool_call"
)

// Adapter is the uniform invocation interface over heterogeneous model backends
type Adapter interface {
	// Invoke makes one model call
	Invoke(ctx context.Context, request Request) (*Response, error)

	// ID returns the provider identifier
	ID() ID
}

// Request contains the request parameters for a model call
type Request struct {
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Message represents one entry in the model conversation
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a model-requested tool invocation
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSpec describes a tool offered to the model
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage tracks token consumption for one call
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the normalized model outcome: either a final answer or a
// set of tool calls, never both and never neither.
type Response struct {
	Kind  ResponseKind
	Text  string
	Calls []ToolCall
	Usage *Usage
}

// Error wraps any vendor failure, including semantically empty completions.
type Error struct {
	Provider  ID
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError classifies err and wraps it for the given provider
func NewError(id ID, err error) *Error {
	return &Error{Provider: id, Retryable: retryable(err), Err: err}
}

// NewEmptyCompletionError marks a well-formed but unusable completion.
// An empty answer is worse than falling back, so it is always retryable.
func NewEmptyCompletionError(id ID) *Error {
	return &Error{Provider: id, Retryable: true, Err: fmt.Errorf("empty completion")}
}

// retryable reports whether a vendor error is worth retrying elsewhere
func retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}

	return false
}

// normalize builds the Response union from raw text and tool calls,
// rejecting semantically empty completions.
func normalize(id ID, text string, calls []ToolCall) (*Response, *Error) {
	if len(calls) > 0 {
		return &Response{Kind: KindToolCall, Text: text, Calls: calls}, nil
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewEmptyCompletionError(id)
	}
	return &Response{Kind: KindFinal, Text: text}, nil
}

// Settings configures one adapter instance
type Settings struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

const defaultCallTimeout = 8 * time.Second

func (s Settings) callTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultCallTimeout
}
