// Package llm provides a provider-agnostic façade over chat-completion
// APIs, with retries, structured-output enforcement, and a tool-using
// agent loop.
package llm

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message. Assistant messages may carry tool-call
// requests; tool messages carry the matching result via ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to invoke a registered tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// Params are the sampling parameters for one call. Pointer fields
// distinguish "unset" (use the provider default) from an explicit zero.
type Params struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	TopP        *float64
}

// Usage counts tokens consumed by one or more provider calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Request is one provider round trip.
type Request struct {
	Messages []Message

	// OutputSchema, when non-nil, asks the provider for a JSON object of
	// this shape (JSON Schema). Providers without native enforcement fall
	// back to JSON mode; the client parses and validates either way.
	OutputSchema map[string]any

	Tools  []ToolDefinition
	Params Params
}

// Response is the provider's reply to one Request.
type Response struct {
	Message      Message
	Usage        Usage
	FinishReason string
}
