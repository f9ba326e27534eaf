// Package conversation holds the message history model and its
// snapshot persistence.
package conversation

// Role identifies the author of a message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is a single tool invocation requested by the assistant.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is one turn-unit in the history. ToolCallID is set only on
// tool-result messages and refers back to a ToolCall.ID from a
// preceding assistant message.
type Message struct {
	Role       Role       `json:"role"`
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Conversation is an ordered message history. The first message is
// always a system message; history is only appended, bulk-replaced, or
// repaired on load.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// New returns a conversation seeded with the system prompt.
func New(systemPrompt string) *Conversation {
	return &Conversation{
		Messages: []Message{{Role: RoleSystem, Text: systemPrompt}},
	}
}

// Append adds messages to the end of the history.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
}

// Reset replaces the history with a single system message.
func (c *Conversation) Reset(systemPrompt string) {
	c.Messages = []Message{{Role: RoleSystem, Text: systemPrompt}}
}

// Truncate drops every message after index n, used to roll back a
// failed turn.
func (c *Conversation) Truncate(n int) {
	if n < len(c.Messages) {
		c.Messages = c.Messages[:n]
	}
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// ForceSystemPrompt repairs the head of the history so the first
// message is a system message carrying the given prompt. Persisted
// system prompts are never trusted at resume time.
func (c *Conversation) ForceSystemPrompt(systemPrompt string) {
	if len(c.Messages) == 0 || c.Messages[0].Role != RoleSystem {
		c.Messages = append([]Message{{Role: RoleSystem, Text: systemPrompt}}, c.Messages...)
		return
	}
	c.Messages[0].Text = systemPrompt
}
