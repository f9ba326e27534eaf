// Package transport streams chat completions and splices tool
// invocations into the stream on the orchestrator's behalf.
package transport

import (
	"context"

	"github.com/chatloop-dev/chatloop/internal/conversation"
)

// EventKind discriminates the streamed fragment union.
type EventKind int

const (
	// EventText is an incremental piece of assistant text.
	EventText EventKind = iota
	// EventToolCallRequest announces a tool invocation the transport
	// is about to perform.
	EventToolCallRequest
	// EventToolCallResult carries the spliced-back tool output.
	EventToolCallResult
	// EventUsage is the final usage metadata, emitted once before the
	// stream ends.
	EventUsage
)

// Usage is the token accounting reported by the model endpoint.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// Event is one streamed fragment. Exactly the fields for its Kind are
// populated.
type Event struct {
	Kind EventKind

	// EventText
	Text string

	// EventToolCallRequest
	ToolCall conversation.ToolCall

	// EventToolCallResult
	ToolCallID string
	ToolResult string

	// EventUsage
	Usage Usage
}

// Stream yields events until io.EOF or a transport error.
type Stream interface {
	Recv() (*Event, error)
	Close() error
}

// ToolDef describes an invocable tool passed with each request.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Invoker executes a named tool. The transport calls it mid-stream and
// splices the result back before the model continues.
type Invoker func(ctx context.Context, name string, args map[string]any) (string, error)

// Client issues streaming chat requests.
type Client interface {
	// StreamChat starts a streaming completion over the history with
	// the given tool catalog.
	StreamChat(ctx context.Context, conv *conversation.Conversation, tools []ToolDef) (Stream, error)

	// Model returns the model name requests are issued against.
	Model() string

	// MaxContextTokens returns the model's context window size.
	MaxContextTokens() int
}

// EstimateTokens gives a rough token count for the history, about four
// characters per token.
func EstimateTokens(conv *conversation.Conversation) int {
	chars := 0
	for _, msg := range conv.Messages {
		chars += len(msg.Text)
		for _, call := range msg.ToolCalls {
			chars += len(call.Name) + len(call.ID)
			for k, v := range call.Arguments {
				chars += len(k)
				if s, ok := v.(string); ok {
					chars += len(s)
				} else {
					chars += 8
				}
			}
		}
	}
	return chars / 4
}
