package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/chatloop-dev/chatloop/internal/conversation"
)

// maxToolRounds bounds how many tool-call cycles one turn may take.
const maxToolRounds = 8

// contextWindows maps model families to their context size in tokens.
var contextWindows = map[string]int{
	"gpt-4o":        128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
	"o1":            128000,
	"claude":        200000,
}

const defaultContextWindow = 128000

// contextWindowFor resolves the context window by family, longest key
// first.
func contextWindowFor(model string) int {
	keys := make([]string, 0, len(contextWindows))
	for k := range contextWindows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, key := range keys {
		if strings.Contains(model, key) {
			return contextWindows[key]
		}
	}
	return defaultContextWindow
}

// Config holds the settings for the OpenAI-compatible chat client.
type Config struct {
	APIKey      string
	BaseURL     string // optional, for OpenAI-compatible endpoints
	Model       string
	MaxTokens   int
	Temperature float32

	// RequestsPerMinute enables a client-side rate limiter when > 0.
	RequestsPerMinute int

	// MaxContextTokens overrides the per-family context window lookup
	// when > 0.
	MaxContextTokens int
}

// ChatClient implements Client on the OpenAI chat completions API.
// Tool invocations requested mid-stream are executed through the
// configured Invoker and spliced back before the stream resumes.
type ChatClient struct {
	api        *openai.Client
	model      string
	maxTokens  int
	temp       float32
	maxContext int
	limiter    *rate.Limiter
	invoker    Invoker
}

// NewChatClient creates a streaming chat client.
func NewChatClient(cfg Config, invoker Invoker) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	maxContext := cfg.MaxContextTokens
	if maxContext <= 0 {
		maxContext = contextWindowFor(cfg.Model)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &ChatClient{
		api:        openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		maxContext: maxContext,
		limiter:    limiter,
		invoker:    invoker,
	}, nil
}

// Model returns the configured model name.
func (c *ChatClient) Model() string {
	return c.model
}

// MaxContextTokens returns the model's context window size.
func (c *ChatClient) MaxContextTokens() int {
	return c.maxContext
}

// Complete issues a one-shot, tool-free completion for a single prompt.
// Used when a tool provider asks the host for a model completion.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", translateError(err)
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temp,
	})
	if err != nil {
		return "", translateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{Message: "completion returned no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamChat issues the streaming request and returns a stream of
// classified events.
func (c *ChatClient) StreamChat(ctx context.Context, conv *conversation.Conversation, tools []ToolDef) (Stream, error) {
	messages := toOpenAIMessages(conv)
	oaTools := toOpenAITools(tools)

	s := newEventStream(ctx)
	go c.run(s, messages, oaTools)
	return s, nil
}

// run drives one logical turn: stream, execute any requested tools,
// and re-issue until the model produces a final answer. Producer side
// of the event stream.
func (c *ChatClient) run(s *eventStream, messages []openai.ChatCompletionMessage, tools []openai.Tool) {
	defer close(s.events)

	var total Usage

	for round := 0; round < maxToolRounds; round++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(s.ctx); err != nil {
				s.fail(translateError(err))
				return
			}
		}

		req := openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Tools:       tools,
			MaxTokens:   c.maxTokens,
			Temperature: c.temp,
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		}

		stream, err := c.api.CreateChatCompletionStream(s.ctx, req)
		if err != nil {
			s.fail(translateError(err))
			return
		}

		content, calls, err := c.consume(s, stream, &total)
		_ = stream.Close()
		if err != nil {
			s.fail(err)
			return
		}

		if len(calls) == 0 {
			s.send(Event{Kind: EventUsage, Usage: total})
			return
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		for _, call := range calls {
			args := map[string]any{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					args = map[string]any{"_raw": call.Function.Arguments}
				}
			}

			s.send(Event{
				Kind: EventToolCallRequest,
				ToolCall: conversation.ToolCall{
					ID:        call.ID,
					Name:      call.Function.Name,
					Arguments: args,
				},
			})

			result, err := c.invoke(s.ctx, call.Function.Name, args)
			if err != nil {
				result = "error: " + err.Error()
			}

			s.send(Event{
				Kind:       EventToolCallResult,
				ToolCallID: call.ID,
				ToolResult: result,
			})

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	s.fail(&APIError{Message: fmt.Sprintf("tool-call rounds exceeded limit of %d", maxToolRounds)})
}

// consume reads one upstream stream to completion, forwarding text
// events and accumulating tool-call deltas and usage.
func (c *ChatClient) consume(s *eventStream, stream *openai.ChatCompletionStream, total *Usage) (string, []openai.ToolCall, error) {
	var content strings.Builder
	byIndex := map[int]*openai.ToolCall{}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, translateError(err)
		}

		if resp.Usage != nil {
			total.InputTokens += resp.Usage.PromptTokens
			total.OutputTokens += resp.Usage.CompletionTokens
			if resp.Usage.PromptTokensDetails != nil {
				total.CachedTokens += resp.Usage.PromptTokensDetails.CachedTokens
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			if !s.send(Event{Kind: EventText, Text: delta.Content}) {
				return "", nil, s.ctx.Err()
			}
		}

		for _, d := range delta.ToolCalls {
			idx := 0
			if d.Index != nil {
				idx = *d.Index
			}
			call, ok := byIndex[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				byIndex[idx] = call
			}
			if d.ID != "" {
				call.ID = d.ID
			}
			if d.Function.Name != "" {
				call.Function.Name = d.Function.Name
			}
			call.Function.Arguments += d.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]openai.ToolCall, 0, len(byIndex))
	for _, idx := range indexes {
		calls = append(calls, *byIndex[idx])
	}

	return content.String(), calls, nil
}

func (c *ChatClient) invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.invoker == nil {
		return "", fmt.Errorf("no tool invoker configured for %q", name)
	}
	return c.invoker(ctx, name, args)
}

func toOpenAIMessages(conv *conversation.Conversation) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, conv.Len())
	for _, msg := range conv.Messages {
		switch msg.Role {
		case conversation.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text,
			})
		case conversation.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text,
			})
		case conversation.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text,
			}
			for _, call := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(call.Arguments)
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			out = append(out, m)
		case conversation.RoleToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Text,
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAITools(tools []ToolDef) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}
