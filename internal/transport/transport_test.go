package transport

import (
	"context"
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloop-dev/chatloop/internal/conversation"
)

func TestContextWindowFor(t *testing.T) {
	assert.Equal(t, 128000, contextWindowFor("gpt-4o-2024-08-06"))
	assert.Equal(t, 8192, contextWindowFor("gpt-4"))
	assert.Equal(t, 128000, contextWindowFor("gpt-4-turbo-preview"))
	assert.Equal(t, 16385, contextWindowFor("gpt-3.5-turbo-16k"))
	assert.Equal(t, defaultContextWindow, contextWindowFor("mystery-model"))
}

func TestToOpenAIMessages(t *testing.T) {
	conv := conversation.New("sys")
	conv.Append(
		conversation.Message{Role: conversation.RoleUser, Text: "hi"},
		conversation.Message{
			Role: conversation.RoleAssistant,
			Text: "let me check",
			ToolCalls: []conversation.ToolCall{
				{ID: "c1", Name: "lookup", Arguments: map[string]any{"q": "x"}},
			},
		},
		conversation.Message{Role: conversation.RoleToolResult, Text: "42", ToolCallID: "c1"},
	)

	msgs := toOpenAIMessages(conv)
	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "lookup", msgs[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"q":"x"}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
}

func TestToOpenAITools(t *testing.T) {
	tools := toOpenAITools([]ToolDef{
		{Name: "lookup", Description: "find things", InputSchema: map[string]any{"type": "object"}},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "lookup", tools[0].Function.Name)

	assert.Nil(t, toOpenAITools(nil))
}

func TestEstimateTokens(t *testing.T) {
	conv := conversation.New("0123456789012345") // 16 chars -> 4 tokens
	assert.Equal(t, 4, EstimateTokens(conv))
}

func TestEventStreamDeliveryAndEOF(t *testing.T) {
	s := newEventStream(context.Background())

	go func() {
		s.send(Event{Kind: EventText, Text: "a"})
		s.send(Event{Kind: EventText, Text: "b"})
		close(s.events)
	}()

	ev, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Text)

	ev, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Text)

	_, err = s.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestEventStreamFail(t *testing.T) {
	s := newEventStream(context.Background())
	want := errors.New("boom")

	go func() {
		s.fail(want)
		close(s.events)
	}()

	_, err := s.Recv()
	assert.Equal(t, want, err)
}

func TestEventStreamClose(t *testing.T) {
	s := newEventStream(context.Background())
	require.NoError(t, s.Close())

	_, err := s.Recv()
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.send(Event{Kind: EventText, Text: "dropped"}))
}
