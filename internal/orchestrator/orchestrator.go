// Package orchestrator drives the turn-taking loop: it reads user
// input, streams model responses, observes tool traffic, and keeps the
// ledger and snapshot store up to date.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/chatloop-dev/chatloop/internal/conversation"
	"github.com/chatloop-dev/chatloop/internal/ledger"
	"github.com/chatloop-dev/chatloop/internal/toolhost"
	"github.com/chatloop-dev/chatloop/internal/transport"
	"github.com/chatloop-dev/chatloop/internal/ui"
)

// ErrQuotaExceeded ends the session. The owning process should stop
// accepting input once Run returns it.
var ErrQuotaExceeded = errors.New("provider quota exceeded")

// Input is the user-input collaborator.
type Input interface {
	ReadLine() (string, error)
	Help() string
}

// ToolSource supplies the per-turn tool catalog.
type ToolSource interface {
	Tools() []toolhost.Descriptor
}

// Options tunes the retry behavior of the loop.
type Options struct {
	SystemPrompt string

	// MaxRetries bounds rate-limit retry attempts per turn.
	MaxRetries int
	// BaseRetryDelay is the first backoff delay; it doubles per
	// attempt up to MaxRetryDelay.
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	// Sleep is swappable for tests.
	Sleep func(time.Duration)
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.BaseRetryDelay <= 0 {
		o.BaseRetryDelay = time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 60 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
}

// Orchestrator owns the conversation for the duration of a run. One
// logical thread drives the loop; no concurrent turns are ever in
// flight.
type Orchestrator struct {
	input   Input
	client  transport.Client
	tools   ToolSource
	ledger  *ledger.Ledger
	store   conversation.SnapshotStore
	printer *ui.Printer
	opts    Options

	conv      *conversation.Conversation
	lastInput string
}

// New assembles an orchestrator around its collaborators.
func New(input Input, client transport.Client, tools ToolSource, led *ledger.Ledger, store conversation.SnapshotStore, printer *ui.Printer, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		input:   input,
		client:  client,
		tools:   tools,
		ledger:  led,
		store:   store,
		printer: printer,
		opts:    opts,
		conv:    conversation.New(opts.SystemPrompt),
	}
}

// Conversation exposes the live history, mainly for tests.
func (o *Orchestrator) Conversation() *conversation.Conversation {
	return o.conv
}

// Run executes the REPL until input ends, the user exits, or quota is
// exhausted.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		text, err := o.input.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				o.printer.Errorf("input: %v", err)
			}
			return nil
		}

		trimmed := strings.TrimSpace(text)
		switch trimmed {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "summary":
			o.printSummary()
			continue
		case "/help":
			o.printer.Println(o.input.Help())
			continue
		case "/clear":
			o.clear(ctx)
			continue
		case "/resume":
			o.resume(ctx)
			continue
		case "!!":
			if o.lastInput == "" {
				o.printer.Warnf("nothing to repeat yet")
				continue
			}
			trimmed = o.lastInput
			o.printer.Infof("repeating: %s", trimmed)
		}

		o.lastInput = trimmed
		if err := o.runTurn(ctx, trimmed); err != nil {
			return err
		}
	}
}

// clear snapshots the current history under the pre-clear tag, then
// resets to a single system message.
func (o *Orchestrator) clear(ctx context.Context) {
	if err := o.store.SaveSnapshot(ctx, o.conv, conversation.TagPreClear); err != nil {
		o.printer.Warnf("pre-clear snapshot failed: %v", err)
	}
	o.conv.Reset(o.opts.SystemPrompt)
	o.printer.Infof("conversation cleared")
}

// resume replaces the in-memory history with the latest ordinary
// snapshot.
func (o *Orchestrator) resume(ctx context.Context) {
	o.conv = o.store.LoadLatest(ctx, o.opts.SystemPrompt)
	o.printer.Infof("resumed conversation with %d messages", o.conv.Len())
}

func (o *Orchestrator) printSummary() {
	s := o.ledger.Summary()
	o.printer.Println(fmt.Sprintf(
		"requests: %d | input tokens: %d | output tokens: %d | cost: $%.4f",
		s.Requests, s.InputTokens, s.OutputTokens, s.TotalCost))
	o.printer.Println(fmt.Sprintf(
		"max context: %d | avg utilization: %.1f%% | session: %s",
		s.MaxContext, s.AvgUtilization*100, s.Duration.Round(time.Second)))
}

// runTurn drives one user turn to completion, with retry on rate
// limits. On any failure the history is rolled back to its pre-turn
// state; no partial assistant content is ever committed.
func (o *Orchestrator) runTurn(ctx context.Context, text string) error {
	mark := o.conv.Len()
	o.conv.Append(conversation.Message{Role: conversation.RoleUser, Text: text})

	tools := o.toolDefs()

	delay := o.opts.BaseRetryDelay
	for attempt := 1; ; attempt++ {
		result, err := o.streamOnce(ctx, tools)
		if err == nil {
			o.commit(ctx, result)
			return nil
		}

		switch {
		case transport.IsQuotaExceeded(err):
			o.printer.Errorf("quota exhausted, ending session: %v", err)
			if serr := o.store.SaveSnapshot(ctx, o.conv, conversation.TagQuota); serr != nil {
				log.Printf("quota snapshot failed: %v", serr)
			}
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)

		case transport.IsRateLimited(err):
			if attempt >= o.opts.MaxRetries {
				o.printer.Errorf("rate limited, giving up after %d attempts", attempt)
				o.conv.Truncate(mark)
				return nil
			}
			o.printer.Warnf("rate limited (attempt %d/%d), retrying in %s",
				attempt, o.opts.MaxRetries, delay)
			o.opts.Sleep(delay)
			delay *= 2
			if delay > o.opts.MaxRetryDelay {
				delay = o.opts.MaxRetryDelay
			}

		default:
			o.printer.Errorf("turn failed: %v", err)
			o.conv.Truncate(mark)
			return nil
		}
	}
}

// turnResult is the accumulated outcome of one successful stream.
type turnResult struct {
	messages []conversation.Message
	usage    transport.Usage
}

// streamOnce consumes one streaming response, surfacing fragments as
// they arrive and buffering them for the history. Tool execution
// happens inside the transport; here each call/result pair is only
// observed and summarized.
func (o *Orchestrator) streamOnce(ctx context.Context, tools []transport.ToolDef) (*turnResult, error) {
	stream, err := o.client.StreamChat(ctx, o.conv, tools)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result := &turnResult{}
	var pendingText strings.Builder
	var pendingCalls []conversation.ToolCall

	flushAssistant := func() {
		if pendingText.Len() == 0 && len(pendingCalls) == 0 {
			return
		}
		result.messages = append(result.messages, conversation.Message{
			Role:      conversation.RoleAssistant,
			Text:      pendingText.String(),
			ToolCalls: pendingCalls,
		})
		pendingText.Reset()
		pendingCalls = nil
	}

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch ev.Kind {
		case transport.EventText:
			pendingText.WriteString(ev.Text)
			o.printer.Stream(ev.Text)

		case transport.EventToolCallRequest:
			pendingCalls = append(pendingCalls, ev.ToolCall)
			o.printer.ToolCallf("→ tool %s(%s)", ev.ToolCall.Name, summarizeArgs(ev.ToolCall.Arguments))

		case transport.EventToolCallResult:
			flushAssistant()
			result.messages = append(result.messages, conversation.Message{
				Role:       conversation.RoleToolResult,
				Text:       ev.ToolResult,
				ToolCallID: ev.ToolCallID,
			})
			o.printer.ToolCallf("← tool result (%d bytes)", len(ev.ToolResult))

		case transport.EventUsage:
			result.usage = ev.Usage
		}
	}

	flushAssistant()
	o.printer.Println()
	return result, nil
}

// commit appends the turn's buffered content, records usage, and
// snapshots the conversation.
func (o *Orchestrator) commit(ctx context.Context, result *turnResult) {
	o.conv.Append(result.messages...)

	contextLen := transport.EstimateTokens(o.conv)
	record := o.ledger.Record(
		result.usage.InputTokens,
		result.usage.OutputTokens,
		result.usage.CachedTokens,
		o.client.Model(),
		contextLen,
		o.client.MaxContextTokens(),
	)

	switch record.WarningLevel() {
	case ledger.WarnHigh:
		o.printer.Errorf("context window %.0f%% full", record.Utilization()*100)
	case ledger.WarnLow:
		o.printer.Warnf("context window %.0f%% full", record.Utilization()*100)
	}

	if err := o.store.SaveSnapshot(ctx, o.conv, conversation.TagOrdinary); err != nil {
		o.printer.Warnf("snapshot failed: %v", err)
	}
}

func (o *Orchestrator) toolDefs() []transport.ToolDef {
	descriptors := o.tools.Tools()
	if len(descriptors) == 0 {
		return nil
	}
	out := make([]transport.ToolDef, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, transport.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

// summarizeArgs renders tool arguments as a short one-line summary.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	if len(parts) > 3 {
		parts = parts[:3]
		parts = append(parts, "…")
	}
	return strings.Join(parts, ", ")
}
