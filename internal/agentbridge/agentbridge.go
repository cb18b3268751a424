// Package agentbridge adapts the agent package's streaming LLMProvider
// interface (Anthropic, OpenAI, Bedrock, Venice, and friends) to the core
// loop's non-streaming loop.Provider contract, so the orchestrator's
// agentic loop can run against any already-wired provider without core
// ever importing a concrete wire format.
package agentbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shady2k/lifemodel/internal/agent"
	"github.com/shady2k/lifemodel/internal/loop"
	"github.com/shady2k/lifemodel/pkg/models"
)

// Bridge wraps an agent.LLMProvider as a loop.Provider by draining its
// streaming response into a single completion.
type Bridge struct {
	Provider agent.LLMProvider
	Model    string
}

// New returns a loop.Provider backed by provider, defaulting completions to
// model when a request does not specify one.
func New(provider agent.LLMProvider, model string) *Bridge {
	return &Bridge{Provider: provider, Model: model}
}

// Complete implements loop.Provider.
func (b *Bridge) Complete(ctx context.Context, req loop.CompletionRequest) (*loop.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = b.Model
	}

	areq := &agent.CompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       toAgentTools(req.Tools),
	}
	for _, m := range req.Messages {
		if m.Role == loop.RoleSystem {
			areq.System = joinSystem(areq.System, m.Content)
			continue
		}
		areq.Messages = append(areq.Messages, toAgentMessage(m))
	}

	chunks, err := b.Provider.Complete(ctx, areq)
	if err != nil {
		return nil, fmt.Errorf("agentbridge: complete: %w", err)
	}

	var (
		text         string
		toolCalls    []loop.ToolCall
		usage        *loop.Usage
		streamErr    error
		sawToolCalls bool
	)
	for chunk := range chunks {
		if chunk.Error != nil {
			streamErr = chunk.Error
			continue
		}
		text += chunk.Text
		if chunk.ToolCall != nil {
			sawToolCalls = true
			toolCalls = append(toolCalls, loop.ToolCall{
				ID:        chunk.ToolCall.ID,
				Type:      "function",
				Name:      chunk.ToolCall.Name,
				Arguments: chunk.ToolCall.Input,
			})
		}
		if chunk.Done && (chunk.InputTokens > 0 || chunk.OutputTokens > 0) {
			usage = &loop.Usage{PromptTokens: chunk.InputTokens, CompletionTokens: chunk.OutputTokens}
		}
	}
	if streamErr != nil {
		return nil, fmt.Errorf("agentbridge: stream: %w", streamErr)
	}

	finish := loop.FinishStop
	if sawToolCalls {
		finish = loop.FinishToolCalls
	}
	return &loop.CompletionResponse{
		Content:      text,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Model:        model,
		Usage:        usage,
	}, nil
}

func toAgentMessage(m loop.Message) agent.CompletionMessage {
	out := agent.CompletionMessage{Role: string(m.Role), Content: m.Content}
	if m.Role == loop.RoleTool {
		out.ToolResults = []models.ToolResult{{ToolCallID: m.ToolCallID, Content: m.Content}}
		out.Content = ""
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}
	return out
}

func toAgentTools(specs []loop.ToolSpec) []agent.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]agent.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, specTool{spec: s})
	}
	return out
}

func joinSystem(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "\n\n" + next
}

// specTool adapts a loop.ToolSpec into an agent.Tool description. Execute is
// never called through this path: the orchestrator's tools.Registry runs
// tool calls directly, the bridge only needs to describe tools to the LLM.
type specTool struct {
	spec loop.ToolSpec
}

func (t specTool) Name() string            { return t.spec.Name }
func (t specTool) Description() string     { return t.spec.Description }
func (t specTool) Schema() json.RawMessage { return t.spec.Parameters }
func (t specTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return nil, fmt.Errorf("agentbridge: %s: execute not supported through the completion bridge", t.spec.Name)
}
