package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Names of the built-in core.* tools. The agentic loop intercepts
// core.say/core.defer/core.escalate/core.thought before they ever reach the
// registry's Execute path; they are still registered here so schema export
// and per-tool limits apply to them uniformly.
const (
	ToolMemorySearch  = "core.memory_search"
	ToolMemorySave    = "core.memory_save"
	ToolTimeNow       = "core.time"
	ToolTimeSince     = "core.time_since"
	ToolAgentState    = "core.agent_state"
	ToolUserModel     = "core.user_model"
	ToolThought       = "core.thought"
	ToolUpdateState   = "core.agent"
	ToolSchedule      = "core.schedule"
	ToolRemember      = "core.remember"
	ToolSetInterest   = "core.setInterest"
	ToolSoul          = "core.soul"
	ToolEscalate      = "core.escalate"
	ToolDefer         = "core.defer"
	ToolSay           = "core.say"
	ToolMeta          = "core.tools"
)

// MemoryProvider is the narrow slice of C10 the built-in tools need.
type MemoryProvider interface {
	Search(ctx context.Context, query string, limit int) ([]MemorySearchHit, error)
	SaveThought(ctx context.Context, content string, tags []string) error
	Remember(ctx context.Context, req RememberRequest) error
}

// MemorySearchHit is one search result surfaced to the LLM.
type MemorySearchHit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// RememberRequest carries a fact write with provenance for field-policy
// gating.
type RememberRequest struct {
	Subject    string
	Attribute  string
	Value      string
	Confidence float64
	Source     Source
	Evidence   string
	IsUserFact bool
}

// AgentStateProvider exposes a read/write view over agent state (energy and
// derived pressures) for core.agent_state / core.agent.
type AgentStateProvider interface {
	Snapshot(ctx context.Context) (map[string]any, error)
	Update(ctx context.Context, patch map[string]any) error
}

// UserModelProvider exposes the current user-model snapshot.
type UserModelProvider interface {
	Snapshot(ctx context.Context) (map[string]any, error)
}

// SchedulerProvider is the narrow slice of C3 core.schedule needs.
type SchedulerProvider interface {
	Schedule(ctx context.Context, args json.RawMessage) (string, error)
}

// Dependencies bundles the collaborators BuildBuiltins wires into executors.
type Dependencies struct {
	Memory      MemoryProvider
	AgentState  AgentStateProvider
	UserModel   UserModelProvider
	Scheduler   SchedulerProvider
	FieldPolicy *FieldPolicy
	Now         func() time.Time
}

// BuildBuiltins constructs the contract-level built-in tool set and returns
// it for registration. Intercepted tools (say/defer/escalate/thought) are
// included with no-op placeholder executors: the loop must never route a
// call to them through Registry.Execute.
func BuildBuiltins(deps Dependencies) []Tool {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	notIntercepted := func(name string) Executor {
		return func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
			return nil, fmt.Errorf("%s must be intercepted by the agentic loop, not executed via the registry", name)
		}
	}

	return []Tool{
		{
			Name:            ToolMemorySearch,
			Description:     "Search stored facts, thoughts, and intentions. Returns the closest matches.",
			ParameterSchema: `{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`,
			MaxCallsPerTurn: 5,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				var req struct {
					Query string `json:"query"`
					Limit int    `json:"limit"`
				}
				if err := json.Unmarshal(args, &req); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				if req.Limit <= 0 {
					req.Limit = 5
				}
				return deps.Memory.Search(ctx, req.Query, req.Limit)
			},
		},
		{
			Name:            ToolTimeNow,
			Description:     "Return the current time.",
			MaxCallsPerTurn: 3,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				return map[string]any{"now": deps.Now().UTC().Format(time.RFC3339)}, nil
			},
		},
		{
			Name:            ToolTimeSince,
			Description:     "Return the duration elapsed since a given RFC3339 timestamp.",
			ParameterSchema: `{"type":"object","properties":{"since":{"type":"string"}},"required":["since"]}`,
			MaxCallsPerTurn: 3,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				var req struct {
					Since string `json:"since"`
				}
				if err := json.Unmarshal(args, &req); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				since, err := time.Parse(time.RFC3339, req.Since)
				if err != nil {
					return nil, fmt.Errorf("invalid timestamp: %w", err)
				}
				return map[string]any{"elapsedSeconds": deps.Now().Sub(since).Seconds()}, nil
			},
		},
		{
			Name:            ToolAgentState,
			Description:     "Read the current agent-state snapshot (energy and derived pressures).",
			MaxCallsPerTurn: 3,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				return deps.AgentState.Snapshot(ctx)
			},
		},
		{
			Name:            ToolUserModel,
			Description:     "Read the current user-model snapshot.",
			MaxCallsPerTurn: 3,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				return deps.UserModel.Snapshot(ctx)
			},
		},
		{
			Name:            ToolThought,
			Description:     "Emit an internal thought for further reflection. Intercepted by the agentic loop.",
			ParameterSchema: `{"type":"object","properties":{"content":{"type":"string"},"depth":{"type":"integer"}},"required":["content"]}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 3,
			Executor:        notIntercepted(ToolThought),
		},
		{
			Name:            ToolUpdateState,
			Description:     "Update mutable agent state fields.",
			ParameterSchema: `{"type":"object"}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 5,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				var patch map[string]any
				if err := json.Unmarshal(args, &patch); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				if err := deps.AgentState.Update(ctx, patch); err != nil {
					return nil, err
				}
				return map[string]any{"updated": true}, nil
			},
		},
		{
			Name:            ToolSchedule,
			Description:     "Create a scheduled one-shot or recurring event.",
			ParameterSchema: `{"type":"object"}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 5,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				id, err := deps.Scheduler.Schedule(ctx, args)
				if err != nil {
					return nil, err
				}
				return map[string]any{"scheduleId": id}, nil
			},
		},
		{
			Name:        ToolRemember,
			Description: "Record a fact about the user or world with provenance. Subject/attribute pairs upsert in place.",
			ParameterSchema: `{"type":"object","properties":{` +
				`"subject":{"type":"string"},"attribute":{"type":"string"},"value":{"type":"string"},` +
				`"confidence":{"type":"number"},"source":{"type":"string"},"evidence":{"type":"string"}` +
				`},"required":["subject","attribute","value","confidence","source"]}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 10,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				var req struct {
					Subject    string  `json:"subject"`
					Attribute  string  `json:"attribute"`
					Value      string  `json:"value"`
					Confidence float64 `json:"confidence"`
					Source     string  `json:"source"`
					Evidence   string  `json:"evidence"`
				}
				if err := json.Unmarshal(args, &req); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				source := Source(req.Source)
				if deps.FieldPolicy != nil {
					if err := deps.FieldPolicy.Check(req.Subject, req.Attribute, req.Confidence, source, nil); err != nil {
						return nil, err
					}
				}
				err := deps.Memory.Remember(ctx, RememberRequest{
					Subject: req.Subject, Attribute: req.Attribute, Value: req.Value,
					Confidence: req.Confidence, Source: source, Evidence: req.Evidence,
					IsUserFact: req.Subject == "user",
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"subject": req.Subject, "attribute": req.Attribute, "value": req.Value,
					"confidence": req.Confidence, "source": req.Source,
				}, nil
			},
		},
		{
			Name:            ToolSetInterest,
			Description:     "Set the agent's current interest/focus.",
			ParameterSchema: `{"type":"object","properties":{"interest":{"type":"string"}},"required":["interest"]}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 3,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				var req struct {
					Interest string `json:"interest"`
				}
				if err := json.Unmarshal(args, &req); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
				return map[string]any{"interest": req.Interest}, nil
			},
		},
		{
			Name:            ToolSoul,
			Description:     "Introspect the agent's soul/narrative identity layer.",
			MaxCallsPerTurn: 2,
			Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
				return map[string]any{}, nil
			},
		},
		{
			Name:            ToolEscalate,
			Description:     "Escalate to a human operator. Terminates the loop. Intercepted by the agentic loop.",
			ParameterSchema: `{"type":"object","properties":{"reason":{"type":"string"}},"required":["reason"]}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 1,
			Executor:        notIntercepted(ToolEscalate),
		},
		{
			Name:            ToolDefer,
			Description:     "Defer to wake again later on a given signal type. Terminates the loop. Intercepted by the agentic loop.",
			ParameterSchema: `{"type":"object","properties":{"signalType":{"type":"string"},"reason":{"type":"string"},"hours":{"type":"number"}},"required":["signalType","reason","hours"]}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 1,
			Executor:        notIntercepted(ToolDefer),
		},
		{
			Name:            ToolSay,
			Description:     "Send an intermediate message without ending the turn. Intercepted by the agentic loop.",
			ParameterSchema: `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
			HasSideEffects:  true,
			MaxCallsPerTurn: 5,
			Executor:        notIntercepted(ToolSay),
		},
		{
			Name:            ToolMeta,
			Description:     "Retrieve the full parameter schema for a tool by name, for lazy-schema mode.",
			ParameterSchema: `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
			MaxCallsPerTurn: 10,
		},
	}
}
