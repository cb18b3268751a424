// Package intent implements the intent compiler (C9): translating an
// agentic-loop terminal and its tool results into an ordered list of typed
// intents for the orchestrator to apply.
package intent

// Kind enumerates the intent types the compiler can produce.
type Kind string

const (
	KindEmitThought   Kind = "EMIT_THOUGHT"
	KindUpdateState   Kind = "UPDATE_STATE"
	KindScheduleEvent Kind = "SCHEDULE_EVENT"
	KindRemember      Kind = "REMEMBER"
	KindSetInterest   Kind = "SET_INTEREST"
	KindSendMessage   Kind = "SEND_MESSAGE"
	KindDeferSignal   Kind = "DEFER_SIGNAL"
)

// Trace carries provenance metadata every intent is stamped with.
type Trace struct {
	TickID        string
	ParentSignalID string
	ToolCallID    string
}

// Intent is a single typed state mutation request.
type Intent struct {
	Kind   Kind
	Trace  Trace
	Fields map[string]any
}

// ToolOutcome is the minimal view of one agentic-loop tool result the
// compiler needs; defined locally (rather than importing the loop package)
// so intent stays a dependency-free leaf package.
type ToolOutcome struct {
	ToolCallID         string
	ToolName           string
	Success            bool
	Data               map[string]any
	ImmediatelyApplied bool
}

// TerminalKind mirrors loop.TerminalKind without creating an import cycle.
type TerminalKind string

const (
	TerminalRespond  TerminalKind = "respond"
	TerminalNoAction TerminalKind = "noAction"
	TerminalDefer    TerminalKind = "defer"
)

// TerminalInput is the minimal terminal-state view the compiler needs.
type TerminalInput struct {
	Kind                TerminalKind
	RespondText         string
	ConversationStatus  string
	Confidence          float64
	RecipientID         string
	DeferSignalType     string
	DeferReason         string
	DeferHours          float64
}

// CompileInput bundles everything Compile needs for one loop invocation.
type CompileInput struct {
	Terminal          TerminalInput
	CollectedThoughts []string
	ToolOutcomes      []ToolOutcome
	Trace             Trace
}

// dispatch maps a tool name to the function that turns its outcome into an
// Intent (or nil, meaning "no intent").
var dispatch = map[string]func(ToolOutcome) *Intent{
	"core.agent": func(o ToolOutcome) *Intent {
		return &Intent{Kind: KindUpdateState, Fields: o.Data}
	},
	"core.schedule": func(o ToolOutcome) *Intent {
		return &Intent{Kind: KindScheduleEvent, Fields: o.Data}
	},
	"core.remember": func(o ToolOutcome) *Intent {
		return &Intent{Kind: KindRemember, Fields: o.Data}
	},
	"core.setInterest": func(o ToolOutcome) *Intent {
		return &Intent{Kind: KindSetInterest, Fields: o.Data}
	},
}

// RegisterDispatch lets callers extend the typed dispatch map for additional
// tool names (e.g. plugin tools that produce first-class intents).
func RegisterDispatch(toolName string, fn func(ToolOutcome) *Intent) {
	dispatch[toolName] = fn
}

// Compile produces the ordered Intent list for one loop invocation.
func Compile(in CompileInput) []Intent {
	var out []Intent

	// 1. Merged thought intent, if any were collected.
	if len(in.CollectedThoughts) > 0 {
		joined := ""
		for i, t := range in.CollectedThoughts {
			if i > 0 {
				joined += "\n"
			}
			joined += t
		}
		out = append(out, Intent{
			Kind:  KindEmitThought,
			Trace: in.Trace,
			Fields: map[string]any{
				"content": joined,
			},
		})
	}

	// 2. Dispatch each non-immediately-applied, non-thought tool outcome.
	for _, o := range in.ToolOutcomes {
		if o.ImmediatelyApplied || o.ToolName == "core.thought" || !o.Success {
			continue
		}
		fn, ok := dispatch[o.ToolName]
		if !ok {
			continue
		}
		it := fn(o)
		if it == nil {
			continue
		}
		it.Trace = in.Trace
		it.Trace.ToolCallID = o.ToolCallID
		out = append(out, *it)
	}

	// 3. Terminal-driven intents.
	switch in.Terminal.Kind {
	case TerminalRespond:
		if in.Terminal.RecipientID == "" {
			// spec: log and drop, never deliver silently elsewhere.
			break
		}
		out = append(out, Intent{
			Kind:  KindSendMessage,
			Trace: in.Trace,
			Fields: map[string]any{
				"text":               in.Terminal.RespondText,
				"conversationStatus": in.Terminal.ConversationStatus,
				"confidence":         in.Terminal.Confidence,
				"recipientId":        in.Terminal.RecipientID,
			},
		})
	case TerminalDefer:
		out = append(out, Intent{
			Kind:  KindDeferSignal,
			Trace: in.Trace,
			Fields: map[string]any{
				"signalType": in.Terminal.DeferSignalType,
				"deferMs":    in.Terminal.DeferHours * 3.6e6,
				"reason":     in.Terminal.DeferReason,
			},
		})
	}

	return out
}
