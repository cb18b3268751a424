// Package loop implements the agentic loop (C8): a bounded multi-iteration
// state machine that interleaves LLM completions with tool execution.
package loop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shady2k/lifemodel/internal/intent"
	"github.com/shady2k/lifemodel/internal/signal"
	"github.com/shady2k/lifemodel/internal/tools"
)

// Retry/loop-detection thresholds named directly in the spec.
const (
	MaxRepeatedFailedCalls   = 2
	MaxRepeatedIdenticalCalls = 2
	ThoughtMaxDepth           = 2
	ThoughtDedupeWindow       = 15 * time.Minute
)

// Config holds every enforced bound on one loop invocation.
type Config struct {
	MaxIterations   int
	MaxToolCalls    int
	Timeout         time.Duration
	AbortOnNewMessage bool
	MaxInputTokens  int
	MaxOutputTokens int
	AllowPlainText  bool
	LazySchema      bool
}

// DefaultConfig mirrors the bounds named in §4.6.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     15,
		MaxToolCalls:      20,
		Timeout:           120 * time.Second,
		AbortOnNewMessage: true,
		AllowPlainText:    true,
	}
}

// sanitizeConfig fills zero-valued fields with DefaultConfig's values,
// following the teacher's sanitize*Config pattern.
func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = def.MaxToolCalls
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return cfg
}

// TerminalKind enumerates the three terminal states a loop run ends in.
type TerminalKind string

const (
	TerminalRespond  TerminalKind = "respond"
	TerminalNoAction TerminalKind = "noAction"
	TerminalDefer    TerminalKind = "defer"
)

// ConversationStatus is the enum a respond terminal must carry.
type ConversationStatus string

const (
	StatusActive         ConversationStatus = "active"
	StatusAwaitingAnswer ConversationStatus = "awaiting_answer"
	StatusClosed         ConversationStatus = "closed"
	StatusIdle           ConversationStatus = "idle"
)

// Terminal is the final state of one loop run.
type Terminal struct {
	Kind               TerminalKind
	RespondText        string
	ConversationStatus ConversationStatus
	Confidence         float64

	NoActionReason string

	DeferSignalType string
	DeferReason     string
	DeferHours      float64
}

// executedTool records one tool call for the executed-tool log.
type executedTool struct {
	ToolCallID         string
	Name               string
	Signature          string
	Success            bool
	ImmediatelyApplied bool
	Data               map[string]any
}

// State is the per-invocation mutable record threaded through every
// iteration. It is a value updated by pure transition helpers; suspension
// only happens at the LLM-completion and tool-execution call sites.
type State struct {
	Iteration      int
	TotalToolCalls int
	StartTime      time.Time

	CollectedThoughts []string
	ExecutedTools     []executedTool

	FailedCallCounts    map[string]int
	IdenticalCallCounts map[string]int
	ToolCallCounts      map[string]int
	LimitViolationCount int

	ForceRespond         bool
	ForceRespondAttempts int
	EverForcedRespond    bool

	ConversationStatus ConversationStatus

	MalformedRetried     bool
	ProviderErrorRetried bool

	Messages []Message
}

func newState(messages []Message, now time.Time) *State {
	return &State{
		StartTime:           now,
		Messages:            messages,
		FailedCallCounts:    make(map[string]int),
		IdenticalCallCounts: make(map[string]int),
		ToolCallCounts:      make(map[string]int),
	}
}

// ImmediateApplier is invoked synchronously, within the same tool-call step,
// so subsequent tool calls in the loop can observe the new state.
type ImmediateApplier func(ctx context.Context, it intent.Intent) error

// Trigger describes the signal that caused this invocation plus the
// context the loop needs for thought recursion bookkeeping.
type Trigger struct {
	Signal      *signal.Signal
	RecipientID string
	Depth       int
	RootThoughtID   string
	ParentThoughtID string
}

// RunRequest bundles everything one loop invocation needs.
type RunRequest struct {
	Trigger          Trigger
	Messages         []Message
	ToolSpecs        []tools.Tool
	Registry         *tools.Registry
	Provider         Provider
	ImmediateApply   ImmediateApplier
	RecentThoughts   []RecentThought // for fuzzy dedup within the window
	Config           Config
	TraceTickID      string
}

// RecentThought is one previously-emitted thought, for cross-tick dedup.
type RecentThought struct {
	Content string
	At      time.Time
}

// Runner executes agentic loop invocations.
type Runner struct {
	log *slog.Logger
	now func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }
func WithNow(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// NewRunner constructs a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{log: slog.Default().With("component", "loop"), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func signature(name string, args json.RawMessage) string {
	h := sha256.Sum256(args)
	return name + ":" + hex.EncodeToString(h[:8])
}

// Run executes one bounded agentic-loop invocation to completion, returning
// its terminal state, the final mutable state (for metrics/tracing), and
// the ordered tool outcomes the orchestrator's intent compiler needs.
func (r *Runner) Run(ctx context.Context, req RunRequest) (Terminal, *State, []intent.ToolOutcome, error) {
	cfg := sanitizeConfig(req.Config)
	now := r.now()
	state := newState(req.Messages, now)
	var outcomes []intent.ToolOutcome

	deadline := now.Add(cfg.Timeout)

	for {
		state.Iteration++

		if abortTerminal, ok := r.checkAbortConditions(ctx, state, cfg, deadline); ok {
			return abortTerminal, state, outcomes, nil
		}

		toolsForRequest := req.ToolSpecs
		if state.ForceRespond {
			toolsForRequest = nil
		}

		resp, err := req.Provider.Complete(ctx, CompletionRequest{
			Messages: state.Messages,
			Tools:    toolSpecsToWire(toolsForRequest),
		})
		if err != nil {
			if !state.ProviderErrorRetried {
				state.ProviderErrorRetried = true
				resp, err = providerErrorRetryOnce(ctx, req.Provider, CompletionRequest{Messages: state.Messages}, 30*time.Second)
			}
			if err != nil {
				return Terminal{Kind: TerminalNoAction, NoActionReason: "provider_error"}, state, outcomes, nil
			}
		}

		if len(resp.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Content)
			if text == "" {
				return Terminal{Kind: TerminalNoAction, NoActionReason: "empty_response"}, state, outcomes, nil
			}
			parsed, malformed := parseResponse(text, cfg.AllowPlainText)
			if malformed {
				if !state.MalformedRetried {
					state.MalformedRetried = true
					state.Messages = append(state.Messages, Message{
						Role:    RoleUser,
						Content: "Your previous response was not valid JSON. Reply again using the exact required shape.",
					})
					continue
				}
				return Terminal{Kind: TerminalNoAction, NoActionReason: "malformed"}, state, outcomes, nil
			}
			return r.finalizeRespond(state, parsed), state, outcomes, nil
		}

		for _, tc := range resp.ToolCalls {
			state.TotalToolCalls++
			if state.TotalToolCalls > cfg.MaxToolCalls {
				return Terminal{Kind: TerminalNoAction, NoActionReason: "max_tool_calls"}, state, outcomes, nil
			}

			switch tc.Name {
			case tools.ToolSay:
				var args struct {
					Text string `json:"text"`
				}
				_ = json.Unmarshal(tc.Arguments, &args)
				if req.ImmediateApply != nil {
					_ = req.ImmediateApply(ctx, intent.Intent{
						Kind:   intent.KindSendMessage,
						Fields: map[string]any{"text": args.Text, "recipientId": req.Trigger.RecipientID},
					})
				}
				continue
			case tools.ToolDefer:
				var args struct {
					SignalType string  `json:"signalType"`
					Reason     string  `json:"reason"`
					Hours      float64 `json:"hours"`
				}
				_ = json.Unmarshal(tc.Arguments, &args)
				return Terminal{Kind: TerminalDefer, DeferSignalType: args.SignalType, DeferReason: args.Reason, DeferHours: args.Hours}, state, outcomes, nil
			case tools.ToolEscalate:
				var args struct {
					Reason string `json:"reason"`
				}
				_ = json.Unmarshal(tc.Arguments, &args)
				return Terminal{Kind: TerminalNoAction, NoActionReason: "escalate:" + args.Reason}, state, outcomes, nil
			case tools.ToolThought:
				if !r.acceptThought(req, state, tc.Arguments) {
					continue
				}
				continue
			}

			sig := signature(tc.Name, tc.Arguments)
			state.IdenticalCallCounts[sig]++
			if state.IdenticalCallCounts[sig] >= MaxRepeatedIdenticalCalls {
				state.ForceRespond = true
			}
			state.ToolCallCounts[tc.Name]++
			if t, ok := req.Registry.Get(tc.Name); ok && t.MaxCallsPerTurn > 0 && state.ToolCallCounts[tc.Name] > t.MaxCallsPerTurn {
				state.LimitViolationCount++
				if state.LimitViolationCount >= MaxRepeatedFailedCalls {
					state.ForceRespond = true
				}
				result := tools.Result{ToolCallID: tc.ID, ToolName: tc.Name, Success: false, Error: "per-tool call limit exceeded"}
				r.appendOutcome(&outcomes, result, false)
				continue
			}

			result := req.Registry.Execute(ctx, tools.Request{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Args:       tc.Arguments,
				ExecCtx:    tools.Context{RecipientID: req.Trigger.RecipientID, TickID: req.TraceTickID, TriggerID: req.Trigger.Signal.ID},
			})

			if !result.Success {
				state.FailedCallCounts[sig]++
				if state.FailedCallCounts[sig] >= MaxRepeatedFailedCalls {
					state.ForceRespond = true
				}
			}

			immediatelyApplied := false
			if result.Success && isImmediateApplyTool(tc.Name) && req.ImmediateApply != nil {
				dataMap, _ := toMap(result.Data)
				kind := intent.KindRemember
				if tc.Name == tools.ToolSetInterest {
					kind = intent.KindSetInterest
				}
				if err := req.ImmediateApply(ctx, intent.Intent{Kind: kind, Fields: dataMap}); err == nil {
					immediatelyApplied = true
				}
			}

			r.appendOutcome(&outcomes, result, immediatelyApplied)

			state.Messages = append(state.Messages, Message{Role: RoleTool, ToolCallID: tc.ID, Content: resultToText(result)})
		}

		if state.ForceRespond {
			state.ForceRespondAttempts++
			state.EverForcedRespond = true
			if state.ForceRespondAttempts > 2 {
				return Terminal{Kind: TerminalNoAction, NoActionReason: "force_respond_exhausted"}, state, outcomes, nil
			}
		}
	}
}

func (r *Runner) appendOutcome(outcomes *[]intent.ToolOutcome, result tools.Result, immediatelyApplied bool) {
	dataMap, _ := toMap(result.Data)
	*outcomes = append(*outcomes, intent.ToolOutcome{
		ToolCallID:         result.ToolCallID,
		ToolName:           result.ToolName,
		Success:            result.Success,
		Data:               dataMap,
		ImmediatelyApplied: immediatelyApplied,
	})
}

func isImmediateApplyTool(name string) bool {
	return name == tools.ToolRemember || name == tools.ToolSetInterest
}

func toMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func resultToText(r tools.Result) string {
	if r.Success {
		raw, _ := json.Marshal(r.Data)
		return string(raw)
	}
	return "error: " + r.Error
}

func toolSpecsToWire(ts []tools.Tool) []ToolSpec {
	out := make([]ToolSpec, 0, len(ts))
	for _, t := range ts {
		out = append(out, ToolSpec{Name: t.Name, Description: t.Description, Parameters: json.RawMessage(t.ParameterSchema)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// checkAbortConditions evaluates iteration cap, timeout, and external abort
// before issuing another completion. Tool-call cap is checked per-call.
func (r *Runner) checkAbortConditions(ctx context.Context, state *State, cfg Config, deadline time.Time) (Terminal, bool) {
	if ctx.Err() != nil {
		return Terminal{Kind: TerminalNoAction, NoActionReason: "superseded"}, true
	}
	if state.Iteration > cfg.MaxIterations {
		return Terminal{Kind: TerminalNoAction, NoActionReason: "max_iterations"}, true
	}
	if r.now().After(deadline) {
		return Terminal{Kind: TerminalNoAction, NoActionReason: "timeout"}, true
	}
	return Terminal{}, false
}

// acceptThought validates depth and dedups against recent thoughts before
// collecting a core.thought call's content.
func (r *Runner) acceptThought(req RunRequest, state *State, args json.RawMessage) bool {
	var parsed struct {
		Content string `json:"content"`
		Depth   int    `json:"depth"`
	}
	_ = json.Unmarshal(args, &parsed)

	expectedDepth := req.Trigger.Depth + 1
	if req.Trigger.Signal == nil || req.Trigger.Signal.Type != signal.TypeThought {
		expectedDepth = 1
	}
	if expectedDepth > ThoughtMaxDepth {
		return false
	}

	now := r.now()
	for _, rt := range req.RecentThoughts {
		if now.Sub(rt.At) > ThoughtDedupeWindow {
			continue
		}
		if fuzzyEqual(rt.Content, parsed.Content) {
			return false
		}
	}

	state.CollectedThoughts = append(state.CollectedThoughts, parsed.Content)
	return true
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func fuzzyEqual(a, b string) bool {
	normalize := func(s string) string {
		return strings.ToLower(strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " ")))
	}
	return normalize(a) == normalize(b)
}

type parsedResponse struct {
	Response string
	Status   string
	Urgent   bool
}

var (
	fencedBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	timePrefixRE  = regexp.MustCompile(`^\[\d{1,2}:\d{2}\]\s*`)
	msgTimeRE     = regexp.MustCompile(`(?s)<msg_time>.*?</msg_time>\s*`)
)

// parseResponse implements §4.6's response-parsing tolerance rules: fenced
// code blocks, leading timestamp prefixes, <msg_time> framing. Returns
// malformed=true for anything that isn't the expected JSON shape, unless
// allowPlainText permits bare text.
func parseResponse(text string, allowPlainText bool) (parsedResponse, bool) {
	cleaned := text
	if m := fencedBlockRE.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = timePrefixRE.ReplaceAllString(cleaned, "")
	cleaned = msgTimeRE.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		if allowPlainText {
			return parsedResponse{Response: cleaned, Status: string(StatusActive)}, false
		}
		return parsedResponse{}, true
	}
	respVal, ok := raw["response"]
	if !ok {
		if allowPlainText {
			return parsedResponse{Response: cleaned, Status: string(StatusActive)}, false
		}
		return parsedResponse{}, true
	}
	respStr, ok := respVal.(string)
	if !ok {
		return parsedResponse{}, true
	}
	out := parsedResponse{Response: respStr, Status: string(StatusActive)}
	if s, ok := raw["status"].(string); ok && s != "" {
		out.Status = s
	}
	if u, ok := raw["urgent"].(bool); ok {
		out.Urgent = u
	}
	return out, false
}

// finalizeRespond applies the confidence contract: base 0.8, -0.2 if ever
// forced to respond, -0.1 if iteration > 3, clamped to [0.1, 1.0].
func (r *Runner) finalizeRespond(state *State, parsed parsedResponse) Terminal {
	status := ConversationStatus(parsed.Status)
	switch status {
	case StatusActive, StatusAwaitingAnswer, StatusClosed, StatusIdle:
	default:
		status = StatusActive
	}

	confidence := 0.8
	if state.EverForcedRespond {
		confidence -= 0.2
	}
	if state.Iteration > 3 {
		confidence -= 0.1
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return Terminal{
		Kind:               TerminalRespond,
		RespondText:        parsed.Response,
		ConversationStatus: status,
		Confidence:         confidence,
	}
}

