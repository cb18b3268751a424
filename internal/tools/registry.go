// Package tools implements the declarative tool registry: named, schema-
// validated capabilities the agentic loop can invoke.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxNameLength bounds tool names, mirroring the teacher's registry guard.
const MaxNameLength = 256

// MaxParamsSize bounds the serialized size of a tool call's arguments.
const MaxParamsSize = 10 << 20

// Executor runs a tool's body given validated arguments.
type Executor func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error)

// Context carries per-call context an executor may need: the recipient, the
// triggering signal id, and anything else the loop threads through.
type Context struct {
	RecipientID string
	TickID      string
	TriggerID   string
}

// Tool is the static descriptor for one registered capability.
type Tool struct {
	Name            string
	Description     string
	ParameterSchema string // JSON schema text; "" means no-arg tool
	CapabilityTags  []string
	HasSideEffects  bool
	MaxCallsPerTurn int

	Executor Executor

	compiled *jsonschema.Schema
}

// Request is one invocation attempt.
type Request struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	ExecCtx    Context
}

// Result is always returned, never an error, so the loop can treat every
// outcome uniformly.
type Result struct {
	ToolCallID string
	ToolName   string
	ResultID   string
	Success    bool
	Data       any
	Error      string
}

// Registry is a keyed collection of Tool descriptors.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's parameter schema (if any) and adds it to the
// registry. Returns an error if the name is invalid or the schema fails to
// compile.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || len(t.Name) > MaxNameLength {
		return fmt.Errorf("tools: invalid tool name %q", t.Name)
	}
	if t.ParameterSchema != "" {
		compiled, err := jsonschema.CompileString(t.Name, t.ParameterSchema)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", t.Name, err)
		}
		t.compiled = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := t
	r.tools[t.Name] = &cp
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool descriptor by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns a snapshot of every registered tool, sorted by name, for
// callers that need to hand the full tool set to a completion request.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute looks up the named tool, validates args against its schema, and
// invokes its executor. Unknown tools, validation failures, and executor
// panics/errors all become non-success Results; Execute never throws to the
// caller.
func (r *Registry) Execute(ctx context.Context, req Request) (result Result) {
	result = Result{ToolCallID: req.ToolCallID, ToolName: req.ToolName, ResultID: uuid.NewString()}

	defer func() {
		if rec := recover(); rec != nil {
			result.Success = false
			result.Error = fmt.Sprintf("tool panicked: %v", rec)
		}
	}()

	if len(req.Args) > MaxParamsSize {
		result.Error = "tool arguments exceed maximum size"
		return result
	}

	t, ok := r.Get(req.ToolName)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", req.ToolName)
		return result
	}

	if t.compiled != nil {
		var decoded any
		args := req.Args
		if len(args) == 0 {
			args = []byte("{}")
		}
		if err := json.Unmarshal(args, &decoded); err != nil {
			result.Error = fmt.Sprintf("invalid arguments: %v", err)
			return result
		}
		if err := t.compiled.Validate(decoded); err != nil {
			result.Error = fmt.Sprintf("arguments failed validation: %v", err)
			return result
		}
	}

	if t.Executor == nil {
		result.Error = fmt.Sprintf("tool %q has no executor wired", req.ToolName)
		return result
	}
	data, err := t.Executor(ctx, req.Args, req.ExecCtx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Data = data
	return result
}

// Card is the compact listing entry used for non-lazy schema export.
type Card struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

func firstSentence(s string) string {
	if idx := strings.IndexAny(s, ".!?"); idx >= 0 {
		return strings.TrimSpace(s[:idx+1])
	}
	return s
}

// Cards returns an alphabetically sorted compact listing (name + first-
// sentence description + tags), excluding the meta-tool itself.
func (r *Registry) Cards(metaToolName string) []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cards := make([]Card, 0, len(r.tools))
	for name, t := range r.tools {
		if name == metaToolName {
			continue
		}
		cards = append(cards, Card{Name: name, Description: firstSentence(t.Description), Tags: t.CapabilityTags})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}

// FullSchema returns the JSON schema text for a single tool.
func (r *Registry) FullSchema(name string) (string, bool) {
	t, ok := r.Get(name)
	if !ok {
		return "", false
	}
	return t.ParameterSchema, true
}

// Stub is the minimal (name + description) listing exposed for every
// non-meta tool in lazy-schema mode.
type Stub struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Stubs returns the minimal listing used in lazy-schema mode: the LLM must
// call the meta-tool to retrieve any other tool's parameters.
func (r *Registry) Stubs(metaToolName string) []Stub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stubs := make([]Stub, 0, len(r.tools))
	for name, t := range r.tools {
		if name == metaToolName {
			continue
		}
		stubs = append(stubs, Stub{Name: name, Description: t.Description})
	}
	sort.Slice(stubs, func(i, j int) bool { return stubs[i].Name < stubs[j].Name })
	return stubs
}
