package container

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shady2k/lifemodel/internal/tools"
)

// SkillTool describes one policy-bounded unit of work a tool call may run
// inside a sandboxed container, per the container manager's contract:
// "a named, policy-bounded unit of work executed inside a sandboxed
// container."
type SkillTool struct {
	Name           string
	Description    string
	Command        string
	WorkspaceDir   string
	AllowedDomains []string
	TimeoutMs      int
}

// skillArgs is the JSON shape a skill-bound tool call accepts: free-form
// environment overrides layered on top of the skill's fixed command.
type skillArgs struct {
	Env map[string]string `json:"env,omitempty"`
}

// RegisterSkillTool wires one skill into registry as a tools.Tool whose
// Executor creates a fresh sandboxed container per call, runs the skill's
// command, copies the workspace back out, and always destroys the
// container afterward — a call never leaks a container or volume even if
// execution fails, matching invariant 11 (destroy is idempotent and every
// handle is destroyed exactly once).
func RegisterSkillTool(registry *tools.Registry, mgr *Manager, skill SkillTool) error {
	timeout := skill.TimeoutMs
	if timeout <= 0 {
		timeout = 30000
	}

	executor := func(ctx context.Context, raw json.RawMessage, execCtx tools.Context) (any, error) {
		var args skillArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("container: invalid skill arguments: %w", err)
			}
		}

		h, err := mgr.Create(ctx, CreateOptions{
			WorkspaceDir:   skill.WorkspaceDir,
			AllowedDomains: skill.AllowedDomains,
		})
		if err != nil {
			return nil, fmt.Errorf("container: create sandbox for skill %q: %w", skill.Name, err)
		}
		defer func() { _ = mgr.Destroy(context.Background(), h) }()

		resp, err := h.Execute(ctx, skill.Command, args.Env, timeout)
		if err != nil {
			return nil, fmt.Errorf("container: run skill %q: %w", skill.Name, err)
		}

		var workspaceOut string
		if skill.WorkspaceDir != "" {
			if err := mgr.CopyWorkspaceOut(ctx, h, skill.WorkspaceDir); err != nil {
				workspaceOut = "copy-out failed: " + err.Error()
			} else {
				workspaceOut = skill.WorkspaceDir
			}
		}

		return map[string]any{
			"success":   resp.Success,
			"stdout":    resp.Stdout,
			"stderr":    resp.Stderr,
			"exitCode":  resp.ExitCode,
			"timedOut":  resp.Timeout,
			"workspace": workspaceOut,
		}, nil
	}

	return registry.Register(tools.Tool{
		Name:           skill.Name,
		Description:    skill.Description,
		CapabilityTags: []string{"sandboxed", "skill"},
		HasSideEffects: true,
		Executor:       executor,
	})
}
