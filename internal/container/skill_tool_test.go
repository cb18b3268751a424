package container

import (
	"testing"

	"github.com/shady2k/lifemodel/internal/tools"
)

func TestRegisterSkillToolRegistersUnderSkillName(t *testing.T) {
	mgr := NewManager(DefaultConfig())
	registry := tools.New()

	err := RegisterSkillTool(registry, mgr, SkillTool{
		Name:        "skill.echo",
		Description: "echoes input",
		Command:     "echo hello",
	})
	if err != nil {
		t.Fatalf("register skill tool: %v", err)
	}

	tool, ok := registry.Get("skill.echo")
	if !ok {
		t.Fatal("expected skill.echo to be registered")
	}
	if !tool.HasSideEffects {
		t.Fatal("expected a sandboxed skill tool to be marked as side-effecting")
	}
	if tool.Executor == nil {
		t.Fatal("expected skill tool to carry an executor")
	}
}

func TestRegisterSkillToolRejectsInvalidName(t *testing.T) {
	mgr := NewManager(DefaultConfig())
	registry := tools.New()

	err := RegisterSkillTool(registry, mgr, SkillTool{Name: "", Command: "echo hi"})
	if err == nil {
		t.Fatal("expected registration to fail for an empty tool name")
	}
}
