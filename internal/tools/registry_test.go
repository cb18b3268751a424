package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestExecuteUnknownToolReturnsFailureNotError(t *testing.T) {
	r := New()
	result := r.Execute(context.Background(), Request{ToolCallID: "1", ToolName: "nope"})
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.Error == "" {
		t.Fatal("expected diagnostic message")
	}
}

func TestExecuteValidatesSchema(t *testing.T) {
	r := New()
	_ = r.Register(Tool{
		Name:            "core.echo",
		Description:     "Echoes back a string.",
		ParameterSchema: `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
			return "ok", nil
		},
	})

	bad := r.Execute(context.Background(), Request{ToolName: "core.echo", Args: json.RawMessage(`{}`)})
	if bad.Success {
		t.Fatal("expected schema validation failure")
	}

	good := r.Execute(context.Background(), Request{ToolName: "core.echo", Args: json.RawMessage(`{"text":"hi"}`)})
	if !good.Success {
		t.Fatalf("expected success, got error: %s", good.Error)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := New()
	_ = r.Register(Tool{
		Name: "core.boom",
		Executor: func(ctx context.Context, args json.RawMessage, execCtx Context) (any, error) {
			panic("kaboom")
		},
	})
	result := r.Execute(context.Background(), Request{ToolName: "core.boom"})
	if result.Success {
		t.Fatal("expected panic to produce a failure result")
	}
}

func TestCardsExcludeMetaToolAndSortAlphabetically(t *testing.T) {
	r := New()
	_ = r.Register(Tool{Name: "core.zeta", Description: "Zeta tool. Does things."})
	_ = r.Register(Tool{Name: "core.alpha", Description: "Alpha tool."})
	_ = r.Register(Tool{Name: ToolMeta, Description: "Meta tool."})

	cards := r.Cards(ToolMeta)
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards excluding meta, got %d", len(cards))
	}
	if cards[0].Name != "core.alpha" || cards[1].Name != "core.zeta" {
		t.Fatalf("expected alphabetical order, got %+v", cards)
	}
	if cards[0].Description != "Alpha tool." {
		t.Fatalf("expected first-sentence description, got %q", cards[0].Description)
	}
}

func TestLazyListingAndMetaTool(t *testing.T) {
	r := New()
	_ = r.Register(Tool{
		Name:            ToolMeta,
		ParameterSchema: `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
	})
	_ = r.Register(Tool{Name: "core.alpha", Description: "desc", ParameterSchema: `{"type":"object"}`})

	if err := r.WireMetaTool(); err != nil {
		t.Fatalf("wire meta tool: %v", err)
	}

	metaSchema, stubs := r.LazyListing()
	if metaSchema == "" {
		t.Fatal("expected non-empty meta schema")
	}
	if len(stubs) != 1 || stubs[0].Name != "core.alpha" {
		t.Fatalf("expected single stub for core.alpha, got %+v", stubs)
	}

	args, _ := json.Marshal(map[string]string{"name": "core.alpha"})
	result := r.Execute(context.Background(), Request{ToolName: ToolMeta, Args: args})
	if !result.Success {
		t.Fatalf("expected meta tool call to succeed: %s", result.Error)
	}
}

func TestFieldPolicyDefaults(t *testing.T) {
	p := DefaultFieldPolicy()
	if err := p.Check("user", "name", 0.95, SourceUserExplicit, nil); err != nil {
		t.Fatalf("expected high-confidence explicit user fact to pass: %v", err)
	}
	if err := p.Check("user", "name", 0.5, SourceUserExplicit, nil); err == nil {
		t.Fatal("expected low confidence to fail user default policy")
	}
	if err := p.Check("user", "name", 0.9, SourceInferred, nil); err == nil {
		t.Fatal("expected inferred source to fail user default policy")
	}
	if err := p.Check("world", "weather", 0.55, SourceInferred, nil); err != nil {
		t.Fatalf("expected non-user default (0.5 min, any source) to pass: %v", err)
	}
}
