package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shady2k/lifemodel/internal/agent/providers"
	"github.com/shady2k/lifemodel/internal/agentbridge"
	"github.com/shady2k/lifemodel/internal/aggregate"
	"github.com/shady2k/lifemodel/internal/container"
	"github.com/shady2k/lifemodel/internal/conversation"
	"github.com/shady2k/lifemodel/internal/energy"
	"github.com/shady2k/lifemodel/internal/loop"
	"github.com/shady2k/lifemodel/internal/memory"
	"github.com/shady2k/lifemodel/internal/observability"
	"github.com/shady2k/lifemodel/internal/orchestrator"
	"github.com/shady2k/lifemodel/internal/pattern"
	"github.com/shady2k/lifemodel/internal/runtimeconfig"
	"github.com/shady2k/lifemodel/internal/scheduler"
	"github.com/shady2k/lifemodel/internal/tools"
	"github.com/shady2k/lifemodel/internal/wake"
)

// runtime bundles the constructed collaborators a CLI command needs,
// alongside the orchestrator itself. Commands that only need one piece
// (e.g. "schedule list" only needs Scheduler) read the field they want and
// ignore the rest.
type runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Energy       *energy.Model
	closers      []func() error
}

func (r *runtime) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildRuntime wires every C1-C13 collaborator from cfg, following the
// teacher's cmd/nexus pattern of building each subsystem then handing them
// to a single coordinating struct (here, orchestrator.Orchestrator instead
// of gateway.ManagedServer).
func buildRuntime(cfg *runtimeconfig.Config) (*runtime, error) {
	rt := &runtime{}

	schedStore, closeSched, err := openScheduleStore(cfg.Database.SchedulePath)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeSched)

	sched := scheduler.New(scheduler.WithStore(schedStore))
	rt.Scheduler = sched

	em := energy.New(energy.WithConfig(cfg.Energy))
	rt.Energy = em

	acks := pattern.NewAckRegistry(0.2)
	wakeEngine := wake.New(cfg.Wake, em, acks)
	patterns := pattern.NewRegistry(acks)
	agg := aggregate.New()

	memStore, closeMem, err := openMemoryStore(cfg.Database.MemoryPath)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeMem)
	memProvider := memory.NewProvider(memStore)

	vectorMemory, err := memory.NewManager(&cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("lifemodel-core: vector memory: %w", err)
	}

	registry := tools.New()
	if err := registerBuiltinTools(registry, sched, em, memProvider); err != nil {
		return nil, err
	}
	containerMgr := container.NewManager(cfg.Container)
	for _, s := range cfg.Skills {
		err := container.RegisterSkillTool(registry, containerMgr, container.SkillTool{
			Name:           s.Name,
			Description:    s.Description,
			Command:        s.Command,
			WorkspaceDir:   s.WorkspaceDir,
			AllowedDomains: s.AllowedDomains,
			TimeoutMs:      s.TimeoutMs,
		})
		if err != nil {
			return nil, fmt.Errorf("lifemodel-core: register skill %q: %w", s.Name, err)
		}
	}

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{})
	rt.closers = append(rt.closers, func() error { return shutdownTracer(context.Background()) })

	orch := orchestrator.New(orchestrator.Orchestrator{
		Energy:        em,
		Scheduler:     sched,
		Aggregator:    agg,
		Wake:          wakeEngine,
		Patterns:      patterns,
		Loop:          loop.NewRunner(),
		Tools:         registry,
		Provider:      provider,
		Conversations: conversation.NewManager(conversation.NewMemoryStore()),
		Memory:        vectorMemory,
		Tracer:        tracer,
		Metrics:       observability.NewMetrics(),
		LoopConfig:    cfg.Loop,
		Log:           slog.Default().With("component", "orchestrator"),
	})
	rt.Orchestrator = orch

	return rt, nil
}

func openScheduleStore(path string) (scheduler.Store, func() error, error) {
	if path == "" {
		return scheduler.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := scheduler.OpenSQLiteStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("lifemodel-core: open schedule store: %w", err)
	}
	return store, store.Close, nil
}

func openMemoryStore(path string) (memory.Store, func() error, error) {
	if path == "" {
		return memory.NewMemoryStore(), func() error { return nil }, nil
	}
	store, err := memory.OpenSQLiteStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("lifemodel-core: open memory store: %w", err)
	}
	return store, store.Close, nil
}

func registerBuiltinTools(registry *tools.Registry, sched *scheduler.Scheduler, em *energy.Model, memProvider *memory.Provider) error {
	builtins := tools.BuildBuiltins(tools.Dependencies{
		Memory:      memProvider,
		AgentState:  agentStateAdapter{energy: em},
		UserModel:   userModelAdapter{},
		Scheduler:   schedulerAdapter{sched: sched},
		FieldPolicy: tools.DefaultFieldPolicy(),
		Now:         time.Now,
	})
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("lifemodel-core: register builtin tool %q: %w", t.Name, err)
		}
	}
	return nil
}

// buildProvider constructs the configured LLM provider. A missing API key is
// not fatal here: read-only commands (status, schedule) build the full
// runtime without ever calling Complete, so they fall back to a stub that
// only errors if something actually tries to run the agentic loop.
func buildProvider(cfg runtimeconfig.LLMConfig) (loop.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			slog.Warn("no anthropic api key configured; the agentic loop will fail if woken")
			return unconfiguredProvider{provider: cfg.Provider}, nil
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("lifemodel-core: anthropic provider: %w", err)
		}
		return agentbridge.New(p, cfg.DefaultModel), nil
	case "openai":
		if cfg.APIKey == "" {
			slog.Warn("no openai api key configured; the agentic loop will fail if woken")
			return unconfiguredProvider{provider: cfg.Provider}, nil
		}
		return agentbridge.New(providers.NewOpenAIProvider(cfg.APIKey), cfg.DefaultModel), nil
	default:
		return nil, fmt.Errorf("lifemodel-core: unsupported llm provider %q", cfg.Provider)
	}
}

// unconfiguredProvider satisfies loop.Provider so the runtime can be built
// for read-only commands without credentials; it only fails when actually
// invoked.
type unconfiguredProvider struct {
	provider string
}

func (u unconfiguredProvider) Complete(ctx context.Context, req loop.CompletionRequest) (*loop.CompletionResponse, error) {
	return nil, fmt.Errorf("lifemodel-core: %s provider has no api key configured", u.provider)
}
