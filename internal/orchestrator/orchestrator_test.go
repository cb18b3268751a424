package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shady2k/lifemodel/internal/aggregate"
	"github.com/shady2k/lifemodel/internal/conversation"
	"github.com/shady2k/lifemodel/internal/energy"
	"github.com/shady2k/lifemodel/internal/intent"
	"github.com/shady2k/lifemodel/internal/loop"
	"github.com/shady2k/lifemodel/internal/observability"
	"github.com/shady2k/lifemodel/internal/pattern"
	"github.com/shady2k/lifemodel/internal/scheduler"
	"github.com/shady2k/lifemodel/internal/signal"
	"github.com/shady2k/lifemodel/internal/tools"
	"github.com/shady2k/lifemodel/internal/wake"
)

func newTestOrchestrator(t *testing.T, provider loop.Provider) *Orchestrator {
	t.Helper()
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{})
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	acks := pattern.NewAckRegistry(0.2)
	em := energy.New(energy.WithInitial(1))
	w := wake.New(wake.DefaultConfig(), em, acks)

	return New(Orchestrator{
		Energy:        em,
		Scheduler:     scheduler.New(),
		Aggregator:    aggregate.New(),
		Wake:          w,
		Patterns:      pattern.NewRegistry(acks),
		Loop:          loop.NewRunner(),
		Tools:         tools.New(),
		Provider:      provider,
		Conversations: conversation.NewManager(conversation.NewMemoryStore()),
		Tracer:        tracer,
		Metrics:       observability.NewMetrics(),
		Now:           func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) },
	})
}

func TestTickStaysAsleepWithoutTrigger(t *testing.T) {
	o := newTestOrchestrator(t, loop.ProviderFunc(func(ctx context.Context, req loop.CompletionRequest) (*loop.CompletionResponse, error) {
		t.Fatal("provider should not be called when the engine does not wake")
		return nil, nil
	}))

	result := o.Tick(context.Background(), "user-1", nil)
	if result.Woke {
		t.Fatalf("expected no wake, got %+v", result)
	}
}

func TestTickWakesOnUserMessageAndSendsReply(t *testing.T) {
	o := newTestOrchestrator(t, loop.ProviderFunc(func(ctx context.Context, req loop.CompletionRequest) (*loop.CompletionResponse, error) {
		return &loop.CompletionResponse{
			Content:      "```json\n{\"response\":\"hi there\",\"status\":\"active\"}\n```",
			FinishReason: loop.FinishStop,
		}, nil
	}))

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	msg := signal.New(signal.TypeUserMessage, "channel:telegram", signal.Metrics{Value: 1}, now)
	msg.Priority = signal.PriorityHigh

	result := o.Tick(context.Background(), "user-1", []*signal.Signal{msg})
	if !result.Woke {
		t.Fatalf("expected wake on high-priority user message, got %+v", result)
	}
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	history, err := o.Conversations.History(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	found := false
	for _, m := range history {
		if m.Content == "hi there" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reply to be appended to conversation history, got %+v", history)
	}
}

func TestApplyIntentScheduleEventPersistsSchedule(t *testing.T) {
	o := newTestOrchestrator(t, loop.ProviderFunc(func(ctx context.Context, req loop.CompletionRequest) (*loop.CompletionResponse, error) {
		return nil, nil
	}))

	it := intent.Intent{
		Kind: intent.KindScheduleEvent,
		Fields: map[string]any{
			"fireAt": o.Now().Add(time.Hour).Format(time.RFC3339),
		},
	}
	o.applyIntent(context.Background(), "user-1", it)

	entries := o.Scheduler.List("user-1")
	if len(entries) != 1 {
		t.Fatalf("expected one persisted schedule, got %d", len(entries))
	}
}

func TestApplyIntentDeferSignalReplaysNextTick(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	it := intent.Intent{
		Kind: intent.KindDeferSignal,
		Fields: map[string]any{
			"signalType": string(signal.TypeContactUrge),
			"reason":     "waiting for a better moment",
			"deferMs":    float64(2 * time.Hour / time.Millisecond),
		},
	}

	o.applyIntent(context.Background(), "user-1", it)

	o.mu.Lock()
	deferred := o.deferred["user-1"]
	o.mu.Unlock()
	if len(deferred) != 1 {
		t.Fatalf("expected one deferred signal queued for replay, got %d", len(deferred))
	}
}
