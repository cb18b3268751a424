// Package orchestrator implements the core loop (C13): the tick that
// collects due schedules and external signals, aggregates and
// pattern-matches them, asks the wake engine whether to run the agentic
// loop, and — if woken — compiles the loop's terminal and tool outcomes
// into intents and applies them.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shady2k/lifemodel/internal/aggregate"
	"github.com/shady2k/lifemodel/internal/conversation"
	"github.com/shady2k/lifemodel/internal/energy"
	"github.com/shady2k/lifemodel/internal/intent"
	"github.com/shady2k/lifemodel/internal/loop"
	"github.com/shady2k/lifemodel/internal/memory"
	"github.com/shady2k/lifemodel/internal/observability"
	"github.com/shady2k/lifemodel/internal/pattern"
	"github.com/shady2k/lifemodel/internal/scheduler"
	"github.com/shady2k/lifemodel/internal/signal"
	"github.com/shady2k/lifemodel/internal/tools"
	"github.com/shady2k/lifemodel/internal/wake"
	"github.com/shady2k/lifemodel/pkg/models"
)

// activityWindow bounds how much RecordActivity history SilenceDetector-style
// detectors get to look at; older points are dropped on every tick.
const activityWindow = 48 * time.Hour

// recentThoughtWindow bounds how many previously emitted thoughts the loop
// keeps around for its own fuzzy cross-tick dedup.
const recentThoughtWindow = 20

// Orchestrator wires every pipeline component (C1-C12) into one tick.
type Orchestrator struct {
	Energy        *energy.Model
	Scheduler     *scheduler.Scheduler
	Aggregator    *aggregate.Aggregator
	Wake          *wake.Engine
	Patterns      *pattern.Registry
	Loop          *loop.Runner
	Tools         *tools.Registry
	Provider      loop.Provider
	Conversations *conversation.Manager
	Memory        *memory.Manager // optional; REMEMBER intents are dropped when nil
	Tracer        *observability.Tracer
	Metrics       *observability.Metrics
	Log           *slog.Logger

	LoopConfig loop.Config
	Now        func() time.Time

	mu       sync.Mutex
	activity []pattern.ActivityPoint
	thoughts map[string][]loop.RecentThought // keyed by recipient
	deferred map[string][]*signal.Signal     // keyed by recipient, replayed next tick
}

// New constructs an Orchestrator.
func New(o Orchestrator) *Orchestrator {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = slog.Default().With("component", "orchestrator")
	}
	o.thoughts = make(map[string][]loop.RecentThought)
	o.deferred = make(map[string][]*signal.Signal)
	return &o
}

// TickResult summarizes one tick for callers (CLI status, tests).
type TickResult struct {
	Woke          bool
	WakeReason    string
	IntentsCount  int
	SchedulesFired int
	Err           error
}

// Tick runs one full cycle of the core loop for a single recipient.
func (o *Orchestrator) Tick(ctx context.Context, recipientID string, incoming []*signal.Signal) TickResult {
	start := o.Now()
	ctx, span := o.Tracer.Start(ctx, "orchestrator.tick")
	defer span.End()

	tickSignals, firedCount := o.collectSignals(recipientID, incoming, start)

	o.Aggregator.AddAll(tickSignals)
	buckets := o.Aggregator.GetAllAggregates()
	o.Aggregator.Prune(start)

	decision := o.Wake.Decide(tickSignals, buckets)
	if o.Metrics != nil {
		o.Metrics.RecordWakeDecision(decision.Reason, decision.ShouldWake)
	}
	o.Tracer.SetAttributes(span, "wake.reason", decision.Reason, "wake.should_wake", decision.ShouldWake)

	result := TickResult{Woke: decision.ShouldWake, WakeReason: decision.Reason, SchedulesFired: firedCount}

	if !decision.ShouldWake {
		o.Energy.TickRecharge()
		if o.Metrics != nil {
			o.Metrics.RecordTick(false, o.Now().Sub(start).Seconds())
		}
		return result
	}

	o.Energy.Drain(energy.DrainTick)

	intents, err := o.runLoop(ctx, recipientID, decision, start)
	result.IntentsCount = len(intents)
	result.Err = err

	o.Energy.TickRecharge()
	if o.Metrics != nil {
		o.Metrics.RecordTick(true, o.Now().Sub(start).Seconds())
	}
	return result
}

// collectSignals folds due schedules, any signals deferred from a previous
// tick, and freshly-observed pattern matches into the set the wake engine
// evaluates this tick. Fired schedules are marked as such via MarkFired,
// which is idempotent so a crash between firing and marking never double
// delivers.
func (o *Orchestrator) collectSignals(recipientID string, incoming []*signal.Signal, now time.Time) ([]*signal.Signal, int) {
	tickSignals := append([]*signal.Signal{}, incoming...)

	o.mu.Lock()
	if deferred := o.deferred[recipientID]; len(deferred) > 0 {
		tickSignals = append(tickSignals, deferred...)
		delete(o.deferred, recipientID)
	}
	o.mu.Unlock()

	fired := 0
	for _, due := range o.Scheduler.CheckDueSchedules(now) {
		if due.Entry.OwnerID != "" && due.Entry.OwnerID != recipientID {
			continue
		}
		s := signal.New(signal.TypeContactUrge, "scheduler:"+due.Entry.ID, signal.Metrics{Value: 1}, now)
		s.Data = &signal.Data{Kind: "schedule_fired", Fields: map[string]any{
			"scheduleId": due.Entry.ID,
			"fireId":     due.FireID,
			"data":       due.Entry.Data,
		}}
		tickSignals = append(tickSignals, s)
		if err := o.Scheduler.MarkFired(due.Entry.ID, due.FireID, now); err != nil {
			o.Log.Warn("mark schedule fired failed", "scheduleId", due.Entry.ID, "error", err)
		}
		fired++
	}

	userMessages := 0
	for _, s := range incoming {
		if s.Type == signal.TypeUserMessage {
			userMessages++
		}
	}
	o.mu.Lock()
	o.activity = append(o.activity, pattern.ActivityPoint{At: now, UserMessages: userMessages})
	cutoff := now.Add(-activityWindow)
	trimmed := o.activity[:0]
	for _, a := range o.activity {
		if a.At.After(cutoff) {
			trimmed = append(trimmed, a)
		}
	}
	o.activity = trimmed
	activitySnapshot := append([]pattern.ActivityPoint{}, o.activity...)
	o.mu.Unlock()

	for _, m := range o.Patterns.Detect(now, activitySnapshot) {
		tickSignals = append(tickSignals, m.ToSignal("pattern", now))
	}

	return tickSignals, fired
}

// runLoop invokes the agentic loop, compiles its terminal and tool outcomes
// into intents, and applies every intent with log-and-continue fault
// isolation: one bad intent never aborts the rest of the tick.
func (o *Orchestrator) runLoop(ctx context.Context, recipientID string, decision wake.Decision, now time.Time) ([]intent.Intent, error) {
	tickID := uuid.NewString()
	ctx, span := o.Tracer.Start(ctx, "orchestrator.run_loop")
	defer span.End()

	history, err := o.Conversations.History(ctx, recipientID, 0)
	if err != nil {
		o.Tracer.RecordError(span, err)
		return nil, fmt.Errorf("orchestrator: load history: %w", err)
	}

	messages := make([]loop.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, loop.Message{Role: m.Role, Content: m.Content})
	}

	var trigger loop.Trigger
	trigger.RecipientID = recipientID
	if len(decision.TriggerSignals) > 0 {
		trigger.Signal = decision.TriggerSignals[0]
	}

	o.mu.Lock()
	recent := append([]loop.RecentThought{}, o.thoughts[recipientID]...)
	o.mu.Unlock()

	req := loop.RunRequest{
		Trigger:        trigger,
		Messages:       messages,
		ToolSpecs:      o.Tools.All(),
		Registry:       o.Tools,
		Provider:       o.Provider,
		ImmediateApply: o.immediateApply(recipientID, tickID),
		RecentThoughts: recent,
		Config:         o.LoopConfig,
		TraceTickID:    tickID,
	}

	terminal, state, outcomes, err := o.Loop.Run(ctx, req)
	if err != nil {
		o.Tracer.RecordError(span, err)
		o.Log.Error("loop run failed", "recipientId", recipientID, "error", err)
		return nil, err
	}

	compiled := intent.Compile(intent.CompileInput{
		Terminal: intent.TerminalInput{
			Kind:               intent.TerminalKind(terminal.Kind),
			RespondText:        terminal.RespondText,
			ConversationStatus: string(terminal.ConversationStatus),
			Confidence:         terminal.Confidence,
			RecipientID:        recipientID,
			DeferSignalType:    terminal.DeferSignalType,
			DeferReason:        terminal.DeferReason,
			DeferHours:         terminal.DeferHours,
		},
		CollectedThoughts: state.CollectedThoughts,
		ToolOutcomes:      outcomes,
		Trace:             intent.Trace{TickID: tickID, ParentSignalID: signalID(trigger.Signal)},
	})

	if len(state.CollectedThoughts) > 0 {
		o.mu.Lock()
		joined := loop.RecentThought{Content: joinThoughts(state.CollectedThoughts), At: now}
		o.thoughts[recipientID] = append(o.thoughts[recipientID], joined)
		if len(o.thoughts[recipientID]) > recentThoughtWindow {
			o.thoughts[recipientID] = o.thoughts[recipientID][len(o.thoughts[recipientID])-recentThoughtWindow:]
		}
		o.mu.Unlock()
	}

	for _, it := range compiled {
		o.applyIntent(ctx, recipientID, it)
	}

	return compiled, nil
}

// immediateApply lets the loop apply side-effecting intents (REMEMBER,
// SET_INTEREST) as soon as the originating tool call returns, rather than
// waiting for the full terminal.
func (o *Orchestrator) immediateApply(recipientID, tickID string) loop.ImmediateApplier {
	return func(ctx context.Context, it intent.Intent) error {
		it.Trace.TickID = tickID
		o.applyIntent(ctx, recipientID, it)
		return nil
	}
}

// applyIntent dispatches one compiled intent to its effect. Every branch is
// isolated: a failure here is logged and counted, never propagated, so one
// bad intent cannot abort the rest of the tick.
func (o *Orchestrator) applyIntent(ctx context.Context, recipientID string, it intent.Intent) {
	status := "applied"
	var err error

	switch it.Kind {
	case intent.KindEmitThought:
		content, _ := it.Fields["content"].(string)
		err = o.Conversations.Append(ctx, recipientID, conversation.Message{
			ID: uuid.NewString(), Role: loop.RoleAssistant, Content: content, CreatedAt: o.Now(),
			Metadata: map[string]any{"intent": "thought"},
		})

	case intent.KindSendMessage:
		text, _ := it.Fields["text"].(string)
		err = o.Conversations.Append(ctx, recipientID, conversation.Message{
			ID: uuid.NewString(), Role: loop.RoleAssistant, Content: text, CreatedAt: o.Now(),
		})

	case intent.KindScheduleEvent:
		_, err = o.Scheduler.Schedule(scheduleOptionsFromFields(recipientID, it.Fields))

	case intent.KindRemember:
		if o.Memory == nil {
			o.Log.Debug("remember intent dropped: no memory manager configured")
			break
		}
		err = o.Memory.Index(ctx, []*models.MemoryEntry{memoryEntryFromFields(recipientID, it.Fields, o.Now())})

	case intent.KindDeferSignal:
		signalType, _ := it.Fields["signalType"].(string)
		reason, _ := it.Fields["reason"].(string)
		deferMs, _ := it.Fields["deferMs"].(float64)
		s := signal.New(signal.Type(signalType), "defer:"+recipientID, signal.Metrics{Value: 1}, o.Now())
		s.Data = &signal.Data{Kind: "deferred", Fields: map[string]any{"reason": reason}}
		exp := o.Now().Add(time.Duration(deferMs) * time.Millisecond)
		s.ExpiresAt = &exp
		o.mu.Lock()
		o.deferred[recipientID] = append(o.deferred[recipientID], s)
		o.mu.Unlock()

	case intent.KindUpdateState, intent.KindSetInterest:
		// No dedicated state/interest store exists yet; recorded for
		// observability until one is wired up.
		o.Log.Info("intent applied without persistence", "kind", it.Kind, "fields", it.Fields)

	default:
		status = "unknown_kind"
		err = fmt.Errorf("orchestrator: unknown intent kind %q", it.Kind)
	}

	if err != nil {
		status = "error"
		o.Log.Error("apply intent failed", "kind", it.Kind, "recipientId", recipientID, "error", err)
	}
	if o.Metrics != nil {
		o.Metrics.RecordIntentApplied(string(it.Kind), status)
	}
}

func signalID(s *signal.Signal) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func joinThoughts(thoughts []string) string {
	out := ""
	for i, t := range thoughts {
		if i > 0 {
			out += "\n"
		}
		out += t
	}
	return out
}

func scheduleOptionsFromFields(recipientID string, fields map[string]any) scheduler.ScheduleOptions {
	opts := scheduler.ScheduleOptions{OwnerID: recipientID, Data: fields}
	if fireAt, ok := fields["fireAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, fireAt); err == nil {
			opts.FireAt = t
		}
	}
	if tz, ok := fields["timezone"].(string); ok {
		opts.Timezone = tz
	}
	if lt, ok := fields["localTime"].(string); ok {
		opts.LocalTime = lt
	}
	return opts
}

func memoryEntryFromFields(recipientID string, fields map[string]any, now time.Time) *models.MemoryEntry {
	content, _ := fields["content"].(string)
	entry := &models.MemoryEntry{
		ID:        uuid.NewString(),
		ChannelID: recipientID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tags, ok := fields["tags"].([]string); ok {
		entry.Metadata.Tags = tags
	}
	entry.Metadata.Source = "agent"
	return entry
}
