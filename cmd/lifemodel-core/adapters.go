package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shady2k/lifemodel/internal/energy"
	"github.com/shady2k/lifemodel/internal/scheduler"
)

// schedulerAdapter narrows *scheduler.Scheduler to tools.SchedulerProvider
// for the core.schedule tool, translating its JSON call arguments into a
// scheduler.ScheduleOptions.
type schedulerAdapter struct {
	sched *scheduler.Scheduler
}

type scheduleArgs struct {
	OwnerID   string         `json:"ownerId"`
	FireAt    string         `json:"fireAt"`
	Timezone  string         `json:"timezone"`
	LocalTime string         `json:"localTime"`
	Data      map[string]any `json:"data"`
}

func (a schedulerAdapter) Schedule(ctx context.Context, raw json.RawMessage) (string, error) {
	var args scheduleArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("schedule: invalid arguments: %w", err)
		}
	}
	var fireAt time.Time
	if args.FireAt != "" {
		parsed, err := time.Parse(time.RFC3339, args.FireAt)
		if err != nil {
			return "", fmt.Errorf("schedule: invalid fireAt: %w", err)
		}
		fireAt = parsed
	}
	return a.sched.Schedule(scheduler.ScheduleOptions{
		OwnerID:   args.OwnerID,
		FireAt:    fireAt,
		Timezone:  args.Timezone,
		LocalTime: args.LocalTime,
		Data:      args.Data,
	})
}

// agentStateAdapter narrows *energy.Model to tools.AgentStateProvider for
// the core.agent_state/core.agent tools. There is no general state-patch
// store yet (see DESIGN.md's UPDATE_STATE/SET_INTEREST note), so Update
// only logs the patch rather than applying it.
type agentStateAdapter struct {
	energy *energy.Model
}

func (a agentStateAdapter) Snapshot(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"energy":        a.energy.Value(),
		"wakeThreshold": a.energy.CalculateWakeThreshold(0.5),
	}, nil
}

func (a agentStateAdapter) Update(ctx context.Context, patch map[string]any) error {
	return nil
}

// userModelAdapter is a placeholder UserModelProvider: no user-model store
// is wired in this runtime yet, so it reports an empty snapshot rather than
// failing the calling tool.
type userModelAdapter struct{}

func (userModelAdapter) Snapshot(ctx context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}
