package island

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/tuning"
)

func TestStateFor_ScopesMessages(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 4 })
	ctx := context.Background()
	isl := env.startedIsland(t)
	ps := isl.Participants

	env.submit(t, isl.ID, ps[0].ID, SendMessage{TargetID: ps[1].ID, Text: "psst"})
	env.submit(t, isl.ID, ps[2].ID, Broadcast{Text: "hello island"})

	v1, err := env.e.StateFor(ctx, ps[1].RegisteredAgentID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if v1.Status != ViewInGame || v1.You.ID != ps[1].ID || v1.You.HasSubmitted {
		t.Fatalf("view = %+v you=%+v", v1, v1.You)
	}
	if len(v1.Messages) != 2 {
		t.Fatalf("recipient sees %d messages, want 2", len(v1.Messages))
	}

	v3, _ := env.e.StateFor(ctx, ps[3].RegisteredAgentID)
	if len(v3.Messages) != 1 || v3.Messages[0].To != "everyone" {
		t.Fatalf("bystander messages = %+v", v3.Messages)
	}

	v0, _ := env.e.StateFor(ctx, ps[0].RegisteredAgentID)
	if !v0.You.HasSubmitted || len(v0.Messages) != 2 {
		t.Fatalf("sender view: submitted=%v messages=%d", v0.You.HasSubmitted, len(v0.Messages))
	}
	if !reflect.DeepEqual(v0.ValidActions, ValidActions(PhaseMorning)) {
		t.Fatalf("valid actions = %v", v0.ValidActions)
	}
	if len(v0.RecentEvents) > env.e.Tuning().RecentEvents || len(v0.Alive) != 4 {
		t.Fatalf("recent=%d alive=%d", len(v0.RecentEvents), len(v0.Alive))
	}
	if v0.Deadline == nil || v0.MaxDays != 16 {
		t.Fatalf("deadline=%v maxDays=%d", v0.Deadline, v0.MaxDays)
	}
}

func TestStateFor_NotInGame(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a, _ := env.e.Register(ctx, "loner", "Random", "")
	v, err := env.e.StateFor(ctx, a.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if v.Status != ViewNotInGame || v.You != nil {
		t.Fatalf("view = %+v", v)
	}
	_, err = env.e.StateFor(ctx, "agent-unknown")
	wantCode(t, err, protocol.ErrNotRegistered)
}

func TestSpectatorView_HidesPendingContent(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 3 })
	isl := env.startedIsland(t)
	isl = env.forceTo(t, isl.ID, PhaseChallenge)
	env.submit(t, isl.ID, isl.Participants[0].ID, ChallengeStrategy{Strategy: "secret plan"})

	v, err := env.e.Spectate(context.Background(), isl.ID)
	if err != nil {
		t.Fatalf("spectate: %v", err)
	}
	if !reflect.DeepEqual(v.Submitted, []string{isl.Participants[0].ID}) {
		t.Fatalf("submitted = %v", v.Submitted)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "secret plan") {
		t.Fatalf("spectator view leaks pending strategy")
	}
}

func TestListIslands(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 3 })
	ctx := context.Background()
	started := env.startedIsland(t)
	env.clock.Advance(1)
	lobby, _ := env.e.CreateIsland(ctx, "phantom")

	list, err := env.e.ListIslands(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != lobby.ID || list[1].ID != started.ID {
		t.Fatalf("list = %+v", list)
	}
	if list[1].Alive != 3 || list[1].Phase != PhaseMorning {
		t.Fatalf("summary = %+v", list[1])
	}
}
