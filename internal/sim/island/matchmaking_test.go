package island

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/catalogs"
	"clawparadise.ai/internal/sim/tuning"
)

func TestJoin_LobbyFillAndAutostart(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	lobby, err := env.e.CreateIsland(ctx, "inferno")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lobby.Phase != PhaseLobby || len(lobby.Participants) != 0 || lobby.MaxParticipants != 16 {
		t.Fatalf("unexpected lobby: phase=%s n=%d cap=%d", lobby.Phase, len(lobby.Participants), lobby.MaxParticipants)
	}

	for i := 0; i < 16; i++ {
		a, err := env.e.Register(ctx, fmt.Sprintf("agent-%02d", i), catalogs.RandomPersona, "")
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
		res, err := env.e.Join(ctx, a.ID, "inferno")
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		if res.Island.ID != lobby.ID {
			t.Fatalf("join %d landed on %s, want %s", i, res.Island.ID, lobby.ID)
		}
		if i < 15 {
			if res.Started || res.Island.Phase != PhaseLobby {
				t.Fatalf("join %d: started=%v phase=%s", i, res.Started, res.Island.Phase)
			}
			continue
		}
		if !res.Started {
			t.Fatalf("16th join did not start the game")
		}
		if res.Instructions == "" || !strings.Contains(res.Instructions, res.Participant.Name) {
			t.Fatalf("instructions missing persona name: %q", res.Instructions)
		}
	}

	isl := env.island(t, lobby.ID)
	if isl.Phase != PhaseMorning || isl.Day != 1 {
		t.Fatalf("expected MORNING day 1, got %s day %d", isl.Phase, isl.Day)
	}
	twistEvents := 0
	announced := false
	for _, ev := range isl.Events {
		if ev.Type == EventTwist {
			twistEvents++
			if strings.Contains(ev.Description, "TWIST") && ev.Day == 1 {
				announced = true
			}
		}
	}
	if (isl.Twist != TwistNone) != announced {
		t.Fatalf("twist %q but announced=%v", isl.Twist, announced)
	}
	if isl.Twist == TwistNone && twistEvents != 1 {
		t.Fatalf("expected only the game-begins event, got %d twist events", twistEvents)
	}
	if len(isl.Judges) != 2 {
		t.Fatalf("expected 2 judges, got %v", isl.Judges)
	}

	seen := map[string]bool{}
	for _, p := range isl.Participants {
		if seen[p.Name] {
			t.Fatalf("persona %s seated twice", p.Name)
		}
		seen[p.Name] = true
		for _, other := range isl.Participants {
			if other.ID == p.ID {
				continue
			}
			v, ok := p.Memory.TrustScores[other.ID]
			if !ok || v < -10 || v >= 30 {
				t.Fatalf("trust %s->%s = %d (present=%v)", p.Name, other.Name, v, ok)
			}
		}
	}
}

func TestRegister_IdempotentByName(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a, err := env.e.Register(ctx, "Nova", "Random", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Portrait == "" {
		t.Fatalf("expected a catalog portrait")
	}
	b, err := env.e.Register(ctx, "NOVA", "Siren", "custom.png")
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if b.ID != a.ID || b.CharacterName != catalogs.RandomPersona || b.Portrait != a.Portrait {
		t.Fatalf("repeat registration changed record: %+v vs %+v", b, a)
	}
	if _, err := env.e.Register(ctx, "  ", "Random", ""); err == nil {
		t.Fatalf("expected empty name to be rejected")
	}
}

func TestJoin_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.e.Join(ctx, "agent-missing", "")
	wantCode(t, err, protocol.ErrNotRegistered)

	a, _ := env.e.Register(ctx, "typo", "Random", "")
	_, err = env.e.Join(ctx, a.ID, "atlantis")
	wantCode(t, err, protocol.ErrBadRequest)
}

func TestJoin_CooldownEnforced(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a, err := env.e.Register(ctx, "champ", "Random", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	until := env.clock.Now().Add(48 * time.Hour)
	a.CooldownUntil = &until
	if err := env.store.PutAgent(ctx, a); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	_, err = env.e.Join(ctx, a.ID, "")
	e := wantCode(t, err, protocol.ErrOnCooldown)
	if e.CooldownHours != 48 {
		t.Fatalf("cooldown hours = %d, want 48", e.CooldownHours)
	}

	env.clock.Advance(48*time.Hour + time.Second)
	if _, err := env.e.Join(ctx, a.ID, ""); err != nil {
		t.Fatalf("join after cooldown: %v", err)
	}
}

func TestJoin_RejoinReturnsExistingSeat(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a, _ := env.e.Register(ctx, "loyal", "Random", "")
	first, err := env.e.Join(ctx, a.ID, "jade")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := env.e.Join(ctx, a.ID, "inferno")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if second.Island.ID != first.Island.ID || second.Participant.ID != first.Participant.ID {
		t.Fatalf("rejoin moved the agent: %s/%s vs %s/%s",
			second.Island.ID, second.Participant.ID, first.Island.ID, first.Participant.ID)
	}
	if n := len(env.island(t, first.Island.ID).Participants); n != 1 {
		t.Fatalf("expected 1 participant, got %d", n)
	}
}

func TestJoin_StaleIslandReferenceCleared(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a, _ := env.e.Register(ctx, "drifter", "Random", "")
	a.CurrentIslandID = "island-gone"
	if err := env.store.PutAgent(ctx, a); err != nil {
		t.Fatalf("put: %v", err)
	}
	res, err := env.e.Join(ctx, a.ID, "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Island.ID == "island-gone" {
		t.Fatalf("joined the stale island")
	}
	if got := env.agent(t, a.ID).CurrentIslandID; got != res.Island.ID {
		t.Fatalf("current island = %q, want %q", got, res.Island.ID)
	}
}

func TestJoin_PersonaTaken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	persona := env.e.Catalogs().AllPersonas()[0].Name

	a, _ := env.e.Register(ctx, "first", persona, "")
	res, err := env.e.Join(ctx, a.ID, "thunder")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Participant.Name != persona {
		t.Fatalf("persona = %s, want %s", res.Participant.Name, persona)
	}

	b, _ := env.e.Register(ctx, "second", persona, "")
	_, err = env.e.Join(ctx, b.ID, "thunder")
	wantCode(t, err, protocol.ErrPersonaTaken)
	if got := env.agent(t, b.ID).CurrentIslandID; got != "" {
		t.Fatalf("rejected agent still references %s", got)
	}
}

func TestCreateIsland_NamesCountPerType(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	first, err := env.e.CreateIsland(ctx, "frostfang")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := env.e.CreateIsland(ctx, "frostfang")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(first.Name, "#1") || !strings.HasSuffix(second.Name, "#2") {
		t.Fatalf("names = %q, %q", first.Name, second.Name)
	}
	random, err := env.e.CreateIsland(ctx, "")
	if err != nil {
		t.Fatalf("create random: %v", err)
	}
	if _, ok := env.e.Catalogs().ArenaConfig(random.Type); !ok {
		t.Fatalf("random type %q not in catalog", random.Type)
	}
}

func TestQuickFill_RejectsStartedIsland(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 4 })
	isl := env.startedIsland(t)
	if len(isl.Participants) != 4 {
		t.Fatalf("expected 4 participants, got %d", len(isl.Participants))
	}
	_, err := env.e.QuickFill(context.Background(), isl.ID)
	wantCode(t, err, protocol.ErrNotJoinable)
	_, err = env.e.QuickFill(context.Background(), "island-nope")
	wantCode(t, err, protocol.ErrArenaNotFound)
}
