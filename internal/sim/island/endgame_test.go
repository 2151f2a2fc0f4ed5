package island

import (
	"context"
	"errors"
	"testing"
	"time"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/tuning"
)

func TestGameOver_DayLimit(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) {
		r.MaxParticipants = 4
		r.MaxDays = 2
		noTwists(r)
	})
	ctx := context.Background()
	isl := env.startedIsland(t)
	for i := 0; i < 12; i++ {
		if _, err := env.e.ForceAdvance(ctx, isl.ID); err != nil {
			t.Fatalf("force %d: %v", i, err)
		}
	}
	final := env.island(t, isl.ID)
	if final.Phase != PhaseGameOver || final.EndedAt == nil {
		t.Fatalf("phase = %s ended=%v", final.Phase, final.EndedAt)
	}
	winner := final.Participant(final.WinnerID)
	if winner == nil {
		t.Fatalf("no winner")
	}
	for _, p := range final.Participants {
		if p.Memory.ChallengeWins > winner.Memory.ChallengeWins {
			t.Fatalf("%s has more challenge wins than the winner", p.Name)
		}
	}

	for _, p := range final.Participants {
		a := env.agent(t, p.RegisteredAgentID)
		if a.GamesPlayed != 1 || a.DaysAlive != 2 || a.CurrentIslandID != "" || a.LastGameAt == nil {
			t.Fatalf("bookkeeping for %s: %+v", p.Name, a)
		}
		if p.ID == winner.ID {
			if a.Wins != 1 || a.TotalScore != 4 {
				t.Fatalf("winner stats: %+v", a)
			}
			if got := a.CooldownRemaining(env.clock.Now()); got != 48*time.Hour {
				t.Fatalf("cooldown = %v", got)
			}
			continue
		}
		if a.TotalScore != 1 || a.CooldownUntil != nil {
			t.Fatalf("survivor stats: %+v", a)
		}
	}

	if len(env.archive.recs) != 1 {
		t.Fatalf("archived %d records", len(env.archive.recs))
	}
	rec := env.archive.recs[0]
	if rec.ID != isl.ID || rec.WinnerName != winner.Name || len(rec.Participants) != 4 || rec.EndedAt.IsZero() {
		t.Fatalf("archive record: %+v", rec)
	}

	ids, _ := env.store.ListActiveIslandIDs(ctx)
	for _, id := range ids {
		if id == isl.ID {
			t.Fatalf("finished island still active")
		}
	}
	_, err := env.e.SubmitAction(ctx, isl.ID, winner.ID, Pass{})
	wantCode(t, err, protocol.ErrPhaseClosed)
	_, err = env.e.ForceAdvance(ctx, isl.ID)
	wantCode(t, err, protocol.ErrPhaseClosed)

	view, err := env.e.StateFor(ctx, winner.RegisteredAgentID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if view.Status != ViewNotInGame {
		t.Fatalf("winner still in game: %s", view.Status)
	}

	board, err := env.e.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 4 || board[0].ID != winner.RegisteredAgentID || board[0].Rank != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}
	if board[0].WinRate != 100 || board[0].CooldownHours != 48 || board[0].CurrentlyPlaying {
		t.Fatalf("winner entry = %+v", board[0])
	}
}

func TestGameOver_LastSurvivorAndScoreOrder(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) {
		r.MaxParticipants = 3
		noTwists(r)
	})
	ctx := context.Background()
	isl := env.startedIsland(t)

	var order []string
	for day := 1; day <= 2; day++ {
		isl = env.forceTo(t, isl.ID, PhaseTribalCouncil)
		victim := withStatus(isl, StatusAlive)[0]
		order = append(order, victim.ID)
		for _, p := range isl.InPlay() {
			if p.ID != victim.ID {
				env.submit(t, isl.ID, p.ID, CastVote{TargetID: victim.ID})
			}
		}
		env.forceTo(t, isl.ID, PhaseElimination)
		if _, err := env.e.ForceAdvance(ctx, isl.ID); err != nil {
			t.Fatalf("force elimination: %v", err)
		}
		isl = env.island(t, isl.ID)
	}

	if isl.Phase != PhaseGameOver {
		t.Fatalf("phase = %s", isl.Phase)
	}
	winner := isl.Participant(isl.WinnerID)
	if winner == nil || winner.Status != StatusAlive {
		t.Fatalf("winner = %+v", winner)
	}
	first := env.agent(t, isl.Participant(order[0]).RegisteredAgentID).TotalScore
	second := env.agent(t, isl.Participant(order[1]).RegisteredAgentID).TotalScore
	top := env.agent(t, winner.RegisteredAgentID).TotalScore
	if !(first < second && second < top) || top != 3 {
		t.Fatalf("scores not monotonic: %d, %d, winner %d", first, second, top)
	}

	placements := 0
	for _, ev := range isl.Events {
		if ev.Type == EventNotification && ev.Phase == PhaseGameOver {
			placements++
		}
	}
	if placements != 3 {
		t.Fatalf("placement notifications = %d", placements)
	}
}

func TestGameOver_ArchiveFailureSwallowed(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) {
		r.MaxParticipants = 3
		r.MaxDays = 1
		noTwists(r)
	})
	env.archive.err = errors.New("disk full")
	isl := env.startedIsland(t)
	isl = env.forceTo(t, isl.ID, PhaseElimination)
	if _, err := env.e.ForceAdvance(context.Background(), isl.ID); err != nil {
		t.Fatalf("game end failed on archive error: %v", err)
	}
	if got := env.island(t, isl.ID).Phase; got != PhaseGameOver {
		t.Fatalf("phase = %s", got)
	}
	if env.e.Metrics().ArchiveErrors != 1 {
		t.Fatalf("archive errors = %d", env.e.Metrics().ArchiveErrors)
	}
}

func TestDeadline_Idempotent(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 4 })
	ctx := context.Background()
	isl := env.startedIsland(t)

	ok, err := env.e.CheckAndAdvanceDeadline(ctx, isl.ID)
	if err != nil || ok {
		t.Fatalf("before deadline: ok=%v err=%v", ok, err)
	}
	if got := env.island(t, isl.ID); got.Phase != PhaseMorning || len(got.Events) != len(isl.Events) {
		t.Fatalf("no-op check changed state")
	}

	env.clock.Advance(env.e.Tuning().PhaseDuration)
	ok, err = env.e.CheckAndAdvanceDeadline(ctx, isl.ID)
	if err != nil || !ok {
		t.Fatalf("after deadline: ok=%v err=%v", ok, err)
	}
	after := env.island(t, isl.ID)
	if after.Phase != PhaseChallenge {
		t.Fatalf("phase = %s", after.Phase)
	}
	if !after.PhaseDeadline.After(env.clock.Now()) {
		t.Fatalf("new deadline %v not in the future", after.PhaseDeadline)
	}

	ok, err = env.e.CheckAndAdvanceDeadline(ctx, isl.ID)
	if err != nil || ok {
		t.Fatalf("second check: ok=%v err=%v", ok, err)
	}
	if got := env.island(t, isl.ID).Phase; got != PhaseChallenge {
		t.Fatalf("phase moved again: %s", got)
	}

	lobby, _ := env.e.CreateIsland(ctx, "jade")
	if ok, err := env.e.CheckAndAdvanceDeadline(ctx, lobby.ID); ok || err != nil {
		t.Fatalf("lobby advanced: ok=%v err=%v", ok, err)
	}
}

func TestAdvance_ReportsWaitingCounts(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 4 })
	ctx := context.Background()
	isl := env.startedIsland(t)
	env.submit(t, isl.ID, isl.Participants[0].ID, Pass{})

	res, err := env.e.Advance(ctx, isl.ID, false)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Advanced || res.Submitted != 1 || res.InPlay != 4 {
		t.Fatalf("advance result = %+v", res)
	}
	res, err = env.e.Advance(ctx, isl.ID, true)
	if err != nil {
		t.Fatalf("force advance: %v", err)
	}
	if !res.Advanced || res.Phase != PhaseChallenge {
		t.Fatalf("forced result = %+v", res)
	}
}

func TestSweepDeadlines(t *testing.T) {
	env := newTestEnv(t, func(r *tuning.Tuning) { r.MaxParticipants = 3 })
	ctx := context.Background()
	a := env.startedIsland(t)
	b := env.startedIsland(t)
	if _, err := env.e.CreateIsland(ctx, "thunder"); err != nil {
		t.Fatalf("create: %v", err)
	}
	env.clock.Advance(time.Hour)
	n, err := env.e.SweepDeadlines(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("advanced %d islands, want 2", n)
	}
	for _, id := range []string{a.ID, b.ID} {
		if got := env.island(t, id).Phase; got != PhaseChallenge {
			t.Fatalf("island %s phase = %s", id, got)
		}
	}
}
