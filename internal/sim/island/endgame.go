package island

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ArchiveRecord is the summary of a finished game handed to the Archiver.
type ArchiveRecord struct {
	ID               string               `json:"id"`
	Type             string               `json:"type"`
	Name             string               `json:"name"`
	WinnerID         string               `json:"winner_id,omitempty"`
	WinnerName       string               `json:"winner_name,omitempty"`
	Day              int                  `json:"day"`
	Events           []GameEvent          `json:"events"`
	Messages         []Message            `json:"messages"`
	Participants     []ParticipantSummary `json:"participants"`
	ChallengeResults []ChallengeResult    `json:"challenge_results"`
	CreatedAt        time.Time            `json:"created_at"`
	EndedAt          time.Time            `json:"ended_at"`
}

type ParticipantSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Archetype     string `json:"archetype"`
	Portrait      string `json:"portrait"`
	Status        Status `json:"status"`
	EliminatedDay *int   `json:"eliminated_day,omitempty"`
	FinalWords    string `json:"final_words,omitempty"`
	ChallengeWins int    `json:"challenge_wins"`
}

// NewArchiveRecord summarizes a finished island.
func NewArchiveRecord(isl *Island) ArchiveRecord {
	rec := ArchiveRecord{
		ID:               isl.ID,
		Type:             isl.Type,
		Name:             isl.Name,
		WinnerID:         isl.WinnerID,
		Day:              isl.Day,
		Events:           isl.Events,
		Messages:         isl.Messages,
		ChallengeResults: isl.ChallengeResults,
		CreatedAt:        isl.CreatedAt,
	}
	if isl.EndedAt != nil {
		rec.EndedAt = *isl.EndedAt
	}
	if isl.WinnerID != "" {
		rec.WinnerName = isl.nameOf(isl.WinnerID)
	}
	for _, p := range isl.Participants {
		rec.Participants = append(rec.Participants, ParticipantSummary{
			ID:            p.ID,
			Name:          p.Name,
			Archetype:     p.Archetype,
			Portrait:      p.Portrait,
			Status:        p.Status,
			EliminatedDay: p.EliminatedDay,
			FinalWords:    p.FinalWords,
			ChallengeWins: p.Memory.ChallengeWins,
		})
	}
	return rec
}

func (e *Engine) processElimination(ctx context.Context, isl *Island) error {
	if isl.Twist == TwistNoElimination {
		e.emit(isl, PhaseElimination, EventNoElimination, nil,
			"🛡️ No Elimination tonight! Everyone survives to see another day.")
		isl.Votes = []Vote{}
		return e.advanceDay(ctx, isl)
	}

	tally := map[string]int{}
	var order []string
	for _, v := range isl.Votes {
		t := isl.Participant(v.TargetID)
		if t == nil || t.Status != StatusAlive {
			continue
		}
		if _, seen := tally[v.TargetID]; !seen {
			order = append(order, v.TargetID)
		}
		tally[v.TargetID]++
	}
	sort.SliceStable(order, func(i, j int) bool { return tally[order[i]] > tally[order[j]] })

	n := 1
	typ := EventElimination
	if isl.Twist == TwistDoubleElimination {
		n, typ = 2, EventDoubleElimination
	}
	if n > len(order) {
		n = len(order)
	}
	if n == 0 {
		msg := "🌴 No votes were cast. Everyone survives the night."
		if len(isl.Votes) > 0 {
			msg = "🌴 No eligible votes: every vote named someone protected. Everyone survives the night."
		}
		e.emit(isl, PhaseElimination, EventNoElimination, nil, msg)
	}

	for _, id := range order[:n] {
		p := isl.Participant(id)
		day := isl.Day
		p.Status = StatusEliminated
		p.EliminatedDay = &day
		if fw, ok := isl.Pending[p.ID].(Farewell); ok {
			p.FinalWords = fw.Text
		}

		if err := e.updateAgent(ctx, p.RegisteredAgentID, func(a *RegisteredAgent) {
			a.TotalScore += isl.countStatus(StatusEliminated)
		}); err != nil {
			return err
		}
		for _, v := range isl.Votes {
			if v.TargetID != id {
				continue
			}
			if voter := isl.Participant(v.VoterID); voter != nil {
				if err := e.updateAgent(ctx, voter.RegisteredAgentID, func(a *RegisteredAgent) { a.Eliminations++ }); err != nil {
					return err
				}
			}
		}

		desc := fmt.Sprintf("🔥 %s has been eliminated with %d votes!", p.Name, tally[id])
		if p.FinalWords != "" {
			desc += fmt.Sprintf(" %q", p.FinalWords)
		}
		e.emit(isl, PhaseElimination, typ, []string{p.ID}, desc)
		if p.FinalWords != "" {
			e.emit(isl, PhaseElimination, EventFinalWords, []string{p.ID},
				fmt.Sprintf("👋 %s's final words: %q", p.Name, p.FinalWords))
		}

		e.dropFromAlliances(isl, p)
	}

	isl.Votes = []Vote{}
	return e.advanceDay(ctx, isl)
}

// dropFromAlliances removes an eliminated participant from every alliance,
// pending invitations included.
func (e *Engine) dropFromAlliances(isl *Island, p *Participant) {
	p.AllianceID = ""
	var touched []*Alliance
	for _, al := range isl.Alliances {
		if contains(al.MemberIDs, p.ID) {
			al.MemberIDs = remove(al.MemberIDs, p.ID)
			touched = append(touched, al)
		}
	}
	for _, al := range touched {
		e.dissolveIfSmall(isl, al)
	}
}

// updateAgent applies fn to a registered agent and writes it back. Missing
// agents are skipped.
func (e *Engine) updateAgent(ctx context.Context, id string, fn func(*RegisteredAgent)) error {
	a, ok, err := e.store.GetAgent(ctx, id)
	if err != nil {
		return fmt.Errorf("get agent %s: %w", id, err)
	}
	if !ok {
		e.log.Printf("agent %s missing during scoring", id)
		return nil
	}
	fn(a)
	if err := e.store.PutAgent(ctx, a); err != nil {
		return fmt.Errorf("put agent %s: %w", id, err)
	}
	return nil
}

func (e *Engine) advanceDay(ctx context.Context, isl *Island) error {
	for _, p := range isl.Participants {
		if p.Status == StatusImmune {
			p.Status = StatusAlive
		}
	}
	if isl.countStatus(StatusAlive) <= 1 || isl.Day >= isl.MaxDays {
		return e.finishGame(ctx, isl)
	}
	isl.Day++
	e.startDay(isl)
	return nil
}

func (e *Engine) finishGame(ctx context.Context, isl *Island) error {
	now := e.now()
	isl.Phase = PhaseGameOver
	isl.EndedAt = &now
	isl.Pending = PendingActions{}
	isl.Judges = []string{}

	var remaining []*Participant
	for _, p := range isl.Participants {
		if p.Status == StatusAlive {
			remaining = append(remaining, p)
		}
	}

	ids := make([]string, len(isl.Participants))
	for i, p := range isl.Participants {
		ids[i] = p.RegisteredAgentID
	}
	agents, err := e.store.MultiGetAgents(ctx, ids)
	if err != nil {
		return fmt.Errorf("get agents: %w", err)
	}
	byID := make(map[string]*RegisteredAgent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	if len(remaining) > 0 {
		winner := remaining[0]
		for _, p := range remaining[1:] {
			if p.Memory.ChallengeWins > winner.Memory.ChallengeWins {
				winner = p
			}
		}
		isl.WinnerID = winner.ID
		eliminated := isl.countStatus(StatusEliminated)
		for _, p := range remaining {
			a := byID[p.RegisteredAgentID]
			if a == nil {
				continue
			}
			if p == winner {
				until := now.Add(e.rules.Cooldown)
				a.Wins++
				a.TotalScore += len(isl.Participants)
				a.CooldownUntil = &until
			} else {
				a.TotalScore += eliminated + 1
			}
		}
		e.emit(isl, PhaseGameOver, EventWinner, []string{winner.ID},
			fmt.Sprintf("👑 %s is the SOLE SURVIVOR of %s!", winner.Name, isl.Name))
		e.announcePlacements(isl, byID)
	} else {
		e.emit(isl, PhaseGameOver, EventNotification, nil,
			fmt.Sprintf("🌊 Nobody is left standing on %s. The game ends without a survivor.", isl.Name))
	}

	for _, p := range isl.Participants {
		a := byID[p.RegisteredAgentID]
		if a == nil {
			continue
		}
		a.GamesPlayed++
		if p.EliminatedDay != nil {
			a.DaysAlive += *p.EliminatedDay
		} else {
			a.DaysAlive += isl.Day
		}
		a.CurrentIslandID = ""
		last := now
		a.LastGameAt = &last
	}
	for _, a := range agents {
		if err := e.store.PutAgent(ctx, a); err != nil {
			return fmt.Errorf("put agent %s: %w", a.ID, err)
		}
	}
	e.gamesEnded.Add(1)
	e.log.Printf("island %s finished on day %d winner=%s", isl.ID, isl.Day, isl.WinnerID)
	return nil
}

var placements = []string{"🥇 1st", "🥈 2nd", "🥉 3rd"}

func (e *Engine) announcePlacements(isl *Island, byID map[string]*RegisteredAgent) {
	ranked := make([]*Participant, len(isl.Participants))
	copy(ranked, isl.Participants)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if (a.ID == isl.WinnerID) != (b.ID == isl.WinnerID) {
			return a.ID == isl.WinnerID
		}
		if (a.EliminatedDay == nil) != (b.EliminatedDay == nil) {
			return a.EliminatedDay == nil
		}
		if a.EliminatedDay != nil && b.EliminatedDay != nil {
			return *a.EliminatedDay > *b.EliminatedDay
		}
		return false
	})
	for i := 0; i < len(ranked) && i < len(placements); i++ {
		p := ranked[i]
		score := 0
		if a := byID[p.RegisteredAgentID]; a != nil {
			score = a.TotalScore
		}
		e.emit(isl, PhaseGameOver, EventNotification, []string{p.ID},
			fmt.Sprintf("%s place: %s (%s), score %d", placements[i], p.Name, p.Archetype, score))
	}
}

func (e *Engine) archive(isl *Island) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Archive(NewArchiveRecord(isl)); err != nil {
		e.archiveErrs.Add(1)
		e.log.Printf("archive island %s: %v", isl.ID, err)
	}
}
