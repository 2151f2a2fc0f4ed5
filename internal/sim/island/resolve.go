package island

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"clawparadise.ai/internal/sim/catalogs"
)

// resolveAndCommit resolves the current phase, persists the island and, if the
// game just ended, hands it to the archiver.
func (e *Engine) resolveAndCommit(ctx context.Context, isl *Island) error {
	from := len(isl.Events)
	if err := e.resolvePhase(ctx, isl); err != nil {
		return err
	}
	if err := e.commit(ctx, isl, from); err != nil {
		return err
	}
	if isl.Phase == PhaseGameOver {
		e.archive(isl)
	}
	return nil
}

// resolvePhase applies the effects of the phase in progress and moves the
// island to the next phase. It mutates isl in memory; registered agents are
// written through the store when scores change.
func (e *Engine) resolvePhase(ctx context.Context, isl *Island) error {
	e.resolutions.Add(1)
	prev := isl.Phase

	switch isl.Phase {
	case PhaseMorning:
		e.resolveAlliances(isl)
		if len(isl.Judges) == 0 {
			e.selectJudges(isl)
		}
		pool := e.cats.ChallengeList()
		c := pool[e.intn(len(pool))]
		isl.Challenge = &c
		e.emit(isl, PhaseMorning, EventNotification, nil,
			fmt.Sprintf("🔥 NEW GAME: %q! Task: %s", c.Name, c.Prompt))
		isl.Phase = PhaseChallenge

	case PhaseChallenge:
		e.scoreChallenge(isl)
		isl.Phase = PhaseJudging
		if len(isl.Judges) > 0 {
			e.emit(isl, PhaseChallenge, EventNotification, nil,
				fmt.Sprintf("📝 Strategies submitted! Judges %s are now reviewing the performances...", e.judgeNames(isl)))
		} else {
			e.emit(isl, PhaseChallenge, EventNotification, nil,
				"📝 Strategies submitted! No judges today, the raw scores stand.")
		}

	case PhaseJudging:
		e.applyJudgments(isl)
		isl.Phase = PhaseAfternoon

	case PhaseAfternoon:
		isl.Phase = PhaseTribalCouncil

	case PhaseTribalCouncil:
		e.collectVotes(isl)
		isl.Phase = PhaseElimination

	case PhaseElimination:
		if err := e.processElimination(ctx, isl); err != nil {
			return err
		}

	default:
		panic(fmt.Sprintf("island %s: resolve in phase %q", isl.ID, isl.Phase))
	}

	// Day setup already reset pending actions and the deadline.
	if prev != PhaseElimination {
		isl.Pending = PendingActions{}
		isl.PhaseDeadline = e.now().Add(e.rules.PhaseDuration)
	}
	return nil
}

// startGame moves a full lobby into day 1.
func (e *Engine) startGame(isl *Island) {
	isl.Day = 1
	isl.Phase = PhaseMorning
	e.emit(isl, PhaseMorning, EventTwist, nil,
		fmt.Sprintf("🏝️ The game begins on %s! %d agents must survive %d days of drama.",
			isl.Name, len(isl.Participants), isl.MaxDays))
	e.startDay(isl)
}

// startDay sets up MORNING of the current day.
func (e *Engine) startDay(isl *Island) {
	isl.Phase = PhaseMorning
	isl.Twist = e.drawTwist()
	isl.PhaseDeadline = e.now().Add(e.rules.PhaseDuration)
	isl.Pending = PendingActions{}
	isl.ChallengeResults = []ChallengeResult{}
	isl.Challenge = nil
	isl.Votes = []Vote{}
	if isl.Twist != TwistNone {
		e.emit(isl, PhaseMorning, EventTwist, nil, twistDescription(isl.Twist, isl.Day, e.rules.Challenge.ImmunityTwistWinners))
	}
	isl.Judges = []string{}
	e.selectJudges(isl)
}

func (e *Engine) drawTwist() Twist {
	w := e.rules.Twists
	r := e.intn(w.Total())
	for _, c := range []struct {
		t Twist
		w int
	}{
		{TwistNone, w.None},
		{TwistDoubleElimination, w.DoubleElimination},
		{TwistNoElimination, w.NoElimination},
		{TwistImmunityChallenge, w.ImmunityChallenge},
	} {
		if r < c.w {
			return c.t
		}
		r -= c.w
	}
	return TwistNone
}

func twistDescription(t Twist, day, immune int) string {
	switch t {
	case TwistDoubleElimination:
		return fmt.Sprintf("⚡ DAY %d TWIST: Double Elimination! TWO agents will be voted off tonight!", day)
	case TwistNoElimination:
		return fmt.Sprintf("🛡️ DAY %d TWIST: No Elimination! Everyone survives tribal council today!", day)
	case TwistImmunityChallenge:
		return fmt.Sprintf("🏆 DAY %d TWIST: Immunity Challenge! Top %d performers earn immunity!", day, immune)
	}
	return fmt.Sprintf("🎲 Day %d twist: %s", day, t)
}

// selectJudges picks the day's judges among participants in play. Judging is
// skipped when too few are alive or fewer than two competitors would remain.
func (e *Engine) selectJudges(isl *Island) {
	alive := isl.InPlay()
	n := e.rules.JudgesPerDay
	if n == 0 || len(alive) < e.rules.MinAliveForJudges || len(alive)-n < 2 {
		isl.Judges = []string{}
		return
	}
	picked := e.shuffle(alive)[:n]
	isl.Judges = make([]string, n)
	for i, p := range picked {
		isl.Judges[i] = p.ID
	}
	e.emit(isl, PhaseMorning, EventNotification, isl.Judges,
		fmt.Sprintf("⚖️ JUDGES SELECTED: %s will judge today's challenge!", e.judgeNames(isl)))
}

func (e *Engine) judgeNames(isl *Island) string {
	names := make([]string, len(isl.Judges))
	for i, id := range isl.Judges {
		names[i] = isl.nameOf(id)
	}
	return strings.Join(names, " and ")
}

// resolveAlliances seals pending alliances that an invitee accepted this
// morning and expires older ones nobody accepted.
func (e *Engine) resolveAlliances(isl *Island) {
	accepts := map[string][]string{}
	for _, p := range isl.InPlay() {
		acc, ok := isl.Pending[p.ID].(AcceptAlliance)
		if !ok {
			continue
		}
		for _, al := range isl.Alliances {
			if !al.Pending || al.ProposedBy == p.ID || !contains(al.MemberIDs, p.ID) {
				continue
			}
			if acc.AllianceID == "" || acc.AllianceID == al.ID {
				accepts[al.ID] = append(accepts[al.ID], p.ID)
			}
		}
	}

	var keep []*Alliance
	var sealed []*Alliance
	for _, al := range isl.Alliances {
		if !al.Pending {
			keep = append(keep, al)
			continue
		}
		if ids := accepts[al.ID]; len(ids) > 0 {
			al.AcceptedBy = ids
			sealed = append(sealed, al)
			keep = append(keep, al)
			continue
		}
		if al.FormedOnDay >= isl.Day {
			keep = append(keep, al)
		}
	}
	if keep == nil {
		keep = []*Alliance{}
	}
	isl.Alliances = keep

	for _, al := range sealed {
		members := []string{al.ProposedBy}
		for _, id := range al.AcceptedBy {
			if !contains(members, id) {
				members = append(members, id)
			}
		}
		al.Pending = false
		al.MemberIDs = nil
		for _, id := range members {
			m := isl.Participant(id)
			if m == nil || m.Status == StatusEliminated {
				continue
			}
			if old := isl.alliance(m.AllianceID); old != nil && old.ID != al.ID {
				old.MemberIDs = remove(old.MemberIDs, m.ID)
				e.dissolveIfSmall(isl, old)
			}
			m.AllianceID = al.ID
			m.Memory.AllianceHistory = append(m.Memory.AllianceHistory, fmt.Sprintf("Joined %s on Day %d", al.Name, isl.Day))
			al.MemberIDs = append(al.MemberIDs, m.ID)
		}
		if len(al.MemberIDs) < 2 {
			e.dissolveIfSmall(isl, al)
			continue
		}
		names := make([]string, len(al.MemberIDs))
		for i, id := range al.MemberIDs {
			names[i] = isl.nameOf(id)
		}
		e.emit(isl, PhaseMorning, EventAllianceFormed, al.MemberIDs,
			fmt.Sprintf("🤝 Alliance %q is sealed: %s", al.Name, strings.Join(names, ", ")))
	}
}

func (e *Engine) scoreChallenge(isl *Island) {
	rules := e.rules.Challenge
	cfg, _ := e.cats.ArenaConfig(isl.Type)
	results := []ChallengeResult{}
	for _, p := range isl.InPlay() {
		if isl.isJudge(p.ID) {
			continue
		}
		strategy := "No strategy submitted"
		bonus := 0.0
		if cs, ok := isl.Pending[p.ID].(ChallengeStrategy); ok && cs.Strategy != "" {
			strategy = cs.Strategy
			bonus = math.Min(float64(rules.StrategyBonusCap),
				float64(utf8.RuneCountInString(cs.Strategy))/float64(rules.StrategyCharsPerPt))
		}
		// Luck is drawn in hundredths; the sum is floored once.
		luck := float64(e.intn(rules.LuckMax*100)) / 100
		score := int(math.Floor(luck + bonus + float64(affinityBonus(p.Stats, cfg.ChallengeAffinity))))
		results = append(results, ChallengeResult{ParticipantID: p.ID, Strategy: strategy, Score: score})
	}
	isl.ChallengeResults = results
}

// affinityBonus averages stat/10 over the arena's affinity tags.
func affinityBonus(s catalogs.Stats, tags []string) int {
	if len(tags) == 0 {
		return 0
	}
	sum := 0.0
	for _, tag := range tags {
		sum += float64(s.Value(catalogs.AffinityStat(tag))) / 10
	}
	return int(sum / float64(len(tags)))
}

func (e *Engine) applyJudgments(isl *Island) {
	rules := e.rules.Challenge
	results := isl.ChallengeResults
	for _, jid := range isl.Judges {
		j := isl.Participant(jid)
		if j == nil || !j.Status.InPlay() {
			continue
		}
		jm, ok := isl.Pending[jid].(SubmitJudgment)
		if !ok {
			continue
		}
		idx := -1
		for i := range results {
			if results[i].ParticipantID == jm.TargetID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		score := rules.DefaultJudgeScore
		if jm.Score != nil {
			score = *jm.Score
		}
		if score < 1 {
			score = 1
		}
		if score > 10 {
			score = 10
		}
		results[idx].Score += score * rules.JudgeScoreMultiplier
		e.emit(isl, PhaseJudging, EventChallengePerformance, []string{jid, jm.TargetID},
			fmt.Sprintf("⚖️ Judge %s scores %s: %d/10. %q", j.Name, isl.nameOf(jm.TargetID), score, jm.Comment))
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	winners := rules.ImmunityWinners
	if isl.Twist == TwistImmunityChallenge {
		winners = rules.ImmunityTwistWinners
	}
	scores := make(map[string]int, len(results))
	ids := make([]string, len(results))
	for i := range results {
		results[i].Rank = i + 1
		scores[results[i].ParticipantID] = results[i].Score
		ids[i] = results[i].ParticipantID
		if i < winners {
			if p := isl.Participant(results[i].ParticipantID); p != nil {
				p.Status = StatusImmune
				p.Memory.ImmunityCount++
				p.Memory.ChallengeWins++
			}
		}
	}
	isl.ChallengeResults = results
	if len(results) == 0 {
		return
	}
	ev := e.emit(isl, PhaseJudging, EventChallengeResult, ids,
		fmt.Sprintf("🏆 Challenge Results! %s wins with %d points! (Judges' decisions final)",
			isl.nameOf(results[0].ParticipantID), results[0].Score))
	ev.Scores = scores
}

func (e *Engine) collectVotes(isl *Island) {
	votes := []Vote{}
	for _, p := range isl.InPlay() {
		v, ok := isl.Pending[p.ID].(CastVote)
		if !ok {
			continue
		}
		votes = append(votes, Vote{VoterID: p.ID, TargetID: v.TargetID, Reason: v.Reason})
		p.Memory.VoteHistory = append(p.Memory.VoteHistory, VoteRecord{Day: isl.Day, VotedFor: v.TargetID, Reason: v.Reason})
		e.emit(isl, PhaseTribalCouncil, EventVoteCast, []string{p.ID, v.TargetID},
			fmt.Sprintf("🗳️ %s votes for %s", p.Name, isl.nameOf(v.TargetID)))
	}
	isl.Votes = votes
}
