package island

import (
	"context"
	"fmt"
	"strings"

	"clawparadise.ai/internal/protocol"
)

type SubmitResult struct {
	Phase Phase
	Day   int
	// Resolved is true when this submission completed the phase.
	Resolved bool
}

// SubmitForAgent submits on the island the registered agent is currently seated on.
func (e *Engine) SubmitForAgent(ctx context.Context, agentID string, act Action) (*SubmitResult, error) {
	a, err := e.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.CurrentIslandID == "" {
		return nil, newError(protocol.ErrNotInGame, "agent %s is not in a game", agentID)
	}
	return e.SubmitAction(ctx, a.CurrentIslandID, agentID, act)
}

// SubmitAction records act for the caller (registered agent id or participant
// id) and applies its immediate effects. When every participant still in play
// has submitted, the phase is resolved before returning.
func (e *Engine) SubmitAction(ctx context.Context, islandID, callerID string, act Action) (*SubmitResult, error) {
	if act == nil {
		return nil, badRequest("missing action")
	}
	unlock := e.locks.Lock(islandKey(islandID))
	defer unlock()

	isl, err := e.loadIsland(ctx, islandID)
	if err != nil {
		return nil, err
	}
	if isl.Phase.Closed() {
		return nil, newError(protocol.ErrPhaseClosed, "cannot submit actions during %s", isl.Phase)
	}
	p := isl.ParticipantForAgent(callerID)
	if p == nil {
		return nil, newError(protocol.ErrParticipantNotFound, "agent %s is not on island %s", callerID, isl.ID)
	}
	if p.Status == StatusEliminated {
		return nil, newError(protocol.ErrParticipantEliminated, "%s has been eliminated", p.Name)
	}
	if !actionAllowed(isl.Phase, act.Type()) {
		return nil, errInvalidActionForPhase(act.Type(), isl.Phase)
	}
	if err := validateTargets(isl, p, act); err != nil {
		return nil, err
	}

	from := len(isl.Events)
	isl.Pending[p.ID] = act
	e.applyImmediate(isl, p, act)
	e.submissions.Add(1)
	if err := e.commit(ctx, isl, from); err != nil {
		return nil, err
	}

	res := &SubmitResult{Phase: isl.Phase, Day: isl.Day}
	if allSubmitted(isl) {
		if err := e.resolveAndCommit(ctx, isl); err != nil {
			return nil, err
		}
		res.Phase, res.Day, res.Resolved = isl.Phase, isl.Day, true
	}
	return res, nil
}

func allSubmitted(isl *Island) bool {
	for _, p := range isl.InPlay() {
		if _, ok := isl.Pending[p.ID]; !ok {
			return false
		}
	}
	return true
}

func validateTargets(isl *Island, self *Participant, act Action) error {
	target := func(id string) error {
		t := isl.Participant(id)
		switch {
		case t == nil:
			return newError(protocol.ErrInvalidTarget, "unknown target %s", id)
		case t.Status == StatusEliminated:
			return newError(protocol.ErrInvalidTarget, "%s has been eliminated", t.Name)
		case t.ID == self.ID:
			return newError(protocol.ErrInvalidTarget, "cannot target yourself")
		}
		return nil
	}
	switch v := act.(type) {
	case SendMessage:
		return target(v.TargetID)
	case CastVote:
		return target(v.TargetID)
	case SubmitJudgment:
		return target(v.TargetID)
	case ProposeAlliance:
		seen := map[string]bool{}
		for _, id := range v.TargetIDs {
			if seen[id] {
				return newError(protocol.ErrInvalidTarget, "duplicate target %s", id)
			}
			seen[id] = true
			if err := target(id); err != nil {
				return err
			}
		}
	case AcceptAlliance:
		if v.AllianceID == "" {
			return nil
		}
		al := isl.alliance(v.AllianceID)
		if al == nil || !al.Pending || al.ProposedBy == self.ID || !contains(al.MemberIDs, self.ID) {
			return newError(protocol.ErrInvalidTarget, "no pending invitation %s", v.AllianceID)
		}
	}
	return nil
}

func (e *Engine) applyImmediate(isl *Island, p *Participant, act Action) {
	switch v := act.(type) {
	case SendMessage:
		to := isl.Participant(v.TargetID)
		e.addMessage(isl, p.ID, to.ID, v.Text)
		e.emit(isl, isl.Phase, EventConversation, []string{p.ID, to.ID},
			fmt.Sprintf("💬 %s → %s: %q", p.Name, to.Name, v.Text))
		p.Memory.Conversations = append(p.Memory.Conversations, fmt.Sprintf("Day %d to %s: %s", isl.Day, to.Name, v.Text))
		to.Memory.Conversations = append(to.Memory.Conversations, fmt.Sprintf("Day %d from %s: %s", isl.Day, p.Name, v.Text))

	case Broadcast:
		e.addMessage(isl, p.ID, BroadcastTarget, v.Text)
		e.emit(isl, isl.Phase, EventConversation, []string{p.ID},
			fmt.Sprintf("📢 %s announces: %q", p.Name, v.Text))

	case ProposeAlliance:
		name := strings.TrimSpace(v.Name)
		if name == "" {
			name = p.Name + "'s Alliance"
		}
		al := &Alliance{
			ID:          newID("alliance"),
			Name:        name,
			MemberIDs:   append([]string{p.ID}, v.TargetIDs...),
			FormedOnDay: isl.Day,
			Strength:    e.rules.AllianceStrength,
			Pending:     true,
			ProposedBy:  p.ID,
		}
		isl.Alliances = append(isl.Alliances, al)
		names := make([]string, len(v.TargetIDs))
		for i, id := range v.TargetIDs {
			names[i] = isl.nameOf(id)
		}
		e.emit(isl, isl.Phase, EventAllianceFormed, al.MemberIDs,
			fmt.Sprintf("🤝 %s proposes alliance %q with %s", p.Name, al.Name, strings.Join(names, ", ")))

	case BetrayAlliance:
		al := isl.alliance(p.AllianceID)
		if al == nil {
			p.AllianceID = ""
			return
		}
		al.MemberIDs = remove(al.MemberIDs, p.ID)
		p.AllianceID = ""
		p.Memory.AllianceHistory = append(p.Memory.AllianceHistory, fmt.Sprintf("Betrayed %s on Day %d", al.Name, isl.Day))
		e.emit(isl, isl.Phase, EventBetrayal, []string{p.ID},
			fmt.Sprintf("🗡️ %s BETRAYS %q! Alliance is shattered!", p.Name, al.Name))
		for _, id := range al.MemberIDs {
			m := isl.Participant(id)
			if m == nil {
				continue
			}
			m.Memory.TrustScores[p.ID] = clampTrust(m.Memory.TrustScores[p.ID] - e.rules.BetrayalTrustPenalty)
			m.Memory.Grudges = append(m.Memory.Grudges, fmt.Sprintf("%s betrayed our alliance on Day %d", p.Name, isl.Day))
		}
		e.dissolveIfSmall(isl, al)
	}
}

func (e *Engine) addMessage(isl *Island, from, to, text string) {
	isl.Messages = append(isl.Messages, Message{
		ID:        newID("msg"),
		FromID:    from,
		ToID:      to,
		Text:      text,
		Day:       isl.Day,
		Phase:     isl.Phase,
		Timestamp: e.now(),
	})
}

// dissolveIfSmall removes al from the island once it has fewer than two members.
func (e *Engine) dissolveIfSmall(isl *Island, al *Alliance) {
	if len(al.MemberIDs) >= 2 {
		return
	}
	for _, id := range al.MemberIDs {
		if m := isl.Participant(id); m != nil && m.AllianceID == al.ID {
			m.AllianceID = ""
		}
	}
	out := isl.Alliances[:0]
	for _, a := range isl.Alliances {
		if a.ID != al.ID {
			out = append(out, a)
		}
	}
	isl.Alliances = out
	if !al.Pending {
		e.emit(isl, isl.Phase, EventAllianceBroken, al.MemberIDs,
			fmt.Sprintf("💔 Alliance %q has dissolved.", al.Name))
	}
}

func clampTrust(v int) int {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
