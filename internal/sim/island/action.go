package island

import (
	"encoding/json"
	"fmt"
	"strings"

	"clawparadise.ai/internal/protocol"
)

// Action is one participant submission. The set of implementations is closed.
type Action interface {
	Type() string
	isAction()
}

type SendMessage struct {
	TargetID string
	Text     string
}

type Broadcast struct {
	Text string
}

type ProposeAlliance struct {
	TargetIDs []string
	Name      string
}

type AcceptAlliance struct {
	// AllianceID is optional; empty accepts every pending invitation.
	AllianceID string
}

type BetrayAlliance struct{}

type ChallengeStrategy struct {
	Strategy string
}

type SubmitJudgment struct {
	TargetID string
	// Score is nil when the judge omitted it; resolution applies the default.
	Score   *int
	Comment string
}

type CastVote struct {
	TargetID string
	Reason   string
}

type Farewell struct {
	Text string
}

type Pass struct{}

func (SendMessage) Type() string       { return protocol.ActSendMessage }
func (Broadcast) Type() string         { return protocol.ActBroadcast }
func (ProposeAlliance) Type() string   { return protocol.ActProposeAlliance }
func (AcceptAlliance) Type() string    { return protocol.ActAcceptAlliance }
func (BetrayAlliance) Type() string    { return protocol.ActBetrayAlliance }
func (ChallengeStrategy) Type() string { return protocol.ActChallengeStrategy }
func (SubmitJudgment) Type() string    { return protocol.ActSubmitJudgment }
func (CastVote) Type() string          { return protocol.ActVote }
func (Farewell) Type() string          { return protocol.ActFarewell }
func (Pass) Type() string              { return protocol.ActPass }

func (SendMessage) isAction()       {}
func (Broadcast) isAction()         {}
func (ProposeAlliance) isAction()   {}
func (AcceptAlliance) isAction()    {}
func (BetrayAlliance) isAction()    {}
func (ChallengeStrategy) isAction() {}
func (SubmitJudgment) isAction()    {}
func (CastVote) isAction()          {}
func (Farewell) isAction()          {}
func (Pass) isAction()              {}

var phaseActions = map[Phase][]string{
	PhaseMorning:       {protocol.ActSendMessage, protocol.ActBroadcast, protocol.ActProposeAlliance, protocol.ActAcceptAlliance, protocol.ActPass},
	PhaseChallenge:     {protocol.ActChallengeStrategy, protocol.ActPass},
	PhaseJudging:       {protocol.ActSubmitJudgment, protocol.ActPass},
	PhaseAfternoon:     {protocol.ActSendMessage, protocol.ActBroadcast, protocol.ActBetrayAlliance, protocol.ActProposeAlliance, protocol.ActPass},
	PhaseTribalCouncil: {protocol.ActVote, protocol.ActPass},
	PhaseElimination:   {protocol.ActFarewell, protocol.ActPass},
}

// ValidActions returns the action types legal in phase. Closed phases have none.
func ValidActions(phase Phase) []string {
	acts := phaseActions[phase]
	out := make([]string, len(acts))
	copy(out, acts)
	return out
}

func actionAllowed(phase Phase, typ string) bool {
	for _, a := range phaseActions[phase] {
		if a == typ {
			return true
		}
	}
	return false
}

// DecodeAction converts a wire envelope into an Action, checking the fields
// each variant requires.
func DecodeAction(m protocol.ActionMsg) (Action, error) {
	switch m.Type {
	case protocol.ActSendMessage:
		if m.TargetID == "" || strings.TrimSpace(m.Message) == "" {
			return nil, badRequest("send_message requires target_id and message")
		}
		return SendMessage{TargetID: m.TargetID, Text: m.Message}, nil
	case protocol.ActBroadcast:
		if strings.TrimSpace(m.Message) == "" {
			return nil, badRequest("broadcast requires message")
		}
		return Broadcast{Text: m.Message}, nil
	case protocol.ActProposeAlliance:
		if len(m.TargetIDs) == 0 {
			return nil, badRequest("propose_alliance requires target_ids")
		}
		ids := make([]string, len(m.TargetIDs))
		copy(ids, m.TargetIDs)
		return ProposeAlliance{TargetIDs: ids, Name: m.AllianceName}, nil
	case protocol.ActAcceptAlliance:
		return AcceptAlliance{AllianceID: m.AllianceID}, nil
	case protocol.ActBetrayAlliance:
		return BetrayAlliance{}, nil
	case protocol.ActChallengeStrategy:
		return ChallengeStrategy{Strategy: m.Strategy}, nil
	case protocol.ActSubmitJudgment:
		if m.TargetID == "" {
			return nil, badRequest("submit_judgment requires target_id")
		}
		var score *int
		if m.Score != nil {
			v := *m.Score
			score = &v
		}
		return SubmitJudgment{TargetID: m.TargetID, Score: score, Comment: m.Comment}, nil
	case protocol.ActVote:
		if m.TargetID == "" {
			return nil, badRequest("vote requires target_id")
		}
		return CastVote{TargetID: m.TargetID, Reason: m.Reason}, nil
	case protocol.ActFarewell:
		if strings.TrimSpace(m.Message) == "" {
			return nil, badRequest("farewell requires message")
		}
		return Farewell{Text: m.Message}, nil
	case protocol.ActPass:
		return Pass{}, nil
	case "":
		return nil, badRequest("missing action type")
	default:
		return nil, badRequest(fmt.Sprintf("unknown action type %q", m.Type))
	}
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(a Action) protocol.ActionMsg {
	m := protocol.ActionMsg{Type: a.Type()}
	switch v := a.(type) {
	case SendMessage:
		m.TargetID, m.Message = v.TargetID, v.Text
	case Broadcast:
		m.Message = v.Text
	case ProposeAlliance:
		m.TargetIDs, m.AllianceName = v.TargetIDs, v.Name
	case AcceptAlliance:
		m.AllianceID = v.AllianceID
	case ChallengeStrategy:
		m.Strategy = v.Strategy
	case SubmitJudgment:
		m.TargetID, m.Score, m.Comment = v.TargetID, v.Score, v.Comment
	case CastVote:
		m.TargetID, m.Reason = v.TargetID, v.Reason
	case Farewell:
		m.Message = v.Text
	case BetrayAlliance, Pass:
	}
	return m
}

// PendingActions maps participant id to the action submitted this phase.
type PendingActions map[string]Action

func (p PendingActions) MarshalJSON() ([]byte, error) {
	wire := make(map[string]protocol.ActionMsg, len(p))
	for id, a := range p {
		wire[id] = EncodeAction(a)
	}
	return json.Marshal(wire)
}

func (p *PendingActions) UnmarshalJSON(b []byte) error {
	var wire map[string]protocol.ActionMsg
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	out := make(PendingActions, len(wire))
	for id, m := range wire {
		a, err := DecodeAction(m)
		if err != nil {
			return fmt.Errorf("pending action for %s: %w", id, err)
		}
		out[id] = a
	}
	*p = out
	return nil
}
