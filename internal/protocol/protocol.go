package protocol

import "encoding/json"

const Version = "1.0"

// Action types accepted by the referee.
const (
	ActSendMessage       = "send_message"
	ActBroadcast         = "broadcast"
	ActProposeAlliance   = "propose_alliance"
	ActAcceptAlliance    = "accept_alliance"
	ActBetrayAlliance    = "betray_alliance"
	ActChallengeStrategy = "challenge_strategy"
	ActSubmitJudgment    = "submit_judgment"
	ActVote              = "vote"
	ActFarewell          = "farewell"
	ActPass              = "pass"
)

// ActionTypes lists every action type in a stable order.
var ActionTypes = []string{
	ActSendMessage,
	ActBroadcast,
	ActProposeAlliance,
	ActAcceptAlliance,
	ActBetrayAlliance,
	ActChallengeStrategy,
	ActSubmitJudgment,
	ActVote,
	ActFarewell,
	ActPass,
}

// ActionMsg is the flat wire envelope for every action type. Which fields are
// meaningful depends on Type.
type ActionMsg struct {
	Type         string   `json:"type"`
	TargetID     string   `json:"target_id,omitempty"`
	TargetIDs    []string `json:"target_ids,omitempty"`
	Message      string   `json:"message,omitempty"`
	AllianceName string   `json:"alliance_name,omitempty"`
	AllianceID   string   `json:"alliance_id,omitempty"`
	Strategy     string   `json:"strategy,omitempty"`
	Score        *int     `json:"score,omitempty"`
	Comment      string   `json:"comment,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

func DecodeAction(b []byte) (ActionMsg, error) {
	var m ActionMsg
	err := json.Unmarshal(b, &m)
	return m, err
}
