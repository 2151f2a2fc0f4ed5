package protocol

// Agent stream (GET /v1/game/{agentId}/ws). The server pushes STATE after
// connecting and whenever the agent's island changes; the agent may send ACT
// instead of POSTing to the action route.
const (
	TypeState     = "STATE"
	TypeAct       = "ACT"
	TypeActResult = "ACT_RESULT"
	TypeError     = "ERROR"
)

type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// StateMsg carries an island.AgentView. It is kept as `any` so this package
// stays free of engine types.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	State           any    `json:"state"`
}

type ActMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Seq             int       `json:"seq,omitempty"`
	Action          ActionMsg `json:"action"`
}

type ActResultMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Seq             int     `json:"seq,omitempty"`
	Result          ActResp `json:"result"`
}

type ErrorMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Seq             int       `json:"seq,omitempty"`
	Error           ErrorResp `json:"error"`
}
