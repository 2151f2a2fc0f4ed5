package protocol

import "time"

// POST /v1/agents/join (client -> server)
type JoinReq struct {
	AgentName     string `json:"agent_name"`
	CharacterName string `json:"character_name"`
	IslandType    string `json:"island_type,omitempty"`
	Portrait      string `json:"portrait,omitempty"`
}

// POST /v1/agents/join (server -> client)
type JoinResp struct {
	Success              bool          `json:"success"`
	RoleplayInstructions string        `json:"roleplay_instructions"`
	Agent                JoinedAgent   `json:"agent"`
	Island               JoinedIsland  `json:"island"`
	Started              bool          `json:"started"`
	Endpoints            JoinEndpoints `json:"endpoints"`
	Message              string        `json:"message"`
}

type JoinedAgent struct {
	ID                string `json:"id"`
	RegisteredAgentID string `json:"registered_agent_id"`
	Name              string `json:"name"`
	Archetype         string `json:"archetype"`
	Personality       string `json:"personality"`
	Voice             string `json:"voice"`
	Playstyle         string `json:"playstyle"`
	Catchphrase       string `json:"catchphrase"`
	Portrait          string `json:"portrait"`
	Status            string `json:"status"`
}

type JoinedIsland struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	Day             int    `json:"day"`
	Phase           string `json:"phase"`
	MaxParticipants int    `json:"max_participants"`
	Participants    int    `json:"participants"`
}

type JoinEndpoints struct {
	GameState    string `json:"game_state"`
	SubmitAction string `json:"submit_action"`
	Spectate     string `json:"spectate"`
}

// POST /v1/game/{agentId}/action (server -> client). The request body is an ActionMsg.
type ActResp struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Phase    string `json:"phase"`
	Day      int    `json:"day"`
	Resolved bool   `json:"resolved,omitempty"`
}

// POST /v1/islands (client -> server)
type CreateIslandReq struct {
	IslandType string `json:"island_type,omitempty"`
}

// POST /v1/islands/{id}/advance (client -> server)
type AdvanceReq struct {
	Force bool `json:"force,omitempty"`
}

// POST /v1/islands/{id}/advance (server -> client)
type AdvanceResp struct {
	Advanced       bool       `json:"advanced"`
	Phase          string     `json:"phase"`
	Day            int        `json:"day"`
	Message        string     `json:"message,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	SubmittedCount int        `json:"submitted_count,omitempty"`
	AliveCount     int        `json:"alive_count,omitempty"`
}

// Error body for every non-2xx response.
type ErrorResp struct {
	Error         string   `json:"error"`
	Code          string   `json:"code"`
	CooldownHours int      `json:"cooldown_hours,omitempty"`
	ValidActions  []string `json:"valid_actions,omitempty"`
}
