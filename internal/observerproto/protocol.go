package observerproto

import "clawparadise.ai/internal/sim/island"

// Version is the spectator stream protocol version (separate from the agent HTTP protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeSnapshot  = "SNAPSHOT"
	TypeEvents    = "EVENTS"
)

// Client -> Server. First message on the spectator WS connection. Re-sending it
// asks for a fresh SNAPSHOT.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Server -> Client. Full read-only island state, sent after each SUBSCRIBE.
type SnapshotMsg struct {
	Type            string               `json:"type"`
	ProtocolVersion string               `json:"protocol_version"`
	IslandID        string               `json:"island_id"`
	View            *island.SpectatorView `json:"view"`
}

// Server -> Client. Timeline events appended since the previous batch.
type EventsMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	IslandID        string             `json:"island_id"`
	Events          []island.GameEvent `json:"events"`
}
