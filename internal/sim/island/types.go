package island

import (
	"time"

	"clawparadise.ai/internal/sim/catalogs"
)

type Phase string

const (
	PhaseLobby         Phase = "LOBBY"
	PhaseMorning       Phase = "MORNING"
	PhaseChallenge     Phase = "CHALLENGE"
	PhaseJudging       Phase = "JUDGING"
	PhaseAfternoon     Phase = "AFTERNOON"
	PhaseTribalCouncil Phase = "TRIBAL_COUNCIL"
	PhaseElimination   Phase = "ELIMINATION"
	PhaseGameOver      Phase = "GAME_OVER"
)

// Closed reports whether the phase accepts no action submissions.
func (p Phase) Closed() bool { return p == PhaseLobby || p == PhaseGameOver }

type Status string

const (
	StatusAlive      Status = "alive"
	StatusImmune     Status = "immune"
	StatusEliminated Status = "eliminated"
)

// InPlay reports whether a participant still counts toward submissions and votes.
func (s Status) InPlay() bool { return s == StatusAlive || s == StatusImmune }

type Twist string

const (
	TwistNone              Twist = ""
	TwistDoubleElimination Twist = "double_elimination"
	TwistNoElimination     Twist = "no_elimination"
	TwistImmunityChallenge Twist = "immunity_challenge"
)

type EventType string

const (
	EventConversation         EventType = "conversation"
	EventAllianceFormed       EventType = "alliance_formed"
	EventAllianceBroken       EventType = "alliance_broken"
	EventBetrayal             EventType = "betrayal"
	EventChallengeResult      EventType = "challenge_result"
	EventChallengePerformance EventType = "challenge_performance"
	EventVoteCast             EventType = "vote_cast"
	EventElimination          EventType = "elimination"
	EventDoubleElimination    EventType = "double_elimination"
	EventNoElimination        EventType = "no_elimination"
	EventTwist                EventType = "twist"
	EventFinalWords           EventType = "final_words"
	EventWinner               EventType = "winner"
	EventAgentJoined          EventType = "agent_joined"
	EventNotification         EventType = "notification"
)

// BroadcastTarget is the Message.ToID of a broadcast.
const BroadcastTarget = "all"

// RegisteredAgent is the persistent identity of an external caller.
type RegisteredAgent struct {
	ID              string     `json:"id"`
	AgentName       string     `json:"agent_name"`
	CharacterName   string     `json:"character_name"`
	Portrait        string     `json:"portrait"`
	Wins            int        `json:"wins"`
	GamesPlayed     int        `json:"games_played"`
	Eliminations    int        `json:"eliminations"`
	DaysAlive       int        `json:"days_alive"`
	TotalScore      int        `json:"total_score"`
	CurrentIslandID string     `json:"current_island_id,omitempty"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
	JoinedAt        time.Time  `json:"joined_at"`
	LastGameAt      *time.Time `json:"last_game_at,omitempty"`
}

// CooldownRemaining returns how long the agent must still wait, or 0.
func (a RegisteredAgent) CooldownRemaining(now time.Time) time.Duration {
	if a.CooldownUntil == nil {
		return 0
	}
	if d := a.CooldownUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Island is one running game.
type Island struct {
	ID               string              `json:"id"`
	Type             string              `json:"type"`
	Name             string              `json:"name"`
	Participants     []*Participant      `json:"participants"`
	MaxParticipants  int                 `json:"max_participants"`
	Alliances        []*Alliance         `json:"alliances"`
	Events           []GameEvent         `json:"events"`
	Messages         []Message           `json:"messages"`
	Day              int                 `json:"day"`
	MaxDays          int                 `json:"max_days"`
	Phase            Phase               `json:"phase"`
	Votes            []Vote              `json:"votes"`
	Judges           []string            `json:"judges"`
	ChallengeResults []ChallengeResult   `json:"challenge_results"`
	Challenge        *catalogs.Challenge `json:"challenge,omitempty"`
	Pending          PendingActions      `json:"pending"`
	PhaseDeadline    time.Time           `json:"phase_deadline"`
	WinnerID         string              `json:"winner_id,omitempty"`
	Twist            Twist               `json:"twist,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	EndedAt          *time.Time          `json:"ended_at,omitempty"`
}

type Participant struct {
	ID                string         `json:"id"`
	RegisteredAgentID string         `json:"registered_agent_id"`
	Name              string         `json:"name"`
	Archetype         string         `json:"archetype"`
	Portrait          string         `json:"portrait"`
	Personality       string         `json:"personality"`
	Voice             string         `json:"voice"`
	Playstyle         string         `json:"playstyle"`
	Catchphrase       string         `json:"catchphrase"`
	Stats             catalogs.Stats `json:"stats"`
	Status            Status         `json:"status"`
	AllianceID        string         `json:"alliance_id,omitempty"`
	Memory            Memory         `json:"memory"`
	EliminatedDay     *int           `json:"eliminated_day,omitempty"`
	FinalWords        string         `json:"final_words,omitempty"`
}

type Memory struct {
	TrustScores     map[string]int `json:"trust_scores"`
	Grudges         []string       `json:"grudges"`
	ImmunityCount   int            `json:"immunity_count"`
	ChallengeWins   int            `json:"challenge_wins"`
	VoteHistory     []VoteRecord   `json:"vote_history"`
	Conversations   []string       `json:"conversations"`
	AllianceHistory []string       `json:"alliance_history"`
}

type VoteRecord struct {
	Day      int    `json:"day"`
	VotedFor string `json:"voted_for"`
	Reason   string `json:"reason,omitempty"`
}

type Alliance struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MemberIDs   []string `json:"member_ids"`
	FormedOnDay int      `json:"formed_on_day"`
	Strength    int      `json:"strength"`
	Pending     bool     `json:"pending"`
	ProposedBy  string   `json:"proposed_by"`
	AcceptedBy  []string `json:"accepted_by,omitempty"`
}

type GameEvent struct {
	ID             string         `json:"id"`
	Day            int            `json:"day"`
	Phase          Phase          `json:"phase"`
	Type           EventType      `json:"type"`
	ParticipantIDs []string       `json:"participant_ids"`
	Description    string         `json:"description"`
	Scores         map[string]int `json:"scores,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

type Message struct {
	ID        string    `json:"id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Text      string    `json:"text"`
	Day       int       `json:"day"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

type Vote struct {
	VoterID  string `json:"voter_id"`
	TargetID string `json:"target_id"`
	Reason   string `json:"reason,omitempty"`
}

type ChallengeResult struct {
	ParticipantID string `json:"participant_id"`
	Strategy      string `json:"strategy"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// Participant returns the participant with id, or nil.
func (isl *Island) Participant(id string) *Participant {
	for _, p := range isl.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ParticipantForAgent finds the seat of a registered agent. Participant ids are
// accepted too so callers can address either identity.
func (isl *Island) ParticipantForAgent(id string) *Participant {
	for _, p := range isl.Participants {
		if p.RegisteredAgentID == id || p.ID == id {
			return p
		}
	}
	return nil
}

// InPlay returns the alive or immune participants in seat order.
func (isl *Island) InPlay() []*Participant {
	out := make([]*Participant, 0, len(isl.Participants))
	for _, p := range isl.Participants {
		if p.Status.InPlay() {
			out = append(out, p)
		}
	}
	return out
}

func (isl *Island) countStatus(s Status) int {
	n := 0
	for _, p := range isl.Participants {
		if p.Status == s {
			n++
		}
	}
	return n
}

func (isl *Island) nameOf(id string) string {
	if p := isl.Participant(id); p != nil {
		return p.Name
	}
	return "?"
}

func (isl *Island) alliance(id string) *Alliance {
	for _, a := range isl.Alliances {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (isl *Island) isJudge(id string) bool {
	for _, j := range isl.Judges {
		if j == id {
			return true
		}
	}
	return false
}

func (isl *Island) personaTaken(name string) bool {
	for _, p := range isl.Participants {
		if p.Name == name {
			return true
		}
	}
	return false
}
