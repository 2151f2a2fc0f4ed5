package island

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	ViewInGame    = "in_game"
	ViewNotInGame = "not_in_game"
)

// AgentView is what one participant may see of its island.
type AgentView struct {
	Status string `json:"status"`

	IslandID         string               `json:"island_id,omitempty"`
	IslandName       string               `json:"island_name,omitempty"`
	IslandType       string               `json:"island_type,omitempty"`
	Phase            Phase                `json:"phase,omitempty"`
	Day              int                  `json:"day,omitempty"`
	MaxDays          int                  `json:"max_days,omitempty"`
	Twist            Twist                `json:"day_twist,omitempty"`
	Deadline         *time.Time           `json:"deadline,omitempty"`
	Judges           []string             `json:"judges,omitempty"`
	Challenge        string               `json:"challenge,omitempty"`
	You              *SelfView            `json:"you,omitempty"`
	Alive            []PeerView           `json:"alive_agents,omitempty"`
	Alliances        []AllianceView       `json:"alliances,omitempty"`
	Messages         []MessageView        `json:"messages,omitempty"`
	RecentEvents     []EventView          `json:"recent_events,omitempty"`
	ChallengeResults []ChallengeEntryView `json:"challenge_results,omitempty"`
	ValidActions     []string             `json:"available_actions,omitempty"`
}

type SelfView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Archetype    string `json:"archetype"`
	Status       Status `json:"status"`
	AllianceID   string `json:"alliance_id,omitempty"`
	HasSubmitted bool   `json:"has_submitted"`
	IsJudge      bool   `json:"is_judge"`
}

type PeerView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Archetype  string `json:"archetype"`
	Status     Status `json:"status"`
	AllianceID string `json:"alliance_id,omitempty"`
}

type AllianceView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Members  []string `json:"members"`
	Strength int      `json:"strength"`
	Pending  bool     `json:"pending"`
}

type MessageView struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type EventView struct {
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	Day         int       `json:"day"`
	Phase       Phase     `json:"phase"`
}

type ChallengeEntryView struct {
	Agent    string `json:"agent"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
	Strategy string `json:"strategy"`
}

// StateFor returns the agent-scoped view of the island the agent is playing on.
func (e *Engine) StateFor(ctx context.Context, agentID string) (*AgentView, error) {
	a, err := e.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	notInGame := &AgentView{Status: ViewNotInGame}
	if a.CurrentIslandID == "" {
		return notInGame, nil
	}
	isl, ok, err := e.store.GetIsland(ctx, a.CurrentIslandID)
	if err != nil {
		return nil, fmt.Errorf("get island %s: %w", a.CurrentIslandID, err)
	}
	if !ok {
		return notInGame, nil
	}
	me := isl.ParticipantForAgent(a.ID)
	if me == nil {
		return notInGame, nil
	}
	return e.agentView(isl, me), nil
}

func (e *Engine) agentView(isl *Island, me *Participant) *AgentView {
	_, submitted := isl.Pending[me.ID]
	v := &AgentView{
		Status:     ViewInGame,
		IslandID:   isl.ID,
		IslandName: isl.Name,
		IslandType: isl.Type,
		Phase:      isl.Phase,
		Day:        isl.Day,
		MaxDays:    isl.MaxDays,
		Twist:      isl.Twist,
		Judges:     append([]string{}, isl.Judges...),
		You: &SelfView{
			ID:           me.ID,
			Name:         me.Name,
			Archetype:    me.Archetype,
			Status:       me.Status,
			AllianceID:   me.AllianceID,
			HasSubmitted: submitted,
			IsJudge:      isl.isJudge(me.ID),
		},
		Alive:            []PeerView{},
		Alliances:        allianceViews(isl),
		Messages:         []MessageView{},
		RecentEvents:     e.recentEvents(isl),
		ChallengeResults: challengeViews(isl),
		ValidActions:     ValidActions(isl.Phase),
	}
	if !isl.PhaseDeadline.IsZero() {
		d := isl.PhaseDeadline
		v.Deadline = &d
	}
	if isl.Challenge != nil {
		v.Challenge = fmt.Sprintf("%s: %s", isl.Challenge.Name, isl.Challenge.Prompt)
	}
	for _, p := range isl.InPlay() {
		v.Alive = append(v.Alive, PeerView{ID: p.ID, Name: p.Name, Archetype: p.Archetype, Status: p.Status, AllianceID: p.AllianceID})
	}
	for _, m := range isl.Messages {
		if m.Day != isl.Day {
			continue
		}
		if m.ToID != me.ID && m.FromID != me.ID && m.ToID != BroadcastTarget {
			continue
		}
		to := "everyone"
		if m.ToID != BroadcastTarget {
			to = isl.nameOf(m.ToID)
		}
		v.Messages = append(v.Messages, MessageView{From: isl.nameOf(m.FromID), To: to, Text: m.Text, Timestamp: m.Timestamp})
	}
	return v
}

func allianceViews(isl *Island) []AllianceView {
	out := make([]AllianceView, 0, len(isl.Alliances))
	for _, al := range isl.Alliances {
		names := make([]string, len(al.MemberIDs))
		for i, id := range al.MemberIDs {
			names[i] = isl.nameOf(id)
		}
		out = append(out, AllianceView{ID: al.ID, Name: al.Name, Members: names, Strength: al.Strength, Pending: al.Pending})
	}
	return out
}

func challengeViews(isl *Island) []ChallengeEntryView {
	out := make([]ChallengeEntryView, 0, len(isl.ChallengeResults))
	for _, r := range isl.ChallengeResults {
		out = append(out, ChallengeEntryView{Agent: isl.nameOf(r.ParticipantID), Score: r.Score, Rank: r.Rank, Strategy: r.Strategy})
	}
	return out
}

// recentEvents returns the tail of today's and yesterday's timeline.
func (e *Engine) recentEvents(isl *Island) []EventView {
	var out []EventView
	for _, ev := range isl.Events {
		if ev.Day >= isl.Day-1 {
			out = append(out, EventView{Type: ev.Type, Description: ev.Description, Day: ev.Day, Phase: ev.Phase})
		}
	}
	if n := e.rules.RecentEvents; len(out) > n {
		out = out[len(out)-n:]
	}
	if out == nil {
		out = []EventView{}
	}
	return out
}

// SpectatorView is the public state of an island. Pending action contents are
// hidden; only who has submitted is shown.
type SpectatorView struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Name             string            `json:"name"`
	Phase            Phase             `json:"phase"`
	Day              int               `json:"day"`
	MaxDays          int               `json:"max_days"`
	MaxParticipants  int               `json:"max_participants"`
	Twist            Twist             `json:"day_twist,omitempty"`
	Deadline         time.Time         `json:"deadline"`
	Participants     []*Participant    `json:"participants"`
	Alliances        []*Alliance       `json:"alliances"`
	Judges           []string          `json:"judges"`
	Challenge        string            `json:"challenge,omitempty"`
	ChallengeResults []ChallengeResult `json:"challenge_results"`
	Votes            []Vote            `json:"votes"`
	Submitted        []string          `json:"submitted"`
	Events           []GameEvent       `json:"events"`
	Messages         []Message         `json:"messages"`
	WinnerID         string            `json:"winner_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
}

func NewSpectatorView(isl *Island) *SpectatorView {
	v := &SpectatorView{
		ID:               isl.ID,
		Type:             isl.Type,
		Name:             isl.Name,
		Phase:            isl.Phase,
		Day:              isl.Day,
		MaxDays:          isl.MaxDays,
		MaxParticipants:  isl.MaxParticipants,
		Twist:            isl.Twist,
		Deadline:         isl.PhaseDeadline,
		Participants:     isl.Participants,
		Alliances:        isl.Alliances,
		Judges:           isl.Judges,
		ChallengeResults: isl.ChallengeResults,
		Votes:            isl.Votes,
		Submitted:        []string{},
		Events:           isl.Events,
		Messages:         isl.Messages,
		WinnerID:         isl.WinnerID,
		CreatedAt:        isl.CreatedAt,
		EndedAt:          isl.EndedAt,
	}
	if isl.Challenge != nil {
		v.Challenge = fmt.Sprintf("%s: %s", isl.Challenge.Name, isl.Challenge.Prompt)
	}
	for _, p := range isl.Participants {
		if _, ok := isl.Pending[p.ID]; ok {
			v.Submitted = append(v.Submitted, p.ID)
		}
	}
	return v
}

// Spectate loads an island and returns its public view.
func (e *Engine) Spectate(ctx context.Context, islandID string) (*SpectatorView, error) {
	isl, err := e.loadIsland(ctx, islandID)
	if err != nil {
		return nil, err
	}
	return NewSpectatorView(isl), nil
}

type IslandSummary struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Name            string    `json:"name"`
	Phase           Phase     `json:"phase"`
	Day             int       `json:"day"`
	MaxDays         int       `json:"max_days"`
	Participants    int       `json:"participants"`
	Alive           int       `json:"alive"`
	MaxParticipants int       `json:"max_participants"`
	Twist           Twist     `json:"day_twist,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListIslands summarizes the active islands, newest first.
func (e *Engine) ListIslands(ctx context.Context) ([]IslandSummary, error) {
	ids, err := e.store.ListActiveIslandIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active islands: %w", err)
	}
	isls, err := e.store.MultiGetIslands(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get islands: %w", err)
	}
	out := make([]IslandSummary, 0, len(isls))
	for _, isl := range isls {
		out = append(out, IslandSummary{
			ID:              isl.ID,
			Type:            isl.Type,
			Name:            isl.Name,
			Phase:           isl.Phase,
			Day:             isl.Day,
			MaxDays:         isl.MaxDays,
			Participants:    len(isl.Participants),
			Alive:           len(isl.InPlay()),
			MaxParticipants: isl.MaxParticipants,
			Twist:           isl.Twist,
			CreatedAt:       isl.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type LeaderboardEntry struct {
	Rank             int     `json:"rank"`
	ID               string  `json:"id"`
	AgentName        string  `json:"agent_name"`
	CharacterName    string  `json:"character_name"`
	Portrait         string  `json:"portrait"`
	Wins             int     `json:"wins"`
	GamesPlayed      int     `json:"games_played"`
	Eliminations     int     `json:"eliminations"`
	DaysAlive        int     `json:"days_alive"`
	TotalScore       int     `json:"total_score"`
	WinRate          float64 `json:"win_rate"`
	AvgDaysAlive     float64 `json:"avg_days_alive"`
	CooldownHours    int     `json:"cooldown_hours"`
	CurrentlyPlaying bool    `json:"currently_playing"`
}

// Leaderboard ranks agents that finished at least one game by total score,
// then wins, then games played.
func (e *Engine) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	ids, err := e.store.ListAgentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	agents, err := e.store.MultiGetAgents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get agents: %w", err)
	}
	now := e.now()
	out := []LeaderboardEntry{}
	for _, a := range agents {
		if a.GamesPlayed == 0 {
			continue
		}
		out = append(out, LeaderboardEntry{
			ID:               a.ID,
			AgentName:        a.AgentName,
			CharacterName:    a.CharacterName,
			Portrait:         a.Portrait,
			Wins:             a.Wins,
			GamesPlayed:      a.GamesPlayed,
			Eliminations:     a.Eliminations,
			DaysAlive:        a.DaysAlive,
			TotalScore:       a.TotalScore,
			WinRate:          round1(100 * float64(a.Wins) / float64(a.GamesPlayed)),
			AvgDaysAlive:     round1(float64(a.DaysAlive) / float64(a.GamesPlayed)),
			CooldownHours:    int(math.Ceil(a.CooldownRemaining(now).Hours())),
			CurrentlyPlaying: a.CurrentIslandID != "",
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.GamesPlayed != b.GamesPlayed {
			return a.GamesPlayed > b.GamesPlayed
		}
		return a.AgentName < b.AgentName
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
