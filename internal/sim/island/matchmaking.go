package island

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"text/template"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/catalogs"
)

//go:embed instructions.tmpl
var instructionsText string

var instructionsTmpl = template.Must(template.New("instructions").Parse(instructionsText))

var botNames = []string{
	"AlphaBot", "BetaBot", "GammaBot", "DeltaBot", "EpsilonBot",
	"ZetaBot", "EtaBot", "ThetaBot", "IotaBot", "KappaBot",
	"LambdaBot", "MuBot", "NuBot", "XiBot", "OmicronBot", "PiBot",
}

type JoinResult struct {
	Agent        *RegisteredAgent
	Island       *Island
	Participant  *Participant
	Started      bool
	Instructions string
}

// Register returns the agent registered under name, creating it on first
// contact. Repeat calls ignore persona and portrait.
func (e *Engine) Register(ctx context.Context, name, persona, portrait string) (*RegisteredAgent, error) {
	e.matchmake.Lock()
	defer e.matchmake.Unlock()
	return e.registerLocked(ctx, name, persona, portrait)
}

func (e *Engine) registerLocked(ctx context.Context, name, persona, portrait string) (*RegisteredAgent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, badRequest("agent_name is required")
	}
	id, ok, err := e.store.FindAgentIDByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find agent %q: %w", name, err)
	}
	if ok {
		return e.loadAgent(ctx, id)
	}

	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = catalogs.RandomPersona
	}
	if portrait == "" {
		pool := e.cats.AllPersonas()
		portrait = pool[e.intn(len(pool))].Portrait
	}
	a := &RegisteredAgent{
		ID:            newID("agent"),
		AgentName:     name,
		CharacterName: persona,
		Portrait:      portrait,
		JoinedAt:      e.now(),
	}
	if err := e.store.PutAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("put agent %s: %w", a.ID, err)
	}
	e.log.Printf("registered agent %s (%s) persona=%s", a.ID, a.AgentName, a.CharacterName)
	return a, nil
}

// Join seats a registered agent in a lobby, creating one when none has room.
// islandType may be empty for any type.
func (e *Engine) Join(ctx context.Context, agentID, islandType string) (*JoinResult, error) {
	unlockAgent := e.locks.Lock(agentKey(agentID))
	defer unlockAgent()
	e.matchmake.Lock()
	defer e.matchmake.Unlock()

	a, err := e.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if rem := a.CooldownRemaining(now); rem > 0 {
		hours := int(math.Ceil(rem.Hours()))
		return nil, &Error{
			Code:          protocol.ErrOnCooldown,
			Msg:           fmt.Sprintf("agent is on cooldown. %d hours remaining.", hours),
			CooldownHours: hours,
		}
	}

	if a.CurrentIslandID != "" {
		isl, ok, err := e.store.GetIsland(ctx, a.CurrentIslandID)
		if err != nil {
			return nil, fmt.Errorf("get island %s: %w", a.CurrentIslandID, err)
		}
		if ok {
			if p := isl.ParticipantForAgent(a.ID); p != nil {
				return e.joinResult(a, isl, p, isl.Phase != PhaseLobby)
			}
		}
		a.CurrentIslandID = ""
		if err := e.store.PutAgent(ctx, a); err != nil {
			return nil, fmt.Errorf("put agent %s: %w", a.ID, err)
		}
	}

	if islandType != "" {
		if _, ok := e.cats.ArenaConfig(islandType); !ok {
			return nil, badRequest(fmt.Sprintf("unknown island type %q", islandType))
		}
	}
	lobby, err := e.findLobby(ctx, islandType)
	if err != nil {
		return nil, err
	}
	if lobby == nil {
		if lobby, err = e.createLobby(ctx, islandType); err != nil {
			return nil, err
		}
	}

	unlockIsland := e.locks.Lock(islandKey(lobby.ID))
	defer unlockIsland()
	isl, err := e.loadIsland(ctx, lobby.ID)
	if err != nil {
		return nil, err
	}
	p, started, err := e.seat(ctx, isl, a)
	if err != nil {
		return nil, err
	}
	return e.joinResult(a, isl, p, started)
}

// CreateIsland opens an empty lobby. An empty type picks one at random.
func (e *Engine) CreateIsland(ctx context.Context, islandType string) (*Island, error) {
	if islandType != "" {
		if _, ok := e.cats.ArenaConfig(islandType); !ok {
			return nil, badRequest(fmt.Sprintf("unknown island type %q", islandType))
		}
	}
	e.matchmake.Lock()
	defer e.matchmake.Unlock()
	return e.createLobby(ctx, islandType)
}

// QuickFill seats freshly registered bots until the lobby is full, which
// starts the game.
func (e *Engine) QuickFill(ctx context.Context, islandID string) (*Island, error) {
	e.matchmake.Lock()
	defer e.matchmake.Unlock()
	unlock := e.locks.Lock(islandKey(islandID))
	defer unlock()

	isl, err := e.loadIsland(ctx, islandID)
	if err != nil {
		return nil, err
	}
	if isl.Phase != PhaseLobby {
		return nil, newError(protocol.ErrNotJoinable, "island %s is not in lobby (phase %s)", isl.ID, isl.Phase)
	}
	suffix := isl.ID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	for len(isl.Participants) < isl.MaxParticipants {
		idx := len(isl.Participants)
		base := fmt.Sprintf("Bot%d", idx)
		if idx < len(botNames) {
			base = botNames[idx]
		}
		bot, err := e.registerLocked(ctx, base+"-"+suffix, catalogs.RandomPersona, "")
		if err != nil {
			return nil, err
		}
		if _, _, err := e.seat(ctx, isl, bot); err != nil {
			return nil, err
		}
	}
	e.log.Printf("quick-filled island %s", isl.ID)
	return isl, nil
}

func (e *Engine) findLobby(ctx context.Context, islandType string) (*Island, error) {
	ids, err := e.store.ListActiveIslandIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active islands: %w", err)
	}
	isls, err := e.store.MultiGetIslands(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get islands: %w", err)
	}
	var open []*Island
	for _, isl := range isls {
		if isl.Phase != PhaseLobby || len(isl.Participants) >= isl.MaxParticipants {
			continue
		}
		if islandType != "" && isl.Type != islandType {
			continue
		}
		open = append(open, isl)
	}
	if len(open) == 0 {
		return nil, nil
	}
	// Fill the fullest lobby first so games start sooner.
	sort.SliceStable(open, func(i, j int) bool {
		if len(open[i].Participants) != len(open[j].Participants) {
			return len(open[i].Participants) > len(open[j].Participants)
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open[0], nil
}

func (e *Engine) createLobby(ctx context.Context, islandType string) (*Island, error) {
	if islandType == "" {
		types := e.cats.ArenaTypes()
		islandType = types[e.intn(len(types))]
	}
	cfg, ok := e.cats.ArenaConfig(islandType)
	if !ok {
		return nil, badRequest(fmt.Sprintf("unknown island type %q", islandType))
	}
	ids, err := e.store.ListActiveIslandIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active islands: %w", err)
	}
	isls, err := e.store.MultiGetIslands(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get islands: %w", err)
	}
	n := 1
	for _, other := range isls {
		if other.Type == islandType {
			n++
		}
	}
	isl := &Island{
		ID:              newID("island"),
		Type:            islandType,
		Name:            fmt.Sprintf("%s #%d", cfg.Name, n),
		Participants:    []*Participant{},
		MaxParticipants: e.rules.MaxParticipants,
		Alliances:       []*Alliance{},
		Events:          []GameEvent{},
		Messages:        []Message{},
		MaxDays:         e.rules.MaxDays,
		Phase:           PhaseLobby,
		Votes:           []Vote{},
		Judges:          []string{},
		Pending:         PendingActions{},
		CreatedAt:       e.now(),
	}
	if err := e.commit(ctx, isl, 0); err != nil {
		return nil, err
	}
	e.log.Printf("created lobby %s (%s)", isl.ID, isl.Name)
	return isl, nil
}

// seat adds a to isl, persists both and starts the game when the lobby fills.
// Caller holds the matchmaking and island locks.
func (e *Engine) seat(ctx context.Context, isl *Island, a *RegisteredAgent) (*Participant, bool, error) {
	if isl.Phase != PhaseLobby {
		return nil, false, newError(protocol.ErrNotJoinable, "island %s is not in lobby", isl.ID)
	}
	if len(isl.Participants) >= isl.MaxParticipants {
		return nil, false, newError(protocol.ErrArenaFull, "island %s is full", isl.ID)
	}
	persona, err := e.pickPersona(isl, a.CharacterName)
	if err != nil {
		return nil, false, err
	}

	p := &Participant{
		ID:                newID("inst-agent"),
		RegisteredAgentID: a.ID,
		Name:              persona.Name,
		Archetype:         persona.Archetype,
		Portrait:          persona.Portrait,
		Personality:       persona.Personality,
		Voice:             persona.Voice,
		Playstyle:         persona.Playstyle,
		Catchphrase:       persona.Catchphrase,
		Stats:             persona.Stats,
		Status:            StatusAlive,
		Memory: Memory{
			TrustScores:     map[string]int{},
			Grudges:         []string{},
			VoteHistory:     []VoteRecord{},
			Conversations:   []string{},
			AllianceHistory: []string{},
		},
	}
	for _, other := range isl.Participants {
		p.Memory.TrustScores[other.ID] = e.initialTrust()
		if other.Memory.TrustScores == nil {
			other.Memory.TrustScores = map[string]int{}
		}
		other.Memory.TrustScores[p.ID] = e.initialTrust()
	}

	from := len(isl.Events)
	isl.Participants = append(isl.Participants, p)
	e.emit(isl, PhaseLobby, EventAgentJoined, []string{p.ID},
		fmt.Sprintf("🎭 %s joins as %q (%s)", a.AgentName, p.Name, p.Archetype))

	started := len(isl.Participants) >= isl.MaxParticipants
	if started {
		e.startGame(isl)
	}
	if err := e.commit(ctx, isl, from); err != nil {
		return nil, false, err
	}
	a.CurrentIslandID = isl.ID
	if err := e.store.PutAgent(ctx, a); err != nil {
		return nil, false, fmt.Errorf("put agent %s: %w", a.ID, err)
	}
	if started {
		e.log.Printf("island %s started with %d participants", isl.ID, len(isl.Participants))
	}
	return p, started, nil
}

func (e *Engine) pickPersona(isl *Island, requested string) (catalogs.Persona, error) {
	if requested != "" && requested != catalogs.RandomPersona {
		if isl.personaTaken(requested) {
			return catalogs.Persona{}, newError(protocol.ErrPersonaTaken,
				"character %q is already taken on this island", requested)
		}
		if p, ok := e.cats.PersonaByName(requested); ok {
			return p, nil
		}
		e.log.Printf("persona %q not in catalog, picking at random", requested)
	}
	var free []catalogs.Persona
	for _, p := range e.cats.AllPersonas() {
		if !isl.personaTaken(p.Name) {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return catalogs.Persona{}, newError(protocol.ErrArenaFull, "all characters are taken on this island")
	}
	return free[e.intn(len(free))], nil
}

func (e *Engine) initialTrust() int {
	return e.rules.TrustInitMin + e.intn(e.rules.TrustInitSpan)
}

func (e *Engine) joinResult(a *RegisteredAgent, isl *Island, p *Participant, started bool) (*JoinResult, error) {
	text, err := e.instructions(isl, p)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Agent: a, Island: isl, Participant: p, Started: started, Instructions: text}, nil
}

func (e *Engine) instructions(isl *Island, p *Participant) (string, error) {
	cfg, _ := e.cats.ArenaConfig(isl.Type)
	var b strings.Builder
	err := instructionsTmpl.Execute(&b, map[string]any{
		"Island":              isl.Name,
		"Name":                p.Name,
		"Archetype":           p.Archetype,
		"Personality":         p.Personality,
		"Voice":               p.Voice,
		"Playstyle":           p.Playstyle,
		"Catchphrase":         p.Catchphrase,
		"ArenaEmoji":          cfg.Emoji,
		"ArenaName":           cfg.Name,
		"ArenaDescription":    cfg.Description,
		"MechanicName":        cfg.MechanicName,
		"MechanicDescription": cfg.MechanicDescription,
		"MaxDays":             isl.MaxDays,
		"StatePath":           "/v1/game/" + p.RegisteredAgentID + "/state",
		"ActionPath":          "/v1/game/" + p.RegisteredAgentID + "/action",
	})
	if err != nil {
		return "", fmt.Errorf("render instructions: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
