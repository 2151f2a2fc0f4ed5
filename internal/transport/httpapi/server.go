package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/island"
)

const maxBodyBytes = 64 * 1024

// History serves finished games that are no longer in the entity store's
// active set.
type History interface {
	Get(id string) (*island.ArchiveRecord, bool, error)
}

// Streamer upgrades a request into a spectator stream for one island.
type Streamer interface {
	ServeIsland(rw http.ResponseWriter, r *http.Request, islandID string)
}

// AgentStreamer upgrades a request into a push channel for one agent.
type AgentStreamer interface {
	ServeAgent(rw http.ResponseWriter, r *http.Request, agentID string)
}

type Options struct {
	Engine  *island.Engine
	History History
	Stream  Streamer
	Agents  AgentStreamer
	Logger  *log.Logger
}

// Server is the HTTP face of the referee. It owns no game state; every route
// validates its body, calls one engine operation and maps the result.
type Server struct {
	engine  *island.Engine
	history History
	stream  Streamer
	agents  AgentStreamer
	log     *log.Logger
	schemas map[string]*jsonschema.Schema
}

func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: nil engine")
	}
	sc, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		engine:  opts.Engine,
		history: opts.History,
		stream:  opts.Stream,
		agents:  opts.Agents,
		log:     logger,
		schemas: sc,
	}, nil
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/agents/join", s.handleJoin)
	mux.HandleFunc("GET /v1/game/{agentId}/state", s.handleState)
	mux.HandleFunc("POST /v1/game/{agentId}/action", s.handleAction)
	mux.HandleFunc("GET /v1/game/{agentId}/ws", s.handleAgentStream)
	mux.HandleFunc("POST /v1/islands", s.handleCreateIsland)
	mux.HandleFunc("GET /v1/islands", s.handleListIslands)
	mux.HandleFunc("GET /v1/islands/{id}", s.handleGetIsland)
	mux.HandleFunc("POST /v1/islands/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /v1/islands/{id}/quick_fill", s.handleQuickFill)
	mux.HandleFunc("GET /v1/islands/{id}/ws", s.handleStream)
	mux.HandleFunc("GET /v1/leaderboard", s.handleLeaderboard)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Server) handleJoin(rw http.ResponseWriter, r *http.Request) {
	var req protocol.JoinReq
	if !s.readBody(rw, r, schemaJoin, &req) {
		return
	}
	ctx := r.Context()
	a, err := s.engine.Register(ctx, req.AgentName, req.CharacterName, req.Portrait)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	res, err := s.engine.Join(ctx, a.ID, req.IslandType)
	if err != nil {
		s.writeError(rw, err)
		return
	}

	p, isl := res.Participant, res.Island
	msg := "Welcome to " + isl.Name + "! Waiting for more castaways."
	if res.Started {
		msg = "Welcome to " + isl.Name + "! The game is on."
	}
	writeJSON(rw, http.StatusCreated, protocol.JoinResp{
		Success:              true,
		RoleplayInstructions: res.Instructions,
		Agent: protocol.JoinedAgent{
			ID:                p.ID,
			RegisteredAgentID: a.ID,
			Name:              p.Name,
			Archetype:         p.Archetype,
			Personality:       p.Personality,
			Voice:             p.Voice,
			Playstyle:         p.Playstyle,
			Catchphrase:       p.Catchphrase,
			Portrait:          p.Portrait,
			Status:            string(p.Status),
		},
		Island: protocol.JoinedIsland{
			ID:              isl.ID,
			Name:            isl.Name,
			Type:            isl.Type,
			Day:             isl.Day,
			Phase:           string(isl.Phase),
			MaxParticipants: isl.MaxParticipants,
			Participants:    len(isl.Participants),
		},
		Started: res.Started,
		Endpoints: protocol.JoinEndpoints{
			GameState:    "/v1/game/" + a.ID + "/state",
			SubmitAction: "/v1/game/" + a.ID + "/action",
			Spectate:     "/v1/islands/" + isl.ID,
		},
		Message: msg,
	})
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	v, err := s.engine.StateFor(r.Context(), r.PathValue("agentId"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleAction(rw http.ResponseWriter, r *http.Request) {
	var msg protocol.ActionMsg
	if !s.readBody(rw, r, schemaAct, &msg) {
		return
	}
	act, err := island.DecodeAction(msg)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	res, err := s.engine.SubmitForAgent(r.Context(), r.PathValue("agentId"), act)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	text := "Action recorded."
	if res.Resolved {
		text = "Action recorded. Everyone has acted; the island moved on."
	}
	writeJSON(rw, http.StatusOK, protocol.ActResp{
		Success:  true,
		Message:  text,
		Phase:    string(res.Phase),
		Day:      res.Day,
		Resolved: res.Resolved,
	})
}

func (s *Server) handleAgentStream(rw http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		http.NotFound(rw, r)
		return
	}
	id := r.PathValue("agentId")
	if _, err := s.engine.StateFor(r.Context(), id); err != nil {
		s.writeError(rw, err)
		return
	}
	s.agents.ServeAgent(rw, r, id)
}

func (s *Server) handleCreateIsland(rw http.ResponseWriter, r *http.Request) {
	var req protocol.CreateIslandReq
	if !s.readBody(rw, r, schemaCreate, &req) {
		return
	}
	isl, err := s.engine.CreateIsland(r.Context(), req.IslandType)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusCreated, island.NewSpectatorView(isl))
}

func (s *Server) handleListIslands(rw http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListIslands(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"islands": list})
}

func (s *Server) handleGetIsland(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.engine.Spectate(r.Context(), id)
	if err == nil {
		writeJSON(rw, http.StatusOK, v)
		return
	}
	if island.CodeOf(err) != protocol.ErrArenaNotFound || s.history == nil {
		s.writeError(rw, err)
		return
	}
	rec, ok, herr := s.history.Get(id)
	if herr != nil {
		s.log.Printf("archive lookup %s: %v", id, herr)
	}
	if !ok {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		Archived bool `json:"archived"`
		*island.ArchiveRecord
	}{Archived: true, ArchiveRecord: rec})
}

func (s *Server) handleAdvance(rw http.ResponseWriter, r *http.Request) {
	var req protocol.AdvanceReq
	if !s.readBody(rw, r, schemaAdvance, &req) {
		return
	}
	res, err := s.engine.Advance(r.Context(), r.PathValue("id"), req.Force)
	if err != nil {
		s.writeError(rw, err)
		return
	}
	out := protocol.AdvanceResp{
		Advanced: res.Advanced,
		Phase:    string(res.Phase),
		Day:      res.Day,
		Message:  res.Message,
	}
	if !res.Deadline.IsZero() {
		d := res.Deadline
		out.Deadline = &d
	}
	if !res.Advanced {
		out.SubmittedCount = res.Submitted
		out.AliveCount = res.InPlay
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleQuickFill(rw http.ResponseWriter, r *http.Request) {
	isl, err := s.engine.QuickFill(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, island.NewSpectatorView(isl))
}

func (s *Server) handleStream(rw http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.NotFound(rw, r)
		return
	}
	id := r.PathValue("id")
	if _, err := s.engine.Spectate(r.Context(), id); err != nil {
		s.writeError(rw, err)
		return
	}
	s.stream.ServeIsland(rw, r, id)
}

func (s *Server) handleLeaderboard(rw http.ResponseWriter, r *http.Request) {
	board, err := s.engine.Leaderboard(r.Context())
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"leaderboard":  board,
		"generated_at": time.Now().UTC(),
	})
}

// readBody validates and decodes the request body, writing a 400 on failure.
func (s *Server) readBody(rw http.ResponseWriter, r *http.Request, schema string, v any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.ErrorResp{Error: "request body too large", Code: protocol.ErrProtoBadRequest})
		return false
	}
	if err := s.validateBody(schema, raw, v); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.ErrorResp{Error: err.Error(), Code: protocol.ErrProtoBadRequest})
		return false
	}
	return true
}

func (s *Server) writeError(rw http.ResponseWriter, err error) {
	var ge *island.Error
	if !errors.As(err, &ge) {
		s.log.Printf("internal error: %v", err)
		writeJSON(rw, http.StatusInternalServerError, protocol.ErrorResp{Error: "internal error", Code: protocol.ErrInternal})
		return
	}
	writeJSON(rw, StatusFor(ge.Code), protocol.ErrorResp{
		Error:         ge.Msg,
		Code:          ge.Code,
		CooldownHours: ge.CooldownHours,
		ValidActions:  ge.ValidActions,
	})
}

// StatusFor maps an E_* code to its HTTP status.
func StatusFor(code string) int {
	switch {
	case protocol.IsNotFound(code):
		return http.StatusNotFound
	case code == protocol.ErrOnCooldown:
		return http.StatusTooManyRequests
	case code == protocol.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
