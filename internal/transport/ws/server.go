package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/island"
)

// Engine is what the agent stream needs from the referee.
type Engine interface {
	StateFor(ctx context.Context, agentID string) (*island.AgentView, error)
	SubmitForAgent(ctx context.Context, agentID string, act island.Action) (*island.SubmitResult, error)
}

type conn struct {
	agentID string
	island  atomic.Value // string: island the last pushed view was on
	refresh chan struct{}
}

func (c *conn) islandID() string {
	id, _ := c.island.Load().(string)
	return id
}

// Server pushes each connected agent's view whenever its island commits and
// accepts ACT messages on the same socket. It implements island.EventSink.
type Server struct {
	engine Engine
	log    *log.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]struct{}

	pushes atomic.Uint64
}

var _ island.EventSink = (*Server)(nil)

func NewServer(e Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		engine: e,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // agents are not browsers
		},
		conns: map[*conn]struct{}{},
	}
}

// PublishEvents runs under the island's lock, so it only flags connections
// for a refresh. Agents between games watch every island so they notice a
// new seat.
func (s *Server) PublishEvents(islandID string, _ []island.GameEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		if id := c.islandID(); id != islandID && id != "" {
			continue
		}
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

// Connections is the number of open agent streams.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Pushes is the number of STATE messages sent.
func (s *Server) Pushes() uint64 { return s.pushes.Load() }

// ServeAgent upgrades the request and streams agentID's view until the
// client disconnects. The caller has already checked that the agent exists.
func (s *Server) ServeAgent(rw http.ResponseWriter, r *http.Request, agentID string) {
	ws, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	c := &conn{agentID: agentID, refresh: make(chan struct{}, 1)}
	c.island.Store("")
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Replies to ACT go through the writer goroutine so writes stay serialized.
	replies := make(chan []byte, 8)
	c.refresh <- struct{}{}

	go func() {
		if err := s.writeLoop(ctx, ws, c, replies); err != nil && ctx.Err() == nil {
			cancel()
			_ = ws.Close()
		}
	}()

	for {
		_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		b := s.handleMessage(ctx, agentID, msg)
		if b == nil {
			continue
		}
		select {
		case replies <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, c *conn, replies <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-replies:
			if err := writeMessage(ws, b); err != nil {
				return err
			}
		case <-c.refresh:
			v, err := s.engine.StateFor(ctx, c.agentID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Printf("agent stream %s: state: %v", c.agentID, err)
				continue
			}
			c.island.Store(v.IslandID)
			b, err := json.Marshal(protocol.StateMsg{Type: protocol.TypeState, ProtocolVersion: protocol.Version, State: v})
			if err != nil {
				return err
			}
			if err := writeMessage(ws, b); err != nil {
				return err
			}
			s.pushes.Add(1)
		}
	}
}

// handleMessage returns the reply for one client message, or nil to ignore it.
func (s *Server) handleMessage(ctx context.Context, agentID string, msg []byte) []byte {
	var base protocol.BaseMessage
	if err := json.Unmarshal(msg, &base); err != nil || base.Type != protocol.TypeAct {
		return nil
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil || act.ProtocolVersion != protocol.Version {
		return errorReply(act.Seq, &island.Error{Code: protocol.ErrProtoBadRequest, Msg: "malformed ACT or bad protocol_version"})
	}

	a, err := island.DecodeAction(act.Action)
	if err != nil {
		return errorReply(act.Seq, err)
	}
	res, err := s.engine.SubmitForAgent(ctx, agentID, a)
	if err != nil {
		return errorReply(act.Seq, err)
	}
	text := "Action recorded."
	if res.Resolved {
		text = "Action recorded. Everyone has acted; the island moved on."
	}
	b, _ := json.Marshal(protocol.ActResultMsg{
		Type:            protocol.TypeActResult,
		ProtocolVersion: protocol.Version,
		Seq:             act.Seq,
		Result: protocol.ActResp{
			Success:  true,
			Message:  text,
			Phase:    string(res.Phase),
			Day:      res.Day,
			Resolved: res.Resolved,
		},
	})
	return b
}

func errorReply(seq int, err error) []byte {
	er := protocol.ErrorResp{Error: "internal error", Code: protocol.ErrInternal}
	var ge *island.Error
	if errors.As(err, &ge) {
		er = protocol.ErrorResp{Error: ge.Msg, Code: ge.Code, CooldownHours: ge.CooldownHours, ValidActions: ge.ValidActions}
	}
	b, _ := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Seq: seq, Error: er})
	return b
}

func writeMessage(ws *websocket.Conn, b []byte) error {
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, b)
}
