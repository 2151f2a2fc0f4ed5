package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"clawparadise.ai/internal/protocol"
	"clawparadise.ai/internal/sim/island"
)

type fakeEngine struct {
	views atomic.Int32
}

func (f *fakeEngine) StateFor(_ context.Context, agentID string) (*island.AgentView, error) {
	n := f.views.Add(1)
	return &island.AgentView{Status: island.ViewInGame, IslandID: "island-1", Phase: island.PhaseMorning, Day: int(n)}, nil
}

func (f *fakeEngine) SubmitForAgent(_ context.Context, agentID string, act island.Action) (*island.SubmitResult, error) {
	if act.Type() == protocol.ActVote {
		return nil, &island.Error{Code: protocol.ErrInvalidActionForPhase, Msg: "voting is closed", ValidActions: []string{protocol.ActPass}}
	}
	return &island.SubmitResult{Phase: island.PhaseMorning, Day: 1, Resolved: true}, nil
}

type stateMsg struct {
	Type  string           `json:"type"`
	State island.AgentView `json:"state"`
}

func dial(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		s.ServeAgent(rw, r, "agent-1")
	}))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
}

func TestServer_PushesStateOnOwnIslandOnly(t *testing.T) {
	s := NewServer(&fakeEngine{}, nil)
	conn, done := dial(t, s)
	defer done()

	var first stateMsg
	readJSON(t, conn, &first)
	if first.Type != protocol.TypeState || first.State.IslandID != "island-1" || first.State.Day != 1 {
		t.Fatalf("first = %+v", first)
	}
	if s.Connections() != 1 {
		t.Fatalf("connections = %d", s.Connections())
	}

	s.PublishEvents("island-2", []island.GameEvent{{ID: "other"}})
	s.PublishEvents("island-1", []island.GameEvent{{ID: "evt-1"}})

	var second stateMsg
	readJSON(t, conn, &second)
	if second.State.Day != 2 {
		t.Fatalf("second push built from %d views, want 2", second.State.Day)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Pushes() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Pushes() != 2 {
		t.Fatalf("pushes = %d", s.Pushes())
	}
}

func TestServer_ActOverSocket(t *testing.T) {
	s := NewServer(&fakeEngine{}, nil)
	conn, done := dial(t, s)
	defer done()

	var st stateMsg
	readJSON(t, conn, &st)

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(map[string]any{"type": "PING"})
	send(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Seq: 5, Action: protocol.ActionMsg{Type: protocol.ActPass}})
	var ok protocol.ActResultMsg
	readJSON(t, conn, &ok)
	if ok.Type != protocol.TypeActResult || ok.Seq != 5 || !ok.Result.Success || !ok.Result.Resolved {
		t.Fatalf("act result = %+v", ok)
	}

	send(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Seq: 6, Action: protocol.ActionMsg{Type: protocol.ActVote, TargetID: "p2"}})
	var bad protocol.ErrorMsg
	readJSON(t, conn, &bad)
	if bad.Type != protocol.TypeError || bad.Seq != 6 || bad.Error.Code != protocol.ErrInvalidActionForPhase || len(bad.Error.ValidActions) != 1 {
		t.Fatalf("vote error = %+v", bad)
	}

	send(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: "0.0", Seq: 7, Action: protocol.ActionMsg{Type: protocol.ActPass}})
	bad = protocol.ErrorMsg{}
	readJSON(t, conn, &bad)
	if bad.Seq != 7 || bad.Error.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("version error = %+v", bad)
	}

	send(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Seq: 8, Action: protocol.ActionMsg{Type: protocol.ActSendMessage}})
	bad = protocol.ErrorMsg{}
	readJSON(t, conn, &bad)
	if bad.Seq != 8 || bad.Error.Code != protocol.ErrBadRequest {
		t.Fatalf("decode error = %+v", bad)
	}
}
