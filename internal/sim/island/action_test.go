package island

import (
	"context"
	"encoding/json"
	"testing"

	"clawparadise.ai/internal/protocol"
)

func TestDecodeAction_RequiredFields(t *testing.T) {
	bad := []protocol.ActionMsg{
		{},
		{Type: "dance"},
		{Type: protocol.ActSendMessage, Message: "hi"},
		{Type: protocol.ActSendMessage, TargetID: "x", Message: "  "},
		{Type: protocol.ActBroadcast},
		{Type: protocol.ActProposeAlliance},
		{Type: protocol.ActSubmitJudgment},
		{Type: protocol.ActVote},
		{Type: protocol.ActFarewell},
	}
	for _, m := range bad {
		if _, err := DecodeAction(m); CodeOf(err) != protocol.ErrBadRequest {
			t.Fatalf("%+v: expected E_BAD_REQUEST, got %v", m, err)
		}
	}

	score := 7
	a, err := DecodeAction(protocol.ActionMsg{Type: protocol.ActSubmitJudgment, TargetID: "p2", Score: &score})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	j, ok := a.(SubmitJudgment)
	if !ok || j.TargetID != "p2" || j.Score == nil || *j.Score != 7 {
		t.Fatalf("decoded %#v", a)
	}
	score = 1
	if *j.Score != 7 {
		t.Fatalf("decoded score aliases the envelope")
	}
}

func TestPendingActions_JSON(t *testing.T) {
	in := PendingActions{
		"p1": CastVote{TargetID: "p2", Reason: "snake"},
		"p2": Pass{},
		"p3": ProposeAlliance{TargetIDs: []string{"p1", "p2"}, Name: "Tide"},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out PendingActions
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := out["p1"].(CastVote); !ok || v.TargetID != "p2" || v.Reason != "snake" {
		t.Fatalf("p1 = %#v", out["p1"])
	}
	if _, ok := out["p2"].(Pass); !ok {
		t.Fatalf("p2 = %#v", out["p2"])
	}
	if v, ok := out["p3"].(ProposeAlliance); !ok || len(v.TargetIDs) != 2 || v.Name != "Tide" {
		t.Fatalf("p3 = %#v", out["p3"])
	}
}

func TestValidActions_ClosedPhases(t *testing.T) {
	for _, ph := range []Phase{PhaseLobby, PhaseGameOver} {
		if got := ValidActions(ph); len(got) != 0 {
			t.Fatalf("%s: %v", ph, got)
		}
	}
	for ph, acts := range phaseActions {
		if acts[len(acts)-1] != protocol.ActPass {
			t.Fatalf("%s does not allow pass", ph)
		}
	}
}

func TestMemStore_NameIndexAndActiveSet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	if err := s.PutAgent(ctx, &RegisteredAgent{ID: "a1", AgentName: "Kai"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutAgent(ctx, &RegisteredAgent{ID: "a2", AgentName: "KAI"}); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	id, ok, _ := s.FindAgentIDByName(ctx, " kai ")
	if !ok || id != "a1" {
		t.Fatalf("find = %q %v", id, ok)
	}

	got, _, _ := s.GetAgent(ctx, "a1")
	got.Wins = 9
	again, _, _ := s.GetAgent(ctx, "a1")
	if again.Wins != 0 {
		t.Fatalf("get returned a shared value")
	}

	_ = s.PutIsland(ctx, &Island{ID: "i1", Phase: PhaseMorning})
	_ = s.PutIsland(ctx, &Island{ID: "i2", Phase: PhaseLobby})
	_ = s.PutIsland(ctx, &Island{ID: "i1", Phase: PhaseGameOver})
	ids, _ := s.ListActiveIslandIDs(ctx)
	if len(ids) != 1 || ids[0] != "i2" {
		t.Fatalf("active = %v", ids)
	}
	isls, _ := s.MultiGetIslands(ctx, []string{"i1", "missing", "i2"})
	if len(isls) != 2 {
		t.Fatalf("multiget = %d", len(isls))
	}
}
