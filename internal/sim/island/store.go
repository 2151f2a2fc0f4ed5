package island

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Store is the durable home of islands and registered agents. Values are whole
// documents: Get returns an independent copy and Put replaces the stored value.
type Store interface {
	GetIsland(ctx context.Context, id string) (*Island, bool, error)
	PutIsland(ctx context.Context, isl *Island) error
	// ListActiveIslandIDs returns ids of islands not yet in GAME_OVER.
	ListActiveIslandIDs(ctx context.Context) ([]string, error)
	MultiGetIslands(ctx context.Context, ids []string) ([]*Island, error)

	GetAgent(ctx context.Context, id string) (*RegisteredAgent, bool, error)
	PutAgent(ctx context.Context, a *RegisteredAgent) error
	ListAgentIDs(ctx context.Context) ([]string, error)
	// FindAgentIDByName matches the display name case-insensitively.
	FindAgentIDByName(ctx context.Context, name string) (string, bool, error)
	MultiGetAgents(ctx context.Context, ids []string) ([]*RegisteredAgent, error)
}

// NameKey is the case-folded form used for agent name uniqueness.
func NameKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// MemStore keeps JSON-encoded documents in memory. It is the single-process
// store used by tests and by the server when no database path is given.
type MemStore struct {
	mu      sync.RWMutex
	islands map[string][]byte
	active  map[string]struct{}
	agents  map[string][]byte
	names   map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		islands: map[string][]byte{},
		active:  map[string]struct{}{},
		agents:  map[string][]byte{},
		names:   map[string]string{},
	}
}

func (s *MemStore) GetIsland(_ context.Context, id string) (*Island, bool, error) {
	s.mu.RLock()
	raw, ok := s.islands[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var isl Island
	if err := json.Unmarshal(raw, &isl); err != nil {
		return nil, false, fmt.Errorf("decode island %s: %w", id, err)
	}
	return &isl, true, nil
}

func (s *MemStore) PutIsland(_ context.Context, isl *Island) error {
	raw, err := json.Marshal(isl)
	if err != nil {
		return fmt.Errorf("encode island %s: %w", isl.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.islands[isl.ID] = raw
	if isl.Phase == PhaseGameOver {
		delete(s.active, isl.ID)
	} else {
		s.active[isl.ID] = struct{}{}
	}
	return nil
}

func (s *MemStore) ListActiveIslandIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemStore) MultiGetIslands(ctx context.Context, ids []string) ([]*Island, error) {
	out := make([]*Island, 0, len(ids))
	for _, id := range ids {
		isl, ok, err := s.GetIsland(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, isl)
		}
	}
	return out, nil
}

func (s *MemStore) GetAgent(_ context.Context, id string) (*RegisteredAgent, bool, error) {
	s.mu.RLock()
	raw, ok := s.agents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	var a RegisteredAgent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return &a, true, nil
}

func (s *MemStore) PutAgent(_ context.Context, a *RegisteredAgent) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", a.ID, err)
	}
	key := NameKey(a.AgentName)
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.names[key]; ok && owner != a.ID {
		return fmt.Errorf("agent name %q already registered to %s", a.AgentName, owner)
	}
	s.agents[a.ID] = raw
	s.names[key] = a.ID
	return nil
}

func (s *MemStore) ListAgentIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemStore) FindAgentIDByName(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[NameKey(name)]
	return id, ok, nil
}

func (s *MemStore) MultiGetAgents(ctx context.Context, ids []string) ([]*RegisteredAgent, error) {
	out := make([]*RegisteredAgent, 0, len(ids))
	for _, id := range ids {
		a, ok, err := s.GetAgent(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}
