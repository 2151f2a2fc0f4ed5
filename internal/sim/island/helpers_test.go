package island

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"clawparadise.ai/internal/sim/catalogs"
	"clawparadise.ai/internal/sim/tuning"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingArchiver struct {
	mu   sync.Mutex
	recs []ArchiveRecord
	err  error
}

func (a *recordingArchiver) Archive(rec ArchiveRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

type recordingSink struct {
	mu     sync.Mutex
	events map[string][]GameEvent
}

func (s *recordingSink) PublishEvents(islandID string, evs []GameEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = map[string][]GameEvent{}
	}
	s.events[islandID] = append(s.events[islandID], evs...)
}

type testEnv struct {
	e       *Engine
	store   *MemStore
	clock   *fakeClock
	archive *recordingArchiver
	sink    *recordingSink
}

func newTestEnv(t *testing.T, mutate func(*tuning.Tuning)) *testEnv {
	t.Helper()
	cats, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	rules := tuning.Defaults()
	if mutate != nil {
		mutate(&rules)
	}
	env := &testEnv{
		store:   NewMemStore(),
		clock:   newFakeClock(),
		archive: &recordingArchiver{},
		sink:    &recordingSink{},
	}
	e, err := New(Options{
		Store:    env.store,
		Catalogs: cats,
		Tuning:   rules,
		Rand:     rand.New(rand.NewSource(7)),
		Now:      env.clock.Now,
		Archiver: env.archive,
		Sinks:    []EventSink{env.sink},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env.e = e
	return env
}

func (env *testEnv) island(t *testing.T, id string) *Island {
	t.Helper()
	isl, ok, err := env.store.GetIsland(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("get island %s: ok=%v err=%v", id, ok, err)
	}
	return isl
}

func (env *testEnv) agent(t *testing.T, id string) *RegisteredAgent {
	t.Helper()
	a, ok, err := env.store.GetAgent(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("get agent %s: ok=%v err=%v", id, ok, err)
	}
	return a
}

// startedIsland creates an inferno lobby and fills it with bots.
func (env *testEnv) startedIsland(t *testing.T) *Island {
	t.Helper()
	ctx := context.Background()
	isl, err := env.e.CreateIsland(ctx, "inferno")
	if err != nil {
		t.Fatalf("create island: %v", err)
	}
	if _, err := env.e.QuickFill(ctx, isl.ID); err != nil {
		t.Fatalf("quick fill: %v", err)
	}
	isl = env.island(t, isl.ID)
	if isl.Phase != PhaseMorning || isl.Day != 1 {
		t.Fatalf("expected MORNING day 1, got %s day %d", isl.Phase, isl.Day)
	}
	return isl
}

// forceTo force-advances until the island reaches phase.
func (env *testEnv) forceTo(t *testing.T, id string, phase Phase) *Island {
	t.Helper()
	for i := 0; i < 8; i++ {
		isl := env.island(t, id)
		if isl.Phase == phase {
			return isl
		}
		if _, err := env.e.ForceAdvance(context.Background(), id); err != nil {
			t.Fatalf("force advance from %s: %v", isl.Phase, err)
		}
	}
	t.Fatalf("island %s never reached %s", id, phase)
	return nil
}

func (env *testEnv) submit(t *testing.T, islandID, participantID string, act Action) *SubmitResult {
	t.Helper()
	res, err := env.e.SubmitAction(context.Background(), islandID, participantID, act)
	if err != nil {
		t.Fatalf("submit %s for %s: %v", act.Type(), participantID, err)
	}
	return res
}

func wantCode(t *testing.T, err error, code string) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error %s, got %T: %v", code, err, err)
	}
	if e.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, e.Code, e.Msg)
	}
	return e
}

func withStatus(isl *Island, s Status) []*Participant {
	var out []*Participant
	for _, p := range isl.Participants {
		if p.Status == s {
			out = append(out, p)
		}
	}
	return out
}
