package island

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"clawparadise.ai/internal/sim/catalogs"
	"clawparadise.ai/internal/sim/tuning"
)

// Rand is the randomness the engine draws from. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// Archiver receives finished games. Archive must not block for long; errors are
// logged by the engine and never fail the game-ending transition.
type Archiver interface {
	Archive(rec ArchiveRecord) error
}

// EventSink is notified after events have been persisted.
type EventSink interface {
	PublishEvents(islandID string, events []GameEvent)
}

type Options struct {
	Store    Store
	Catalogs *catalogs.Catalogs
	Tuning   tuning.Tuning

	// Optional.
	Rand     Rand
	Now      func() time.Time
	Archiver Archiver
	Sinks    []EventSink
	Logger   *log.Logger
}

// Engine is the referee. Every mutation of one island runs under that island's
// lock, so submissions to the same island are applied one at a time. Lock
// order is agent, then matchmaking, then island.
type Engine struct {
	store    Store
	cats     *catalogs.Catalogs
	rules    tuning.Tuning
	now      func() time.Time
	archiver Archiver
	sinks    []EventSink
	log      *log.Logger

	rngMu sync.Mutex
	rng   Rand

	locks     *keyedMutex
	matchmake sync.Mutex

	resolutions atomic.Uint64
	submissions atomic.Uint64
	gamesEnded  atomic.Uint64
	archiveErrs atomic.Uint64
}

type Metrics struct {
	Resolutions   uint64 `json:"resolutions"`
	Submissions   uint64 `json:"submissions"`
	GamesEnded    uint64 `json:"games_ended"`
	ArchiveErrors uint64 `json:"archive_errors"`
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("island: nil store")
	}
	if opts.Catalogs == nil {
		return nil, fmt.Errorf("island: nil catalogs")
	}
	rules := opts.Tuning
	rules.Normalize()
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("island: %w", err)
	}
	e := &Engine{
		store:    opts.Store,
		cats:     opts.Catalogs,
		rules:    rules,
		now:      opts.Now,
		archiver: opts.Archiver,
		sinks:    opts.Sinks,
		log:      opts.Logger,
		rng:      opts.Rand,
		locks:    newKeyedMutex(),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if e.log == nil {
		e.log = log.New(io.Discard, "", 0)
	}
	return e, nil
}

func (e *Engine) Tuning() tuning.Tuning        { return e.rules }
func (e *Engine) Catalogs() *catalogs.Catalogs { return e.cats }

// AddSink registers s for future commits. Call before serving traffic.
func (e *Engine) AddSink(s EventSink) { e.sinks = append(e.sinks, s) }

func (e *Engine) Metrics() Metrics {
	return Metrics{
		Resolutions:   e.resolutions.Load(),
		Submissions:   e.submissions.Load(),
		GamesEnded:    e.gamesEnded.Load(),
		ArchiveErrors: e.archiveErrs.Load(),
	}
}

func (e *Engine) intn(n int) int {
	if n <= 1 {
		return 0
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

// shuffle returns a permuted copy of ps (Fisher-Yates).
func (e *Engine) shuffle(ps []*Participant) []*Participant {
	out := make([]*Participant, len(ps))
	copy(out, ps)
	for i := len(out) - 1; i > 0; i-- {
		j := e.intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// emit appends an event stamped with the island's current day and the given phase.
func (e *Engine) emit(isl *Island, phase Phase, typ EventType, ids []string, desc string) *GameEvent {
	if ids == nil {
		ids = []string{}
	}
	isl.Events = append(isl.Events, GameEvent{
		ID:             newID("evt"),
		Day:            isl.Day,
		Phase:          phase,
		Type:           typ,
		ParticipantIDs: ids,
		Description:    desc,
		Timestamp:      e.now(),
	})
	return &isl.Events[len(isl.Events)-1]
}

// commit persists isl and publishes the events appended since fromEvent.
func (e *Engine) commit(ctx context.Context, isl *Island, fromEvent int) error {
	if err := e.store.PutIsland(ctx, isl); err != nil {
		return fmt.Errorf("put island %s: %w", isl.ID, err)
	}
	if fromEvent < len(isl.Events) && len(e.sinks) > 0 {
		fresh := make([]GameEvent, len(isl.Events)-fromEvent)
		copy(fresh, isl.Events[fromEvent:])
		for _, s := range e.sinks {
			s.PublishEvents(isl.ID, fresh)
		}
	}
	return nil
}

func (e *Engine) loadIsland(ctx context.Context, id string) (*Island, error) {
	isl, ok, err := e.store.GetIsland(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get island %s: %w", id, err)
	}
	if !ok {
		return nil, errArenaNotFound(id)
	}
	if isl.Pending == nil {
		isl.Pending = PendingActions{}
	}
	return isl, nil
}

func (e *Engine) loadAgent(ctx context.Context, id string) (*RegisteredAgent, error) {
	a, ok, err := e.store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	if !ok {
		return nil, errNotRegistered(id)
	}
	return a, nil
}

func islandKey(id string) string { return "island:" + id }
func agentKey(id string) string  { return "agent:" + id }

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedEntry{}}
}

// Lock blocks until key is held and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
