package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"clawparadise.ai/internal/observerproto"
	"clawparadise.ai/internal/sim/island"
)

// Spectator is the read side the hub needs from the engine.
type Spectator interface {
	Spectate(ctx context.Context, islandID string) (*island.SpectatorView, error)
}

type session struct {
	id  string
	out chan []byte
}

// Hub fans newly appended island events out to websocket spectators. It
// implements island.EventSink; a slow client misses batches instead of
// blocking the engine.
type Hub struct {
	views Spectator
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.RWMutex
	subs map[string]map[*session]struct{}

	dropped atomic.Uint64
}

var _ island.EventSink = (*Hub)(nil)

func NewHub(views Spectator, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		views: views,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // spectators are public
		},
		subs: map[string]map[*session]struct{}{},
	}
}

func (h *Hub) PublishEvents(islandID string, events []island.GameEvent) {
	if len(events) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subs[islandID]
	if len(subs) == 0 {
		return
	}
	b, err := json.Marshal(observerproto.EventsMsg{
		Type:            observerproto.TypeEvents,
		ProtocolVersion: observerproto.Version,
		IslandID:        islandID,
		Events:          events,
	})
	if err != nil {
		h.log.Printf("observer: encode events for %s: %v", islandID, err)
		return
	}
	for s := range subs {
		select {
		case s.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected spectators across islands.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

// Dropped returns how many event batches were skipped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) add(islandID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[islandID]
	if m == nil {
		m = map[*session]struct{}{}
		h.subs[islandID] = m
	}
	m[s] = struct{}{}
}

func (h *Hub) remove(islandID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[islandID]
	delete(m, s)
	if len(m) == 0 {
		delete(h.subs, islandID)
	}
}

// ServeIsland upgrades the request and streams islandID to the client. The
// caller has already checked that the island exists.
func (h *Hub) ServeIsland(rw http.ResponseWriter, r *http.Request, islandID string) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Handshake: must send SUBSCRIBE first.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if !validSubscribe(msg) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
		return
	}

	s := &session{id: fmt.Sprintf("S%d", h.nextID.Add(1)), out: make(chan []byte, 64)}
	h.add(islandID, s)
	defer h.remove(islandID, s)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Snapshot requests are handed to the writer so that only one goroutine
	// writes to conn.
	snapshots := make(chan struct{}, 1)
	snapshots <- struct{}{}

	writeErr := make(chan error, 1)
	go func() {
		err := h.writeLoop(ctx, conn, s, islandID, snapshots)
		if err != nil && ctx.Err() == nil {
			// Unblock the reader.
			_ = conn.Close()
		}
		writeErr <- err
	}()

	// Reader loop: a repeated SUBSCRIBE asks for a fresh snapshot.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if !validSubscribe(msg) {
			continue
		}
		select {
		case snapshots <- struct{}{}:
		default:
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, s *session, islandID string, snapshots <-chan struct{}) error {
	for {
		var b []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-snapshots:
			var err error
			b, err = h.snapshot(ctx, islandID)
			if err != nil {
				h.log.Printf("observer %s: snapshot %s: %v", s.id, islandID, err)
				return err
			}
		case b = <-s.out:
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
}

func (h *Hub) snapshot(ctx context.Context, islandID string) ([]byte, error) {
	view, err := h.views.Spectate(ctx, islandID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(observerproto.SnapshotMsg{
		Type:            observerproto.TypeSnapshot,
		ProtocolVersion: observerproto.Version,
		IslandID:        islandID,
		View:            view,
	})
}

func validSubscribe(msg []byte) bool {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return false
	}
	return sub.Type == observerproto.TypeSubscribe && sub.ProtocolVersion == observerproto.Version
}
