package archive

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"clawparadise.ai/internal/sim/island"
)

var ErrQueueFull = errors.New("archive queue full")

// Replica receives the paths of files the writer has just stored, for
// off-host copies.
type Replica interface {
	Enqueue(localPath string)
}

// Writer queues finished games and writes them to a Store from one
// goroutine, so the engine never waits on disk. It implements island.Archiver.
type Writer struct {
	store   *Store
	logger  *log.Logger
	replica Replica

	mu     sync.RWMutex
	ch     chan island.ArchiveRecord
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	written atomic.Uint64
	failed  atomic.Uint64
}

var _ island.Archiver = (*Writer)(nil)

func NewWriter(store *Store, logger *log.Logger, queue int) *Writer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if queue <= 0 {
		queue = 64
	}
	w := &Writer{
		store:  store,
		logger: logger,
		ch:     make(chan island.ArchiveRecord, queue),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// WithReplica mirrors every stored document and the refreshed index to r.
// Call it before the first Archive.
func (w *Writer) WithReplica(r Replica) *Writer {
	w.replica = r
	return w
}

// Archive enqueues rec. It fails only when the queue is full or the writer
// is closed; write errors are logged by the loop.
func (w *Writer) Archive(rec island.ArchiveRecord) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed.Load() {
		return errors.New("archive writer closed")
	}
	select {
	case w.ch <- rec:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue and waits for pending writes.
func (w *Writer) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed.Store(true)
		close(w.ch)
		w.mu.Unlock()
		w.wg.Wait()
	})
	return nil
}

// Stats returns the number of written and failed records.
func (w *Writer) Stats() (written, failed uint64) {
	return w.written.Load(), w.failed.Load()
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for rec := range w.ch {
		if err := w.store.Put(rec); err != nil {
			w.failed.Add(1)
			w.logger.Printf("archive %s: %v", rec.ID, err)
			continue
		}
		w.written.Add(1)
		if w.replica != nil {
			w.replica.Enqueue(w.store.DocPath(rec.ID))
			w.replica.Enqueue(w.store.IndexPath())
		}
	}
}
