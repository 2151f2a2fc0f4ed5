package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"clawparadise.ai/internal/sim/island"
)

// RotatingWriter appends JSON lines to zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst, switching file when the UTC hour changes.
// Reopening an existing hour appends a new zstd frame.
type RotatingWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	seg *segment
}

type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func NewRotatingWriter(dir, prefix string) *RotatingWriter {
	return &RotatingWriter{dir: dir, prefix: prefix, now: time.Now}
}

// Append writes vs as consecutive lines and flushes them through the
// compressor, so readers see the batch before the file is closed.
func (w *RotatingWriter) Append(vs ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg, err := w.segmentFor(w.now().UTC().Format("2006-01-02-15"))
	if err != nil {
		return err
	}
	for _, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if _, err := seg.buf.Write(b); err != nil {
			return err
		}
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	return seg.zw.Flush()
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.seg.close()
	w.seg = nil
	return err
}

func (w *RotatingWriter) segmentFor(hour string) (*segment, error) {
	if w.seg != nil && w.seg.hour == hour {
		return w.seg, nil
	}
	if err := w.seg.close(); err != nil {
		return nil, err
	}
	w.seg = nil
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(w.dir, w.prefix+"-"+hour+".jsonl.zst")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return nil, err
	}
	w.seg = &segment{hour: hour, file: f, zw: zw, buf: bufio.NewWriterSize(zw, 64*1024)}
	return w.seg, nil
}

func (s *segment) close() error {
	if s == nil {
		return nil
	}
	ferr := s.buf.Flush()
	if err := s.zw.Close(); ferr == nil {
		ferr = err
	}
	if err := s.file.Close(); ferr == nil {
		ferr = err
	}
	return ferr
}

// EventRecord is one timeline line.
type EventRecord struct {
	IslandID string           `json:"island_id"`
	Event    island.GameEvent `json:"event"`
}

// EventLogger appends every published game event to hourly
// `events-YYYY-MM-DD-HH.jsonl.zst` files. It implements island.EventSink.
type EventLogger struct {
	w      *RotatingWriter
	logger *stdlog.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

var _ island.EventSink = (*EventLogger)(nil)

func NewEventLogger(dir string, logger *stdlog.Logger) *EventLogger {
	if logger == nil {
		logger = stdlog.New(io.Discard, "", 0)
	}
	return &EventLogger{w: NewRotatingWriter(dir, "events"), logger: logger}
}

// PublishEvents writes one batch; a failed batch is counted as failed in full.
func (l *EventLogger) PublishEvents(islandID string, events []island.GameEvent) {
	if len(events) == 0 {
		return
	}
	recs := make([]any, len(events))
	for i, ev := range events {
		recs[i] = EventRecord{IslandID: islandID, Event: ev}
	}
	if err := l.w.Append(recs...); err != nil {
		l.failed.Add(uint64(len(events)))
		l.logger.Printf("event log %s: %v", islandID, err)
		return
	}
	l.written.Add(uint64(len(events)))
}

func (l *EventLogger) Stats() (written, failed uint64) { return l.written.Load(), l.failed.Load() }
func (l *EventLogger) Close() error                    { return l.w.Close() }

// ReadEvents streams the records of one compressed timeline file to fn.
// A file appended across restarts holds several zstd frames; the decoder
// reads them in sequence.
func ReadEvents(path string, fn func(EventRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

// EventFiles lists timeline files in dir in chronological order.
func EventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
