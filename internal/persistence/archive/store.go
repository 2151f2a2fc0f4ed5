package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"clawparadise.ai/internal/sim/island"
)

// DefaultKeep is how many finished games the archive retains.
const DefaultKeep = 50

// Entry is one line of the archive index, newest first.
type Entry struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	WinnerName   string    `json:"winner_name,omitempty"`
	Day          int       `json:"day"`
	Participants int       `json:"participants"`
	EndedAt      time.Time `json:"ended_at"`
}

// Store keeps finished game summaries as `<dir>/<id>.json.zst` next to an
// `index.json` listing the retained ids. Documents that fall off the index
// are deleted.
type Store struct {
	dir  string
	keep int

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func Open(dir string, keep int) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty archive dir")
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Store{dir: dir, keep: keep, enc: enc, dec: dec}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dec.Close()
	return s.enc.Close()
}

// Put writes rec and moves it to the front of the index.
func (s *Store) Put(rec island.ArchiveRecord) error {
	if rec.ID == "" || strings.ContainsAny(rec.ID, `/\`) {
		return fmt.Errorf("invalid archive id %q", rec.ID)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.DocPath(rec.ID), s.enc.EncodeAll(raw, nil)); err != nil {
		return err
	}

	idx, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	out := make([]Entry, 0, len(idx)+1)
	out = append(out, Entry{
		ID:           rec.ID,
		Type:         rec.Type,
		Name:         rec.Name,
		WinnerName:   rec.WinnerName,
		Day:          rec.Day,
		Participants: len(rec.Participants),
		EndedAt:      rec.EndedAt,
	})
	for _, e := range idx {
		if e.ID != rec.ID {
			out = append(out, e)
		}
	}
	var evicted []Entry
	if len(out) > s.keep {
		evicted = out[s.keep:]
		out = out[:s.keep]
	}
	if err := s.writeIndexLocked(out); err != nil {
		return err
	}
	for _, e := range evicted {
		if err := os.Remove(s.DocPath(e.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// List returns up to limit index entries, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndexLocked()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	return idx, nil
}

func (s *Store) Get(id string) (*island.ArchiveRecord, bool, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.DocPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := s.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompress archive %s: %w", id, err)
	}
	var rec island.ArchiveRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode archive %s: %w", id, err)
	}
	return &rec, true, nil
}

// DocPath is the file holding the archived game id.
func (s *Store) DocPath(id string) string {
	return filepath.Join(s.dir, id+".json.zst")
}

func (s *Store) IndexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *Store) readIndexLocked() ([]Entry, error) {
	b, err := os.ReadFile(s.IndexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var idx []Entry
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("decode archive index: %w", err)
	}
	return idx, nil
}

func (s *Store) writeIndexLocked(idx []Entry) error {
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.IndexPath(), b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
