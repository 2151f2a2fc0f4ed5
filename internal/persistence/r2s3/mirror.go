package r2s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorOptions struct {
	Prefix        string        // key prefix inside the bucket
	Workers       int           // default 1
	QueueCapacity int           // default 256
	EnqueueWait   time.Duration // how long Enqueue waits on a full queue, default 25ms
	RetryBase     time.Duration // backoff unit, attempt n sleeps n*n units; default 200ms
	MaxAttempts   int           // default 4
	Logger        *log.Logger
}

func (o *MirrorOptions) fill() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.EnqueueWait <= 0 {
		o.EnqueueWait = 25 * time.Millisecond
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	o.Prefix = strings.Trim(strings.ReplaceAll(o.Prefix, "\\", "/"), "/")
}

// Mirror copies files written under a local directory (archived games and
// their index) to a bucket. A file's key is its path relative to that
// directory, under the prefix. Nothing is ever deleted remotely.
type Mirror struct {
	up   Uploader
	root string
	opts MirrorOptions

	queue chan string
	once  sync.Once
	done  sync.WaitGroup

	enqueued, dropped, uploaded, failed atomic.Uint64
	lastUpload, lastFailure             atomic.Int64
}

// MirrorStats is a point-in-time view of the mirror counters.
type MirrorStats struct {
	Queued          int
	Capacity        int
	Enqueued        uint64
	Dropped         uint64
	Uploaded        uint64
	Failed          uint64
	LastUploadUnix  int64
	LastFailureUnix int64
}

func NewMirror(up Uploader, root string, opts MirrorOptions) *Mirror {
	opts.fill()
	m := &Mirror{
		up:    up,
		root:  root,
		opts:  opts,
		queue: make(chan string, opts.QueueCapacity),
	}
	m.done.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go m.work()
	}
	return m
}

// Enqueue schedules localPath for upload. A full queue gets EnqueueWait to
// drain before the file is dropped.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.queue <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.queue <- localPath:
	case <-t.C:
		m.opts.Logger.Printf("archive mirror: queue full, dropped %s (%d dropped so far)", localPath, m.dropped.Add(1))
	}
}

// Close stops intake and waits for queued uploads. Safe to call twice.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.queue)
		m.done.Wait()
	})
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{
		Queued:          len(m.queue),
		Capacity:        cap(m.queue),
		Enqueued:        m.enqueued.Load(),
		Dropped:         m.dropped.Load(),
		Uploaded:        m.uploaded.Load(),
		Failed:          m.failed.Load(),
		LastUploadUnix:  m.lastUpload.Load(),
		LastFailureUnix: m.lastFailure.Load(),
	}
}

func (m *Mirror) work() {
	defer m.done.Done()
	for p := range m.queue {
		key, err := m.ObjectKey(p)
		if err != nil {
			m.opts.Logger.Printf("archive mirror: skip %s: %v", p, err)
			continue
		}
		if err := m.put(key, p); err != nil {
			m.failed.Add(1)
			m.lastFailure.Store(time.Now().Unix())
			m.opts.Logger.Printf("archive mirror: gave up on %s: %v", key, err)
			continue
		}
		m.uploaded.Add(1)
		m.lastUpload.Store(time.Now().Unix())
	}
}

func (m *Mirror) put(key, localPath string) error {
	var errs []error
	for n := 1; n <= m.opts.MaxAttempts; n++ {
		if n > 1 {
			time.Sleep(time.Duration((n-1)*(n-1)) * m.opts.RetryBase)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", n, err))
	}
	return errors.Join(errs...)
}

// ObjectKey maps a file under the mirror root to its bucket key.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", errors.New("empty path")
	}
	root, err := filepath.Abs(m.root)
	if err != nil {
		return "", err
	}
	p, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is not under %s", p, root)
	}
	return path.Join(m.opts.Prefix, rel), nil
}
