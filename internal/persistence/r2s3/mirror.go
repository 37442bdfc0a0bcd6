package r2s3

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	RejectedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

// upload is one accepted file and the key it goes to.
type upload struct {
	local string
	key   string
}

// Mirror copies closed change-log segments and wipe archives to the bucket.
// Anything else under the data dir is refused at Enqueue.
//
// Key layout (below the optional prefix):
//
//	changes/<yyyy>/<mm>/<dd>/changes-<yyyy>-<mm>-<dd>-<hh>.jsonl.zst
//	archives/wipe_<ts>/preferences.json
//	archives/wipe_<ts>/meta.json
type Mirror struct {
	client  *Client
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs        chan upload
	enqueueWait time.Duration
	retryDelay  time.Duration
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	rejectedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(client *Client, dataDir, prefix string, workers, queueCapacity int, enqueueWait time.Duration, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	if enqueueWait <= 0 {
		enqueueWait = 25 * time.Millisecond
	}
	m := &Mirror{
		client:      client,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan upload, queueCapacity),
		enqueueWait: enqueueWait,
		retryDelay:  200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for up := range m.jobs {
				m.uploadOne(up)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It never blocks longer than the
// configured enqueue wait; a full queue drops the file.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	key, err := m.objectKey(localPath)
	if err != nil {
		m.rejectedTotal.Add(1)
		m.printf("r2 mirror reject local=%s err=%v", localPath, err)
		return
	}
	up := upload{local: localPath, key: key}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- up:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	// Callers sit on the loop goroutine or the change-log writer.
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- up:
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("r2 mirror drop key=%s reason=queue_saturated wait_ms=%d dropped_total=%d", key, m.enqueueWait.Milliseconds(), dropped)
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		RejectedTotal:       m.rejectedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(up upload) {
	if err := m.uploadWithRetry(up); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("r2 mirror upload failed key=%s local=%s err=%v", up.key, up.local, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.printf("r2 mirror uploaded key=%s", up.key)
}

func (m *Mirror) uploadWithRetry(up upload) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, up.key, up.local)
		cancel()
		if err == nil {
			return nil
		}
		// A vanished file will not come back.
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.retryDelay)
		}
	}
	return lastErr
}

// objectKey maps a file under the data dir to its bucket key, or fails for
// files that are neither a change segment nor a wipe archive file.
func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}

	key, err := layoutKey(rel)
	if err != nil {
		return "", err
	}
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

func layoutKey(rel string) (string, error) {
	parts := strings.Split(rel, "/")
	switch {
	case len(parts) == 2 && parts[0] == "changes":
		day, ok := segmentDay(parts[1])
		if !ok {
			return "", fmt.Errorf("not a change segment: %s", rel)
		}
		return path.Join("changes", day, parts[1]), nil
	case len(parts) == 3 && parts[0] == "archives" && isWipeDir(parts[1]):
		if parts[2] == "preferences.json" || parts[2] == "meta.json" {
			return rel, nil
		}
		return "", fmt.Errorf("not a wipe archive file: %s", rel)
	}
	return "", fmt.Errorf("not under changes/ or archives/wipe_*: %s", rel)
}

// segmentDay turns changes-2026-05-01-10.jsonl.zst into 2026/05/01.
func segmentDay(name string) (string, bool) {
	stamp, ok := strings.CutPrefix(name, "changes-")
	if !ok {
		return "", false
	}
	stamp, ok = strings.CutSuffix(stamp, ".jsonl.zst")
	if !ok {
		return "", false
	}
	t, err := time.Parse("2006-01-02-15", stamp)
	if err != nil {
		return "", false
	}
	return t.Format("2006/01/02"), true
}

func isWipeDir(name string) bool {
	return len(name) > len("wipe_") && strings.HasPrefix(name, "wipe_")
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
