package correlate

import (
	"sync"
	"time"

	"booth-bridge/clock"

	"go.uber.org/zap"
)

// DefaultTTL bounds how long an unconsumed notification is kept.
const DefaultTTL = time.Hour

type trackedEntry struct {
	Notification
	seen time.Time
}

// Tracker is the relay-side filename → notification map that the watch
// loop consults for archives that do not follow the naming convention.
type Tracker struct {
	clock clock.Clock
	ttl   time.Duration
	log   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]trackedEntry
}

func NewTracker(c clock.Clock, ttl time.Duration, log *zap.SugaredLogger) *Tracker {
	if c == nil {
		c = clock.Real{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{clock: c, ttl: ttl, log: log, entries: make(map[string]trackedEntry)}
}

// Insert sweeps expired entries and stores n under its base filename. A
// notification without a filename, or without any identity, is dropped.
// It returns the map size and whether n was stored.
func (t *Tracker) Insert(n Notification) (int, bool) {
	now := t.clock.Now()
	key := baseName(n.Filename)

	t.mu.Lock()
	defer t.mu.Unlock()

	swept := t.sweep(now)
	if swept > 0 {
		t.log.Debugw("Expired download tracking entries", zap.Int("count", swept))
	}
	if n.Filename == "" || key == "." || (n.ProductID == "" && n.DownloadID == "") {
		t.log.Warnw("Incomplete download notification", zap.String("filename", n.Filename))
		return len(t.entries), false
	}

	seen := now
	if n.Timestamp > 0 {
		if ts := time.UnixMilli(n.Timestamp); ts.Before(now) {
			seen = ts
		}
	}
	n.Filename = key
	t.entries[key] = trackedEntry{Notification: n, seen: seen}
	t.log.Infow("Download tracked", zap.String("filename", key), zap.String("product_id", n.ProductID),
		zap.String("download_id", n.DownloadID), zap.Int("tracking_size", len(t.entries)))
	return len(t.entries), true
}

// Take returns and removes the entry for filename. Expired entries are
// never returned.
func (t *Tracker) Take(filename string) (Notification, bool) {
	key := baseName(filename)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return Notification{}, false
	}
	delete(t.entries, key)
	if t.clock.Now().Sub(e.seen) > t.ttl {
		return Notification{}, false
	}
	return e.Notification, true
}

// Len returns the number of tracked filenames, expired ones included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Has reports whether filename is tracked, without consuming it.
func (t *Tracker) Has(filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[baseName(filename)]
	return ok
}

func (t *Tracker) sweep(now time.Time) int {
	n := 0
	for k, e := range t.entries {
		if now.Sub(e.seen) > t.ttl {
			delete(t.entries, k)
			n++
		}
	}
	return n
}
