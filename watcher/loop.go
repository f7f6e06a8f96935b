// Package watcher turns archives appearing in the Downloads folder into
// extraction jobs.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"booth-bridge/archive"
	"booth-bridge/clock"
	"booth-bridge/correlate"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettleDelay is the grace period before a new archive is touched.
const DefaultSettleDelay = time.Second

// State is the per-filename position in the watch state machine.
type State int

const (
	Idle State = iota
	Settling
	Resolving
	Extracting
)

func (s State) String() string {
	switch s {
	case Settling:
		return "settling"
	case Resolving:
		return "resolving"
	case Extracting:
		return "extracting"
	default:
		return "idle"
	}
}

// Transition is reported to the observer on every state change.
type Transition struct {
	Name   string
	From   State
	To     State
	Reason string
}

// Resolver identifies the product an archive belongs to.
type Resolver interface {
	Resolve(filename string) (correlate.Identity, bool)
}

// Extractor unpacks an identified archive.
type Extractor interface {
	Extract(zipPath string, target archive.Target) (archive.Result, error)
}

type Options struct {
	Dir         string
	SettleDelay time.Duration
	Resolver    Resolver
	Extractor   Extractor
	Clock       clock.Clock
	Observer    func(Transition)
	Log         *zap.SugaredLogger
}

// Loop watches one directory. Each filename is processed at most once at
// a time; distinct filenames proceed independently.
type Loop struct {
	dir      string
	settle   time.Duration
	resolver Resolver
	extract  Extractor
	clock    clock.Clock
	observe  func(Transition)
	log      *zap.SugaredLogger

	mu       sync.Mutex
	inFlight map[string]*pending
}

// pending is one in-flight run for a filename. Its identity tells a run
// apart from a later one for the same name.
type pending struct {
	timer clock.Timer
}

func New(opts Options) *Loop {
	l := &Loop{
		dir:      opts.Dir,
		settle:   opts.SettleDelay,
		resolver: opts.Resolver,
		extract:  opts.Extractor,
		clock:    opts.Clock,
		observe:  opts.Observer,
		log:      opts.Log,
		inFlight: make(map[string]*pending),
	}
	if l.settle <= 0 {
		l.settle = DefaultSettleDelay
	}
	if l.clock == nil {
		l.clock = clock.Real{}
	}
	if l.log == nil {
		l.log = zap.NewNop().Sugar()
	}
	return l
}

// Dir returns the watched directory.
func (l *Loop) Dir() string { return l.dir }

// IsArchive reports whether name has the archive extension.
func IsArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}

// Handle starts processing name unless it is not an archive or is already
// in flight. It reports whether a settle timer was scheduled.
func (l *Loop) Handle(name string) bool {
	name = filepath.Base(name)
	if !IsArchive(name) {
		l.log.Debugw("Skipping non-archive file", zap.String("file", name))
		return false
	}

	l.mu.Lock()
	if _, busy := l.inFlight[name]; busy {
		l.mu.Unlock()
		l.log.Debugw("Skipping archive already in flight", zap.String("file", name))
		return false
	}
	p := &pending{}
	l.inFlight[name] = p
	l.mu.Unlock()

	l.log.Infow("New archive detected", zap.String("file", name))
	l.transition(name, Idle, Settling, "")

	timer := l.clock.AfterFunc(l.settle, func() { l.process(name, p) })

	l.mu.Lock()
	// The callback may already have run and released the name, and a new
	// run may have claimed it since.
	if l.inFlight[name] == p {
		p.timer = timer
	}
	l.mu.Unlock()
	return true
}

// InFlight returns the number of filenames currently being processed.
func (l *Loop) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}

func (l *Loop) process(name string, p *pending) {
	defer l.release(name, p)
	log := l.log.With(zap.String("file", name))
	path := filepath.Join(l.dir, name)

	stat, err := os.Stat(path)
	if err != nil {
		log.Warnw("Archive vanished before it settled", zap.Error(err))
		l.transition(name, Settling, Idle, "vanished")
		return
	}
	log.Infow("Archive settled", zap.Float64("size_mb", float64(stat.Size())/1024/1024))
	l.transition(name, Settling, Resolving, "")

	var identity correlate.Identity
	ok := false
	if l.resolver != nil {
		identity, ok = l.resolver.Resolve(name)
	}
	if !ok {
		log.Infow("Archive is not linked to any product, leaving it alone")
		l.transition(name, Resolving, Idle, "unresolved")
		return
	}
	log.Infow("Archive resolved", zap.String("product_id", identity.ProductID),
		zap.String("subfolder", identity.Subfolder), zap.String("source", identity.Source))
	l.transition(name, Resolving, Extracting, identity.ProductID)

	reason := "extracted"
	if l.extract != nil {
		res, err := l.extract.Extract(path, archive.Target{ProductID: identity.ProductID, Subfolder: identity.Subfolder})
		if err != nil {
			log.Errorw("Extraction failed", zap.Error(err))
			reason = "failed"
		} else {
			log.Infow("Archive imported", zap.Int("packages", len(res.Packages)), zap.String("import_path", res.ImportPath))
		}
	}
	l.transition(name, Extracting, Idle, reason)
}

func (l *Loop) release(name string, p *pending) {
	l.mu.Lock()
	if l.inFlight[name] == p {
		delete(l.inFlight, name)
	}
	l.mu.Unlock()
}

func (l *Loop) transition(name string, from, to State, reason string) {
	l.log.Debugw("Watch state changed", zap.String("file", name), zap.Stringer("from", from), zap.Stringer("to", to), zap.String("reason", reason))
	if l.observe != nil {
		l.observe(Transition{Name: name, From: from, To: to, Reason: reason})
	}
}

// Run watches the directory until ctx is cancelled. A missing directory is
// logged and disables watching without failing the relay.
func (l *Loop) Run(ctx context.Context) error {
	if info, err := os.Stat(l.dir); err != nil || !info.IsDir() {
		l.log.Warnw("Downloads folder not found, automatic import disabled", zap.String("dir", l.dir))
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}
	l.log.Infow("Watching downloads folder", zap.String("dir", l.dir))

	for {
		select {
		case <-ctx.Done():
			l.stopPending()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				l.Handle(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warnw("Watcher error", zap.Error(err))
		}
	}
}

// stopPending drops archives that are still settling. Their files stay in
// Downloads and nothing was committed for them.
func (l *Loop) stopPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, p := range l.inFlight {
		if p.timer != nil && p.timer.Stop() {
			delete(l.inFlight, name)
		}
	}
}
