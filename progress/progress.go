// Package progress holds the process-wide extraction progress exposed on
// GET /progress.
package progress

import (
	"sync"
	"time"

	"booth-bridge/clock"
)

// Stage is the phase of the current (or last) extraction.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageExtracting Stage = "extracting"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

const DefaultResetDelay = 3 * time.Second

// State is the snapshot served to polling clients.
type State struct {
	Active   bool   `json:"active"`
	Stage    Stage  `json:"stage"`
	FileName string `json:"fileName"`
	Percent  int    `json:"percent"`
	Message  string `json:"message"`
}

// Idle is the resting state.
func Idle() State { return State{Stage: StageIdle} }

// Tracker is overwritten in place as an extraction advances. Terminal
// states are reset to idle after a delay so that a poller sees them at
// least once; a reset scheduled by an older run never clobbers a newer one.
type Tracker struct {
	mu         sync.Mutex
	state      State
	clock      clock.Clock
	resetDelay time.Duration
	generation uint64
	reset      clock.Timer
}

// NewTracker creates an idle Tracker.
func NewTracker(c clock.Clock, resetDelay time.Duration) *Tracker {
	if c == nil {
		c = clock.Real{}
	}
	if resetDelay <= 0 {
		resetDelay = DefaultResetDelay
	}
	return &Tracker{state: Idle(), clock: c, resetDelay: resetDelay}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Begin starts a new extraction run for fileName.
func (t *Tracker) Begin(fileName, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	if t.reset != nil {
		t.reset.Stop()
		t.reset = nil
	}
	t.state = State{Active: true, Stage: StageExtracting, FileName: fileName, Message: message}
}

// Advance updates percent and message of the running extraction.
func (t *Tracker) Advance(percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Percent = clamp(percent)
	t.state.Message = message
}

// Complete moves to the completed stage and schedules the idle reset.
func (t *Tracker) Complete(message string) {
	t.finish(StageCompleted, 100, message)
}

// Fail moves to the error stage and schedules the idle reset.
func (t *Tracker) Fail(message string) {
	t.finish(StageError, 0, message)
}

func (t *Tracker) finish(stage Stage, percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Active = false
	t.state.Stage = stage
	t.state.Percent = percent
	t.state.Message = message

	gen := t.generation
	t.reset = t.clock.AfterFunc(t.resetDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.generation != gen {
			return
		}
		t.state = Idle()
		t.reset = nil
	})
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
