package sync

import (
	"context"
	"log"
	gosync "sync"
	"time"

	"github.com/cmux-cli/sandsync/internal/ignore"
	"github.com/cmux-cli/sandsync/internal/remote"
)

const (
	// DefaultDebounce is how long a session waits after the last
	// change before flushing.
	DefaultDebounce = 500 * time.Millisecond

	// retryDelay is the fixed wait before re-attempting a failed
	// flush.
	retryDelay = 5 * time.Second

	// unavailableLogInterval rate-limits the worker-unreachable log
	// line while a worker stays down.
	unavailableLogInterval = 30 * time.Second
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateDebouncing
	stateFlushing
	stateRetryWait
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDebouncing:
		return "debouncing"
	case stateFlushing:
		return "flushing"
	case stateRetryWait:
		return "retry-wait"
	default:
		return "unknown"
	}
}

// FlushRecord describes one flush attempt for the journal.
type FlushRecord struct {
	Workspace string
	StartedAt time.Time
	Duration  time.Duration
	Uploaded  int
	Deleted   int
	Outcome   string // "ok", "error", or "unavailable"
	Err       string
}

// FlushRecorder receives a record after every flush attempt that
// touched (or tried to touch) the worker.
type FlushRecorder interface {
	RecordFlush(rec FlushRecord)
}

// Session synchronizes one workspace root to one sandbox worker.
//
// All scheduling runs through a single mutex-guarded state machine:
// changes arm or extend a debounce timer, the timer triggers a flush,
// and a failed flush parks the session in a retry wait. A change
// arriving mid-flush sets a queued bit so the flush's completion
// re-arms the debounce instead of going idle.
type Session struct {
	root     string
	debounce time.Duration
	clock    clock
	recorder FlushRecorder
	uploader *uploader
	watcher  *watcher
	matcher  *ignore.Matcher

	mu                 gosync.Mutex
	rpc                workerRPC
	handle             remote.Handle
	pending            map[string]Change
	state              sessionState
	flushQueued        bool
	flushTimer         timer
	retryTimer         timer
	timerGen           uint64
	closed             bool
	lastUnavailableLog time.Time
}

type sessionParams struct {
	root       string
	remoteRoot string
	debounce   time.Duration
	clock      clock
	recorder   FlushRecorder
	matcher    *ignore.Matcher
	handle     remote.Handle
	rpc        workerRPC
}

func newSession(p sessionParams) *Session {
	return &Session{
		root:     p.root,
		debounce: p.debounce,
		clock:    p.clock,
		recorder: p.recorder,
		uploader: &uploader{
			localRoot:  p.root,
			remoteRoot: p.remoteRoot,
		},
		matcher: p.matcher,
		rpc:     p.rpc,
		handle:  p.handle,
		pending: make(map[string]Change),
		state:   stateIdle,
	}
}

// queueChange records one change and (re)arms the debounce timer.
// Later changes to the same path overwrite earlier ones, so only the
// end state is ever transmitted.
func (s *Session) queueChange(abs string, c Change) {
	if s.matcher.Ignored(abs) {
		return
	}
	rel, ok := s.matcher.Rel(abs)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pending[rel] = c

	switch s.state {
	case stateFlushing:
		s.flushQueued = true
	case stateRetryWait:
		// New work supersedes the scheduled retry; the merged set
		// goes out after a normal debounce instead.
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
		}
		s.armDebounceLocked()
	default:
		s.armDebounceLocked()
	}
}

func (s *Session) armDebounceLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.flushTimer = s.clock.AfterFunc(s.debounce, func() {
		s.timerFired(gen)
	})
	s.state = stateDebouncing
}

func (s *Session) scheduleRetryLocked() {
	s.timerGen++
	gen := s.timerGen
	s.retryTimer = s.clock.AfterFunc(retryDelay, func() {
		s.timerFired(gen)
	})
	s.state = stateRetryWait
}

// timerFired runs when either the debounce or the retry timer
// expires. It claims the flushing state and runs the flush on the
// timer's goroutine. Stop cannot cancel a callback that has already
// started, so a timer superseded by a newer one carries a stale
// generation and returns without flushing.
func (s *Session) timerFired(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.timerGen || s.state == stateFlushing {
		s.mu.Unlock()
		return
	}
	s.state = stateFlushing
	s.flushQueued = false
	rpc := s.rpc
	s.mu.Unlock()

	s.runFlush(rpc)
}

func (s *Session) runFlush(rpc workerRPC) {
	started := s.clock.Now()
	ctx := context.Background()

	// Probe the worker before touching the queue so an unreachable
	// worker parks the pending set untouched.
	if err := rpc.Ping(ctx); err != nil {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.logUnavailableLocked(err)
		s.scheduleRetryLocked()
		s.mu.Unlock()

		s.record(FlushRecord{
			Workspace: s.root,
			StartedAt: started,
			Duration:  s.clock.Now().Sub(started),
			Outcome:   "unavailable",
			Err:       err.Error(),
		})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.pending) == 0 {
		s.state = stateIdle
		s.mu.Unlock()
		return
	}
	snapshot := s.pending
	s.pending = make(map[string]Change)
	s.mu.Unlock()

	stats, err := s.uploader.flush(ctx, rpc, snapshot)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		// Put the snapshot back, keeping any change that arrived
		// during the flush since it is newer.
		for rel, c := range snapshot {
			if _, exists := s.pending[rel]; !exists {
				s.pending[rel] = c
			}
		}
		s.scheduleRetryLocked()
		s.mu.Unlock()

		log.Printf(
			"sync: flush failed for %s: %v (retrying in %s)",
			s.root, err, retryDelay,
		)
		s.record(FlushRecord{
			Workspace: s.root,
			StartedAt: started,
			Duration:  s.clock.Now().Sub(started),
			Uploaded:  stats.uploaded,
			Deleted:   stats.deleted,
			Outcome:   "error",
			Err:       err.Error(),
		})
		return
	}

	if s.flushQueued || len(s.pending) > 0 {
		s.armDebounceLocked()
	} else {
		s.state = stateIdle
	}
	s.mu.Unlock()

	log.Printf(
		"sync: %s: %d uploaded, %d deleted",
		s.root, stats.uploaded, stats.deleted,
	)
	s.record(FlushRecord{
		Workspace: s.root,
		StartedAt: started,
		Duration:  s.clock.Now().Sub(started),
		Uploaded:  stats.uploaded,
		Deleted:   stats.deleted,
		Outcome:   "ok",
	})
}

func (s *Session) logUnavailableLocked(err error) {
	now := s.clock.Now()
	if now.Sub(s.lastUnavailableLog) < unavailableLogInterval {
		return
	}
	s.lastUnavailableLog = now
	log.Printf(
		"sync: worker unavailable for %s: %v (retrying every %s)",
		s.root, err, retryDelay,
	)
}

func (s *Session) record(rec FlushRecord) {
	if s.recorder != nil {
		s.recorder.RecordFlush(rec)
	}
}

// Rebind points the session at a new worker. Pending changes are
// kept and go to the new destination on the next flush.
func (s *Session) Rebind(h remote.Handle, rpc workerRPC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.rpc = rpc
}

// close stops the watcher and cancels all timers. A flush already in
// progress finishes its RPCs but its result is discarded.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.state = stateIdle
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.close()
	}
}

// Root returns the canonical local workspace path.
func (s *Session) Root() string {
	return s.root
}

// State returns the scheduler state name for status reporting.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// PendingCount returns how many paths are waiting to be flushed.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) workerURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.WorkerURL
}
