package sync

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	gosync "sync"
	"time"

	"github.com/cmux-cli/sandsync/internal/ignore"
	"github.com/cmux-cli/sandsync/internal/remote"
)

// DefaultRemoteRoot is where workspace files land on the worker when
// no explicit destination is given.
const DefaultRemoteRoot = "/workspace"

// StartOptions configures one workspace sync session.
type StartOptions struct {
	LocalRoot  string
	Remote     remote.Handle
	RemoteRoot string
	Debounce   time.Duration
}

// Registry owns the active sessions, keyed by canonical local root.
type Registry struct {
	mu       gosync.Mutex
	sessions map[string]*Session
	clock    clock
	recorder FlushRecorder
	newRPC   func(h remote.Handle) workerRPC
}

// NewRegistry creates an empty registry. recorder may be nil.
func NewRegistry(recorder FlushRecorder) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    realClock{},
		recorder: recorder,
		newRPC: func(h remote.Handle) workerRPC {
			return remote.New(h)
		},
	}
}

// canonicalRoot resolves a workspace path so two spellings of the
// same directory land on the same session.
func canonicalRoot(localRoot string) (string, error) {
	abs, err := filepath.Abs(localRoot)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// Start begins syncing a workspace. Starting an already-synced root
// is not an error: the existing session is rebound to the given
// worker and keeps its pending changes.
func (r *Registry) Start(opts StartOptions) error {
	root, err := canonicalRoot(opts.LocalRoot)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", opts.LocalRoot, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", root)
	}
	if opts.Remote.WorkerURL == "" {
		return fmt.Errorf("workspace %s: worker URL required", root)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[root]; ok {
		r.mu.Unlock()
		existing.Rebind(opts.Remote, r.newRPC(opts.Remote))
		log.Printf("sync: rebound %s -> %s", root, opts.Remote.WorkerURL)
		return nil
	}
	r.mu.Unlock()

	matcher, err := ignore.Load(root)
	if err != nil {
		return fmt.Errorf("loading ignore rules for %s: %w", root, err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	remoteRoot := opts.RemoteRoot
	if remoteRoot == "" {
		remoteRoot = DefaultRemoteRoot
	}

	sess := newSession(sessionParams{
		root:       root,
		remoteRoot: remoteRoot,
		debounce:   debounce,
		clock:      r.clock,
		recorder:   r.recorder,
		matcher:    matcher,
		handle:     opts.Remote,
		rpc:        r.newRPC(opts.Remote),
	})

	w, err := newWatcher(root, matcher.Ignored, sess.queueChange)
	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	sess.watcher = w

	r.mu.Lock()
	if _, ok := r.sessions[root]; ok {
		// Lost a start race for the same root; the winner stands.
		r.mu.Unlock()
		sess.close()
		return r.Start(opts)
	}
	r.sessions[root] = sess
	r.mu.Unlock()

	w.start()
	log.Printf(
		"sync: watching %s -> %s%s",
		root, opts.Remote.WorkerURL, remoteRoot,
	)
	return nil
}

// Stop ends the session for a workspace. Stopping an unknown root is
// a no-op.
func (r *Registry) Stop(localRoot string) error {
	root, err := canonicalRoot(localRoot)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", localRoot, err)
	}

	r.mu.Lock()
	sess, ok := r.sessions[root]
	if ok {
		delete(r.sessions, root)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	sess.close()
	log.Printf("sync: stopped %s", root)
	return nil
}

// Dispose stops every session. Used at daemon shutdown.
func (r *Registry) Dispose() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for root, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, root)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// SessionInfo is the status-reporting view of one session.
type SessionInfo struct {
	Root      string `json:"root"`
	State     string `json:"state"`
	Pending   int    `json:"pending"`
	WorkerURL string `json:"worker_url"`
}

// Sessions lists active sessions sorted by root.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{
			Root:      sess.Root(),
			State:     sess.State(),
			Pending:   sess.PendingCount(),
			WorkerURL: sess.workerURL(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Root < infos[j].Root
	})
	return infos
}
