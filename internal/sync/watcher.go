package sync

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/fsnotify/fsnotify"
)

// maxWatchDepth bounds how deep the recursive watch descends below
// the workspace root.
const maxWatchDepth = 25

// watcher delivers filtered file events for one workspace root. It
// does no debouncing of its own; the session's scheduler owns that.
type watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	ignored  func(string) bool
	onEvent  func(abs string, c Change)
	stop     chan struct{}
	done     chan struct{}
	stopOnce gosync.Once
}

// newWatcher creates a watcher over root. Pre-existing files produce
// no events; only changes observed after this point are reported.
func newWatcher(
	root string,
	ignored func(string) bool,
	onEvent func(abs string, c Change),
) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		fsw:     fsw,
		root:    root,
		ignored: ignored,
		onEvent: onEvent,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := w.watchTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// watchTree adds root and all non-ignored subdirectories to the watch
// list, bounded by maxWatchDepth. Inaccessible directories are
// skipped rather than failing the whole tree.
func (w *watcher) watchTree(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	return filepath.WalkDir(root,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() || p == root {
				return nil
			}
			if w.ignored(p) || pathDepth(root, p) > maxWatchDepth {
				return filepath.SkipDir
			}
			_ = w.fsw.Add(p)
			return nil
		})
}

func pathDepth(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func (w *watcher) start() {
	go w.loop()
}

// close stops the watcher and waits for its loop to finish. Safe to
// call more than once.
func (w *watcher) close() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.fsw.Close()
	})
}

func (w *watcher) loop() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %s: %v", w.root, err)
		}
	}
}

// handleEvent converts one fsnotify event into a change callback.
// Directory creations extend the watch list instead; chmods and
// symlinks are dropped.
func (w *watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Lstat(event.Name)
		if err != nil {
			// Raced with a removal; the flush-time stat settles
			// which side won.
			w.onEvent(event.Name, Upsert)
			return
		}
		if info.IsDir() {
			if event.Op&fsnotify.Create != 0 {
				w.watchNewDir(event.Name)
			}
			return
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return
		}
		w.onEvent(event.Name, Upsert)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.onEvent(event.Name, Delete)
	}
}

// watchNewDir registers a directory created after start and reports
// any files that landed inside it before the watch took effect.
func (w *watcher) watchNewDir(dir string) {
	if w.ignored(dir) || pathDepth(w.root, dir) > maxWatchDepth {
		return
	}
	_ = w.fsw.Add(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		sub := filepath.Join(dir, e.Name())
		if e.IsDir() {
			w.watchNewDir(sub)
			continue
		}
		if e.Type().IsRegular() {
			w.onEvent(sub, Upsert)
		}
	}
}
