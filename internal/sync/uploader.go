package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/cmux-cli/sandsync/internal/remote"
)

// maxFilesPerBatch bounds how many files ride in one write RPC. It
// caps both the bytes held in memory per call and the burst load on
// the worker.
const maxFilesPerBatch = 50

// workerRPC is the slice of the remote client the engine needs.
type workerRPC interface {
	Ping(ctx context.Context) error
	WriteFiles(ctx context.Context, files []remote.FileUpload) error
	DeletePaths(ctx context.Context, paths []string) error
}

// uploader materializes a pending-change snapshot into delete and
// write batches for one workspace.
type uploader struct {
	localRoot  string
	remoteRoot string
}

// flushStats summarizes one successful flush attempt.
type flushStats struct {
	uploaded int
	deleted  int
}

type fileDisposition int

const (
	fileReady fileDisposition = iota
	fileGone
	fileSkipped
)

// flush sends a snapshot to the worker: one delete call first (so a
// rename never leaves a stale remote file), then write batches of at
// most maxFilesPerBatch, sequential and in order. Any RPC error
// aborts the remaining batches and fails the whole attempt.
func (u *uploader) flush(
	ctx context.Context, rpc workerRPC, snapshot map[string]Change,
) (flushStats, error) {
	var stats flushStats

	rels := make([]string, 0, len(snapshot))
	for rel := range snapshot {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	var deletes []string
	var files []remote.FileUpload
	for _, rel := range rels {
		switch snapshot[rel] {
		case Delete:
			deletes = append(deletes, u.destPath(rel))
		case Upsert:
			f, disp := u.readFile(rel)
			switch disp {
			case fileReady:
				files = append(files, f)
			case fileGone:
				// Queued as an upload but removed before the
				// flush ran; the end state is a delete.
				deletes = append(deletes, u.destPath(rel))
			case fileSkipped:
				// Dropped from this attempt only; a future
				// watcher event re-queues it.
			}
		}
	}

	if len(deletes) > 0 {
		if err := rpc.DeletePaths(ctx, deletes); err != nil {
			return stats, fmt.Errorf(
				"deleting %d path(s): %w", len(deletes), err,
			)
		}
		stats.deleted = len(deletes)
	}

	for start := 0; start < len(files); start += maxFilesPerBatch {
		end := min(start+maxFilesPerBatch, len(files))
		if err := rpc.WriteFiles(ctx, files[start:end]); err != nil {
			return stats, fmt.Errorf(
				"writing files %d-%d of %d: %w",
				start+1, end, len(files), err,
			)
		}
		stats.uploaded += end - start
	}
	return stats, nil
}

func (u *uploader) destPath(rel string) string {
	return path.Join(u.remoteRoot, rel)
}

// readFile stats and reads one upload candidate at flush time. A file
// that no longer exists is reported as gone so the caller can turn it
// into a delete. Directories and symlinks are never uploaded.
func (u *uploader) readFile(
	rel string,
) (remote.FileUpload, fileDisposition) {
	abs := filepath.Join(u.localRoot, filepath.FromSlash(rel))

	info, err := os.Lstat(abs)
	if os.IsNotExist(err) {
		return remote.FileUpload{}, fileGone
	}
	if err != nil {
		log.Printf("sync: stat %s: %v (dropped from batch)", abs, err)
		return remote.FileUpload{}, fileSkipped
	}
	if !info.Mode().IsRegular() {
		return remote.FileUpload{}, fileSkipped
	}

	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return remote.FileUpload{}, fileGone
	}
	if err != nil {
		log.Printf("sync: read %s: %v (dropped from batch)", abs, err)
		return remote.FileUpload{}, fileSkipped
	}

	return remote.FileUpload{
		SourcePath:      abs,
		DestinationPath: u.destPath(rel),
		Content:         base64.StdEncoding.EncodeToString(data),
		Mode:            fmt.Sprintf("%04o", info.Mode().Perm()),
	}, fileReady
}
