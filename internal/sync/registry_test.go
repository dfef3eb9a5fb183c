package sync

import (
	"testing"

	"github.com/cmux-cli/sandsync/internal/remote"
)

func newTestRegistry() (*Registry, map[string]*fakeRPC) {
	r := NewRegistry(nil)
	rpcs := make(map[string]*fakeRPC)
	r.newRPC = func(h remote.Handle) workerRPC {
		rpc := &fakeRPC{}
		rpcs[h.WorkerURL] = rpc
		return rpc
	}
	return r, rpcs
}

func TestRegistryStartAndStop(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Dispose()
	root := t.TempDir()

	err := r.Start(StartOptions{
		LocalRoot: root,
		Remote:    remote.Handle{WorkerURL: "http://w1.test"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	infos := r.Sessions()
	if len(infos) != 1 {
		t.Fatalf("sessions = %d, want 1", len(infos))
	}
	if infos[0].WorkerURL != "http://w1.test" {
		t.Fatalf("worker = %s", infos[0].WorkerURL)
	}
	if infos[0].State != "idle" {
		t.Fatalf("state = %s, want idle", infos[0].State)
	}

	if err := r.Stop(root); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := r.Sessions(); len(got) != 0 {
		t.Fatalf("sessions after stop = %d, want 0", len(got))
	}
}

func TestRegistryStartSameRootRebinds(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Dispose()
	root := t.TempDir()

	for _, url := range []string{"http://w1.test", "http://w2.test"} {
		err := r.Start(StartOptions{
			LocalRoot: root,
			Remote:    remote.Handle{WorkerURL: url},
		})
		if err != nil {
			t.Fatalf("start %s: %v", url, err)
		}
	}

	infos := r.Sessions()
	if len(infos) != 1 {
		t.Fatalf("sessions = %d, want 1", len(infos))
	}
	if infos[0].WorkerURL != "http://w2.test" {
		t.Fatalf("worker = %s, want the rebound URL", infos[0].WorkerURL)
	}
}

func TestRegistryStartRejectsMissingDir(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Dispose()

	err := r.Start(StartOptions{
		LocalRoot: "/nonexistent/workspace/path",
		Remote:    remote.Handle{WorkerURL: "http://w1.test"},
	})
	if err == nil {
		t.Fatal("start succeeded for missing directory")
	}
}

func TestRegistryStartRequiresWorkerURL(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Dispose()

	err := r.Start(StartOptions{LocalRoot: t.TempDir()})
	if err == nil {
		t.Fatal("start succeeded without a worker URL")
	}
}

func TestRegistryStopUnknownRootIsNoop(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Dispose()

	if err := r.Stop(t.TempDir()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRegistrySessionsSortedByRoot(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Dispose()

	for i := 0; i < 3; i++ {
		err := r.Start(StartOptions{
			LocalRoot: t.TempDir(),
			Remote:    remote.Handle{WorkerURL: "http://w.test"},
		})
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	infos := r.Sessions()
	if len(infos) != 3 {
		t.Fatalf("sessions = %d, want 3", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Root >= infos[i].Root {
			t.Fatalf("sessions not sorted: %s before %s",
				infos[i-1].Root, infos[i].Root)
		}
	}
}

func TestRegistryDisposeStopsEverything(t *testing.T) {
	r, _ := newTestRegistry()

	for i := 0; i < 2; i++ {
		err := r.Start(StartOptions{
			LocalRoot: t.TempDir(),
			Remote:    remote.Handle{WorkerURL: "http://w.test"},
		})
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	r.Dispose()
	if got := r.Sessions(); len(got) != 0 {
		t.Fatalf("sessions after dispose = %d, want 0", len(got))
	}
}
