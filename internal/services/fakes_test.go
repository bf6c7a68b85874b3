package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stackmelt/cargohold/internal/models"
)

// fakeRemote is an in-memory Remote shared by the sync, retention and engine
// tests.
type fakeRemote struct {
	mu       sync.Mutex
	objects  map[string]RemoteEntry
	contents map[string][]byte // bytes handed back by Fetch

	copyErrs  []error // consumed one per Copy call
	listErr   error
	deleteErr error
	fetchErr  error

	copyCalls   int
	deleteCalls []string

	// sizeOverride corrupts the stored size to simulate a bad transfer.
	sizeOverride map[string]int64

	// fetchEntered/fetchRelease, when set, park Fetch so a test can observe
	// the job mid-download.
	fetchEntered chan struct{}
	fetchRelease chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		objects:      make(map[string]RemoteEntry),
		contents:     make(map[string][]byte),
		sizeOverride: make(map[string]int64),
	}
}

func (f *fakeRemote) Copy(_ context.Context, localPath, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.copyCalls++
	if len(f.copyErrs) > 0 {
		err := f.copyErrs[0]
		f.copyErrs = f.copyErrs[1:]
		if err != nil {
			return err
		}
	}

	var size int64
	if data, err := os.ReadFile(localPath); err == nil {
		size = int64(len(data))
		f.contents[name] = data
	}
	if s, ok := f.sizeOverride[name]; ok {
		size = s
	}
	f.objects[name] = RemoteEntry{Name: name, Size: size, ModTime: time.Now()}
	return nil
}

// put seeds an object directly, bypassing Copy.
func (f *fakeRemote) put(name string, size int64, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = RemoteEntry{Name: name, Size: size, ModTime: modTime}
}

func (f *fakeRemote) List(_ context.Context) ([]RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	entries := make([]RemoteEntry, 0, len(f.objects))
	for _, e := range f.objects {
		entries = append(entries, e)
	}
	return entries, nil
}

func (f *fakeRemote) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteCalls = append(f.deleteCalls, name)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[name]; !ok {
		return fmt.Errorf("object %s not found", name)
	}
	delete(f.objects, name)
	return nil
}

func (f *fakeRemote) Fetch(_ context.Context, name, localPath string) error {
	if f.fetchEntered != nil {
		f.fetchEntered <- struct{}{}
	}
	if f.fetchRelease != nil {
		<-f.fetchRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchErr != nil {
		return f.fetchErr
	}
	if _, ok := f.objects[name]; !ok {
		return fmt.Errorf("object %s not found", name)
	}
	data, ok := f.contents[name]
	if !ok {
		data = []byte("remote payload")
	}
	return os.WriteFile(localPath, data, 0600)
}

func (f *fakeRemote) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[name]
	return ok
}

// fakeDiscovery returns canned workloads.
type fakeDiscovery struct {
	workloads []models.Workload
	err       error
	calls     int
}

func (f *fakeDiscovery) Discover(_ context.Context, projectFilter string) ([]models.Workload, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if projectFilter == "" {
		return f.workloads, nil
	}
	for _, w := range f.workloads {
		if w.Name == projectFilter {
			return []models.Workload{w}, nil
		}
	}
	return nil, nil
}

func (f *fakeDiscovery) Ping(context.Context) error { return f.err }

// fakeSnapshotter records snapshot calls and writes a marker file so the
// archive stage has something to consolidate.
type fakeSnapshotter struct {
	mu        sync.Mutex
	snapshots []string
	restores  []string
	errs      map[string]error // per-workload snapshot error

	writeMarker func(stagingDir, workload string) error
}

func newFakeSnapshotter() *fakeSnapshotter {
	return &fakeSnapshotter{errs: make(map[string]error)}
}

func (f *fakeSnapshotter) Snapshot(_ context.Context, w *models.Workload, stagingDir string) error {
	f.mu.Lock()
	f.snapshots = append(f.snapshots, w.Name)
	err := f.errs[w.Name]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if f.writeMarker != nil {
		return f.writeMarker(stagingDir, w.Name)
	}
	return nil
}

func (f *fakeSnapshotter) Restore(_ context.Context, w *models.Workload, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores = append(f.restores, w.Name)
	return f.errs[w.Name]
}

func (f *fakeSnapshotter) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

// fakeUploader succeeds or fails without touching a remote.
type fakeUploader struct {
	mu       sync.Mutex
	err      error
	uploaded []string
}

func (f *fakeUploader) Upload(_ context.Context, a *models.Archive) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.uploaded = append(f.uploaded, a.Name)
	return nil
}

// fakePruner counts sweeps.
type fakePruner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePruner) Prune(context.Context) (PruneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return PruneResult{}, f.err
}

// fakeNotifier records every outcome it receives.
type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (f *fakeNotifier) Notify(_ context.Context, o Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

func (f *fakeNotifier) last() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[len(f.outcomes)-1]
}

// fakeExporter stands in for the Portainer client.
type fakeExporter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeExporter) Export(_ context.Context, destDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}
