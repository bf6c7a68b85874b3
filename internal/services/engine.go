package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/metrics"
	"github.com/stackmelt/cargohold/internal/models"
)

// Engine is the backup orchestration core. It owns job lifecycles: lock
// acquisition, the phase sequence discovery → snapshot → archive → upload →
// prune, and the guaranteed finalization tail (staging cleanup, history
// append, lock release, notification) that runs whatever a phase did.
type Engine struct {
	cfg       *config.Config
	log       zerolog.Logger
	locks     *LockRegistry
	inFlight  *InFlightSet
	discovery Discoverer
	snapshots Snapshotter
	archiver  Archiver
	uploader  Uploader
	pruner    Pruner
	notifier  Notifier
	exporter  ConfigExporter // nil when Portainer is not configured
	remote    Remote
	history   *HistoryService

	mu   sync.Mutex
	jobs map[string]*jobState
	// maxJobs caps how many terminal jobs stay in memory; older ones are
	// evicted after their history row is written.
	maxJobs int

	streams   map[string][]chan string
	streamsMu sync.RWMutex

	// spoolFree reports free bytes on the staging filesystem; swappable in
	// tests.
	spoolFree func(path string) (uint64, error)
}

// defaultMaxRetainedJobs bounds the in-memory job map on a long-running
// daemon. History serves anything evicted.
const defaultMaxRetainedJobs = 64

// jobState pairs a job with its cancellation gate. committed flips when the
// first container stop is issued; from then on the job must run through
// restart and Cancel is rejected.
//
// mu also guards the job's mutable fields (Status, Phase, Error, timestamps,
// archive metadata): the job goroutine writes them while handlers read, so
// every write goes through update and every read across the API boundary
// through snapshot.
type jobState struct {
	job     *models.BackupJob
	restore *models.RestoreRequest

	mu        sync.Mutex
	canceled  bool
	committed bool
}

// update mutates the job under the state lock.
func (st *jobState) update(fn func(j *models.BackupJob)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st.job)
}

// snapshot returns a copy of the job safe to hand to handlers and marshal
// while the job goroutine keeps running.
func (st *jobState) snapshot() *models.BackupJob {
	st.mu.Lock()
	defer st.mu.Unlock()
	j := *st.job
	return &j
}

// NewEngine wires the engine with its collaborators.
func NewEngine(
	cfg *config.Config,
	log zerolog.Logger,
	locks *LockRegistry,
	inFlight *InFlightSet,
	discovery Discoverer,
	snapshots Snapshotter,
	archiver Archiver,
	uploader Uploader,
	pruner Pruner,
	notifier Notifier,
	exporter ConfigExporter,
	remote Remote,
	history *HistoryService,
) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log,
		locks:     locks,
		inFlight:  inFlight,
		discovery: discovery,
		snapshots: snapshots,
		archiver:  archiver,
		uploader:  uploader,
		pruner:    pruner,
		notifier:  notifier,
		exporter:  exporter,
		remote:    remote,
		history:   history,
		jobs:      make(map[string]*jobState),
		maxJobs:   defaultMaxRetainedJobs,
		streams:   make(map[string][]chan string),
		spoolFree: metrics.FreeBytes,
	}
}

// TriggerBackup starts a backup job for the target. It fails fast with
// JobAlreadyRunningError when the target's lock is held.
func (e *Engine) TriggerBackup(target string, kind models.JobKind) (*models.BackupJob, error) {
	switch kind {
	case models.KindFullSystem:
		target = models.TargetFullSystem
	case models.KindConfigOnly:
		target = models.TargetConfigOnly
	case models.KindProject:
		if target == "" || target == models.TargetFullSystem || target == models.TargetConfigOnly {
			return nil, fmt.Errorf("project job requires a workload target")
		}
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	return e.startJob(target, kind, nil)
}

// TriggerRestore starts a restore job. A named workload is restored in place
// under the same lock discipline as a backup; otherwise the archive is
// extracted to the requested directory.
func (e *Engine) TriggerRestore(req models.RestoreRequest) (*models.BackupJob, error) {
	if req.ArchiveName == "" {
		return nil, fmt.Errorf("restore requires an archive name")
	}
	if req.Workload == "" && req.DestDir == "" {
		return nil, fmt.Errorf("restore requires a workload or a destination directory")
	}

	target := req.Workload
	if target == "" {
		target = "restore:" + req.ArchiveName
	}

	return e.startJob(target, models.KindRestore, &req)
}

func (e *Engine) startJob(target string, kind models.JobKind, restore *models.RestoreRequest) (*models.BackupJob, error) {
	if err := e.locks.TryAcquire(target); err != nil {
		return nil, err
	}

	job := &models.BackupJob{
		ID:        uuid.New().String(),
		Target:    target,
		Kind:      kind,
		Status:    models.StatusPending,
		Phase:     models.PhaseQueued,
		CreatedAt: time.Now(),
	}
	st := &jobState{job: job, restore: restore}

	e.mu.Lock()
	e.jobs[job.ID] = st
	e.mu.Unlock()

	e.log.Info().Str("job_id", job.ID).Str("target", target).Str("kind", string(kind)).Msg("job accepted")
	accepted := *job
	go e.run(st)

	return &accepted, nil
}

// GetJob returns a copy of a job by id.
func (e *Engine) GetJob(id string) (*models.BackupJob, error) {
	e.mu.Lock()
	st, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return st.snapshot(), nil
}

// ListJobs returns copies of all jobs known to this process, newest first.
func (e *Engine) ListJobs() []*models.BackupJob {
	e.mu.Lock()
	states := make([]*jobState, 0, len(e.jobs))
	for _, st := range e.jobs {
		states = append(states, st)
	}
	e.mu.Unlock()

	jobs := make([]*models.BackupJob, 0, len(states))
	for _, st := range states {
		jobs = append(jobs, st.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

// Cancel requests cancellation of a job. Allowed only before the job's first
// container stop commits; afterwards the job must run through restart.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	st, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.committed || st.job.Status.Terminal() {
		return ErrCancelTooLate
	}
	st.canceled = true
	return nil
}

// evictTerminal drops the oldest terminal jobs once the map exceeds maxJobs.
// Running jobs are never evicted.
func (e *Engine) evictTerminal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.jobs) <= e.maxJobs {
		return
	}

	type done struct {
		id string
		at time.Time
	}
	terminal := make([]done, 0, len(e.jobs))
	for id, st := range e.jobs {
		if st.snapshot().Status.Terminal() {
			terminal = append(terminal, done{id: id, at: st.job.CreatedAt})
		}
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].at.Before(terminal[j].at) })

	for _, d := range terminal {
		if len(e.jobs) <= e.maxJobs {
			return
		}
		delete(e.jobs, d.id)
	}
}

// Follow subscribes to a job's events. The subscription is registered before
// the terminal check, so a job finishing between the caller's lookup and the
// subscription still delivers its completion event, replayed into the
// channel. Callers must Unsubscribe.
func (e *Engine) Follow(jobID string) (chan string, error) {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	ch := e.Subscribe(jobID)
	if job := st.snapshot(); job.Status.Terminal() {
		select {
		case ch <- "complete:" + string(job.Status):
		default:
		}
	}
	return ch, nil
}

// ListArchives enumerates the local spool and the remote destination.
func (e *Engine) ListArchives(ctx context.Context) (local, remote []RemoteEntry, err error) {
	local = make([]RemoteEntry, 0)
	if dirEntries, derr := os.ReadDir(e.cfg.Archive.Dir); derr == nil {
		for _, de := range dirEntries {
			if de.IsDir() || !strings.HasSuffix(de.Name(), ArchiveSuffix) {
				continue
			}
			if info, ierr := de.Info(); ierr == nil {
				local = append(local, RemoteEntry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
			}
		}
	}

	remote, err = e.remote.List(ctx)
	return local, remote, err
}

// isCanceled reports whether cancellation was requested before the commit
// point.
func (st *jobState) isCanceled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.canceled
}

// commit marks the point of no return. Returns false when the job was
// canceled before any container stop was issued.
func (st *jobState) commit() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.canceled {
		return false
	}
	st.committed = true
	return true
}

func (e *Engine) run(st *jobState) {
	jobID := st.job.ID
	kind := st.job.Kind
	start := time.Now()
	st.update(func(j *models.BackupJob) {
		j.StartedAt = &start
		j.Status = models.StatusRunning
	})

	stagingDir := filepath.Join(e.cfg.Staging.Root, jobID)
	var archive *models.Archive

	defer func() {
		if r := recover(); r != nil {
			st.update(func(j *models.BackupJob) {
				j.Status = models.StatusFailed
				j.Error = fmt.Sprintf("panic: %v", r)
			})
			e.log.Error().Str("job_id", jobID).Interface("panic", r).Msg("job panicked")
		}
		e.finalize(st, stagingDir, archive)
	}()

	ctx := context.Background()
	if kind == models.KindRestore {
		e.runRestore(ctx, st, stagingDir)
		return
	}
	archive = e.runBackup(ctx, st, stagingDir)
}

// runBackup executes phases 4.1–4.5 and returns the archive (nil when none
// was produced). Job status and error are set on st.job.
func (e *Engine) runBackup(ctx context.Context, st *jobState, stagingDir string) *models.Archive {
	job := st.job // Kind, Target and ID are immutable; writes go through st.update
	fail := func(err error) {
		st.update(func(j *models.BackupJob) {
			j.Status = models.StatusFailed
			j.Error = err.Error()
		})
	}

	if err := e.preflight(stagingDir); err != nil {
		fail(err)
		return nil
	}

	// Discovery. Config-only jobs touch no container, so the runtime is not
	// consulted at all.
	var workloads []models.Workload
	if job.Kind != models.KindConfigOnly {
		e.setPhase(st, models.PhaseDiscovering)
		filter := ""
		if job.Kind == models.KindProject {
			filter = job.Target
		}

		var err error
		workloads, err = e.discovery.Discover(ctx, filter)
		if err != nil {
			fail(err)
			return nil
		}
		if len(workloads) == 0 {
			fail(fmt.Errorf("target %s: %w", job.Target, ErrNoWorkloads))
			return nil
		}
	}

	// Configuration export: the whole payload of config-only jobs, an
	// optional pre-step of full-system jobs.
	var exportErr error
	if job.Kind == models.KindConfigOnly || (job.Kind == models.KindFullSystem && e.exporter != nil) {
		if e.exporter == nil {
			fail(fmt.Errorf("config-only backup requires a configured portainer endpoint"))
			return nil
		}
		e.setPhase(st, models.PhaseExporting)
		if st.isCanceled() {
			fail(ErrJobCanceled)
			return nil
		}
		if exportErr = e.exporter.Export(ctx, stagingDir); exportErr != nil {
			if job.Kind == models.KindConfigOnly {
				fail(exportErr)
				return nil
			}
			// Full-system: container data is still worth backing up.
			e.log.Warn().Err(exportErr).Str("job_id", job.ID).Msg("config export failed, continuing with container data")
		}
	}

	// Snapshots.
	var snapErrs []string
	var restartFailure bool
	succeeded := 0
	if job.Kind != models.KindConfigOnly {
		e.setPhase(st, models.PhaseSnapshot)
		if !st.commit() {
			fail(ErrJobCanceled)
			return nil
		}

		for i := range workloads {
			w := &workloads[i]
			if err := e.snapshots.Snapshot(ctx, w, stagingDir); err != nil {
				var rf *RestartFailedError
				if errors.As(err, &rf) {
					restartFailure = true
				}
				snapErrs = append(snapErrs, err.Error())
				e.log.Error().Err(err).Str("job_id", job.ID).Str("workload", w.Name).Msg("workload snapshot failed")
				continue
			}
			succeeded++
		}

		if succeeded == 0 {
			fail(fmt.Errorf("no workload produced a snapshot: %s", strings.Join(snapErrs, "; ")))
			return nil
		}
	}

	// Archive.
	e.setPhase(st, models.PhaseArchiving)
	archive, err := e.archiver.Create(ctx, stagingDir, job.Target, job.ID)
	if err != nil {
		fail(err)
		return nil
	}
	st.update(func(j *models.BackupJob) {
		j.ArchiveName = archive.Name
		j.ArchiveSize = archive.Size
	})
	e.inFlight.Add(archive.Name)

	// Upload.
	e.setPhase(st, models.PhaseUploading)
	if err := e.uploader.Upload(ctx, archive); err != nil {
		fail(err)
		return archive
	}

	// Retention rides on the back of successful jobs; its failures never
	// change the job outcome.
	e.setPhase(st, models.PhasePruning)
	if res, err := e.pruner.Prune(ctx); err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Msg("retention sweep failed")
	} else if res.Deleted() > 0 || res.Failed > 0 {
		e.log.Info().Int("deleted", res.Deleted()).Int("failed", res.Failed).Msg("retention sweep finished")
	}

	st.update(func(j *models.BackupJob) {
		switch {
		case restartFailure:
			// Highest severity tier: a workload is down regardless of what
			// else worked.
			j.Status = models.StatusFailed
			j.Error = strings.Join(snapErrs, "; ")
		case len(snapErrs) > 0:
			j.Status = models.StatusPartial
			j.Error = strings.Join(snapErrs, "; ")
		case exportErr != nil:
			j.Status = models.StatusPartial
			j.Error = exportErr.Error()
		default:
			j.Status = models.StatusSuccess
		}
	})
	return archive
}

func (e *Engine) runRestore(ctx context.Context, st *jobState, stagingDir string) {
	req := st.restore
	fail := func(err error) {
		st.update(func(j *models.BackupJob) {
			j.Status = models.StatusFailed
			j.Error = err.Error()
		})
	}

	// Register the archive before touching the spool so a retention sweep
	// riding another job cannot delete it mid-restore. A fetched archive
	// keeps its remote mtime and may already be over the age cutoff.
	e.inFlight.Add(req.ArchiveName)

	// Locate the archive: spool first, remote second.
	localPath := filepath.Join(e.cfg.Archive.Dir, req.ArchiveName)
	if _, err := os.Stat(localPath); err != nil {
		e.setPhase(st, models.PhaseFetching)
		if err := os.MkdirAll(e.cfg.Archive.Dir, 0750); err != nil {
			fail(err)
			return
		}
		if err := e.remote.Fetch(ctx, req.ArchiveName, localPath); err != nil {
			fail(fmt.Errorf("%w: %s: %v", ErrArchiveNotFound, req.ArchiveName, err))
			return
		}
	}

	destDir := req.DestDir
	if destDir == "" {
		destDir = filepath.Join(stagingDir, "extract")
	}
	if err := os.MkdirAll(destDir, 0750); err != nil {
		fail(err)
		return
	}

	e.setPhase(st, models.PhaseRestoring)
	if st.isCanceled() {
		fail(ErrJobCanceled)
		return
	}
	if err := e.archiver.Extract(ctx, localPath, destDir); err != nil {
		fail(err)
		return
	}

	if req.Workload != "" {
		workloads, err := e.discovery.Discover(ctx, req.Workload)
		if err != nil {
			fail(err)
			return
		}
		if len(workloads) == 0 {
			fail(fmt.Errorf("workload %s: %w", req.Workload, ErrNoWorkloads))
			return
		}
		if !st.commit() {
			fail(ErrJobCanceled)
			return
		}
		if err := e.snapshots.Restore(ctx, &workloads[0], destDir); err != nil {
			fail(err)
			return
		}
	}

	st.update(func(j *models.BackupJob) { j.Status = models.StatusSuccess })
}

// preflight aborts a job before anything is stopped when the staging disk is
// under the configured floor.
func (e *Engine) preflight(stagingDir string) error {
	if err := os.MkdirAll(stagingDir, 0750); err != nil {
		return err
	}
	free, err := e.spoolFree(e.cfg.Staging.Root)
	if err != nil {
		e.log.Warn().Err(err).Msg("could not determine staging free space")
		return nil
	}
	if int64(free/(1024*1024)) < e.cfg.Staging.MinFreeMB {
		return fmt.Errorf("%w: %d MB free, %d MB required", ErrInsufficientSpace, free/(1024*1024), e.cfg.Staging.MinFreeMB)
	}
	return nil
}

// finalize is the guaranteed tail of every job: in-flight deregistration,
// staging cleanup, history append, lock release and exactly one notification.
func (e *Engine) finalize(st *jobState, stagingDir string, archive *models.Archive) {
	if archive != nil {
		e.inFlight.Remove(archive.Name)
	}
	if st.restore != nil {
		e.inFlight.Remove(st.restore.ArchiveName)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		e.log.Warn().Err(err).Str("job_id", st.job.ID).Msg("staging cleanup failed")
	}

	finished := time.Now()
	st.update(func(j *models.BackupJob) {
		j.FinishedAt = &finished
		j.Phase = models.PhaseDone
		if !j.Status.Terminal() {
			j.Status = models.StatusFailed
		}
	})
	job := st.snapshot()

	started := job.CreatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	entry := &models.HistoryEntry{
		JobID:      job.ID,
		Target:     job.Target,
		Kind:       job.Kind,
		Status:     job.Status,
		Error:      job.Error,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMS: finished.Sub(started).Milliseconds(),
	}
	if archive != nil {
		entry.ArchiveName = archive.Name
		entry.ArchiveSize = archive.Size
		entry.ArchiveChecksum = archive.Checksum
	}
	if err := e.history.Append(entry); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("history append failed")
	}
	e.evictTerminal()

	e.locks.Release(job.Target)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Notify.GetTimeout())
	defer cancel()
	e.notifier.Notify(ctx, Outcome{
		JobID:       job.ID,
		Target:      job.Target,
		Kind:        job.Kind,
		Status:      job.Status,
		Duration:    finished.Sub(started),
		ArchiveName: entry.ArchiveName,
		ArchiveSize: entry.ArchiveSize,
		Error:       job.Error,
	})

	e.broadcastComplete(job)
	e.log.Info().
		Str("job_id", job.ID).
		Str("target", job.Target).
		Str("status", string(job.Status)).
		Dur("duration", finished.Sub(started)).
		Msg("job finished")
}

func (e *Engine) setPhase(st *jobState, phase models.JobPhase) {
	st.update(func(j *models.BackupJob) { j.Phase = phase })
	e.broadcast(st.job.ID, "phase:"+string(phase))
}

// Subscribe returns a channel of job events ("phase:<phase>" and
// "complete:<status>"). Callers must Unsubscribe.
func (e *Engine) Subscribe(jobID string) chan string {
	ch := make(chan string, 16)

	e.streamsMu.Lock()
	e.streams[jobID] = append(e.streams[jobID], ch)
	e.streamsMu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (e *Engine) Unsubscribe(jobID string, ch chan string) {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()

	channels := e.streams[jobID]
	for i, c := range channels {
		if c == ch {
			e.streams[jobID] = append(channels[:i], channels[i+1:]...)
			close(ch)
			break
		}
	}

	if len(e.streams[jobID]) == 0 {
		delete(e.streams, jobID)
	}
}

func (e *Engine) broadcast(jobID, msg string) {
	e.streamsMu.RLock()
	defer e.streamsMu.RUnlock()

	for _, ch := range e.streams[jobID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (e *Engine) broadcastComplete(job *models.BackupJob) {
	e.broadcast(job.ID, "complete:"+string(job.Status))
}
