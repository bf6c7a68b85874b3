package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/models"
)

// Snapshotter captures and restores point-in-time copies of workload data.
type Snapshotter interface {
	// Snapshot stops the workload, copies its mount data into
	// stagingDir/<workload>/ and restarts it.
	Snapshot(ctx context.Context, w *models.Workload, stagingDir string) error
	// Restore stops the workload, copies previously extracted data from
	// srcDir/<workload>/ back over its mounts and restarts it.
	Restore(ctx context.Context, w *models.Workload, srcDir string) error
}

// containerRuntime is the slice of the container API the stop/copy/restart
// state machine needs. *client.Client satisfies it.
type containerRuntime interface {
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	Close() error
}

// SnapshotService drives the per-workload stop/copy/restart state machine.
// The invariant it maintains: every container this service stopped is started
// again before Snapshot or Restore returns, whatever the copy did.
type SnapshotService struct {
	cfg *config.Config
	log zerolog.Logger

	// newRuntime builds a fresh runtime client per operation; swappable in
	// tests.
	newRuntime func() (containerRuntime, error)
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(cfg *config.Config, log zerolog.Logger) *SnapshotService {
	s := &SnapshotService{cfg: cfg, log: log}
	s.newRuntime = func() (containerRuntime, error) { return s.getClient() }
	return s
}

func (s *SnapshotService) getClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if s.cfg.Docker.Host != "" {
		opts = append(opts, client.WithHost(s.cfg.Docker.Host))
	}
	return client.NewClientWithOpts(opts...)
}

// Snapshot copies each mount of the workload into stagingDir/<name>/<base>.
// A workload with nothing to copy fails before any container is touched.
func (s *SnapshotService) Snapshot(ctx context.Context, w *models.Workload, stagingDir string) error {
	if len(w.Mounts) == 0 {
		return fmt.Errorf("workload %s: %w", w.Name, ErrNoMounts)
	}

	dest := filepath.Join(stagingDir, w.Name)
	if err := os.MkdirAll(dest, 0750); err != nil {
		return &CopyError{Workload: w.Name, Path: dest, Err: err}
	}

	return s.withStopped(ctx, w, func() error {
		for _, m := range w.Mounts {
			target := filepath.Join(dest, filepath.Base(m.Source))
			if err := copyTree(m.Source, target); err != nil {
				return &CopyError{Workload: w.Name, Path: m.Source, Err: err}
			}
		}
		return nil
	})
}

// Restore is the inverse copy: extracted data goes back over the live mounts.
func (s *SnapshotService) Restore(ctx context.Context, w *models.Workload, srcDir string) error {
	src := filepath.Join(srcDir, w.Name)
	if _, err := os.Stat(src); err != nil {
		return &CopyError{Workload: w.Name, Path: src, Err: err}
	}

	return s.withStopped(ctx, w, func() error {
		for _, m := range w.Mounts {
			from := filepath.Join(src, filepath.Base(m.Source))
			if _, err := os.Stat(from); err != nil {
				// The archive predates this mount; nothing to put back.
				continue
			}
			if err := copyTree(from, m.Source); err != nil {
				return &CopyError{Workload: w.Name, Path: m.Source, Err: err}
			}
		}
		return nil
	})
}

// withStopped stops every container of the workload, runs fn, and restarts
// whatever was stopped as the unconditional release action. A restart failure
// outranks fn's error: it means a workload is left down.
func (s *SnapshotService) withStopped(ctx context.Context, w *models.Workload, fn func() error) (err error) {
	cli, cliErr := s.newRuntime()
	if cliErr != nil {
		return &DiscoveryError{Err: fmt.Errorf("create docker client: %w", cliErr)}
	}
	defer func() { _ = cli.Close() }()

	stopped := make([]models.ContainerRef, 0, len(w.Containers))
	defer func() {
		for i := len(stopped) - 1; i >= 0; i-- {
			c := stopped[i]
			if rerr := s.start(cli, c.ID); rerr != nil {
				if err != nil {
					s.log.Error().Err(err).Str("workload", w.Name).Msg("snapshot error superseded by restart failure")
				}
				err = &RestartFailedError{Workload: w.Name, Container: c.Name, Err: rerr}
				s.log.Error().Err(rerr).Str("workload", w.Name).Str("container", c.Name).Msg("workload left down")
			} else {
				s.log.Debug().Str("workload", w.Name).Str("container", c.Name).Msg("container restarted")
			}
		}
	}()

	for i := range w.Containers {
		c := &w.Containers[i]
		if serr := s.stop(ctx, cli, c); serr != nil {
			return serr
		}
		stopped = append(stopped, *c)
	}

	return fn()
}

// stop issues a graceful stop with the configured timeout and escalates to a
// kill when the container does not stop in time.
func (s *SnapshotService) stop(ctx context.Context, cli containerRuntime, c *models.ContainerRef) error {
	timeoutSec := int(s.cfg.Docker.GetStopTimeout() / time.Second)
	err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeoutSec})
	if err == nil {
		s.log.Debug().Str("container", c.Name).Msg("container stopped")
		return nil
	}

	s.log.Warn().Err((&StopTimeoutError{Container: c.Name, Err: err})).Msg("graceful stop failed, force-stopping")
	if kerr := cli.ContainerKill(ctx, c.ID, "SIGKILL"); kerr != nil {
		return &ForceStopError{Container: c.Name, Err: kerr}
	}
	return nil
}

// start never uses the job context: restarts must happen even when the job
// was canceled or timed out.
func (s *SnapshotService) start(cli containerRuntime, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Docker.GetStopTimeout())
	defer cancel()
	return cli.ContainerStart(ctx, id, container.StartOptions{})
}

// copyTree performs a preserve-permissions recursive copy of src into dst.
// This step dominates workload downtime, so it does no compression.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(link, dst)

	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil

	case info.Mode().IsRegular():
		return copyFile(src, dst, info.Mode().Perm())

	default:
		// Sockets, FIFOs and devices do not belong in a backup.
		return nil
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
