package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

// RcloneRemote drives the rclone binary. Exit status and stderr are the only
// contract; listings come from `lsjson`.
type RcloneRemote struct {
	remote     string
	dest       string
	configPath string
	log        zerolog.Logger
}

// NewRcloneRemote creates an rclone-backed Remote.
func NewRcloneRemote(cfg *config.Config, log zerolog.Logger) *RcloneRemote {
	return &RcloneRemote{
		remote:     cfg.Storage.Rclone.Remote,
		dest:       cfg.Storage.Destination,
		configPath: cfg.Storage.Rclone.ConfigPath,
		log:        log,
	}
}

// remotePath builds "remote:dest" or "remote:dest/name".
func (r *RcloneRemote) remotePath(name string) string {
	base := fmt.Sprintf("%s:%s", r.remote, r.dest)
	if name == "" {
		return base
	}
	return base + "/" + name
}

func (r *RcloneRemote) run(ctx context.Context, args ...string) ([]byte, error) {
	if r.configPath != "" {
		args = append([]string{"--config", r.configPath}, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "rclone", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.log.Debug().Str("args", strings.Join(args, " ")).Dur("took", time.Since(start)).Msg("rclone run")
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("rclone %s: %s", args[len(args)-1], msg)
	}
	return stdout.Bytes(), nil
}

// Copy uploads the archive with `copyto` so the destination name is exact.
func (r *RcloneRemote) Copy(ctx context.Context, localPath, name string) error {
	_, err := r.run(ctx, "copyto", localPath, r.remotePath(name))
	return err
}

// rcloneEntry is the subset of `lsjson` output this engine needs.
type rcloneEntry struct {
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// List enumerates the destination directory.
func (r *RcloneRemote) List(ctx context.Context) ([]RemoteEntry, error) {
	out, err := r.run(ctx, "lsjson", r.remotePath(""))
	if err != nil {
		return nil, err
	}

	var raw []rcloneEntry
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse rclone lsjson output: %w", err)
	}

	entries := make([]RemoteEntry, 0, len(raw))
	for _, e := range raw {
		if e.IsDir {
			continue
		}
		entries = append(entries, RemoteEntry{Name: e.Name, Size: e.Size, ModTime: e.ModTime})
	}
	return entries, nil
}

// Delete removes one object.
func (r *RcloneRemote) Delete(ctx context.Context, name string) error {
	_, err := r.run(ctx, "deletefile", r.remotePath(name))
	return err
}

// Fetch downloads one object.
func (r *RcloneRemote) Fetch(ctx context.Context, name, localPath string) error {
	_, err := r.run(ctx, "copyto", r.remotePath(name), localPath)
	return err
}
