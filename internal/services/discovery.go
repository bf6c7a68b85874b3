// Package services implements the backup orchestration engine and its
// collaborators: workload discovery, snapshotting, archiving, remote sync,
// retention, scheduling and notification.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/models"
)

// dockerVolumesPrefix marks named-volume sources that must never be rewritten
// through the hostfs root.
const dockerVolumesPrefix = "/var/lib/docker/volumes"

// Discoverer enumerates eligible workloads.
type Discoverer interface {
	// Discover returns eligible workloads ordered by name. projectFilter
	// narrows the result to a single workload name; empty means all.
	Discover(ctx context.Context, projectFilter string) ([]models.Workload, error)
	// Ping reports whether the container runtime is reachable.
	Ping(ctx context.Context) error
}

// DiscoveryService finds running containers carrying the eligibility label
// and groups them into workloads by compose project.
type DiscoveryService struct {
	cfg *config.Config
	log zerolog.Logger
}

// NewDiscoveryService creates a DiscoveryService.
func NewDiscoveryService(cfg *config.Config, log zerolog.Logger) *DiscoveryService {
	return &DiscoveryService{cfg: cfg, log: log}
}

// getClient creates a new Docker client. A configured docker.host overrides
// the environment.
func (s *DiscoveryService) getClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if s.cfg.Docker.Host != "" {
		opts = append(opts, client.WithHost(s.cfg.Docker.Host))
	}
	return client.NewClientWithOpts(opts...)
}

// Ping checks runtime reachability for the status endpoint and job preflight.
func (s *DiscoveryService) Ping(ctx context.Context) error {
	cli, err := s.getClient()
	if err != nil {
		return &DiscoveryError{Err: err}
	}
	defer func() { _ = cli.Close() }()

	if _, err := cli.Ping(ctx); err != nil {
		return &DiscoveryError{Err: err}
	}
	return nil
}

// Discover lists running containers, keeps those whose eligibility label is
// "true", and groups them by compose project. Containers without a project
// label become single-container workloads named after the container.
func (s *DiscoveryService) Discover(ctx context.Context, projectFilter string) ([]models.Workload, error) {
	cli, err := s.getClient()
	if err != nil {
		return nil, &DiscoveryError{Err: fmt.Errorf("create docker client: %w", err)}
	}
	defer func() { _ = cli.Close() }()

	containers, err := cli.ContainerList(ctx, container.ListOptions{All: false})
	if err != nil {
		return nil, &DiscoveryError{Err: fmt.Errorf("list containers: %w", err)}
	}

	byName := make(map[string]*models.Workload)
	for _, c := range containers {
		if c.Labels[s.cfg.Discovery.Label] != "true" {
			continue
		}

		name := c.Labels[s.cfg.Discovery.ProjectLabel]
		if name == "" && len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		if name == "" {
			name = c.ID[:12]
		}

		w, ok := byName[name]
		if !ok {
			w = &models.Workload{Name: name, Enabled: true}
			byName[name] = w
		}

		containerName := ""
		if len(c.Names) > 0 {
			containerName = strings.TrimPrefix(c.Names[0], "/")
		}
		w.Containers = append(w.Containers, models.ContainerRef{
			ID:    c.ID,
			Name:  containerName,
			Image: c.Image,
			State: c.State,
		})

		for _, m := range c.Mounts {
			if m.Type != "bind" && m.Type != "volume" {
				continue
			}
			if strings.Contains(m.Source, "docker.sock") {
				continue
			}
			w.Mounts = append(w.Mounts, models.MountPoint{
				Type:        string(m.Type),
				Source:      s.resolveHostPath(m.Source),
				Destination: m.Destination,
			})
		}
	}

	workloads := make([]models.Workload, 0, len(byName))
	for name, w := range byName {
		if projectFilter != "" && name != projectFilter {
			continue
		}
		workloads = append(workloads, *w)
	}
	sort.Slice(workloads, func(i, j int) bool { return workloads[i].Name < workloads[j].Name })

	s.log.Debug().Int("workloads", len(workloads)).Str("filter", projectFilter).Msg("discovery complete")
	return workloads, nil
}

// resolveHostPath rewrites a bind-mount host path through the hostfs root
// when the daemon itself runs in a container. Named volume data under the
// Docker volumes directory is reachable as-is and passes through.
func (s *DiscoveryService) resolveHostPath(source string) string {
	root := s.cfg.Discovery.HostfsRoot
	if root == "" || strings.HasPrefix(source, dockerVolumesPrefix) {
		return source
	}
	return strings.TrimSuffix(root, "/") + source
}
