package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
)

// portainerBlobName is the file the export lands in inside the staging tree,
// so it rides inside the consolidated archive.
const portainerBlobName = "portainer/portainer-backup.tar.gz"

// ConfigExporter pulls an external configuration backup blob into the staging
// tree.
type ConfigExporter interface {
	Export(ctx context.Context, destDir string) error
}

// PortainerService exports a Portainer instance's configuration via its
// backup API.
type PortainerService struct {
	url    string
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

// NewPortainerService creates a PortainerService, or nil when no Portainer
// URL is configured.
func NewPortainerService(cfg *config.Config, log zerolog.Logger) *PortainerService {
	if cfg.Portainer.URL == "" {
		return nil
	}
	return &PortainerService{
		url:    strings.TrimSuffix(cfg.Portainer.URL, "/"),
		apiKey: cfg.Portainer.APIKey,
		client: &http.Client{Timeout: 2 * time.Minute},
		log:    log,
	}
}

// Export requests a backup blob and writes it under destDir.
func (s *PortainerService) Export(ctx context.Context, destDir string) error {
	endpoint := s.url + "/api/backup"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("portainer export: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portainer export returned status %d", resp.StatusCode)
	}

	target := filepath.Join(destDir, filepath.FromSlash(portainerBlobName))
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("write portainer blob: %w", err)
	}

	s.log.Info().Int64("size", n).Msg("portainer configuration exported")
	return nil
}
