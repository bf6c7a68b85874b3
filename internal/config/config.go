package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Docker    DockerConfig    `yaml:"docker"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Staging   StagingConfig   `yaml:"staging"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Storage   StorageConfig   `yaml:"storage"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Notify    NotifyConfig    `yaml:"notify"`
	Portainer PortainerConfig `yaml:"portainer"`
	Security  SecurityConfig  `yaml:"security"`
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix"`
	AuthToken  string `yaml:"auth_token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type DockerConfig struct {
	// Host overrides DOCKER_HOST; empty means client defaults from the
	// environment.
	Host               string `yaml:"host"`
	StopTimeoutSeconds int    `yaml:"stop_timeout_seconds"`
}

type DiscoveryConfig struct {
	Label        string `yaml:"label"`
	ProjectLabel string `yaml:"project_label"`
	// HostfsRoot is prepended to bind-mount host paths when the daemon runs
	// inside a container with the host filesystem mounted read-only. Empty
	// means paths are used as-is. Named volume paths under
	// /var/lib/docker/volumes are never rewritten.
	HostfsRoot string `yaml:"hostfs_root"`
}

type StagingConfig struct {
	Root      string `yaml:"root"`
	MinFreeMB int64  `yaml:"min_free_mb"`
}

type ArchiveConfig struct {
	Dir              string `yaml:"dir"`
	Passphrase       string `yaml:"passphrase"`
	CompressionLevel int    `yaml:"compression_level"`
}

type StorageConfig struct {
	Backend     string       `yaml:"backend"`
	Destination string       `yaml:"destination"`
	Rclone      RcloneConfig `yaml:"rclone"`
	S3          S3Config     `yaml:"s3"`
}

type RcloneConfig struct {
	ConfigPath string `yaml:"config_path"`
	Remote     string `yaml:"remote"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type SyncConfig struct {
	Attempts int    `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
	Timeout  string `yaml:"timeout"`
}

type RetentionConfig struct {
	MaxAgeDays int `yaml:"max_age_days"`
}

type ScheduleConfig struct {
	Enabled      *bool  `yaml:"enabled"`
	Expression   string `yaml:"expression"`
	PollInterval string `yaml:"poll_interval"`
}

type NotifyConfig struct {
	Timeout   string          `yaml:"timeout"`
	Gotify    GotifyConfig    `yaml:"gotify"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

type GotifyConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type HeartbeatConfig struct {
	URL string `yaml:"url"`
}

type PortainerConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type SecurityConfig struct {
	// KeyFile holds the 32-byte secret used to decrypt ENC(...) config
	// values. Generated on first use when MasterPassphrase is unset.
	KeyFile          string `yaml:"key_file"`
	MasterPassphrase string `yaml:"master_passphrase"`
	// KDFSalt is a hex string mixed into passphrase derivation.
	KDFSalt string `yaml:"kdf_salt"`
}

func (c *DockerConfig) GetStopTimeout() time.Duration {
	if c.StopTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

func (c *SyncConfig) GetBackoff() time.Duration {
	d, err := time.ParseDuration(c.Backoff)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (c *SyncConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

func (c *SyncConfig) GetAttempts() int {
	if c.Attempts <= 0 {
		return 3
	}
	return c.Attempts
}

func (c *ScheduleConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c *ScheduleConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (c *NotifyConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is present.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8321
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/cargohold.db"
	}
	if cfg.Docker.StopTimeoutSeconds == 0 {
		cfg.Docker.StopTimeoutSeconds = 30
	}
	if cfg.Discovery.Label == "" {
		cfg.Discovery.Label = "backup.enable"
	}
	if cfg.Discovery.ProjectLabel == "" {
		cfg.Discovery.ProjectLabel = "com.docker.compose.project"
	}
	if cfg.Staging.Root == "" {
		cfg.Staging.Root = "./data/staging"
	}
	if cfg.Staging.MinFreeMB == 0 {
		cfg.Staging.MinFreeMB = 512
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = "./data/archives"
	}
	if cfg.Archive.CompressionLevel == 0 {
		cfg.Archive.CompressionLevel = 1
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "rclone"
	}
	if cfg.Storage.Destination == "" {
		cfg.Storage.Destination = "backups"
	}
	if cfg.Storage.Rclone.Remote == "" {
		cfg.Storage.Rclone.Remote = "remote"
	}
	if cfg.Sync.Attempts == 0 {
		cfg.Sync.Attempts = 3
	}
	if cfg.Sync.Backoff == "" {
		cfg.Sync.Backoff = "5s"
	}
	if cfg.Sync.Timeout == "" {
		cfg.Sync.Timeout = "15m"
	}
	if cfg.Retention.MaxAgeDays == 0 {
		cfg.Retention.MaxAgeDays = 7
	}
	if cfg.Schedule.Expression == "" {
		cfg.Schedule.Expression = "0 3 * * *"
	}
	if cfg.Schedule.PollInterval == "" {
		cfg.Schedule.PollInterval = "30s"
	}
	if cfg.Notify.Timeout == "" {
		cfg.Notify.Timeout = "10s"
	}
	if cfg.Security.KeyFile == "" {
		cfg.Security.KeyFile = "./data/secret.key"
	}
}
