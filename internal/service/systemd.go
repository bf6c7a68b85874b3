// Package service manages the daemon's systemd unit.
package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

const (
	unitName     = "cargohold"
	unitFilePath = "/etc/systemd/system/cargohold.service"
)

// UnitStatus describes the installed state of the systemd unit.
type UnitStatus struct {
	IsRunning   bool   `json:"is_running"`
	IsEnabled   bool   `json:"is_enabled"`
	IsInstalled bool   `json:"is_installed"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`
}

// UnitConfig holds the values rendered into the unit file.
type UnitConfig struct {
	ExecPath   string
	ConfigPath string
	User       string
	WorkingDir string
	SpoolDir   string
}

// The unit must keep write access to the spool and staging area and reach the
// container runtime socket, so hardening stops short of ProtectSystem=strict.
const unitTemplate = `[Unit]
Description=Cargohold - container backup daemon
After=network-online.target docker.service
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
Group={{.User}}
WorkingDirectory={{.WorkingDir}}
ExecStart={{.ExecPath}} -config {{.ConfigPath}}
Restart=always
RestartSec=5
StandardOutput=journal
StandardError=journal

NoNewPrivileges=true
ProtectHome=read-only
ReadWritePaths={{.WorkingDir}} {{.SpoolDir}}
PrivateTmp=true

[Install]
WantedBy=multi-user.target
`

// IsLinux reports whether we are on Linux.
func IsLinux() bool {
	return runtime.GOOS == "linux"
}

// IsSystemdAvailable reports whether systemctl can be found.
func IsSystemdAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// IsRoot reports whether the process runs as root.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// GenerateUnitFile renders the unit file content.
func GenerateUnitFile(cfg UnitConfig) (string, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return "", fmt.Errorf("failed to render unit template: %w", err)
	}

	return buf.String(), nil
}

// Install writes, enables, and starts the unit.
func Install(cfg UnitConfig) error {
	if err := checkEnvironment("installation"); err != nil {
		return err
	}

	content, err := GenerateUnitFile(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(unitFilePath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	if err := runSystemctl("daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	if err := runSystemctl("enable", unitName); err != nil {
		return fmt.Errorf("failed to enable unit: %w", err)
	}

	if err := runSystemctl("start", unitName); err != nil {
		return fmt.Errorf("failed to start unit: %w", err)
	}

	return nil
}

// Uninstall stops, disables, and removes the unit.
func Uninstall() error {
	if err := checkEnvironment("uninstallation"); err != nil {
		return err
	}

	// Ignore errors when the unit is already stopped or disabled.
	_ = runSystemctl("stop", unitName)
	_ = runSystemctl("disable", unitName)

	if err := os.Remove(unitFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}

	if err := runSystemctl("daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	return nil
}

// Status reports the current unit state.
func Status() (*UnitStatus, error) {
	status := &UnitStatus{}

	if !IsLinux() || !IsSystemdAvailable() {
		return status, nil
	}

	if _, err := os.Stat(unitFilePath); err == nil {
		status.IsInstalled = true
	}

	if activeState, err := getSystemctlProperty("ActiveState"); err == nil {
		status.ActiveState = activeState
		status.IsRunning = activeState == "active"
	}

	if subState, err := getSystemctlProperty("SubState"); err == nil {
		status.SubState = subState
	}

	if output, err := exec.Command("systemctl", "is-enabled", unitName).Output(); err == nil {
		status.IsEnabled = strings.TrimSpace(string(output)) == "enabled"
	}

	return status, nil
}

// Restart restarts the unit.
func Restart() error {
	if err := checkEnvironment("restart"); err != nil {
		return err
	}
	return runSystemctl("restart", unitName)
}

// IsRunningAsService reports whether the process was launched by systemd.
func IsRunningAsService() bool {
	if os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	return os.Getppid() == 1
}

// DefaultUnitConfig returns the default installation layout.
func DefaultUnitConfig() UnitConfig {
	execPath, _ := os.Executable()
	execPath, _ = filepath.EvalSymlinks(execPath)

	return UnitConfig{
		ExecPath:   execPath,
		ConfigPath: "/etc/cargohold/config.yaml",
		User:       "root",
		WorkingDir: "/etc/cargohold",
		SpoolDir:   "/var/lib/cargohold",
	}
}

func checkEnvironment(action string) error {
	if !IsLinux() {
		return fmt.Errorf("service %s only supported on Linux", action)
	}
	if !IsSystemdAvailable() {
		return fmt.Errorf("systemd not available on this system")
	}
	if !IsRoot() {
		return fmt.Errorf("root privileges required for service %s", action)
	}
	return nil
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, string(output))
	}
	return nil
}

func getSystemctlProperty(property string) (string, error) {
	cmd := exec.Command("systemctl", "show", unitName, "--property="+property, "--value")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
