package provision

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const provisionCommandTimeout = 2 * time.Minute

func runAsRoot(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s %v: %w: %s", name, args, err, stderr.String())
	}
	return stdout.String(), nil
}

// createLinuxUser creates the workspace's OS account (spec §4.3: home
// `/<base>/<username>`, shell `/bin/bash`, password set via `chpasswd`).
func createLinuxUser(ctx context.Context, username, homeDir, password string) error {
	if _, err := runAsRoot(ctx, provisionCommandTimeout, "useradd",
		"--create-home", "--home-dir", homeDir, "--shell", "/bin/bash", username,
	); err != nil {
		return fmt.Errorf("creating linux user %s: %w", username, err)
	}

	cctx, cancel := context.WithTimeout(ctx, provisionCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, "chpasswd")
	cmd.Stdin = bytesReader(fmt.Sprintf("%s:%s\n", username, password))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("setting password for %s: %w: %s", username, err, stderr.String())
	}
	return nil
}

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }

// deleteLinuxUser removes the account and its home tree (spec §4.3 deprovision).
func deleteLinuxUser(ctx context.Context, username string) error {
	if _, err := runAsRoot(ctx, provisionCommandTimeout, "userdel", "--remove", username); err != nil {
		return fmt.Errorf("deleting linux user %s: %w", username, err)
	}
	return nil
}

// codeServerConfig is the per-user code-server YAML config (spec §6).
type codeServerConfig struct {
	BindAddr string `yaml:"bind-addr"`
	Auth     string `yaml:"auth"`
	Cert     bool   `yaml:"cert"`
}

// writeCodeServerConfig writes ~/.config/code-server/config.yaml for the
// workspace's account. auth is "none" — the reverse proxy enforces auth
// (spec §4.3, §6).
func writeCodeServerConfig(homeDir string, port int) error {
	cfg := codeServerConfig{
		BindAddr: fmt.Sprintf("127.0.0.1:%d", port),
		Auth:     "none",
		Cert:     false,
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling code-server config: %w", err)
	}

	dir := filepath.Join(homeDir, ".config", "code-server")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating code-server config dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), out, 0o644); err != nil {
		return fmt.Errorf("writing code-server config: %w", err)
	}
	return nil
}

// codeServerUnitTemplate is the hardened systemd template unit (spec §6).
const codeServerUnitTemplate = `[Unit]
Description=code-server for workspace account %i
After=network.target

[Service]
Type=simple
User=%i
ExecStart=/usr/bin/code-server --bind-addr 127.0.0.1:${PORT} --auth none /home/%i
Restart=always
RestartSec=5
NoNewPrivileges=true
ProtectSystem=strict
ReadWritePaths=/home/%i

[Install]
WantedBy=multi-user.target
`

// ensureSystemdTemplateUnit writes the shared `code-server@.service` unit if
// it is not already present, and reloads systemd.
func (p *Provisioner) ensureSystemdTemplateUnit(ctx context.Context) error {
	path := filepath.Join(p.Config.SystemdUnitDir, "code-server@.service")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(codeServerUnitTemplate), 0o644); err != nil {
		return fmt.Errorf("writing code-server template unit: %w", err)
	}
	if _, err := runAsRoot(ctx, provisionCommandTimeout, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("reloading systemd after template unit install: %w", err)
	}
	return nil
}

// writeDropin supplies the per-instance PORT environment override (spec §4.3).
func (p *Provisioner) writeDropin(linuxUsername string, port int) error {
	dir := filepath.Join(p.Config.SystemdDropinDir, ServiceName(linuxUsername)+".service.d")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating drop-in directory: %w", err)
	}
	content := fmt.Sprintf("[Service]\nEnvironment=\"PORT=%d\"\n", port)
	if err := os.WriteFile(filepath.Join(dir, "port.conf"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing drop-in: %w", err)
	}
	return nil
}

func removeDropin(dropinDir, linuxUsername string) error {
	dir := filepath.Join(dropinDir, ServiceName(linuxUsername)+".service.d")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing drop-in directory: %w", err)
	}
	return nil
}

// setDiskQuota sets the filesystem quota for a Linux user. Non-fatal per
// spec §4.3 — callers log the error and continue.
func setDiskQuota(ctx context.Context, username string, quotaGB int) error {
	blocks := fmt.Sprintf("%dG", quotaGB)
	if _, err := runAsRoot(ctx, provisionCommandTimeout, "setquota", "-u", username, blocks, blocks, "0", "0", "/"); err != nil {
		return fmt.Errorf("setting disk quota for %s: %w", username, err)
	}
	return nil
}

func systemctlUnit(ctx context.Context, action, unit string) (string, error) {
	return runAsRoot(ctx, provisionCommandTimeout, "systemctl", action, unit)
}

// journalTail returns the last `lines` lines of the unit's journal, since
// an optional RFC3339 timestamp (spec §4.3 logs, §6).
func journalTail(ctx context.Context, unit string, lines int, since string) (string, error) {
	args := []string{"-u", unit, "-n", fmt.Sprintf("%d", lines), "--no-pager"}
	if since != "" {
		args = append(args, "--since", since)
	}
	return runAsRoot(ctx, provisionCommandTimeout, "journalctl", args...)
}

// SystemctlShowProperty returns one `systemctl show --property=<name>`
// value for unit, used by the lifecycle metrics collector to derive uptime
// from ActiveEnterTimestamp (spec §4.5).
func SystemctlShowProperty(ctx context.Context, unit, property string) (string, error) {
	out, err := runAsRoot(ctx, provisionCommandTimeout, "systemctl", "show", unit, "--property="+property, "--value")
	if err != nil {
		return "", err
	}
	return trimNewline(out), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
