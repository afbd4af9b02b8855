package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SystemdServiceHandler writes a unit file (user or system scope),
// daemon-reloads, enables, and starts it (spec §4.1 systemd_service).
type SystemdServiceHandler struct{}

func (h *SystemdServiceHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Manage Systemd Service",
		Category:           "system",
		Description:        "Writes and activates a systemd unit.",
		RequiredParameters: []string{"unit_name", "unit_content"},
		OptionalParameters: []string{"scope"},
	}
}

func (h *SystemdServiceHandler) Validate(params Params) error {
	if _, err := requireString(params, "systemd_service", "unit_name"); err != nil {
		return err
	}
	if _, err := requireString(params, "systemd_service", "unit_content"); err != nil {
		return err
	}
	scope := optString(params, "scope", "system")
	if scope != "system" && scope != "user" {
		return invalid("systemd_service", "parameter %q must be %q or %q", "scope", "system", "user")
	}
	return nil
}

func unitPath(unitName, scope, linuxUsername string) string {
	if scope == "user" {
		return filepath.Join("/home", linuxUsername, ".config", "systemd", "user", unitName)
	}
	return filepath.Join("/etc/systemd/system", unitName)
}

func systemctlArgs(scope string, args ...string) []string {
	if scope == "user" {
		return append([]string{"--user"}, args...)
	}
	return args
}

func (h *SystemdServiceHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	unitName, _ := requireString(params, "systemd_service", "unit_name")
	content, _ := requireString(params, "systemd_service", "unit_content")
	scope := optString(params, "scope", "system")

	path := unitPath(unitName, scope, actx.LinuxUsername)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("creating unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing unit %s: %w", path, err)
	}

	runAs := ""
	if scope == "user" {
		runAs = actx.LinuxUsername
	}

	if _, err := runCommand(ctx, defaultCommandTimeout, "", runAs, "systemctl", systemctlArgs(scope, "daemon-reload")...); err != nil {
		return Result{}, fmt.Errorf("daemon-reload: %w", err)
	}
	if _, err := runCommand(ctx, defaultCommandTimeout, "", runAs, "systemctl", systemctlArgs(scope, "enable", unitName)...); err != nil {
		return Result{}, fmt.Errorf("enabling %s: %w", unitName, err)
	}
	if _, err := runCommand(ctx, defaultCommandTimeout, "", runAs, "systemctl", systemctlArgs(scope, "start", unitName)...); err != nil {
		return Result{}, fmt.Errorf("starting %s: %w", unitName, err)
	}

	return Result{Data: map[string]any{"unit_name": unitName, "unit_path": path, "scope": scope}}, nil
}

func (h *SystemdServiceHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	unitName := optString(params, "unit_name", "")
	if unitName == "" {
		return nil
	}
	scope := optString(params, "scope", "system")
	runAs := ""
	if scope == "user" {
		runAs = actx.LinuxUsername
	}

	_, _ = runCommand(ctx, defaultCommandTimeout, "", runAs, "systemctl", systemctlArgs(scope, "stop", unitName)...)
	_, _ = runCommand(ctx, defaultCommandTimeout, "", runAs, "systemctl", systemctlArgs(scope, "disable", unitName)...)
	_ = os.Remove(unitPath(unitName, scope, actx.LinuxUsername))
	_, _ = runCommand(ctx, defaultCommandTimeout, "", runAs, "systemctl", systemctlArgs(scope, "daemon-reload")...)
	return nil
}
