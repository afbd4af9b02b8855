package action

import (
	"context"
	"fmt"
)

// InstallSystemPackagesHandler runs apt-get install for a list of packages
// (spec §4.1 install_system_packages). It runs with elevated privileges
// (no per-user sudo wrapping — the caller is expected to invoke the engine
// itself as a privileged process for this handler kind).
type InstallSystemPackagesHandler struct{}

func (h *InstallSystemPackagesHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Install System Packages",
		Category:           "system",
		Description:        "Installs apt packages on the host.",
		RequiredParameters: []string{"packages"},
		OptionalParameters: []string{"update_cache"},
	}
}

func (h *InstallSystemPackagesHandler) Validate(params Params) error {
	pkgs := optStringSlice(params, "packages")
	if len(pkgs) == 0 {
		return invalid("install_system_packages", "parameter %q must be a non-empty list of strings", "packages")
	}
	return nil
}

func (h *InstallSystemPackagesHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	pkgs := optStringSlice(params, "packages")

	if optBool(params, "update_cache", true) {
		if _, err := runCommand(ctx, 5*defaultCommandTimeout, "", "", "apt-get", "update"); err != nil {
			return Result{}, fmt.Errorf("apt-get update: %w", err)
		}
	}

	args := append([]string{"install", "-y"}, pkgs...)
	if _, err := runCommand(ctx, 10*defaultCommandTimeout, "", "", "apt-get", args...); err != nil {
		return Result{}, fmt.Errorf("installing packages %v: %w", pkgs, err)
	}

	return Result{Data: map[string]any{"packages": pkgs}}, nil
}

func (h *InstallSystemPackagesHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	pkgs := optStringSlice(params, "packages")
	if len(pkgs) == 0 {
		return nil
	}
	args := append([]string{"remove", "-y"}, pkgs...)
	// Best-effort: a package another step depends on may fail to remove.
	_, _ = runCommand(ctx, 5*defaultCommandTimeout, "", "", "apt-get", args...)
	return nil
}
