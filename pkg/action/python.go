package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// CreatePythonVenvHandler creates a virtualenv under the workspace home
// (spec §4.1 create_python_venv).
type CreatePythonVenvHandler struct{}

func (h *CreatePythonVenvHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Create Python Virtualenv",
		Category:           "python",
		Description:        "Creates a Python virtual environment.",
		RequiredParameters: []string{"venv_path"},
	}
}

func (h *CreatePythonVenvHandler) Validate(params Params) error {
	_, err := requireString(params, "create_python_venv", "venv_path")
	return err
}

func (h *CreatePythonVenvHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	venvPath, err := requireString(params, "create_python_venv", "venv_path")
	if err != nil {
		return Result{}, err
	}
	if info, statErr := os.Stat(venvPath); statErr == nil && info.IsDir() {
		return Result{}, fmt.Errorf("create_python_venv: %q already exists", venvPath)
	}

	if _, err := runCommand(ctx, defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername, "python3", "-m", "venv", venvPath); err != nil {
		return Result{}, fmt.Errorf("creating venv at %s: %w", venvPath, err)
	}

	return Result{Data: map[string]any{"venv_path": venvPath}}, nil
}

func (h *CreatePythonVenvHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	venvPath := optString(params, "venv_path", "")
	if venvPath == "" {
		return nil
	}
	return os.RemoveAll(venvPath)
}

// InstallPipRequirementsHandler installs pip packages from a requirements
// file and/or an explicit list, in a venv or system-wide (spec §4.1
// install_pip_requirements).
type InstallPipRequirementsHandler struct{}

func (h *InstallPipRequirementsHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Install Pip Requirements",
		Category:           "python",
		Description:        "Installs Python packages via pip.",
		OptionalParameters: []string{"venv_path", "requirements_file", "packages", "upgrade"},
	}
}

func (h *InstallPipRequirementsHandler) Validate(params Params) error {
	reqFile := optString(params, "requirements_file", "")
	pkgs := optStringSlice(params, "packages")
	if reqFile == "" && len(pkgs) == 0 {
		return invalid("install_pip_requirements", "at least one of %q or %q must be set", "requirements_file", "packages")
	}
	return nil
}

func (h *InstallPipRequirementsHandler) pipPath(params Params, actx Context) string {
	venvPath := optString(params, "venv_path", "")
	if venvPath == "" {
		return "pip3"
	}
	return filepath.Join(venvPath, "bin", "pip")
}

func (h *InstallPipRequirementsHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	pip := h.pipPath(params, actx)
	installed := map[string]any{}

	if reqFile := optString(params, "requirements_file", ""); reqFile != "" {
		args := []string{"install", "-r", reqFile}
		if optBool(params, "upgrade", false) {
			args = append(args, "--upgrade")
		}
		if _, err := runCommand(ctx, 5*defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername, pip, args...); err != nil {
			return Result{}, fmt.Errorf("installing requirements from %s: %w", reqFile, err)
		}
		installed["requirements_file"] = reqFile
	}

	if pkgs := optStringSlice(params, "packages"); len(pkgs) > 0 {
		args := append([]string{"install"}, pkgs...)
		if optBool(params, "upgrade", false) {
			args = append(args, "--upgrade")
		}
		if _, err := runCommand(ctx, 5*defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername, pip, args...); err != nil {
			return Result{}, fmt.Errorf("installing packages %v: %w", pkgs, err)
		}
		installed["packages"] = pkgs
	}

	return Result{Data: installed}, nil
}

func (h *InstallPipRequirementsHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	pkgs := optStringSlice(params, "packages")
	if len(pkgs) == 0 {
		return nil
	}
	pip := h.pipPath(params, actx)
	args := append([]string{"uninstall", "-y"}, pkgs...)
	_, _ = runCommand(ctx, 5*defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername, pip, args...)
	return nil
}
