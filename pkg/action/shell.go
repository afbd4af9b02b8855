package action

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ExecuteShellScriptHandler runs an inline command, a script file, or inline
// script content with a timeout (spec §4.1 execute_shell_script). It has no
// automatic idempotency and no rollback — both documented in the spec's
// handler table.
type ExecuteShellScriptHandler struct{}

func (h *ExecuteShellScriptHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Execute Shell Script",
		Category:           "system",
		Description:        "Runs a command, script file, or inline script content with a timeout.",
		OptionalParameters: []string{"command", "script_path", "script_content", "timeout_seconds"},
	}
}

func (h *ExecuteShellScriptHandler) Validate(params Params) error {
	cmd := optString(params, "command", "")
	scriptPath := optString(params, "script_path", "")
	content := optString(params, "script_content", "")
	if cmd == "" && scriptPath == "" && content == "" {
		return invalid("execute_shell_script", "one of %q, %q, or %q is required", "command", "script_path", "script_content")
	}
	return nil
}

func (h *ExecuteShellScriptHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	timeout := time.Duration(optInt(params, "timeout_seconds", 120)) * time.Second

	if cmd := optString(params, "command", ""); cmd != "" {
		out, err := runCommand(ctx, timeout, actx.HomeDirectory, actx.LinuxUsername, "sh", "-c", cmd)
		if err != nil {
			return Result{}, fmt.Errorf("executing command: %w", err)
		}
		return Result{Data: map[string]any{"stdout": out}}, nil
	}

	if content := optString(params, "script_content", ""); content != "" {
		tmp, err := os.CreateTemp("", "forgehost-script-*.sh")
		if err != nil {
			return Result{}, fmt.Errorf("creating temp script: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(content); err != nil {
			return Result{}, fmt.Errorf("writing temp script: %w", err)
		}
		tmp.Close()
		if err := os.Chmod(tmp.Name(), 0o755); err != nil {
			return Result{}, fmt.Errorf("chmod temp script: %w", err)
		}
		out, err := runCommand(ctx, timeout, actx.HomeDirectory, actx.LinuxUsername, "sh", tmp.Name())
		if err != nil {
			return Result{}, fmt.Errorf("executing script content: %w", err)
		}
		return Result{Data: map[string]any{"stdout": out}}, nil
	}

	scriptPath := optString(params, "script_path", "")
	out, err := runCommand(ctx, timeout, actx.HomeDirectory, actx.LinuxUsername, "sh", scriptPath)
	if err != nil {
		return Result{}, fmt.Errorf("executing script %s: %w", scriptPath, err)
	}
	return Result{Data: map[string]any{"stdout": out}}, nil
}

func (h *ExecuteShellScriptHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	return nil
}
