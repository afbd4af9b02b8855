package action

import (
	"context"
	"fmt"
)

// InstallVSCodeExtensionsHandler installs code-server extensions by ID
// (spec §4.1 install_vscode_extensions). The handler only succeeds if every
// extension installs cleanly; partial failures are recorded but still count
// against the overall result.
type InstallVSCodeExtensionsHandler struct{}

func (h *InstallVSCodeExtensionsHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Install VS Code Extensions",
		Category:           "ide",
		Description:        "Installs code-server extensions by marketplace ID.",
		RequiredParameters: []string{"extensions"},
	}
}

func (h *InstallVSCodeExtensionsHandler) Validate(params Params) error {
	ext := optStringSlice(params, "extensions")
	if len(ext) == 0 {
		return invalid("install_vscode_extensions", "parameter %q must be a non-empty list of strings", "extensions")
	}
	return nil
}

func (h *InstallVSCodeExtensionsHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	extensions := optStringSlice(params, "extensions")
	var installed, failed []string
	var failures []string

	for _, ext := range extensions {
		_, err := runCommand(ctx, defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername,
			"code-server", "--install-extension", ext)
		if err != nil {
			failed = append(failed, ext)
			failures = append(failures, fmt.Sprintf("%s: %v", ext, err))
			continue
		}
		installed = append(installed, ext)
	}

	result := Result{Data: map[string]any{
		"installed": installed,
		"failed":    failed,
	}}
	if len(failed) > 0 {
		return result, fmt.Errorf("install_vscode_extensions: %d of %d extensions failed: %v", len(failed), len(extensions), failures)
	}
	return result, nil
}

func (h *InstallVSCodeExtensionsHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	installed, _ := result.Data["installed"].([]string)
	for _, ext := range installed {
		_, _ = runCommand(ctx, defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername,
			"code-server", "--uninstall-extension", ext)
	}
	return nil
}
