package action

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// CreateDirectoryHandler runs the equivalent of `mkdir -p` with a mode
// (spec §4.1 create_directory).
type CreateDirectoryHandler struct{}

func (h *CreateDirectoryHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Create Directory",
		Category:           "filesystem",
		Description:        "Creates a directory, optionally with parents.",
		RequiredParameters: []string{"path"},
		OptionalParameters: []string{"mode", "parents", "exist_ok"},
	}
}

func (h *CreateDirectoryHandler) Validate(params Params) error {
	_, err := requireString(params, "create_directory", "path")
	return err
}

func (h *CreateDirectoryHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	path, err := requireString(params, "create_directory", "path")
	if err != nil {
		return Result{}, err
	}
	mode := parseMode(optString(params, "mode", "0755"))

	preExisted := false
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		preExisted = true
		if !optBool(params, "exist_ok", true) {
			return Result{}, fmt.Errorf("create_directory: %q already exists", path)
		}
	}

	var mkErr error
	if optBool(params, "parents", true) {
		mkErr = os.MkdirAll(path, mode)
	} else {
		mkErr = os.Mkdir(path, mode)
		if os.IsExist(mkErr) {
			mkErr = nil
		}
	}
	if mkErr != nil {
		return Result{}, fmt.Errorf("creating directory %s: %w", path, mkErr)
	}

	return Result{Data: map[string]any{"path": path, "pre_existed": preExisted}}, nil
}

func (h *CreateDirectoryHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	if preExisted, ok := result.Data["pre_existed"].(bool); ok && preExisted {
		return nil
	}
	path := optString(params, "path", "")
	if path == "" {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil || len(entries) > 0 {
		return nil // not empty, or already gone: leave it.
	}
	return os.Remove(path)
}

func parseMode(s string) os.FileMode {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0o755
	}
	return os.FileMode(n)
}

// WriteConfigurationFileHandler writes text or JSON content to a path with a
// given mode, backing up any pre-existing file first (spec §4.1
// write_configuration_file).
type WriteConfigurationFileHandler struct{}

func (h *WriteConfigurationFileHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Write Configuration File",
		Category:           "filesystem",
		Description:        "Writes a text or JSON configuration file, backing up any existing file.",
		RequiredParameters: []string{"path"},
		OptionalParameters: []string{"content", "json_content", "mode"},
	}
}

func (h *WriteConfigurationFileHandler) Validate(params Params) error {
	if _, err := requireString(params, "write_configuration_file", "path"); err != nil {
		return err
	}
	_, hasContent := params["content"]
	_, hasJSON := params["json_content"]
	if !hasContent && !hasJSON {
		return invalid("write_configuration_file", "one of %q or %q is required", "content", "json_content")
	}
	return nil
}

func (h *WriteConfigurationFileHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	path, err := requireString(params, "write_configuration_file", "path")
	if err != nil {
		return Result{}, err
	}
	mode := parseMode(optString(params, "mode", "0644"))

	var payload []byte
	if jsonVal, ok := params["json_content"]; ok {
		encoded, err := json.MarshalIndent(jsonVal, "", "  ")
		if err != nil {
			return Result{}, fmt.Errorf("marshalling json_content: %w", err)
		}
		payload = encoded
	} else {
		payload = []byte(optString(params, "content", ""))
	}

	backedUp := false
	if _, statErr := os.Stat(path); statErr == nil {
		backupPath := path + ".backup"
		existing, err := os.ReadFile(path)
		if err != nil {
			return Result{}, fmt.Errorf("reading %s for backup: %w", path, err)
		}
		if err := os.WriteFile(backupPath, existing, mode); err != nil {
			return Result{}, fmt.Errorf("writing backup %s: %w", backupPath, err)
		}
		backedUp = true
	}

	if err := os.WriteFile(path, payload, mode); err != nil {
		return Result{}, fmt.Errorf("writing %s: %w", path, err)
	}

	return Result{Data: map[string]any{"path": path, "backed_up": backedUp}}, nil
}

func (h *WriteConfigurationFileHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	path := optString(params, "path", "")
	if path == "" {
		return nil
	}
	backedUp, _ := result.Data["backed_up"].(bool)
	if backedUp {
		backup := path + ".backup"
		content, err := os.ReadFile(backup)
		if err != nil {
			return fmt.Errorf("reading backup %s: %w", backup, err)
		}
		return os.WriteFile(path, content, 0o644)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetEnvironmentVariablesHandler appends export lines to a shell config file
// (spec §4.1 set_environment_variables).
type SetEnvironmentVariablesHandler struct{}

func (h *SetEnvironmentVariablesHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Set Environment Variables",
		Category:           "filesystem",
		Description:        "Appends export statements to a shell config file.",
		RequiredParameters: []string{"variables"},
		OptionalParameters: []string{"shell_config_path", "exported"},
	}
}

func (h *SetEnvironmentVariablesHandler) Validate(params Params) error {
	vars, ok := params["variables"].(map[string]any)
	if !ok || len(vars) == 0 {
		return invalid("set_environment_variables", "parameter %q must be a non-empty object", "variables")
	}
	return nil
}

func (h *SetEnvironmentVariablesHandler) configPath(params Params, actx Context) string {
	return optString(params, "shell_config_path", actx.HomeDirectory+"/.bashrc")
}

func (h *SetEnvironmentVariablesHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	path := h.configPath(params, actx)
	vars, _ := params["variables"].(map[string]any)
	exported := optBool(params, "exported", true)

	backedUp := false
	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".backup", existing, 0o644); err != nil {
			return Result{}, fmt.Errorf("backing up %s: %w", path, err)
		}
		backedUp = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("\n# forgehost: set_environment_variables\n"); err != nil {
		return Result{}, err
	}
	set := make([]string, 0, len(vars))
	for k, v := range vars {
		line := fmt.Sprintf("%s=\"%v\"", k, v)
		if exported {
			line = "export " + line
		}
		if _, err := f.WriteString(line + "\n"); err != nil {
			return Result{}, fmt.Errorf("writing variable %s: %w", k, err)
		}
		set = append(set, k)
	}

	return Result{Data: map[string]any{"path": path, "backed_up": backedUp, "variables_set": set}}, nil
}

func (h *SetEnvironmentVariablesHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	path := h.configPath(params, actx)
	backedUp, _ := result.Data["backed_up"].(bool)
	if !backedUp {
		return nil
	}
	content, err := os.ReadFile(path + ".backup")
	if err != nil {
		return fmt.Errorf("reading backup for %s: %w", path, err)
	}
	return os.WriteFile(path, content, 0o644)
}
