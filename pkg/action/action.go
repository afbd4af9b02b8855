// Package action implements the Action Handler Contract of spec §4.1: a
// registry of idempotent, rollback-capable side effects run against a
// workspace's Linux account (generate an SSH key, clone a repo, install
// packages, write config, create a database, install extensions, run a
// shell script, manage a systemd unit, pause for human-in-the-loop steps).
package action

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Context carries everything a handler needs about the workspace it is
// acting on (spec §4.2 "Isolation": handlers share no mutable state, each
// instance is constructed with the workspace context).
type Context struct {
	WorkspaceID    uuid.UUID
	WorkspaceName  string
	LinuxUsername  string
	Subdomain      string
	UserEmail      string
	UserID         uuid.UUID
	CompanyName    string
	HomeDirectory  string
	Port           int
}

// Params is the substituted, JSON-decoded parameter bag passed to a handler.
type Params map[string]any

// Result is the structured outcome of a successful Execute call. It is fed
// back into Rollback and is persisted as WorkspaceActionExecution.Result.
type Result struct {
	Data   map[string]any `json:"data,omitempty"`
	Paused bool           `json:"-"`
	// PauseDetail is attached to the execution record when Paused is true so
	// the status endpoint can surface what the caller is waiting on.
	PauseDetail string `json:"pause_detail,omitempty"`
}

// MarshalResult is a convenience for persisting Result.Data as execution.Result.
func (r Result) MarshalResult() (json.RawMessage, error) {
	if r.Data == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(r.Data)
}

// Metadata describes a handler kind for UI discovery (spec §4.1: "A
// parameter schema is generated for UIs").
type Metadata struct {
	Kind               string   `json:"kind"`
	DisplayName        string   `json:"display_name"`
	Category           string   `json:"category"`
	Description        string   `json:"description"`
	RequiredParameters []string `json:"required_parameters"`
	OptionalParameters []string `json:"optional_parameters"`
}

// ErrPauseRequired is returned by Execute (never as a wrapped error — the
// Executor checks for it directly) to signal that the workflow must persist
// state and yield for an external signal (spec §4.1 verify_ssh_key/manual_action,
// spec §7 PauseRequired: "not an error; a return value").
type PauseSignal struct {
	Detail string
}

func (p *PauseSignal) Error() string { return "pause required: " + p.Detail }

// Handler is the contract every action kind implements (spec §4.1).
type Handler interface {
	Metadata() Metadata

	// Validate performs a pure, side-effect-free check of parameter
	// presence, types, and tool availability. It never touches the OS.
	Validate(params Params) error

	// Execute performs the side effect. It returns *PauseSignal (via errors.As)
	// when the action must pause the workflow rather than complete or fail.
	Execute(ctx context.Context, actx Context, params Params) (Result, error)

	// Rollback best-effort reverses Execute. It must be safe to call even
	// when Execute partially completed or never ran.
	Rollback(ctx context.Context, actx Context, params Params, result Result) error
}

// Factory constructs a fresh Handler instance. Handlers are stateless aside
// from their construction-time Context, so a factory is just `func() Handler`
// closed over nothing; Context is passed per-call instead, since one
// Executor run may reuse handler instances across many workspaces.
type Factory func() Handler

// Registry maps action_type names to handler factories (spec §9 Design
// Notes: "the registry form is preferred because handlers are extensible").
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given action_type name.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// New constructs a handler instance for kind, or an error if unregistered.
func (r *Registry) New(kind string) (Handler, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, &UnknownActionTypeError{Kind: kind}
	}
	return f(), nil
}

// Metadata returns the metadata of every registered handler kind, sorted by
// Kind, for the action-type discovery endpoint.
func (r *Registry) Metadata() []Metadata {
	out := make([]Metadata, 0, len(r.factories))
	for kind, f := range r.factories {
		h := f()
		m := h.Metadata()
		m.Kind = kind
		out = append(out, m)
	}
	return out
}

// UnknownActionTypeError reports a reference to an unregistered action_type.
type UnknownActionTypeError struct {
	Kind string
}

func (e *UnknownActionTypeError) Error() string {
	return "unknown action type: " + e.Kind
}

// NewDefaultRegistry builds a Registry with every handler kind from spec
// §4.1 registered. This is the single construction point — there is no
// duplicate inline registry (spec §9 Open Question #1: the duplicated block
// in the source is treated as accidental and ignored; only this form exists).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("generate_ssh_key", func() Handler { return &GenerateSSHKeyHandler{} })
	r.Register("verify_ssh_key", func() Handler { return &VerifySSHKeyHandler{} })
	r.Register("clone_git_repository", func() Handler { return &CloneGitRepositoryHandler{} })
	r.Register("install_system_packages", func() Handler { return &InstallSystemPackagesHandler{} })
	r.Register("create_python_venv", func() Handler { return &CreatePythonVenvHandler{} })
	r.Register("install_pip_requirements", func() Handler { return &InstallPipRequirementsHandler{} })
	r.Register("create_directory", func() Handler { return &CreateDirectoryHandler{} })
	r.Register("write_configuration_file", func() Handler { return &WriteConfigurationFileHandler{} })
	r.Register("create_postgresql_database", func() Handler { return &CreatePostgreSQLDatabaseHandler{} })
	r.Register("install_vscode_extensions", func() Handler { return &InstallVSCodeExtensionsHandler{} })
	r.Register("set_environment_variables", func() Handler { return &SetEnvironmentVariablesHandler{} })
	r.Register("execute_shell_script", func() Handler { return &ExecuteShellScriptHandler{} })
	r.Register("systemd_service", func() Handler { return &SystemdServiceHandler{} })
	r.Register("display_completion_message", func() Handler { return &DisplayCompletionMessageHandler{} })
	r.Register("manual_action", func() Handler { return &ManualActionHandler{} })
	return r
}
