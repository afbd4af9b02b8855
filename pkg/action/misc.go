package action

import (
	"context"
	"fmt"
)

// DisplayCompletionMessageHandler emits a terminal message summarizing URLs
// and credentials flags for the user (spec §4.1 display_completion_message).
// It has no side effects beyond producing its result.
type DisplayCompletionMessageHandler struct{}

func (h *DisplayCompletionMessageHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Display Completion Message",
		Category:           "ui",
		Description:        "Records a completion message with URLs and credential flags.",
		OptionalParameters: []string{"message", "urls", "show_credentials"},
	}
}

func (h *DisplayCompletionMessageHandler) Validate(params Params) error { return nil }

func (h *DisplayCompletionMessageHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	message := optString(params, "message", fmt.Sprintf("Workspace %s is ready.", actx.WorkspaceName))
	urls := optStringSlice(params, "urls")
	showCreds := optBool(params, "show_credentials", true)

	return Result{Data: map[string]any{
		"message":           message,
		"urls":              urls,
		"show_credentials":  showCreds,
	}}, nil
}

func (h *DisplayCompletionMessageHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	return nil
}

// ManualActionHandler records instructions for the user and pauses the
// workflow (spec §4.1 manual_action), optionally running a verification
// command once resumed. Like verify_ssh_key, it is signal-driven: a first
// Execute call always pauses; the Executor re-invokes it with
// params["resume"]=true after the external resume call.
type ManualActionHandler struct{}

func (h *ManualActionHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Manual Action",
		Category:           "ui",
		Description:        "Pauses the workflow with instructions for the user; resumes on an external signal.",
		RequiredParameters: []string{"instructions"},
		OptionalParameters: []string{"verification_command"},
	}
}

func (h *ManualActionHandler) Validate(params Params) error {
	_, err := requireString(params, "manual_action", "instructions")
	return err
}

func (h *ManualActionHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	instructions, err := requireString(params, "manual_action", "instructions")
	if err != nil {
		return Result{}, err
	}

	if !optBool(params, "resume", false) {
		return Result{Paused: true, PauseDetail: instructions, Data: map[string]any{
			"instructions": instructions,
		}}, &PauseSignal{Detail: instructions}
	}

	if verify := optString(params, "verification_command", ""); verify != "" {
		out, err := runCommand(ctx, defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername, "sh", "-c", verify)
		if err != nil {
			return Result{}, fmt.Errorf("manual_action verification command failed: %w", err)
		}
		return Result{Data: map[string]any{"instructions": instructions, "verification_output": out}}, nil
	}

	return Result{Data: map[string]any{"instructions": instructions}}, nil
}

func (h *ManualActionHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	return nil
}
