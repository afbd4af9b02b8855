package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/forgehost/internal/apierr"
	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/action"
	"github.com/wisbric/forgehost/pkg/store"
)

// Executor runs a template's action sequences against a workspace in
// dependency order, with per-action retry/backoff, conditional skipping,
// pause/resume, and compensating rollback (spec §4.2).
type Executor struct {
	Registry   *action.Registry
	Executions *store.ExecutionStore
	Workspaces *store.WorkspaceStore
	Logger     *slog.Logger
}

// New constructs an Executor.
func New(registry *action.Registry, executions *store.ExecutionStore, workspaces *store.WorkspaceStore, logger *slog.Logger) *Executor {
	return &Executor{Registry: registry, Executions: executions, Workspaces: workspaces, Logger: logger}
}

// Outcome summarizes one Run/Resume invocation, mirroring spec §4.2's
// `{success, failed_action, completed_actions, rolled_back}` shape.
type Outcome struct {
	Success            bool
	Paused             bool
	PausedActionID     string
	FailedActionID     string
	CompletedActionIDs []string
	RolledBackIDs      []string
}

// step pairs a sorted action sequence with the running handler instance it
// will use for the rest of this run, so rollback reuses the same instance.
type step struct {
	seq     store.TemplateActionSequence
	handler action.Handler
	execID  uuid.UUID
}

// Run executes every sequence in tmpl's dependency order against workspace,
// starting from the beginning (spec §4.2 "Execution").
func (e *Executor) Run(ctx context.Context, actx action.Context, tmpl store.WorkspaceTemplate, seqs []store.TemplateActionSequence) (Outcome, error) {
	ordered, err := TopoSort(seqs)
	if err != nil {
		return Outcome{Success: false}, apierr.Wrap(apierr.KindCircularDependency, "resolving action order", err)
	}
	return e.run(ctx, actx, tmpl, ordered, 0)
}

// Resume continues a previously paused run from workspace.ResumeCursor
// (spec §4.2 "Pause/resume"). The caller is responsible for having merged
// fresh state (e.g. extra_data.ssh_verified) into actx/params before calling.
func (e *Executor) Resume(ctx context.Context, actx action.Context, tmpl store.WorkspaceTemplate, seqs []store.TemplateActionSequence, cursor int) (Outcome, error) {
	ordered, err := TopoSort(seqs)
	if err != nil {
		return Outcome{Success: false}, apierr.Wrap(apierr.KindCircularDependency, "resolving action order", err)
	}
	if cursor < 0 || cursor >= len(ordered) {
		return Outcome{}, apierr.New(apierr.KindStateTransitionInvalid, "resume cursor out of range")
	}
	return e.resumePaused(ctx, actx, tmpl, ordered, cursor)
}

func (e *Executor) run(ctx context.Context, actx action.Context, tmpl store.WorkspaceTemplate, ordered []store.TemplateActionSequence, startAt int) (Outcome, error) {
	var completed []step
	outcome := Outcome{}

	for i := startAt; i < len(ordered); i++ {
		seq := ordered[i]

		handler, err := e.Registry.New(seq.ActionType)
		if err != nil {
			return e.fail(ctx, actx, tmpl, completed, outcome, seq, err)
		}

		skip, execID, err := e.prepare(ctx, seq, handler)
		if err != nil {
			return outcome, err
		}
		if skip {
			continue
		}

		result, paused, err := e.attempt(ctx, actx, seq, execID, handler)
		if paused {
			if cursorErr := e.Workspaces.SetResumeCursor(ctx, actx.WorkspaceID, i); cursorErr != nil {
				e.Logger.Error("persisting resume cursor", "error", cursorErr, "workspace_id", actx.WorkspaceID)
			}
			provState := store.ProvStateAwaitingSSHVerification
			if seq.ActionType != "verify_ssh_key" {
				provState = store.ProvStateProvisioning
			}
			if stErr := e.Workspaces.SetStatus(ctx, actx.WorkspaceID, store.WorkspacePaused, provState); stErr != nil {
				e.Logger.Error("marking workspace paused", "error", stErr, "workspace_id", actx.WorkspaceID)
			}
			outcome.Paused = true
			outcome.PausedActionID = seq.ActionID
			outcome.CompletedActionIDs = completedIDs(completed)
			return outcome, nil
		}
		if err != nil {
			if seq.FatalOnError {
				return e.fail(ctx, actx, tmpl, completed, outcome, seq, err)
			}
			outcome.CompletedActionIDs = completedIDs(completed)
			continue
		}

		completed = append(completed, step{seq: seq, handler: handler, execID: execID})
		_ = result
	}

	outcome.Success = true
	outcome.CompletedActionIDs = completedIDs(completed)
	return outcome, nil
}

func (e *Executor) resumePaused(ctx context.Context, actx action.Context, tmpl store.WorkspaceTemplate, ordered []store.TemplateActionSequence, cursor int) (Outcome, error) {
	seq := ordered[cursor]
	handler, err := e.Registry.New(seq.ActionType)
	if err != nil {
		return Outcome{}, fmt.Errorf("resuming: %w", err)
	}

	existing, err := e.Executions.ListByWorkspace(ctx, actx.WorkspaceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("loading execution history: %w", err)
	}
	var execID uuid.UUID
	for _, ex := range existing {
		if ex.ActionID == seq.ActionID {
			execID = ex.ID
		}
	}
	if execID == uuid.Nil {
		return Outcome{}, apierr.New(apierr.KindStateTransitionInvalid, "no execution record found for paused action")
	}

	params := action.Substitute(decodeParams(seq.Parameters), actx)
	params["resume"] = true

	started := time.Now()
	result, err := handler.Execute(ctx, actx, params)
	if err != nil {
		var pause *action.PauseSignal
		if errors.As(err, &pause) {
			return Outcome{Paused: true, PausedActionID: seq.ActionID}, nil
		}
		_ = e.Executions.MarkFailed(ctx, execID, err.Error(), string(debug.Stack()), time.Now(), time.Since(started).Seconds())
		return Outcome{}, apierr.Wrap(apierr.KindActionFailed, "resuming action "+seq.ActionID, err)
	}
	raw, _ := result.MarshalResult()
	if err := e.Executions.MarkCompleted(ctx, execID, raw, time.Now(), time.Since(started).Seconds()); err != nil {
		e.Logger.Error("marking resumed execution completed", "error", err)
	}

	return e.run(ctx, actx, tmpl, ordered, cursor+1)
}

// prepare evaluates the condition and, if the action should run, creates its
// pending execution record. skip reports whether the action was recorded as
// skipped and the caller should move on without attempting it.
func (e *Executor) prepare(ctx context.Context, seq store.TemplateActionSequence, handler action.Handler) (skip bool, execID uuid.UUID, err error) {
	if seq.Condition != nil && seq.Condition.Expression != "" {
		ok, condErr := action.EvaluateCondition(seq.Condition.Expression, action.OSPredicates{})
		if condErr != nil {
			e.Logger.Warn("condition evaluation error, defaulting to execute", "action_id", seq.ActionID, "error", condErr)
		}
		if !ok {
			rec, createErr := e.Executions.Create(ctx, uuid.Nil, seq.ID, seq.ActionID, seq.ActionType, seq.RetryConfig.MaxAttempts)
			if createErr != nil {
				return false, uuid.Nil, fmt.Errorf("recording skipped action %s: %w", seq.ActionID, createErr)
			}
			_ = e.Executions.MarkSkipped(ctx, rec.ID)
			return true, uuid.Nil, nil
		}
	}

	maxAttempts := seq.RetryConfig.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	rec, err := e.Executions.Create(ctx, uuid.Nil, seq.ID, seq.ActionID, seq.ActionType, maxAttempts)
	if err != nil {
		return false, uuid.Nil, fmt.Errorf("creating execution record for %s: %w", seq.ActionID, err)
	}
	return false, rec.ID, nil
}

// attempt runs validate+execute up to retry_config.max_attempts, applying
// backoff between attempts (spec §4.2 step 3). paused reports that the
// handler returned action.PauseSignal.
func (e *Executor) attempt(ctx context.Context, actx action.Context, seq store.TemplateActionSequence, execID uuid.UUID, handler action.Handler) (action.Result, bool, error) {
	maxAttempts := seq.RetryConfig.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		startedAt := time.Now()
		if err := e.Executions.MarkRunning(ctx, execID, attempt, startedAt); err != nil {
			e.Logger.Error("marking execution running", "error", err)
		}

		params := action.Substitute(decodeParams(seq.Parameters), actx)

		if err := handler.Validate(params); err != nil {
			_ = e.Executions.MarkFailed(ctx, execID, err.Error(), "", time.Now(), time.Since(startedAt).Seconds())
			telemetry.ActionExecutionsTotal.WithLabelValues(seq.ActionType, "failed").Inc()
			return action.Result{}, false, apierr.Wrap(apierr.KindInvalidInput, "validating action "+seq.ActionID, err)
		}

		result, err := handler.Execute(ctx, actx, params)
		duration := time.Since(startedAt)
		telemetry.ActionDuration.WithLabelValues(seq.ActionType).Observe(duration.Seconds())

		if err == nil {
			raw, marshalErr := result.MarshalResult()
			if marshalErr != nil {
				raw = json.RawMessage(`{}`)
			}
			if markErr := e.Executions.MarkCompleted(ctx, execID, raw, time.Now(), duration.Seconds()); markErr != nil {
				e.Logger.Error("marking execution completed", "error", markErr)
			}
			telemetry.ActionExecutionsTotal.WithLabelValues(seq.ActionType, "completed").Inc()
			return result, false, nil
		}

		var pause *action.PauseSignal
		if errors.As(err, &pause) {
			telemetry.ActionExecutionsTotal.WithLabelValues(seq.ActionType, "paused").Inc()
			return result, true, nil
		}

		lastErr = err
		if attempt < maxAttempts {
			delay := time.Duration(seq.RetryConfig.RetryDelaySeconds) * time.Second
			if seq.RetryConfig.ExponentialBackoff {
				delay = time.Duration(seq.RetryConfig.RetryDelaySeconds) * time.Second * time.Duration(1<<(attempt-1))
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					lastErr = ctx.Err()
					_ = e.Executions.MarkFailed(ctx, execID, lastErr.Error(), "", time.Now(), 0)
					telemetry.ActionExecutionsTotal.WithLabelValues(seq.ActionType, "failed").Inc()
					return action.Result{}, false, apierr.Wrap(apierr.KindActionFailed, "action "+seq.ActionID+" cancelled", lastErr)
				}
			}
		}
	}

	_ = e.Executions.MarkFailed(ctx, execID, lastErr.Error(), string(debug.Stack()), time.Now(), 0)
	telemetry.ActionExecutionsTotal.WithLabelValues(seq.ActionType, "failed").Inc()
	return action.Result{}, false, apierr.Wrap(apierr.KindActionFailed, "action "+seq.ActionID+" exhausted retries", lastErr)
}

// fail runs the compensating rollback chain (if the template opts in) and
// returns the terminal failure outcome (spec §4.2 step 4).
func (e *Executor) fail(ctx context.Context, actx action.Context, tmpl store.WorkspaceTemplate, completed []step, outcome Outcome, failedSeq store.TemplateActionSequence, cause error) (Outcome, error) {
	outcome.Success = false
	outcome.FailedActionID = failedSeq.ActionID
	outcome.CompletedActionIDs = completedIDs(completed)

	if tmpl.RollbackOnFatalError {
		var rolledBack []string
		for i := len(completed) - 1; i >= 0; i-- {
			s := completed[i]
			params := action.Substitute(decodeParams(s.seq.Parameters), actx)
			rollbackErr := s.handler.Rollback(ctx, actx, params, action.Result{})
			success := rollbackErr == nil

			label := "success"
			if !success {
				label = "failed"
			}
			telemetry.RollbacksTotal.WithLabelValues(s.seq.ActionType, label).Inc()

			errMsg := ""
			if rollbackErr != nil {
				errMsg = rollbackErr.Error()
				e.Logger.Error("rollback failed", "action_id", s.seq.ActionID, "error", rollbackErr)
			}
			if markErr := e.Executions.MarkRolledBack(ctx, s.execID, success, errMsg); markErr != nil {
				e.Logger.Error("recording rollback outcome", "error", markErr)
			}
			rolledBack = append(rolledBack, s.seq.ActionID)
		}
		outcome.RolledBackIDs = rolledBack
	}

	if markErr := e.Workspaces.SetStatus(ctx, actx.WorkspaceID, store.WorkspaceFailed, store.ProvStateFailed); markErr != nil {
		e.Logger.Error("marking workspace failed", "error", markErr)
	}

	return outcome, apierr.Wrap(apierr.KindActionFailed, "action "+failedSeq.ActionID+" failed fatally", cause)
}

func completedIDs(steps []step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.seq.ActionID)
	}
	return out
}

func decodeParams(raw json.RawMessage) action.Params {
	if len(raw) == 0 {
		return action.Params{}
	}
	var p action.Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return action.Params{}
	}
	return p
}
