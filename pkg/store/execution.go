package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/dbx"
)

// ExecutionStore provides database operations for WorkspaceActionExecution
// records, the Executor's audit trail of every action attempt.
type ExecutionStore struct {
	db dbx.DBTX
}

func NewExecutionStore(db dbx.DBTX) *ExecutionStore { return &ExecutionStore{db: db} }

const executionColumns = `id, workspace_id, action_sequence_id, action_id, action_type, status,
	attempt_number, max_attempts, started_at, completed_at, duration_seconds,
	result, error_message, stack_trace, rollback_attempted, rollback_successful, rollback_error, created_at`

func scanExecution(row pgx.Row) (WorkspaceActionExecution, error) {
	var e WorkspaceActionExecution
	var result []byte
	err := row.Scan(
		&e.ID, &e.WorkspaceID, &e.ActionSequenceID, &e.ActionID, &e.ActionType, &e.Status,
		&e.AttemptNumber, &e.MaxAttempts, &e.StartedAt, &e.CompletedAt, &e.DurationSeconds,
		&result, &e.ErrorMessage, &e.StackTrace, &e.RollbackAttempted, &e.RollbackSuccessful, &e.RollbackError, &e.CreatedAt,
	)
	if len(result) > 0 {
		e.Result = json.RawMessage(result)
	}
	return e, err
}

// ListByWorkspace returns every execution record for a workspace, in
// creation order — what the `/workspaces/{id}/status` endpoint reports.
func (s *ExecutionStore) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]WorkspaceActionExecution, error) {
	rows, err := s.db.Query(ctx, `SELECT `+executionColumns+` FROM workspace_action_executions
		WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing executions for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()
	var out []WorkspaceActionExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create inserts a new `pending` execution record for an action about to run.
func (s *ExecutionStore) Create(ctx context.Context, workspaceID, sequenceID uuid.UUID, actionID, actionType string, maxAttempts int) (WorkspaceActionExecution, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO workspace_action_executions (workspace_id, action_sequence_id, action_id, action_type, status, attempt_number, max_attempts)
		VALUES ($1,$2,$3,$4,$5,0,$6)
		RETURNING `+executionColumns,
		workspaceID, sequenceID, actionID, actionType, ExecPending, maxAttempts,
	)
	e, err := scanExecution(row)
	if err != nil {
		return WorkspaceActionExecution{}, fmt.Errorf("creating execution record: %w", err)
	}
	return e, nil
}

// MarkRunning transitions an execution to `running`, incrementing attempt_number.
func (s *ExecutionStore) MarkRunning(ctx context.Context, id uuid.UUID, attempt int, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspace_action_executions
		SET status = $2, attempt_number = $3, started_at = $4
		WHERE id = $1`, id, ExecRunning, attempt, startedAt)
	if err != nil {
		return fmt.Errorf("marking execution %s running: %w", id, err)
	}
	return nil
}

// MarkCompleted transitions an execution to `completed` with its result.
func (s *ExecutionStore) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage, completedAt time.Time, durationSeconds float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspace_action_executions
		SET status = $2, result = $3, completed_at = $4, duration_seconds = $5
		WHERE id = $1`, id, ExecCompleted, result, completedAt, durationSeconds)
	if err != nil {
		return fmt.Errorf("marking execution %s completed: %w", id, err)
	}
	return nil
}

// MarkFailed transitions an execution to `failed` with the terminal error.
func (s *ExecutionStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg, stackTrace string, completedAt time.Time, durationSeconds float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspace_action_executions
		SET status = $2, error_message = $3, stack_trace = $4, completed_at = $5, duration_seconds = $6
		WHERE id = $1`, id, ExecFailed, errMsg, stackTrace, completedAt, durationSeconds)
	if err != nil {
		return fmt.Errorf("marking execution %s failed: %w", id, err)
	}
	return nil
}

// MarkSkipped transitions an execution to `skipped` (condition evaluated false).
func (s *ExecutionStore) MarkSkipped(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := s.db.Exec(ctx, `
		UPDATE workspace_action_executions SET status = $2, completed_at = $3 WHERE id = $1`,
		id, ExecSkipped, now)
	if err != nil {
		return fmt.Errorf("marking execution %s skipped: %w", id, err)
	}
	return nil
}

// MarkRolledBack records the outcome of a compensating rollback attempt.
func (s *ExecutionStore) MarkRolledBack(ctx context.Context, id uuid.UUID, successful bool, rollbackErr string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workspace_action_executions
		SET status = $2, rollback_attempted = true, rollback_successful = $3, rollback_error = $4
		WHERE id = $1`, id, ExecRolledBack, successful, rollbackErr)
	if err != nil {
		return fmt.Errorf("marking execution %s rolled back: %w", id, err)
	}
	return nil
}
