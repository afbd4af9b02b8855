package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/forgehost/internal/dbx"
)

// TemplateStore provides database operations for workspace templates and
// their ordered action sequences.
type TemplateStore struct {
	db dbx.DBTX
}

func NewTemplateStore(db dbx.DBTX) *TemplateStore { return &TemplateStore{db: db} }

const templateColumns = `id, name, visibility, category, config, rollback_on_fatal_error, created_at, updated_at`

func scanTemplate(row pgx.Row) (WorkspaceTemplate, error) {
	var t WorkspaceTemplate
	var cfg []byte
	err := row.Scan(&t.ID, &t.Name, &t.Visibility, &t.Category, &cfg, &t.RollbackOnFatalError, &t.CreatedAt, &t.UpdatedAt)
	if len(cfg) > 0 {
		t.Config = json.RawMessage(cfg)
	}
	return t, err
}

// Get returns a template by ID.
func (s *TemplateStore) Get(ctx context.Context, id uuid.UUID) (WorkspaceTemplate, error) {
	row := s.db.QueryRow(ctx, `SELECT `+templateColumns+` FROM workspace_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return WorkspaceTemplate{}, fmt.Errorf("getting template %s: %w", id, err)
	}
	return t, nil
}

// Create inserts a new template.
func (s *TemplateStore) Create(ctx context.Context, name, visibility, category string, config json.RawMessage, rollbackOnFatal bool) (WorkspaceTemplate, error) {
	if config == nil {
		config = json.RawMessage(`{}`)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO workspace_templates (name, visibility, category, config, rollback_on_fatal_error)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+templateColumns,
		name, visibility, category, config, rollbackOnFatal,
	)
	t, err := scanTemplate(row)
	if err != nil {
		return WorkspaceTemplate{}, fmt.Errorf("creating template: %w", err)
	}
	return t, nil
}

// InUse reports whether any workspace currently references the template,
// used to refuse deletion (spec §3 ownership rule).
func (s *TemplateStore) InUse(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM workspaces WHERE template_id = $1`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("checking template %s usage: %w", id, err)
	}
	return count > 0, nil
}

// Delete removes a template, refusing if any workspace still references it.
func (s *TemplateStore) Delete(ctx context.Context, id uuid.UUID) error {
	inUse, err := s.InUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("template %s is referenced by at least one workspace", id)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM workspace_templates WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting template %s: %w", id, err)
	}
	return nil
}

const sequenceColumns = `id, template_id, action_id, action_type, "order", parameters,
	condition_expression, dependencies, retry_max_attempts, retry_delay_seconds,
	retry_exponential_backoff, fatal_on_error, enabled`

func scanSequence(row pgx.Row) (TemplateActionSequence, error) {
	var seq TemplateActionSequence
	var params []byte
	var conditionExpr *string
	var deps []string
	err := row.Scan(
		&seq.ID, &seq.TemplateID, &seq.ActionID, &seq.ActionType, &seq.Order, &params,
		&conditionExpr, &deps,
		&seq.RetryConfig.MaxAttempts, &seq.RetryConfig.RetryDelaySeconds, &seq.RetryConfig.ExponentialBackoff,
		&seq.FatalOnError, &seq.Enabled,
	)
	if len(params) > 0 {
		seq.Parameters = json.RawMessage(params)
	}
	if conditionExpr != nil && *conditionExpr != "" {
		seq.Condition = &Condition{Expression: *conditionExpr}
	}
	seq.Dependencies = deps
	return seq, err
}

// ListByTemplate returns every enabled action sequence for a template,
// unordered — ordering is the Executor's job (spec §4.2).
func (s *TemplateStore) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]TemplateActionSequence, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sequenceColumns+` FROM template_action_sequences
		WHERE template_id = $1 AND enabled = true ORDER BY "order"`, templateID)
	if err != nil {
		return nil, fmt.Errorf("listing action sequences for template %s: %w", templateID, err)
	}
	defer rows.Close()
	var out []TemplateActionSequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning action sequence: %w", err)
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

// AddActionSequence appends a new step to a template.
func (s *TemplateStore) AddActionSequence(ctx context.Context, seq TemplateActionSequence) (TemplateActionSequence, error) {
	if seq.Parameters == nil {
		seq.Parameters = json.RawMessage(`{}`)
	}
	var conditionExpr *string
	if seq.Condition != nil {
		conditionExpr = &seq.Condition.Expression
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO template_action_sequences (
			template_id, action_id, action_type, "order", parameters,
			condition_expression, dependencies, retry_max_attempts, retry_delay_seconds,
			retry_exponential_backoff, fatal_on_error, enabled
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+sequenceColumns,
		seq.TemplateID, seq.ActionID, seq.ActionType, seq.Order, seq.Parameters,
		conditionExpr, seq.Dependencies, seq.RetryConfig.MaxAttempts, seq.RetryConfig.RetryDelaySeconds,
		seq.RetryConfig.ExponentialBackoff, seq.FatalOnError, seq.Enabled,
	)
	out, err := scanSequence(row)
	if err != nil {
		return TemplateActionSequence{}, fmt.Errorf("adding action sequence: %w", err)
	}
	return out, nil
}
