package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/forgehost/internal/dbx"
)

// MetricsStore persists WorkspaceMetrics time-series samples and ExchangeRate rows.
type MetricsStore struct {
	db dbx.DBTX
}

func NewMetricsStore(db dbx.DBTX) *MetricsStore { return &MetricsStore{db: db} }

// Insert records one metrics sample for a workspace.
func (s *MetricsStore) Insert(ctx context.Context, m WorkspaceMetrics) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workspace_metrics (workspace_id, collected_at, cpu_percent, memory_mb, memory_percent, process_count, uptime_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.WorkspaceID, m.CollectedAt, m.CPUPercent, m.MemoryMB, m.MemoryPercent, m.ProcessCount, m.UptimeSeconds)
	if err != nil {
		return fmt.Errorf("inserting metrics for workspace %s: %w", m.WorkspaceID, err)
	}
	return nil
}

// Latest returns the most recent sample for a workspace.
func (s *MetricsStore) Latest(ctx context.Context, workspaceID uuid.UUID) (WorkspaceMetrics, error) {
	var m WorkspaceMetrics
	m.WorkspaceID = workspaceID
	err := s.db.QueryRow(ctx, `
		SELECT collected_at, cpu_percent, memory_mb, memory_percent, process_count, uptime_seconds
		FROM workspace_metrics WHERE workspace_id = $1 ORDER BY collected_at DESC LIMIT 1`, workspaceID).
		Scan(&m.CollectedAt, &m.CPUPercent, &m.MemoryMB, &m.MemoryPercent, &m.ProcessCount, &m.UptimeSeconds)
	if err != nil {
		return WorkspaceMetrics{}, fmt.Errorf("getting latest metrics for workspace %s: %w", workspaceID, err)
	}
	return m, nil
}

// DeleteOlderThan removes metrics rows older than the retention window
// (spec §4.5: "a separate retention task deletes rows older than N days").
func (s *MetricsStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM workspace_metrics WHERE collected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting metrics older than %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// ExchangeRate returns the most recent rate on or before effectiveDate.
func (s *MetricsStore) ExchangeRate(ctx context.Context, source, target string, effectiveDate time.Time) (ExchangeRate, error) {
	var r ExchangeRate
	r.SourceCurrency, r.TargetCurrency = source, target
	err := s.db.QueryRow(ctx, `
		SELECT effective_date, rate FROM exchange_rates
		WHERE source_currency = $1 AND target_currency = $2 AND effective_date <= $3
		ORDER BY effective_date DESC LIMIT 1`, source, target, effectiveDate).
		Scan(&r.EffectiveDate, &r.Rate)
	if err != nil {
		return ExchangeRate{}, fmt.Errorf("getting exchange rate %s->%s: %w", source, target, err)
	}
	return r, nil
}

// UpsertExchangeRate inserts or replaces a rate for (source, target, date).
func (s *MetricsStore) UpsertExchangeRate(ctx context.Context, r ExchangeRate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO exchange_rates (source_currency, target_currency, effective_date, rate)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (source_currency, target_currency, effective_date) DO UPDATE SET rate = EXCLUDED.rate`,
		r.SourceCurrency, r.TargetCurrency, r.EffectiveDate, r.Rate)
	if err != nil {
		return fmt.Errorf("upserting exchange rate %s->%s: %w", r.SourceCurrency, r.TargetCurrency, err)
	}
	return nil
}
