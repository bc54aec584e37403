// Package journal persists finished runs to Postgres. The pipeline
// itself owns no durable state; the journal is a side listener that
// keeps run history queryable after the event stream is gone.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maltedev/shophound/internal/pipeline"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
	CREATE TABLE IF NOT EXISTS extraction_run (
		id UUID PRIMARY KEY,
		query TEXT NOT NULL DEFAULT '',
		total_unique_products INT NOT NULL,
		succeeded INT NOT NULL,
		skipped INT NOT NULL,
		failed INT NOT NULL,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS site_outcome (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES extraction_run(id) ON DELETE CASCADE,
		site_label TEXT NOT NULL,
		url TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		products INT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_site_outcome_run_id ON site_outcome(run_id);
`

// Journal wraps a pgx pool scoped to run history.
type Journal struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, verifies the connection, and returns the journal.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Journal, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = 8
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Journal{
		pool:   pool,
		logger: logger.With("component", "journal"),
	}, nil
}

func (j *Journal) Close() {
	j.pool.Close()
}

// Ping verifies database connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (j *Journal) transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const insertRunQuery = `
	INSERT INTO extraction_run (
		id, query, total_unique_products, succeeded, skipped, failed, duration_ms
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7
	)`

const insertSiteQuery = `
	INSERT INTO site_outcome (
		id, run_id, site_label, url, status, strategy, products, reason
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	)`

// Record writes a run summary and its site outcomes in one transaction.
func (j *Journal) Record(ctx context.Context, summary *pipeline.Summary) error {
	runID, err := uuid.Parse(summary.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", summary.RunID, err)
	}

	err = j.transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertRunQuery,
			runID, summary.Query, summary.TotalUniqueProducts,
			summary.Succeeded, summary.Skipped, summary.Failed,
			summary.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for _, site := range summary.Sites {
			_, err := tx.Exec(ctx, insertSiteQuery,
				uuid.New(), runID, site.SiteLabel, site.URL,
				string(site.Status), site.Strategy, site.Products, site.Reason,
			)
			if err != nil {
				return fmt.Errorf("failed to insert site outcome: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.logger.Info("run recorded", "run_id", summary.RunID, "sites", len(summary.Sites))
	return nil
}

// RunRecord is one journaled run. Sites is only populated by GetRun.
type RunRecord struct {
	ID                  uuid.UUID    `json:"run_id"`
	Query               string       `json:"query,omitempty"`
	TotalUniqueProducts int          `json:"total_unique_products"`
	Succeeded           int          `json:"succeeded"`
	Skipped             int          `json:"skipped"`
	Failed              int          `json:"failed"`
	DurationMS          int64        `json:"duration_ms"`
	CreatedAt           time.Time    `json:"created_at"`
	Sites               []SiteRecord `json:"sites,omitempty"`
}

type SiteRecord struct {
	SiteLabel string `json:"site_label"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Strategy  string `json:"strategy_used,omitempty"`
	Products  int    `json:"products"`
	Reason    string `json:"reason,omitempty"`
}

const getRunQuery = `
	SELECT id, query, total_unique_products, succeeded, skipped, failed, duration_ms, created_at
	FROM extraction_run
	WHERE id = $1`

const getRunSitesQuery = `
	SELECT site_label, url, status, strategy, products, reason
	FROM site_outcome
	WHERE run_id = $1
	ORDER BY site_label ASC`

// GetRun loads one run with its site outcomes.
func (j *Journal) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	run := &RunRecord{}
	err := j.pool.QueryRow(ctx, getRunQuery, id).Scan(
		&run.ID, &run.Query, &run.TotalUniqueProducts,
		&run.Succeeded, &run.Skipped, &run.Failed,
		&run.DurationMS, &run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := j.pool.Query(ctx, getRunSitesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get site outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var site SiteRecord
		err := rows.Scan(&site.SiteLabel, &site.URL, &site.Status,
			&site.Strategy, &site.Products, &site.Reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site outcome: %w", err)
		}
		run.Sites = append(run.Sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return run, nil
}

const recentRunsQuery = `
	SELECT id, query, total_unique_products, succeeded, skipped, failed, duration_ms, created_at
	FROM extraction_run
	ORDER BY created_at DESC
	LIMIT $1`

// RecentRuns lists the newest runs without their site breakdowns.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.pool.Query(ctx, recentRunsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		err := rows.Scan(
			&run.ID, &run.Query, &run.TotalUniqueProducts,
			&run.Succeeded, &run.Skipped, &run.Failed,
			&run.DurationMS, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// SummaryStore is the journal surface the recorder needs (for testing)
type SummaryStore interface {
	Record(ctx context.Context, summary *pipeline.Summary) error
}

// Recorder adapts the journal to the pipeline emitter interface. Only
// run_summary events are persisted; progress events stay ephemeral.
type Recorder struct {
	store SummaryStore
}

func NewRecorder(store SummaryStore) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Emit(ctx context.Context, ev *pipeline.Event) error {
	if ev.Type != pipeline.EventRunSummary || ev.Summary == nil {
		return nil
	}
	return r.store.Record(ctx, ev.Summary)
}
