package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/chain-tvl/internal/rollup"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Daily chain summaries ---

// DailyChainTVL is one chain's summary as recorded on a given UTC day.
type DailyChainTVL struct {
	Day       time.Time `json:"day"`
	Chain     string    `json:"chain"`
	TVL       float64   `json:"tvl"`
	Staking   float64   `json:"staking"`
	Pool2     float64   `json:"pool2"`
	Borrowed  float64   `json:"borrowed"`
	Protocols int       `json:"protocols"`
	MCapTVL   *float64  `json:"mcaptvl"`
	Change1d  *float64  `json:"change_1d"`
	Change7d  *float64  `json:"change_7d"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertChainSummaries records every summary for day. Later refreshes on the
// same day overwrite earlier ones.
func (s *Store) UpsertChainSummaries(ctx context.Context, day time.Time, summaries []rollup.ChainSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	day = day.UTC().Truncate(24 * time.Hour)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, c := range summaries {
		_, err := tx.Exec(ctx, `
			INSERT INTO chain_tvl_daily (day, chain, tvl, staking, pool2, borrowed, protocols, mcaptvl, change_1d, change_7d, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (day, chain) DO UPDATE
				SET tvl = $3, staking = $4, pool2 = $5, borrowed = $6, protocols = $7,
				    mcaptvl = $8, change_1d = $9, change_7d = $10, updated_at = now()`,
			day, c.Name, c.TVL, c.Staking, c.Pool2, c.Borrowed, c.Protocols, c.MCapTVL, c.Change1d, c.Change7d)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", c.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// ChainHistory returns up to limit recorded days for chain, newest first.
func (s *Store) ChainHistory(ctx context.Context, chain string, limit int) ([]DailyChainTVL, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, chain, tvl, staking, pool2, borrowed, protocols, mcaptvl, change_1d, change_7d, updated_at
		FROM chain_tvl_daily
		WHERE chain = $1
		ORDER BY day DESC
		LIMIT $2`, chain, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyChainTVL
	for rows.Next() {
		var d DailyChainTVL
		if err := rows.Scan(&d.Day, &d.Chain, &d.TVL, &d.Staking, &d.Pool2, &d.Borrowed, &d.Protocols,
			&d.MCapTVL, &d.Change1d, &d.Change7d, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CleanupOldSummaries deletes days older than maxAge.
func (s *Store) CleanupOldSummaries(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM chain_tvl_daily WHERE day < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Refresh runs ---

// RefreshRun records the outcome of one fetch and rollup.
type RefreshRun struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Chains     int       `json:"chains"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

func (s *Store) RecordRefresh(ctx context.Context, run RefreshRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_runs (started_at, duration_ms, chains, status, error)
		VALUES ($1, $2, $3, $4, $5)`,
		run.StartedAt, run.DurationMs, run.Chains, run.Status, run.Error)
	return err
}

// ListRefreshRuns returns the most recent runs, newest first.
func (s *Store) ListRefreshRuns(ctx context.Context, limit int) ([]RefreshRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, duration_ms, chains, status, error
		FROM refresh_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RefreshRun
	for rows.Next() {
		var r RefreshRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.DurationMs, &r.Chains, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
