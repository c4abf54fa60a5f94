package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS chain_tvl_daily (
    day DATE NOT NULL,
    chain TEXT NOT NULL,
    tvl DOUBLE PRECISION NOT NULL DEFAULT 0,
    staking DOUBLE PRECISION NOT NULL DEFAULT 0,
    pool2 DOUBLE PRECISION NOT NULL DEFAULT 0,
    borrowed DOUBLE PRECISION NOT NULL DEFAULT 0,
    protocols INT NOT NULL DEFAULT 0,
    mcaptvl DOUBLE PRECISION,
    change_1d DOUBLE PRECISION,
    change_7d DOUBLE PRECISION,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (day, chain)
);

CREATE INDEX IF NOT EXISTS idx_chain_tvl_daily_chain_day ON chain_tvl_daily (chain, day DESC);

CREATE TABLE IF NOT EXISTS refresh_runs (
    id BIGSERIAL PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    chains INT NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT ''
);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
