// Package postgres holds the funnel's durable cursor store.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store tracks funnel progress per network: the highest correlated DA block
// and the primary height it was emitted with. The sync loop records after
// every emitted batch; on restart the correlation engine consults the latest
// DA height to pick a resume point.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a cursor store on an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the funnel_progress table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS funnel_progress (
			network TEXT NOT NULL,
			primary_height BIGINT NOT NULL,
			da_height BIGINT NOT NULL,
			processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (network, primary_height)
		);

		CREATE INDEX IF NOT EXISTS idx_funnel_progress_network_da ON funnel_progress(network, da_height);
	`

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("init funnel_progress: %w", err)
	}
	return nil
}

// RecordProcessed records that a primary height was emitted with DA blocks
// correlated up to daHeight.
func (s *Store) RecordProcessed(ctx context.Context, network string, primaryHeight, daHeight uint64) error {
	query := `
		INSERT INTO funnel_progress (network, primary_height, da_height, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (network, primary_height) DO UPDATE SET
			da_height = EXCLUDED.da_height,
			processed_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, network, primaryHeight, daHeight); err != nil {
		return fmt.Errorf("record processed: %w", err)
	}
	return nil
}

// LatestProcessedHeight returns the highest correlated DA height for a
// network. ok is false when the network has no recorded progress.
func (s *Store) LatestProcessedHeight(ctx context.Context, network string) (uint64, bool, error) {
	query := `
		SELECT da_height
		FROM funnel_progress
		WHERE network = $1
		ORDER BY da_height DESC
		LIMIT 1
	`

	var height uint64
	err := s.pool.QueryRow(ctx, query, network).Scan(&height)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query latest processed height: %w", err)
	}
	return height, true, nil
}

// LatestPrimaryHeight returns the highest emitted primary height for a
// network, used by the sync loop to resume after a restart.
func (s *Store) LatestPrimaryHeight(ctx context.Context, network string) (uint64, bool, error) {
	query := `
		SELECT primary_height
		FROM funnel_progress
		WHERE network = $1
		ORDER BY primary_height DESC
		LIMIT 1
	`

	var height uint64
	err := s.pool.QueryRow(ctx, query, network).Scan(&height)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query latest primary height: %w", err)
	}
	return height, true, nil
}
