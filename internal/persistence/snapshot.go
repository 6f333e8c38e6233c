package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mxwtnb/ampo/internal/pool"
)

// SnapshotManager persists and restores per-pool state. A snapshot is the
// full pool struct (state plus all accounts) serialized as JSON, keyed by
// pool and block. On restart the latest snapshot per pool seeds the
// registry; operations since then are not replayed, so snapshots are taken
// synchronously after commit when enabled.
type SnapshotManager struct {
	db *sql.DB
}

// PoolSnapshot is the serialized form of one pool at a block height.
type PoolSnapshot struct {
	Pool      pool.PoolState                     `json:"pool"`
	Accounts  map[common.Address]*pool.Account   `json:"accounts"`
	Block     int64                              `json:"block"`
	CreatedAt time.Time                          `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists one pool's state at the given block. A later save
// for the same pool and block overwrites the row.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, p *pool.Pool, block int64) error {
	snap := PoolSnapshot{
		Pool:      p.State,
		Accounts:  p.Accounts,
		Block:     block,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO ampo.pool_snapshots (snapshot_id, pool, block, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool, block) DO UPDATE SET data = $4, size_bytes = $5
	`, uuid.New(), p.State.ID.Hex(), block, data, len(data), snap.CreatedAt)

	return err
}

// LoadLatest returns the most recent snapshot for each known pool. An empty
// table means a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) ([]PoolSnapshot, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT DISTINCT ON (pool) data
		FROM ampo.pool_snapshots
		ORDER BY pool, block DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []PoolSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var snap PoolSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

// LatestBlock returns the highest snapshotted block across all pools.
func (sm *SnapshotManager) LatestBlock(ctx context.Context) (int64, error) {
	var block sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(block) FROM ampo.pool_snapshots
	`).Scan(&block)
	if err != nil {
		return 0, err
	}
	if !block.Valid {
		return 0, nil
	}
	return block.Int64, nil
}
