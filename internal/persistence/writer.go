package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/event"
)

// EventLogWriter writes committed operations to Postgres using multi-row
// INSERT batches. The event log is append-only; every row is keyed by the
// event UUID so redelivered batches are harmless.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch writes a batch of events to ampo.events inside tx.
func (w *EventLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO ampo.events
		(event_id, kind, pool, account, block, manager, rent, funding_rate,
		 amount, liquidity_delta, delta0, delta1, reward, emitted_at)
		VALUES `

	const cols = 14
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)

	for i, e := range events {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			e.ID, e.Kind, e.Pool.Hex(), e.Account.Hex(), e.Block,
			e.Manager.Hex(), e.Rent, e.FundingRate,
			e.Amount, e.LiquidityDelta, e.Delta0, e.Delta1, e.Reward,
			e.EmittedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadEvents returns events for a pool ordered by block, for rebuilds and
// the query API's history endpoint.
func (w *EventLogWriter) LoadEvents(ctx context.Context, pool string, limit int) ([]event.Event, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT event_id, kind, pool, account, block, manager, rent, funding_rate,
		       amount, liquidity_delta, delta0, delta1, reward, emitted_at
		FROM ampo.events
		WHERE pool = $1
		ORDER BY block ASC, emitted_at ASC
		LIMIT $2
	`, pool, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var poolHex, accountHex, managerHex string
		if err := rows.Scan(
			&e.ID, &e.Kind, &poolHex, &accountHex, &e.Block,
			&managerHex, &e.Rent, &e.FundingRate,
			&e.Amount, &e.LiquidityDelta, &e.Delta0, &e.Delta1, &e.Reward,
			&e.EmittedAt,
		); err != nil {
			return nil, err
		}
		e.Pool = common.HexToHash(poolHex)
		e.Account = common.HexToAddress(accountHex)
		e.Manager = common.HexToAddress(managerHex)
		events = append(events, e)
	}

	return events, rows.Err()
}
