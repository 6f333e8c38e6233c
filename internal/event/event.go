package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mxwtnb/ampo/internal/amm"
)

// Type identifies an outbound event.
type Type int

const (
	TypePoolInitialized Type = iota
	TypeManagerChanged
	TypeRentChanged
	TypeFundingRateChanged
	TypeDeposited
	TypeWithdrawn
	TypeLiquidityModified
	TypePositionModified
	TypeAccountLiquidated
)

func (t Type) String() string {
	switch t {
	case TypePoolInitialized:
		return "pool_initialized"
	case TypeManagerChanged:
		return "manager_changed"
	case TypeRentChanged:
		return "rent_changed"
	case TypeFundingRateChanged:
		return "funding_rate_changed"
	case TypeDeposited:
		return "deposited"
	case TypeWithdrawn:
		return "withdrawn"
	case TypeLiquidityModified:
		return "liquidity_modified"
	case TypePositionModified:
		return "position_modified"
	case TypeAccountLiquidated:
		return "account_liquidated"
	default:
		return "unknown"
	}
}

// Event is the outbound record of one committed operation. Published to
// NATS and appended to the Postgres operation log after the state change
// has committed.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Type    Type           `json:"-"`
	Kind    string         `json:"kind"`
	Pool    amm.PoolID     `json:"pool"`
	Account common.Address `json:"account"`
	Block   int64          `json:"block"`

	Manager        common.Address `json:"manager,omitempty"`
	Rent           int64          `json:"rent,omitempty"`
	FundingRate    int64          `json:"funding_rate,omitempty"`
	Amount         int64          `json:"amount,omitempty"`
	LiquidityDelta int64          `json:"liquidity_delta,omitempty"`
	Delta0         int64          `json:"delta0,omitempty"`
	Delta1         int64          `json:"delta1,omitempty"`
	Reward         int64          `json:"reward,omitempty"`

	EmittedAt time.Time `json:"emitted_at"`
}

// New stamps an event with identity, kind string and emission time.
func New(t Type, pool amm.PoolID, account common.Address, block int64) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		Kind:      t.String(),
		Pool:      pool,
		Account:   account,
		Block:     block,
		EmittedAt: time.Now().UTC(),
	}
}
