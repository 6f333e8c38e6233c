// Package hook adapts the engine to the lifecycle callbacks of the host
// AMM. The host invokes the hook around pool initialization, swaps, and
// direct liquidity attempts; everything else reaches the engine through its
// own operation surface.
package hook

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/amm"
	"github.com/mxwtnb/ampo/internal/pool"
)

// ErrLiquidityBypass is returned when a sender other than the engine's own
// settlement path tries to add liquidity into a managed pool's range.
// Liquidity must enter through the engine so every unit is accounted.
var ErrLiquidityBypass = errors.New("hook: direct liquidity modification is not allowed")

// Lifecycle is the callback surface the host AMM drives.
type Lifecycle interface {
	// OnInitialize prepares internal state for a new pool.
	OnInitialize(ctx context.Context, p pool.InitializeParams) error

	// OnSwapFee reports a swap about to execute and returns the fee taken
	// by the hook plus an optional flat fee override for the host to apply.
	OnSwapFee(ctx context.Context, id amm.PoolID, amountSpecified int64, zeroForOne bool) (feeAmount, feeOverride int64, err error)

	// OnAddLiquidityAttempt vets a direct liquidity modification by sender.
	OnAddLiquidityAttempt(ctx context.Context, id amm.PoolID, sender common.Address) error
}

// Engine is the subset of the operation processor the hook needs.
type Engine interface {
	InitializePool(ctx context.Context, p pool.InitializeParams) error
	SwapFee(ctx context.Context, id amm.PoolID, amountSpecified int64, zeroForOne bool) (int64, int64, error)
}

// Hook binds the engine to a host AMM. self is the address the engine's
// settlement gateway uses when it posts liquidity; it is the only sender
// allowed to modify liquidity directly.
type Hook struct {
	engine Engine
	self   common.Address
}

func New(engine Engine, self common.Address) *Hook {
	return &Hook{engine: engine, self: self}
}

func (h *Hook) OnInitialize(ctx context.Context, p pool.InitializeParams) error {
	return h.engine.InitializePool(ctx, p)
}

func (h *Hook) OnSwapFee(ctx context.Context, id amm.PoolID, amountSpecified int64, zeroForOne bool) (int64, int64, error) {
	return h.engine.SwapFee(ctx, id, amountSpecified, zeroForOne)
}

func (h *Hook) OnAddLiquidityAttempt(ctx context.Context, id amm.PoolID, sender common.Address) error {
	if sender != h.self {
		return ErrLiquidityBypass
	}
	return nil
}
