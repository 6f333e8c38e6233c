package amm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// PoolID identifies a pool in the external liquidity engine.
type PoolID = common.Hash

// LiquidityEngine is the external concentrated-liquidity engine. The core
// never performs tick accounting itself; it only asks the engine to change
// the fixed-range position and to distribute value to liquidity providers.
//
// ModifyLiquidity returns signed token deltas in the core's convention:
// positive = paid out to the caller, negative = collected from the caller.
type LiquidityEngine interface {
	ModifyLiquidity(ctx context.Context, pool PoolID, tickLower, tickUpper int32, liquidityDelta int64) (amount0Delta, amount1Delta int64, err error)
	Donate(ctx context.Context, pool PoolID, amount0, amount1 int64) error
}

// TokenLedger is the external settle/take transfer primitive.
// Settle collects amount of asset from the account into the pool;
// Take pays amount of asset out of the pool to the account.
type TokenLedger interface {
	Settle(ctx context.Context, asset common.Address, from common.Address, amount int64) error
	Take(ctx context.Context, asset common.Address, to common.Address, amount int64) error
}
