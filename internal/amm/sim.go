package amm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds   = errors.New("amm: insufficient funds")
	ErrInsufficientReserve = errors.New("amm: insufficient reserve")
)

type rangeKey struct {
	pool  PoolID
	lower int32
	upper int32
}

// Simulator is an in-process liquidity engine and token ledger. It tracks a
// current tick per pool, liquidity per range, and token balances per holder,
// and produces the same signed deltas a real concentrated-liquidity engine
// would. Used for local runs and tests; production deployments point the
// gateway at the real engine instead.
type Simulator struct {
	mu        sync.Mutex
	ticks     map[PoolID]int32
	liquidity map[rangeKey]int64
	donations map[PoolID][2]int64

	// balances[asset][holder], reserves[asset] is what the engine holds.
	balances map[common.Address]map[common.Address]int64
	reserves map[common.Address]int64
}

func NewSimulator() *Simulator {
	return &Simulator{
		ticks:     make(map[PoolID]int32),
		liquidity: make(map[rangeKey]int64),
		donations: make(map[PoolID][2]int64),
		balances:  make(map[common.Address]map[common.Address]int64),
		reserves:  make(map[common.Address]int64),
	}
}

// SetTick moves a pool's current price tick.
func (s *Simulator) SetTick(pool PoolID, tick int32) {
	s.mu.Lock()
	s.ticks[pool] = tick
	s.mu.Unlock()
}

// Tick returns a pool's current price tick.
func (s *Simulator) Tick(pool PoolID) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks[pool]
}

// Fund credits a holder's token balance. Stands in for an on-chain transfer
// into the simulated environment.
func (s *Simulator) Fund(asset, holder common.Address, amount int64) {
	s.mu.Lock()
	s.credit(asset, holder, amount)
	s.mu.Unlock()
}

// Balance returns a holder's token balance.
func (s *Simulator) Balance(asset, holder common.Address) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[asset][holder]
}

// Donations returns the cumulative donated amounts for a pool.
func (s *Simulator) Donations(pool PoolID) (amount0, amount1 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.donations[pool]
	return d[0], d[1]
}

// ModifyLiquidity changes the liquidity held in [tickLower, tickUpper) and
// returns signed token deltas: negative = owed to the engine, positive =
// released to the caller. Token composition depends on where the current
// tick sits relative to the range.
func (s *Simulator) ModifyLiquidity(ctx context.Context, pool PoolID, tickLower, tickUpper int32, liquidityDelta int64) (int64, int64, error) {
	if liquidityDelta == 0 {
		return 0, 0, nil
	}
	if tickLower >= tickUpper {
		return 0, 0, fmt.Errorf("amm: inverted range [%d, %d)", tickLower, tickUpper)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := rangeKey{pool: pool, lower: tickLower, upper: tickUpper}
	held := s.liquidity[key]
	if held+liquidityDelta < 0 {
		return 0, 0, fmt.Errorf("amm: removing %d exceeds held liquidity %d", -liquidityDelta, held)
	}
	s.liquidity[key] = held + liquidityDelta

	a0, a1 := amountsAtTick(s.ticks[pool], tickLower, tickUpper, liquidityDelta)
	// amountsAtTick returns engine-owed amounts for adds; flip the sign to
	// the caller's perspective.
	return -a0, -a1, nil
}

// Donate records value given to in-range liquidity.
func (s *Simulator) Donate(ctx context.Context, pool PoolID, amount0, amount1 int64) error {
	if amount0 < 0 || amount1 < 0 {
		return fmt.Errorf("amm: negative donation (%d, %d)", amount0, amount1)
	}

	s.mu.Lock()
	d := s.donations[pool]
	d[0] += amount0
	d[1] += amount1
	s.donations[pool] = d
	s.mu.Unlock()
	return nil
}

// Settle collects amount of asset from the holder into the engine.
func (s *Simulator) Settle(ctx context.Context, asset, from common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amm: settle amount %d must be positive", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[asset][from] < amount {
		return fmt.Errorf("%w: %s has %d of %s, need %d",
			ErrInsufficientFunds, from, s.balances[asset][from], asset, amount)
	}
	s.credit(asset, from, -amount)
	s.reserves[asset] += amount
	return nil
}

// Take pays amount of asset out of the engine to the holder.
func (s *Simulator) Take(ctx context.Context, asset, to common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amm: take amount %d must be positive", amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserves[asset] < amount {
		return fmt.Errorf("%w: reserve holds %d of %s, need %d",
			ErrInsufficientReserve, s.reserves[asset], asset, amount)
	}
	s.reserves[asset] -= amount
	s.credit(asset, to, amount)
	return nil
}

func (s *Simulator) credit(asset, holder common.Address, amount int64) {
	m, ok := s.balances[asset]
	if !ok {
		m = make(map[common.Address]int64)
		s.balances[asset] = m
	}
	m[holder] += amount
}

// amountsAtTick computes the token amounts backing liquidityDelta in
// [lower, upper) with the price at tick, in the engine's perspective
// (positive = owed to the engine on an add).
func amountsAtTick(tick, lower, upper int32, liquidityDelta int64) (amount0, amount1 int64) {
	switch {
	case tick < lower:
		a0, _ := AmountsForLiquidity(lower, upper, liquidityDelta)
		return a0, 0
	case tick >= upper:
		_, a1 := AmountsForLiquidity(lower, upper, liquidityDelta)
		return 0, a1
	default:
		sqrtL := TickToSqrtPriceX96(lower)
		sqrtU := TickToSqrtPriceX96(upper)
		sqrtC := TickToSqrtPriceX96(tick)
		liq := big.NewInt(liquidityDelta)

		a0 := new(big.Int).Mul(liq, q96)
		a0.Mul(a0, new(big.Int).Sub(sqrtU, sqrtC))
		a0.Div(a0, sqrtU)
		a0.Div(a0, sqrtC)

		a1 := new(big.Int).Mul(liq, new(big.Int).Sub(sqrtC, sqrtL))
		a1.Rsh(a1, 96)

		return a0.Int64(), a1.Int64()
	}
}
