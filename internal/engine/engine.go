package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/mxwtnb/ampo/internal/accrual"
	"github.com/mxwtnb/ampo/internal/amm"
	"github.com/mxwtnb/ampo/internal/auction"
	"github.com/mxwtnb/ampo/internal/event"
	"github.com/mxwtnb/ampo/internal/ledger"
	"github.com/mxwtnb/ampo/internal/liquidation"
	"github.com/mxwtnb/ampo/internal/observability"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/settle"
)

// Engine is the top-level operation processor. It owns the pool registry and
// runs every public operation as a single atomic unit: the pool is cloned,
// mutated, settled against the external engine, and only then committed.
// Any error along the way discards the clone, so a failed operation leaves
// no trace.
//
// Operations on the same pool are serialized by a per-pool mutex; operations
// on different pools run concurrently. Block height is a monotonic counter
// fed from outside; the engine never reads a clock for accrual.
type Engine struct {
	registry *pool.Registry
	gateway  *settle.Gateway
	block    atomic.Int64

	mu    sync.Mutex
	locks map[amm.PoolID]*sync.Mutex

	log     zerolog.Logger
	metrics *observability.Metrics
	events  chan<- event.Event
}

// New creates an engine over the given external collaborators. events may be
// nil; when set, committed operations are emitted to it non-blocking.
func New(liquidityEngine amm.LiquidityEngine, tokenLedger amm.TokenLedger, log zerolog.Logger, metrics *observability.Metrics, events chan<- event.Event) *Engine {
	return &Engine{
		registry: pool.NewRegistry(),
		gateway:  settle.NewGateway(liquidityEngine, tokenLedger),
		locks:    make(map[amm.PoolID]*sync.Mutex),
		log:      log,
		metrics:  metrics,
		events:   events,
	}
}

// SetBlock advances the externally supplied block height. Lower heights are
// ignored; block height never moves backwards.
func (e *Engine) SetBlock(height int64) {
	for {
		cur := e.block.Load()
		if height <= cur {
			return
		}
		if e.block.CompareAndSwap(cur, height) {
			if e.metrics != nil {
				e.metrics.BlockHeight.Set(float64(height))
			}
			return
		}
	}
}

// Block returns the current block height.
func (e *Engine) Block() int64 {
	return e.block.Load()
}

// Registry exposes read access for the query API.
func (e *Engine) Registry() *pool.Registry {
	return e.registry
}

func (e *Engine) poolLock(id amm.PoolID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[id] = lk
	}
	return lk
}

// InitializePool registers a new pool. No settlement request is needed; the
// only external interaction is the pure range math.
func (e *Engine) InitializePool(ctx context.Context, p pool.InitializeParams) error {
	start := time.Now()

	if _, err := e.registry.Initialize(p); err != nil {
		e.reject("initialize", err)
		return err
	}

	e.log.Info().Stringer("pool", p.ID).
		Int32("lower", p.RangeLower).Int32("upper", p.RangeUpper).
		Int64("fee_rate", p.FeeRate).
		Msg("pool initialized")
	e.commitMetrics("initialize", start)
	if e.metrics != nil {
		e.metrics.Pools.Set(float64(e.registry.Len()))
	}
	e.emit(event.New(event.TypePoolInitialized, p.ID, common.Address{}, e.Block()))
	return nil
}

// op runs fn against a clone of the pool under the pool's lock, executes the
// accumulated settlement request, and commits the clone on success.
func (e *Engine) op(ctx context.Context, id amm.PoolID, account common.Address, name string, fn func(p *pool.Pool, req *settle.Request) error) error {
	start := time.Now()

	lk := e.poolLock(id)
	lk.Lock()
	defer lk.Unlock()

	cur, err := e.registry.Get(id)
	if err != nil {
		e.reject(name, err)
		return err
	}

	work := cur.Clone()
	req := &settle.Request{
		Pool:      id,
		TickLower: work.State.RangeLower,
		TickUpper: work.State.RangeUpper,
		Account:   account,
		Asset0:    work.State.Asset0,
		Asset1:    work.State.Asset1,
	}

	if err := fn(work, req); err != nil {
		e.reject(name, err)
		return err
	}

	if !req.Empty() {
		settleStart := time.Now()
		if e.metrics != nil {
			e.metrics.SettleRequests.Inc()
		}
		if _, err := e.gateway.Execute(ctx, req); err != nil {
			if e.metrics != nil {
				e.metrics.SettleErrors.Inc()
			}
			e.reject(name, err)
			return err
		}
		if e.metrics != nil {
			e.metrics.SettleDuration.Observe(time.Since(settleStart).Seconds())
		}
	}

	e.registry.Replace(id, work)
	e.commitMetrics(name, start)
	return nil
}

// Bid submits a rent bid for the manager role.
func (e *Engine) Bid(ctx context.Context, id amm.PoolID, bidder common.Address, rent int64) error {
	var changed bool
	var manager common.Address
	err := e.op(ctx, id, bidder, "bid", func(p *pool.Pool, req *settle.Request) error {
		before := p.State.Manager
		if err := auction.Bid(p, bidder, rent, e.Block(), req); err != nil {
			return err
		}
		changed = p.State.Manager != before
		manager = p.State.Manager
		return nil
	})
	if err != nil {
		return err
	}

	ev := event.New(event.TypeRentChanged, id, bidder, e.Block())
	if changed {
		ev.Type = event.TypeManagerChanged
		ev.Kind = ev.Type.String()
		ev.Manager = manager
	}
	ev.Rent = rent
	e.emit(ev)
	return nil
}

// SetFundingRate changes the per-block funding rate. Manager only.
func (e *Engine) SetFundingRate(ctx context.Context, id amm.PoolID, caller common.Address, rate int64) error {
	err := e.op(ctx, id, caller, "set_funding_rate", func(p *pool.Pool, req *settle.Request) error {
		return auction.SetFundingRate(p, caller, rate, e.Block(), req)
	})
	if err != nil {
		return err
	}

	ev := event.New(event.TypeFundingRateChanged, id, caller, e.Block())
	ev.FundingRate = rate
	e.emit(ev)
	return nil
}

// Deposit adds collateral in the pool's payment asset.
func (e *Engine) Deposit(ctx context.Context, id amm.PoolID, account common.Address, amount int64) error {
	err := e.op(ctx, id, account, "deposit", func(p *pool.Pool, req *settle.Request) error {
		ledger.Deposit(p, account, amount, e.Block(), req)
		return nil
	})
	if err != nil {
		return err
	}

	ev := event.New(event.TypeDeposited, id, account, e.Block())
	ev.Amount = amount
	e.emit(ev)
	return nil
}

// Withdraw removes collateral after settling the account.
func (e *Engine) Withdraw(ctx context.Context, id amm.PoolID, account common.Address, amount int64) error {
	err := e.op(ctx, id, account, "withdraw", func(p *pool.Pool, req *settle.Request) error {
		return ledger.Withdraw(p, account, amount, e.Block(), req)
	})
	if err != nil {
		return err
	}

	ev := event.New(event.TypeWithdrawn, id, account, e.Block())
	ev.Amount = amount
	e.emit(ev)
	return nil
}

// ModifyLiquidity changes the account's share of the fixed-range position.
func (e *Engine) ModifyLiquidity(ctx context.Context, id amm.PoolID, account common.Address, delta int64) error {
	err := e.op(ctx, id, account, "modify_liquidity", func(p *pool.Pool, req *settle.Request) error {
		return ledger.ModifyLiquidity(p, account, delta, e.Block(), req)
	})
	if err != nil {
		return err
	}

	ev := event.New(event.TypeLiquidityModified, id, account, e.Block())
	ev.LiquidityDelta = delta
	e.emit(ev)
	return nil
}

// ModifyOptionsPosition changes the account's open option sizes.
func (e *Engine) ModifyOptionsPosition(ctx context.Context, id amm.PoolID, account common.Address, delta0, delta1 int64) error {
	err := e.op(ctx, id, account, "modify_position", func(p *pool.Pool, req *settle.Request) error {
		return ledger.ModifyOptionsPosition(p, account, delta0, delta1, e.Block(), req)
	})
	if err != nil {
		return err
	}

	ev := event.New(event.TypePositionModified, id, account, e.Block())
	ev.Delta0 = delta0
	ev.Delta1 = delta1
	e.emit(ev)
	return nil
}

// Liquidate force-closes an undercollateralized account. Permissionless.
func (e *Engine) Liquidate(ctx context.Context, id amm.PoolID, target, caller common.Address) error {
	var reward int64
	err := e.op(ctx, id, caller, "liquidate", func(p *pool.Pool, req *settle.Request) error {
		var err error
		reward, err = liquidation.Liquidate(p, target, caller, e.Block(), req)
		return err
	})
	if err != nil {
		return err
	}

	e.log.Info().Stringer("pool", id).
		Stringer("target", target).Stringer("caller", caller).
		Int64("reward", reward).
		Msg("account liquidated")

	ev := event.New(event.TypeAccountLiquidated, id, target, e.Block())
	ev.Reward = reward
	e.emit(ev)
	return nil
}

// SwapFee computes the fee charged on a swap and redirects it. While a
// manager is set the fee accrues to the manager's balance and no override is
// returned; without a manager the hook charges nothing itself and tells the
// host to apply the pool's flat default fee.
func (e *Engine) SwapFee(ctx context.Context, id amm.PoolID, amountSpecified int64, zeroForOne bool) (feeAmount, feeOverride int64, err error) {
	err = e.op(ctx, id, common.Address{}, "swap_fee", func(p *pool.Pool, req *settle.Request) error {
		if !p.State.HasManager() {
			feeOverride = p.State.FeeRate
			return nil
		}

		in := amountSpecified
		if in < 0 {
			in = -in
		}
		feeAmount = accrual.MulDiv(in, p.State.FeeRate, accrual.FeeConfig.Scale)
		if feeAmount == 0 {
			return nil
		}

		ledger.Poke(p, p.State.Manager, e.Block(), req)
		if p.State.HasManager() {
			p.Account(p.State.Manager, e.Block()).Balance += feeAmount
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return feeAmount, feeOverride, nil
}

func (e *Engine) emit(ev event.Event) {
	if e.events == nil {
		return
	}
	// Non-blocking: downstream consumers can rebuild from the operation log.
	select {
	case e.events <- ev:
	default:
		if e.metrics != nil {
			e.metrics.EventDrops.Inc()
		}
	}
}

func (e *Engine) reject(op string, err error) {
	e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op).Inc()
	}
}

func (e *Engine) commitMetrics(op string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
