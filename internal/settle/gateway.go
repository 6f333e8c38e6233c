package settle

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/amm"
)

// ErrReentrant is returned when an operation re-enters the gateway for a
// pool whose settlement request is already outstanding. That pool's state
// may be mid-mutation at that point, so the nested call is rejected
// outright. Requests for other pools are unaffected.
var ErrReentrant = errors.New("settlement request already outstanding")

// Request accumulates the value movement of one top-level operation as
// signed per-asset deltas (positive = pay to the account, negative = collect
// from the account) plus an optional liquidity delta and an optional LP
// donation. The gateway turns the whole request into a single atomic
// exchange with the external engine.
type Request struct {
	Pool      amm.PoolID
	TickLower int32
	TickUpper int32
	Account   common.Address
	Asset0    common.Address
	Asset1    common.Address

	delta0         int64
	delta1         int64
	liquidityDelta int64
	donate0        int64
	donate1        int64
}

// Add folds explicit token deltas into the request.
func (r *Request) Add(delta0, delta1 int64) {
	r.delta0 += delta0
	r.delta1 += delta1
}

// AddLiquidity folds a fixed-range liquidity change into the request.
func (r *Request) AddLiquidity(delta int64) {
	r.liquidityDelta += delta
}

// AddDonation folds a pro-rata LP payout into the request. Rent routed to
// liquidity providers travels this way; it is never stored as a balance
// credit anywhere in the core.
func (r *Request) AddDonation(amount0, amount1 int64) {
	r.donate0 += amount0
	r.donate1 += amount1
}

// Empty reports whether executing the request would be a no-op.
func (r *Request) Empty() bool {
	return r.delta0 == 0 && r.delta1 == 0 && r.liquidityDelta == 0 && r.donate0 == 0 && r.donate1 == 0
}

// Deltas returns the accumulated explicit token deltas.
func (r *Request) Deltas() (delta0, delta1 int64) {
	return r.delta0, r.delta1
}

// Liquidity returns the accumulated fixed-range liquidity delta.
func (r *Request) Liquidity() int64 {
	return r.liquidityDelta
}

// Donation returns the accumulated LP payout.
func (r *Request) Donation() (amount0, amount1 int64) {
	return r.donate0, r.donate1
}

// Result carries the amounts realized by the liquidity change, in the same
// signed convention as the request deltas.
type Result struct {
	Amount0 int64
	Amount1 int64
}

// Gateway is the only component that crosses into the external liquidity
// engine and token ledger. Execute performs the two-phase protocol: one
// request out, realized amounts folded back in the callback, then the
// transfers and the donation. One settlement may be in flight per pool;
// different pools settle concurrently.
type Gateway struct {
	engine amm.LiquidityEngine
	ledger amm.TokenLedger

	mu   sync.Mutex
	busy map[amm.PoolID]bool
}

func NewGateway(engine amm.LiquidityEngine, ledger amm.TokenLedger) *Gateway {
	return &Gateway{engine: engine, ledger: ledger, busy: make(map[amm.PoolID]bool)}
}

func (g *Gateway) acquire(pool amm.PoolID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[pool] {
		return false
	}
	g.busy[pool] = true
	return true
}

func (g *Gateway) release(pool amm.PoolID) {
	g.mu.Lock()
	delete(g.busy, pool)
	g.mu.Unlock()
}

// Execute settles an accumulated request against the external engine.
//
// Order matters: the liquidity change runs first so its realized amounts can
// be netted against the explicit deltas, transfers run next, and the
// donation runs last because value given to liquidity providers cannot be
// taken back. A failure at any point undoes the legs already applied with
// compensating calls before surfacing, so a rejected operation leaves the
// engine and ledger exactly as they were; the caller then discards the
// in-progress pool mutation and nothing is partially applied on either side.
func (g *Gateway) Execute(ctx context.Context, req *Request) (Result, error) {
	if !g.acquire(req.Pool) {
		return Result{}, ErrReentrant
	}
	defer g.release(req.Pool)

	var res Result
	var undo []func(context.Context) error

	unwind := func(err error) (Result, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i](ctx); uerr != nil {
				err = errors.Join(err, uerr)
			}
		}
		return Result{}, err
	}

	if req.liquidityDelta != 0 {
		a0, a1, err := g.engine.ModifyLiquidity(ctx, req.Pool, req.TickLower, req.TickUpper, req.liquidityDelta)
		if err != nil {
			return Result{}, err
		}
		res.Amount0, res.Amount1 = a0, a1
		req.delta0 += a0
		req.delta1 += a1
		undo = append(undo, func(ctx context.Context) error {
			_, _, err := g.engine.ModifyLiquidity(ctx, req.Pool, req.TickLower, req.TickUpper, -req.liquidityDelta)
			return err
		})
	}

	if err := g.finalize(ctx, req.Asset0, req.Account, req.delta0); err != nil {
		return unwind(err)
	}
	if req.delta0 != 0 {
		undo = append(undo, func(ctx context.Context) error {
			return g.finalize(ctx, req.Asset0, req.Account, -req.delta0)
		})
	}

	if err := g.finalize(ctx, req.Asset1, req.Account, req.delta1); err != nil {
		return unwind(err)
	}
	if req.delta1 != 0 {
		undo = append(undo, func(ctx context.Context) error {
			return g.finalize(ctx, req.Asset1, req.Account, -req.delta1)
		})
	}

	if req.donate0 != 0 || req.donate1 != 0 {
		if err := g.engine.Donate(ctx, req.Pool, req.donate0, req.donate1); err != nil {
			return unwind(err)
		}
	}

	return res, nil
}

// finalize turns one net delta into a transfer: negative nets are collected
// from the account, positive nets are paid out. Paying out the positive net
// is also the sweep — the core holds no transient balance once it returns.
func (g *Gateway) finalize(ctx context.Context, asset, account common.Address, net int64) error {
	switch {
	case net < 0:
		return g.ledger.Settle(ctx, asset, account, -net)
	case net > 0:
		return g.ledger.Take(ctx, asset, account, net)
	}
	return nil
}
