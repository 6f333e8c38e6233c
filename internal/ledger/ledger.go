package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/accrual"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/settle"
)

var (
	ErrInsufficientBalance = errors.New("insufficient settled balance")
	ErrNegativeLiquidity   = errors.New("liquidity would go negative")
	ErrNegativePosition    = errors.New("position would go negative")
)

// Poke lazily settles an account's owed rent and funding into balances as of
// atBlock. Every public operation pokes the accounts it touches before
// mutating anything else.
//
// Funding flows from the position holder to the manager's balance; when the
// account being poked is the manager the two legs cancel and only rent is
// charged. Rent is routed to liquidity providers through the settlement
// request's donation, never stored as a balance anywhere in the core.
// Funding charged while the manager slot is vacant follows the rent path.
// Charges are capped at the account's balance, so balances never go
// negative. A poke that drains the manager to zero evicts them.
func Poke(p *pool.Pool, owner common.Address, atBlock int64, req *settle.Request) {
	a := p.Account(owner, atBlock)
	rentOwed, fundingOwed := p.State.Owed(a, atBlock)

	isManager := p.State.HasManager() && owner == p.State.Manager

	if isManager {
		// Funding owed by the manager's own position comes straight back
		// as funding income, so only rent touches the balance.
		rentPaid := min64(a.Balance, rentOwed)
		a.Balance -= rentPaid
		if rentPaid > 0 && req != nil {
			d0, d1 := paymentAmounts(&p.State, rentPaid)
			req.AddDonation(d0, d1)
		}
	} else {
		fundingPaid := min64(a.Balance, fundingOwed)
		a.Balance -= fundingPaid
		if fundingPaid > 0 {
			if p.State.HasManager() {
				mgr := p.Account(p.State.Manager, atBlock)
				mgr.Balance += fundingPaid
			} else if req != nil {
				// Funding accrued before the manager slot went vacant
				// goes to liquidity providers, like rent.
				d0, d1 := paymentAmounts(&p.State, fundingPaid)
				req.AddDonation(d0, d1)
			}
		}
	}

	a.LastPaymentBlock = atBlock
	a.CumulativeFundingAtLastCharge = p.State.CumulativeFundingAt(atBlock)

	if isManager && a.Balance == 0 {
		Evict(p, atBlock)
	}
}

// Evict removes the current manager and returns the pool to the unmanaged
// state. Rent and funding rate lose meaning without a manager; the funding
// integral is synchronized first so positions are not charged for blocks
// after the eviction.
func Evict(p *pool.Pool, atBlock int64) {
	p.State.SyncFunding(atBlock)
	p.State.Manager = pool.NoManager
	p.State.Rent = 0
	p.State.FundingRate = 0
}

// Deposit settles the account first, then credits collateral and requests a
// transfer-in of the payment asset. A drained manager is evicted before the
// new collateral lands.
func Deposit(p *pool.Pool, owner common.Address, amount int64, atBlock int64, req *settle.Request) {
	Poke(p, owner, atBlock, req)

	a := p.Account(owner, atBlock)
	a.Balance += amount
	d0, d1 := paymentAmounts(&p.State, amount)
	req.Add(-d0, -d1)
}

// Withdraw settles the account first, then debits collateral and requests a
// transfer-out. The check runs against the settled balance, so pending rent
// and funding cannot be withdrawn out from under the pool.
func Withdraw(p *pool.Pool, owner common.Address, amount int64, atBlock int64, req *settle.Request) error {
	Poke(p, owner, atBlock, req)

	a := p.Account(owner, atBlock)
	if amount > a.Balance {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	d0, d1 := paymentAmounts(&p.State, amount)
	req.Add(d0, d1)
	return nil
}

// ModifyLiquidity changes the account's share of the fixed-range position.
// The token amounts realized by the external engine are netted against the
// account when the settlement request executes.
func ModifyLiquidity(p *pool.Pool, owner common.Address, delta int64, atBlock int64, req *settle.Request) error {
	pokeManagerAnd(p, owner, atBlock, req)

	a := p.Account(owner, atBlock)
	if a.Liquidity+delta < 0 {
		return ErrNegativeLiquidity
	}
	a.Liquidity += delta
	req.AddLiquidity(delta)
	return nil
}

// ModifyOptionsPosition changes the account's open option sizes. Opening
// withdraws the corresponding underlying liquidity and collects each side's
// notional from the account; the withdrawn amounts flow back to the account
// through the settlement netting. At a price outside the range the two legs
// cancel on one side, so an out-of-the-money open costs nothing upfront
// while an in-the-money open posts the intrinsic difference against an equal
// release of the opposite asset. Closing mirrors the flows.
func ModifyOptionsPosition(p *pool.Pool, owner common.Address, delta0, delta1 int64, atBlock int64, req *settle.Request) error {
	pokeManagerAnd(p, owner, atBlock, req)

	a := p.Account(owner, atBlock)
	if a.Position0+delta0 < 0 || a.Position1+delta1 < 0 {
		return ErrNegativePosition
	}

	notional0 := accrual.MulDiv(delta0, p.State.NotionalPerUnit0, pool.PositionUnit)
	notional1 := accrual.MulDiv(delta1, p.State.NotionalPerUnit1, pool.PositionUnit)
	req.Add(-notional0, -notional1)
	req.AddLiquidity(-(delta0 + delta1))

	a.Position0 += delta0
	a.Position1 += delta1
	return nil
}

// pokeManagerAnd settles the manager before the touched account, in that
// order, so funding income lands on the manager's pre-settled balance.
func pokeManagerAnd(p *pool.Pool, owner common.Address, atBlock int64, req *settle.Request) {
	if p.State.HasManager() && p.State.Manager != owner {
		Poke(p, p.State.Manager, atBlock, req)
	}
	Poke(p, owner, atBlock, req)
}

// paymentAmounts splits an amount of the payment asset into (amount0, amount1).
func paymentAmounts(s *pool.PoolState, amount int64) (int64, int64) {
	if s.PaymentIsToken0 {
		return amount, 0
	}
	return 0, amount
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
