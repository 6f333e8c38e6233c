package auction

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/accrual"
	"github.com/mxwtnb/ampo/internal/ledger"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/settle"
)

var (
	ErrInsufficientCollateral = errors.New("balance below required deposit cover")
	ErrOnlyManager            = errors.New("caller is not the manager")
)

// Bid runs one round of the continuous rent auction.
//
// The bidder is settled first, then its balance must cover the bid for
// MinDepositPeriod blocks. An incumbent rebidding adjusts its own rent in
// place; rebidding zero is an explicit step-down. A challenger unseats the
// incumbent only with strictly higher rent — the incumbent is settled for
// everything accrued up to this block before losing the role. Ties and
// low bids change nothing.
func Bid(p *pool.Pool, bidder common.Address, rent int64, atBlock int64, req *settle.Request) error {
	ledger.Poke(p, bidder, atBlock, req)

	a := p.Account(bidder, atBlock)
	required := accrual.MulDiv(rent, pool.MinDepositPeriod, 1)
	if a.Balance < required {
		return ErrInsufficientCollateral
	}

	if p.State.HasManager() && p.State.Manager == bidder {
		if rent == 0 {
			ledger.Evict(p, atBlock)
			return nil
		}
		p.State.Rent = rent
		return nil
	}

	if rent <= p.State.Rent || rent == 0 {
		return nil
	}

	if p.State.HasManager() {
		ledger.Poke(p, p.State.Manager, atBlock, req)
	}
	p.State.Manager = bidder
	p.State.Rent = rent
	return nil
}

// SetFundingRate changes the per-block, per-unit funding payment. Manager
// only. The funding integral is synchronized first so the old rate applies
// up to this block and the new rate from it.
func SetFundingRate(p *pool.Pool, caller common.Address, rate int64, atBlock int64, req *settle.Request) error {
	if !p.State.HasManager() || p.State.Manager != caller {
		return ErrOnlyManager
	}

	ledger.Poke(p, caller, atBlock, req)
	if !p.State.HasManager() {
		// The poke drained and evicted the caller.
		return ErrOnlyManager
	}

	p.State.SyncFunding(atBlock)
	p.State.FundingRate = rate
	return nil
}
