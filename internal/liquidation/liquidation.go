package liquidation

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/accrual"
	"github.com/mxwtnb/ampo/internal/ledger"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/settle"
)

var ErrNotLiquidatable = errors.New("account is healthy")

// PaymentPerBlock is the account's current total per-block outflow: rent if
// it holds the manager role, plus funding on its open position.
func PaymentPerBlock(s *pool.PoolState, a *pool.Account) int64 {
	per := accrual.MulDiv(s.FundingRate, a.TotalPosition(), pool.PositionUnit)
	if s.HasManager() && s.Manager == a.Owner {
		per += s.Rent
	}
	return per
}

// Liquidate force-closes an undercollateralized account. Permissionless:
// any caller may liquidate once the settled balance no longer covers
// MinHealthyPeriod blocks of payments. The target is settled first; if it
// holds the manager role it is evicted; its entire option position is closed
// through the regular position-modification path; and the remaining balance
// is zeroed and credited to the caller as the liquidation reward.
//
// Balances only decay from accrual here, never from price moves, so there is
// no flash-crash path to a bad liquidation.
func Liquidate(p *pool.Pool, target, caller common.Address, atBlock int64, req *settle.Request) (reward int64, err error) {
	ledger.Poke(p, target, atBlock, req)

	a := p.Account(target, atBlock)
	perBlock := PaymentPerBlock(&p.State, a)
	if a.Balance >= accrual.MulDiv(perBlock, pool.MinHealthyPeriod, 1) {
		return 0, ErrNotLiquidatable
	}

	if p.State.HasManager() && p.State.Manager == target {
		ledger.Evict(p, atBlock)
	}

	if a.Position0 != 0 || a.Position1 != 0 {
		if err := ledger.ModifyOptionsPosition(p, target, -a.Position0, -a.Position1, atBlock, req); err != nil {
			return 0, err
		}
	}

	reward = a.Balance
	a.Balance = 0
	if reward > 0 {
		p.Account(caller, atBlock).Balance += reward
	}
	return reward, nil
}
