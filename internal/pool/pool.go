package pool

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/accrual"
	"github.com/mxwtnb/ampo/internal/amm"
)

// Protocol constants. These are fixed, not governed.
const (
	// MinDepositPeriod is the number of blocks of rent a bidder's balance
	// must cover at the moment a bid is accepted.
	MinDepositPeriod int64 = 300

	// MinHealthyPeriod is the number of blocks of per-block payments a
	// settled balance must cover to be safe from liquidation.
	MinHealthyPeriod int64 = 100

	// PositionUnit is one option-position (and liquidity) unit in
	// fixed-point representation. Matches accrual.PositionConfig.Scale.
	PositionUnit int64 = 1_000_000
)

// NoManager is the zero address: no auction winner is currently set.
var NoManager = common.Address{}

// PoolState is the per-pool record. Range bounds, fee and payment asset are
// immutable after initialization; the auction and funding fields change
// throughout the pool's life.
type PoolState struct {
	ID          amm.PoolID
	RangeLower  int32
	RangeUpper  int32
	TickSpacing int32

	// FeeRate is the swap fee in parts per million, charged when no
	// manager is active.
	FeeRate int64

	// PaymentIsToken0 selects which pool asset denominates deposits,
	// rent and funding.
	PaymentIsToken0 bool
	Asset0          common.Address
	Asset1          common.Address

	// NotionalPerUnit0/1 convert one option-position unit into underlying
	// token amounts. Derived once from the fixed range at initialization.
	NotionalPerUnit0 int64
	NotionalPerUnit1 int64

	Manager     common.Address
	Rent        int64 // per block, owed by the manager to LPs
	FundingRate int64 // per block per position unit, owed to the manager

	// CumulativeFunding integrates FundingRate over block height. It is
	// resynchronized whenever the rate changes.
	CumulativeFunding      int64
	LastFundingUpdateBlock int64
}

// PaymentAsset returns the asset deposits, rent and funding are denominated in.
func (s *PoolState) PaymentAsset() common.Address {
	if s.PaymentIsToken0 {
		return s.Asset0
	}
	return s.Asset1
}

// HasManager reports whether an auction winner is currently set.
func (s *PoolState) HasManager() bool {
	return s.Manager != NoManager
}

// CumulativeFundingAt extends the funding integral to atBlock without
// mutating the pool.
func (s *PoolState) CumulativeFundingAt(atBlock int64) int64 {
	return accrual.CumulativeFunding(s.CumulativeFunding, s.FundingRate, s.LastFundingUpdateBlock, atBlock)
}

// SyncFunding snapshots the funding integral at atBlock. Must be called
// before every FundingRate change so the old rate applies up to, and the new
// rate from, the block of change.
func (s *PoolState) SyncFunding(atBlock int64) {
	s.CumulativeFunding = s.CumulativeFundingAt(atBlock)
	s.LastFundingUpdateBlock = atBlock
}

// Account is the per-(pool, address) record, created lazily on first touch.
type Account struct {
	Owner common.Address

	// Balance is deposited collateral in the pool's payment asset.
	// Settlement caps charges at the balance; it never goes negative.
	Balance int64

	// Liquidity is the account's share of the fixed-range position.
	Liquidity int64

	// Position0/1 are the open synthetic option sizes per side. A put on
	// one side is structurally a call on the other, so both are calls.
	Position0 int64
	Position1 int64

	CumulativeFundingAtLastCharge int64
	LastPaymentBlock              int64
}

// TotalPosition is the funding-bearing open size across both sides.
func (a *Account) TotalPosition() int64 {
	return a.Position0 + a.Position1
}

// Owed computes what the account owes at atBlock without settling it.
// Rent applies only to the manager; funding applies to any open position.
func (s *PoolState) Owed(a *Account, atBlock int64) (rentOwed, fundingOwed int64) {
	rent := int64(0)
	if s.HasManager() && a.Owner == s.Manager {
		rent = s.Rent
	}
	rentOwed = accrual.RentOwed(rent, a.LastPaymentBlock, atBlock)
	fundingOwed = accrual.FundingOwed(s.CumulativeFundingAt(atBlock), a.CumulativeFundingAtLastCharge, a.TotalPosition())
	return rentOwed, fundingOwed
}

// Pool bundles the pool state with its account table.
type Pool struct {
	State    PoolState
	Accounts map[common.Address]*Account
}

// Account returns the record for owner, creating it lazily. New accounts
// snapshot the current funding integral so no funding accrues before their
// first interaction.
func (p *Pool) Account(owner common.Address, atBlock int64) *Account {
	a, ok := p.Accounts[owner]
	if !ok {
		a = &Account{
			Owner:                         owner,
			CumulativeFundingAtLastCharge: p.State.CumulativeFundingAt(atBlock),
			LastPaymentBlock:              atBlock,
		}
		p.Accounts[owner] = a
	}
	return a
}

// TotalLiquidity sums liquidity across all accounts. The core holds the
// fixed-range position exclusively on behalf of its accounts, so this must
// equal the externally held position at all times.
func (p *Pool) TotalLiquidity() int64 {
	var total int64
	for _, a := range p.Accounts {
		total += a.Liquidity
	}
	return total
}

// Clone deep-copies the pool. Operations run against a clone and commit it
// back only on success, which is what makes every operation all-or-nothing.
func (p *Pool) Clone() *Pool {
	cp := &Pool{
		State:    p.State,
		Accounts: make(map[common.Address]*Account, len(p.Accounts)),
	}
	for owner, a := range p.Accounts {
		dup := *a
		cp.Accounts[owner] = &dup
	}
	return cp
}
