package liquidation_test

import (
	"errors"
	"testing"

	"github.com/mxwtnb/ampo/internal/liquidation"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/settle"
	"github.com/mxwtnb/ampo/internal/testutil"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	r := pool.NewRegistry()
	p, err := r.Initialize(pool.InitializeParams{
		ID:              testutil.PoolA,
		RangeLower:      -600,
		RangeUpper:      600,
		TickSpacing:     60,
		FeeRate:         3000,
		PaymentIsToken0: true,
		Asset0:          testutil.Token0,
		Asset1:          testutil.Token1,
	})
	if err != nil {
		t.Fatalf("initialize pool: %v", err)
	}
	return p
}

func newRequest(p *pool.Pool) *settle.Request {
	return &settle.Request{
		Pool:      p.State.ID,
		TickLower: p.State.RangeLower,
		TickUpper: p.State.RangeUpper,
		Asset0:    p.State.Asset0,
		Asset1:    p.State.Asset1,
	}
}

// ============================================================================
// Test: PaymentPerBlock
// ============================================================================

func TestPaymentPerBlock(t *testing.T) {
	p := newPool(t)
	p.State.FundingRate = 100

	a := p.Account(testutil.Alice, 0)
	a.Position0 = 2 * pool.PositionUnit
	a.Position1 = 1 * pool.PositionUnit

	if got := liquidation.PaymentPerBlock(&p.State, a); got != 300 {
		t.Errorf("position holder got %d, want 300", got)
	}

	p.State.Manager = testutil.Alice
	p.State.Rent = 50
	if got := liquidation.PaymentPerBlock(&p.State, a); got != 350 {
		t.Errorf("manager got %d, want 350", got)
	}
}

// ============================================================================
// Test: Liquidate
// ============================================================================

func TestLiquidate_HealthyAccountRejected(t *testing.T) {
	p := newPool(t)
	p.State.Manager = testutil.Bob
	p.Account(testutil.Bob, 0).Balance = 1_000_000_000
	p.State.FundingRate = 100

	a := p.Account(testutil.Alice, 0)
	a.Position0 = pool.PositionUnit
	// Exactly MinHealthyPeriod blocks of cover after settling is healthy.
	a.Balance = 100 * pool.MinHealthyPeriod

	_, err := liquidation.Liquidate(p, testutil.Alice, testutil.Carol, 0, newRequest(p))
	if !errors.Is(err, liquidation.ErrNotLiquidatable) {
		t.Errorf("got %v, want ErrNotLiquidatable", err)
	}
	if a.Position0 != pool.PositionUnit {
		t.Error("healthy account's position must be untouched")
	}
}

func TestLiquidate_ClosesAndRewards(t *testing.T) {
	p := newPool(t)
	p.State.Manager = testutil.Bob
	p.Account(testutil.Bob, 0).Balance = 1_000_000_000
	p.State.FundingRate = 100

	a := p.Account(testutil.Alice, 0)
	a.Position0 = pool.PositionUnit
	a.Balance = 100*pool.MinHealthyPeriod - 1

	req := newRequest(p)
	reward, err := liquidation.Liquidate(p, testutil.Alice, testutil.Carol, 0, req)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if a.Position0 != 0 || a.Position1 != 0 {
		t.Errorf("positions got (%d, %d), want (0, 0)", a.Position0, a.Position1)
	}
	if a.Balance != 0 {
		t.Errorf("target balance got %d, want 0", a.Balance)
	}
	if reward != 100*pool.MinHealthyPeriod-1 {
		t.Errorf("reward got %d, want %d", reward, 100*pool.MinHealthyPeriod-1)
	}
	if got := p.Accounts[testutil.Carol].Balance; got != reward {
		t.Errorf("caller balance got %d, want %d", got, reward)
	}
	// Closing the position restores its underlying liquidity and returns
	// the notional.
	if got := req.Liquidity(); got != pool.PositionUnit {
		t.Errorf("liquidity delta got %d, want %d", got, pool.PositionUnit)
	}
	d0, _ := req.Deltas()
	if d0 != p.State.NotionalPerUnit0 {
		t.Errorf("delta0 got %d, want %d", d0, p.State.NotionalPerUnit0)
	}
}

func TestLiquidate_SettlesBeforeHealthCheck(t *testing.T) {
	// The stored balance looks healthy but pending funding has already
	// consumed it.
	p := newPool(t)
	p.State.Manager = testutil.Bob
	p.Account(testutil.Bob, 0).Balance = 1_000_000_000
	p.State.FundingRate = 100

	a := p.Account(testutil.Alice, 0)
	a.Position0 = pool.PositionUnit
	a.Balance = 100*pool.MinHealthyPeriod + 100*1000

	reward, err := liquidation.Liquidate(p, testutil.Alice, testutil.Carol, 1001, newRequest(p))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// 1001 blocks of funding at 100 per block were settled away first.
	want := int64(100*pool.MinHealthyPeriod + 100*1000 - 100*1001)
	if reward != want {
		t.Errorf("reward got %d, want %d", reward, want)
	}
}

func TestLiquidate_ZeroBalanceWithOpenPosition(t *testing.T) {
	// Any open position with nothing backing it is immediately below the
	// health threshold.
	p := newPool(t)
	p.State.Manager = testutil.Bob
	p.Account(testutil.Bob, 0).Balance = 1_000_000_000
	p.State.FundingRate = 100

	a := p.Account(testutil.Alice, 0)
	a.Position0 = pool.PositionUnit

	reward, err := liquidation.Liquidate(p, testutil.Alice, testutil.Carol, 0, newRequest(p))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if reward != 0 {
		t.Errorf("reward got %d, want 0", reward)
	}
	if a.Position0 != 0 {
		t.Errorf("position got %d, want 0", a.Position0)
	}
	if _, ok := p.Accounts[testutil.Carol]; ok {
		t.Error("zero reward must not create a caller account")
	}
}

func TestLiquidate_ManagerTargetEvicted(t *testing.T) {
	p := newPool(t)
	p.State.Manager = testutil.Alice
	p.State.Rent = 100
	a := p.Account(testutil.Alice, 0)
	a.Balance = 100*pool.MinHealthyPeriod - 1

	if _, err := liquidation.Liquidate(p, testutil.Alice, testutil.Carol, 0, newRequest(p)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if p.State.HasManager() {
		t.Error("liquidated manager must be evicted")
	}
	if p.State.Rent != 0 {
		t.Errorf("rent got %d, want 0", p.State.Rent)
	}
}
