package settle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/amm"
	"github.com/mxwtnb/ampo/internal/settle"
	"github.com/mxwtnb/ampo/internal/testutil"
)

// scriptedEngine records calls and plays back configured liquidity results.
type scriptedEngine struct {
	amount0, amount1 int64
	modifyErr        error
	donateErr        error

	modifyCalls int
	lastDelta   int64
	deltas      []int64
	donations   [][2]int64
}

func (e *scriptedEngine) ModifyLiquidity(_ context.Context, _ amm.PoolID, _, _ int32, delta int64) (int64, int64, error) {
	e.modifyCalls++
	e.lastDelta = delta
	if e.modifyErr != nil {
		return 0, 0, e.modifyErr
	}
	e.deltas = append(e.deltas, delta)
	return e.amount0, e.amount1, nil
}

func (e *scriptedEngine) Donate(_ context.Context, _ amm.PoolID, amount0, amount1 int64) error {
	if e.donateErr != nil {
		return e.donateErr
	}
	e.donations = append(e.donations, [2]int64{amount0, amount1})
	return nil
}

type transfer struct {
	asset   common.Address
	account common.Address
	amount  int64
	take    bool
}

// scriptedLedger records settle/take calls in order.
type scriptedLedger struct {
	settleErr    error
	takeErr      error
	takeErrAsset common.Address
	transfers    []transfer
}

func (l *scriptedLedger) Settle(_ context.Context, asset, from common.Address, amount int64) error {
	if l.settleErr != nil {
		return l.settleErr
	}
	l.transfers = append(l.transfers, transfer{asset: asset, account: from, amount: amount})
	return nil
}

func (l *scriptedLedger) Take(_ context.Context, asset, to common.Address, amount int64) error {
	if l.takeErr != nil && asset == l.takeErrAsset {
		return l.takeErr
	}
	l.transfers = append(l.transfers, transfer{asset: asset, account: to, amount: amount, take: true})
	return nil
}

func newRequest() *settle.Request {
	return &settle.Request{
		Pool:      testutil.PoolA,
		TickLower: -600,
		TickUpper: 600,
		Account:   testutil.Alice,
		Asset0:    testutil.Token0,
		Asset1:    testutil.Token1,
	}
}

// ============================================================================
// Test: Request accumulation
// ============================================================================

func TestRequest_Empty(t *testing.T) {
	req := newRequest()
	if !req.Empty() {
		t.Error("fresh request must be empty")
	}

	req.Add(5, -5)
	req.Add(-5, 5)
	if !req.Empty() {
		t.Error("deltas that cancel must leave the request empty")
	}

	req.AddDonation(1, 0)
	if req.Empty() {
		t.Error("request with a donation is not empty")
	}
}

// ============================================================================
// Test: Execute
// ============================================================================

func TestExecute_NetsLiquidityIntoDeltas(t *testing.T) {
	// Withdrawing liquidity pays out (1000, 2000); an explicit collect of
	// 300 of asset0 nets against the payout.
	eng := &scriptedEngine{amount0: 1000, amount1: 2000}
	led := &scriptedLedger{}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.AddLiquidity(-500)
	req.Add(-300, 0)

	res, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Amount0 != 1000 || res.Amount1 != 2000 {
		t.Errorf("result got (%d, %d), want (1000, 2000)", res.Amount0, res.Amount1)
	}
	if eng.lastDelta != -500 {
		t.Errorf("liquidity delta got %d, want -500", eng.lastDelta)
	}

	want := []transfer{
		{asset: testutil.Token0, account: testutil.Alice, amount: 700, take: true},
		{asset: testutil.Token1, account: testutil.Alice, amount: 2000, take: true},
	}
	if len(led.transfers) != len(want) {
		t.Fatalf("transfers got %d, want %d", len(led.transfers), len(want))
	}
	for i, tr := range want {
		if led.transfers[i] != tr {
			t.Errorf("transfer[%d] got %+v, want %+v", i, led.transfers[i], tr)
		}
	}
}

func TestExecute_NegativeNetCollects(t *testing.T) {
	eng := &scriptedEngine{}
	led := &scriptedLedger{}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.Add(-1_000_000, 0)

	if _, err := g.Execute(context.Background(), req); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if eng.modifyCalls != 0 {
		t.Errorf("zero liquidity delta must not touch the engine, got %d calls", eng.modifyCalls)
	}
	if len(led.transfers) != 1 {
		t.Fatalf("transfers got %d, want 1", len(led.transfers))
	}
	tr := led.transfers[0]
	if tr.take || tr.asset != testutil.Token0 || tr.amount != 1_000_000 {
		t.Errorf("transfer got %+v, want settle of 1000000 token0", tr)
	}
}

func TestExecute_Donates(t *testing.T) {
	eng := &scriptedEngine{}
	led := &scriptedLedger{}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.AddDonation(700, 0)

	if _, err := g.Execute(context.Background(), req); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(eng.donations) != 1 || eng.donations[0] != [2]int64{700, 0} {
		t.Errorf("donations got %v, want [[700 0]]", eng.donations)
	}
	if len(led.transfers) != 0 {
		t.Errorf("donation alone must not move account funds, got %v", led.transfers)
	}
}

func TestExecute_EngineFailureAbortsTransfers(t *testing.T) {
	boom := errors.New("engine unavailable")
	eng := &scriptedEngine{modifyErr: boom}
	led := &scriptedLedger{}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.AddLiquidity(100)
	req.Add(-50, 0)

	_, err := g.Execute(context.Background(), req)
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want engine error", err)
	}
	if len(led.transfers) != 0 {
		t.Errorf("failed liquidity change must not trigger transfers, got %v", led.transfers)
	}
}

func TestExecute_SettleFailurePropagates(t *testing.T) {
	boom := errors.New("insufficient funds")
	eng := &scriptedEngine{}
	led := &scriptedLedger{settleErr: boom}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.Add(-100, 0)

	if _, err := g.Execute(context.Background(), req); !errors.Is(err, boom) {
		t.Errorf("got %v, want ledger error", err)
	}
}

func TestExecute_FailedTransferUnwindsLiquidity(t *testing.T) {
	// The liquidity change applies, then the collect fails; the delta must
	// be removed again so the engine ends where it started.
	boom := errors.New("insufficient funds")
	eng := &scriptedEngine{amount0: 1000}
	led := &scriptedLedger{settleErr: boom}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.AddLiquidity(1_000_000)
	req.Add(-2000, 0)

	if _, err := g.Execute(context.Background(), req); !errors.Is(err, boom) {
		t.Fatalf("got %v, want ledger error", err)
	}
	wantDeltas := []int64{1_000_000, -1_000_000}
	if len(eng.deltas) != len(wantDeltas) || eng.deltas[0] != wantDeltas[0] || eng.deltas[1] != wantDeltas[1] {
		t.Errorf("liquidity deltas got %v, want %v", eng.deltas, wantDeltas)
	}
	if len(led.transfers) != 0 {
		t.Errorf("failed settlement must leave no transfers, got %v", led.transfers)
	}
}

func TestExecute_SecondLegFailureRefundsFirst(t *testing.T) {
	boom := errors.New("reserve empty")
	led := &scriptedLedger{takeErr: boom, takeErrAsset: testutil.Token1}
	g := settle.NewGateway(&scriptedEngine{}, led)

	req := newRequest()
	req.Add(-100, 200)

	if _, err := g.Execute(context.Background(), req); !errors.Is(err, boom) {
		t.Fatalf("got %v, want ledger error", err)
	}
	want := []transfer{
		{asset: testutil.Token0, account: testutil.Alice, amount: 100},
		{asset: testutil.Token0, account: testutil.Alice, amount: 100, take: true},
	}
	if len(led.transfers) != len(want) {
		t.Fatalf("transfers got %v, want settle then refund of token0", led.transfers)
	}
	for i, tr := range want {
		if led.transfers[i] != tr {
			t.Errorf("transfer[%d] got %+v, want %+v", i, led.transfers[i], tr)
		}
	}
}

func TestExecute_DonateFailureUnwindsTransfers(t *testing.T) {
	boom := errors.New("donate rejected")
	eng := &scriptedEngine{donateErr: boom}
	led := &scriptedLedger{}
	g := settle.NewGateway(eng, led)

	req := newRequest()
	req.Add(-100, 0)
	req.AddDonation(700, 0)

	if _, err := g.Execute(context.Background(), req); !errors.Is(err, boom) {
		t.Fatalf("got %v, want donate error", err)
	}
	want := []transfer{
		{asset: testutil.Token0, account: testutil.Alice, amount: 100},
		{asset: testutil.Token0, account: testutil.Alice, amount: 100, take: true},
	}
	if len(led.transfers) != len(want) {
		t.Fatalf("transfers got %v, want settle then refund of token0", led.transfers)
	}
	for i, tr := range want {
		if led.transfers[i] != tr {
			t.Errorf("transfer[%d] got %+v, want %+v", i, led.transfers[i], tr)
		}
	}
}

// reentrantEngine calls back into the gateway from inside ModifyLiquidity.
type reentrantEngine struct {
	g   *settle.Gateway
	err error
}

func (e *reentrantEngine) ModifyLiquidity(ctx context.Context, _ amm.PoolID, _, _ int32, _ int64) (int64, int64, error) {
	inner := newRequest()
	inner.Add(-1, 0)
	_, e.err = e.g.Execute(ctx, inner)
	return 0, 0, nil
}

func (e *reentrantEngine) Donate(context.Context, amm.PoolID, int64, int64) error { return nil }

func TestExecute_RejectsReentrantRequest(t *testing.T) {
	eng := &reentrantEngine{}
	g := settle.NewGateway(eng, &scriptedLedger{})
	eng.g = g

	req := newRequest()
	req.AddLiquidity(10)

	if _, err := g.Execute(context.Background(), req); err != nil {
		t.Fatalf("outer execute: %v", err)
	}
	if !errors.Is(eng.err, settle.ErrReentrant) {
		t.Errorf("inner execute got %v, want ErrReentrant", eng.err)
	}
}

// gateEngine parks ModifyLiquidity for one pool until released.
type gateEngine struct {
	slow    amm.PoolID
	entered chan struct{}
	release chan struct{}
}

func (e *gateEngine) ModifyLiquidity(_ context.Context, pool amm.PoolID, _, _ int32, _ int64) (int64, int64, error) {
	if pool == e.slow {
		close(e.entered)
		<-e.release
	}
	return 0, 0, nil
}

func (e *gateEngine) Donate(context.Context, amm.PoolID, int64, int64) error { return nil }

func TestExecute_PoolsSettleIndependently(t *testing.T) {
	eng := &gateEngine{
		slow:    testutil.PoolA,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	g := settle.NewGateway(eng, &scriptedLedger{})

	slowDone := make(chan error, 1)
	go func() {
		req := newRequest()
		req.AddLiquidity(100)
		_, err := g.Execute(context.Background(), req)
		slowDone <- err
	}()
	<-eng.entered

	other := newRequest()
	other.Pool = testutil.PoolB
	other.AddLiquidity(100)
	if _, err := g.Execute(context.Background(), other); err != nil {
		t.Errorf("pool B settlement while pool A in flight: got %v, want nil", err)
	}

	close(eng.release)
	if err := <-slowDone; err != nil {
		t.Errorf("pool A settlement: %v", err)
	}
}
