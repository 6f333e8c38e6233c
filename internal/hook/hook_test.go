package hook_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mxwtnb/ampo/internal/amm"
	"github.com/mxwtnb/ampo/internal/hook"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/testutil"
)

type recordingEngine struct {
	initialized []pool.InitializeParams
	swapPool    amm.PoolID
	swapAmount  int64
}

func (e *recordingEngine) InitializePool(_ context.Context, p pool.InitializeParams) error {
	e.initialized = append(e.initialized, p)
	return nil
}

func (e *recordingEngine) SwapFee(_ context.Context, id amm.PoolID, amountSpecified int64, _ bool) (int64, int64, error) {
	e.swapPool = id
	e.swapAmount = amountSpecified
	return 42, 0, nil
}

var self = common.HexToAddress("0x0000000000000000000000000000000000005e1f")

// ============================================================================
// Test: lifecycle passthrough
// ============================================================================

func TestHook_PassesThroughToEngine(t *testing.T) {
	ctx := context.Background()
	eng := &recordingEngine{}
	h := hook.New(eng, self)

	params := pool.InitializeParams{ID: testutil.PoolA, RangeLower: -600, RangeUpper: 600}
	if err := h.OnInitialize(ctx, params); err != nil {
		t.Fatalf("on initialize: %v", err)
	}
	if len(eng.initialized) != 1 || eng.initialized[0].ID != testutil.PoolA {
		t.Errorf("initialize not forwarded: %+v", eng.initialized)
	}

	fee, override, err := h.OnSwapFee(ctx, testutil.PoolA, 1_000_000, true)
	if err != nil {
		t.Fatalf("on swap fee: %v", err)
	}
	if fee != 42 || override != 0 {
		t.Errorf("swap fee got (%d, %d), want (42, 0)", fee, override)
	}
	if eng.swapPool != testutil.PoolA || eng.swapAmount != 1_000_000 {
		t.Errorf("swap not forwarded: pool %s amount %d", eng.swapPool, eng.swapAmount)
	}
}

// ============================================================================
// Test: liquidity bypass guard
// ============================================================================

func TestHook_RejectsForeignLiquidity(t *testing.T) {
	ctx := context.Background()
	h := hook.New(&recordingEngine{}, self)

	if err := h.OnAddLiquidityAttempt(ctx, testutil.PoolA, self); err != nil {
		t.Errorf("own settlement path rejected: %v", err)
	}

	err := h.OnAddLiquidityAttempt(ctx, testutil.PoolA, testutil.Alice)
	if !errors.Is(err, hook.ErrLiquidityBypass) {
		t.Errorf("got %v, want ErrLiquidityBypass", err)
	}
}
