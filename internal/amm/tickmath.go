package amm

import "math/big"

// Tick bounds of the underlying engine. Ranges outside these are rejected
// at pool initialization.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	q32 = new(big.Int).Lsh(big.NewInt(1), 32)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// sqrt(1.0001^-(2^i)) in Q128, i = 0..19. Same ladder the v3/v4
	// TickMath uses; twenty bits cover the full tick domain.
	sqrtMagics = mustParseMagics(
		"fffcb933bd6fad37aa2d162d1a594001",
		"fff97272373d413259a46990580e213a",
		"fff2e50f5f656932ef12357cf3c7fdcc",
		"ffe5caca7e10e4e61c3624eaa0941cd0",
		"ffcb9843d60f6159c9db58835c926644",
		"ff973b41fa98c081472e6896dfb254c0",
		"ff2ea16466c96a3843ec78b326b52861",
		"fe5dee046a99a2a811c461f1969c3053",
		"fcbe86c7900a88aedcffc83b479aa3a4",
		"f987a7253ac413176f2b074cf7815e54",
		"f3392b0822b70005940c7a398e4b70f3",
		"e7159475a2c29b7443b29c7fa6e889d9",
		"d097f3bdfd2022b8845ad8f792aa5825",
		"a9f746462d870fdf8a65dc1f90e061e5",
		"70d869a156d2a1b890bb3df62baf32f7",
		"31be135f97d08fd981231505542fcfa6",
		"9aa508b5b7a84e1c677de54f3e99bc9",
		"5d6af8dedb81196699c329225ee604",
		"2216e584f5fa1ea926041bedfe98",
		"48a170391f7dc42444e8fa2",
	)
)

func mustParseMagics(hexes ...string) []*big.Int {
	out := make([]*big.Int, len(hexes))
	for i, h := range hexes {
		v, ok := new(big.Int).SetString(h, 16)
		if !ok {
			panic("amm: bad tick magic " + h)
		}
		out[i] = v
	}
	return out
}

// Aligned reports whether tick sits on the pool's tick granularity.
func Aligned(tick, spacing int32) bool {
	if spacing <= 0 {
		return false
	}
	return tick%spacing == 0
}

// TickToSqrtPriceX96 computes sqrt(1.0001^tick) in Q64.96 format.
func TickToSqrtPriceX96(tick int32) *big.Int {
	absTick := tick
	if tick < 0 {
		absTick = -tick
	}

	// The ladder accumulates sqrt(1.0001^-absTick) in Q128; positive
	// ticks take the reciprocal at the end.
	ratio := new(big.Int).Lsh(big.NewInt(1), 128)
	for i, magic := range sqrtMagics {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, magic)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Q128 -> Q96, rounding up to match the engine's own conversion.
	rem := new(big.Int)
	ratio.DivMod(ratio, q32, rem)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio
}

// AmountsForLiquidity converts liquidity units over a fixed [lower, upper)
// range into underlying token amounts:
//
//	amount0 = L * 2^96 * (sqrtU - sqrtL) / (sqrtU * sqrtL)
//	amount1 = L * (sqrtU - sqrtL) / 2^96
//
// These are the full-range notionals — the amounts the position is worth
// when the price sits entirely below (amount0) or above (amount1) the range.
func AmountsForLiquidity(lower, upper int32, liquidity int64) (amount0, amount1 int64) {
	if lower >= upper || liquidity == 0 {
		return 0, 0
	}

	sqrtL := TickToSqrtPriceX96(lower)
	sqrtU := TickToSqrtPriceX96(upper)
	diff := new(big.Int).Sub(sqrtU, sqrtL)
	liq := big.NewInt(liquidity)

	a0 := new(big.Int).Mul(liq, q96)
	a0.Mul(a0, diff)
	a0.Div(a0, sqrtU)
	a0.Div(a0, sqrtL)

	a1 := new(big.Int).Mul(liq, diff)
	a1.Rsh(a1, 96)

	return a0.Int64(), a1.Int64()
}
