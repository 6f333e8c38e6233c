package accrual

// Pure accrual math. Rent and funding settle lazily: callers carry the pool
// and account snapshots forward to some block and this package computes what
// is owed in between. Nothing here mutates state.
//
// Funding accrues linearly and is integrated over block height exactly once,
// inside CumulativeFunding. FundingOwed multiplies the integral delta by
// position size only — elapsed blocks never enter the product a second time.

// CumulativeFunding extends the stored funding integral to atBlock at the
// current rate:
//
//	cum + (atBlock - lastUpdateBlock) × fundingRate
//
// Rate changes take effect from the block of change forward; the caller is
// responsible for snapshotting the integral and resetting lastUpdateBlock
// whenever the rate changes.
func CumulativeFunding(cum, fundingRate, lastUpdateBlock, atBlock int64) int64 {
	if atBlock <= lastUpdateBlock || fundingRate == 0 {
		return cum
	}
	elapsed := MultiplyInt128(atBlock-lastUpdateBlock, fundingRate)
	owed := DivideInt128(elapsed, 1, RoundDown)
	putInt128(elapsed)
	return cum + owed
}

// RentOwed returns rent × elapsed blocks. The caller passes rent = 0 for
// non-manager accounts.
func RentOwed(rent, lastPaymentBlock, atBlock int64) int64 {
	if rent == 0 || atBlock <= lastPaymentBlock {
		return 0
	}
	return MulDiv(rent, atBlock-lastPaymentBlock, 1)
}

// FundingOwed returns the funding accrued against a position since its last
// charge:
//
//	(cumNow - cumAtLastCharge) × totalPosition / position scale
//
// totalPosition is the sum of both option sides; funding is charged per unit
// of open position regardless of side.
func FundingOwed(cumNow, cumAtLastCharge, totalPosition int64) int64 {
	delta := cumNow - cumAtLastCharge
	if delta == 0 || totalPosition == 0 {
		return 0
	}
	return MulDiv(delta, totalPosition, PositionConfig.Scale)
}
