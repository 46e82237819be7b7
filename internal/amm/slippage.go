package amm

import (
	"math"
	"math/big"
)

// ApplySlippage adjusts an amount by a slippage percentage.
//
// The percentage is floored to basis-point granularity before scaling so
// results stay in exact integer arithmetic. isMinimum subtracts (sell-side
// protection: the least the caller will accept); otherwise adds (buy-side:
// the most the caller will pay).
func ApplySlippage(amount *big.Int, slippagePct float64, isMinimum bool) *big.Int {
	if amount == nil {
		return nil
	}
	if slippagePct < 0 {
		slippagePct = 0
	}

	bps := int64(math.Floor(slippagePct * 100))

	delta := new(big.Int).Mul(amount, big.NewInt(bps))
	delta.Quo(delta, bigBpsDenom)

	if isMinimum {
		return new(big.Int).Sub(amount, delta)
	}
	return new(big.Int).Add(amount, delta)
}
