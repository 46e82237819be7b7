// Package amm implements pool pricing math for constant-product and
// concentrated-liquidity pools.
//
// All amounts are arbitrary-precision integers in raw token units (wei
// equivalents). Intermediate division is integer floor division so results
// match on-chain arithmetic exactly; decimal types appear only at the
// human-display boundary.
package amm

import (
	"errors"
	"math/big"
)

var (
	// ErrInvalidInput is returned for non-positive reserves or amounts.
	ErrInvalidInput = errors.New("amm: invalid input")

	// ErrInsufficientLiquidity is returned when a requested output
	// meets or exceeds the pool's reserve.
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")
)

// bpsDenom is the basis-point scale: fees are expressed in 1/10000ths.
const bpsDenom = 10000

var bigBpsDenom = big.NewInt(bpsDenom)

// V2SwapOutput computes the output amount of a constant-product swap with
// the fee applied to the input:
//
//	out = amountIn*(10000-feeBps) * reserveOut / (reserveIn*10000 + amountIn*(10000-feeBps))
func V2SwapOutput(reserveIn, reserveOut, amountIn *big.Int, feeBps int64) (*big.Int, error) {
	if err := validateV2(reserveIn, reserveOut, feeBps); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidInput
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(bpsDenom-feeBps))

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, bigBpsDenom)
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator), nil
}

// V2SwapInput computes the input amount required for an exact output.
// The +1 compensates floor division so feeding the result back through
// V2SwapOutput always yields at least amountOut.
func V2SwapInput(reserveIn, reserveOut, amountOut *big.Int, feeBps int64) (*big.Int, error) {
	if err := validateV2(reserveIn, reserveOut, feeBps); err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidInput
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}

	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, bigBpsDenom)

	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, big.NewInt(bpsDenom-feeBps))

	in := numerator.Quo(numerator, denominator)
	return in.Add(in, big.NewInt(1)), nil
}

// fixedPointScale is the 1e18 scale used for spot-price comparison.
var fixedPointScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PriceImpact compares the post-trade spot price to the pre-trade spot
// price in 1e18 fixed point and returns the deviation as a percentage.
// The result is not clamped; callers classify it.
func PriceImpact(reserveIn, reserveOut, amountIn, amountOut *big.Int) (float64, error) {
	if reserveIn == nil || reserveOut == nil || amountIn == nil || amountOut == nil {
		return 0, ErrInvalidInput
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountIn.Sign() <= 0 || amountOut.Sign() < 0 {
		return 0, ErrInvalidInput
	}

	// spot = reserveOut * 1e18 / reserveIn, before and after the trade.
	spotBefore := new(big.Int).Mul(reserveOut, fixedPointScale)
	spotBefore.Quo(spotBefore, reserveIn)

	postReserveOut := new(big.Int).Sub(reserveOut, amountOut)
	postReserveIn := new(big.Int).Add(reserveIn, amountIn)
	if postReserveOut.Sign() < 0 {
		return 0, ErrInsufficientLiquidity
	}

	spotAfter := new(big.Int).Mul(postReserveOut, fixedPointScale)
	spotAfter.Quo(spotAfter, postReserveIn)

	if spotBefore.Sign() == 0 {
		return 0, ErrInvalidInput
	}

	diff := new(big.Int).Sub(spotBefore, spotAfter)
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, spotBefore)

	// diff is now impact in basis points; percentage conversion is the
	// final display step.
	return float64(diff.Int64()) / 100, nil
}

func validateV2(reserveIn, reserveOut *big.Int, feeBps int64) error {
	if reserveIn == nil || reserveOut == nil {
		return ErrInvalidInput
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return ErrInvalidInput
	}
	if feeBps < 0 || feeBps >= bpsDenom {
		return ErrInvalidInput
	}
	return nil
}
