package amm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	q192 = new(big.Int).Lsh(big.NewInt(1), 192)
)

// pricePrecision is the number of decimal digits kept when converting
// 96-bit fixed-point prices for display. 40 digits comfortably covers the
// full uint160 sqrt-price range without loss.
const pricePrecision = 40

// V3Price converts a concentrated-liquidity pool's sqrtPriceX96 into
// human-unit prices for both directions.
//
// price1Per0 = (sqrtPriceX96 / 2^96)^2 scaled by 10^(decimals0-decimals1).
// sqrtPriceX96 must be an arbitrary-precision integer; passing it through
// a float64 would destroy precision at the 96-bit scale.
func V3Price(sqrtPriceX96 *big.Int, decimals0, decimals1 int) (price1Per0, price0Per1 decimal.Decimal, err error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, ErrInvalidInput
	}
	if decimals0 < 0 || decimals1 < 0 {
		return decimal.Zero, decimal.Zero, ErrInvalidInput
	}

	// price1Per0 = sqrtP^2 * 10^dec0 / (2^192 * 10^dec1), kept as an
	// integer ratio until the single decimal division below.
	numerator := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	numerator.Mul(numerator, pow10(decimals0))

	denominator := new(big.Int).Mul(q192, pow10(decimals1))

	num := decimal.NewFromBigInt(numerator, 0)
	den := decimal.NewFromBigInt(denominator, 0)

	price1Per0 = num.DivRound(den, pricePrecision)
	price0Per1 = den.DivRound(num, pricePrecision)
	return price1Per0, price0Per1, nil
}

// V3VirtualReserves derives the constant-product-equivalent reserves of a
// concentrated-liquidity pool at its current price:
//
//	reserve0 = liquidity * 2^96 / sqrtPriceX96
//	reserve1 = liquidity * sqrtPriceX96 / 2^96
//
// This is a single-price approximation: it treats the pool as if all
// liquidity were active at the current tick and ignores range boundaries.
// Good enough for quoting against swaps small relative to liquidity;
// known to understate impact for trades that would cross ticks.
func V3VirtualReserves(sqrtPriceX96, liquidity *big.Int) (reserve0, reserve1 *big.Int, err error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return nil, nil, ErrInvalidInput
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, ErrInvalidInput
	}

	reserve0 = new(big.Int).Mul(liquidity, q96)
	reserve0.Quo(reserve0, sqrtPriceX96)

	reserve1 = new(big.Int).Mul(liquidity, sqrtPriceX96)
	reserve1.Quo(reserve1, q96)

	if reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		return nil, nil, ErrInsufficientLiquidity
	}
	return reserve0, reserve1, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
