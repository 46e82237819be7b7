// Package pools discovers liquidity pools for a token pair across pool
// kinds and fee tiers and fetches their on-chain state.
package pools

import (
	"bytes"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies a pool's pricing model.
type Kind string

const (
	// KindV2 is a constant-product pool with a fixed pair fee.
	KindV2 Kind = "V2"
	// KindV3 is a concentrated-liquidity pool with per-tier fees.
	KindV3 Kind = "V3"
)

// Descriptor is one discovered pool with its fetched state.
//
// Token0 < Token1 always holds under byte order, which for hex addresses
// is the same as case-insensitive lexicographic order. Callers re-derive
// which side their requested token occupies.
type Descriptor struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
	Kind    Kind
	FeeBps  int64

	// Constant-product state.
	Reserve0 *big.Int
	Reserve1 *big.Int

	// Concentrated-liquidity state.
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int

	FetchedAt time.Time
}

// Clone returns a deep copy so cached descriptors are never aliased by
// callers.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Reserve0 = cloneBig(d.Reserve0)
	c.Reserve1 = cloneBig(d.Reserve1)
	c.SqrtPriceX96 = cloneBig(d.SqrtPriceX96)
	c.Liquidity = cloneBig(d.Liquidity)
	return c
}

// validState reports whether the fetched state is usable for pricing.
// Zero reserves or zero liquidity mark a pool that exists on-chain but
// cannot quote anything.
func (d Descriptor) validState() bool {
	switch d.Kind {
	case KindV2:
		return d.Reserve0 != nil && d.Reserve0.Sign() > 0 &&
			d.Reserve1 != nil && d.Reserve1.Sign() > 0
	case KindV3:
		return d.SqrtPriceX96 != nil && d.SqrtPriceX96.Sign() > 0 &&
			d.Liquidity != nil && d.Liquidity.Sign() > 0
	default:
		return false
	}
}

// SortTokens returns the pair in canonical pool order.
func SortTokens(a, b common.Address) (token0, token1 common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
