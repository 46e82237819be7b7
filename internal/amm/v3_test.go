package amm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestV3PriceAtUnitSqrtPrice(t *testing.T) {
	// sqrtPriceX96 = 2^96 encodes a raw price of exactly 1.
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)

	price1Per0, price0Per1, err := V3Price(sqrtP, 18, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price1Per0.Equal(price0Per1) {
		t.Errorf("symmetric price should equal its inverse: %s vs %s", price1Per0, price0Per1)
	}
	if !price1Per0.Equal(decimal.NewFromInt(1)) {
		t.Errorf("price1Per0 = %s, want 1", price1Per0)
	}
}

func TestV3PriceDoubledSqrtPrice(t *testing.T) {
	// sqrtPriceX96 = 2 * 2^96 encodes a raw price of 4.
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 97)

	price1Per0, price0Per1, err := V3Price(sqrtP, 18, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price1Per0.Equal(decimal.NewFromInt(4)) {
		t.Errorf("price1Per0 = %s, want 4", price1Per0)
	}
	if !price0Per1.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("price0Per1 = %s, want 0.25", price0Per1)
	}
}

func TestV3PriceDecimalAdjustment(t *testing.T) {
	// Raw price 1 with a 6-decimal token0 against an 18-decimal token1
	// means one whole token0 buys 10^-12 whole token1.
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)

	price1Per0, price0Per1, err := V3Price(sqrtP, 6, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price1Per0.Equal(decimal.RequireFromString("0.000000000001")) {
		t.Errorf("price1Per0 = %s, want 0.000000000001", price1Per0)
	}
	if !price0Per1.Equal(decimal.RequireFromString("1000000000000")) {
		t.Errorf("price0Per1 = %s, want 1000000000000", price0Per1)
	}
}

func TestV3PriceInvalidInputs(t *testing.T) {
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)

	if _, _, err := V3Price(nil, 18, 18); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil sqrtP: err = %v", err)
	}
	if _, _, err := V3Price(big.NewInt(0), 18, 18); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero sqrtP: err = %v", err)
	}
	if _, _, err := V3Price(sqrtP, -1, 18); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative decimals: err = %v", err)
	}
}

func TestV3VirtualReservesAtUnitPrice(t *testing.T) {
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)
	liquidity := big.NewInt(1_000_000)

	r0, r1, err := V3VirtualReserves(sqrtP, liquidity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r0.Cmp(liquidity) != 0 || r1.Cmp(liquidity) != 0 {
		t.Errorf("at unit price both reserves should equal liquidity: r0=%s r1=%s", r0, r1)
	}
}

func TestV3VirtualReservesSkew(t *testing.T) {
	// Price 4 means token1 is abundant relative to token0 in the
	// virtual-reserve view: r1 = 2L, r0 = L/2.
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 97)
	liquidity := big.NewInt(1_000_000)

	r0, r1, err := V3VirtualReserves(sqrtP, liquidity)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r0.Cmp(big.NewInt(500_000)) != 0 {
		t.Errorf("r0 = %s, want 500000", r0)
	}
	if r1.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Errorf("r1 = %s, want 2000000", r1)
	}
}

func TestV3VirtualReservesInvalid(t *testing.T) {
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)

	if _, _, err := V3VirtualReserves(nil, big.NewInt(1)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil sqrtP: err = %v", err)
	}
	if _, _, err := V3VirtualReserves(sqrtP, big.NewInt(0)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero liquidity: err = %v", err)
	}
}
