package pools

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func TestGetPoolCalldataLayout(t *testing.T) {
	data := GetPoolCalldata(testTokenA, testTokenB, 30)
	if len(data) != 4+3*32 {
		t.Fatalf("calldata length = %d, want %d", len(data), 4+3*32)
	}
	if got := hexutil.Encode(data[:4]); got != "0x1698ee82" {
		t.Errorf("selector = %s, want 0x1698ee82", got)
	}
	// The on-chain fee argument is hundredths of a bip.
	fee := new(big.Int).SetBytes(data[4+2*32:])
	if fee.Int64() != 3000 {
		t.Errorf("fee word = %s, want 3000", fee)
	}
}

func TestDecodeSlot0NegativeTick(t *testing.T) {
	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)

	word := make([]byte, 32)
	// -887220 sign-extended to 256 bits.
	tickValue := new(big.Int).Add(
		new(big.Int).Lsh(big.NewInt(1), 256),
		big.NewInt(-887220),
	)
	tickValue.FillBytes(word)

	data := make([]byte, 0, 64)
	sqrtWord := make([]byte, 32)
	sqrtP.FillBytes(sqrtWord)
	data = append(data, sqrtWord...)
	data = append(data, word...)

	gotSqrt, gotTick, err := DecodeSlot0(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSqrt.Cmp(sqrtP) != 0 {
		t.Errorf("sqrtPriceX96 = %s, want %s", gotSqrt, sqrtP)
	}
	if gotTick != -887220 {
		t.Errorf("tick = %d, want -887220", gotTick)
	}
}

func TestDecodeString(t *testing.T) {
	// Dynamic layout: offset 0x20, length 4, "WETH" right-padded.
	dynamic := make([]byte, 0, 96)
	offset := make([]byte, 32)
	big.NewInt(32).FillBytes(offset)
	length := make([]byte, 32)
	big.NewInt(4).FillBytes(length)
	payload := make([]byte, 32)
	copy(payload, "WETH")
	dynamic = append(dynamic, offset...)
	dynamic = append(dynamic, length...)
	dynamic = append(dynamic, payload...)

	got, err := DecodeString(dynamic)
	if err != nil {
		t.Fatalf("dynamic decode: %v", err)
	}
	if got != "WETH" {
		t.Errorf("dynamic decode = %q, want WETH", got)
	}

	// Legacy bytes32 layout.
	fixed := make([]byte, 32)
	copy(fixed, "MKR")
	got, err = DecodeString(fixed)
	if err != nil {
		t.Fatalf("bytes32 decode: %v", err)
	}
	if got != "MKR" {
		t.Errorf("bytes32 decode = %q, want MKR", got)
	}
}

func TestDecodeAddressShortData(t *testing.T) {
	if _, err := DecodeAddress([]byte{0x01, 0x02}); err == nil {
		t.Error("short data should error")
	}
}

func TestSortTokensCanonical(t *testing.T) {
	a := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	b := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	t0, t1 := SortTokens(a, b)
	if t0 != a || t1 != b {
		t.Errorf("SortTokens(a,b) = %s,%s", t0.Hex(), t1.Hex())
	}
	t0, t1 = SortTokens(b, a)
	if t0 != a || t1 != b {
		t.Errorf("SortTokens(b,a) = %s,%s", t0.Hex(), t1.Hex())
	}
	if strings.ToLower(t0.Hex()) >= strings.ToLower(t1.Hex()) {
		t.Errorf("canonical order violated: %s >= %s", t0.Hex(), t1.Hex())
	}
}
