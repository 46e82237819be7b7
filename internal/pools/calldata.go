package pools

import (
	"errors"
	"math/big"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Hand-rolled calldata for the handful of fixed view functions the
// aggregator needs. The selectors and word layouts are stable contract
// surface, so no ABI codec is involved.
var (
	selGetPair     = hexutil.MustDecode("0xe6a43905") // getPair(address,address)
	selGetPool     = hexutil.MustDecode("0x1698ee82") // getPool(address,address,uint24)
	selGetReserves = hexutil.MustDecode("0x0902f1ac") // getReserves()
	selSlot0       = hexutil.MustDecode("0x3850c7bd") // slot0()
	selLiquidity   = hexutil.MustDecode("0x1a686502") // liquidity()
	selDecimals    = hexutil.MustDecode("0x313ce567") // decimals()
	selSymbol      = hexutil.MustDecode("0x95d89b41") // symbol()
	selName        = hexutil.MustDecode("0x06fdde03") // name()
)

const wordSize = 32

// ErrShortReturnData is returned when a call result is too small for the
// expected word layout.
var ErrShortReturnData = errors.New("pools: return data too short")

func padAddress(a common.Address) []byte {
	word := make([]byte, wordSize)
	copy(word[wordSize-common.AddressLength:], a.Bytes())
	return word
}

func padUint(v int64) []byte {
	word := make([]byte, wordSize)
	big.NewInt(v).FillBytes(word)
	return word
}

// GetPairCalldata encodes the constant-product factory pair lookup.
func GetPairCalldata(token0, token1 common.Address) hexutil.Bytes {
	data := make([]byte, 0, 4+2*wordSize)
	data = append(data, selGetPair...)
	data = append(data, padAddress(token0)...)
	data = append(data, padAddress(token1)...)
	return data
}

// GetPoolCalldata encodes the concentrated-liquidity factory pool lookup
// for one fee tier (the on-chain argument is in hundredths of a bip, so
// basis points are scaled by 100).
func GetPoolCalldata(token0, token1 common.Address, feeBps int64) hexutil.Bytes {
	data := make([]byte, 0, 4+3*wordSize)
	data = append(data, selGetPool...)
	data = append(data, padAddress(token0)...)
	data = append(data, padAddress(token1)...)
	data = append(data, padUint(feeBps*100)...)
	return data
}

// GetReservesCalldata encodes the constant-product reserve read.
func GetReservesCalldata() hexutil.Bytes { return selGetReserves }

// Slot0Calldata encodes the concentrated-liquidity price/tick read.
func Slot0Calldata() hexutil.Bytes { return selSlot0 }

// LiquidityCalldata encodes the in-range liquidity read.
func LiquidityCalldata() hexutil.Bytes { return selLiquidity }

// DecimalsCalldata encodes the ERC-20 decimals read.
func DecimalsCalldata() hexutil.Bytes { return selDecimals }

// SymbolCalldata encodes the ERC-20 symbol read.
func SymbolCalldata() hexutil.Bytes { return selSymbol }

// NameCalldata encodes the ERC-20 name read.
func NameCalldata() hexutil.Bytes { return selName }

// DecodeAddress extracts an address from a single-word return value.
func DecodeAddress(data []byte) (common.Address, error) {
	if len(data) < wordSize {
		return common.Address{}, ErrShortReturnData
	}
	return common.BytesToAddress(data[wordSize-common.AddressLength : wordSize]), nil
}

// DecodeReserves extracts (reserve0, reserve1) from a getReserves return
// value. The trailing block-timestamp word is ignored.
func DecodeReserves(data []byte) (reserve0, reserve1 *big.Int, err error) {
	if len(data) < 2*wordSize {
		return nil, nil, ErrShortReturnData
	}
	reserve0 = new(big.Int).SetBytes(data[:wordSize])
	reserve1 = new(big.Int).SetBytes(data[wordSize : 2*wordSize])
	return reserve0, reserve1, nil
}

// DecodeSlot0 extracts (sqrtPriceX96, tick) from a slot0 return value.
// The remaining observation/protocol words are ignored.
func DecodeSlot0(data []byte) (sqrtPriceX96 *big.Int, tick int32, err error) {
	if len(data) < 2*wordSize {
		return nil, 0, ErrShortReturnData
	}
	sqrtPriceX96 = new(big.Int).SetBytes(data[:wordSize])
	tick = int32(decodeSignedWord(data[wordSize : 2*wordSize]).Int64())
	return sqrtPriceX96, tick, nil
}

// DecodeUint extracts a single unsigned word.
func DecodeUint(data []byte) (*big.Int, error) {
	if len(data) < wordSize {
		return nil, ErrShortReturnData
	}
	return new(big.Int).SetBytes(data[:wordSize]), nil
}

// DecodeString extracts a dynamically-encoded string return value. Some
// legacy tokens return a fixed bytes32 instead; both layouts are handled.
func DecodeString(data []byte) (string, error) {
	if len(data) < wordSize {
		return "", ErrShortReturnData
	}

	// bytes32 layout: a single word of right-padded printable text.
	if len(data) == wordSize {
		return strings.TrimRight(string(trimUnprintable(data)), "\x00"), nil
	}

	offset := new(big.Int).SetBytes(data[:wordSize])
	if !offset.IsInt64() || offset.Int64()+wordSize > int64(len(data)) {
		return "", ErrShortReturnData
	}
	o := offset.Int64()

	length := new(big.Int).SetBytes(data[o : o+wordSize])
	if !length.IsInt64() || o+wordSize+length.Int64() > int64(len(data)) {
		return "", ErrShortReturnData
	}
	return string(data[o+wordSize : o+wordSize+length.Int64()]), nil
}

// decodeSignedWord interprets a 32-byte word as a two's-complement
// signed integer.
func decodeSignedWord(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if word[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, max)
	}
	return v
}

func trimUnprintable(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b != 0 && unicode.IsPrint(rune(b)) {
			out = append(out, b)
		}
	}
	return out
}
