package pools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/avelardi/amm-quoter/internal/platform/batch"
	"github.com/avelardi/amm-quoter/internal/platform/cache"
	"github.com/avelardi/amm-quoter/internal/platform/observability"
)

var (
	testTokenA    = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	testTokenB    = common.HexToAddress("0x0000000000000000000000000000000000000B02")
	testV2Factory = common.HexToAddress("0x00000000000000000000000000000000000000F2")
	testV3Factory = common.HexToAddress("0x00000000000000000000000000000000000000F3")
	testV2Pool    = common.HexToAddress("0x0000000000000000000000000000000000002222")
	testV3Pool    = common.HexToAddress("0x0000000000000000000000000000000000003333")
)

// fakeChain answers eth_call batches from a canned (to, calldata) table.
// Unregistered lookups return a zero word, which reads as "no pool".
type fakeChain struct {
	mu      sync.Mutex
	calls   int
	returns map[string]string
}

func newFakeChain() *fakeChain {
	return &fakeChain{returns: make(map[string]string)}
}

func (f *fakeChain) set(to common.Address, data hexutil.Bytes, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns[strings.ToLower(to.Hex())+"|"+strings.ToLower(data.String())] = result
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChain) transport(_ context.Context, _ string, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	var reqs []struct {
		ID     int               `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(payload, &reqs); err != nil {
		return nil, err
	}

	type resp struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Result  string `json:"result"`
	}
	responses := make([]resp, 0, len(reqs))
	for _, r := range reqs {
		if r.Method != "eth_call" || len(r.Params) == 0 {
			return nil, fmt.Errorf("unexpected request %q", r.Method)
		}
		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal(r.Params[0], &call); err != nil {
			return nil, err
		}

		f.mu.Lock()
		result, ok := f.returns[strings.ToLower(call.To)+"|"+strings.ToLower(call.Data)]
		f.mu.Unlock()
		if !ok {
			result = addressWord(common.Address{})
		}
		responses = append(responses, resp{JSONRPC: "2.0", ID: r.ID, Result: result})
	}
	return json.Marshal(responses)
}

func addressWord(a common.Address) string {
	return "0x" + strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(a.Hex(), "0x"))
}

func uintWords(values ...*big.Int) string {
	var b strings.Builder
	b.WriteString("0x")
	for _, v := range values {
		word := make([]byte, 32)
		v.FillBytes(word)
		b.WriteString(common.Bytes2Hex(word))
	}
	return b.String()
}

func newTestAggregator(t *testing.T, chain *fakeChain) *Aggregator {
	t.Helper()

	ttl := cache.NewTTLCache(cache.DefaultPolicies(), observability.NewNopLogger(), nil)
	t.Cleanup(ttl.Close)

	dispatcher := batch.NewDispatcher(chain.transport, batch.Config{
		MaxBatchSize: 50,
		BatchTimeout: 5 * time.Millisecond,
		CallTimeout:  time.Second,
	}, observability.NewNopLogger(), nil)

	networks := map[string]Network{
		"testnet": {
			Endpoint:  "https://rpc.test",
			V2Factory: testV2Factory,
			V3Factory: testV3Factory,
			V2FeeBps:  30,
			FeeTiers:  []int64{100, 30, 5}, // deliberately unsorted
		},
	}
	return NewAggregator(networks, dispatcher, ttl, observability.NewNopLogger(), nil)
}

func registerHealthyPools(chain *fakeChain) {
	token0, token1 := SortTokens(testTokenA, testTokenB)

	chain.set(testV2Factory, GetPairCalldata(token0, token1), addressWord(testV2Pool))
	chain.set(testV3Factory, GetPoolCalldata(token0, token1, 30), addressWord(testV3Pool))

	chain.set(testV2Pool, GetReservesCalldata(), uintWords(
		big.NewInt(1_000_000),
		big.NewInt(2_000_000),
		big.NewInt(1_700_000_000),
	))

	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)
	chain.set(testV3Pool, Slot0Calldata(), uintWords(sqrtP, big.NewInt(12345)))
	chain.set(testV3Pool, LiquidityCalldata(), uintWords(big.NewInt(777_000)))
}

func TestFindPoolsDiscoversAndOrders(t *testing.T) {
	chain := newFakeChain()
	registerHealthyPools(chain)
	agg := newTestAggregator(t, chain)

	found, err := agg.FindPools(context.Background(), "testnet", testTokenA.Hex(), testTokenB.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("found %d pools, want 2", len(found))
	}

	v2 := found[0]
	if v2.Kind != KindV2 || v2.Address != testV2Pool {
		t.Errorf("first pool should be the constant-product pool, got %s %s", v2.Kind, v2.Address.Hex())
	}
	if v2.Reserve0.Cmp(big.NewInt(1_000_000)) != 0 || v2.Reserve1.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Errorf("reserves = %s/%s, want 1000000/2000000", v2.Reserve0, v2.Reserve1)
	}
	if v2.Token0 != testTokenA || v2.Token1 != testTokenB {
		t.Errorf("tokens not canonically ordered: %s %s", v2.Token0.Hex(), v2.Token1.Hex())
	}

	v3 := found[1]
	if v3.Kind != KindV3 || v3.Address != testV3Pool || v3.FeeBps != 30 {
		t.Errorf("second pool = %s %s fee=%d, want V3 %s fee=30", v3.Kind, v3.Address.Hex(), v3.FeeBps, testV3Pool.Hex())
	}
	if v3.Tick != 12345 {
		t.Errorf("tick = %d, want 12345", v3.Tick)
	}
	if v3.Liquidity.Cmp(big.NewInt(777_000)) != 0 {
		t.Errorf("liquidity = %s, want 777000", v3.Liquidity)
	}
}

func TestFindPoolsEmptyIsNotAnError(t *testing.T) {
	chain := newFakeChain() // nothing registered: every lookup is zero
	agg := newTestAggregator(t, chain)

	found, err := agg.FindPools(context.Background(), "testnet", testTokenA.Hex(), testTokenB.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("found %d pools, want 0", len(found))
	}
}

func TestFindPoolsExcludesInvalidState(t *testing.T) {
	chain := newFakeChain()
	token0, token1 := SortTokens(testTokenA, testTokenB)

	chain.set(testV2Factory, GetPairCalldata(token0, token1), addressWord(testV2Pool))
	chain.set(testV2Pool, GetReservesCalldata(), uintWords(
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
	))

	agg := newTestAggregator(t, chain)
	found, err := agg.FindPools(context.Background(), "testnet", testTokenA.Hex(), testTokenB.Hex())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("zero-reserve pool should be excluded, got %d pools", len(found))
	}
}

func TestFindPoolsCachesLookups(t *testing.T) {
	chain := newFakeChain()
	registerHealthyPools(chain)
	agg := newTestAggregator(t, chain)

	if _, err := agg.FindPools(context.Background(), "testnet", testTokenA.Hex(), testTokenB.Hex()); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := chain.callCount()
	if callsAfterFirst == 0 {
		t.Fatal("first discovery should hit the network")
	}

	// Second call, reversed pair order: everything must come from cache.
	found, err := agg.FindPools(context.Background(), "testnet", testTokenB.Hex(), testTokenA.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("cached discovery found %d pools, want 2", len(found))
	}
	if chain.callCount() != callsAfterFirst {
		t.Errorf("cached discovery made %d extra transport calls", chain.callCount()-callsAfterFirst)
	}
}

func TestFindPoolsReturnsCopies(t *testing.T) {
	chain := newFakeChain()
	registerHealthyPools(chain)
	agg := newTestAggregator(t, chain)

	first, err := agg.FindPools(context.Background(), "testnet", testTokenA.Hex(), testTokenB.Hex())
	if err != nil {
		t.Fatal(err)
	}
	first[0].Reserve0.SetInt64(0) // caller mutation must not poison the cache

	second, err := agg.FindPools(context.Background(), "testnet", testTokenA.Hex(), testTokenB.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Reserve0.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("cached reserve was mutated through a returned descriptor: %s", second[0].Reserve0)
	}
}

func TestFindPoolsInputValidation(t *testing.T) {
	chain := newFakeChain()
	agg := newTestAggregator(t, chain)
	ctx := context.Background()

	if _, err := agg.FindPools(ctx, "nope", testTokenA.Hex(), testTokenB.Hex()); err == nil {
		t.Error("unknown network should error")
	}
	if _, err := agg.FindPools(ctx, "testnet", "not-an-address", testTokenB.Hex()); err == nil {
		t.Error("malformed token should error")
	}
	if chain.callCount() != 0 {
		t.Errorf("validation failures must not reach the network, got %d calls", chain.callCount())
	}
}
