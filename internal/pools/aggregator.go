package pools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/avelardi/amm-quoter/internal/platform/batch"
	"github.com/avelardi/amm-quoter/internal/platform/cache"
	"github.com/avelardi/amm-quoter/internal/platform/observability"
)

var (
	// ErrUnknownNetwork is returned for a network with no configuration.
	ErrUnknownNetwork = errors.New("pools: unknown network")

	// ErrInvalidToken is returned for a malformed token address.
	ErrInvalidToken = errors.New("pools: invalid token address")
)

// Network describes where and what to query for one chain.
type Network struct {
	Endpoint  string
	V2Factory common.Address
	V3Factory common.Address
	V2FeeBps  int64
	FeeTiers  []int64
}

// Aggregator locates pools for a token pair across pool kinds and fee
// tiers, batching all factory and state reads through the dispatcher so
// they coalesce into as few round trips as possible.
type Aggregator struct {
	networks   map[string]Network
	dispatcher *batch.Dispatcher
	cache      *cache.TTLCache
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewAggregator creates an aggregator over the given networks.
func NewAggregator(
	networks map[string]Network,
	dispatcher *batch.Dispatcher,
	ttl *cache.TTLCache,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Aggregator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Aggregator{
		networks:   networks,
		dispatcher: dispatcher,
		cache:      ttl,
		logger:     logger,
		metrics:    metrics,
	}
}

// candidate is one (kind, fee) slot probed for the pair. Slot order is
// the deterministic result order: constant-product first, then
// concentrated-liquidity tiers ascending.
type candidate struct {
	kind   Kind
	feeBps int64
}

// FindPools discovers every valid pool for the pair on a network.
//
// An empty result means no pool exists; it is a normal outcome, not an
// error. Pools with unusable state (zero reserves, zero liquidity) are
// excluded with a log line rather than failing the call.
func (a *Aggregator) FindPools(ctx context.Context, network, tokenA, tokenB string) ([]Descriptor, error) {
	start := time.Now()

	net, ok := a.networks[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	if !common.IsHexAddress(tokenA) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, tokenA)
	}
	if !common.IsHexAddress(tokenB) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, tokenB)
	}

	token0, token1 := SortTokens(common.HexToAddress(tokenA), common.HexToAddress(tokenB))

	tiers := append([]int64(nil), net.FeeTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	candidates := make([]candidate, 0, 1+len(tiers))
	candidates = append(candidates, candidate{kind: KindV2, feeBps: net.V2FeeBps})
	for _, fee := range tiers {
		candidates = append(candidates, candidate{kind: KindV3, feeBps: fee})
	}

	// All candidates resolve concurrently so their RPC reads land in the
	// same dispatcher batch. Each slot is written by exactly one goroutine.
	results := make([]*Descriptor, len(candidates))
	excluded := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			d, skip, err := a.resolveCandidate(gctx, network, net, token0, token1, c)
			if err != nil {
				return err
			}
			if skip {
				excluded[i] = true
				return nil
			}
			results[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make([]Descriptor, 0, len(results))
	excludedCount := 0
	for i, d := range results {
		if d != nil {
			found = append(found, *d)
		} else if excluded[i] {
			excludedCount++
		}
	}

	if a.metrics != nil {
		a.metrics.RecordPoolDiscovery(ctx, network, len(found), excludedCount, time.Since(start))
	}
	a.logger.LogDebug(ctx, "pool discovery finished",
		"network", network,
		"token0", token0.Hex(),
		"token1", token1.Hex(),
		"found", len(found),
		"excluded", excludedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return found, nil
}

// resolveCandidate looks up one (kind, fee) slot and fetches its state.
// skip=true means the slot has no usable pool (absent or invalid state).
func (a *Aggregator) resolveCandidate(
	ctx context.Context,
	network string,
	net Network,
	token0, token1 common.Address,
	c candidate,
) (*Descriptor, bool, error) {
	addr, found, err := a.lookupAddress(ctx, network, net, token0, token1, c)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, true, nil
	}

	d, err := a.fetchState(ctx, network, net, addr, token0, token1, c)
	if err != nil {
		var rpcErr *batch.RPCError
		if errors.As(err, &rpcErr) {
			// A reverting state read means the address does not behave
			// like a pool; exclude it rather than failing the pair.
			a.logger.LogWarn(ctx, "pool excluded: state read reverted",
				"network", network,
				"pool", addr.Hex(),
				"kind", string(c.kind),
				"fee_bps", c.feeBps,
				"error", rpcErr.Error(),
			)
			return nil, true, nil
		}
		return nil, false, err
	}

	if !d.validState() {
		a.logger.LogWarn(ctx, "pool excluded: invalid state",
			"network", network,
			"pool", addr.Hex(),
			"kind", string(c.kind),
			"fee_bps", c.feeBps,
		)
		return nil, true, nil
	}

	if a.metrics != nil {
		a.metrics.RecordFeeTierSelected(ctx, string(c.kind), c.feeBps)
	}
	return d, false, nil
}

// lookupAddress resolves the pool address for a candidate through the
// existence cache. Negative results (no pool) are cached too, so pairs
// with no pool are not re-probed on every quote.
func (a *Aggregator) lookupAddress(
	ctx context.Context,
	network string,
	net Network,
	token0, token1 common.Address,
	c candidate,
) (common.Address, bool, error) {
	keyParams := []string{network, string(c.kind), fmt.Sprintf("%d", c.feeBps), token0.Hex(), token1.Hex()}

	if v, ok := a.cache.Get(cache.CategoryExistence, keyParams...); ok {
		addr := v.(common.Address)
		return addr, addr != (common.Address{}), nil
	}

	var (
		factory  common.Address
		calldata hexutil.Bytes
	)
	if c.kind == KindV2 {
		factory = net.V2Factory
		calldata = GetPairCalldata(token0, token1)
	} else {
		factory = net.V3Factory
		calldata = GetPoolCalldata(token0, token1, c.feeBps)
	}

	ret, err := a.ethCall(ctx, net.Endpoint, factory, calldata)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("pools: factory lookup %s/%d: %w", c.kind, c.feeBps, err)
	}
	addr, err := DecodeAddress(ret)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("pools: factory lookup %s/%d: %w", c.kind, c.feeBps, err)
	}

	a.cache.Set(cache.CategoryExistence, keyParams, addr)
	return addr, addr != (common.Address{}), nil
}

// fetchState reads a pool's pricing state, caching it under the pools
// category. V3 issues its two reads concurrently so they batch together.
func (a *Aggregator) fetchState(
	ctx context.Context,
	network string,
	net Network,
	addr common.Address,
	token0, token1 common.Address,
	c candidate,
) (*Descriptor, error) {
	keyParams := []string{network, addr.Hex()}
	if v, ok := a.cache.Get(cache.CategoryPools, keyParams...); ok {
		d := v.(Descriptor).Clone()
		return &d, nil
	}

	d := Descriptor{
		Address:   addr,
		Token0:    token0,
		Token1:    token1,
		Kind:      c.kind,
		FeeBps:    c.feeBps,
		FetchedAt: time.Now(),
	}

	switch c.kind {
	case KindV2:
		ret, err := a.ethCall(ctx, net.Endpoint, addr, GetReservesCalldata())
		if err != nil {
			return nil, err
		}
		d.Reserve0, d.Reserve1, err = DecodeReserves(ret)
		if err != nil {
			return nil, err
		}

	case KindV3:
		slotFut := a.dispatcher.Enqueue(net.Endpoint, "eth_call", ethCallParams(addr, Slot0Calldata()))
		liqFut := a.dispatcher.Enqueue(net.Endpoint, "eth_call", ethCallParams(addr, LiquidityCalldata()))

		slotRaw, err := slotFut.Wait(ctx)
		if err != nil {
			return nil, err
		}
		liqRaw, err := liqFut.Wait(ctx)
		if err != nil {
			return nil, err
		}

		slotRet, err := decodeCallResult(slotRaw)
		if err != nil {
			return nil, err
		}
		d.SqrtPriceX96, d.Tick, err = DecodeSlot0(slotRet)
		if err != nil {
			return nil, err
		}

		liqRet, err := decodeCallResult(liqRaw)
		if err != nil {
			return nil, err
		}
		d.Liquidity, err = DecodeUint(liqRet)
		if err != nil {
			return nil, err
		}
	}

	a.cache.Set(cache.CategoryPools, keyParams, d.Clone())
	return &d, nil
}

// ethCall performs one eth_call through the dispatcher and decodes the
// hex return payload.
func (a *Aggregator) ethCall(ctx context.Context, endpoint string, to common.Address, data hexutil.Bytes) ([]byte, error) {
	raw, err := a.dispatcher.Call(ctx, endpoint, "eth_call", ethCallParams(to, data))
	if err != nil {
		return nil, err
	}
	return decodeCallResult(raw)
}

func ethCallParams(to common.Address, data hexutil.Bytes) []interface{} {
	return []interface{}{
		map[string]string{"to": to.Hex(), "data": data.String()},
		"latest",
	}
}

func decodeCallResult(raw json.RawMessage) ([]byte, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, fmt.Errorf("pools: malformed call result: %w", err)
	}
	ret, err := hexutil.Decode(hexStr)
	if err != nil {
		return nil, fmt.Errorf("pools: malformed call result: %w", err)
	}
	return ret, nil
}
