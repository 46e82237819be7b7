package quote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/avelardi/amm-quoter/internal/platform/batch"
	"github.com/avelardi/amm-quoter/internal/platform/cache"
	"github.com/avelardi/amm-quoter/internal/platform/observability"
	"github.com/avelardi/amm-quoter/internal/pools"
)

// defaultDecimals is assumed when a token's metadata cannot be read.
// Quoting with a wrong display scale beats failing the whole quote.
const defaultDecimals = 18

// Metadata is a token's display information.
type Metadata struct {
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// MetadataSource resolves token display metadata. Lookups never fail;
// implementations degrade to defaults.
type MetadataSource interface {
	TokenMetadata(ctx context.Context, network, token string) Metadata
}

// MetadataFetcher reads ERC-20 metadata through the batch dispatcher and
// caches it under the rpc category.
type MetadataFetcher struct {
	endpoints  map[string]string
	dispatcher *batch.Dispatcher
	cache      *cache.TTLCache
	logger     *observability.Logger
}

// NewMetadataFetcher creates a fetcher over per-network RPC endpoints.
func NewMetadataFetcher(
	endpoints map[string]string,
	dispatcher *batch.Dispatcher,
	ttl *cache.TTLCache,
	logger *observability.Logger,
) *MetadataFetcher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MetadataFetcher{
		endpoints:  endpoints,
		dispatcher: dispatcher,
		cache:      ttl,
		logger:     logger,
	}
}

// TokenMetadata returns a token's decimals, symbol, and name. Any read
// failure degrades to an 18-decimal default rather than propagating.
func (f *MetadataFetcher) TokenMetadata(ctx context.Context, network, token string) Metadata {
	fallback := Metadata{Decimals: defaultDecimals}

	endpoint, ok := f.endpoints[network]
	if !ok || !common.IsHexAddress(token) {
		return fallback
	}

	keyParams := []string{network, "erc20", token}
	if v, ok := f.cache.Get(cache.CategoryRPC, keyParams...); ok {
		return v.(Metadata)
	}

	addr := common.HexToAddress(token)

	// All three reads land in the same batch window.
	decFut := f.dispatcher.Enqueue(endpoint, "eth_call", callParams(addr, pools.DecimalsCalldata()))
	symFut := f.dispatcher.Enqueue(endpoint, "eth_call", callParams(addr, pools.SymbolCalldata()))
	nameFut := f.dispatcher.Enqueue(endpoint, "eth_call", callParams(addr, pools.NameCalldata()))

	meta := fallback

	if ret, err := waitAndDecode(ctx, decFut); err == nil {
		if dec, err := pools.DecodeUint(ret); err == nil && dec.IsInt64() && dec.Int64() <= 255 {
			meta.Decimals = int(dec.Int64())
		}
	} else {
		f.logger.LogDebug(ctx, "token decimals read failed, assuming 18",
			"network", network, "token", token, "error", err.Error())
	}

	if ret, err := waitAndDecode(ctx, symFut); err == nil {
		if s, err := pools.DecodeString(ret); err == nil {
			meta.Symbol = s
		}
	}
	if ret, err := waitAndDecode(ctx, nameFut); err == nil {
		if s, err := pools.DecodeString(ret); err == nil {
			meta.Name = s
		}
	}

	f.cache.Set(cache.CategoryRPC, keyParams, meta)
	return meta
}

func callParams(to common.Address, data hexutil.Bytes) []interface{} {
	return []interface{}{
		map[string]string{"to": to.Hex(), "data": data.String()},
		"latest",
	}
}

func waitAndDecode(ctx context.Context, fut *batch.Future) ([]byte, error) {
	raw, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, fmt.Errorf("quote: malformed call result: %w", err)
	}
	return hexutil.Decode(hexStr)
}
