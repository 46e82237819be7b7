package quote

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avelardi/amm-quoter/internal/amm"
	"github.com/avelardi/amm-quoter/internal/platform/cache"
	"github.com/avelardi/amm-quoter/internal/platform/observability"
	"github.com/avelardi/amm-quoter/internal/pools"
)

// ratePrecision is the decimal precision of the reported effective rate.
const ratePrecision = 18

// Quote is a priced route for one swap request. It is built fresh per
// request and never mutated after construction.
type Quote struct {
	Network        string          `json:"network"`
	TokenIn        string          `json:"tokenIn"`
	TokenOut       string          `json:"tokenOut"`
	TokenInSymbol  string          `json:"tokenInSymbol,omitempty"`
	TokenOutSymbol string          `json:"tokenOutSymbol,omitempty"`
	AmountIn       *big.Int        `json:"amountIn"`
	AmountOut      *big.Int        `json:"amountOut"`
	AmountOutMin   *big.Int        `json:"amountOutMin"`
	EffectiveRate  decimal.Decimal `json:"effectiveRate"`
	PriceImpactPct float64         `json:"priceImpactPct"`
	ImpactLevel    amm.ImpactLevel `json:"impactLevel"`
	PoolAddress    string          `json:"poolAddress"`
	Kind           pools.Kind      `json:"kind"`
	FeeBps         int64           `json:"feeBps"`
	SlippagePct    float64         `json:"slippagePct"`
	Warnings       []string        `json:"warnings,omitempty"`
	Alternatives   []Alternative   `json:"alternativeQuotes,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Alternative is a non-winning pool's result, attached to the quote so
// callers can see what was considered.
type Alternative struct {
	PoolAddress    string     `json:"poolAddress"`
	Kind           pools.Kind `json:"kind"`
	FeeBps         int64      `json:"feeBps"`
	AmountOut      *big.Int   `json:"amountOut"`
	PriceImpactPct float64    `json:"priceImpactPct"`
}

func (q *Quote) clone() *Quote {
	c := *q
	c.AmountIn = cloneBig(q.AmountIn)
	c.AmountOut = cloneBig(q.AmountOut)
	c.AmountOutMin = cloneBig(q.AmountOutMin)
	c.Warnings = append([]string(nil), q.Warnings...)
	c.Alternatives = make([]Alternative, len(q.Alternatives))
	for i, a := range q.Alternatives {
		c.Alternatives[i] = a
		c.Alternatives[i].AmountOut = cloneBig(a.AmountOut)
	}
	return &c
}

// PoolFinder locates pools for a pair. Satisfied by *pools.Aggregator.
type PoolFinder interface {
	FindPools(ctx context.Context, network, tokenA, tokenB string) ([]pools.Descriptor, error)
}

// Config tunes router policy.
type Config struct {
	// MaxSlippagePct is the largest slippage a caller may request.
	MaxSlippagePct float64
	// RemoteTTL is the lifetime of quotes in the remote cache.
	RemoteTTL time.Duration
}

// DefaultConfig returns the standard router policy.
func DefaultConfig() Config {
	return Config{
		MaxSlippagePct: 50,
		RemoteTTL:      30 * time.Second,
	}
}

// Router prices swap requests against every available pool and selects
// the best route. All services are injected; the router holds no global
// state.
type Router struct {
	finder  PoolFinder
	meta    MetadataSource
	cache   *cache.TTLCache
	remote  *cache.RemoteCache
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewRouter creates a router. remote may be nil to disable the shared
// quote cache; a nil tracer falls back to the global provider.
func NewRouter(
	finder PoolFinder,
	meta MetadataSource,
	ttl *cache.TTLCache,
	remote *cache.RemoteCache,
	cfg Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer trace.Tracer,
) *Router {
	if cfg.MaxSlippagePct <= 0 {
		cfg.MaxSlippagePct = DefaultConfig().MaxSlippagePct
	}
	if cfg.RemoteTTL <= 0 {
		cfg.RemoteTTL = DefaultConfig().RemoteTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if tracer == nil {
		tracer = otel.Tracer("quoter")
	}
	return &Router{
		finder:  finder,
		meta:    meta,
		cache:   ttl,
		remote:  remote,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// candidate is one pool's pricing outcome during winner selection.
type candidate struct {
	pool      pools.Descriptor
	amountOut *big.Int
	impactPct float64
}

// Quote prices a swap and returns the best route, or a structured
// *Error. It never returns a raw transport or programming error.
func (r *Router) Quote(ctx context.Context, network, tokenIn, tokenOut string, amountIn *big.Int, slippagePct float64) (*Quote, error) {
	ctx, span := r.tracer.Start(ctx, "quote.request", trace.WithAttributes(
		attribute.String("network", network),
		attribute.String("token_in", tokenIn),
		attribute.String("token_out", tokenOut),
	))
	q, err := r.quote(ctx, network, tokenIn, tokenOut, amountIn, slippagePct)
	observability.EndSpanWithError(span, err)
	return q, err
}

func (r *Router) quote(ctx context.Context, network, tokenIn, tokenOut string, amountIn *big.Int, slippagePct float64) (*Quote, error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordQuote(ctx, network, outcome, time.Since(start))
		}
	}()

	if qe := r.validate(network, tokenIn, tokenOut, amountIn, slippagePct); qe != nil {
		outcome = string(qe.Code)
		return nil, qe
	}

	keyParams := routeKeyParams(network, tokenIn, tokenOut, amountIn, slippagePct)
	if v, ok := r.cache.Get(cache.CategoryRoutes, keyParams...); ok {
		return v.(*Quote).clone(), nil
	}
	if q := r.remoteProbe(ctx, keyParams); q != nil {
		r.cache.Set(cache.CategoryRoutes, keyParams, q)
		return q.clone(), nil
	}

	q, qe := r.buildQuote(ctx, network, tokenIn, tokenOut, amountIn, slippagePct)
	if qe != nil {
		outcome = string(qe.Code)
		r.logger.LogWarn(ctx, "quote failed",
			"network", network,
			"token_in", tokenIn,
			"token_out", tokenOut,
			"code", string(qe.Code),
			"message", qe.Message,
		)
		return nil, qe
	}

	r.cache.Set(cache.CategoryRoutes, keyParams, q)
	r.remoteStore(ctx, keyParams, q)

	r.logger.LogInfo(ctx, "quote served",
		"network", network,
		"token_in", tokenIn,
		"token_out", tokenOut,
		"amount_in", amountIn.String(),
		"amount_out", q.AmountOut.String(),
		"pool", q.PoolAddress,
		"kind", string(q.Kind),
		"fee_bps", q.FeeBps,
		"impact_pct", q.PriceImpactPct,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return q.clone(), nil
}

// buildQuote runs discovery, per-pool pricing, winner selection, and
// impact policy.
func (r *Router) buildQuote(ctx context.Context, network, tokenIn, tokenOut string, amountIn *big.Int, slippagePct float64) (*Quote, *Error) {
	found, err := r.finder.FindPools(ctx, network, tokenIn, tokenOut)
	if err != nil {
		return nil, classify(err)
	}
	if len(found) == 0 {
		return nil, NewError(CodePoolNotFound, fmt.Sprintf("no pool found for %s/%s on %s", tokenIn, tokenOut, network))
	}

	in := common.HexToAddress(tokenIn)

	var (
		candidates []candidate
		poolErrors = make(map[string]string)
	)
	for _, p := range found {
		out, impact, err := pricePool(p, in, amountIn)
		if err != nil {
			poolErrors[p.Address.Hex()] = err.Error()
			r.logger.LogDebug(ctx, "pool skipped during pricing",
				"pool", p.Address.Hex(),
				"kind", string(p.Kind),
				"fee_bps", p.FeeBps,
				"error", err.Error(),
			)
			continue
		}
		candidates = append(candidates, candidate{pool: p, amountOut: out, impactPct: impact})
	}

	if len(candidates) == 0 {
		return nil, NewError(CodeInsufficientLiquidity, "no pool could fill the requested amount").
			WithDetail("poolErrors", poolErrors)
	}

	// Strictly greatest amountOut wins; exact ties keep the first
	// encountered, which is deterministic because discovery order is.
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.amountOut.Cmp(winner.amountOut) > 0 {
			winner = c
		}
	}

	analysis := amm.AnalyzeImpact(winner.impactPct)
	if analysis.ShouldBlock {
		return nil, NewError(CodeHighPriceImpact,
			fmt.Sprintf("price impact %.2f%% exceeds the blocking threshold", winner.impactPct)).
			WithDetail("priceImpactPct", winner.impactPct).
			WithDetail("poolAddress", winner.pool.Address.Hex())
	}

	metaIn := r.meta.TokenMetadata(ctx, network, tokenIn)
	metaOut := r.meta.TokenMetadata(ctx, network, tokenOut)

	q := &Quote{
		Network:        network,
		TokenIn:        common.HexToAddress(tokenIn).Hex(),
		TokenOut:       common.HexToAddress(tokenOut).Hex(),
		TokenInSymbol:  metaIn.Symbol,
		TokenOutSymbol: metaOut.Symbol,
		AmountIn:       cloneBig(amountIn),
		AmountOut:      winner.amountOut,
		AmountOutMin:   amm.ApplySlippage(winner.amountOut, slippagePct, true),
		EffectiveRate:  effectiveRate(amountIn, winner.amountOut, metaIn.Decimals, metaOut.Decimals),
		PriceImpactPct: winner.impactPct,
		ImpactLevel:    analysis.Level,
		PoolAddress:    winner.pool.Address.Hex(),
		Kind:           winner.pool.Kind,
		FeeBps:         winner.pool.FeeBps,
		SlippagePct:    slippagePct,
		CreatedAt:      time.Now(),
	}
	if analysis.ShouldWarn {
		q.Warnings = append(q.Warnings, analysis.Warning)
	}
	for _, c := range candidates {
		if c.pool.Address == winner.pool.Address {
			continue
		}
		q.Alternatives = append(q.Alternatives, Alternative{
			PoolAddress:    c.pool.Address.Hex(),
			Kind:           c.pool.Kind,
			FeeBps:         c.pool.FeeBps,
			AmountOut:      c.amountOut,
			PriceImpactPct: c.impactPct,
		})
	}
	return q, nil
}

// pricePool computes the swap output and price impact for one pool.
// Concentrated-liquidity pools are priced through their virtual reserves
// at the current price, a documented single-price approximation.
func pricePool(p pools.Descriptor, tokenIn common.Address, amountIn *big.Int) (*big.Int, float64, error) {
	var reserve0, reserve1 *big.Int
	switch p.Kind {
	case pools.KindV2:
		reserve0, reserve1 = p.Reserve0, p.Reserve1
	case pools.KindV3:
		var err error
		reserve0, reserve1, err = amm.V3VirtualReserves(p.SqrtPriceX96, p.Liquidity)
		if err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("quote: unsupported pool kind %q", p.Kind)
	}

	reserveIn, reserveOut := reserve0, reserve1
	if tokenIn != p.Token0 {
		reserveIn, reserveOut = reserve1, reserve0
	}

	amountOut, err := amm.V2SwapOutput(reserveIn, reserveOut, amountIn, p.FeeBps)
	if err != nil {
		return nil, 0, err
	}
	if amountOut.Sign() == 0 {
		return nil, 0, amm.ErrInsufficientLiquidity
	}

	impact, err := amm.PriceImpact(reserveIn, reserveOut, amountIn, amountOut)
	if err != nil {
		return nil, 0, err
	}
	return amountOut, impact, nil
}

func (r *Router) validate(network, tokenIn, tokenOut string, amountIn *big.Int, slippagePct float64) *Error {
	switch {
	case network == "":
		return NewError(CodeInvalidParameters, "network is required")
	case !common.IsHexAddress(tokenIn):
		return NewError(CodeInvalidParameters, "tokenIn is not a valid address").WithDetail("tokenIn", tokenIn)
	case !common.IsHexAddress(tokenOut):
		return NewError(CodeInvalidParameters, "tokenOut is not a valid address").WithDetail("tokenOut", tokenOut)
	case strings.EqualFold(tokenIn, tokenOut):
		return NewError(CodeInvalidParameters, "tokenIn and tokenOut must differ")
	case amountIn == nil || amountIn.Sign() <= 0:
		return NewError(CodeInvalidParameters, "amountIn must be positive")
	case slippagePct < 0 || slippagePct > r.cfg.MaxSlippagePct:
		return NewError(CodeInvalidParameters,
			fmt.Sprintf("slippage must be between 0 and %.0f%%", r.cfg.MaxSlippagePct)).
			WithDetail("slippagePct", slippagePct)
	}
	return nil
}

// FindPools exposes raw discovery for callers that want the pool list
// without routing policy.
func (r *Router) FindPools(ctx context.Context, network, tokenA, tokenB string) ([]pools.Descriptor, error) {
	found, err := r.finder.FindPools(ctx, network, tokenA, tokenB)
	if err != nil {
		return nil, classify(err)
	}
	return found, nil
}

// ClearCache drops cached routes (or everything when category is empty).
func (r *Router) ClearCache(category string) {
	if category == "" {
		r.cache.ClearAll()
		return
	}
	r.cache.ClearCategory(cache.Category(category))
}

// CacheStats reports cache occupancy for the admin surface.
func (r *Router) CacheStats() cache.Stats {
	return r.cache.Stats()
}

func (r *Router) remoteProbe(ctx context.Context, keyParams []string) *Quote {
	if r.remote == nil {
		return nil
	}
	var q Quote
	if err := r.remote.GetJSON(ctx, cache.Key(cache.CategoryRoutes, keyParams...), &q); err != nil {
		return nil
	}
	return &q
}

func (r *Router) remoteStore(ctx context.Context, keyParams []string, q *Quote) {
	if r.remote == nil {
		return
	}
	key := cache.Key(cache.CategoryRoutes, keyParams...)
	if err := r.remote.SetJSON(ctx, key, q, r.cfg.RemoteTTL); err != nil {
		r.logger.LogDebug(ctx, "remote quote store failed", "key", key, "error", err.Error())
	}
}

func routeKeyParams(network, tokenIn, tokenOut string, amountIn *big.Int, slippagePct float64) []string {
	return []string{
		network,
		tokenIn,
		tokenOut,
		amountIn.String(),
		strconv.FormatFloat(slippagePct, 'f', -1, 64),
	}
}

func effectiveRate(amountIn, amountOut *big.Int, decimalsIn, decimalsOut int) decimal.Decimal {
	humanIn := decimal.NewFromBigInt(amountIn, int32(-decimalsIn))
	humanOut := decimal.NewFromBigInt(amountOut, int32(-decimalsOut))
	if humanIn.IsZero() {
		return decimal.Zero
	}
	return humanOut.DivRound(humanIn, ratePrecision)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
