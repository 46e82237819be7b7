package main

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/avelardi/amm-quoter/internal/platform/observability"
	"github.com/avelardi/amm-quoter/internal/quote"
)

// server is the thin HTTP surface over the quoting engine.
type server struct {
	router  *quote.Router
	metrics *observability.Metrics
	logger  *observability.Logger
}

func newServer(router *quote.Router, metrics *observability.Metrics, logger *observability.Logger) *server {
	return &server{router: router, metrics: metrics, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /quote", s.handleQuote)
	mux.HandleFunc("GET /pools", s.handlePools)
	mux.HandleFunc("GET /cache/stats", s.handleCacheStats)
	mux.HandleFunc("DELETE /cache", s.handleClearCache)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amountIn, ok := new(big.Int).SetString(q.Get("amountIn"), 10)
	if !ok {
		writeError(w, quote.NewError(quote.CodeInvalidParameters, "amountIn must be a decimal integer"))
		return
	}

	slippagePct := 0.5
	if raw := q.Get("slippagePct"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, quote.NewError(quote.CodeInvalidParameters, "slippagePct must be a number"))
			return
		}
		slippagePct = parsed
	}

	result, err := s.router.Quote(r.Context(), q.Get("network"), q.Get("tokenIn"), q.Get("tokenOut"), amountIn, slippagePct)
	if err != nil {
		writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handlePools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	found, err := s.router.FindPools(r.Context(), q.Get("network"), q.Get("tokenA"), q.Get("tokenB"))
	if err != nil {
		writeQuoteError(w, err)
		return
	}

	type poolView struct {
		Address      string `json:"address"`
		Token0       string `json:"token0"`
		Token1       string `json:"token1"`
		Kind         string `json:"kind"`
		FeeBps       int64  `json:"feeBps"`
		Reserve0     string `json:"reserve0,omitempty"`
		Reserve1     string `json:"reserve1,omitempty"`
		SqrtPriceX96 string `json:"sqrtPriceX96,omitempty"`
		Tick         int32  `json:"tick,omitempty"`
		Liquidity    string `json:"liquidity,omitempty"`
	}
	views := make([]poolView, 0, len(found))
	for _, p := range found {
		v := poolView{
			Address: p.Address.Hex(),
			Token0:  p.Token0.Hex(),
			Token1:  p.Token1.Hex(),
			Kind:    string(p.Kind),
			FeeBps:  p.FeeBps,
			Tick:    p.Tick,
		}
		if p.Reserve0 != nil {
			v.Reserve0 = p.Reserve0.String()
		}
		if p.Reserve1 != nil {
			v.Reserve1 = p.Reserve1.String()
		}
		if p.SqrtPriceX96 != nil {
			v.SqrtPriceX96 = p.SqrtPriceX96.String()
		}
		if p.Liquidity != nil {
			v.Liquidity = p.Liquidity.String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": views})
}

func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.router.CacheStats())
}

func (s *server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	s.router.ClearCache(category)
	s.logger.Info("cache cleared via admin endpoint", "category", category)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeQuoteError(w http.ResponseWriter, err error) {
	if qe, ok := quote.AsError(err); ok {
		writeError(w, qe)
		return
	}
	writeError(w, quote.NewError(quote.CodeNetworkError, "internal failure"))
}

func writeError(w http.ResponseWriter, qe *quote.Error) {
	writeJSON(w, statusFor(qe.Code), map[string]interface{}{
		"error":   true,
		"code":    qe.Code,
		"message": qe.Message,
		"details": qe.Details,
	})
}

func statusFor(code quote.Code) int {
	switch code {
	case quote.CodeInvalidParameters:
		return http.StatusBadRequest
	case quote.CodePoolNotFound:
		return http.StatusNotFound
	case quote.CodeInsufficientLiquidity, quote.CodeHighPriceImpact, quote.CodeInvalidPoolData:
		return http.StatusUnprocessableEntity
	case quote.CodeTimeoutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
