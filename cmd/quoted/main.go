package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avelardi/amm-quoter/internal/platform/batch"
	"github.com/avelardi/amm-quoter/internal/platform/cache"
	"github.com/avelardi/amm-quoter/internal/platform/config"
	"github.com/avelardi/amm-quoter/internal/platform/observability"
	"github.com/avelardi/amm-quoter/internal/platform/resilience"
	"github.com/avelardi/amm-quoter/internal/platform/worker"
	"github.com/avelardi/amm-quoter/internal/pools"
	"github.com/avelardi/amm-quoter/internal/quote"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Loading configuration...")
	cfg := config.MustLoad(os.Getenv("QUOTED_CONFIG"))

	// Observability first: everything below logs through it.
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("amm-quoter", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracer, err := observability.NewTracerProvider(ctx, "amm-quoter", cfg.Observability.Tracing.Endpoint, cfg.Observability.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(ctx)

	logger.Info("observability setup complete")

	// In-process TTL cache.
	ttl := cache.NewTTLCache(cachePolicies(cfg), logger, metrics)
	defer ttl.Close()

	// Optional shared quote cache.
	var remote *cache.RemoteCache
	if cfg.Redis.Enabled {
		remote, err = cache.NewRemoteCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.LogError(ctx, "failed to connect to redis", err)
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer remote.Close()
	}

	// Batch dispatcher over a plain HTTP JSON-RPC transport.
	dispatcher := batch.NewDispatcher(httpTransport(), batch.Config{
		MaxBatchSize: cfg.Batch.MaxBatchSize,
		BatchTimeout: cfg.Batch.BatchTimeout,
		CallTimeout:  cfg.Batch.CallTimeout,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Batch.Retry.MaxAttempts,
			BaseDelay:   cfg.Batch.Retry.BaseDelay,
			MaxDelay:    cfg.Batch.Retry.MaxDelay,
			Jitter:      cfg.Batch.Retry.Jitter,
		},
	}, logger, metrics)
	defer dispatcher.Flush()

	networks := make(map[string]pools.Network, len(cfg.Networks))
	endpoints := make(map[string]string, len(cfg.Networks))
	for name, net := range cfg.Networks {
		networks[name] = pools.Network{
			Endpoint:  net.RPCEndpoint,
			V2Factory: common.HexToAddress(net.V2Factory),
			V3Factory: common.HexToAddress(net.V3Factory),
			V2FeeBps:  net.V2FeeBps,
			FeeTiers:  net.FeeTiers,
		}
		endpoints[name] = net.RPCEndpoint
	}

	aggregator := pools.NewAggregator(networks, dispatcher, ttl, logger, metrics)
	metadata := quote.NewMetadataFetcher(endpoints, dispatcher, ttl, logger)

	router := quote.NewRouter(aggregator, metadata, ttl, remote, quote.Config{
		MaxSlippagePct: cfg.Quote.MaxSlippagePct,
		RemoteTTL:      cfg.Quote.RemoteTTL,
	}, logger, metrics, tracer.Tracer())

	// Background quote warming for configured hot pairs.
	if cfg.Warming.Enabled {
		pool := worker.NewPool(ctx, cfg.Warming.Workers, len(cfg.Warming.Pairs))
		defer pool.Close()

		pairs := make([]quote.WarmPair, 0, len(cfg.Warming.Pairs))
		for i := range cfg.Warming.Pairs {
			p := &cfg.Warming.Pairs[i]
			pairs = append(pairs, quote.WarmPair{
				Network:     p.Network,
				TokenIn:     p.TokenIn,
				TokenOut:    p.TokenOut,
				AmountIn:    p.ParsedAmount(),
				SlippagePct: p.SlippagePct,
			})
		}

		warmer := quote.NewWarmer(router, pool, pairs, quote.WarmerConfig{
			Interval: cfg.Warming.Interval,
			Timeout:  cfg.Warming.Timeout,
		}, logger)
		warmer.Start(ctx)
		defer warmer.Stop()

		logger.Info("quote warming started", "pairs", len(pairs), "interval", cfg.Warming.Interval.String())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      newServer(router, metrics, logger).routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogError(ctx, "HTTP server error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(ctx, "HTTP shutdown error", err)
	}
	logger.Info("application stopped")
}

// cachePolicies merges configured category policies over the built-in
// defaults.
func cachePolicies(cfg *config.Config) map[cache.Category]cache.Policy {
	policies := cache.DefaultPolicies()
	for name, p := range cfg.Cache.Categories {
		policies[cache.Category(name)] = cache.Policy{TTL: p.TTL, MaxSize: p.MaxSize}
	}
	return policies
}

// httpTransport posts a JSON-RPC payload to an endpoint. Endpoint
// failover and node selection live outside this binary.
func httpTransport() batch.CallFunc {
	client := &http.Client{}
	return func(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rpc endpoint returned status code %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}
