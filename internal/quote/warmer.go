package quote

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/avelardi/amm-quoter/internal/platform/observability"
	"github.com/avelardi/amm-quoter/internal/platform/worker"
)

// Quoter is the routing surface the warmer drives. Satisfied by *Router.
type Quoter interface {
	Quote(ctx context.Context, network, tokenIn, tokenOut string, amountIn *big.Int, slippagePct float64) (*Quote, error)
}

// WarmPair is one hot pair re-quoted on every warming cycle.
type WarmPair struct {
	Network     string
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	SlippagePct float64
}

func (p WarmPair) id() string {
	return fmt.Sprintf("%s:%s:%s", p.Network, p.TokenIn, p.TokenOut)
}

// WarmerConfig tunes the warming loop.
type WarmerConfig struct {
	// Interval between warming cycles. Should track the routes TTL.
	Interval time.Duration
	// Timeout bounds one full cycle.
	Timeout time.Duration
}

// DefaultWarmerConfig returns the standard warming cadence.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		Interval: 25 * time.Second,
		Timeout:  20 * time.Second,
	}
}

// Warmer re-quotes configured pairs in the background so the routes
// cache stays populated for hot pairs. A failed pair only logs; warming
// never surfaces errors to request paths.
type Warmer struct {
	quoter Quoter
	pool   *worker.Pool
	pairs  []WarmPair
	cfg    WarmerConfig
	logger *observability.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWarmer creates a warmer over the given pairs.
func NewWarmer(quoter Quoter, pool *worker.Pool, pairs []WarmPair, cfg WarmerConfig, logger *observability.Logger) *Warmer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWarmerConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWarmerConfig().Timeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Warmer{
		quoter: quoter,
		pool:   pool,
		pairs:  pairs,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the warming loop until Stop is called or the context ends.
// The first cycle runs immediately.
func (w *Warmer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		if len(w.pairs) == 0 {
			return
		}

		w.warmOnce(ctx)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.warmOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for the current cycle's goroutine to exit.
func (w *Warmer) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Warmer) warmOnce(ctx context.Context) {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	jobs := make([]worker.Job, 0, len(w.pairs))
	for _, pair := range w.pairs {
		jobs = append(jobs, worker.Job{
			ID: pair.id(),
			Execute: func(jobCtx context.Context) (interface{}, error) {
				select {
				case <-cycleCtx.Done():
					return nil, cycleCtx.Err()
				default:
				}
				return w.quoter.Quote(cycleCtx, pair.Network, pair.TokenIn, pair.TokenOut, pair.AmountIn, pair.SlippagePct)
			},
		})
	}

	failures := 0
	for _, res := range w.pool.SubmitAndWait(jobs) {
		if res.Err != nil {
			failures++
			w.logger.LogDebug(ctx, "warming quote failed", "pair", res.JobID, "error", res.Err.Error())
		}
	}

	if failures > 0 {
		w.logger.LogWarn(ctx, "warming cycle finished with failures",
			"pairs", len(w.pairs),
			"failures", failures,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	w.logger.LogDebug(ctx, "warming cycle finished",
		"pairs", len(w.pairs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
