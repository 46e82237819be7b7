// Package batch coalesces independent JSON-RPC calls against the same
// endpoint into single batch round trips.
//
// Blockchain RPC endpoints are latency-bound and rate-limited per
// connection; trading up to one batch window of added latency for far
// fewer round trips is almost always the right call when fetching many
// small pieces of pool state.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avelardi/amm-quoter/internal/platform/observability"
	"github.com/avelardi/amm-quoter/internal/platform/resilience"
)

// CallFunc is the pluggable raw transport: it posts a JSON-RPC payload to
// an endpoint and returns the raw response body. Endpoint selection,
// failover, and HTTP details live behind it.
type CallFunc func(ctx context.Context, endpoint string, payload []byte) ([]byte, error)

// ErrNoResponse is returned for a request whose id is missing from the
// batch response array.
var ErrNoResponse = errors.New("batch: no response for request")

// Config tunes the dispatcher.
type Config struct {
	// MaxBatchSize dispatches a batch immediately once reached.
	MaxBatchSize int
	// BatchTimeout dispatches whatever has accumulated when it fires.
	BatchTimeout time.Duration
	// CallTimeout bounds each outbound transport call.
	CallTimeout time.Duration
	// Retry bounds transport retries before a batch is failed.
	Retry resilience.RetryConfig
}

// DefaultConfig returns the standard dispatcher tuning.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 10,
		BatchTimeout: 50 * time.Millisecond,
		CallTimeout:  15 * time.Second,
		Retry:        resilience.DefaultRetryConfig(),
	}
}

// outcome carries the settled result of one request.
type outcome struct {
	result json.RawMessage
	err    error
}

// request is one pending call inside a batch.
type request struct {
	method string
	params []interface{}
	done   chan outcome
}

// Future resolves to a single request's result once its batch completes.
type Future struct {
	done <-chan outcome
}

// Wait blocks until the batch settles or the context is done.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-f.done:
		return o.result, o.err
	}
}

// pendingBatch accumulates requests for one endpoint during the open window.
type pendingBatch struct {
	endpoint string
	requests []*request
	timer    *time.Timer
}

// Dispatcher groups requests per endpoint and dispatches each batch
// exactly once: on reaching MaxBatchSize or when BatchTimeout fires,
// whichever comes first.
type Dispatcher struct {
	call    CallFunc
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

// NewDispatcher creates a dispatcher over the given transport.
func NewDispatcher(call CallFunc, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultConfig().BatchTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Dispatcher{
		call:    call,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		pending: make(map[string]*pendingBatch),
	}
}

// Enqueue appends a request to the endpoint's open batch, creating one if
// absent, and returns a Future for its individual result.
func (d *Dispatcher) Enqueue(endpoint, method string, params []interface{}) *Future {
	req := &request{
		method: method,
		params: params,
		done:   make(chan outcome, 1),
	}

	d.mu.Lock()
	b, ok := d.pending[endpoint]
	if !ok {
		b = &pendingBatch{endpoint: endpoint}
		d.pending[endpoint] = b
		// The timer closure dispatches only if this batch is still the
		// open one; a size-triggered dispatch will have replaced it.
		batch := b
		b.timer = time.AfterFunc(d.cfg.BatchTimeout, func() {
			d.mu.Lock()
			if d.pending[endpoint] != batch {
				d.mu.Unlock()
				return
			}
			delete(d.pending, endpoint)
			d.mu.Unlock()
			d.dispatch(batch)
		})
	}
	b.requests = append(b.requests, req)

	if len(b.requests) >= d.cfg.MaxBatchSize {
		// Size trigger: remove synchronously so a fresh batch can open,
		// cancel the timer, dispatch off the lock.
		delete(d.pending, endpoint)
		b.timer.Stop()
		d.mu.Unlock()
		go d.dispatch(b)
		return &Future{done: req.done}
	}
	d.mu.Unlock()

	return &Future{done: req.done}
}

// Call is a convenience wrapper enqueueing one request and waiting for it.
func (d *Dispatcher) Call(ctx context.Context, endpoint, method string, params []interface{}) (json.RawMessage, error) {
	return d.Enqueue(endpoint, method, params).Wait(ctx)
}

// dispatch performs the network round trip for one batch and settles
// every request in it.
func (d *Dispatcher) dispatch(b *pendingBatch) {
	calls := make([]rpcRequest, len(b.requests))
	for i, req := range b.requests {
		calls[i] = rpcRequest{
			JSONRPC: "2.0",
			ID:      i + 1, // 1-based position in the batch
			Method:  req.method,
			Params:  req.params,
		}
	}

	payload, err := json.Marshal(calls)
	if err != nil {
		d.reject(b, fmt.Errorf("batch: encode failed: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CallTimeout)
	defer cancel()

	body, err := resilience.RetryWithResult(ctx, d.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		return d.call(ctx, b.endpoint, payload)
	})
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordBatchDispatch(ctx, b.endpoint, len(b.requests), false)
			d.metrics.RecordRPCError(ctx, b.endpoint, "transport")
		}
		d.logger.LogError(ctx, "batch dispatch failed", err,
			"endpoint", b.endpoint,
			"size", len(b.requests),
		)
		d.reject(b, fmt.Errorf("batch: transport failure: %w", err))
		return
	}

	var responses []rpcResponse
	if err := json.Unmarshal(body, &responses); err != nil {
		if d.metrics != nil {
			d.metrics.RecordBatchDispatch(ctx, b.endpoint, len(b.requests), false)
		}
		d.reject(b, fmt.Errorf("batch: decode failed: %w", err))
		return
	}

	// Responses may arrive in any order; match them back by id.
	byID := make(map[int]*rpcResponse, len(responses))
	for i := range responses {
		byID[responses[i].ID] = &responses[i]
	}

	for i, req := range b.requests {
		resp, ok := byID[i+1]
		switch {
		case !ok:
			if d.metrics != nil {
				d.metrics.RecordRPCError(ctx, b.endpoint, "missing_response")
			}
			req.done <- outcome{err: ErrNoResponse}
		case resp.Error != nil:
			if d.metrics != nil {
				d.metrics.RecordRPCError(ctx, b.endpoint, "rpc")
			}
			req.done <- outcome{err: resp.Error}
		default:
			req.done <- outcome{result: resp.Result}
		}
	}

	if d.metrics != nil {
		d.metrics.RecordBatchDispatch(ctx, b.endpoint, len(b.requests), true)
	}
	d.logger.Debug("batch dispatched",
		"endpoint", b.endpoint,
		"size", len(b.requests),
	)
}

// reject settles every request in the batch with the same error.
// No partial success is assumed on transport failure.
func (d *Dispatcher) reject(b *pendingBatch, err error) {
	for _, req := range b.requests {
		req.done <- outcome{err: err}
	}
}

// Flush dispatches any open batches immediately. Intended for shutdown.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	batches := make([]*pendingBatch, 0, len(d.pending))
	for key, b := range d.pending {
		b.timer.Stop()
		delete(d.pending, key)
		batches = append(batches, b)
	}
	d.mu.Unlock()

	for _, b := range batches {
		d.dispatch(b)
	}
}
