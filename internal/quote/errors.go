// Package quote prices a swap against every discovered pool, selects the
// best route, and applies slippage and price-impact policy.
package quote

import (
	"context"
	"errors"
	"fmt"

	"github.com/avelardi/amm-quoter/internal/platform/batch"
	"github.com/avelardi/amm-quoter/internal/pools"
)

// Code is a stable machine-readable failure classification.
type Code string

const (
	CodeInvalidParameters     Code = "INVALID_PARAMETERS"
	CodePoolNotFound          Code = "POOL_NOT_FOUND"
	CodeInsufficientLiquidity Code = "INSUFFICIENT_LIQUIDITY"
	CodeHighPriceImpact       Code = "HIGH_PRICE_IMPACT"
	CodeNetworkError          Code = "NETWORK_ERROR"
	CodeRPCError              Code = "RPC_ERROR"
	CodeTimeoutError          Code = "TIMEOUT_ERROR"
	CodeInvalidPoolData       Code = "INVALID_POOL_DATA"
)

// Error is the structured failure returned by the router. Every failure
// carries a stable code and a human-readable message; nothing else
// escapes the public API.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a structured error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetail attaches one detail field and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsError extracts a structured error if err carries one.
func AsError(err error) (*Error, bool) {
	var qe *Error
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// classify converts an arbitrary pipeline failure into a structured
// error. Inputs that are already structured pass through unchanged.
func classify(err error) *Error {
	if qe, ok := AsError(err); ok {
		return qe
	}

	switch {
	case errors.Is(err, pools.ErrUnknownNetwork), errors.Is(err, pools.ErrInvalidToken):
		return NewError(CodeInvalidParameters, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeTimeoutError, "request timed out").WithDetail("cause", err.Error())
	}

	var rpcErr *batch.RPCError
	if errors.As(err, &rpcErr) {
		return NewError(CodeRPCError, "rpc call failed").
			WithDetail("rpc_code", rpcErr.Code).
			WithDetail("rpc_message", rpcErr.Message)
	}

	return NewError(CodeNetworkError, "network request failed").WithDetail("cause", err.Error())
}
