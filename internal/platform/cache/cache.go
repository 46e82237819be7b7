// Package cache provides a categorized in-memory TTL cache.
//
// Each category carries its own TTL and size bound because the cached data
// has wildly different volatility: pool existence is stable for minutes
// while raw RPC responses go stale in seconds.
package cache

import "time"

// Category identifies a class of cached data with a shared expiry policy.
type Category string

const (
	CategoryRoutes    Category = "routes"
	CategoryPools     Category = "pools"
	CategoryPrices    Category = "prices"
	CategoryRPC       Category = "rpc"
	CategoryExistence Category = "existence"
)

// Policy holds the per-category TTL and size bound.
type Policy struct {
	TTL     time.Duration
	MaxSize int
}

// DefaultPolicies returns the standard policy set.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryRoutes:    {TTL: 30 * time.Second, MaxSize: 500},
		CategoryPools:     {TTL: 2 * time.Minute, MaxSize: 1000},
		CategoryPrices:    {TTL: 30 * time.Second, MaxSize: 1000},
		CategoryRPC:       {TTL: 30 * time.Second, MaxSize: 2000},
		CategoryExistence: {TTL: 10 * time.Minute, MaxSize: 2000},
	}
}

// Stats describes the cache's current occupancy.
type Stats struct {
	TotalEntries int                `json:"total_entries"`
	ByCategory   map[Category]int   `json:"by_category"`
	Evictions    map[Category]int64 `json:"evictions"`
}
