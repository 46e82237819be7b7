package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	net, ok := cfg.Networks["mainnet"]
	if !ok {
		t.Fatal("default mainnet network missing")
	}
	if net.V2FeeBps != 30 {
		t.Errorf("v2_fee_bps = %d, want 30", net.V2FeeBps)
	}
	if len(net.FeeTiers) != 3 {
		t.Errorf("fee tiers = %v, want 3 defaults", net.FeeTiers)
	}

	if cfg.Batch.MaxBatchSize != 10 {
		t.Errorf("max_batch_size = %d, want 10", cfg.Batch.MaxBatchSize)
	}
	if cfg.Batch.BatchTimeout != 50*time.Millisecond {
		t.Errorf("batch_timeout = %v, want 50ms", cfg.Batch.BatchTimeout)
	}

	existence, ok := cfg.Cache.Categories["existence"]
	if !ok {
		t.Fatal("existence cache policy missing")
	}
	if existence.TTL != 10*time.Minute {
		t.Errorf("existence ttl = %v, want 10m", existence.TTL)
	}

	if cfg.Warming.Enabled {
		t.Error("warming should default to disabled")
	}
	if cfg.Redis.Enabled {
		t.Error("redis should default to disabled")
	}
}

func TestLoadParsesWarmingPairs(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
warming:
  enabled: true
  pairs:
    - network: mainnet
      token_in: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
      token_out: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
      amount_in: "1000000000000000000"
      slippage_pct: 0.5
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Warming.Pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(cfg.Warming.Pairs))
	}
	got := cfg.Warming.Pairs[0].ParsedAmount()
	if got == nil || got.String() != "1000000000000000000" {
		t.Errorf("parsed amount = %v, want 1000000000000000000", got)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad factory", `
networks:
  mainnet:
    rpc_endpoint: "https://rpc"
    v2_factory: "not-an-address"
    v3_factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
`},
		{"fee tier out of range", `
networks:
  mainnet:
    fee_tiers: [0]
`},
		{"warming without pairs", `
warming:
  enabled: true
`},
		{"warming amount not a number", `
warming:
  enabled: true
  pairs:
    - network: mainnet
      token_in: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
      token_out: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
      amount_in: "one ether"
`},
		{"bad log level", `
observability:
  logging:
    level: verbose
`},
		{"slippage over 100", `
quote:
  max_slippage_pct: 150
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected load to fail")
			}
		})
	}
}
