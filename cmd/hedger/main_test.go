package main

import (
	"testing"

	"github.com/shopspring/decimal"

	"jlp-hedge/internal/execution"
)

func TestParseDeltas(t *testing.T) {
	deltas, err := parseDeltas([]string{
		"SOL/USDT:USDT:increase_short:1.5",
		"ETH/USDT:USDT:decrease_short:0.25",
	})
	if err != nil {
		t.Fatalf("parseDeltas returned error: %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}

	first := deltas[0]
	if first.Symbol != "SOL/USDT:USDT" {
		t.Errorf("expected symbol with embedded colon preserved, got %s", first.Symbol)
	}
	if first.Side != execution.DeltaIncreaseShort {
		t.Errorf("expected increase_short, got %s", first.Side)
	}
	if !first.Quantity.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("expected quantity 1.5, got %s", first.Quantity)
	}

	second := deltas[1]
	if second.Side != execution.DeltaDecreaseShort {
		t.Errorf("expected decrease_short, got %s", second.Side)
	}
	if !second.ReduceOnly() {
		t.Errorf("decrease_short must be reduce-only")
	}
}

func TestParseDeltas_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  []string
	}{
		{"empty", nil},
		{"malformed", []string{"SOL/USDT"}},
		{"unknown side", []string{"SOL/USDT:USDT:long:1"}},
		{"bad quantity", []string{"SOL/USDT:USDT:increase_short:abc"}},
		{"negative quantity", []string{"SOL/USDT:USDT:increase_short:-1"}},
		{"zero quantity", []string{"SOL/USDT:USDT:increase_short:0"}},
	}
	for _, tc := range cases {
		if _, err := parseDeltas(tc.raw); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
