package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
)

func metaForTest() MarketMeta {
	return MarketMeta{
		Symbol:       "SOL/USDT:USDT",
		PriceTick:    decimal.NewFromFloat(0.01),
		QuantityStep: decimal.NewFromFloat(0.1),
		MinQuantity:  decimal.NewFromFloat(0.5),
	}
}

func TestMarketMetaRoundPrice(t *testing.T) {
	m := metaForTest()

	cases := []struct {
		in       float64
		down, up float64
	}{
		{100.018, 100.01, 100.02},
		{100.01, 100.01, 100.01},
		{99.999, 99.99, 100.00},
	}
	for _, tc := range cases {
		in := decimal.NewFromFloat(tc.in)
		if got := m.RoundPrice(in); !got.Equal(decimal.NewFromFloat(tc.down)) {
			t.Errorf("RoundPrice(%v): got %s want %v", tc.in, got, tc.down)
		}
		if got := m.RoundPriceUp(in); !got.Equal(decimal.NewFromFloat(tc.up)) {
			t.Errorf("RoundPriceUp(%v): got %s want %v", tc.in, got, tc.up)
		}
	}
}

func TestMarketMetaRoundQuantity(t *testing.T) {
	m := metaForTest()

	if got := m.RoundQuantity(decimal.NewFromFloat(1.27)); !got.Equal(decimal.NewFromFloat(1.2)) {
		t.Errorf("expected 1.2, got %s", got)
	}
	// 对齐后低于最小下单量
	if got := m.RoundQuantity(decimal.NewFromFloat(0.44)); !got.IsZero() {
		t.Errorf("expected zero below min quantity, got %s", got)
	}
	if got := m.RoundQuantity(decimal.NewFromFloat(0.5)); !got.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected exact min quantity kept, got %s", got)
	}
}

func TestOrderBookTop(t *testing.T) {
	top := OrderBookTop{
		BestBid: decimal.NewFromFloat(100),
		BestAsk: decimal.NewFromFloat(102),
	}
	if top.Empty() {
		t.Fatalf("expected non-empty book")
	}
	if !top.Mid().Equal(decimal.NewFromFloat(101)) {
		t.Errorf("expected mid 101, got %s", top.Mid())
	}
	if !top.SpreadRatio().Equal(decimal.NewFromFloat(0.02)) {
		t.Errorf("expected spread ratio 0.02, got %s", top.SpreadRatio())
	}

	if !(OrderBookTop{}).Empty() {
		t.Errorf("expected zero value book to be empty")
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("expected %s non-terminal", s)
		}
	}
}
