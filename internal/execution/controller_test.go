package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jlp-hedge/internal/config"
	"jlp-hedge/internal/exchange"
)

// fakeGateway 以脚本化钩子模拟交易所行为，所有方法并发安全。
type fakeGateway struct {
	mu      sync.Mutex
	book    exchange.OrderBookTop
	bookErr error
	meta    exchange.MarketMeta

	seq    int
	orders map[string]*exchange.Order

	onPlace   func(g *fakeGateway, ord *exchange.Order) error
	onFetch   func(g *fakeGateway, ord *exchange.Order)
	cancelErr error
	fills     func(orderID string) (decimal.Decimal, decimal.Decimal, error)

	placed  int
	cancels int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		book:   testBook(99.99, 100.01),
		meta:   testMeta(),
		orders: make(map[string]*exchange.Order),
	}
}

func (g *fakeGateway) FetchTopOfBook(ctx context.Context) (exchange.OrderBookTop, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bookErr != nil {
		return exchange.OrderBookTop{}, g.bookErr
	}
	return g.book, nil
}

func (g *fakeGateway) PlacePostOnly(ctx context.Context, side exchange.OrderSide, quantity, price decimal.Decimal, reduceOnly bool, clientOrderID string) (exchange.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.placed++
	g.seq++
	ord := &exchange.Order{
		ID:            fmt.Sprintf("ord-%d", g.seq),
		ClientOrderID: clientOrderID,
		Symbol:        g.meta.Symbol,
		Side:          side,
		Price:         price,
		Quantity:      quantity,
		Filled:        decimal.Zero,
		Status:        exchange.OrderStatusOpen,
		Timestamp:     time.Now(),
	}
	if g.onPlace != nil {
		if err := g.onPlace(g, ord); err != nil {
			return exchange.Order{}, err
		}
	}
	g.orders[ord.ID] = ord
	return *ord, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cancels++
	if g.cancelErr != nil {
		return g.cancelErr
	}
	ord, ok := g.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	if !ord.Status.IsTerminal() {
		ord.Status = exchange.OrderStatusCancelled
	}
	return nil
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (exchange.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ord, ok := g.orders[orderID]
	if !ok {
		return exchange.Order{}, exchange.ErrOrderNotFound
	}
	if g.onFetch != nil {
		g.onFetch(g, ord)
	}
	return *ord, nil
}

func (g *fakeGateway) FetchOrderFills(ctx context.Context, orderID string) (decimal.Decimal, decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fills != nil {
		return g.fills(orderID)
	}
	return decimal.Zero, decimal.Zero, nil
}

func (g *fakeGateway) MarketMeta(ctx context.Context) (exchange.MarketMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.meta, nil
}

func (g *fakeGateway) removeOrder(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, orderID)
}

// fillOnPlace 模拟订单挂出后立刻全部成交。
func fillOnPlace(g *fakeGateway, ord *exchange.Order) error {
	ord.Status = exchange.OrderStatusFilled
	ord.Filled = ord.Quantity
	ord.AveragePrice = ord.Price
	return nil
}

func testMakerConfig() config.MakerConfig {
	return config.MakerConfig{
		OrderTimeout:         5 * time.Millisecond,
		CheckInterval:        time.Millisecond,
		TotalTimeout:         500 * time.Millisecond,
		PriceTolerance:       0.0002,
		PartialFillThreshold: 0.95,
		MinRemainingRatio:    0.05,
		MaxSpreadRatio:       0.01,
		MaxIterations:        120,
		EmptyBookRetries:     3,
		EmptyBookBackoff:     time.Millisecond,
		PlacementRetries:     3,
		Split:                config.SplitConfig{Enabled: false},
	}
}

func newTestController(g *fakeGateway, cfg config.MakerConfig) *orderController {
	return newOrderController(g, g.meta.Symbol, exchange.OrderSideSell, false, g.meta, cfg, newBookCache(g, cfg.BookCacheTTL), nil, nil)
}

func TestControllerRun_ImmediateFill(t *testing.T) {
	g := newFakeGateway()
	g.onPlace = fillOnPlace

	ctrl := newTestController(g, testMakerConfig())
	out := ctrl.run(context.Background(), decimal.NewFromFloat(1), time.Now().Add(time.Second))

	if out.err != nil {
		t.Fatalf("run returned error: %v", out.err)
	}
	if !out.filled.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("expected filled 1, got %s", out.filled)
	}
	if out.replaces != 0 {
		t.Errorf("expected zero replaces, got %d", out.replaces)
	}
	if g.placed != 1 {
		t.Errorf("expected single order placed, got %d", g.placed)
	}
}

func TestControllerRun_NeverFills_DeadlineStops(t *testing.T) {
	g := newFakeGateway()

	ctrl := newTestController(g, testMakerConfig())
	start := time.Now()
	out := ctrl.run(context.Background(), decimal.NewFromFloat(1), start.Add(80*time.Millisecond))

	if out.err != nil {
		t.Fatalf("deadline expiry is not an error, got: %v", out.err)
	}
	if !out.filled.IsZero() {
		t.Errorf("expected zero filled, got %s", out.filled)
	}
	if out.replaces == 0 {
		t.Errorf("expected at least one replace before deadline")
	}
	if out.cleanupPending {
		t.Errorf("expected clean shutdown, cleanup should succeed")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("run overstayed its deadline: %v", elapsed)
	}
	// 收尾后场上不得残留未终结订单
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ord := range g.orders {
		if !ord.Status.IsTerminal() {
			t.Errorf("order %s left open after deadline", id)
		}
	}
}

func TestControllerRun_PartialFillThenRequote(t *testing.T) {
	g := newFakeGateway()
	partial := decimal.NewFromFloat(0.7)
	g.onFetch = func(g *fakeGateway, ord *exchange.Order) {
		if ord.ID == "ord-1" && !ord.Status.IsTerminal() {
			ord.Filled = partial
			ord.AveragePrice = ord.Price
			ord.Status = exchange.OrderStatusPartiallyFilled
		}
	}
	g.onPlace = func(g *fakeGateway, ord *exchange.Order) error {
		if g.seq >= 2 {
			return fillOnPlace(g, ord)
		}
		return nil
	}

	ctrl := newTestController(g, testMakerConfig())
	out := ctrl.run(context.Background(), decimal.NewFromFloat(1), time.Now().Add(2*time.Second))

	if out.err != nil {
		t.Fatalf("run returned error: %v", out.err)
	}
	if !out.filled.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("expected filled 1 across both orders, got %s", out.filled)
	}
	if out.replaces != 1 {
		t.Errorf("expected exactly one replace, got %d", out.replaces)
	}
	if g.placed != 2 {
		t.Errorf("expected two orders placed, got %d", g.placed)
	}
}

func TestControllerRun_OrderLost_ReconcilesFromFills(t *testing.T) {
	g := newFakeGateway()
	quantity := decimal.NewFromFloat(1)
	g.onPlace = func(g *fakeGateway, ord *exchange.Order) error {
		// 订单挂出后立即从查询接口消失，模拟撤单成交竞态
		go g.removeOrder(ord.ID)
		return nil
	}
	g.fills = func(orderID string) (decimal.Decimal, decimal.Decimal, error) {
		return quantity, decimal.NewFromFloat(100.01), nil
	}

	ctrl := newTestController(g, testMakerConfig())
	out := ctrl.run(context.Background(), quantity, time.Now().Add(time.Second))

	if out.err != nil {
		t.Fatalf("run returned error: %v", out.err)
	}
	if !out.filled.Equal(quantity) {
		t.Errorf("expected fills reconciled to %s, got %s", quantity, out.filled)
	}
	if g.placed != 1 {
		t.Errorf("expected no duplicate placement after reconciliation, got %d", g.placed)
	}
}

func TestControllerRun_PostOnlyRejectedThenAccepted(t *testing.T) {
	g := newFakeGateway()
	g.onPlace = func(g *fakeGateway, ord *exchange.Order) error {
		if g.placed <= 2 {
			return exchange.ErrPostOnlyRejected
		}
		return fillOnPlace(g, ord)
	}

	ctrl := newTestController(g, testMakerConfig())
	out := ctrl.run(context.Background(), decimal.NewFromFloat(1), time.Now().Add(2*time.Second))

	if out.err != nil {
		t.Fatalf("run returned error: %v", out.err)
	}
	if !out.filled.Equal(decimal.NewFromFloat(1)) {
		t.Errorf("expected filled 1, got %s", out.filled)
	}
	if out.replaces != 0 {
		t.Errorf("post-only retry is not a replace, got %d", out.replaces)
	}
	if g.placed != 3 {
		t.Errorf("expected 3 placement attempts, got %d", g.placed)
	}
}

func TestControllerRun_PostOnlyRejectedExhausted(t *testing.T) {
	g := newFakeGateway()
	g.onPlace = func(g *fakeGateway, ord *exchange.Order) error {
		return exchange.ErrPostOnlyRejected
	}

	cfg := testMakerConfig()
	cfg.PlacementRetries = 2
	ctrl := newTestController(g, cfg)
	out := ctrl.run(context.Background(), decimal.NewFromFloat(1), time.Now().Add(2*time.Second))

	if out.err == nil {
		t.Fatalf("expected error after exhausting placement retries")
	}
	if !out.filled.IsZero() {
		t.Errorf("expected zero filled, got %s", out.filled)
	}
}

func TestControllerRun_MinRemainingAcceptsPartial(t *testing.T) {
	g := newFakeGateway()
	g.onPlace = func(g *fakeGateway, ord *exchange.Order) error {
		// 成交 96% 后订单被对手方撤销
		ord.Filled = ord.Quantity.Mul(decimal.NewFromFloat(0.96))
		ord.AveragePrice = ord.Price
		ord.Status = exchange.OrderStatusCancelled
		return nil
	}

	ctrl := newTestController(g, testMakerConfig())
	out := ctrl.run(context.Background(), decimal.NewFromFloat(1), time.Now().Add(time.Second))

	if out.err != nil {
		t.Fatalf("run returned error: %v", out.err)
	}
	if !out.filled.Equal(decimal.NewFromFloat(0.96)) {
		t.Errorf("expected filled 0.96, got %s", out.filled)
	}
	if g.placed != 1 {
		t.Errorf("expected no requote below min remaining, got %d placements", g.placed)
	}
}

func TestControllerRun_ContextCancelled(t *testing.T) {
	g := newFakeGateway()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ctrl := newTestController(g, testMakerConfig())
	out := ctrl.run(ctx, decimal.NewFromFloat(1), time.Now().Add(time.Second))

	if out.err == nil {
		t.Fatalf("expected context error")
	}
	if !out.filled.IsZero() {
		t.Errorf("expected zero filled, got %s", out.filled)
	}
}
