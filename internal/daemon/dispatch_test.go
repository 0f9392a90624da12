package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/marketdata"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/ordermanager"
	"github.com/north-brook/brokerd/internal/protocol"
	"github.com/north-brook/brokerd/internal/provider"
	"github.com/north-brook/brokerd/internal/riskengine"
)

type fakeDispatchProvider struct {
	balance   models.Balance
	positions []models.Position
	quotes    map[string]models.Quote
	pnl       models.PnLSummary
	caps      map[provider.Capability]bool

	nextBrokerID int64
	placed       []models.OrderRequest
	cancelled    bool
	events       chan models.Event
}

func newFakeDispatchProvider() *fakeDispatchProvider {
	return &fakeDispatchProvider{
		balance: models.Balance{NetLiquidation: decimal.NewFromInt(100000)},
		quotes:  map[string]models.Quote{"AAPL": {Symbol: "AAPL", Last: decimalPtr(150)}},
		pnl:     models.PnLSummary{Total: decimal.Zero},
		caps:    map[provider.Capability]bool{provider.CapHistory: true, provider.CapExposure: true, provider.CapOptionChain: true},
		events:  make(chan models.Event, 1),
	}
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func (f *fakeDispatchProvider) Name() string                               { return "fake" }
func (f *fakeDispatchProvider) Capabilities() map[provider.Capability]bool { return f.caps }
func (f *fakeDispatchProvider) Connect(ctx context.Context) error          { return nil }
func (f *fakeDispatchProvider) Disconnect() error                         { return nil }
func (f *fakeDispatchProvider) EnsureConnected(ctx context.Context) error { return nil }
func (f *fakeDispatchProvider) Status() provider.ConnectionStatus {
	return provider.ConnectionStatus{Connected: true}
}
func (f *fakeDispatchProvider) Events() <-chan models.Event { return f.events }

func (f *fakeDispatchProvider) Quote(ctx context.Context, symbols []string, intent models.QuoteIntent) ([]models.Quote, error) {
	out := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}
func (f *fakeDispatchProvider) History(ctx context.Context, symbol, period, bar string, rthOnly bool) ([]models.Bar, error) {
	return []models.Bar{{Symbol: symbol, Close: decimal.NewFromInt(151)}}, nil
}
func (f *fakeDispatchProvider) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	underlying := decimal.NewFromInt(100)
	return &models.OptionChain{
		Symbol:          symbol,
		UnderlyingPrice: &underlying,
		Entries: []models.OptionChainEntry{
			{Symbol: symbol, Right: "C", Strike: decimal.NewFromInt(95), Expiry: "2026-01-16"},
			{Symbol: symbol, Right: "P", Strike: decimal.NewFromInt(95), Expiry: "2026-01-16"},
			{Symbol: symbol, Right: "C", Strike: decimal.NewFromInt(105), Expiry: "2026-01-16"},
			{Symbol: symbol, Right: "C", Strike: decimal.NewFromInt(200), Expiry: "2026-02-20"},
		},
	}, nil
}
func (f *fakeDispatchProvider) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error) {
	f.placed = append(f.placed, order)
	f.nextBrokerID++
	id := f.nextBrokerID
	return &models.OrderRecord{ClientOrderID: order.ClientOrderID, BrokerOrderID: &id, Symbol: order.Symbol, Side: order.Side, Qty: order.Qty, Status: models.StatusSubmitted}, nil
}
func (f *fakeDispatchProvider) PlaceBracket(ctx context.Context, bracket provider.BracketOrder) ([]*models.OrderRecord, error) {
	entry, _ := f.PlaceOrder(ctx, bracket.Entry)
	tp, _ := f.PlaceOrder(ctx, bracket.TakeProfit)
	sl, _ := f.PlaceOrder(ctx, bracket.StopLoss)
	return []*models.OrderRecord{entry, tp, sl}, nil
}
func (f *fakeDispatchProvider) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (f *fakeDispatchProvider) CancelAll(ctx context.Context) error                         { f.cancelled = true; return nil }
func (f *fakeDispatchProvider) OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	return nil, nil
}
func (f *fakeDispatchProvider) ListOrders(ctx context.Context) ([]*models.OrderRecord, error) {
	return nil, nil
}
func (f *fakeDispatchProvider) Positions(ctx context.Context) ([]models.Position, error) {
	return f.positions, nil
}
func (f *fakeDispatchProvider) Balance(ctx context.Context) (models.Balance, error) { return f.balance, nil }
func (f *fakeDispatchProvider) PnL(ctx context.Context) (models.PnLSummary, error)  { return f.pnl, nil }
func (f *fakeDispatchProvider) Exposure(ctx context.Context, groupBy string) ([]models.ExposureEntry, error) {
	return nil, nil
}

func newTestServer(t *testing.T, p *fakeDispatchProvider) *Server {
	t.Helper()
	auditLogger, err := audit.Open(":memory:")
	if err != nil {
		t.Fatalf("audit.Open() error = %v", err)
	}
	t.Cleanup(func() { auditLogger.Close() })

	risk := riskengine.New(config.RiskConfig{
		MaxPositionPct: 100, MaxOrderValue: 100000, MaxDailyLossPct: 100,
		MaxSectorExposurePct: 100, MaxSingleNamePct: 100, MaxOpenOrders: 100,
		OrderRateLimit: 100, DuplicateWindowSecs: 1,
	})

	s := &Server{
		cfg:         &config.Config{Runtime: config.RuntimeConfig{SocketPath: "/tmp/test.sock"}},
		startedAt:   time.Now(),
		audit:       auditLogger,
		risk:        risk,
		provider:    p,
		marketData:  marketdata.New(p, 2*time.Second),
		broadcaster: NewBroadcaster(),
		connLoss:    NewConnectionLossMonitor(30 * time.Second),
		heartbeat:   NewHeartbeatMonitor(time.Minute),
		shutdown:    make(chan struct{}),
	}
	s.orders = ordermanager.New(p, risk, auditLogger, s.onOrderManagerEvent)
	return s
}

func TestDispatchDaemonStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	data, err := s.dispatch(context.Background(), &protocol.Request{Command: "daemon.status", Params: map[string]any{}})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if data["risk_halted"] != false {
		t.Errorf("risk_halted = %v, want false", data["risk_halted"])
	}
}

func TestDispatchQuoteSnapshotRequiresSymbols(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	_, err := s.dispatch(context.Background(), &protocol.Request{Command: "quote.snapshot", Params: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing symbols")
	}
}

func TestDispatchQuoteSnapshotReturnsQuote(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	data, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "quote.snapshot",
		Params:  map[string]any{"symbols": []any{"AAPL"}},
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	quotes, ok := data["quotes"].([]models.Quote)
	if !ok || len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %#v", data["quotes"])
	}
}

func TestDispatchOrderPlaceDryRun(t *testing.T) {
	t.Parallel()
	p := newFakeDispatchProvider()
	s := newTestServer(t, p)
	data, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "order.place",
		Params:  map[string]any{"symbol": "AAPL", "side": "buy", "qty": 10.0, "dry_run": true},
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if data["dry_run"] != true {
		t.Errorf("dry_run = %v, want true", data["dry_run"])
	}
	if len(p.placed) != 0 {
		t.Error("dry_run must not reach the provider")
	}
}

func TestDispatchOrderPlaceSubmits(t *testing.T) {
	t.Parallel()
	p := newFakeDispatchProvider()
	s := newTestServer(t, p)
	data, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "order.place",
		Params:  map[string]any{"symbol": "AAPL", "side": "buy", "qty": 10.0, "client_order_id": "t1"},
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if data["dry_run"] != false {
		t.Errorf("dry_run = %v, want false", data["dry_run"])
	}
	if len(p.placed) != 1 {
		t.Fatalf("expected 1 order placed, got %d", len(p.placed))
	}
}

func TestDispatchOrdersCancelAllRequiresConfirm(t *testing.T) {
	t.Parallel()
	p := newFakeDispatchProvider()
	p.caps[provider.CapCancelAll] = true
	s := newTestServer(t, p)
	_, err := s.dispatch(context.Background(), &protocol.Request{Command: "orders.cancel_all", Params: map[string]any{}})
	if err == nil {
		t.Fatal("expected error without confirm")
	}

	_, err = s.dispatch(context.Background(), &protocol.Request{Command: "orders.cancel_all", Params: map[string]any{"confirm": true}})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if !p.cancelled {
		t.Error("expected CancelAll to reach the provider")
	}
}

func TestDispatchRiskHaltAndResume(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	if _, err := s.dispatch(context.Background(), &protocol.Request{Command: "risk.halt", Source: "cli"}); err != nil {
		t.Fatalf("risk.halt dispatch() error = %v", err)
	}
	if !s.risk.Halted() {
		t.Fatal("expected risk engine halted")
	}

	if _, err := s.dispatch(context.Background(), &protocol.Request{Command: "risk.resume", Source: "cli"}); err != nil {
		t.Fatalf("risk.resume dispatch() error = %v", err)
	}
	if s.risk.Halted() {
		t.Fatal("expected risk engine resumed")
	}
}

func TestDispatchMarketChainFiltersAndPaginates(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	data, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "market.chain",
		Params:  map[string]any{"symbol": "AAPL", "type": "call", "strike_range": "0.9:1.1"},
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	entries, ok := data["entries"].([]models.OptionChainEntry)
	if !ok {
		t.Fatalf("entries = %#v, want []models.OptionChainEntry", data["entries"])
	}
	// Underlying is 100; 0.9:1.1 keeps strikes [90,110]; type=call keeps only
	// calls. Of the fixture's 4 entries, the 95- and 105-strike calls survive.
	if len(entries) != 2 || entries[0].Strike.IntPart() != 95 || entries[1].Strike.IntPart() != 105 {
		t.Errorf("entries = %+v, want the 95- and 105-strike calls", entries)
	}
	pagination, ok := data["pagination"].(map[string]any)
	if !ok || pagination["total"] != 2 || pagination["returned"] != 2 {
		t.Errorf("pagination = %#v", data["pagination"])
	}
}

func TestDispatchMarketChainStrictEmptyIsInvalidSymbol(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	_, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "market.chain",
		Params:  map[string]any{"symbol": "AAPL", "strike_range": "5:6", "strict": true},
	})
	if err == nil {
		t.Fatal("expected INVALID_SYMBOL for strict + no matches")
	}
}

func TestDispatchMarketChainProjectsFields(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	data, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "market.chain",
		Params:  map[string]any{"symbol": "AAPL", "fields": "strike,right"},
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	entries, ok := data["entries"].([]map[string]any)
	if !ok || len(entries) == 0 {
		t.Fatalf("entries = %#v, want projected maps", data["entries"])
	}
	if _, hasExpiry := entries[0]["expiry"]; hasExpiry {
		t.Error("projected entry should only contain requested fields")
	}
}

func TestDispatchMarketChainRejectsBadStrikeRange(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	_, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "market.chain",
		Params:  map[string]any{"symbol": "AAPL", "strike_range": "bad"},
	})
	if err == nil {
		t.Fatal("expected INVALID_ARGS for a malformed strike range")
	}
}

func TestDispatchOrderEventWiresFillData(t *testing.T) {
	t.Parallel()
	p := newFakeDispatchProvider()
	s := newTestServer(t, p)
	if _, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "order.place",
		Params:  map[string]any{"symbol": "AAPL", "side": "buy", "qty": 10.0, "client_order_id": "fill-me"},
	}); err != nil {
		t.Fatalf("order.place dispatch() error = %v", err)
	}

	s.handleProviderEvent(models.Event{
		Topic: models.TopicOrders,
		Payload: map[string]any{
			"client_order_id": "fill-me",
			"status":          "Filled",
			"filled":          10.0,
			"avg_fill_price":  179.95,
		},
	})

	status, err := s.orders.OrderStatus(context.Background(), "fill-me")
	if err != nil {
		t.Fatalf("OrderStatus() error = %v", err)
	}
	if status.FillQty != 10.0 {
		t.Errorf("FillQty = %v, want 10", status.FillQty)
	}
	if status.FillPrice == nil || !status.FillPrice.Equal(decimal.NewFromFloat(179.95)) {
		t.Errorf("FillPrice = %v, want 179.95", status.FillPrice)
	}
}

func TestDispatchFillEventWiresPriceAndCommission(t *testing.T) {
	t.Parallel()
	p := newFakeDispatchProvider()
	s := newTestServer(t, p)

	s.handleProviderEvent(models.Event{
		Topic: models.TopicFills,
		Payload: map[string]any{
			"fill_id":         "f1",
			"client_order_id": "c1",
			"symbol":          "AAPL",
			"qty":             10.0,
			"price":           179.95,
			"commission":      1.25,
		},
	})

	fills := s.orders.ListFills("AAPL", nil)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(decimal.NewFromFloat(179.95)) {
		t.Errorf("Price = %v, want 179.95", fills[0].Price)
	}
	if !fills[0].Commission.Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("Commission = %v, want 1.25", fills[0].Commission)
	}
}

func TestDispatchOrdersListAppliesSinceFilter(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	data, err := s.dispatch(context.Background(), &protocol.Request{
		Command: "orders.list",
		Params:  map[string]any{"status": "all", "since": future},
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	orders, ok := data["orders"].([]*models.OrderRecord)
	if !ok || len(orders) != 0 {
		t.Errorf("orders = %#v, want none submitted after a future 'since'", data["orders"])
	}
}

func TestDispatchUnknownCommandSuggestsClosest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newFakeDispatchProvider())
	_, err := s.dispatch(context.Background(), &protocol.Request{Command: "order.plase"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
}
