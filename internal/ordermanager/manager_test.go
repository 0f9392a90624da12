package ordermanager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
	"github.com/north-brook/brokerd/internal/riskengine"
)

type fakeProvider struct {
	balance   models.Balance
	positions []models.Position
	quotes    map[string]models.Quote
	pnl       models.PnLSummary

	nextBrokerID int64
	placeErr     error
	cancelErr    error
	placed       []models.OrderRequest
}

func (f *fakeProvider) Name() string                                 { return "fake" }
func (f *fakeProvider) Capabilities() map[provider.Capability]bool   { return map[provider.Capability]bool{provider.CapBracketOrders: true} }
func (f *fakeProvider) Connect(ctx context.Context) error            { return nil }
func (f *fakeProvider) Disconnect() error                            { return nil }
func (f *fakeProvider) EnsureConnected(ctx context.Context) error    { return nil }
func (f *fakeProvider) Status() provider.ConnectionStatus            { return provider.ConnectionStatus{Connected: true} }
func (f *fakeProvider) Events() <-chan models.Event                  { return nil }

func (f *fakeProvider) Quote(ctx context.Context, symbols []string, intent models.QuoteIntent) ([]models.Quote, error) {
	out := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}
func (f *fakeProvider) History(ctx context.Context, symbol, period, bar string, rthOnly bool) ([]models.Bar, error) {
	return nil, nil
}
func (f *fakeProvider) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	return nil, nil
}

func (f *fakeProvider) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, order)
	f.nextBrokerID++
	id := f.nextBrokerID
	return &models.OrderRecord{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: &id,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.Qty,
		Status:        models.StatusSubmitted,
	}, nil
}
func (f *fakeProvider) PlaceBracket(ctx context.Context, bracket provider.BracketOrder) ([]*models.OrderRecord, error) {
	entry, _ := f.PlaceOrder(ctx, bracket.Entry)
	tp, _ := f.PlaceOrder(ctx, bracket.TakeProfit)
	sl, _ := f.PlaceOrder(ctx, bracket.StopLoss)
	return []*models.OrderRecord{entry, tp, sl}, nil
}
func (f *fakeProvider) CancelOrder(ctx context.Context, clientOrderID string) error { return f.cancelErr }
func (f *fakeProvider) CancelAll(ctx context.Context) error                        { return f.cancelErr }
func (f *fakeProvider) OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	return nil, nil
}
func (f *fakeProvider) ListOrders(ctx context.Context) ([]*models.OrderRecord, error) { return nil, nil }
func (f *fakeProvider) Positions(ctx context.Context) ([]models.Position, error)      { return f.positions, nil }
func (f *fakeProvider) Balance(ctx context.Context) (models.Balance, error)           { return f.balance, nil }
func (f *fakeProvider) PnL(ctx context.Context) (models.PnLSummary, error)            { return f.pnl, nil }
func (f *fakeProvider) Exposure(ctx context.Context, groupBy string) ([]models.ExposureEntry, error) {
	return nil, nil
}

func newTestManager(t *testing.T, p *fakeProvider) *Manager {
	t.Helper()
	logger, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("audit.Open() error = %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	risk := riskengine.New(config.RiskConfig{
		MaxPositionPct:       100,
		MaxOrderValue:        100000,
		MaxDailyLossPct:      100,
		MaxSectorExposurePct: 100,
		MaxSingleNamePct:     100,
		MaxOpenOrders:        100,
		OrderRateLimit:       100,
		DuplicateWindowSecs:  1,
	})

	return New(p, risk, logger, nil)
}

func testQuote(symbol string, last float64) models.Quote {
	d := decimal.NewFromFloat(last)
	return models.Quote{Symbol: symbol, Last: &d}
}

func TestPlaceOrderSuccess(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{
		balance: models.Balance{NetLiquidation: decimal.NewFromInt(100000)},
		quotes:  map[string]models.Quote{"AAPL": testQuote("AAPL", 150)},
		pnl:     models.PnLSummary{Total: decimal.Zero},
	}
	m := newTestManager(t, p)

	record, err := m.PlaceOrder(context.Background(), models.OrderRequest{
		Side: models.SideBuy, Symbol: "aapl", Qty: 10, ClientOrderID: "c1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if record.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", record.Symbol)
	}
	if record.Status != models.StatusSubmitted {
		t.Errorf("Status = %q, want Submitted", record.Status)
	}
	if len(p.placed) != 1 {
		t.Fatalf("expected 1 order placed at provider, got %d", len(p.placed))
	}
}

func TestPlaceOrderIsIdempotent(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{
		balance: models.Balance{NetLiquidation: decimal.NewFromInt(100000)},
		quotes:  map[string]models.Quote{"AAPL": testQuote("AAPL", 150)},
	}
	m := newTestManager(t, p)

	req := models.OrderRequest{Side: models.SideBuy, Symbol: "AAPL", Qty: 10, ClientOrderID: "dup-1"}
	first, err := m.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	second, err := m.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder() second call error = %v", err)
	}
	if first != second {
		t.Error("expected second PlaceOrder call to return the identical record")
	}
	if len(p.placed) != 1 {
		t.Errorf("expected provider to see only 1 submission, got %d", len(p.placed))
	}
}

func TestPlaceOrderRejectedByRiskEngine(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{
		balance: models.Balance{NetLiquidation: decimal.NewFromInt(1000)},
		quotes:  map[string]models.Quote{"AAPL": testQuote("AAPL", 150)},
	}
	m := newTestManager(t, p)
	// The default max_order_value (100000) wouldn't trip, so lower it to 1: the
	// market order's notional (10 x the 150 mark = 1500) then exceeds it.
	m.risk.SetLimit("max_order_value", 1.0)

	_, err := m.PlaceOrder(context.Background(), models.OrderRequest{
		Side: models.SideBuy, Symbol: "AAPL", Qty: 10, ClientOrderID: "c2",
	})
	if err == nil {
		t.Fatal("expected risk rejection error")
	}
	if len(p.placed) != 0 {
		t.Error("expected no order to reach the provider")
	}
}

func TestAddFillAndListFills(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeProvider{})

	err := m.AddFill(models.FillRecord{FillID: "f1", ClientOrderID: "c1", Symbol: "AAPL", Qty: 10, Price: decimal.NewFromInt(150)})
	if err != nil {
		t.Fatalf("AddFill() error = %v", err)
	}

	fills := m.ListFills("AAPL", nil)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}

	if got := m.ListFills("MSFT", nil); len(got) != 0 {
		t.Errorf("expected 0 fills for MSFT, got %d", len(got))
	}
}

func TestCancelOrderMarksCancelled(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{
		balance: models.Balance{NetLiquidation: decimal.NewFromInt(100000)},
		quotes:  map[string]models.Quote{"AAPL": testQuote("AAPL", 150)},
	}
	m := newTestManager(t, p)

	record, err := m.PlaceOrder(context.Background(), models.OrderRequest{
		Side: models.SideBuy, Symbol: "AAPL", Qty: 10, ClientOrderID: "cancel-me",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	if err := m.CancelOrder(context.Background(), record.ClientOrderID); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}

	status, err := m.OrderStatus(context.Background(), record.ClientOrderID)
	if err != nil {
		t.Fatalf("OrderStatus() error = %v", err)
	}
	if status.Status != models.StatusCancelled {
		t.Errorf("Status = %q, want Cancelled", status.Status)
	}
}

func TestListOrdersFiltersByActive(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{
		balance: models.Balance{NetLiquidation: decimal.NewFromInt(100000)},
		quotes:  map[string]models.Quote{"AAPL": testQuote("AAPL", 150)},
	}
	m := newTestManager(t, p)

	active, err := m.PlaceOrder(context.Background(), models.OrderRequest{Side: models.SideBuy, Symbol: "AAPL", Qty: 1, ClientOrderID: "a1"})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	cancelled, err := m.PlaceOrder(context.Background(), models.OrderRequest{Side: models.SideBuy, Symbol: "AAPL", Qty: 1, ClientOrderID: "a2"})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if err := m.CancelOrder(context.Background(), cancelled.ClientOrderID); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}

	activeList := m.ListOrders("active", nil)
	if len(activeList) != 1 || activeList[0].ClientOrderID != active.ClientOrderID {
		t.Errorf("expected only %q in active list, got %+v", active.ClientOrderID, activeList)
	}

	all := m.ListOrders("all", nil)
	if len(all) != 2 {
		t.Errorf("expected 2 orders total, got %d", len(all))
	}
}
