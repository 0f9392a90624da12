package ib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
)

type fakeClient struct {
	connectErr error
	connected  bool
}

func (f *fakeClient) Connect(ctx context.Context, host string, port, clientID int, timeout time.Duration) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}
func (f *fakeClient) Disconnect()                  { f.connected = false }
func (f *fakeClient) IsConnected() bool             { return f.connected }
func (f *fakeClient) ServerVersion() (int, bool)    { return 176, true }
func (f *fakeClient) ManagedAccounts() []string     { return []string{"DU123456"} }
func (f *fakeClient) Quote(ctx context.Context, symbols []string) ([]models.Quote, error) {
	return nil, nil
}
func (f *fakeClient) SetMarketDataType(dataType int) {}
func (f *fakeClient) History(ctx context.Context, symbol, durationStr, barSize string, rthOnly bool) ([]models.Bar, error) {
	return nil, nil
}
func (f *fakeClient) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	return nil, nil
}
func (f *fakeClient) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error) {
	return nil, nil
}
func (f *fakeClient) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (f *fakeClient) CancelAll(ctx context.Context) error                        { return nil }
func (f *fakeClient) OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	return nil, nil
}
func (f *fakeClient) ListOrders(ctx context.Context) ([]*models.OrderRecord, error) { return nil, nil }
func (f *fakeClient) Positions(ctx context.Context) ([]models.Position, error)      { return nil, nil }
func (f *fakeClient) Balance(ctx context.Context) (models.Balance, error)           { return models.Balance{}, nil }
func (f *fakeClient) PnL(ctx context.Context) (models.PnLSummary, error)            { return models.PnLSummary{}, nil }
func (f *fakeClient) Subscribe(onOrderStatus func(map[string]any), onExecDetails func(map[string]any), onDisconnect func()) {
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{Host: "127.0.0.1", Port: 4001, ClientID: 1, AutoReconnect: false, ReconnectBackoffMax: 30}
}

func TestConnectSuccess(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	p := New(testGatewayConfig(), nil, func() gatewayClient { return fc })

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !p.Status().Connected {
		t.Error("expected Status().Connected = true")
	}
}

func TestConnectFailureSetsLastError(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	p := New(testGatewayConfig(), nil, func() gatewayClient { return fc })

	if err := p.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if p.Status().LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestEnsureConnectedMapsToIBDisconnected(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	p := New(testGatewayConfig(), nil, func() gatewayClient { return fc })

	err := p.EnsureConnected(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCapabilitiesIncludeStreamingAndBrackets(t *testing.T) {
	t.Parallel()
	p := New(testGatewayConfig(), nil, func() gatewayClient { return &fakeClient{} })
	caps := p.Capabilities()
	if !caps[provider.CapStreaming] {
		t.Error("expected streaming capability")
	}
	if !caps[provider.CapBracketOrders] {
		t.Error("expected bracket_orders capability")
	}
}
