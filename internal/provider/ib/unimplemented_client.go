package ib

import (
	"context"
	"fmt"
	"time"

	"github.com/north-brook/brokerd/internal/models"
)

// unimplementedClient is the default gatewayClient used by cmd/brokerd when
// no real TWS API wire implementation has been supplied. It fails every
// Connect attempt with a clear, actionable error, letting the daemon start
// up, serve read-only commands that don't require connectivity, and retry
// the connection on the normal backoff schedule rather than crashing at
// boot. A deployer who wants live trading must supply a concrete
// gatewayClient that actually speaks the gateway's wire protocol.
type unimplementedClient struct{}

// NewUnimplementedClient returns a gatewayClient stub for wiring a Provider
// before a real TWS API socket implementation exists in this dependency set.
func NewUnimplementedClient() gatewayClient {
	return &unimplementedClient{}
}

// UnimplementedClientFactory is the default newClient argument for New,
// usable from outside the package since gatewayClient stays unexported.
func UnimplementedClientFactory() gatewayClient {
	return NewUnimplementedClient()
}

var errNoGatewayClient = fmt.Errorf("no IB Gateway client implementation is configured; supply a concrete gatewayClient")

func (c *unimplementedClient) Connect(ctx context.Context, host string, port, clientID int, timeout time.Duration) error {
	return errNoGatewayClient
}
func (c *unimplementedClient) Disconnect()                       {}
func (c *unimplementedClient) IsConnected() bool                 { return false }
func (c *unimplementedClient) ServerVersion() (int, bool)         { return 0, false }
func (c *unimplementedClient) ManagedAccounts() []string          { return nil }

func (c *unimplementedClient) Quote(ctx context.Context, symbols []string) ([]models.Quote, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) SetMarketDataType(dataType int) {}
func (c *unimplementedClient) History(ctx context.Context, symbol, durationStr, barSize string, rthOnly bool) ([]models.Bar, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) CancelOrder(ctx context.Context, clientOrderID string) error {
	return errNoGatewayClient
}
func (c *unimplementedClient) CancelAll(ctx context.Context) error { return errNoGatewayClient }
func (c *unimplementedClient) OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) ListOrders(ctx context.Context) ([]*models.OrderRecord, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) Positions(ctx context.Context) ([]models.Position, error) {
	return nil, errNoGatewayClient
}
func (c *unimplementedClient) Balance(ctx context.Context) (models.Balance, error) {
	return models.Balance{}, errNoGatewayClient
}
func (c *unimplementedClient) PnL(ctx context.Context) (models.PnLSummary, error) {
	return models.PnLSummary{}, errNoGatewayClient
}
func (c *unimplementedClient) Subscribe(onOrderStatus func(payload map[string]any), onExecDetails func(payload map[string]any), onDisconnect func()) {
}
