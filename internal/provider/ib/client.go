package ib

import (
	"context"
	"time"

	"github.com/north-brook/brokerd/internal/models"
)

// gatewayClient is the thin seam between the connection manager's
// lifecycle/reconnect/event-dispatch logic and the actual IB Gateway wire
// session. No Go client for the TWS API protocol exists in this project's
// dependency set, so the request/response calls below are implemented
// against this interface rather than a concrete socket implementation;
// production deployments supply a concrete gatewayClient that speaks the
// gateway's native protocol. This mirrors how original_source indirectly
// imports ib_async only inside connect()/quote()/etc rather than at module
// scope, keeping the rest of the manager free of a hard SDK dependency.
type gatewayClient interface {
	Connect(ctx context.Context, host string, port, clientID int, timeout time.Duration) error
	Disconnect()
	IsConnected() bool
	ServerVersion() (int, bool)
	ManagedAccounts() []string

	Quote(ctx context.Context, symbols []string) ([]models.Quote, error)
	History(ctx context.Context, symbol, durationStr, barSize string, rthOnly bool) ([]models.Bar, error)
	OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)

	// SetMarketDataType switches the session's live/delayed/frozen
	// market-data type for all subsequent Quote calls, mirroring
	// ib_async's IB.reqMarketDataType. Quote uses this to retry symbols
	// with an empty live snapshot against delayed data, then switch back.
	SetMarketDataType(dataType int)

	PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	CancelAll(ctx context.Context) error
	OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error)
	ListOrders(ctx context.Context) ([]*models.OrderRecord, error)

	Positions(ctx context.Context) ([]models.Position, error)
	Balance(ctx context.Context) (models.Balance, error)
	PnL(ctx context.Context) (models.PnLSummary, error)

	// Subscribe registers the callbacks invoked for order-status, execution
	// and disconnect events; see registerEventHandlersLocked.
	Subscribe(onOrderStatus func(payload map[string]any), onExecDetails func(payload map[string]any), onDisconnect func())
}
