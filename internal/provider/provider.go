// Package provider defines the capability-typed broker adapter interface
// every gateway implementation (internal/provider/ib, and any future
// ETrade-style adapter) satisfies, grounded on spec.md §4.4 and
// original_source's daemon/connection.py.
package provider

import (
	"context"
	"time"

	"github.com/north-brook/brokerd/internal/models"
)

// Capability is a feature a provider may or may not support. Callers probe
// Provider.Capabilities() before relying on one, matching spec.md §4.4.
type Capability string

const (
	CapHistory          Capability = "history"
	CapOptionChain       Capability = "option_chain"
	CapExposure          Capability = "exposure"
	CapBracketOrders     Capability = "bracket_orders"
	CapStreaming         Capability = "streaming"
	CapCancelAll         Capability = "cancel_all"
	CapPersistentAuth    Capability = "persistent_auth"
	CapQuoteLive         Capability = "quote_live"
	CapQuoteDelayed      Capability = "quote_delayed"
	CapQuoteDelayedFrozen Capability = "quote_delayed_frozen"
)

// ConnectionStatus mirrors original_source's ConnectionStatus model.
type ConnectionStatus struct {
	Connected     bool
	Host          string
	Port          int
	ClientID      int
	ConnectedAt   *time.Time
	ServerVersion *int
	AccountID     string
	LastError     string
}

// BracketOrder groups an entry with its take-profit and stop-loss legs.
type BracketOrder struct {
	Entry      models.OrderRequest
	TakeProfit models.OrderRequest
	StopLoss   models.OrderRequest
}

// Provider is the broker gateway abstraction the order manager, market-data
// cache, and monitors all depend on instead of a concrete vendor SDK.
type Provider interface {
	// Name identifies the provider for logging and capability snapshots.
	Name() string

	// Capabilities reports the fixed set of features this provider supports.
	Capabilities() map[Capability]bool

	Connect(ctx context.Context) error
	Disconnect() error
	EnsureConnected(ctx context.Context) error
	Status() ConnectionStatus

	Quote(ctx context.Context, symbols []string, intent models.QuoteIntent) ([]models.Quote, error)
	History(ctx context.Context, symbol, period, bar string, rthOnly bool) ([]models.Bar, error)
	OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)

	PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error)
	PlaceBracket(ctx context.Context, bracket BracketOrder) ([]*models.OrderRecord, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	CancelAll(ctx context.Context) error
	OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error)
	ListOrders(ctx context.Context) ([]*models.OrderRecord, error)

	Positions(ctx context.Context) ([]models.Position, error)
	Balance(ctx context.Context) (models.Balance, error)
	PnL(ctx context.Context) (models.PnLSummary, error)
	Exposure(ctx context.Context, groupBy string) ([]models.ExposureEntry, error)

	// Events returns the channel the daemon's dispatcher drains to turn
	// broker callbacks (order status, fills, disconnects) into
	// models.Event broadcasts. The provider owns writing to it.
	Events() <-chan models.Event
}

// ValidExposureGroups mirrors connection.py's VALID_EXPOSURE_GROUPS.
var ValidExposureGroups = map[string]bool{
	"symbol":      true,
	"currency":    true,
	"sector":      true,
	"asset_class": true,
}
