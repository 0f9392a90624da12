// Package models holds the value records shared across the daemon's
// subsystems, grounded on broker_daemon/models/orders.py and
// broker_daemon/models/market.py in original_source.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type TIF string

const (
	TIFDay TIF = "DAY"
	TIFGTC TIF = "GTC"
	TIFIOC TIF = "IOC"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeBracket   OrderType = "bracket"
)

// OrderStatus is the closed set from spec.md §3.
type OrderStatus string

const (
	StatusSubmitted     OrderStatus = "Submitted"
	StatusAcknowledged  OrderStatus = "Acknowledged"
	StatusPendingSubmit OrderStatus = "PendingSubmit"
	StatusPreSubmitted  OrderStatus = "PreSubmitted"
	StatusFilled        OrderStatus = "Filled"
	StatusCancelled     OrderStatus = "Cancelled"
	StatusRejected      OrderStatus = "Rejected"
	StatusInactive      OrderStatus = "Inactive"
)

// ActiveStatuses is the ACTIVE set from spec.md §3.
var ActiveStatuses = map[OrderStatus]bool{
	StatusSubmitted:     true,
	StatusAcknowledged:  true,
	StatusPendingSubmit: true,
	StatusPreSubmitted:  true,
}

// OrderRequest is the caller-supplied, immutable-after-validation request.
type OrderRequest struct {
	Side          Side               `json:"side" msgpack:"side"`
	Symbol        string             `json:"symbol" msgpack:"symbol"`
	Qty           float64            `json:"qty" msgpack:"qty"`
	Limit         *decimal.Decimal   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Stop          *decimal.Decimal   `json:"stop,omitempty" msgpack:"stop,omitempty"`
	TIF           TIF                `json:"tif" msgpack:"tif"`
	ClientOrderID string             `json:"client_order_id,omitempty" msgpack:"client_order_id,omitempty"`
	Tags          map[string]any     `json:"tags,omitempty" msgpack:"tags,omitempty"`
}

// Normalize applies the symbol uppercasing/trimming and TIF default
// mandated by spec.md §3.
func (r *OrderRequest) Normalize() {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.TIF == "" {
		r.TIF = TIFDay
	}
}

// InferredType implements the (limit?, stop?) -> order type table.
func (r *OrderRequest) InferredType() OrderType {
	switch {
	case r.Limit != nil && r.Stop != nil:
		return OrderTypeStopLimit
	case r.Limit != nil:
		return OrderTypeLimit
	case r.Stop != nil:
		return OrderTypeStop
	default:
		return OrderTypeMarket
	}
}

// DuplicateKey builds the side:symbol:qty:limit:stop:tif fingerprint used by
// the risk engine's duplicate-window check.
func (r *OrderRequest) DuplicateKey() string {
	limitStr, stopStr := "", ""
	if r.Limit != nil {
		limitStr = r.Limit.String()
	}
	if r.Stop != nil {
		stopStr = r.Stop.String()
	}
	return strings.Join([]string{
		string(r.Side), r.Symbol, decimal.NewFromFloat(r.Qty).String(), limitStr, stopStr, string(r.TIF),
	}, ":")
}

// OrderRecord is owned exclusively by the order manager.
type OrderRecord struct {
	ClientOrderID   string           `json:"client_order_id" msgpack:"client_order_id"`
	BrokerOrderID   *int64           `json:"broker_order_id,omitempty" msgpack:"broker_order_id,omitempty"`
	Symbol          string           `json:"symbol" msgpack:"symbol"`
	Side            Side             `json:"side" msgpack:"side"`
	Qty             float64          `json:"qty" msgpack:"qty"`
	OrderType       OrderType        `json:"order_type" msgpack:"order_type"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty" msgpack:"limit_price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty" msgpack:"stop_price,omitempty"`
	TIF             TIF              `json:"tif" msgpack:"tif"`
	Status          OrderStatus      `json:"status" msgpack:"status"`
	SubmittedAt     time.Time        `json:"submitted_at" msgpack:"submitted_at"`
	FilledAt        *time.Time       `json:"filled_at,omitempty" msgpack:"filled_at,omitempty"`
	FillPrice       *decimal.Decimal `json:"fill_price,omitempty" msgpack:"fill_price,omitempty"`
	FillQty         float64          `json:"fill_qty" msgpack:"fill_qty"`
	Commission      *decimal.Decimal `json:"commission,omitempty" msgpack:"commission,omitempty"`
	RiskCheckResult map[string]any   `json:"risk_check_result,omitempty" msgpack:"risk_check_result,omitempty"`
}

// FillRecord is append-only and deduplicated by FillID on write.
type FillRecord struct {
	FillID        string          `json:"fill_id" msgpack:"fill_id"`
	ClientOrderID string          `json:"client_order_id" msgpack:"client_order_id"`
	BrokerOrderID *int64          `json:"broker_order_id,omitempty" msgpack:"broker_order_id,omitempty"`
	Symbol        string          `json:"symbol" msgpack:"symbol"`
	Qty           float64         `json:"qty" msgpack:"qty"`
	Price         decimal.Decimal `json:"price" msgpack:"price"`
	Commission    decimal.Decimal `json:"commission" msgpack:"commission"`
	Timestamp     time.Time       `json:"timestamp" msgpack:"timestamp"`
}

// NormalizeBrokerStatus implements the case-insensitive, trimmed mapping
// from spec.md §4.6. Unknown labels fall back to Submitted.
func NormalizeBrokerStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "submitted":
		return StatusSubmitted
	case "acknowledged":
		return StatusAcknowledged
	case "pendingsubmit":
		return StatusPendingSubmit
	case "presubmitted":
		return StatusPreSubmitted
	case "filled":
		return StatusFilled
	case "cancelled", "api cancelled":
		return StatusCancelled
	case "rejected":
		return StatusRejected
	case "inactive":
		return StatusInactive
	default:
		return StatusSubmitted
	}
}
