// Package ordermanager is the order lifecycle state machine sitting between
// the dispatcher and the provider: idempotent placement by client_order_id,
// risk-context assembly, broker status normalization, and the in-memory
// order/fill ledger the audit log mirrors durably. Grounded on
// original_source/broker/packages/daemon/src/broker_daemon/daemon/order_manager.py
// and the teacher's execution/executor.go state-machine idiom.
package ordermanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
	"github.com/north-brook/brokerd/internal/riskengine"
)

// Manager owns the authoritative in-process order/fill ledger. The provider
// and audit log are both consulted but neither is authoritative on its own:
// the provider can restart and lose in-flight state, and the audit log is
// write-behind, so Manager's map is the source of truth for a running
// daemon process.
type Manager struct {
	provider provider.Provider
	risk     *riskengine.Engine
	audit    *audit.Logger
	emit     func(models.Event)

	mu     sync.Mutex
	orders map[string]*models.OrderRecord
	fills  []models.FillRecord
}

func New(p provider.Provider, risk *riskengine.Engine, auditLogger *audit.Logger, emit func(models.Event)) *Manager {
	return &Manager{
		provider: p,
		risk:     risk,
		audit:    auditLogger,
		emit:     emit,
		orders:   map[string]*models.OrderRecord{},
	}
}

// buildRiskContext assembles a fresh RiskContext from current provider
// state: NLV, positions-derived notional, marks (for held positions plus any
// extraSymbols, such as the symbol being ordered), and daily PnL.
func (m *Manager) buildRiskContext(ctx context.Context, extraSymbols ...string) (models.RiskContext, error) {
	rc := models.NewRiskContext()

	balance, err := m.provider.Balance(ctx)
	if err != nil {
		return rc, err
	}
	rc.NLV, _ = balance.NetLiquidation.Float64()

	positions, err := m.provider.Positions(ctx)
	if err != nil {
		return rc, err
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	symbols = append(symbols, extraSymbols...)

	marks := map[string]float64{}
	if len(symbols) > 0 {
		quotes, err := m.provider.Quote(ctx, symbols, models.IntentBestEffort)
		if err != nil {
			return rc, err
		}
		for _, q := range quotes {
			switch {
			case q.Last != nil:
				marks[q.Symbol], _ = q.Last.Float64()
			case q.Bid != nil:
				marks[q.Symbol], _ = q.Bid.Float64()
			case q.Ask != nil:
				marks[q.Symbol], _ = q.Ask.Float64()
			}
		}
	}
	rc.MarkPrices = marks

	for _, p := range positions {
		mark, ok := marks[p.Symbol]
		if !ok {
			if !p.MarketPrice.IsZero() {
				mark, _ = p.MarketPrice.Float64()
			} else {
				mark, _ = p.AvgCost.Float64()
			}
		}
		rc.PositionValues[p.Symbol] = mark * p.Qty
	}

	pnl, err := m.provider.PnL(ctx)
	if err != nil {
		return rc, err
	}
	rc.DailyPnL, _ = pnl.Total.Float64()

	m.mu.Lock()
	openOrders := 0
	for _, o := range m.orders {
		if models.ActiveStatuses[o.Status] {
			openOrders++
		}
	}
	m.mu.Unlock()
	rc.OpenOrders = openOrders

	return rc, nil
}

// BuildRiskContextForPreview exposes buildRiskContext to callers outside the
// package (order.place dry_run and risk.check) that need to run a check
// without submitting an order.
func (m *Manager) BuildRiskContextForPreview(ctx context.Context) (models.RiskContext, error) {
	return m.buildRiskContext(ctx)
}

// PlaceOrder is idempotent on ClientOrderID: a repeated request with the
// same ID returns the existing record instead of re-submitting.
func (m *Manager) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderRecord, error) {
	req.Normalize()
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	m.mu.Lock()
	if existing, ok := m.orders[clientOrderID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	riskCtx, err := m.buildRiskContext(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	riskResult, err := m.risk.AssertOrder(req, riskCtx)
	if err != nil {
		return nil, err
	}

	record := &models.OrderRecord{
		ClientOrderID:   clientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Qty:             req.Qty,
		OrderType:       req.InferredType(),
		LimitPrice:      req.Limit,
		StopPrice:       req.Stop,
		TIF:             req.TIF,
		Status:          models.StatusPendingSubmit,
		SubmittedAt:     time.Now().UTC(),
		RiskCheckResult: riskResultToMap(riskResult),
	}

	placed, err := m.provider.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	record.BrokerOrderID = placed.BrokerOrderID
	record.Status = placed.Status
	if record.Status == "" {
		record.Status = models.StatusSubmitted
	}

	m.mu.Lock()
	m.orders[clientOrderID] = record
	m.mu.Unlock()

	if err := m.audit.UpsertOrder(*record); err != nil {
		log.Error().Err(err).Str("client_order_id", clientOrderID).Msg("failed to persist order")
	}
	if err := m.audit.LogRiskEvent("check_passed", map[string]any{"client_order_id": clientOrderID}); err != nil {
		log.Error().Err(err).Msg("failed to persist risk event")
	}

	m.emitEvent(models.TopicOrders, map[string]any{
		"client_order_id": clientOrderID,
		"broker_order_id":  record.BrokerOrderID,
		"status":           string(record.Status),
	})

	return record, nil
}

// PlaceBracket risk-checks the entry leg only (take-profit/stop-loss are
// protective exits, not new risk-taking positions) before delegating to the
// provider's bracket submission.
func (m *Manager) PlaceBracket(ctx context.Context, bracket provider.BracketOrder) ([]*models.OrderRecord, error) {
	riskCtx, err := m.buildRiskContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := m.risk.AssertOrder(bracket.Entry, riskCtx); err != nil {
		return nil, err
	}

	records, err := m.provider.PlaceBracket(ctx, bracket)
	if err != nil {
		return records, err
	}

	if len(records) > 0 {
		m.mu.Lock()
		for _, r := range records {
			m.orders[r.ClientOrderID] = r
		}
		m.mu.Unlock()
		for _, r := range records {
			if err := m.audit.UpsertOrder(*r); err != nil {
				log.Error().Err(err).Msg("failed to persist bracket leg")
			}
		}
	}
	if err := m.audit.LogRiskEvent("check_passed", map[string]any{"type": "bracket"}); err != nil {
		log.Error().Err(err).Msg("failed to persist risk event")
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ClientOrderID)
	}
	m.emitEvent(models.TopicOrders, map[string]any{"client_order_ids": ids, "type": "bracket"})

	return records, nil
}

// UpdateOrderStatus applies a broker status-change callback to the
// in-memory record and mirrors it to the audit log.
func (m *Manager) UpdateOrderStatus(clientOrderID, rawStatus string, filledQty float64, avgFillPrice *float64) {
	m.mu.Lock()
	record, ok := m.orders[clientOrderID]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	record.Status = models.NormalizeBrokerStatus(rawStatus)
	if record.Status == models.StatusFilled {
		now := time.Now().UTC()
		record.FilledAt = &now
		record.FillQty = filledQty
		if avgFillPrice != nil {
			price := decimal.NewFromFloat(*avgFillPrice)
			record.FillPrice = &price
		}
	}
	m.mu.Unlock()

	if err := m.audit.UpsertOrder(*record); err != nil {
		log.Error().Err(err).Str("client_order_id", clientOrderID).Msg("failed to persist status update")
	}
}

// AddFill appends a fill to the in-memory ledger and persists it
// (idempotently, by FillID) to the audit log.
func (m *Manager) AddFill(fill models.FillRecord) error {
	m.mu.Lock()
	m.fills = append(m.fills, fill)
	m.mu.Unlock()

	if err := m.audit.LogFill(fill); err != nil {
		return fmt.Errorf("persisting fill: %w", err)
	}
	m.emitEvent(models.TopicFills, map[string]any{
		"fill_id":         fill.FillID,
		"client_order_id": fill.ClientOrderID,
		"symbol":          fill.Symbol,
		"qty":             fill.Qty,
		"price":           fill.Price.String(),
	})
	return nil
}

// CancelOrder cancels a tracked order, or falls through to the provider for
// one the manager doesn't know about (e.g. placed before a daemon restart).
func (m *Manager) CancelOrder(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	record, ok := m.orders[clientOrderID]
	m.mu.Unlock()

	if err := m.provider.CancelOrder(ctx, clientOrderID); err != nil {
		return err
	}

	if ok {
		m.mu.Lock()
		record.Status = models.StatusCancelled
		m.mu.Unlock()
		if err := m.audit.UpsertOrder(*record); err != nil {
			log.Error().Err(err).Msg("failed to persist cancellation")
		}
	}
	return nil
}

// CancelAll cancels every order at the provider and marks every locally
// tracked active order cancelled.
func (m *Manager) CancelAll(ctx context.Context) error {
	if err := m.provider.CancelAll(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	active := make([]*models.OrderRecord, 0)
	for _, record := range m.orders {
		if models.ActiveStatuses[record.Status] {
			record.Status = models.StatusCancelled
			active = append(active, record)
		}
	}
	m.mu.Unlock()

	for _, record := range active {
		if err := m.audit.UpsertOrder(*record); err != nil {
			log.Error().Err(err).Msg("failed to persist bulk cancellation")
		}
	}
	return nil
}

// OrderStatus returns the tracked record, falling through to the provider
// if this daemon process doesn't know about it.
func (m *Manager) OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	m.mu.Lock()
	record, ok := m.orders[clientOrderID]
	m.mu.Unlock()
	if ok {
		return record, nil
	}
	return m.provider.OrderStatus(ctx, clientOrderID)
}

// ListOrders returns tracked orders filtered by status: "all", "active", or
// an exact (case-insensitive) status name. When since is non-nil, only
// orders submitted at or after that time are returned.
func (m *Manager) ListOrders(status string, since *time.Time) []*models.OrderRecord {
	m.mu.Lock()
	items := make([]*models.OrderRecord, 0, len(m.orders))
	for _, record := range m.orders {
		if since != nil && record.SubmittedAt.Before(*since) {
			continue
		}
		items = append(items, record)
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].SubmittedAt.After(items[j].SubmittedAt)
	})

	switch strings.ToLower(status) {
	case "", "all":
		return items
	case "active":
		out := items[:0]
		for _, item := range items {
			if models.ActiveStatuses[item.Status] {
				out = append(out, item)
			}
		}
		return out
	default:
		out := items[:0]
		for _, item := range items {
			if strings.EqualFold(string(item.Status), status) {
				out = append(out, item)
			}
		}
		return out
	}
}

// ListFills returns tracked fills, optionally filtered by symbol and by a
// minimum timestamp.
func (m *Manager) ListFills(symbol string, since *time.Time) []models.FillRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.FillRecord, 0, len(m.fills))
	for _, f := range m.fills {
		if symbol != "" && !strings.EqualFold(f.Symbol, symbol) {
			continue
		}
		if since != nil && f.Timestamp.Before(*since) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (m *Manager) emitEvent(topic models.EventTopic, payload map[string]any) {
	if m.emit == nil {
		return
	}
	m.emit(models.Event{Topic: topic, Timestamp: time.Now().UTC(), Payload: payload})
}

func riskResultToMap(r models.RiskCheckResult) map[string]any {
	return map[string]any{
		"ok":         r.OK,
		"reasons":    r.Reasons,
		"details":    r.Details,
		"suggestion": r.Suggestion,
	}
}
