// Package riskengine implements the mandatory pre-trade checks every order
// must pass before the order manager submits it to a provider, grounded on
// original_source/broker/packages/daemon/src/broker_daemon/risk/engine.py.
package riskengine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/models"
)

// Engine is the sole gatekeeper between an order request and a broker
// submission: no trade happens without its approval.
type Engine struct {
	mu             sync.Mutex
	limits         map[string]any
	halted         bool
	orderTimes     []time.Time
	duplicateTimes map[string]time.Time
	overrides      []models.RiskOverride
}

// New builds an Engine seeded from the configured defaults.
func New(cfg config.RiskConfig) *Engine {
	return &Engine{
		limits:         configToMap(cfg),
		duplicateTimes: map[string]time.Time{},
	}
}

// Halted reports whether trading is currently halted.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// cleanup evicts stale order timestamps, duplicate-window entries, and
// expired overrides. Caller must hold e.mu.
func (e *Engine) cleanup(now time.Time) {
	kept := e.orderTimes[:0]
	for _, t := range e.orderTimes {
		if now.Sub(t) <= time.Minute {
			kept = append(kept, t)
		}
	}
	e.orderTimes = kept

	dupWindow := time.Duration(e.effectiveValueLocked("duplicate_window_seconds").(int)) * time.Second
	for key, t := range e.duplicateTimes {
		if now.Sub(t) > dupWindow {
			delete(e.duplicateTimes, key)
		}
	}

	live := e.overrides[:0]
	for _, ov := range e.overrides {
		if ov.ExpiresAt.After(now) {
			live = append(live, ov)
		}
	}
	e.overrides = live
}

// effectiveValueLocked returns the most recent unexpired override for param,
// or the static limit if none applies. Caller must hold e.mu.
func (e *Engine) effectiveValueLocked(param string) any {
	now := time.Now().UTC()
	for i := len(e.overrides) - 1; i >= 0; i-- {
		ov := e.overrides[i]
		if ov.Param == param && ov.ExpiresAt.After(now) {
			if _, isInt := e.limits[param].(int); isInt {
				return int(ov.Value)
			}
			return ov.Value
		}
	}
	return e.limits[param]
}

// Snapshot returns the effective limits (overrides applied) and halt state.
func (e *Engine) Snapshot() models.RiskConfigSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanup(time.Now().UTC())
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() models.RiskConfigSnapshot {
	return models.RiskConfigSnapshot{
		MaxPositionPct:       e.effectiveValueLocked("max_position_pct").(float64),
		MaxOrderValue:        e.effectiveValueLocked("max_order_value").(float64),
		MaxDailyLossPct:      e.effectiveValueLocked("max_daily_loss_pct").(float64),
		MaxSectorExposurePct: e.effectiveValueLocked("max_sector_exposure_pct").(float64),
		MaxSingleNamePct:     e.effectiveValueLocked("max_single_name_pct").(float64),
		MaxOpenOrders:        e.effectiveValueLocked("max_open_orders").(int),
		OrderRateLimit:       e.effectiveValueLocked("order_rate_limit").(int),
		DuplicateWindowSecs:  e.effectiveValueLocked("duplicate_window_seconds").(int),
		SymbolAllowlist:      e.effectiveValueLocked("symbol_allowlist").([]string),
		SymbolBlocklist:      e.effectiveValueLocked("symbol_blocklist").([]string),
		Halted:               e.halted,
	}
}

// SetLimit permanently changes a risk parameter's static value.
func (e *Engine) SetLimit(param string, value any) (models.RiskConfigSnapshot, error) {
	coerced, err := coerceParam(param, value)
	if err != nil {
		return models.RiskConfigSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits[param] = coerced
	e.cleanup(time.Now().UTC())
	return e.snapshotLocked(), nil
}

// OverrideLimit applies a time-bounded override to a numeric parameter.
func (e *Engine) OverrideLimit(param string, value any, duration time.Duration, reason string) (models.RiskOverride, error) {
	coerced, err := coerceParam(param, value)
	if err != nil {
		return models.RiskOverride{}, err
	}
	var numeric float64
	switch v := coerced.(type) {
	case float64:
		numeric = v
	case int:
		numeric = float64(v)
	default:
		return models.RiskOverride{}, fmt.Errorf("risk override supports only numeric params, got %q", param)
	}

	now := time.Now().UTC()
	override := models.RiskOverride{
		Param:     param,
		Value:     numeric,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides = append(e.overrides, override)
	return override, nil
}

// Halt immediately blocks every subsequent order until Resume is called.
func (e *Engine) Halt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halted = true
	log.Warn().Msg("risk engine halted: trading blocked")
}

// Resume lifts a prior Halt.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halted = false
	log.Info().Msg("risk engine resumed: trading allowed")
}

// ListOverrides returns the currently active (unexpired) overrides.
func (e *Engine) ListOverrides() []models.RiskOverride {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanup(time.Now().UTC())
	out := make([]models.RiskOverride, len(e.overrides))
	copy(out, e.overrides)
	return out
}

// CheckOrder runs the 9-step pre-trade check sequence and records
// bookkeeping (rate-limit timestamp, duplicate-window key) only on success.
func (e *Engine) CheckOrder(order models.OrderRequest, ctx models.RiskContext) models.RiskCheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	e.cleanup(now)

	if e.halted {
		return models.RiskCheckResult{
			OK:      false,
			Reasons: []string{"trading is halted"},
			Details: map[string]any{
				"halted":          true,
				"violation_codes": []string{string(brokererr.CodeRiskHalted)},
			},
		}
	}

	var reasons []string
	details := map[string]any{}
	violationCodes := map[string]bool{}

	symbol := strings.ToUpper(order.Symbol)
	allowlist := e.effectiveValueLocked("symbol_allowlist").([]string)
	blocklist := e.effectiveValueLocked("symbol_blocklist").([]string)
	if len(allowlist) > 0 && !contains(allowlist, symbol) {
		reasons = append(reasons, fmt.Sprintf("symbol %s is not in allowlist", symbol))
	}
	if contains(blocklist, symbol) {
		reasons = append(reasons, fmt.Sprintf("symbol %s is in blocklist", symbol))
	}

	rateLimit := e.effectiveValueLocked("order_rate_limit").(int)
	if len(e.orderTimes) >= rateLimit {
		reasons = append(reasons, fmt.Sprintf("order rate limit exceeded (%d/minute)", rateLimit))
		details["orders_last_minute"] = len(e.orderTimes)
		details["limit"] = rateLimit
		violationCodes[string(brokererr.CodeRateLimited)] = true
	}

	duplicateKey := order.DuplicateKey()
	if _, dup := e.duplicateTimes[duplicateKey]; dup {
		reasons = append(reasons, "duplicate order detected inside duplicate window")
		details["duplicate_window_seconds"] = e.effectiveValueLocked("duplicate_window_seconds").(int)
		violationCodes[string(brokererr.CodeDuplicateOrder)] = true
	}

	mark := 0.0
	switch {
	case order.Limit != nil:
		mark, _ = order.Limit.Float64()
	case order.Stop != nil:
		mark, _ = order.Stop.Float64()
	default:
		mark = ctx.MarkPrices[symbol]
	}
	notional := math.Abs(order.Qty * mark)
	details["notional"] = notional

	maxOrderValue := e.effectiveValueLocked("max_order_value").(float64)
	if maxOrderValue > 0 && notional > maxOrderValue {
		reasons = append(reasons, fmt.Sprintf("order notional %.2f exceeds max_order_value %.2f", notional, maxOrderValue))
	}

	maxOpenOrders := e.effectiveValueLocked("max_open_orders").(int)
	if ctx.OpenOrders >= maxOpenOrders {
		reasons = append(reasons, fmt.Sprintf("open orders %d exceed max_open_orders %d", ctx.OpenOrders, maxOpenOrders))
	}

	if ctx.NLV > 0 {
		currentValue := ctx.PositionValues[symbol]
		signedNotional := notional
		if order.Side == models.SideSell {
			signedNotional = -notional
		}
		projectedValue := currentValue + signedNotional
		projectedPct := math.Abs(projectedValue) / ctx.NLV * 100.0

		maxPositionPct := e.effectiveValueLocked("max_position_pct").(float64)
		if projectedPct > maxPositionPct {
			reasons = append(reasons, fmt.Sprintf("projected position %.2f%% exceeds max_position_pct %.2f%%", projectedPct, maxPositionPct))
		}

		maxSingleNamePct := e.effectiveValueLocked("max_single_name_pct").(float64)
		if projectedPct > maxSingleNamePct {
			reasons = append(reasons, fmt.Sprintf("projected position %.2f%% exceeds max_single_name_pct %.2f%%", projectedPct, maxSingleNamePct))
		}

		if sector := ctx.SectorBySymbol[symbol]; sector != "" {
			currentSector := ctx.SectorExposureValues[sector]
			projectedSectorPct := math.Abs(currentSector+signedNotional) / ctx.NLV * 100.0
			details["sector"] = sector
			details["projected_sector_pct"] = round4(projectedSectorPct)

			maxSector := e.effectiveValueLocked("max_sector_exposure_pct").(float64)
			if projectedSectorPct > maxSector {
				reasons = append(reasons, fmt.Sprintf("projected sector exposure %.2f%% exceeds max_sector_exposure_pct %.2f%%", projectedSectorPct, maxSector))
			}
		}

		maxDailyLossPct := e.effectiveValueLocked("max_daily_loss_pct").(float64)
		lossPct := math.Abs(math.Min(ctx.DailyPnL, 0.0)) / ctx.NLV * 100.0
		details["daily_loss_pct"] = round4(lossPct)
		if lossPct > maxDailyLossPct {
			reasons = append(reasons, fmt.Sprintf("daily drawdown %.2f%% exceeds max_daily_loss_pct %.2f%%", lossPct, maxDailyLossPct))
		}
	}

	if len(reasons) > 0 {
		if len(violationCodes) > 0 {
			codes := make([]string, 0, len(violationCodes))
			for code := range violationCodes {
				codes = append(codes, code)
			}
			details["violation_codes"] = codes
		}
		suggestion := ""
		if notional > maxOrderValue && mark > 0 {
			maxQty := int(maxOrderValue / mark)
			suggestion = fmt.Sprintf("reduce quantity to <= %d", maxQty)
		}
		return models.RiskCheckResult{OK: false, Reasons: reasons, Details: details, Suggestion: suggestion}
	}

	e.orderTimes = append(e.orderTimes, now)
	e.duplicateTimes[duplicateKey] = now
	return models.RiskCheckResult{OK: true, Details: details}
}

// AssertOrder runs CheckOrder and converts a failure into a typed
// brokererr.Error, picking the most specific error code available:
// RISK_HALTED takes precedence, then RATE_LIMITED, then DUPLICATE_ORDER,
// else the generic RISK_CHECK_FAILED.
func (e *Engine) AssertOrder(order models.OrderRequest, ctx models.RiskContext) (models.RiskCheckResult, error) {
	result := e.CheckOrder(order, ctx)
	if result.OK {
		return result, nil
	}

	code := brokererr.CodeRiskCheckFailed
	if halted, _ := result.Details["halted"].(bool); halted {
		code = brokererr.CodeRiskHalted
	} else if hasViolation(result.Details, brokererr.CodeRateLimited) {
		code = brokererr.CodeRateLimited
	} else if hasViolation(result.Details, brokererr.CodeDuplicateOrder) {
		code = brokererr.CodeDuplicateOrder
	}

	return result, brokererr.New(code, strings.Join(result.Reasons, "; "),
		brokererr.WithDetails(result.Details),
		brokererr.WithSuggestion(result.Suggestion))
}

func hasViolation(details map[string]any, code brokererr.Code) bool {
	codes, _ := details["violation_codes"].([]string)
	for _, c := range codes {
		if c == string(code) {
			return true
		}
	}
	return false
}

// CheckDrawdownBreaker reports whether daily PnL has breached
// max_daily_loss_pct of nlv, and the computed loss percentage. The PnL basis
// (realized/unrealized/total) is selected by the caller (the monitor loop)
// per config.RiskConfig.DrawdownBasis.
func (e *Engine) CheckDrawdownBreaker(dailyPnL, nlv float64) (bool, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if nlv <= 0 {
		return false, 0.0
	}
	lossPct := math.Abs(math.Min(dailyPnL, 0.0)) / nlv * 100.0
	maxDailyLossPct := e.effectiveValueLocked("max_daily_loss_pct").(float64)
	return lossPct > maxDailyLossPct, lossPct
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// ParseDuration accepts the CLI's "30s", "5m", "2h" style shorthand, or a
// bare integer number of seconds.
func ParseDuration(value string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	unit := raw[len(raw)-1]
	switch unit {
	case 'h', 'm', 's':
		n, err := strconv.Atoi(raw[:len(raw)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		switch unit {
		case 'h':
			return time.Duration(n) * time.Hour, nil
		case 'm':
			return time.Duration(n) * time.Minute, nil
		default:
			return time.Duration(n) * time.Second, nil
		}
	default:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * time.Second, nil
	}
}
