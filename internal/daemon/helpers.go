package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
	"github.com/north-brook/brokerd/internal/riskengine"
)

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolOr(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func requireString(p map[string]any, key string) (string, error) {
	v, ok := p[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", brokererr.New(brokererr.CodeInvalidArgs, key+" is required")
	}
	return v, nil
}

func requireFloat(p map[string]any, key string) (float64, error) {
	switch v := p[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, brokererr.New(brokererr.CodeInvalidArgs, key+" is required and must be numeric")
	}
}

func optionalDecimal(p map[string]any, key string) (*decimal.Decimal, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	default:
		return nil, brokererr.New(brokererr.CodeInvalidArgs, key+" must be numeric")
	}
	d := decimal.NewFromFloat(f)
	return &d, nil
}

// parseOrderRequest builds and normalizes an OrderRequest from a command's
// raw params, mirroring order_manager.py's request validation.
func parseOrderRequest(p map[string]any) (models.OrderRequest, error) {
	symbol, err := requireString(p, "symbol")
	if err != nil {
		return models.OrderRequest{}, err
	}
	qty, err := requireFloat(p, "qty")
	if err != nil {
		return models.OrderRequest{}, err
	}
	if qty <= 0 {
		return models.OrderRequest{}, brokererr.New(brokererr.CodeInvalidArgs, "qty must be positive")
	}

	limit, err := optionalDecimal(p, "limit")
	if err != nil {
		return models.OrderRequest{}, err
	}
	stop, err := optionalDecimal(p, "stop")
	if err != nil {
		return models.OrderRequest{}, err
	}

	side := models.Side(lower(stringOr(p["side"], "")))
	if side != models.SideBuy && side != models.SideSell {
		return models.OrderRequest{}, brokererr.New(brokererr.CodeInvalidArgs, "side must be 'buy' or 'sell'")
	}

	clientOrderID := stringOr(p["client_order_id"], stringOr(p["idempotency_key"], ""))

	var tags map[string]any
	if raw, ok := p["tags"].(map[string]any); ok {
		tags = raw
	}

	req := models.OrderRequest{
		Side:          side,
		Symbol:        symbol,
		Qty:           qty,
		Limit:         limit,
		Stop:          stop,
		TIF:           models.TIF(strings.ToUpper(stringOr(p["tif"], string(models.TIFDay)))),
		ClientOrderID: clientOrderID,
		Tags:          tags,
	}
	req.Normalize()
	return req, nil
}

// previewOrder renders the would-be OrderRecord for a dry_run order.place,
// without ever reaching the provider.
func previewOrder(req models.OrderRequest, result models.RiskCheckResult) models.OrderRecord {
	return models.OrderRecord{
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Qty:             req.Qty,
		OrderType:       req.InferredType(),
		LimitPrice:      req.Limit,
		StopPrice:       req.Stop,
		TIF:             req.TIF,
		Status:          models.StatusPendingSubmit,
		SubmittedAt:     time.Now().UTC(),
		RiskCheckResult: riskResultToMap(result),
	}
}

func riskResultToMap(r models.RiskCheckResult) map[string]any {
	return map[string]any{
		"ok":         r.OK,
		"reasons":    r.Reasons,
		"details":    r.Details,
		"suggestion": r.Suggestion,
	}
}

func buildBracket(side models.Side, symbol string, qty, entry, tp, sl float64, tif models.TIF) provider.BracketOrder {
	entryD := decimal.NewFromFloat(entry)
	tpD := decimal.NewFromFloat(tp)
	slD := decimal.NewFromFloat(sl)

	exitSide := models.SideSell
	if side == models.SideSell {
		exitSide = models.SideBuy
	}

	entryReq := models.OrderRequest{Side: side, Symbol: symbol, Qty: qty, Limit: &entryD, TIF: tif}
	tpReq := models.OrderRequest{Side: exitSide, Symbol: symbol, Qty: qty, Limit: &tpD, TIF: tif}
	slReq := models.OrderRequest{Side: exitSide, Symbol: symbol, Qty: qty, Stop: &slD, TIF: tif}
	entryReq.Normalize()
	tpReq.Normalize()
	slReq.Normalize()

	return provider.BracketOrder{Entry: entryReq, TakeProfit: tpReq, StopLoss: slReq}
}

func riskengineParseDuration(value string) (time.Duration, error) {
	return riskengine.ParseDuration(value)
}

// chainFields is the set of projectable OptionChainEntry fields for
// market.chain's fields param, mirroring OPTION_CHAIN_FIELDS.
var chainFields = map[string]bool{
	"symbol": true, "right": true, "strike": true, "expiry": true,
	"bid": true, "ask": true, "implied_vol": true,
	"delta": true, "gamma": true, "theta": true, "vega": true,
}

// parseStrikeRange parses a "lo:hi" strike-range fraction, e.g. "0.8:1.2".
func parseStrikeRange(raw any) (lo, hi float64, err error) {
	text, ok := raw.(string)
	if !ok || !strings.Contains(text, ":") {
		return 0, 0, brokererr.New(brokererr.CodeInvalidArgs, "strike-range must be like 0.8:1.2",
			brokererr.WithSuggestion("Example: strike_range 0.8:1.2"))
	}
	left, right, _ := strings.Cut(text, ":")
	lo, errLo := strconv.ParseFloat(strings.TrimSpace(left), 64)
	hi, errHi := strconv.ParseFloat(strings.TrimSpace(right), 64)
	if errLo != nil || errHi != nil {
		return 0, 0, brokererr.New(brokererr.CodeInvalidArgs, "strike-range must be numeric, like 0.8:1.2",
			brokererr.WithSuggestion("Example: strike_range 0.8:1.2"))
	}
	return lo, hi, nil
}

// parsePositiveInt reads an integer param with a floor, defaulting when the
// key is absent.
func parsePositiveInt(p map[string]any, key string, fallback, minValue int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return fallback, nil
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	default:
		return 0, brokererr.New(brokererr.CodeInvalidArgs, key+" must be an integer")
	}
	if n < minValue {
		return 0, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("%s must be >= %d", key, minValue))
	}
	return n, nil
}

// parseChainFields normalizes and validates market.chain's fields param.
func parseChainFields(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var values []string
	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
				values = append(values, part)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
					values = append(values, s)
				}
			}
		}
	default:
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "fields must be a list or comma-separated string")
	}
	if len(values) == 0 {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "fields must contain at least one value")
	}
	for _, f := range values {
		if !chainFields[f] {
			return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unsupported chain field '%s'", f),
				brokererr.WithSuggestion("Use --fields symbol,strike,expiry,bid,ask"))
		}
	}
	return values, nil
}

// projectChainEntry returns a map containing only the requested fields of
// an option chain entry.
func projectChainEntry(e models.OptionChainEntry, fields []string) map[string]any {
	full := map[string]any{
		"symbol": e.Symbol, "right": e.Right, "strike": e.Strike, "expiry": e.Expiry,
		"bid": e.Bid, "ask": e.Ask, "implied_vol": e.ImpliedVol,
		"delta": e.Delta, "gamma": e.Gamma, "theta": e.Theta, "vega": e.Vega,
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = full[f]
	}
	return out
}

func sinceFilter(p map[string]any) *time.Time {
	raw, ok := p["since"].(string)
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (s *Server) auditQueryCommands(p map[string]any) ([]audit.CommandRow, error) {
	filter := audit.CommandFilter{
		Source: stringOr(p["source"], ""),
		Since:  sinceFilter(p),
	}
	return s.audit.QueryCommands(filter)
}

func (s *Server) auditQueryOrders(p map[string]any) ([]audit.OrderRow, error) {
	filter := audit.OrderFilter{
		Status: stringOr(p["status"], ""),
		Since:  sinceFilter(p),
	}
	return s.audit.QueryOrders(filter)
}

func (s *Server) auditQueryRisk(p map[string]any) ([]audit.RiskEventRow, error) {
	return s.audit.QueryRiskEvents(stringOr(p["event_type"], ""))
}

// cmdAuditExport writes the requested audit table to a CSV file at output,
// mirroring server.py's export_orders/_dispatch table switch.
func (s *Server) cmdAuditExport(p map[string]any) (map[string]any, error) {
	output, err := requireString(p, "output")
	if err != nil {
		return nil, err
	}
	table := lower(stringOr(p["table"], "orders"))

	file, err := os.Create(output)
	if err != nil {
		return nil, brokererr.New(brokererr.CodeInternal, fmt.Sprintf("failed to open export file '%s': %v", output, err))
	}
	defer file.Close()

	var rows int
	switch table {
	case "orders":
		filter := audit.OrderFilter{Status: stringOr(p["status"], ""), Since: sinceFilter(p)}
		if err := s.audit.ExportOrdersCSV(file, filter); err != nil {
			return nil, err
		}
		exported, err := s.audit.QueryOrders(filter)
		if err != nil {
			return nil, err
		}
		rows = len(exported)
	case "commands":
		filter := audit.CommandFilter{Source: stringOr(p["source"], ""), Since: sinceFilter(p)}
		if err := s.audit.ExportCommandsCSV(file, filter); err != nil {
			return nil, err
		}
		exported, err := s.audit.QueryCommands(filter)
		if err != nil {
			return nil, err
		}
		rows = len(exported)
	case "risk":
		eventType := stringOr(p["event_type"], "")
		if err := s.audit.ExportRiskEventsCSV(file, eventType); err != nil {
			return nil, err
		}
		exported, err := s.audit.QueryRiskEvents(eventType)
		if err != nil {
			return nil, err
		}
		rows = len(exported)
	default:
		return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unsupported export table '%s'", table),
			brokererr.WithSuggestion("Use table orders, commands, or risk"))
	}

	return map[string]any{"output": output, "rows": rows}, nil
}
