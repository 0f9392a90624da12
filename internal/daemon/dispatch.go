package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/protocol"
	"github.com/north-brook/brokerd/internal/provider"
)

// dispatch routes a decoded request to its handler, mirroring server.py's
// giant _dispatch if/elif chain as a Go switch.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) (map[string]any, error) {
	p := req.Params

	switch req.Command {
	case "daemon.status":
		return s.cmdDaemonStatus(), nil
	case "daemon.stop":
		go s.Stop()
		return map[string]any{"stopping": true}, nil

	case "quote.snapshot":
		return s.cmdQuoteSnapshot(ctx, p)
	case "market.capabilities":
		return s.cmdMarketCapabilities(p), nil
	case "market.history":
		return s.cmdMarketHistory(ctx, p)
	case "market.chain":
		return s.cmdMarketChain(ctx, p)

	case "portfolio.positions":
		return s.cmdPortfolioPositions(ctx, p)
	case "portfolio.balance":
		return s.cmdPortfolioBalance(ctx)
	case "portfolio.pnl":
		return s.cmdPortfolioPnL(ctx)
	case "portfolio.exposure":
		return s.cmdPortfolioExposure(ctx, p)
	case "portfolio.snapshot":
		return s.cmdPortfolioSnapshot(ctx, p)

	case "order.place":
		return s.cmdOrderPlace(ctx, p)
	case "order.bracket":
		return s.cmdOrderBracket(ctx, p)
	case "order.status":
		return s.cmdOrderStatus(ctx, p)
	case "orders.list":
		return s.cmdOrdersList(p)
	case "order.cancel":
		return s.cmdOrderCancel(ctx, p)
	case "orders.cancel_all":
		return s.cmdOrdersCancelAll(ctx, p)
	case "fills.list":
		return s.cmdFillsList(p), nil

	case "risk.check":
		return s.cmdRiskCheck(ctx, p)
	case "risk.limits":
		return map[string]any{"limits": s.risk.Snapshot()}, nil
	case "risk.set":
		return s.cmdRiskSet(p)
	case "risk.halt":
		return s.cmdRiskHalt(ctx, req.Source)
	case "risk.resume":
		return s.cmdRiskResume(req.Source)
	case "risk.override":
		return s.cmdRiskOverride(p)

	case "runtime.keepalive":
		return s.cmdRuntimeKeepalive(p), nil

	case "audit.commands":
		return s.cmdAuditCommands(p)
	case "audit.orders":
		return s.cmdAuditOrders(p)
	case "audit.risk":
		return s.cmdAuditRisk(p)
	case "audit.export":
		return s.cmdAuditExport(p)

	case "schema.get":
		return s.cmdSchemaGet(p), nil

	case "events.subscribe":
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "events.subscribe requires stream: true")

	default:
		suggestion := SuggestCommand(req.Command)
		msg := fmt.Sprintf("unknown command %q", req.Command)
		if suggestion != "" {
			msg = fmt.Sprintf("%s; did you mean %q?", msg, suggestion)
		}
		return nil, brokererr.New(brokererr.CodeInvalidArgs, msg, brokererr.WithSuggestion(suggestion))
	}
}

func (s *Server) cmdDaemonStatus() map[string]any {
	return map[string]any{
		"uptime_seconds":         time.Since(s.startedAt).Seconds(),
		"connection":             s.provider.Status(),
		"provider_capabilities":  s.provider.Capabilities(),
		"risk_halted":            s.risk.Halted(),
		"socket":                 s.cfg.Runtime.SocketPath,
	}
}

func (s *Server) cmdQuoteSnapshot(ctx context.Context, p map[string]any) (map[string]any, error) {
	symbols := stringSlice(p["symbols"])
	if len(symbols) == 0 {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "symbols is required and must contain at least one item",
			brokererr.WithSuggestion("Example: broker quote AAPL MSFT"))
	}
	intent := models.QuoteIntent(stringOr(p["intent"], string(models.IntentBestEffort)))
	if !models.ValidIntents[intent] {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unsupported quote intent '%s'", intent),
			brokererr.WithSuggestion("Use intent best_effort, top_of_book, or last_only."))
	}

	quotes, err := s.marketData.Quote(ctx, symbols, intent, boolOr(p["force"], false))
	if err != nil {
		return nil, err
	}
	snapshot, cacheAgeMs := s.marketData.CapabilitySnapshot(symbols, false)
	return map[string]any{
		"quotes":                      quotes,
		"intent":                      string(intent),
		"provider_capabilities":       snapshot,
		"provider_capabilities_cache": map[string]any{"cache_age_ms": cacheAgeMs},
	}, nil
}

func (s *Server) cmdMarketCapabilities(p map[string]any) map[string]any {
	symbols := stringSlice(p["symbols"])
	refresh := boolOr(p["refresh"], false)
	snapshot, cacheAgeMs := s.marketData.CapabilitySnapshot(symbols, refresh)
	return map[string]any{
		"capabilities": snapshot,
		"cache":        map[string]any{"cache_age_ms": cacheAgeMs},
	}
}

func (s *Server) cmdMarketHistory(ctx context.Context, p map[string]any) (map[string]any, error) {
	if err := s.requireCapability(provider.CapHistory, "historical bars"); err != nil {
		return nil, err
	}
	symbol, err := requireString(p, "symbol")
	if err != nil {
		return nil, err
	}
	period := stringOr(p["period"], "30d")
	bar := stringOr(p["bar"], "1h")
	bars, err := s.provider.History(ctx, symbol, period, bar, boolOr(p["rth_only"], false))
	if err != nil {
		return nil, err
	}
	if boolOr(p["strict"], false) && len(bars) == 0 {
		return nil, brokererr.New(brokererr.CodeInvalidSymbol, fmt.Sprintf("no historical bars returned for symbol '%s'", symbol),
			brokererr.WithSuggestion("Use a valid symbol or disable strict mode."))
	}
	return map[string]any{"bars": bars}, nil
}

func (s *Server) cmdMarketChain(ctx context.Context, p map[string]any) (map[string]any, error) {
	if err := s.requireCapability(provider.CapOptionChain, "option chains"); err != nil {
		return nil, err
	}
	symbol, err := requireString(p, "symbol")
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)

	optionType := lower(stringOr(p["type"], ""))
	if optionType != "" && optionType != "call" && optionType != "put" {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unsupported option type '%s'", optionType),
			brokererr.WithSuggestion("Use type call or put"))
	}

	rawStrikeRange := p["strike_range"]
	if rawStrikeRange == nil {
		rawStrikeRange = "0.9:1.1"
	}
	strikeLo, strikeHi, err := parseStrikeRange(rawStrikeRange)
	if err != nil {
		return nil, err
	}

	limit, err := parsePositiveInt(p, "limit", 200, 1)
	if err != nil {
		return nil, err
	}
	offset, err := parsePositiveInt(p, "offset", 0, 0)
	if err != nil {
		return nil, err
	}
	fields, err := parseChainFields(p["fields"])
	if err != nil {
		return nil, err
	}

	chain, err := s.provider.OptionChain(ctx, symbol)
	if err != nil {
		return nil, err
	}

	entries := chain.Entries
	expiry := stringOr(p["expiry"], "")
	if expiry != "" {
		normalized := strings.ReplaceAll(expiry, "-", "")
		filtered := entries[:0:0]
		for _, e := range entries {
			if strings.HasPrefix(strings.ReplaceAll(e.Expiry, "-", ""), normalized) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if optionType != "" {
		wantRight := "C"
		if optionType == "put" {
			wantRight = "P"
		}
		filtered := entries[:0:0]
		for _, e := range entries {
			if strings.EqualFold(e.Right, wantRight) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	minStrike, maxStrike := strikeLo, strikeHi
	if chain.UnderlyingPrice != nil {
		underlying, _ := chain.UnderlyingPrice.Float64()
		minStrike = underlying * strikeLo
		maxStrike = underlying * strikeHi
	}
	filtered := entries[:0:0]
	for _, e := range entries {
		strike, _ := e.Strike.Float64()
		if strike >= minStrike && strike <= maxStrike {
			filtered = append(filtered, e)
		}
	}
	entries = filtered

	total := len(entries)
	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}
	page := entries[offset:end]

	strict := boolOr(p["strict"], false)
	if strict && len(page) == 0 {
		return nil, brokererr.New(brokererr.CodeInvalidSymbol, fmt.Sprintf("no option contracts matched filters for '%s'", symbol),
			brokererr.WithDetails(map[string]any{"symbol": symbol, "expiry": expiry, "offset": offset, "limit": limit}),
			brokererr.WithSuggestion("Relax filters, increase limit, or disable strict mode."))
	}

	result := map[string]any{
		"symbol":           chain.Symbol,
		"underlying_price": chain.UnderlyingPrice,
		"pagination": map[string]any{
			"total": total, "offset": offset, "limit": limit, "returned": len(page),
		},
	}
	if fields != nil {
		projected := make([]map[string]any, 0, len(page))
		for _, e := range page {
			projected = append(projected, projectChainEntry(e, fields))
		}
		result["entries"] = projected
		result["fields"] = fields
	} else {
		result["entries"] = page
	}
	return result, nil
}

func (s *Server) cmdPortfolioPositions(ctx context.Context, p map[string]any) (map[string]any, error) {
	positions, err := s.provider.Positions(ctx)
	if err != nil {
		return nil, err
	}
	if symbol, ok := p["symbol"].(string); ok && symbol != "" {
		filtered := positions[:0]
		for _, pos := range positions {
			if equalFold(pos.Symbol, symbol) {
				filtered = append(filtered, pos)
			}
		}
		positions = filtered
	}
	return map[string]any{"positions": positions}, nil
}

func (s *Server) cmdPortfolioBalance(ctx context.Context) (map[string]any, error) {
	balance, err := s.provider.Balance(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"balance": balance}, nil
}

func (s *Server) cmdPortfolioPnL(ctx context.Context) (map[string]any, error) {
	pnl, err := s.provider.PnL(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pnl": pnl}, nil
}

func (s *Server) cmdPortfolioExposure(ctx context.Context, p map[string]any) (map[string]any, error) {
	if err := s.requireCapability(provider.CapExposure, "portfolio exposure"); err != nil {
		return nil, err
	}
	by := stringOr(p["by"], "symbol")
	rows, err := s.provider.Exposure(ctx, by)
	if err != nil {
		return nil, err
	}
	return map[string]any{"exposure": rows, "by": by}, nil
}

func (s *Server) cmdPortfolioSnapshot(ctx context.Context, p map[string]any) (map[string]any, error) {
	intent := models.QuoteIntent(stringOr(p["intent"], string(models.IntentBestEffort)))
	if !models.ValidIntents[intent] {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unsupported quote intent '%s'", intent))
	}
	exposureBy := stringOr(p["exposure_by"], "symbol")

	positions, err := s.provider.Positions(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.provider.Balance(ctx)
	if err != nil {
		return nil, err
	}
	pnl, err := s.provider.PnL(ctx)
	if err != nil {
		return nil, err
	}

	symbols := stringSlice(p["symbols"])
	if len(symbols) == 0 {
		seen := map[string]bool{}
		for _, pos := range positions {
			if !seen[pos.Symbol] {
				seen[pos.Symbol] = true
				symbols = append(symbols, pos.Symbol)
			}
		}
	}
	var quotes []models.Quote
	if len(symbols) > 0 {
		quotes, err = s.marketData.Quote(ctx, symbols, intent, boolOr(p["force"], false))
		if err != nil {
			return nil, err
		}
	}

	var exposure []models.ExposureEntry
	if s.provider.Capabilities()[provider.CapExposure] {
		exposure, _ = s.provider.Exposure(ctx, exposureBy)
	}

	return map[string]any{
		"timestamp":    time.Now().UTC(),
		"symbols":      symbols,
		"quotes":       quotes,
		"positions":    positions,
		"balance":      balance,
		"pnl":          pnl,
		"exposure":     exposure,
		"exposure_by":  exposureBy,
		"risk_limits":  s.risk.Snapshot(),
		"risk_halted":  s.risk.Halted(),
		"connection":   s.provider.Status(),
	}, nil
}

func (s *Server) cmdOrderPlace(ctx context.Context, p map[string]any) (map[string]any, error) {
	req, err := parseOrderRequest(p)
	if err != nil {
		return nil, err
	}

	if boolOr(p["dry_run"], false) {
		riskCtx, err := s.orders.BuildRiskContextForPreview(ctx)
		if err != nil {
			return nil, err
		}
		result := s.risk.CheckOrder(req, riskCtx)
		eventType := "check_failed"
		if result.OK {
			eventType = "check_passed"
		}
		s.audit.LogRiskEvent(eventType, map[string]any{"dry_run": true, "symbol": req.Symbol, "side": string(req.Side), "qty": req.Qty})
		return map[string]any{
			"order":          previewOrder(req, result),
			"dry_run":        true,
			"risk_check":     result,
			"submit_allowed": result.OK,
		}, nil
	}

	record, err := s.orders.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"order":          record,
		"dry_run":        false,
		"risk_check":     record.RiskCheckResult,
		"submit_allowed": true,
	}, nil
}

func (s *Server) cmdOrderBracket(ctx context.Context, p map[string]any) (map[string]any, error) {
	if err := s.requireCapability(provider.CapBracketOrders, "bracket orders"); err != nil {
		return nil, err
	}
	symbol, err := requireString(p, "symbol")
	if err != nil {
		return nil, err
	}
	qty, err := requireFloat(p, "qty")
	if err != nil {
		return nil, err
	}
	entry, err := requireFloat(p, "entry")
	if err != nil {
		return nil, err
	}
	tp, err := requireFloat(p, "tp")
	if err != nil {
		return nil, err
	}
	sl, err := requireFloat(p, "sl")
	if err != nil {
		return nil, err
	}
	side := models.Side(lower(stringOr(p["side"], "buy")))
	tif := models.TIF(strings.ToUpper(stringOr(p["tif"], string(models.TIFDay))))

	bracket := buildBracket(side, symbol, qty, entry, tp, sl, tif)
	records, err := s.orders.PlaceBracket(ctx, bracket)
	if err != nil {
		return nil, err
	}
	return map[string]any{"orders": records}, nil
}

func (s *Server) cmdOrderStatus(ctx context.Context, p map[string]any) (map[string]any, error) {
	orderID, err := requireString(p, "order_id")
	if err != nil {
		return nil, err
	}
	record, err := s.orders.OrderStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unknown order_id '%s'", orderID))
	}
	return map[string]any{"order": record}, nil
}

func (s *Server) cmdOrdersList(p map[string]any) (map[string]any, error) {
	status := stringOr(p["status"], "all")
	if !orderStatusFilters[lower(status)] {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, fmt.Sprintf("unsupported orders status '%s'", status))
	}
	return map[string]any{"orders": s.orders.ListOrders(status, sinceFilter(p))}, nil
}

func (s *Server) cmdOrderCancel(ctx context.Context, p map[string]any) (map[string]any, error) {
	orderID, err := requireString(p, "order_id")
	if err != nil {
		return nil, err
	}
	if err := s.orders.CancelOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return map[string]any{"client_order_id": orderID, "cancelled": true}, nil
}

func (s *Server) cmdOrdersCancelAll(ctx context.Context, p map[string]any) (map[string]any, error) {
	if !boolOr(p["confirm"], false) && !boolOr(p["json_mode"], false) {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "cancel --all requires --confirm (unless JSON mode)")
	}
	if err := s.requireCapability(provider.CapCancelAll, "cancel all"); err != nil {
		return nil, err
	}
	if err := s.orders.CancelAll(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"cancelled": true}, nil
}

func (s *Server) cmdFillsList(p map[string]any) map[string]any {
	symbol, _ := p["symbol"].(string)
	return map[string]any{"fills": s.orders.ListFills(symbol, sinceFilter(p))}
}

func (s *Server) cmdRiskCheck(ctx context.Context, p map[string]any) (map[string]any, error) {
	req, err := parseOrderRequest(p)
	if err != nil {
		return nil, err
	}
	riskCtx, err := s.orders.BuildRiskContextForPreview(ctx)
	if err != nil {
		return nil, err
	}
	result := s.risk.CheckOrder(req, riskCtx)
	eventType := "check_failed"
	if result.OK {
		eventType = "check_passed"
	}
	s.audit.LogRiskEvent(eventType, map[string]any{"ok": result.OK, "reasons": result.Reasons})
	return map[string]any{"ok": result.OK, "reasons": result.Reasons, "details": result.Details, "suggestion": result.Suggestion}, nil
}

func (s *Server) cmdRiskSet(p map[string]any) (map[string]any, error) {
	param, err := requireString(p, "param")
	if err != nil {
		return nil, err
	}
	value, ok := p["value"]
	if !ok {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "value is required")
	}
	snapshot, err := s.risk.SetLimit(param, value)
	if err != nil {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, err.Error())
	}
	s.audit.LogRiskEvent("set", map[string]any{"param": param, "value": value})
	return map[string]any{"limits": snapshot}, nil
}

func (s *Server) cmdRiskHalt(ctx context.Context, source string) (map[string]any, error) {
	s.risk.Halt()
	s.orders.CancelAll(ctx)
	s.audit.LogRiskEvent("halt", map[string]any{"source": source})
	s.onOrderManagerEvent(models.Event{Topic: models.TopicRisk, Timestamp: time.Now().UTC(), Payload: map[string]any{"event": "halt"}})
	return map[string]any{"halted": true}, nil
}

func (s *Server) cmdRiskResume(source string) (map[string]any, error) {
	s.risk.Resume()
	s.audit.LogRiskEvent("resume", map[string]any{"source": source})
	s.onOrderManagerEvent(models.Event{Topic: models.TopicRisk, Timestamp: time.Now().UTC(), Payload: map[string]any{"event": "resume"}})
	return map[string]any{"halted": false}, nil
}

func (s *Server) cmdRiskOverride(p map[string]any) (map[string]any, error) {
	param, err := requireString(p, "param")
	if err != nil {
		return nil, err
	}
	value, ok := p["value"]
	if !ok {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "value is required")
	}
	duration, err := riskengineParseDuration(stringOr(p["duration"], "1h"))
	if err != nil {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, err.Error())
	}
	reason := stringOr(p["reason"], "manual override")
	override, err := s.risk.OverrideLimit(param, value, duration, reason)
	if err != nil {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, err.Error())
	}
	s.audit.LogRiskEvent("override", map[string]any{"param": param, "value": value, "reason": reason})
	return map[string]any{"override": override}, nil
}

func (s *Server) cmdRuntimeKeepalive(p map[string]any) map[string]any {
	s.heartbeat.Beat()
	return map[string]any{
		"ok":        true,
		"connected": s.provider.Status().Connected,
		"halted":    s.risk.Halted(),
	}
}

func (s *Server) cmdAuditCommands(p map[string]any) (map[string]any, error) {
	rows, err := s.auditQueryCommands(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"commands": rows}, nil
}

func (s *Server) cmdAuditOrders(p map[string]any) (map[string]any, error) {
	rows, err := s.auditQueryOrders(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"orders": rows}, nil
}

func (s *Server) cmdAuditRisk(p map[string]any) (map[string]any, error) {
	rows, err := s.auditQueryRisk(p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"risk_events": rows}, nil
}

func (s *Server) cmdSchemaGet(p map[string]any) map[string]any {
	requested, _ := p["command"].(string)
	if requested == "" {
		return map[string]any{"schema_version": "v1", "commands": KnownCommands}
	}
	return map[string]any{"schema_version": "v1", "command": requested}
}
