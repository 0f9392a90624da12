package ib

import (
	"context"
	"strings"

	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/models"
)

var historyDurations = map[string]string{
	"1d": "1 D", "5d": "5 D", "30d": "30 D", "90d": "90 D", "1y": "1 Y",
}

var historyBars = map[string]string{
	"1m": "1 min", "5m": "5 mins", "15m": "15 mins", "1h": "1 hour", "1d": "1 day",
}

const (
	marketDataTypeLive    = 1
	marketDataTypeDelayed = 3
)

// Quote fetches a live top-of-book quote per symbol, retrying any symbol
// whose live snapshot comes back empty (no last price — the gateway's usual
// signal that the account lacks a live market-data subscription, including
// during a competing live session) against delayed data, then switching the
// session's market-data type back to live for subsequent requests. Grounded
// on original_source/daemon/tests/test_daemon/test_ib_quote_fallback.py.
func (p *Provider) Quote(ctx context.Context, symbols []string, intent models.QuoteIntent) ([]models.Quote, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	quotes, err := client.Quote(ctx, upper)
	if err != nil {
		return nil, mapError("quote", err, brokererr.CodeIBRejected, "Confirm market data permissions and symbol validity.")
	}
	tagQuoteMeta(quotes, models.SourceLive, nil)

	if missing := emptyLastSymbols(quotes); len(missing) > 0 {
		client.SetMarketDataType(marketDataTypeDelayed)
		delayed, derr := client.Quote(ctx, missing)
		client.SetMarketDataType(marketDataTypeLive)
		if derr == nil {
			dataType := marketDataTypeDelayed
			tagQuoteMeta(delayed, models.SourceDelayed, &dataType)
			quotes = mergeQuotesBySymbol(quotes, delayed)
		}
	}

	flagMissingTopOfBook(quotes, intent)
	return quotes, nil
}

// tagQuoteMeta stamps each quote's meta.source, meta.market_data_type, and
// field-availability flags; meta.fallback_used is set only for delayed data.
func tagQuoteMeta(quotes []models.Quote, source models.QuoteSource, dataType *int) {
	for i := range quotes {
		if quotes[i].Meta == nil {
			quotes[i].Meta = &models.QuoteMeta{}
		}
		quotes[i].Meta.Source = source
		quotes[i].Meta.MarketDataType = dataType
		if source == models.SourceDelayed {
			quotes[i].Meta.FallbackUsed = true
		}
		quotes[i].Meta.Fields = models.QuoteFieldAvailability{
			Bid:    quotes[i].Bid != nil,
			Ask:    quotes[i].Ask != nil,
			Last:   quotes[i].Last != nil,
			Volume: quotes[i].Volume != nil,
		}
	}
}

// emptyLastSymbols returns the symbols of quotes carrying no last price,
// the empty-snapshot signal that triggers a delayed-data retry.
func emptyLastSymbols(quotes []models.Quote) []string {
	var out []string
	for _, q := range quotes {
		if q.Last == nil {
			out = append(out, q.Symbol)
		}
	}
	return out
}

// mergeQuotesBySymbol overlays replacements onto base by symbol, preserving
// base's ordering for symbols replacements doesn't cover.
func mergeQuotesBySymbol(base, replacements []models.Quote) []models.Quote {
	bySymbol := make(map[string]models.Quote, len(replacements))
	for _, q := range replacements {
		bySymbol[strings.ToUpper(q.Symbol)] = q
	}
	out := make([]models.Quote, len(base))
	for i, q := range base {
		if r, ok := bySymbol[strings.ToUpper(q.Symbol)]; ok {
			out[i] = r
			continue
		}
		out[i] = q
	}
	return out
}

// flagMissingTopOfBook marks quotes lacking bid or ask when the caller asked
// for top_of_book, surfacing the gap in response metadata instead of
// silently returning a partial book.
func flagMissingTopOfBook(quotes []models.Quote, intent models.QuoteIntent) {
	if intent != models.IntentTopOfBook {
		return
	}
	for i := range quotes {
		if quotes[i].Bid != nil && quotes[i].Ask != nil {
			continue
		}
		if quotes[i].Meta == nil {
			quotes[i].Meta = &models.QuoteMeta{}
		}
		quotes[i].Meta.MissingTopOfBook = true
	}
}

// History fetches OHLCV bars for symbol over period at the given bar size.
func (p *Provider) History(ctx context.Context, symbol, period, bar string, rthOnly bool) ([]models.Bar, error) {
	durationStr, ok := historyDurations[period]
	if !ok {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "unsupported period '"+period+"'")
	}
	barSize, ok := historyBars[bar]
	if !ok {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "unsupported bar size '"+bar+"'")
	}

	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	bars, err := client.History(ctx, strings.ToUpper(symbol), durationStr, barSize, rthOnly)
	if err != nil {
		return nil, mapError("history", err, brokererr.CodeIBRejected, "")
	}
	return bars, nil
}

// OptionChain fetches the option chain for symbol, including greeks where
// the gateway provides them.
func (p *Provider) OptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	chain, err := client.OptionChain(ctx, strings.ToUpper(symbol))
	if err != nil {
		return nil, mapError("option_chain", err, brokererr.CodeInvalidSymbol, "")
	}
	return chain, nil
}
