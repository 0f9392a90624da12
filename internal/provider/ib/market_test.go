package ib

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/models"
)

// quoteFallbackClient is a gatewayClient fake driving live/delayed
// market-data-type switching, grounded on
// original_source/daemon/tests/test_daemon/test_ib_quote_fallback.py's
// _FakeIB (reqMarketDataType flips which source reqTickersAsync reads from).
type quoteFallbackClient struct {
	fakeClient
	live          map[string]float64
	delayed       map[string]float64
	lastOnly      map[string]bool
	dataType      int
	dataTypeCalls []int
	quoteCalls    [][]string
}

func newQuoteFallbackClient() *quoteFallbackClient {
	return &quoteFallbackClient{dataType: marketDataTypeLive}
}

func (f *quoteFallbackClient) SetMarketDataType(dataType int) {
	f.dataType = dataType
	f.dataTypeCalls = append(f.dataTypeCalls, dataType)
}

func (f *quoteFallbackClient) Quote(ctx context.Context, symbols []string) ([]models.Quote, error) {
	f.quoteCalls = append(f.quoteCalls, append([]string(nil), symbols...))
	source := f.live
	if f.dataType == marketDataTypeDelayed {
		source = f.delayed
	}
	out := make([]models.Quote, len(symbols))
	for i, sym := range symbols {
		q := models.Quote{Symbol: sym, Currency: "USD"}
		if last, ok := source[sym]; ok {
			l := decimal.NewFromFloat(last)
			q.Last = &l
			if !f.lastOnly[sym] {
				bid := decimal.NewFromFloat(last - 0.01)
				ask := decimal.NewFromFloat(last + 0.01)
				q.Bid = &bid
				q.Ask = &ask
			}
		}
		out[i] = q
	}
	return out, nil
}

func connectedQuoteProvider(t *testing.T, client gatewayClient) *Provider {
	t.Helper()
	p := New(testGatewayConfig(), nil, func() gatewayClient { return client })
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return p
}

func TestQuoteRetriesWithDelayedDataWhenLiveSnapshotEmpty(t *testing.T) {
	t.Parallel()
	fc := newQuoteFallbackClient()
	fc.live = map[string]float64{}
	fc.delayed = map[string]float64{"AAPL": 185.22}
	p := connectedQuoteProvider(t, fc)

	quotes, err := p.Quote(context.Background(), []string{"AAPL"}, models.IntentBestEffort)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Meta == nil {
		t.Fatalf("unexpected quotes: %+v", quotes)
	}
	if quotes[0].Meta.Source != models.SourceDelayed || !quotes[0].Meta.FallbackUsed {
		t.Errorf("expected delayed fallback, got %+v", quotes[0].Meta)
	}
	last, _ := quotes[0].Last.Float64()
	if last != 185.22 {
		t.Errorf("expected last 185.22, got %v", last)
	}
	if len(fc.quoteCalls) != 2 || len(fc.quoteCalls[0]) != 1 || len(fc.quoteCalls[1]) != 1 {
		t.Errorf("expected two quote calls (live, then delayed-only retry), got %v", fc.quoteCalls)
	}
	if len(fc.dataTypeCalls) != 2 || fc.dataTypeCalls[0] != marketDataTypeDelayed || fc.dataTypeCalls[1] != marketDataTypeLive {
		t.Errorf("expected market data type switched to delayed then back to live, got %v", fc.dataTypeCalls)
	}
}

func TestQuoteKeepsLiveDataWhenAvailable(t *testing.T) {
	t.Parallel()
	fc := newQuoteFallbackClient()
	fc.live = map[string]float64{"AAPL": 190.01}
	fc.delayed = map[string]float64{"AAPL": 185.22}
	p := connectedQuoteProvider(t, fc)

	quotes, err := p.Quote(context.Background(), []string{"AAPL"}, models.IntentBestEffort)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quotes[0].Meta.Source != models.SourceLive || quotes[0].Meta.FallbackUsed {
		t.Errorf("expected live source with no fallback, got %+v", quotes[0].Meta)
	}
	last, _ := quotes[0].Last.Float64()
	if last != 190.01 {
		t.Errorf("expected last 190.01, got %v", last)
	}
	if len(fc.dataTypeCalls) != 0 {
		t.Errorf("expected no market data type switch, got %v", fc.dataTypeCalls)
	}
}

func TestQuoteRetriesOnlyMissingSymbols(t *testing.T) {
	t.Parallel()
	fc := newQuoteFallbackClient()
	fc.live = map[string]float64{"AAPL": 190.01}
	fc.delayed = map[string]float64{"AAPL": 185.22, "MSFT": 410.52}
	p := connectedQuoteProvider(t, fc)

	quotes, err := p.Quote(context.Background(), []string{"AAPL", "MSFT"}, models.IntentBestEffort)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	bySymbol := map[string]models.Quote{}
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	if bySymbol["AAPL"].Meta.Source != models.SourceLive {
		t.Errorf("expected AAPL to keep live data, got %+v", bySymbol["AAPL"].Meta)
	}
	if bySymbol["MSFT"].Meta.Source != models.SourceDelayed {
		t.Errorf("expected MSFT to fall back to delayed data, got %+v", bySymbol["MSFT"].Meta)
	}
	if len(fc.quoteCalls) != 2 || len(fc.quoteCalls[1]) != 1 || fc.quoteCalls[1][0] != "MSFT" {
		t.Errorf("expected the retry to request only the missing symbol, got %v", fc.quoteCalls)
	}
}

func TestQuoteFlagsMissingTopOfBookForTopOfBookIntent(t *testing.T) {
	t.Parallel()
	fc := newQuoteFallbackClient()
	fc.live = map[string]float64{"AAPL": 190.01}
	fc.lastOnly = map[string]bool{"AAPL": true}
	p := connectedQuoteProvider(t, fc)

	quotes, err := p.Quote(context.Background(), []string{"AAPL"}, models.IntentTopOfBook)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quotes[0].Bid != nil || quotes[0].Ask != nil {
		t.Fatalf("test fixture expected to omit bid/ask, got %+v", quotes[0])
	}
	if quotes[0].Meta == nil || !quotes[0].Meta.MissingTopOfBook {
		t.Errorf("expected missing_top_of_book to be flagged, got %+v", quotes[0].Meta)
	}
}

func TestQuoteDoesNotFlagMissingTopOfBookForOtherIntents(t *testing.T) {
	t.Parallel()
	fc := newQuoteFallbackClient()
	fc.live = map[string]float64{"AAPL": 190.01}
	fc.lastOnly = map[string]bool{"AAPL": true}
	p := connectedQuoteProvider(t, fc)

	quotes, err := p.Quote(context.Background(), []string{"AAPL"}, models.IntentBestEffort)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quotes[0].Meta.MissingTopOfBook {
		t.Errorf("expected missing_top_of_book to stay unset outside top_of_book intent")
	}
}
