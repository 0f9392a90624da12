// Package marketdata wraps a provider with a TTL snapshot cache, a
// history-based last-price fallback, and a capability-probe memoization
// layer, grounded on spec.md §4.5 and
// original_source/broker/daemon/src/broker_daemon/daemon/market_data.py.
package marketdata

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
)

const (
	defaultCacheTTL      = 2 * time.Second
	defaultCapabilityTTL = 30 * time.Second
)

// Service is the market-data cache every quote-serving command reads
// through instead of hitting the provider directly on every request.
type Service struct {
	provider      provider.Provider
	cacheTTL      time.Duration
	capabilityTTL time.Duration

	mu        sync.Mutex
	quotes    map[string]models.Quote
	updatedAt map[string]time.Time

	capMu           sync.Mutex
	capSnapshot     models.ProviderQuoteCapabilities
	capSnapshotAt   time.Time
	capSnapshotSet  bool
}

func New(p provider.Provider, cacheTTL time.Duration) *Service {
	return NewWithCapabilityTTL(p, cacheTTL, defaultCapabilityTTL)
}

// NewWithCapabilityTTL is New plus an explicit capability_ttl_seconds,
// matching spec.md §4.4's probe-memoization window, independent of the
// quote snapshot's own cacheTTL.
func NewWithCapabilityTTL(p provider.Provider, cacheTTL, capabilityTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if capabilityTTL <= 0 {
		capabilityTTL = defaultCapabilityTTL
	}
	return &Service{
		provider:      p,
		cacheTTL:      cacheTTL,
		capabilityTTL: capabilityTTL,
		quotes:        map[string]models.Quote{},
		updatedAt:     map[string]time.Time{},
	}
}

// Quote returns quotes for symbols in the caller's requested order,
// filtered to symbols the provider actually knows about. Symbols missing
// from the cache, stale past the TTL, or under forceRefresh are fetched
// from the provider in a single batched call.
func (s *Service) Quote(ctx context.Context, symbols []string, intent models.QuoteIntent, forceRefresh bool) ([]models.Quote, error) {
	now := time.Now().UTC()
	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(sym)
	}

	s.mu.Lock()
	var uncached []string
	for _, sym := range upper {
		updated, ok := s.updatedAt[sym]
		if forceRefresh || !ok || now.Sub(updated) > s.cacheTTL {
			uncached = append(uncached, sym)
		}
	}
	s.mu.Unlock()

	if len(uncached) > 0 {
		fresh, err := s.provider.Quote(ctx, uncached, intent)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		for _, q := range fresh {
			s.quotes[strings.ToUpper(q.Symbol)] = q
			s.updatedAt[strings.ToUpper(q.Symbol)] = now
		}
		s.mu.Unlock()

		if intent != models.IntentTopOfBook {
			if err := s.backfillFromHistory(ctx, fresh, now); err != nil {
				return nil, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.Quote, 0, len(upper))
	for _, sym := range upper {
		if q, ok := s.quotes[sym]; ok {
			result = append(result, q)
		}
	}
	return result, nil
}

// backfillFromHistory fills in `last` for any freshly-fetched quote still
// missing it, using the most recent 1-day/1-minute history bar. Only runs
// when the provider advertises history support.
func (s *Service) backfillFromHistory(ctx context.Context, fresh []models.Quote, now time.Time) error {
	if !s.provider.Capabilities()[provider.CapHistory] {
		return nil
	}
	for _, q := range fresh {
		if q.Last != nil {
			continue
		}
		bars, err := s.provider.History(ctx, q.Symbol, "1d", "1m", false)
		if err != nil || len(bars) == 0 {
			continue
		}
		last := bars[len(bars)-1]
		q.Last = &last.Close
		if q.Meta == nil {
			q.Meta = &models.QuoteMeta{}
		}
		q.Meta.Source = models.SourceHistory
		q.Meta.FallbackUsed = true
		q.Meta.Fields.Last = true

		s.mu.Lock()
		s.quotes[strings.ToUpper(q.Symbol)] = q
		s.updatedAt[strings.ToUpper(q.Symbol)] = now
		s.mu.Unlock()
	}
	return nil
}

// Watch yields a field-projected snapshot of symbol's quote on every tick
// until ctx is cancelled, force-refreshing the cache each time.
func (s *Service) Watch(ctx context.Context, symbol string, fields []string, interval time.Duration) <-chan map[string]any {
	out := make(chan map[string]any)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			quotes, err := s.Quote(ctx, []string{symbol}, models.IntentBestEffort, true)
			if err == nil && len(quotes) > 0 {
				projected := projectFields(quotes[0], fields)
				select {
				case out <- projected:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func projectFields(q models.Quote, fields []string) map[string]any {
	out := map[string]any{}
	for _, f := range fields {
		switch f {
		case "bid":
			out[f] = decimalOrNil(q.Bid)
		case "ask":
			out[f] = decimalOrNil(q.Ask)
		case "last":
			out[f] = decimalOrNil(q.Last)
		case "volume":
			out[f] = decimalOrNil(q.Volume)
		}
	}
	return out
}

func decimalOrNil(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return f
}

// CapabilitySnapshot returns the provider's current capability set plus the
// snapshot's cache age in milliseconds, matching
// quote_capabilities_with_meta from spec.md §4.5. The snapshot itself is
// memoized for capability_ttl_seconds; refresh bypasses the memoization
// and recomputes it immediately.
func (s *Service) CapabilitySnapshot(symbols []string, refresh bool) (models.ProviderQuoteCapabilities, int64) {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	now := time.Now().UTC()
	if !refresh && s.capSnapshotSet && now.Sub(s.capSnapshotAt) <= s.capabilityTTL {
		return s.capSnapshot, now.Sub(s.capSnapshotAt).Milliseconds()
	}

	snap := s.computeCapabilitySnapshot(symbols, now)
	s.capSnapshot = snap
	s.capSnapshotAt = now
	s.capSnapshotSet = true
	return snap, 0
}

func (s *Service) computeCapabilitySnapshot(symbols []string, now time.Time) models.ProviderQuoteCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()

	supports := map[string]bool{}
	for cap, ok := range s.provider.Capabilities() {
		supports[string(cap)] = ok
	}

	snap := models.ProviderQuoteCapabilities{
		Provider:  s.provider.Name(),
		Supports:  supports,
		Symbols:   map[string]models.QuoteCapabilitySnapshot{},
		UpdatedAt: now,
	}

	for _, sym := range symbols {
		upper := strings.ToUpper(sym)
		q, ok := s.quotes[upper]
		if !ok {
			continue
		}
		var updatedAt *time.Time
		if t, ok := s.updatedAt[upper]; ok {
			updatedAt = &t
		}
		source := models.SourceLive
		if q.Meta != nil {
			source = q.Meta.Source
		}
		snap.Symbols[upper] = models.QuoteCapabilitySnapshot{
			Symbol:         upper,
			Fields:         fieldAvailability(q),
			Source:         source,
			MarketDataType: metaMarketDataType(q),
			UpdatedAt:      updatedAt,
		}
	}
	return snap
}

func fieldAvailability(q models.Quote) models.QuoteFieldAvailability {
	return models.QuoteFieldAvailability{
		Bid:    q.Bid != nil,
		Ask:    q.Ask != nil,
		Last:   q.Last != nil,
		Volume: q.Volume != nil,
	}
}

func metaMarketDataType(q models.Quote) *int {
	if q.Meta == nil {
		return nil
	}
	return q.Meta.MarketDataType
}
