package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteIntent governs fallback behavior for quote retrieval.
type QuoteIntent string

const (
	IntentBestEffort QuoteIntent = "best_effort"
	IntentTopOfBook  QuoteIntent = "top_of_book"
	IntentLastOnly   QuoteIntent = "last_only"
)

var ValidIntents = map[QuoteIntent]bool{
	IntentBestEffort: true,
	IntentTopOfBook:  true,
	IntentLastOnly:   true,
}

// QuoteSource records which pipeline produced a quote field.
type QuoteSource string

const (
	SourceLive    QuoteSource = "live"
	SourceDelayed QuoteSource = "delayed"
	SourceHistory QuoteSource = "history"
)

type QuoteFieldAvailability struct {
	Bid    bool `json:"bid" msgpack:"bid"`
	Ask    bool `json:"ask" msgpack:"ask"`
	Last   bool `json:"last" msgpack:"last"`
	Volume bool `json:"volume" msgpack:"volume"`
}

type QuoteMeta struct {
	Source           QuoteSource            `json:"source" msgpack:"source"`
	MarketDataType   *int                   `json:"market_data_type,omitempty" msgpack:"market_data_type,omitempty"`
	FallbackUsed     bool                   `json:"fallback_used" msgpack:"fallback_used"`
	Fields           QuoteFieldAvailability `json:"fields" msgpack:"fields"`
	MissingTopOfBook bool                   `json:"missing_top_of_book,omitempty" msgpack:"missing_top_of_book,omitempty"`
}

// Quote is always keyed by uppercased symbol.
type Quote struct {
	Symbol    string           `json:"symbol" msgpack:"symbol"`
	Bid       *decimal.Decimal `json:"bid,omitempty" msgpack:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty" msgpack:"ask,omitempty"`
	Last      *decimal.Decimal `json:"last,omitempty" msgpack:"last,omitempty"`
	Volume    *decimal.Decimal `json:"volume,omitempty" msgpack:"volume,omitempty"`
	Timestamp time.Time        `json:"timestamp" msgpack:"timestamp"`
	Exchange  string           `json:"exchange,omitempty" msgpack:"exchange,omitempty"`
	Currency  string           `json:"currency" msgpack:"currency"`
	Meta      *QuoteMeta       `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

type QuoteCapabilitySnapshot struct {
	Symbol         string                 `json:"symbol" msgpack:"symbol"`
	Fields         QuoteFieldAvailability `json:"fields" msgpack:"fields"`
	Source         QuoteSource            `json:"source,omitempty" msgpack:"source,omitempty"`
	MarketDataType *int                   `json:"market_data_type,omitempty" msgpack:"market_data_type,omitempty"`
	UpdatedAt      *time.Time             `json:"updated_at,omitempty" msgpack:"updated_at,omitempty"`
}

type ProviderQuoteCapabilities struct {
	Provider  string                             `json:"provider" msgpack:"provider"`
	Supports  map[string]bool                    `json:"supports" msgpack:"supports"`
	Symbols   map[string]QuoteCapabilitySnapshot  `json:"symbols" msgpack:"symbols"`
	UpdatedAt time.Time                           `json:"updated_at" msgpack:"updated_at"`
}

type Bar struct {
	Symbol string          `json:"symbol" msgpack:"symbol"`
	Time   time.Time       `json:"time" msgpack:"time"`
	Open   decimal.Decimal `json:"open" msgpack:"open"`
	High   decimal.Decimal `json:"high" msgpack:"high"`
	Low    decimal.Decimal `json:"low" msgpack:"low"`
	Close  decimal.Decimal `json:"close" msgpack:"close"`
	Volume decimal.Decimal `json:"volume" msgpack:"volume"`
}

type OptionChainEntry struct {
	Symbol      string           `json:"symbol" msgpack:"symbol"`
	Right       string           `json:"right" msgpack:"right"`
	Strike      decimal.Decimal  `json:"strike" msgpack:"strike"`
	Expiry      string           `json:"expiry" msgpack:"expiry"`
	Bid         *decimal.Decimal `json:"bid,omitempty" msgpack:"bid,omitempty"`
	Ask         *decimal.Decimal `json:"ask,omitempty" msgpack:"ask,omitempty"`
	ImpliedVol  *float64         `json:"implied_vol,omitempty" msgpack:"implied_vol,omitempty"`
	Delta       *float64         `json:"delta,omitempty" msgpack:"delta,omitempty"`
	Gamma       *float64         `json:"gamma,omitempty" msgpack:"gamma,omitempty"`
	Theta       *float64         `json:"theta,omitempty" msgpack:"theta,omitempty"`
	Vega        *float64         `json:"vega,omitempty" msgpack:"vega,omitempty"`
}

type OptionChain struct {
	Symbol          string             `json:"symbol" msgpack:"symbol"`
	UnderlyingPrice *decimal.Decimal   `json:"underlying_price,omitempty" msgpack:"underlying_price,omitempty"`
	Entries         []OptionChainEntry `json:"entries" msgpack:"entries"`
}
