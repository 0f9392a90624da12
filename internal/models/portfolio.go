package models

import "github.com/shopspring/decimal"

type Position struct {
	Symbol      string          `json:"symbol" msgpack:"symbol"`
	Qty         float64         `json:"qty" msgpack:"qty"`
	AvgCost     decimal.Decimal `json:"avg_cost" msgpack:"avg_cost"`
	MarketPrice decimal.Decimal `json:"market_price" msgpack:"market_price"`
	MarketValue decimal.Decimal `json:"market_value" msgpack:"market_value"`
	Currency    string          `json:"currency" msgpack:"currency"`
}

type Balance struct {
	NetLiquidation decimal.Decimal `json:"net_liquidation" msgpack:"net_liquidation"`
	CashBalance    decimal.Decimal `json:"cash_balance" msgpack:"cash_balance"`
	BuyingPower    decimal.Decimal `json:"buying_power" msgpack:"buying_power"`
	Currency       string          `json:"currency" msgpack:"currency"`
}

// PnLSummary carries realized/unrealized/total so the drawdown breaker can
// be configured to use any of the three (spec.md §9 open question).
type PnLSummary struct {
	Realized   decimal.Decimal `json:"realized" msgpack:"realized"`
	Unrealized decimal.Decimal `json:"unrealized" msgpack:"unrealized"`
	Total      decimal.Decimal `json:"total" msgpack:"total"`
}

type ExposureEntry struct {
	Key      string          `json:"key" msgpack:"key"`
	Exposure decimal.Decimal `json:"exposure" msgpack:"exposure"`
	PctOfNLV float64         `json:"pct_of_nlv" msgpack:"pct_of_nlv"`
}
