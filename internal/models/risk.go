package models

import "time"

// RiskCheckResult is returned by every pre-trade check.
type RiskCheckResult struct {
	OK         bool           `json:"ok" msgpack:"ok"`
	Reasons    []string       `json:"reasons" msgpack:"reasons"`
	Details    map[string]any `json:"details" msgpack:"details"`
	Suggestion string         `json:"suggestion,omitempty" msgpack:"suggestion,omitempty"`
}

// RiskOverride is a time-bounded change to a numeric risk parameter.
type RiskOverride struct {
	Param     string    `json:"param" msgpack:"param"`
	Value     float64   `json:"value" msgpack:"value"`
	Reason    string    `json:"reason" msgpack:"reason"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	ExpiresAt time.Time `json:"expires_at" msgpack:"expires_at"`
}

// RiskConfigSnapshot is the effective limits after applying unexpired
// overrides.
type RiskConfigSnapshot struct {
	MaxPositionPct        float64  `json:"max_position_pct" msgpack:"max_position_pct"`
	MaxOrderValue         float64  `json:"max_order_value" msgpack:"max_order_value"`
	MaxDailyLossPct       float64  `json:"max_daily_loss_pct" msgpack:"max_daily_loss_pct"`
	MaxSectorExposurePct  float64  `json:"max_sector_exposure_pct" msgpack:"max_sector_exposure_pct"`
	MaxSingleNamePct      float64  `json:"max_single_name_pct" msgpack:"max_single_name_pct"`
	MaxOpenOrders         int      `json:"max_open_orders" msgpack:"max_open_orders"`
	OrderRateLimit        int      `json:"order_rate_limit" msgpack:"order_rate_limit"`
	DuplicateWindowSecs   int      `json:"duplicate_window_seconds" msgpack:"duplicate_window_seconds"`
	SymbolAllowlist       []string `json:"symbol_allowlist" msgpack:"symbol_allowlist"`
	SymbolBlocklist       []string `json:"symbol_blocklist" msgpack:"symbol_blocklist"`
	Halted                bool     `json:"halted" msgpack:"halted"`
}

// RiskContext is built fresh for every pre-trade check; never persisted.
type RiskContext struct {
	NLV                  float64
	DailyPnL             float64
	OpenOrders           int
	MarkPrices           map[string]float64
	PositionValues       map[string]float64
	SectorBySymbol       map[string]string
	SectorExposureValues map[string]float64
}

func NewRiskContext() RiskContext {
	return RiskContext{
		MarkPrices:           map[string]float64{},
		PositionValues:       map[string]float64{},
		SectorBySymbol:       map[string]string{},
		SectorExposureValues: map[string]float64{},
	}
}
