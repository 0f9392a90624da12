package riskengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/north-brook/brokerd/internal/config"
)

// paramCoercer normalizes a caller-supplied value for one mutable risk
// parameter, mirroring risk/limits.py's RISK_PARAM_COERCERS table.
type paramCoercer func(value any) (any, error)

func toFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err != nil {
			return nil, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("not a number: %v", v)
	}
}

func toInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
			return nil, fmt.Errorf("not an integer: %q", v)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("not an integer: %v", v)
	}
}

func toSymbolList(value any) (any, error) {
	switch v := value.(type) {
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = strings.ToUpper(s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported symbol list value: %v", v)
	}
}

var paramCoercers = map[string]paramCoercer{
	"max_position_pct":         toFloat,
	"max_order_value":          toFloat,
	"max_daily_loss_pct":       toFloat,
	"max_sector_exposure_pct":  toFloat,
	"max_single_name_pct":      toFloat,
	"max_open_orders":          toInt,
	"order_rate_limit":         toInt,
	"duplicate_window_seconds": toInt,
	"symbol_allowlist":         toSymbolList,
	"symbol_blocklist":         toSymbolList,
}

// MutableParams lists every risk parameter that SetLimit/OverrideLimit
// accepts, in stable sorted order.
func MutableParams() []string {
	names := make([]string, 0, len(paramCoercers))
	for name := range paramCoercers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateParam(name string) error {
	if _, ok := paramCoercers[name]; !ok {
		return fmt.Errorf("unknown risk parameter %q. valid params: %s", name, strings.Join(MutableParams(), ", "))
	}
	return nil
}

func coerceParam(name string, value any) (any, error) {
	if err := validateParam(name); err != nil {
		return nil, err
	}
	return paramCoercers[name](value)
}

// configToMap flattens a config.RiskConfig into the param-name-keyed map the
// engine mutates at runtime.
func configToMap(cfg config.RiskConfig) map[string]any {
	return map[string]any{
		"max_position_pct":         cfg.MaxPositionPct,
		"max_order_value":          cfg.MaxOrderValue,
		"max_daily_loss_pct":       cfg.MaxDailyLossPct,
		"max_sector_exposure_pct":  cfg.MaxSectorExposurePct,
		"max_single_name_pct":      cfg.MaxSingleNamePct,
		"max_open_orders":          cfg.MaxOpenOrders,
		"order_rate_limit":         cfg.OrderRateLimit,
		"duplicate_window_seconds": cfg.DuplicateWindowSecs,
		"symbol_allowlist":         append([]string{}, cfg.SymbolAllowlist...),
		"symbol_blocklist":         append([]string{}, cfg.SymbolBlocklist...),
	}
}
