package ib

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
)

func (p *Provider) Positions(ctx context.Context) ([]models.Position, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	positions, err := client.Positions(ctx)
	if err != nil {
		return nil, mapError("positions", err, brokererr.CodeIBRejected, "")
	}
	return positions, nil
}

func (p *Provider) Balance(ctx context.Context) (models.Balance, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return models.Balance{}, err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	balance, err := client.Balance(ctx)
	if err != nil {
		return models.Balance{}, mapError("balance", err, brokererr.CodeIBRejected, "")
	}
	return balance, nil
}

func (p *Provider) PnL(ctx context.Context) (models.PnLSummary, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return models.PnLSummary{}, err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	pnl, err := client.PnL(ctx)
	if err != nil {
		return models.PnLSummary{}, mapError("pnl", err, brokererr.CodeIBRejected, "")
	}
	return pnl, nil
}

// Exposure aggregates current positions by groupBy. It accepts symbol,
// currency, sector, or asset_class, matching connection.py's
// VALID_EXPOSURE_GROUPS; sector and asset_class group by symbol (see
// exposureKey).
func (p *Provider) Exposure(ctx context.Context, groupBy string) ([]models.ExposureEntry, error) {
	if !provider.ValidExposureGroups[groupBy] {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "unsupported exposure group '"+groupBy+"'")
	}

	positions, err := p.Positions(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := p.Balance(ctx)
	if err != nil {
		return nil, err
	}

	totals := map[string]decimal.Decimal{}
	for _, pos := range positions {
		key := exposureKey(groupBy, pos)
		totals[key] = totals[key].Add(pos.MarketValue)
	}

	nlv := balance.NetLiquidation
	entries := make([]models.ExposureEntry, 0, len(totals))
	for key, exposure := range totals {
		pct := 0.0
		if !nlv.IsZero() {
			pct, _ = exposure.Abs().Div(nlv).Mul(decimal.NewFromInt(100)).Float64()
		}
		entries = append(entries, models.ExposureEntry{Key: key, Exposure: exposure, PctOfNLV: pct})
	}
	return entries, nil
}

func exposureKey(groupBy string, pos models.Position) string {
	switch groupBy {
	case "currency":
		return pos.Currency
	case "symbol":
		return strings.ToUpper(pos.Symbol)
	default:
		// sector / asset_class: the position object carries no sector or
		// asset-class data, so these group by symbol.
		return strings.ToUpper(pos.Symbol)
	}
}
