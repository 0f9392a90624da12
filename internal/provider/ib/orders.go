package ib

import (
	"context"

	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
)

func (p *Provider) PlaceOrder(ctx context.Context, order models.OrderRequest) (*models.OrderRecord, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	order.Normalize()

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	record, err := client.PlaceOrder(ctx, order)
	if err != nil {
		return nil, mapError("place_order", err, brokererr.CodeIBRejected, "")
	}
	return record, nil
}

// PlaceBracket submits the entry leg followed by its take-profit and
// stop-loss legs. A bracket is rejected outright if the provider doesn't
// advertise bracket_orders support.
func (p *Provider) PlaceBracket(ctx context.Context, bracket provider.BracketOrder) ([]*models.OrderRecord, error) {
	if !p.Capabilities()[provider.CapBracketOrders] {
		return nil, brokererr.New(brokererr.CodeInvalidArgs, "provider does not support bracket orders")
	}

	entry, err := p.PlaceOrder(ctx, bracket.Entry)
	if err != nil {
		return nil, err
	}
	takeProfit, err := p.PlaceOrder(ctx, bracket.TakeProfit)
	if err != nil {
		return []*models.OrderRecord{entry}, err
	}
	stopLoss, err := p.PlaceOrder(ctx, bracket.StopLoss)
	if err != nil {
		return []*models.OrderRecord{entry, takeProfit}, err
	}
	return []*models.OrderRecord{entry, takeProfit, stopLoss}, nil
}

func (p *Provider) CancelOrder(ctx context.Context, clientOrderID string) error {
	if err := p.EnsureConnected(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if err := client.CancelOrder(ctx, clientOrderID); err != nil {
		return mapError("cancel_order", err, brokererr.CodeIBRejected, "")
	}
	return nil
}

func (p *Provider) CancelAll(ctx context.Context) error {
	if err := p.EnsureConnected(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if err := client.CancelAll(ctx); err != nil {
		return mapError("cancel_all", err, brokererr.CodeIBRejected, "")
	}
	return nil
}

func (p *Provider) OrderStatus(ctx context.Context, clientOrderID string) (*models.OrderRecord, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	record, err := client.OrderStatus(ctx, clientOrderID)
	if err != nil {
		return nil, mapError("order_status", err, brokererr.CodeIBRejected, "")
	}
	return record, nil
}

func (p *Provider) ListOrders(ctx context.Context) ([]*models.OrderRecord, error) {
	if err := p.EnsureConnected(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	orders, err := client.ListOrders(ctx)
	if err != nil {
		return nil, mapError("list_orders", err, brokererr.CodeIBRejected, "")
	}
	return orders, nil
}
