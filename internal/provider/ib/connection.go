// Package ib implements the IB Gateway provider adapter: connection
// lifecycle with exponential-backoff reconnect, capability-typed market
// data/order/portfolio operations, and a streaming quote channel over
// websocket. Grounded on
// original_source/broker/packages/daemon/src/broker_daemon/daemon/connection.py.
package ib

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/provider"
)

var connectivityErrorTokens = []string{"not connected", "disconnect", "connection", "socket", "transport"}

// Provider is the IB Gateway adapter. It owns reconnection and translates
// gatewayClient errors into the daemon's typed error taxonomy.
type Provider struct {
	cfg   config.GatewayConfig
	audit *audit.Logger

	mu             sync.Mutex
	client         gatewayClient
	newClient      func() gatewayClient
	connectedAt    *time.Time
	lastError      string
	reconnecting   bool
	stopped        bool
	listenersSet   bool

	events chan models.Event
}

// New builds a Provider. newClient constructs a fresh, unconnected
// gatewayClient; production wiring supplies the concrete TWS API
// implementation, tests supply a fake.
func New(cfg config.GatewayConfig, auditLogger *audit.Logger, newClient func() gatewayClient) *Provider {
	return &Provider{
		cfg:       cfg,
		audit:     auditLogger,
		newClient: newClient,
		events:    make(chan models.Event, 256),
	}
}

func (p *Provider) Name() string { return "ib" }

func (p *Provider) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{
		provider.CapHistory:           true,
		provider.CapOptionChain:       true,
		provider.CapExposure:          true,
		provider.CapBracketOrders:     true,
		provider.CapStreaming:         true,
		provider.CapCancelAll:         true,
		provider.CapPersistentAuth:    false,
		provider.CapQuoteLive:         true,
		provider.CapQuoteDelayed:      true,
		provider.CapQuoteDelayedFrozen: true,
	}
}

func (p *Provider) Events() <-chan models.Event { return p.events }

// Connect establishes the gateway session if not already connected. Safe
// for concurrent callers: only one connect attempt proceeds at a time.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = false
	return p.connectLocked(ctx)
}

func (p *Provider) connectLocked(ctx context.Context) error {
	if p.isConnectedLocked() {
		return nil
	}

	p.listenersSet = false
	client := p.newClient()
	if err := client.Connect(ctx, p.cfg.Host, p.cfg.Port, p.cfg.ClientID, 10*time.Second); err != nil {
		p.lastError = fmt.Sprintf("connect failed: %v", err)
		p.logConnection("disconnected", map[string]any{"host": p.cfg.Host, "port": p.cfg.Port, "error": p.lastError})
		p.scheduleReconnectLocked()
		return err
	}

	p.client = client
	now := time.Now().UTC()
	p.connectedAt = &now
	p.lastError = ""
	p.registerEventHandlersLocked()
	p.logConnection("connected", map[string]any{"host": p.cfg.Host, "port": p.cfg.Port, "client_id": p.cfg.ClientID})
	return nil
}

func (p *Provider) isConnectedLocked() bool {
	return p.client != nil && p.client.IsConnected()
}

// Disconnect tears down the session and cancels any pending reconnect loop.
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect()
		p.client = nil
	}
	p.listenersSet = false
	p.connectedAt = nil
	p.stopped = true
	return nil
}

// EnsureConnected raises IB_DISCONNECTED if a connect attempt doesn't
// succeed immediately; the reconnect loop keeps retrying in the background.
func (p *Provider) EnsureConnected(ctx context.Context) error {
	p.mu.Lock()
	connected := p.isConnectedLocked()
	p.mu.Unlock()
	if connected {
		return nil
	}

	if err := p.Connect(ctx); err != nil {
		p.mu.Lock()
		lastErr := p.lastError
		host, port := p.cfg.Host, p.cfg.Port
		p.mu.Unlock()
		return brokererr.New(brokererr.CodeIBDisconnected, "daemon is not connected to IB Gateway",
			brokererr.WithDetails(map[string]any{"host": host, "port": port, "last_error": lastErr}),
			brokererr.WithSuggestion("Verify IB Gateway/TWS is running and check [gateway] config host/port/client_id."))
	}
	return nil
}

func (p *Provider) Status() provider.ConnectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := provider.ConnectionStatus{
		Connected: p.isConnectedLocked(),
		Host:      p.cfg.Host,
		Port:      p.cfg.Port,
		ClientID:  p.cfg.ClientID,
		LastError: p.lastError,
	}
	if p.connectedAt != nil {
		t := *p.connectedAt
		status.ConnectedAt = &t
	}
	if p.client != nil {
		if version, ok := p.client.ServerVersion(); ok {
			status.ServerVersion = &version
		}
		if accounts := p.client.ManagedAccounts(); len(accounts) > 0 {
			status.AccountID = accounts[0]
		}
	}
	return status
}

func (p *Provider) registerEventHandlersLocked() {
	if p.client == nil || p.listenersSet {
		return
	}
	p.client.Subscribe(p.onOrderStatus, p.onExecDetails, p.onDisconnected)
	p.listenersSet = true
}

func (p *Provider) scheduleReconnectLocked() {
	if !p.cfg.AutoReconnect || p.reconnecting || p.stopped {
		return
	}
	p.reconnecting = true
	go p.reconnectLoop()
}

func (p *Provider) reconnectLoop() {
	delay := time.Second
	maxDelay := time.Duration(p.cfg.ReconnectBackoffMax) * time.Second
	for {
		time.Sleep(delay)

		p.mu.Lock()
		if p.stopped {
			p.reconnecting = false
			p.mu.Unlock()
			return
		}
		err := p.connectLocked(context.Background())
		connected := err == nil
		if connected {
			p.reconnecting = false
		}
		p.mu.Unlock()

		if connected {
			return
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (p *Provider) onDisconnected() {
	p.mu.Lock()
	p.connectedAt = nil
	p.listenersSet = false
	p.scheduleReconnectLocked()
	host, port := p.cfg.Host, p.cfg.Port
	p.mu.Unlock()

	p.logConnection("disconnected", map[string]any{"host": host, "port": port})
}

func (p *Provider) onOrderStatus(payload map[string]any) {
	p.publish(models.TopicOrders, payload)
}

func (p *Provider) onExecDetails(payload map[string]any) {
	p.publish(models.TopicFills, payload)
}

func (p *Provider) publish(topic models.EventTopic, payload map[string]any) {
	event := models.Event{Topic: topic, Timestamp: time.Now().UTC(), Payload: payload}
	select {
	case p.events <- event:
	default:
		log.Warn().Str("topic", string(topic)).Msg("event channel full, dropping provider event")
	}
}

func (p *Provider) logConnection(event string, details map[string]any) {
	log.Info().Str("event", event).Interface("details", details).Msg("connection_event")
	if p.audit != nil {
		if err := p.audit.LogConnectionEvent(event, details); err != nil {
			log.Error().Err(err).Msg("failed to persist connection event")
		}
	}
	merged := map[string]any{"event": event}
	for k, v := range details {
		merged[k] = v
	}
	p.publish(models.TopicConnection, merged)
}

// mapError classifies a gatewayClient error into the daemon's typed error
// taxonomy, same precedence as connection.py's _raise_mapped_error.
func mapError(operation string, err error, defaultCode brokererr.Code, suggestion string) error {
	if be, ok := brokererr.As(err); ok {
		return be
	}

	code := defaultCode
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "timeout") || strings.Contains(text, "deadline exceeded"):
		code = brokererr.CodeTimeout
	case containsAny(text, connectivityErrorTokens):
		code = brokererr.CodeIBDisconnected
	case defaultCode == brokererr.CodeInvalidSymbol && containsAny(text, []string{"symbol", "contract"}):
		code = brokererr.CodeInvalidSymbol
	}

	if suggestion == "" {
		suggestion = suggestionForCode(code)
	}

	return brokererr.New(code, fmt.Sprintf("%s failed: %v", operation, err),
		brokererr.WithDetails(map[string]any{"operation": operation, "error": err.Error()}),
		brokererr.WithSuggestion(suggestion))
}

func suggestionForCode(code brokererr.Code) string {
	switch code {
	case brokererr.CodeIBDisconnected:
		return "Ensure IB Gateway/TWS is running and credentials/session are valid."
	case brokererr.CodeInvalidSymbol:
		return "Confirm the symbol is tradeable in your IB account and market."
	case brokererr.CodeTimeout:
		return "Retry and consider increasing timeout settings if the gateway is slow."
	case brokererr.CodeIBRejected:
		return "Review order parameters and account permissions, then retry."
	default:
		return ""
	}
}

func containsAny(text string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
