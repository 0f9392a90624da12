// Package daemon is the unix-socket server tying together the risk engine,
// order manager, market-data cache, audit log, and provider into the
// request/response + event-subscription protocol, grounded on
// original_source/broker/daemon/src/broker_daemon/daemon/server.py.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/alert"
	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/brokererr"
	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/marketdata"
	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/ordermanager"
	"github.com/north-brook/brokerd/internal/protocol"
	"github.com/north-brook/brokerd/internal/provider"
	"github.com/north-brook/brokerd/internal/riskengine"
)

var orderStatusFilters = map[string]bool{"active": true, "filled": true, "cancelled": true, "all": true}

// Server owns the unix-domain listener and every subsystem's lifecycle.
type Server struct {
	cfg       *config.Config
	startedAt time.Time

	audit      *audit.Logger
	risk       *riskengine.Engine
	provider   provider.Provider
	marketData *marketdata.Service
	orders     *ordermanager.Manager
	notifier   *alert.Notifier

	broadcaster *Broadcaster
	connLoss    *ConnectionLossMonitor
	heartbeat   *HeartbeatMonitor

	listener net.Listener
	shutdown chan struct{}
	closeOnce sync.Once
	wg       sync.WaitGroup
}

// New wires every subsystem around the caller-supplied provider: audit, then
// risk, then market data, then the alert notifier, monitors and order manager.
func New(cfg *config.Config, p provider.Provider) (*Server, error) {
	auditLogger, err := audit.Open(cfg.Logging.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	risk := riskengine.New(cfg.Risk)
	marketData := marketdata.NewWithCapabilityTTL(p, 2*time.Second, cfg.CapabilityTTL())

	notifier, err := alert.New(cfg.Alert)
	if err != nil {
		log.Warn().Err(err).Msg("alert notifier disabled")
	}

	s := &Server{
		cfg:         cfg,
		startedAt:   time.Now(),
		audit:       auditLogger,
		risk:        risk,
		provider:    p,
		marketData:  marketData,
		notifier:    notifier,
		broadcaster: NewBroadcaster(),
		connLoss:    NewConnectionLossMonitor(30 * time.Second),
		heartbeat:   NewHeartbeatMonitor(cfg.HeartbeatTimeout()),
		shutdown:    make(chan struct{}),
	}
	s.orders = ordermanager.New(p, risk, auditLogger, s.onOrderManagerEvent)

	return s, nil
}

// Start refuses to run if the socket path is already live, binds the
// listener, writes the pid file, and connects the provider.
func (s *Server) Start(ctx context.Context) error {
	socketPath := s.cfg.Runtime.SocketPath

	if socketIsActive(socketPath) {
		return fmt.Errorf("daemon socket already in use: %s", socketPath)
	}
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("binding unix socket %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener

	if err := os.WriteFile(s.cfg.Runtime.PidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	if err := s.provider.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("provider did not connect at startup; will retry per reconnect policy")
	}

	s.audit.LogConnectionEvent("daemon_started", map[string]any{"socket": socketPath})

	s.wg.Add(2)
	go s.acceptLoop()
	go s.monitorLoop()
	go s.drainProviderEvents()

	log.Info().Str("socket", socketPath).Msg("daemon listening")
	return nil
}

// Serve blocks until Stop is called.
func (s *Server) Serve() {
	<-s.shutdown
}

// Stop closes the listener, every subscriber, the provider, and the audit
// log, and removes the socket and pid files.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
		s.provider.Disconnect()
		s.audit.LogConnectionEvent("daemon_stopped", nil)
		s.audit.Close()
		os.Remove(s.cfg.Runtime.SocketPath)
		os.Remove(s.cfg.Runtime.PidFile)
	})
	s.wg.Wait()
}

func socketIsActive(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Error().Err(err).Msg("accept error")
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	payload, err := protocol.ReadFramed(conn)
	if err != nil {
		return
	}
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		protocol.WriteFramed(conn, &protocol.Response{OK: false, Error: &protocol.ErrorResponse{
			Code: string(brokererr.CodeInvalidArgs), Message: "malformed request: " + err.Error(),
		}})
		return
	}

	if req.Stream && req.Command == "events.subscribe" {
		s.handleSubscribe(conn, req)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout())
	defer cancel()

	data, cmdErr := s.dispatch(ctx, req)

	resultCode := 0
	resp := &protocol.Response{RequestID: req.RequestID, OK: true, Data: data}
	if cmdErr != nil {
		be, ok := brokererr.As(cmdErr)
		if !ok {
			be = brokererr.New(brokererr.CodeInternal, cmdErr.Error())
		}
		resultCode = be.ExitCode()
		resp = &protocol.Response{
			RequestID: req.RequestID,
			OK:        false,
			Error: &protocol.ErrorResponse{
				Code: string(be.Code), Message: be.Message, Details: be.Details, Suggestion: be.Suggestion,
			},
		}
	}

	protocol.WriteFramed(conn, resp)
	if err := s.audit.LogCommand(req.Source, req.Command, req.Params, resultCode); err != nil {
		log.Error().Err(err).Msg("failed to log command to audit")
	}
}

func (s *Server) handleSubscribe(conn net.Conn, req *protocol.Request) {
	rawTopics, _ := req.Params["topics"].([]any)
	topicStrs := make([]string, 0, len(rawTopics))
	for _, t := range rawTopics {
		topicStrs = append(topicStrs, fmt.Sprintf("%v", t))
	}
	topics := normalizeTopics(topicStrs)

	for topic := range topics {
		valid := false
		for _, t := range models.AllTopics {
			if string(t) == topic {
				valid = true
				break
			}
		}
		if !valid {
			protocol.WriteFramed(conn, &protocol.Response{
				RequestID: req.RequestID, OK: false,
				Error: &protocol.ErrorResponse{
					Code:    string(brokererr.CodeInvalidArgs),
					Message: "unsupported subscription topic(s): " + topic,
				},
			})
			return
		}
	}

	sub := s.broadcaster.Register(conn, topics)
	defer s.broadcaster.Unregister(sub)

	subscribed := make([]string, 0, len(topics))
	for t := range topics {
		subscribed = append(subscribed, t)
	}
	protocol.WriteFramed(conn, &protocol.Response{RequestID: req.RequestID, OK: true, Data: map[string]any{"subscribed": subscribed}})
	s.audit.LogCommand(req.Source, req.Command, req.Params, 0)

	// Keep the connection open for event fan-out until the peer disconnects
	// or the daemon shuts down; a dead socket surfaces as a read error.
	buf := make([]byte, 1)
	for {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := conn.Read(buf); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-s.shutdown:
					return
				default:
					continue
				}
			}
			return
		}
	}
}

func (s *Server) requireCapability(cap provider.Capability, label string) error {
	if s.provider.Capabilities()[cap] {
		return nil
	}
	return brokererr.New(brokererr.CodeInvalidArgs, "provider does not support "+label)
}

func (s *Server) onOrderManagerEvent(event models.Event) {
	s.broadcaster.Broadcast(event)
	if s.notifier != nil {
		s.notifier.HandleEvent(event)
	}
}

// drainProviderEvents turns provider callbacks (order status, fills,
// connection changes) into order-manager updates and broadcasts, matching
// server.py's _on_broker_event.
func (s *Server) drainProviderEvents() {
	for {
		select {
		case <-s.shutdown:
			return
		case event, ok := <-s.provider.Events():
			if !ok {
				return
			}
			s.handleProviderEvent(event)
		}
	}
}

func (s *Server) handleProviderEvent(event models.Event) {
	payload, _ := event.Payload.(map[string]any)

	switch event.Topic {
	case models.TopicConnection:
		switch fmt.Sprintf("%v", payload["event"]) {
		case "connected":
			s.connLoss.OnConnected()
		case "disconnected":
			s.connLoss.OnDisconnected()
		}
	case models.TopicOrders:
		clientOrderID, _ := payload["client_order_id"].(string)
		status, _ := payload["status"].(string)
		if clientOrderID != "" && status != "" {
			filledQty, _ := payload["filled"].(float64)
			var avgFillPrice *float64
			if v, ok := payload["avg_fill_price"].(float64); ok {
				avgFillPrice = &v
			}
			s.orders.UpdateOrderStatus(clientOrderID, status, filledQty, avgFillPrice)
		}
	case models.TopicFills:
		fillID, _ := payload["fill_id"].(string)
		symbol, _ := payload["symbol"].(string)
		if fillID != "" && symbol != "" {
			clientOrderID, _ := payload["client_order_id"].(string)
			qty, _ := payload["qty"].(float64)
			price, _ := payload["price"].(float64)
			commission, _ := payload["commission"].(float64)
			s.orders.AddFill(models.FillRecord{
				FillID: fillID, ClientOrderID: clientOrderID, Symbol: symbol, Qty: qty,
				Price:      decimal.NewFromFloat(price),
				Commission: decimal.NewFromFloat(commission),
				Timestamp:  time.Now().UTC(),
			})
		}
	}

	s.onOrderManagerEvent(event)
}

// monitorLoop runs the three background checkers on a 5-second tick, per
// spec.md §4.8.
func (s *Server) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.runMonitorTick()
		}
	}
}

func (s *Server) runMonitorTick() {
	if s.connLoss.Breached() && !s.risk.Halted() {
		s.risk.Halt()
		s.audit.LogRiskEvent("halt", map[string]any{"reason": "connection_loss"})
		s.onOrderManagerEvent(models.Event{Topic: models.TopicRisk, Timestamp: time.Now().UTC(),
			Payload: map[string]any{"event": "halt", "reason": "connection_loss"}})
	}

	if s.heartbeat.IsTimedOut() {
		seconds := s.heartbeat.SecondsSinceLast()
		s.audit.LogRiskEvent("heartbeat_timeout", map[string]any{"seconds_since_last": seconds})
		if s.cfg.Agent.OnHeartbeatTimeout == "halt" && !s.risk.Halted() {
			s.risk.Halt()
			s.onOrderManagerEvent(models.Event{Topic: models.TopicRisk, Timestamp: time.Now().UTC(),
				Payload: map[string]any{"event": "halt", "reason": "heartbeat_timeout"}})
		}
	}

	if s.provider.Status().Connected {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		balance, errBal := s.provider.Balance(ctx)
		pnl, errPnl := s.provider.PnL(ctx)
		cancel()
		if errBal == nil && errPnl == nil {
			nlv, _ := balance.NetLiquidation.Float64()
			basisPnL := pnl.Total
			switch s.cfg.Risk.DrawdownBasis {
			case "realized":
				basisPnL = pnl.Realized
			case "unrealized":
				basisPnL = pnl.Unrealized
			}
			dailyPnL, _ := basisPnL.Float64()
			breached, _ := s.risk.CheckDrawdownBreaker(dailyPnL, nlv)
			if breached && !s.risk.Halted() {
				s.risk.Halt()
				s.audit.LogRiskEvent("halt", map[string]any{"reason": "drawdown_breaker"})
				s.onOrderManagerEvent(models.Event{Topic: models.TopicRisk, Timestamp: time.Now().UTC(),
					Payload: map[string]any{"event": "halt", "reason": "drawdown_breaker"}})
			}
		}
	}
}
