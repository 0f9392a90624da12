package ib

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/north-brook/brokerd/internal/models"
)

// StreamClient is a client for the gateway's market-data push channel, separate from the
// blocking request/response session the rest of this package drives.
// Grounded on the teacher's internal/polymarket/ws_client.go WS connect and
// read-loop pattern.
type StreamClient struct {
	url  string
	conn *websocket.Conn

	mu          sync.RWMutex
	connected   bool
	subscribed  map[string]bool
	last        map[string]models.Quote

	onQuote func(models.Quote)
	stopCh  chan struct{}
}

func NewStreamClient(url string) *StreamClient {
	return &StreamClient{
		url:        url,
		subscribed: make(map[string]bool),
		last:       make(map[string]models.Quote),
		stopCh:     make(chan struct{}),
	}
}

func (c *StreamClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	log.Info().Str("url", c.url).Msg("connecting to gateway streaming quote channel")
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	go c.readLoop()
	log.Info().Msg("connected to gateway streaming quote channel")
	return nil
}

func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	close(c.stopCh)
	c.connected = false
	return c.conn.Close()
}

// Subscribe requests a streaming feed for symbol.
func (c *StreamClient) Subscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("stream client is not connected")
	}
	if c.subscribed[symbol] {
		return nil
	}

	msg := map[string]any{"type": "quote_subscribe", "symbol": symbol}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	c.subscribed[symbol] = true
	return nil
}

// OnQuote registers the callback invoked for every streamed quote update.
func (c *StreamClient) OnQuote(cb func(models.Quote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onQuote = cb
}

// LastQuote returns the most recent streamed quote for symbol, if any.
func (c *StreamClient) LastQuote(symbol string) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.last[symbol]
	return q, ok
}

type streamQuoteMessage struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Last   string `json:"last"`
	Volume string `json:"volume"`
}

func (c *StreamClient) readLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("gateway stream read error, closing")
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}

		var msg streamQuoteMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		quote := models.Quote{
			Symbol:    msg.Symbol,
			Timestamp: time.Now().UTC(),
			Currency:  "USD",
			Meta:      &models.QuoteMeta{Source: models.SourceLive},
		}
		if d, err := decimal.NewFromString(msg.Bid); err == nil {
			quote.Bid = &d
		}
		if d, err := decimal.NewFromString(msg.Ask); err == nil {
			quote.Ask = &d
		}
		if d, err := decimal.NewFromString(msg.Last); err == nil {
			quote.Last = &d
		}
		if d, err := decimal.NewFromString(msg.Volume); err == nil {
			quote.Volume = &d
		}

		c.mu.Lock()
		c.last[msg.Symbol] = quote
		cb := c.onQuote
		c.mu.Unlock()

		if cb != nil {
			cb(quote)
		}
	}
}
