// Package stream is the WebSocket market data client. It feeds ticks to a
// handler and reconnects with exponential backoff, restoring subscriptions
// after each reconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every tick received over the stream.
type TickHandler func(domain.Tick)

// subscribeCmd is the outbound subscription message.
type subscribeCmd struct {
	ID      int64    `json:"id"`
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// wsEnvelope is the inbound message envelope.
type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wsTick is the inbound tick payload.
type wsTick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is a reconnecting WebSocket client for real-time venue ticks.
type Client struct {
	wsURL  string
	logger *slog.Logger
	conn   *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Tracked subscriptions for reconnection.
	subscribed []string
	cmdID      int64

	handlerMu sync.RWMutex
	handlers  []TickHandler

	// done is closed when the client shuts down.
	done chan struct{}
}

// New creates a WebSocket tick client for the given endpoint.
func New(wsURL string, logger *slog.Logger) *Client {
	return &Client{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "venue.stream")),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("stream: client is closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("stream: connect: %w", err)
	}

	c.conn = conn

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()

	if len(c.subscribed) > 0 {
		if err := c.sendSubscribe(c.subscribed); err != nil {
			return fmt.Errorf("stream: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe subscribes to tick updates for the given symbols.
func (c *Client) Subscribe(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("stream: not connected")
	}

	if err := c.sendSubscribe(symbols); err != nil {
		return fmt.Errorf("stream: subscribe: %w", err)
	}

	existing := make(map[string]struct{}, len(c.subscribed))
	for _, s := range c.subscribed {
		existing[s] = struct{}{}
	}
	for _, s := range symbols {
		if _, ok := existing[s]; !ok {
			c.subscribed = append(c.subscribed, s)
		}
	}
	return nil
}

// OnTick registers a handler called for every received tick.
func (c *Client) OnTick(handler TickHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Close shuts down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}
	return nil
}

// sendSubscribe sends a subscribe command. Caller must hold c.mu.
func (c *Client) sendSubscribe(symbols []string) error {
	c.cmdID++

	cmd := subscribeCmd{
		ID:      c.cmdID,
		Op:      "subscribe",
		Channel: "ticks",
		Symbols: symbols,
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages and dispatches them. On disconnect it attempts
// reconnection.
func (c *Client) readLoop() {
	defer func() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.logger.Warn("stream read failed, reconnecting",
				slog.String("error", err.Error()),
			)
			c.reconnect()
			return
		}

		c.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes tick payloads to handlers.
// Malformed messages are dropped.
func (c *Client) handleMessage(raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	if envelope.Type != "tick" {
		return
	}

	var t wsTick
	if err := json.Unmarshal(envelope.Data, &t); err != nil {
		return
	}

	tick := domain.Tick{
		Symbol:    t.Symbol,
		Timestamp: t.Timestamp,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Volume:    t.Volume,
	}

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}

// reconnect re-establishes the connection with exponential backoff.
func (c *Client) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		c.logger.Warn("stream reconnect failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
