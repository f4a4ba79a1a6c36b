package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/protocol"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/repository"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/stream"
)

const (
	maxMessageSize  = 512 * 1024
	maxHistoryLimit = 1000
	requestTimeout  = 5 * time.Second
)

// Connection lifecycle states.
const (
	stateConnecting int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

// Client is the per-connection protocol handler. A read pump translates
// inbound requests into index/provider calls; a write pump drains the
// registry-owned outbound channel. The connection moves
// Connecting -> Open -> Closing -> Closed and all of its subscriptions
// are released before the read pump returns.
type Client struct {
	id       string
	conn     net.Conn
	svc      *stream.Service
	provider repository.QuoteProvider
	logger   *zap.Logger
	state    atomic.Int32

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, svc *stream.Service, provider repository.QuoteProvider, logger *zap.Logger) *Client {
	c := &Client{
		id:         uuid.NewString(),
		conn:       conn,
		svc:        svc,
		provider:   provider,
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
	c.state.Store(stateConnecting)
	return c
}

func (c *Client) ID() string { return c.id }

// Start registers the connection and launches both pumps. On a registry
// failure the raw connection is closed and nothing is leaked.
func (c *Client) Start() {
	reg, err := c.svc.Registry.Add(c.id)
	if err != nil {
		c.logger.Error("register connection", zap.String("conn_id", c.id), zap.Error(err))
		c.conn.Close()
		return
	}
	c.state.Store(stateOpen)

	go c.writePump(reg.Outbound())
	go c.readPump()

	c.send(protocol.NewConnected("connected to quote stream"))
	c.logger.Info("connection open", zap.String("conn_id", c.id), zap.String("remote", c.conn.RemoteAddr().String()))
}

// send marshals a reply and enqueues it through the registry so it
// shares the fan-out drop policy.
func (c *Client) send(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.svc.Registry.Send(c.id, b); err != nil {
		c.logger.Debug("send on closed connection", zap.String("conn_id", c.id))
	}
}

func (c *Client) sendError(msg string) {
	c.send(protocol.NewError(msg))
}

func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("message too big", zap.String("conn_id", c.id), zap.Int64("size", header.Length))
			return
		}
		if !header.Fin {
			c.logger.Warn("fragmented message not supported", zap.String("conn_id", c.id))
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPong:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		case ws.OpText:
			var req protocol.Request
			if err := json.Unmarshal(payload, &req); err != nil {
				c.sendError("invalid JSON")
				continue
			}
			c.dispatch(req)
		}
	}
}

// teardown runs exactly once, when the read pump exits for any reason.
// Removing the registry entry also releases every subscription, so none
// outlives the connection.
func (c *Client) teardown() {
	c.state.Store(stateClosing)
	c.svc.Registry.Remove(c.id)
	c.state.Store(stateClosed)
	c.conn.Close()
	c.logger.Info("connection closed", zap.String("conn_id", c.id))
}

// dispatch routes one inbound request. Malformed requests produce an
// error reply for this connection only; the connection stays open.
func (c *Client) dispatch(req protocol.Request) {
	if c.state.Load() != stateOpen {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))

	switch req.Type {
	case protocol.TypeSubscribe:
		c.handleSubscribe(symbol)
	case protocol.TypeUnsubscribe:
		c.handleUnsubscribe(symbol)
	case protocol.TypeGetPrice:
		c.handleGetPrice(symbol)
	case protocol.TypeGetHistory:
		c.handleGetHistory(symbol, req.Timeframe, req.Limit)
	default:
		c.sendError("unknown message type: " + req.Type)
	}
}

func (c *Client) handleSubscribe(symbol string) {
	if symbol == "" {
		c.sendError("symbol is required")
		return
	}

	c.svc.Index.Subscribe(c.id, symbol)

	// One-shot snapshot so the subscriber is not blind until the next
	// poll tick. Best-effort: no quote yet is not an error.
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if q, err := c.provider.Latest(ctx, symbol); err == nil {
		c.send(protocol.NewPriceUpdate(q))
	} else if !errors.Is(err, repository.ErrUnavailable) {
		c.logger.Warn("snapshot fetch failed", zap.String("symbol", symbol), zap.Error(err))
	}

	c.send(protocol.NewSubscriptionConfirmed(symbol))
}

func (c *Client) handleUnsubscribe(symbol string) {
	if symbol == "" {
		c.sendError("symbol is required")
		return
	}
	c.svc.Index.Unsubscribe(c.id, symbol)
	c.send(protocol.NewUnsubscriptionConfirmed(symbol))
}

func (c *Client) handleGetPrice(symbol string) {
	if symbol == "" {
		c.sendError("symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	q, err := c.provider.Latest(ctx, symbol)
	if err != nil {
		c.sendError("no quote available for " + symbol)
		return
	}
	c.send(protocol.NewPriceUpdate(q))
}

func (c *Client) handleGetHistory(symbol, timeframe string, limit int) {
	if symbol == "" {
		c.sendError("symbol is required")
		return
	}
	if timeframe == "" {
		timeframe = "1m"
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	bars, err := c.provider.History(ctx, symbol, timeframe, limit)
	if err != nil {
		c.logger.Warn("history fetch failed", zap.String("symbol", symbol), zap.Error(err))
		c.sendError("history unavailable for " + symbol)
		return
	}
	c.send(protocol.NewHistoricalData(symbol, timeframe, bars))
}

func (c *Client) writePump(out <-chan []byte) {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-out:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Registry closed the channel; buffered frames were
				// already drained by this loop.
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
