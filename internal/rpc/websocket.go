package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/core/market"
	"github.com/btcex/btcexd/internal/logging"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsMaxMessageSize = 4 * 1024
	wsSendBuffer     = 256
)

// wsCommand is a client message on the trade feed: subscribe or
// unsubscribe to the trades of one instrument, or to all of them.
type wsCommand struct {
	Command    string `json:"command"`
	Instrument string `json:"instrument,omitempty"`
}

type wsEvent struct {
	Type        string          `json:"type"`
	Transaction transactionView `json:"transaction"`
}

// Hub fans settled trades out to websocket subscribers. Each connection
// has a buffered send channel; a subscriber that cannot keep up is
// dropped rather than allowed to stall the broadcast loop.
type Hub struct {
	upgrader websocket.Upgrader
	trades   chan *market.Transaction

	mu    sync.RWMutex
	conns map[int64]*wsConn

	nextID atomic.Int64
}

type wsConn struct {
	id   int64
	conn *websocket.Conn
	send chan []byte

	mu sync.RWMutex
	// subscribed instruments by identifier; the "*" key means all.
	subs map[string]struct{}
}

func newHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		trades: make(chan *market.Transaction, 64),
		conns:  make(map[int64]*wsConn),
	}
}

// BroadcastTrade queues a settled transaction for fan-out. Never blocks;
// when the queue is full the event is dropped with a log line.
func (h *Hub) BroadcastTrade(txn *market.Transaction) {
	select {
	case h.trades <- txn:
	default:
		logging.Logger.Warn("trade feed queue full, dropping event",
			zap.Int64("transaction_id", txn.ID))
	}
}

// run is the broadcast loop.
func (h *Hub) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case txn := <-h.trades:
			h.fanOut(txn)
		}
	}
}

func (h *Hub) fanOut(txn *market.Transaction) {
	event := wsEvent{Type: "trade", Transaction: encodeTransaction(txn)}
	data, err := json.Marshal(event)
	if err != nil {
		logging.Logger.Error("failed to marshal trade event", zap.Error(err))
		return
	}
	identifier := instrumentIdentifier(txn.ContractID)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if !c.subscribedTo(identifier) {
			continue
		}
		select {
		case c.send <- data:
		default:
			logging.Logger.Warn("dropping slow websocket subscriber",
				zap.Int64("conn_id", c.id))
			go h.remove(c)
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{
		id:   h.nextID.Add(1),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		subs: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) readLoop(c *wsConn) {
	defer h.remove(c)

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Logger.Debug("websocket read failed",
					zap.Int64("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		switch cmd.Command {
		case "subscribe":
			c.subscribe(cmd.Instrument)
		case "unsubscribe":
			c.unsubscribe(cmd.Instrument)
		}
	}
}

func (h *Hub) writeLoop(c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		delete(h.conns, id)
		close(c.send)
		c.conn.Close()
	}
}

func (c *wsConn) subscribe(instrument string) {
	if instrument == "" {
		instrument = "*"
	}
	c.mu.Lock()
	c.subs[instrument] = struct{}{}
	c.mu.Unlock()
}

func (c *wsConn) unsubscribe(instrument string) {
	if instrument == "" {
		instrument = "*"
	}
	c.mu.Lock()
	delete(c.subs, instrument)
	c.mu.Unlock()
}

func (c *wsConn) subscribedTo(instrument string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs["*"]; ok {
		return true
	}
	_, ok := c.subs[instrument]
	return ok
}
