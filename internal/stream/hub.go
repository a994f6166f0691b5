// Package stream broadcasts engine events (trades, depth snapshots) to
// websocket subscribers.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

const (
	writeWait     = 10 * time.Second
	pingPeriod    = 30 * time.Second
	clientSendBuf = 64
)

// Event is the wire envelope every broadcast uses.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TradeEvent mirrors the committed trade row.
type TradeEvent struct {
	Trade *store.Trade `json:"trade"`
}

// DepthEvent is a full depth snapshot for one market, price -> aggregated
// remaining base.
type DepthEvent struct {
	MarketID string            `json:"market_id"`
	Bids     map[string]string `json:"bids"`
	Asks     map[string]string `json:"asks"`
}

// Hub fans events out to every connected client. A slow client whose send
// buffer fills is dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is public read-only data; any origin may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("stream: upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendBuf)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Info().Int("clients", n).Msg("stream: client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound frames (the feed is one-way) and tears the
// client down when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) broadcast(e Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("stream: marshal failed")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			// Send buffer full: the client is too slow, cut it loose.
			delete(h.clients, c)
			close(c.send)
			c.conn.Close()
		}
	}
}

// PublishTrade implements settlement.Publisher.
func (h *Hub) PublishTrade(t *store.Trade) {
	if h == nil {
		return
	}
	h.broadcast(Event{Type: "trade", Data: TradeEvent{Trade: t}})
}

// PublishDepth implements market.DepthSink.
func (h *Hub) PublishDepth(marketID string, bids, asks map[string]money.Decimal) {
	if h == nil {
		return
	}
	h.broadcast(Event{Type: "depth", Data: DepthEvent{
		MarketID: marketID,
		Bids:     renderDepth(bids),
		Asks:     renderDepth(asks),
	}})
}

func renderDepth(m map[string]money.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for price, amount := range m {
		out[price] = amount.String()
	}
	return out
}
