package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types exchanged with clients
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeEvent        = "event"
	TypeError        = "error"

	// TopicAllOrders receives every order event
	TopicAllOrders = "orders"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is the envelope for everything sent over the socket
type Message struct {
	Type    string             `json:"type"`
	Topic   string             `json:"topic,omitempty"`
	Message string             `json:"message,omitempty"`
	Event   *models.OrderEvent `json:"event,omitempty"`
}

// OrderTopic is the topic carrying events for one order
func OrderTopic(orderNumber string) string {
	return "order:" + orderNumber
}

func validTopic(topic string) bool {
	if topic == TopicAllOrders {
		return true
	}
	return strings.HasPrefix(topic, "order:") && len(topic) > len("order:")
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]struct{}
}

// Hub fans order events out to subscribed WebSocket clients
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	topics   map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: map[*client]struct{}{},
		topics:  map[string]map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: util.GetLogger(),
	}
}

// ServeWS upgrades the request and serves the client until it disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), topics: map[string]struct{}{}}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	util.RealtimeConnections.Inc()

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast delivers event to subscribers of its order topic and of TopicAllOrders.
// It returns the number of clients the event was queued for.
func (h *Hub) Broadcast(event *models.OrderEvent) int {
	payload, err := json.Marshal(Message{Type: TypeEvent, Topic: OrderTopic(event.OrderNumber), Event: event})
	if err != nil {
		h.logger.Error("Failed to encode realtime event", zap.Error(err))
		return 0
	}

	var slow []*client
	delivered := 0

	h.mu.RLock()
	seen := map[*client]struct{}{}
	for _, topic := range []string{OrderTopic(event.OrderNumber), TopicAllOrders} {
		for c := range h.topics[topic] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.send <- payload:
				delivered++
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow realtime client")
		h.unregister(c)
	}
	return delivered
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for topic := range c.topics {
		h.removeLocked(c, topic)
	}
	close(c.send)
	h.mu.Unlock()

	util.RealtimeConnections.Dec()
}

func (h *Hub) subscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = map[*client]struct{}{}
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, topic)
}

func (h *Hub) removeLocked(c *client, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// reply queues a control message; it is dropped if the client already went away
func (h *Hub) reply(c *client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(c, Message{Type: TypeError, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case TypeSubscribe, TypeUnsubscribe:
			if !validTopic(msg.Topic) {
				h.reply(c, Message{Type: TypeError, Topic: msg.Topic, Message: "unknown topic"})
				continue
			}
			if msg.Type == TypeSubscribe {
				h.subscribe(c, msg.Topic)
				h.reply(c, Message{Type: TypeSubscribed, Topic: msg.Topic})
			} else {
				h.unsubscribe(c, msg.Topic)
				h.reply(c, Message{Type: TypeUnsubscribed, Topic: msg.Topic})
			}
		default:
			h.reply(c, Message{Type: TypeError, Message: "unknown message type"})
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
