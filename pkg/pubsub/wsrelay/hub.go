package wsrelay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sendBuffer = 256
	readLimit  = 64 << 10
	pongWait   = 60 * time.Second
	pingEvery  = 30 * time.Second
	writeWait  = 10 * time.Second
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	peer string
}

type subscription struct {
	c       *client
	channel string
}

type publication struct {
	from  *client
	frame Frame
}

// Hub owns every relay connection and the channel subscriptions. All state
// changes go through Run.
type Hub struct {
	register    chan *client
	unregister  chan *client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan publication
	done        chan struct{}

	clients map[*client]map[string]struct{}
	subs    map[string]map[*client]struct{}
	online  atomic.Int64
	log     *slog.Logger

	connected prometheus.Gauge
	relayed   *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewHub builds a hub; reg may be nil. Call Run before serving.
func NewHub(logger *slog.Logger, reg prometheus.Registerer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		register:    make(chan *client),
		unregister:  make(chan *client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan publication, 64),
		done:        make(chan struct{}),
		clients:     make(map[*client]map[string]struct{}),
		subs:        make(map[string]map[*client]struct{}),
		log:         logger,
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raycon_drag",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open relay connections.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raycon_drag",
			Subsystem: "relay",
			Name:      "frames_relayed_total",
			Help:      "Envelopes forwarded to subscribers.",
		}, []string{"channel"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raycon_drag",
			Subsystem: "relay",
			Name:      "slow_clients_dropped_total",
			Help:      "Connections dropped for not keeping up.",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.connected, h.relayed, h.dropped)
	}
	return h
}

// Clients is the number of registered connections.
func (h *Hub) Clients() int { return int(h.online.Load()) }

// Run processes hub events until ctx is done, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = make(map[string]struct{})
			h.online.Add(1)
			h.connected.Inc()
			h.log.Info("relay client connected", slog.String("peer", c.peer))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Info("relay client disconnected", slog.String("peer", c.peer))
			}

		case s := <-h.subscribe:
			chans, ok := h.clients[s.c]
			if !ok {
				continue
			}
			chans[s.channel] = struct{}{}
			set := h.subs[s.channel]
			if set == nil {
				set = make(map[*client]struct{})
				h.subs[s.channel] = set
			}
			set[s.c] = struct{}{}
			h.sendTo(s.c, Frame{Op: OpAck, Channel: s.channel})

		case s := <-h.unsubscribe:
			if chans, ok := h.clients[s.c]; ok {
				delete(chans, s.channel)
				h.forget(s.c, s.channel)
			}

		case p := <-h.publish:
			h.fanOut(p)
		}
	}
}

func (h *Hub) fanOut(p publication) {
	frame := Frame{Op: OpDeliver, Channel: p.frame.Channel, Envelope: p.frame.Envelope}
	body, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("encode deliver frame", slog.Any("error", err))
		return
	}
	for c := range h.subs[frame.Channel] {
		if c == p.from {
			continue
		}
		h.sendRaw(c, body)
		h.relayed.WithLabelValues(frame.Channel).Inc()
	}
}

func (h *Hub) sendTo(c *client, f Frame) {
	body, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.sendRaw(c, body)
}

// sendRaw queues body for c; a full queue drops the client.
func (h *Hub) sendRaw(c *client, body []byte) {
	select {
	case c.send <- body:
	default:
		h.log.Warn("relay client too slow, dropping", slog.String("peer", c.peer))
		h.dropped.Inc()
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	chans, ok := h.clients[c]
	if !ok {
		return
	}
	for name := range chans {
		h.forget(c, name)
	}
	delete(h.clients, c)
	close(c.send)
	h.online.Add(-1)
	h.connected.Dec()
}

func (h *Hub) forget(c *client, channel string) {
	set := h.subs[channel]
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, channel)
	}
}

// offer hands ev to the hub loop unless the hub has stopped.
func offer[T any](h *Hub, ch chan<- T, ev T) bool {
	select {
	case ch <- ev:
		return true
	case <-h.done:
		return false
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the connection. The peer id comes
// from the "peer" query parameter and is only used in logs.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	cl := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), peer: c.Query("peer")}
	if !offer(h, h.register, cl) {
		_ = conn.Close()
		return
	}

	go cl.readLoop()
	cl.writeLoop()
}

func (c *client) readLoop() {
	defer func() {
		offer(c.hub, c.hub.unregister, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		var ok bool
		switch f.Op {
		case OpSubscribe:
			ok = offer(c.hub, c.hub.subscribe, subscription{c: c, channel: f.Channel})
		case OpUnsubscribe:
			ok = offer(c.hub, c.hub.unsubscribe, subscription{c: c, channel: f.Channel})
		case OpPublish:
			if f.Envelope == nil || f.Channel == "" {
				continue
			}
			ok = offer(c.hub, c.hub.publish, publication{from: c, frame: f})
		default:
			c.hub.log.Warn("unknown relay op", slog.String("peer", c.peer), slog.String("op", string(f.Op)))
			continue
		}
		if !ok {
			return
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
