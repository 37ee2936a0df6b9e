package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/inkroom/pkg/logger"
	"github.com/charlesng35/inkroom/pkg/metrics"
)

// Transport level events emitted by the hub itself.
const (
	EventConnected = "connected"
	EventError     = "error"
)

var (
	errConnectionClosed = errors.New("realtime: connection closed")
	errSendBufferFull   = errors.New("realtime: send buffer full")
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Connected is the first frame a client receives; ID is its connection id.
type Connected struct {
	ID string `json:"id"`
}

// ErrorFrame reports a rejected inbound message to the offending connection only.
type ErrorFrame struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Dispatcher receives the lifecycle and inbound messages of every connection.
// Calls for one connection are made from a single goroutine in receive order.
type Dispatcher interface {
	Connect(connID string)
	HandleMessage(connID, event string, data json.RawMessage) error
	Disconnect(connID string)
}

// Options tunes the websocket transport.
type Options struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	AllowedOrigins  []string
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageBytes: 8 << 20,
		SendBuffer:      256,
		AllowedOrigins:  []string{"*"},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = d.AllowedOrigins
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Hub tracks websocket connections and the rooms they have joined.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	rooms    map[string]map[string]*connection
	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger
	newID    func() string
}

// NewHub constructs a realtime hub.
func NewHub(opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		conns: make(map[string]*connection),
		rooms: make(map[string]map[string]*connection),
		opts:  opts,
		log:   logger.WithModule("realtime"),
		newID: uuid.NewString,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve upgrades the request and blocks until the connection ends.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, dispatcher Dispatcher) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, socket, h.newID())
	h.register(client)
	metrics.ActiveConnections.Inc()
	log := logger.WithConnection("realtime", client.id)
	log.Debug("connection registered", zap.String("remote_addr", r.RemoteAddr))

	go client.writeLoop()

	if frame, err := encode(EventConnected, Connected{ID: client.id}); err == nil {
		_ = client.enqueue(frame)
	}
	dispatcher.Connect(client.id)

	client.readLoop(dispatcher)

	client.close()
	dispatcher.Disconnect(client.id)
	metrics.ActiveConnections.Dec()
	log.Debug("connection finished")
}

// Join adds a connection to a room. Unknown connections are ignored.
func (h *Hub) Join(connID, room string) {
	if room == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.conns[connID]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*connection)
	}
	h.rooms[room][connID] = client
	client.rooms[room] = struct{}{}
}

// Leave removes a connection from a room.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.conns[connID]; ok {
		delete(client.rooms, room)
	}
	h.removeFromRoomLocked(connID, room)
}

// BroadcastToRoom sends one event to every member of room except exclude and returns the
// number of connections it was enqueued for.
func (h *Hub) BroadcastToRoom(room, event string, payload any, exclude string) int {
	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.rooms[room]))
	for id, client := range h.rooms[room] {
		if id == exclude {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if h.deliver(client, frame) {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(connID, event string, payload any) bool {
	h.mu.RLock()
	client, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	frame, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return h.deliver(client, frame)
}

// RoomMembers returns the sorted connection ids joined to room.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll terminates every open connection. Their dispatchers still observe Disconnect.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*connection, 0, len(h.conns))
	for _, client := range h.conns {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) deliver(client *connection, frame []byte) bool {
	err := client.enqueue(frame)
	switch {
	case err == nil:
		metrics.BroadcastDeliveries.Inc()
		return true
	case errors.Is(err, errSendBufferFull):
		metrics.SlowConsumers.Inc()
		h.log.Warn("dropping slow connection", zap.String("conn_id", client.id))
		go client.close()
	}
	return false
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	h.conns[client.id] = client
	h.mu.Unlock()
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, client.id)
	for room := range client.rooms {
		h.removeFromRoomLocked(client.id, room)
	}
	client.rooms = make(map[string]struct{})
}

func (h *Hub) removeFromRoomLocked(connID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) dispatch(client *connection, dispatcher Dispatcher, payload []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || strings.TrimSpace(env.Event) == "" {
		metrics.RealtimeEvents.WithLabelValues("malformed").Inc()
		h.replyError(client, "", "malformed envelope")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.RealtimeEvents.WithLabelValues("panic").Inc()
			h.log.Error("realtime handler panic",
				zap.String("conn_id", client.id),
				zap.String("event", env.Event),
				zap.Any("panic", r),
			)
			h.replyError(client, env.Event, "internal error")
		}
	}()

	if err := dispatcher.HandleMessage(client.id, env.Event, env.Data); err != nil {
		metrics.RealtimeEvents.WithLabelValues("rejected").Inc()
		h.log.Warn("realtime message rejected",
			zap.String("conn_id", client.id),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		h.replyError(client, env.Event, err.Error())
		return
	}
	metrics.RealtimeEvents.WithLabelValues("ok").Inc()
}

func (h *Hub) replyError(client *connection, event, message string) {
	frame, err := encode(EventError, ErrorFrame{Event: event, Message: message})
	if err != nil {
		return
	}
	h.deliver(client, frame)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	originHost := hostWithoutPort(origin)
	return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
}

func encode(event string, payload any) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	return frame, nil
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	id     string
	rooms  map[string]struct{}

	mu     sync.Mutex
	send   chan []byte
	closed bool
	once   sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, id string) *connection {
	return &connection{
		hub:    hub,
		socket: socket,
		id:     id,
		rooms:  make(map[string]struct{}),
		send:   make(chan []byte, hub.opts.SendBuffer),
	}
}

func (c *connection) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *connection) readLoop(dispatcher Dispatcher) {
	opts := c.hub.opts
	c.socket.SetReadLimit(opts.MaxMessageBytes)
	_ = c.socket.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug("unexpected close", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.socket.SetReadDeadline(time.Now().Add(opts.PongWait))

		if len(payload) == 0 {
			continue
		}
		c.hub.dispatch(c, dispatcher, payload)
	}
}

func (c *connection) writeLoop() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.socket.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close is idempotent. The send channel is closed under mu so enqueue never writes to it
// afterwards; the write loop drains it, sends a close frame and closes the socket.
func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
