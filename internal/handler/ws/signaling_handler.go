package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"consultcall-backend/internal/middleware"
	"consultcall-backend/internal/signaling"
	"consultcall-backend/pkg/config"
	"consultcall-backend/pkg/constants"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/response"
)

// Inbound event names
const (
	EventJoin  = "join"
	EventRelay = "relay"
)

// Envelope is the JSON frame exchanged in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinRequest struct {
	Room string `json:"room"`
}

// EventHandler receives the transport events of every connection
type EventHandler interface {
	Connect(ctx context.Context, connID signaling.ConnID, userID *uuid.UUID)
	Join(ctx context.Context, connID signaling.ConnID, roomID string) []signaling.ConnID
	Relay(ctx context.Context, connID signaling.ConnID, req signaling.RelayRequest)
	Disconnect(ctx context.Context, connID signaling.ConnID)
	Reject(connID signaling.ConnID, message string)
}

// SignalingHub owns the signaling WebSockets. It is the relay's transport:
// Send enqueues onto a connection's buffered queue and never blocks.
type SignalingHub struct {
	handler EventHandler

	clients sync.Map // signaling.ConnID -> *SignalingClient

	upgrader websocket.Upgrader

	// Concurrency limit: one slot per open socket
	maxConnections int
	semaphore      chan struct{}
	sendBuffer     int

	metrics *metrics.Metrics
}

// SignalingClient represents a WebSocket client for signaling
type SignalingClient struct {
	hub       *SignalingHub
	id        signaling.ConnID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
}

// NewSignalingHub creates a new signaling hub. m may be nil.
func NewSignalingHub(cfg config.SignalingConfig, allowedOrigins []string, m *metrics.Metrics) *SignalingHub {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = constants.DefaultMaxSignalingConnections
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = constants.SignalingSendBuffer
	}

	return &SignalingHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.OriginAllowed(allowedOrigins),
		},
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
		sendBuffer:     sendBuffer,
		metrics:        m,
	}
}

// SetHandler wires the relay. The relay needs the hub as its transport, so
// the two are built first and joined here.
func (h *SignalingHub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// Send implements signaling.Transport
func (h *SignalingHub) Send(connID signaling.ConnID, event string, payload any) error {
	v, ok := h.clients.Load(connID)
	if !ok {
		return signaling.ErrUnknownConnection
	}

	frame, err := json.Marshal(outboundEnvelope{Event: event, Data: payload})
	if err != nil {
		return err
	}

	if err := v.(*SignalingClient).enqueue(frame); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage(event, "outbound")
	}
	return nil
}

// ConnectionCount returns the number of open sockets
func (h *SignalingHub) ConnectionCount() int {
	return len(h.semaphore)
}

// Shutdown closes every socket with a going-away frame
func (h *SignalingHub) Shutdown() {
	h.clients.Range(func(_, v any) bool {
		v.(*SignalingClient).close()
		return true
	})
}

// ServeWS handles WebSocket requests for signaling
func (h *SignalingHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.FromContext(c.Request.Context()).Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("capacity")
		}
		response.ServiceUnavailable(c, "Server at capacity, please try again later")
		return
	}

	var userID *uuid.UUID
	if caller, ok := middleware.CallerFromContext(c); ok {
		userID = &caller.UserID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.FromContext(c.Request.Context()).Warn("WebSocket upgrade failed", zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordWebSocketError("upgrade")
		}
		return
	}

	// The request context ends with this handler; the socket outlives it
	ctx := logger.WithRequestID(context.Background(), logger.RequestIDFromContext(c.Request.Context()))
	client := &SignalingClient{
		hub:  h,
		id:   signaling.ConnID("c-" + uuid.NewString()),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
		ctx:  ctx,
	}

	h.clients.Store(client.id, client)
	if h.metrics != nil {
		h.metrics.IncWebSocketConnections()
	}
	h.handler.Connect(ctx, client.id, userID)

	go client.writePump()
	go client.readPump()
}

func (c *SignalingClient) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return signaling.ErrUnknownConnection
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return signaling.ErrUnknownConnection
	default:
		return signaling.ErrSlowConsumer
	}
}

// close stops the write pump; send is never closed so late enqueues are safe
func (c *SignalingClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads messages from WebSocket
func (c *SignalingClient) readPump() {
	h := c.hub
	defer func() {
		c.close()
		h.clients.Delete(c.id)
		h.handler.Disconnect(c.ctx, c.id)
		c.conn.Close()
		<-h.semaphore
		if h.metrics != nil {
			h.metrics.DecWebSocketConnections()
		}
	}()

	c.conn.SetReadLimit(constants.SignalingMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.FromContext(c.ctx).Debug("WebSocket connection closed",
					zap.String("connection_id", string(c.id)),
					zap.Error(err))
				if h.metrics != nil {
					h.metrics.RecordWebSocketError("read")
				}
			}
			return
		}
		c.handle(message)
	}
}

func (c *SignalingClient) handle(message []byte) {
	h := c.hub

	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
		c.reject("malformed frame")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage(env.Event, "inbound")
	}

	switch env.Event {
	case EventJoin:
		var req joinRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				c.reject("malformed join")
				return
			}
		}
		h.handler.Join(c.ctx, c.id, req.Room)

	case EventRelay:
		var req signaling.RelayRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.reject("malformed relay")
			return
		}
		h.handler.Relay(c.ctx, c.id, req)

	default:
		c.reject("unknown event")
	}
}

func (c *SignalingClient) reject(message string) {
	if c.hub.metrics != nil {
		c.hub.metrics.RecordWebSocketError("malformed")
	}
	c.hub.handler.Reject(c.id, message)
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}
