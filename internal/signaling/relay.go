package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultcall-backend/pkg/constants"
	"consultcall-backend/pkg/logger"
	"consultcall-backend/pkg/metrics"
	"consultcall-backend/pkg/sanitize"
)

// Outbound event names
const (
	EventConnected  = "connected"
	EventJoined     = "joined"
	EventPeerJoined = "peer-joined"
	EventPeerLeft   = "peer-left"
	EventSignal     = "signal"
	EventError      = "error"
)

// Transport delivers events to live connections. Send must not block: a
// connection that cannot accept the event right now yields an error.
type Transport interface {
	Send(connID ConnID, event string, payload any) error
}

// ErrUnknownConnection is returned by transports for ids they do not hold
var ErrUnknownConnection = errors.New("unknown connection")

// ErrSlowConsumer is returned by transports whose outbound queue is full
var ErrSlowConsumer = errors.New("send buffer full")

// ParticipantLog persists joins and leaves. Writes happen off the event path.
type ParticipantLog interface {
	RecordJoin(ctx context.Context, roomID, connectionID string, userID *uuid.UUID, at time.Time) error
	RecordLeave(ctx context.Context, roomID, connectionID string, at time.Time) error
}

// ConnectedPayload tells a new connection its id
type ConnectedPayload struct {
	ConnectionID ConnID `json:"connection_id"`
}

// JoinedPayload answers a join request
type JoinedPayload struct {
	OK    bool     `json:"ok"`
	Room  string   `json:"room,omitempty"`
	Peers []ConnID `json:"peers"`
	Error string   `json:"error,omitempty"`
}

// PeerPayload announces another member entering or leaving
type PeerPayload struct {
	ConnectionID ConnID `json:"connection_id"`
}

// SignalPayload is the relayed offer/answer/candidate. Type and Payload are opaque.
type SignalPayload struct {
	From    ConnID          `json:"from"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload reports a malformed client event
type ErrorPayload struct {
	Message string `json:"message"`
}

// RelayRequest is an inbound point-to-point signal
type RelayRequest struct {
	To      ConnID          `json:"to"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type peerInfo struct {
	userID      *uuid.UUID
	connectedAt time.Time
}

// Relay turns transport events into registry changes and peer notifications.
// It never reads or writes call records.
type Relay struct {
	registry     *Registry
	transport    Transport
	participants ParticipantLog
	metrics      *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time

	peers sync.Map // ConnID -> *peerInfo
}

// Option configures a Relay
type Option func(*Relay)

// WithParticipantLog enables the durable join/leave log
func WithParticipantLog(pl ParticipantLog) Option {
	return func(r *Relay) { r.participants = pl }
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithLogger overrides the zap logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// NewRelay creates a relay over registry that emits through transport
func NewRelay(registry *Registry, transport Transport, opts ...Option) *Relay {
	r := &Relay{
		registry:  registry,
		transport: transport,
		log:       logger.Log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("signaling")
	return r
}

// Connect registers a new connection. It joins no room.
func (r *Relay) Connect(_ context.Context, connID ConnID, userID *uuid.UUID) {
	r.peers.Store(connID, &peerInfo{userID: userID, connectedAt: r.now()})

	fields := []zap.Field{zap.String("connection_id", string(connID))}
	if userID != nil {
		fields = append(fields, zap.String("user_id", userID.String()))
	}
	r.log.Info("Peer connected", fields...)

	r.send(connID, EventConnected, ConnectedPayload{ConnectionID: connID})
}

// Join puts connID into roomID, answers the joiner with the current peers
// and tells every other member about the newcomer. The returned slice is
// the peer snapshot sent to the joiner.
func (r *Relay) Join(ctx context.Context, connID ConnID, roomID string) []ConnID {
	roomID, ok := sanitize.RoomID(roomID, constants.MaxRoomIDLength)
	if roomID == "" {
		r.send(connID, EventJoined, JoinedPayload{OK: false, Peers: []ConnID{}, Error: "room is required"})
		return nil
	}
	if !ok {
		r.send(connID, EventJoined, JoinedPayload{OK: false, Peers: []ConnID{}, Error: "invalid room id"})
		return nil
	}

	if prev, ok := r.registry.RoomOf(connID); ok && prev != roomID {
		r.leaveRoom(ctx, connID)
	}

	peers := r.registry.Join(connID, roomID)
	r.updateRoomGauge()

	r.log.Debug("Peer joined room",
		zap.String("connection_id", string(connID)),
		zap.String("room_id", roomID),
		zap.Int("peers", len(peers)))

	r.send(connID, EventJoined, JoinedPayload{OK: true, Room: roomID, Peers: peers})
	for _, peer := range peers {
		r.send(peer, EventPeerJoined, PeerPayload{ConnectionID: connID})
	}

	r.recordJoin(roomID, connID)
	return peers
}

// Relay forwards a signal to its target only. Type and payload pass through
// untouched. Requests without a target, or for a target that is gone, are
// dropped.
func (r *Relay) Relay(_ context.Context, connID ConnID, req RelayRequest) {
	if req.To == "" {
		r.log.Debug("Dropping signal without target", zap.String("from", string(connID)))
		r.countDelivery(EventSignal, "dropped")
		return
	}

	r.send(req.To, EventSignal, SignalPayload{
		From:    connID,
		Type:    req.Type,
		Payload: req.Payload,
	})
}

// Disconnect removes connID from its room and tells the remaining members.
// The call record is left alone; ending a call is an explicit action.
func (r *Relay) Disconnect(ctx context.Context, connID ConnID) {
	roomID, _ := r.leaveRoom(ctx, connID)

	fields := []zap.Field{
		zap.String("connection_id", string(connID)),
		zap.String("room_id", roomID),
	}
	if v, ok := r.peers.LoadAndDelete(connID); ok {
		fields = append(fields, zap.Duration("connected_for", r.now().Sub(v.(*peerInfo).connectedAt)))
	}
	r.log.Info("Peer disconnected", fields...)
}

// Reject tells connID its last event could not be understood
func (r *Relay) Reject(connID ConnID, message string) {
	r.send(connID, EventError, ErrorPayload{Message: message})
}

func (r *Relay) leaveRoom(_ context.Context, connID ConnID) (string, bool) {
	roomID, remaining, ok := r.registry.Leave(connID)
	if !ok {
		return "", false
	}
	r.updateRoomGauge()

	for _, peer := range remaining {
		r.send(peer, EventPeerLeft, PeerPayload{ConnectionID: connID})
	}

	r.recordLeave(roomID, connID)
	return roomID, true
}

// send delivers best-effort; failures are logged and never propagated
func (r *Relay) send(to ConnID, event string, payload any) {
	if err := r.transport.Send(to, event, payload); err != nil {
		level := r.log.Warn
		if errors.Is(err, ErrUnknownConnection) {
			level = r.log.Debug
		}
		level("Dropping signaling event",
			zap.String("event", event),
			zap.String("to", string(to)),
			zap.Error(err))
		r.countDelivery(event, "dropped")
		return
	}
	r.countDelivery(event, "sent")
}

func (r *Relay) recordJoin(roomID string, connID ConnID) {
	if r.participants == nil {
		return
	}
	var userID *uuid.UUID
	if v, ok := r.peers.Load(connID); ok {
		userID = v.(*peerInfo).userID
	}
	at := r.now()
	go r.persist("join", roomID, connID, func(ctx context.Context) error {
		return r.participants.RecordJoin(ctx, roomID, string(connID), userID, at)
	})
}

func (r *Relay) recordLeave(roomID string, connID ConnID) {
	if r.participants == nil {
		return
	}
	at := r.now()
	go r.persist("leave", roomID, connID, func(ctx context.Context) error {
		return r.participants.RecordLeave(ctx, roomID, string(connID), at)
	})
}

func (r *Relay) persist(op, roomID string, connID ConnID, write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.StorageCallTimeout)
	defer cancel()

	if err := write(ctx); err != nil {
		r.log.Warn("Failed to record participant "+op,
			zap.String("room_id", roomID),
			zap.String("connection_id", string(connID)),
			zap.Error(err))
	}
}

func (r *Relay) countDelivery(event, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordSignalingDelivery(event, outcome)
	}
}

func (r *Relay) updateRoomGauge() {
	if r.metrics != nil {
		r.metrics.SetSignalingRooms(r.registry.RoomCount())
	}
}
