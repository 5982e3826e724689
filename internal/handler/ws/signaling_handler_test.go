package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultcall-backend/internal/domain"
	"consultcall-backend/internal/middleware"
	"consultcall-backend/internal/signaling"
	"consultcall-backend/pkg/config"
	"consultcall-backend/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	hub      *SignalingHub
	registry *signaling.Registry
	server   *httptest.Server
	url      string
}

func newTestServer(t *testing.T, cfg config.SignalingConfig) *testServer {
	t.Helper()

	m := metrics.NewMetrics("test")
	hub := NewSignalingHub(cfg, []string{"https://clinic.example"}, m)
	registry := signaling.NewRegistry()
	hub.SetHandler(signaling.NewRelay(registry, hub, signaling.WithMetrics(m)))

	r := gin.New()
	r.GET("/v1/signaling/ws", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.New())
		c.Set(middleware.ContextRole, domain.RolePatient)
		c.Next()
	}, hub.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})

	return &testServer{
		hub:      hub,
		registry: registry,
		server:   srv,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/signaling/ws",
	}
}

func (s *testServer) dial(t *testing.T) (*websocket.Conn, signaling.ConnID) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var connected signaling.ConnectedPayload
	expectEvent(t, conn, signaling.EventConnected, &connected)
	require.NotEmpty(t, connected.ConnectionID)
	return conn, connected.ConnectionID
}

// expectEvent reads frames until one named event arrives and decodes its data into out
func expectEvent(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

// nextEnvelope reads exactly one frame
func nextEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func TestSignaling_JoinRelayLeave(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})
	a, aID := s.dial(t)
	b, bID := s.dial(t)

	send(t, a, EventJoin, joinRequest{Room: "r1"})
	var aJoined signaling.JoinedPayload
	expectEvent(t, a, signaling.EventJoined, &aJoined)
	assert.True(t, aJoined.OK)
	assert.Empty(t, aJoined.Peers)

	send(t, b, EventJoin, joinRequest{Room: "r1"})
	var bJoined signaling.JoinedPayload
	expectEvent(t, b, signaling.EventJoined, &bJoined)
	assert.Equal(t, []signaling.ConnID{aID}, bJoined.Peers)

	var peerJoined signaling.PeerPayload
	expectEvent(t, a, signaling.EventPeerJoined, &peerJoined)
	assert.Equal(t, bID, peerJoined.ConnectionID)

	send(t, a, EventRelay, map[string]any{
		"to":      bID,
		"type":    "offer",
		"payload": map[string]string{"sdp": "v=0"},
	})
	var sig signaling.SignalPayload
	expectEvent(t, b, signaling.EventSignal, &sig)
	assert.Equal(t, aID, sig.From)
	assert.Equal(t, "offer", sig.Type)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(sig.Payload))

	require.NoError(t, b.Close())
	var peerLeft signaling.PeerPayload
	expectEvent(t, a, signaling.EventPeerLeft, &peerLeft)
	assert.Equal(t, bID, peerLeft.ConnectionID)
	assert.Equal(t, []signaling.ConnID{aID}, s.registry.PeersOf("r1", ""))
}

func TestSignaling_MalformedFramesAreRejected(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})
	a, _ := s.dial(t)

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"no event", `{"data":{}}`},
		{"unknown event", `{"event":"dance"}`},
		{"relay data not object", `{"event":"relay","data":"oops"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			var payload signaling.ErrorPayload
			expectEvent(t, a, signaling.EventError, &payload)
			assert.NotEmpty(t, payload.Message)
		})
	}

	// The connection survives bad frames
	send(t, a, EventJoin, joinRequest{Room: "still-here"})
	var joined signaling.JoinedPayload
	expectEvent(t, a, signaling.EventJoined, &joined)
	assert.True(t, joined.OK)
}

func TestSignaling_JoinWithoutRoom(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})
	a, _ := s.dial(t)

	send(t, a, EventJoin, joinRequest{})

	var joined signaling.JoinedPayload
	expectEvent(t, a, signaling.EventJoined, &joined)
	assert.False(t, joined.OK)
	assert.Equal(t, 0, s.registry.RoomCount())
}

func TestSignaling_JoinWithInvalidRoom(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})
	a, _ := s.dial(t)

	send(t, a, EventJoin, joinRequest{Room: "../x"})

	env := nextEnvelope(t, a)
	require.Equal(t, signaling.EventJoined, env.Event)
	var joined signaling.JoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.False(t, joined.OK)
	assert.Equal(t, "invalid room id", joined.Error)
	assert.Equal(t, 0, s.registry.RoomCount())
}

func TestSignaling_SignalTypeIsForwardedVerbatim(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})
	a, aID := s.dial(t)
	b, bID := s.dial(t)

	for _, typ := range []string{"ice candidate", "webrtc/offer", "<b>"} {
		send(t, a, EventRelay, map[string]any{
			"to":      bID,
			"type":    typ,
			"payload": map[string]string{"candidate": "candidate:1 1 udp 2122260223 10.0.0.2 54400 typ host"},
		})
		var sig signaling.SignalPayload
		expectEvent(t, b, signaling.EventSignal, &sig)
		assert.Equal(t, aID, sig.From)
		assert.Equal(t, typ, sig.Type)
		assert.JSONEq(t, `{"candidate":"candidate:1 1 udp 2122260223 10.0.0.2 54400 typ host"}`, string(sig.Payload))
	}
}

func TestSignaling_UnknownTargetIsDroppedSilently(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})
	a, _ := s.dial(t)

	for _, to := range []string{"<script>", "c-not-connected", ""} {
		send(t, a, EventRelay, map[string]any{"to": to, "type": "offer"})
	}
	send(t, a, EventJoin, joinRequest{Room: "r2"})

	// The first frame after the relays is the join answer, not an error
	env := nextEnvelope(t, a)
	assert.Equal(t, signaling.EventJoined, env.Event)
}

func TestSignaling_ConnectionCap(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{MaxConnections: 1})
	first, _ := s.dial(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	s.dial(t)
}

func TestSignaling_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, config.SignalingConfig{})

	_, resp, err := websocket.DefaultDialer.Dial(s.url, http.Header{"Origin": []string{"https://evil.example"}})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, s.hub.ConnectionCount())
}

func TestSignalingHub_SendQueueing(t *testing.T) {
	hub := NewSignalingHub(config.SignalingConfig{SendBuffer: 1}, nil, nil)
	client := &SignalingClient{
		hub:  hub,
		id:   "c-1",
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	hub.clients.Store(client.id, client)

	assert.ErrorIs(t, hub.Send("c-missing", signaling.EventSignal, nil), signaling.ErrUnknownConnection)

	require.NoError(t, hub.Send("c-1", signaling.EventSignal, signaling.SignalPayload{From: "c-2", Type: "offer"}))
	assert.ErrorIs(t, hub.Send("c-1", signaling.EventSignal, nil), signaling.ErrSlowConsumer)

	frame := <-client.send
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, signaling.EventSignal, env.Event)
	assert.JSONEq(t, `{"from":"c-2","type":"offer"}`, string(env.Data))

	client.close()
	client.close()
	assert.ErrorIs(t, hub.Send("c-1", signaling.EventSignal, nil), signaling.ErrUnknownConnection)
}
