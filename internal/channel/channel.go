// Package channel implements the channel multiplexer: it
// accepts one bidirectional WebSocket session per connected client,
// implements the join/leave/heartbeat/event protocol, and bridges
// client events to the bus and hub-delivered frames back to clients.
// Grounded on a JSON-framed WebSocket client with a read loop and a
// pending-response map for request/response correlation, adapted here
// from client-dial to server-accept (websocket.Upgrader instead of
// websocket.Dial), and on
// original_source/src/tangram/channels.py (websocket_receiver /
// websocket_sender / websocket_broadcast run as concurrent tasks per
// connection, ClientMessage parsing, ok_to_join/ok_to_leave reply
// shape).
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/open-aviation/tangram/internal/admission"
	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
	"github.com/open-aviation/tangram/internal/hub"
)

// sessionState is a session's lifecycle state.
type sessionState int32

const (
	stateNew sessionState = iota
	stateOpen
	stateClosing
	stateClosed
)

// HeartbeatWindow is how long the server tolerates silence before it
// may close a session. The server does not
// itself probe; the client is expected to emit heartbeats.
const HeartbeatWindow = 60 * time.Second

// Multiplexer accepts WebSocket sessions and runs the CM protocol over
// them.
type Multiplexer struct {
	upgrader websocket.Upgrader
	bus      bus.Bus
	hub      *hub.Hub
	issuer   *admission.Issuer
	logger   *slog.Logger

	heartbeatWindow time.Duration
}

// New returns a Multiplexer. heartbeatWindow <= 0 uses HeartbeatWindow.
func New(b bus.Bus, h *hub.Hub, issuer *admission.Issuer, heartbeatWindow time.Duration, logger *slog.Logger) *Multiplexer {
	if heartbeatWindow <= 0 {
		heartbeatWindow = HeartbeatWindow
	}
	return &Multiplexer{
		upgrader:        websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		bus:             b,
		hub:             h,
		issuer:          issuer,
		heartbeatWindow: heartbeatWindow,
		logger:          logger,
	}
}

// topicPattern is the bus pattern a publish directly on a joined
// topic arrives on, fanned out to that topic's members.
const topicPattern = "channel:*"

// broadcastPattern is the bus pattern a system-wide announcement
// arrives on, fanned out to every connected session regardless of
// topic membership.
const broadcastPattern = "from:system:*"

// Run subscribes to topicPattern and broadcastPattern and delivers
// each bus message into the hub until ctx is cancelled. Intended to
// run under taskrunner.Run alongside the HTTP listener ServeHTTP
// serves sessions on.
func (m *Multiplexer) Run(ctx context.Context) error {
	topicMsgs, err := m.bus.PSubscribe(ctx, topicPattern)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topicPattern, err)
	}
	broadcastMsgs, err := m.bus.PSubscribe(ctx, broadcastPattern)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", broadcastPattern, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-topicMsgs:
			if !ok {
				return nil
			}
			m.deliverToTopic(msg)
		case msg, ok := <-broadcastMsgs:
			if !ok {
				return nil
			}
			m.deliverBroadcast(msg)
		}
	}
}

// deliverToTopic wraps a direct bus publish on a joined topic as a
// "new-data" envelope and delivers it to every session joined to that
// topic.
func (m *Multiplexer) deliverToTopic(msg bus.Message) {
	frame, err := newDataFrame(msg)
	if err != nil {
		m.logger.Warn("encode topic delivery failed", "topic", msg.Channel, "error", err)
		return
	}
	m.hub.Deliver(msg.Channel, frame)
}

// deliverBroadcast wraps a system-wide announcement as a "new-data"
// envelope and delivers it to every registered session.
func (m *Multiplexer) deliverBroadcast(msg bus.Message) {
	frame, err := newDataFrame(msg)
	if err != nil {
		m.logger.Warn("encode broadcast delivery failed", "topic", msg.Channel, "error", err)
		return
	}
	m.hub.Broadcast(frame)
}

// newDataFrame synthesises the envelope a bus message not originated
// by a client is wrapped in before reaching a mailbox: null
// join_ref/ref, the bus channel as topic, and the fixed event
// "new-data".
func newDataFrame(msg bus.Message) (hub.Frame, error) {
	env := codec.Envelope{
		Topic:   msg.Channel,
		Event:   codec.EventNewData,
		Payload: msg.Payload,
	}
	raw, err := codec.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	return hub.Frame(raw), nil
}

// ServeHTTP upgrades the request to a WebSocket and runs one session
// until the transport closes. The request's "token" query parameter
// carries the admission token.
func (m *Multiplexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := m.issuer.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(claims.Subject, claims, conn, m.bus, m.hub, m.logger)
	m.hub.Register(s.id, s.mailbox)
	defer m.hub.Drop(s.id)

	s.run(r.Context(), m.heartbeatWindow)
}

// session is one accepted client connection.
type session struct {
	id      string
	claims  admission.Claims
	conn    *websocket.Conn
	bus     bus.Bus
	hub     *hub.Hub
	mailbox *hub.Mailbox
	logger  *slog.Logger
	state   atomic.Int32
}

func newSession(id string, claims admission.Claims, conn *websocket.Conn, b bus.Bus, h *hub.Hub, logger *slog.Logger) *session {
	s := &session{
		id:      id,
		claims:  claims,
		conn:    conn,
		bus:     b,
		hub:     h,
		mailbox: hub.NewMailbox(hub.MailboxSize),
		logger:  logger,
	}
	s.state.Store(int32(stateNew))
	return s
}

// run drives the session's read and write loops until the transport
// closes.
func (s *session) run(ctx context.Context, heartbeatWindow time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.state.Store(int32(stateOpen))
	defer s.state.Store(int32(stateClosed))

	done := make(chan struct{})
	go func() {
		s.writeLoop(ctx)
		close(done)
	}()

	s.readLoop(ctx, heartbeatWindow)
	cancel()
	s.conn.Close()
	<-done
}

// readLoop parses inbound frames and dispatches them.
func (s *session) readLoop(ctx context.Context, heartbeatWindow time.Duration) {
	for {
		if heartbeatWindow > 0 {
			s.conn.SetReadDeadline(time.Now().Add(heartbeatWindow))
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := codec.DecodeEnvelope(raw)
		if err != nil {
			s.logger.Warn("protocol violation, closing session", "client", s.id, "error", err)
			return
		}

		s.dispatch(ctx, env)
	}
}

// dispatch handles one decoded envelope: heartbeat, join, leave, or
// forward.
func (s *session) dispatch(ctx context.Context, env codec.Envelope) {
	switch {
	case env.IsHeartbeat():
		s.reply(env, codec.StatusOK, nil)
	case env.IsJoin():
		s.handleJoin(env)
	case env.IsLeave():
		s.handleLeave(env)
	default:
		s.forward(ctx, env)
	}
}

// handleJoin enforces token-gated join and records
// membership in the hub on success.
func (s *session) handleJoin(env codec.Envelope) {
	if !admission.Authorizes(s.claims, env.Topic) {
		s.reply(env, codec.StatusError, map[string]any{"reason": "unauthorized"})
		return
	}
	s.hub.Join(s.id, env.Topic)
	s.reply(env, codec.StatusOK, map[string]any{})
}

// handleLeave removes this session's membership in the topic.
func (s *session) handleLeave(env codec.Envelope) {
	s.hub.Leave(s.id, env.Topic)
	s.reply(env, codec.StatusOK, map[string]any{})
}

// forward publishes a non-control event as a bus message on
// "<topic>:<event>" carrying the raw envelope.
func (s *session) forward(ctx context.Context, env codec.Envelope) {
	raw, err := codec.EncodeEnvelope(env)
	if err != nil {
		s.logger.Warn("encode forwarded envelope failed", "client", s.id, "error", err)
		return
	}
	key := fmt.Sprintf("%s:%s", env.Topic, env.Event)
	if err := s.bus.Publish(ctx, key, raw); err != nil {
		s.logger.Warn("forward publish failed", "client", s.id, "topic", key, "error", err)
	}
	if env.HasRef() {
		s.reply(env, codec.StatusOK, map[string]any{})
	}
}

// reply replies to env if it carries a non-null ref.
func (s *session) reply(env codec.Envelope, status codec.ReplyStatus, response map[string]any) {
	if !env.HasRef() {
		return
	}
	reply := codec.Reply(env, status, response)
	raw, err := codec.EncodeEnvelope(reply)
	if err != nil {
		s.logger.Warn("encode reply failed", "client", s.id, "error", err)
		return
	}
	s.mailbox.Enqueue(hub.Frame(raw))
}

// writeLoop drains the session's mailbox and writes frames to the
// transport, FIFO, until ctx is cancelled or the mailbox goes stale.
func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.mailbox.Notify():
			for _, frame := range s.mailbox.Drain() {
				if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			if s.mailbox.Stale() {
				return
			}
		}
	}
}
