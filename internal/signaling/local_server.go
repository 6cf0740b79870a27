package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/st-user/ojm-dronw-remote/internal/config"
	"github.com/st-user/ojm-dronw-remote/internal/ice"
	"github.com/st-user/ojm-dronw-remote/internal/metrics"
	"github.com/st-user/ojm-dronw-remote/internal/ratelimit"
	"github.com/st-user/ojm-dronw-remote/internal/registry"
)

const wsWriteWait = 1 * time.Second

// MessageHandler receives every application message read from a local
// connection, tagged with the owning room key. Keepalive pongs are
// intercepted before dispatch and never reach handlers.
type MessageHandler func(startKey string, msg Envelope)

// LocalServer owns the local-endpoint side of the rendezvous: transport
// upgrade admission, the startKey -> connection registry, per-connection
// keepalive, and delivery of mailbox messages to the live socket.
type LocalServer struct {
	cfg     config.Config
	log     *slog.Logger
	reg     registry.Registry
	bus     *registry.Bus
	tickets *TicketIssuer
	ice     *ice.Provider
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[string]*localConn
	liveCount int
	handlers  []MessageHandler
	closed    bool
}

func NewLocalServer(
	cfg config.Config,
	logger *slog.Logger,
	reg registry.Registry,
	bus *registry.Bus,
	tickets *TicketIssuer,
	iceProvider *ice.Provider,
	m *metrics.Metrics,
) *LocalServer {
	if m == nil {
		m = metrics.New()
	}
	s := &LocalServer{
		cfg:     cfg,
		log:     logger,
		reg:     reg,
		bus:     bus,
		tickets: tickets,
		ice:     iceProvider,
		metrics: m,
		upgrader: websocket.Upgrader{
			// Local endpoints are devices, not browsers; there is no origin
			// to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*localConn),
	}

	// Mailbox notifications may originate from another execution context
	// than the one holding the socket; the bus subscription bridges them.
	bus.On(registry.EventMessage, s.onMailboxNotify)

	return s
}

// OnMessage registers a handler for inbound local messages. Handlers are
// registered once during startup, before serving begins.
func (s *LocalServer) OnMessage(fn MessageHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// SetStartKey registers a new room.
func (s *LocalServer) SetStartKey(ctx context.Context, startKey string) error {
	return s.reg.SetRoom(ctx, startKey)
}

// ServeHTTP authorizes and completes the signaling transport upgrade.
//
// The gate order is capacity -> ticket -> room existence; a consumed ticket
// that fails a later check is not restored (fail closed).
func (s *LocalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.tryReserveSlot() {
		s.metrics.Inc(metrics.CapacityExceeded)
		s.log.Warn("local connection limit reached", "max", s.cfg.MaxLocalClients)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	reserved := true
	defer func() {
		if reserved {
			s.releaseSlot()
		}
	}()

	ticket := r.URL.Query().Get("ticket")
	startKey, err := s.tickets.ResolveAndConsume(ctx, ticket)
	if err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		s.log.Warn("invalid ticket on upgrade", "ticket", truncateKey(ticket, 3))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// The room may have been torn down between ticket issuance and connect.
	ok, err := s.reg.HasRoom(ctx, startKey)
	if err != nil || !ok {
		s.metrics.Inc(metrics.AuthFailure)
		s.log.Warn("invalid startKey on upgrade", "startKey", truncateKey(startKey, 5))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	reserved = false // ownership moves to the connection
	s.setupConn(ws, startKey)
}

func (s *LocalServer) tryReserveSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.liveCount >= s.cfg.MaxLocalClients {
		return false
	}
	s.liveCount++
	return true
}

func (s *LocalServer) releaseSlot() {
	s.mu.Lock()
	s.liveCount--
	s.mu.Unlock()
}

func (s *LocalServer) setupConn(ws *websocket.Conn, startKey string) {
	sessionKey := uuid.NewString()
	if err := s.reg.SetSessionKey(context.Background(), sessionKey, startKey); err != nil {
		s.log.Error("failed to bind session key", "err", err)
	}

	c := &localConn{
		srv:        s,
		ws:         ws,
		startKey:   startKey,
		sessionKey: sessionKey,
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.cfg.MaxLocalClientMessagesPerSecond),
			int64(s.cfg.MaxLocalClientMessagesPerSecond),
		),
	}
	c.open.Store(true)
	c.ka = newKeepalive(c, s.log, s.metrics, s.cfg.LocalClientPingInterval, s.cfg.LocalClientPongTimeout)

	// Last-registered wins: a reconnecting device supersedes its stale entry.
	s.mu.Lock()
	s.conns[startKey] = c
	s.mu.Unlock()

	s.metrics.Inc(metrics.ConnectionOpened)
	s.log.Info("local endpoint connected", "startKey", truncateKey(startKey, 5))

	go c.readLoop()
	c.ka.start()

	info, err := s.ice.ServerInfo()
	if err != nil {
		s.log.Error("failed to build iceServerInfo", "err", err)
		return
	}
	payload, err := encodeICEServerInfo(info)
	if err != nil {
		s.log.Error("failed to encode iceServerInfo", "err", err)
		return
	}
	if err := c.send(payload); err != nil {
		s.log.Warn("failed to push iceServerInfo", "err", err)
	}
}

// lookup returns the live connection for a room, or nil when none is
// registered or the registered one is no longer open.
func (s *LocalServer) lookup(startKey string) *localConn {
	s.mu.Lock()
	c := s.conns[startKey]
	s.mu.Unlock()
	if c == nil || !c.isOpen() {
		return nil
	}
	return c
}

// Deliver routes a payload from the remote side to the room's local
// endpoint via the mailbox: persist, then raise a notification so whichever
// context holds the live socket drains it.
func (s *LocalServer) Deliver(ctx context.Context, startKey string, payload json.RawMessage) error {
	if err := s.reg.EnqueueMessage(ctx, startKey, payload); err != nil {
		return err
	}
	s.bus.Trigger(registry.Event{Name: registry.EventMessage, RoomID: startKey})
	return nil
}

// NotifyPeerDisconnect synthesizes the close message delivered to a room
// owner when a remote peer goes away.
func (s *LocalServer) NotifyPeerDisconnect(ctx context.Context, startKey, peerConnectionID string, isPrimary bool) error {
	return s.Deliver(ctx, startKey, encodeClose(peerConnectionID, isPrimary))
}

func (s *LocalServer) onMailboxNotify(evt registry.Event) {
	startKey := evt.RoomID
	s.log.Debug("mailbox notification", "startKey", truncateKey(startKey, 5))

	c := s.lookup(startKey)
	if c == nil {
		// Expected during connect/disconnect races; the message stays queued
		// until the next notification finds a live socket.
		s.metrics.Inc(metrics.RoutingMiss)
		s.log.Warn("local client is not opened", "startKey", truncateKey(startKey, 5))
		return
	}

	// Notifications for one room can race each other; drain and send must be
	// one atomic step per connection or a later notification's messages can
	// overtake an earlier drain's sends, reordering the stream.
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	pending, err := s.reg.DrainMessages(context.Background(), c.sessionKey)
	if err != nil {
		s.log.Error("mailbox drain failed", "err", err)
		return
	}
	for _, msg := range pending {
		if err := c.send(msg); err != nil {
			s.log.Warn("mailbox delivery failed", "startKey", truncateKey(startKey, 5), "err", err)
			return
		}
	}
}

func (s *LocalServer) dispatch(startKey string, msg Envelope) {
	s.mu.Lock()
	handlers := s.handlers
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(startKey, msg)
	}
}

// Close tears down all live local connections. Used on shutdown.
func (s *LocalServer) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*localConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

type localConn struct {
	srv *LocalServer
	ws  *websocket.Conn

	startKey   string
	sessionKey string

	limiter *ratelimit.TokenBucket
	ka      *keepalive

	open      atomic.Bool
	writeMu   sync.Mutex
	deliverMu sync.Mutex
	closeOnce sync.Once
}

func (c *localConn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(c.srv.cfg.MaxLocalClientMessageBytes)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Rate-limit after reading so bytes already in the TCP receive buffer
		// are consumed; closing with unread data can turn into an abortive
		// close that hides the close code from the client.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.RateLimited)
			c.srv.log.Warn("local connection over message rate limit", "startKey", truncateKey(c.startKey, 5))
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.log.Warn("ignoring non-text signaling frame", "startKey", truncateKey(c.startKey, 5))
			continue
		}

		msg, err := ParseEnvelope(data)
		if err != nil {
			c.srv.log.Warn("dropping malformed signaling message", "startKey", truncateKey(c.startKey, 5), "err", err)
			continue
		}

		if msg.MessageType == MessageTypePong {
			c.ka.consumePong()
			continue
		}

		c.srv.dispatch(c.startKey, msg)
	}
}

func (c *localConn) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *localConn) sendPing() error {
	return c.send(encodePing())
}

func (c *localConn) isOpen() bool {
	return c.open.Load()
}

// closeTransport is the keepalive supervisor's forced-close path.
func (c *localConn) closeTransport() error {
	c.srv.log.Info("closing unresponsive local endpoint", "startKey", truncateKey(c.startKey, 5))
	err := c.ws.Close()
	// Closing the socket makes the read loop exit, which runs close() and
	// releases the registry slot.
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *localConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

// close releases everything owned by the connection: keepalive timers, the
// admission slot, and the registry mapping (only if it still points here, so
// a superseding connection is never unmapped by its predecessor's teardown).
func (c *localConn) close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.ka.clear()
		_ = c.ws.Close()

		c.srv.mu.Lock()
		if c.srv.conns[c.startKey] == c {
			delete(c.srv.conns, c.startKey)
		}
		c.srv.liveCount--
		c.srv.mu.Unlock()

		c.srv.metrics.Inc(metrics.ConnectionClosed)
		c.srv.log.Info("local endpoint disconnected", "startKey", truncateKey(c.startKey, 5))
	})
}
