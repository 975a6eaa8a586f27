package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/steerd/internal/tracing"
)

// Defaults for the Engine.IO heartbeat.
const (
	DefaultPingInterval = 25 * time.Second
	DefaultPingTimeout  = 20 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// SocketIOPath is where simulators connect.
	SocketIOPath = "/socket.io/"

	shutdownTimeout = 5 * time.Second
	idleAfter       = 5 * time.Second
)

// Server accepts simulator sessions over Socket.IO (websocket transport) and
// serves the metrics and health endpoints on the same port.
type Server struct {
	host         string
	port         int
	pingInterval time.Duration
	pingTimeout  time.Duration
	writeTimeout time.Duration
	server       *http.Server
	listener     net.Listener
	upgrader     websocket.Upgrader
	sessions     *SessionRegistry
	broadcaster  *EventBroadcaster
	handler      EventHandler
	metrics      http.Handler
	logger       zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	sessionWG      sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	Handler      EventHandler
	// Sessions, if set, is shared with broadcasters built outside the server.
	Sessions *SessionRegistry
	// Metrics, if set, is served at /metrics.
	Metrics http.Handler
	Logger  zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}

	return &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
		writeTimeout: cfg.WriteTimeout,
		sessions:     sessions,
		broadcaster:  NewEventBroadcaster(sessions, logger),
		handler:      cfg.Handler,
		metrics:      cfg.Metrics,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the simulator sends no Origin header
			},
		},
	}, nil
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SocketIOPath, s.handleSocketIO)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessions.Count())
	})
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop rejects new sessions, disconnects the current ones and shuts the HTTP
// server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	for _, session := range s.sessions.GetAll() {
		_ = session.WriteText([]byte{engineMessage, socketDisconnect})
		session.Close()
	}

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached waiting for sessions")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Emit broadcasts an event to active sessions; see EventBroadcaster.Emit.
func (s *Server) Emit(event string, data interface{}, skipSessionID string) (int, error) {
	return s.broadcaster.Emit(event, data, skipSessionID)
}

// Sessions returns information about every connected session.
func (s *Server) Sessions() []SessionInfo {
	return s.sessions.Infos(idleAfter)
}

func engineVersion(r *http.Request) (int, bool) {
	switch r.URL.Query().Get("EIO") {
	case "", "3":
		return 3, true
	case "4":
		return 4, true
	default:
		return 0, false
	}
}

func writeEngineError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = fmt.Fprintf(w, `{"code":%d,"message":%q}`, code, message)
}

// handleSocketIO upgrades a simulator connection
func (s *Server) handleSocketIO(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.sessionWG.Add(1)
	s.shutdownMu.RUnlock()
	defer s.sessionWG.Done()

	version, ok := engineVersion(r)
	if !ok {
		writeEngineError(w, 5, "Unsupported protocol version")
		return
	}
	if r.URL.Query().Get("transport") != "websocket" || !websocket.IsWebSocketUpgrade(r) {
		writeEngineError(w, 0, "Transport unknown")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	sessionID, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate session id")
		_ = conn.Close()
		return
	}
	session := newSession(sessionID, conn, version, r.RemoteAddr, s.writeTimeout)
	s.sessions.Add(session)

	s.logger.Info().
		Str("session_key", sessionID).
		Str("remote_addr", r.RemoteAddr).
		Int("eio", version).
		Msg("Simulator connected")

	s.serveSession(session)
}

// serveSession runs the session's reader loop until the connection closes.
func (s *Server) serveSession(session *Session) {
	ctx, cancel := context.WithCancel(tracing.WithSessionKey(context.Background(), session.ID))
	defer cancel()

	defer func() {
		session.Close()
		s.sessions.Remove(session.ID)
		if session.Activated() {
			s.handler.HandleDisconnect(ctx, session.ID)
		}
		s.logger.Info().Str("session_key", session.ID).Msg("Simulator disconnected")
	}()

	open, err := encodeOpen(openPayload{
		SID:          session.ID,
		Upgrades:     []string{},
		PingInterval: s.pingInterval.Milliseconds(),
		PingTimeout:  s.pingTimeout.Milliseconds(),
		MaxPayload:   maxPayload(session.EngineVersion),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode open packet")
		return
	}
	if err := session.WriteText(open); err != nil {
		s.logger.Warn().Err(err).Str("session_key", session.ID).Msg("Failed to send open packet")
		return
	}

	if session.EngineVersion < 4 {
		// Engine.IO 3 clients join the default namespace implicitly.
		if err := session.WriteText(encodeConnect(3, session.ID)); err != nil {
			return
		}
		if !s.activate(ctx, session) {
			return
		}
	} else {
		go s.pingLoop(session)
	}

	deadline := s.pingInterval + s.pingTimeout
	for {
		if err := session.Conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return
		}
		msgType, message, err := session.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("session_key", session.ID).Msg("WebSocket error")
			}
			return
		}
		session.touch()

		if msgType != websocket.TextMessage {
			s.logger.Debug().Str("session_key", session.ID).Msg("Ignoring binary frame")
			continue
		}
		if !s.handlePacket(ctx, session, message) {
			return
		}
	}
}

func maxPayload(version int) int64 {
	if version < 4 {
		return 0
	}
	return 1e6
}

// activate marks the session active and runs the connect handler before any
// event is read.
func (s *Server) activate(ctx context.Context, session *Session) bool {
	if !session.activate() {
		return true
	}
	if err := s.handler.HandleConnect(ctx, session.ID); err != nil {
		s.logger.Error().Err(err).Str("session_key", session.ID).Msg("Connect handler failed")
		return false
	}
	return true
}

// handlePacket processes one Engine.IO packet and reports whether the
// session should stay open.
func (s *Server) handlePacket(ctx context.Context, session *Session, message []byte) bool {
	if len(message) == 0 {
		return true
	}

	switch message[0] {
	case enginePing:
		pong := append([]byte{enginePong}, message[1:]...)
		if err := session.WriteText(pong); err != nil {
			return false
		}
	case enginePong, engineNoop, engineUpgrade:
	case engineClose:
		return false
	case engineMessage:
		return s.handleSocketPacket(ctx, session, message[1:])
	default:
		s.logger.Debug().Str("session_key", session.ID).Str("packet", string(message[:1])).Msg("Unknown engine packet")
	}
	return true
}

func (s *Server) handleSocketPacket(ctx context.Context, session *Session, message []byte) bool {
	packet, err := parseSocketPacket(message)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_key", session.ID).Msg("Malformed socket packet")
		return true
	}

	switch packet.Type {
	case socketConnect:
		if packet.Namespace != defaultNamespace {
			_ = session.WriteText(encodeConnectError(session.EngineVersion, packet.Namespace, "Invalid namespace"))
			return true
		}
		if session.State() == StateActive {
			return true
		}
		if err := session.WriteText(encodeConnect(session.EngineVersion, session.ID)); err != nil {
			return false
		}
		return s.activate(ctx, session)

	case socketDisconnect:
		return packet.Namespace != defaultNamespace

	case socketEvent:
		if session.State() != StateActive || packet.Namespace != defaultNamespace {
			s.logger.Debug().Str("session_key", session.ID).Msg("Event before namespace connect")
			return true
		}
		name, data, err := decodeEvent(packet.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_key", session.ID).Msg("Malformed event")
			return true
		}
		if err := s.handler.HandleEvent(ctx, session.ID, name, data); err != nil {
			s.logger.Error().Err(err).Str("session_key", session.ID).Str("event", name).Msg("Event handler failed")
		}

	case socketAck:
	default:
		s.logger.Debug().Str("session_key", session.ID).Str("packet", string(packet.Type)).Msg("Unhandled socket packet")
	}
	return true
}

// pingLoop sends Engine.IO 4 heartbeats until the session closes.
func (s *Server) pingLoop(session *Session) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-session.Done():
			return
		case <-ticker.C:
			if err := session.WriteText([]byte{enginePing}); err != nil {
				s.logger.Debug().Err(err).Str("session_key", session.ID).Msg("Ping failed")
				session.Close()
				return
			}
		}
	}
}
