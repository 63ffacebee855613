// Package gateway serves the HTTP API and the web chat socket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/bellabot/bella/internal/bot"
	"github.com/bellabot/bella/internal/channel"
	"github.com/bellabot/bella/internal/channel/web"
	"github.com/bellabot/bella/internal/channel/whatsapp"
	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/hooks"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/routing"
	"github.com/bellabot/bella/internal/store"
	"github.com/bellabot/bella/internal/version"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned when writing to a closed socket.
var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 4 << 20
	handshakeTimeout = 10 * time.Second
)

// Server is the bella HTTP and WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	botName  string
	bot      *bot.Bot
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler

	router   *routing.Router
	channels *channel.Registry
	web      *web.Channel
	whatsapp *whatsapp.Channel
	history  *store.HistoryStore
	hooks    *hooks.Manager

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithRouter dispatches test and socket messages through r so they are
// recorded like channel traffic.
func WithRouter(r *routing.Router) ServerOption {
	return func(s *Server) { s.router = r }
}

// WithChannels reports channel status from ch.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithWeb attaches the web chat channel. Its replies are pushed to the
// sockets of this server.
func WithWeb(w *web.Channel) ServerOption {
	return func(s *Server) { s.web = w }
}

// WithWhatsApp mounts the WhatsApp webhook.
func WithWhatsApp(w *whatsapp.Channel) ServerOption {
	return func(s *Server) { s.whatsapp = w }
}

// WithHistory serves chat history from h.
func WithHistory(h *store.HistoryStore) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithHooks emits gateway_start and gateway_stop.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a gateway server over b.
func New(cfg config.Config, b *bot.Bot, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg.Gateway,
		botName:  cfg.Bot.Name,
		bot:      b,
		log:      log.Sub("gateway"),
		clients:  NewClientRegistry(log.Sub("clients")),
		handlers: make(map[string]RequestHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}
	if s.botName == "" {
		s.botName = "Bella"
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.web != nil {
		s.web.Attach(s.clients)
	}

	s.registerRPCHandlers()
	return s
}

// Clients returns the connected socket registry.
func (s *Server) Clients() *ClientRegistry { return s.clients }

// checkWebSocketOrigin allows requests without an Origin header and those
// whose Origin is listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed HTTP handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return withMiddleware(s.routes(), s.log, s.cfg.AllowedOrigins)
}

// Start listens for HTTP and WebSocket connections and blocks until ctx is
// cancelled or serving fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Tool calls and AI fallbacks can take a while.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades the request and runs the socket until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake waits for the connect request and answers with hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
			return nil, fmt.Errorf("parsing connect params: %w", err)
		}
	}
	if params.Session == "" {
		params.Session = web.DefaultChatID
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, params.Nama, params.Session)
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Name:    s.botName,
			Version: version.Version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Session: params.Session,
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventChatReply},
		},
		Policy: ServerPolicy{MaxPayload: maxPayload},
	}

	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}
	return client, nil
}

// readLoop serves request frames from a connected client.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes a request frame to its handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{
		Ctx:    ctx,
		Client: client,
		Frame:  frame,
		Server: s,
	})
}

// sendErrorAndClose sends an error response and a close frame.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
