package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/auth"
	"github.com/luciancaetano/meshnet/internal/broker"
	"github.com/luciancaetano/meshnet/internal/emitter"
	"github.com/luciancaetano/meshnet/internal/inorder"
	"github.com/luciancaetano/meshnet/internal/protocol"
)

var (
	_ meshnet.Server    = (*Server)(nil)
	_ meshnet.Socket    = (*Socket)(nil)
	_ broker.Subscriber = (*Socket)(nil)
)

// socketEventKinds forwards every socket event to its server counterpart.
var socketEventKinds = map[meshnet.SocketEventKind]meshnet.EventKind{
	meshnet.SocketConnecting:           meshnet.EventSocketConnecting,
	meshnet.SocketConnect:              meshnet.EventSocketConnect,
	meshnet.SocketConnectAbort:         meshnet.EventSocketConnectAbort,
	meshnet.SocketDisconnect:           meshnet.EventSocketDisconnect,
	meshnet.SocketClose:                meshnet.EventSocketClose,
	meshnet.SocketError:                meshnet.EventSocketError,
	meshnet.SocketMessage:              meshnet.EventSocketMessage,
	meshnet.SocketPing:                 meshnet.EventSocketPing,
	meshnet.SocketPong:                 meshnet.EventSocketPong,
	meshnet.SocketRequest:              meshnet.EventSocketRequest,
	meshnet.SocketResponse:             meshnet.EventSocketResponse,
	meshnet.SocketUnexpectedResponse:   meshnet.EventSocketUnexpectedResponse,
	meshnet.SocketAuthenticate:         meshnet.EventSocketAuthenticate,
	meshnet.SocketDeauthenticate:       meshnet.EventSocketDeauthenticate,
	meshnet.SocketAuthStateChange:      meshnet.EventSocketAuthStateChange,
	meshnet.SocketBadAuthToken:         meshnet.EventSocketBadAuthToken,
	meshnet.SocketSubscribe:            meshnet.EventSocketSubscribe,
	meshnet.SocketSubscribeFail:        meshnet.EventSocketSubscribeFail,
	meshnet.SocketUnsubscribe:          meshnet.EventSocketUnsubscribe,
	meshnet.SocketSubscribeStateChange: meshnet.EventSocketSubscribeStateChange,
}

// Server implements the meshnet.Server interface
type Server struct {
	addr     string
	path     string
	server   *http.Server
	listener net.Listener
	handlers sync.Map // map[string]meshnet.HandlerFunc

	rateLimitConfig *RateLimitConfig

	ackTimeout           time.Duration
	pingInterval         time.Duration
	pingTimeout          time.Duration // 0 when disabled
	disableClientPublish bool
	channelLimit         int
	cleanupMode          inorder.Mode
	sendBufferSize       int

	auth    *auth.Engine
	broker  broker.Broker
	codec   protocol.Codec
	callID  atomic.Int64
	nextID  func() int64
	logger  *slog.Logger
	events  emitter.Emitter[meshnet.EventKind, meshnet.Event]
	ready   atomic.Bool
	sockets sync.WaitGroup
	bg      sync.WaitGroup

	mu             sync.RWMutex
	running        bool
	listening      bool
	stopCh         chan struct{}
	clients        map[string]*Socket
	pendingClients map[string]*Socket

	upgrader           websocket.Upgrader
	onConnect          OnConnectFn
	onDisconnect       OnClientDisconnectFn
	onUnhandledRequest meshnet.UnhandledRequestFunc
}

// New creates a new server from cfg.
//
// The server uses the Gorilla WebSocket library with read/write buffer sizes of 1024 bytes.
// Rate limiting is applied per-socket using a token bucket algorithm.
//
// Returns an error when the auth configuration is invalid.
func New(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		cfg = &ServerConfig{}
	}
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}

	engine := cfg.AuthEngine
	if engine == nil {
		var err error
		if engine, err = auth.New(cfg.Auth); err != nil {
			return nil, fmt.Errorf("auth engine: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := cfg.Broker
	if b == nil {
		b = broker.NewSimpleBroker(broker.WithLogger(logger))
	}

	codec := cfg.Codec
	if codec == nil {
		codec = protocol.JSONCodec{}
	}

	s := &Server{
		addr:                 cfg.Addr,
		path:                 valueOr(cfg.Path, DefaultPath),
		rateLimitConfig:      cfg.RateLimitConfig,
		ackTimeout:           valueOr(cfg.AckTimeout, DefaultAckTimeout),
		pingInterval:         valueOr(cfg.PingInterval, DefaultPingInterval),
		pingTimeout:          valueOr(cfg.PingTimeout, DefaultPingTimeout),
		disableClientPublish: cfg.DisableClientPublish,
		channelLimit:         cfg.SocketChannelLimit,
		cleanupMode:          cfg.CleanupMode,
		sendBufferSize:       valueOr(cfg.SendBufferSize, DefaultSendBufferSize),
		auth:                 engine,
		broker:               b,
		codec:                codec,
		logger:               logger,
		clients:              make(map[string]*Socket),
		pendingClients:       make(map[string]*Socket),
		onConnect:            cfg.OnConnect,
		onDisconnect:         cfg.OnClientDisconnect,
		onUnhandledRequest:   cfg.OnUnhandledRequest,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if cfg.PingTimeoutDisabled {
		s.pingTimeout = 0
	}

	s.nextID = cfg.CallIDGenerator
	if s.nextID == nil {
		s.nextID = func() int64 { return s.callID.Add(1) }
	}
	return s, nil
}

func valueOr[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// Start binds the listener and serves WebSocket upgrades on the configured
// path. The server keeps running until Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(meshnet.ErrMsgServerRunning)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: writeWait,
	}
	s.listener = ln
	s.running = true
	s.listening = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.bg.Add(3)
	go func() {
		defer s.bg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server stopped", "error", err)
			s.emit(meshnet.Event{Kind: meshnet.EventError, Err: err})
		}
	}()
	go s.watchReady(stop)
	go s.watchBrokerErrors(stop)

	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.Stop(stopCtx)
		case <-stop:
		}
	}()

	s.logger.Info("websocket server listening", "addr", ln.Addr().String(), "path", s.path)
	s.emit(meshnet.Event{Kind: meshnet.EventListening})
	return nil
}

// Stop stops the server and disconnects every socket, waiting for their
// cleanup to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.listening = false
	close(s.stopCh)
	sockets := make([]*Socket, 0, len(s.clients)+len(s.pendingClients))
	for _, sock := range s.clients {
		sockets = append(sockets, sock)
	}
	for _, sock := range s.pendingClients {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sock := range sockets {
		sock := sock
		g.Go(func() error {
			sock.Disconnect(gctx, websocket.CloseGoingAway, "server stopping")
			select {
			case <-sock.Closed():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if gerr := g.Wait(); err == nil {
		err = gerr
	}

	if werr := waitContext(ctx, &s.sockets, &s.bg); err == nil {
		err = werr
	}

	s.ready.Store(false)
	s.emit(meshnet.Event{Kind: meshnet.EventClose})
	return err
}

func waitContext(ctx context.Context, groups ...*sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		for _, wg := range groups {
			wg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) watchReady(stop <-chan struct{}) {
	defer s.bg.Done()

	select {
	case <-s.broker.Ready():
		s.ready.Store(true)
		s.emit(meshnet.Event{Kind: meshnet.EventReady})
	case <-stop:
	}
}

// watchBrokerErrors turns asynchronous broker failures into warnings.
func (s *Server) watchBrokerErrors(stop <-chan struct{}) {
	defer s.bg.Done()

	errs := s.broker.Errors()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("broker error", "error", err)
			s.emit(meshnet.Event{Kind: meshnet.EventWarning, Err: err})
		case <-stop:
			return
		}
	}
}

// Handler returns the HTTP handler that upgrades requests to sockets, for
// mounting the server on an existing mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

// RegisterHandler registers a handler for an application call name.
func (s *Server) RegisterHandler(ctx context.Context, event string, handler meshnet.HandlerFunc) error {
	if event == "" || meshnet.IsReserved(event) {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, "call name %q is reserved", event)
	}
	if handler == nil {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, "handler for %q is nil", event)
	}
	s.handlers.Store(event, handler)
	return nil
}

func (s *Server) handler(event string) (meshnet.HandlerFunc, bool) {
	if h, ok := s.handlers.Load(event); ok {
		return h.(meshnet.HandlerFunc), true
	}
	return nil, false
}

// On registers a listener for a server event kind.
func (s *Server) On(kind meshnet.EventKind, listener meshnet.Listener) func() {
	return s.events.On(kind, listener)
}

// OnAny registers a listener for every server event, forwarded socket
// events included.
func (s *Server) OnAny(listener meshnet.Listener) func() {
	return s.events.OnAny(listener)
}

func (s *Server) emit(ev meshnet.Event) {
	s.events.Emit(ev.Kind, ev)
}

func (s *Server) forward(sock *Socket, ev meshnet.SocketEvent) {
	kind, ok := socketEventKinds[ev.Kind]
	if !ok {
		return
	}
	s.emit(meshnet.Event{Kind: kind, Socket: sock, Data: ev.Data, Err: ev.Err})
}

// Publish publishes data to channel through the broker.
func (s *Server) Publish(ctx context.Context, channel string, data any) error {
	return s.broker.Publish(ctx, channel, data)
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	sock := newSocket(s, conn, r.RemoteAddr)
	if !s.attach(sock) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	sock.emit(meshnet.SocketConnecting, nil, nil)
	sock.setState(meshnet.StateHandshaking)
	s.emit(meshnet.Event{Kind: meshnet.EventConnection, Socket: sock})
	s.emit(meshnet.Event{Kind: meshnet.EventHandshake, Socket: sock})

	if s.onConnect != nil {
		s.onConnect(sock)
	}

	go s.handleSocket(sock)
}

// handleSocket runs the socket's transport loops and returns once the socket
// has fully closed.
func (s *Server) handleSocket(sock *Socket) {
	defer s.sockets.Done()

	go sock.writePump()
	sock.readPump()
	<-sock.Closed()
}

func (s *Server) attach(sock *Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.sockets.Add(1)
	s.pendingClients[sock.ID()] = sock
	return true
}

func (s *Server) promote(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pendingClients[sock.ID()]; !ok {
		return
	}
	delete(s.pendingClients, sock.ID())
	s.clients[sock.ID()] = sock
}

func (s *Server) detach(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pendingClients, sock.ID())
	delete(s.clients, sock.ID())
}

func (s *Server) socketClosed(sock *Socket, code int) {
	if s.onDisconnect != nil {
		s.onDisconnect(sock, code == websocket.CloseNormalClosure)
	}
}

// GetClient returns a socket that completed its handshake.
func (s *Server) GetClient(id string) (meshnet.Socket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sock, ok := s.clients[id]
	if !ok {
		return nil, false
	}
	return sock, true
}

// ClientCount returns the number of sockets that completed the handshake.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// PendingClientCount returns the number of sockets still handshaking.
func (s *Server) PendingClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pendingClients)
}

// TransmitTo sends a packet to a specific socket.
func (s *Server) TransmitTo(ctx context.Context, socketID, event string, data any) error {
	s.mu.RLock()
	sock, ok := s.clients[socketID]
	s.mu.RUnlock()
	if !ok {
		return meshnet.Errorf(meshnet.ErrNotFound, "socket not found: %s", socketID)
	}
	return sock.Transmit(ctx, event, data)
}

// Broadcast sends a packet to every socket that completed the handshake.
// Sockets whose send buffer is full are skipped.
func (s *Server) Broadcast(ctx context.Context, event string, data any) error {
	if event == "" || meshnet.IsReserved(event) {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, "cannot broadcast %q", event)
	}

	s.mu.RLock()
	sockets := make([]*Socket, 0, len(s.clients))
	for _, sock := range s.clients {
		sockets = append(sockets, sock)
	}
	s.mu.RUnlock()

	for _, sock := range sockets {
		if err := sock.trySend(&protocol.Packet{Event: event, Data: data}); err != nil {
			s.logger.Debug("broadcast skipped socket", "socket_id", sock.ID(), "event", event, "error", err)
		}
	}
	return nil
}

// Exchange returns the broker's subscription registry.
func (s *Server) Exchange() *broker.Exchange {
	return s.broker.Exchange()
}

// Auth returns the server's auth engine.
func (s *Server) Auth() *auth.Engine {
	return s.auth
}

// IsReady reports whether the broker signalled readiness.
func (s *Server) IsReady() bool {
	return s.ready.Load()
}

// IsListening reports whether the listener is bound.
func (s *Server) IsListening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listening
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
