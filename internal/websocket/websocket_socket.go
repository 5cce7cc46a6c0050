package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/meshnet"
	"github.com/luciancaetano/meshnet/internal/auth"
	"github.com/luciancaetano/meshnet/internal/emitter"
	"github.com/luciancaetano/meshnet/internal/inorder"
	"github.com/luciancaetano/meshnet/internal/protocol"
)

// maxCallIDAttempts bounds the search for an unused call id.
const maxCallIDAttempts = 16

type callResult struct {
	data any
	err  error
}

type pendingCall struct {
	done  chan callResult
	timer *time.Timer
}

// Socket implements meshnet.Socket and broker.Subscriber.
type Socket struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	srv        *Server
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sendCh    chan []byte
	closing   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.RWMutex
	state       meshnet.SocketState
	handshaked  bool
	authState   meshnet.AuthState
	authToken   meshnet.Claims
	signedToken string
	closeCode   int
	closeReason string

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall // nil once the socket is closing

	pipeline    *inorder.Pipeline[*protocol.Packet]
	rateLimiter *rate.Limiter
	events      emitter.Emitter[meshnet.SocketEventKind, meshnet.SocketEvent]
}

func newSocket(srv *Server, conn *websocket.Conn, remoteAddr string) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	s := &Socket{
		id:          id,
		remoteAddr:  remoteAddr,
		conn:        conn,
		srv:         srv,
		logger:      srv.logger.With("socket_id", id),
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, srv.sendBufferSize),
		closing:     make(chan struct{}),
		closed:      make(chan struct{}),
		state:       meshnet.StateConnecting,
		pending:     make(map[int64]*pendingCall),
		rateLimiter: srv.rateLimitConfig.limiter(),
	}
	s.pipeline = inorder.New(s.dispatch)
	return s
}

// ID returns a unique identifier for the connected socket
func (s *Socket) ID() string {
	return s.id
}

// RemoteAddr returns the socket's remote network address
func (s *Socket) RemoteAddr() string {
	return s.remoteAddr
}

// Context returns the socket's lifecycle context
func (s *Socket) Context() context.Context {
	return s.ctx
}

func (s *Socket) State() meshnet.SocketState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Socket) setState(state meshnet.SocketState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < meshnet.StateClosing {
		s.state = state
	}
}

func (s *Socket) AuthState() meshnet.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authState
}

func (s *Socket) AuthToken() meshnet.Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.authToken)
}

func (s *Socket) SignedAuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signedToken
}

func (s *Socket) Channels() []string {
	return s.srv.broker.Exchange().Channels(s.id)
}

func (s *Socket) IsSubscribed(channel string) bool {
	return s.srv.broker.Exchange().IsSubscribed(s.id, channel)
}

// IsAlive returns true if the connection is still active
func (s *Socket) IsAlive() bool {
	select {
	case <-s.closing:
		return false
	default:
		return true
	}
}

func (s *Socket) Closed() <-chan struct{} {
	return s.closed
}

func (s *Socket) On(kind meshnet.SocketEventKind, listener meshnet.SocketListener) func() {
	return s.events.On(kind, listener)
}

func (s *Socket) emit(kind meshnet.SocketEventKind, data any, err error) {
	ev := meshnet.SocketEvent{Kind: kind, Data: data, Err: err}
	s.events.Emit(kind, ev)
	s.srv.forward(s, ev)
}

func errClosed() error {
	return meshnet.Errorf(meshnet.ErrConnectionClosed, meshnet.ErrMsgConnectionClosed)
}

// send encodes pkt and queues it for the write pump, waiting for room.
func (s *Socket) send(ctx context.Context, pkt *protocol.Packet) error {
	if !s.IsAlive() {
		return errClosed()
	}
	data, err := s.srv.codec.Encode(pkt)
	if err != nil {
		return err
	}

	select {
	case s.sendCh <- data:
		return nil
	case <-s.closing:
		return errClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySend queues pkt only if the send buffer has room.
func (s *Socket) trySend(pkt *protocol.Packet) error {
	if !s.IsAlive() {
		return errClosed()
	}
	data, err := s.srv.codec.Encode(pkt)
	if err != nil {
		return err
	}

	select {
	case s.sendCh <- data:
		return nil
	default:
		return meshnet.Errorf(meshnet.ErrResourceLimit, meshnet.ErrMsgSendBufferFull)
	}
}

// Deliver sends a channel publication without waiting on a slow peer.
func (s *Socket) Deliver(ctx context.Context, channel string, data any) error {
	return s.trySend(&protocol.Packet{
		Event: meshnet.TransmitPublish,
		Data:  protocol.PublishData{Channel: channel, Data: data},
	})
}

// Transmit sends a packet that expects no response.
func (s *Socket) Transmit(ctx context.Context, event string, data any) error {
	if event == "" || meshnet.IsReserved(event) {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, "cannot transmit %q", event)
	}
	return s.send(ctx, &protocol.Packet{Event: event, Data: data})
}

// Invoke sends a call and waits for the client's response, the ack timeout,
// ctx, or the socket closing, whichever comes first.
func (s *Socket) Invoke(ctx context.Context, event string, data any) (any, error) {
	if event == "" || meshnet.IsReserved(event) {
		return nil, meshnet.Errorf(meshnet.ErrInvalidArgument, "cannot invoke %q", event)
	}

	id, call, err := s.register(event)
	if err != nil {
		return nil, err
	}
	if err := s.send(ctx, &protocol.Packet{Event: event, Data: data, CID: id}); err != nil {
		s.settle(id, callResult{err: err})
	}

	select {
	case r := <-call.done:
		return r.data, r.err
	case <-ctx.Done():
		s.settle(id, callResult{err: ctx.Err()})
		return nil, ctx.Err()
	}
}

func (s *Socket) register(event string) (int64, *pendingCall, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending == nil {
		return 0, nil, errClosed()
	}
	for attempt := 0; attempt < maxCallIDAttempts; attempt++ {
		id := s.srv.nextID()
		if id == 0 {
			continue
		}
		if _, taken := s.pending[id]; taken {
			continue
		}
		call := &pendingCall{done: make(chan callResult, 1)}
		call.timer = time.AfterFunc(s.srv.ackTimeout, func() {
			s.settle(id, callResult{err: meshnet.Errorf(meshnet.ErrTimeout, "%s: %s", meshnet.ErrMsgAckTimeout, event)})
		})
		s.pending[id] = call
		return id, call, nil
	}
	return 0, nil, meshnet.Errorf(meshnet.ErrResourceLimit, "no free call id after %d attempts", maxCallIDAttempts)
}

// settle resolves the pending call id. It reports false when no such call
// is outstanding.
func (s *Socket) settle(id int64, r callResult) bool {
	s.pendingMu.Lock()
	call, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if !ok {
		return false
	}
	call.timer.Stop()
	call.done <- r
	return true
}

func (s *Socket) rejectPending() {
	s.pendingMu.Lock()
	calls := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- callResult{err: errClosed()}
	}
}

func (s *Socket) handleResponse(pkt *protocol.Packet) {
	var err error
	if pkt.Error != nil {
		err = pkt.Error
	}
	data := meshnet.ResponseData{CallID: pkt.RID, Data: pkt.Data, Error: err}

	if s.settle(pkt.RID, callResult{data: pkt.Data, err: err}) {
		s.emit(meshnet.SocketResponse, data, nil)
		return
	}
	s.logger.Debug("response for unknown call", "rid", pkt.RID)
	s.emit(meshnet.SocketUnexpectedResponse, data, nil)
}

// SetAuthToken signs claims, authenticates the socket with the result and
// pushes the token to the client.
func (s *Socket) SetAuthToken(ctx context.Context, claims meshnet.Claims) error {
	if !s.IsAlive() {
		return errClosed()
	}
	signed, err := s.srv.auth.Sign(ctx, claims, auth.SignOptions{})
	if err != nil {
		return err
	}
	// Verify to pick up the claims added while signing.
	verified, err := s.srv.auth.Verify(ctx, signed, auth.VerifyOptions{})
	if err != nil {
		return err
	}

	s.setAuth(verified, signed)
	return s.send(ctx, &protocol.Packet{
		Event: meshnet.TransmitSetAuthToken,
		Data:  protocol.SetAuthTokenData{Token: signed},
	})
}

// Deauthenticate clears the auth state and tells the client to drop its token.
func (s *Socket) Deauthenticate(ctx context.Context) error {
	s.deauth()
	return s.send(ctx, &protocol.Packet{Event: meshnet.TransmitRemoveAuthToken})
}

func (s *Socket) setAuth(claims meshnet.Claims, signed string) {
	s.mu.Lock()
	old := s.authState
	s.authState = meshnet.Authenticated
	s.authToken = claims
	s.signedToken = signed
	s.mu.Unlock()

	if old != meshnet.Authenticated {
		s.emit(meshnet.SocketAuthStateChange, meshnet.AuthStateChangeData{
			OldState:    old,
			NewState:    meshnet.Authenticated,
			AuthToken:   claims,
			SignedToken: signed,
		}, nil)
	}
	s.emit(meshnet.SocketAuthenticate, meshnet.AuthenticateData{AuthToken: claims, SignedToken: signed}, nil)
}

func (s *Socket) deauth() bool {
	s.mu.Lock()
	old := s.authState
	claims, signed := s.authToken, s.signedToken
	s.authState = meshnet.Unauthenticated
	s.authToken = nil
	s.signedToken = ""
	s.mu.Unlock()

	if old != meshnet.Authenticated {
		return false
	}
	s.emit(meshnet.SocketDeauthenticate, meshnet.AuthenticateData{AuthToken: claims, SignedToken: signed}, nil)
	s.emit(meshnet.SocketAuthStateChange, meshnet.AuthStateChangeData{
		OldState: meshnet.Authenticated,
		NewState: meshnet.Unauthenticated,
	}, nil)
	return true
}

// Disconnect closes the socket. Cleanup finishes asynchronously; wait on
// Closed to observe it.
func (s *Socket) Disconnect(ctx context.Context, code int, reason string) error {
	s.terminate(code, reason)
	return nil
}

// terminate starts the close sequence once. Pending calls fail right away
// and queued packets are handled or dropped per the cleanup mode. In kill
// mode the socket context is cancelled here so the handler in flight can
// stop early. finish runs after the pipeline stops.
func (s *Socket) terminate(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = meshnet.StateClosing
		s.closeCode = code
		s.closeReason = reason
		s.mu.Unlock()

		close(s.closing)
		s.srv.detach(s)
		s.rejectPending()
		s.pipeline.Close(s.srv.cleanupMode)
		// Drained handlers keep a live context; killed ones must stop now.
		if s.srv.cleanupMode == inorder.ModeKill {
			s.cancel()
		}

		s.logger.Debug("socket closing", "code", code, "reason", reason)
		go s.finish()
	})
}

func (s *Socket) finish() {
	<-s.pipeline.Done()

	channels, err := s.srv.broker.UnsubscribeAll(context.Background(), s)
	if err != nil {
		s.logger.Warn("failed to drop subscriptions", "error", err)
	}
	for _, channel := range channels {
		s.emit(meshnet.SocketUnsubscribe, meshnet.ChannelData{Channel: channel}, nil)
		s.emit(meshnet.SocketSubscribeStateChange, meshnet.SubscribeStateChangeData{
			Channel:  channel,
			OldState: meshnet.Subscribed,
			NewState: meshnet.Unsubscribed,
		}, nil)
	}

	s.cancel()

	s.mu.Lock()
	s.state = meshnet.StateClosed
	handshaked := s.handshaked
	data := meshnet.DisconnectData{Code: s.closeCode, Reason: s.closeReason}
	s.mu.Unlock()

	if handshaked {
		s.emit(meshnet.SocketDisconnect, data, nil)
	} else {
		s.emit(meshnet.SocketConnectAbort, data, nil)
	}
	s.emit(meshnet.SocketClose, data, nil)

	s.srv.socketClosed(s, data.Code)
	close(s.closed)
}

// CheckRateLimit checks if the socket has exceeded the rate limit
// Returns true if the message is allowed, false if rate limited
func (s *Socket) CheckRateLimit() bool {
	if s.rateLimiter == nil {
		return true
	}
	return s.rateLimiter.Allow()
}

// writePump pumps frames from the send channel to the websocket connection.
// It owns every write on conn and closes it on exit.
func (s *Socket) writePump() {
	ticker := time.NewTicker(s.srv.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	msgType := websocket.TextMessage
	if s.srv.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case frame := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(msgType, frame); err != nil {
				s.terminate(meshnet.CloseAbnormal, err.Error())
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.terminate(meshnet.CloseAbnormal, err.Error())
				return
			}
			s.emit(meshnet.SocketPing, nil, nil)

		case <-s.closing:
			s.flush(msgType)
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame.
func (s *Socket) flush(msgType int) {
	deadline := time.Now().Add(writeWait)
	s.conn.SetWriteDeadline(deadline)
	// Only the write pump receives from sendCh, so len is stable here.
	for len(s.sendCh) > 0 {
		if err := s.conn.WriteMessage(msgType, <-s.sendCh); err != nil {
			return
		}
	}

	s.mu.RLock()
	code, reason := s.closeCode, s.closeReason
	s.mu.RUnlock()
	// 1005 and 1006 are reserved for reporting and cannot be sent.
	if code == websocket.CloseNoStatusReceived || code == websocket.CloseAbnormalClosure {
		code = websocket.CloseGoingAway
	}
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// readPump decodes inbound frames. Responses settle their call right here;
// everything else goes through the pipeline so handlers see packets in
// arrival order.
func (s *Socket) readPump() {
	s.conn.SetReadLimit(protocol.MaxFrameSize)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		s.emit(meshnet.SocketPong, nil, nil)
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		if !s.IsAlive() {
			return
		}
		s.extendReadDeadline()

		if !s.CheckRateLimit() {
			s.logger.Warn("rate limit exceeded, closing socket", "remote_addr", s.remoteAddr)
			s.terminate(meshnet.ClosePolicyViolation, meshnet.ErrMsgRateLimitExceeded)
			return
		}

		s.emit(meshnet.SocketMessage, meshnet.MessageData{Raw: msg}, nil)

		pkt := &protocol.Packet{}
		if err := s.srv.codec.Decode(msg, pkt); err != nil {
			s.logger.Debug("dropping undecodable frame", "error", err)
			s.emit(meshnet.SocketError, nil, err)
			continue
		}
		if pkt.IsResponse() {
			s.handleResponse(pkt)
			continue
		}
		s.pipeline.Push(pkt)
	}
}

func (s *Socket) extendReadDeadline() {
	if s.srv.pingTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.srv.pingTimeout))
	}
}

func (s *Socket) readFailed(err error) {
	if !s.IsAlive() {
		return
	}

	var closeErr *websocket.CloseError
	var netErr net.Error
	switch {
	case errors.As(err, &closeErr):
		s.terminate(closeErr.Code, closeErr.Text)
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Info("ping timeout, closing socket", "remote_addr", s.remoteAddr)
		s.terminate(meshnet.ClosePingTimeout, "ping timeout")
	default:
		s.logger.Debug("read failed", "error", err)
		s.terminate(meshnet.CloseAbnormal, "connection lost")
	}
}

// dispatch handles one queued packet on the pipeline goroutine.
func (s *Socket) dispatch(pkt *protocol.Packet) error {
	req := &meshnet.Request{Socket: s, Event: pkt.Event, Data: pkt.Data, CallID: pkt.CID}
	if !s.isHandshaked() && pkt.Event != meshnet.CallHandshake {
		err := meshnet.Errorf(meshnet.ErrProtocol, "%s: %q", meshnet.ErrMsgHandshakeRequired, pkt.Event)
		s.respond(req, nil, err)
		s.terminate(meshnet.CloseProtocolViolation, meshnet.ErrMsgHandshakeRequired)
		return err
	}
	if pkt.Event == "" {
		err := meshnet.Errorf(meshnet.ErrFormat, "packet has no event")
		s.emit(meshnet.SocketError, nil, err)
		s.respond(req, nil, err)
		return err
	}
	s.emit(meshnet.SocketRequest, req, nil)

	result, err := s.handle(req)
	s.respond(req, result, err)
	return err
}

func (s *Socket) respond(req *meshnet.Request, result any, err error) {
	if !req.ExpectsResponse() {
		if err != nil {
			s.logger.Debug("transmit failed", "event", req.Event, "error", err)
		}
		return
	}

	pkt := &protocol.Packet{RID: req.CallID}
	if err != nil {
		pkt.Error = meshnet.AsError(err)
	} else {
		pkt.Data = result
	}
	if err := s.send(s.ctx, pkt); err != nil {
		s.logger.Debug("response not sent", "event", req.Event, "cid", req.CallID, "error", err)
	}
}

func (s *Socket) isHandshaked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshaked
}

func (s *Socket) handle(req *meshnet.Request) (any, error) {
	switch req.Event {
	case meshnet.CallHandshake:
		return s.handleHandshake(req)
	case meshnet.CallAuthenticate:
		return s.handleAuthenticate(req)
	case meshnet.CallRemoveAuthToken:
		s.deauth()
		return nil, nil
	case meshnet.CallSubscribe:
		return nil, s.handleSubscribe(req)
	case meshnet.CallUnsubscribe:
		return nil, s.handleUnsubscribe(req)
	case meshnet.CallPublish:
		return nil, s.handlePublish(req)
	default:
		return s.handleApp(req)
	}
}

func (s *Socket) handleHandshake(req *meshnet.Request) (any, error) {
	if s.isHandshaked() {
		return nil, meshnet.Errorf(meshnet.ErrProtocol, meshnet.ErrMsgAlreadyHandshaked)
	}

	result := protocol.HandshakeResult{
		ID:            s.id,
		PingTimeoutMs: s.srv.pingTimeout.Milliseconds(),
	}
	var authErr error
	if token, ok := protocol.AuthTokenField(req.Data); ok {
		s.setState(meshnet.StateAuthenticating)
		claims, err := s.srv.auth.Verify(s.ctx, token, auth.VerifyOptions{})
		if err != nil {
			authErr = err
			result.AuthError = meshnet.AsError(err)
			s.emit(meshnet.SocketBadAuthToken, meshnet.BadAuthTokenData{SignedToken: token}, err)
		} else {
			s.setAuth(claims, token.(string))
			result.IsAuthenticated = true
		}
	}

	if !s.markReady() {
		return nil, errClosed()
	}
	s.srv.promote(s)
	s.emit(meshnet.SocketConnect, meshnet.ConnectData{
		ID:              s.id,
		IsAuthenticated: result.IsAuthenticated,
		AuthError:       authErr,
	}, nil)
	return result, nil
}

func (s *Socket) markReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= meshnet.StateClosing {
		return false
	}
	s.handshaked = true
	s.state = meshnet.StateReady
	return true
}

func (s *Socket) handleAuthenticate(req *meshnet.Request) (any, error) {
	claims, err := s.srv.auth.Verify(s.ctx, req.Data, auth.VerifyOptions{})
	if err != nil {
		s.deauth()
		s.emit(meshnet.SocketBadAuthToken, meshnet.BadAuthTokenData{SignedToken: req.Data}, err)
		return nil, err
	}
	s.setAuth(claims, req.Data.(string))
	return protocol.AuthenticateResult{IsAuthenticated: true}, nil
}

func (s *Socket) handleSubscribe(req *meshnet.Request) error {
	channel, ok := protocol.ChannelName(req.Data)
	if !ok {
		err := meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidChannel)
		s.emit(meshnet.SocketSubscribeFail, meshnet.ChannelData{}, err)
		return err
	}
	if !s.IsAlive() {
		err := errClosed()
		s.emit(meshnet.SocketSubscribeFail, meshnet.ChannelData{Channel: channel}, err)
		return err
	}

	x := s.srv.broker.Exchange()
	if limit := s.srv.channelLimit; limit > 0 && !x.IsSubscribed(s.id, channel) && x.ChannelCount(s.id) >= limit {
		err := meshnet.Errorf(meshnet.ErrResourceLimit, "%s (%d)", meshnet.ErrMsgChannelLimit, limit)
		s.emit(meshnet.SocketSubscribeFail, meshnet.ChannelData{Channel: channel}, err)
		return err
	}

	already, err := s.srv.broker.Subscribe(s.ctx, s, channel)
	if err != nil {
		s.emit(meshnet.SocketSubscribeFail, meshnet.ChannelData{Channel: channel}, err)
		return err
	}

	old := meshnet.Unsubscribed
	if already {
		old = meshnet.Subscribed
	} else {
		s.emit(meshnet.SocketSubscribe, meshnet.ChannelData{Channel: channel}, nil)
	}
	s.emit(meshnet.SocketSubscribeStateChange, meshnet.SubscribeStateChangeData{
		Channel:           channel,
		OldState:          old,
		NewState:          meshnet.Subscribed,
		AlreadySubscribed: already,
	}, nil)
	return nil
}

func (s *Socket) handleUnsubscribe(req *meshnet.Request) error {
	channel, ok := protocol.ChannelName(req.Data)
	if !ok {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidChannel)
	}

	was, err := s.srv.broker.Unsubscribe(s.ctx, s, channel)
	if err != nil {
		return err
	}
	if was {
		s.emit(meshnet.SocketUnsubscribe, meshnet.ChannelData{Channel: channel}, nil)
		s.emit(meshnet.SocketSubscribeStateChange, meshnet.SubscribeStateChangeData{
			Channel:  channel,
			OldState: meshnet.Subscribed,
			NewState: meshnet.Unsubscribed,
		}, nil)
	}
	return nil
}

func (s *Socket) handlePublish(req *meshnet.Request) error {
	if s.srv.disableClientPublish {
		return meshnet.Errorf(meshnet.ErrForbidden, meshnet.ErrMsgPublishDisabled)
	}
	pub, ok := protocol.ParsePublish(req.Data)
	if !ok {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidChannel)
	}
	return s.srv.broker.Publish(s.ctx, pub.Channel, pub.Data)
}

func (s *Socket) handleApp(req *meshnet.Request) (any, error) {
	if h, ok := s.srv.handler(req.Event); ok {
		return s.callHandler(h, req)
	}
	if fn := s.srv.onUnhandledRequest; fn != nil {
		result, handled, err := fn(s.ctx, req)
		if handled {
			return result, err
		}
	}
	return nil, meshnet.Errorf(meshnet.ErrNotFound, "%s: %s", meshnet.ErrMsgNoHandler, req.Event)
}

func (s *Socket) callHandler(h meshnet.HandlerFunc, req *meshnet.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "event", req.Event, "panic", r)
			result, err = nil, fmt.Errorf("handler for %q failed", req.Event)
		}
	}()
	return h(s.ctx, req)
}
