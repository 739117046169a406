package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	boardservice "planning-board/internal/board/service"
	"planning-board/internal/board/view"
	"planning-board/internal/draglock"
	lockdomain "planning-board/internal/draglock/domain"
	identitydomain "planning-board/internal/identity/domain"
	identityservice "planning-board/internal/identity/service"
	orderservice "planning-board/internal/order/service"
	"planning-board/internal/server/middleware"
)

// Board is the subset of the board service used by the WebSocket protocol.
type Board interface {
	StartMove(ctx context.Context, ident *identitydomain.Identity, orderID, orderNumber string) (draglock.Result, error)
	RenewMove(ctx context.Context, ident *identitydomain.Identity, orderID string) (lockdomain.DragLock, error)
	EndMove(ctx context.Context, ident *identitydomain.Identity, orderID string, completed bool, target *boardservice.MoveTarget) (*boardservice.EndResult, error)
	Move(ctx context.Context, ident *identitydomain.Identity, orderID, toWorkCentreID string, position int, reason string) (*orderservice.MoveResult, error)
	Reorder(ctx context.Context, ident *identitydomain.Identity, workCentreID string, entries []orderservice.PositionInput) (*orderservice.ReorderResult, error)
	ActiveLocks(ctx context.Context, ident *identitydomain.Identity) ([]lockdomain.DragLock, error)
	Disconnect(ctx context.Context, userID string, offline func() bool) []lockdomain.DragLock
}

// Config tunes the WebSocket endpoint. Zero values use the defaults below.
type Config struct {
	BoardRoom      string
	AllowedOrigins []string // empty allows same-host origins only; "*" allows any
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	AuthTimeout    time.Duration
	MaxMessageSize int64
	// OperationTimeout bounds one dispatched request.
	OperationTimeout time.Duration
}

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultAuthTimeout      = 10 * time.Second
	defaultMaxMessageSize   = 64 << 10
	defaultOperationTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BoardRoom == "" {
		c.BoardRoom = "planning-board"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	return c
}

// Handler upgrades HTTP requests to WebSocket sessions and runs the board protocol on them.
type Handler struct {
	cfg         Config
	auth        middleware.Authenticator
	board       Board
	registry    *Registry
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	wg          sync.WaitGroup
}

// NewHandler returns a WebSocket handler.
func NewHandler(cfg Config, auth middleware.Authenticator, board Board, registry *Registry, broadcaster *Broadcaster) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{cfg: cfg, auth: auth, board: board, registry: registry, broadcaster: broadcaster}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if len(h.cfg.AllowedOrigins) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates from the upgrade request when it carries a token, upgrades, and serves
// the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, _ := middleware.IdentityFrom(r.Context())
	if ident == nil {
		if token := middleware.RequestToken(r); token != "" && h.auth != nil {
			var err error
			ident, err = h.auth.Authenticate(r.Context(), token)
			if err != nil {
				http.Error(w, "missing or invalid authorization", http.StatusUnauthorized)
				return
			}
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed ip=%s: %v", middleware.ClientIP(r), err)
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()
	h.serve(conn, ident)
}

// Shutdown closes every session and waits for their connections to finish cleanup, or for ctx.
func (h *Handler) Shutdown(ctx context.Context) error {
	for _, s := range h.registry.All() {
		s.Close()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) serve(conn *websocket.Conn, ident *identitydomain.Identity) {
	defer conn.Close()
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	requestID := ""
	if ident == nil {
		var err error
		ident, requestID, err = h.authenticateFirstFrame(conn)
		if err != nil {
			h.writeDirect(conn, Message{Type: TypeError, RequestID: requestID, Data: ErrorData{
				Code:        CodeAuthentication,
				Message:     err.Error(),
				RequestType: TypeAuthenticate,
			}})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		}
	}

	sess := NewSession(*ident, h.cfg.SendBuffer)
	h.registry.Register(sess)
	log.Printf("realtime: session %s connected user_id=%s", sess.ID, sess.UserID())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, sess)
	}()

	h.reply(sess, requestID, TypeAuthenticated, AuthenticatedData{
		SessionID: sess.ID,
		User:      view.User{UserID: ident.UserID, DisplayName: ident.Name()},
		Role:      ident.Role,
	})
	h.readLoop(conn, sess)

	sess.Close()
	<-writerDone
	h.disconnect(sess)
}

var errAuthRequired = errors.New("authenticate must be the first message")

func (h *Handler) authenticateFirstFrame(conn *websocket.Conn) (*identitydomain.Identity, string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, "", errAuthRequired
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != TypeAuthenticate {
		return nil, env.RequestID, errAuthRequired
	}
	var data authenticateData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" || h.auth == nil {
		return nil, env.RequestID, identityservice.ErrAuthentication
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.OperationTimeout)
	defer cancel()
	ident, err := h.auth.Authenticate(ctx, data.Token)
	if err != nil {
		return nil, env.RequestID, identityservice.ErrAuthentication
	}
	return ident, env.RequestID, nil
}

func (h *Handler) writeDirect(conn *websocket.Conn, msg Message) {
	frame, ok := encode(msg)
	if !ok {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

func (h *Handler) writeLoop(conn *websocket.Conn, sess *Session) {
	pingPeriod := h.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()
	for {
		select {
		case frame := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sess.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				sess.Close()
				return
			}
		case <-sess.Done():
			h.drain(conn, sess)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		}
	}
}

// drain flushes frames already queued when the session closed, so a client that sent a request
// and hung up still sees the replies queued before the close.
func (h *Handler) drain(conn *websocket.Conn, sess *Session) {
	for {
		select {
		case frame := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *Session) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !sess.Closed() {
				log.Printf("realtime: session %s read: %v", sess.ID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.replyError(sess, "", "", CodeInvalidInput, "message is not a JSON envelope")
			continue
		}
		h.dispatch(sess, env)
	}
}

// disconnect removes the session; the user's locks are released when it was their last session.
func (h *Handler) disconnect(sess *Session) {
	room := h.registry.RoomOf(sess.ID)
	_, last := h.registry.Unregister(sess.ID)
	if last {
		uid := sess.UserID()
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.OperationTimeout)
		h.board.Disconnect(ctx, uid, func() bool { return h.registry.UserSessionCount(uid) == 0 })
		cancel()
	}
	if room != "" && !h.registry.UserInRoom(sess.UserID(), room) {
		h.broadcaster.Broadcast(room, Message{Type: TypeUserLeft, Data: PresenceData{Room: room, User: userView(sess)}})
	}
	log.Printf("realtime: session %s disconnected user_id=%s last=%v", sess.ID, sess.UserID(), last)
}

func (h *Handler) dispatch(sess *Session, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.OperationTimeout)
	defer cancel()
	ident := &sess.Identity

	switch env.Type {
	case TypePing:
		h.reply(sess, env.RequestID, TypePong, nil)

	case TypeAuthenticate:
		h.reply(sess, env.RequestID, TypeAuthenticated, AuthenticatedData{SessionID: sess.ID, User: userView(sess), Role: ident.Role})

	case TypeJoinRoom:
		var data joinRoomData
		if !h.decode(sess, env, &data) {
			return
		}
		h.joinRoom(ctx, sess, env, data.Room)

	case TypeLeaveRoom:
		room := h.registry.Leave(sess.ID)
		if room != "" && !h.registry.UserInRoom(sess.UserID(), room) {
			h.broadcaster.Broadcast(room, Message{Type: TypeUserLeft, Data: PresenceData{Room: room, User: userView(sess)}})
		}

	case TypeDragStart:
		var data dragStartData
		if !h.decode(sess, env, &data) {
			return
		}
		if _, err := h.board.StartMove(ctx, ident, data.OrderID, data.OrderNumber); err != nil {
			h.replyFailure(sess, env, err)
		}

	case TypeDragRenew:
		var data dragRenewData
		if !h.decode(sess, env, &data) {
			return
		}
		l, err := h.board.RenewMove(ctx, ident, data.OrderID)
		if err != nil {
			h.replyFailure(sess, env, err)
			return
		}
		h.reply(sess, env.RequestID, TypeLockRenewed, LockRenewedData{OrderID: l.OrderID, Expiry: l.ExpiresAt})

	case TypeDragEnd:
		var data dragEndData
		if !h.decode(sess, env, &data) {
			return
		}
		var target *boardservice.MoveTarget
		if data.TargetWorkCentreID != "" {
			target = &boardservice.MoveTarget{WorkCentreID: data.TargetWorkCentreID, Position: data.Position, Reason: data.Reason}
		}
		if _, err := h.board.EndMove(ctx, ident, data.OrderID, data.Completed, target); err != nil {
			h.replyFailure(sess, env, err)
		}

	case TypeOrderMove:
		var data orderMoveData
		if !h.decode(sess, env, &data) {
			return
		}
		if _, err := h.board.Move(ctx, ident, data.OrderID, data.ToWorkCentreID, data.Position, data.Reason); err != nil {
			h.replyFailure(sess, env, err)
		}

	case TypeReorder:
		var data reorderData
		if !h.decode(sess, env, &data) {
			return
		}
		entries, err := orderservice.ParsePositionInputs(data.OrderPositions)
		if err != nil {
			h.replyFailure(sess, env, err)
			return
		}
		if _, err := h.board.Reorder(ctx, ident, data.WorkCentreID, entries); err != nil {
			h.replyFailure(sess, env, err)
		}

	default:
		h.replyError(sess, env.RequestID, env.Type, CodeUnknownType, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (h *Handler) joinRoom(ctx context.Context, sess *Session, env Envelope, room string) {
	room = strings.TrimSpace(room)
	if room == "" {
		room = h.cfg.BoardRoom
	}
	locks, err := h.board.ActiveLocks(ctx, &sess.Identity)
	if err != nil {
		h.replyFailure(sess, env, err)
		return
	}
	alreadyPresent := h.registry.UserInRoom(sess.UserID(), room)
	previous := h.registry.Join(sess.ID, room)
	if previous != "" && previous != room && !h.registry.UserInRoom(sess.UserID(), previous) {
		h.broadcaster.Broadcast(previous, Message{Type: TypeUserLeft, Data: PresenceData{Room: previous, User: userView(sess)}})
	}

	members := h.registry.Members(room)
	users := make([]view.User, len(members))
	for i, m := range members {
		users[i] = view.User{UserID: m.UserID, DisplayName: m.DisplayName}
	}
	if room != h.cfg.BoardRoom {
		locks = nil
	}
	h.reply(sess, env.RequestID, TypeRoomJoined, RoomJoinedData{Room: room, Members: users, Locks: view.FromLocks(locks)})
	if !alreadyPresent {
		h.broadcaster.BroadcastExcept(room, sess.ID, Message{Type: TypeUserJoined, Data: PresenceData{Room: room, User: userView(sess)}})
	}
}

func (h *Handler) decode(sess *Session, env Envelope, dst any) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		h.replyError(sess, env.RequestID, env.Type, CodeInvalidInput, "malformed data: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) reply(sess *Session, requestID, msgType string, data any) {
	h.broadcaster.SendTo(sess.ID, Message{Type: msgType, Data: data, RequestID: requestID})
}

func (h *Handler) replyError(sess *Session, requestID, requestType, code, message string) {
	h.reply(sess, requestID, TypeError, ErrorData{Code: code, Message: message, RequestType: requestType})
}

// replyFailure maps a board error to drag-conflict or an error message.
func (h *Handler) replyFailure(sess *Session, env Envelope, err error) {
	if ce, ok := draglock.AsConflict(err); ok {
		h.reply(sess, env.RequestID, TypeDragConflict, DragConflictData{
			OrderID:      ce.OrderID,
			HeldBy:       ce.Holder.HolderDisplayName,
			HeldByUserID: ce.Holder.HolderUserID,
			Expiry:       ce.Holder.ExpiresAt,
		})
		return
	}
	code, msg := errorCode(err)
	if code == CodeServerError {
		log.Printf("realtime: %s failed session=%s user_id=%s: %v", env.Type, sess.ID, sess.UserID(), err)
	}
	h.replyError(sess, env.RequestID, env.Type, code, msg)
}

func errorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, orderservice.ErrInvalidInput), errors.Is(err, draglock.ErrInvalidRequest):
		return CodeInvalidInput, err.Error()
	case errors.Is(err, orderservice.ErrInvalidReference):
		return CodeInvalidReference, err.Error()
	case errors.Is(err, orderservice.ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, draglock.ErrNotHeld):
		return CodeNotHeld, err.Error()
	case errors.Is(err, boardservice.ErrForbidden):
		return CodeForbidden, "not allowed"
	case errors.Is(err, identityservice.ErrAuthentication):
		return CodeAuthentication, err.Error()
	default:
		return CodeServerError, "internal error"
	}
}

func userView(sess *Session) view.User {
	return view.User{UserID: sess.UserID(), DisplayName: sess.Identity.Name()}
}
