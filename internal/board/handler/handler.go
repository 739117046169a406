// Package handler exposes the board service over REST on a Go 1.22 http.ServeMux.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	auditdomain "planning-board/internal/audit/domain"
	boardservice "planning-board/internal/board/service"
	"planning-board/internal/board/view"
	"planning-board/internal/draglock"
	lockdomain "planning-board/internal/draglock/domain"
	identitydomain "planning-board/internal/identity/domain"
	identityservice "planning-board/internal/identity/service"
	orderdomain "planning-board/internal/order/domain"
	orderservice "planning-board/internal/order/service"
	"planning-board/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// Board is the board service surface used by the REST handlers.
type Board interface {
	StartMove(ctx context.Context, ident *identitydomain.Identity, orderID, orderNumber string) (draglock.Result, error)
	RenewMove(ctx context.Context, ident *identitydomain.Identity, orderID string) (lockdomain.DragLock, error)
	EndMove(ctx context.Context, ident *identitydomain.Identity, orderID string, completed bool, target *boardservice.MoveTarget) (*boardservice.EndResult, error)
	Move(ctx context.Context, ident *identitydomain.Identity, orderID, toWorkCentreID string, position int, reason string) (*orderservice.MoveResult, error)
	Reorder(ctx context.Context, ident *identitydomain.Identity, workCentreID string, entries []orderservice.PositionInput) (*orderservice.ReorderResult, error)
	UpdateStatus(ctx context.Context, ident *identitydomain.Identity, orderID string, status orderdomain.OrderStatus) (*orderdomain.Order, error)
	Snapshot(ctx context.Context, ident *identitydomain.Identity) (*boardservice.Snapshot, error)
	ActiveLocks(ctx context.Context, ident *identitydomain.Identity) ([]lockdomain.DragLock, error)
	AuditLog(ctx context.Context, ident *identitydomain.Identity, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// Server implements the board REST API.
type Server struct {
	board Board
}

// NewServer returns a REST server backed by board.
func NewServer(board Board) *Server {
	return &Server{board: board}
}

// RegisterRoutes registers the board routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders/{orderId}/move/start", s.StartMove)
	mux.HandleFunc("POST /api/orders/{orderId}/move/renew", s.RenewMove)
	mux.HandleFunc("POST /api/orders/{orderId}/move/end", s.EndMove)
	mux.HandleFunc("POST /api/orders/{orderId}/move", s.Move)
	mux.HandleFunc("PATCH /api/orders/{orderId}", s.UpdateStatus)
	mux.HandleFunc("PUT /api/work-centres/{workCentreId}/positions", s.Reorder)
	mux.HandleFunc("GET /api/board", s.Snapshot)
	mux.HandleFunc("GET /api/locks", s.Locks)
	mux.HandleFunc("GET /api/audit", s.Audit)
}

type lockResponse struct {
	Lock    view.Lock `json:"lock"`
	Renewed bool      `json:"renewed,omitempty"`
}

type moveResponse struct {
	Order            view.Order   `json:"order"`
	FromWorkCentreID string       `json:"fromWorkCentreId"`
	ToWorkCentreID   string       `json:"toWorkCentreId"`
	Changed          []view.Order `json:"changed"`
}

type endMoveResponse struct {
	Released bool          `json:"released"`
	Move     *moveResponse `json:"move,omitempty"`
}

type positionsResponse struct {
	WorkCentreID string          `json:"workCentreId"`
	Positions    []view.Position `json:"positions"`
	Changed      int             `json:"changed"`
}

type orderResponse struct {
	Order view.Order `json:"order"`
}

type boardResponse struct {
	WorkCentres []view.WorkCentre `json:"workCentres"`
	Locks       []view.Lock       `json:"locks"`
}

type locksResponse struct {
	Locks []view.Lock `json:"locks"`
}

type auditEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Action    string          `json:"action"`
	Resource  string          `json:"resource"`
	IP        string          `json:"ip,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type auditResponse struct {
	Entries []auditEntry `json:"entries"`
}

type errorResponse struct {
	Error        string     `json:"error"`
	Code         string     `json:"code"`
	OrderID      string     `json:"orderId,omitempty"`
	HeldBy       string     `json:"heldBy,omitempty"`
	HeldByUserID string     `json:"heldByUserId,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
}

// StartMove handles POST /api/orders/{orderId}/move/start.
func (s *Server) StartMove(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		OrderNumber string `json:"orderNumber"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.board.StartMove(r.Context(), ident, r.PathValue("orderId"), body.OrderNumber)
	if err != nil {
		writeError(w, r, "start_move", err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Lock: view.FromLock(res.Lock), Renewed: res.Renewed})
}

// RenewMove handles POST /api/orders/{orderId}/move/renew.
func (s *Server) RenewMove(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	l, err := s.board.RenewMove(r.Context(), ident, r.PathValue("orderId"))
	if err != nil {
		writeError(w, r, "renew_move", err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Lock: view.FromLock(l), Renewed: true})
}

// EndMove handles POST /api/orders/{orderId}/move/end.
func (s *Server) EndMove(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Completed          bool   `json:"completed"`
		TargetWorkCentreID string `json:"targetWorkCentreId"`
		Position           int    `json:"position"`
		Reason             string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	var target *boardservice.MoveTarget
	if body.TargetWorkCentreID != "" {
		target = &boardservice.MoveTarget{WorkCentreID: body.TargetWorkCentreID, Position: body.Position, Reason: body.Reason}
	}
	res, err := s.board.EndMove(r.Context(), ident, r.PathValue("orderId"), body.Completed, target)
	if err != nil {
		writeError(w, r, "end_move", err)
		return
	}
	out := endMoveResponse{Released: res.Released}
	if res.Move != nil {
		m := toMoveResponse(res.Move)
		out.Move = &m
	}
	writeJSON(w, http.StatusOK, out)
}

// Move handles POST /api/orders/{orderId}/move.
func (s *Server) Move(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		ToWorkCentreID string `json:"toWorkCentreId"`
		Position       int    `json:"position"`
		Reason         string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.board.Move(r.Context(), ident, r.PathValue("orderId"), body.ToWorkCentreID, body.Position, body.Reason)
	if err != nil {
		writeError(w, r, "move", err)
		return
	}
	writeJSON(w, http.StatusOK, toMoveResponse(res))
}

// Reorder handles PUT /api/work-centres/{workCentreId}/positions.
func (s *Server) Reorder(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		OrderPositions []orderservice.RawPositionEntry `json:"orderPositions"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	entries, err := orderservice.ParsePositionInputs(body.OrderPositions)
	if err != nil {
		writeError(w, r, "reorder", err)
		return
	}
	res, err := s.board.Reorder(r.Context(), ident, r.PathValue("workCentreId"), entries)
	if err != nil {
		writeError(w, r, "reorder", err)
		return
	}
	writeJSON(w, http.StatusOK, positionsResponse{
		WorkCentreID: res.WorkCentreID,
		Positions:    view.FromPositions(res.Positions),
		Changed:      len(res.Changed),
	})
}

// UpdateStatus handles PATCH /api/orders/{orderId}.
func (s *Server) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	o, err := s.board.UpdateStatus(r.Context(), ident, r.PathValue("orderId"), orderdomain.OrderStatus(body.Status))
	if err != nil {
		writeError(w, r, "update_status", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: view.FromOrder(o)})
}

// Snapshot handles GET /api/board.
func (s *Server) Snapshot(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	snap, err := s.board.Snapshot(r.Context(), ident)
	if err != nil {
		writeError(w, r, "snapshot", err)
		return
	}
	out := boardResponse{WorkCentres: make([]view.WorkCentre, len(snap.WorkCentres)), Locks: view.FromLocks(snap.Locks)}
	for i, col := range snap.WorkCentres {
		out.WorkCentres[i] = view.FromWorkCentre(col.WorkCentre, col.Orders)
	}
	writeJSON(w, http.StatusOK, out)
}

// Locks handles GET /api/locks.
func (s *Server) Locks(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	locks, err := s.board.ActiveLocks(r.Context(), ident)
	if err != nil {
		writeError(w, r, "locks", err)
		return
	}
	writeJSON(w, http.StatusOK, locksResponse{Locks: view.FromLocks(locks)})
}

// Audit handles GET /api/audit?limit=&offset=.
func (s *Server) Audit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	limit, err1 := queryInt(r, "limit")
	offset, err2 := queryInt(r, "offset")
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, r, "audit", err)
		return
	}
	logs, err := s.board.AuditLog(r.Context(), ident, limit, offset)
	if err != nil {
		writeError(w, r, "audit", err)
		return
	}
	out := auditResponse{Entries: make([]auditEntry, len(logs))}
	for i, a := range logs {
		e := auditEntry{ID: a.ID, UserID: a.UserID, Action: a.Action, Resource: a.Resource, IP: a.IP, CreatedAt: a.CreatedAt}
		if a.Metadata != "" && json.Valid([]byte(a.Metadata)) {
			e.Metadata = json.RawMessage(a.Metadata)
		}
		out.Entries[i] = e
	}
	writeJSON(w, http.StatusOK, out)
}

func toMoveResponse(res *orderservice.MoveResult) moveResponse {
	return moveResponse{
		Order:            view.FromOrder(res.Order),
		FromWorkCentreID: res.FromWorkCentreID,
		ToWorkCentreID:   res.ToWorkCentreID,
		Changed:          view.FromOrders(res.Changed),
	}
}

func identity(w http.ResponseWriter, r *http.Request) (*identitydomain.Identity, bool) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok || ident == nil {
		writeError(w, r, "auth", identityservice.ErrAuthentication)
		return nil, false
	}
	return ident, true
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body: " + err.Error(), Code: "invalid_input"})
	return false
}

func queryInt(r *http.Request, name string) (int32, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, errors.Join(orderservice.ErrInvalidInput, errors.New(name+" must be an integer"))
	}
	return int32(n), nil
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if ce, ok := draglock.AsConflict(err); ok {
		exp := ce.Holder.ExpiresAt
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:        ce.Error(),
			Code:         "conflict",
			OrderID:      ce.OrderID,
			HeldBy:       ce.Holder.HolderDisplayName,
			HeldByUserID: ce.Holder.HolderUserID,
			Expiry:       &exp,
		})
		return
	}
	status, code := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		userID, _ := middleware.GetUserID(r.Context())
		log.Printf("board: %s failed order_id=%s user_id=%s: %v", op, r.PathValue("orderId"), userID, err)
		msg = "internal error"
	case http.StatusForbidden:
		msg = "not allowed"
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="planning-board"`)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, draglock.ErrNotHeld):
		return http.StatusLocked, "not_held"
	case errors.Is(err, orderservice.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, orderservice.ErrInvalidReference):
		return http.StatusUnprocessableEntity, "invalid_reference"
	case errors.Is(err, orderservice.ErrInvalidInput), errors.Is(err, draglock.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, identityservice.ErrAuthentication):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, boardservice.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
