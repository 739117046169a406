package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"planning-board/internal/audit"
	auditrepo "planning-board/internal/audit/repository"
	boardservice "planning-board/internal/board/service"
	"planning-board/internal/draglock"
	identitydomain "planning-board/internal/identity/domain"
	identityservice "planning-board/internal/identity/service"
	orderrepo "planning-board/internal/order/repository"
	orderservice "planning-board/internal/order/service"
	"planning-board/internal/policy/engine"
	"planning-board/internal/server/middleware"
)

var tokens = map[string]*identitydomain.Identity{
	"alice": {UserID: "u-alice", DisplayName: "Alice", Role: "scheduler"},
	"bob":   {UserID: "u-bob", DisplayName: "Bob", Role: "scheduler"},
	"carol": {UserID: "u-carol", DisplayName: "Carol", Role: "supervisor"},
	"dave":  {UserID: "u-dave", DisplayName: "Dave", Role: "viewer"},
}

type mapAuthenticator struct{}

func (mapAuthenticator) Authenticate(_ context.Context, token string) (*identitydomain.Identity, error) {
	if ident, ok := tokens[token]; ok {
		return ident, nil
	}
	return nil, identityservice.ErrAuthentication
}

type apiFixture struct {
	handler http.Handler
	repo    *orderrepo.MemoryRepository
	audit   *audit.Logger
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	repo := orderrepo.NewMemoryRepository()
	if err := orderrepo.SeedDemo(ctx, repo); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	authz, err := engine.NewOPAAuthorizer(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	auditRepo := auditrepo.NewMemoryRepository(100)
	logger := audit.NewLogger(auditRepo, middleware.ClientIPFromContext)
	svc := boardservice.NewService(boardservice.Deps{
		Locks:      draglock.NewManager(draglock.NewMemoryStore(), 30*time.Second),
		Reconciler: orderservice.NewReconciler(repo),
		Orders:     repo,
		Authorizer: authz,
		Audit:      logger,
		AuditRepo:  auditRepo,
	})
	mux := http.NewServeMux()
	NewServer(svc).RegisterRoutes(mux)
	h := middleware.Chain(mux, middleware.WithClientIPContext, middleware.Auth(mapAuthenticator{}, nil))
	return &apiFixture{handler: h, repo: repo, audit: logger}
}

func (f *apiFixture) do(t *testing.T, token, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return v
}

func queue(t *testing.T, repo orderrepo.Repository, wcID string) []string {
	t.Helper()
	orders, err := repo.ListOrdersInWorkCentre(context.Background(), wcID)
	if err != nil {
		t.Fatalf("ListOrdersInWorkCentre: %v", err)
	}
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestMoveLifecycle(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, "alice", http.MethodPost, "/api/orders/42/move/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("alice start: %d %s", rec.Code, rec.Body)
	}
	lock := decodeJSON[lockResponse](t, rec)
	if lock.Lock.OrderID != "42" || lock.Lock.Holder.UserID != "u-alice" || lock.Lock.OrderNumber != "WO-2026-0042" {
		t.Errorf("lock = %+v", lock.Lock)
	}

	rec = f.do(t, "bob", http.MethodPost, "/api/orders/42/move/start", `{"orderNumber":"WO-2026-0042"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("bob start: %d %s", rec.Code, rec.Body)
	}
	conflict := decodeJSON[errorResponse](t, rec)
	if conflict.Code != "conflict" || conflict.HeldBy != "Alice" || conflict.HeldByUserID != "u-alice" {
		t.Errorf("conflict = %+v", conflict)
	}

	rec = f.do(t, "bob", http.MethodPost, "/api/orders/42/move/renew", "")
	if rec.Code != http.StatusLocked {
		t.Errorf("bob renew: %d, want 423", rec.Code)
	}
	rec = f.do(t, "alice", http.MethodPost, "/api/orders/42/move/renew", "")
	if rec.Code != http.StatusOK {
		t.Errorf("alice renew: %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, "alice", http.MethodPost, "/api/orders/42/move/end",
		`{"completed":true,"targetWorkCentreId":"wc-bend","position":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("alice end: %d %s", rec.Code, rec.Body)
	}
	end := decodeJSON[endMoveResponse](t, rec)
	if !end.Released || end.Move == nil || end.Move.FromWorkCentreID != "wc-cut" || end.Move.Order.Position != 2 {
		t.Errorf("end = %+v", end)
	}
	if got := strings.Join(queue(t, f.repo, "wc-bend"), ","); got != "43,42,44,45" {
		t.Errorf("wc-bend = %s", got)
	}

	rec = f.do(t, "bob", http.MethodPost, "/api/orders/42/move/start", "")
	if rec.Code != http.StatusOK {
		t.Errorf("bob start after release: %d %s", rec.Code, rec.Body)
	}
}

func TestMoveAndReorder(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, "alice", http.MethodPost, "/api/orders/40/move", `{"toWorkCentreId":"wc-pack","reason":"rework"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move: %d %s", rec.Code, rec.Body)
	}
	moved := decodeJSON[moveResponse](t, rec)
	if moved.ToWorkCentreID != "wc-pack" || moved.Order.Position != 4 || len(moved.Changed) != 3 {
		t.Errorf("move = %+v", moved)
	}

	rec = f.do(t, "alice", http.MethodPut, "/api/work-centres/wc-pack/positions",
		`{"orderPositions":[{"orderId":"40","position":1}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", rec.Code, rec.Body)
	}
	res := decodeJSON[positionsResponse](t, rec)
	if res.Changed != 4 || len(res.Positions) != 4 || res.Positions[0].OrderID != "40" {
		t.Errorf("reorder = %+v", res)
	}

	rec = f.do(t, "alice", http.MethodPut, "/api/work-centres/wc-pack/positions",
		`{"orderPositions":[{"orderId":"40","position":1}]}`)
	if res := decodeJSON[positionsResponse](t, rec); rec.Code != http.StatusOK || res.Changed != 0 {
		t.Errorf("repeat reorder: %d changed=%d", rec.Code, res.Changed)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	tests := []struct {
		name   string
		token  string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"no token", "", http.MethodGet, "/api/board", "", http.StatusUnauthorized, "authentication_error"},
		{"unknown order", "alice", http.MethodPost, "/api/orders/999/move/start", "", http.StatusNotFound, "not_found"},
		{"unknown work centre", "alice", http.MethodPost, "/api/orders/40/move", `{"toWorkCentreId":"wc-paint"}`, http.StatusNotFound, "not_found"},
		{"order from other centre", "alice", http.MethodPut, "/api/work-centres/wc-cut/positions", `{"orderPositions":[{"orderId":"45","position":1}]}`, http.StatusUnprocessableEntity, "invalid_reference"},
		{"non-integer position", "alice", http.MethodPut, "/api/work-centres/wc-cut/positions", `{"orderPositions":[{"orderId":"40","position":"top"}]}`, http.StatusBadRequest, "invalid_input"},
		{"empty positions", "alice", http.MethodPut, "/api/work-centres/wc-cut/positions", `{"orderPositions":[]}`, http.StatusBadRequest, "invalid_input"},
		{"malformed body", "alice", http.MethodPost, "/api/orders/40/move", `{"toWorkCentreId":`, http.StatusBadRequest, "invalid_input"},
		{"viewer cannot move", "dave", http.MethodPost, "/api/orders/40/move/start", "", http.StatusForbidden, "forbidden"},
		{"scheduler cannot change status", "alice", http.MethodPatch, "/api/orders/40", `{"status":"on_hold"}`, http.StatusForbidden, "forbidden"},
		{"unknown status", "carol", http.MethodPatch, "/api/orders/40", `{"status":"lost"}`, http.StatusBadRequest, "invalid_input"},
		{"bad audit limit", "carol", http.MethodGet, "/api/audit?limit=ten", "", http.StatusBadRequest, "invalid_input"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.token, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body)
			}
			if got := decodeJSON[errorResponse](t, rec); got.Code != tc.code {
				t.Errorf("code = %q, want %q", got.Code, tc.code)
			}
		})
	}
	if got := strings.Join(queue(t, f.repo, "wc-cut"), ","); got != "40,41,42" {
		t.Errorf("failed requests changed wc-cut: %s", got)
	}
}

func TestSnapshotAndLocks(t *testing.T) {
	f := newAPI(t)
	for _, id := range []string{"44", "41"} {
		if rec := f.do(t, "alice", http.MethodPost, "/api/orders/"+id+"/move/start", ""); rec.Code != http.StatusOK {
			t.Fatalf("start %s: %d", id, rec.Code)
		}
	}

	rec := f.do(t, "dave", http.MethodGet, "/api/locks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("locks: %d %s", rec.Code, rec.Body)
	}
	locks := decodeJSON[locksResponse](t, rec)
	if len(locks.Locks) != 2 || locks.Locks[0].OrderID != "44" || locks.Locks[1].OrderID != "41" {
		t.Errorf("locks not in acquisition order: %+v", locks.Locks)
	}

	rec = f.do(t, "dave", http.MethodGet, "/api/board", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("board: %d %s", rec.Code, rec.Body)
	}
	board := decodeJSON[boardResponse](t, rec)
	if len(board.WorkCentres) != 4 || len(board.Locks) != 2 {
		t.Fatalf("board = %d work centres, %d locks", len(board.WorkCentres), len(board.Locks))
	}
	if board.WorkCentres[0].Code != "BEND-01" {
		t.Errorf("columns not ordered by code: first is %s", board.WorkCentres[0].Code)
	}
	cut := board.WorkCentres[1]
	if cut.ID != "wc-cut" || len(cut.Orders) != 3 || cut.Orders[0].ID != "40" || cut.Orders[2].Position != 3 {
		t.Errorf("cutting column = %+v", cut)
	}
}

func TestStatusAndAudit(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, "carol", http.MethodPatch, "/api/orders/41", `{"status":"completed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rec.Code, rec.Body)
	}
	if o := decodeJSON[orderResponse](t, rec); o.Order.Status != "completed" {
		t.Errorf("order = %+v", o.Order)
	}
	f.do(t, "alice", http.MethodPost, "/api/orders/42/move/start", "")
	f.do(t, "bob", http.MethodPost, "/api/orders/42/move/start", "")
	f.audit.Wait()

	if rec := f.do(t, "alice", http.MethodGet, "/api/audit", ""); rec.Code != http.StatusForbidden {
		t.Errorf("scheduler audit: %d, want 403", rec.Code)
	}
	rec = f.do(t, "carol", http.MethodGet, "/api/audit?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", rec.Code, rec.Body)
	}
	entries := decodeJSON[auditResponse](t, rec).Entries
	actions := map[string]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	if len(entries) != 2 || !actions["order_status_changed"] || !actions["lock_conflict"] {
		t.Errorf("audit entries = %+v", entries)
	}
}
