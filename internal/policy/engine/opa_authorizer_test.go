package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"planning-board/internal/identity/domain"
)

func TestOPAAuthorizer_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	a, err := NewOPAAuthorizer(ctx, "")
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}

	testCases := []struct {
		role   string
		action string
		want   bool
	}{
		{"viewer", ActionViewBoard, true},
		{"viewer", ActionStartMove, false},
		{"viewer", ActionMoveOrder, false},
		{"scheduler", ActionStartMove, true},
		{"scheduler", ActionMoveOrder, true},
		{"scheduler", ActionReorder, true},
		{"scheduler", ActionUpdateStatus, false},
		{"supervisor", ActionReorder, true},
		{"supervisor", ActionUpdateStatus, true},
		{"supervisor", ActionViewAudit, true},
		{"scheduler", ActionViewAudit, false},
		{"", ActionMoveOrder, false},
		{"scheduler", "order.delete", false},
	}
	for _, tc := range testCases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			got, err := a.Allow(ctx, &domain.Identity{UserID: "u1", Role: tc.role}, tc.action)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tc.want {
				t.Errorf("Allow(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
			}
		})
	}

	if got, _ := a.Allow(ctx, nil, ActionViewBoard); got {
		t.Error("nil identity allowed")
	}
}

func TestOPAAuthorizer_CustomPolicyFile(t *testing.T) {
	ctx := context.Background()
	policy := `package planboard.authz

default allow = false

allow if {
	input.user.id == "ops"
}
`
	path := filepath.Join(t.TempDir(), "board.rego")
	if err := os.WriteFile(path, []byte(policy), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a, err := NewOPAAuthorizerFromFile(ctx, path)
	if err != nil {
		t.Fatalf("NewOPAAuthorizerFromFile: %v", err)
	}
	if ok, err := a.Allow(ctx, &domain.Identity{UserID: "ops"}, ActionUpdateStatus); err != nil || !ok {
		t.Errorf("ops: allow=%v err=%v, want true", ok, err)
	}
	if ok, err := a.Allow(ctx, &domain.Identity{UserID: "u1", Role: "supervisor"}, ActionUpdateStatus); err != nil || ok {
		t.Errorf("supervisor: allow=%v err=%v, want false", ok, err)
	}
}

func TestOPAAuthorizer_UndefinedAllowDenies(t *testing.T) {
	ctx := context.Background()
	a, err := NewOPAAuthorizer(ctx, "package planboard.authz\n\nallow if {\n\tinput.action == \"board.view\"\n}\n")
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	ok, err := a.Allow(ctx, &domain.Identity{UserID: "u1"}, ActionMoveOrder)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("undefined allow should deny")
	}
}

func TestOPAAuthorizer_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := NewOPAAuthorizer(ctx, "package planboard.authz\n\nallow if {"); err == nil {
		t.Error("invalid rego should fail to compile")
	}
	if _, err := NewOPAAuthorizerFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("missing policy file should fail")
	}
}

func TestOPAAuthorizer_HealthCheck(t *testing.T) {
	a, err := NewOPAAuthorizer(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
