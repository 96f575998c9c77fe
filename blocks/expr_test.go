package blocks

import "testing"

func TestEvalExprComparisons(t *testing.T) {
	vars := map[string]any{
		"status": "active",
		"count":  float64(5),
		"payload": map[string]any{
			"price": float64(120.5),
			"tier":  "gold",
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`status == "active"`, true},
		{`status != "active"`, false},
		{`count > 3`, true},
		{`count >= 5`, true},
		{`count < 5`, false},
		{`payload.price > 100`, true},
		{`payload.tier == "gold" && count > 1`, true},
		{`payload.tier == "silver" || count > 1`, true},
		{`!(count > 10)`, true},
		{`count == 5 && (status == "active" || status == "new")`, true},
		{`missing == "x"`, false},
		{`missing != "x"`, true},
		{`true`, true},
		{`false`, false},
		{`count > -1`, true},
	}

	for _, tc := range cases {
		got, err := EvalExpr(tc.expr, vars)
		if err != nil {
			t.Fatalf("EvalExpr(%q) returned error: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("EvalExpr(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalExprErrors(t *testing.T) {
	bad := []string{
		`count >`,
		`(count > 1`,
		`count > 1) `,
		`"unterminated`,
		`count @ 1`,
	}
	for _, expr := range bad {
		if _, err := EvalExpr(expr, map[string]any{"count": 1}); err == nil {
			t.Errorf("EvalExpr(%q) expected error, got none", expr)
		}
	}
}

func TestEvalExprEmpty(t *testing.T) {
	got, err := EvalExpr("   ", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("empty expression should evaluate to false")
	}
}

func TestResolveVarDepth(t *testing.T) {
	vars := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": "deep"},
		},
	}
	if got := resolveVar("a.b.c", vars); got != "deep" {
		t.Errorf("resolveVar(a.b.c) = %v, want deep", got)
	}
	if got := resolveVar("a.x.c", vars); got != nil {
		t.Errorf("resolveVar(a.x.c) = %v, want nil", got)
	}
}
