package locate_test

import (
	"testing"

	"github.com/roxaw/EVP-KLEE"
	"github.com/roxaw/EVP-KLEE/locate"
)

func tagged(id uint64, name string) *vase.Array {
	a := vase.NewArray(id, 1)
	a.Name = name
	return a
}

func TestSite(t *testing.T) {
	t.Run("BranchQualified", func(t *testing.T) {
		a := tagged(1, "loc:7:branch:1_x")
		q := vase.Query{Constraints: []vase.Expr{a.Select(vase.NewConstantExpr64(0), vase.Width8, true)}}
		if got := locate.Site(q); got != "loc:7:branch:1" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("Bare", func(t *testing.T) {
		a := tagged(1, "loc:9_y")
		q := vase.Query{Constraints: []vase.Expr{a.Select(vase.NewConstantExpr64(0), vase.Width8, true)}}
		if got := locate.Site(q); got != "loc:9" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("GoalFallback", func(t *testing.T) {
		a := tagged(1, "loc:3")
		q := vase.Query{Goal: a.Select(vase.NewConstantExpr64(0), vase.Width8, true)}
		if got := locate.Site(q); got != "loc:3" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("Sentinel", func(t *testing.T) {
		a := vase.NewArray(1, 4)
		q := vase.Query{Constraints: []vase.Expr{a.Select(vase.NewConstantExpr64(0), vase.Width32, true)}}
		if got := locate.Site(q); got != locate.Sentinel {
			t.Fatalf("got %q, want sentinel", got)
		}
	})

	t.Run("ConstraintsBeforeGoal", func(t *testing.T) {
		a := tagged(1, "loc:1")
		b := tagged(2, "loc:2")
		q := vase.Query{
			Constraints: []vase.Expr{a.Select(vase.NewConstantExpr64(0), vase.Width8, true)},
			Goal:        b.Select(vase.NewConstantExpr64(0), vase.Width8, true),
		}
		if got := locate.Site(q); got != "loc:1" {
			t.Fatalf("got %q, want first constraint's tag", got)
		}
	})
}
