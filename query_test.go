package vase_test

import (
	"testing"

	"github.com/roxaw/EVP-KLEE"
)

// rawFakeSolver is a small brute-force vase.RawSolver test double: it
// tries every byte assignment of the requested arrays (bounded to a tiny
// search space) and returns the first that satisfies every constraint.
type rawFakeSolver struct{}

func (rawFakeSolver) Solve(constraints []vase.Expr, arrays []*vase.Array) (bool, [][]byte, error) {
	all := vase.FindArrays(constraints...)
	for _, a := range arrays {
		if !containsArray(all, a) {
			all = append(all, a)
		}
	}

	values := make([][]byte, len(all))
	for i, a := range all {
		values[i] = make([]byte, a.Size)
	}

	satisfies := func() bool {
		ee := vase.NewExprEvaluator(all, values)
		for _, c := range constraints {
			ce, err := ee.Evaluate(c)
			if err != nil || !ce.IsTrue() {
				return false
			}
		}
		return true
	}

	var found bool
	var result [][]byte

	var walkByte func(ai, bi int) bool
	var walkArray func(ai int) bool

	walkByte = func(ai, bi int) bool {
		a := all[ai]
		if bi == int(a.Size) {
			return walkArray(ai + 1)
		}
		for b := 0; b < 256; b++ {
			values[ai][bi] = byte(b)
			if walkByte(ai, bi+1) {
				return true
			}
		}
		return false
	}

	walkArray = func(ai int) bool {
		if ai == len(all) {
			if satisfies() {
				found = true
				result = make([][]byte, len(all))
				for i, v := range values {
					cp := make([]byte, len(v))
					copy(cp, v)
					result[i] = cp
				}
				return true
			}
			return false
		}
		if all[ai].Size == 0 {
			return walkArray(ai + 1)
		}
		return walkByte(ai, 0)
	}

	walkArray(0)
	if !found {
		return false, nil, nil
	}

	out := make([][]byte, len(arrays))
	for i, want := range arrays {
		for j, a := range all {
			if a.ID == want.ID {
				out[i] = result[j]
				break
			}
		}
	}
	return true, out, nil
}

func containsArray(arrays []*vase.Array, a *vase.Array) bool {
	for _, x := range arrays {
		if x.ID == a.ID {
			return true
		}
	}
	return false
}

func TestStandardSolver_ComputeTruth(t *testing.T) {
	s := vase.NewStandardSolver(rawFakeSolver{})
	a := vase.NewArray(1, 1)
	byte0 := a.Select(vase.NewConstantExpr64(0), vase.Width8, true)

	q := vase.Query{Goal: vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(5))}
	if truth, err := s.ComputeTruth(q); err != nil {
		t.Fatal(err)
	} else if truth {
		t.Fatal("expected false: the goal does not hold for every model")
	}

	q2 := q.WithConstraint(vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(5)))
	if truth, err := s.ComputeTruth(q2); err != nil {
		t.Fatal(err)
	} else if !truth {
		t.Fatal("expected true: the goal holds under the sole remaining model")
	}
}

func TestStandardSolver_ComputeValidity(t *testing.T) {
	s := vase.NewStandardSolver(rawFakeSolver{})
	a := vase.NewArray(1, 1)
	byte0 := a.Select(vase.NewConstantExpr64(0), vase.Width8, true)

	t.Run("True_Vacuous", func(t *testing.T) {
		q := vase.Query{
			Constraints: []vase.Expr{
				vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(1)),
				vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(2)),
			},
			Goal: vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(99)),
		}
		validity, err := s.ComputeValidity(q)
		if err != nil {
			t.Fatal(err)
		} else if validity != vase.True {
			t.Fatalf("got %s, expected True (unsatisfiable constraints)", validity)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		q := vase.Query{Goal: vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(5))}
		validity, err := s.ComputeValidity(q)
		if err != nil {
			t.Fatal(err)
		} else if validity != vase.Unknown {
			t.Fatalf("got %s, expected Unknown", validity)
		}
	})
}

func TestStandardSolver_ComputeValue(t *testing.T) {
	s := vase.NewStandardSolver(rawFakeSolver{})
	a := vase.NewArray(1, 1)
	byte0 := a.Select(vase.NewConstantExpr64(0), vase.Width8, true)

	q := vase.Query{Constraints: []vase.Expr{vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(7))}}
	v, err := s.ComputeValue(q, byte0)
	if err != nil {
		t.Fatal(err)
	}
	ce, ok := v.(*vase.ConstantExpr)
	if !ok || ce.Value != 7 {
		t.Fatalf("got %v, expected constant 7", v)
	}
}

func TestStandardSolver_ComputeInitialValues(t *testing.T) {
	s := vase.NewStandardSolver(rawFakeSolver{})
	a := vase.NewArray(1, 1)
	byte0 := a.Select(vase.NewConstantExpr64(0), vase.Width8, true)

	q := vase.Query{Constraints: []vase.Expr{vase.NewBinaryExpr(vase.EQ, byte0, vase.NewConstantExpr8(42))}}
	ok, values, err := s.ComputeInitialValues(q, []*vase.Array{a})
	if err != nil {
		t.Fatal(err)
	} else if !ok {
		t.Fatal("expected a model")
	} else if len(values) != 1 || values[0][0] != 42 {
		t.Fatalf("got %v, expected [[42]]", values)
	}
}
