package vase

import "fmt"

// Query bundles a set of side constraints with a goal expression, mirroring
// the shape handed to an SMT solver at every decision point of symbolic
// execution.
type Query struct {
	Constraints []Expr
	Goal        Expr
}

// WithConstraint returns a copy of q with expr conjoined onto its
// constraint set. q itself is left untouched.
func (q Query) WithConstraint(expr Expr) Query {
	constraints := make([]Expr, len(q.Constraints), len(q.Constraints)+1)
	copy(constraints, q.Constraints)
	constraints = append(constraints, expr)
	return Query{Constraints: constraints, Goal: q.Goal}
}

// Exprs returns every constraint followed by the goal, the order in which a
// location scan inspects a query's text.
func (q Query) Exprs() []Expr {
	exprs := make([]Expr, 0, len(q.Constraints)+1)
	exprs = append(exprs, q.Constraints...)
	if q.Goal != nil {
		exprs = append(exprs, q.Goal)
	}
	return exprs
}

// Validity is the three-valued result of a validity query: whether a goal
// holds under every model of its constraints, under none, or under some.
type Validity int

const (
	Unknown Validity = iota
	True
	False
)

// String returns the human-readable name of the validity result.
func (v Validity) String() string {
	switch v {
	case True:
		return "True"
	case False:
		return "False"
	default:
		return "Unknown"
	}
}

// Solver is the operation surface a query-handling engine requires from its
// underlying constraint solver: validity, truth, value, and initial-value
// extraction. An injecting wrapper implements the same interface so it can
// be substituted for the underlying solver without the engine noticing.
type Solver interface {
	// ComputeValidity reports whether q.Goal holds under every, no, or some
	// model of q.Constraints.
	ComputeValidity(q Query) (Validity, error)

	// ComputeTruth reports whether q.Goal holds under every model of
	// q.Constraints (i.e. its negation is unsatisfiable).
	ComputeTruth(q Query) (bool, error)

	// ComputeValue returns a concrete witness for expr under some model of
	// q.Constraints.
	ComputeValue(q Query, expr Expr) (Expr, error)

	// ComputeInitialValues returns a satisfying byte assignment for each of
	// arrays under q.Constraints. ok is false if q.Constraints is
	// unsatisfiable.
	ComputeInitialValues(q Query, arrays []*Array) (ok bool, values [][]byte, err error)
}

// RawSolver is the low-level satisfiability primitive an SMT backend
// actually exposes: decide a constraint set and, if satisfiable, produce a
// model for the requested arrays. Solver implementations are built on top
// of one.
type RawSolver interface {
	Solve(constraints []Expr, arrays []*Array) (satisfiable bool, values [][]byte, err error)
}

// StandardSolver adapts a RawSolver into the four-operation Solver contract
// by issuing one or two satisfiability checks per call.
type StandardSolver struct {
	Raw RawSolver
}

// NewStandardSolver returns a Solver backed by raw.
func NewStandardSolver(raw RawSolver) *StandardSolver {
	return &StandardSolver{Raw: raw}
}

func (s *StandardSolver) ComputeValidity(q Query) (Validity, error) {
	positiveSat, _, err := s.Raw.Solve(append(append([]Expr{}, q.Constraints...), q.Goal), nil)
	if err != nil {
		return Unknown, err
	}

	negativeSat, _, err := s.Raw.Solve(append(append([]Expr{}, q.Constraints...), NewNotExpr(q.Goal)), nil)
	if err != nil {
		return Unknown, err
	}

	switch {
	case !positiveSat && !negativeSat:
		// q.Constraints itself has no model; every goal holds vacuously.
		return True, nil
	case positiveSat && !negativeSat:
		return True, nil
	case !positiveSat && negativeSat:
		return False, nil
	default:
		return Unknown, nil
	}
}

func (s *StandardSolver) ComputeTruth(q Query) (bool, error) {
	negativeSat, _, err := s.Raw.Solve(append(append([]Expr{}, q.Constraints...), NewNotExpr(q.Goal)), nil)
	if err != nil {
		return false, err
	}
	return !negativeSat, nil
}

func (s *StandardSolver) ComputeValue(q Query, expr Expr) (Expr, error) {
	arrays := FindArrays(expr)
	ok, values, err := s.Raw.Solve(q.Constraints, arrays)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("vase: query has no model")
	}
	return NewExprEvaluator(arrays, values).Evaluate(expr)
}

func (s *StandardSolver) ComputeInitialValues(q Query, arrays []*Array) (bool, [][]byte, error) {
	return s.Raw.Solve(q.Constraints, arrays)
}
