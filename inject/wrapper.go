// Package inject implements the injection solver wrapper: it interposes on
// every solver query, consults a limited-value map, and tries to augment
// the query with an equality constraint drawn from values concretely
// observed at the matching site before forwarding to the underlying
// solver.
package inject

import (
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roxaw/EVP-KLEE"
	"github.com/roxaw/EVP-KLEE/distill"
	"github.com/roxaw/EVP-KLEE/locate"
)

// Config mirrors the engine-facing vase-* configuration options.
type Config struct {
	MapPath   string // vase-map
	MaxArrays int    // vase-max-arrays
	MaxBytes  int    // vase-max-bytes
	MaxValues int    // vase-max-values
	TryPairs  bool   // vase-try-pairs
	Verbose   bool   // vase-verbose
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxArrays: 4,
		MaxBytes:  4,
		MaxValues: 4,
		TryPairs:  true,
		Verbose:   true,
	}
}

type loadState int

const (
	unloaded loadState = iota
	loading
	ready
	degraded
)

// Wrapper implements vase.Solver on top of an underlying solver, proposing
// candidate equality constraints drawn from a limited-value map before
// every decision.
type Wrapper struct {
	underlying vase.Solver
	cfg        Config

	mu    sync.Mutex // serializes the one-shot map load only
	state loadState
	m     distill.Map
}

// Ensure Wrapper implements vase.Solver.
var _ vase.Solver = (*Wrapper)(nil)

// NewWrapper returns a Wrapper delegating to underlying.
func NewWrapper(underlying vase.Solver, cfg Config) *Wrapper {
	return &Wrapper{underlying: underlying, cfg: cfg}
}

func (w *Wrapper) ComputeValidity(q vase.Query) (vase.Validity, error) {
	aug, err := w.augment(q)
	if err != nil {
		return vase.Unknown, err
	}
	return w.underlying.ComputeValidity(aug)
}

func (w *Wrapper) ComputeTruth(q vase.Query) (bool, error) {
	aug, err := w.augment(q)
	if err != nil {
		return false, err
	}
	return w.underlying.ComputeTruth(aug)
}

func (w *Wrapper) ComputeValue(q vase.Query, expr vase.Expr) (vase.Expr, error) {
	aug, err := w.augment(q)
	if err != nil {
		return nil, err
	}
	return w.underlying.ComputeValue(aug, expr)
}

func (w *Wrapper) ComputeInitialValues(q vase.Query, arrays []*vase.Array) (bool, [][]byte, error) {
	aug, err := w.augment(q)
	if err != nil {
		return false, nil, err
	}
	return w.underlying.ComputeInitialValues(aug, arrays)
}

// ensureLoaded performs the one-shot, serialized map load. It transitions
// unloaded -> loading -> ready-or-degraded exactly once; every later call
// observes the terminal state without retrying.
func (w *Wrapper) ensureLoaded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != unloaded {
		return
	}
	w.state = loading

	if w.cfg.MapPath == "" {
		log.Printf("[inject] no map configured, degrading to pass-through")
		w.state = degraded
		return
	}

	f, err := os.Open(w.cfg.MapPath)
	if err != nil {
		log.Printf("[inject] open %s: %s, degrading to pass-through", w.cfg.MapPath, err)
		w.state = degraded
		return
	}
	defer f.Close()

	m, err := distill.Decode(f)
	if err != nil {
		log.Printf("[inject] parse %s: %s, degrading to pass-through", w.cfg.MapPath, err)
		w.state = degraded
		return
	}

	w.m = m
	w.state = ready
}

// augment performs the locate/propose/try pipeline and returns either q
// unchanged or q with one accepted equality conjoined.
func (w *Wrapper) augment(q vase.Query) (vase.Query, error) {
	w.ensureLoaded()
	if w.state != ready {
		return q, nil
	}

	site := locate.Site(q)
	vars, ok := w.lookupSite(site)
	if !ok {
		return q, nil
	}

	values := collectValues(vars, w.cfg.MaxValues)
	if len(values) == 0 {
		return q, nil
	}

	arrays := rootArrays(q, w.cfg.MaxArrays)
	if len(arrays) == 0 {
		return q, nil
	}

	for _, v := range values {
		for _, a := range arrays {
			n := bytesUsed(q, a, w.cfg.MaxBytes)
			cand := bytewiseEqual(a, n, v)
			accepted, err := w.accept(q, cand)
			if err != nil {
				return q, err
			} else if accepted {
				w.logAccepted(site, "bytewise", cand)
				return q.WithConstraint(cand), nil
			}
		}

		for _, a := range arrays {
			n := bytesUsed(q, a, w.cfg.MaxBytes)
			if n > 4 {
				continue
			}
			cand := vase.NewBinaryExpr(vase.EQ, packLE32(a, n), vase.NewConstantExpr32(uint64(uint32(v))))
			accepted, err := w.accept(q, cand)
			if err != nil {
				return q, err
			} else if accepted {
				w.logAccepted(site, "packed32", cand)
				return q.WithConstraint(cand), nil
			}
		}

		if w.cfg.TryPairs && len(arrays) == 2 {
			n0 := bytesUsed(q, arrays[0], w.cfg.MaxBytes)
			n1 := bytesUsed(q, arrays[1], w.cfg.MaxBytes)
			sum := vase.NewBinaryExpr(vase.ADD, packLE32(arrays[0], n0), packLE32(arrays[1], n1))
			cand := vase.NewBinaryExpr(vase.EQ, sum, vase.NewConstantExpr32(uint64(uint32(v))))
			accepted, err := w.accept(q, cand)
			if err != nil {
				return q, err
			} else if accepted {
				w.logAccepted(site, "pair-sum", cand)
				return q.WithConstraint(cand), nil
			}
		}
	}

	return q, nil
}

// accept first requires q's constraints plus cand to be satisfiable, then
// asks the underlying solver for the validity of q's original goal under
// those constraints, accepting unless the result is certified False.
// Checking satisfiability alone would ignore q.Goal and could accept a
// candidate that flips the query's answer; checking validity alone would
// accept an unsatisfiable augmentation, under which every goal is
// vacuously True.
//
// A nil Goal means the top-level operation is a pure constraint solve (a
// ComputeInitialValues call with no distinguished goal expression, unlike
// KLEE's Query which always carries one); there is then no answer to
// preserve, so acceptance stops after the satisfiability check.
func (w *Wrapper) accept(q vase.Query, cand vase.Expr) (bool, error) {
	augmented := q.WithConstraint(cand)
	ok, _, err := w.underlying.ComputeInitialValues(augmented, nil)
	if err != nil || !ok {
		return false, nil // unsatisfiable, or an underlying failure: not accepted
	}
	if q.Goal == nil {
		return true, nil
	}

	validity, err := w.underlying.ComputeValidity(vase.Query{Constraints: augmented.Constraints, Goal: q.Goal})
	if err != nil {
		return false, nil // underlying failure counts as "not accepted"
	}
	return validity != vase.False, nil
}

func (w *Wrapper) logAccepted(site, class string, cand vase.Expr) {
	if !w.cfg.Verbose {
		return
	}
	log.Printf("[inject] applied at %s: %s on %s -> %s", site, class, arrayNames(cand), cand)
}

// arrayNames returns the comma-joined Name of every array cand reads from,
// falling back to its numeric ID for arrays the host engine left unnamed.
func arrayNames(cand vase.Expr) string {
	arrays := vase.FindArrays(cand)
	names := make([]string, len(arrays))
	for i, a := range arrays {
		if a.Name != "" {
			names[i] = a.Name
		} else {
			names[i] = strconv.FormatUint(a.ID, 10)
		}
	}
	return strings.Join(names, ",")
}

// lookupSite performs exact lookup, falling back to the branch-less key
// if the site includes a branch suffix.
func (w *Wrapper) lookupSite(site string) (map[string][]distill.ValueProperty, bool) {
	if vars, ok := w.m[site]; ok {
		return vars, true
	}
	if i := strings.Index(site, ":branch:"); i >= 0 {
		if vars, ok := w.m[site[:i]]; ok {
			return vars, true
		}
	}
	return nil, false
}

// collectValues unions every variable's catalogued values at a site into a
// single deduplicated, capped candidate list, in deterministic order.
func collectValues(vars map[string][]distill.ValueProperty, max int) []int64 {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := map[int64]bool{}
	var out []int64
	for _, name := range names {
		for _, vp := range vars[name] {
			if vp.Type != 0 {
				continue
			}
			v, err := strconv.ParseInt(vp.Value, 10, 64)
			if err != nil {
				continue
			}
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// rootArrays returns up to max distinct symbolic arrays referenced by any
// read in q, in FindArrays' deterministic order.
func rootArrays(q vase.Query, max int) []*vase.Array {
	arrays := vase.FindArrays(q.Exprs()...)
	if len(arrays) > max {
		arrays = arrays[:max]
	}
	return arrays
}

// bytesUsed returns one plus the maximum constant byte index of a observed
// in reads of a within q, clamped to [1, maxBytes]. Defaults to 4 if only
// non-constant indices (or no reads at all) are observed.
func bytesUsed(q vase.Query, a *vase.Array, maxBytes int) uint {
	v := &maxIndexVisitor{array: a, max: -1}
	for _, expr := range q.Exprs() {
		vase.WalkExpr(v, expr)
	}

	n := v.max + 1
	if n <= 0 {
		n = 4
	}
	if n > int64(maxBytes) {
		n = int64(maxBytes)
	}
	if n < 1 {
		n = 1
	}
	return uint(n)
}

type maxIndexVisitor struct {
	array *vase.Array
	max   int64
}

func (v *maxIndexVisitor) Visit(expr vase.Expr) (vase.Expr, vase.ExprVisitor) {
	if s, ok := expr.(*vase.SelectExpr); ok && s.Array == v.array {
		if c, ok := s.Index.(*vase.ConstantExpr); ok && int64(c.Value) > v.max {
			v.max = int64(c.Value)
		}
	}
	return expr, v
}

// bytewiseEqual proposes read(a,i) == byte_i(v) for i = 0..n-1, conjoined.
func bytewiseEqual(a *vase.Array, n uint, v int64) vase.Expr {
	var cond vase.Expr
	for i := uint(0); i < n; i++ {
		byteVal := (uint64(v) >> (8 * i)) & 0xff
		eq := vase.NewBinaryExpr(vase.EQ, a.Select(vase.NewConstantExpr64(uint64(i)), vase.Width8, true), vase.NewConstantExpr8(byteVal))
		if i == 0 {
			cond = eq
		} else {
			cond = vase.NewBinaryExpr(vase.AND, cond, eq)
		}
	}
	return cond
}

// packLE32 builds the little-endian 32-bit pack of a's first n bytes.
func packLE32(a *vase.Array, n uint) vase.Expr {
	var result vase.Expr
	for i := uint(0); i < n; i++ {
		b := a.Select(vase.NewConstantExpr64(uint64(i)), vase.Width8, true)
		widened := vase.NewCastExpr(b, vase.Width32, false)
		shifted := vase.NewBinaryExpr(vase.SHL, widened, vase.NewConstantExpr32(uint64(8*i)))
		if i == 0 {
			result = shifted
		} else {
			result = vase.NewBinaryExpr(vase.OR, result, shifted)
		}
	}
	return result
}
