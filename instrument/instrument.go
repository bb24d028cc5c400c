// Package instrument rewrites Go source ASTs so that every two-way
// conditional branch records the concrete integer operands of its
// governing condition, on both successor sides, via calls into package
// obslog. The rewrite is the native-execution half of the value-profile
// pipeline: later, package distill turns the resulting log into a
// limited-value map, and package inject consults that map at
// symbolic-execution time.
//
// The pass operates on parsed-and-type-checked source (go/ast plus
// go/types), not on a lowered IR, because the public go/ssa API this
// project's symbolic executor otherwise builds on exposes no supported
// way to splice instructions into an already-built function. Rewriting
// source ahead of the ssa.Program build keeps every downstream consumer
// (the executor, the test generator) unaware that instrumentation ran.
package instrument

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
)

// sinkImportPath is the package providing the runtime observation call,
// obslog.Observe(loc, branch int, name string, val int32).
const sinkImportPath = "github.com/roxaw/EVP-KLEE/obslog"

// sinkIdent is the local identifier the pass binds the sink import to.
const sinkIdent = "vaseobs"

// EntryBranch is the sentinel branch value used when logging a function's
// parameters at entry, as opposed to an actual true/false branch side.
const EntryBranch = -1

// marker is the doc-comment text stamped on an instrumented FuncDecl to
// guard against a second, conflicting pass over the same IR.
const marker = "vase:instrumented"

// Pass rewrites *ast.File values in place, given type information from a
// prior check of the same package.
type Pass struct {
	Fset *token.FileSet
	Info *types.Info

	tmpSeq int
}

// NewPass returns a Pass that resolves operand types through info and
// source lines through fset.
func NewPass(fset *token.FileSet, info *types.Info) *Pass {
	return &Pass{Fset: fset, Info: info}
}

// File rewrites every function declaration in f, inserting the sink
// import if any rewrite occurred. It is safe to call File on multiple
// files of the same package; Pass carries no cross-file state beyond the
// synthetic-name counter, which only affects cosmetics.
func (p *Pass) File(f *ast.File) (changed bool, err error) {
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		did, ferr := p.Func(fn)
		if ferr != nil {
			return changed, ferr
		}
		changed = changed || did
	}
	if changed {
		addImport(f, sinkImportPath, sinkIdent)
	}
	return changed, nil
}

// Func instruments a single function declaration. Calling Func twice on
// the same declaration is rejected: the second pass would plant
// duplicate, conflicting site keys for every branch.
func (p *Pass) Func(fn *ast.FuncDecl) (bool, error) {
	if isMarked(fn) {
		return false, fmt.Errorf("instrument: %s already instrumented", fn.Name)
	}

	changed := p.instrumentEntry(fn)

	ast.Inspect(fn.Body, func(n ast.Node) bool {
		ifStmt, ok := n.(*ast.IfStmt)
		if !ok {
			return true
		}
		if p.instrumentIf(fn, ifStmt) {
			changed = true
		}
		return true
	})

	if changed {
		mark(fn)
	}
	return changed, nil
}

// instrumentEntry logs each integer-typed parameter at function entry,
// keyed by the function's declaration line and EntryBranch.
func (p *Pass) instrumentEntry(fn *ast.FuncDecl) bool {
	loc := p.Fset.Position(fn.Pos()).Line
	var calls []ast.Stmt
	for _, field := range fn.Type.Params.List {
		if !p.isIntegerExpr(field.Type) {
			continue
		}
		for _, name := range field.Names {
			if name.Name == "_" {
				continue
			}
			calls = append(calls, p.observeCall(loc, EntryBranch, name.Name, name))
		}
	}
	if len(calls) == 0 {
		return false
	}
	fn.Body.List = append(calls, fn.Body.List...)
	return true
}

// instrumentIf inserts observation calls for the non-constant integer
// operands of stmt's condition at the head of both its true and false
// successor blocks.
func (p *Pass) instrumentIf(fn *ast.FuncDecl, stmt *ast.IfStmt) bool {
	loc := p.Fset.Position(stmt.If).Line
	operands := p.conditionOperands(stmt.Cond)

	if len(operands) == 0 {
		// Not an integer-bearing condition (floating point, or a named
		// boolean): preserve site presence with a placeholder marker on
		// each side, logged as value 0.
		p.prependTrue(stmt, []ast.Stmt{p.observeCall(loc, 1, "_cond", nil)})
		p.prependFalse(stmt, []ast.Stmt{p.observeCall(loc, 0, "_cond", nil)})
		return true
	}

	var trueCalls, falseCalls []ast.Stmt
	for _, op := range operands {
		name := p.nameOf(op)
		trueCalls = append(trueCalls, p.observeCall(loc, 1, name, op))
		falseCalls = append(falseCalls, p.observeCall(loc, 0, name, op))
	}
	p.prependTrue(stmt, trueCalls)
	p.prependFalse(stmt, falseCalls)
	return true
}

// prependTrue inserts stmts at the head of the if's true branch.
func (p *Pass) prependTrue(stmt *ast.IfStmt, stmts []ast.Stmt) {
	stmt.Body.List = append(stmts, stmt.Body.List...)
}

// prependFalse inserts stmts at the head of the if's false branch,
// synthesizing an empty else block when none exists. An else-if chain is
// wrapped in a fresh block so the observation calls run exactly once,
// before control falls into the nested if's own condition evaluation;
// this changes no observable behavior since the sink has no data-flow
// effect on host state.
func (p *Pass) prependFalse(stmt *ast.IfStmt, stmts []ast.Stmt) {
	switch els := stmt.Else.(type) {
	case nil:
		stmt.Else = &ast.BlockStmt{List: stmts}
	case *ast.BlockStmt:
		els.List = append(stmts, els.List...)
	case *ast.IfStmt:
		stmt.Else = &ast.BlockStmt{List: append(stmts, els)}
	}
}

// conditionOperands returns the non-constant integer expressions to log
// for a branch condition: the two operands of a comparison or arithmetic
// binary expression, or the condition itself if it is an opaque named
// boolean of integer type (never true in well-typed Go, kept only to
// mirror the source specification's operand-identification order).
func (p *Pass) conditionOperands(cond ast.Expr) []ast.Expr {
	cond = unparen(cond)
	if bin, ok := cond.(*ast.BinaryExpr); ok {
		var out []ast.Expr
		if p.isLoggable(bin.X) {
			out = append(out, bin.X)
		}
		if p.isLoggable(bin.Y) {
			out = append(out, bin.Y)
		}
		return out
	}
	if p.isLoggable(cond) {
		return []ast.Expr{cond}
	}
	return nil
}

// isLoggable reports whether expr denotes a non-constant value of integer
// type that observeCall can safely re-embed on both branch sides without
// changing what the original condition does. A call result or anything
// built from one is excluded: re-emitting the operand expression in the
// taken branch would invoke it a second time, giving the sink a data-flow
// effect on host state that the original program never had.
func (p *Pass) isLoggable(expr ast.Expr) bool {
	if p.Info.Types[expr].Value != nil {
		return false // constant operand
	}
	if !isSideEffectFree(expr) {
		return false
	}
	return p.isIntegerExpr(expr)
}

// isSideEffectFree reports whether evaluating expr a second time observes
// the same value and performs no additional work: bare identifiers,
// literals, and selector/index/star/paren expressions built from those,
// recursively. A call result fails this check even when its static type is
// integer, since observeCall would otherwise invoke it again.
func isSideEffectFree(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.Ident, *ast.BasicLit:
		return true
	case *ast.ParenExpr:
		return isSideEffectFree(e.X)
	case *ast.StarExpr:
		return isSideEffectFree(e.X)
	case *ast.SelectorExpr:
		return isSideEffectFree(e.X)
	case *ast.IndexExpr:
		return isSideEffectFree(e.X) && isSideEffectFree(e.Index)
	default:
		return false
	}
}

func (p *Pass) isIntegerExpr(expr ast.Expr) bool {
	tv, ok := p.Info.Types[expr]
	if !ok || tv.Type == nil {
		return false
	}
	basic, ok := tv.Type.Underlying().(*types.Basic)
	if !ok {
		return false
	}
	return basic.Info()&types.IsInteger != 0
}

// nameOf resolves the variable name to attach to a logged operand: its
// identifier name, the selector's field name for a struct/pointer field
// access, or a synthetic tmp_<k> for anything else (e.g. a call result or
// an indexing expression), mirroring the debug-name priority order of an
// IR-level instrumentation pass that falls back once SSA/debug names run
// out.
func (p *Pass) nameOf(expr ast.Expr) string {
	switch e := unparen(expr).(type) {
	case *ast.Ident:
		if e.Name != "" && e.Name != "_" {
			return e.Name
		}
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.StarExpr:
		return p.nameOf(e.X)
	}
	p.tmpSeq++
	return fmt.Sprintf("tmp_%d", p.tmpSeq)
}

// observeCall builds a call statement `vaseobs.Observe(loc, branch, name,
// int32(val))`. val may be nil, in which case a literal 0 is logged (the
// floating-point/non-integer placeholder marker case).
func (p *Pass) observeCall(loc, branch int, name string, val ast.Expr) ast.Stmt {
	var valArg ast.Expr
	if val == nil {
		valArg = &ast.BasicLit{Kind: token.INT, Value: "0"}
	} else {
		valArg = &ast.CallExpr{
			Fun:  ast.NewIdent("int32"),
			Args: []ast.Expr{val},
		}
	}
	call := &ast.CallExpr{
		Fun: &ast.SelectorExpr{X: ast.NewIdent(sinkIdent), Sel: ast.NewIdent("Observe")},
		Args: []ast.Expr{
			&ast.BasicLit{Kind: token.INT, Value: fmt.Sprint(loc)},
			&ast.BasicLit{Kind: token.INT, Value: fmt.Sprint(branch)},
			&ast.BasicLit{Kind: token.STRING, Value: fmt.Sprintf("%q", name)},
			valArg,
		},
	}
	return &ast.ExprStmt{X: call}
}

func unparen(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

func isMarked(fn *ast.FuncDecl) bool {
	if fn.Doc == nil {
		return false
	}
	for _, c := range fn.Doc.List {
		if c.Text == "//"+marker {
			return true
		}
	}
	return false
}

func mark(fn *ast.FuncDecl) {
	comment := &ast.Comment{Text: "//" + marker}
	if fn.Doc == nil {
		fn.Doc = &ast.CommentGroup{List: []*ast.Comment{comment}}
		return
	}
	fn.Doc.List = append(fn.Doc.List, comment)
}

// addImport adds `import ident "path"` to f if not already present.
func addImport(f *ast.File, path, ident string) {
	for _, imp := range f.Imports {
		if impPath(imp) == path {
			return
		}
	}
	spec := &ast.ImportSpec{
		Name: ast.NewIdent(ident),
		Path: &ast.BasicLit{Kind: token.STRING, Value: fmt.Sprintf("%q", path)},
	}
	f.Imports = append(f.Imports, spec)

	if len(f.Decls) > 0 {
		if gd, ok := f.Decls[0].(*ast.GenDecl); ok && gd.Tok == token.IMPORT {
			gd.Specs = append(gd.Specs, spec)
			return
		}
	}
	decl := &ast.GenDecl{Tok: token.IMPORT, Specs: []ast.Spec{spec}}
	f.Decls = append([]ast.Decl{decl}, f.Decls...)
}

func impPath(imp *ast.ImportSpec) string {
	if imp.Path == nil {
		return ""
	}
	v := imp.Path.Value
	if len(v) >= 2 {
		return v[1 : len(v)-1]
	}
	return v
}
