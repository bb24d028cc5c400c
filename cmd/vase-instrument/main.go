// Command vase-instrument rewrites the source of a Go package so that
// every two-way conditional branch records its condition's integer
// operands through package obslog, then writes the rewritten files back
// to disk. Run it once, ahead of building and executing the package
// natively to populate an observation log; running it twice over
// already-rewritten source is rejected (see package instrument).
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/format"
	"go/token"
	"io"
	"log"
	"os"

	"github.com/roxaw/EVP-KLEE/go/ast/astutil"
	"github.com/roxaw/EVP-KLEE/instrument"
	"golang.org/x/tools/go/packages"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "vase-instrument:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("vase-instrument", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("package required")
	}

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	pkgs, err := packages.Load(&packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
	}, fs.Args()...)
	if err != nil {
		return err
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("package contains errors")
	}

	for _, pkg := range pkgs {
		p := instrument.NewPass(pkg.Fset, pkg.TypesInfo)
		for i, file := range pkg.Syntax {
			// Clone before mutating so the verbose log can report how much
			// the pass actually added, without re-parsing the file.
			before := astutil.Clone(file).(*ast.File)

			changed, err := p.File(file)
			if err != nil {
				return fmt.Errorf("%s: %w", pkg.CompiledGoFiles[i], err)
			}
			if !changed {
				continue
			}
			if err := writeFile(pkg.CompiledGoFiles[i], pkg.Fset, file); err != nil {
				return err
			}
			log.Printf("[vase-instrument] rewrote %s (+%d lines)",
				pkg.CompiledGoFiles[i], lineDelta(pkg.Fset, before, file))
		}
	}
	return nil
}

// lineDelta returns the difference in formatted line count between before
// and after, a rough proxy for how many observation calls a rewrite
// inserted.
func lineDelta(fset *token.FileSet, before, after *ast.File) int {
	var b, a bytes.Buffer
	format.Node(&b, fset, before)
	format.Node(&a, fset, after)
	return bytes.Count(a.Bytes(), []byte("\n")) - bytes.Count(b.Bytes(), []byte("\n"))
}

func writeFile(path string, fset *token.FileSet, file *ast.File) error {
	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return fmt.Errorf("format %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
