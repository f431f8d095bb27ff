// Package drift measures how fast the structure of a Go file changes
// across sessions.
package drift

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/highbeam/changeguard/internal/gomod"
)

// Metrics is the structural vector of one Go file.
type Metrics struct {
	Imports       int      `json:"imports"`
	Types         int      `json:"types"`
	Functions     int      `json:"functions"`
	ExternalDeps  int      `json:"externalDeps"`
	AvgComplexity float64  `json:"avgComplexity"`
	ExportedNames []string `json:"exportedNames"`
}

// Parse extracts Metrics from Go source. Imports under modulePath are
// project-local and do not count as external dependencies.
func Parse(filename string, src []byte, modulePath string) (Metrics, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return Metrics{}, fmt.Errorf("parse %s: %w", filename, err)
	}

	var m Metrics
	roots := make(map[string]bool)
	for _, imp := range file.Imports {
		m.Imports++
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || gomod.IsStdlib(path) {
			continue
		}
		if modulePath != "" && (path == modulePath || strings.HasPrefix(path, modulePath+"/")) {
			continue
		}
		roots[gomod.ModuleRoot(path)] = true
	}
	m.ExternalDeps = len(roots)

	var exported []string
	var totalComplexity int
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			m.Functions++
			totalComplexity += complexity(d)
			if name := funcName(d); name != "" {
				exported = append(exported, name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					m.Types++
					if s.Name.IsExported() {
						exported = append(exported, s.Name.Name)
					}
				case *ast.ValueSpec:
					for _, n := range s.Names {
						if n.IsExported() {
							exported = append(exported, n.Name)
						}
					}
				}
			}
		}
	}
	if m.Functions > 0 {
		m.AvgComplexity = float64(totalComplexity) / float64(m.Functions)
	}
	sort.Strings(exported)
	m.ExportedNames = exported
	return m, nil
}

// funcName returns the exported name of a function or method, "Type.Method"
// for methods, or "" when unexported.
func funcName(d *ast.FuncDecl) string {
	if !d.Name.IsExported() {
		return ""
	}
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name
	}
	recv := receiverType(d.Recv.List[0].Type)
	if recv == "" || !ast.IsExported(recv) {
		return ""
	}
	return recv + "." + d.Name.Name
}

func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}

// complexity is the cyclomatic complexity of one function: one plus each
// branch point.
func complexity(d *ast.FuncDecl) int {
	c := 1
	if d.Body == nil {
		return c
	}
	ast.Inspect(d.Body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt:
			c++
		case *ast.CaseClause:
			if n.List != nil {
				c++
			}
		case *ast.CommClause:
			if n.Comm != nil {
				c++
			}
		case *ast.BinaryExpr:
			if n.Op == token.LAND || n.Op == token.LOR {
				c++
			}
		}
		return true
	})
	return c
}

// NameChanges lists exported names added and removed between two
// snapshots.
func NameChanges(before, after []string) (added, removed []string) {
	prev := make(map[string]bool, len(before))
	for _, n := range before {
		prev[n] = true
	}
	cur := make(map[string]bool, len(after))
	for _, n := range after {
		cur[n] = true
		if !prev[n] {
			added = append(added, n)
		}
	}
	for _, n := range before {
		if !cur[n] {
			removed = append(removed, n)
		}
	}
	return added, removed
}
