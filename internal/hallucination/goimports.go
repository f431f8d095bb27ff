package hallucination

import (
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
)

// ParseGoImports returns the imports of a Go file together with the
// exported names selected through each import's local name. Blank and
// dot imports carry no symbols.
func ParseGoImports(filename string, src []byte) ([]Import, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int)
	imports := make([]Import, 0, len(f.Imports))
	seen := make(map[string]int)
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		idx, ok := seen[path]
		if !ok {
			idx = len(imports)
			seen[path] = idx
			imports = append(imports, Import{Path: path})
		}
		name := defaultName(path)
		if spec.Name != nil {
			name = spec.Name.Name
		}
		if name != "_" && name != "." {
			byName[name] = idx
		}
	}

	symbols := make([]map[string]bool, len(imports))
	ast.Inspect(f, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		id, ok := sel.X.(*ast.Ident)
		if !ok || !sel.Sel.IsExported() {
			return true
		}
		if idx, ok := byName[id.Name]; ok {
			if symbols[idx] == nil {
				symbols[idx] = make(map[string]bool)
			}
			symbols[idx][sel.Sel.Name] = true
		}
		return true
	})
	for i, set := range symbols {
		for s := range set {
			imports[i].Symbols = append(imports[i].Symbols, s)
		}
		sort.Strings(imports[i].Symbols)
	}
	return imports, nil
}

// defaultName guesses the package name of an unaliased import: the last
// path element without a major-version suffix or a go- prefix.
func defaultName(path string) string {
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	if len(parts) > 1 && isMajorVersion(name) {
		name = parts[len(parts)-2]
	}
	if i := strings.LastIndex(name, ".v"); i > 0 && isMajorVersion(name[i+1:]) {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	if i := strings.LastIndex(name, "-"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}
