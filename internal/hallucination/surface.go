package hallucination

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/build"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/module"
)

// ErrSurfaceUnavailable is returned when a package's source cannot be
// found locally.
var ErrSurfaceUnavailable = errors.New("api surface unavailable")

// SurfaceProvider returns the exported top-level names of a package.
type SurfaceProvider interface {
	Surface(ctx context.Context, eco Ecosystem, modulePath, version, importPath string) ([]string, error)
}

// ModCacheSurface reads Go package surfaces from the local module cache.
type ModCacheSurface struct {
	Dir string
}

// NewModCacheSurface uses dir, or GOMODCACHE, or GOPATH/pkg/mod.
func NewModCacheSurface(dir string) *ModCacheSurface {
	if dir == "" {
		dir = os.Getenv("GOMODCACHE")
	}
	if dir == "" {
		gopath := build.Default.GOPATH
		if list := filepath.SplitList(gopath); len(list) > 0 {
			gopath = list[0]
		}
		dir = filepath.Join(gopath, "pkg", "mod")
	}
	return &ModCacheSurface{Dir: dir}
}

// Surface parses the non-test Go files of importPath inside
// modulePath@version.
func (m *ModCacheSurface) Surface(_ context.Context, eco Ecosystem, modulePath, version, importPath string) ([]string, error) {
	if eco != EcosystemGo {
		return nil, ErrSurfaceUnavailable
	}
	escPath, err := module.EscapePath(modulePath)
	if err != nil {
		return nil, err
	}
	escVer, err := module.EscapeVersion(version)
	if err != nil {
		return nil, err
	}
	sub := strings.TrimPrefix(strings.TrimPrefix(importPath, modulePath), "/")
	dir := filepath.Join(m.Dir, filepath.FromSlash(escPath)+"@"+escVer, filepath.FromSlash(sub))
	return DirSurface(dir)
}

// DirSurface returns the sorted exported top-level names declared by the
// non-test Go files in dir.
func DirSurface(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSurfaceUnavailable
		}
		return nil, err
	}

	fset := token.NewFileSet()
	names := make(map[string]bool)
	parsed := 0
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, ".go") || strings.HasSuffix(n, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, n), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", n, err)
		}
		parsed++
		for _, decl := range f.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Recv == nil && d.Name.IsExported() {
					names[d.Name.Name] = true
				}
			case *ast.GenDecl:
				for _, spec := range d.Specs {
					switch s := spec.(type) {
					case *ast.TypeSpec:
						if s.Name.IsExported() {
							names[s.Name.Name] = true
						}
					case *ast.ValueSpec:
						for _, id := range s.Names {
							if id.IsExported() {
								names[id.Name] = true
							}
						}
					}
				}
			}
		}
	}
	if parsed == 0 {
		return nil, ErrSurfaceUnavailable
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
