// Package gomod classifies Go import paths and locates the go.mod that
// governs a source file.
package gomod

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ErrNoModule is returned when no go.mod exists above a path.
var ErrNoModule = errors.New("no go.mod found")

// IsStdlib reports whether path names a standard-library package: its
// first element contains no dot.
func IsStdlib(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return first != "" && !strings.Contains(first, ".")
}

// threeElementHosts are hosting sites whose module roots are
// host/owner/repo.
var threeElementHosts = map[string]bool{
	"github.com":    true,
	"gitlab.com":    true,
	"bitbucket.org": true,
	"golang.org":    true,
	"codeberg.org":  true,
}

// ModuleRoot guesses the module root of an import path without network
// access.
func ModuleRoot(path string) string {
	parts := strings.Split(path, "/")
	n := 2
	if threeElementHosts[parts[0]] {
		n = 3
	}
	if len(parts) < n {
		return path
	}
	if len(parts) > n && isMajorSuffix(parts[n]) {
		n++
	}
	return strings.Join(parts[:n], "/")
}

// isMajorSuffix reports whether elem is a /vN major-version element, N >= 2.
func isMajorSuffix(elem string) bool {
	if len(elem) < 2 || elem[0] != 'v' || elem[1] == '0' || elem == "v1" {
		return false
	}
	for _, r := range elem[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Module is a parsed go.mod.
type Module struct {
	Dir  string // directory containing go.mod
	Path string // module path
	File *modfile.File
}

// Find walks up from dir to the nearest go.mod and parses it.
func Find(dir string) (*Module, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		gomod := filepath.Join(dir, "go.mod")
		data, err := os.ReadFile(gomod)
		if err == nil {
			f, err := modfile.Parse(gomod, data, nil)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", gomod, err)
			}
			if f.Module == nil {
				return nil, fmt.Errorf("%s has no module directive", gomod)
			}
			return &Module{Dir: dir, Path: f.Module.Mod.Path, File: f}, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNoModule
		}
		dir = parent
	}
}

// IsLocal reports whether importPath belongs to this module.
func (m *Module) IsLocal(importPath string) bool {
	return importPath == m.Path || strings.HasPrefix(importPath, m.Path+"/")
}

// LocalDir returns the directory of a project-local import path.
func (m *Module) LocalDir(importPath string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(importPath, m.Path), "/")
	return filepath.Join(m.Dir, filepath.FromSlash(rel))
}

// Require returns the pinned module requirement that provides importPath:
// the longest required module path that prefixes it. ok is false when
// nothing provides it.
func (m *Module) Require(importPath string) (modPath, version string, ok bool) {
	for _, r := range m.File.Require {
		p := r.Mod.Path
		if importPath != p && !strings.HasPrefix(importPath, p+"/") {
			continue
		}
		if len(p) > len(modPath) {
			modPath, version, ok = p, r.Mod.Version, true
		}
	}
	for _, rep := range m.File.Replace {
		if rep.Old.Path == modPath && rep.New.Version != "" {
			version = rep.New.Version
		}
	}
	return modPath, version, ok
}

// LocalReplace resolves importPath through a replace directive that points
// at a directory (no version on the right-hand side). It returns the
// directory that would hold the package; the longest matching module path
// wins. ok is false when no directory replacement covers importPath.
func (m *Module) LocalReplace(importPath string) (dir string, ok bool) {
	var best string
	for _, rep := range m.File.Replace {
		p := rep.Old.Path
		if rep.New.Version != "" || len(p) <= len(best) {
			continue
		}
		if importPath != p && !strings.HasPrefix(importPath, p+"/") {
			continue
		}
		target := filepath.FromSlash(rep.New.Path)
		if !filepath.IsAbs(target) {
			target = filepath.Join(m.Dir, target)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(importPath, p), "/")
		best, dir, ok = p, filepath.Join(target, filepath.FromSlash(rel)), true
	}
	return dir, ok
}
