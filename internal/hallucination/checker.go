package hallucination

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/gomod"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/telemetry"
	"github.com/highbeam/changeguard/internal/verdict"
)

const (
	DefaultThreshold    = 0.75
	DefaultExistenceTTL = 24 * time.Hour
	DefaultSurfaceTTL   = 7 * 24 * time.Hour

	lookupConcurrency = 4
)

// MembershipFilter is the offline fallback consulted when the registry
// cannot answer. *offline.Filter satisfies it.
type MembershipFilter interface {
	Contains(ecosystem, name string) bool
}

// Class says where an import resolves.
type Class string

const (
	ClassStdlib   Class = "stdlib"
	ClassLocal    Class = "local"
	ClassExternal Class = "external"
)

// Import is one import to verify. Symbols are the names used from it;
// Version overrides any go.mod pin.
type Import struct {
	Path    string   `json:"path" validate:"required"`
	Symbols []string `json:"symbols,omitempty"`
	Version string   `json:"version,omitempty"`
}

// ImportResult is the verdict on one import with every level's outcome.
type ImportResult struct {
	Path           string        `json:"path"`
	Class          Class         `json:"class"`
	Package        string        `json:"package,omitempty"`
	Version        string        `json:"version,omitempty"`
	Verdict        Verdict       `json:"verdict"`
	Levels         []LevelResult `json:"levels"`
	FailedLevel    string        `json:"failedLevel,omitempty"`
	Evidence       string        `json:"evidence,omitempty"`
	Suggestion     string        `json:"suggestion,omitempty"`
	Similarity     float64       `json:"similarity,omitempty"`
	MissingSymbols []string      `json:"missingSymbols,omitempty"`

	// guessedName is set when Package was derived from the import name
	// rather than a known import-to-distribution mapping.
	guessedName bool
}

func (r *ImportResult) level(l Level) *LevelResult { return &r.Levels[l-1] }

func (r *ImportResult) set(l Level, o Outcome, format string, args ...any) {
	*r.level(l) = LevelResult{Level: l, Outcome: o, Detail: fmt.Sprintf(format, args...)}
}

// Report is the outcome of one check call.
type Report struct {
	SessionID    string         `json:"sessionId,omitempty"`
	FilePath     string         `json:"filePath,omitempty"`
	Ecosystem    Ecosystem      `json:"ecosystem"`
	Imports      []ImportResult `json:"imports"`
	Hallucinated int            `json:"hallucinated"`
	Typosquats   int            `json:"typosquats"`
	Unknown      int            `json:"unknown"`
}

// Status is fail when anything was hallucinated, warn on a possible
// typosquat and pass otherwise, including when some imports stayed
// unknown.
func (r *Report) Status() verdict.Status {
	switch {
	case r.Hallucinated > 0:
		return verdict.StatusFail
	case r.Typosquats > 0:
		return verdict.StatusWarn
	default:
		return verdict.StatusPass
	}
}

// Option configures a Checker.
type Option func(*Checker)

// WithRegistry sets the network registry used by level 2.
func WithRegistry(r Registry) Option { return func(c *Checker) { c.registry = r } }

// WithFilter sets the offline membership filter.
func WithFilter(f MembershipFilter) Option { return func(c *Checker) { c.filter = f } }

// WithSurfaceProvider sets the API-surface source used by level 3.
func WithSurfaceProvider(p SurfaceProvider) Option { return func(c *Checker) { c.surface = p } }

// WithBridge records one hallucination event per external import.
func WithBridge(b *learning.Bridge) Option { return func(c *Checker) { c.bridge = b } }

// WithThreshold sets the typosquat similarity cutoff.
func WithThreshold(t float64) Option { return func(c *Checker) { c.threshold = t } }

// WithTTLs sets cache lifetimes for existence and API-surface answers.
func WithTTLs(existence, surface time.Duration) Option {
	return func(c *Checker) {
		c.existenceTTL = existence
		c.surfaceTTL = surface
	}
}

// WithOffline disables registry lookups.
func WithOffline(offline bool) Option { return func(c *Checker) { c.offline = offline } }

// WithGoRoot verifies Go standard-library imports against GOROOT/src.
func WithGoRoot(dir string) Option { return func(c *Checker) { c.goroot = dir } }

// WithKnownPackages adds names to the per-ecosystem typosquat lists.
func WithKnownPackages(extra map[Ecosystem][]string) Option {
	return func(c *Checker) {
		for eco, names := range extra {
			c.known[eco] = append(c.known[eco], names...)
		}
	}
}

// Checker runs the four verification levels.
type Checker struct {
	store        *store.Store
	clock        clock.Clock
	logger       *zap.Logger
	registry     Registry
	filter       MembershipFilter
	surface      SurfaceProvider
	bridge       *learning.Bridge
	known        map[Ecosystem][]string
	threshold    float64
	existenceTTL time.Duration
	surfaceTTL   time.Duration
	offline      bool
	goroot       string
}

// NewChecker creates a Checker backed by the package cache in s.
func NewChecker(s *store.Store, c clock.Clock, logger *zap.Logger, opts ...Option) *Checker {
	ch := &Checker{
		store:        s,
		clock:        c,
		logger:       logger,
		known:        make(map[Ecosystem][]string),
		threshold:    DefaultThreshold,
		existenceTTL: DefaultExistenceTTL,
		surfaceTTL:   DefaultSurfaceTTL,
	}
	for eco, names := range builtinKnown {
		ch.known[eco] = slices.Clone(names)
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// CheckImports verifies imports for one ecosystem. projectDir, when set,
// locates the go.mod used for project-local imports and version pins.
func (c *Checker) CheckImports(ctx context.Context, sessionID string, eco Ecosystem, imports []Import, projectDir string) (*Report, error) {
	if eco < EcosystemGo || eco > EcosystemNPM {
		return nil, errs.Validation("ecosystem", "unsupported ecosystem %v", eco)
	}
	if len(imports) == 0 {
		return nil, errs.Validation("imports", "must contain at least one import")
	}
	for i, imp := range imports {
		if strings.TrimSpace(imp.Path) == "" {
			return nil, errs.Validation("imports", "import %d has an empty path", i)
		}
	}

	var mod *gomod.Module
	if eco == EcosystemGo && projectDir != "" {
		m, err := gomod.Find(projectDir)
		switch {
		case err == nil:
			mod = m
		case errors.Is(err, gomod.ErrNoModule):
		default:
			c.logger.Warn("go.mod unreadable", zap.String("dir", projectDir), zap.Error(err))
		}
	}
	return c.check(ctx, sessionID, eco, imports, mod)
}

// CheckFile verifies the imports of a Go source file, including the
// exported names it selects from each one.
func (c *Checker) CheckFile(ctx context.Context, sessionID, path string) (*Report, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Validation("filePath", "must not be empty")
	}
	if filepath.Ext(path) != ".go" {
		return nil, errs.Validation("filePath", "%s is not a Go source file", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Validation("filePath", "%v", err)
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("file", abs)
		}
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	imports, err := ParseGoImports(abs, src)
	if err != nil {
		return nil, errs.Validation("filePath", "%v", err)
	}
	if len(imports) == 0 {
		return &Report{SessionID: sessionID, FilePath: abs, Ecosystem: EcosystemGo, Imports: []ImportResult{}}, nil
	}

	var mod *gomod.Module
	if m, err := gomod.Find(filepath.Dir(abs)); err == nil {
		mod = m
	} else if !errors.Is(err, gomod.ErrNoModule) {
		c.logger.Warn("go.mod unreadable", zap.String("file", abs), zap.Error(err))
	}

	rep, err := c.check(ctx, sessionID, EcosystemGo, imports, mod)
	if err != nil {
		return nil, err
	}
	rep.FilePath = abs
	return rep, nil
}

func (c *Checker) check(ctx context.Context, sessionID string, eco Ecosystem, imports []Import, mod *gomod.Module) (*Report, error) {
	results := make([]ImportResult, len(imports))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, imp := range imports {
		g.Go(func() error {
			results[i] = c.checkOne(gctx, eco, imp, mod)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{SessionID: sessionID, Ecosystem: eco, Imports: results}
	for _, r := range results {
		switch r.Verdict {
		case VerdictHallucinated:
			rep.Hallucinated++
		case VerdictTyposquat:
			rep.Typosquats++
		case VerdictUnknown:
			rep.Unknown++
		}
		if r.Class == ClassExternal || r.Verdict != VerdictOK {
			c.bridge.RecordSafe(ctx, sessionID, learning.Hallucination{
				ImportPath:  r.Path,
				Ecosystem:   eco.String(),
				Verdict:     r.Verdict.String(),
				FailedLevel: r.FailedLevel,
				Suggestion:  r.Suggestion,
				Similarity:  r.Similarity,
			})
		}
	}
	c.logger.Debug("imports checked",
		zap.String("session_id", sessionID),
		zap.Stringer("ecosystem", eco),
		zap.Int("imports", len(results)),
		zap.Int("hallucinated", rep.Hallucinated),
		zap.Int("typosquats", rep.Typosquats))
	return rep, nil
}

func (c *Checker) checkOne(ctx context.Context, eco Ecosystem, imp Import, mod *gomod.Module) ImportResult {
	res := ImportResult{
		Path:   strings.TrimSpace(imp.Path),
		Levels: make([]LevelResult, len(Levels)),
	}
	for _, l := range Levels {
		res.set(l, OutcomeSkipped, "")
	}

	// Level 1.
	if !c.checkLocal(eco, &res, mod) {
		return c.finish(res)
	}
	if res.Class != ClassExternal {
		return c.finish(res)
	}

	res.Version = strings.TrimSpace(imp.Version)
	if res.Version == "" && mod != nil {
		if _, v, ok := mod.Require(res.Path); ok {
			res.Version = v
		}
	}

	// Level 2.
	ex := c.existence(ctx, eco, res.Package)
	res.Evidence = ex.source
	switch ex.outcome {
	case OutcomePass:
		res.set(LevelRegistry, OutcomePass, "%s exists (%s)", res.Package, ex.source)
	case OutcomeFail:
		c.typosquat(eco, &res)
		if res.guessedName && res.Suggestion == "" {
			res.set(LevelRegistry, OutcomeUnknown,
				"no distribution named %s (%s); %s may be provided by a distribution with another name",
				res.Package, ex.source, res.Path)
			return c.finish(res)
		}
		res.set(LevelRegistry, OutcomeFail, "%s not found (%s)", res.Package, ex.source)
		return c.finish(res)
	default:
		res.set(LevelRegistry, OutcomeUnknown, "existence of %s could not be established", res.Package)
	}

	// Level 3.
	surfaceVersion := res.Version
	if surfaceVersion == "" {
		surfaceVersion = ex.latest
	}
	if eco == EcosystemGo && len(imp.Symbols) > 0 {
		c.checkSurface(ctx, &res, imp.Symbols, surfaceVersion)
	}

	// Level 4.
	if res.Version != "" {
		c.checkVersion(eco, &res, ex.versions)
	}
	return c.finish(res)
}

// finish derives the verdict from level outcomes.
func (c *Checker) finish(res ImportResult) ImportResult {
	res.Verdict = VerdictOK
	for _, lr := range res.Levels {
		switch lr.Outcome {
		case OutcomeFail:
			res.Verdict = VerdictHallucinated
			if lr.Level == LevelRegistry && res.Suggestion != "" {
				res.Verdict = VerdictTyposquat
			}
			res.FailedLevel = lr.Level.String()
			return res
		case OutcomeUnknown:
			res.Verdict = VerdictUnknown
		}
	}
	return res
}

var (
	pythonModule = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	npmPackage   = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)
	pypiSep      = regexp.MustCompile(`[-_.]+`)
)

// checkLocal runs level 1. It reports false when the import failed.
func (c *Checker) checkLocal(eco Ecosystem, res *ImportResult, mod *gomod.Module) bool {
	switch eco {
	case EcosystemGo:
		return c.checkLocalGo(res, mod)
	case EcosystemPyPI:
		return checkLocalPython(res)
	default:
		return checkLocalNPM(res)
	}
}

func (c *Checker) checkLocalGo(res *ImportResult, mod *gomod.Module) bool {
	p := res.Path
	if mod != nil {
		if dir, ok := mod.LocalReplace(p); ok {
			if !isDir(dir) {
				res.set(LevelLocal, OutcomeFail, "%s is replaced by a local directory but %s does not exist", p, dir)
				return false
			}
			res.Class = ClassLocal
			res.set(LevelLocal, OutcomePass, "replaced by local directory %s", dir)
			return true
		}
	}
	switch {
	case p == "C":
		res.Class = ClassStdlib
		res.set(LevelLocal, OutcomePass, "cgo pseudo-package")
	case gomod.IsStdlib(p):
		if c.goroot != "" && !isDir(filepath.Join(c.goroot, "src", filepath.FromSlash(p))) {
			res.set(LevelLocal, OutcomeFail, "%s is not a standard library package", p)
			return false
		}
		res.Class = ClassStdlib
		res.set(LevelLocal, OutcomePass, "standard library")
	case mod != nil && mod.IsLocal(p):
		if !isDir(mod.LocalDir(p)) {
			res.set(LevelLocal, OutcomeFail, "%s has no directory in module %s", p, mod.Path)
			return false
		}
		res.Class = ClassLocal
		res.set(LevelLocal, OutcomePass, "package of module %s", mod.Path)
	default:
		if err := module.CheckImportPath(p); err != nil {
			res.set(LevelLocal, OutcomeFail, "invalid import path: %v", err)
			return false
		}
		res.Class = ClassExternal
		res.Package = gomod.ModuleRoot(p)
		if mod != nil {
			if modPath, _, ok := mod.Require(p); ok {
				res.Package = modPath
			}
		}
		res.set(LevelLocal, OutcomePass, "well-formed third-party import path")
	}
	return true
}

func checkLocalPython(res *ImportResult) bool {
	p := res.Path
	if strings.HasPrefix(p, ".") {
		res.Class = ClassLocal
		res.set(LevelLocal, OutcomePass, "relative import")
		return true
	}
	if !pythonModule.MatchString(p) {
		res.set(LevelLocal, OutcomeFail, "%q is not a valid module path", p)
		return false
	}
	top, _, _ := strings.Cut(p, ".")
	if pythonStdlib[top] {
		res.Class = ClassStdlib
		res.set(LevelLocal, OutcomePass, "standard library")
		return true
	}
	res.Class = ClassExternal
	res.Package, res.guessedName = pythonDistribution(p)
	res.set(LevelLocal, OutcomePass, "third-party module")
	return true
}

// pythonDistribution returns the normalized PyPI distribution name for an
// import path. guessed is true when no mapping is known and the top-level
// module name stands in for it.
func pythonDistribution(importPath string) (name string, guessed bool) {
	lower := strings.ToLower(importPath)
	top, rest, _ := strings.Cut(lower, ".")
	if dist, ok := pythonDistributions[top]; ok {
		return dist, false
	}
	if second, _, _ := strings.Cut(rest, "."); second != "" {
		if dist, ok := pythonDistributions[top+"."+second]; ok {
			return dist, false
		}
	}
	return pypiSep.ReplaceAllString(top, "-"), true
}

func checkLocalNPM(res *ImportResult) bool {
	p := res.Path
	if strings.HasPrefix(p, "./") || strings.HasPrefix(p, "../") || strings.HasPrefix(p, "/") {
		res.Class = ClassLocal
		res.set(LevelLocal, OutcomePass, "relative import")
		return true
	}
	if rest, ok := strings.CutPrefix(p, "node:"); ok {
		first, _, _ := strings.Cut(rest, "/")
		if !nodeBuiltins[first] {
			res.set(LevelLocal, OutcomeFail, "%s is not a Node.js core module", p)
			return false
		}
		res.Class = ClassStdlib
		res.set(LevelLocal, OutcomePass, "Node.js core module")
		return true
	}

	parts := strings.Split(p, "/")
	name := parts[0]
	if strings.HasPrefix(name, "@") && len(parts) > 1 {
		name += "/" + parts[1]
	}
	if nodeBuiltins[name] {
		res.Class = ClassStdlib
		res.set(LevelLocal, OutcomePass, "Node.js core module")
		return true
	}
	if len(name) > 214 || !npmPackage.MatchString(name) {
		res.set(LevelLocal, OutcomeFail, "%q is not a valid package name", name)
		return false
	}
	res.Class = ClassExternal
	res.Package = name
	res.set(LevelLocal, OutcomePass, "third-party package")
	return true
}

type existence struct {
	outcome  Outcome
	source   string
	latest   string
	versions []string // nil when the version list is unknown
}

// existence runs level 2: fresh cache, registry, stale cache, offline
// filter, then unknown. Absence of evidence is never a failure.
func (c *Checker) existence(ctx context.Context, eco Ecosystem, name string) existence {
	now := c.clock.Now()
	rec, err := c.store.GetPackage(ctx, eco.String(), name)
	if err != nil {
		if !errs.IsNotFound(err) {
			c.logger.Warn("package cache read failed", zap.String("package", name), zap.Error(err))
		}
		rec = nil
	}

	cached := rec != nil && rec.Exists != nil
	if cached && now.Sub(rec.ExistsCheckedAt) < c.existenceTTL {
		telemetry.CacheResult("existence", "hit")
		return existenceFromRecord(rec, "cache")
	}
	telemetry.CacheResult("existence", "miss")

	if !c.offline && c.registry != nil {
		info, err := c.registry.Lookup(ctx, eco, name)
		if err == nil {
			if err := c.store.PutPackageExistence(ctx, eco.String(), name, info.Exists, info.Latest, info.Versions, "registry", now); err != nil {
				c.logger.Warn("package cache write failed", zap.String("package", name), zap.Error(err))
			}
			ex := existence{outcome: OutcomeFail, source: "registry"}
			if info.Exists {
				ex = existence{outcome: OutcomePass, source: "registry", latest: info.Latest, versions: info.Versions}
				if ex.versions == nil {
					ex.versions = []string{}
				}
			}
			return ex
		}
		c.logger.Warn("registry lookup degraded",
			zap.Stringer("ecosystem", eco),
			zap.String("package", name),
			zap.Error(err))
	}

	if cached {
		telemetry.CacheResult("existence", "stale")
		return existenceFromRecord(rec, "stale_cache")
	}
	if c.filter != nil {
		if c.filter.Contains(eco.String(), name) {
			return existence{outcome: OutcomePass, source: "offline_filter"}
		}
		return existence{outcome: OutcomeFail, source: "offline_filter"}
	}
	return existence{outcome: OutcomeUnknown}
}

func existenceFromRecord(rec *store.PackageRecord, source string) existence {
	if !*rec.Exists {
		return existence{outcome: OutcomeFail, source: source}
	}
	return existence{outcome: OutcomePass, source: source, latest: rec.LatestVersion, versions: rec.Versions}
}

// typosquat looks for a known package close to a name the registry
// does not have. A match makes the failure a possible typosquat.
func (c *Checker) typosquat(eco Ecosystem, res *ImportResult) {
	best, sim := closestKnown(res.Package, c.known[eco])
	if sim >= c.threshold && sim < 1 {
		res.Suggestion = best
		res.Similarity = round3(sim)
	}
}

// checkSurface runs level 3 for the given version.
func (c *Checker) checkSurface(ctx context.Context, res *ImportResult, symbols []string, version string) {
	if version == "" {
		res.set(LevelSurface, OutcomeUnknown, "no version of %s is known", res.Package)
		return
	}
	surface, ok := c.apiSurface(ctx, res.Package, res.Path, version)
	if !ok {
		res.set(LevelSurface, OutcomeUnknown, "API surface of %s@%s unavailable", res.Path, version)
		return
	}
	have := make(map[string]bool, len(surface))
	for _, s := range surface {
		have[s] = true
	}
	var missing []string
	for _, s := range symbols {
		if !have[s] && !slices.Contains(missing, s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		res.MissingSymbols = missing
		res.set(LevelSurface, OutcomeFail, "%s@%s does not export %s", res.Path, version, strings.Join(missing, ", "))
		return
	}
	res.set(LevelSurface, OutcomePass, "%d symbol(s) found in %s@%s", len(symbols), res.Path, version)
}

// apiSurface returns the exported names of importPath at version. Rows
// are keyed by import path since a module holds many packages.
func (c *Checker) apiSurface(ctx context.Context, modulePath, importPath, version string) ([]string, bool) {
	now := c.clock.Now()
	eco := EcosystemGo.String()
	rec, err := c.store.GetPackage(ctx, eco, importPath)
	if err == nil && rec.SurfaceVersion == version && rec.Surface != nil && now.Sub(rec.SurfaceCheckedAt) < c.surfaceTTL {
		telemetry.CacheResult("surface", "hit")
		return rec.Surface, true
	}
	if err != nil && !errs.IsNotFound(err) {
		c.logger.Warn("package cache read failed", zap.String("package", importPath), zap.Error(err))
	}
	telemetry.CacheResult("surface", "miss")

	if c.surface == nil {
		return nil, false
	}
	surface, err := c.surface.Surface(ctx, EcosystemGo, modulePath, version, importPath)
	if err != nil {
		if !errors.Is(err, ErrSurfaceUnavailable) {
			c.logger.Warn("api surface extraction failed",
				zap.String("package", importPath),
				zap.String("version", version),
				zap.Error(err))
		}
		return nil, false
	}
	if err := c.store.PutPackageSurface(ctx, eco, importPath, version, surface, now); err != nil {
		c.logger.Warn("package cache write failed", zap.String("package", importPath), zap.Error(err))
	}
	return surface, true
}

// checkVersion runs level 4. Symbol checks at the pinned version are
// carried by level 3, which prefers the pin over the latest release.
func (c *Checker) checkVersion(eco Ecosystem, res *ImportResult, versions []string) {
	v := res.Version
	switch eco {
	case EcosystemGo:
		if !semver.IsValid(v) {
			res.set(LevelVersion, OutcomeFail, "%s is not a valid semantic version", v)
			return
		}
		if module.IsPseudoVersion(v) {
			res.set(LevelVersion, OutcomePass, "pseudo-version %s", v)
			return
		}
	case EcosystemNPM:
		if !semver.IsValid("v" + v) {
			res.set(LevelVersion, OutcomeFail, "%s is not a valid semantic version", v)
			return
		}
	}
	if versions == nil {
		res.set(LevelVersion, OutcomeUnknown, "published versions of %s are unknown", res.Package)
		return
	}
	if !slices.Contains(versions, v) {
		res.set(LevelVersion, OutcomeFail, "%s@%s was never published", res.Package, v)
		return
	}
	res.set(LevelVersion, OutcomePass, "%s@%s is published", res.Package, v)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
