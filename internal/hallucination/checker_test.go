package hallucination

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/errs"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/store"
	"github.com/highbeam/changeguard/internal/verdict"
)

type fakeRegistry struct {
	mu       sync.Mutex
	packages map[string]PackageInfo
	err      error
	calls    int
}

func (f *fakeRegistry) Lookup(_ context.Context, eco Ecosystem, name string) (PackageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return PackageInfo{}, f.err
	}
	return f.packages[eco.String()+":"+name], nil
}

func (f *fakeRegistry) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSurface struct {
	mu       sync.Mutex
	surfaces map[string][]string // importPath@version
	calls    int
}

func (f *fakeSurface) Surface(_ context.Context, _ Ecosystem, _, version, importPath string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s, ok := f.surfaces[importPath+"@"+version]
	if !ok {
		return nil, ErrSurfaceUnavailable
	}
	return s, nil
}

type setFilter map[string]bool

func (f setFilter) Contains(eco, name string) bool { return f[eco+":"+name] }

type fixture struct {
	store    *store.Store
	clock    *clock.Manual
	registry *fakeRegistry
	surface  *fakeSurface
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{
		store: s,
		clock: clock.NewManual(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
		registry: &fakeRegistry{packages: map[string]PackageInfo{
			"go:github.com/spf13/cobra": {Exists: true, Latest: "v1.10.2", Versions: []string{"v1.9.0", "v1.10.2"}},
			"pypi:requests":             {Exists: true, Latest: "2.32.3", Versions: []string{"2.31.0", "2.32.3"}},
			"npm:express":               {Exists: true, Latest: "4.21.0", Versions: []string{"4.21.0"}},
		}},
		surface: &fakeSurface{surfaces: map[string][]string{
			"github.com/spf13/cobra@v1.10.2": {"Command", "ExactArgs", "NoArgs"},
		}},
	}
}

func (f *fixture) checker(opts ...Option) *Checker {
	base := []Option{
		WithRegistry(f.registry),
		WithSurfaceProvider(f.surface),
		WithBridge(learning.NewBridge(f.store, f.clock, zap.NewNop())),
	}
	return NewChecker(f.store, f.clock, zap.NewNop(), append(base, opts...)...)
}

func levelOutcome(r ImportResult, l Level) Outcome { return r.Levels[l-1].Outcome }

func TestCheckImports_StdlibAndExisting(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemGo, []Import{
		{Path: "fmt"},
		{Path: "github.com/spf13/cobra"},
	}, "")
	require.NoError(t, err)
	require.Len(t, rep.Imports, 2)

	std := rep.Imports[0]
	assert.Equal(t, ClassStdlib, std.Class)
	assert.Equal(t, VerdictOK, std.Verdict)
	assert.Equal(t, OutcomeSkipped, levelOutcome(std, LevelRegistry))

	ext := rep.Imports[1]
	assert.Equal(t, ClassExternal, ext.Class)
	assert.Equal(t, VerdictOK, ext.Verdict)
	assert.Equal(t, OutcomePass, levelOutcome(ext, LevelRegistry))
	assert.Equal(t, "registry", ext.Evidence)
	assert.Equal(t, OutcomeSkipped, levelOutcome(ext, LevelVersion))
	assert.Equal(t, verdict.StatusPass, rep.Status())

	events, err := f.store.SessionEvents(context.Background(), "s1", "hallucination")
	require.NoError(t, err)
	require.Len(t, events, 1, "stdlib imports record no event")
	var p learning.Hallucination
	require.NoError(t, json.Unmarshal(events[0].Payload, &p))
	assert.Equal(t, "github.com/spf13/cobra", p.ImportPath)
	assert.Equal(t, "ok", p.Verdict)
}

func TestCheckImports_FakeStdlibAgainstGoRoot(t *testing.T) {
	f := newFixture(t)
	goroot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(goroot, "src", "encoding", "json"), 0o755))

	rep, err := f.checker(WithGoRoot(goroot)).CheckImports(context.Background(), "s1", EcosystemGo, []Import{
		{Path: "encoding/json"},
		{Path: "encoding/yaml"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictOK, rep.Imports[0].Verdict)
	assert.Equal(t, VerdictHallucinated, rep.Imports[1].Verdict)
	assert.Equal(t, "local", rep.Imports[1].FailedLevel)
	assert.Equal(t, 0, f.registry.Calls(), "level 1 failure short-circuits")
	assert.Equal(t, verdict.StatusFail, rep.Status())
}

func TestCheckImports_InvalidGoPath(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker().CheckImports(context.Background(), "", EcosystemGo, []Import{{Path: "github.com/acme/bad path"}}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictHallucinated, rep.Imports[0].Verdict)
	assert.Equal(t, OutcomeFail, levelOutcome(rep.Imports[0], LevelLocal))
}

func TestCheckImports_TyposquatVersusUnverified(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemPyPI, []Import{
		{Path: "requets"},
		{Path: "zqxvwk_nonexistent.core"},
	}, "")
	require.NoError(t, err)

	squat := rep.Imports[0]
	assert.Equal(t, VerdictTyposquat, squat.Verdict)
	assert.Equal(t, "requests", squat.Suggestion)
	assert.Equal(t, 0.875, squat.Similarity)
	assert.Equal(t, "registry", squat.FailedLevel)

	// The import name only stands in for the distribution name, so a
	// registry miss does not prove the package is missing.
	guessed := rep.Imports[1]
	assert.Equal(t, "zqxvwk-nonexistent", guessed.Package)
	assert.Equal(t, VerdictUnknown, guessed.Verdict)
	assert.Equal(t, OutcomeUnknown, levelOutcome(guessed, LevelRegistry))
	assert.Empty(t, guessed.Suggestion)

	assert.Equal(t, 1, rep.Typosquats)
	assert.Equal(t, 0, rep.Hallucinated)
	assert.Equal(t, 1, rep.Unknown)
	assert.Equal(t, verdict.StatusWarn, rep.Status())
}

func TestCheckImports_PythonImportNamesMapToDistributions(t *testing.T) {
	f := newFixture(t)
	f.registry.packages["pypi:pillow"] = PackageInfo{Exists: true, Latest: "11.0.0"}
	f.registry.packages["pypi:pyyaml"] = PackageInfo{Exists: true, Latest: "6.0.2"}
	f.registry.packages["pypi:scikit-learn"] = PackageInfo{Exists: true, Latest: "1.5.2"}
	f.registry.packages["pypi:protobuf"] = PackageInfo{Exists: true, Latest: "5.28.3"}

	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemPyPI, []Import{
		{Path: "PIL.Image"},
		{Path: "yaml"},
		{Path: "sklearn.linear_model"},
		{Path: "google.protobuf.message"},
		{Path: "cv2"},
	}, "")
	require.NoError(t, err)

	want := map[string]string{
		"PIL.Image":               "pillow",
		"yaml":                    "pyyaml",
		"sklearn.linear_model":    "scikit-learn",
		"google.protobuf.message": "protobuf",
	}
	for _, r := range rep.Imports[:4] {
		assert.Equal(t, want[r.Path], r.Package, r.Path)
		assert.Equal(t, VerdictOK, r.Verdict, r.Path)
	}

	// A mapped distribution the registry does not list is proven missing.
	cv := rep.Imports[4]
	assert.Equal(t, "opencv-python", cv.Package)
	assert.Equal(t, VerdictHallucinated, cv.Verdict)
	assert.Equal(t, verdict.StatusFail, rep.Status())
}

func TestCheckImports_TyposquatAloneWarns(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemNPM, []Import{{Path: "expresss"}}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictTyposquat, rep.Imports[0].Verdict)
	assert.Equal(t, verdict.StatusWarn, rep.Status())
}

func TestCheckImports_ConfiguredKnownPackages(t *testing.T) {
	f := newFixture(t)
	c := f.checker(WithKnownPackages(map[Ecosystem][]string{EcosystemPyPI: {"internal-sdk"}}))
	rep, err := c.CheckImports(context.Background(), "s1", EcosystemPyPI, []Import{{Path: "internal_sdx"}}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictTyposquat, rep.Imports[0].Verdict)
	assert.Equal(t, "internal-sdk", rep.Imports[0].Suggestion)
}

func TestCheckImports_ExistenceCacheTTL(t *testing.T) {
	f := newFixture(t)
	c := f.checker()
	imps := []Import{{Path: "requests"}}
	ctx := context.Background()

	_, err := c.CheckImports(ctx, "s1", EcosystemPyPI, imps, "")
	require.NoError(t, err)
	rep, err := c.CheckImports(ctx, "s1", EcosystemPyPI, imps, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.registry.Calls())
	assert.Equal(t, "cache", rep.Imports[0].Evidence)

	f.clock.Advance(25 * time.Hour)
	rep, err = c.CheckImports(ctx, "s1", EcosystemPyPI, imps, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.registry.Calls())
	assert.Equal(t, "registry", rep.Imports[0].Evidence)
}

func TestCheckImports_DegradedFallsBackToStaleCache(t *testing.T) {
	f := newFixture(t)
	c := f.checker()
	ctx := context.Background()
	_, err := c.CheckImports(ctx, "s1", EcosystemNPM, []Import{{Path: "express"}}, "")
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	f.registry.err = errs.Degraded("registry lookup express", context.DeadlineExceeded)
	rep, err := c.CheckImports(ctx, "s1", EcosystemNPM, []Import{{Path: "express"}}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictOK, rep.Imports[0].Verdict)
	assert.Equal(t, "stale_cache", rep.Imports[0].Evidence)
}

func TestCheckImports_DegradedFallsBackToFilter(t *testing.T) {
	f := newFixture(t)
	f.registry.err = errs.Degraded("registry lookup", context.DeadlineExceeded)
	c := f.checker(WithFilter(setFilter{"npm:left-pad": true}))

	rep, err := c.CheckImports(context.Background(), "s1", EcosystemNPM, []Import{
		{Path: "left-pad"},
		{Path: "right-pad-xyz"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictOK, rep.Imports[0].Verdict)
	assert.Equal(t, "offline_filter", rep.Imports[0].Evidence)
	assert.Equal(t, VerdictHallucinated, rep.Imports[1].Verdict)
	assert.Equal(t, "offline_filter", rep.Imports[1].Evidence)
}

func TestCheckImports_NoEvidenceIsUnknownNotHallucinated(t *testing.T) {
	f := newFixture(t)
	f.registry.err = errs.Degraded("registry lookup", context.DeadlineExceeded)
	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemPyPI, []Import{{Path: "somepkg"}}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictUnknown, rep.Imports[0].Verdict)
	assert.Equal(t, 1, rep.Unknown)
	assert.Equal(t, verdict.StatusPass, rep.Status())
}

func TestCheckImports_OfflineSkipsRegistry(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker(WithOffline(true)).CheckImports(context.Background(), "s1", EcosystemPyPI, []Import{{Path: "requests"}}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, f.registry.Calls())
	assert.Equal(t, VerdictUnknown, rep.Imports[0].Verdict)
}

func TestCheckImports_SurfaceLevel(t *testing.T) {
	f := newFixture(t)
	c := f.checker()
	ctx := context.Background()
	imps := []Import{{Path: "github.com/spf13/cobra", Symbols: []string{"Command", "MustRunE"}}}

	rep, err := c.CheckImports(ctx, "s1", EcosystemGo, imps, "")
	require.NoError(t, err)
	r := rep.Imports[0]
	assert.Equal(t, VerdictHallucinated, r.Verdict)
	assert.Equal(t, "surface", r.FailedLevel)
	assert.Equal(t, []string{"MustRunE"}, r.MissingSymbols)

	imps[0].Symbols = []string{"Command", "ExactArgs"}
	rep, err = c.CheckImports(ctx, "s1", EcosystemGo, imps, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictOK, rep.Imports[0].Verdict)
	assert.Equal(t, OutcomePass, levelOutcome(rep.Imports[0], LevelSurface))
	assert.Equal(t, 1, f.surface.calls, "surface served from cache")
}

func TestCheckImports_SurfaceUnavailableIsUnknown(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemGo, []Import{
		{Path: "github.com/spf13/cobra", Symbols: []string{"Command"}, Version: "v1.9.0"},
	}, "")
	require.NoError(t, err)
	r := rep.Imports[0]
	assert.Equal(t, OutcomeUnknown, levelOutcome(r, LevelSurface))
	assert.Equal(t, OutcomePass, levelOutcome(r, LevelVersion))
	assert.Equal(t, VerdictUnknown, r.Verdict)
}

func TestCheckImports_VersionLevel(t *testing.T) {
	f := newFixture(t)
	c := f.checker()
	cases := []struct {
		version string
		want    Outcome
	}{
		{"v1.10.2", OutcomePass},
		{"v9.9.9", OutcomeFail},
		{"1.10", OutcomeFail},
		{"v0.0.0-20240101120000-abcdefabcdef", OutcomePass},
	}
	for _, tc := range cases {
		rep, err := c.CheckImports(context.Background(), "s1", EcosystemGo, []Import{
			{Path: "github.com/spf13/cobra", Version: tc.version},
		}, "")
		require.NoError(t, err)
		assert.Equal(t, tc.want, levelOutcome(rep.Imports[0], LevelVersion), tc.version)
	}

	rep, err := c.CheckImports(context.Background(), "s1", EcosystemPyPI, []Import{{Path: "requests", Version: "3.0.0"}}, "")
	require.NoError(t, err)
	assert.Equal(t, VerdictHallucinated, rep.Imports[0].Verdict)
	assert.Equal(t, "version", rep.Imports[0].FailedLevel)
}

func TestCheckImports_NPMLocalClassification(t *testing.T) {
	f := newFixture(t)
	rep, err := f.checker(WithOffline(true)).CheckImports(context.Background(), "", EcosystemNPM, []Import{
		{Path: "node:fs/promises"},
		{Path: "node:teleport"},
		{Path: "./util"},
		{Path: "@types/node/fs"},
		{Path: "Bad Name"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, ClassStdlib, rep.Imports[0].Class)
	assert.Equal(t, VerdictHallucinated, rep.Imports[1].Verdict)
	assert.Equal(t, ClassLocal, rep.Imports[2].Class)
	assert.Equal(t, "@types/node", rep.Imports[3].Package)
	assert.Equal(t, VerdictHallucinated, rep.Imports[4].Verdict)
}

func TestCheckImports_Validation(t *testing.T) {
	f := newFixture(t)
	c := f.checker()
	_, err := c.CheckImports(context.Background(), "s1", EcosystemGo, nil, "")
	assert.True(t, errs.IsValidation(err))
	_, err = c.CheckImports(context.Background(), "s1", EcosystemGo, []Import{{Path: "  "}}, "")
	assert.True(t, errs.IsValidation(err))
	_, err = c.CheckImports(context.Background(), "s1", Ecosystem(42), []Import{{Path: "x"}}, "")
	assert.True(t, errs.IsValidation(err))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCheckFile_ResolvesModuleAndSymbols(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go.mod"), "module example.com/app\n\ngo 1.22\n\nrequire github.com/spf13/cobra v1.10.2\n")
	writeFile(t, filepath.Join(dir, "internal", "util", "util.go"), "package util\n")
	src := `package main

import (
	"fmt"

	"example.com/app/internal/ghost"
	"example.com/app/internal/util"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{Args: cobra.ExactArgs(1)}
	fmt.Println(cmd, util.X, ghost.Y)
}
`
	path := filepath.Join(dir, "cmd", "main.go")
	writeFile(t, path, src)

	rep, err := f.checker().CheckFile(context.Background(), "s1", path)
	require.NoError(t, err)
	require.Len(t, rep.Imports, 4)
	byPath := map[string]ImportResult{}
	for _, r := range rep.Imports {
		byPath[r.Path] = r
	}

	assert.Equal(t, ClassStdlib, byPath["fmt"].Class)
	assert.Equal(t, ClassLocal, byPath["example.com/app/internal/util"].Class)
	assert.Equal(t, VerdictHallucinated, byPath["example.com/app/internal/ghost"].Verdict)

	cobra := byPath["github.com/spf13/cobra"]
	assert.Equal(t, "v1.10.2", cobra.Version)
	assert.Equal(t, VerdictOK, cobra.Verdict)
	assert.Equal(t, OutcomePass, levelOutcome(cobra, LevelSurface))
	assert.Equal(t, OutcomePass, levelOutcome(cobra, LevelVersion))
}

func TestCheckImports_LocalReplaceDirectory(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	app := filepath.Join(root, "app")
	writeFile(t, filepath.Join(app, "go.mod"), `module example.com/app

go 1.22

require (
	example.com/shared v0.0.0
	example.com/gone v0.0.0
)

replace example.com/shared => ../shared

replace example.com/gone => ../gone
`)
	writeFile(t, filepath.Join(root, "shared", "log", "log.go"), "package log\n")

	rep, err := f.checker().CheckImports(context.Background(), "s1", EcosystemGo, []Import{
		{Path: "example.com/shared/log"},
		{Path: "example.com/shared/missing"},
		{Path: "example.com/gone"},
	}, app)
	require.NoError(t, err)

	shared := rep.Imports[0]
	assert.Equal(t, ClassLocal, shared.Class)
	assert.Equal(t, VerdictOK, shared.Verdict)
	assert.Equal(t, OutcomeSkipped, levelOutcome(shared, LevelRegistry))

	for _, r := range rep.Imports[1:] {
		assert.Equal(t, VerdictHallucinated, r.Verdict, r.Path)
		assert.Equal(t, "local", r.FailedLevel, r.Path)
	}
	assert.Equal(t, 0, f.registry.Calls())
}

func TestCheckFile_Errors(t *testing.T) {
	f := newFixture(t)
	c := f.checker()
	_, err := c.CheckFile(context.Background(), "s1", "notes.txt")
	assert.True(t, errs.IsValidation(err))
	_, err = c.CheckFile(context.Background(), "s1", filepath.Join(t.TempDir(), "missing.go"))
	assert.True(t, errs.IsNotFound(err))
}
