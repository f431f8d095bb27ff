// Package tools is the invocation contract of changeguard: one method per
// analyzer tool, each taking a small typed argument struct and returning
// a verdict.Result. The MCP server and the IPC daemon both dispatch here.
package tools

import (
	"errors"
	"go/build"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/brief"
	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/config"
	"github.com/highbeam/changeguard/internal/drift"
	"github.com/highbeam/changeguard/internal/hallucination"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/offline"
	"github.com/highbeam/changeguard/internal/session"
	"github.com/highbeam/changeguard/internal/shield"
	"github.com/highbeam/changeguard/internal/store"
)

// Suite holds one instance of every analyzer over a shared store.
type Suite struct {
	store  *store.Store
	clock  clock.Clock
	logger *zap.Logger

	sessions *session.Tracker
	drift    *drift.Tracker
	checker  *hallucination.Checker
	shield   *shield.Shield
	brief    *brief.Enforcer
	bridge   *learning.Bridge
	engine   *learning.Engine
}

type settings struct {
	clock       clock.Clock
	registry    hallucination.Registry
	surface     hallucination.SurfaceProvider
	filter      hallucination.MembershipFilter
	gitBaseline bool
}

// Option configures a Suite.
type Option func(*settings)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(s *settings) { s.clock = c } }

// WithRegistry replaces the HTTP package registry.
func WithRegistry(r hallucination.Registry) Option { return func(s *settings) { s.registry = r } }

// WithSurfaceProvider replaces the module-cache API surface reader.
func WithSurfaceProvider(p hallucination.SurfaceProvider) Option {
	return func(s *settings) { s.surface = p }
}

// WithFilter replaces the offline filter loaded from the configured path.
func WithFilter(f hallucination.MembershipFilter) Option { return func(s *settings) { s.filter = f } }

// WithGitBaseline toggles seeding drift baselines from HEAD. On by default.
func WithGitBaseline(enabled bool) Option { return func(s *settings) { s.gitBaseline = enabled } }

// NewSuite builds every analyzer from cfg over st.
func NewSuite(cfg *config.Config, st *store.Store, logger *zap.Logger, opts ...Option) *Suite {
	set := settings{clock: clock.System{}, gitBaseline: true}
	for _, opt := range opts {
		opt(&set)
	}
	if set.registry == nil {
		set.registry = hallucination.NewHTTPRegistry(hallucination.RegistryConfig{
			GoProxyURL:        cfg.Registry.GoProxyURL,
			PyPIURL:           cfg.Registry.PyPIURL,
			NPMURL:            cfg.Registry.NPMURL,
			Timeout:           cfg.Registry.Timeout,
			RequestsPerSecond: cfg.Registry.RequestsPerSecond,
			Burst:             cfg.Registry.Burst,
		})
	}
	if set.surface == nil {
		set.surface = hallucination.NewModCacheSurface(cfg.Registry.ModCacheDir)
	}
	if set.filter == nil {
		set.filter = loadFilter(cfg.Registry.FilterPath, logger)
	}

	bridge := learning.NewBridge(st, set.clock, logger)
	hopts := []hallucination.Option{
		hallucination.WithRegistry(set.registry),
		hallucination.WithSurfaceProvider(set.surface),
		hallucination.WithBridge(bridge),
		hallucination.WithThreshold(cfg.Hallucination.SimilarityThreshold),
		hallucination.WithTTLs(cfg.Hallucination.ExistenceTTL, cfg.Hallucination.SurfaceTTL),
		hallucination.WithOffline(cfg.Registry.Offline),
		hallucination.WithKnownPackages(knownPackages(cfg.Hallucination.KnownPackages, logger)),
	}
	if set.filter != nil {
		hopts = append(hopts, hallucination.WithFilter(set.filter))
	}
	if root := goRoot(); root != "" {
		hopts = append(hopts, hallucination.WithGoRoot(root))
	}

	return &Suite{
		store:    st,
		clock:    set.clock,
		logger:   logger,
		sessions: session.NewTracker(st, set.clock, logger),
		drift:    drift.NewTracker(st, set.clock, bridge, logger, drift.WithGitBaseline(set.gitBaseline)),
		checker:  hallucination.NewChecker(st, set.clock, logger, hopts...),
		shield:   shield.New(bridge, logger),
		brief:    brief.NewEnforcer(st, set.clock, bridge, logger, briefPolicy(cfg.Brief, logger)),
		bridge:   bridge,
		engine:   learning.NewEngine(st, logger),
	}
}

// loadFilter returns nil when no filter has been built yet.
func loadFilter(path string, logger *zap.Logger) hallucination.MembershipFilter {
	if path == "" {
		return nil
	}
	f, err := offline.Load(path)
	switch {
	case err == nil:
		logger.Debug("offline filter loaded", zap.String("path", path))
		return f
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		logger.Warn("offline filter unreadable", zap.String("path", path), zap.Error(err))
		return nil
	}
}

func knownPackages(raw map[string][]string, logger *zap.Logger) map[hallucination.Ecosystem][]string {
	out := make(map[hallucination.Ecosystem][]string, len(raw))
	for name, pkgs := range raw {
		eco, err := hallucination.ParseEcosystem(name)
		if err != nil {
			logger.Warn("ignoring known packages", zap.String("ecosystem", name), zap.Error(err))
			continue
		}
		out[eco] = append(out[eco], pkgs...)
	}
	return out
}

func briefPolicy(cfg config.BriefConfig, logger *zap.Logger) brief.Policy {
	p := brief.Policy{
		FillerPhrases: cfg.FillerPhrases,
		ActionVerbs:   cfg.ActionVerbs,
		TechTerms:     cfg.TechTerms,
		VerbBonus:     cfg.VerbBonus,
		PathBonus:     cfg.PathBonus,
		TermBonus:     cfg.TermBonus,
		MaxBonus:      cfg.MaxBonus,
	}
	if cfg.Mode != "" {
		mode, err := brief.ParseMode(cfg.Mode)
		if err != nil {
			logger.Warn("invalid brief mode, using normal", zap.String("mode", cfg.Mode))
			mode = brief.ModeNormal
		}
		p.Mode = mode
	}
	return p
}

// goRoot is the toolchain root used to verify standard-library imports,
// or empty when its sources are not installed.
func goRoot() string {
	root := build.Default.GOROOT
	if root == "" {
		return ""
	}
	if fi, err := os.Stat(filepath.Join(root, "src")); err != nil || !fi.IsDir() {
		return ""
	}
	return root
}
