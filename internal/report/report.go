// Package report builds the history report from the store. It reads the
// SQLite database directly, so the daemon does not need to be running.
package report

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/highbeam/changeguard/internal/clock"
	"github.com/highbeam/changeguard/internal/learning"
	"github.com/highbeam/changeguard/internal/session"
	"github.com/highbeam/changeguard/internal/store"
)

// maxSessions bounds the session table of the terminal report.
const maxSessions = 20

// Report is the developer profile plus per-session entropy within a scope.
type Report struct {
	Profile  *learning.Profile  `json:"profile"`
	Sessions []*session.Reading `json:"sessions"`
}

// Generate opens the store at dbPath and produces a report.
func Generate(ctx context.Context, dbPath string, scope store.Scope, topN int) (*Report, error) {
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	return GenerateFromStore(ctx, s, clock.System{}, scope, topN)
}

// GenerateFromStore produces a report from an open store.
func GenerateFromStore(ctx context.Context, s *store.Store, c clock.Clock, scope store.Scope, topN int) (*Report, error) {
	logger := zap.NewNop()

	profile, err := learning.NewEngine(s, logger).Profile(ctx, scope, topN)
	if err != nil {
		return nil, fmt.Errorf("build profile: %w", err)
	}
	readings, err := session.NewTracker(s, c, logger).List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	slices.Reverse(readings)
	return &Report{Profile: profile, Sessions: readings}, nil
}
