package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/highbeam/changeguard/internal/errs"
)

// PackageRecord is the cached registry knowledge about one package.
// Existence and API surface are refreshed independently.
type PackageRecord struct {
	Name             string
	Ecosystem        string
	Exists           *bool // nil when existence was never established
	ExistsCheckedAt  time.Time
	Source           string
	LatestVersion    string
	Versions         []string
	Surface          []string
	SurfaceVersion   string
	SurfaceCheckedAt time.Time
	CachedAt         time.Time
}

// GetPackage returns the cached record for (ecosystem, name).
func (s *Store) GetPackage(ctx context.Context, ecosystem, name string) (*PackageRecord, error) {
	var rec PackageRecord
	var exists sql.NullInt64
	var existsAt, surface, surfaceVer, surfaceAt, version, versions sql.NullString
	var cachedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, ecosystem, exists_flag, exists_checked_at, source, version, known_versions,
		        api_surface, surface_version, surface_checked_at, cached_at
		 FROM package_cache WHERE ecosystem = ? AND name = ?`, ecosystem, name,
	).Scan(&rec.Name, &rec.Ecosystem, &exists, &existsAt, &rec.Source, &version, &versions,
		&surface, &surfaceVer, &surfaceAt, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("package", ecosystem+":"+name)
	}
	if err != nil {
		return nil, errs.Storage("get package", err)
	}

	if exists.Valid {
		b := exists.Int64 != 0
		rec.Exists = &b
	}
	rec.LatestVersion = version.String
	rec.SurfaceVersion = surfaceVer.String
	if rec.ExistsCheckedAt, err = parseNullTime(existsAt); err != nil {
		return nil, errs.Storage("get package", err)
	}
	if rec.SurfaceCheckedAt, err = parseNullTime(surfaceAt); err != nil {
		return nil, errs.Storage("get package", err)
	}
	if rec.CachedAt, err = parseTime(cachedAt); err != nil {
		return nil, errs.Storage("get package", err)
	}
	if versions.Valid && versions.String != "" {
		if err := json.Unmarshal([]byte(versions.String), &rec.Versions); err != nil {
			return nil, errs.Storage("decode versions", err)
		}
	}
	if surface.Valid && surface.String != "" {
		if err := json.Unmarshal([]byte(surface.String), &rec.Surface); err != nil {
			return nil, errs.Storage("decode api surface", err)
		}
	}
	return &rec, nil
}

// PutPackageExistence records a registry existence answer. A nil versions
// slice leaves the cached version list untouched.
func (s *Store) PutPackageExistence(ctx context.Context, ecosystem, name string, exists bool, latest string, versions []string, source string, at time.Time) error {
	var versionsJSON any
	if versions != nil {
		b, err := json.Marshal(versions)
		if err != nil {
			return errs.Storage("encode versions", err)
		}
		versionsJSON = string(b)
	}
	flag := 0
	if exists {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO package_cache (name, ecosystem, exists_flag, exists_checked_at, source, version, known_versions, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, ecosystem) DO UPDATE SET
			exists_flag       = excluded.exists_flag,
			exists_checked_at = excluded.exists_checked_at,
			source            = excluded.source,
			version           = COALESCE(NULLIF(excluded.version, ''), package_cache.version),
			known_versions    = COALESCE(excluded.known_versions, package_cache.known_versions),
			cached_at         = excluded.cached_at`,
		name, ecosystem, flag, formatTime(at), source, latest, versionsJSON, formatTime(at),
	)
	return errs.Storage("put package existence", err)
}

// PutPackageSurface records the exported API surface of a package version.
func (s *Store) PutPackageSurface(ctx context.Context, ecosystem, name, version string, surface []string, at time.Time) error {
	if surface == nil {
		surface = []string{}
	}
	b, err := json.Marshal(surface)
	if err != nil {
		return errs.Storage("encode api surface", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO package_cache (name, ecosystem, api_surface, surface_version, surface_checked_at, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name, ecosystem) DO UPDATE SET
			api_surface        = excluded.api_surface,
			surface_version    = excluded.surface_version,
			surface_checked_at = excluded.surface_checked_at,
			cached_at          = excluded.cached_at`,
		name, ecosystem, string(b), version, formatTime(at), formatTime(at),
	)
	return errs.Storage("put package surface", err)
}
