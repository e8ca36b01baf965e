package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/mod/semver"

	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// SoftwareVersion is one uploaded desktop-client release.
type SoftwareVersion struct {
	ID         int64     `json:"id"`
	Version    string    `json:"version"`
	FilePath   string    `json:"file_path"`
	Changelog  string    `json:"changelog"`
	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidSemver reports whether v is a valid semantic version ("1.4.2").
func ValidSemver(v string) bool {
	return semver.IsValid("v" + v)
}

// CompareVersions orders two bare semantic versions.
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// SoftwareRepository persists uploaded software update artifacts.
type SoftwareRepository struct {
	Base
}

func NewSoftwareRepository(db *database.PostgreSQL, log *logger.Logger) *SoftwareRepository {
	return &SoftwareRepository{
		Base: newBase("software_versions_db", "software_versions", db, DefaultCacheTTL, nil, log),
	}
}

func (r *SoftwareRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS software_versions (
				id BIGSERIAL PRIMARY KEY,
				version TEXT UNIQUE NOT NULL,
				file_path TEXT NOT NULL,
				changelog TEXT NOT NULL DEFAULT '',
				uploaded_by TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create software_versions schema: %w", err)
		}
		return nil
	})
}

// Add records an uploaded release. The version must be valid semver and
// unique.
func (r *SoftwareRepository) Add(ctx context.Context, version, filePath, uploadedBy, changelog string) (int64, error) {
	if !ValidSemver(version) {
		return 0, fmt.Errorf("invalid version: %q", version)
	}

	var id int64
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO software_versions (version, file_path, changelog, uploaded_by)
			VALUES ($1, $2, $3, $4) RETURNING id`,
			version, filePath, changelog, uploadedBy).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add software version: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	return id, nil
}

// GetAll returns every release, newest version first.
func (r *SoftwareRepository) GetAll(ctx context.Context) ([]SoftwareVersion, error) {
	if v, ok := r.cache.Get(r.allKey()); ok {
		if versions, ok := v.([]SoftwareVersion); ok {
			return versions, nil
		}
	}

	var versions []SoftwareVersion
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT id, version, file_path, changelog, uploaded_by, created_at
			FROM software_versions`)
		if err != nil {
			return err
		}
		defer rows.Close()

		versions = versions[:0]
		for rows.Next() {
			var v SoftwareVersion
			if err := rows.Scan(&v.ID, &v.Version, &v.FilePath, &v.Changelog, &v.UploadedBy, &v.CreatedAt); err != nil {
				return err
			}
			versions = append(versions, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list software versions: %w", err)
	}

	sort.Slice(versions, func(i, j int) bool {
		return CompareVersions(versions[i].Version, versions[j].Version) > 0
	})

	r.cache.Set(r.allKey(), versions)
	return versions, nil
}

// Latest returns the highest released version.
func (r *SoftwareRepository) Latest(ctx context.Context) (*SoftwareVersion, error) {
	versions, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return &versions[0], nil
}

// Get returns one release by version string.
func (r *SoftwareRepository) Get(ctx context.Context, version string) (*SoftwareVersion, error) {
	versions, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].Version == version {
			return &versions[i], nil
		}
	}
	return nil, ErrNotFound
}
