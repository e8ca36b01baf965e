package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

const insertAttempts = 3

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so history rows can be
// appended inside the same transaction as the primary-row update.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Row is one version of an entity snapshot.
type Row struct {
	ID         int64                  `json:"id"`
	EntityID   *int64                 `json:"entity_id"`
	Version    int                    `json:"version"`
	Name       string                 `json:"name"`
	ModifiedBy string                 `json:"modified_by"`
	CreatedAt  time.Time              `json:"created_at"`
	Data       map[string]interface{} `json:"data"`
	DiffFrom   map[string]interface{} `json:"diff_from"`
	DiffTo     map[string]interface{} `json:"diff_to"`
}

// PairDiff is the structural diff between two adjacent versions.
type PairDiff struct {
	FromVersion int               `json:"from_version"`
	ToVersion   int               `json:"to_version"`
	Changes     map[string]Change `json:"changes"`
}

// Store is an append-only per-entity journal of versioned snapshots with
// structural diffs. One Store instance serves one entity table.
type Store struct {
	table       string
	entityTable string
	logger      *logger.Logger
}

// NewStore creates a history store writing to table, with the entity_id
// foreign key referencing entityTable.
func NewStore(table, entityTable string, log *logger.Logger) *Store {
	return &Store{table: table, entityTable: entityTable, logger: log}
}

// Table returns the history table name.
func (s *Store) Table() string {
	return s.table
}

// EnsureTable creates the history table if absent. The unique
// (entity_id, version) index serialises concurrent writers.
func (s *Store) EnsureTable(ctx context.Context, q Querier) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			entity_id BIGINT REFERENCES %s(id) ON DELETE SET NULL,
			version INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			modified_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			data JSONB NOT NULL,
			diff_from JSONB NOT NULL DEFAULT '{}',
			diff_to JSONB NOT NULL DEFAULT '{}',
			UNIQUE (entity_id, version)
		)`, s.table, s.entityTable)
	if _, err := q.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// Insert appends a history row for entityID holding snapshot. Identical
// snapshots produce no row. A version race on the unique key is resolved by
// re-reading the latest version and retrying, up to 3 attempts.
func (s *Store) Insert(ctx context.Context, q Querier, entityID int64, name, modifiedBy string, snapshot map[string]interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= insertAttempts; attempt++ {
		prevVersion, prevSnapshot, err := s.latest(ctx, q, entityID)
		if err != nil {
			lastErr = err
			s.logger.Warnf("Failed to read latest %s row for entity %d: %v", s.table, entityID, err)
			continue
		}

		version := 1
		diffFrom := map[string]interface{}{}
		diffTo := snapshot
		if prevVersion > 0 {
			diff := Diff(prevSnapshot, snapshot)
			if len(diff) == 0 {
				return nil
			}
			version = prevVersion + 1
			diffFrom, diffTo = SplitDiff(diff)
		}

		err = s.insertRow(ctx, q, entityID, version, name, modifiedBy, snapshot, diffFrom, diffTo)
		if err == nil {
			return nil
		}
		lastErr = err

		if database.IsUniqueViolation(err) {
			s.logger.Warnf("Version conflict on %s (entity %d, version %d), retrying", s.table, entityID, version)
		} else {
			s.logger.Errorf("Failed to insert %s row for entity %d: %v", s.table, entityID, err)
		}

		if attempt < insertAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return lastErr
}

func (s *Store) latest(ctx context.Context, q Querier, entityID int64) (int, map[string]interface{}, error) {
	query := fmt.Sprintf(`
		SELECT version, data
		FROM %s
		WHERE entity_id = $1
		ORDER BY version DESC
		LIMIT 1`, s.table)

	var version int
	var raw []byte
	err := q.QueryRow(ctx, query, entityID).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}

	var snapshot map[string]interface{}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return 0, nil, fmt.Errorf("failed to decode %s snapshot: %w", s.table, err)
	}
	return version, snapshot, nil
}

func (s *Store) insertRow(ctx context.Context, q Querier, entityID int64, version int, name, modifiedBy string, snapshot map[string]interface{}, diffFrom, diffTo map[string]interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	fromJSON, err := json.Marshal(diffFrom)
	if err != nil {
		return fmt.Errorf("failed to encode diff_from: %w", err)
	}
	toJSON, err := json.Marshal(diffTo)
	if err != nil {
		return fmt.Errorf("failed to encode diff_to: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, version, name, modified_by, data, diff_from, diff_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.table)
	_, err = q.Exec(ctx, query, entityID, version, name, modifiedBy, data, fromJSON, toJSON)
	return err
}

// GetItemHistory returns every history row for the entity, oldest first.
func (s *Store) GetItemHistory(ctx context.Context, q Querier, entityID int64) ([]Row, error) {
	query := fmt.Sprintf(`
		SELECT id, entity_id, version, name, modified_by, created_at, data, diff_from, diff_to
		FROM %s
		WHERE entity_id = $1
		ORDER BY version ASC`, s.table)

	rows, err := q.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var data, diffFrom, diffTo []byte
		if err := rows.Scan(&r.ID, &r.EntityID, &r.Version, &r.Name, &r.ModifiedBy, &r.CreatedAt, &data, &diffFrom, &diffTo); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &r.Data); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		if err := json.Unmarshal(diffFrom, &r.DiffFrom); err != nil {
			return nil, fmt.Errorf("failed to decode diff_from: %w", err)
		}
		if err := json.Unmarshal(diffTo, &r.DiffTo); err != nil {
			return nil, fmt.Errorf("failed to decode diff_to: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ComputeHistoryDiff returns the adjacent pairwise diffs over the full
// history of the entity.
func (s *Store) ComputeHistoryDiff(ctx context.Context, q Querier, entityID int64) ([]PairDiff, error) {
	rows, err := s.GetItemHistory(ctx, q, entityID)
	if err != nil {
		return nil, err
	}

	var out []PairDiff
	for i := 1; i < len(rows); i++ {
		out = append(out, PairDiff{
			FromVersion: rows[i-1].Version,
			ToVersion:   rows[i].Version,
			Changes:     Diff(rows[i-1].Data, rows[i].Data),
		})
	}
	return out, nil
}
