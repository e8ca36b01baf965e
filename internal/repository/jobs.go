package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Job statuses, derived from job_data.type.
var jobStatuses = []string{
	"PLANNING",
	"QUOTING",
	"QUOTED",
	"QUOTE_CONFIRMED",
	"TEMPLATE",
	"WORKSPACE",
	"ARCHIVE",
}

// JobStatusFromType maps the numeric job_data.type onto the status enum.
func JobStatusFromType(t int) string {
	if t < 0 || t >= len(jobStatuses) {
		return jobStatuses[0]
	}
	return jobStatuses[t]
}

// JobsRepository persists jobs with structured history.
type JobsRepository struct {
	Base
}

// NewJobsRepository creates the jobs repository over its own guarded pool.
func NewJobsRepository(db *database.PostgreSQL, log *logger.Logger) *JobsRepository {
	r := &JobsRepository{
		Base: newBase("jobs_db", "jobs", db, DefaultCacheTTL, history.NewStore("jobs_history", "jobs", log), log),
	}
	r.cache.ScheduleRefresh(r.allKey(), func(ctx context.Context) (interface{}, error) {
		return r.loadAll(ctx, true)
	}, RefreshInterval)
	return r
}

// EnsureSchema creates the jobs table, its history table, and the NOTIFY
// trigger feeding the change broker.
func (r *JobsRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS jobs (
				id BIGSERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				status TEXT NOT NULL DEFAULT 'PLANNING',
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

			CREATE OR REPLACE FUNCTION notify_jobs_change() RETURNS trigger AS $$
			DECLARE payload JSON;
			BEGIN
				IF TG_OP = 'DELETE' THEN
					payload = json_build_object('type', TG_OP, 'job_id', OLD.id);
				ELSE
					payload = json_build_object('type', TG_OP, 'job_id', NEW.id);
				END IF;
				PERFORM pg_notify('jobs', payload::text);
				IF TG_OP = 'DELETE' THEN
					RETURN OLD;
				END IF;
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS jobs_notify ON jobs;
			CREATE TRIGGER jobs_notify
				AFTER INSERT OR UPDATE OR DELETE ON jobs
				FOR EACH ROW EXECUTE FUNCTION notify_jobs_change();
		`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create jobs schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

func jobName(doc Document) string {
	if name := docString(doc, "job_data", "name"); name != "" {
		return name
	}
	return docString(doc, "name")
}

func jobStatus(doc Document) string {
	t, ok := docNumber(doc, "job_data", "type")
	if !ok {
		return jobStatuses[0]
	}
	return JobStatusFromType(int(t))
}

// Add inserts a new job and returns its generated id.
func (r *JobsRepository) Add(ctx context.Context, doc Document) (int64, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx,
			`INSERT INTO jobs (name, status, data) VALUES ($1, $2, $3) RETURNING id`,
			jobName(doc), jobStatus(doc), raw,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add job: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	r.QueueRefresh(id)
	return id, nil
}

// Get returns one job document by id.
func (r *JobsRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

// GetByName resolves the unique job name to its document.
func (r *JobsRepository) GetByName(ctx context.Context, name string) (Document, error) {
	id, err := r.resolveIDByName(ctx, "name", name)
	if err != nil {
		return nil, err
	}
	return r.getDocByID(ctx, id)
}

// GetAll returns every job. With includeData=false the nests and assemblies
// arrays are elided to reduce payload.
func (r *JobsRepository) GetAll(ctx context.Context, includeData bool) ([]Document, error) {
	key := r.allKey()
	if !includeData {
		key += "_light"
	}
	if v, ok := r.cache.Get(key); ok {
		if docs, ok := v.([]Document); ok {
			return docs, nil
		}
	}

	docs, err := r.loadAll(ctx, includeData)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, docs)
	return docs, nil
}

func (r *JobsRepository) loadAll(ctx context.Context, includeData bool) ([]Document, error) {
	docs, err := r.listDocs(ctx, `SELECT id, data FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if !includeData {
		for _, doc := range docs {
			delete(doc, "nests")
			delete(doc, "assemblies")
		}
	}
	return docs, nil
}

// Save upserts a job. A negative or missing id is resolved through the
// unique name; if that also misses, the payload is added as a new job. The
// primary-row update and the history row share one transaction.
func (r *JobsRepository) Save(ctx context.Context, doc Document, modifiedBy string) (int64, error) {
	id := int64(-1)
	if n, ok := docNumber(doc, "job_data", "id"); ok {
		id = int64(n)
	} else if n, ok := docNumber(doc, "id"); ok {
		id = int64(n)
	}

	if id < 0 {
		if name := jobName(doc); name != "" {
			resolved, err := r.resolveIDByName(ctx, "name", name)
			if err == nil {
				id = resolved
			} else if err != ErrNotFound {
				return 0, err
			}
		}
	}
	if id < 0 {
		return r.Add(ctx, doc)
	}

	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	name := jobName(doc)
	status := jobStatus(doc)

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			var current []byte
			err := tx.QueryRow(ctx, `SELECT data FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
			if err != nil {
				return err
			}

			tag, err := tx.Exec(ctx,
				`UPDATE jobs SET name = $1, status = $2, data = $3, updated_at = now() WHERE id = $4`,
				name, status, raw, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}

			r.recordHistory(ctx, tx, id, name, modifiedBy, doc)
			return nil
		})
	})
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to save job %d: %w", id, err)
	}

	r.invalidateItem(id)
	r.cache.Invalidate("all_jobs")
	r.QueueRefresh(id)
	return id, nil
}

// UpdateSetting sets one key inside job_data and records history.
func (r *JobsRepository) UpdateSetting(ctx context.Context, id int64, key string, value interface{}, modifiedBy string) error {
	doc, err := r.getFresh(ctx, id)
	if err != nil {
		return err
	}

	jobData, ok := doc["job_data"].(map[string]interface{})
	if !ok {
		jobData = map[string]interface{}{}
		doc["job_data"] = jobData
	}
	jobData[key] = value

	_, err = r.Save(ctx, doc, modifiedBy)
	return err
}

// getFresh bypasses the cache for read-modify-write paths.
func (r *JobsRepository) getFresh(ctx context.Context, id int64) (Document, error) {
	var raw []byte
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `SELECT data FROM jobs WHERE id = $1`, id).Scan(&raw)
	})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	doc["id"] = id
	return doc, nil
}

// Delete removes a job. History rows survive with entity_id set to NULL.
func (r *JobsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}

// History returns the ordered history rows for a job.
func (r *JobsRepository) History(ctx context.Context, id int64) ([]history.Row, error) {
	var rows []history.Row
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var err error
		rows, err = r.history.GetItemHistory(ctx, pool, id)
		return err
	})
	return rows, err
}

// HistoryDiff returns adjacent pairwise diffs over a job's history.
func (r *JobsRepository) HistoryDiff(ctx context.Context, id int64) ([]history.PairDiff, error) {
	var diffs []history.PairDiff
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var err error
		diffs, err = r.history.ComputeHistoryDiff(ctx, pool, id)
		return err
	})
	return diffs, err
}
