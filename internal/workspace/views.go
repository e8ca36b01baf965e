package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// View selects which grouped projection a query runs against.
type View string

const (
	// ViewGroupedByJob groups identical parts within a single job.
	ViewGroupedByJob View = "GROUPED_BY_JOB"
	// ViewGlobalGrouped groups identical parts across every job.
	ViewGlobalGrouped View = "GLOBAL_GROUPED"
)

// ParseView validates a client-supplied view name.
func ParseView(name string) (View, error) {
	switch View(name) {
	case ViewGroupedByJob, ViewGlobalGrouped:
		return View(name), nil
	}
	return "", fmt.Errorf("unknown view %q", name)
}

func (v View) table() string {
	if v == ViewGlobalGrouped {
		return "view_grouped_laser_cut_parts_global"
	}
	return "view_grouped_laser_cut_parts_by_job"
}

// GroupedPart is one aggregated row of a grouped parts view.
type GroupedPart struct {
	JobID              int64     `json:"job_id,omitempty"`
	Name               string    `json:"name"`
	Flowtag            []string  `json:"flowtag"`
	FlowtagIndex       int       `json:"flowtag_index"`
	FlowtagStatusIndex int       `json:"flowtag_status_index"`
	IsCompleted        bool      `json:"is_completed"`
	Quantity           int64     `json:"quantity"`
	CreatedAt          time.Time `json:"created_at"`
}

// FindQuery narrows a grouped view to a single group.
type FindQuery struct {
	View               View
	JobID              int64
	Name               string
	Flowtag            []string
	FlowtagIndex       *int
	FlowtagStatusIndex *int
	// DataType optionally projects one sub-object of the newest member's
	// document instead of the aggregate row, e.g. "workspace_data".
	DataType string
}

// GetGroupedPartsView returns the aggregated part groups of a view. When
// showCompleted is false, fully processed groups are filtered out.
func (s *Store) GetGroupedPartsView(ctx context.Context, view View, showCompleted bool) ([]GroupedPart, error) {
	cacheKey := fmt.Sprintf("workspace_view_%s_%t", view, showCompleted)
	if v, ok := s.cache.Get(cacheKey); ok {
		if parts, ok := v.([]GroupedPart); ok {
			return parts, nil
		}
	}

	query := fmt.Sprintf(`
		SELECT job_id, name, flowtag, flowtag_index, flowtag_status_index,
		       is_completed, quantity, created_at
		FROM %s`, view.table())
	if !showCompleted {
		query += ` WHERE NOT is_completed`
	}
	query += ` ORDER BY created_at DESC, name`

	parts, err := s.queryGrouped(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load grouped parts view: %w", err)
	}

	s.cache.Set(cacheKey, parts)
	return parts, nil
}

// Find locates a single part group. ViewGroupedByJob requires a job id;
// ViewGlobalGrouped ignores it. The newest matching group wins.
func (s *Store) Find(ctx context.Context, q FindQuery) (Document, error) {
	if q.View == ViewGroupedByJob && q.JobID == 0 {
		return nil, fmt.Errorf("job id is required for view %s", q.View)
	}

	query := fmt.Sprintf(`
		SELECT job_id, name, flowtag, flowtag_index, flowtag_status_index,
		       is_completed, quantity, created_at
		FROM %s WHERE name = $1`, q.View.table())
	args := []interface{}{q.Name}

	if q.View == ViewGroupedByJob {
		args = append(args, q.JobID)
		query += fmt.Sprintf(` AND job_id = $%d`, len(args))
	}
	if len(q.Flowtag) > 0 {
		raw, err := json.Marshal(q.Flowtag)
		if err != nil {
			return nil, err
		}
		args = append(args, raw)
		query += fmt.Sprintf(` AND flowtag = $%d`, len(args))
	}
	if q.FlowtagIndex != nil {
		args = append(args, *q.FlowtagIndex)
		query += fmt.Sprintf(` AND flowtag_index = $%d`, len(args))
	}
	if q.FlowtagStatusIndex != nil {
		args = append(args, *q.FlowtagStatusIndex)
		query += fmt.Sprintf(` AND flowtag_status_index = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	parts, err := s.queryGrouped(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find grouped part: %w", err)
	}
	if len(parts) == 0 {
		return nil, ErrNotFound
	}

	part := parts[0]
	if q.DataType != "" {
		return s.findMemberData(ctx, part, q)
	}

	return Document{
		"job_id":               part.JobID,
		"name":                 part.Name,
		"flowtag":              part.Flowtag,
		"flowtag_index":        part.FlowtagIndex,
		"flowtag_status_index": part.FlowtagStatusIndex,
		"is_completed":         part.IsCompleted,
		"quantity":             part.Quantity,
	}, nil
}

// findMemberData projects one sub-object from the newest member row of a
// matched group.
func (s *Store) findMemberData(ctx context.Context, part GroupedPart, q FindQuery) (Document, error) {
	query := `
		SELECT data FROM workspace
		WHERE type = 'laser_cut_part' AND name = $1 AND flowtag_index = $2`
	args := []interface{}{part.Name, part.FlowtagIndex}
	if q.View == ViewGroupedByJob {
		args = append(args, part.JobID)
		query += fmt.Sprintf(` AND job_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	var raw []byte
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query, args...).Scan(&raw)
	})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load member data: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode member data: %w", err)
	}
	sub, ok := doc[q.DataType].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document has no %q section", q.DataType)
	}
	return sub, nil
}

func (s *Store) queryGrouped(ctx context.Context, query string, args ...interface{}) ([]GroupedPart, error) {
	var parts []GroupedPart
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		parts = parts[:0]
		for rows.Next() {
			var p GroupedPart
			var flowtag []byte
			if err := rows.Scan(&p.JobID, &p.Name, &flowtag, &p.FlowtagIndex,
				&p.FlowtagStatusIndex, &p.IsCompleted, &p.Quantity, &p.CreatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal(flowtag, &p.Flowtag); err != nil {
				return fmt.Errorf("failed to decode flowtag: %w", err)
			}
			parts = append(parts, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}
