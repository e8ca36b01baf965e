package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PartFilter selects a group of laser cut part rows for a bulk mutation.
// Identical parts share name, flowtag, and position, so the filter addresses
// a whole group at once.
type PartFilter struct {
	Name               string
	Flowtag            []string
	FlowtagIndex       *int
	FlowtagStatusIndex *int
	JobID              *int64
	RecutOnly          bool
	// Limit caps how many rows of the group are touched; 0 means all.
	Limit int
}

func (f PartFilter) where() (string, []interface{}, error) {
	query := `type = 'laser_cut_part' AND name = $1`
	args := []interface{}{f.Name}

	if len(f.Flowtag) > 0 {
		raw, err := json.Marshal(f.Flowtag)
		if err != nil {
			return "", nil, err
		}
		args = append(args, raw)
		query += fmt.Sprintf(` AND flowtag = $%d`, len(args))
	}
	if f.FlowtagIndex != nil {
		args = append(args, *f.FlowtagIndex)
		query += fmt.Sprintf(` AND flowtag_index = $%d`, len(args))
	}
	if f.FlowtagStatusIndex != nil {
		args = append(args, *f.FlowtagStatusIndex)
		query += fmt.Sprintf(` AND flowtag_status_index = $%d`, len(args))
	}
	if f.JobID != nil {
		args = append(args, *f.JobID)
		query += fmt.Sprintf(` AND job_id = $%d`, len(args))
	}
	if f.RecutOnly {
		query += ` AND recut = true`
	}
	return query, args, nil
}

// mutateParts locks every row the filter matches, applies the mutation,
// mirrors the columns back into each document, and journals the change.
// All of it happens in one transaction; the row count is returned.
func (s *Store) mutateParts(ctx context.Context, filter PartFilter, changedBy string, mutate func(n *Node)) (int, error) {
	where, args, err := filter.where()
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
		SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
		       flowtag_status_index, is_timing, recut, recut_count, data, created_at
		FROM workspace WHERE %s ORDER BY id`, where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	query += ` FOR UPDATE`

	var updated int
	err = s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, query, args...)
			if err != nil {
				return err
			}

			var nodes []*Node
			for rows.Next() {
				node, err := scanNode(rows)
				if err != nil {
					rows.Close()
					return err
				}
				nodes = append(nodes, node)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			for _, node := range nodes {
				mutate(node)
				applyColumnsToDocument(node)
				if err := writeNode(ctx, tx, node); err != nil {
					return err
				}
				if err := s.history.Insert(ctx, tx, node.ID, node.Name, changedBy, node.Data); err != nil {
					return err
				}
			}
			updated = len(nodes)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	if updated > 0 {
		s.cache.Invalidate("workspace")
	}
	return updated, nil
}

// UpdateFlowtagIndex moves a part group to a new flowtag position. The
// status index resets because the new stage has its own status list.
func (s *Store) UpdateFlowtagIndex(ctx context.Context, filter PartFilter, newIndex int, changedBy string) (int, error) {
	updated, err := s.mutateParts(ctx, filter, changedBy, func(n *Node) {
		n.FlowtagIndex = newIndex
		n.FlowtagStatusIndex = 0
		n.IsTiming = false
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update flowtag index for %q: %w", filter.Name, err)
	}
	return updated, nil
}

// UpdateFlowtagStatusIndex moves a part group to a new status within its
// current flowtag stage.
func (s *Store) UpdateFlowtagStatusIndex(ctx context.Context, filter PartFilter, newStatusIndex int, changedBy string) (int, error) {
	updated, err := s.mutateParts(ctx, filter, changedBy, func(n *Node) {
		n.FlowtagStatusIndex = newStatusIndex
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update flowtag status index for %q: %w", filter.Name, err)
	}
	return updated, nil
}

// UpdateIsTiming toggles the shop-floor timer flag of a part group.
func (s *Store) UpdateIsTiming(ctx context.Context, filter PartFilter, isTiming bool, changedBy string) (int, error) {
	updated, err := s.mutateParts(ctx, filter, changedBy, func(n *Node) {
		n.IsTiming = isTiming
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update is_timing for %q: %w", filter.Name, err)
	}
	return updated, nil
}
