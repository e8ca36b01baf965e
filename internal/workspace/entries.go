package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/history"
)

// GetEntry returns a single workspace node by id.
func (s *Store) GetEntry(ctx context.Context, id int64) (*Node, error) {
	var node *Node
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
			       flowtag_status_index, is_timing, recut, recut_count, data, created_at
			FROM workspace WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return ErrNotFound
		}
		node, err = scanNode(rows)
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace entry %d: %w", id, err)
	}
	return node, nil
}

// GetEntriesByName returns every part row of a job sharing a name. A group
// of identical parts is stored as one row per physical part.
func (s *Store) GetEntriesByName(ctx context.Context, jobID int64, name string) ([]*Node, error) {
	return s.queryNodes(ctx, `
		SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
		       flowtag_status_index, is_timing, recut, recut_count, data, created_at
		FROM workspace WHERE job_id = $1 AND name = $2 ORDER BY id`, jobID, name)
}

// GetRecutParts returns every part currently flagged as recut.
func (s *Store) GetRecutParts(ctx context.Context) ([]*Node, error) {
	return s.queryNodes(ctx, `
		SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
		       flowtag_status_index, is_timing, recut, recut_count, data, created_at
		FROM workspace WHERE type = 'laser_cut_part' AND recut = true ORDER BY id`)
}

// GetRecutPartsFromJob returns the recut parts of one job.
func (s *Store) GetRecutPartsFromJob(ctx context.Context, jobID int64) ([]*Node, error) {
	return s.queryNodes(ctx, `
		SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
		       flowtag_status_index, is_timing, recut, recut_count, data, created_at
		FROM workspace WHERE type = 'laser_cut_part' AND recut = true AND job_id = $1 ORDER BY id`, jobID)
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*Node, error) {
	var nodes []*Node
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		nodes = nodes[:0]
		for rows.Next() {
			node, err := scanNode(rows)
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query workspace nodes: %w", err)
	}
	return nodes, nil
}

// UpdateEntry replaces a node's document. The mirrored columns are
// recomputed from the document so the grouped views stay consistent.
func (s *Store) UpdateEntry(ctx context.Context, id int64, doc Document, changedBy string) error {
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			node, err := lockNode(ctx, tx, id)
			if err != nil {
				return err
			}
			node.Data = doc
			applyDocumentColumns(node)
			if err := writeNode(ctx, tx, node); err != nil {
				return err
			}
			return s.history.Insert(ctx, tx, node.ID, node.Name, changedBy, node.Data)
		})
	})
	if err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update workspace entry %d: %w", id, err)
	}

	s.cache.Invalidate("workspace")
	return nil
}

// BulkUpdateEntries applies many document replacements in one transaction.
// Keys of docs are node ids.
func (s *Store) BulkUpdateEntries(ctx context.Context, docs map[int64]Document, changedBy string) error {
	if len(docs) == 0 {
		return nil
	}

	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for id, doc := range docs {
				node, err := lockNode(ctx, tx, id)
				if err != nil {
					return fmt.Errorf("entry %d: %w", id, err)
				}
				node.Data = doc
				applyDocumentColumns(node)
				if err := writeNode(ctx, tx, node); err != nil {
					return fmt.Errorf("entry %d: %w", id, err)
				}
				if err := s.history.Insert(ctx, tx, node.ID, node.Name, changedBy, node.Data); err != nil {
					return fmt.Errorf("entry %d: %w", id, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to bulk update workspace entries: %w", err)
	}

	s.cache.Invalidate("workspace")
	return nil
}

// History returns the versioned journal of one workspace node.
func (s *Store) History(ctx context.Context, id int64) ([]history.Row, error) {
	var rows []history.Row
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var err error
		rows, err = s.history.GetItemHistory(ctx, pool, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace history %d: %w", id, err)
	}
	return rows, nil
}

// lockNode reads one row FOR UPDATE inside a transaction.
func lockNode(ctx context.Context, tx pgx.Tx, id int64) (*Node, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
		       flowtag_status_index, is_timing, recut, recut_count, data, created_at
		FROM workspace WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanNode(rows)
}

// writeNode persists a node's mutable columns and document.
func writeNode(ctx context.Context, tx pgx.Tx, n *Node) error {
	flowtag, err := json.Marshal(n.Flowtag)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode node data: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE workspace
		SET name = $2, flowtag = $3, flowtag_index = $4, flowtag_status_index = $5,
		    is_timing = $6, recut = $7, recut_count = $8, data = $9, updated_at = now()
		WHERE id = $1`,
		n.ID, n.Name, flowtag, n.FlowtagIndex, n.FlowtagStatusIndex,
		n.IsTiming, n.Recut, n.RecutCount, data)
	return err
}

// applyDocumentColumns syncs the indexed columns from the node document.
func applyDocumentColumns(n *Node) {
	if name := nodeName(n.Data); name != "" {
		n.Name = name
	}
	n.Flowtag = partFlowtag(n.Data)

	ws, _ := n.Data["workspace_data"].(map[string]interface{})
	if ws == nil {
		return
	}
	if v, ok := ws["flowtag_index"].(float64); ok {
		n.FlowtagIndex = int(v)
	}
	if v, ok := ws["flowtag_status_index"].(float64); ok {
		n.FlowtagStatusIndex = int(v)
	}
	if v, ok := ws["is_timing"].(bool); ok {
		n.IsTiming = v
	}
	if v, ok := ws["recut"].(bool); ok {
		n.Recut = v
	}
	if v, ok := ws["recut_count"].(float64); ok {
		n.RecutCount = int(v)
	}
}

// applyColumnsToDocument mirrors the indexed columns back into the node
// document before it is persisted or journaled.
func applyColumnsToDocument(n *Node) {
	ws, _ := n.Data["workspace_data"].(map[string]interface{})
	if ws == nil {
		ws = map[string]interface{}{}
		if n.Data == nil {
			n.Data = Document{}
		}
		n.Data["workspace_data"] = ws
	}
	ws["flowtag_index"] = n.FlowtagIndex
	ws["flowtag_status_index"] = n.FlowtagStatusIndex
	ws["is_timing"] = n.IsTiming
	ws["recut"] = n.Recut
	ws["recut_count"] = n.RecutCount
}
