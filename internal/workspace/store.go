package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/cache"
	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Node types stored in the workspace tree.
const (
	TypeJob             = "job"
	TypeNest            = "nest"
	TypeAssembly        = "assembly"
	TypeLaserCutPart    = "laser_cut_part"
	TypeComponent       = "component"
	TypeStructuralSteel = "structural_steel_part"
)

// ErrNotFound is returned when a node lookup matches nothing.
var ErrNotFound = errors.New("not found")

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Document is the JSON payload of a workspace node.
type Document = map[string]interface{}

// Node is one row of the workspace tree.
type Node struct {
	ID                 int64     `json:"id"`
	ParentID           *int64    `json:"parent_id"`
	JobID              int64     `json:"job_id"`
	Type               string    `json:"type"`
	Name               string    `json:"name"`
	Flowtag            []string  `json:"flowtag"`
	FlowtagIndex       int       `json:"flowtag_index"`
	FlowtagStatusIndex int       `json:"flowtag_status_index"`
	IsTiming           bool      `json:"is_timing"`
	Recut              bool      `json:"recut"`
	RecutCount         int       `json:"recut_count"`
	Data               Document  `json:"data"`
	CreatedAt          time.Time `json:"created_at"`
}

// IsCompleted reports whether the part has passed every flowtag stage.
func (n *Node) IsCompleted() bool {
	return n.FlowtagIndex >= len(n.Flowtag)
}

// Store persists the workspace tree and its grouped views. It owns its own
// guarded pool, a warm-up cache, and the node history journal.
type Store struct {
	db      *database.PostgreSQL
	cache   *cache.Cache
	history *history.Store
	logger  *logger.Logger
}

// NewStore creates the workspace store.
func NewStore(db *database.PostgreSQL, log *logger.Logger) *Store {
	return &Store{
		db:      db,
		cache:   cache.New(60*time.Second, log),
		history: history.NewStore("workspace_history", "workspace", log),
		logger:  log,
	}
}

// Cache exposes the store cache for startup/shutdown wiring.
func (s *Store) Cache() *cache.Cache { return s.cache }

// Name returns the health check name of the store.
func (s *Store) Name() string { return "workspace_db" }

// Ping runs SELECT 1 through the connection guard.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close closes the store pool.
func (s *Store) Close() { s.db.Close() }

func (s *Store) withConn(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	return s.db.WithRetry(ctx, fn)
}

// EnsureSchema creates the workspace table, the grouped views, and the
// NOTIFY triggers feeding the change broker.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS workspace (
				id BIGSERIAL PRIMARY KEY,
				parent_id BIGINT REFERENCES workspace(id) ON DELETE CASCADE,
				job_id BIGINT NOT NULL DEFAULT 0,
				type TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				flowtag JSONB NOT NULL DEFAULT '[]',
				flowtag_index INTEGER NOT NULL DEFAULT 0,
				flowtag_status_index INTEGER NOT NULL DEFAULT 0,
				is_timing BOOLEAN NOT NULL DEFAULT false,
				recut BOOLEAN NOT NULL DEFAULT false,
				recut_count INTEGER NOT NULL DEFAULT 0,
				data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_workspace_parent ON workspace (parent_id);
			CREATE INDEX IF NOT EXISTS idx_workspace_job_name ON workspace (job_id, name);
			CREATE INDEX IF NOT EXISTS idx_workspace_type ON workspace (type);

			CREATE OR REPLACE VIEW view_grouped_laser_cut_parts_by_job AS
				SELECT job_id, name, flowtag, flowtag_index, flowtag_status_index,
				       flowtag_index >= jsonb_array_length(flowtag) AS is_completed,
				       count(*) AS quantity,
				       max(created_at) AS created_at
				FROM workspace
				WHERE type = 'laser_cut_part'
				GROUP BY job_id, name, flowtag, flowtag_index, flowtag_status_index;

			CREATE OR REPLACE VIEW view_grouped_laser_cut_parts_global AS
				SELECT 0::bigint AS job_id, name, flowtag, flowtag_index, flowtag_status_index,
				       flowtag_index >= jsonb_array_length(flowtag) AS is_completed,
				       count(*) AS quantity,
				       max(created_at) AS created_at
				FROM workspace
				WHERE type = 'laser_cut_part'
				GROUP BY name, flowtag, flowtag_index, flowtag_status_index;

			CREATE OR REPLACE FUNCTION notify_workspace_change() RETURNS trigger AS $$
			DECLARE
				row RECORD;
				channel TEXT;
			BEGIN
				IF TG_OP = 'DELETE' THEN
					row = OLD;
				ELSE
					row = NEW;
				END IF;

				CASE row.type
					WHEN 'nest' THEN channel = 'nests';
					WHEN 'assembly' THEN channel = 'assemblies';
					WHEN 'laser_cut_part' THEN channel = 'assembly_laser_cut_parts';
					ELSE channel = NULL;
				END CASE;

				IF channel IS NOT NULL THEN
					PERFORM pg_notify(channel, json_build_object(
						'type', TG_OP, 'job_id', row.job_id, 'part_name', row.name)::text);
				END IF;

				IF row.type = 'laser_cut_part' THEN
					PERFORM pg_notify('view_grouped_laser_cut_parts_by_job', json_build_object(
						'type', TG_OP,
						'job_id', row.job_id,
						'part_name', row.name,
						'flowtag', row.flowtag,
						'flowtag_index', row.flowtag_index)::text);
				END IF;

				IF TG_OP = 'DELETE' THEN
					RETURN OLD;
				END IF;
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql;

			DROP TRIGGER IF EXISTS workspace_notify ON workspace;
			CREATE TRIGGER workspace_notify
				AFTER INSERT OR UPDATE OR DELETE ON workspace
				FOR EACH ROW EXECUTE FUNCTION notify_workspace_change();
		`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create workspace schema: %w", err)
		}
		return s.history.EnsureTable(ctx, pool)
	})
}

// partFlowtag reads the ordered process list out of a part document.
func partFlowtag(doc Document) []string {
	candidates := []interface{}{}
	if ws, ok := doc["workspace_data"].(map[string]interface{}); ok {
		candidates = append(candidates, ws["flowtag"])
	}
	candidates = append(candidates, doc["flowtag"])

	for _, c := range candidates {
		switch v := c.(type) {
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case map[string]interface{}:
			if tags, ok := v["tags"].([]interface{}); ok {
				out := make([]string, 0, len(tags))
				for _, e := range tags {
					if s, ok := e.(string); ok {
						out = append(out, s)
					}
				}
				return out
			}
		}
	}
	return []string{}
}

func nodeName(doc Document) string {
	for _, key := range []string{"name", "part_name"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	if jobData, ok := doc["job_data"].(map[string]interface{}); ok {
		if s, ok := jobData["name"].(string); ok {
			return s
		}
	}
	return ""
}

func partQuantity(doc Document) int {
	paths := [][]string{{"inventory_data", "quantity"}, {"quantity"}}
	for _, path := range paths {
		cur := interface{}(doc)
		ok := true
		for _, key := range path {
			m, isMap := cur.(map[string]interface{})
			if !isMap {
				ok = false
				break
			}
			cur = m[key]
		}
		if ok {
			if n, isNum := cur.(float64); isNum && n >= 1 {
				return int(n)
			}
		}
	}
	return 1
}

// insertNode writes one node and returns its id. jobID is 0 for the root;
// the root's own id becomes the subtree's job id.
func (s *Store) insertNode(ctx context.Context, tx pgx.Tx, parentID *int64, jobID int64, nodeType string, doc Document) (int64, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode node: %w", err)
	}
	flowtag, err := json.Marshal(partFlowtag(doc))
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO workspace (parent_id, job_id, type, name, flowtag, data)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		parentID, jobID, nodeType, nodeName(doc), flowtag, raw).Scan(&id)
	if err != nil {
		return 0, err
	}

	if jobID == 0 {
		if _, err := tx.Exec(ctx, `UPDATE workspace SET job_id = $1 WHERE id = $1`, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// insertChildren explodes the nested document arrays into child rows. Part
// rows are multiplied by their quantity: one row per physical part.
func (s *Store) insertChildren(ctx context.Context, tx pgx.Tx, parentID, jobID int64, doc Document) error {
	groups := []struct {
		key      string
		nodeType string
		nested   bool
	}{
		{"nests", TypeNest, true},
		{"assemblies", TypeAssembly, true},
		{"sub_assemblies", TypeAssembly, true},
		{"laser_cut_parts", TypeLaserCutPart, false},
		{"components", TypeComponent, false},
		{"structural_steel_parts", TypeStructuralSteel, false},
	}

	for _, g := range groups {
		children, ok := doc[g.key].([]interface{})
		if !ok {
			continue
		}
		for _, raw := range children {
			child, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}

			count := 1
			if g.nodeType == TypeLaserCutPart {
				count = partQuantity(child)
			}
			for i := 0; i < count; i++ {
				childID, err := s.insertNode(ctx, tx, &parentID, jobID, g.nodeType, child)
				if err != nil {
					return err
				}
				if g.nested {
					if err := s.insertChildren(ctx, tx, childID, jobID, child); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// AddJob explodes a job document into the workspace tree and returns the
// root node id.
func (s *Store) AddJob(ctx context.Context, doc Document) (int64, error) {
	var rootID int64
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			id, err := s.insertNode(ctx, tx, nil, 0, TypeJob, doc)
			if err != nil {
				return err
			}
			rootID = id
			return s.insertChildren(ctx, tx, id, id, doc)
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add workspace job: %w", err)
	}

	s.cache.Invalidate("workspace")
	return rootID, nil
}

// GetJob reconstructs a full job document by walking the subtree with a
// recursive CTE.
func (s *Store) GetJob(ctx context.Context, jobID int64) (Document, error) {
	nodes, err := s.subtree(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}
	return assembleTree(nodes, jobID), nil
}

// subtree returns every node under (and including) root, parents first.
func (s *Store) subtree(ctx context.Context, root int64) ([]*Node, error) {
	var nodes []*Node
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			WITH RECURSIVE tree AS (
				SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
				       flowtag_status_index, is_timing, recut, recut_count, data, created_at
				FROM workspace WHERE id = $1
				UNION ALL
				SELECT w.id, w.parent_id, w.job_id, w.type, w.name, w.flowtag, w.flowtag_index,
				       w.flowtag_status_index, w.is_timing, w.recut, w.recut_count, w.data, w.created_at
				FROM workspace w
				JOIN tree t ON w.parent_id = t.id
			)
			SELECT * FROM tree ORDER BY id`, root)
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
		return nil, fmt.Errorf("failed to load workspace subtree %d: %w", root, err)
	}
	return nodes, nil
}

func scanNode(rows pgx.Rows) (*Node, error) {
	var n Node
	var flowtag, data []byte
	if err := rows.Scan(&n.ID, &n.ParentID, &n.JobID, &n.Type, &n.Name, &flowtag,
		&n.FlowtagIndex, &n.FlowtagStatusIndex, &n.IsTiming, &n.Recut, &n.RecutCount,
		&data, &n.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flowtag, &n.Flowtag); err != nil {
		return nil, fmt.Errorf("failed to decode flowtag: %w", err)
	}
	if err := json.Unmarshal(data, &n.Data); err != nil {
		return nil, fmt.Errorf("failed to decode node data: %w", err)
	}
	return &n, nil
}

// assembleTree rebuilds the nested job document from flat rows.
func assembleTree(nodes []*Node, rootID int64) Document {
	byID := make(map[int64]*Node, len(nodes))
	childrenOf := make(map[int64][]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		if n.ParentID != nil {
			childrenOf[*n.ParentID] = append(childrenOf[*n.ParentID], n)
		}
	}

	var build func(n *Node) Document
	build = func(n *Node) Document {
		doc := make(Document, len(n.Data)+4)
		for k, v := range n.Data {
			doc[k] = v
		}
		doc["id"] = n.ID
		doc["type"] = n.Type
		doc["name"] = n.Name

		childKeys := map[string]string{
			TypeNest:            "nests",
			TypeAssembly:        "assemblies",
			TypeLaserCutPart:    "laser_cut_parts",
			TypeComponent:       "components",
			TypeStructuralSteel: "structural_steel_parts",
		}
		grouped := map[string][]interface{}{}
		for _, child := range childrenOf[n.ID] {
			key := childKeys[child.Type]
			if key == "" {
				continue
			}
			grouped[key] = append(grouped[key], build(child))
		}
		for key, docs := range grouped {
			doc[key] = docs
		}
		return doc
	}

	root, ok := byID[rootID]
	if !ok {
		return nil
	}
	return build(root)
}

// GetAllJobs returns the root job nodes.
func (s *Store) GetAllJobs(ctx context.Context) ([]*Node, error) {
	if v, ok := s.cache.Get("workspace_all_jobs"); ok {
		if nodes, ok := v.([]*Node); ok {
			return nodes, nil
		}
	}

	var nodes []*Node
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT id, parent_id, job_id, type, name, flowtag, flowtag_index,
			       flowtag_status_index, is_timing, recut, recut_count, data, created_at
			FROM workspace WHERE type = 'job' ORDER BY id`)
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
		return nil, fmt.Errorf("failed to list workspace jobs: %w", err)
	}

	s.cache.Set("workspace_all_jobs", nodes)
	return nodes, nil
}

// WarmUp reloads the job list and both grouped views into the cache.
func (s *Store) WarmUp(ctx context.Context) error {
	s.cache.Invalidate("workspace")
	if _, err := s.GetAllJobs(ctx); err != nil {
		return err
	}
	for _, view := range []View{ViewGroupedByJob, ViewGlobalGrouped} {
		for _, showCompleted := range []bool{false, true} {
			if _, err := s.GetGroupedPartsView(ctx, view, showCompleted); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteJob removes a job subtree. Children cascade with their parent.
func (s *Store) DeleteJob(ctx context.Context, jobID int64) (bool, error) {
	var deleted bool
	err := s.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tag, err := pool.Exec(ctx, `DELETE FROM workspace WHERE id = $1 AND type = 'job'`, jobID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete workspace job %d: %w", jobID, err)
	}

	if deleted {
		s.cache.Invalidate("workspace")
	}
	return deleted, nil
}
