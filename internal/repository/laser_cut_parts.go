package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// QuantityOp adjusts inventory quantities up or down.
type QuantityOp string

const (
	QuantityAdd      QuantityOp = "ADD"
	QuantitySubtract QuantityOp = "SUBTRACT"
)

// LaserCutPartsRepository persists the laser-cut part inventory.
type LaserCutPartsRepository struct {
	inventoryBase
}

func NewLaserCutPartsRepository(db *database.PostgreSQL, log *logger.Logger) *LaserCutPartsRepository {
	r := &LaserCutPartsRepository{
		inventoryBase: inventoryBase{
			Base: newBase("laser_cut_parts_inventory_db", "laser_cut_parts", db, InventoryCacheTTL,
				history.NewStore("laser_cut_parts_history", "laser_cut_parts", log), log),
		},
	}
	r.scheduleInventoryRefreshers()
	return r
}

func (r *LaserCutPartsRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS laser_cut_parts (
				id BIGSERIAL PRIMARY KEY,
				part_name TEXT NOT NULL DEFAULT '',
				categories JSONB NOT NULL DEFAULT '[]',
				category_quantities JSONB NOT NULL DEFAULT '{}',
				inventory_data JSONB NOT NULL DEFAULT '{}',
				meta_data JSONB NOT NULL DEFAULT '{}',
				prices JSONB NOT NULL DEFAULT '{}',
				paint_data JSONB NOT NULL DEFAULT '{}',
				primer_data JSONB NOT NULL DEFAULT '{}',
				powder_data JSONB NOT NULL DEFAULT '{}',
				workspace_data JSONB NOT NULL DEFAULT '{}',
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_laser_cut_parts_name ON laser_cut_parts (part_name)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create laser_cut_parts schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

// section pulls one JSONB sub-section out of the document, defaulting to an
// empty object.
func section(doc Document, key string) ([]byte, error) {
	v, ok := doc[key].(map[string]interface{})
	if !ok {
		v = map[string]interface{}{}
	}
	return json.Marshal(v)
}

func (r *LaserCutPartsRepository) columnArgs(doc Document) ([]interface{}, error) {
	cats, err := json.Marshal(docStrings(doc, "categories"))
	if err != nil {
		return nil, err
	}
	args := []interface{}{docString(doc, "part_name"), cats}
	for _, key := range []string{"category_quantities", "inventory_data", "meta_data", "prices", "paint_data", "primer_data", "powder_data", "workspace_data"} {
		raw, err := section(doc, key)
		if err != nil {
			return nil, err
		}
		args = append(args, raw)
	}
	raw, err := encodeDoc(doc)
	if err != nil {
		return nil, err
	}
	args = append(args, raw)
	return args, nil
}

// Add inserts a laser-cut part and returns the generated id.
func (r *LaserCutPartsRepository) Add(ctx context.Context, doc Document) (int64, error) {
	args, err := r.columnArgs(doc)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO laser_cut_parts
				(part_name, categories, category_quantities, inventory_data, meta_data,
				 prices, paint_data, primer_data, powder_data, workspace_data, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
			args...).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add laser cut part: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	r.cache.Invalidate("categories_laser_cut_parts")
	r.cache.Invalidate("category_laser_cut_parts")
	r.QueueRefresh(id)
	return id, nil
}

func (r *LaserCutPartsRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *LaserCutPartsRepository) GetByName(ctx context.Context, name string) (Document, error) {
	id, err := r.resolveIDByName(ctx, "part_name", name)
	if err != nil {
		return nil, err
	}
	return r.getDocByID(ctx, id)
}

// Update overwrites a laser-cut part and records history in the same
// transaction.
func (r *LaserCutPartsRepository) Update(ctx context.Context, id int64, doc Document, modifiedBy string) (int64, error) {
	if id < 0 {
		if name := docString(doc, "part_name"); name != "" {
			resolved, err := r.resolveIDByName(ctx, "part_name", name)
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

	args, err := r.columnArgs(doc)
	if err != nil {
		return 0, err
	}
	args = append(args, id)

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE laser_cut_parts
				SET part_name = $1, categories = $2, category_quantities = $3, inventory_data = $4,
				    meta_data = $5, prices = $6, paint_data = $7, primer_data = $8,
				    powder_data = $9, workspace_data = $10, data = $11, updated_at = now()
				WHERE id = $12`, args...)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return pgx.ErrNoRows
			}
			r.recordHistory(ctx, tx, id, docString(doc, "part_name"), modifiedBy, doc)
			return nil
		})
	})
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to update laser cut part %d: %w", id, err)
	}

	r.invalidateItem(id)
	r.QueueRefresh(id)
	return id, nil
}

// UpsertQuantities resolves the part by name and adjusts
// inventory_data.quantity by the payload's quantity, inserting the part
// when it does not exist yet.
func (r *LaserCutPartsRepository) UpsertQuantities(ctx context.Context, part Document, op QuantityOp, modifiedBy string) (int64, error) {
	if op != QuantityAdd && op != QuantitySubtract {
		return 0, fmt.Errorf("invalid quantity operation: %q", op)
	}

	name := docString(part, "part_name")
	if name == "" {
		return 0, fmt.Errorf("part_name is required")
	}
	delta, _ := docNumber(part, "inventory_data", "quantity")
	if op == QuantitySubtract {
		delta = -delta
	}

	id, err := r.resolveIDByName(ctx, "part_name", name)
	if err == ErrNotFound {
		return r.Add(ctx, part)
	}
	if err != nil {
		return 0, err
	}

	existing, err := r.getFreshByID(ctx, id)
	if err != nil {
		return 0, err
	}

	inv, ok := existing["inventory_data"].(map[string]interface{})
	if !ok {
		inv = map[string]interface{}{}
		existing["inventory_data"] = inv
	}
	current, _ := inv["quantity"].(float64)
	inv["quantity"] = current + delta

	return r.Update(ctx, id, existing, modifiedBy)
}

func (r *LaserCutPartsRepository) getFreshByID(ctx context.Context, id int64) (Document, error) {
	var raw []byte
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `SELECT data FROM laser_cut_parts WHERE id = $1`, id).Scan(&raw)
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

func (r *LaserCutPartsRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}
