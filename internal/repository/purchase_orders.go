package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// PurchaseOrdersRepository persists purchase orders. The unique name column
// is synthesised from the vendor name and PO number.
type PurchaseOrdersRepository struct {
	Base
}

func NewPurchaseOrdersRepository(db *database.PostgreSQL, log *logger.Logger) *PurchaseOrdersRepository {
	r := &PurchaseOrdersRepository{
		Base: newBase("purchase_orders_db", "purchase_orders", db, DefaultCacheTTL,
			history.NewStore("purchase_orders_history", "purchase_orders", log), log),
	}
	r.cache.ScheduleRefresh(r.allKey(), func(ctx context.Context) (interface{}, error) {
		return r.listDocs(ctx, `SELECT id, data FROM purchase_orders ORDER BY id`)
	}, RefreshInterval)
	return r
}

func (r *PurchaseOrdersRepository) EnsureSchema(ctx context.Context) error {
	return r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		ddl := `
			CREATE TABLE IF NOT EXISTS purchase_orders (
				id BIGSERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				vendor_name TEXT NOT NULL DEFAULT '',
				purchase_order_number BIGINT NOT NULL DEFAULT 0,
				is_draft BOOLEAN NOT NULL DEFAULT true,
				data JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_purchase_orders_vendor ON purchase_orders (vendor_name)`
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create purchase_orders schema: %w", err)
		}
		return r.history.EnsureTable(ctx, pool)
	})
}

// PurchaseOrderName synthesises the unique name column.
func PurchaseOrderName(vendorName string, number int64) string {
	return fmt.Sprintf("%s #%d", vendorName, number)
}

func purchaseOrderColumns(doc Document) (name, vendor string, number int64, isDraft bool) {
	vendor = docString(doc, "purchase_order_data", "vendor_name")
	if vendor == "" {
		vendor = docString(doc, "vendor_name")
	}
	if n, ok := docNumber(doc, "purchase_order_data", "purchase_order_number"); ok {
		number = int64(n)
	} else if n, ok := docNumber(doc, "purchase_order_number"); ok {
		number = int64(n)
	}
	if v, ok := doc["is_draft"].(bool); ok {
		isDraft = v
	} else if meta, ok := doc["purchase_order_data"].(map[string]interface{}); ok {
		isDraft, _ = meta["is_draft"].(bool)
	}
	return PurchaseOrderName(vendor, number), vendor, number, isDraft
}

// Add inserts a purchase order and returns the generated id.
func (r *PurchaseOrdersRepository) Add(ctx context.Context, doc Document) (int64, error) {
	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	name, vendor, number, isDraft := purchaseOrderColumns(doc)

	var id int64
	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO purchase_orders (name, vendor_name, purchase_order_number, is_draft, data)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			name, vendor, number, isDraft, raw).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add purchase order: %w", err)
	}

	r.cache.Invalidate(r.allKey())
	return id, nil
}

func (r *PurchaseOrdersRepository) Get(ctx context.Context, id int64) (Document, error) {
	return r.getDocByID(ctx, id)
}

func (r *PurchaseOrdersRepository) GetByName(ctx context.Context, name string) (Document, error) {
	id, err := r.resolveIDByName(ctx, "name", name)
	if err != nil {
		return nil, err
	}
	return r.getDocByID(ctx, id)
}

func (r *PurchaseOrdersRepository) GetAll(ctx context.Context) ([]Document, error) {
	if v, ok := r.cache.Get(r.allKey()); ok {
		if docs, ok := v.([]Document); ok {
			return docs, nil
		}
	}
	docs, err := r.listDocs(ctx, `SELECT id, data FROM purchase_orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	r.cache.Set(r.allKey(), docs)
	return docs, nil
}

// Save upserts a purchase order; resolution falls back to the synthesised
// unique name, then to insert.
func (r *PurchaseOrdersRepository) Save(ctx context.Context, doc Document, modifiedBy string) (int64, error) {
	id := int64(-1)
	if n, ok := docNumber(doc, "id"); ok {
		id = int64(n)
	}

	if id < 0 {
		name, _, _, _ := purchaseOrderColumns(doc)
		resolved, err := r.resolveIDByName(ctx, "name", name)
		if err == nil {
			id = resolved
		} else if err != ErrNotFound {
			return 0, err
		}
	}
	if id < 0 {
		return r.Add(ctx, doc)
	}

	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}
	name, vendor, number, isDraft := purchaseOrderColumns(doc)

	err = r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				UPDATE purchase_orders
				SET name = $1, vendor_name = $2, purchase_order_number = $3, is_draft = $4, data = $5, updated_at = now()
				WHERE id = $6`,
				name, vendor, number, isDraft, raw, id)
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
		return 0, fmt.Errorf("failed to save purchase order %d: %w", id, err)
	}

	r.invalidateItem(id)
	return id, nil
}

// MarkEmailSent stamps meta_data.email_sent_at with the current UTC time
// and records history. The stamp is advisory; the history row is the
// authority on when the email went out.
func (r *PurchaseOrdersRepository) MarkEmailSent(ctx context.Context, id int64, modifiedBy string) error {
	doc, err := r.getFresh(ctx, id)
	if err != nil {
		return err
	}

	meta, ok := doc["meta_data"].(map[string]interface{})
	if !ok {
		meta = map[string]interface{}{}
		doc["meta_data"] = meta
	}
	meta["email_sent_at"] = time.Now().UTC().Format(time.RFC3339)

	_, err = r.Save(ctx, doc, modifiedBy)
	return err
}

// getFresh bypasses the cache for read-modify-write paths, so the mutation
// never touches a document concurrent readers may hold.
func (r *PurchaseOrdersRepository) getFresh(ctx context.Context, id int64) (Document, error) {
	var raw []byte
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `SELECT data FROM purchase_orders WHERE id = $1`, id).Scan(&raw)
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

func (r *PurchaseOrdersRepository) Delete(ctx context.Context, id int64) (bool, error) {
	return r.deleteByID(ctx, id)
}

// History returns the ordered history rows for a purchase order.
func (r *PurchaseOrdersRepository) History(ctx context.Context, id int64) ([]history.Row, error) {
	var rows []history.Row
	err := r.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var err error
		rows, err = r.history.GetItemHistory(ctx, pool, id)
		return err
	})
	return rows, err
}
