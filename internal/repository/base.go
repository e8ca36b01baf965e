package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invigo-mfg/invigo-server/internal/cache"
	"github.com/invigo-mfg/invigo-server/internal/history"
	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Document is the canonical JSON payload of an entity.
type Document = map[string]interface{}

// ErrNotFound is returned when an id or name lookup matches nothing.
var ErrNotFound = fmt.Errorf("not found")

// Cache TTLs. Inventory repositories bias toward freshness; their
// background refreshers carry the load.
const (
	DefaultCacheTTL   = 60 * time.Second
	InventoryCacheTTL = 1 * time.Second
	RefreshInterval   = 60 * time.Second
)

// Base carries what every entity repository composes: its own guarded pool,
// a TTL cache, an optional history store, and a targeted refresh queue for
// background cache warm-up.
type Base struct {
	name    string
	table   string
	db      *database.PostgreSQL
	cache   *cache.Cache
	history *history.Store
	logger  *logger.Logger

	refreshMu    sync.Mutex
	refreshQueue map[int64]struct{}
}

func newBase(name, table string, db *database.PostgreSQL, ttl time.Duration, hist *history.Store, log *logger.Logger) Base {
	return Base{
		name:         name,
		table:        table,
		db:           db,
		cache:        cache.New(ttl, log),
		history:      hist,
		logger:       log,
		refreshQueue: make(map[int64]struct{}),
	}
}

// Name returns the repository name used for health reporting.
func (b *Base) Name() string { return b.name }

// Table returns the entity table name.
func (b *Base) Table() string { return b.table }

// Cache exposes the repository cache (for startup/shutdown wiring).
func (b *Base) Cache() *cache.Cache { return b.cache }

// Ping runs SELECT 1 through the connection guard.
func (b *Base) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}

// Close closes the repository pool.
func (b *Base) Close() { b.db.Close() }

// withConn runs fn through the connection guard; every data method of every
// repository flows through it.
func (b *Base) withConn(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	return b.db.WithRetry(ctx, fn)
}

// QueueRefresh marks an entity id for the next background warm-up pass.
func (b *Base) QueueRefresh(id int64) {
	b.refreshMu.Lock()
	b.refreshQueue[id] = struct{}{}
	b.refreshMu.Unlock()
}

// DrainRefreshQueue returns and clears the queued ids.
func (b *Base) DrainRefreshQueue() []int64 {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	ids := make([]int64, 0, len(b.refreshQueue))
	for id := range b.refreshQueue {
		ids = append(ids, id)
	}
	b.refreshQueue = make(map[int64]struct{})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Cache key helpers. Keys are deterministic so writers can invalidate by
// prefix.
func (b *Base) allKey() string               { return "all_" + b.table }
func (b *Base) itemKey(id int64) string      { return b.table + "_" + strconv.FormatInt(id, 10) }
func (b *Base) categoriesKey() string        { return "categories_" + b.table }
func (b *Base) categoryKey(cat string) string { return "category_" + b.table + "_" + cat }

// invalidateItem drops every cache key that can embed the mutated entity.
func (b *Base) invalidateItem(id int64) {
	b.cache.Invalidate(b.itemKey(id))
	b.cache.Invalidate(b.allKey())
	b.cache.Invalidate("categories_" + b.table)
	b.cache.Invalidate("category_" + b.table)
}

func decodeDoc(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func encodeDoc(doc Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return raw, nil
}

// docString digs a string out of a document by path.
func docString(doc Document, path ...string) string {
	cur := interface{}(doc)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

// docNumber digs a numeric value out of a document by path.
func docNumber(doc Document, path ...string) (float64, bool) {
	cur := interface{}(doc)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return 0, false
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// docStrings extracts a list of strings (categories and the like).
func docStrings(doc Document, key string) []string {
	raw, _ := doc[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// resolveIDByName maps a unique name to an id.
func (b *Base) resolveIDByName(ctx context.Context, column, name string) (int64, error) {
	var id int64
	err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		query := fmt.Sprintf("SELECT id FROM %s WHERE %s = $1", b.table, column)
		return pool.QueryRow(ctx, query, name).Scan(&id)
	})
	if err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// getDocByID fetches the data column for one row, going through the cache.
func (b *Base) getDocByID(ctx context.Context, id int64) (Document, error) {
	if v, ok := b.cache.Get(b.itemKey(id)); ok {
		if doc, ok := v.(Document); ok {
			return doc, nil
		}
	}

	var raw []byte
	err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		query := fmt.Sprintf("SELECT data FROM %s WHERE id = $1", b.table)
		return pool.QueryRow(ctx, query, id).Scan(&raw)
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
	b.cache.Set(b.itemKey(id), doc)
	return doc, nil
}

// listDocs runs a query returning (id, data) pairs and decodes them.
func (b *Base) listDocs(ctx context.Context, query string, args ...interface{}) ([]Document, error) {
	var out []Document
	err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var id int64
			var raw []byte
			if err := rows.Scan(&id, &raw); err != nil {
				return err
			}
			doc, err := decodeDoc(raw)
			if err != nil {
				return err
			}
			doc["id"] = id
			out = append(out, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// deleteByID removes a row and invalidates caches.
func (b *Base) deleteByID(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", b.table)
		tag, err := pool.Exec(ctx, query, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		b.invalidateItem(id)
	}
	return deleted, nil
}

// WarmUp reloads queued entities into the cache, or every entity when the
// queue is empty. Called from the background scheduler; never blocks a
// request path.
func (b *Base) WarmUp(ctx context.Context) error {
	ids := b.DrainRefreshQueue()

	if len(ids) == 0 {
		err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
			rows, err := pool.Query(ctx, fmt.Sprintf("SELECT id FROM %s", b.table))
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return rows.Err()
		})
		if err != nil {
			return fmt.Errorf("failed to enumerate %s ids: %w", b.table, err)
		}
	}

	for _, id := range ids {
		var raw []byte
		err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
			return pool.QueryRow(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = $1", b.table), id).Scan(&raw)
		})
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return err
		}
		doc["id"] = id
		b.cache.Set(b.itemKey(id), doc)
	}
	return nil
}

// recordHistory appends a history row when the repository is historied.
func (b *Base) recordHistory(ctx context.Context, q history.Querier, id int64, name, modifiedBy string, snapshot Document) {
	if b.history == nil {
		return
	}
	if err := b.history.Insert(ctx, q, id, name, modifiedBy, snapshot); err != nil {
		b.logger.Errorf("Failed to record %s history for id %d: %v", b.table, id, err)
	}
}
