package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// inventoryBase extends Base with the category projections every inventory
// repository (sheets, components, laser-cut parts, coatings) shares. The
// categories column is a JSONB array of strings.
type inventoryBase struct {
	Base
}

// GetAll returns the full cached inventory list.
func (b *inventoryBase) GetAll(ctx context.Context) ([]Document, error) {
	if v, ok := b.cache.Get(b.allKey()); ok {
		if docs, ok := v.([]Document); ok {
			return docs, nil
		}
	}
	docs, err := b.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	b.cache.Set(b.allKey(), docs)
	return docs, nil
}

func (b *inventoryBase) loadAll(ctx context.Context) ([]Document, error) {
	docs, err := b.listDocs(ctx, fmt.Sprintf(`SELECT id, data FROM %s ORDER BY id`, b.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b.table, err)
	}
	return docs, nil
}

// GetByCategory returns the cached per-category slice.
func (b *inventoryBase) GetByCategory(ctx context.Context, category string) ([]Document, error) {
	key := b.categoryKey(category)
	if v, ok := b.cache.Get(key); ok {
		if docs, ok := v.([]Document); ok {
			return docs, nil
		}
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s WHERE categories ? $1 ORDER BY id`, b.table)
	docs, err := b.listDocs(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s by category: %w", b.table, err)
	}
	b.cache.Set(key, docs)
	return docs, nil
}

// GetCategories returns the cached distinct category list.
func (b *inventoryBase) GetCategories(ctx context.Context) ([]string, error) {
	if v, ok := b.cache.Get(b.categoriesKey()); ok {
		if cats, ok := v.([]string); ok {
			return cats, nil
		}
	}

	cats, err := b.loadCategories(ctx)
	if err != nil {
		return nil, err
	}
	b.cache.Set(b.categoriesKey(), cats)
	return cats, nil
}

func (b *inventoryBase) loadCategories(ctx context.Context) ([]string, error) {
	var cats []string
	err := b.withConn(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		query := fmt.Sprintf(`
			SELECT DISTINCT c
			FROM %s, jsonb_array_elements_text(categories) AS c
			ORDER BY c`, b.table)
		rows, err := pool.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		cats = cats[:0]
		for rows.Next() {
			var c string
			if err := rows.Scan(&c); err != nil {
				return err
			}
			cats = append(cats, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s categories: %w", b.table, err)
	}
	return cats, nil
}

// scheduleInventoryRefreshers wires the standing 60s refreshers for the
// full list and the category list.
func (b *inventoryBase) scheduleInventoryRefreshers() {
	b.cache.ScheduleRefresh(b.allKey(), func(ctx context.Context) (interface{}, error) {
		return b.loadAll(ctx)
	}, RefreshInterval)
	b.cache.ScheduleRefresh(b.categoriesKey(), func(ctx context.Context) (interface{}, error) {
		return b.loadCategories(ctx)
	}, RefreshInterval)
}
