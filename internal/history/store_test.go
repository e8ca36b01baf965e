package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

type journalRow struct {
	entityID   int64
	version    int
	name       string
	modifiedBy string
	data       []byte
	diffFrom   []byte
	diffTo     []byte
}

// fakeQuerier journals inserts in memory and replays the newest row per
// entity, so Insert can be exercised without a database.
type fakeQuerier struct {
	rows     []journalRow
	execErrs []error // scripted failures, consumed one per Exec
}

type fakeRow struct {
	version int
	data    []byte
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = r.version
	*(dest[1].(*[]byte)) = r.data
	return nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	entityID := args[0].(int64)
	latest := fakeRow{err: pgx.ErrNoRows}
	for _, row := range f.rows {
		if row.entityID == entityID && (latest.err != nil || row.version > latest.version) {
			latest = fakeRow{version: row.version, data: row.data}
		}
	}
	return latest
}

func (f *fakeQuerier) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if len(f.execErrs) > 0 {
		err := f.execErrs[0]
		f.execErrs = f.execErrs[1:]
		if err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	f.rows = append(f.rows, journalRow{
		entityID:   args[0].(int64),
		version:    args[1].(int),
		name:       args[2].(string),
		modifiedBy: args[3].(string),
		data:       args[4].([]byte),
		diffFrom:   args[5].([]byte),
		diffTo:     args[6].([]byte),
	})
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func decodeJSON(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestInsertFirstVersion(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore("jobs_history", "jobs", logger.NewNop())

	snapshot := map[string]interface{}{"name": "Job-A", "job_data": map[string]interface{}{"type": 0}}
	require.NoError(t, s.Insert(context.Background(), q, 1, "Job-A", "alice", snapshot))

	require.Len(t, q.rows, 1)
	row := q.rows[0]
	assert.Equal(t, 1, row.version)
	assert.Equal(t, "alice", row.modifiedBy)
	assert.Equal(t, map[string]interface{}{}, decodeJSON(t, row.diffFrom))
	assert.Equal(t, decodeJSON(t, row.data), decodeJSON(t, row.diffTo))
}

func TestInsertSkipsIdenticalSnapshot(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore("jobs_history", "jobs", logger.NewNop())
	ctx := context.Background()

	snapshot := map[string]interface{}{
		"id":       int64(5),
		"name":     "Job-A",
		"flowtag":  []string{"Laser", "Bend"},
		"job_data": map[string]interface{}{"type": 0},
	}
	require.NoError(t, s.Insert(ctx, q, 5, "Job-A", "alice", snapshot))
	require.Len(t, q.rows, 1)

	// Second save with the same values. The stored snapshot comes back
	// from JSONB with float64 numbers and untyped lists; that must not
	// count as a change.
	require.NoError(t, s.Insert(ctx, q, 5, "Job-A", "alice", snapshot))
	assert.Len(t, q.rows, 1, "identical snapshots must not produce a history row")
}

func TestInsertIncrementsVersion(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore("jobs_history", "jobs", logger.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, q, 1, "Job-A", "alice", map[string]interface{}{
		"job_data": map[string]interface{}{"type": 0},
	}))
	require.NoError(t, s.Insert(ctx, q, 1, "Job-A", "bob", map[string]interface{}{
		"job_data": map[string]interface{}{"type": 1},
	}))

	require.Len(t, q.rows, 2)
	assert.Equal(t, 1, q.rows[0].version)
	assert.Equal(t, 2, q.rows[1].version)

	diffTo := decodeJSON(t, q.rows[1].diffTo)
	assert.Equal(t, float64(1), diffTo["job_data.type"])
}

func TestInsertRetriesOnVersionConflict(t *testing.T) {
	q := &fakeQuerier{}
	s := NewStore("jobs_history", "jobs", logger.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, q, 1, "Job-A", "alice", map[string]interface{}{"v": 1}))

	// A concurrent writer wins the (entity_id, version) race once; the
	// retry re-reads the latest version and lands on the next slot.
	q.execErrs = []error{&pgconn.PgError{Code: "23505"}}
	require.NoError(t, s.Insert(ctx, q, 1, "Job-A", "bob", map[string]interface{}{"v": 2}))

	require.Len(t, q.rows, 2)
	assert.Equal(t, 2, q.rows[1].version)
}
