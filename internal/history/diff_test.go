package history

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustUnmarshal(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	a := mustUnmarshal(t, `{"name":"Job-A","nests":[1,2],"job_data":{"type":0}}`)
	b := mustUnmarshal(t, `{"name":"Job-A","nests":[1,2],"job_data":{"type":0}}`)

	assert.Empty(t, Diff(a, b))
}

func TestDiffEqualAcrossNumericTypes(t *testing.T) {
	// Snapshots re-read from JSONB carry float64 numbers and
	// []interface{} lists; documents mutated in process carry Go ints and
	// typed slices. Equal values must not diff.
	stored := mustUnmarshal(t, `{"id":5,"flowtag":["Laser","Bend"],"workspace_data":{"flowtag_index":1,"recut_count":0}}`)
	mutated := map[string]interface{}{
		"id":      int64(5),
		"flowtag": []string{"Laser", "Bend"},
		"workspace_data": map[string]interface{}{
			"flowtag_index": 1,
			"recut_count":   0,
		},
	}

	assert.Empty(t, Diff(stored, mutated))
	assert.Empty(t, Diff(mutated, stored))
}

func TestDiffNumericTypesStillDetectChanges(t *testing.T) {
	stored := mustUnmarshal(t, `{"workspace_data":{"flowtag_index":1}}`)
	mutated := map[string]interface{}{
		"workspace_data": map[string]interface{}{"flowtag_index": 2},
	}

	d := Diff(stored, mutated)
	require.Len(t, d, 1)
	assert.Equal(t, Change{From: float64(1), To: 2}, d["workspace_data.flowtag_index"])
}

func TestDiffScalarChange(t *testing.T) {
	a := mustUnmarshal(t, `{"job_data":{"type":0,"name":"Job-A"}}`)
	b := mustUnmarshal(t, `{"job_data":{"type":1,"name":"Job-A"}}`)

	d := Diff(a, b)
	require.Len(t, d, 1)
	change, ok := d["job_data.type"]
	require.True(t, ok, "path must be dot-joined")
	assert.Equal(t, float64(0), change.From)
	assert.Equal(t, float64(1), change.To)
}

func TestDiffAddedAndRemovedKeys(t *testing.T) {
	a := mustUnmarshal(t, `{"a":1,"gone":"x"}`)
	b := mustUnmarshal(t, `{"a":1,"new":"y"}`)

	d := Diff(a, b)
	require.Len(t, d, 2)
	assert.Equal(t, Change{From: "x", To: nil}, d["gone"])
	assert.Equal(t, Change{From: nil, To: "y"}, d["new"])
}

func TestDiffListsComparedWhole(t *testing.T) {
	a := mustUnmarshal(t, `{"flowtag":["Laser","Bend"]}`)
	b := mustUnmarshal(t, `{"flowtag":["Laser","Bend","Paint"]}`)

	d := Diff(a, b)
	require.Len(t, d, 1)
	change := d["flowtag"]
	assert.Equal(t, []interface{}{"Laser", "Bend"}, change.From)
	assert.Equal(t, []interface{}{"Laser", "Bend", "Paint"}, change.To)
}

func TestDiffNestedMaps(t *testing.T) {
	a := mustUnmarshal(t, `{"inventory_data":{"quantity":5,"location":{"rack":"A"}}}`)
	b := mustUnmarshal(t, `{"inventory_data":{"quantity":3,"location":{"rack":"B"}}}`)

	d := Diff(a, b)
	require.Len(t, d, 2)
	assert.Equal(t, Change{From: float64(5), To: float64(3)}, d["inventory_data.quantity"])
	assert.Equal(t, Change{From: "A", To: "B"}, d["inventory_data.location.rack"])
}

func TestDiffTypeChangeRecordedWhole(t *testing.T) {
	a := mustUnmarshal(t, `{"meta":{"k":1}}`)
	b := mustUnmarshal(t, `{"meta":"scalar now"}`)

	d := Diff(a, b)
	require.Len(t, d, 1)
	change := d["meta"]
	assert.Equal(t, map[string]interface{}{"k": float64(1)}, change.From)
	assert.Equal(t, "scalar now", change.To)
}

func TestSplitDiff(t *testing.T) {
	d := map[string]Change{
		"job_data.type": {From: float64(0), To: float64(1)},
		"name":          {From: "A", To: "B"},
	}
	from, to := SplitDiff(d)
	assert.Equal(t, map[string]interface{}{"job_data.type": float64(0), "name": "A"}, from)
	assert.Equal(t, map[string]interface{}{"job_data.type": float64(1), "name": "B"}, to)
}
