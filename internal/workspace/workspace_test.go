package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecutReason(t *testing.T) {
	reason := recutReason("Warped", "laser-station-2", []string{"Laser", "Bend", "Paint"}, 1)
	assert.Equal(t, "Warped\n(laser-station-2 is responsible for this change. Part was recut at Bend)", reason)
}

func TestRecutReasonIndexOutOfRange(t *testing.T) {
	reason := recutReason("Scratched", "alice", []string{"Laser"}, 5)
	assert.Contains(t, reason, "Part was recut at an unknown stage")
}

func TestParseView(t *testing.T) {
	v, err := ParseView("GROUPED_BY_JOB")
	require.NoError(t, err)
	assert.Equal(t, ViewGroupedByJob, v)

	v, err = ParseView("GLOBAL_GROUPED")
	require.NoError(t, err)
	assert.Equal(t, ViewGlobalGrouped, v)

	_, err = ParseView("EVERYTHING")
	assert.Error(t, err)
}

func TestViewTable(t *testing.T) {
	assert.Equal(t, "view_grouped_laser_cut_parts_by_job", ViewGroupedByJob.table())
	assert.Equal(t, "view_grouped_laser_cut_parts_global", ViewGlobalGrouped.table())
}

func TestPartFilterWhere(t *testing.T) {
	index := 1
	status := 0
	jobID := int64(7)
	filter := PartFilter{
		Name:               "Part-X",
		Flowtag:            []string{"Laser", "Bend"},
		FlowtagIndex:       &index,
		FlowtagStatusIndex: &status,
		JobID:              &jobID,
		RecutOnly:          true,
	}

	where, args, err := filter.where()
	require.NoError(t, err)
	assert.Equal(t, `type = 'laser_cut_part' AND name = $1 AND flowtag = $2 AND flowtag_index = $3 AND flowtag_status_index = $4 AND job_id = $5 AND recut = true`, where)
	require.Len(t, args, 5)
	assert.Equal(t, "Part-X", args[0])
	assert.Equal(t, []byte(`["Laser","Bend"]`), args[1])
	assert.Equal(t, 1, args[2])
	assert.Equal(t, 0, args[3])
	assert.Equal(t, int64(7), args[4])
}

func TestPartFilterWhereMinimal(t *testing.T) {
	where, args, err := PartFilter{Name: "Bracket"}.where()
	require.NoError(t, err)
	assert.Equal(t, `type = 'laser_cut_part' AND name = $1`, where)
	assert.Len(t, args, 1)
}

func TestPartFlowtag(t *testing.T) {
	doc := Document{
		"workspace_data": map[string]interface{}{
			"flowtag": []interface{}{"Laser", "Bend", "Paint"},
		},
	}
	assert.Equal(t, []string{"Laser", "Bend", "Paint"}, partFlowtag(doc))
}

func TestPartFlowtagTagsObject(t *testing.T) {
	doc := Document{
		"flowtag": map[string]interface{}{
			"tags": []interface{}{"Laser", "Weld"},
		},
	}
	assert.Equal(t, []string{"Laser", "Weld"}, partFlowtag(doc))
}

func TestPartFlowtagMissing(t *testing.T) {
	assert.Empty(t, partFlowtag(Document{}))
}

func TestNodeName(t *testing.T) {
	assert.Equal(t, "Bracket", nodeName(Document{"name": "Bracket"}))
	assert.Equal(t, "LCP-100", nodeName(Document{"part_name": "LCP-100"}))
	assert.Equal(t, "Job A", nodeName(Document{
		"job_data": map[string]interface{}{"name": "Job A"},
	}))
	assert.Equal(t, "", nodeName(Document{}))
}

func TestPartQuantity(t *testing.T) {
	assert.Equal(t, 5, partQuantity(Document{
		"inventory_data": map[string]interface{}{"quantity": float64(5)},
	}))
	assert.Equal(t, 3, partQuantity(Document{"quantity": float64(3)}))
	assert.Equal(t, 1, partQuantity(Document{}))
	assert.Equal(t, 1, partQuantity(Document{"quantity": float64(0)}))
}

func TestNodeIsCompleted(t *testing.T) {
	n := &Node{Flowtag: []string{"Laser", "Bend"}, FlowtagIndex: 1}
	assert.False(t, n.IsCompleted())
	n.FlowtagIndex = 2
	assert.True(t, n.IsCompleted())
}

func TestAssembleTree(t *testing.T) {
	rootID := int64(1)
	nestID := int64(2)
	nodes := []*Node{
		{ID: rootID, Type: TypeJob, Name: "Job A", Data: Document{"job_data": map[string]interface{}{"type": float64(5)}}},
		{ID: nestID, ParentID: &rootID, JobID: rootID, Type: TypeNest, Name: "Nest 1", Data: Document{}},
		{ID: 3, ParentID: &nestID, JobID: rootID, Type: TypeLaserCutPart, Name: "Part-X", Data: Document{}},
		{ID: 4, ParentID: &rootID, JobID: rootID, Type: TypeAssembly, Name: "Frame", Data: Document{}},
	}

	doc := assembleTree(nodes, rootID)
	require.NotNil(t, doc)
	assert.Equal(t, "Job A", doc["name"])

	nests, ok := doc["nests"].([]interface{})
	require.True(t, ok)
	require.Len(t, nests, 1)

	nest := nests[0].(Document)
	parts, ok := nest["laser_cut_parts"].([]interface{})
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.Equal(t, "Part-X", parts[0].(Document)["name"])

	assemblies, ok := doc["assemblies"].([]interface{})
	require.True(t, ok)
	assert.Len(t, assemblies, 1)
}

func TestApplyDocumentColumns(t *testing.T) {
	n := &Node{Data: Document{
		"name": "Part-X",
		"workspace_data": map[string]interface{}{
			"flowtag":              []interface{}{"Laser", "Bend"},
			"flowtag_index":        float64(1),
			"flowtag_status_index": float64(2),
			"is_timing":            true,
			"recut":                true,
			"recut_count":          float64(1),
		},
	}}

	applyDocumentColumns(n)
	assert.Equal(t, "Part-X", n.Name)
	assert.Equal(t, []string{"Laser", "Bend"}, n.Flowtag)
	assert.Equal(t, 1, n.FlowtagIndex)
	assert.Equal(t, 2, n.FlowtagStatusIndex)
	assert.True(t, n.IsTiming)
	assert.True(t, n.Recut)
	assert.Equal(t, 1, n.RecutCount)
}

func TestApplyColumnsToDocument(t *testing.T) {
	n := &Node{FlowtagIndex: 2, FlowtagStatusIndex: 1, IsTiming: true, Recut: true, RecutCount: 3}
	applyColumnsToDocument(n)

	ws := n.Data["workspace_data"].(map[string]interface{})
	assert.Equal(t, 2, ws["flowtag_index"])
	assert.Equal(t, 1, ws["flowtag_status_index"])
	assert.Equal(t, true, ws["is_timing"])
	assert.Equal(t, true, ws["recut"])
	assert.Equal(t, 3, ws["recut_count"])
}

func TestAppendRecutReason(t *testing.T) {
	n := &Node{}
	appendRecutReason(n, "first")
	appendRecutReason(n, "second")

	ws := n.Data["workspace_data"].(map[string]interface{})
	reasons := ws["recut_reasons"].([]interface{})
	require.Len(t, reasons, 2)
	assert.Equal(t, "first", reasons[0])
	assert.Equal(t, "second", reasons[1])
}
