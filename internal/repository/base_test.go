package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocNumber(t *testing.T) {
	doc := Document{
		"id":    int64(7),
		"price": float64(12.5),
		"count": 3,
		"qty":   json.Number("42"),
		"name":  "Laser",
		"order_data": map[string]interface{}{
			"status": float64(2),
		},
	}

	tests := []struct {
		path []string
		want float64
		ok   bool
	}{
		// Rows loaded through listDocs carry id as int64, not float64.
		{[]string{"id"}, 7, true},
		{[]string{"price"}, 12.5, true},
		{[]string{"count"}, 3, true},
		{[]string{"qty"}, 42, true},
		{[]string{"order_data", "status"}, 2, true},
		{[]string{"name"}, 0, false},
		{[]string{"missing"}, 0, false},
		{[]string{"order_data", "missing"}, 0, false},
	}
	for _, tt := range tests {
		got, ok := docNumber(doc, tt.path...)
		assert.Equal(t, tt.ok, ok, "path %v", tt.path)
		assert.Equal(t, tt.want, got, "path %v", tt.path)
	}
}

func TestDocString(t *testing.T) {
	doc := Document{
		"name": "PO-1042",
		"meta_data": map[string]interface{}{
			"vendor": "Metal Supply Co",
		},
	}

	assert.Equal(t, "PO-1042", docString(doc, "name"))
	assert.Equal(t, "Metal Supply Co", docString(doc, "meta_data", "vendor"))
	assert.Equal(t, "", docString(doc, "missing"))
	assert.Equal(t, "", docString(doc, "name", "deeper"))
}

func TestDocStrings(t *testing.T) {
	doc := Document{
		"categories": []interface{}{"Brackets", "Panels", 3},
	}

	assert.Equal(t, []string{"Brackets", "Panels"}, docStrings(doc, "categories"))
	assert.Empty(t, docStrings(doc, "missing"))
}

func TestDrainRefreshQueue(t *testing.T) {
	b := Base{refreshQueue: make(map[int64]struct{})}
	b.QueueRefresh(9)
	b.QueueRefresh(2)
	b.QueueRefresh(9)

	assert.Equal(t, []int64{2, 9}, b.DrainRefreshQueue())
	assert.Empty(t, b.DrainRefreshQueue())
}
