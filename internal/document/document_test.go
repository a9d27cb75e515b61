package document

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRevFormat(t *testing.T) {
	rev := NewRev(3)
	parts := strings.SplitN(rev, "-", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "3", parts[0])
	assert.Len(t, parts[1], 12)

	assert.NotEqual(t, NewRev(3), NewRev(3))
}

func TestVersionToleratesNumericTypes(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int64
	}{
		{"int64", int64(7), 7},
		{"int", 7, 7},
		{"float64 from json", float64(7), 7},
		{"absent", nil, 0},
		{"garbage", "7", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Document{}
			if tt.val != nil {
				d[FieldVersion] = tt.val
			}
			assert.Equal(t, tt.want, d.Version())
		})
	}
}

func TestDeleted(t *testing.T) {
	assert.False(t, Document{}.Deleted())
	assert.False(t, Document{FieldDeletedAt: nil}.Deleted())
	assert.True(t, Document{FieldDeletedAt: time.Now()}.Deleted())
	assert.True(t, Document{FieldDeletedAt: "2024-01-01T00:00:00Z"}.Deleted())
}

func TestCloneIsolatesNestedValues(t *testing.T) {
	orig := Document{
		"name":  "a",
		"tags":  []any{"x", "y"},
		"attrs": map[string]any{"k": "v"},
	}
	c := orig.Clone()
	c["name"] = "b"
	c["tags"].([]any)[0] = "z"
	c["attrs"].(map[string]any)["k"] = "w"

	assert.Equal(t, "a", orig["name"])
	assert.Equal(t, "x", orig["tags"].([]any)[0])
	assert.Equal(t, "v", orig["attrs"].(map[string]any)["k"])
}

func TestNormalizeTimes(t *testing.T) {
	d := Document{
		FieldCreatedAt: "2024-05-01T10:00:00Z",
		FieldUpdatedAt: "not a time",
		"name":         "2024-05-01T10:00:00Z",
	}
	d.NormalizeTimes()

	_, isTime := d[FieldCreatedAt].(time.Time)
	assert.True(t, isTime)
	assert.Equal(t, "not a time", d[FieldUpdatedAt])
	assert.Equal(t, "2024-05-01T10:00:00Z", d["name"], "only *At fields are converted")
}

func TestStripNils(t *testing.T) {
	d := Document{"a": nil, "b": 1}
	d.StripNils()
	_, ok := d["a"]
	assert.False(t, ok)
	assert.Equal(t, 1, d["b"])
}
