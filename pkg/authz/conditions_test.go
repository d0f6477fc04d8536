package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvalOperator(t *testing.T) {
	tests := []struct {
		name     string
		op       Operator
		actual   interface{}
		expected interface{}
		want     bool
	}{
		{"equals string", OpEquals, "a", "a", true},
		{"equals numeric coercion", OpEquals, float64(5), 5, true},
		{"equals nil both", OpEquals, nil, nil, true},
		{"equals nil vs value", OpEquals, nil, "x", false},
		{"not_equals", OpNotEquals, "a", "b", true},
		{"in hit", OpIn, "b", []interface{}{"a", "b"}, true},
		{"in miss", OpIn, "c", []interface{}{"a", "b"}, false},
		{"in non-list expected", OpIn, "a", "a", false},
		{"not_in", OpNotIn, "c", []interface{}{"a", "b"}, true},
		{"contains substring", OpContains, "production", "prod", true},
		{"contains slice member", OpContains, []interface{}{"x", "y"}, "y", true},
		{"contains nil actual", OpContains, nil, "x", false},
		{"regex match", OpRegex, "user-42", `^user-\d+$`, true},
		{"regex non-string actual", OpRegex, 42, `^4`, true},
		{"regex nil actual", OpRegex, nil, ".*", false},
		{"regex bad pattern", OpRegex, "x", "(", false},
		{"greater_than", OpGreaterThan, 10, 5, true},
		{"greater_than string coercion", OpGreaterThan, "10", 5, true},
		{"greater_than non-numeric", OpGreaterThan, "abc", 5, false},
		{"less_than", OpLessThan, 3, 5, true},
		{"unknown operator", Operator("matches"), "a", "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalOperator(tt.op, tt.actual, tt.expected))
		})
	}
}

func TestResolvePath(t *testing.T) {
	doc := map[string]interface{}{
		"owner": "alice",
		"meta": map[string]interface{}{
			"tags":  []interface{}{"a", "b"},
			"depth": map[string]string{"level": "deep"},
		},
	}

	assert.Equal(t, "alice", resolvePath(doc, "owner"))
	assert.Equal(t, []interface{}{"a", "b"}, resolvePath(doc, "meta.tags"))
	assert.Equal(t, "deep", resolvePath(doc, "meta.depth.level"))
	assert.Nil(t, resolvePath(doc, "missing"))
	assert.Nil(t, resolvePath(doc, "owner.sub"))
	assert.Equal(t, doc, resolvePath(doc, ""))
}

func TestPermissionString(t *testing.T) {
	p := Permission{Resource: "user.profile", Action: "read"}
	assert.Equal(t, "user.profile:read", p.String())
}
