package yamldoc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		dst  string
		src  string
		want map[string]any
	}{
		{
			name: "scalar replaced",
			dst:  "summary: old\n",
			src:  "summary: new\n",
			want: map[string]any{"summary": "new"},
		},
		{
			name: "nested maps merge",
			dst:  "options:\n  a: {default: 1}\n",
			src:  "options:\n  b: {default: 2}\n",
			want: map[string]any{"options": map[string]any{
				"a": map[string]any{"default": 1},
				"b": map[string]any{"default": 2},
			}},
		},
		{
			name: "lists union keeps dst order",
			dst:  "tags: [database, misc]\n",
			src:  "tags: [misc, ops]\n",
			want: map[string]any{"tags": []any{"database", "misc", "ops"}},
		},
		{
			name: "empty dst map is replaced",
			dst:  "requires: {}\n",
			src:  "requires: {db: {interface: mysql}}\n",
			want: map[string]any{"requires": map[string]any{"db": map[string]any{"interface": "mysql"}}},
		},
		{
			name: "new keys appended",
			dst:  "name: a\n",
			src:  "description: b\n",
			want: map[string]any{"name": "a", "description": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := mustParse(t, tt.dst)
			dst.MergeFrom(mustParse(t, tt.src))
			if diff := cmp.Diff(tt.want, mustMap(t, dst)); diff != "" {
				t.Errorf("merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeDoesNotAliasSource(t *testing.T) {
	dst := mustParse(t, "a: 1\n")
	src := mustParse(t, "nested: {x: [1]}\n")
	dst.MergeFrom(src)

	src.MergeFrom(mustParse(t, "nested: {x: [2]}\n"))
	want := map[string]any{"a": 1, "nested": map[string]any{"x": []any{1}}}
	if diff := cmp.Diff(want, mustMap(t, dst)); diff != "" {
		t.Errorf("dst changed through src (-want +got):\n%s", diff)
	}
}

func TestEqual(t *testing.T) {
	a := mustParse(t, "x: {b: 1, a: [1, \"2\"]}\n")
	b := mustParse(t, "x:\n  a:\n    - 1\n    - \"2\"\n  b: 1\n")
	c := mustParse(t, "x: {b: 1, a: [1, 2]}\n")
	if !Equal(a.Root(), b.Root()) {
		t.Error("expected equal documents regardless of style and order")
	}
	if Equal(a.Root(), c.Root()) {
		t.Error("string and int scalars must differ")
	}
}
