package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

func TestWalk(t *testing.T) {
	doc := map[string]any{
		"pages": []any{
			map[string]any{"url": "/", "links": []any{"a", "b"}},
			map[string]any{"url": "/checkout"},
		},
		"score": 88,
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"score", 88, true},
		{"pages[1].url", "/checkout", true},
		{"pages[0].links[1]", "b", true},
		{"pages[2].url", nil, false},
		{"pages[x]", nil, false},
		{"pages[0", nil, false},
		{"score.value", nil, false},
		{"missing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := walk(doc, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolveBinding_OutputsShadowView(t *testing.T) {
	outputs := map[string]map[string]any{
		"metrics": {"note": "task outputs are checked first"},
		"crawl":   {"pages": []any{"/"}},
	}
	view := runstate.Snapshot{Metrics: map[string]float64{"score": 70}}

	v, ok := resolveBinding("crawl.pages[0]", outputs, view)
	require.True(t, ok)
	assert.Equal(t, "/", v)

	v, ok = resolveBinding("crawl[0]", map[string]map[string]any{"crawl": {}}, view)
	assert.False(t, ok)
	assert.Nil(t, v)

	v, ok = resolveBinding("score", nil, view)
	require.True(t, ok)
	assert.Equal(t, 70.0, v)
}

func TestBindInput_ClonesDeclaredInput(t *testing.T) {
	nested := map[string]any{"depth": 2}
	task := Task{ID: "t", Input: map[string]any{"opts": nested}}

	in, err := bindInput(task, nil, runstate.Snapshot{})
	require.NoError(t, err)
	in["opts"].(map[string]any)["depth"] = 9
	assert.Equal(t, 2, nested["depth"])

	task.Bind = map[string]Binding{"url": {From: "crawl.url"}}
	_, err = bindInput(task, nil, runstate.Snapshot{})
	var be *bindingError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "url", be.Field)
}
