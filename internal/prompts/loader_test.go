package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	tmpl, err := Get(Gateway, "article")
	require.NoError(t, err)
	assert.Contains(t, tmpl, "{{.Platform}} platform")

	_, err = Get("missing.json", "article")
	assert.ErrorContains(t, err, "failed to read prompt file")

	_, err = Get(Gateway, "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestMustGet(t *testing.T) {
	assert.Panics(t, func() { MustGet(Gateway, "missing") })
	assert.NotPanics(t, func() { MustGet(Gateway, "index-analysis") })
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data map[string]string
		want string
	}{
		{
			name: "fills placeholders",
			tmpl: "for {{.Platform}} in {{.WordCount}} words",
			data: map[string]string{"Platform": "zhihu", "WordCount": "800"},
			want: "for zhihu in 800 words",
		},
		{
			name: "unknown placeholder kept",
			tmpl: "{{.Platform}} {{.Other}}",
			data: map[string]string{"Platform": "zhihu"},
			want: "zhihu {{.Other}}",
		},
		{name: "no data", tmpl: "{{.Platform}}", want: "{{.Platform}}"},
		{name: "values not re-expanded", tmpl: "{{.A}}", data: map[string]string{"A": "{{.B}}", "B": "x"}, want: "{{.B}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, tt.data))
		})
	}
}

func TestKeys_GatewayTemplates(t *testing.T) {
	keys, err := Keys(Gateway)
	require.NoError(t, err)
	assert.Equal(t, []string{"article", "article-requirements", "index-analysis"}, keys)
}
