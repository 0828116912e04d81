package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Summary string   `json:"summary"`
		Points  []string `json:"points"`
	}

	tests := []struct {
		name string
		text string
		want payload
	}{
		{
			name: "bare object",
			text: `{"summary":"s","points":["a"]}`,
			want: payload{Summary: "s", Points: []string{"a"}},
		},
		{
			name: "markdown fence",
			text: "```json\n{\"summary\":\"fenced\",\"points\":[]}\n```",
			want: payload{Summary: "fenced", Points: []string{}},
		},
		{
			name: "prose around object",
			text: "Here is the result:\n{\"summary\":\"wrapped\"}\nHope that helps.",
			want: payload{Summary: "wrapped"},
		},
		{
			name: "braces inside strings",
			text: `Result: {"summary":"uses {curly} and \"quoted }\" text","points":["}"]} trailing }`,
			want: payload{Summary: `uses {curly} and "quoted }" text`, Points: []string{"}"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got payload
			require.NoError(t, DecodeJSON(tt.text, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON_NoObject(t *testing.T) {
	t.Parallel()

	var v map[string]any
	assert.ErrorIs(t, DecodeJSON("I cannot answer that.", &v), ErrNoJSON)
	assert.ErrorIs(t, DecodeJSON(`{"unterminated": true`, &v), ErrNoJSON)
}

func TestDecodeJSON_InvalidObject(t *testing.T) {
	t.Parallel()

	var v map[string]any
	err := DecodeJSON(`prefix {"a": nope} suffix`, &v)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJSON)
}

func TestFirstJSONObject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":{"b":1}}`, FirstJSONObject(`x {"a":{"b":1}} {"c":2}`))
	assert.Equal(t, "", FirstJSONObject("no braces"))
	assert.Equal(t, "", FirstJSONObject(`{"open": "`))
}
