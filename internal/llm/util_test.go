package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"title\": \"t\"}\n```",
			expected: `{"title": "t"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"title\": \"t\"}\n```",
			expected: `{"title": "t"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"title": "t"}`,
			expected: `{"title": "t"}`,
		},
		{
			name:     "preamble text",
			input:    "Here is the article:\n{\"title\": \"t\", \"content\": \"c\"}",
			expected: `{"title": "t", "content": "c"}`,
		},
		{
			name:     "trailing text",
			input:    "{\"title\": \"t\"}\n\nLet me know if you need anything else!",
			expected: `{"title": "t"}`,
		},
		{
			name:     "array is kept",
			input:    `[{"a": 1}]`,
			expected: `[{"a": 1}]`,
		},
		{
			name:     "no json",
			input:    "Workflow was started",
			expected: "Workflow was started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "nested", input: `x {"outer": {"inner": "v"}} y`, expected: `{"outer": {"inner": "v"}}`},
		{name: "braces in strings", input: `{"template": "Hello {name}!"}`, expected: `{"template": "Hello {name}!"}`},
		{name: "escaped quote", input: `{"m": "He said \"}\""}`, expected: `{"m": "He said \"}\""}`},
		{name: "unbalanced", input: `{"a": 1`, expected: ""},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractJSONObject(tt.input))
		})
	}
}
