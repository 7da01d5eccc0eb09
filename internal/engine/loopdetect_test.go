package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ospreyhq/osprey/internal/provider"
)

func repeat(id string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = id
	}
	return out
}

func TestDetectLoop(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want bool
	}{
		{"empty", nil, false},
		{"one call", []string{"a:1"}, false},
		{"two identical", []string{"a:1", "a:1"}, false},
		{"three identical", repeat("a:1", 3), true},
		{"four identical", repeat("a:1", 4), true},
		{"three identical after noise", []string{"b:2", "a:1", "a:1", "a:1"}, true},
		{"five alternating", []string{"a:1", "b:2", "a:1", "b:2", "a:1"}, false},
		{"five of last five", append([]string{"x:0"}, repeat("a:1", 5)...), true},
		{
			"eight of last ten",
			[]string{"a", "a", "a", "b", "a", "a", "a", "b", "a", "a"},
			true,
		},
		{
			"seven of last ten",
			[]string{"a", "a", "a", "b", "a", "a", "b", "a", "b", "a"},
			false,
		},
		{
			"eight identical but only nine calls",
			[]string{"a", "a", "a", "a", "a", "a", "a", "a", "b"},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectLoop(tt.ids))
		})
	}
}

func TestCallIdentifierStableAcrossArgOrder(t *testing.T) {
	a := callIdentifier(provider.ToolCall{Name: "search", Args: map[string]any{"q": "x", "limit": 5}})
	b := callIdentifier(provider.ToolCall{Name: "search", Args: map[string]any{"limit": 5, "q": "x"}})
	assert.Equal(t, a, b)

	c := callIdentifier(provider.ToolCall{Name: "search", Args: map[string]any{"q": "y", "limit": 5}})
	assert.NotEqual(t, a, c)
}
